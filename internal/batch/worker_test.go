package batch

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

// fakeBus dispatches published messages to in-process subscribers.
type fakeBus struct {
	mu        sync.Mutex
	published map[string][][]byte
	handlers  map[string][]domain.MessageHandler
	seq       int
}

func newFakeBus() *fakeBus {
	return &fakeBus{
		published: make(map[string][][]byte),
		handlers:  make(map[string][]domain.MessageHandler),
	}
}

func (b *fakeBus) key(scope, topic string) string { return scope + "/" + topic }

func (b *fakeBus) Publish(ctx context.Context, scope, topic string, payload []byte) error {
	b.mu.Lock()
	b.published[topic] = append(b.published[topic], payload)
	b.seq++
	msg := &domain.Message{
		ID:        string(rune('a' + b.seq)),
		Scope:     scope,
		Topic:     topic,
		Payload:   payload,
		Timestamp: time.Now().UnixMilli(),
	}
	handlers := append([]domain.MessageHandler(nil), b.handlers[b.key(scope, topic)]...)
	b.mu.Unlock()

	for _, h := range handlers {
		if err := h(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

type fakeSub struct{ topic string }

func (s fakeSub) Unsubscribe() error { return nil }
func (s fakeSub) Topic() string      { return s.topic }

func (b *fakeBus) Subscribe(_ context.Context, scope, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[b.key(scope, topic)] = append(b.handlers[b.key(scope, topic)], handler)
	return fakeSub{topic: topic}, nil
}

func (b *fakeBus) Request(_ context.Context, _, _ string, _ []byte) ([]byte, error) {
	return nil, nil
}
func (b *fakeBus) Ping(context.Context) error { return nil }
func (b *fakeBus) Close() error               { return nil }

// fakeCache counts increments per scope and key.
type fakeCache struct {
	domain.Cache

	mu       sync.Mutex
	counters map[string]int64
}

func newFakeCache() *fakeCache {
	return &fakeCache{counters: make(map[string]int64)}
}

func (c *fakeCache) IncrementCounter(_ context.Context, scope, key string, _ time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := scope + "/" + key
	c.counters[k]++
	return c.counters[k], nil
}

func TestWorkerDrivesRunFromBusMessage(t *testing.T) {
	repo := newPipeRepo(pipelineEntries())
	orch := newHarness(repo, defaultRules())
	sched := NewScheduler(orch, quietLogger())
	bus := newFakeBus()

	w := NewWorker(bus, sched, nil, WorkerConfig{}, quietLogger())
	scope := domain.LoadFilter{FiscalYear: 2025}.Scope()
	if err := w.Start([]string{scope}); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	payload, _ := json.Marshal(RunRequest{
		Name:   "nightly",
		Mode:   domain.ModeFull,
		Filter: domain.LoadFilter{FiscalYear: 2025},
	})
	if err := bus.Publish(context.Background(), scope, domain.TopicBatchRequested, payload); err != nil {
		t.Fatal(err)
	}

	recent := sched.Recent(1)
	if len(recent) != 1 {
		t.Fatalf("no run recorded")
	}
	if recent[0].Name != "nightly" {
		t.Errorf("job name = %s, want nightly", recent[0].Name)
	}
	if !recent[0].Result.Success {
		t.Errorf("triggered run failed: %v", recent[0].Result.Errors)
	}
	if len(repo.runs) != 1 {
		t.Errorf("runs persisted = %d, want 1", len(repo.runs))
	}
}

func TestWorkerRateLimitsTriggers(t *testing.T) {
	repo := newPipeRepo(pipelineEntries())
	orch := newHarness(repo, defaultRules())
	sched := NewScheduler(orch, quietLogger())
	bus := newFakeBus()
	cache := newFakeCache()

	w := NewWorker(bus, sched, cache, WorkerConfig{MaxRunsPerWindow: 1, Window: time.Minute}, quietLogger())
	filter := domain.LoadFilter{FiscalYear: 2025}
	if err := w.Start([]string{filter.Scope()}); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	payload, _ := json.Marshal(RunRequest{Mode: domain.ModeQuick, Filter: filter})
	for i := 0; i < 3; i++ {
		if err := bus.Publish(context.Background(), filter.Scope(), domain.TopicBatchRequested, payload); err != nil {
			t.Fatal(err)
		}
	}

	if got := len(sched.Recent(10)); got != 1 {
		t.Fatalf("runs = %d, want 1 after rate limiting", got)
	}
}

func TestWorkerRejectsMalformedPayload(t *testing.T) {
	repo := newPipeRepo(pipelineEntries())
	orch := newHarness(repo, defaultRules())
	sched := NewScheduler(orch, quietLogger())
	bus := newFakeBus()

	w := NewWorker(bus, sched, nil, WorkerConfig{}, quietLogger())
	if err := w.Start(nil); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	err := bus.Publish(context.Background(), "_global", domain.TopicBatchRequested, []byte("{not json"))
	if err == nil {
		t.Fatal("expected a parse error")
	}
	if len(sched.Recent(10)) != 0 {
		t.Error("malformed payload must not trigger a run")
	}
}
