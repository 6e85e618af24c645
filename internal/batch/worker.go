package batch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

// RunRequest is the payload consumed from the batch-requested topic.
type RunRequest struct {
	Name       string            `json:"name,omitempty"`
	Mode       domain.BatchMode  `json:"mode,omitempty"`
	Filter     domain.LoadFilter `json:"filter"`
	SkipPhases []string          `json:"skipPhases,omitempty"`
}

// WorkerConfig bounds how often bus-triggered runs fire per scope.
type WorkerConfig struct {
	// MaxRunsPerWindow rejects triggers beyond this count within Window.
	// Zero disables rate limiting.
	MaxRunsPerWindow int64
	Window           time.Duration
}

// DefaultWorkerConfig allows one triggered run per scope per minute.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{MaxRunsPerWindow: 1, Window: time.Minute}
}

// Worker drives the scheduler from batch-requested messages on the bus.
type Worker struct {
	bus       domain.EventBus
	scheduler *Scheduler
	cache     domain.Cache
	cfg       WorkerConfig
	logger    *slog.Logger

	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewWorker creates an async run worker. The cache is optional; without it
// trigger rate limiting is disabled.
func NewWorker(bus domain.EventBus, scheduler *Scheduler, cache domain.Cache, cfg WorkerConfig, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:       bus,
		scheduler: scheduler,
		cache:     cache,
		cfg:       cfg,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start subscribes to the batch-requested topic for the given scopes. An
// empty list subscribes globally.
func (w *Worker) Start(scopes []string) error {
	if len(scopes) == 0 {
		scopes = []string{"_global"}
	}
	for _, scope := range scopes {
		sub, err := w.bus.Subscribe(w.ctx, scope, domain.TopicBatchRequested, w.handleMessage)
		if err != nil {
			return fmt.Errorf("subscribe %s/%s: %w", scope, domain.TopicBatchRequested, err)
		}
		w.subscriptions = append(w.subscriptions, sub)
		w.logger.Info("run worker started", "scope", scope, "topic", domain.TopicBatchRequested)
	}
	return nil
}

// handleMessage parses one run request and drives the scheduler.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	var req RunRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		w.logger.Error("bad run request", "message_id", msg.ID, "error", err)
		return err
	}

	scope := req.Filter.Scope()
	if w.cache != nil && w.cfg.MaxRunsPerWindow > 0 {
		n, err := w.cache.IncrementCounter(ctx, scope, "run_triggers", w.cfg.Window)
		if err != nil {
			w.logger.Warn("trigger counter unavailable", "scope", scope, "error", err)
		} else if n > w.cfg.MaxRunsPerWindow {
			w.logger.Warn("run trigger rate limited", "scope", scope, "count", n)
			return nil
		}
	}

	name := req.Name
	if name == "" {
		name = "bus:" + msg.ID
	}
	cfg := domain.BatchConfig{Mode: req.Mode, Filter: req.Filter, SkipPhases: req.SkipPhases}

	result := w.scheduler.Run(ctx, name, cfg)
	w.logger.Info("triggered run finished",
		"name", name,
		"run_id", result.RunID,
		"success", result.Success,
	)
	return nil
}

// Stop unsubscribes and cancels in-flight handling.
func (w *Worker) Stop() error {
	w.cancel()
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			w.logger.Error("failed to unsubscribe", "topic", sub.Topic(), "error", err)
		}
	}
	w.subscriptions = nil
	w.logger.Info("run worker stopped")
	return nil
}
