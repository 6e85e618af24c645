package batch

import (
	"context"
	"log/slog"
	"sync"

	"github.com/opensource-finance/harrier/internal/domain"
)

// DefaultHistorySize bounds the scheduler's in-memory run history.
const DefaultHistorySize = 50

// Job is one named run tracked by the scheduler.
type Job struct {
	Name   string              `json:"name"`
	Config domain.BatchConfig  `json:"config"`
	Result *domain.BatchResult `json:"result,omitempty"`
}

// Scheduler runs named pipeline jobs and keeps a bounded history of recent
// results keyed by run id.
type Scheduler struct {
	orch   *Orchestrator
	logger *slog.Logger

	mu      sync.Mutex
	history map[string]*Job
	order   []string
	size    int
}

// NewScheduler wraps the orchestrator with run tracking.
func NewScheduler(orch *Orchestrator, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		orch:    orch,
		logger:  logger,
		history: make(map[string]*Job),
		size:    DefaultHistorySize,
	}
}

// SetHistorySize changes how many completed runs the scheduler retains.
func (s *Scheduler) SetHistorySize(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n > 0 {
		s.size = n
		s.evictLocked()
	}
}

// Run executes one named job synchronously and records it.
func (s *Scheduler) Run(ctx context.Context, name string, cfg domain.BatchConfig) *domain.BatchResult {
	s.logger.Info("scheduled run starting", "name", name, "mode", cfg.Mode)
	result := s.orch.Execute(ctx, cfg)
	s.remember(&Job{Name: name, Config: cfg, Result: result})
	return result
}

// RunAsync starts the job in the background and returns immediately. The
// result lands in the history when the run completes.
func (s *Scheduler) RunAsync(ctx context.Context, name string, cfg domain.BatchConfig) {
	go func() {
		s.Run(ctx, name, cfg)
	}()
}

// Get returns the recorded job for a run id.
func (s *Scheduler) Get(runID string) (*Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.history[runID]
	return job, ok
}

// Recent returns up to n most recent jobs, newest first.
func (s *Scheduler) Recent(n int) []*Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n <= 0 || n > len(s.order) {
		n = len(s.order)
	}
	out := make([]*Job, 0, n)
	for i := len(s.order) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, s.history[s.order[i]])
	}
	return out
}

func (s *Scheduler) remember(job *Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := job.Result.RunID
	if _, exists := s.history[id]; !exists {
		s.order = append(s.order, id)
	}
	s.history[id] = job
	s.evictLocked()
}

func (s *Scheduler) evictLocked() {
	for len(s.order) > s.size {
		delete(s.history, s.order[0])
		s.order = s.order[1:]
	}
}
