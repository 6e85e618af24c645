package batch

import (
	"context"
	"testing"

	"github.com/opensource-finance/harrier/internal/domain"
)

func TestSchedulerRecordsRunsByID(t *testing.T) {
	repo := newPipeRepo(pipelineEntries())
	sched := NewScheduler(newHarness(repo, defaultRules()), quietLogger())

	result := sched.Run(context.Background(), "adhoc", domain.BatchConfig{Mode: domain.ModeQuick})

	job, ok := sched.Get(result.RunID)
	if !ok {
		t.Fatalf("run %s not in history", result.RunID)
	}
	if job.Name != "adhoc" {
		t.Errorf("job name = %s, want adhoc", job.Name)
	}
	if job.Result.RunID != result.RunID {
		t.Errorf("job result mismatch")
	}
}

func TestSchedulerHistoryIsBounded(t *testing.T) {
	repo := newPipeRepo(pipelineEntries())
	sched := NewScheduler(newHarness(repo, defaultRules()), quietLogger())
	sched.SetHistorySize(2)

	first := sched.Run(context.Background(), "r1", domain.BatchConfig{Mode: domain.ModeQuick})
	sched.Run(context.Background(), "r2", domain.BatchConfig{Mode: domain.ModeQuick})
	third := sched.Run(context.Background(), "r3", domain.BatchConfig{Mode: domain.ModeQuick})

	if _, ok := sched.Get(first.RunID); ok {
		t.Error("oldest run should be evicted")
	}
	if _, ok := sched.Get(third.RunID); !ok {
		t.Error("newest run missing from history")
	}

	recent := sched.Recent(10)
	if len(recent) != 2 {
		t.Fatalf("recent = %d, want 2", len(recent))
	}
	if recent[0].Name != "r3" || recent[1].Name != "r2" {
		t.Errorf("recent order wrong: %s, %s", recent[0].Name, recent[1].Name)
	}
}
