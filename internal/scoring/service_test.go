package scoring

import (
	"fmt"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

func violation(id, ruleID string, cat domain.RuleCategory, sev domain.Severity, impact float64) domain.RuleViolation {
	return domain.RuleViolation{
		ID:          ruleID + "/" + id,
		GLDetailID:  id,
		RuleID:      ruleID,
		Category:    cat,
		Severity:    sev,
		ScoreImpact: impact,
		DetectedAt:  time.Now().UTC(),
	}
}

func TestCalculateScoreCombinesSignals(t *testing.T) {
	s := NewService(DefaultWeights(), nil, nil)

	violations := []domain.RuleViolation{
		violation("e1", "APR-001", domain.CategoryApproval, domain.SeverityCritical, 25),
		violation("e1", "DSC-002", domain.CategoryDescription, domain.SeverityLow, 0),
	}
	score := s.CalculateScore("e1", violations, 0.8, 0.4)

	// approval: 25 * 1.5 = 37.5; description: 5 * 0.8 = 4
	if got := score.CategoryScores[domain.CategoryApproval]; got != 37.5 {
		t.Errorf("approval score = %v, want 37.5", got)
	}
	if got := score.CategoryScores[domain.CategoryDescription]; got != 4 {
		t.Errorf("description score = %v, want 4", got)
	}
	// ml: 0.8 * 20 * 1.2 = 19.2; benford: 0.4 * 10 = 4
	if got := score.MLScore; math.Abs(got-19.2) > 1e-9 {
		t.Errorf("ml score = %v, want 19.2", got)
	}
	if got := score.BenfordScore; got != 4 {
		t.Errorf("benford score = %v, want 4", got)
	}
	want := 37.5 + 4 + 19.2 + 4
	if math.Abs(score.Total-want) > 1e-9 {
		t.Errorf("total = %v, want %v", score.Total, want)
	}
	if score.SeverityLevel != domain.SeverityCritical {
		t.Errorf("severity level = %s, want critical", score.SeverityLevel)
	}
	if !score.RequiresReview {
		t.Errorf("total %v above the review threshold but not marked", score.Total)
	}
}

func TestCalculateScoreCapsAtMax(t *testing.T) {
	s := NewService(DefaultWeights(), nil, nil)

	var violations []domain.RuleViolation
	for i := 0; i < 50; i++ {
		violations = append(violations, violation("e1", fmt.Sprintf("R-%d", i), domain.CategoryApproval, domain.SeverityCritical, 0))
	}
	score := s.CalculateScore("e1", violations, 1, 1)
	if score.Total != MaxScore {
		t.Fatalf("total = %v, want capped at %v", score.Total, MaxScore)
	}
}

func TestCalculateScoreBoundedUnderStress(t *testing.T) {
	s := NewService(DefaultWeights(), nil, nil)
	rng := rand.New(rand.NewSource(5))

	cats := domain.AllCategories()
	sevs := []domain.Severity{domain.SeverityInfo, domain.SeverityLow, domain.SeverityMedium, domain.SeverityHigh, domain.SeverityCritical}
	for trial := 0; trial < 500; trial++ {
		var violations []domain.RuleViolation
		for i := 0; i < rng.Intn(40); i++ {
			violations = append(violations, violation("e", fmt.Sprintf("R-%d", i),
				cats[rng.Intn(len(cats))], sevs[rng.Intn(len(sevs))], rng.Float64()*40-5))
		}
		score := s.CalculateScore("e", violations, rng.Float64()*3-1, rng.Float64()*3-1)
		if score.Total < 0 || score.Total > MaxScore {
			t.Fatalf("trial %d: total %v out of [0, %v]", trial, score.Total, MaxScore)
		}
	}
}

func TestScoreViolationsGroupsPerEntry(t *testing.T) {
	s := NewService(DefaultWeights(), nil, nil)

	violations := []domain.RuleViolation{
		violation("e1", "AMT-001", domain.CategoryAmount, domain.SeverityMedium, 0),
		violation("e2", "AMT-001", domain.CategoryAmount, domain.SeverityMedium, 0),
		violation("e1", "TIM-001", domain.CategoryTime, domain.SeverityLow, 0),
	}
	scores := s.ScoreViolations(violations, map[string]EntrySignals{
		"e2": {ML: 1},
	})
	if len(scores) != 2 {
		t.Fatalf("expected 2 scored entries, got %d", len(scores))
	}
	if scores[0].GLDetailID != "e1" || scores[1].GLDetailID != "e2" {
		t.Fatalf("scores not ordered by entry id: %s, %s", scores[0].GLDetailID, scores[1].GLDetailID)
	}
	if len(scores[0].ViolatedRules) != 2 {
		t.Errorf("e1 violated rules = %v, want 2", scores[0].ViolatedRules)
	}
	if scores[1].MLScore == 0 {
		t.Error("e2 should carry an ML contribution")
	}
	if scores[0].MLScore != 0 {
		t.Error("e1 should carry no ML contribution")
	}
}

func TestRiskBands(t *testing.T) {
	cases := []struct {
		total float64
		want  domain.RiskCategory
	}{
		{95, domain.RiskCritical},
		{80, domain.RiskCritical},
		{79.9, domain.RiskHigh},
		{60, domain.RiskHigh},
		{45, domain.RiskMedium},
		{25, domain.RiskLow},
		{5, domain.RiskMinimal},
	}
	for _, tc := range cases {
		if got := domain.CategorizeRisk(tc.total); got != tc.want {
			t.Errorf("CategorizeRisk(%v) = %s, want %s", tc.total, got, tc.want)
		}
	}
}

func TestPrioritizerRanking(t *testing.T) {
	p := NewPrioritizer()

	low := &domain.RiskScore{GLDetailID: "low", Total: 30, SeverityLevel: domain.SeverityMedium, ViolatedRules: []string{"A"}}
	high := &domain.RiskScore{GLDetailID: "high", Total: 70, SeverityLevel: domain.SeverityHigh, ViolatedRules: []string{"A", "B"}}
	critical := &domain.RiskScore{GLDetailID: "crit", Total: 55, SeverityLevel: domain.SeverityCritical, ViolatedRules: []string{"A"}}

	batch := domain.NewBatch([]*domain.JournalEntryLine{
		{GLDetailID: "low", Amount: 1000},
		{GLDetailID: "high", Amount: 1000},
		{GLDetailID: "crit", Amount: 1000},
	})
	items := p.Rank([]*domain.RiskScore{low, high, critical}, batch)

	if items[0].GLDetailID != "crit" {
		t.Errorf("top item = %s, want crit (critical boost dominates)", items[0].GLDetailID)
	}
	if items[2].GLDetailID != "low" {
		t.Errorf("bottom item = %s, want low", items[2].GLDetailID)
	}
	for i := 1; i < len(items); i++ {
		if items[i].Priority > items[i-1].Priority {
			t.Fatal("items not sorted by descending priority")
		}
	}
}

func TestStratifiedSample(t *testing.T) {
	p := NewPrioritizer()

	var items []ReviewItem
	add := func(band domain.RiskCategory, n int) {
		for i := 0; i < n; i++ {
			items = append(items, ReviewItem{
				GLDetailID: fmt.Sprintf("%s-%d", band, i),
				Band:       band,
				Priority:   float64(1000 - len(items)),
			})
		}
	}
	add(domain.RiskCritical, 7)
	add(domain.RiskHigh, 100)
	add(domain.RiskMedium, 10)
	add(domain.RiskMinimal, 40)

	sample := p.StratifiedSample(items, SampleSizes{
		domain.RiskCritical: 0,
		domain.RiskHigh:     50,
		domain.RiskMedium:   25,
	})

	counts := make(map[domain.RiskCategory]int)
	for _, it := range sample {
		counts[it.Band]++
	}
	if counts[domain.RiskCritical] != 7 {
		t.Errorf("critical sample = %d, want all 7", counts[domain.RiskCritical])
	}
	if counts[domain.RiskHigh] != 50 {
		t.Errorf("high sample = %d, want 50", counts[domain.RiskHigh])
	}
	if counts[domain.RiskMedium] != 10 {
		t.Errorf("medium sample = %d, want all 10 when fewer than requested", counts[domain.RiskMedium])
	}
	if counts[domain.RiskMinimal] != 0 {
		t.Errorf("minimal sample = %d, want 0", counts[domain.RiskMinimal])
	}
}
