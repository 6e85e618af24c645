package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/opensource-finance/harrier/internal/aggregate"
	"github.com/opensource-finance/harrier/internal/batch"
	"github.com/opensource-finance/harrier/internal/cache"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/repository"
	"github.com/opensource-finance/harrier/internal/rules"
	"github.com/opensource-finance/harrier/internal/scoring"
)

// createTestServer wires a server against a temp-file SQLite repository with
// a small set of seeded entry lines.
func createTestServer(t *testing.T) *Server {
	t.Helper()

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "harrier-api-test.db"),
	})
	if err != nil {
		t.Fatalf("create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	ctx := context.Background()
	if err := repo.SaveEntries(ctx, seedEntries()); err != nil {
		t.Fatalf("seed entries: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	engine := rules.NewEngine(repo, logger)
	engine.RegisterSet(testRules())

	scorer := scoring.NewService(scoring.DefaultWeights(), repo, logger)
	aggregator := aggregate.NewService(repo, nil, logger)
	orch := batch.NewOrchestrator(repo, engine, scorer, aggregator, logger)
	scheduler := batch.NewScheduler(orch, logger)

	cfg := domain.ServerConfig{
		Host:         "localhost",
		Port:         8080,
		ReadTimeout:  30,
		WriteTimeout: 30,
	}

	return NewServer(cfg, repo, cache.NewLRUCache(100), engine, scheduler, "test-v1")
}

func seedEntries() []*domain.JournalEntryLine {
	day := time.Date(2025, 3, 12, 0, 0, 0, 0, time.UTC)
	return []*domain.JournalEntryLine{
		{
			GLDetailID: "gl-api-001", JournalID: "J1",
			FiscalYear: 2025, FiscalPeriod: 3, BusinessUnit: "east",
			EffectiveDate: day, EntryDate: day,
			AccountCode: "1000", Amount: 500, IsDebit: true,
			PreparedBy: "alice", ApprovedBy: "bob",
		},
		{
			GLDetailID: "gl-api-002", JournalID: "J1",
			FiscalYear: 2025, FiscalPeriod: 3, BusinessUnit: "east",
			EffectiveDate: day, EntryDate: day,
			AccountCode: "4000", Amount: 500, IsDebit: false,
			PreparedBy: "alice", ApprovedBy: "bob",
		},
		{
			GLDetailID: "gl-api-003", JournalID: "J2",
			FiscalYear: 2025, FiscalPeriod: 3, BusinessUnit: "east",
			EffectiveDate: day, EntryDate: day,
			AccountCode: "6000", Amount: 9500, IsDebit: true,
			PreparedBy: "carol", ApprovedBy: "carol",
		},
	}
}

type apiTestRule struct {
	id       string
	category domain.RuleCategory
	severity domain.Severity
	match    func(*domain.JournalEntryLine) bool
}

func (r apiTestRule) ID() string                       { return r.id }
func (r apiTestRule) Name() string                     { return r.id }
func (r apiTestRule) Category() domain.RuleCategory    { return r.category }
func (r apiTestRule) Description() string              { return "test rule" }
func (r apiTestRule) DefaultSeverity() domain.Severity { return r.severity }

func (r apiTestRule) Execute(b *domain.Batch) domain.RuleResult {
	res := domain.RuleResult{RuleID: r.id, Category: r.category, EntriesChecked: b.Size()}
	for _, e := range b.Entries {
		if !r.match(e) {
			continue
		}
		res.Violations = append(res.Violations, domain.RuleViolation{
			ID:         r.id + "/" + e.GLDetailID,
			RuleID:     r.id,
			Category:   r.category,
			Severity:   r.severity,
			GLDetailID: e.GLDetailID,
		})
	}
	return res
}

func testRules() []domain.Rule {
	return []domain.Rule{
		apiTestRule{
			id: "APR-API", category: domain.CategoryApproval, severity: domain.SeverityCritical,
			match: func(e *domain.JournalEntryLine) bool {
				return e.PreparedBy != "" && e.PreparedBy == e.ApprovedBy
			},
		},
		apiTestRule{
			id: "AMT-API", category: domain.CategoryAmount, severity: domain.SeverityMedium,
			match: func(e *domain.JournalEntryLine) bool { return e.Amount > 9000 },
		},
	}
}

func TestRunsEndpoint(t *testing.T) {
	server := createTestServer(t)

	t.Run("TriggerFullRun", func(t *testing.T) {
		body, _ := json.Marshal(RunRequest{Mode: "full", FiscalYear: 2025, FiscalPeriod: 3})
		req := httptest.NewRequest(http.MethodPost, "/runs", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var result domain.BatchResult
		if err := json.Unmarshal(rr.Body.Bytes(), &result); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}

		if result.RunID == "" {
			t.Error("expected runId in response")
		}
		if !result.Success {
			t.Errorf("expected successful run, errors: %v", result.Errors)
		}
		if result.EntriesProcessed != 3 {
			t.Errorf("expected 3 entries processed, got %d", result.EntriesProcessed)
		}
		if result.ViolationsFound != 2 {
			t.Errorf("expected 2 violations, got %d", result.ViolationsFound)
		}

		// The run must be retrievable by id
		getReq := httptest.NewRequest(http.MethodGet, "/runs/"+result.RunID, nil)
		getRR := httptest.NewRecorder()
		server.Router().ServeHTTP(getRR, getReq)

		if getRR.Code != http.StatusOK {
			t.Errorf("expected status 200 for GET /runs/{id}, got %d", getRR.Code)
		}
	})

	t.Run("ListRuns", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/runs", nil)
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var resp struct {
			Count int `json:"count"`
		}
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp.Count < 1 {
			t.Errorf("expected at least 1 run, got %d", resp.Count)
		}
	})

	t.Run("UnknownMode", func(t *testing.T) {
		body, _ := json.Marshal(RunRequest{Mode: "turbo"})
		req := httptest.NewRequest(http.MethodPost, "/runs", bytes.NewBuffer(body))

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("InvalidJSON", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/runs", bytes.NewBufferString("not-json"))

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("RunNotFound", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/runs/no-such-run", nil)
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})
}

func TestViolationsAndScoresEndpoints(t *testing.T) {
	server := createTestServer(t)

	// Produce violations and scores first
	body, _ := json.Marshal(RunRequest{Mode: "full", FiscalYear: 2025, FiscalPeriod: 3})
	req := httptest.NewRequest(http.MethodPost, "/runs", bytes.NewBuffer(body))
	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("run failed: %d %s", rr.Code, rr.Body.String())
	}

	t.Run("ListViolations", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/violations?fiscalYear=2025&fiscalPeriod=3", nil)
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp struct {
			Scope      string                 `json:"scope"`
			Violations []domain.RuleViolation `json:"violations"`
			Count      int                    `json:"count"`
		}
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}

		if resp.Scope != "2025-03" {
			t.Errorf("expected scope 2025-03, got %s", resp.Scope)
		}
		if resp.Count != 2 {
			t.Errorf("expected 2 violations, got %d", resp.Count)
		}
	})

	t.Run("ListScores", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/scores?fiscalYear=2025&fiscalPeriod=3", nil)
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp struct {
			Scores []*domain.RiskScore `json:"scores"`
		}
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}

		if len(resp.Scores) == 0 {
			t.Fatal("expected at least one risk score")
		}
		// Self-approved high-amount entry must rank first
		if resp.Scores[0].GLDetailID != "gl-api-003" {
			t.Errorf("expected gl-api-003 ranked first, got %s", resp.Scores[0].GLDetailID)
		}
	})

	t.Run("BadFilterParam", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/violations?fiscalYear=abc", nil)
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})
}

func TestKPIEndpoint(t *testing.T) {
	server := createTestServer(t)

	// Full run populates the dashboard KPI aggregate
	body, _ := json.Marshal(RunRequest{Mode: "full", FiscalYear: 2025, FiscalPeriod: 3})
	req := httptest.NewRequest(http.MethodPost, "/runs", bytes.NewBuffer(body))
	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("run failed: %d %s", rr.Code, rr.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/kpi?fiscalYear=2025&fiscalPeriod=3", nil)
	rr = httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var snap domain.KPISnapshot
	if err := json.Unmarshal(rr.Body.Bytes(), &snap); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if snap.Scope != "2025-03" {
		t.Errorf("expected scope 2025-03, got %s", snap.Scope)
	}
	if len(snap.KPIs) == 0 {
		t.Error("expected KPI rows after a full run")
	}
}

func TestRulesEndpoint(t *testing.T) {
	server := createTestServer(t)

	t.Run("ListRules", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/rules", nil)
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var resp struct {
			Rules []RuleInfo `json:"rules"`
			Count int        `json:"count"`
		}
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp.Count != 2 {
			t.Errorf("expected 2 rules, got %d", resp.Count)
		}
	})

	t.Run("CreateCustomRule", func(t *testing.T) {
		cfg := domain.CustomRuleConfig{
			ID:          "CUS-API-001",
			Name:        "Large round amounts",
			Expression:  "abs_amount >= 5000.0 && int(abs_amount) % 1000 == 0",
			Severity:    domain.SeverityHigh,
			ScoreImpact: 12,
		}

		body, _ := json.Marshal(cfg)
		req := httptest.NewRequest(http.MethodPost, "/rules", bytes.NewBuffer(body))
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusCreated {
			t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
		}

		// Rule must now appear in the engine
		listReq := httptest.NewRequest(http.MethodGet, "/rules", nil)
		listRR := httptest.NewRecorder()
		server.Router().ServeHTTP(listRR, listReq)

		var resp struct {
			Rules []RuleInfo `json:"rules"`
		}
		json.Unmarshal(listRR.Body.Bytes(), &resp)

		found := false
		for _, info := range resp.Rules {
			if info.ID == "CUS-API-001" {
				found = true
			}
		}
		if !found {
			t.Error("created rule not listed in engine")
		}
	})

	t.Run("RejectBadExpression", func(t *testing.T) {
		cfg := domain.CustomRuleConfig{
			ID:         "CUS-API-BAD",
			Expression: "amount +", // does not compile
		}

		body, _ := json.Marshal(cfg)
		req := httptest.NewRequest(http.MethodPost, "/rules", bytes.NewBuffer(body))
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("RejectNonBoolExpression", func(t *testing.T) {
		cfg := domain.CustomRuleConfig{
			ID:         "CUS-API-NONBOOL",
			Expression: "abs_amount + 1.0",
		}

		body, _ := json.Marshal(cfg)
		req := httptest.NewRequest(http.MethodPost, "/rules", bytes.NewBuffer(body))
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("DeleteCustomRule", func(t *testing.T) {
		cfg := domain.CustomRuleConfig{
			ID:         "CUS-API-DEL",
			Name:       "to delete",
			Expression: "abs_amount > 1000000.0",
		}
		body, _ := json.Marshal(cfg)
		req := httptest.NewRequest(http.MethodPost, "/rules", bytes.NewBuffer(body))
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)
		if rr.Code != http.StatusCreated {
			t.Fatalf("create failed: %d", rr.Code)
		}

		delReq := httptest.NewRequest(http.MethodDelete, "/rules/CUS-API-DEL", nil)
		delRR := httptest.NewRecorder()
		server.Router().ServeHTTP(delRR, delReq)

		if delRR.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", delRR.Code)
		}

		// Deleting again returns 404
		delRR = httptest.NewRecorder()
		server.Router().ServeHTTP(delRR, httptest.NewRequest(http.MethodDelete, "/rules/CUS-API-DEL", nil))
		if delRR.Code != http.StatusNotFound {
			t.Errorf("expected status 404 on double delete, got %d", delRR.Code)
		}
	})
}

func TestHealthEndpoints(t *testing.T) {
	server := createTestServer(t)

	t.Run("Health", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var resp map[string]string
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp["status"] != "healthy" {
			t.Errorf("expected healthy, got %s", resp["status"])
		}
		if resp["version"] != "test-v1" {
			t.Errorf("expected version test-v1, got %s", resp["version"])
		}
	})

	t.Run("Ready", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/ready", nil)
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}
	})

	t.Run("Metrics", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}
	})

	t.Run("RequestIDHeader", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Header().Get(RequestIDHeader) == "" {
			t.Error("expected X-Request-ID response header")
		}
	})

	t.Run("CORSPreflight", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/runs", nil)
		req.Header.Set("Origin", "http://localhost:3000")
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusNoContent {
			t.Errorf("expected status 204 for preflight, got %d", rr.Code)
		}
		if rr.Header().Get("Access-Control-Allow-Origin") != "http://localhost:3000" {
			t.Error("expected Access-Control-Allow-Origin echoing origin")
		}
	})
}
