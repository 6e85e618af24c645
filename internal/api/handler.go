package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/opensource-finance/harrier/internal/batch"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/rules"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	repo      domain.Repository
	cache     domain.Cache
	engine    *rules.Engine
	scheduler *batch.Scheduler
	version   string
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, engine *rules.Engine, scheduler *batch.Scheduler, version string) *Handler {
	return &Handler{
		repo:      repo,
		cache:     cache,
		engine:    engine,
		scheduler: scheduler,
		version:   version,
	}
}

// RunRequest is the request body for POST /runs.
type RunRequest struct {
	Name         string   `json:"name,omitempty"`
	Mode         string   `json:"mode,omitempty"`
	FiscalYear   int      `json:"fiscalYear,omitempty"`
	FiscalPeriod int      `json:"fiscalPeriod,omitempty"`
	BusinessUnit string   `json:"businessUnit,omitempty"`
	SkipPhases   []string `json:"skipPhases,omitempty"`
	Async        bool     `json:"async,omitempty"`
}

var validModes = map[domain.BatchMode]bool{
	domain.ModeFull:        true,
	domain.ModeQuick:       true,
	domain.ModeMLOnly:      true,
	domain.ModeRulesOnly:   true,
	domain.ModeIncremental: true,
}

// TriggerRun handles POST /runs requests.
func (h *Handler) TriggerRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	mode := domain.BatchMode(req.Mode)
	if mode == "" {
		mode = domain.ModeFull
	}
	if !validModes[mode] {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "unknown mode: " + req.Mode,
		})
		return
	}

	cfg := domain.BatchConfig{
		Mode: mode,
		Filter: domain.LoadFilter{
			FiscalYear:   req.FiscalYear,
			FiscalPeriod: req.FiscalPeriod,
			BusinessUnit: req.BusinessUnit,
		},
		SkipPhases: req.SkipPhases,
	}

	name := req.Name
	if name == "" {
		name = "api"
	}

	if req.Async {
		// Detach from the request context so the run survives the response.
		h.scheduler.RunAsync(context.Background(), name, cfg)
		writeJSON(w, http.StatusAccepted, map[string]string{
			"message": "run started",
			"scope":   cfg.Filter.Scope(),
		})
		return
	}

	result := h.scheduler.Run(ctx, name, cfg)
	writeJSON(w, http.StatusOK, result)
}

// ListRuns handles GET /runs requests.
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "limit must be a positive integer",
			})
			return
		}
		limit = n
	}

	if h.repo == nil {
		jobs := h.scheduler.Recent(limit)
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"runs":  jobs,
			"count": len(jobs),
		})
		return
	}

	runs, err := h.repo.ListRuns(ctx, limit)
	if err != nil {
		slog.Error("failed to list runs", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list runs",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"runs":  runs,
		"count": len(runs),
	})
}

// GetRun handles GET /runs/{id} requests.
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	runID := chi.URLParam(r, "id")

	if runID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "run id is required",
		})
		return
	}

	// In-memory history first: async runs land here before persistence.
	if job, ok := h.scheduler.Get(runID); ok {
		writeJSON(w, http.StatusOK, job.Result)
		return
	}

	if h.repo == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "run not found",
		})
		return
	}

	result, err := h.repo.GetRun(ctx, runID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "run not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// RuleInfo is the wire form of a registered rule.
type RuleInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Category    string `json:"category"`
	Severity    string `json:"severity"`
	Description string `json:"description,omitempty"`
}

// ListRules returns all enabled rules in the engine.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	enabled := h.engine.EnabledRules()

	infos := make([]RuleInfo, 0, len(enabled))
	for _, rule := range enabled {
		infos = append(infos, RuleInfo{
			ID:          rule.ID(),
			Name:        rule.Name(),
			Category:    string(rule.Category()),
			Severity:    string(rule.DefaultSeverity()),
			Description: rule.Description(),
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rules": infos,
		"count": len(infos),
	})
}

// CreateRule handles POST /rules: validates and persists a custom CEL rule,
// then registers it into the running engine.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var cfg domain.CustomRuleConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if cfg.ID == "" || cfg.Expression == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "id and expression are required",
		})
		return
	}

	// Compile first so a broken expression never reaches storage.
	cfg.Enabled = true
	compiled, errs := rules.CompileCustomRules([]domain.CustomRuleConfig{cfg})
	if len(errs) > 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid CEL expression: " + errs[0].Error(),
		})
		return
	}

	if h.repo != nil {
		if err := h.repo.SaveCustomRule(ctx, &cfg); err != nil {
			slog.Error("failed to save custom rule", "id", cfg.ID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to save rule",
			})
			return
		}
	}

	h.engine.RegisterSet(compiled)

	slog.Info("custom rule created", "id", cfg.ID, "name", cfg.Name)
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"rule": cfg,
	})
}

// DeleteRule handles DELETE /rules/{id}: removes a custom rule from storage
// and disables it in the engine.
func (h *Handler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ruleID := chi.URLParam(r, "id")

	if ruleID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "rule id is required",
		})
		return
	}

	if h.repo != nil {
		if err := h.repo.DeleteCustomRule(ctx, ruleID); err != nil {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "rule not found",
			})
			return
		}
	}

	h.engine.SetEnabled(ruleID, false)

	slog.Info("custom rule deleted", "id", ruleID)
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "rule deleted",
	})
}

// ListViolations handles GET /violations requests, filtered by the usual
// fiscal year / period / business unit query parameters.
func (h *Handler) ListViolations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	filter, err := parseFilter(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	violations, err := h.repo.ListViolations(ctx, filter)
	if err != nil {
		slog.Error("failed to list violations", "scope", filter.Scope(), "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list violations",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"scope":      filter.Scope(),
		"violations": violations,
		"count":      len(violations),
	})
}

// ListScores handles GET /scores requests.
func (h *Handler) ListScores(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	filter, err := parseFilter(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	scores, err := h.repo.ListRiskScores(ctx, filter)
	if err != nil {
		slog.Error("failed to list risk scores", "scope", filter.Scope(), "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list risk scores",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"scope":  filter.Scope(),
		"scores": scores,
		"count":  len(scores),
	})
}

// GetKPI handles GET /kpi requests. Reads the cached snapshot when present,
// otherwise falls back to the stored aggregate and repopulates the cache.
func (h *Handler) GetKPI(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	filter, err := parseFilter(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}
	scope := filter.Scope()

	if h.cache != nil {
		snap, err := h.cache.GetKPISnapshot(ctx, scope)
		if err == nil && snap != nil {
			writeJSON(w, http.StatusOK, snap)
			return
		}
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	rows, err := h.repo.GetDashboardKPI(ctx, scope)
	if err != nil {
		slog.Error("failed to read dashboard KPIs", "scope", scope, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to read dashboard KPIs",
		})
		return
	}

	snap := &domain.KPISnapshot{
		Scope:       scope,
		GeneratedAt: time.Now().UTC(),
		KPIs:        rows,
	}

	if h.cache != nil {
		if err := h.cache.SetKPISnapshot(ctx, scope, snap, 5*time.Minute); err != nil {
			slog.Warn("failed to cache KPI snapshot", "scope", scope, "error", err)
		}
	}

	writeJSON(w, http.StatusOK, snap)
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	// Check repository health
	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	// Check cache health
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

func parseFilter(r *http.Request) (domain.LoadFilter, error) {
	var filter domain.LoadFilter
	q := r.URL.Query()

	if v := q.Get("fiscalYear"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return filter, errBadParam("fiscalYear")
		}
		filter.FiscalYear = n
	}
	if v := q.Get("fiscalPeriod"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return filter, errBadParam("fiscalPeriod")
		}
		filter.FiscalPeriod = n
	}
	filter.BusinessUnit = q.Get("businessUnit")

	return filter, nil
}

type badParamError string

func (e badParamError) Error() string {
	return string(e) + " must be an integer"
}

func errBadParam(name string) error {
	return badParamError(name)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
