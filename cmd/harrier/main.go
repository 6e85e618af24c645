// Harrier - Journal-entry fraud screening for the general ledger.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/opensource-finance/harrier/internal/aggregate"
	"github.com/opensource-finance/harrier/internal/api"
	"github.com/opensource-finance/harrier/internal/batch"
	"github.com/opensource-finance/harrier/internal/bus"
	"github.com/opensource-finance/harrier/internal/cache"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/metrics"
	"github.com/opensource-finance/harrier/internal/repository"
	"github.com/opensource-finance/harrier/internal/rules"
	"github.com/opensource-finance/harrier/internal/scoring"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// Initialize structured logger
	logLevel := slog.LevelInfo
	if os.Getenv("HARRIER_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// Log startup
	slog.Info("starting harrier",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	// Load configuration
	cfg := domain.DefaultConfig()

	// Check for Pro tier via environment
	if os.Getenv("HARRIER_TIER") == "pro" {
		cfg = domain.ProConfig()
		slog.Info("running in Pro tier mode")
	}

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Initialize Rule Engine
	engine := rules.NewEngine(repo, logger,
		rules.WithWorkers(cfg.Pipeline.RuleWorkers),
		rules.WithRuleTimeout(time.Duration(cfg.Pipeline.RuleTimeoutSecs)*time.Second),
	)

	// Register the builtin rule library
	builtin, err := rules.BuiltinRules(rules.DefaultConfig(), cfg.Pipeline.MLSeed)
	if err != nil {
		slog.Error("failed to build rule library", "error", err)
		os.Exit(1)
	}
	engine.RegisterSet(builtin)

	// Register stored custom CEL rules on top
	if err := loadCustomRules(ctx, repo, engine); err != nil {
		slog.Error("failed to load custom rules", "error", err)
		os.Exit(1)
	}
	slog.Info("rule engine initialized", "rules_count", engine.RuleCount())

	// Initialize scoring and aggregation services
	scorer := scoring.NewService(scoring.DefaultWeights(), repo, logger)
	aggregator := aggregate.NewService(repo, cacheImpl, logger)

	// Initialize the pipeline orchestrator and scheduler
	promMetrics := metrics.New()
	orch := batch.NewOrchestrator(repo, engine, scorer, aggregator, logger,
		batch.WithEventBus(busImpl),
		batch.WithMetrics(promMetrics),
	)
	scheduler := batch.NewScheduler(orch, logger)
	scheduler.SetHistorySize(cfg.Pipeline.HistorySize)
	slog.Info("pipeline orchestrator initialized")

	// Initialize async run worker
	var runWorker *batch.Worker
	if cfg.Tier == domain.TierPro || os.Getenv("HARRIER_ASYNC_WORKER") == "true" {
		runWorker = batch.NewWorker(busImpl, scheduler, cacheImpl, batch.DefaultWorkerConfig(), logger)

		// Scopes to listen on (comma-separated) - empty means global
		var scopes []string
		if envScopes := os.Getenv("HARRIER_SCOPES"); envScopes != "" {
			for _, s := range strings.Split(envScopes, ",") {
				if s = strings.TrimSpace(s); s != "" {
					scopes = append(scopes, s)
				}
			}
		}

		if err := runWorker.Start(scopes); err != nil {
			slog.Error("failed to start run worker", "error", err)
		} else {
			slog.Info("run worker started", "scope_count", len(scopes))
		}
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, repo, cacheImpl, engine, scheduler, Version)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("harrier is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop run worker first
	if runWorker != nil {
		if err := runWorker.Stop(); err != nil {
			slog.Error("failed to stop run worker", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("harrier shutdown complete")
}

// loadCustomRules compiles stored CEL rules and registers them into the
// engine. Rules that fail to compile are logged and skipped.
func loadCustomRules(ctx context.Context, repo domain.Repository, engine *rules.Engine) error {
	configs, err := repo.ListCustomRules(ctx)
	if err != nil {
		slog.Warn("failed to list custom rules from database", "error", err)
		return nil // Start with builtin rules - custom rules can be added via API
	}

	if len(configs) == 0 {
		return nil
	}

	values := make([]domain.CustomRuleConfig, 0, len(configs))
	for _, c := range configs {
		values = append(values, *c)
	}

	compiled, errs := rules.CompileCustomRules(values)
	for _, cerr := range errs {
		slog.Warn("skipping custom rule", "error", cerr)
	}

	if len(compiled) > 0 {
		engine.RegisterSet(compiled)
		slog.Info("custom rules loaded", "count", len(compiled))
	}
	return nil
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║               🦅 HARRIER                  ║")
	fmt.Println("  ║     Journal Entry Screening Engine        ║")
	fmt.Println("  ║      Eyes on every posting.               ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /runs          - Trigger a screening run")
	fmt.Println("    GET  /runs          - List recent runs")
	fmt.Println("    GET  /runs/{id}     - Get run by ID")
	fmt.Println("    GET  /rules         - List loaded rules")
	fmt.Println("    POST /rules         - Create a custom CEL rule")
	fmt.Println("    DELETE /rules/{id}  - Delete a custom rule")
	fmt.Println("    GET  /violations    - List violations for a scope")
	fmt.Println("    GET  /scores        - List risk scores for a scope")
	fmt.Println("    GET  /kpi           - Dashboard KPIs for a scope")
	fmt.Println("    GET  /health        - Health check")
	fmt.Println("    GET  /metrics       - Prometheus metrics")
	fmt.Println()
}
