// Kestrel - Real-time fraud risk scoring for every transaction.
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

	"github.com/opensource-finance/kestrel/internal/api"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/decision"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/geo"
	"github.com/opensource-finance/kestrel/internal/idempotency"
	"github.com/opensource-finance/kestrel/internal/ml"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/scoring"
	"github.com/opensource-finance/kestrel/internal/velocity"
	"github.com/opensource-finance/kestrel/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	logLevel := slog.LevelInfo
	if os.Getenv("KESTREL_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	cfg := domain.DefaultConfig()
	if os.Getenv("KESTREL_TIER") == "pro" {
		cfg = domain.ProConfig()
		slog.Info("running in Pro tier mode")
	}
	if endpoint := os.Getenv("KESTREL_ML_ENDPOINT"); endpoint != "" {
		cfg.ML.Endpoint = endpoint
	}

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"velocity_store", cfg.Velocity.Store,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"ml_enabled", cfg.ML.Endpoint != "",
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Velocity tracker
	velocityStore, err := velocity.New(cfg.Velocity)
	if err != nil {
		slog.Error("failed to initialize velocity store", "error", err)
		os.Exit(1)
	}
	defer velocityStore.Close()
	tracker := velocity.NewTracker(velocityStore, cacheImpl, cfg.Velocity.SnapshotTTL)
	slog.Info("velocity tracker initialized", "store", cfg.Velocity.Store)

	// Idempotency guard
	idempotencyStore, err := idempotency.New(cfg.Idempotency)
	if err != nil {
		slog.Error("failed to initialize idempotency store", "error", err)
		os.Exit(1)
	}
	defer idempotencyStore.Close()
	guard := idempotency.NewGuard(idempotencyStore)
	slog.Info("idempotency guard initialized",
		"store", cfg.Idempotency.Store,
		"retention", cfg.Idempotency.Retention,
	)

	// Custom rules (configured per tenant via POST /rules API)
	custom, err := rules.NewCustomRules()
	if err != nil {
		slog.Error("failed to initialize custom rules", "error", err)
		os.Exit(1)
	}
	tenantIDs := parseTenants(os.Getenv("KESTREL_TENANTS"))
	loadCustomRules(ctx, repo, custom, tenantIDs)

	// Rule engine
	engine := rules.NewEngine(cfg.Rules, custom)
	slog.Info("rule engine initialized", "custom_rules", custom.Count())

	// ML prediction client (optional; scoring degrades to rules without it)
	var predictor domain.MLPredictionPort
	if cfg.ML.Endpoint != "" {
		predictor = ml.NewClient(cfg.ML)
		slog.Info("ml client initialized",
			"endpoint", cfg.ML.Endpoint,
			"model_id", cfg.ML.ModelID,
		)
	} else {
		slog.Info("no ml endpoint configured, scoring on rules alone")
	}

	// Scoring pipeline
	detector := geo.NewDetector(repo, cfg.Geo.MaxSpeedKmh)
	scorer := scoring.NewService(predictor, tracker, detector, engine, decision.NewEngine(), cfg.Scoring)
	publisher := bus.NewPublisher(busImpl)
	slog.Info("scoring service initialized",
		"ml_weight", cfg.Scoring.MLWeight,
		"rule_weight", cfg.Scoring.RuleWeight,
	)

	// Async worker (Pro tier)
	var asyncWorker *worker.Worker
	if cfg.Tier == domain.TierPro || os.Getenv("KESTREL_ASYNC_WORKER") == "true" {
		asyncWorker = worker.NewWorker(busImpl, repo, scorer, publisher, guard)

		if err := asyncWorker.Start(worker.Config{TenantIDs: tenantIDs}); err != nil {
			slog.Error("failed to start async worker", "error", err)
		} else {
			slog.Info("async worker started", "tenant_count", len(tenantIDs))
		}
	}

	// HTTP server
	srv := api.NewServer(cfg.Server, scorer, repo, cacheImpl, publisher, guard, custom, Version)

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("kestrel is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	<-ctx.Done()
	slog.Info("shutting down...")

	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("kestrel shutdown complete")
}

func parseTenants(env string) []string {
	if env == "" {
		return nil
	}
	var tenants []string
	for _, t := range strings.Split(env, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tenants = append(tenants, t)
		}
	}
	return tenants
}

// loadCustomRules loads persisted custom rules for the configured tenants.
// Rules can also be added at runtime via POST /rules + POST /rules/reload.
func loadCustomRules(ctx context.Context, repo domain.Repository, custom *rules.CustomRules, tenantIDs []string) {
	for _, tenantID := range tenantIDs {
		configs, err := repo.ListRuleConfigs(ctx, tenantID)
		if err != nil {
			slog.Warn("failed to list rules for tenant",
				"tenant_id", tenantID,
				"error", err,
			)
			continue
		}
		if err := custom.ReloadTenantRules(tenantID, configs); err != nil {
			slog.Warn("failed to load rules for tenant",
				"tenant_id", tenantID,
				"error", err,
			)
			continue
		}
		if len(configs) > 0 {
			slog.Info("custom rules loaded",
				"tenant_id", tenantID,
				"count", len(configs),
			)
		}
	}
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║               🦅 KESTREL                  ║")
	fmt.Println("  ║       Fraud Risk Scoring Engine           ║")
	fmt.Println("  ║     A score for every transaction.        ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /score             - Score a transaction")
	fmt.Println("    GET  /assessments/{id}  - Get assessment by ID")
	fmt.Println("    GET  /transactions/{id} - Get transaction by ID")
	fmt.Println("    GET  /rules             - List custom rules")
	fmt.Println("    POST /rules             - Create a custom rule")
	fmt.Println("    POST /rules/reload      - Hot-reload rules from database")
	fmt.Println("    GET  /health            - Health check")
	fmt.Println()
}
