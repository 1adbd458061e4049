// Package main is the entry point for the crisis triage server.
// It exposes a REST API for anonymous consultation cases: risk
// classification of requester messages, the case lifecycle, escalation to
// emergency contacts, and a counselor console.
//
// Architecture:
//   - Requesters are identified only by a keyed BLAKE2b subject reference
//   - Every case mutation runs under a per-case lock (in-process or Redis)
//   - Cases persist in memory, PostgreSQL or Redis
//   - The intervention trail is committed to a Merkle root for audit
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/mindcare/triage-server/internal/config"
	"github.com/mindcare/triage-server/internal/database"
	"github.com/mindcare/triage-server/internal/handlers"
	"github.com/mindcare/triage-server/internal/logger"
	"github.com/mindcare/triage-server/internal/middleware"
	"github.com/mindcare/triage-server/internal/services"
	"github.com/mindcare/triage-server/internal/store"
)

func main() {
	// Load configuration from environment
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	log, err := logger.New(cfg.LogLevel, cfg.LogFormat, "triage-server")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	sugar := log.Sugar()

	sugar.Infow("Starting triage server",
		"port", cfg.Port,
		"env", cfg.Environment,
		"store", cfg.StoreBackend,
		"lock", cfg.LockBackend,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Storage and locking
	var redisClient *redis.Client
	if cfg.StoreBackend == "redis" || cfg.LockBackend == "redis" {
		redisClient, err = database.NewRedis(ctx, cfg.RedisURL)
		if err != nil {
			sugar.Fatalf("Failed to connect to redis: %v", err)
		}
		defer redisClient.Close()
	}

	var caseStore services.CaseStore
	switch cfg.StoreBackend {
	case "postgres":
		db, err := database.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			sugar.Fatalf("Failed to connect to database: %v", err)
		}
		defer db.Close()
		pg := store.NewPostgresStore(db)
		if err := pg.Migrate(ctx); err != nil {
			sugar.Fatalf("Failed to migrate schema: %v", err)
		}
		caseStore = pg
	case "redis":
		caseStore = store.NewRedisStore(redisClient)
	default:
		sugar.Warn("Using in-memory case store; cases are lost on restart")
		caseStore = store.NewMemoryStore()
	}

	var locker services.Locker = services.NewKeyedLocker(cfg.LockTimeout)
	if cfg.LockBackend == "redis" {
		locker = services.NewRedisLocker(redisClient, cfg.LockTTL, cfg.LockTimeout)
	}

	// Classification
	policy, err := services.LoadKeywordPolicy(cfg.KeywordPolicyPath)
	if err != nil {
		sugar.Fatalf("Failed to load keyword policy: %v", err)
	}
	var analyzer services.ExternalAnalyzer
	if cfg.AnalysisURL != "" {
		analyzer = services.NewHTTPAnalyzer(cfg.AnalysisURL, cfg.AnalysisTimeout, sugar)
	}

	// Contact notification
	var notifier services.ContactNotifier = services.NewLogNotifier(sugar)
	if cfg.NotifyWebhookURL != "" {
		notifier = services.NewWebhookNotifier(cfg.NotifyWebhookURL, cfg.NotifyWebhookToken, cfg.NotifyTimeout, cfg.NotifyRetries, sugar)
	}

	hasher, err := services.NewSubjectHasher(cfg.SubjectKey)
	if err != nil {
		sugar.Fatalf("Invalid SUBJECT_KEY: %v", err)
	}

	// Initialize services
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := services.NewTriageMetrics(registry)

	classifier := services.NewRiskClassifier(policy, analyzer, services.ClassifierConfig{
		AnalysisTimeout: cfg.AnalysisTimeout,
		MinConfidence:   cfg.AnalysisMinConfidence,
	}, metrics, sugar)
	engine := services.NewEngine(services.EngineOptions{
		Store:         caseStore,
		Locker:        locker,
		Classifier:    classifier,
		Coordinator:   services.NewEscalationCoordinator(cfg.HighWarningCooldown, services.NewReplySelector(nil), nil),
		Notifier:      notifier,
		NotifyTimeout: cfg.NotifyTimeout,
		Metrics:       metrics,
	}, sugar)

	merkleSvc := services.NewMerkleService(sugar)
	integrityWorker := services.NewIntegrityWorker(merkleSvc, caseStore, sugar)

	// Start background integrity worker (rebuilds Merkle tree periodically)
	go integrityWorker.Start(ctx, time.Duration(cfg.MerkleRebuildInterval)*time.Minute)

	sugar.Infow("Triage engine ready",
		"keyword_policy", classifier.PolicyVersion(),
		"external_analysis", analyzer != nil,
		"webhook_notifier", cfg.NotifyWebhookURL != "",
	)

	// Build router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(middleware.StructuredLogger(log))
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(30 * time.Second))
	r.Use(middleware.StripIPHeaders()) // Remove IP-identifying headers
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID", "X-Merkle-Root"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(middleware.RateLimit(ctx, cfg.RateLimitRPM))

	handlers.Routes{
		Cases:     handlers.NewCaseHandler(engine, hasher, sugar),
		Console:   handlers.NewConsoleHandler(engine, sugar),
		Integrity: handlers.NewIntegrityHandler(merkleSvc, sugar),
		Health:    handlers.NewHealthHandler(caseStore, cfg.StoreBackend, merkleSvc, sugar),
		JWTSecret: cfg.JWTSecret,
	}.Mount(r)
	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	// Create HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 35 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		sugar.Infof("Server listening on :%d", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			sugar.Fatalf("Server error: %v", err)
		}
	}()

	// Graceful shutdown
	<-ctx.Done()
	sugar.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		sugar.Errorw("Forced shutdown", "error", err)
	}

	sugar.Info("Server stopped")
}
