package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"golang.org/x/sync/errgroup"

	"github.com/DukeRupert/reelstat/internal"
	"github.com/DukeRupert/reelstat/internal/audit"
	"github.com/DukeRupert/reelstat/internal/bot"
	"github.com/DukeRupert/reelstat/internal/handler"
	"github.com/DukeRupert/reelstat/internal/ledger"
	"github.com/DukeRupert/reelstat/internal/middleware"
	"github.com/DukeRupert/reelstat/internal/payment"
	"github.com/DukeRupert/reelstat/internal/provider"
	"github.com/DukeRupert/reelstat/internal/service"
	"github.com/DukeRupert/reelstat/internal/storage"
	"github.com/DukeRupert/reelstat/internal/store"
	"github.com/DukeRupert/reelstat/internal/telegram"
	"github.com/DukeRupert/reelstat/internal/worker"
)

const (
	shutdownTimeout         = 30 * time.Second
	notificationRateLimit   = 120
	notificationRateWindow  = time.Minute
	telegramRequestOverhead = 15 * time.Second
)

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load configuration
	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	// Configure logger
	logger := internal.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel)

	// ==========================================================================
	// Persistence
	// ==========================================================================

	blobs, err := newBlobStorage(cfg, logger)
	if err != nil {
		return fmt.Errorf("storage initialization failed: %w", err)
	}
	recorder := audit.NewAsyncRecorder(audit.NewStorageRecorder(blobs, logger), cfg.AuditQueueSize, logger)
	reporter := audit.NewReporter(blobs, cfg.StatsDays, logger)

	healthChecks := map[string]handler.HealthCheck{}

	var backing store.Store
	switch cfg.StoreDriver {
	case store.DriverPostgres:
		db, err := sql.Open("pgx", cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("database connection failed: %w", err)
		}
		defer db.Close()

		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("database ping failed: %w", err)
		}
		if err := internal.RunMigrations(ctx, db, logger); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		logger.Info("Database ready")

		backing = store.NewPostgres(db)
		healthChecks["database"] = db.PingContext
	case store.DriverObject:
		backing = store.NewObject(blobs)
	default:
		logger.Warn("Using in-memory store, quota and payment state is lost on restart")
		backing = store.NewMemory()
	}

	// The memory store needs no cache in front of it.
	quotas := store.QuotaStore(backing)
	var cache *store.CachedQuotaStore
	if cfg.StoreDriver != store.DriverMemory {
		cache = store.NewCachedQuotaStore(backing, logger)
		quotas = cache
	}

	// ==========================================================================
	// Services
	// ==========================================================================

	breaker := provider.NewCircuitBreaker(cfg.BreakerThreshold, cfg.BreakerResetWindow)
	providerClient, err := provider.NewClient(provider.Config{
		BaseURL:        cfg.ProviderBaseURL,
		APIKey:         cfg.ProviderAPIKey,
		KeyHeader:      cfg.ProviderKeyHeader,
		OverloadStatus: cfg.ProviderOverloadStatus,
		MaxAttempts:    cfg.ProviderMaxAttempts,
		InitialDelay:   cfg.ProviderInitialDelay,
	}, breaker, nil, logger)
	if err != nil {
		return fmt.Errorf("provider client initialization failed: %w", err)
	}
	source := provider.NewAPI(providerClient, cfg.ProviderClipsAmount)

	quotaLedger := ledger.New(quotas, recorder, logger)

	tg := telegram.NewClient(cfg.TelegramBotToken, cfg.TelegramAPIURL, &http.Client{
		Timeout: cfg.TelegramPollTimeout + telegramRequestOverhead,
	})

	if !cfg.PaymentsEnabled() {
		logger.Warn("Payment terminal not configured, checkout will fail")
	}
	gateway := payment.NewHTTPGateway(payment.GatewayConfig{
		BaseURL:     cfg.TBankAPIURL,
		TerminalKey: cfg.TBankTerminalKey,
		Password:    cfg.TBankTerminalPassword,
	}, nil, logger)
	reconciler := payment.NewReconciler(gateway, backing, payment.Config{
		TerminalKey:     cfg.TBankTerminalKey,
		Password:        cfg.TBankTerminalPassword,
		NotificationURL: cfg.PaymentNotificationURL,
		SuccessURL:      cfg.PaymentSuccessURL,
		FailURL:         cfg.PaymentFailURL,
	}, logger)

	analysisService := service.NewAnalysisService(quotaLedger, source, recorder, logger)
	paymentService := service.NewPaymentService(reconciler, backing, quotaLedger, tg, recorder, logger)

	// ==========================================================================
	// Transports
	// ==========================================================================

	userLimiter := middleware.NewRateLimiter(cfg.UserRateLimit, time.Minute, logger)
	defer userLimiter.Close()

	dispatcher := bot.NewDispatcher(tg, analysisService, paymentService, quotaLedger, userLimiter, recorder,
		bot.Config{PollTimeout: cfg.TelegramPollTimeout, SupportURL: cfg.SupportURL}, logger)

	notificationLimiter := middleware.NewRateLimiter(notificationRateLimit, notificationRateWindow, logger)
	defer notificationLimiter.Close()

	var metricsAuth *middleware.MetricsAuthMiddleware
	if cfg.MetricsUsername != "" {
		metricsAuth = middleware.NewMetricsAuthMiddleware(cfg.MetricsUsername, cfg.MetricsPasswordHash)
	} else {
		logger.Warn("Metrics and stats endpoints are unprotected")
	}

	server := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: handler.NewRouter(handler.RouterConfig{
			Payments:          handler.NewPaymentHandler(paymentService, cfg.BotURL, logger),
			Health:            handler.NewHealthHandler(healthChecks, logger),
			Stats:             handler.NewStatsHandler(reporter, logger),
			Logger:            logger,
			MetricsAuth:       metricsAuth,
			NotificationLimit: middleware.NewRateLimitMiddleware(notificationLimiter, logger),
			IsSecure:          !cfg.IsDevelopment(),
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ==========================================================================
	// Background tasks
	// ==========================================================================

	tasks, err := worker.New(worker.DefaultConfig(), logger)
	if err != nil {
		return fmt.Errorf("worker initialization failed: %w", err)
	}
	if cache != nil {
		tasks.Register(worker.NewReconcileCacheTask(cache, logger), cfg.ReconcileInterval)
	}
	if cfg.PaymentsEnabled() {
		tasks.Register(worker.NewPaymentSweepTask(paymentService, logger), cfg.PaymentSweepInterval)
	}
	tasks.Register(worker.NewAuditSummaryTask(reporter, logger), cfg.StatsInterval)

	// ==========================================================================
	// Run
	// ==========================================================================

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Server started", "address", server.Addr, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return dispatcher.Run(gctx)
	})

	tasks.Start(gctx)

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutdown signal received, initiating graceful shutdown...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", "error", err)
		}
		tasks.Stop()

		if cache != nil {
			if _, err := cache.Reconcile(shutdownCtx); err != nil {
				logger.Error("Final cache reconciliation failed", "error", err)
			}
		}
		return nil
	})

	waitErr := g.Wait()

	flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := recorder.Close(flushCtx); err != nil {
		logger.Warn("Audit queue not fully flushed", "error", err)
	}
	if waitErr != nil {
		return waitErr
	}

	logger.Info("Graceful shutdown complete")
	return nil
}

func newBlobStorage(cfg *internal.Config, logger *slog.Logger) (storage.Storage, error) {
	if cfg.StorageProvider == storage.ProviderR2 {
		return storage.NewR2Storage(storage.R2Config{
			AccountID:       cfg.R2AccountID,
			AccessKeyID:     cfg.R2AccessKeyID,
			SecretAccessKey: cfg.R2SecretAccessKey,
			BucketName:      cfg.R2BucketName,
		}, logger)
	}
	return storage.NewLocalStorage(storage.LocalConfig{BasePath: cfg.StorageLocalPath}, logger)
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
