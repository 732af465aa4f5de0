package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/pixelmint/pixelmint/pkg/api"
	"github.com/pixelmint/pixelmint/pkg/async"
	"github.com/pixelmint/pixelmint/pkg/audit"
	"github.com/pixelmint/pixelmint/pkg/auth"
	"github.com/pixelmint/pixelmint/pkg/billing"
	"github.com/pixelmint/pixelmint/pkg/config"
	"github.com/pixelmint/pixelmint/pkg/images"
	"github.com/pixelmint/pixelmint/pkg/ledger"
	"github.com/pixelmint/pixelmint/pkg/middleware"
	"github.com/pixelmint/pixelmint/pkg/observability"
	"github.com/pixelmint/pixelmint/pkg/storage/postgres"
	"github.com/pixelmint/pixelmint/pkg/subscriptions"
	"github.com/pixelmint/pixelmint/pkg/users"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "pixelmint: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	logger.WithField("port", cfg.Server.Port).Info("Starting Pixelmint billing service")

	ctx := context.Background()

	otelProviders, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	// Database
	cm, err := postgres.Connect(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to connect to postgres: %w", err)
	}
	defer cm.Close()

	if err := postgres.InitSchema(ctx, cm.Primary()); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	db := cm.Primary()

	// Redis backs rate limiting and readiness checks
	redisClient, err := postgres.NewRedisClient(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	defer redisClient.Close()

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	// Stores
	userStore := users.NewStore(db)
	subStore := subscriptions.NewStore(db)
	ledgerStore := ledger.NewStore(db)
	eventStore := billing.NewEventStore(db)
	auditLogger := audit.NewDBLogger(db)
	sessionStore := auth.NewSessionStore(db, cfg.Auth.SessionTTL)

	// Image storage is optional; the billing API runs without it
	var imageStore *images.Store
	if cfg.Storage.S3Bucket != "" {
		imageStore, err = images.NewStore(ctx, cfg.Storage)
		if err != nil {
			return fmt.Errorf("failed to initialize image storage: %w", err)
		}
		if err := imageStore.EnsureBucket(ctx); err != nil {
			return fmt.Errorf("failed to ensure image bucket: %w", err)
		}
	}

	// Billing pipeline
	normalizers, providers, err := buildProviders(cfg.Billing)
	if err != nil {
		return err
	}
	checkoutRegistry, err := billing.NewRegistry(providers...)
	if err != nil {
		return fmt.Errorf("failed to build provider registry: %w", err)
	}

	handler := billing.NewHandler(billing.HandlerConfig{
		DB:            db,
		Events:        eventStore,
		Users:         userStore,
		Subscriptions: subStore,
		Ledger:        ledgerStore,
		Logger:        logger,
		Metrics:       metrics,
		Audit:         auditLogger,
	})
	checkoutService := billing.NewCheckoutService(checkoutRegistry, subStore, nil, logger, metrics, auditLogger)

	// Auth
	var bearer middleware.BearerVerifier
	if cfg.Auth.OIDCEnabled {
		verifier, err := auth.NewOIDCVerifier(ctx, auth.OIDCConfig{
			Issuer:       cfg.Auth.OIDCIssuer,
			ClientID:     cfg.Auth.OIDCClientID,
			ClientSecret: cfg.Auth.OIDCClientSecret,
			RedirectURL:  cfg.Auth.OIDCRedirectURL,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize OIDC: %w", err)
		}
		bearer = verifier
	}
	authMW := middleware.NewAuthMiddleware(sessionStore, bearer, userStore, logger)

	var rateMW api.Middleware
	if cfg.RateLimit.Enabled {
		limiter := middleware.NewRateLimitMiddleware(redisClient, &middleware.RateLimitConfig{
			RequestsPerWindow: cfg.RateLimit.RequestsPerMinute,
			WindowDuration:    time.Minute,
		}, logger)
		rateMW = limiter.Handler
	}

	server := api.NewServer(api.Config{
		Normalizers:   normalizers,
		Events:        handler,
		Checkout:      checkoutService,
		Users:         userStore,
		Subscriptions: subStore,
		Ledger:        ledgerStore,
		Images:        imageStore,
		Logger:        logger,
		Metrics:       metrics,
		Auth:          authMW.Handler,
		RateLimit:     rateMW,
	})

	var root http.Handler = server
	root = observability.HTTPMetricsMiddleware(metrics)(root)
	root = middleware.RequestIDMiddleware(root)
	if cfg.Observability.OTelEnabled {
		root = otelhttp.NewHandler(root, "pixelmint.api")
	}

	httpServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      root,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Health and metrics on a separate port for probes and scrapes
	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, observability.NewHealthChecker(db, redisClient))
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(healthMux, registry)
	}
	healthServer := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: healthMux,
	}

	// Periodic maintenance
	scheduler := cron.New()
	scheduler.AddFunc("@every 1h", func() {
		jobCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
		defer cancel()
		defer observability.RecoverPanic(logger, "sweep_lapsed")
		if n, err := subStore.SweepLapsed(jobCtx, time.Now()); err != nil {
			logger.WithError(err).Warn("Lapsed subscription sweep failed")
		} else if n > 0 {
			logger.WithField("expired", n).Info("Swept lapsed subscriptions")
		}
	})
	scheduler.AddFunc("@every 1h", func() {
		jobCtx, cancel := context.WithTimeout(ctx, time.Minute)
		defer cancel()
		defer observability.RecoverPanic(logger, "session_cleanup")
		if n, err := sessionStore.CleanupExpired(jobCtx); err != nil {
			logger.WithError(err).Warn("Session cleanup failed")
		} else if n > 0 {
			logger.WithField("deleted", n).Info("Cleaned up expired sessions")
		}
	})
	scheduler.AddFunc("@daily", func() {
		jobCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
		defer cancel()
		defer observability.RecoverPanic(logger, "audit_prune")
		if n, err := auditLogger.Prune(jobCtx, 90*24*time.Hour); err != nil {
			logger.WithError(err).Warn("Audit log prune failed")
		} else if n > 0 {
			logger.WithField("pruned", n).Info("Pruned old audit entries")
		}
	})
	scheduler.AddFunc("@every 1m", func() {
		jobCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		defer observability.RecoverPanic(logger, "subscription_gauge")
		if count, err := subStore.CountBlocking(jobCtx); err == nil {
			metrics.ActiveSubscriptions.Set(float64(count))
		}
		metrics.ObserveDBStats(cm.Stats())
	})
	scheduler.Start()

	// Prime the gauge so it reads correctly before the first tick
	async.SafeGo(ctx, 10*time.Second, "subscription_gauge_prime", logger, func(jobCtx context.Context) error {
		count, err := subStore.CountBlocking(jobCtx)
		if err != nil {
			return err
		}
		metrics.ActiveSubscriptions.Set(float64(count))
		return nil
	})

	// Non-credential settings reload on config file changes
	if path := os.Getenv("PIXELMINT_CONFIG_FILE"); path != "" {
		watchStop := make(chan struct{})
		defer close(watchStop)
		err := config.Watch(path, logger, watchStop, func(updated *config.Config) {
			logger.WithField("log_level", updated.Observability.LogLevel.String()).
				Info("Configuration file changed, timeouts and limits apply on restart")
		})
		if err != nil {
			logger.WithError(err).Warn("Config file watching disabled")
		}
	}

	shutdown := observability.NewShutdownManager(logger, httpServer, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc(func(shutdownCtx context.Context) error {
		scheduler.Stop()
		if err := healthServer.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return observability.ShutdownOTel(shutdownCtx, otelProviders, logger)
	})

	var group errgroup.Group
	group.Go(func() error {
		logger.WithField("addr", httpServer.Addr).Info("API server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("api server failed: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		logger.WithField("addr", healthServer.Addr).Info("Health server listening")
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("health server failed: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		return shutdown.WaitForShutdown()
	})

	return group.Wait()
}

// buildProviders assembles webhook normalizers and checkout adapters for
// every enabled payment provider.
func buildProviders(cfg config.BillingConfig) ([]billing.Normalizer, []billing.CheckoutProvider, error) {
	var normalizers []billing.Normalizer
	var providers []billing.CheckoutProvider

	if cfg.Creem.Enabled {
		normalizers = append(normalizers, billing.NewCreemNormalizer(cfg.Creem.WebhookSecret))
		if cfg.Creem.APIKey != "" {
			providers = append(providers, billing.NewCreemAdapter(
				cfg.Creem.APIKey, cfg.Creem.BaseURL, cfg.SuccessURL, cfg.CancelURL, nil))
		}
	}
	if cfg.Stripe.Enabled {
		normalizers = append(normalizers, billing.NewStripeNormalizer(cfg.Stripe.WebhookSecret, cfg.StripeTolerance))
		if cfg.Stripe.APIKey != "" {
			providers = append(providers, billing.NewStripeAdapter(
				cfg.Stripe.APIKey, cfg.Stripe.BaseURL, cfg.SuccessURL, cfg.CancelURL, nil))
		}
	}
	if len(normalizers) == 0 {
		return nil, nil, fmt.Errorf("no payment provider enabled")
	}
	return normalizers, providers, nil
}
