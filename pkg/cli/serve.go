package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/schoolbilling/pkg/api"
	"github.com/platinummonkey/schoolbilling/pkg/auth"
	"github.com/platinummonkey/schoolbilling/pkg/billing"
	"github.com/platinummonkey/schoolbilling/pkg/middleware"
	"github.com/platinummonkey/schoolbilling/pkg/observability"
	"github.com/platinummonkey/schoolbilling/pkg/storage/postgres"
)

func newServeCommand() *Command {
	cmd := &Command{
		Name:        "serve",
		Description: "Run the HTTP API",
		Flags:       flag.NewFlagSet("serve", flag.ContinueOnError),
	}
	cmd.Run = func(ctx context.Context, args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		return runServe(ctx)
	}
	return cmd
}

func runServe(parent context.Context) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, logger, cm, err := setup(ctx)
	if err != nil {
		return err
	}

	otelProviders, err := observability.InitOTel(ctx, cfg.OTelConfig(), logger)
	if err != nil {
		cm.Close()
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	var (
		metrics  *observability.Metrics
		registry *prometheus.Registry
	)
	if cfg.Observability.MetricsEnabled {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		metrics = observability.NewMetrics(registry)
	}

	stack, err := newBillingStack(ctx, cfg, logger, cm, metrics)
	if err != nil {
		cm.Close()
		return err
	}

	gateway := billing.NewGateway(stack.schools, stack.mirror, stack.processor, stack.audit, logger, metrics, cfg.GatewayConfig())
	if cfg.Stripe.WebhookSecret == "" {
		logger.Warn("webhook secret not set; processor events will be rejected")
	}

	tokens := auth.NewTokenManager(auth.NewPostgresTokenStore(cm.Primary()), cfg.Auth.TokenCacheSize, cfg.Auth.TokenCacheTTL)
	gateway.SetUserCache(tokens)

	health := observability.NewHealthChecker(cm.Primary(), stack.redisClient(), cfg.Observability.OTelServiceVersion)
	health.RegisterCheck("database_replicas", cm.Health)

	deps := api.Dependencies{
		Billing: gateway,
		Tokens:  tokens,
		Health:  health,
		Logger:  logger,
	}
	if metrics != nil {
		deps.Metrics = metrics
		deps.Gatherer = registry
	}
	if cfg.RateLimit.Enabled {
		deps.RateLimiter = middleware.NewRateLimiter(cfg.LimiterConfig())
		deps.RateLimiter.StartCleanup(ctx)
	}

	httpServer := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      api.NewServer(deps, cfg.APIConfig()),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := observability.NewShutdownManager(logger, httpServer, cfg.Server.ShutdownTimeout)

	if cfg.Reconciler.Enabled {
		reconciler := billing.NewReconciler(stack.schools, stack.mirror, stack.processor, stack.audit, logger, metrics, cfg.BillingReconcilerConfig())
		if err := reconciler.Start(); err != nil {
			stack.Close()
			cm.Close()
			return err
		}
		health.RegisterCheck("reconciler", reconciler.Health)
		shutdown.RegisterShutdownFunc("reconciler", reconciler.Stop)
	}
	shutdown.RegisterShutdownFunc("billing", func(context.Context) error { return stack.Close() })
	shutdown.RegisterShutdownFunc("otel", otelProviders.Shutdown)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.WithField("addr", httpServer.Addr).Info("starting school billing API")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		cm.Monitor(gctx, 30*time.Second, metrics)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		err := shutdown.Shutdown(context.Background())
		// the pool outlives every other component
		if cerr := closeDatabase(cm); cerr != nil && err == nil {
			err = cerr
		}
		return err
	})

	return g.Wait()
}

func closeDatabase(cm *postgres.ConnectionManager) error {
	if err := cm.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}
