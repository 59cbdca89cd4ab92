// Package app wires the order engine into an HTTP service.
package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	goredis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/Karbash/Prometheus-Hephaestus-sub001/internal/domain/fee"
	"github.com/Karbash/Prometheus-Hephaestus-sub001/internal/domain/order"
	"github.com/Karbash/Prometheus-Hephaestus-sub001/internal/events/amqp"
	"github.com/Karbash/Prometheus-Hephaestus-sub001/internal/handler"
	"github.com/Karbash/Prometheus-Hephaestus-sub001/internal/storage/postgres"
	"github.com/Karbash/Prometheus-Hephaestus-sub001/internal/storage/redis"
	"github.com/Karbash/Prometheus-Hephaestus-sub001/pkg/health"
	"github.com/Karbash/Prometheus-Hephaestus-sub001/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	// PostgreSQL pool + migrations.
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	prober := health.New()
	prober.Readiness("postgres", 5*time.Second, pool.Ping)
	prober.Liveness("goroutines", time.Second, health.GoroutineLimit(10000))

	// Fee configuration, optionally cached.
	var fees fee.Source = postgres.NewFeeRepository(pool)
	if cfg.Redis.Addr != "" {
		rdb := goredis.NewClient(&goredis.Options{Addr: cfg.Redis.Addr})
		defer func() { _ = rdb.Close() }()
		prober.Readiness("redis", time.Second, func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		})
		fees = redis.NewFeeCache(rdb, fees, cfg.Redis.FeeTTL)
		lg.Info("Fee config cache enabled", zap.String("redis", cfg.Redis.Addr), zap.Duration("ttl", cfg.Redis.FeeTTL))
	}

	opts := []order.Option{order.WithTelemetry(m.TracerProvider(), m.MeterProvider())}
	if cfg.AMQP.URL != "" {
		pub, err := amqp.Dial(cfg.AMQP.URL, cfg.AMQP.Exchange)
		if err != nil {
			return errors.Wrap(err, "connect amqp")
		}
		defer func() { _ = pub.Close() }()
		prober.Readiness("amqp", time.Second, pub.Check)
		opts = append(opts, order.WithPublisher(pub))
		lg.Info("Order events enabled", zap.String("exchange", cfg.AMQP.Exchange))
	}

	orders, err := order.NewService(
		postgres.NewMenuRepository(pool),
		fees,
		postgres.NewStore(pool),
		opts...,
	)
	if err != nil {
		return errors.Wrap(err, "create order service")
	}

	prober.Start(ctx, 10*time.Second)
	prober.SetReady(true)

	router := handler.NewRouter(handler.NewHandler(orders),
		httpmiddleware.RateLimit(ctx, httpmiddleware.RateLimitConfig{
			Max:    cfg.RateLimit.Max,
			Window: cfg.RateLimit.Window,
			Key:    httpmiddleware.TenantKey,
		}),
	)
	router.Get("/livez", prober.LiveHandler)
	router.Get("/readyz", prober.ReadyHandler)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(router,
			httpmiddleware.Recovery(),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			func(next http.Handler) http.Handler {
				return otelhttp.NewHandler(next, "orders-api",
					otelhttp.WithTracerProvider(m.TracerProvider()),
					otelhttp.WithMeterProvider(m.MeterProvider()),
				)
			},
		),
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		prober.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		prober.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}
