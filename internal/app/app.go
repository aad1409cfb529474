package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/utafrali/stockledger/internal/config"
	"github.com/utafrali/stockledger/internal/event"
	handler "github.com/utafrali/stockledger/internal/handler/http"
	"github.com/utafrali/stockledger/internal/service"
	"github.com/utafrali/stockledger/pkg/database"
	"github.com/utafrali/stockledger/pkg/health"
	pkgkafka "github.com/utafrali/stockledger/pkg/kafka"
	"github.com/utafrali/stockledger/pkg/middleware"
	"github.com/utafrali/stockledger/pkg/tracing"
)

const idempotencyPrefix = "stock-ledger:events:"

// App wires together all dependencies and runs the stock ledger service.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	resources      *Resources
	redis          *redis.Client
	httpServer     *http.Server
	consumers      []*pkgkafka.Consumer
	stockService   *service.StockService
	tracerShutdown func(context.Context) error
}

// NewApp creates a new application instance, initializing all dependencies.
// HTTP metrics are registered with reg.
func NewApp(cfg *config.Config, logger *slog.Logger, reg prometheus.Registerer) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tracerShutdown, err := tracing.InitTracer(ctx, tracing.Config{
		ServiceName:    handler.ServiceName,
		ServiceVersion: "0.1.0",
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTELEndpoint,
		SampleRate:     cfg.OTELSampleRate,
		Enabled:        cfg.OTELEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}

	res, err := OpenResources(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	if res.Pool != nil {
		database.RegisterPoolMetrics(res.Pool, handler.ServiceName)
	}

	if res.Producer != nil {
		if err := pingKafkaWithRetry(ctx, res.Producer, logger); err != nil {
			logger.Warn("kafka producer ping failed after retries, continuing in degraded mode",
				slog.String("error", err.Error()),
			)
		} else {
			logger.Info("kafka producer initialized", slog.Any("brokers", cfg.KafkaBrokers))
		}
	}

	stockService := NewService(res, cfg, logger)

	healthHandler := health.NewHandler()
	if res.Pool != nil {
		healthHandler.RegisterCritical("postgres", func(ctx context.Context) error {
			return res.Pool.Ping(ctx)
		})
	}

	a := &App{
		cfg:            cfg,
		logger:         logger,
		resources:      res,
		stockService:   stockService,
		tracerShutdown: tracerShutdown,
	}

	if cfg.EventsEnabled {
		healthHandler.RegisterNonCritical("kafka", func(ctx context.Context) error {
			return res.Producer.Ping(ctx)
		})
		store := a.idempotencyStore(ctx, healthHandler)
		a.consumers = newOrderConsumers(cfg, event.NewConsumer(stockService, logger).Handlers(store), logger)
	}

	access := handler.AccessConfig{
		PprofCIDRs:    cfg.PprofAllowedCIDRs,
		OperatorCIDRs: cfg.OperatorAllowedCIDRs,
		CORSOrigins:   cfg.CORSAllowedOrigins,
	}
	router := handler.NewRouter(stockService, healthHandler, middleware.NewHTTPMetrics(reg, handler.ServiceName), access, logger)
	a.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return a, nil
}

// idempotencyStore returns a Redis-backed store, falling back to process
// memory when Redis is unreachable.
func (a *App) idempotencyStore(ctx context.Context, h *health.Handler) pkgkafka.IdempotencyStore {
	client, err := database.NewRedisClient(ctx, database.RedisConfig{
		Host:     a.cfg.RedisHost,
		Port:     a.cfg.RedisPort,
		Password: a.cfg.RedisPassword,
		DB:       a.cfg.RedisDB,
	})
	if err != nil {
		a.logger.Warn("redis unavailable, deduplicating events in memory",
			slog.String("error", err.Error()),
		)
		return pkgkafka.NewMemoryIdempotencyStore(a.cfg.IdempotencyTTL)
	}

	a.redis = client
	h.RegisterNonCritical("redis", func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	})
	return pkgkafka.NewRedisIdempotencyStore(client, idempotencyPrefix, a.cfg.IdempotencyTTL)
}

// newOrderConsumers creates one DLQ-enabled consumer per topic.
func newOrderConsumers(cfg *config.Config, handlers map[string]pkgkafka.Handler, logger *slog.Logger) []*pkgkafka.Consumer {
	topics := make([]string, 0, len(handlers))
	for topic := range handlers {
		topics = append(topics, topic)
	}
	sort.Strings(topics)

	consumers := make([]*pkgkafka.Consumer, 0, len(topics))
	for _, topic := range topics {
		consumers = append(consumers, pkgkafka.NewConsumer(pkgkafka.ConsumerConfig{
			Brokers:   cfg.KafkaBrokers,
			GroupID:   cfg.KafkaGroupID + "-" + topic,
			Topic:     topic,
			MinBytes:  1,
			MaxBytes:  10e6,
			EnableDLQ: true,
		}, handlers[topic], logger))
	}
	return consumers
}

// Handler returns the HTTP handler.
func (a *App) Handler() http.Handler {
	return a.httpServer.Handler
}

// Run starts the HTTP server, Kafka consumers, and background jobs, then
// blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1+len(a.consumers))

	go func() {
		a.logger.Info("starting HTTP server",
			slog.String("addr", a.httpServer.Addr),
		)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	for _, c := range a.consumers {
		go func() {
			if err := c.Start(ctx); err != nil {
				errCh <- fmt.Errorf("kafka consumer: %w", err)
			}
		}()
	}

	go runEvery(ctx, a.cfg.ExpirySweep, "reservation expiry", a.logger, a.stockService.ReleaseExpiredReservations)
	go runEvery(ctx, a.cfg.ReconcileInterval, "stock cache reconcile", a.logger, a.stockService.ReconcileStockCache)

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case runErr = <-errCh:
	}

	return errors.Join(runErr, a.Shutdown())
}

// runEvery calls job every interval until ctx is canceled. A non-positive
// interval disables the job.
func runEvery(ctx context.Context, interval time.Duration, name string, logger *slog.Logger, job func(context.Context) (int, error)) {
	if interval <= 0 {
		logger.Info("background job disabled", slog.String("job", name))
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := job(ctx)
			if err != nil {
				logger.Error("background job failed",
					slog.String("job", name),
					slog.String("error", err.Error()),
				)
			} else if n > 0 {
				logger.Info("background job completed",
					slog.String("job", name),
					slog.Int("affected", n),
				)
			}
		}
	}
}

// Shutdown gracefully stops all components in order: HTTP server, tracer,
// Kafka consumers, Redis, then the producer and pool.
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	var errs []error

	httpCtx, httpCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer httpCancel()
	if err := a.httpServer.Shutdown(httpCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	if a.tracerShutdown != nil {
		tracerCtx, tracerCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer tracerCancel()
		if err := a.tracerShutdown(tracerCtx); err != nil {
			a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	for _, c := range a.consumers {
		if err := c.Close(); err != nil {
			a.logger.Error("kafka consumer close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Error("redis close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	if err := a.resources.Close(); err != nil {
		a.logger.Error("kafka producer close error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	a.logger.Info("application shutdown complete")
	return errors.Join(errs...)
}

// pingKafkaWithRetry attempts to ping the Kafka producer with exponential
// backoff (3 attempts, 1s/2s/4s with ±25% jitter).
func pingKafkaWithRetry(ctx context.Context, producer *pkgkafka.Producer, logger *slog.Logger) error {
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if lastErr = producer.Ping(ctx); lastErr == nil {
			return nil
		}
		if attempt < 2 {
			base := time.Duration(1<<uint(attempt)) * time.Second
			jitter := time.Duration(float64(base) * 0.25 * (2*rand.Float64() - 1)) // #nosec G404 -- non-cryptographic jitter for retry backoff
			wait := base + jitter
			logger.Warn("kafka producer ping failed, retrying",
				slog.Int("attempt", attempt+1),
				slog.Int("max_attempts", 3),
				slog.Duration("backoff", wait),
				slog.String("error", lastErr.Error()),
			)
			select {
			case <-ctx.Done():
				return fmt.Errorf("kafka ping: context canceled during retry: %w", ctx.Err())
			case <-time.After(wait):
			}
		}
	}
	return fmt.Errorf("kafka producer ping failed after 3 attempts: %w", lastErr)
}
