package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/utafrali/stockledger/internal/config"
	"github.com/utafrali/stockledger/internal/event"
	"github.com/utafrali/stockledger/internal/repository"
	"github.com/utafrali/stockledger/internal/repository/memory"
	"github.com/utafrali/stockledger/internal/repository/postgres"
	"github.com/utafrali/stockledger/internal/service"
	"github.com/utafrali/stockledger/migrations"
	"github.com/utafrali/stockledger/pkg/database"
	pkgkafka "github.com/utafrali/stockledger/pkg/kafka"
)

// Resources are the backing connections of a StockService. Close releases
// whatever was opened.
type Resources struct {
	Store    repository.Store
	Seeder   repository.SeedRepository
	Pool     *pgxpool.Pool
	Producer *pkgkafka.Producer
}

// Close releases the Kafka producer and the pool.
func (r *Resources) Close() error {
	var err error
	if r.Producer != nil {
		err = r.Producer.Close()
	}
	if r.Pool != nil {
		r.Pool.Close()
	}
	return err
}

// Publisher returns the event publisher for the service, or nil when
// events are disabled.
func (r *Resources) Publisher(logger *slog.Logger) service.EventPublisher {
	if r.Producer == nil {
		return nil
	}
	return event.NewProducer(r.Producer, logger)
}

// OpenResources connects the configured store, runs migrations on Postgres
// and creates the Kafka producer when events are enabled.
func OpenResources(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Resources, error) {
	res := &Resources{}

	switch cfg.StoreDriver {
	case config.StoreDriverMemory:
		logger.Warn("using in-memory store, data is lost on exit")
		store := memory.NewStore()
		res.Store, res.Seeder = store, store
	default:
		pool, err := openPostgres(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		res.Pool = pool
		repo := postgres.NewRepository(pool)
		res.Store, res.Seeder = repo, repo
	}

	if cfg.EventsEnabled {
		res.Producer = pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers), logger)
	}

	return res, nil
}

func openPostgres(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*pgxpool.Pool, error) {
	pgCfg := database.PostgresConfig{
		Host:            cfg.PostgresHost,
		Port:            cfg.PostgresPort,
		User:            cfg.PostgresUser,
		Password:        cfg.PostgresPass,
		DBName:          cfg.PostgresDB,
		SSLMode:         cfg.PostgresSSL,
		MaxConns:        cfg.DBMaxConns,
		MinConns:        cfg.DBMinConns,
		MaxConnLifetime: time.Duration(cfg.DBMaxConnLifetimeMins) * time.Minute,
		MaxConnIdleTime: time.Duration(cfg.DBMaxConnIdleTimeMins) * time.Minute,
	}

	pool, err := database.NewPostgresPool(ctx, &pgCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	logger.Info("connected to PostgreSQL",
		slog.String("host", cfg.PostgresHost),
		slog.Int("port", cfg.PostgresPort),
		slog.String("database", cfg.PostgresDB),
	)

	if err := database.RunMigrations(ctx, pool, migrations.FS, logger); err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrations completed")

	if cfg.SlowQueryThresholdMs > 0 {
		database.SetSlowQueryLogging(time.Duration(cfg.SlowQueryThresholdMs)*time.Millisecond, logger)
	}
	return pool, nil
}

// NewService builds the StockService over res with the configured TTL.
func NewService(res *Resources, cfg *config.Config, logger *slog.Logger) *service.StockService {
	return service.NewStockService(res.Store, res.Publisher(logger), logger,
		service.WithReservationTTL(cfg.ReservationTTL),
	)
}
