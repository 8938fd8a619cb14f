package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/dealerledger/internal/audit"
	"github.com/odyssey-erp/dealerledger/internal/inventory"
	"github.com/odyssey-erp/dealerledger/internal/ledger"
	"github.com/odyssey-erp/dealerledger/internal/observability"
	"github.com/odyssey-erp/dealerledger/internal/platform/cache"
	"github.com/odyssey-erp/dealerledger/internal/platform/db"
	"github.com/odyssey-erp/dealerledger/internal/platform/lock"
	"github.com/odyssey-erp/dealerledger/internal/posting"
	"github.com/odyssey-erp/dealerledger/internal/shared"
	"github.com/odyssey-erp/dealerledger/jobs"
	"github.com/odyssey-erp/dealerledger/migrations"
)

// Services bundles the connected stores and domain services shared by the binaries.
type Services struct {
	Pool      *pgxpool.Pool
	Redis     *redis.Client
	Metrics   *observability.Metrics
	Ledger    *ledger.Service
	Posting   *posting.Service
	Inventory *inventory.Service
	Jobs      *jobs.Client
	Idem      *shared.IdempotencyStore
	Audit     *audit.Service
}

// RedisOpt returns the Asynq connection options for cfg.
func (c *Config) RedisOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{Addr: c.RedisAddr, Password: c.RedisPassword, DB: c.RedisDB}
}

// LedgerConfig converts runtime settings into ledger.Config.
func (c *Config) LedgerConfig() (ledger.Config, error) {
	tol, err := c.BalanceTolerance()
	if err != nil {
		return ledger.Config{}, err
	}
	return ledger.Config{
		Tolerance:          tol,
		NumberAttempts:     c.LedgerVoucherNumberAttempts,
		AllowNegativeStock: c.InventoryAllowNegativeStock,
	}, nil
}

// Connect opens PostgreSQL and Redis and builds the domain services on top of them.
func Connect(ctx context.Context, cfg *Config, logger *slog.Logger) (*Services, error) {
	pool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: cfg.PGMaxConns})
	if err != nil {
		return nil, err
	}
	if cfg.PGMigrate {
		if _, err := migrations.Apply(ctx, pool, logger); err != nil {
			pool.Close()
			return nil, err
		}
	}
	rdb, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err != nil {
		pool.Close()
		return nil, err
	}

	svc, err := Build(cfg, pool, rdb, logger)
	if err != nil {
		pool.Close()
		_ = rdb.Close()
		return nil, fmt.Errorf("app: build services: %w", err)
	}
	return svc, nil
}

// Build assembles the domain services from already connected stores.
func Build(cfg *Config, pool *pgxpool.Pool, rdb *redis.Client, logger *slog.Logger) (*Services, error) {
	ledgerCfg, err := cfg.LedgerConfig()
	if err != nil {
		return nil, err
	}

	var counter ledger.SequenceCounter
	if cfg.LedgerRedisSequence {
		counter = cache.NewCounter(rdb, cfg.LedgerSequenceTTL)
	}

	metrics := observability.NewMetrics()
	ledgerSvc := ledger.NewService(ledger.NewRepository(pool), shared.NewAuditLogger(pool), counter, ledgerCfg, logger)
	postingSvc := posting.NewService(ledgerSvc, metrics, logger)
	jobClient := jobs.NewClient(cfg.RedisOpt(), logger)
	inventorySvc := inventory.NewService(postingSvc, lock.New(rdb), jobClient, metrics,
		inventory.ServiceConfig{LockTTL: cfg.InventoryLockTTL}, logger)

	return &Services{
		Pool:      pool,
		Redis:     rdb,
		Metrics:   metrics,
		Ledger:    ledgerSvc,
		Posting:   postingSvc,
		Inventory: inventorySvc,
		Jobs:      jobClient,
		Idem:      shared.NewIdempotencyStore(pool),
		Audit:     audit.NewService(audit.NewRepository(pool)),
	}, nil
}

// Readiness returns the probes for /readyz.
func (s *Services) Readiness() map[string]Pinger {
	return map[string]Pinger{
		"postgres": s.Pool,
		"redis":    PingFunc(func(ctx context.Context) error { return s.Redis.Ping(ctx).Err() }),
	}
}

// Close releases every connection held by s.
func (s *Services) Close(logger *slog.Logger) {
	if s.Jobs != nil {
		if err := s.Jobs.Close(); err != nil {
			logger.Warn("jobs client close", slog.Any("error", err))
		}
	}
	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}
	if s.Pool != nil {
		s.Pool.Close()
	}
}
