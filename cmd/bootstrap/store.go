package bootstrap

import (
	"log/slog"

	"event-voucher/internal/infra/pgstore"
	"event-voucher/internal/infra/redisstore"
	"event-voucher/internal/pkg/clock"
	"event-voucher/internal/pkg/config"
	"event-voucher/internal/pkg/errs"
	"event-voucher/internal/usecase/shared"

	"go.uber.org/fx"
)

var StoreModule = fx.Module("store",
	fx.Provide(
		NewBackend,
		func(b Backend) shared.AtomicResourceStore { return b.Store },
		func(b Backend) shared.JobQueue { return b.Queue },
	),
)

// Backend is the store and job queue of one STORE_BACKEND. Both live in the
// same database so gated claims can enqueue inside the claim.
type Backend struct {
	Store shared.AtomicResourceStore
	Queue shared.JobQueue
}

func NewBackend(lc fx.Lifecycle, cfg config.Config, clk clock.Clock, logger *slog.Logger) (Backend, error) {
	switch cfg.Store.Backend {
	case config.StoreBackendPostgres:
		pool, err := NewDB(lc, cfg)
		if err != nil {
			return Backend{}, err
		}
		logger.Info("using postgres store")
		return Backend{
			Store: pgstore.NewStore(pool, clk, logger),
			Queue: pgstore.NewQueue(pool, logger),
		}, nil
	case config.StoreBackendRedis:
		client, err := NewRedisClient(lc, cfg, logger)
		if err != nil {
			return Backend{}, err
		}
		logger.Info("using redis store", "prefix", cfg.Redis.KeyPrefix)
		return Backend{
			Store: redisstore.NewStore(client, cfg.Redis.KeyPrefix, clk, logger),
			Queue: redisstore.NewQueue(client, cfg.Redis.KeyPrefix, logger),
		}, nil
	default:
		return Backend{}, errs.Newf("unknown STORE_BACKEND %q", cfg.Store.Backend)
	}
}
