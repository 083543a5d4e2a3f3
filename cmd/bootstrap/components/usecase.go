package components

import (
	"log/slog"

	"event-voucher/internal/domain/voucher"
	"event-voucher/internal/infra/cache"
	"event-voucher/internal/pkg/clock"
	"event-voucher/internal/pkg/config"
	"event-voucher/internal/pkg/metrics"
	"event-voucher/internal/usecase"
	"event-voucher/internal/usecase/commands"
	"event-voucher/internal/usecase/queries"
	"event-voucher/internal/usecase/shared"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
)

var UseCaseModule = fx.Module("usecase",
	usecaseBaseOption,
	usecaseQueriesModule,
	usecaseValidatorsModule,
	usecaseCommandsModule,
)

var usecaseBaseOption = fx.Provide(
	clock.NewRealClock,
	fx.Annotate(
		voucher.NewRandomCodeGenerator,
		fx.As(new(voucher.CodeGenerator)),
	),
	func(logger *slog.Logger, m *metrics.Metrics, tracer trace.Tracer) commands.Instruments {
		return commands.Instruments{Logger: logger, Metrics: m, Tracer: tracer}
	},
)

var usecaseCommandsModule = fx.Module("usecase/commands",
	fx.Provide(
		commands.NewEventCommands,
		commands.NewLeaseManager,
		commands.NewAllocator,
	),
)

var usecaseQueriesModule = fx.Module("usecase/queries",
	fx.Provide(
		func(store shared.AtomicResourceStore, clk clock.Clock, cfg config.LeaseConfig) queries.EventQueries {
			return queries.NewEventQueries(store, clk, cfg.TTL)
		},
		NewVoucherQueries,
	),
)

// NewVoucherQueries puts the in-process cache in front of the store reads.
func NewVoucherQueries(lc fx.Lifecycle, store shared.AtomicResourceStore, cfg config.CacheConfig) (queries.VoucherQueries, error) {
	cached, err := cache.NewVoucherQueries(queries.NewVoucherQueries(store), cfg)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.StopHook(cached.Close))
	return cached, nil
}

var usecaseValidatorsModule = fx.Module("usecase/validators",
	fx.Provide(
		usecase.NewTokenValidator,
	),
)

