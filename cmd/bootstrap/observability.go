package bootstrap

import (
	"event-voucher/internal/pkg/config"
	"event-voucher/internal/pkg/metrics"
	"event-voucher/internal/pkg/telemetry"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
)

var ObservabilityModule = fx.Module("observability",
	fx.Provide(
		metrics.New,
		NewTracerProvider,
		telemetry.Tracer,
	),
)

func NewTracerProvider(lc fx.Lifecycle, cfg config.Config) (trace.TracerProvider, error) {
	tp, shutdown, err := telemetry.NewTracerProvider(cfg.Telemetry)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{OnStop: shutdown})
	return tp, nil
}
