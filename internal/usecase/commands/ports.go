package commands

import (
	"context"
	"log/slog"

	"event-voucher/internal/pkg/metrics"
	"event-voucher/internal/pkg/telemetry"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Instruments are the cross-cutting hooks every command reports to.
type Instruments struct {
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	Tracer  trace.Tracer
}

func (i Instruments) withDefaults() Instruments {
	if i.Logger == nil {
		i.Logger = slog.Default()
	}
	if i.Metrics == nil {
		i.Metrics = metrics.New()
	}
	if i.Tracer == nil {
		i.Tracer = telemetry.Tracer(nil)
	}
	return i
}

func (i Instruments) start(ctx context.Context, name string, attrs ...trace.SpanStartOption) (context.Context, trace.Span) {
	return i.Tracer.Start(ctx, name, attrs...)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
