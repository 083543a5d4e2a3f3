package commands

import (
	"context"
	"time"

	"event-voucher/internal/domain/event"
	"event-voucher/internal/pkg/clock"
	"event-voucher/internal/usecase/shared"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

type CreateEventInput struct {
	Name        string
	MaxVouchers int
	// IssuedVouchers defaults to MaxVouchers.
	IssuedVouchers *int
}

type CreateEventResult struct {
	EventID uuid.UUID
}

//go:generate mockgen -source=event.go -destination=../../../tests/mock/commands/event.go -package=commandsmock

type EventCommands interface {
	Create(ctx context.Context, in CreateEventInput) (*CreateEventResult, error)
}

type eventCommandsImpl struct {
	store shared.AtomicResourceStore
	clock clock.Clock
	inst  Instruments
}

func NewEventCommands(store shared.AtomicResourceStore, clk clock.Clock, inst Instruments) EventCommands {
	return &eventCommandsImpl{store: store, clock: clk, inst: inst.withDefaults()}
}

func (c *eventCommandsImpl) Create(ctx context.Context, in CreateEventInput) (res *CreateEventResult, err error) {
	ctx, span := c.inst.start(ctx, "EventCommands.Create")
	defer func() { endSpan(span, err) }()

	ev, err := event.New(in.Name, in.MaxVouchers, in.IssuedVouchers, c.clock.Now().UTC().Truncate(time.Microsecond))
	if err != nil {
		return nil, translate(err)
	}
	span.SetAttributes(attribute.String("event.id", ev.ID().String()))

	if err := c.store.CreateEvent(ctx, ev); err != nil {
		return nil, translate(err)
	}
	c.inst.Logger.Info("event created", "event_id", ev.ID(), "max_vouchers", ev.MaxVouchers(), "issued_vouchers", ev.IssuedVouchers())
	return &CreateEventResult{EventID: ev.ID()}, nil
}

