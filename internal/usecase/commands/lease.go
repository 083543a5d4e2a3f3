package commands

import (
	"context"
	"time"

	"event-voucher/internal/domain/event"
	"event-voucher/internal/pkg/clock"
	"event-voucher/internal/pkg/config"
	"event-voucher/internal/pkg/errs"
	"event-voucher/internal/usecase/shared"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	OutcomeAcquired  = "acquired"
	OutcomeRefreshed = "refreshed"
	OutcomeReclaimed = "reclaimed"
	OutcomeUntouched = "untouched"
	OutcomeReleased  = "released"
)

const (
	opAcquire = "acquire"
	opRenew   = "renew"
	opRelease = "release"
)

// LeaseResult is the lease state after an operation. EditingBy is nil when
// nobody holds the event.
type LeaseResult struct {
	EventID      uuid.UUID
	EditingBy    *uuid.UUID
	LastEditedAt *time.Time
	ExpiresAt    *time.Time
	Outcome      string
}

//go:generate mockgen -source=lease.go -destination=../../../tests/mock/commands/lease.go -package=commandsmock

// LeaseManager arbitrates exclusive edit access to an event.
type LeaseManager interface {
	Acquire(ctx context.Context, eventID, holderID string) (*LeaseResult, error)
	// Renew refreshes the caller's lease. A lapsed foreign lease is cleared
	// but not granted; the caller must Acquire afterwards.
	Renew(ctx context.Context, eventID, holderID string) (*LeaseResult, error)
	Release(ctx context.Context, eventID, holderID string) (*LeaseResult, error)
}

type leaseManagerImpl struct {
	store    shared.AtomicResourceStore
	clock    clock.Clock
	ttl      time.Duration
	strategy string
	inst     Instruments
}

func NewLeaseManager(store shared.AtomicResourceStore, clk clock.Clock, cfg config.LeaseConfig, inst Instruments) LeaseManager {
	return &leaseManagerImpl{
		store:    store,
		clock:    clk,
		ttl:      cfg.TTL,
		strategy: cfg.Strategy,
		inst:     inst.withDefaults(),
	}
}

func (m *leaseManagerImpl) Acquire(ctx context.Context, eventID, holderID string) (*LeaseResult, error) {
	return m.run(ctx, opAcquire, eventID, holderID, func(holder uuid.UUID, now time.Time) (shared.EventMutation, *string) {
		outcome := OutcomeAcquired
		return func(ev *event.Event) error {
			return ev.Acquire(holder, now, m.ttl)
		}, &outcome
	})
}

func (m *leaseManagerImpl) Renew(ctx context.Context, eventID, holderID string) (*LeaseResult, error) {
	return m.run(ctx, opRenew, eventID, holderID, func(holder uuid.UUID, now time.Time) (shared.EventMutation, *string) {
		var outcome string
		return func(ev *event.Event) error {
			got, err := ev.Renew(holder, now, m.ttl)
			if err != nil {
				return err
			}
			outcome = string(got)
			if got == event.RenewUntouched {
				return shared.ErrSkipWrite
			}
			return nil
		}, &outcome
	})
}

func (m *leaseManagerImpl) Release(ctx context.Context, eventID, holderID string) (*LeaseResult, error) {
	return m.run(ctx, opRelease, eventID, holderID, func(holder uuid.UUID, _ time.Time) (shared.EventMutation, *string) {
		outcome := OutcomeReleased
		return func(ev *event.Event) error {
			return ev.Release(holder)
		}, &outcome
	})
}

// run parses ids before touching the store, so malformed input never mutates.
// build returns the mutation and where it records its outcome; the store may
// apply the mutation more than once and the last run wins.
func (m *leaseManagerImpl) run(
	ctx context.Context,
	op, eventID, holderID string,
	build func(holder uuid.UUID, now time.Time) (shared.EventMutation, *string),
) (res *LeaseResult, err error) {
	ctx, span := m.inst.start(ctx, "LeaseManager."+op, trace.WithAttributes(
		attribute.String("event.id", eventID),
		attribute.String("lease.holder", holderID),
		attribute.String("lease.strategy", m.strategy),
	))
	defer func() {
		endSpan(span, err)
		m.observe(op, res, err)
	}()

	evID, err := parseID(eventID)
	if err != nil {
		return nil, err
	}
	holder, err := parseID(holderID)
	if err != nil {
		return nil, err
	}

	now := m.clock.Now().UTC().Truncate(time.Microsecond)
	mutate, outcome := build(holder, now)

	var opts []shared.UpdateOption
	if m.strategy == config.LeaseStrategyIndexed {
		opts = append(opts, shared.WithLeaseRecord(m.ttl, now))
	}

	ev, err := m.store.UpdateEvent(ctx, evID, mutate, opts...)
	if err != nil {
		return nil, translate(err)
	}
	return &LeaseResult{
		EventID:      ev.ID(),
		EditingBy:    ev.EditingBy(),
		LastEditedAt: ev.LastEditedAt(),
		ExpiresAt:    m.expiresAt(ev),
		Outcome:      *outcome,
	}, nil
}

func (m *leaseManagerImpl) expiresAt(ev *event.Event) *time.Time {
	if !ev.IsLeased() {
		return nil
	}
	return ev.LeaseExpiresAt(m.ttl)
}

func (m *leaseManagerImpl) observe(op string, res *LeaseResult, err error) {
	outcome := string(errs.KindOf(err))
	if err == nil {
		outcome = res.Outcome
	}
	m.inst.Metrics.LeaseOps.WithLabelValues(op, outcome).Inc()
	if errs.KindOf(err) == errs.KindInternal {
		m.inst.Logger.Error("lease operation failed", "op", op, "error", err.Error())
	}
}
