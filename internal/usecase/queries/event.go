package queries

import (
	"context"
	"time"

	"event-voucher/internal/infra"
	"event-voucher/internal/pkg/clock"
	"event-voucher/internal/pkg/errs"
	"event-voucher/internal/usecase/shared"

	"github.com/google/uuid"
)

var (
	ErrEventNotFound = errs.Sentinel("event not found", errs.ErrNotFound)
	ErrReadFailure   = errs.Sentinel("read failure", errs.ErrInternal)
)

type EventView struct {
	ID              uuid.UUID  `json:"id"`
	Name            string     `json:"name"`
	MaxVouchers     int        `json:"max_vouchers"`
	IssuedVouchers  int        `json:"issued_vouchers"`
	ClaimedVouchers int        `json:"claimed_vouchers"`
	EditingBy       *uuid.UUID `json:"editing_by"`
	LastEditedAt    *time.Time `json:"last_edited_at"`
	LeaseExpiresAt  *time.Time `json:"lease_expires_at"`
	LeaseActive     bool       `json:"lease_active"`
	Version         int64      `json:"version"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

//go:generate mockgen -source=event.go -destination=../../../tests/mock/queries/event.go -package=queriesmock

type EventQueries interface {
	GetByID(ctx context.Context, id uuid.UUID) (*EventView, error)
}

type eventQueriesImpl struct {
	store shared.AtomicResourceStore
	clock clock.Clock
	ttl   time.Duration
}

func NewEventQueries(store shared.AtomicResourceStore, clk clock.Clock, ttl time.Duration) EventQueries {
	return &eventQueriesImpl{store: store, clock: clk, ttl: ttl}
}

// GetByID reports the event as stored; a lapsed lease is shown as inactive
// but is not cleared here.
func (q *eventQueriesImpl) GetByID(ctx context.Context, id uuid.UUID) (*EventView, error) {
	ev, err := q.store.FindEvent(ctx, id)
	if err != nil {
		if infra.IsKind(err, infra.KindNotFound) {
			return nil, errs.WithCause(ErrEventNotFound, err)
		}
		return nil, errs.WithCause(ErrReadFailure, err)
	}
	claimed, err := q.store.CountVouchers(ctx, id)
	if err != nil {
		return nil, errs.WithCause(ErrReadFailure, err)
	}

	view := &EventView{
		ID:              ev.ID(),
		Name:            ev.Name(),
		MaxVouchers:     ev.MaxVouchers(),
		IssuedVouchers:  ev.IssuedVouchers(),
		ClaimedVouchers: claimed,
		EditingBy:       ev.EditingBy(),
		LastEditedAt:    ev.LastEditedAt(),
		Version:         ev.Version(),
		CreatedAt:       ev.CreatedAt(),
		UpdatedAt:       ev.UpdatedAt(),
	}
	if ev.IsLeased() {
		view.LeaseExpiresAt = ev.LeaseExpiresAt(q.ttl)
		view.LeaseActive = !ev.LeaseExpired(q.clock.Now(), q.ttl)
	}
	return view, nil
}
