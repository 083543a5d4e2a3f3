package shared

import (
	"context"
	"time"

	"event-voucher/internal/domain/event"
	"event-voucher/internal/domain/notification"
	"event-voucher/internal/domain/voucher"
	"event-voucher/internal/pkg/errs"

	"github.com/google/uuid"
)

// MaxCodeAttempts bounds how often a claim re-mints a colliding voucher code.
const MaxCodeAttempts = 5

var (
	// ErrSkipWrite returned from an EventMutation commits nothing and is not an error to the caller.
	ErrSkipWrite = errs.New("mutation made no change")
	// ErrCodeSpaceExhausted means every minted code collided with an existing voucher.
	ErrCodeSpaceExhausted = errs.New("could not mint a unique voucher code")
	// ErrJobRejected means the queue did not accept the job of a gated claim.
	ErrJobRejected = errs.New("notification job was not accepted")
	// ErrHolderIndexed means the holder is already indexed against another live lease.
	ErrHolderIndexed = errs.New("holder already holds another lease")
)

// EventMutation is applied to the latest committed state of an event. CAS
// implementations may run it more than once, so it must not have side effects
// outside the event it is given.
type EventMutation func(ev *event.Event) error

type UpdateOptions struct {
	// SyncLeaseRecord keeps the standalone lease index equal to the event's lease.
	SyncLeaseRecord bool
	// LeaseTTL lets the index drop a holder's record once its lease has lapsed.
	LeaseTTL time.Duration
	Now      time.Time
}

type UpdateOption func(*UpdateOptions)

// WithLeaseRecord enables the indexed strategy for one update. A holder may be
// indexed against one live lease at a time; records refreshed at or before
// now-ttl no longer count.
func WithLeaseRecord(ttl time.Duration, now time.Time) UpdateOption {
	return func(o *UpdateOptions) {
		o.SyncLeaseRecord = true
		o.LeaseTTL = ttl
		o.Now = now
	}
}

func ApplyUpdateOptions(opts []UpdateOption) UpdateOptions {
	var o UpdateOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

type ClaimRequest struct {
	EventID uuid.UUID
	Now     time.Time
	// Mint builds the voucher for the debited event. Called again on code collision.
	Mint func(ev *event.Event) (*voucher.Voucher, error)
	// Job, when set, must be accepted by the job queue before the claim counts.
	Job func(ev *event.Event, v *voucher.Voucher) (*notification.Job, error)
}

type ClaimResult struct {
	Event   *event.Event
	Voucher *voucher.Voucher
	// Job is set only when the request carried one.
	Job *notification.Job
}

// AtomicResourceStore is the source of truth for events, vouchers and lease
// records. Every method is atomic per event.
type AtomicResourceStore interface {
	CreateEvent(ctx context.Context, ev *event.Event) error
	FindEvent(ctx context.Context, id uuid.UUID) (*event.Event, error)
	UpdateEvent(ctx context.Context, id uuid.UUID, mutate EventMutation, opts ...UpdateOption) (*event.Event, error)
	// ListStaleLeases returns leases stamped at or before cutoff.
	ListStaleLeases(ctx context.Context, cutoff time.Time, limit int) ([]event.LeaseSnapshot, error)
	ClaimVoucher(ctx context.Context, req ClaimRequest) (*ClaimResult, error)
	FindVoucher(ctx context.Context, code string) (*voucher.Voucher, error)
	CountVouchers(ctx context.Context, eventID uuid.UUID) (int, error)
	// FindLeaseRecord reads the standalone lease index; nil when absent.
	FindLeaseRecord(ctx context.Context, eventID uuid.UUID) (*LeaseRecord, error)
}

// LeaseRecord is the side index row kept by the indexed lease strategy.
type LeaseRecord struct {
	EventID     uuid.UUID
	HolderID    uuid.UUID
	RefreshedAt time.Time
}
