package event

import (
	"time"

	"event-voucher/internal/pkg/errs"

	"github.com/google/uuid"
)

var (
	ErrLeaseHeld      = errs.New("event is being edited by another holder")
	ErrNotLeaseHolder = errs.New("caller does not hold the edit lease")
)

type RenewOutcome string

const (
	RenewRefreshed RenewOutcome = "refreshed"
	// a foreign lease had lapsed and was cleared; the caller was not granted it
	RenewReclaimed RenewOutcome = "reclaimed"
	RenewUntouched RenewOutcome = "untouched"
)

// LeaseSnapshot is the lease state observed by a scan.
type LeaseSnapshot struct {
	EventID      uuid.UUID
	EditingBy    uuid.UUID
	LastEditedAt time.Time
}

func (e *Event) IsLeased() bool {
	return e.editingBy != nil
}

func (e *Event) IsHeldBy(holder uuid.UUID) bool {
	return e.editingBy != nil && *e.editingBy == holder
}

// LeaseExpiresAt is nil when no lease timestamp is recorded.
func (e *Event) LeaseExpiresAt(ttl time.Duration) *time.Time {
	if e.lastEditedAt == nil {
		return nil
	}
	t := e.lastEditedAt.Add(ttl)
	return &t
}

// LeaseExpired reports whether the recorded lease no longer protects the event.
// A lease stamped at t is live for now in [t, t+ttl).
func (e *Event) LeaseExpired(now time.Time, ttl time.Duration) bool {
	if e.lastEditedAt == nil {
		return true
	}
	return !now.Before(e.lastEditedAt.Add(ttl))
}

func (e *Event) Acquire(holder uuid.UUID, now time.Time, ttl time.Duration) error {
	if e.editingBy != nil && *e.editingBy != holder && !e.LeaseExpired(now, ttl) {
		return ErrLeaseHeld
	}
	e.setLease(holder, now)
	return nil
}

func (e *Event) Renew(holder uuid.UUID, now time.Time, ttl time.Duration) (RenewOutcome, error) {
	switch {
	case e.editingBy == nil:
		return RenewUntouched, nil
	case *e.editingBy == holder:
		e.setLease(holder, now)
		return RenewRefreshed, nil
	case e.LeaseExpired(now, ttl):
		e.editingBy = nil
		return RenewReclaimed, nil
	default:
		return "", ErrLeaseHeld
	}
}

func (e *Event) Release(holder uuid.UUID) error {
	if !e.IsHeldBy(holder) {
		return ErrNotLeaseHolder
	}
	e.clearLease()
	return nil
}

// ReclaimIfStale clears the lease only if it is still exactly the one observed
// and it was stamped at or before cutoff.
func (e *Event) ReclaimIfStale(observed LeaseSnapshot, cutoff time.Time) bool {
	if e.editingBy == nil || e.lastEditedAt == nil {
		return false
	}
	if *e.editingBy != observed.EditingBy || !e.lastEditedAt.Equal(observed.LastEditedAt) {
		return false
	}
	if e.lastEditedAt.After(cutoff) {
		return false
	}
	e.clearLease()
	return true
}

// Snapshot returns the current lease, or false when none is held.
func (e *Event) Snapshot() (LeaseSnapshot, bool) {
	if e.editingBy == nil || e.lastEditedAt == nil {
		return LeaseSnapshot{}, false
	}
	return LeaseSnapshot{EventID: e.id, EditingBy: *e.editingBy, LastEditedAt: *e.lastEditedAt}, true
}

func (e *Event) setLease(holder uuid.UUID, now time.Time) {
	h := holder
	t := now
	e.editingBy = &h
	e.lastEditedAt = &t
}

func (e *Event) clearLease() {
	e.editingBy = nil
	e.lastEditedAt = nil
}
