package event

import (
	"strings"
	"time"

	"event-voucher/internal/pkg/errs"

	"github.com/google/uuid"
)

const maxNameLength = 200

var (
	ErrInvalidName      = errs.New("event name must be 1-200 characters")
	ErrInvalidInventory = errs.New("voucher counts must satisfy 0 <= issued <= max")
)

// Event is both the lease-bearing resource and its voucher ledger.
// issuedVouchers counts the units still claimable.
type Event struct {
	id             uuid.UUID
	name           string
	maxVouchers    int
	issuedVouchers int
	editingBy      *uuid.UUID
	lastEditedAt   *time.Time
	version        int64
	createdAt      time.Time
	updatedAt      time.Time
}

// New creates an event; initialIssued defaults to maxVouchers.
func New(name string, maxVouchers int, initialIssued *int, now time.Time) (*Event, error) {
	name = strings.TrimSpace(name)
	if name == "" || len([]rune(name)) > maxNameLength {
		return nil, ErrInvalidName
	}

	issued := maxVouchers
	if initialIssued != nil {
		issued = *initialIssued
	}
	if maxVouchers < 0 || issued < 0 || issued > maxVouchers {
		return nil, ErrInvalidInventory
	}

	return &Event{
		id:             uuid.New(),
		name:           name,
		maxVouchers:    maxVouchers,
		issuedVouchers: issued,
		version:        1,
		createdAt:      now,
		updatedAt:      now,
	}, nil
}

// Reconstruct rebuilds an event from persisted state.
func Reconstruct(
	id uuid.UUID,
	name string,
	maxVouchers, issuedVouchers int,
	editingBy *uuid.UUID,
	lastEditedAt *time.Time,
	version int64,
	createdAt, updatedAt time.Time,
) *Event {
	return &Event{
		id:             id,
		name:           name,
		maxVouchers:    maxVouchers,
		issuedVouchers: issuedVouchers,
		editingBy:      editingBy,
		lastEditedAt:   lastEditedAt,
		version:        version,
		createdAt:      createdAt,
		updatedAt:      updatedAt,
	}
}

func (e *Event) ID() uuid.UUID            { return e.id }
func (e *Event) Name() string             { return e.name }
func (e *Event) MaxVouchers() int         { return e.maxVouchers }
func (e *Event) IssuedVouchers() int      { return e.issuedVouchers }
func (e *Event) EditingBy() *uuid.UUID    { return e.editingBy }
func (e *Event) LastEditedAt() *time.Time { return e.lastEditedAt }
func (e *Event) Version() int64           { return e.version }
func (e *Event) CreatedAt() time.Time     { return e.createdAt }
func (e *Event) UpdatedAt() time.Time     { return e.updatedAt }

// ClaimedVouchers is the number of units already converted into vouchers.
func (e *Event) ClaimedVouchers() int { return e.maxVouchers - e.issuedVouchers }

// Touch records a successful write. Stores call it once per committed mutation.
func (e *Event) Touch(now time.Time) {
	e.version++
	e.updatedAt = now
}

// Clone returns a copy that shares no pointers with e.
func (e *Event) Clone() *Event {
	c := *e
	if e.editingBy != nil {
		h := *e.editingBy
		c.editingBy = &h
	}
	if e.lastEditedAt != nil {
		t := *e.lastEditedAt
		c.lastEditedAt = &t
	}
	return &c
}
