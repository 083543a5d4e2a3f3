//go:build unit || e2e

package builder

import (
	"time"

	"event-voucher/internal/domain/event"

	"github.com/google/uuid"
)

type EventBuilder struct {
	ID             uuid.UUID
	Name           string
	MaxVouchers    int
	IssuedVouchers *int
	EditingBy      *uuid.UUID
	LastEditedAt   *time.Time
	Version        int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func NewEventBuilder() *EventBuilder {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	return &EventBuilder{
		ID:          uuid.New(),
		Name:        "Spring Meetup",
		MaxVouchers: 10,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func (b *EventBuilder) WithName(name string) *EventBuilder {
	b.Name = name
	return b
}

func (b *EventBuilder) WithMaxVouchers(n int) *EventBuilder {
	b.MaxVouchers = n
	return b
}

func (b *EventBuilder) WithIssuedVouchers(n int) *EventBuilder {
	b.IssuedVouchers = &n
	return b
}

func (b *EventBuilder) WithLease(holder uuid.UUID, at time.Time) *EventBuilder {
	b.EditingBy = &holder
	b.LastEditedAt = &at
	return b
}

// BuildDomain goes through event.New and therefore validates.
func (b *EventBuilder) BuildDomain() (*event.Event, error) {
	return event.New(b.Name, b.MaxVouchers, b.IssuedVouchers, b.CreatedAt)
}

// BuildStored reconstructs an event as a store would return it, lease included.
func (b *EventBuilder) BuildStored() *event.Event {
	issued := b.MaxVouchers
	if b.IssuedVouchers != nil {
		issued = *b.IssuedVouchers
	}
	return event.Reconstruct(b.ID, b.Name, b.MaxVouchers, issued, b.EditingBy, b.LastEditedAt, b.Version, b.CreatedAt, b.UpdatedAt)
}
