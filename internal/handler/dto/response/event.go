package response

import (
	"time"

	"event-voucher/internal/usecase/commands"
	"event-voucher/internal/usecase/queries"

	"github.com/google/uuid"
	"github.com/jinzhu/copier"
)

type CreateEventResponse struct {
	EventID uuid.UUID `json:"eventId"`
}

type EventResponse struct {
	ID              uuid.UUID  `json:"id"`
	Name            string     `json:"name"`
	MaxVouchers     int        `json:"maxVouchers"`
	IssuedVouchers  int        `json:"issuedVouchers"`
	ClaimedVouchers int        `json:"claimedVouchers"`
	EditingBy       *uuid.UUID `json:"editingBy"`
	LastEditedAt    *time.Time `json:"lastEditedAt"`
	LeaseExpiresAt  *time.Time `json:"leaseExpiresAt"`
	LeaseActive     bool       `json:"leaseActive"`
	Version         int64      `json:"version"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

type LeaseResponse struct {
	EventID      uuid.UUID  `json:"eventId"`
	EditingBy    *uuid.UUID `json:"editingBy"`
	LastEditedAt *time.Time `json:"lastEditedAt"`
	ExpiresAt    *time.Time `json:"expiresAt"`
	Outcome      string     `json:"outcome"`
}

func FromEventView(v *queries.EventView) (*EventResponse, error) {
	var out EventResponse
	if err := copier.Copy(&out, v); err != nil {
		return nil, err
	}
	return &out, nil
}

func FromLeaseResult(r *commands.LeaseResult) (*LeaseResponse, error) {
	var out LeaseResponse
	if err := copier.Copy(&out, r); err != nil {
		return nil, err
	}
	return &out, nil
}
