package request

import (
	"strings"

	"event-voucher/internal/usecase/commands"
)

type CreateEventRequest struct {
	Name           string `json:"name" binding:"required"`
	MaxVouchers    *int   `json:"maxVouchers" binding:"required"`
	IssuedVouchers *int   `json:"issuedVouchers,omitempty"`
}

func (r CreateEventRequest) ToInput() commands.CreateEventInput {
	in := commands.CreateEventInput{
		Name:           strings.TrimSpace(r.Name),
		IssuedVouchers: r.IssuedVouchers,
	}
	if r.MaxVouchers != nil {
		in.MaxVouchers = *r.MaxVouchers
	}
	return in
}
