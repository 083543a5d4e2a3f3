package response

import (
	"time"

	"event-voucher/internal/usecase/commands"
	"event-voucher/internal/usecase/queries"

	"github.com/google/uuid"
	"github.com/jinzhu/copier"
)

type ClaimResponse struct {
	VoucherID          uuid.UUID  `json:"voucherId"`
	Code               string     `json:"code"`
	EventID            uuid.UUID  `json:"eventId"`
	Recipient          string     `json:"recipient"`
	IssuedAt           time.Time  `json:"issuedAt"`
	RemainingVouchers  int        `json:"remainingVouchers"`
	NotificationID     *uuid.UUID `json:"notificationId,omitempty"`
	NotificationStatus string     `json:"notificationStatus"`
}

type VoucherResponse struct {
	ID        uuid.UUID `json:"id"`
	Code      string    `json:"code"`
	EventID   uuid.UUID `json:"eventId"`
	Recipient string    `json:"recipient"`
	IssuedAt  time.Time `json:"issuedAt"`
}

func FromClaimReceipt(r *commands.ClaimReceipt) (*ClaimResponse, error) {
	var out ClaimResponse
	if err := copier.Copy(&out, r); err != nil {
		return nil, err
	}
	return &out, nil
}

func FromVoucherView(v *queries.VoucherView) (*VoucherResponse, error) {
	var out VoucherResponse
	if err := copier.Copy(&out, v); err != nil {
		return nil, err
	}
	return &out, nil
}
