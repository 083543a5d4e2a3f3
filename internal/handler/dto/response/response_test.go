//go:build unit

package response

import (
	"testing"
	"time"

	"event-voucher/internal/usecase/commands"
	"event-voucher/internal/usecase/queries"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestFromEventView(t *testing.T) {
	holder := uuid.New()
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	exp := at.Add(5 * time.Minute)
	view := &queries.EventView{
		ID:              uuid.New(),
		Name:            "Spring Meetup",
		MaxVouchers:     10,
		IssuedVouchers:  7,
		ClaimedVouchers: 3,
		EditingBy:       &holder,
		LastEditedAt:    &at,
		LeaseExpiresAt:  &exp,
		LeaseActive:     true,
		Version:         4,
		CreatedAt:       at,
		UpdatedAt:       at,
	}

	got, err := FromEventView(view)
	require.NoError(t, err)

	want := &EventResponse{
		ID:              view.ID,
		Name:            "Spring Meetup",
		MaxVouchers:     10,
		IssuedVouchers:  7,
		ClaimedVouchers: 3,
		EditingBy:       &holder,
		LastEditedAt:    &at,
		LeaseExpiresAt:  &exp,
		LeaseActive:     true,
		Version:         4,
		CreatedAt:       at,
		UpdatedAt:       at,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("FromEventView() mismatch (-want +got):\n%s", diff)
	}
}

func TestFromClaimReceipt(t *testing.T) {
	jobID := uuid.New()
	receipt := &commands.ClaimReceipt{
		VoucherID:          uuid.New(),
		Code:               "ABCD-EFGH-JKLM-NPQR",
		EventID:            uuid.New(),
		Recipient:          "guest@example.com",
		IssuedAt:           time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		RemainingVouchers:  2,
		NotificationID:     &jobID,
		NotificationStatus: commands.NotificationQueued,
	}

	got, err := FromClaimReceipt(receipt)
	require.NoError(t, err)

	want := &ClaimResponse{
		VoucherID:          receipt.VoucherID,
		Code:               receipt.Code,
		EventID:            receipt.EventID,
		Recipient:          receipt.Recipient,
		IssuedAt:           receipt.IssuedAt,
		RemainingVouchers:  2,
		NotificationID:     &jobID,
		NotificationStatus: commands.NotificationQueued,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("FromClaimReceipt() mismatch (-want +got):\n%s", diff)
	}
}
