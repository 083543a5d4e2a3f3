package commands

import (
	"event-voucher/internal/domain/event"
	"event-voucher/internal/domain/voucher"
	"event-voucher/internal/infra"
	"event-voucher/internal/pkg/errs"
	"event-voucher/internal/usecase/shared"

	"github.com/google/uuid"
)

var (
	ErrInvalidID            = errs.Sentinel("id must be a UUID", errs.ErrBadRequest)
	ErrInvalidInput         = errs.Sentinel("invalid input", errs.ErrBadRequest)
	ErrEventNotFound        = errs.Sentinel("event does not exist", errs.ErrNotFound)
	ErrEventExists          = errs.Sentinel("event id already taken", errs.ErrConflict)
	ErrLeaseHeld            = errs.Sentinel("event is locked by another editor", errs.ErrConflict)
	ErrNotLeaseHolder       = errs.Sentinel("event is not locked by caller", errs.ErrConflict)
	ErrHolderBusy           = errs.Sentinel("holder already edits another event", errs.ErrConflict)
	ErrVouchersExhausted    = errs.Sentinel("vouchers exhausted", errs.ErrConflict)
	ErrContended            = errs.Sentinel("event is busy, try again later", errs.ErrConflict)
	ErrNotificationRejected = errs.Sentinel("notification could not be queued", errs.ErrInternal)
	ErrStoreFailure         = errs.Sentinel("store failure", errs.ErrInternal)
)

// translate maps store and domain errors onto the sentinels above, keeping
// the original as cause.
func translate(err error) error {
	var out error
	switch {
	case err == nil:
		return nil
	case errs.Is(err, event.ErrLeaseHeld):
		out = ErrLeaseHeld
	case errs.Is(err, event.ErrNotLeaseHolder):
		out = ErrNotLeaseHolder
	case errs.Is(err, event.ErrSoldOut):
		out = ErrVouchersExhausted
	case errs.Is(err, shared.ErrHolderIndexed):
		out = ErrHolderBusy
	case errs.Is(err, shared.ErrJobRejected):
		out = ErrNotificationRejected
	case errs.Is(err, event.ErrInvalidName),
		errs.Is(err, event.ErrInvalidInventory),
		errs.Is(err, voucher.ErrInvalidRecipient):
		out = ErrInvalidInput
	case infra.IsKind(err, infra.KindNotFound):
		out = ErrEventNotFound
	case infra.IsKind(err, infra.KindDuplicateKey):
		out = ErrEventExists
	case infra.IsKind(err, infra.KindConflict):
		out = ErrContended
	default:
		out = ErrStoreFailure
	}
	return errs.WithCause(out, err)
}

func parseID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, errs.WithCause(ErrInvalidID, err)
	}
	return id, nil
}
