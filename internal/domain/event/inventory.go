package event

import "event-voucher/internal/pkg/errs"

var ErrSoldOut = errs.New("no vouchers left for this event")

// TakeUnit debits one claimable unit.
func (e *Event) TakeUnit() error {
	if e.issuedVouchers <= 0 {
		return ErrSoldOut
	}
	e.issuedVouchers--
	return nil
}
