package queries

import (
	"context"
	"time"

	"event-voucher/internal/domain/voucher"
	"event-voucher/internal/infra"
	"event-voucher/internal/pkg/errs"
	"event-voucher/internal/usecase/shared"

	"github.com/google/uuid"
)

var (
	ErrVoucherNotFound = errs.Sentinel("voucher not found", errs.ErrNotFound)
	ErrInvalidCode     = errs.Sentinel("malformed voucher code", errs.ErrBadRequest)
)

type VoucherView struct {
	ID        uuid.UUID `json:"id"`
	Code      string    `json:"code"`
	EventID   uuid.UUID `json:"event_id"`
	Recipient string    `json:"recipient"`
	IssuedAt  time.Time `json:"issued_at"`
}

//go:generate mockgen -source=voucher.go -destination=../../../tests/mock/queries/voucher.go -package=queriesmock

type VoucherQueries interface {
	GetByCode(ctx context.Context, code string) (*VoucherView, error)
}

type voucherQueriesImpl struct {
	store shared.AtomicResourceStore
}

func NewVoucherQueries(store shared.AtomicResourceStore) VoucherQueries {
	return &voucherQueriesImpl{store: store}
}

func (q *voucherQueriesImpl) GetByCode(ctx context.Context, code string) (*VoucherView, error) {
	code = voucher.NormalizeCode(code)
	if err := voucher.ValidateCode(code); err != nil {
		return nil, errs.WithCause(ErrInvalidCode, err)
	}
	v, err := q.store.FindVoucher(ctx, code)
	if err != nil {
		if infra.IsKind(err, infra.KindNotFound) {
			return nil, errs.WithCause(ErrVoucherNotFound, err)
		}
		return nil, errs.WithCause(ErrReadFailure, err)
	}
	return &VoucherView{
		ID:        v.ID(),
		Code:      v.Code(),
		EventID:   v.EventID(),
		Recipient: v.Recipient(),
		IssuedAt:  v.IssuedAt(),
	}, nil
}
