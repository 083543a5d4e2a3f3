package cache

import (
	"context"
	"time"

	"event-voucher/internal/domain/voucher"
	"event-voucher/internal/pkg/config"
	"event-voucher/internal/pkg/errs"
	"event-voucher/internal/usecase/queries"

	"github.com/dgraph-io/ristretto"
)

// VoucherQueries is a read-through cache in front of another VoucherQueries.
// Only hits are cached; a voucher that does not exist yet may be issued later.
type VoucherQueries struct {
	next queries.VoucherQueries
	c    *ristretto.Cache
	ttl  time.Duration
}

var _ queries.VoucherQueries = (*VoucherQueries)(nil)

func NewVoucherQueries(next queries.VoucherQueries, cfg config.CacheConfig) (*VoucherQueries, error) {
	entries := cfg.VoucherEntries
	if entries <= 0 {
		entries = 10_000
	}
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters:        entries * 10,
		MaxCost:            entries,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, errs.Wrap(err, "failed to build voucher cache")
	}
	return &VoucherQueries{next: next, c: c, ttl: cfg.VoucherTTL}, nil
}

func (q *VoucherQueries) GetByCode(ctx context.Context, code string) (*queries.VoucherView, error) {
	key := voucher.NormalizeCode(code)
	if v, ok := q.c.Get(key); ok {
		if view, ok := v.(queries.VoucherView); ok {
			return &view, nil
		}
	}

	view, err := q.next.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	q.c.SetWithTTL(key, *view, 1, q.ttl)
	return view, nil
}

// Wait blocks until buffered writes are visible to Get.
func (q *VoucherQueries) Wait() {
	q.c.Wait()
}

func (q *VoucherQueries) Close() {
	q.c.Close()
}
