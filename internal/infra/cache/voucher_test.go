//go:build unit

package cache_test

import (
	"context"
	"testing"
	"time"

	"event-voucher/internal/infra/cache"
	"event-voucher/internal/pkg/config"
	"event-voucher/internal/usecase/queries"
	queriesmock "event-voucher/tests/mock/queries"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func newCache(t *testing.T, next queries.VoucherQueries) *cache.VoucherQueries {
	t.Helper()
	c, err := cache.NewVoucherQueries(next, config.CacheConfig{VoucherTTL: time.Minute, VoucherEntries: 100})
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func TestVoucherQueries_CachesHits(t *testing.T) {
	ctrl := gomock.NewController(t)
	next := queriesmock.NewMockVoucherQueries(ctrl)
	view := &queries.VoucherView{
		ID:        uuid.New(),
		Code:      "ABCD-EFGH-JKLM-NPQR",
		EventID:   uuid.New(),
		Recipient: "guest@example.com",
		IssuedAt:  time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
	next.EXPECT().GetByCode(gomock.Any(), "ABCD-EFGH-JKLM-NPQR").Return(view, nil).Times(1)

	c := newCache(t, next)
	got, err := c.GetByCode(context.Background(), "ABCD-EFGH-JKLM-NPQR")
	require.NoError(t, err)
	assert.Equal(t, view, got)
	c.Wait()

	got, err = c.GetByCode(context.Background(), "abcd-efgh-jklm-npqr")
	require.NoError(t, err)
	assert.Equal(t, view, got)
}

func TestVoucherQueries_DoesNotCacheMisses(t *testing.T) {
	ctrl := gomock.NewController(t)
	next := queriesmock.NewMockVoucherQueries(ctrl)
	next.EXPECT().GetByCode(gomock.Any(), "ABCD-EFGH-JKLM-NPQR").Return(nil, queries.ErrVoucherNotFound).Times(2)

	c := newCache(t, next)
	for range 2 {
		_, err := c.GetByCode(context.Background(), "ABCD-EFGH-JKLM-NPQR")
		require.ErrorIs(t, err, queries.ErrVoucherNotFound)
		c.Wait()
	}
}
