//go:build unit || e2e

package dbtest

import (
	"context"
	"testing"
	"time"

	"event-voucher/internal/domain/event"
	"event-voucher/internal/pkg/pgconv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
)

// Conn is satisfied by *pgxpool.Pool and pgx.Tx.
type Conn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const truncateSQL = `TRUNCATE notification_jobs, vouchers, event_leases, events RESTART IDENTITY CASCADE`

// InsertEvent writes ev as-is, bypassing the store's invariants.
func InsertEvent(t *testing.T, db Conn, ev *event.Event) uuid.UUID {
	t.Helper()

	_, err := db.Exec(context.Background(), `
		INSERT INTO events (id, name, max_vouchers, issued_vouchers, editing_by, last_edited_at, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		ev.ID(), ev.Name(), ev.MaxVouchers(), ev.IssuedVouchers(), pgconv.UUIDPtrToPgtype(ev.EditingBy()), pgconv.TimePtrToPgtype(ev.LastEditedAt()),
		ev.Version(), ev.CreatedAt(), ev.UpdatedAt())
	require.NoError(t, err)
	return ev.ID()
}

func CountRows(t *testing.T, db Conn, table string) int {
	t.Helper()

	var n int
	err := db.QueryRow(context.Background(), "SELECT count(*) FROM "+table).Scan(&n)
	require.NoError(t, err)
	return n
}

// truncates every table the service writes
func ResetDB(pool *pgxpool.Pool) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := pool.Exec(ctx, truncateSQL)
	return err
}
