package pgstore

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"event-voucher/internal/domain/event"
	"event-voucher/internal/domain/voucher"
	"event-voucher/internal/infra"
	"event-voucher/internal/pkg/clock"
	"event-voucher/internal/pkg/errs"
	"event-voucher/internal/pkg/pgconv"
	"event-voucher/internal/usecase/shared"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const constraintLeaseHolderUnique = "event_leases_holder_unique"

// Store is the transactional AtomicResourceStore: each operation runs in one
// Postgres transaction that locks the event row before deciding anything.
type Store struct {
	pool       *pgxpool.Pool
	clock      clock.Clock
	logger     *slog.Logger
	maxRetries int
	retryBase  time.Duration
}

var _ shared.AtomicResourceStore = (*Store)(nil)

func NewStore(pool *pgxpool.Pool, clk clock.Clock, logger *slog.Logger) *Store {
	return &Store{
		pool:       pool,
		clock:      clk,
		logger:     slogOrDefault(logger),
		maxRetries: 3,
		retryBase:  100 * time.Millisecond,
	}
}

func (s *Store) CreateEvent(ctx context.Context, ev *event.Event) error {
	if _, err := s.pool.Exec(ctx, insertEventSQL, eventArgs(ev)...); err != nil {
		if isUniqueViolation(err, "") {
			return infra.WrapRepoErr(s.logger, infra.KindDuplicateKey, "event already exists", err)
		}
		return infra.WrapRepoErr(s.logger, infra.KindDBFailure, "failed to insert event", err)
	}
	return nil
}

func (s *Store) FindEvent(ctx context.Context, id uuid.UUID) (*event.Event, error) {
	ev, err := scanEvent(s.pool.QueryRow(ctx, selectEventSQL, id))
	if err != nil {
		return nil, s.eventReadErr(err)
	}
	return ev, nil
}

func (s *Store) UpdateEvent(ctx context.Context, id uuid.UUID, mutate shared.EventMutation, opts ...shared.UpdateOption) (*event.Event, error) {
	o := shared.ApplyUpdateOptions(opts)

	var out *event.Event
	err := s.within(ctx, func(ctx context.Context, tx pgx.Tx) error {
		ev, err := s.lockEvent(ctx, tx, id)
		if err != nil {
			return err
		}
		before := ev.Clone()

		if err := mutate(ev); err != nil {
			if errs.Is(err, shared.ErrSkipWrite) {
				out = before
				return nil
			}
			return err
		}

		ev.Touch(s.clock.Now())
		if _, err := tx.Exec(ctx, updateEventLeaseSQL,
			ev.ID(), pgconv.UUIDPtrToPgtype(ev.EditingBy()), pgconv.TimePtrToPgtype(ev.LastEditedAt()), ev.Version(), ev.UpdatedAt(),
		); err != nil {
			return infra.WrapRepoErr(s.logger, infra.KindDBFailure, "failed to update event lease", err)
		}

		if o.SyncLeaseRecord {
			if err := s.syncLeaseRecord(ctx, tx, before, ev, o); err != nil {
				return err
			}
		}
		out = ev
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) ListStaleLeases(ctx context.Context, cutoff time.Time, limit int) ([]event.LeaseSnapshot, error) {
	rows, err := s.pool.Query(ctx, selectStaleLeasesSQL, cutoff, limit)
	if err != nil {
		return nil, infra.WrapRepoErr(s.logger, infra.KindDBFailure, "failed to list stale leases", err)
	}
	defer rows.Close()

	var out []event.LeaseSnapshot
	for rows.Next() {
		var snap event.LeaseSnapshot
		if err := rows.Scan(&snap.EventID, &snap.EditingBy, &snap.LastEditedAt); err != nil {
			return nil, infra.WrapRepoErr(s.logger, infra.KindDBFailure, "failed to scan stale lease", err)
		}
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, infra.WrapRepoErr(s.logger, infra.KindDBFailure, "failed to iterate stale leases", err)
	}
	return out, nil
}

// ClaimVoucher debits the ledger, inserts the voucher and, for gated claims,
// the notification job, all in one transaction.
func (s *Store) ClaimVoucher(ctx context.Context, req shared.ClaimRequest) (*shared.ClaimResult, error) {
	var result *shared.ClaimResult
	err := s.within(ctx, func(ctx context.Context, tx pgx.Tx) error {
		ev, err := s.lockEvent(ctx, tx, req.EventID)
		if err != nil {
			return err
		}
		if err := ev.TakeUnit(); err != nil {
			return err
		}
		ev.Touch(req.Now)
		if _, err := tx.Exec(ctx, updateEventLedgerSQL, ev.ID(), ev.IssuedVouchers(), ev.Version(), ev.UpdatedAt()); err != nil {
			return infra.WrapRepoErr(s.logger, infra.KindDBFailure, "failed to debit voucher ledger", err)
		}

		v, err := s.insertVoucher(ctx, tx, ev, req.Mint)
		if err != nil {
			return err
		}
		result = &shared.ClaimResult{Event: ev, Voucher: v}

		if req.Job == nil {
			return nil
		}
		job, err := req.Job(ev, v)
		if err != nil {
			return errs.Mark(err, shared.ErrJobRejected)
		}
		if err := insertJob(ctx, tx, job); err != nil {
			return errs.Mark(infra.WrapRepoErr(s.logger, infra.KindDBFailure, "failed to enqueue notification job", err), shared.ErrJobRejected)
		}
		result.Job = job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) FindVoucher(ctx context.Context, code string) (*voucher.Voucher, error) {
	v, err := scanVoucher(s.pool.QueryRow(ctx, selectVoucherByCodeSQL, code))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, infra.WrapRepoErr(s.logger, infra.KindNotFound, "voucher not found", err)
		}
		return nil, infra.WrapRepoErr(s.logger, infra.KindDBFailure, "failed to load voucher", err)
	}
	return v, nil
}

func (s *Store) CountVouchers(ctx context.Context, eventID uuid.UUID) (int, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, countVouchersSQL, eventID).Scan(&n); err != nil {
		return 0, infra.WrapRepoErr(s.logger, infra.KindDBFailure, "failed to count vouchers", err)
	}
	return int(n), nil
}

func (s *Store) FindLeaseRecord(ctx context.Context, eventID uuid.UUID) (*shared.LeaseRecord, error) {
	var rec shared.LeaseRecord
	err := s.pool.QueryRow(ctx, selectLeaseSQL, eventID).Scan(&rec.EventID, &rec.HolderID, &rec.RefreshedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, infra.WrapRepoErr(s.logger, infra.KindDBFailure, "failed to load lease record", err)
	}
	return &rec, nil
}

func (s *Store) lockEvent(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*event.Event, error) {
	ev, err := scanEvent(tx.QueryRow(ctx, selectEventForUpdateSQL, id))
	if err != nil {
		return nil, s.eventReadErr(err)
	}
	return ev, nil
}

func (s *Store) eventReadErr(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return infra.WrapRepoErr(s.logger, infra.KindNotFound, "event not found", err)
	}
	return infra.WrapRepoErr(s.logger, infra.KindDBFailure, "failed to load event", err)
}

func (s *Store) insertVoucher(ctx context.Context, tx pgx.Tx, ev *event.Event, mint func(*event.Event) (*voucher.Voucher, error)) (*voucher.Voucher, error) {
	for attempt := 0; attempt < shared.MaxCodeAttempts; attempt++ {
		v, err := mint(ev)
		if err != nil {
			return nil, err
		}
		tag, err := tx.Exec(ctx, insertVoucherSQL, v.ID(), v.Code(), v.EventID(), v.Recipient(), v.IssuedAt())
		if err != nil {
			return nil, infra.WrapRepoErr(s.logger, infra.KindDBFailure, "failed to insert voucher", err)
		}
		if tag.RowsAffected() == 1 {
			return v, nil
		}
		s.logger.Warn("voucher code collision, minting again", "event_id", ev.ID(), "attempt", attempt+1)
	}
	return nil, shared.ErrCodeSpaceExhausted
}

// syncLeaseRecord mirrors the event's lease into event_leases. The unique
// holder constraint rejects a holder that is indexed against another live lease.
func (s *Store) syncLeaseRecord(ctx context.Context, tx pgx.Tx, before, after *event.Event, o shared.UpdateOptions) error {
	snap, held := after.Snapshot()
	if !held {
		if _, err := tx.Exec(ctx, deleteLeaseByEventSQL, after.ID()); err != nil {
			return infra.WrapRepoErr(s.logger, infra.KindDBFailure, "failed to drop lease record", err)
		}
		return nil
	}

	if before.IsHeldBy(snap.EditingBy) {
		tag, err := tx.Exec(ctx, refreshLeaseSQL, snap.EventID, snap.EditingBy, snap.LastEditedAt)
		if err != nil {
			return infra.WrapRepoErr(s.logger, infra.KindDBFailure, "failed to refresh lease record", err)
		}
		if tag.RowsAffected() == 1 {
			return nil
		}
	}

	if _, err := tx.Exec(ctx, deleteLeaseByEventSQL, snap.EventID); err != nil {
		return infra.WrapRepoErr(s.logger, infra.KindDBFailure, "failed to replace lease record", err)
	}
	if _, err := tx.Exec(ctx, deleteStaleLeaseByHolderSQL, snap.EditingBy, snap.EventID, o.Now.Add(-o.LeaseTTL)); err != nil {
		return infra.WrapRepoErr(s.logger, infra.KindDBFailure, "failed to drop stale holder lease", err)
	}
	if _, err := tx.Exec(ctx, insertLeaseSQL, snap.EventID, snap.EditingBy, snap.LastEditedAt); err != nil {
		if isUniqueViolation(err, constraintLeaseHolderUnique) {
			return errs.Mark(infra.WrapRepoErr(s.logger, infra.KindDuplicateKey, "holder already indexed", err), shared.ErrHolderIndexed)
		}
		return infra.WrapRepoErr(s.logger, infra.KindDBFailure, "failed to insert lease record", err)
	}
	return nil
}
