package pgstore

import (
	"encoding/json"
	"time"

	"event-voucher/internal/domain/event"
	"event-voucher/internal/domain/notification"
	"event-voucher/internal/domain/voucher"
	"event-voucher/internal/pkg/errs"
	"event-voucher/internal/pkg/pgconv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const eventColumns = `id, name, max_vouchers, issued_vouchers, editing_by, last_edited_at, version, created_at, updated_at`

const (
	insertEventSQL = `
INSERT INTO events (` + eventColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	selectEventSQL = `SELECT ` + eventColumns + ` FROM events WHERE id = $1`

	selectEventForUpdateSQL = selectEventSQL + ` FOR UPDATE`

	updateEventLeaseSQL = `
UPDATE events
SET editing_by = $2, last_edited_at = $3, version = $4, updated_at = $5
WHERE id = $1`

	updateEventLedgerSQL = `
UPDATE events
SET issued_vouchers = $2, version = $3, updated_at = $4
WHERE id = $1`

	selectStaleLeasesSQL = `
SELECT id, editing_by, last_edited_at
FROM events
WHERE editing_by IS NOT NULL AND last_edited_at <= $1
ORDER BY last_edited_at
LIMIT $2`
)

const (
	deleteLeaseByEventSQL = `DELETE FROM event_leases WHERE event_id = $1`

	deleteStaleLeaseByHolderSQL = `
DELETE FROM event_leases
WHERE holder_id = $1 AND event_id <> $2 AND refreshed_at <= $3`

	insertLeaseSQL = `
INSERT INTO event_leases (event_id, holder_id, refreshed_at)
VALUES ($1, $2, $3)`

	refreshLeaseSQL = `
UPDATE event_leases SET refreshed_at = $3
WHERE event_id = $1 AND holder_id = $2`

	selectLeaseSQL = `SELECT event_id, holder_id, refreshed_at FROM event_leases WHERE event_id = $1`
)

const (
	insertVoucherSQL = `
INSERT INTO vouchers (id, code, event_id, recipient, issued_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (code) DO NOTHING`

	selectVoucherByCodeSQL = `SELECT id, code, event_id, recipient, issued_at FROM vouchers WHERE code = $1`

	countVouchersSQL = `SELECT count(*) FROM vouchers WHERE event_id = $1`
)

const jobColumns = `id, kind, recipient, payload, attempts, max_attempts, backoff_ms, timeout_ms,
next_attempt_at, status, last_error, claimed_by, created_at, updated_at`

const (
	insertJobSQL = `
INSERT INTO notification_jobs (` + jobColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	claimJobsSQL = `
UPDATE notification_jobs j
SET status = 'in_flight',
    attempts = j.attempts + 1,
    claimed_by = $1,
    claimed_until = $2::timestamptz + (j.timeout_ms * 2) * interval '1 millisecond',
    updated_at = $2
WHERE j.id IN (
    SELECT id FROM notification_jobs
    WHERE status = 'pending' AND next_attempt_at <= $2
    ORDER BY next_attempt_at
    LIMIT $3
    FOR UPDATE SKIP LOCKED
)
RETURNING ` + jobColumns

	settleJobSQL = `
UPDATE notification_jobs
SET status = $3, next_attempt_at = $4, last_error = $5,
    claimed_by = NULL, claimed_until = NULL, updated_at = $6
WHERE id = $1 AND status = 'in_flight' AND claimed_by = $2`

	touchJobSQL = `
UPDATE notification_jobs
SET claimed_until = $3
WHERE id = $1 AND status = 'in_flight' AND claimed_by = $2`

	requeueExpiredJobsSQL = `
UPDATE notification_jobs
SET status = CASE WHEN attempts >= max_attempts THEN 'failed_exhausted' ELSE 'pending' END,
    next_attempt_at = $1,
    last_error = $2,
    claimed_by = NULL,
    claimed_until = NULL,
    updated_at = $1
WHERE status = 'in_flight' AND claimed_until <= $1`

	jobStatsSQL = `SELECT status, count(*) FROM notification_jobs GROUP BY status`

	selectJobSQL = `SELECT ` + jobColumns + ` FROM notification_jobs WHERE id = $1`
)

func scanEvent(row pgx.Row) (*event.Event, error) {
	var (
		id           uuid.UUID
		name         string
		maxVouchers  int32
		issued       int32
		editingBy    pgtype.UUID
		lastEditedAt pgtype.Timestamptz
		version      int64
		createdAt    time.Time
		updatedAt    time.Time
	)
	if err := row.Scan(&id, &name, &maxVouchers, &issued, &editingBy, &lastEditedAt, &version, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	return event.Reconstruct(
		id,
		name,
		int(maxVouchers),
		int(issued),
		pgconv.UUIDPtrFromPgtype(editingBy),
		pgconv.TimePtrFromPgtype(lastEditedAt),
		version,
		createdAt,
		updatedAt,
	), nil
}

func eventArgs(ev *event.Event) []any {
	return []any{
		ev.ID(),
		ev.Name(),
		ev.MaxVouchers(),
		ev.IssuedVouchers(),
		pgconv.UUIDPtrToPgtype(ev.EditingBy()),
		pgconv.TimePtrToPgtype(ev.LastEditedAt()),
		ev.Version(),
		ev.CreatedAt(),
		ev.UpdatedAt(),
	}
}

func scanVoucher(row pgx.Row) (*voucher.Voucher, error) {
	var (
		id        uuid.UUID
		code      string
		eventID   uuid.UUID
		recipient string
		issuedAt  time.Time
	)
	if err := row.Scan(&id, &code, &eventID, &recipient, &issuedAt); err != nil {
		return nil, err
	}
	return voucher.Reconstruct(id, code, eventID, recipient, issuedAt), nil
}

func scanJob(row pgx.Row) (*notification.Job, error) {
	var (
		job       notification.Job
		payload   []byte
		backoffMS int64
		timeoutMS int64
		status    string
		lastError pgtype.Text
		claimedBy pgtype.Text
		attempts  int32
		maxTries  int32
	)
	if err := row.Scan(
		&job.ID, &job.Kind, &job.Recipient, &payload, &attempts, &maxTries, &backoffMS, &timeoutMS,
		&job.NextAttemptAt, &status, &lastError, &claimedBy, &job.CreatedAt, &job.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(payload, &job.Payload); err != nil {
		return nil, err
	}
	job.Attempts = int(attempts)
	job.MaxAttempts = int(maxTries)
	job.Backoff = time.Duration(backoffMS) * time.Millisecond
	job.Timeout = time.Duration(timeoutMS) * time.Millisecond
	job.Status = notification.Status(status)
	if !job.Status.IsValid() {
		return nil, errs.Newf("unknown job status %q", status)
	}
	job.LastError = pgconv.StringPtrFromPgtype(lastError)
	job.ClaimedBy = pgconv.StringPtrFromPgtype(claimedBy)
	return &job, nil
}

func jobArgs(job *notification.Job) ([]any, error) {
	payload, err := json.Marshal(job.Payload)
	if err != nil {
		return nil, err
	}
	return []any{
		job.ID,
		job.Kind,
		job.Recipient,
		payload,
		job.Attempts,
		job.MaxAttempts,
		job.Backoff.Milliseconds(),
		job.Timeout.Milliseconds(),
		job.NextAttemptAt,
		string(job.Status),
		pgconv.StringPtrToPgtype(job.LastError),
		pgconv.StringPtrToPgtype(job.ClaimedBy),
		job.CreatedAt,
		job.UpdatedAt,
	}, nil
}
