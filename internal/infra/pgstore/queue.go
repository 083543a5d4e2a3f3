package pgstore

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"event-voucher/internal/domain/notification"
	"event-voucher/internal/infra"
	"event-voucher/internal/pkg/pgconv"
	"event-voucher/internal/usecase/shared"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Queue keeps notification jobs in the notification_jobs table. Concurrent
// consumers never see the same job because Claim skips rows locked by others.
type Queue struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

var _ shared.JobQueue = (*Queue)(nil)

func NewQueue(pool *pgxpool.Pool, logger *slog.Logger) *Queue {
	return &Queue{pool: pool, logger: slogOrDefault(logger)}
}

func (q *Queue) Enqueue(ctx context.Context, job *notification.Job) error {
	if err := insertJob(ctx, q.pool, job); err != nil {
		return infra.WrapRepoErr(q.logger, infra.KindDBFailure, "failed to enqueue notification job", err)
	}
	return nil
}

func (q *Queue) Claim(ctx context.Context, consumer string, limit int, now time.Time) ([]*notification.Job, error) {
	if limit <= 0 {
		limit = 1
	}
	rows, err := q.pool.Query(ctx, claimJobsSQL, consumer, now, limit)
	if err != nil {
		return nil, infra.WrapRepoErr(q.logger, infra.KindDBFailure, "failed to claim notification jobs", err)
	}
	defer rows.Close()

	var jobs []*notification.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, infra.WrapRepoErr(q.logger, infra.KindDBFailure, "failed to scan notification job", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, infra.WrapRepoErr(q.logger, infra.KindDBFailure, "failed to iterate claimed jobs", err)
	}
	return jobs, nil
}

func (q *Queue) Touch(ctx context.Context, job *notification.Job, now time.Time) error {
	tag, err := q.pool.Exec(ctx, touchJobSQL, job.ID, job.Consumer(), job.ClaimDeadline(now))
	if err != nil {
		return infra.WrapRepoErr(q.logger, infra.KindDBFailure, "failed to refresh notification job claim", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrClaimLost
	}
	return nil
}

func (q *Queue) Ack(ctx context.Context, job *notification.Job) error {
	return q.settle(ctx, job, notification.StatusDelivered)
}

func (q *Queue) Nack(ctx context.Context, job *notification.Job) error {
	return q.settle(ctx, job, notification.StatusPending)
}

func (q *Queue) Bury(ctx context.Context, job *notification.Job) error {
	return q.settle(ctx, job, notification.StatusFailedExhausted)
}

func (q *Queue) RequeueExpired(ctx context.Context, now time.Time) (int, error) {
	tag, err := q.pool.Exec(ctx, requeueExpiredJobsSQL, now, notification.AbandonedAttemptMessage)
	if err != nil {
		return 0, infra.WrapRepoErr(q.logger, infra.KindDBFailure, "failed to requeue expired jobs", err)
	}
	return int(tag.RowsAffected()), nil
}

func (q *Queue) Stats(ctx context.Context) (map[notification.Status]int, error) {
	rows, err := q.pool.Query(ctx, jobStatsSQL)
	if err != nil {
		return nil, infra.WrapRepoErr(q.logger, infra.KindDBFailure, "failed to read job stats", err)
	}
	defer rows.Close()

	out := make(map[notification.Status]int)
	for rows.Next() {
		var (
			status string
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, infra.WrapRepoErr(q.logger, infra.KindDBFailure, "failed to scan job stats", err)
		}
		out[notification.Status(status)] = int(n)
	}
	return out, rows.Err()
}

// Find loads one job; used by tests and operators.
func (q *Queue) Find(ctx context.Context, id uuid.UUID) (*notification.Job, error) {
	job, err := scanJob(q.pool.QueryRow(ctx, selectJobSQL, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, infra.WrapRepoErr(q.logger, infra.KindNotFound, "notification job not found", err)
		}
		return nil, infra.WrapRepoErr(q.logger, infra.KindDBFailure, "failed to load notification job", err)
	}
	return job, nil
}

// settle writes the job's new state only while consumer still owns the claim.
func (q *Queue) settle(ctx context.Context, job *notification.Job, status notification.Status) error {
	tag, err := q.pool.Exec(ctx, settleJobSQL,
		job.ID,
		job.Consumer(),
		string(status),
		job.NextAttemptAt,
		pgconv.StringPtrToPgtype(job.LastError),
		job.UpdatedAt,
	)
	if err != nil {
		return infra.WrapRepoErr(q.logger, infra.KindDBFailure, "failed to settle notification job", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrClaimLost
	}
	return nil
}

func insertJob(ctx context.Context, db DBTX, job *notification.Job) error {
	args, err := jobArgs(job)
	if err != nil {
		return err
	}
	_, err = db.Exec(ctx, insertJobSQL, args...)
	return err
}
