package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"event-voucher/internal/domain/notification"
	"event-voucher/internal/infra"
	"event-voucher/internal/pkg/errs"
	"event-voucher/internal/usecase/shared"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// Queue is the Redis JobQueue. Each job is a hash; due jobs sit in a zset
// scored by next attempt, claimed jobs in a zset scored by visibility deadline.
type Queue struct {
	client *redis.Client
	keys   keys
	logger *slog.Logger
}

var _ shared.JobQueue = (*Queue)(nil)

func NewQueue(client *redis.Client, prefix string, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{client: client, keys: newKeys(prefix), logger: logger}
}

func (q *Queue) Enqueue(ctx context.Context, job *notification.Job) error {
	fields, err := encodeJob(job)
	if err != nil {
		return infra.WrapRepoErr(q.logger, infra.KindDBFailure, "failed to encode notification job", err)
	}
	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, q.keys.job(job.ID), fields...)
		pipe.ZAdd(ctx, q.keys.pendingJobs(), redis.Z{Score: float64(job.NextAttemptAt.UnixMilli()), Member: job.ID.String()})
		return nil
	})
	if err != nil {
		return infra.WrapRepoErr(q.logger, infra.KindDBFailure, "failed to enqueue notification job", err)
	}
	return nil
}

func (q *Queue) Claim(ctx context.Context, consumer string, limit int, now time.Time) ([]*notification.Job, error) {
	if limit <= 0 {
		limit = 1
	}
	ids, err := claimJobsScript.Run(ctx, q.client,
		[]string{q.keys.pendingJobs(), q.keys.inflightJobs()},
		now.UnixMilli(), limit, consumer, q.keys.jobPrefix(), formatMicros(now),
	).StringSlice()
	if err != nil {
		return nil, infra.WrapRepoErr(q.logger, infra.KindDBFailure, "failed to claim notification jobs", err)
	}

	jobs := make([]*notification.Job, 0, len(ids))
	for _, raw := range ids {
		id, err := uuid.Parse(raw)
		if err != nil {
			q.logger.Warn("skipping malformed job id", "member", raw)
			continue
		}
		job, err := q.Find(ctx, id)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func (q *Queue) Touch(ctx context.Context, job *notification.Job, now time.Time) error {
	n, err := touchJobScript.Run(ctx, q.client,
		[]string{q.keys.inflightJobs(), q.keys.job(job.ID)},
		job.ID.String(), job.Consumer(), job.ClaimDeadline(now).UnixMilli(),
	).Int()
	if err != nil {
		return infra.WrapRepoErr(q.logger, infra.KindDBFailure, "failed to refresh notification job claim", err)
	}
	if n == 0 {
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
	n, err := requeueExpiredScript.Run(ctx, q.client,
		[]string{q.keys.inflightJobs(), q.keys.pendingJobs(), q.keys.deadJobs()},
		now.UnixMilli(), q.keys.jobPrefix(), notification.AbandonedAttemptMessage, formatMicros(now),
	).Int()
	if err != nil {
		return 0, infra.WrapRepoErr(q.logger, infra.KindDBFailure, "failed to requeue expired jobs", err)
	}
	return n, nil
}

func (q *Queue) Stats(ctx context.Context) (map[notification.Status]int, error) {
	var (
		pending   *redis.IntCmd
		inflight  *redis.IntCmd
		dead      *redis.IntCmd
		delivered *redis.StringCmd
	)
	_, err := q.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pending = pipe.ZCard(ctx, q.keys.pendingJobs())
		inflight = pipe.ZCard(ctx, q.keys.inflightJobs())
		dead = pipe.SCard(ctx, q.keys.deadJobs())
		delivered = pipe.Get(ctx, q.keys.deliveredJobs())
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, infra.WrapRepoErr(q.logger, infra.KindDBFailure, "failed to read job stats", err)
	}

	deliveredN := 0
	if v, err := delivered.Int(); err == nil {
		deliveredN = v
	}
	return map[notification.Status]int{
		notification.StatusPending:         int(pending.Val()),
		notification.StatusInFlight:        int(inflight.Val()),
		notification.StatusFailedExhausted: int(dead.Val()),
		notification.StatusDelivered:       deliveredN,
	}, nil
}

func (q *Queue) Find(ctx context.Context, id uuid.UUID) (*notification.Job, error) {
	m, err := q.client.HGetAll(ctx, q.keys.job(id)).Result()
	if err != nil {
		return nil, infra.WrapRepoErr(q.logger, infra.KindDBFailure, "failed to load notification job", err)
	}
	if len(m) == 0 {
		return nil, infra.WrapRepoErr(q.logger, infra.KindNotFound, "notification job not found", nil)
	}
	job, err := decodeJob(m)
	if err != nil {
		return nil, infra.WrapRepoErr(q.logger, infra.KindDBFailure, "failed to decode notification job", err)
	}
	return job, nil
}

func (q *Queue) settle(ctx context.Context, job *notification.Job, status notification.Status) error {
	lastError := ""
	if job.LastError != nil {
		lastError = *job.LastError
	}
	n, err := settleJobScript.Run(ctx, q.client,
		[]string{q.keys.inflightJobs(), q.keys.pendingJobs(), q.keys.job(job.ID), q.keys.deadJobs(), q.keys.deliveredJobs()},
		job.ID.String(),
		job.Consumer(),
		string(status),
		job.NextAttemptAt.UnixMilli(),
		lastError,
		formatMicros(job.UpdatedAt),
		formatMicros(job.NextAttemptAt),
	).Int()
	if err != nil {
		return infra.WrapRepoErr(q.logger, infra.KindDBFailure, "failed to settle notification job", err)
	}
	if n == 0 {
		return shared.ErrClaimLost
	}
	return nil
}

func encodeJob(job *notification.Job) ([]any, error) {
	payload, err := json.Marshal(job.Payload)
	if err != nil {
		return nil, err
	}
	lastError, claimedBy := "", ""
	if job.LastError != nil {
		lastError = *job.LastError
	}
	if job.ClaimedBy != nil {
		claimedBy = *job.ClaimedBy
	}
	return []any{
		"id", job.ID.String(),
		"kind", job.Kind,
		"recipient", job.Recipient,
		"payload", string(payload),
		"attempts", job.Attempts,
		"max_attempts", job.MaxAttempts,
		"backoff_ms", job.Backoff.Milliseconds(),
		"timeout_ms", job.Timeout.Milliseconds(),
		"next_attempt_at", formatMicros(job.NextAttemptAt),
		"status", string(job.Status),
		"last_error", lastError,
		"claimed_by", claimedBy,
		"created_at", formatMicros(job.CreatedAt),
		"updated_at", formatMicros(job.UpdatedAt),
	}, nil
}

func decodeJob(m map[string]string) (*notification.Job, error) {
	var job notification.Job
	var err error
	if job.ID, err = uuid.Parse(m["id"]); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(m["payload"]), &job.Payload); err != nil {
		return nil, err
	}
	ints := map[string]*int{"attempts": &job.Attempts, "max_attempts": &job.MaxAttempts}
	for field, dst := range ints {
		if *dst, err = strconv.Atoi(m[field]); err != nil {
			return nil, err
		}
	}
	backoffMS, err := strconv.ParseInt(m["backoff_ms"], 10, 64)
	if err != nil {
		return nil, err
	}
	timeoutMS, err := strconv.ParseInt(m["timeout_ms"], 10, 64)
	if err != nil {
		return nil, err
	}
	times := map[string]*time.Time{"next_attempt_at": &job.NextAttemptAt, "created_at": &job.CreatedAt, "updated_at": &job.UpdatedAt}
	for field, dst := range times {
		if *dst, err = parseMicros(m[field]); err != nil {
			return nil, err
		}
	}

	job.Kind = m["kind"]
	job.Recipient = m["recipient"]
	job.Backoff = time.Duration(backoffMS) * time.Millisecond
	job.Timeout = time.Duration(timeoutMS) * time.Millisecond
	job.Status = notification.Status(m["status"])
	if !job.Status.IsValid() {
		return nil, errs.Newf("unknown job status %q", m["status"])
	}
	if v := m["last_error"]; v != "" {
		job.LastError = &v
	}
	if v := m["claimed_by"]; v != "" {
		job.ClaimedBy = &v
	}
	return &job, nil
}
