package shared

import (
	"context"
	"time"

	"event-voucher/internal/domain/notification"
	"event-voucher/internal/pkg/errs"
)

// ErrClaimLost means the job was requeued or settled by someone else first.
var ErrClaimLost = errs.New("job is no longer claimed by this consumer")

// JobQueue is a durable at-least-once work queue. A claimed job stays hidden
// from other consumers until it is settled or its visibility window lapses.
type JobQueue interface {
	Enqueue(ctx context.Context, job *notification.Job) error
	// Claim moves up to limit due pending jobs to in_flight for consumer.
	Claim(ctx context.Context, consumer string, limit int, now time.Time) ([]*notification.Job, error)
	// Touch restarts the claim's visibility window at now, so one attempt
	// started now cannot outlive it. ErrClaimLost when job.Consumer() no
	// longer owns the claim.
	Touch(ctx context.Context, job *notification.Job, now time.Time) error
	Ack(ctx context.Context, job *notification.Job) error
	// Nack stores a failed attempt; the job is pending again at job.NextAttemptAt.
	Nack(ctx context.Context, job *notification.Job) error
	// Bury stores a job whose retry budget is spent.
	Bury(ctx context.Context, job *notification.Job) error
	RequeueExpired(ctx context.Context, now time.Time) (int, error)
	Stats(ctx context.Context) (map[notification.Status]int, error)
}

// Deliverer sends one notification. It must honour ctx cancellation.
type Deliverer interface {
	Deliver(ctx context.Context, recipient string, payload notification.Payload) error
}
