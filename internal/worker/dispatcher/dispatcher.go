package dispatcher

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"event-voucher/internal/domain/notification"
	"event-voucher/internal/pkg/clock"
	"event-voucher/internal/pkg/config"
	"event-voucher/internal/pkg/errs"
	"event-voucher/internal/pkg/metrics"
	"event-voucher/internal/usecase/shared"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	resultDelivered = "delivered"
	resultRetry     = "retry"
	resultExhausted = "exhausted"
	resultLost      = "lost"
)

// Dispatcher delivers queued notifications at least once.
type Dispatcher struct {
	queue        shared.JobQueue
	deliverer    shared.Deliverer
	clock        clock.Clock
	workers      int
	pollInterval time.Duration
	batchSize    int
	name         string
	logger       *slog.Logger
	metrics      *metrics.Metrics
}

func New(queue shared.JobQueue, deliverer shared.Deliverer, clk clock.Clock, cfg config.NotifyConfig, logger *slog.Logger, m *metrics.Metrics) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.New()
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 1
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = 500 * time.Millisecond
	}
	return &Dispatcher{
		queue:        queue,
		deliverer:    deliverer,
		clock:        clk,
		workers:      workers,
		pollInterval: poll,
		batchSize:    batch,
		name:         "dispatcher-" + uuid.NewString()[:8],
		logger:       logger.With("component", "dispatcher"),
		metrics:      m,
	}
}

// ProcessOnce claims up to one batch of due jobs for consumer and attempts
// each of them. It returns how many jobs were claimed.
func (d *Dispatcher) ProcessOnce(ctx context.Context, consumer string) (int, error) {
	jobs, err := d.queue.Claim(ctx, consumer, d.batchSize, d.now())
	if err != nil {
		return 0, errs.Wrap(err, "claim notification jobs")
	}
	for _, job := range jobs {
		d.attempt(ctx, job)
	}
	return len(jobs), nil
}

// attempt delivers one claimed job. Jobs later in a batch may wait longer
// than their visibility window, so the claim is refreshed first and the job
// is skipped once another consumer may have it.
func (d *Dispatcher) attempt(ctx context.Context, job *notification.Job) {
	log := d.logger.With(
		"job_id", job.ID,
		"voucher_code", job.Payload.VoucherCode,
		"recipient", job.Recipient,
		"attempt", job.Attempts,
	)

	if err := d.queue.Touch(ctx, job, d.now()); err != nil {
		if errs.Is(err, shared.ErrClaimLost) {
			log.Warn("claim lapsed before the attempt; skipping")
			d.metrics.Deliveries.WithLabelValues(resultLost).Inc()
			return
		}
		if ctx.Err() == nil {
			log.Error("failed to refresh claim; job returns after its visibility window", "error", err.Error())
		}
		return
	}

	attemptCtx, cancel := context.WithTimeout(ctx, job.Timeout)
	err := d.deliverer.Deliver(attemptCtx, job.Recipient, job.Payload)
	cancel()

	if err == nil {
		if terr := job.MarkDelivered(d.now()); terr != nil {
			log.Error("job in unexpected state", "status", job.Status)
			return
		}
		d.settle(ctx, log, job, resultDelivered, d.queue.Ack)
		return
	}

	// shutting down: the job stays claimed and comes back after its visibility window
	if ctx.Err() != nil {
		return
	}

	status, terr := job.MarkFailed(d.now(), err)
	if terr != nil {
		log.Error("job in unexpected state", "status", job.Status)
		return
	}
	if status == notification.StatusFailedExhausted {
		log.Error("notification gave up after retries",
			"max_attempts", job.MaxAttempts,
			"error", err.Error())
		d.settle(ctx, log, job, resultExhausted, d.queue.Bury)
		return
	}
	log.Warn("notification attempt failed, will retry",
		"next_attempt_at", job.NextAttemptAt,
		"error", err.Error())
	d.settle(ctx, log, job, resultRetry, d.queue.Nack)
}

func (d *Dispatcher) settle(ctx context.Context, log *slog.Logger, job *notification.Job, result string, op func(context.Context, *notification.Job) error) {
	if err := op(ctx, job); err != nil {
		if errs.Is(err, shared.ErrClaimLost) {
			log.Warn("claim lost before settling; another consumer owns the job now")
			d.metrics.Deliveries.WithLabelValues(resultLost).Inc()
			return
		}
		log.Error("failed to settle notification job", "result", result, "error", err.Error())
		return
	}
	d.metrics.Deliveries.WithLabelValues(result).Inc()
}

// RequeueOnce returns abandoned in-flight jobs to the queue and refreshes
// the queue depth gauge.
func (d *Dispatcher) RequeueOnce(ctx context.Context) (int, error) {
	n, err := d.queue.RequeueExpired(ctx, d.now())
	if err != nil {
		return 0, errs.Wrap(err, "requeue expired jobs")
	}
	if n > 0 {
		d.logger.Warn("requeued abandoned notification jobs", "count", n)
	}
	if stats, err := d.queue.Stats(ctx); err == nil {
		for status, count := range stats {
			d.metrics.QueueDepth.WithLabelValues(string(status)).Set(float64(count))
		}
	}
	return n, nil
}

// Run starts the worker pool and the requeue loop and blocks until ctx is
// cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < d.workers; i++ {
		consumer := fmt.Sprintf("%s-%d", d.name, i)
		g.Go(func() error {
			d.poll(ctx, consumer)
			return nil
		})
	}
	g.Go(func() error {
		d.requeueLoop(ctx)
		return nil
	})
	return g.Wait()
}

func (d *Dispatcher) poll(ctx context.Context, consumer string) {
	for {
		n, err := d.ProcessOnce(ctx, consumer)
		if err != nil && ctx.Err() == nil {
			d.logger.Error("poll failed", "consumer", consumer, "error", err.Error())
		}
		if n > 0 && err == nil {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(d.pollInterval):
		}
	}
}

func (d *Dispatcher) requeueLoop(ctx context.Context) {
	t := time.NewTicker(d.pollInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := d.RequeueOnce(ctx); err != nil && ctx.Err() == nil {
				d.logger.Error("requeue failed", "error", err.Error())
			}
		}
	}
}

func (d *Dispatcher) now() time.Time {
	return d.clock.Now().UTC().Truncate(time.Microsecond)
}
