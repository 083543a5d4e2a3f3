package commands

import (
	"context"
	"time"

	"event-voucher/internal/domain/event"
	"event-voucher/internal/domain/notification"
	"event-voucher/internal/domain/voucher"
	"event-voucher/internal/pkg/clock"
	"event-voucher/internal/pkg/config"
	"event-voucher/internal/pkg/errs"
	"event-voucher/internal/usecase/shared"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	NotificationQueued        = "queued"
	NotificationEnqueueFailed = "enqueue_failed"
)

type ClaimReceipt struct {
	VoucherID          uuid.UUID
	Code               string
	EventID            uuid.UUID
	Recipient          string
	IssuedAt           time.Time
	RemainingVouchers  int
	NotificationID     *uuid.UUID
	NotificationStatus string
}

//go:generate mockgen -source=allocator.go -destination=../../../tests/mock/commands/allocator.go -package=commandsmock

// Allocator converts one unit of an event's inventory into a voucher.
type Allocator interface {
	Claim(ctx context.Context, eventID, recipient string) (*ClaimReceipt, error)
}

type allocatorImpl struct {
	store      shared.AtomicResourceStore
	queue      shared.JobQueue
	codes      voucher.CodeGenerator
	clock      clock.Clock
	policy     notification.RetryPolicy
	commitMode string
	inst       Instruments
}

func NewAllocator(
	store shared.AtomicResourceStore,
	queue shared.JobQueue,
	codes voucher.CodeGenerator,
	clk clock.Clock,
	cfg config.NotifyConfig,
	inst Instruments,
) Allocator {
	return &allocatorImpl{
		store: store,
		queue: queue,
		codes: codes,
		clock: clk,
		policy: notification.RetryPolicy{
			Delay:       cfg.Delay,
			MaxAttempts: cfg.MaxAttempts,
			Backoff:     cfg.Backoff,
			Timeout:     cfg.Timeout,
		},
		commitMode: cfg.CommitMode,
		inst:       inst.withDefaults(),
	}
}

func (a *allocatorImpl) Claim(ctx context.Context, eventID, recipient string) (receipt *ClaimReceipt, err error) {
	ctx, span := a.inst.start(ctx, "Allocator.Claim", trace.WithAttributes(
		attribute.String("event.id", eventID),
		attribute.String("notify.commit_mode", a.commitMode),
	))
	defer func() {
		endSpan(span, err)
		a.observe(err)
	}()

	evID, err := parseID(eventID)
	if err != nil {
		return nil, err
	}
	rcpt, err := voucher.NormalizeRecipient(recipient)
	if err != nil {
		return nil, errs.WithCause(ErrInvalidInput, err)
	}

	now := a.clock.Now().UTC().Truncate(time.Microsecond)
	req := shared.ClaimRequest{
		EventID: evID,
		Now:     now,
		Mint: func(ev *event.Event) (*voucher.Voucher, error) {
			code, err := a.codes.Generate()
			if err != nil {
				return nil, err
			}
			return voucher.New(code, ev.ID(), rcpt, now)
		},
	}
	gated := a.commitMode == config.CommitModeGated
	if gated {
		req.Job = a.jobFor(now)
	}

	res, err := a.store.ClaimVoucher(ctx, req)
	if err != nil {
		return nil, translate(err)
	}

	receipt = &ClaimReceipt{
		VoucherID:         res.Voucher.ID(),
		Code:              res.Voucher.Code(),
		EventID:           res.Event.ID(),
		Recipient:         res.Voucher.Recipient(),
		IssuedAt:          res.Voucher.IssuedAt(),
		RemainingVouchers: res.Event.IssuedVouchers(),
	}
	span.SetAttributes(attribute.String("voucher.code", receipt.Code))

	job := res.Job
	if !gated {
		job, err = a.enqueueAfterCommit(ctx, res, now)
		if err != nil {
			a.inst.Metrics.EnqueueFailures.Inc()
			a.inst.Logger.Error("voucher issued but its notification was not queued",
				"voucher_code", receipt.Code,
				"event_id", receipt.EventID,
				"recipient", receipt.Recipient,
				"error", err.Error())
			receipt.NotificationStatus = NotificationEnqueueFailed
			return receipt, nil
		}
	}
	receipt.NotificationID = &job.ID
	receipt.NotificationStatus = NotificationQueued
	return receipt, nil
}

// enqueueAfterCommit runs once the claim is durable; a cancelled request must
// not drop the notification.
func (a *allocatorImpl) enqueueAfterCommit(ctx context.Context, res *shared.ClaimResult, now time.Time) (*notification.Job, error) {
	job, err := a.jobFor(now)(res.Event, res.Voucher)
	if err != nil {
		return nil, err
	}
	if err := a.queue.Enqueue(context.WithoutCancel(ctx), job); err != nil {
		return nil, err
	}
	return job, nil
}

func (a *allocatorImpl) jobFor(now time.Time) func(*event.Event, *voucher.Voucher) (*notification.Job, error) {
	return func(ev *event.Event, v *voucher.Voucher) (*notification.Job, error) {
		payload := notification.Payload{
			VoucherCode: v.Code(),
			EventID:     ev.ID(),
			EventName:   ev.Name(),
		}
		return notification.NewVoucherIssuedJob(v.Recipient(), payload, a.policy, now)
	}
}

func (a *allocatorImpl) observe(err error) {
	outcome := "issued"
	switch {
	case err == nil:
	case errs.Is(err, ErrVouchersExhausted):
		outcome = "sold_out"
	case errs.KindOf(err) == errs.KindInternal:
		outcome = "error"
	default:
		outcome = "rejected"
	}
	a.inst.Metrics.Claims.WithLabelValues(outcome).Inc()
}
