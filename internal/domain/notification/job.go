package notification

import (
	"time"

	"event-voucher/internal/pkg/errs"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending         Status = "pending"
	StatusInFlight        Status = "in_flight"
	StatusDelivered       Status = "delivered"
	StatusFailedExhausted Status = "failed_exhausted"
)

func (s Status) IsTerminal() bool {
	return s == StatusDelivered || s == StatusFailedExhausted
}

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusInFlight, StatusDelivered, StatusFailedExhausted:
		return true
	default:
		return false
	}
}

const KindVoucherIssued = "voucher_issued"

const AbandonedAttemptMessage = "attempt abandoned after visibility timeout"

var (
	ErrInvalidTransition = errs.New("invalid notification job transition")
	ErrInvalidPolicy     = errs.New("invalid notification retry policy")
)

type Payload struct {
	VoucherCode string    `json:"voucherCode"`
	EventID     uuid.UUID `json:"eventId"`
	EventName   string    `json:"eventName"`
}

type RetryPolicy struct {
	Delay       time.Duration
	MaxAttempts int
	Backoff     time.Duration
	Timeout     time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Delay:       5 * time.Second,
		MaxAttempts: 3,
		Backoff:     time.Second,
		Timeout:     10 * time.Second,
	}
}

func (p RetryPolicy) Validate() error {
	if p.MaxAttempts < 1 || p.Timeout <= 0 || p.Delay < 0 || p.Backoff < 0 {
		return ErrInvalidPolicy
	}
	return nil
}

// Job is one at-least-once delivery of Payload to Recipient.
type Job struct {
	ID            uuid.UUID
	Kind          string
	Recipient     string
	Payload       Payload
	Attempts      int
	MaxAttempts   int
	Backoff       time.Duration
	Timeout       time.Duration
	NextAttemptAt time.Time
	Status        Status
	LastError     *string
	ClaimedBy     *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func NewVoucherIssuedJob(recipient string, payload Payload, policy RetryPolicy, now time.Time) (*Job, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	return &Job{
		ID:            uuid.New(),
		Kind:          KindVoucherIssued,
		Recipient:     recipient,
		Payload:       payload,
		MaxAttempts:   policy.MaxAttempts,
		Backoff:       policy.Backoff,
		Timeout:       policy.Timeout,
		NextAttemptAt: now.Add(policy.Delay),
		Status:        StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// VisibilityWindow is how long a claim hides the job from other consumers.
// It covers one attempt plus the time to settle it.
func (j *Job) VisibilityWindow() time.Duration {
	return 2 * j.Timeout
}

// ClaimDeadline is when a claim taken or refreshed at now lapses.
func (j *Job) ClaimDeadline(now time.Time) time.Time {
	return now.Add(j.VisibilityWindow())
}

func (j *Job) MarkDelivered(now time.Time) error {
	if j.Status != StatusInFlight {
		return ErrInvalidTransition
	}
	j.Status = StatusDelivered
	j.LastError = nil
	j.UpdatedAt = now
	return nil
}

// MarkFailed records a failed attempt and returns the resulting status:
// pending again after Backoff, or failed_exhausted once the budget is spent.
// ClaimedBy is kept so the queue can verify the settling consumer.
func (j *Job) MarkFailed(now time.Time, cause error) (Status, error) {
	if j.Status != StatusInFlight {
		return "", ErrInvalidTransition
	}
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	j.LastError = &msg
	j.UpdatedAt = now
	if j.Attempts >= j.MaxAttempts {
		j.Status = StatusFailedExhausted
		return j.Status, nil
	}
	j.Status = StatusPending
	j.NextAttemptAt = now.Add(j.Backoff)
	return j.Status, nil
}

// Consumer is the worker that currently holds the job, or "".
func (j *Job) Consumer() string {
	if j.ClaimedBy == nil {
		return ""
	}
	return *j.ClaimedBy
}
