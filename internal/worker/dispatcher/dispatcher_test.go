//go:build unit

package dispatcher_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"event-voucher/internal/domain/notification"
	"event-voucher/internal/infra/redisstore"
	"event-voucher/internal/pkg/clock"
	"event-voucher/internal/pkg/config"
	"event-voucher/internal/pkg/errs"
	"event-voucher/internal/pkg/metrics"
	"event-voucher/internal/worker/dispatcher"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"
)

var t0 = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

type fakeDeliverer struct {
	mu    sync.Mutex
	calls []string
	fn    func(ctx context.Context, attempt int) error
}

func (f *fakeDeliverer) Deliver(ctx context.Context, recipient string, payload notification.Payload) error {
	f.mu.Lock()
	f.calls = append(f.calls, payload.VoucherCode)
	attempt := len(f.calls)
	fn := f.fn
	f.mu.Unlock()
	if fn == nil {
		return nil
	}
	return fn(ctx, attempt)
}

func (f *fakeDeliverer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type DispatcherSuite struct {
	suite.Suite
	ctx       context.Context
	mr        *miniredis.Miniredis
	client    *redis.Client
	clock     *clock.MockClock
	queue     *redisstore.Queue
	metrics   *metrics.Metrics
	deliverer *fakeDeliverer
	cfg       config.NotifyConfig
}

func TestDispatcherSuite(t *testing.T) {
	suite.Run(t, new(DispatcherSuite))
}

func (s *DispatcherSuite) SetupTest() {
	mr, err := miniredis.Run()
	s.Require().NoError(err)
	s.mr = mr
	s.ctx = context.Background()
	s.client = redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s.clock = clock.NewMockClock(t0)
	s.queue = redisstore.NewQueue(s.client, "test", nil)
	s.metrics = metrics.New()
	s.deliverer = &fakeDeliverer{}
	s.cfg = config.NewTestConfig().Notify
}

func (s *DispatcherSuite) TearDownTest() {
	_ = s.client.Close()
	s.mr.Close()
}

func (s *DispatcherSuite) dispatcher() *dispatcher.Dispatcher {
	return dispatcher.New(s.queue, s.deliverer, s.clock, s.cfg, nil, s.metrics)
}

func (s *DispatcherSuite) enqueue(policy notification.RetryPolicy) *notification.Job {
	job, err := notification.NewVoucherIssuedJob("guest@example.com", notification.Payload{
		VoucherCode: "ABCD-EFGH-JKLM-NPQR",
		EventID:     uuid.New(),
		EventName:   "Spring Meetup",
	}, policy, t0)
	s.Require().NoError(err)
	s.Require().NoError(s.queue.Enqueue(s.ctx, job))
	return job
}

func policy() notification.RetryPolicy {
	return notification.RetryPolicy{Delay: 5 * time.Second, MaxAttempts: 3, Backoff: time.Second, Timeout: 10 * time.Second}
}

func (s *DispatcherSuite) status(id uuid.UUID) *notification.Job {
	job, err := s.queue.Find(s.ctx, id)
	s.Require().NoError(err)
	return job
}

func (s *DispatcherSuite) TestDeliversAfterDelay() {
	job := s.enqueue(policy())
	d := s.dispatcher()

	n, err := d.ProcessOnce(s.ctx, "c1")
	s.Require().NoError(err)
	s.Zero(n, "job is not due before its delay")

	s.clock.Set(t0.Add(5 * time.Second))
	n, err = d.ProcessOnce(s.ctx, "c1")
	s.Require().NoError(err)
	s.Equal(1, n)
	s.Equal(1, s.deliverer.count())
	s.Equal(notification.StatusDelivered, s.status(job.ID).Status)
	s.Equal(1.0, testutil.ToFloat64(s.metrics.Deliveries.WithLabelValues("delivered")))
}

func (s *DispatcherSuite) TestRetriesWithBackoff() {
	job := s.enqueue(policy())
	s.deliverer.fn = func(_ context.Context, attempt int) error {
		if attempt == 1 {
			return errs.New("smtp: 451 try again later")
		}
		return nil
	}
	d := s.dispatcher()
	s.clock.Set(t0.Add(5 * time.Second))

	_, err := d.ProcessOnce(s.ctx, "c1")
	s.Require().NoError(err)
	stored := s.status(job.ID)
	s.Equal(notification.StatusPending, stored.Status)
	s.Equal(1, stored.Attempts)
	s.Equal(t0.Add(6*time.Second), stored.NextAttemptAt)

	n, err := d.ProcessOnce(s.ctx, "c1")
	s.Require().NoError(err)
	s.Zero(n, "backoff not yet elapsed")

	s.clock.Add(time.Second)
	n, err = d.ProcessOnce(s.ctx, "c1")
	s.Require().NoError(err)
	s.Equal(1, n)

	stored = s.status(job.ID)
	s.Equal(notification.StatusDelivered, stored.Status)
	s.Equal(2, stored.Attempts)
	s.Equal(1.0, testutil.ToFloat64(s.metrics.Deliveries.WithLabelValues("retry")))
}

func (s *DispatcherSuite) TestExhaustsRetryBudget() {
	job := s.enqueue(policy())
	s.deliverer.fn = func(context.Context, int) error { return errs.New("mailbox unavailable") }
	d := s.dispatcher()
	s.clock.Set(t0.Add(5 * time.Second))

	for i := 0; i < 3; i++ {
		n, err := d.ProcessOnce(s.ctx, "c1")
		s.Require().NoError(err)
		s.Equal(1, n)
		s.clock.Add(time.Second)
	}

	stored := s.status(job.ID)
	s.Equal(notification.StatusFailedExhausted, stored.Status)
	s.Equal(3, stored.Attempts)
	s.Require().NotNil(stored.LastError)
	s.Equal("mailbox unavailable", *stored.LastError)
	s.Equal(1.0, testutil.ToFloat64(s.metrics.Deliveries.WithLabelValues("exhausted")))

	n, err := d.ProcessOnce(s.ctx, "c1")
	s.Require().NoError(err)
	s.Zero(n, "exhausted jobs are never claimed again")
	s.Equal(3, s.deliverer.count())
}

func (s *DispatcherSuite) TestAttemptTimesOut() {
	p := policy()
	p.Timeout = 30 * time.Millisecond
	job := s.enqueue(p)
	s.deliverer.fn = func(ctx context.Context, _ int) error {
		<-ctx.Done()
		return ctx.Err()
	}
	d := s.dispatcher()
	s.clock.Set(t0.Add(5 * time.Second))

	_, err := d.ProcessOnce(s.ctx, "c1")
	s.Require().NoError(err)

	stored := s.status(job.ID)
	s.Equal(notification.StatusPending, stored.Status)
	s.Require().NotNil(stored.LastError)
	s.Contains(*stored.LastError, "deadline exceeded")
}

func (s *DispatcherSuite) TestRequeuesAbandonedJob() {
	job := s.enqueue(policy())
	due := t0.Add(5 * time.Second)

	claimed, err := s.queue.Claim(s.ctx, "crashed-worker", 1, due)
	s.Require().NoError(err)
	s.Require().Len(claimed, 1)

	d := s.dispatcher()
	s.clock.Set(due.Add(19 * time.Second))
	n, err := d.RequeueOnce(s.ctx)
	s.Require().NoError(err)
	s.Zero(n)

	s.clock.Set(due.Add(20 * time.Second))
	n, err = d.RequeueOnce(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, n)
	s.Equal(1.0, testutil.ToFloat64(s.metrics.QueueDepth.WithLabelValues("pending")))

	n, err = d.ProcessOnce(s.ctx, "c1")
	s.Require().NoError(err)
	s.Equal(1, n)

	stored := s.status(job.ID)
	s.Equal(notification.StatusDelivered, stored.Status)
	s.Equal(2, stored.Attempts, "the abandoned attempt counts")
}

func (s *DispatcherSuite) TestRun() {
	s.enqueue(policy())
	s.enqueue(policy())
	s.clock.Set(t0.Add(time.Minute))
	s.cfg.Workers = 2
	s.cfg.PollInterval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(s.ctx)
	done := make(chan error, 1)
	go func() { done <- s.dispatcher().Run(ctx) }()

	s.Eventually(func() bool { return s.deliverer.count() == 2 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		s.NoError(err)
	case <-time.After(2 * time.Second):
		s.Fail("Run did not return after cancel")
	}
	s.Equal(2, s.deliverer.count(), "each job is delivered once")
}

func (s *DispatcherSuite) enqueueCode(code string) {
	job, err := notification.NewVoucherIssuedJob("guest@example.com", notification.Payload{
		VoucherCode: code,
		EventID:     uuid.New(),
		EventName:   "Spring Meetup",
	}, policy(), t0)
	s.Require().NoError(err)
	s.Require().NoError(s.queue.Enqueue(s.ctx, job))
}

func (s *DispatcherSuite) TestSlowBatchNeverDeliversAJobTwice() {
	s.cfg.BatchSize = 3
	codes := []string{"AAAA-AAAA-AAAA-AAAA", "BBBB-BBBB-BBBB-BBBB", "CCCC-CCCC-CCCC-CCCC"}
	for _, code := range codes {
		s.enqueueCode(code)
	}
	s.clock.Set(t0.Add(5 * time.Second))

	other := s.dispatcher()
	s.deliverer.fn = func(ctx context.Context, attempt int) error {
		if attempt > 2 {
			return nil
		}
		// each of the first two attempts uses the whole timeout
		s.clock.Add(policy().Timeout)
		if attempt == 2 {
			_, err := other.RequeueOnce(ctx)
			s.Require().NoError(err)
			_, err = other.ProcessOnce(ctx, "consumer-b")
			s.Require().NoError(err)
		}
		return nil
	}

	n, err := s.dispatcher().ProcessOnce(s.ctx, "consumer-a")
	s.Require().NoError(err)
	s.Equal(3, n)

	s.deliverer.mu.Lock()
	calls := append([]string(nil), s.deliverer.calls...)
	s.deliverer.mu.Unlock()
	s.ElementsMatch(codes, calls, "every job is delivered exactly once")
	s.Equal(1.0, testutil.ToFloat64(s.metrics.Deliveries.WithLabelValues("lost")))
	s.Equal(3.0, testutil.ToFloat64(s.metrics.Deliveries.WithLabelValues("delivered")))

	stats, err := s.queue.Stats(s.ctx)
	s.Require().NoError(err)
	s.Equal(3, stats[notification.StatusDelivered])
	s.Zero(stats[notification.StatusInFlight])
}
