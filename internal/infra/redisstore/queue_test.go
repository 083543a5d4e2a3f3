//go:build unit

package redisstore_test

import (
	"time"

	"event-voucher/internal/domain/notification"
	"event-voucher/internal/pkg/errs"
	"event-voucher/internal/usecase/shared"

	"github.com/google/uuid"
)

func (s *StoreSuite) newJob(maxAttempts int) *notification.Job {
	policy := notification.RetryPolicy{Delay: 5 * time.Second, MaxAttempts: maxAttempts, Backoff: time.Second, Timeout: 10 * time.Second}
	job, err := notification.NewVoucherIssuedJob("guest@example.com", notification.Payload{
		VoucherCode: "ABCD-EFGH-JKLM-NPQR",
		EventID:     uuid.New(),
		EventName:   "Spring Meetup",
	}, policy, baseTime)
	s.Require().NoError(err)
	s.Require().NoError(s.queue.Enqueue(s.ctx, job))
	return job
}

func (s *StoreSuite) TestQueue_ClaimHonoursDelay() {
	job := s.newJob(3)

	jobs, err := s.queue.Claim(s.ctx, "worker-a", 10, baseTime.Add(4*time.Second))
	s.Require().NoError(err)
	s.Empty(jobs)

	jobs, err = s.queue.Claim(s.ctx, "worker-a", 10, baseTime.Add(5*time.Second))
	s.Require().NoError(err)
	s.Require().Len(jobs, 1)
	s.Equal(job.ID, jobs[0].ID)
	s.Equal(notification.StatusInFlight, jobs[0].Status)
	s.Equal(1, jobs[0].Attempts)
	s.Equal("worker-a", jobs[0].Consumer())
	s.Equal(job.Payload, jobs[0].Payload)

	again, err := s.queue.Claim(s.ctx, "worker-b", 10, baseTime.Add(6*time.Second))
	s.Require().NoError(err)
	s.Empty(again, "an in-flight job is invisible to other consumers")
}

func (s *StoreSuite) TestQueue_AckAndStats() {
	s.newJob(3)
	due := baseTime.Add(5 * time.Second)

	jobs, err := s.queue.Claim(s.ctx, "worker-a", 1, due)
	s.Require().NoError(err)
	s.Require().Len(jobs, 1)
	job := jobs[0]

	stats, err := s.queue.Stats(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, stats[notification.StatusInFlight])
	s.Equal(0, stats[notification.StatusDelivered])

	s.Require().NoError(job.MarkDelivered(due))
	s.Require().NoError(s.queue.Ack(s.ctx, job))

	stored, err := s.queue.Find(s.ctx, job.ID)
	s.Require().NoError(err)
	s.Equal(notification.StatusDelivered, stored.Status)
	s.Nil(stored.ClaimedBy)

	stats, err = s.queue.Stats(s.ctx)
	s.Require().NoError(err)
	s.Equal(0, stats[notification.StatusInFlight])
	s.Equal(1, stats[notification.StatusDelivered])

	s.True(errs.Is(s.queue.Ack(s.ctx, job), shared.ErrClaimLost), "settling twice is rejected")
}

func (s *StoreSuite) TestQueue_NackSchedulesRetry() {
	s.newJob(3)
	due := baseTime.Add(5 * time.Second)

	jobs, err := s.queue.Claim(s.ctx, "worker-a", 1, due)
	s.Require().NoError(err)
	job := jobs[0]

	status, err := job.MarkFailed(due, errs.New("smtp 451"))
	s.Require().NoError(err)
	s.Equal(notification.StatusPending, status)
	s.Require().NoError(s.queue.Nack(s.ctx, job))

	jobs, err = s.queue.Claim(s.ctx, "worker-b", 1, due.Add(999*time.Millisecond))
	s.Require().NoError(err)
	s.Empty(jobs)

	jobs, err = s.queue.Claim(s.ctx, "worker-b", 1, due.Add(time.Second))
	s.Require().NoError(err)
	s.Require().Len(jobs, 1)
	s.Equal(2, jobs[0].Attempts)
	s.Require().NotNil(jobs[0].LastError)
	s.Equal("smtp 451", *jobs[0].LastError)
}

func (s *StoreSuite) TestQueue_ForeignConsumerCannotSettle() {
	s.newJob(3)
	jobs, err := s.queue.Claim(s.ctx, "worker-a", 1, baseTime.Add(5*time.Second))
	s.Require().NoError(err)

	stolen := *jobs[0]
	other := "worker-b"
	stolen.ClaimedBy = &other
	s.True(errs.Is(s.queue.Ack(s.ctx, &stolen), shared.ErrClaimLost))
}

func (s *StoreSuite) TestQueue_RequeueExpired() {
	s.newJob(2)
	due := baseTime.Add(5 * time.Second)

	s.Run("abandoned attempt goes back to pending", func() {
		jobs, err := s.queue.Claim(s.ctx, "worker-a", 1, due)
		s.Require().NoError(err)
		s.Require().Len(jobs, 1)

		n, err := s.queue.RequeueExpired(s.ctx, due.Add(19*time.Second))
		s.Require().NoError(err)
		s.Zero(n, "visibility window is twice the timeout")

		n, err = s.queue.RequeueExpired(s.ctx, due.Add(20*time.Second))
		s.Require().NoError(err)
		s.Equal(1, n)

		stored, err := s.queue.Find(s.ctx, jobs[0].ID)
		s.Require().NoError(err)
		s.Equal(notification.StatusPending, stored.Status)
		s.Require().NotNil(stored.LastError)
		s.Equal(notification.AbandonedAttemptMessage, *stored.LastError)

		s.True(errs.Is(s.queue.Ack(s.ctx, jobs[0]), shared.ErrClaimLost), "the late consumer lost its claim")
	})

	s.Run("last attempt abandoned exhausts the job", func() {
		now := due.Add(20 * time.Second)
		jobs, err := s.queue.Claim(s.ctx, "worker-a", 1, now)
		s.Require().NoError(err)
		s.Require().Len(jobs, 1)
		s.Equal(2, jobs[0].Attempts)

		n, err := s.queue.RequeueExpired(s.ctx, now.Add(20*time.Second))
		s.Require().NoError(err)
		s.Equal(1, n)

		stored, err := s.queue.Find(s.ctx, jobs[0].ID)
		s.Require().NoError(err)
		s.Equal(notification.StatusFailedExhausted, stored.Status)

		stats, err := s.queue.Stats(s.ctx)
		s.Require().NoError(err)
		s.Equal(1, stats[notification.StatusFailedExhausted])
		s.Equal(0, stats[notification.StatusPending])
	})
}

func (s *StoreSuite) TestQueue_TouchExtendsOnlyTheOwnersClaim() {
	s.newJob(3)
	due := baseTime.Add(5 * time.Second)

	jobs, err := s.queue.Claim(s.ctx, "worker-a", 1, due)
	s.Require().NoError(err)
	s.Require().Len(jobs, 1)
	job := jobs[0]

	// refreshed 15s in, the claim now lapses at due+35s instead of due+20s
	s.Require().NoError(s.queue.Touch(s.ctx, job, due.Add(15*time.Second)))
	n, err := s.queue.RequeueExpired(s.ctx, due.Add(20*time.Second))
	s.Require().NoError(err)
	s.Zero(n)

	stranger := *job
	other := "worker-b"
	stranger.ClaimedBy = &other
	s.True(errs.Is(s.queue.Touch(s.ctx, &stranger, due.Add(16*time.Second)), shared.ErrClaimLost))

	n, err = s.queue.RequeueExpired(s.ctx, due.Add(35*time.Second))
	s.Require().NoError(err)
	s.Equal(1, n)
	s.True(errs.Is(s.queue.Touch(s.ctx, job, due.Add(36*time.Second)), shared.ErrClaimLost),
		"a requeued job can no longer be refreshed by its old consumer")
}
