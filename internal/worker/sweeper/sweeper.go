package sweeper

import (
	"context"
	"log/slog"
	"time"

	"event-voucher/internal/domain/event"
	"event-voucher/internal/pkg/clock"
	"event-voucher/internal/pkg/config"
	"event-voucher/internal/pkg/errs"
	"event-voucher/internal/pkg/metrics"
	"event-voucher/internal/usecase/shared"
)

// Report summarises one sweep.
type Report struct {
	Scanned   int
	Reclaimed int
	Failed    int
}

// Sweeper clears leases whose holder stopped renewing. It only clears a lease
// that is still exactly the one it observed, so a lease re-acquired between
// scan and write survives.
type Sweeper struct {
	store     shared.AtomicResourceStore
	clock     clock.Clock
	ttl       time.Duration
	interval  time.Duration
	batchSize int
	strategy  string
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

func New(store shared.AtomicResourceStore, clk clock.Clock, cfg config.LeaseConfig, logger *slog.Logger, m *metrics.Metrics) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.New()
	}
	batch := cfg.SweepBatch
	if batch <= 0 {
		batch = 100
	}
	return &Sweeper{
		store:     store,
		clock:     clk,
		ttl:       cfg.TTL,
		interval:  cfg.SweepInterval,
		batchSize: batch,
		strategy:  cfg.Strategy,
		logger:    logger.With("component", "sweeper"),
		metrics:   m,
	}
}

func (s *Sweeper) SweepOnce(ctx context.Context) (Report, error) {
	var report Report
	now := s.clock.Now().UTC().Truncate(time.Microsecond)
	cutoff := now.Add(-s.ttl)

	stale, err := s.store.ListStaleLeases(ctx, cutoff, s.batchSize)
	if err != nil {
		return report, errs.Wrap(err, "list stale leases")
	}
	report.Scanned = len(stale)

	var opts []shared.UpdateOption
	if s.strategy == config.LeaseStrategyIndexed {
		opts = append(opts, shared.WithLeaseRecord(s.ttl, now))
	}

	for _, snap := range stale {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		cleared := false
		_, err := s.store.UpdateEvent(ctx, snap.EventID, func(ev *event.Event) error {
			cleared = ev.ReclaimIfStale(snap, cutoff)
			if !cleared {
				return shared.ErrSkipWrite
			}
			return nil
		}, opts...)
		if err != nil {
			report.Failed++
			s.logger.Warn("failed to reclaim lease", "event_id", snap.EventID, "error", err.Error())
			continue
		}
		if cleared {
			report.Reclaimed++
			s.logger.Info("reclaimed expired lease",
				"event_id", snap.EventID,
				"holder", snap.EditingBy,
				"last_edited_at", snap.LastEditedAt)
		}
	}
	s.metrics.SweptLeases.Add(float64(report.Reclaimed))
	return report, nil
}

// Run sweeps once immediately, then every interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	s.sweep(ctx)

	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	report, err := s.SweepOnce(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Error("sweep failed", "error", err.Error())
		}
		return
	}
	if report.Scanned > 0 {
		s.logger.Debug("sweep finished", "scanned", report.Scanned, "reclaimed", report.Reclaimed, "failed", report.Failed)
	}
}
