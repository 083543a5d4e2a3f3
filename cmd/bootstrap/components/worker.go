package components

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"event-voucher/internal/infra/mailer"
	"event-voucher/internal/pkg/clock"
	"event-voucher/internal/pkg/config"
	"event-voucher/internal/pkg/metrics"
	"event-voucher/internal/usecase/shared"
	"event-voucher/internal/worker/dispatcher"
	"event-voucher/internal/worker/sweeper"

	"go.uber.org/fx"
)

var WorkerModule = fx.Module("worker",
	fx.Provide(
		newDeliverer,
		func(store shared.AtomicResourceStore, clk clock.Clock, cfg config.LeaseConfig, logger *slog.Logger, m *metrics.Metrics) *sweeper.Sweeper {
			return sweeper.New(store, clk, cfg, logger, m)
		},
		func(queue shared.JobQueue, d shared.Deliverer, clk clock.Clock, cfg config.NotifyConfig, logger *slog.Logger, m *metrics.Metrics) *dispatcher.Dispatcher {
			return dispatcher.New(queue, d, clk, cfg, logger, m)
		},
	),
	fx.Invoke(
		runInBackground[*sweeper.Sweeper]("sweeper"),
		runInBackground[*dispatcher.Dispatcher]("dispatcher"),
	),
)

// newDeliverer closes broker connections once the dispatcher has drained.
func newDeliverer(lc fx.Lifecycle, cfg config.MailConfig, notify config.NotifyConfig, clk clock.Clock, logger *slog.Logger) (shared.Deliverer, error) {
	d, err := mailer.New(cfg, notify.Timeout, clk, logger)
	if err != nil {
		return nil, err
	}
	if c, ok := d.(io.Closer); ok {
		lc.Append(fx.StopHook(c.Close))
	}
	logger.Info("notification transport ready", "transport", cfg.Transport)
	return d, nil
}

type runner interface {
	Run(ctx context.Context) error
}

// runInBackground starts w on app start and waits for it to drain on stop.
func runInBackground[T runner](name string) func(lc fx.Lifecycle, w T, logger *slog.Logger) {
	return func(lc fx.Lifecycle, w T, logger *slog.Logger) {
		var (
			cancel context.CancelFunc
			wg     sync.WaitGroup
		)
		lc.Append(fx.Hook{
			OnStart: func(context.Context) error {
				var ctx context.Context
				ctx, cancel = context.WithCancel(context.Background())
				wg.Add(1)
				go func() {
					defer wg.Done()
					logger.Info("worker started", "worker", name)
					if err := w.Run(ctx); err != nil {
						logger.Error("worker stopped with error", "worker", name, "error", err.Error())
					}
				}()
				return nil
			},
			OnStop: func(ctx context.Context) error {
				cancel()
				done := make(chan struct{})
				go func() {
					wg.Wait()
					close(done)
				}()
				select {
				case <-done:
					logger.Info("worker stopped", "worker", name)
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			},
		})
	}
}
