package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Sweep is a periodic maintenance task. Run returns the number of rows it
// affected.
type Sweep struct {
	Name    string
	Timeout time.Duration
	Run     func(ctx context.Context) (int64, error)
}

// NewScheduler registers every sweep on cfg.SweepSchedule, evaluated in
// cfg.Timezone. A run is skipped while the previous run of the same sweep is
// still going. The caller starts and stops the returned scheduler.
func NewScheduler(cfg *WorkerConfig, logger *slog.Logger, metrics *WorkerMetrics, sweeps ...Sweep) (*cron.Cron, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		logger.Error("invalid timezone, using UTC", slog.String("timezone", cfg.Timezone), slog.Any("error", err))
		loc = time.UTC
	}
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	for _, s := range sweeps {
		if _, err := c.AddFunc(cfg.SweepSchedule, func() {
			RunSweep(context.Background(), logger, metrics, s)
		}); err != nil {
			return nil, fmt.Errorf("schedule sweep %s: %w", s.Name, err)
		}
	}
	return c, nil
}

// RunSweep executes s once with its timeout, logging and recording the run.
func RunSweep(ctx context.Context, logger *slog.Logger, metrics *WorkerMetrics, s Sweep) {
	start := time.Now()
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	n, err := s.Run(ctx)
	took := time.Since(start)
	if metrics != nil {
		metrics.RecordSweep(s.Name, err, took, n)
	}
	if err != nil {
		logger.Error("sweep failed", slog.String("sweep", s.Name), slog.Any("error", err))
		return
	}
	if n > 0 {
		logger.Info("sweep completed",
			slog.String("sweep", s.Name),
			slog.Int64("affected", n),
			slog.Duration("duration", took))
		return
	}
	logger.Debug("sweep completed", slog.String("sweep", s.Name), slog.Duration("duration", took))
}
