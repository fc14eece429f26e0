package host

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
)

// Reclaimer periodically requeues assignments that have been held longer
// than a timeout. It is off unless the host configures a timeout.
type Reclaimer struct {
	scheduler *Scheduler
	maxAge    time.Duration
	interval  time.Duration
	logger    *zap.Logger
}

// NewReclaimer checks for expired assignments every interval. A zero
// interval defaults to half of maxAge, at least one second.
func NewReclaimer(scheduler *Scheduler, maxAge, interval time.Duration, logger *zap.Logger) (*Reclaimer, error) {
	if maxAge <= 0 {
		return nil, fmt.Errorf("reclaimer: assignment timeout must be positive, got %s", maxAge)
	}
	if interval <= 0 {
		interval = max(maxAge/2, time.Second)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reclaimer{
		scheduler: scheduler,
		maxAge:    maxAge,
		interval:  interval,
		logger:    logger,
	}, nil
}

// Sweep requeues expired assignments once.
func (r *Reclaimer) Sweep() int {
	ids := r.scheduler.ReclaimExpired(r.maxAge)
	if len(ids) > 0 {
		r.logger.Warn("reclaimed expired assignments",
			zap.Int("count", len(ids)),
			zap.Duration("timeout", r.maxAge))
	}
	return len(ids)
}

// Run sweeps on schedule until ctx is cancelled.
func (r *Reclaimer) Run(ctx context.Context) error {
	cron, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("reclaimer: create scheduler: %w", err)
	}

	_, err = cron.NewJob(
		gocron.DurationJob(r.interval),
		gocron.NewTask(func() { r.Sweep() }),
		gocron.WithName("reclaim-assignments"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = cron.Shutdown()
		return fmt.Errorf("reclaimer: schedule job: %w", err)
	}

	r.logger.Info("assignment reclaimer started",
		zap.Duration("timeout", r.maxAge),
		zap.Duration("interval", r.interval))
	cron.Start()

	<-ctx.Done()
	if err := cron.Shutdown(); err != nil {
		r.logger.Warn("reclaimer shutdown", zap.Error(err))
	}
	return nil
}
