package snapshot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
)

// Saver writes a snapshot of a Source to every sink on a fixed interval.
type Saver struct {
	source   Source
	sinks    []Sink
	interval time.Duration
	logger   *zap.Logger
}

// NewSaver creates a saver. At least one sink is required.
func NewSaver(source Source, interval time.Duration, sinks []Sink, logger *zap.Logger) (*Saver, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("snapshot: interval must be positive, got %s", interval)
	}
	if len(sinks) == 0 {
		return nil, errors.New("snapshot: no sinks configured")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Saver{source: source, sinks: sinks, interval: interval, logger: logger}, nil
}

// SaveNow writes one snapshot. It is a no-op while the source is empty.
// Every sink is attempted; their errors are joined.
func (s *Saver) SaveNow(ctx context.Context) error {
	if s.source.TotalCount() == 0 {
		s.logger.Debug("no results to save, skipping snapshot")
		return nil
	}

	snap := Build(s.source.AllResults())
	var errs []error
	for _, sink := range s.sinks {
		start := time.Now()
		if err := sink.Write(ctx, snap); err != nil {
			s.logger.Error("snapshot write failed", zap.String("sink", sink.Name()), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", sink.Name(), err))
			continue
		}
		s.logger.Info("snapshot saved",
			zap.String("sink", sink.Name()),
			zap.Int("results", snap.Len()),
			zap.Duration("took", time.Since(start)))
	}
	return errors.Join(errs...)
}

// Run saves on schedule until ctx is cancelled, then saves once more.
func (s *Saver) Run(ctx context.Context) error {
	cron, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("snapshot: create scheduler: %w", err)
	}

	_, err = cron.NewJob(
		gocron.DurationJob(s.interval),
		gocron.NewTask(func() { _ = s.SaveNow(ctx) }),
		gocron.WithName("save-results"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = cron.Shutdown()
		return fmt.Errorf("snapshot: schedule job: %w", err)
	}

	s.logger.Info("periodic snapshot enabled", zap.Duration("interval", s.interval), zap.Int("sinks", len(s.sinks)))
	cron.Start()

	<-ctx.Done()
	if err := cron.Shutdown(); err != nil {
		s.logger.Warn("snapshot scheduler shutdown", zap.Error(err))
	}

	flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.SaveNow(flushCtx); err != nil {
		s.logger.Warn("final snapshot incomplete", zap.Error(err))
	}
	return nil
}
