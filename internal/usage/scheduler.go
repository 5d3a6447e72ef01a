// Package usage schedules periodic resets of the usage ledger counters.
package usage

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/epochapi/epochapi/internal/metrics"
	"github.com/epochapi/epochapi/internal/model"
	"github.com/epochapi/epochapi/internal/store"
)

// Config holds the reset schedules in standard five-field cron syntax,
// evaluated in UTC. An empty schedule disables that reset.
//
// Common expressions:
//   - "0 0 * * *" daily at midnight
//   - "0 0 1 * *" first of the month at midnight
type Config struct {
	DailySchedule   string
	MonthlySchedule string
}

// Scheduler resets ledger counters on cron schedules.
type Scheduler struct {
	ledger  store.Ledger
	metrics metrics.Recorder
	logger  *slog.Logger
	cfg     Config

	daily   cron.Schedule
	monthly cron.Schedule

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

// NewScheduler validates cfg and creates a stopped Scheduler.
func NewScheduler(ledger store.Ledger, cfg Config, recorder metrics.Recorder, logger *slog.Logger) (*Scheduler, error) {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Scheduler{
		ledger:  ledger,
		metrics: recorder,
		logger:  logger.With(slog.String("component", "usage.scheduler")),
		cfg:     cfg,
		cron:    cron.New(cron.WithLocation(time.UTC)),
	}

	var err error
	if s.daily, err = parseSchedule(cfg.DailySchedule); err != nil {
		return nil, fmt.Errorf("daily reset: %w", err)
	}
	if s.monthly, err = parseSchedule(cfg.MonthlySchedule); err != nil {
		return nil, fmt.Errorf("monthly reset: %w", err)
	}

	return s, nil
}

func parseSchedule(spec string) (cron.Schedule, error) {
	if spec == "" {
		return nil, nil
	}
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid cron schedule %q: %w", spec, err)
	}
	return sched, nil
}

// Enabled reports whether any reset is scheduled.
func (s *Scheduler) Enabled() bool {
	return s.daily != nil || s.monthly != nil
}

// Start registers the configured resets and starts the cron runner.
// It does nothing when no schedule is configured. The scheduler stops
// when ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled() {
		s.logger.Info("usage reset schedules not configured, counters accumulate indefinitely")
		return
	}
	if s.running {
		return
	}

	if s.daily != nil {
		s.cron.Schedule(s.daily, cron.FuncJob(func() { s.run(ctx, model.PeriodDay) }))
	}
	if s.monthly != nil {
		s.cron.Schedule(s.monthly, cron.FuncJob(func() { s.run(ctx, model.PeriodMonth) }))
	}

	s.cron.Start()
	s.running = true

	s.logger.Info("usage reset scheduler started",
		slog.String("daily", s.cfg.DailySchedule),
		slog.String("monthly", s.cfg.MonthlySchedule),
	)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
}

// Stop stops the scheduler and waits for a running reset to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	<-s.cron.Stop().Done()
	s.running = false
	s.logger.Info("usage reset scheduler stopped")
}

// IsRunning returns true if the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) run(ctx context.Context, period model.Period) {
	if _, err := s.Reset(ctx, period); err != nil {
		s.logger.Error("scheduled usage reset failed",
			slog.String("period", string(period)),
			slog.String("error", err.Error()),
		)
	}
}

// Reset zeroes the counters for period immediately.
func (s *Scheduler) Reset(ctx context.Context, period model.Period) (int64, error) {
	n, err := s.ledger.Reset(ctx, period)
	if err != nil {
		return 0, err
	}

	s.metrics.AddUsageReset(string(period), n)
	s.logger.Info("usage counters reset",
		slog.String("period", string(period)),
		slog.Int64("records", n),
	)
	return n, nil
}

// NextMonthlyReset returns the first monthly reset after now. Without a
// monthly schedule it is the start of the next calendar month in UTC.
func (s *Scheduler) NextMonthlyReset(now time.Time) time.Time {
	if s == nil || s.monthly == nil {
		return NextMonthStart(now)
	}
	return s.monthly.Next(now.UTC())
}

// NextMonthStart returns midnight UTC on the first day of the month after t.
func NextMonthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, time.UTC)
}
