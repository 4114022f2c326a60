// Package schedule runs a job at a fixed time of day and then every
// repeating period after it.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// TimeOfDay is a wall clock time in hours and minutes.
type TimeOfDay struct {
	Hour   int
	Minute int
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// ParseTimeOfDay parses "HH:MM".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	parsed, err := time.Parse("15:04", s)
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("parse time of day %q: %w", s, err)
	}
	return TimeOfDay{Hour: parsed.Hour(), Minute: parsed.Minute()}, nil
}

// FirstTrigger returns today's occurrence of tod in loc. It may lie in the past.
func FirstTrigger(now time.Time, tod TimeOfDay, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	local := now.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), tod.Hour, tod.Minute, 0, 0, loc)
}

// NextTrigger returns the smallest trigger + k*interval, k >= 0, that is not
// before now.
func NextTrigger(trigger, now time.Time, interval time.Duration) time.Time {
	if interval <= 0 || !trigger.Before(now) {
		return trigger
	}
	behind := now.Sub(trigger)
	k := behind / interval
	if behind%interval != 0 {
		k++
	}
	return trigger.Add(k * interval)
}

// Job is one scheduled unit of work.
type Job func(ctx context.Context) error

// Config controls a Scheduler.
type Config struct {
	StartTime TimeOfDay
	Interval  time.Duration
	Location  *time.Location
}

// Scheduler fires a job on the configured cadence.
type Scheduler struct {
	cfg    Config
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
	fatal  func(error) bool
	logger *zap.Logger
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithSleep overrides the context-aware sleep.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(s *Scheduler) { s.sleep = sleep }
}

// WithFatal decides which job errors stop the scheduler. By default none do.
func WithFatal(fatal func(error) bool) Option {
	return func(s *Scheduler) { s.fatal = fatal }
}

// New creates a Scheduler.
func New(cfg Config, logger *zap.Logger, opts ...Option) (*Scheduler, error) {
	if cfg.Interval <= 0 {
		return nil, errors.New("repeating period must be > 0")
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Scheduler{
		cfg:    cfg,
		now:    time.Now,
		sleep:  sleepContext,
		fatal:  func(error) bool { return false },
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Run loops until ctx is canceled or job returns a fatal error. Other job
// errors are logged and the next trigger is awaited. Cancellation returns nil.
func (s *Scheduler) Run(ctx context.Context, job Job) error {
	trigger := FirstTrigger(s.now(), s.cfg.StartTime, s.cfg.Location)
	for {
		if ctx.Err() != nil {
			s.logger.Info("scheduler stopped")
			return nil
		}
		now := s.now()
		trigger = NextTrigger(trigger, now, s.cfg.Interval)
		wait := trigger.Sub(now)
		s.logger.Info("waiting for next crawl", zap.Time("next_run", trigger), zap.Duration("wait", wait))
		if err := s.sleep(ctx, wait); err != nil {
			if ctx.Err() != nil {
				s.logger.Info("scheduler stopped")
				return nil
			}
			return fmt.Errorf("scheduler sleep: %w", err)
		}

		err := job(ctx)
		switch {
		case err == nil:
		case ctx.Err() != nil:
			s.logger.Info("scheduler stopped", zap.Error(err))
			return nil
		case s.fatal(err):
			return err
		default:
			s.logger.Error("crawl failed; waiting for next trigger", zap.Error(err))
		}
		// The trigger that just fired is spent even if the job finished
		// within the same instant.
		trigger = trigger.Add(s.cfg.Interval)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
