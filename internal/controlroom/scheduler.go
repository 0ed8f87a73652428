package controlroom

import (
	"context"
	"log/slog"
	"time"

	"controlroom/internal/logging"
)

// DefaultPollInterval applies when the scheduler is given no interval.
const DefaultPollInterval = 30 * time.Second

// Scheduler drives discovery passes on a fixed interval and on demand. It is
// the only background loop of the control room.
type Scheduler struct {
	svc      *Service
	interval time.Duration
	trigger  chan struct{}
	log      *slog.Logger
}

func NewScheduler(svc *Service, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Scheduler{
		svc:      svc,
		interval: interval,
		trigger:  make(chan struct{}, 1),
		log:      logging.New("scheduler"),
	}
}

func (s *Scheduler) Interval() time.Duration { return s.interval }

// Trigger requests a pass without waiting for it. Requests made while one is
// already pending coalesce; the return value reports whether this call queued
// a new one.
func (s *Scheduler) Trigger() bool {
	select {
	case s.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

// Run executes a pass immediately, then on every tick or trigger until ctx is
// cancelled. Pass failures are logged by the service and never stop the loop.
func (s *Scheduler) Run(ctx context.Context) error {
	s.log.Info("scheduler started", "interval", s.interval)
	s.pass(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopped")
			return nil
		case <-ticker.C:
			s.pass(ctx)
		case <-s.trigger:
			s.pass(ctx)
		}
	}
}

func (s *Scheduler) pass(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	_, _ = s.svc.Discover(ctx)
}
