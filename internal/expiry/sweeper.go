// Package expiry runs the periodic maintenance jobs of the booking engine:
// releasing lapsed payment holds, closing lapsed waitlist offers and
// completing sessions that have ended.
package expiry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// HoldExpirer releases bookings whose payment hold has lapsed.
type HoldExpirer interface {
	ExpireHolds(ctx context.Context) (int, error)
}

// SessionCompleter marks ended sessions as completed.
type SessionCompleter interface {
	CompleteElapsedSessions(ctx context.Context) (int, error)
}

// OfferExpirer closes waitlist offers nobody claimed in time.
type OfferExpirer interface {
	ExpireWaitlistOffers(ctx context.Context) (int, error)
}

// Sweeper drives its jobs on a fixed interval.
type Sweeper struct {
	cron      *cron.Cron
	holds     HoldExpirer
	offers    OfferExpirer
	sessions  SessionCompleter
	interval  time.Duration
	timeout   time.Duration
	logger    *slog.Logger
	mu        sync.Mutex
	running   bool
	lastSweep time.Time
}

// NewSweeper builds a Sweeper. Either job may be nil.
func NewSweeper(holds HoldExpirer, sessions SessionCompleter, interval time.Duration, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	if interval < time.Second {
		interval = time.Minute
	}
	return &Sweeper{
		cron:     cron.New(cron.WithSeconds()),
		holds:    holds,
		sessions: sessions,
		interval: interval,
		timeout:  interval,
		logger:   logger.With("component", "expiry"),
	}
}

// WithOffers adds the waitlist offer job. Call it before Start.
func (s *Sweeper) WithOffers(offers OfferExpirer) *Sweeper {
	s.offers = offers
	return s
}

// Start schedules the sweep and starts the cron runner.
func (s *Sweeper) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errors.New("sweeper already started")
	}

	spec := "@every " + s.interval.String()
	if _, err := s.cron.AddFunc(spec, s.sweep); err != nil {
		return fmt.Errorf("schedule sweep %q: %w", spec, err)
	}
	s.cron.Start()
	s.running = true
	s.logger.Info("sweeper started", "interval", s.interval.String())
	return nil
}

// Stop halts the runner and waits for an in-flight sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("sweeper stopped")
}

// LastSweep reports when the last sweep finished.
func (s *Sweeper) LastSweep() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSweep
}

func (s *Sweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if _, err := s.RunOnce(ctx); err != nil {
		s.logger.Error("sweep failed", "error", err)
	}
}

// Result counts what a single sweep changed.
type Result struct {
	Expired       int
	OffersExpired int
	Completed     int
}

// RunOnce runs every job once. A failing job does not prevent the others
// from running; their errors are joined.
func (s *Sweeper) RunOnce(ctx context.Context) (Result, error) {
	var (
		result Result
		errs   []error
	)

	if s.holds != nil {
		expired, err := s.holds.ExpireHolds(ctx)
		result.Expired = expired
		if err != nil {
			errs = append(errs, fmt.Errorf("expire holds: %w", err))
		}
	}
	if s.offers != nil {
		offers, err := s.offers.ExpireWaitlistOffers(ctx)
		result.OffersExpired = offers
		if err != nil {
			errs = append(errs, fmt.Errorf("expire waitlist offers: %w", err))
		}
	}
	if s.sessions != nil {
		completed, err := s.sessions.CompleteElapsedSessions(ctx)
		result.Completed = completed
		if err != nil {
			errs = append(errs, fmt.Errorf("complete sessions: %w", err))
		}
	}

	s.mu.Lock()
	s.lastSweep = time.Now()
	s.mu.Unlock()

	if result.Expired > 0 || result.OffersExpired > 0 || result.Completed > 0 {
		s.logger.InfoContext(ctx, "sweep finished",
			"expired", result.Expired, "offers_expired", result.OffersExpired, "completed", result.Completed)
	} else {
		s.logger.DebugContext(ctx, "sweep finished")
	}
	return result, errors.Join(errs...)
}
