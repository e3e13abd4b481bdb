package expiry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

type holdExpirerStub struct {
	calls atomic.Int32
	n     int
	err   error
}

func (s *holdExpirerStub) ExpireHolds(context.Context) (int, error) {
	s.calls.Add(1)
	return s.n, s.err
}

type sessionCompleterStub struct {
	calls atomic.Int32
	n     int
	err   error
}

func (s *sessionCompleterStub) CompleteElapsedSessions(context.Context) (int, error) {
	s.calls.Add(1)
	return s.n, s.err
}

type offerExpirerStub struct {
	calls atomic.Int32
	n     int
	err   error
}

func (s *offerExpirerStub) ExpireWaitlistOffers(context.Context) (int, error) {
	s.calls.Add(1)
	return s.n, s.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSweeper_RunOnce(t *testing.T) {
	t.Parallel()

	t.Run("counts both jobs", func(t *testing.T) {
		t.Parallel()

		holds := &holdExpirerStub{n: 2}
		sessions := &sessionCompleterStub{n: 5}
		sweeper := NewSweeper(holds, sessions, time.Minute, discardLogger())

		result, err := sweeper.RunOnce(context.Background())
		if err != nil {
			t.Fatalf("RunOnce() error = %v", err)
		}
		if result.Expired != 2 || result.Completed != 5 {
			t.Fatalf("unexpected result %+v", result)
		}
		if sweeper.LastSweep().IsZero() {
			t.Fatalf("LastSweep not recorded")
		}
	})

	t.Run("a failing job does not stop the other", func(t *testing.T) {
		t.Parallel()

		boom := errors.New("boom")
		holds := &holdExpirerStub{err: boom}
		sessions := &sessionCompleterStub{n: 1}
		sweeper := NewSweeper(holds, sessions, time.Minute, discardLogger())

		result, err := sweeper.RunOnce(context.Background())
		if !errors.Is(err, boom) {
			t.Fatalf("expected joined error, got %v", err)
		}
		if sessions.calls.Load() != 1 || result.Completed != 1 {
			t.Fatalf("session job should still run, result %+v", result)
		}
	})

	t.Run("expires waitlist offers", func(t *testing.T) {
		t.Parallel()

		boom := errors.New("boom")
		holds := &holdExpirerStub{n: 1}
		offers := &offerExpirerStub{n: 3, err: boom}
		sessions := &sessionCompleterStub{n: 2}
		sweeper := NewSweeper(holds, sessions, time.Minute, discardLogger()).WithOffers(offers)

		result, err := sweeper.RunOnce(context.Background())
		if !errors.Is(err, boom) {
			t.Fatalf("expected offer error to be joined, got %v", err)
		}
		if offers.calls.Load() != 1 {
			t.Fatalf("offer job calls = %d, want 1", offers.calls.Load())
		}
		if result.Expired != 1 || result.OffersExpired != 3 || result.Completed != 2 {
			t.Fatalf("unexpected result %+v", result)
		}
	})

	t.Run("nil jobs are skipped", func(t *testing.T) {
		t.Parallel()

		sweeper := NewSweeper(nil, nil, time.Minute, nil)
		if _, err := sweeper.RunOnce(context.Background()); err != nil {
			t.Fatalf("RunOnce() error = %v", err)
		}
	})
}

func TestSweeper_StartRunsOnInterval(t *testing.T) {
	t.Parallel()

	holds := &holdExpirerStub{}
	sessions := &sessionCompleterStub{}
	sweeper := NewSweeper(holds, sessions, time.Second, discardLogger())

	if err := sweeper.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := sweeper.Start(); err == nil {
		t.Fatalf("second Start should fail")
	}

	deadline := time.Now().Add(5 * time.Second)
	for holds.calls.Load() == 0 {
		if time.Now().After(deadline) {
			sweeper.Stop()
			t.Fatalf("sweep never ran")
		}
		time.Sleep(50 * time.Millisecond)
	}
	sweeper.Stop()
	sweeper.Stop()

	if sessions.calls.Load() == 0 {
		t.Fatalf("session completion never ran")
	}
}

func TestNewSweeper_ClampsInterval(t *testing.T) {
	t.Parallel()

	sweeper := NewSweeper(nil, nil, 10*time.Millisecond, discardLogger())
	if sweeper.interval != time.Minute {
		t.Fatalf("interval = %v, want 1m", sweeper.interval)
	}
}
