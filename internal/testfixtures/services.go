package testfixtures

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/example/training-booking/internal/application"
	"github.com/example/training-booking/internal/payment"
	"github.com/example/training-booking/internal/persistence"
	"github.com/example/training-booking/internal/persistence/memory"
)

// Stack is a fully wired engine over one store with a fake gateway,
// deterministic ids and a controllable clock.
type Stack struct {
	Services *application.Services
	Store    persistence.Store
	Clock    *Clock
	IDs      *IDGenerator
	Gateway  *payment.FakeGateway
}

type stackConfig struct {
	store  persistence.Store
	clock  *Clock
	events application.EventPublisher
	logger *slog.Logger
	config application.Config
}

// StackOption configures NewStack.
type StackOption func(*stackConfig)

// WithStore runs the stack against store instead of a fresh memory store.
func WithStore(store persistence.Store) StackOption {
	return func(c *stackConfig) { c.store = store }
}

func WithClock(clock *Clock) StackOption {
	return func(c *stackConfig) { c.clock = clock }
}

func WithEvents(events application.EventPublisher) StackOption {
	return func(c *stackConfig) { c.events = events }
}

func WithLogger(logger *slog.Logger) StackOption {
	return func(c *stackConfig) { c.logger = logger }
}

// WithConfig adjusts the engine configuration before the services are built.
func WithConfig(mutate func(*application.Config)) StackOption {
	return func(c *stackConfig) { mutate(&c.config) }
}

// NewStack wires application services for tests. Retries run without backoff
// and the engine schedules in Tokyo.
func NewStack(tb testing.TB, opts ...StackOption) *Stack {
	tb.Helper()

	cfg := stackConfig{
		config: application.Config{HoldWindow: DefaultHoldWindow, RetryBackoff: -1, Location: Tokyo},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.store == nil {
		cfg.store = memory.New()
	}
	if cfg.clock == nil {
		cfg.clock = NewClock(ReferenceTime())
	}
	if cfg.logger == nil {
		cfg.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	checkouts := NewIDGenerator("chk")
	ids := NewIDGenerator("id")
	gateway := payment.NewFakeGateway("https://pay.example.test").WithIDs(checkouts.Next)

	services := application.NewServices(application.Dependencies{
		Store:       cfg.store,
		Gateway:     gateway,
		Events:      cfg.events,
		Logger:      cfg.logger,
		IDGenerator: ids.NextFunc(),
		Now:         cfg.clock.NowFunc(),
	}, cfg.config)

	return &Stack{Services: services, Store: cfg.store, Clock: cfg.clock, IDs: ids, Gateway: gateway}
}

// MustCourse upserts a course and fails the test on error.
func (s *Stack) MustCourse(tb testing.TB, courseID string, input application.CourseInput) application.Course {
	tb.Helper()
	course, err := s.Services.Catalog.UpsertCourse(context.Background(), courseID, input)
	if err != nil {
		tb.Fatalf("UpsertCourse(%s) error = %v", courseID, err)
	}
	return course
}

// MustSchedule commits a schedule and fails the test on error.
func (s *Stack) MustSchedule(tb testing.TB, courseID string, rule application.RuleInput) application.CommitResult {
	tb.Helper()
	result, err := s.Services.Schedules.CreateSchedule(context.Background(), courseID, rule)
	if err != nil {
		tb.Fatalf("CreateSchedule(%s) error = %v", courseID, err)
	}
	return result
}
