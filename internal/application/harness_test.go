package application

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/example/training-booking/internal/payment"
	"github.com/example/training-booking/internal/persistence/memory"
)

var jst = time.FixedZone("JST", 9*60*60)

type testClock struct {
	mu      sync.Mutex
	current time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.current = c.current.Add(d)
	c.mu.Unlock()
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []string
}

func (p *recordingPublisher) Publish(_ context.Context, eventType string, _ any) {
	p.mu.Lock()
	p.events = append(p.events, eventType)
	p.mu.Unlock()
}

func (p *recordingPublisher) count(eventType string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e == eventType {
			n++
		}
	}
	return n
}

type harness struct {
	svc     *Services
	store   *memory.Storage
	clock   *testClock
	events  *recordingPublisher
	gateway *payment.FakeGateway
}

type harnessOption func(*Config)

func withStrictConflicts() harnessOption {
	return func(c *Config) { c.StrictConflicts = true }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	var seq, checkoutSeq atomic.Int64
	h := &harness{
		store:  memory.New(),
		clock:  &testClock{current: time.Date(2025, time.January, 1, 10, 0, 0, 0, jst)},
		events: &recordingPublisher{},
	}
	h.gateway = payment.NewFakeGateway("https://pay.example.test").WithIDs(func() string {
		return fmt.Sprintf("chk-%d", checkoutSeq.Add(1))
	})

	cfg := Config{
		HoldWindow:   15 * time.Minute,
		RetryBackoff: -1,
		Location:     jst,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	h.svc = NewServices(Dependencies{
		Store:       h.store,
		Gateway:     h.gateway,
		Events:      h.events,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		IDGenerator: func() string { return fmt.Sprintf("id-%04d", seq.Add(1)) },
		Now:         h.clock.Now,
	}, cfg)
	return h
}

func (h *harness) course(t *testing.T, id string, input CourseInput) Course {
	t.Helper()
	if input.Title == "" {
		input.Title = "Course " + id
	}
	if input.LocationID == "" {
		input.LocationID = "loc-1"
	}
	if input.InstructorID == "" {
		input.InstructorID = "inst-1"
	}
	course, err := h.svc.Catalog.UpsertCourse(context.Background(), id, input)
	if err != nil {
		t.Fatalf("UpsertCourse(%s) error = %v", id, err)
	}
	return course
}

func (h *harness) schedule(t *testing.T, courseID string, rule RuleInput) CommitResult {
	t.Helper()
	result, err := h.svc.Schedules.CreateSchedule(context.Background(), courseID, rule)
	if err != nil {
		t.Fatalf("CreateSchedule(%s) error = %v", courseID, err)
	}
	return result
}

func (h *harness) reserve(t *testing.T, courseID string, sessionIDs ...string) Booking {
	t.Helper()
	booking, err := h.svc.Bookings.Reserve(context.Background(), reserveParams(courseID, sessionIDs...))
	if err != nil {
		t.Fatalf("Reserve() error = %v", err)
	}
	return booking
}

func (h *harness) enrollment(t *testing.T, sessionID string) int {
	t.Helper()
	session, err := h.svc.Schedules.GetSession(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("GetSession(%s) error = %v", sessionID, err)
	}
	return session.CurrentEnrollment
}

func reserveParams(courseID string, sessionIDs ...string) ReserveParams {
	return ReserveParams{
		CourseID:   courseID,
		SessionIDs: sessionIDs,
		Student:    Student{ID: "stu-1", Name: "Hanako Yamada", Email: "hanako@example.com"},
	}
}

func onceRule(date, start, end string) RuleInput {
	return RuleInput{Kind: "once", StartDate: date, StartTime: start, EndTime: end}
}
