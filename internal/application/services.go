package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/training-booking/internal/payment"
	"github.com/example/training-booking/internal/persistence"
	"github.com/example/training-booking/internal/recurrence"
	"github.com/example/training-booking/internal/scheduler"
)

// PaymentGateway opens hosted checkouts for bookings.
type PaymentGateway interface {
	Name() string
	InitiateCheckout(ctx context.Context, req payment.CheckoutRequest) (payment.Checkout, error)
}

// EventPublisher receives domain events after they are committed.
type EventPublisher interface {
	Publish(ctx context.Context, eventType string, payload any)
}

// CourseCatalog resolves courses for scheduling and booking.
type CourseCatalog interface {
	GetCourse(ctx context.Context, id string) (Course, error)
}

// Config tunes the engine. Zero values fall back to defaults.
type Config struct {
	HoldWindow          time.Duration
	MaxReserveAttempts  int
	RetryBackoff        time.Duration
	StrictConflicts     bool
	ReportCacheTTL      time.Duration
	ReportCacheSize     int
	Location            *time.Location
	MaxOccurrences      int
	DefaultCapacity     int
	Currency            string
	// WaitlistOfferWindow is how long a waitlisted student may claim an
	// offered seat before the offer moves on.
	WaitlistOfferWindow time.Duration
}

const (
	defaultHoldWindow         = 30 * time.Minute
	defaultMaxReserveAttempts = 5
	defaultRetryBackoff       = 10 * time.Millisecond
	defaultReportCacheTTL     = 30 * time.Second
	defaultCapacity           = 20
	defaultCurrency           = "JPY"
	defaultWaitlistOffer      = 24 * time.Hour
)

func (c Config) withDefaults() Config {
	if c.HoldWindow <= 0 {
		c.HoldWindow = defaultHoldWindow
	}
	if c.MaxReserveAttempts <= 0 {
		c.MaxReserveAttempts = defaultMaxReserveAttempts
	}
	if c.RetryBackoff < 0 {
		c.RetryBackoff = 0
	} else if c.RetryBackoff == 0 {
		c.RetryBackoff = defaultRetryBackoff
	}
	if c.ReportCacheTTL <= 0 {
		c.ReportCacheTTL = defaultReportCacheTTL
	}
	if c.DefaultCapacity <= 0 {
		c.DefaultCapacity = defaultCapacity
	}
	if c.Currency == "" {
		c.Currency = defaultCurrency
	}
	if c.WaitlistOfferWindow <= 0 {
		c.WaitlistOfferWindow = defaultWaitlistOffer
	}
	return c
}

// Dependencies are the collaborators shared by every service.
type Dependencies struct {
	Store       persistence.Store
	Gateway     PaymentGateway
	Events      EventPublisher
	Logger      *slog.Logger
	IDGenerator func() string
	Now         func() time.Time
}

// Services groups the engine's entry points. They share one lock manager,
// one report cache and one store.
type Services struct {
	Catalog        *CatalogService
	Schedules      *ScheduleService
	Bookings       *BookingService
	Reconciliation *ReconciliationService
}

// NewServices wires every service around deps.
func NewServices(deps Dependencies, cfg Config) *Services {
	cfg = cfg.withDefaults()
	c := &core{
		store:       deps.Store,
		gateway:     deps.Gateway,
		events:      deps.Events,
		locks:       NewLockManager(),
		recurrence:  recurrence.NewEngine(cfg.Location, recurrence.WithMaxOccurrences(cfg.MaxOccurrences)),
		detector:    scheduler.NewDetector(),
		cfg:         cfg,
		idGenerator: deps.IDGenerator,
		now:         deps.Now,
		logger:      defaultLogger(deps.Logger),
	}
	if c.idGenerator == nil {
		c.idGenerator = func() string { return "" }
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.events == nil {
		c.events = noopPublisher{}
	}
	c.reports = newReportCache(cfg.ReportCacheTTL, cfg.ReportCacheSize, c.now)

	catalog := &CatalogService{core: c}
	c.catalog = catalog
	return &Services{
		Catalog:        catalog,
		Schedules:      &ScheduleService{core: c},
		Bookings:       &BookingService{core: c},
		Reconciliation: &ReconciliationService{core: c},
	}
}

type core struct {
	store       persistence.Store
	gateway     PaymentGateway
	events      EventPublisher
	catalog     CourseCatalog
	locks       *LockManager
	reports     *reportCache
	recurrence  *recurrence.Engine
	detector    *scheduler.Detector
	cfg         Config
	idGenerator func() string
	now         func() time.Time
	logger      *slog.Logger
}

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, string, any) {}

func (c *core) publish(ctx context.Context, eventType string, payload any) {
	c.events.Publish(ctx, eventType, payload)
}

// today returns midnight of the current civil date in the engine's location.
func (c *core) today() time.Time {
	return c.recurrence.CivilDate(c.now().In(c.recurrence.Location()))
}

// cancelSession moves a scheduled session to cancelled under its lock.
// Cancelling an already cancelled session is a no-op.
func (c *core) cancelSession(ctx context.Context, id string) (session Session, changed bool, err error) {
	unlock, err := c.locks.Lock(ctx, sessionLockKey(id))
	if err != nil {
		return Session{}, false, err
	}
	defer unlock()

	err = c.retry(ctx, "cancel session", func() error {
		rec, err := c.store.GetSession(ctx, id)
		if err != nil {
			return mapStoreError("get session", err)
		}
		switch SessionStatus(rec.Status) {
		case SessionCancelled:
			session, err = sessionFromRecord(c.recurrence, rec)
			changed = false
			return err
		case SessionCompleted:
			return &SessionNotScheduledError{SessionID: id, Status: SessionCompleted}
		}
		updated, err := c.store.UpdateSessionStatus(ctx, id, string(SessionCancelled), rec.Version, c.now())
		if err != nil {
			if errors.Is(err, persistence.ErrVersionConflict) {
				return &ConcurrencyConflictError{Entity: "session", ID: id}
			}
			return mapStoreError("cancel session", err)
		}
		session, err = sessionFromRecord(c.recurrence, updated)
		changed = true
		return err
	})
	if err != nil {
		return Session{}, false, err
	}
	if changed {
		c.reports.Invalidate()
	}
	return session, changed, nil
}

// cancelSessions cancels every listed session and reports how many changed.
func (c *core) cancelSessions(ctx context.Context, recs []persistence.Session) (int, []Session, error) {
	cancelled := make([]Session, 0, len(recs))
	var errs []error
	for _, rec := range recs {
		session, changed, err := c.cancelSession(ctx, rec.ID)
		if err != nil {
			if errors.Is(err, ErrSessionNotScheduled) {
				continue
			}
			errs = append(errs, err)
			continue
		}
		if changed {
			cancelled = append(cancelled, session)
		}
	}
	return len(cancelled), cancelled, errors.Join(errs...)
}

// retry runs fn until it succeeds or fails with something other than a lost
// version check or a transient store error. Exhausted retries surface as
// TransientStoreError, never as ConcurrencyConflictError.
func (c *core) retry(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 1; ; attempt++ {
		err = fn()
		if err == nil || !retryable(err) {
			return err
		}
		if attempt >= c.cfg.MaxReserveAttempts {
			break
		}
		if sleepErr := sleepContext(ctx, c.cfg.RetryBackoff*time.Duration(attempt)); sleepErr != nil {
			return sleepErr
		}
	}
	var transient *TransientStoreError
	if errors.As(err, &transient) {
		return err
	}
	return &TransientStoreError{Op: op, Err: fmt.Errorf("retries exhausted: %v", err)}
}

func retryable(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict) || errors.Is(err, ErrTransientStore)
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

// mapStoreError translates persistence failures into the engine's taxonomy.
func mapStoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var claim *persistence.ClaimError
	if errors.As(err, &claim) {
		switch {
		case errors.Is(claim.Err, persistence.ErrCapacityExceeded):
			return &SessionFullError{SessionID: claim.SessionID}
		case errors.Is(claim.Err, persistence.ErrNotScheduled):
			return &SessionNotScheduledError{SessionID: claim.SessionID}
		case errors.Is(claim.Err, persistence.ErrVersionConflict):
			return &ConcurrencyConflictError{Entity: "session", ID: claim.SessionID}
		case errors.Is(claim.Err, persistence.ErrNotFound):
			return fmt.Errorf("session %s: %w", claim.SessionID, ErrNotFound)
		}
	}

	switch {
	case errors.Is(err, persistence.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, persistence.ErrDuplicate):
		return ErrAlreadyExists
	case errors.Is(err, persistence.ErrVersionConflict):
		return &ConcurrencyConflictError{Entity: op}
	case errors.Is(err, persistence.ErrTransient):
		return &TransientStoreError{Op: op, Err: err}
	case errors.Is(err, persistence.ErrConstraintViolation):
		vErr := &ValidationError{}
		vErr.add("record", "violates a storage constraint")
		return vErr
	}
	return fmt.Errorf("%s: %w", op, err)
}

func uniqueStrings(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, value := range values {
		if value == "" {
			continue
		}
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		result = append(result, value)
	}
	return result
}
