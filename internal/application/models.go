package application

import (
	"fmt"
	"slices"
	"time"

	"github.com/example/training-booking/internal/payment"
	"github.com/example/training-booking/internal/persistence"
	"github.com/example/training-booking/internal/recurrence"
	"github.com/example/training-booking/internal/scheduler"
)

// SessionStatus is the lifecycle of a dated session.
type SessionStatus string

const (
	SessionScheduled SessionStatus = persistence.SessionScheduled
	SessionCancelled SessionStatus = persistence.SessionCancelled
	SessionCompleted SessionStatus = persistence.SessionCompleted
)

// Valid reports whether s is a known session status.
func (s SessionStatus) Valid() bool {
	switch s {
	case SessionScheduled, SessionCancelled, SessionCompleted:
		return true
	}
	return false
}

// BookingState is the reconciliation state of a booking.
type BookingState string

const (
	StateCreated         BookingState = "created"
	StateAwaitingPayment BookingState = "awaiting_payment"
	StatePaid            BookingState = "paid"
	StateExpired         BookingState = "expired"
	StateAbandoned       BookingState = "abandoned"
	StateWithdrawn       BookingState = "withdrawn"
)

// Open reports whether the booking still holds seats without being paid.
func (s BookingState) Open() bool {
	return s == StateCreated || s == StateAwaitingPayment
}

// Closed reports whether the booking released its seats.
func (s BookingState) Closed() bool {
	return s == StateExpired || s == StateAbandoned || s == StateWithdrawn
}

// BookingStatus is the customer facing status derived from BookingState.
type BookingStatus string

const (
	BookingPending   BookingStatus = "pending"
	BookingConfirmed BookingStatus = "confirmed"
	BookingCancelled BookingStatus = "cancelled"
)

// PaymentStatus is the payment flag derived from BookingState.
type PaymentStatus string

const (
	PaymentUnpaid PaymentStatus = "unpaid"
	PaymentPaid   PaymentStatus = "paid"
)

// statusFor derives the public status pair from a state.
func statusFor(state BookingState) (BookingStatus, PaymentStatus) {
	switch state {
	case StatePaid:
		return BookingConfirmed, PaymentPaid
	case StateExpired, StateAbandoned, StateWithdrawn:
		return BookingCancelled, PaymentUnpaid
	default:
		return BookingPending, PaymentUnpaid
	}
}

// TransactionStatus is the ledger status of one checkout session.
type TransactionStatus string

const (
	TransactionInitiated TransactionStatus = "initiated"
	TransactionPaid      TransactionStatus = "paid"
	TransactionFailed    TransactionStatus = "failed"
	TransactionExpired   TransactionStatus = "expired"
)

// Course is the catalog entry schedules and bookings are made for.
type Course struct {
	ID               string
	SchoolID         string
	Title            string
	LocationID       string
	InstructorID     string
	Capacity         int
	LocationCapacity int
	Price            int64
	Currency         string
	Deleted          bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// CourseInput captures caller provided course fields.
type CourseInput struct {
	SchoolID         string
	Title            string
	LocationID       string
	InstructorID     string
	Capacity         int
	LocationCapacity int
	Price            int64
	Currency         string
}

// sessionCapacity bounds the course capacity by the physical location capacity.
func (c Course) sessionCapacity(defaultCapacity int) int {
	capacity := c.Capacity
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	if c.LocationCapacity > 0 && c.LocationCapacity < capacity {
		capacity = c.LocationCapacity
	}
	return capacity
}

// RuleInput is a recurrence rule as received from callers, before parsing.
type RuleInput struct {
	Kind      string
	StartDate string
	EndDate   string
	StartTime string
	EndTime   string
	Weekdays  []int
	Interval  int
}

// Schedule is a persisted recurrence rule and the number of sessions it produced.
type Schedule struct {
	ID           string
	CourseID     string
	Rule         recurrence.Rule
	SessionCount int
	CreatedAt    time.Time
}

// Session is one dated occurrence with its capacity counters.
type Session struct {
	ID                string
	CourseID          string
	ScheduleID        string
	LocationID        string
	InstructorID      string
	Date              time.Time
	StartTime         recurrence.TimeOfDay
	EndTime           recurrence.TimeOfDay
	MaxCapacity       int
	CurrentEnrollment int
	Status            SessionStatus
	Version           int64
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Remaining returns the number of free seats.
func (s Session) Remaining() int {
	if s.CurrentEnrollment >= s.MaxCapacity {
		return 0
	}
	return s.MaxCapacity - s.CurrentEnrollment
}

// ConflictEntry describes the occupying slot a candidate collides with.
type ConflictEntry struct {
	SessionID string
	Date      time.Time
	StartTime recurrence.TimeOfDay
	EndTime   recurrence.TimeOfDay
}

// ConflictReport lists location and instructor overlaps for a proposed schedule.
type ConflictReport struct {
	HasConflict         bool
	LocationConflicts   []ConflictEntry
	InstructorConflicts []ConflictEntry
}

func (r ConflictReport) clone() ConflictReport {
	out := r
	out.LocationConflicts = slices.Clone(r.LocationConflicts)
	out.InstructorConflicts = slices.Clone(r.InstructorConflicts)
	return out
}

// CommitResult is returned by CreateSchedule.
type CommitResult struct {
	Schedule        Schedule
	SessionsCreated int
	SessionIDs      []string
	Report          ConflictReport
}

// Student identifies who is booking.
type Student struct {
	ID    string
	Name  string
	Email string
	Phone string
}

// ReserveParams wraps the data required to reserve seats.
type ReserveParams struct {
	CourseID   string
	SessionIDs []string
	Student    Student
	Message    string
}

// BookingFilter narrows ListBookings. One of CourseID or StudentID is required.
type BookingFilter struct {
	CourseID  string
	StudentID string
}

// Booking is a student's claim on one or more sessions of a course.
type Booking struct {
	ID                string
	CourseID          string
	StudentID         string
	SessionIDs        []string
	StudentName       string
	StudentEmail      string
	StudentPhone      string
	Message           string
	Status            BookingStatus
	PaymentStatus     PaymentStatus
	State             BookingState
	CheckoutSessionID string
	CheckoutURL       string
	AmountDue         int64
	PricePerSession   int64
	Currency          string
	AmountPaid        *int64
	HoldExpiresAt     time.Time
	BookingDate       time.Time
	PaidAt            *time.Time
	ClosedAt          *time.Time
	Version           int64
	UpdatedAt         time.Time
}

// withState moves the booking to state and keeps the derived statuses in line.
func (b Booking) withState(state BookingState, at time.Time) Booking {
	b.State = state
	b.Status, b.PaymentStatus = statusFor(state)
	b.UpdatedAt = at
	if state.Closed() {
		closed := at
		b.ClosedAt = &closed
	}
	return b
}

// PaymentTransaction is the ledger entry for one checkout session.
type PaymentTransaction struct {
	ID                string
	BookingID         string
	CheckoutSessionID string
	Provider          string
	Amount            int64
	Currency          string
	Status            TransactionStatus
	PaidAt            *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// WaitlistStatus is the lifecycle of a waitlist entry.
type WaitlistStatus string

const (
	WaitlistWaiting  WaitlistStatus = persistence.WaitlistWaiting
	WaitlistOffered  WaitlistStatus = persistence.WaitlistOffered
	WaitlistAccepted WaitlistStatus = persistence.WaitlistAccepted
	WaitlistExpired  WaitlistStatus = persistence.WaitlistExpired
)

// Active reports whether the entry still holds its place in the queue.
func (s WaitlistStatus) Active() bool {
	return s == WaitlistWaiting || s == WaitlistOffered
}

// WaitlistEntry queues a student for the next free seat on a course, or on
// one session of it when SessionID is set.
type WaitlistEntry struct {
	ID             string
	CourseID       string
	SessionID      string
	StudentID      string
	StudentName    string
	StudentEmail   string
	Position       int
	Status         WaitlistStatus
	OfferExpiresAt *time.Time
	Version        int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// wants reports whether a seat on any of sessionIDs satisfies the entry.
func (e WaitlistEntry) wants(sessionIDs []string) bool {
	return e.SessionID == "" || slices.Contains(sessionIDs, e.SessionID)
}

// JoinWaitlistParams wraps the data required to join a course waitlist.
type JoinWaitlistParams struct {
	CourseID  string
	SessionID string
	Student   Student
}

// Checkout is the hosted checkout attached to a booking.
type Checkout = payment.Checkout

func courseFromRecord(rec persistence.Course) Course {
	return Course{
		ID: rec.ID, SchoolID: rec.SchoolID, Title: rec.Title, LocationID: rec.LocationID,
		InstructorID: rec.InstructorID, Capacity: rec.Capacity, LocationCapacity: rec.LocationCapacity,
		Price: rec.Price, Currency: rec.Currency, Deleted: rec.Deleted,
		CreatedAt: rec.CreatedAt, UpdatedAt: rec.UpdatedAt,
	}
}

func (c Course) record() persistence.Course {
	return persistence.Course{
		ID: c.ID, SchoolID: c.SchoolID, Title: c.Title, LocationID: c.LocationID,
		InstructorID: c.InstructorID, Capacity: c.Capacity, LocationCapacity: c.LocationCapacity,
		Price: c.Price, Currency: c.Currency, Deleted: c.Deleted,
		CreatedAt: c.CreatedAt, UpdatedAt: c.UpdatedAt,
	}
}

func (s Schedule) record() persistence.Schedule {
	rec := persistence.Schedule{
		ID:           s.ID,
		CourseID:     s.CourseID,
		Kind:         string(s.Rule.Kind),
		StartDate:    s.Rule.StartDate.Format(recurrence.DateLayout),
		StartTime:    s.Rule.StartTime.String(),
		EndTime:      s.Rule.EndTime.String(),
		Weekdays:     append([]int(nil), s.Rule.Weekdays...),
		Interval:     s.Rule.Interval,
		SessionCount: s.SessionCount,
		CreatedAt:    s.CreatedAt,
	}
	if s.Rule.EndDate.IsZero() {
		rec.EndDate = rec.StartDate
	} else {
		rec.EndDate = s.Rule.EndDate.Format(recurrence.DateLayout)
	}
	return rec
}

func scheduleFromRecord(engine *recurrence.Engine, rec persistence.Schedule) (Schedule, error) {
	start, err := engine.ParseDate(rec.StartDate)
	if err != nil {
		return Schedule{}, fmt.Errorf("schedule %s: start date: %w", rec.ID, err)
	}
	end, err := engine.ParseDate(rec.EndDate)
	if err != nil {
		return Schedule{}, fmt.Errorf("schedule %s: end date: %w", rec.ID, err)
	}
	startTime, err := recurrence.ParseTimeOfDay(rec.StartTime)
	if err != nil {
		return Schedule{}, fmt.Errorf("schedule %s: %w", rec.ID, err)
	}
	endTime, err := recurrence.ParseTimeOfDay(rec.EndTime)
	if err != nil {
		return Schedule{}, fmt.Errorf("schedule %s: %w", rec.ID, err)
	}
	return Schedule{
		ID:       rec.ID,
		CourseID: rec.CourseID,
		Rule: recurrence.Rule{
			Kind:      recurrence.Kind(rec.Kind),
			StartDate: start,
			EndDate:   end,
			StartTime: startTime,
			EndTime:   endTime,
			Weekdays:  append([]int(nil), rec.Weekdays...),
			Interval:  rec.Interval,
		},
		SessionCount: rec.SessionCount,
		CreatedAt:    rec.CreatedAt,
	}, nil
}

func (s Session) record() persistence.Session {
	return persistence.Session{
		ID: s.ID, CourseID: s.CourseID, ScheduleID: s.ScheduleID,
		LocationID: s.LocationID, InstructorID: s.InstructorID,
		Date:      s.Date.Format(recurrence.DateLayout),
		StartTime: s.StartTime.String(), EndTime: s.EndTime.String(),
		MaxCapacity: s.MaxCapacity, CurrentEnrollment: s.CurrentEnrollment,
		Status: string(s.Status), Version: s.Version,
		CreatedAt: s.CreatedAt, UpdatedAt: s.UpdatedAt,
	}
}

func sessionFromRecord(engine *recurrence.Engine, rec persistence.Session) (Session, error) {
	date, err := engine.ParseDate(rec.Date)
	if err != nil {
		return Session{}, fmt.Errorf("session %s: date: %w", rec.ID, err)
	}
	start, err := recurrence.ParseTimeOfDay(rec.StartTime)
	if err != nil {
		return Session{}, fmt.Errorf("session %s: %w", rec.ID, err)
	}
	end, err := recurrence.ParseTimeOfDay(rec.EndTime)
	if err != nil {
		return Session{}, fmt.Errorf("session %s: %w", rec.ID, err)
	}
	return Session{
		ID: rec.ID, CourseID: rec.CourseID, ScheduleID: rec.ScheduleID,
		LocationID: rec.LocationID, InstructorID: rec.InstructorID,
		Date: date, StartTime: start, EndTime: end,
		MaxCapacity: rec.MaxCapacity, CurrentEnrollment: rec.CurrentEnrollment,
		Status: SessionStatus(rec.Status), Version: rec.Version,
		CreatedAt: rec.CreatedAt, UpdatedAt: rec.UpdatedAt,
	}, nil
}

func sessionsFromRecords(engine *recurrence.Engine, recs []persistence.Session) ([]Session, error) {
	sessions := make([]Session, 0, len(recs))
	for _, rec := range recs {
		session, err := sessionFromRecord(engine, rec)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, nil
}

func (s Session) slot() scheduler.Slot {
	return scheduler.Slot{
		SessionID:    s.ID,
		LocationID:   s.LocationID,
		InstructorID: s.InstructorID,
		Date:         s.Date,
		Start:        s.StartTime,
		End:          s.EndTime,
		Inactive:     s.Status != SessionScheduled,
	}
}

func (b Booking) record() persistence.Booking {
	rec := persistence.Booking{
		ID: b.ID, CourseID: b.CourseID, StudentID: b.StudentID,
		SessionIDs:  append([]string(nil), b.SessionIDs...),
		StudentName: b.StudentName, StudentEmail: b.StudentEmail, StudentPhone: b.StudentPhone,
		Message: b.Message, Status: string(b.Status), PaymentStatus: string(b.PaymentStatus),
		State: string(b.State), CheckoutURL: b.CheckoutURL,
		AmountDue: b.AmountDue, PricePerSession: b.PricePerSession, Currency: b.Currency,
		AmountPaid: b.AmountPaid, HoldExpiresAt: b.HoldExpiresAt, BookingDate: b.BookingDate,
		PaidAt: b.PaidAt, ClosedAt: b.ClosedAt, Version: b.Version, UpdatedAt: b.UpdatedAt,
	}
	if b.CheckoutSessionID != "" {
		id := b.CheckoutSessionID
		rec.CheckoutSessionID = &id
	}
	return persistence.CloneBooking(rec)
}

func bookingFromRecord(rec persistence.Booking) Booking {
	rec = persistence.CloneBooking(rec)
	b := Booking{
		ID: rec.ID, CourseID: rec.CourseID, StudentID: rec.StudentID, SessionIDs: rec.SessionIDs,
		StudentName: rec.StudentName, StudentEmail: rec.StudentEmail, StudentPhone: rec.StudentPhone,
		Message: rec.Message, Status: BookingStatus(rec.Status), PaymentStatus: PaymentStatus(rec.PaymentStatus),
		State: BookingState(rec.State), CheckoutURL: rec.CheckoutURL,
		AmountDue: rec.AmountDue, PricePerSession: rec.PricePerSession, Currency: rec.Currency,
		AmountPaid: rec.AmountPaid, HoldExpiresAt: rec.HoldExpiresAt, BookingDate: rec.BookingDate,
		PaidAt: rec.PaidAt, ClosedAt: rec.ClosedAt, Version: rec.Version, UpdatedAt: rec.UpdatedAt,
	}
	if rec.CheckoutSessionID != nil {
		b.CheckoutSessionID = *rec.CheckoutSessionID
	}
	return b
}

func (p PaymentTransaction) record() persistence.Payment {
	return persistence.ClonePayment(persistence.Payment{
		ID: p.ID, BookingID: p.BookingID, CheckoutSessionID: p.CheckoutSessionID, Provider: p.Provider,
		Amount: p.Amount, Currency: p.Currency, Status: string(p.Status), PaidAt: p.PaidAt,
		CreatedAt: p.CreatedAt, UpdatedAt: p.UpdatedAt,
	})
}

func paymentFromRecord(rec persistence.Payment) PaymentTransaction {
	rec = persistence.ClonePayment(rec)
	return PaymentTransaction{
		ID: rec.ID, BookingID: rec.BookingID, CheckoutSessionID: rec.CheckoutSessionID, Provider: rec.Provider,
		Amount: rec.Amount, Currency: rec.Currency, Status: TransactionStatus(rec.Status), PaidAt: rec.PaidAt,
		CreatedAt: rec.CreatedAt, UpdatedAt: rec.UpdatedAt,
	}
}

func toConflictReport(report scheduler.Report) ConflictReport {
	return ConflictReport{
		HasConflict:         report.HasConflict(),
		LocationConflicts:   toConflictEntries(report.Location),
		InstructorConflicts: toConflictEntries(report.Instructor),
	}
}

func toConflictEntries(conflicts []scheduler.Conflict) []ConflictEntry {
	entries := make([]ConflictEntry, 0, len(conflicts))
	for _, conflict := range conflicts {
		entries = append(entries, ConflictEntry{
			SessionID: conflict.SessionID,
			Date:      conflict.Date,
			StartTime: conflict.Start,
			EndTime:   conflict.End,
		})
	}
	return entries
}

func waitlistFromRecord(rec persistence.WaitlistEntry) WaitlistEntry {
	rec = persistence.CloneWaitlistEntry(rec)
	return WaitlistEntry{
		ID: rec.ID, CourseID: rec.CourseID, SessionID: rec.SessionID, StudentID: rec.StudentID,
		StudentName: rec.StudentName, StudentEmail: rec.StudentEmail, Position: rec.Position,
		Status: WaitlistStatus(rec.Status), OfferExpiresAt: rec.OfferExpiresAt, Version: rec.Version,
		CreatedAt: rec.CreatedAt, UpdatedAt: rec.UpdatedAt,
	}
}

func (e WaitlistEntry) record() persistence.WaitlistEntry {
	return persistence.CloneWaitlistEntry(persistence.WaitlistEntry{
		ID: e.ID, CourseID: e.CourseID, SessionID: e.SessionID, StudentID: e.StudentID,
		StudentName: e.StudentName, StudentEmail: e.StudentEmail, Position: e.Position,
		Status: string(e.Status), OfferExpiresAt: e.OfferExpiresAt, Version: e.Version,
		CreatedAt: e.CreatedAt, UpdatedAt: e.UpdatedAt,
	})
}
