package persistence

import "time"

// Stored status values. The application layer owns their meaning; stores only
// compare against the ones needed for admission and release.
const (
	SessionScheduled = "scheduled"
	SessionCancelled = "cancelled"
	SessionCompleted = "completed"
)

// Course mirrors the catalog entry that sessions are generated for.
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

// Schedule is the recurrence rule a batch of sessions was generated from.
// Dates use the "2006-01-02" layout and times "15:04".
type Schedule struct {
	ID           string
	CourseID     string
	Kind         string
	StartDate    string
	EndDate      string
	StartTime    string
	EndTime      string
	Weekdays     []int
	Interval     int
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
	Date              string
	StartTime         string
	EndTime           string
	MaxCapacity       int
	CurrentEnrollment int
	Status            string
	Version           int64
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Booking records a student's provisional or confirmed claim on sessions.
type Booking struct {
	ID                string
	CourseID          string
	StudentID         string
	SessionIDs        []string
	StudentName       string
	StudentEmail      string
	StudentPhone      string
	Message           string
	Status            string
	PaymentStatus     string
	State             string
	CheckoutSessionID *string
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

// Payment is the ledger entry for one checkout session.
type Payment struct {
	ID                string
	BookingID         string
	CheckoutSessionID string
	Provider          string
	Amount            int64
	Currency          string
	Status            string
	PaidAt            *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Waitlist entry statuses.
const (
	WaitlistWaiting  = "waiting"
	WaitlistOffered  = "offered"
	WaitlistAccepted = "accepted"
	WaitlistExpired  = "expired"
)

// WaitlistEntry queues a student for a seat on a full course. SessionID is
// empty when any session of the course will do.
type WaitlistEntry struct {
	ID             string
	CourseID       string
	SessionID      string
	StudentID      string
	StudentName    string
	StudentEmail   string
	Position       int
	Status         string
	OfferExpiresAt *time.Time
	Version        int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// CloneBooking returns a copy that shares no slices or pointers with b.
func CloneBooking(b Booking) Booking {
	out := b
	out.SessionIDs = append([]string(nil), b.SessionIDs...)
	if b.CheckoutSessionID != nil {
		v := *b.CheckoutSessionID
		out.CheckoutSessionID = &v
	}
	if b.AmountPaid != nil {
		v := *b.AmountPaid
		out.AmountPaid = &v
	}
	if b.PaidAt != nil {
		v := *b.PaidAt
		out.PaidAt = &v
	}
	if b.ClosedAt != nil {
		v := *b.ClosedAt
		out.ClosedAt = &v
	}
	return out
}

// CloneSchedule returns a copy that shares no slices with s.
func CloneSchedule(s Schedule) Schedule {
	out := s
	out.Weekdays = append([]int(nil), s.Weekdays...)
	return out
}

// ClonePayment returns a copy that shares no pointers with p.
func ClonePayment(p Payment) Payment {
	out := p
	if p.PaidAt != nil {
		v := *p.PaidAt
		out.PaidAt = &v
	}
	return out
}

// CloneWaitlistEntry returns a copy that shares no pointers with e.
func CloneWaitlistEntry(e WaitlistEntry) WaitlistEntry {
	out := e
	if e.OfferExpiresAt != nil {
		v := *e.OfferExpiresAt
		out.OfferExpiresAt = &v
	}
	return out
}
