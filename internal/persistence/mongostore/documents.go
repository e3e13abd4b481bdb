package mongostore

import (
	"time"

	"github.com/example/training-booking/internal/persistence"
)

type courseDoc struct {
	ID               string    `bson:"_id"`
	SchoolID         string    `bson:"school_id"`
	Title            string    `bson:"title"`
	LocationID       string    `bson:"location_id"`
	InstructorID     string    `bson:"instructor_id"`
	Capacity         int       `bson:"capacity"`
	LocationCapacity int       `bson:"location_capacity"`
	Price            int64     `bson:"price"`
	Currency         string    `bson:"currency"`
	Deleted          bool      `bson:"deleted"`
	CreatedAt        time.Time `bson:"created_at"`
	UpdatedAt        time.Time `bson:"updated_at"`
}

type scheduleDoc struct {
	ID           string    `bson:"_id"`
	CourseID     string    `bson:"course_id"`
	Kind         string    `bson:"kind"`
	StartDate    string    `bson:"start_date"`
	EndDate      string    `bson:"end_date"`
	StartTime    string    `bson:"start_time"`
	EndTime      string    `bson:"end_time"`
	Weekdays     []int     `bson:"weekdays,omitempty"`
	Interval     int       `bson:"interval_days"`
	SessionCount int       `bson:"session_count"`
	CreatedAt    time.Time `bson:"created_at"`
}

// sessionDoc keeps the date as "2006-01-02" so range filters and sorting
// work on the string value.
type sessionDoc struct {
	ID                string    `bson:"_id"`
	CourseID          string    `bson:"course_id"`
	ScheduleID        string    `bson:"schedule_id"`
	LocationID        string    `bson:"location_id"`
	InstructorID      string    `bson:"instructor_id"`
	Date              string    `bson:"date"`
	StartTime         string    `bson:"start_time"`
	EndTime           string    `bson:"end_time"`
	MaxCapacity       int       `bson:"max_capacity"`
	CurrentEnrollment int       `bson:"current_enrollment"`
	Status            string    `bson:"status"`
	Version           int64     `bson:"version"`
	CreatedAt         time.Time `bson:"created_at"`
	UpdatedAt         time.Time `bson:"updated_at"`
}

type bookingDoc struct {
	ID                string     `bson:"_id"`
	CourseID          string     `bson:"course_id"`
	StudentID         string     `bson:"student_id"`
	SessionIDs        []string   `bson:"session_ids"`
	StudentName       string     `bson:"student_name"`
	StudentEmail      string     `bson:"student_email"`
	StudentPhone      string     `bson:"student_phone"`
	Message           string     `bson:"message"`
	Status            string     `bson:"status"`
	PaymentStatus     string     `bson:"payment_status"`
	State             string     `bson:"state"`
	CheckoutSessionID *string    `bson:"checkout_session_id,omitempty"`
	CheckoutURL       string     `bson:"checkout_url"`
	AmountDue         int64      `bson:"amount_due"`
	PricePerSession   int64      `bson:"price_per_session"`
	Currency          string     `bson:"currency"`
	AmountPaid        *int64     `bson:"amount_paid,omitempty"`
	HoldExpiresAt     time.Time  `bson:"hold_expires_at"`
	BookingDate       time.Time  `bson:"booking_date"`
	PaidAt            *time.Time `bson:"paid_at,omitempty"`
	ClosedAt          *time.Time `bson:"closed_at,omitempty"`
	Version           int64      `bson:"version"`
	UpdatedAt         time.Time  `bson:"updated_at"`
}

type paymentDoc struct {
	ID                string     `bson:"_id"`
	BookingID         string     `bson:"booking_id"`
	CheckoutSessionID string     `bson:"checkout_session_id"`
	Provider          string     `bson:"provider"`
	Amount            int64      `bson:"amount"`
	Currency          string     `bson:"currency"`
	Status            string     `bson:"status"`
	PaidAt            *time.Time `bson:"paid_at,omitempty"`
	CreatedAt         time.Time  `bson:"created_at"`
	UpdatedAt         time.Time  `bson:"updated_at"`
}

type waitlistDoc struct {
	ID             string     `bson:"_id"`
	CourseID       string     `bson:"course_id"`
	SessionID      string     `bson:"session_id"`
	StudentID      string     `bson:"student_id"`
	StudentName    string     `bson:"student_name"`
	StudentEmail   string     `bson:"student_email"`
	Position       int        `bson:"position"`
	Status         string     `bson:"status"`
	OfferExpiresAt *time.Time `bson:"offer_expires_at,omitempty"`
	Version        int64      `bson:"version"`
	CreatedAt      time.Time  `bson:"created_at"`
	UpdatedAt      time.Time  `bson:"updated_at"`
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func courseToDoc(c persistence.Course) courseDoc {
	return courseDoc{
		ID: c.ID, SchoolID: c.SchoolID, Title: c.Title, LocationID: c.LocationID, InstructorID: c.InstructorID,
		Capacity: c.Capacity, LocationCapacity: c.LocationCapacity, Price: c.Price, Currency: c.Currency,
		Deleted: c.Deleted, CreatedAt: c.CreatedAt.UTC(), UpdatedAt: c.UpdatedAt.UTC(),
	}
}

func (d courseDoc) model() persistence.Course {
	return persistence.Course{
		ID: d.ID, SchoolID: d.SchoolID, Title: d.Title, LocationID: d.LocationID, InstructorID: d.InstructorID,
		Capacity: d.Capacity, LocationCapacity: d.LocationCapacity, Price: d.Price, Currency: d.Currency,
		Deleted: d.Deleted, CreatedAt: d.CreatedAt.UTC(), UpdatedAt: d.UpdatedAt.UTC(),
	}
}

func scheduleToDoc(s persistence.Schedule) scheduleDoc {
	return scheduleDoc{
		ID: s.ID, CourseID: s.CourseID, Kind: s.Kind, StartDate: s.StartDate, EndDate: s.EndDate,
		StartTime: s.StartTime, EndTime: s.EndTime, Weekdays: append([]int(nil), s.Weekdays...),
		Interval: s.Interval, SessionCount: s.SessionCount, CreatedAt: s.CreatedAt.UTC(),
	}
}

func (d scheduleDoc) model() persistence.Schedule {
	return persistence.CloneSchedule(persistence.Schedule{
		ID: d.ID, CourseID: d.CourseID, Kind: d.Kind, StartDate: d.StartDate, EndDate: d.EndDate,
		StartTime: d.StartTime, EndTime: d.EndTime, Weekdays: d.Weekdays,
		Interval: d.Interval, SessionCount: d.SessionCount, CreatedAt: d.CreatedAt.UTC(),
	})
}

func sessionToDoc(s persistence.Session) sessionDoc {
	return sessionDoc{
		ID: s.ID, CourseID: s.CourseID, ScheduleID: s.ScheduleID, LocationID: s.LocationID, InstructorID: s.InstructorID,
		Date: s.Date, StartTime: s.StartTime, EndTime: s.EndTime, MaxCapacity: s.MaxCapacity,
		CurrentEnrollment: s.CurrentEnrollment, Status: s.Status, Version: s.Version,
		CreatedAt: s.CreatedAt.UTC(), UpdatedAt: s.UpdatedAt.UTC(),
	}
}

func (d sessionDoc) model() persistence.Session {
	return persistence.Session{
		ID: d.ID, CourseID: d.CourseID, ScheduleID: d.ScheduleID, LocationID: d.LocationID, InstructorID: d.InstructorID,
		Date: d.Date, StartTime: d.StartTime, EndTime: d.EndTime, MaxCapacity: d.MaxCapacity,
		CurrentEnrollment: d.CurrentEnrollment, Status: d.Status, Version: d.Version,
		CreatedAt: d.CreatedAt.UTC(), UpdatedAt: d.UpdatedAt.UTC(),
	}
}

func bookingToDoc(b persistence.Booking) bookingDoc {
	return bookingDoc{
		ID: b.ID, CourseID: b.CourseID, StudentID: b.StudentID, SessionIDs: append([]string(nil), b.SessionIDs...),
		StudentName: b.StudentName, StudentEmail: b.StudentEmail, StudentPhone: b.StudentPhone, Message: b.Message,
		Status: b.Status, PaymentStatus: b.PaymentStatus, State: b.State,
		CheckoutSessionID: b.CheckoutSessionID, CheckoutURL: b.CheckoutURL,
		AmountDue: b.AmountDue, PricePerSession: b.PricePerSession, Currency: b.Currency, AmountPaid: b.AmountPaid,
		HoldExpiresAt: b.HoldExpiresAt.UTC(), BookingDate: b.BookingDate.UTC(),
		PaidAt: utc(b.PaidAt), ClosedAt: utc(b.ClosedAt), Version: b.Version, UpdatedAt: b.UpdatedAt.UTC(),
	}
}

func (d bookingDoc) model() persistence.Booking {
	return persistence.CloneBooking(persistence.Booking{
		ID: d.ID, CourseID: d.CourseID, StudentID: d.StudentID, SessionIDs: d.SessionIDs,
		StudentName: d.StudentName, StudentEmail: d.StudentEmail, StudentPhone: d.StudentPhone, Message: d.Message,
		Status: d.Status, PaymentStatus: d.PaymentStatus, State: d.State,
		CheckoutSessionID: d.CheckoutSessionID, CheckoutURL: d.CheckoutURL,
		AmountDue: d.AmountDue, PricePerSession: d.PricePerSession, Currency: d.Currency, AmountPaid: d.AmountPaid,
		HoldExpiresAt: d.HoldExpiresAt.UTC(), BookingDate: d.BookingDate.UTC(),
		PaidAt: utc(d.PaidAt), ClosedAt: utc(d.ClosedAt), Version: d.Version, UpdatedAt: d.UpdatedAt.UTC(),
	})
}

func paymentToDoc(p persistence.Payment) paymentDoc {
	return paymentDoc{
		ID: p.ID, BookingID: p.BookingID, CheckoutSessionID: p.CheckoutSessionID, Provider: p.Provider,
		Amount: p.Amount, Currency: p.Currency, Status: p.Status, PaidAt: utc(p.PaidAt),
		CreatedAt: p.CreatedAt.UTC(), UpdatedAt: p.UpdatedAt.UTC(),
	}
}

func (d paymentDoc) model() persistence.Payment {
	return persistence.Payment{
		ID: d.ID, BookingID: d.BookingID, CheckoutSessionID: d.CheckoutSessionID, Provider: d.Provider,
		Amount: d.Amount, Currency: d.Currency, Status: d.Status, PaidAt: utc(d.PaidAt),
		CreatedAt: d.CreatedAt.UTC(), UpdatedAt: d.UpdatedAt.UTC(),
	}
}

func waitlistToDoc(e persistence.WaitlistEntry) waitlistDoc {
	return waitlistDoc{
		ID: e.ID, CourseID: e.CourseID, SessionID: e.SessionID, StudentID: e.StudentID,
		StudentName: e.StudentName, StudentEmail: e.StudentEmail, Position: e.Position, Status: e.Status,
		OfferExpiresAt: utc(e.OfferExpiresAt), Version: e.Version,
		CreatedAt: e.CreatedAt.UTC(), UpdatedAt: e.UpdatedAt.UTC(),
	}
}

func (d waitlistDoc) model() persistence.WaitlistEntry {
	return persistence.WaitlistEntry{
		ID: d.ID, CourseID: d.CourseID, SessionID: d.SessionID, StudentID: d.StudentID,
		StudentName: d.StudentName, StudentEmail: d.StudentEmail, Position: d.Position, Status: d.Status,
		OfferExpiresAt: utc(d.OfferExpiresAt), Version: d.Version,
		CreatedAt: d.CreatedAt.UTC(), UpdatedAt: d.UpdatedAt.UTC(),
	}
}
