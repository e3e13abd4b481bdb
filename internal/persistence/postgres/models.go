package postgres

import (
	"time"

	"github.com/lib/pq"
	"gorm.io/datatypes"

	"github.com/example/training-booking/internal/persistence"
)

const dateLayout = "2006-01-02"

type courseRow struct {
	ID               string    `gorm:"primaryKey;type:text;column:id"`
	SchoolID         string    `gorm:"type:text;not null;default:'';column:school_id"`
	Title            string    `gorm:"type:text;not null;default:'';column:title"`
	LocationID       string    `gorm:"type:text;not null;column:location_id"`
	InstructorID     string    `gorm:"type:text;not null;column:instructor_id"`
	Capacity         int       `gorm:"not null;check:chk_courses_capacity,capacity >= 0;column:capacity"`
	LocationCapacity int       `gorm:"not null;default:0;column:location_capacity"`
	Price            int64     `gorm:"not null;default:0;column:price"`
	Currency         string    `gorm:"type:varchar(8);not null;default:'JPY';column:currency"`
	Deleted          bool      `gorm:"not null;default:false;column:deleted"`
	CreatedAt        time.Time `gorm:"type:timestamptz;not null;column:created_at"`
	UpdatedAt        time.Time `gorm:"type:timestamptz;not null;column:updated_at"`
}

func (courseRow) TableName() string { return "courses" }

type scheduleRow struct {
	ID           string         `gorm:"primaryKey;type:text;column:id"`
	CourseID     string         `gorm:"type:text;not null;index:idx_schedules_course;column:course_id"`
	Kind         string         `gorm:"type:varchar(16);not null;column:kind"`
	StartDate    datatypes.Date `gorm:"not null;column:start_date"`
	EndDate      datatypes.Date `gorm:"not null;column:end_date"`
	StartTime    string         `gorm:"type:varchar(5);not null;column:start_time"`
	EndTime      string         `gorm:"type:varchar(5);not null;column:end_time"`
	Weekdays     pq.Int64Array  `gorm:"type:int[];column:weekdays"`
	Interval     int            `gorm:"not null;default:0;column:interval_days"`
	SessionCount int            `gorm:"not null;default:0;column:session_count"`
	CreatedAt    time.Time      `gorm:"type:timestamptz;not null;column:created_at"`

	Course courseRow `gorm:"foreignKey:CourseID;references:ID"`
}

func (scheduleRow) TableName() string { return "schedules" }

type sessionRow struct {
	ID                string         `gorm:"primaryKey;type:text;column:id"`
	CourseID          string         `gorm:"type:text;not null;index:idx_sessions_course_date,priority:1;column:course_id"`
	ScheduleID        string         `gorm:"type:text;not null;index;column:schedule_id"`
	LocationID        string         `gorm:"type:text;not null;index:idx_sessions_location_date,priority:1;column:location_id"`
	InstructorID      string         `gorm:"type:text;not null;index:idx_sessions_instructor_date,priority:1;column:instructor_id"`
	SessionDate       datatypes.Date `gorm:"not null;index:idx_sessions_course_date,priority:2;index:idx_sessions_location_date,priority:2;index:idx_sessions_instructor_date,priority:2;column:session_date"`
	StartTime         string         `gorm:"type:varchar(5);not null;column:start_time"`
	EndTime           string         `gorm:"type:varchar(5);not null;column:end_time"`
	MaxCapacity       int            `gorm:"not null;check:chk_sessions_capacity,max_capacity >= 0;column:max_capacity"`
	CurrentEnrollment int            `gorm:"not null;default:0;check:chk_sessions_enrollment,current_enrollment >= 0 AND current_enrollment <= max_capacity;column:current_enrollment"`
	Status            string         `gorm:"type:varchar(16);not null;index;column:status"`
	Version           int64          `gorm:"not null;default:1;column:version"`
	CreatedAt         time.Time      `gorm:"type:timestamptz;not null;column:created_at"`
	UpdatedAt         time.Time      `gorm:"type:timestamptz;not null;column:updated_at"`

	Course   courseRow   `gorm:"foreignKey:CourseID;references:ID"`
	Schedule scheduleRow `gorm:"foreignKey:ScheduleID;references:ID"`
}

func (sessionRow) TableName() string { return "sessions" }

type bookingRow struct {
	ID                string         `gorm:"primaryKey;type:text;column:id"`
	CourseID          string         `gorm:"type:text;not null;index:idx_bookings_course,priority:1;column:course_id"`
	StudentID         string         `gorm:"type:text;not null;default:'';index:idx_bookings_student,priority:1;column:student_id"`
	SessionIDs        pq.StringArray `gorm:"type:text[];not null;column:session_ids"`
	StudentName       string         `gorm:"type:text;not null;column:student_name"`
	StudentEmail      string         `gorm:"type:text;not null;column:student_email"`
	StudentPhone      string         `gorm:"type:text;not null;default:'';column:student_phone"`
	Message           string         `gorm:"type:text;not null;default:'';column:message"`
	Status            string         `gorm:"type:varchar(16);not null;column:status"`
	PaymentStatus     string         `gorm:"type:varchar(16);not null;column:payment_status"`
	State             string         `gorm:"type:varchar(24);not null;index:idx_bookings_hold,priority:1;column:state"`
	CheckoutSessionID *string        `gorm:"type:text;uniqueIndex;column:checkout_session_id"`
	CheckoutURL       string         `gorm:"type:text;not null;default:'';column:checkout_url"`
	AmountDue         int64          `gorm:"not null;default:0;column:amount_due"`
	PricePerSession   int64          `gorm:"not null;default:0;column:price_per_session"`
	Currency          string         `gorm:"type:varchar(8);not null;default:'JPY';column:currency"`
	AmountPaid        *int64         `gorm:"column:amount_paid"`
	HoldExpiresAt     time.Time      `gorm:"type:timestamptz;not null;index:idx_bookings_hold,priority:2;column:hold_expires_at"`
	BookingDate       time.Time      `gorm:"type:timestamptz;not null;index:idx_bookings_course,priority:2;index:idx_bookings_student,priority:2;column:booking_date"`
	PaidAt            *time.Time     `gorm:"type:timestamptz;column:paid_at"`
	ClosedAt          *time.Time     `gorm:"type:timestamptz;column:closed_at"`
	Version           int64          `gorm:"not null;default:1;column:version"`
	UpdatedAt         time.Time      `gorm:"type:timestamptz;not null;column:updated_at"`

	Course courseRow `gorm:"foreignKey:CourseID;references:ID"`
}

func (bookingRow) TableName() string { return "bookings" }

type paymentRow struct {
	ID                string     `gorm:"primaryKey;type:text;column:id"`
	BookingID         string     `gorm:"type:text;not null;index;column:booking_id"`
	CheckoutSessionID string     `gorm:"type:text;not null;uniqueIndex;column:checkout_session_id"`
	Provider          string     `gorm:"type:varchar(32);not null;column:provider"`
	Amount            int64      `gorm:"not null;column:amount"`
	Currency          string     `gorm:"type:varchar(8);not null;column:currency"`
	Status            string     `gorm:"type:varchar(16);not null;column:status"`
	PaidAt            *time.Time `gorm:"type:timestamptz;column:paid_at"`
	CreatedAt         time.Time  `gorm:"type:timestamptz;not null;column:created_at"`
	UpdatedAt         time.Time  `gorm:"type:timestamptz;not null;column:updated_at"`

	Booking bookingRow `gorm:"foreignKey:BookingID;references:ID"`
}

func (paymentRow) TableName() string { return "payments" }

type waitlistRow struct {
	ID             string     `gorm:"primaryKey;type:text;column:id"`
	CourseID       string     `gorm:"type:text;not null;uniqueIndex:idx_waitlist_course_position,priority:1;column:course_id"`
	SessionID      string     `gorm:"type:text;not null;default:'';column:session_id"`
	StudentID      string     `gorm:"type:text;not null;index;column:student_id"`
	StudentName    string     `gorm:"type:text;not null;default:'';column:student_name"`
	StudentEmail   string     `gorm:"type:text;not null;default:'';column:student_email"`
	Position       int        `gorm:"not null;uniqueIndex:idx_waitlist_course_position,priority:2;check:chk_waitlist_position,position >= 1;column:position"`
	Status         string     `gorm:"type:varchar(16);not null;index:idx_waitlist_offers,priority:1;column:status"`
	OfferExpiresAt *time.Time `gorm:"type:timestamptz;index:idx_waitlist_offers,priority:2;column:offer_expires_at"`
	Version        int64      `gorm:"not null;default:1;column:version"`
	CreatedAt      time.Time  `gorm:"type:timestamptz;not null;column:created_at"`
	UpdatedAt      time.Time  `gorm:"type:timestamptz;not null;column:updated_at"`

	Course courseRow `gorm:"foreignKey:CourseID;references:ID"`
}

func (waitlistRow) TableName() string { return "waitlist_entries" }

func toDate(value string) (datatypes.Date, error) {
	t, err := time.Parse(dateLayout, value)
	if err != nil {
		return datatypes.Date{}, err
	}
	return datatypes.Date(t), nil
}

func fromDate(d datatypes.Date) string {
	return time.Time(d).Format(dateLayout)
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func courseToRow(c persistence.Course) courseRow {
	return courseRow{
		ID: c.ID, SchoolID: c.SchoolID, Title: c.Title, LocationID: c.LocationID, InstructorID: c.InstructorID,
		Capacity: c.Capacity, LocationCapacity: c.LocationCapacity, Price: c.Price, Currency: c.Currency,
		Deleted: c.Deleted, CreatedAt: c.CreatedAt.UTC(), UpdatedAt: c.UpdatedAt.UTC(),
	}
}

func (r courseRow) model() persistence.Course {
	return persistence.Course{
		ID: r.ID, SchoolID: r.SchoolID, Title: r.Title, LocationID: r.LocationID, InstructorID: r.InstructorID,
		Capacity: r.Capacity, LocationCapacity: r.LocationCapacity, Price: r.Price, Currency: r.Currency,
		Deleted: r.Deleted, CreatedAt: r.CreatedAt.UTC(), UpdatedAt: r.UpdatedAt.UTC(),
	}
}

func scheduleToRow(s persistence.Schedule) (scheduleRow, error) {
	start, err := toDate(s.StartDate)
	if err != nil {
		return scheduleRow{}, err
	}
	// Once-kind schedules may carry no end date.
	end := start
	if s.EndDate != "" {
		if end, err = toDate(s.EndDate); err != nil {
			return scheduleRow{}, err
		}
	}
	weekdays := make(pq.Int64Array, 0, len(s.Weekdays))
	for _, d := range s.Weekdays {
		weekdays = append(weekdays, int64(d))
	}
	return scheduleRow{
		ID: s.ID, CourseID: s.CourseID, Kind: s.Kind, StartDate: start, EndDate: end,
		StartTime: s.StartTime, EndTime: s.EndTime, Weekdays: weekdays, Interval: s.Interval,
		SessionCount: s.SessionCount, CreatedAt: s.CreatedAt.UTC(),
	}, nil
}

func (r scheduleRow) model() persistence.Schedule {
	var weekdays []int
	for _, d := range r.Weekdays {
		weekdays = append(weekdays, int(d))
	}
	return persistence.Schedule{
		ID: r.ID, CourseID: r.CourseID, Kind: r.Kind, StartDate: fromDate(r.StartDate), EndDate: fromDate(r.EndDate),
		StartTime: r.StartTime, EndTime: r.EndTime, Weekdays: weekdays, Interval: r.Interval,
		SessionCount: r.SessionCount, CreatedAt: r.CreatedAt.UTC(),
	}
}

func sessionToRow(s persistence.Session) (sessionRow, error) {
	date, err := toDate(s.Date)
	if err != nil {
		return sessionRow{}, err
	}
	return sessionRow{
		ID: s.ID, CourseID: s.CourseID, ScheduleID: s.ScheduleID, LocationID: s.LocationID, InstructorID: s.InstructorID,
		SessionDate: date, StartTime: s.StartTime, EndTime: s.EndTime, MaxCapacity: s.MaxCapacity,
		CurrentEnrollment: s.CurrentEnrollment, Status: s.Status, Version: s.Version,
		CreatedAt: s.CreatedAt.UTC(), UpdatedAt: s.UpdatedAt.UTC(),
	}, nil
}

func (r sessionRow) model() persistence.Session {
	return persistence.Session{
		ID: r.ID, CourseID: r.CourseID, ScheduleID: r.ScheduleID, LocationID: r.LocationID, InstructorID: r.InstructorID,
		Date: fromDate(r.SessionDate), StartTime: r.StartTime, EndTime: r.EndTime, MaxCapacity: r.MaxCapacity,
		CurrentEnrollment: r.CurrentEnrollment, Status: r.Status, Version: r.Version,
		CreatedAt: r.CreatedAt.UTC(), UpdatedAt: r.UpdatedAt.UTC(),
	}
}

func bookingToRow(b persistence.Booking) bookingRow {
	return bookingRow{
		ID: b.ID, CourseID: b.CourseID, StudentID: b.StudentID, SessionIDs: pq.StringArray(append([]string(nil), b.SessionIDs...)),
		StudentName: b.StudentName, StudentEmail: b.StudentEmail, StudentPhone: b.StudentPhone, Message: b.Message,
		Status: b.Status, PaymentStatus: b.PaymentStatus, State: b.State,
		CheckoutSessionID: b.CheckoutSessionID, CheckoutURL: b.CheckoutURL,
		AmountDue: b.AmountDue, PricePerSession: b.PricePerSession, Currency: b.Currency, AmountPaid: b.AmountPaid,
		HoldExpiresAt: b.HoldExpiresAt.UTC(), BookingDate: b.BookingDate.UTC(),
		PaidAt: utcPtr(b.PaidAt), ClosedAt: utcPtr(b.ClosedAt), Version: b.Version, UpdatedAt: b.UpdatedAt.UTC(),
	}
}

func (r bookingRow) model() persistence.Booking {
	return persistence.CloneBooking(persistence.Booking{
		ID: r.ID, CourseID: r.CourseID, StudentID: r.StudentID, SessionIDs: []string(r.SessionIDs),
		StudentName: r.StudentName, StudentEmail: r.StudentEmail, StudentPhone: r.StudentPhone, Message: r.Message,
		Status: r.Status, PaymentStatus: r.PaymentStatus, State: r.State,
		CheckoutSessionID: r.CheckoutSessionID, CheckoutURL: r.CheckoutURL,
		AmountDue: r.AmountDue, PricePerSession: r.PricePerSession, Currency: r.Currency, AmountPaid: r.AmountPaid,
		HoldExpiresAt: r.HoldExpiresAt.UTC(), BookingDate: r.BookingDate.UTC(),
		PaidAt: utcPtr(r.PaidAt), ClosedAt: utcPtr(r.ClosedAt), Version: r.Version, UpdatedAt: r.UpdatedAt.UTC(),
	})
}

func paymentToRow(p persistence.Payment) paymentRow {
	return paymentRow{
		ID: p.ID, BookingID: p.BookingID, CheckoutSessionID: p.CheckoutSessionID, Provider: p.Provider,
		Amount: p.Amount, Currency: p.Currency, Status: p.Status, PaidAt: utcPtr(p.PaidAt),
		CreatedAt: p.CreatedAt.UTC(), UpdatedAt: p.UpdatedAt.UTC(),
	}
}

func (r paymentRow) model() persistence.Payment {
	return persistence.Payment{
		ID: r.ID, BookingID: r.BookingID, CheckoutSessionID: r.CheckoutSessionID, Provider: r.Provider,
		Amount: r.Amount, Currency: r.Currency, Status: r.Status, PaidAt: utcPtr(r.PaidAt),
		CreatedAt: r.CreatedAt.UTC(), UpdatedAt: r.UpdatedAt.UTC(),
	}
}

func waitlistToRow(e persistence.WaitlistEntry) waitlistRow {
	return waitlistRow{
		ID: e.ID, CourseID: e.CourseID, SessionID: e.SessionID, StudentID: e.StudentID,
		StudentName: e.StudentName, StudentEmail: e.StudentEmail, Position: e.Position, Status: e.Status,
		OfferExpiresAt: utcPtr(e.OfferExpiresAt), Version: e.Version,
		CreatedAt: e.CreatedAt.UTC(), UpdatedAt: e.UpdatedAt.UTC(),
	}
}

func (r waitlistRow) model() persistence.WaitlistEntry {
	return persistence.WaitlistEntry{
		ID: r.ID, CourseID: r.CourseID, SessionID: r.SessionID, StudentID: r.StudentID,
		StudentName: r.StudentName, StudentEmail: r.StudentEmail, Position: r.Position, Status: r.Status,
		OfferExpiresAt: utcPtr(r.OfferExpiresAt), Version: r.Version,
		CreatedAt: r.CreatedAt.UTC(), UpdatedAt: r.UpdatedAt.UTC(),
	}
}
