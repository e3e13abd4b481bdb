package application

import (
	"time"

	"github.com/example/training-booking/internal/recurrence"
)

// Event types published through EventPublisher.
const (
	EventScheduleCreated        = "schedule.created"
	EventSessionCancelled       = "session.cancelled"
	EventBookingReserved        = "booking.reserved"
	EventBookingAwaitingPayment = "booking.awaiting_payment"
	EventBookingPaid            = "booking.paid"
	EventBookingExpired         = "booking.expired"
	EventBookingAbandoned       = "booking.abandoned"
	EventBookingWithdrawn       = "booking.withdrawn"
	EventWaitlistOffered        = "booking.waitlist_offered"
)

// ScheduleEvent is the payload of schedule.created.
type ScheduleEvent struct {
	ScheduleID  string   `json:"schedule_id"`
	CourseID    string   `json:"course_id"`
	SessionIDs  []string `json:"session_ids"`
	HasConflict bool     `json:"has_conflict"`
}

// SessionEvent is the payload of session.cancelled.
type SessionEvent struct {
	SessionID string `json:"session_id"`
	CourseID  string `json:"course_id"`
	Date      string `json:"date"`
	Status    string `json:"status"`
}

// BookingEvent is the payload of every booking.* event.
type BookingEvent struct {
	BookingID     string    `json:"booking_id"`
	CourseID      string    `json:"course_id"`
	SessionIDs    []string  `json:"session_ids"`
	State         string    `json:"state"`
	Status        string    `json:"status"`
	PaymentStatus string    `json:"payment_status"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// WaitlistEvent is the payload of booking.waitlist_offered.
type WaitlistEvent struct {
	EntryID        string     `json:"entry_id"`
	CourseID       string     `json:"course_id"`
	SessionID      string     `json:"session_id,omitempty"`
	StudentID      string     `json:"student_id"`
	Position       int        `json:"position"`
	Status         string     `json:"status"`
	OfferExpiresAt *time.Time `json:"offer_expires_at,omitempty"`
}

func waitlistEventFor(entry WaitlistEntry) WaitlistEvent {
	return WaitlistEvent{
		EntryID:        entry.ID,
		CourseID:       entry.CourseID,
		SessionID:      entry.SessionID,
		StudentID:      entry.StudentID,
		Position:       entry.Position,
		Status:         string(entry.Status),
		OfferExpiresAt: entry.OfferExpiresAt,
	}
}

func sessionEventFor(session Session) SessionEvent {
	return SessionEvent{
		SessionID: session.ID,
		CourseID:  session.CourseID,
		Date:      session.Date.Format(recurrence.DateLayout),
		Status:    string(session.Status),
	}
}

func bookingEventFor(booking Booking) BookingEvent {
	return BookingEvent{
		BookingID:     booking.ID,
		CourseID:      booking.CourseID,
		SessionIDs:    append([]string(nil), booking.SessionIDs...),
		State:         string(booking.State),
		Status:        string(booking.Status),
		PaymentStatus: string(booking.PaymentStatus),
		UpdatedAt:     booking.UpdatedAt,
	}
}

// bookingEventType names the event published when a booking enters state.
func bookingEventType(state BookingState) string {
	switch state {
	case StateCreated:
		return EventBookingReserved
	case StateAwaitingPayment:
		return EventBookingAwaitingPayment
	case StatePaid:
		return EventBookingPaid
	case StateExpired:
		return EventBookingExpired
	case StateAbandoned:
		return EventBookingAbandoned
	default:
		return EventBookingWithdrawn
	}
}
