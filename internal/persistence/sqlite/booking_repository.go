package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/example/training-booking/internal/persistence"
)

// BookingRepository implements persistence.BookingRepository using SQLite
type BookingRepository struct {
	repository
}

// NewBookingRepository creates a new SQLite booking repository
func NewBookingRepository(pool *ConnectionPool) *BookingRepository {
	return &BookingRepository{repository: newRepository(pool)}
}

const bookingColumns = `id, course_id, student_id, student_name, student_email, student_phone, message, status, payment_status, state, checkout_session_id, checkout_url, amount_due, price_per_session, currency, amount_paid, hold_expires_at, booking_date, paid_at, closed_at, version, updated_at`

// querier is satisfied by both *sql.DB and *sql.Tx
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// ReserveBooking claims one seat per session and inserts the booking atomically
func (r *BookingRepository) ReserveBooking(ctx context.Context, booking persistence.Booking, claims []persistence.SessionClaim) error {
	if booking.ID == "" || len(claims) == 0 {
		return persistence.ErrConstraintViolation
	}

	return r.inTx(ctx, func(tx *sql.Tx) error {
		for _, claim := range claims {
			var (
				version           int64
				status            string
				current, maxSeats int
			)
			err := tx.QueryRowContext(ctx,
				`SELECT version, status, current_enrollment, max_capacity FROM sessions WHERE id = ?`, claim.SessionID,
			).Scan(&version, &status, &current, &maxSeats)
			if err == sql.ErrNoRows {
				return &persistence.ClaimError{SessionID: claim.SessionID, Err: persistence.ErrNotFound}
			}
			if err != nil {
				return r.mapper.MapError(err)
			}

			switch {
			case version != claim.ExpectedVersion:
				return &persistence.ClaimError{SessionID: claim.SessionID, Err: persistence.ErrVersionConflict}
			case status != persistence.SessionScheduled:
				return &persistence.ClaimError{SessionID: claim.SessionID, Err: persistence.ErrNotScheduled}
			case current >= maxSeats:
				return &persistence.ClaimError{SessionID: claim.SessionID, Err: persistence.ErrCapacityExceeded}
			}

			result, err := tx.ExecContext(ctx, `
				UPDATE sessions
				SET current_enrollment = current_enrollment + 1, version = version + 1, updated_at = ?
				WHERE id = ? AND version = ? AND current_enrollment < max_capacity`,
				formatTime(booking.BookingDate), claim.SessionID, claim.ExpectedVersion)
			if err != nil {
				return r.mapper.MapError(err)
			}
			if n, err := result.RowsAffected(); err != nil {
				return fmt.Errorf("failed to get rows affected: %w", err)
			} else if n == 0 {
				return &persistence.ClaimError{SessionID: claim.SessionID, Err: persistence.ErrVersionConflict}
			}
		}

		if err := insertBooking(ctx, tx, booking); err != nil {
			return r.mapper.MapError(err)
		}
		return nil
	})
}

func insertBooking(ctx context.Context, tx *sql.Tx, b persistence.Booking) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO bookings (`+bookingColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.CourseID, b.StudentID, b.StudentName, b.StudentEmail, b.StudentPhone, b.Message,
		b.Status, b.PaymentStatus, b.State, nullString(b.CheckoutSessionID), b.CheckoutURL,
		b.AmountDue, b.PricePerSession, b.Currency, nullInt64(b.AmountPaid),
		formatTime(b.HoldExpiresAt), formatTime(b.BookingDate), nullTime(b.PaidAt), nullTime(b.ClosedAt),
		b.Version, formatTime(b.UpdatedAt),
	)
	if err != nil {
		return err
	}
	for i, sessionID := range b.SessionIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO booking_sessions (booking_id, session_id, position) VALUES (?, ?, ?)`,
			b.ID, sessionID, i); err != nil {
			return err
		}
	}
	return nil
}

// GetBooking retrieves a booking by ID
func (r *BookingRepository) GetBooking(ctx context.Context, id string) (persistence.Booking, error) {
	return r.getOne(ctx, r.pool.DB(), `SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, id)
}

// GetBookingByCheckoutSession finds the booking a checkout session is attached to
func (r *BookingRepository) GetBookingByCheckoutSession(ctx context.Context, checkoutSessionID string) (persistence.Booking, error) {
	return r.getOne(ctx, r.pool.DB(), `SELECT `+bookingColumns+` FROM bookings WHERE checkout_session_id = ?`, checkoutSessionID)
}

func (r *BookingRepository) getOne(ctx context.Context, q querier, query string, arg string) (persistence.Booking, error) {
	booking, err := scanBooking(q.QueryRowContext(ctx, query, arg))
	if err != nil {
		return persistence.Booking{}, r.mapper.MapError(err)
	}
	if booking.SessionIDs, err = loadSessionIDs(ctx, q, booking.ID); err != nil {
		return persistence.Booking{}, r.mapper.MapError(err)
	}
	return booking, nil
}

// ListBookings returns bookings matching filter ordered by booking date and ID
func (r *BookingRepository) ListBookings(ctx context.Context, filter persistence.BookingFilter) ([]persistence.Booking, error) {
	var (
		conditions []string
		args       []any
	)
	if filter.CourseID != "" {
		conditions = append(conditions, "course_id = ?")
		args = append(args, filter.CourseID)
	}
	if filter.StudentID != "" {
		conditions = append(conditions, "student_id = ?")
		args = append(args, filter.StudentID)
	}
	if filter.SessionID != "" {
		conditions = append(conditions, "EXISTS (SELECT 1 FROM booking_sessions bs WHERE bs.booking_id = bookings.id AND bs.session_id = ?)")
		args = append(args, filter.SessionID)
	}
	if len(filter.States) > 0 {
		conditions = append(conditions, "state IN ("+placeholders(len(filter.States))+")")
		for _, state := range filter.States {
			args = append(args, state)
		}
	}
	if filter.HoldExpiresBefore != nil {
		conditions = append(conditions, "hold_expires_at <= ?")
		args = append(args, formatTime(*filter.HoldExpiresBefore))
	}

	query := `SELECT ` + bookingColumns + ` FROM bookings`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY booking_date, id"

	db := r.pool.DB()
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, r.mapper.MapError(err)
	}
	bookings := make([]persistence.Booking, 0)
	for rows.Next() {
		booking, err := scanBooking(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		bookings = append(bookings, booking)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, r.mapper.MapError(err)
	}
	// Release the connection before loading session ids; the pool may hold only one.
	rows.Close()

	for i := range bookings {
		if bookings[i].SessionIDs, err = loadSessionIDs(ctx, db, bookings[i].ID); err != nil {
			return nil, r.mapper.MapError(err)
		}
	}
	return bookings, nil
}

// UpdateBooking replaces a booking after a version check
func (r *BookingRepository) UpdateBooking(ctx context.Context, booking persistence.Booking, expectedVersion int64) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		return r.updateBooking(ctx, tx, booking, expectedVersion)
	})
}

// ReleaseBooking replaces a booking after a version check and returns its seats
func (r *BookingRepository) ReleaseBooking(ctx context.Context, booking persistence.Booking, expectedVersion int64) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		if err := r.updateBooking(ctx, tx, booking, expectedVersion); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			UPDATE sessions
			SET current_enrollment = MAX(current_enrollment - 1, 0), version = version + 1, updated_at = ?
			WHERE id IN (SELECT session_id FROM booking_sessions WHERE booking_id = ?)`,
			formatTime(booking.UpdatedAt), booking.ID)
		if err != nil {
			return r.mapper.MapError(err)
		}
		return nil
	})
}

func (r *BookingRepository) updateBooking(ctx context.Context, tx *sql.Tx, b persistence.Booking, expectedVersion int64) error {
	result, err := tx.ExecContext(ctx, `
		UPDATE bookings SET
			student_id = ?, student_name = ?, student_email = ?, student_phone = ?, message = ?,
			status = ?, payment_status = ?, state = ?, checkout_session_id = ?, checkout_url = ?,
			amount_due = ?, price_per_session = ?, currency = ?, amount_paid = ?,
			hold_expires_at = ?, paid_at = ?, closed_at = ?, version = ?, updated_at = ?
		WHERE id = ? AND version = ?`,
		b.StudentID, b.StudentName, b.StudentEmail, b.StudentPhone, b.Message,
		b.Status, b.PaymentStatus, b.State, nullString(b.CheckoutSessionID), b.CheckoutURL,
		b.AmountDue, b.PricePerSession, b.Currency, nullInt64(b.AmountPaid),
		formatTime(b.HoldExpiresAt), nullTime(b.PaidAt), nullTime(b.ClosedAt), expectedVersion+1, formatTime(b.UpdatedAt),
		b.ID, expectedVersion,
	)
	if err != nil {
		return r.mapper.MapError(err)
	}
	if n, err := result.RowsAffected(); err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	} else if n == 0 {
		return missingOrStale(ctx, tx, "bookings", b.ID)
	}
	return nil
}

func loadSessionIDs(ctx context.Context, q querier, bookingID string) ([]string, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT session_id FROM booking_sessions WHERE booking_id = ? ORDER BY position`, bookingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanBooking(row rowScanner) (persistence.Booking, error) {
	var (
		b                          persistence.Booking
		checkoutID                 sql.NullString
		amountPaid                 sql.NullInt64
		holdExpiresAt, bookingDate string
		updatedAt                  string
		paidAt, closedAt           sql.NullString
	)
	err := row.Scan(&b.ID, &b.CourseID, &b.StudentID, &b.StudentName, &b.StudentEmail, &b.StudentPhone, &b.Message,
		&b.Status, &b.PaymentStatus, &b.State, &checkoutID, &b.CheckoutURL,
		&b.AmountDue, &b.PricePerSession, &b.Currency, &amountPaid,
		&holdExpiresAt, &bookingDate, &paidAt, &closedAt, &b.Version, &updatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return persistence.Booking{}, persistence.ErrNotFound
		}
		return persistence.Booking{}, err
	}

	if checkoutID.Valid {
		id := checkoutID.String
		b.CheckoutSessionID = &id
	}
	if amountPaid.Valid {
		amount := amountPaid.Int64
		b.AmountPaid = &amount
	}
	if b.HoldExpiresAt, err = parseTime(holdExpiresAt); err != nil {
		return persistence.Booking{}, fmt.Errorf("failed to parse hold_expires_at: %w", err)
	}
	if b.BookingDate, err = parseTime(bookingDate); err != nil {
		return persistence.Booking{}, fmt.Errorf("failed to parse booking_date: %w", err)
	}
	if b.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return persistence.Booking{}, fmt.Errorf("failed to parse updated_at: %w", err)
	}
	if b.PaidAt, err = parseNullTime(paidAt); err != nil {
		return persistence.Booking{}, fmt.Errorf("failed to parse paid_at: %w", err)
	}
	if b.ClosedAt, err = parseNullTime(closedAt); err != nil {
		return persistence.Booking{}, fmt.Errorf("failed to parse closed_at: %w", err)
	}
	return b, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}
