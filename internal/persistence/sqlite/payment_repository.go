package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/example/training-booking/internal/persistence"
)

// PaymentRepository implements persistence.PaymentRepository using SQLite
type PaymentRepository struct {
	repository
}

// NewPaymentRepository creates a new SQLite payment repository
func NewPaymentRepository(pool *ConnectionPool) *PaymentRepository {
	return &PaymentRepository{repository: newRepository(pool)}
}

const paymentColumns = `id, booking_id, checkout_session_id, provider, amount, currency, status, paid_at, created_at, updated_at`

// UpsertPayment inserts a payment or updates the one with the same ID
func (r *PaymentRepository) UpsertPayment(ctx context.Context, payment persistence.Payment) error {
	if payment.ID == "" || payment.CheckoutSessionID == "" {
		return persistence.ErrConstraintViolation
	}
	return r.retry.WithRetry(ctx, func() error {
		_, err := r.pool.DB().ExecContext(ctx, `
			INSERT INTO payments (`+paymentColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				checkout_session_id = excluded.checkout_session_id,
				provider = excluded.provider,
				amount = excluded.amount,
				currency = excluded.currency,
				status = excluded.status,
				paid_at = excluded.paid_at,
				updated_at = excluded.updated_at`,
			payment.ID, payment.BookingID, payment.CheckoutSessionID, payment.Provider, payment.Amount,
			payment.Currency, payment.Status, nullTime(payment.PaidAt),
			formatTime(payment.CreatedAt), formatTime(payment.UpdatedAt),
		)
		return r.mapper.MapError(err)
	})
}

// GetPaymentByCheckoutSession retrieves the payment for a checkout session
func (r *PaymentRepository) GetPaymentByCheckoutSession(ctx context.Context, checkoutSessionID string) (persistence.Payment, error) {
	row := r.pool.DB().QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE checkout_session_id = ?`, checkoutSessionID)
	payment, err := scanPayment(row)
	if err != nil {
		return persistence.Payment{}, r.mapper.MapError(err)
	}
	return payment, nil
}

// ListPayments returns a booking's payments in creation order
func (r *PaymentRepository) ListPayments(ctx context.Context, bookingID string) ([]persistence.Payment, error) {
	rows, err := r.pool.DB().QueryContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE booking_id = ? ORDER BY created_at, id`, bookingID)
	if err != nil {
		return nil, r.mapper.MapError(err)
	}
	defer rows.Close()

	payments := make([]persistence.Payment, 0)
	for rows.Next() {
		payment, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, payment)
	}
	return payments, rows.Err()
}

func scanPayment(row rowScanner) (persistence.Payment, error) {
	var (
		payment              persistence.Payment
		paidAt               sql.NullString
		createdAt, updatedAt string
	)
	err := row.Scan(&payment.ID, &payment.BookingID, &payment.CheckoutSessionID, &payment.Provider, &payment.Amount,
		&payment.Currency, &payment.Status, &paidAt, &createdAt, &updatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return persistence.Payment{}, persistence.ErrNotFound
		}
		return persistence.Payment{}, err
	}
	if payment.PaidAt, err = parseNullTime(paidAt); err != nil {
		return persistence.Payment{}, fmt.Errorf("failed to parse paid_at: %w", err)
	}
	if payment.CreatedAt, err = parseTime(createdAt); err != nil {
		return persistence.Payment{}, fmt.Errorf("failed to parse created_at: %w", err)
	}
	if payment.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return persistence.Payment{}, fmt.Errorf("failed to parse updated_at: %w", err)
	}
	return payment, nil
}
