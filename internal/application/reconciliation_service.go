package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/example/training-booking/internal/payment"
	"github.com/example/training-booking/internal/persistence"
)

// ReconciliationService moves bookings through the payment state machine:
//
//	created -> awaiting_payment -> paid
//	created | awaiting_payment -> expired | withdrawn   (seats released)
//	awaiting_payment -> abandoned                       (seats released)
//
// Every transition runs under the booking's lock and a version-checked write,
// so of two racing events exactly one applies.
type ReconciliationService struct {
	*core
}

func (s *ReconciliationService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "ReconciliationService", operation, attrs...)
}

type writeKind int

const (
	writeNone writeKind = iota
	writeUpdate
	writeRelease
)

// decideFunc returns the next booking and how to persist it, or an error when
// the event does not apply.
type decideFunc func(current Booking, now time.Time) (Booking, writeKind, error)

// transition applies decide to the stored booking under its lock. Lost version
// checks are retried against a fresh read. onCommit runs under the same lock
// after a successful write; released seats are then offered to the waitlist.
func (c *core) transition(ctx context.Context, bookingID string, decide decideFunc, onCommit func(context.Context, Booking) error) (Booking, bool, error) {
	unlock, err := c.locks.Lock(ctx, bookingLockKey(bookingID))
	if err != nil {
		return Booking{}, false, err
	}
	defer unlock()

	var (
		result   Booking
		changed  bool
		released bool
	)
	err = c.retry(ctx, "booking transition", func() error {
		rec, err := c.store.GetBooking(ctx, bookingID)
		if err != nil {
			return mapStoreError("get booking", err)
		}
		current := bookingFromRecord(rec)
		next, kind, err := decide(current, c.now())
		if err != nil {
			return err
		}
		if kind == writeNone {
			result, changed = current, false
			return nil
		}

		if kind == writeRelease {
			err = c.store.ReleaseBooking(ctx, next.record(), current.Version)
		} else {
			err = c.store.UpdateBooking(ctx, next.record(), current.Version)
		}
		if err != nil {
			if errors.Is(err, persistence.ErrVersionConflict) {
				return &ConcurrencyConflictError{Entity: "booking", ID: bookingID}
			}
			return mapStoreError("update booking", err)
		}
		next.Version = current.Version + 1
		result, changed, released = next, true, kind == writeRelease
		return nil
	})
	if err != nil {
		return Booking{}, false, err
	}

	if changed && onCommit != nil {
		// The booking row is authoritative; a ledger failure is logged, not returned.
		if ledgerErr := onCommit(ctx, result); ledgerErr != nil {
			serviceLogger(ctx, c.logger, "ReconciliationService", "ledger", "booking_id", bookingID).
				WarnContext(ctx, "failed to update payment ledger", "error", ledgerErr)
		}
	}
	if released {
		c.offerWaitlist(ctx, result)
	}
	return result, changed, nil
}

// settleLedger marks the booking's checkout session with status.
func (c *core) settleLedger(status TransactionStatus) func(context.Context, Booking) error {
	return func(ctx context.Context, booking Booking) error {
		if booking.CheckoutSessionID == "" {
			return nil
		}
		now := c.now()
		var tx PaymentTransaction
		rec, err := c.store.GetPaymentByCheckoutSession(ctx, booking.CheckoutSessionID)
		switch {
		case err == nil:
			tx = paymentFromRecord(rec)
		case errors.Is(err, persistence.ErrNotFound):
			tx = PaymentTransaction{
				ID:                c.idGenerator(),
				BookingID:         booking.ID,
				CheckoutSessionID: booking.CheckoutSessionID,
				Amount:            booking.AmountDue,
				Currency:          booking.Currency,
				CreatedAt:         now,
			}
		default:
			return mapStoreError("get payment", err)
		}

		tx.Status = status
		tx.UpdatedAt = now
		if status == TransactionPaid {
			tx.PaidAt = booking.PaidAt
			if booking.AmountPaid != nil {
				tx.Amount = *booking.AmountPaid
			}
		}
		return mapStoreError("upsert payment", c.store.UpsertPayment(ctx, tx.record()))
	}
}

// InitiateCheckout opens a hosted checkout for a created booking. A booking
// already awaiting payment gets its stored checkout back without another
// provider call. The provider is never called while a lock is held.
func (s *ReconciliationService) InitiateCheckout(ctx context.Context, bookingID string) (checkout Checkout, err error) {
	if s == nil || s.core == nil {
		err = fmt.Errorf("ReconciliationService is nil")
		return
	}

	logger := s.loggerWith(ctx, "InitiateCheckout", "booking_id", bookingID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to initiate checkout", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "checkout ready", "checkout_session_id", checkout.SessionID)
	}()

	rec, err := s.store.GetBooking(ctx, bookingID)
	if err != nil {
		err = mapStoreError("get booking", err)
		return
	}
	booking := bookingFromRecord(rec)

	switch booking.State {
	case StateAwaitingPayment:
		return s.storedCheckout(ctx, booking), nil
	case StateCreated:
		if !s.now().Before(booking.HoldExpiresAt) {
			err = &InvalidTransitionError{BookingID: booking.ID, From: booking.State, Event: "checkout_after_hold_expired"}
			return
		}
	default:
		err = &InvalidTransitionError{BookingID: booking.ID, From: booking.State, Event: "checkout"}
		return
	}

	if booking.AmountDue <= 0 {
		vErr := &ValidationError{}
		vErr.add("amount_due", "booking has nothing to pay")
		err = vErr
		return
	}
	if s.gateway == nil {
		err = fmt.Errorf("payment gateway not configured")
		return
	}

	opened, gwErr := s.gateway.InitiateCheckout(ctx, s.checkoutRequest(ctx, booking))
	if gwErr != nil {
		err = &GatewayError{Provider: s.gateway.Name(), Err: gwErr}
		return
	}

	attached, err := s.AttachCheckout(ctx, bookingID, opened)
	if err != nil {
		if !errors.Is(err, ErrInvalidTransition) {
			return
		}
		// Another request attached its checkout first.
		rec, getErr := s.store.GetBooking(ctx, bookingID)
		if getErr != nil || BookingState(rec.State) != StateAwaitingPayment {
			return
		}
		err = nil
		return s.storedCheckout(ctx, bookingFromRecord(rec)), nil
	}
	return s.storedCheckout(ctx, attached), nil
}

// AttachCheckout records the checkout session on a created booking, moving it
// to awaiting_payment. Attaching the same session again is a no-op.
func (s *ReconciliationService) AttachCheckout(ctx context.Context, bookingID string, checkout Checkout) (booking Booking, err error) {
	if s == nil || s.core == nil {
		err = fmt.Errorf("ReconciliationService is nil")
		return
	}

	logger := s.loggerWith(ctx, "AttachCheckout", "booking_id", bookingID, "checkout_session_id", checkout.SessionID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to attach checkout", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "checkout attached", "state", booking.State)
	}()

	if strings.TrimSpace(checkout.SessionID) == "" {
		vErr := &ValidationError{}
		vErr.add("checkout_session_id", "checkout session id is required")
		err = vErr
		return
	}

	var changed bool
	booking, changed, err = s.transition(ctx, bookingID, func(current Booking, now time.Time) (Booking, writeKind, error) {
		switch current.State {
		case StateCreated:
			next := current.withState(StateAwaitingPayment, now)
			next.CheckoutSessionID = checkout.SessionID
			next.CheckoutURL = checkout.URL
			return next, writeUpdate, nil
		case StateAwaitingPayment:
			if current.CheckoutSessionID == checkout.SessionID {
				return current, writeNone, nil
			}
		}
		return current, writeNone, &InvalidTransitionError{BookingID: current.ID, From: current.State, Event: "attach_checkout"}
	}, func(ctx context.Context, attached Booking) error {
		now := s.now()
		tx := PaymentTransaction{
			ID:                s.idGenerator(),
			BookingID:         attached.ID,
			CheckoutSessionID: checkout.SessionID,
			Provider:          checkout.Provider,
			Amount:            attached.AmountDue,
			Currency:          attached.Currency,
			Status:            TransactionInitiated,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		return mapStoreError("upsert payment", s.store.UpsertPayment(ctx, tx.record()))
	})
	if err != nil {
		return
	}
	if changed {
		s.publish(ctx, bookingEventType(booking.State), bookingEventFor(booking))
	}
	return booking, nil
}

// OnPaymentConfirmed marks the booking attached to checkoutSessionID as paid.
// Repeated confirmations are accepted without effect; confirmations arriving
// after the booking was closed are rejected.
func (s *ReconciliationService) OnPaymentConfirmed(ctx context.Context, checkoutSessionID string, amountPaid int64) (booking Booking, err error) {
	if s == nil || s.core == nil {
		err = fmt.Errorf("ReconciliationService is nil")
		return
	}

	logger := s.loggerWith(ctx, "OnPaymentConfirmed", "checkout_session_id", checkoutSessionID, "amount_paid", amountPaid)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to confirm payment", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("booking_id", booking.ID).InfoContext(ctx, "payment confirmed", "state", booking.State)
	}()

	if amountPaid < 0 {
		vErr := &ValidationError{}
		vErr.add("amount_paid", "amount must not be negative")
		err = vErr
		return
	}

	bookingID, err := s.bookingForCheckout(ctx, checkoutSessionID)
	if err != nil {
		return
	}

	var changed bool
	booking, changed, err = s.transition(ctx, bookingID, func(current Booking, now time.Time) (Booking, writeKind, error) {
		switch current.State {
		case StateAwaitingPayment:
			next := current.withState(StatePaid, now)
			amount := amountPaid
			paidAt := now
			next.AmountPaid = &amount
			next.PaidAt = &paidAt
			return next, writeUpdate, nil
		case StatePaid:
			return current, writeNone, nil
		}
		return current, writeNone, &InvalidTransitionError{BookingID: current.ID, From: current.State, Event: "payment_confirmed"}
	}, s.settleLedger(TransactionPaid))
	if err != nil {
		return
	}
	if changed {
		if amountPaid != booking.AmountDue {
			logger.WarnContext(ctx, "paid amount differs from amount due", "amount_due", booking.AmountDue)
		}
		s.publish(ctx, bookingEventType(booking.State), bookingEventFor(booking))
	}
	return booking, nil
}

// OnPaymentFailed abandons the booking attached to checkoutSessionID and
// returns its seats. Failures for already closed bookings are ignored.
func (s *ReconciliationService) OnPaymentFailed(ctx context.Context, checkoutSessionID string) (booking Booking, err error) {
	if s == nil || s.core == nil {
		err = fmt.Errorf("ReconciliationService is nil")
		return
	}

	logger := s.loggerWith(ctx, "OnPaymentFailed", "checkout_session_id", checkoutSessionID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to record payment failure", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("booking_id", booking.ID).InfoContext(ctx, "payment failure recorded", "state", booking.State)
	}()

	bookingID, err := s.bookingForCheckout(ctx, checkoutSessionID)
	if err != nil {
		return
	}

	var changed bool
	booking, changed, err = s.transition(ctx, bookingID, func(current Booking, now time.Time) (Booking, writeKind, error) {
		switch current.State {
		case StateAwaitingPayment:
			return current.withState(StateAbandoned, now), writeRelease, nil
		case StateAbandoned, StateExpired, StateWithdrawn:
			return current, writeNone, nil
		}
		return current, writeNone, &InvalidTransitionError{BookingID: current.ID, From: current.State, Event: "payment_failed"}
	}, s.settleLedger(TransactionFailed))
	if err != nil {
		return
	}
	if changed {
		s.publish(ctx, bookingEventType(booking.State), bookingEventFor(booking))
	}
	return booking, nil
}

// ExpireHolds expires every open booking whose hold has ended and returns its
// seats. It returns how many bookings were expired.
func (s *ReconciliationService) ExpireHolds(ctx context.Context) (expired int, err error) {
	if s == nil || s.core == nil {
		err = fmt.Errorf("ReconciliationService is nil")
		return
	}

	logger := s.loggerWith(ctx, "ExpireHolds")
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to expire holds", "error", err, "error_kind", ErrorKind(err), "expired", expired)
			return
		}
		if expired > 0 {
			logger.InfoContext(ctx, "holds expired", "expired", expired)
		}
	}()

	now := s.now()
	recs, err := s.store.ListBookings(ctx, persistence.BookingFilter{
		States:            []string{string(StateCreated), string(StateAwaitingPayment)},
		HoldExpiresBefore: &now,
	})
	if err != nil {
		err = mapStoreError("list bookings", err)
		return
	}

	var errs []error
	for _, rec := range recs {
		booking, changed, expireErr := s.transition(ctx, rec.ID, func(current Booking, at time.Time) (Booking, writeKind, error) {
			if !current.State.Open() || current.HoldExpiresAt.After(at) {
				return current, writeNone, nil
			}
			return current.withState(StateExpired, at), writeRelease, nil
		}, s.settleLedger(TransactionExpired))
		if expireErr != nil {
			errs = append(errs, fmt.Errorf("booking %s: %w", rec.ID, expireErr))
			continue
		}
		if changed {
			expired++
			s.publish(ctx, bookingEventType(booking.State), bookingEventFor(booking))
		}
	}
	return expired, errors.Join(errs...)
}

// PaymentStatus returns the ledger entry of a checkout session.
func (s *ReconciliationService) PaymentStatus(ctx context.Context, checkoutSessionID string) (PaymentTransaction, error) {
	if s == nil || s.core == nil {
		return PaymentTransaction{}, fmt.Errorf("ReconciliationService is nil")
	}
	rec, err := s.store.GetPaymentByCheckoutSession(ctx, checkoutSessionID)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return PaymentTransaction{}, &UnknownCheckoutSessionError{CheckoutSessionID: checkoutSessionID}
		}
		return PaymentTransaction{}, mapStoreError("get payment", err)
	}
	return paymentFromRecord(rec), nil
}

func (s *ReconciliationService) bookingForCheckout(ctx context.Context, checkoutSessionID string) (string, error) {
	if strings.TrimSpace(checkoutSessionID) == "" {
		return "", &UnknownCheckoutSessionError{CheckoutSessionID: checkoutSessionID}
	}
	rec, err := s.store.GetBookingByCheckoutSession(ctx, checkoutSessionID)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return "", &UnknownCheckoutSessionError{CheckoutSessionID: checkoutSessionID}
		}
		return "", mapStoreError("get booking", err)
	}
	return rec.ID, nil
}

func (s *ReconciliationService) storedCheckout(ctx context.Context, booking Booking) Checkout {
	checkout := Checkout{SessionID: booking.CheckoutSessionID, URL: booking.CheckoutURL, CreatedAt: booking.UpdatedAt}
	if rec, err := s.store.GetPaymentByCheckoutSession(ctx, booking.CheckoutSessionID); err == nil {
		checkout.Provider = rec.Provider
		checkout.CreatedAt = rec.CreatedAt
	}
	return checkout
}

func (s *ReconciliationService) checkoutRequest(ctx context.Context, booking Booking) payment.CheckoutRequest {
	items := make([]payment.Item, 0, len(booking.SessionIDs))
	for _, id := range booking.SessionIDs {
		name := id
		if rec, err := s.store.GetSession(ctx, id); err == nil {
			name = fmt.Sprintf("%s %s-%s", rec.Date, rec.StartTime, rec.EndTime)
		}
		items = append(items, payment.Item{ID: id, Name: name, Price: booking.PricePerSession, Quantity: 1})
	}
	return payment.CheckoutRequest{
		BookingID: booking.ID,
		Amount:    booking.AmountDue,
		Currency:  booking.Currency,
		Customer: payment.Customer{
			Name:  booking.StudentName,
			Email: booking.StudentEmail,
			Phone: booking.StudentPhone,
		},
		Items: items,
	}
}
