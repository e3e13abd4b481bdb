package application

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func checkoutFixture(t *testing.T, h *harness) (Booking, Checkout, string) {
	t.Helper()
	h.course(t, "course-1", CourseInput{Capacity: 4, Price: 8000})
	result := h.schedule(t, "course-1", RuleInput{
		Kind: "daily", StartDate: "2025-02-03", EndDate: "2025-02-04", StartTime: "18:00", EndTime: "20:00",
	})
	booking := h.reserve(t, "course-1", result.SessionIDs...)
	checkout, err := h.svc.Reconciliation.InitiateCheckout(context.Background(), booking.ID)
	if err != nil {
		t.Fatalf("InitiateCheckout() error = %v", err)
	}
	return booking, checkout, result.SessionIDs[0]
}

func TestReconciliationService_InitiateCheckout(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	booking, checkout, _ := checkoutFixture(t, h)

	if checkout.SessionID != "chk-1" || checkout.URL != "https://pay.example.test/chk-1" || checkout.Provider != "fake" {
		t.Fatalf("unexpected checkout %+v", checkout)
	}
	requests := h.gateway.Requests()
	if len(requests) != 1 {
		t.Fatalf("gateway called %d times, want 1", len(requests))
	}
	req := requests[0]
	if req.BookingID != booking.ID || req.Amount != 8000 || req.Currency != "JPY" || len(req.Items) != 2 {
		t.Fatalf("unexpected checkout request %+v", req)
	}
	if req.Items[0].Price != 4000 || req.Items[0].Name != "2025-02-03 18:00-20:00" {
		t.Fatalf("unexpected item %+v", req.Items[0])
	}

	again, err := h.svc.Reconciliation.InitiateCheckout(ctx, booking.ID)
	if err != nil {
		t.Fatalf("second InitiateCheckout() error = %v", err)
	}
	if again.SessionID != checkout.SessionID || len(h.gateway.Requests()) != 1 {
		t.Fatalf("second call must return the stored checkout without calling the provider")
	}

	stored, err := h.svc.Bookings.GetBooking(ctx, booking.ID)
	if err != nil {
		t.Fatalf("GetBooking() error = %v", err)
	}
	if stored.State != StateAwaitingPayment || stored.CheckoutSessionID != "chk-1" {
		t.Fatalf("unexpected booking %+v", stored)
	}
	tx, err := h.svc.Reconciliation.PaymentStatus(ctx, "chk-1")
	if err != nil {
		t.Fatalf("PaymentStatus() error = %v", err)
	}
	if tx.Status != TransactionInitiated || tx.Amount != 8000 || tx.BookingID != booking.ID {
		t.Fatalf("unexpected ledger entry %+v", tx)
	}
}

func TestReconciliationService_InitiateCheckoutGatewayFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	h.course(t, "course-1", CourseInput{Price: 3000})
	result := h.schedule(t, "course-1", onceRule("2025-02-01", "09:00", "10:00"))
	booking := h.reserve(t, "course-1", result.SessionIDs[0])
	h.gateway.Err = errors.New("503 from provider")

	_, err := h.svc.Reconciliation.InitiateCheckout(ctx, booking.ID)
	var gwErr *GatewayError
	if !errors.As(err, &gwErr) || gwErr.Provider != "fake" {
		t.Fatalf("expected GatewayError from fake, got %v", err)
	}
	stored, _ := h.svc.Bookings.GetBooking(ctx, booking.ID)
	if stored.State != StateCreated {
		t.Fatalf("gateway failure moved the booking to %s", stored.State)
	}
}

func TestReconciliationService_InitiateCheckoutRejectsFreeAndExpired(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	h.course(t, "free", CourseInput{})
	h.course(t, "paid", CourseInput{Price: 1000, LocationID: "loc-2", InstructorID: "inst-2"})
	free := h.schedule(t, "free", onceRule("2025-02-01", "09:00", "10:00"))
	paid := h.schedule(t, "paid", onceRule("2025-02-01", "09:00", "10:00"))

	freeBooking := h.reserve(t, "free", free.SessionIDs[0])
	var vErr *ValidationError
	if _, err := h.svc.Reconciliation.InitiateCheckout(ctx, freeBooking.ID); !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError for a free booking, got %v", err)
	}

	paidBooking := h.reserve(t, "paid", paid.SessionIDs[0])
	h.clock.Advance(16 * time.Minute)
	if _, err := h.svc.Reconciliation.InitiateCheckout(ctx, paidBooking.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition after the hold ended, got %v", err)
	}
	if len(h.gateway.Requests()) != 0 {
		t.Fatalf("provider must not be called")
	}
}

func TestReconciliationService_PaymentConfirmed(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	booking, checkout, sessionID := checkoutFixture(t, h)

	paid, err := h.svc.Reconciliation.OnPaymentConfirmed(ctx, checkout.SessionID, 8000)
	if err != nil {
		t.Fatalf("OnPaymentConfirmed() error = %v", err)
	}
	if paid.ID != booking.ID || paid.State != StatePaid || paid.Status != BookingConfirmed || paid.PaymentStatus != PaymentPaid {
		t.Fatalf("unexpected booking %+v", paid)
	}
	if paid.AmountPaid == nil || *paid.AmountPaid != 8000 || paid.PaidAt == nil {
		t.Fatalf("payment details missing: %+v", paid)
	}

	again, err := h.svc.Reconciliation.OnPaymentConfirmed(ctx, checkout.SessionID, 8000)
	if err != nil || again.Version != paid.Version {
		t.Fatalf("duplicate confirmation should be a no-op, got %+v, %v", again, err)
	}
	if h.events.count(EventBookingPaid) != 1 {
		t.Fatalf("expected one booking.paid event")
	}

	tx, err := h.svc.Reconciliation.PaymentStatus(ctx, checkout.SessionID)
	if err != nil || tx.Status != TransactionPaid || tx.PaidAt == nil {
		t.Fatalf("ledger entry = %+v, %v", tx, err)
	}

	// A paid booking keeps its seat even once the hold window is over.
	h.clock.Advance(time.Hour)
	if expired, err := h.svc.Reconciliation.ExpireHolds(ctx); err != nil || expired != 0 {
		t.Fatalf("ExpireHolds() = %d, %v; want 0, nil", expired, err)
	}
	if got := h.enrollment(t, sessionID); got != 1 {
		t.Fatalf("enrollment = %d, want 1", got)
	}
	if _, err := h.svc.Bookings.CancelBooking(ctx, booking.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("withdrawing a paid booking: expected ErrInvalidTransition, got %v", err)
	}
}

func TestReconciliationService_UnknownCheckoutSession(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.Reconciliation.OnPaymentConfirmed(ctx, "chk-missing", 100)
	var unknown *UnknownCheckoutSessionError
	if !errors.As(err, &unknown) || unknown.CheckoutSessionID != "chk-missing" {
		t.Fatalf("expected UnknownCheckoutSessionError, got %v", err)
	}
	if _, err := h.svc.Reconciliation.OnPaymentFailed(ctx, "chk-missing"); !errors.Is(err, ErrUnknownCheckoutSession) {
		t.Fatalf("expected ErrUnknownCheckoutSession, got %v", err)
	}
	if _, err := h.svc.Reconciliation.PaymentStatus(ctx, "chk-missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound match, got %v", err)
	}
}

func TestReconciliationService_PaymentFailedReleasesSeats(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	_, checkout, sessionID := checkoutFixture(t, h)

	abandoned, err := h.svc.Reconciliation.OnPaymentFailed(ctx, checkout.SessionID)
	if err != nil {
		t.Fatalf("OnPaymentFailed() error = %v", err)
	}
	if abandoned.State != StateAbandoned || abandoned.Status != BookingCancelled {
		t.Fatalf("unexpected booking %+v", abandoned)
	}
	if got := h.enrollment(t, sessionID); got != 0 {
		t.Fatalf("enrollment = %d, want 0", got)
	}
	if _, err := h.svc.Reconciliation.OnPaymentFailed(ctx, checkout.SessionID); err != nil {
		t.Fatalf("repeated failure should be ignored, got %v", err)
	}
	if got := h.enrollment(t, sessionID); got != 0 {
		t.Fatalf("repeated failure released again: %d", got)
	}
	if _, err := h.svc.Reconciliation.OnPaymentConfirmed(ctx, checkout.SessionID, 8000); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("confirmation after abandonment: expected ErrInvalidTransition, got %v", err)
	}
	tx, _ := h.svc.Reconciliation.PaymentStatus(ctx, checkout.SessionID)
	if tx.Status != TransactionFailed {
		t.Fatalf("ledger status = %s, want failed", tx.Status)
	}
}

func TestReconciliationService_ExpireHolds(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	booking, checkout, sessionID := checkoutFixture(t, h)
	before := h.enrollment(t, sessionID) - 1

	if expired, err := h.svc.Reconciliation.ExpireHolds(ctx); err != nil || expired != 0 {
		t.Fatalf("ExpireHolds() inside the window = %d, %v", expired, err)
	}

	h.clock.Advance(15 * time.Minute)
	expired, err := h.svc.Reconciliation.ExpireHolds(ctx)
	if err != nil {
		t.Fatalf("ExpireHolds() error = %v", err)
	}
	if expired != 1 {
		t.Fatalf("expired = %d, want 1", expired)
	}

	stored, err := h.svc.Bookings.GetBooking(ctx, booking.ID)
	if err != nil {
		t.Fatalf("GetBooking() error = %v", err)
	}
	if stored.State != StateExpired || stored.Status != BookingCancelled || stored.ClosedAt == nil {
		t.Fatalf("unexpected booking %+v", stored)
	}
	if got := h.enrollment(t, sessionID); got != before {
		t.Fatalf("enrollment = %d, want %d", got, before)
	}

	if _, err := h.svc.Reconciliation.OnPaymentConfirmed(ctx, checkout.SessionID, 8000); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("late confirmation: expected ErrInvalidTransition, got %v", err)
	}
	if again, err := h.svc.Reconciliation.ExpireHolds(ctx); err != nil || again != 0 {
		t.Fatalf("second sweep = %d, %v; want 0, nil", again, err)
	}
	tx, _ := h.svc.Reconciliation.PaymentStatus(ctx, checkout.SessionID)
	if tx.Status != TransactionExpired {
		t.Fatalf("ledger status = %s, want expired", tx.Status)
	}
}

func TestReconciliationService_ExpiryRacesConfirmation(t *testing.T) {
	t.Parallel()

	for i := 0; i < 20; i++ {
		h := newHarness(t)
		ctx := context.Background()
		booking, checkout, sessionID := checkoutFixture(t, h)
		h.clock.Advance(15 * time.Minute)

		var (
			wg         sync.WaitGroup
			confirmErr error
			expireErr  error
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, confirmErr = h.svc.Reconciliation.OnPaymentConfirmed(ctx, checkout.SessionID, 8000)
		}()
		go func() {
			defer wg.Done()
			_, expireErr = h.svc.Reconciliation.ExpireHolds(ctx)
		}()
		wg.Wait()

		if expireErr != nil {
			t.Fatalf("ExpireHolds() error = %v", expireErr)
		}
		stored, err := h.svc.Bookings.GetBooking(ctx, booking.ID)
		if err != nil {
			t.Fatalf("GetBooking() error = %v", err)
		}
		switch stored.State {
		case StatePaid:
			if confirmErr != nil {
				t.Fatalf("paid booking but confirmation failed: %v", confirmErr)
			}
			if got := h.enrollment(t, sessionID); got != 1 {
				t.Fatalf("paid booking lost its seat: enrollment %d", got)
			}
		case StateExpired:
			if !errors.Is(confirmErr, ErrInvalidTransition) {
				t.Fatalf("expired booking but confirmation returned %v", confirmErr)
			}
			if got := h.enrollment(t, sessionID); got != 0 {
				t.Fatalf("expired booking kept its seat: enrollment %d", got)
			}
		default:
			t.Fatalf("unexpected state %s", stored.State)
		}
	}
}

func TestReconciliationService_AttachCheckout(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	h.course(t, "course-1", CourseInput{Price: 2000})
	result := h.schedule(t, "course-1", onceRule("2025-02-01", "09:00", "10:00"))
	booking := h.reserve(t, "course-1", result.SessionIDs[0])

	if _, err := h.svc.Reconciliation.AttachCheckout(ctx, booking.ID, Checkout{}); err == nil {
		t.Fatalf("expected an error for an empty checkout session id")
	}
	attached, err := h.svc.Reconciliation.AttachCheckout(ctx, booking.ID, Checkout{SessionID: "ext-1", URL: "https://pay/ext-1", Provider: "midtrans"})
	if err != nil {
		t.Fatalf("AttachCheckout() error = %v", err)
	}
	if attached.State != StateAwaitingPayment || attached.CheckoutURL != "https://pay/ext-1" {
		t.Fatalf("unexpected booking %+v", attached)
	}
	if _, err := h.svc.Reconciliation.AttachCheckout(ctx, booking.ID, Checkout{SessionID: "ext-1"}); err != nil {
		t.Fatalf("re-attaching the same session should succeed, got %v", err)
	}
	if _, err := h.svc.Reconciliation.AttachCheckout(ctx, booking.ID, Checkout{SessionID: "ext-2"}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition for a second session, got %v", err)
	}
	tx, err := h.svc.Reconciliation.PaymentStatus(ctx, "ext-1")
	if err != nil || tx.Provider != "midtrans" {
		t.Fatalf("ledger entry = %+v, %v", tx, err)
	}
}
