// Package payment holds the checkout contract with external payment providers
// together with a Midtrans Snap implementation and an in-process fake.
package payment

import (
	"context"
	"errors"
	"time"
)

// Provider names recorded on payment transactions.
const (
	ProviderFake     = "fake"
	ProviderMidtrans = "midtrans"
)

// ErrInvalidRequest is returned before any provider call when a request is incomplete.
var ErrInvalidRequest = errors.New("payment: invalid checkout request")

// Customer identifies the payer.
type Customer struct {
	Name  string
	Email string
	Phone string
}

// Item is one line of the checkout, typically one booked session.
type Item struct {
	ID       string
	Name     string
	Price    int64
	Quantity int
}

// CheckoutRequest asks a provider to open a hosted checkout for a booking.
// Amount is in minor units of Currency.
type CheckoutRequest struct {
	BookingID string
	Amount    int64
	Currency  string
	Customer  Customer
	Items     []Item
}

// Validate reports whether the request can be sent to a provider.
func (r CheckoutRequest) Validate() error {
	if r.BookingID == "" || r.Amount <= 0 || r.Currency == "" {
		return ErrInvalidRequest
	}
	return nil
}

// Checkout is the provider's answer: an opaque session id the provider will
// quote in its callbacks, and the URL the payer is sent to.
type Checkout struct {
	SessionID string
	URL       string
	Provider  string
	CreatedAt time.Time
}

// Gateway opens hosted checkouts.
type Gateway interface {
	// Name returns the provider name recorded on payment transactions.
	Name() string
	InitiateCheckout(ctx context.Context, req CheckoutRequest) (Checkout, error)
}
