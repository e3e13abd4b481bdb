package payment

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// FakeGateway issues checkout sessions without contacting a provider.
// Payments are then confirmed or failed through the generic callback routes.
type FakeGateway struct {
	baseURL string
	now     func() time.Time
	newID   func() string

	mu       sync.Mutex
	requests []CheckoutRequest
	// Err, when set, is returned by the next InitiateCheckout calls.
	Err error
}

// NewFakeGateway returns a gateway whose checkout URLs start with baseURL.
func NewFakeGateway(baseURL string) *FakeGateway {
	if baseURL == "" {
		baseURL = "http://localhost:8080/checkout"
	}
	return &FakeGateway{
		baseURL: strings.TrimRight(baseURL, "/"),
		now:     time.Now,
		newID:   func() string { return "chk_" + uuid.NewString() },
	}
}

// WithIDs makes checkout session ids deterministic.
func (g *FakeGateway) WithIDs(newID func() string) *FakeGateway {
	g.newID = newID
	return g
}

// Name implements Gateway.
func (g *FakeGateway) Name() string { return ProviderFake }

// InitiateCheckout records the request and returns a new checkout session.
func (g *FakeGateway) InitiateCheckout(ctx context.Context, req CheckoutRequest) (Checkout, error) {
	if err := req.Validate(); err != nil {
		return Checkout{}, err
	}
	if err := ctx.Err(); err != nil {
		return Checkout{}, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.Err != nil {
		return Checkout{}, g.Err
	}
	g.requests = append(g.requests, req)
	id := g.newID()
	return Checkout{
		SessionID: id,
		URL:       g.baseURL + "/" + id,
		Provider:  ProviderFake,
		CreatedAt: g.now(),
	}, nil
}

// Requests returns the requests seen so far.
func (g *FakeGateway) Requests() []CheckoutRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]CheckoutRequest, len(g.requests))
	copy(out, g.requests)
	return out
}
