package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	midtrans "github.com/midtrans/midtrans-go"
	"github.com/midtrans/midtrans-go/snap"
)

// snapClient is the part of snap.Client the gateway uses.
type snapClient interface {
	CreateTransaction(req *snap.Request) (*snap.Response, *midtrans.Error)
}

// MidtransGateway opens Snap checkouts. The Snap order id doubles as the
// checkout session id, since Midtrans notifications quote it as order_id.
type MidtransGateway struct {
	client    snapClient
	serverKey string
	now       func() time.Time
	newID     func() string
}

// NewMidtransGateway configures a Snap client for the sandbox or production environment.
func NewMidtransGateway(serverKey string, production bool) (*MidtransGateway, error) {
	if strings.TrimSpace(serverKey) == "" {
		return nil, errors.New("payment: midtrans server key is required")
	}
	env := midtrans.Sandbox
	if production {
		env = midtrans.Production
	}
	var client snap.Client
	client.New(serverKey, env)
	return newMidtransGateway(&client, serverKey, time.Now, func() string { return uuid.NewString() }), nil
}

func newMidtransGateway(client snapClient, serverKey string, now func() time.Time, newID func() string) *MidtransGateway {
	return &MidtransGateway{client: client, serverKey: serverKey, now: now, newID: newID}
}

// Name implements Gateway.
func (g *MidtransGateway) Name() string { return ProviderMidtrans }

// ServerKey is needed to verify notification signatures.
func (g *MidtransGateway) ServerKey() string {
	return g.serverKey
}

// InitiateCheckout creates a Snap transaction for the booking.
func (g *MidtransGateway) InitiateCheckout(ctx context.Context, req CheckoutRequest) (Checkout, error) {
	if err := req.Validate(); err != nil {
		return Checkout{}, err
	}
	if err := ctx.Err(); err != nil {
		return Checkout{}, err
	}

	orderID := orderIDFor(req.BookingID, g.newID())
	snapReq := &snap.Request{
		TransactionDetails: midtrans.TransactionDetails{
			OrderID:  orderID,
			GrossAmt: req.Amount,
		},
		CustomerDetail: &midtrans.CustomerDetails{
			FName: req.Customer.Name,
			Email: req.Customer.Email,
			Phone: req.Customer.Phone,
		},
	}
	if len(req.Items) > 0 {
		items := make([]midtrans.ItemDetails, 0, len(req.Items))
		for _, item := range req.Items {
			qty := item.Quantity
			if qty <= 0 {
				qty = 1
			}
			items = append(items, midtrans.ItemDetails{
				ID:    truncate(item.ID, 50),
				Name:  truncate(item.Name, 50),
				Price: item.Price,
				Qty:   int32(qty),
			})
		}
		// Snap rejects orders whose items do not add up to the gross amount.
		if sumItems(items) == req.Amount {
			snapReq.Items = &items
		}
	}

	resp, mErr := g.client.CreateTransaction(snapReq)
	if mErr != nil {
		return Checkout{}, fmt.Errorf("midtrans: create transaction: %s", mErr.Error())
	}
	if resp == nil || resp.RedirectURL == "" {
		return Checkout{}, errors.New("midtrans: empty snap response")
	}
	return Checkout{
		SessionID: orderID,
		URL:       resp.RedirectURL,
		Provider:  ProviderMidtrans,
		CreatedAt: g.now(),
	}, nil
}

// orderIDFor keeps order ids within Snap's 50 character limit.
func orderIDFor(bookingID, suffix string) string {
	suffix = strings.ReplaceAll(suffix, "-", "")
	if len(suffix) > 12 {
		suffix = suffix[:12]
	}
	return truncate(bookingID, 50-len(suffix)-1) + "-" + suffix
}

func sumItems(items []midtrans.ItemDetails) int64 {
	var total int64
	for _, item := range items {
		total += item.Price * int64(item.Qty)
	}
	return total
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	return s[:n]
}
