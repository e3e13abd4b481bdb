package payment

import (
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"math"
	"strconv"
	"strings"
)

// ErrInvalidSignature is returned when a notification fails signature verification.
var ErrInvalidSignature = errors.New("payment: invalid notification signature")

// Notification is the HTTP notification Midtrans posts after a status change.
type Notification struct {
	TransactionTime   string `json:"transaction_time"`
	TransactionStatus string `json:"transaction_status"`
	TransactionID     string `json:"transaction_id"`
	StatusCode        string `json:"status_code"`
	SignatureKey      string `json:"signature_key"`
	OrderID           string `json:"order_id"`
	GrossAmount       string `json:"gross_amount"`
	PaymentType       string `json:"payment_type"`
	FraudStatus       string `json:"fraud_status"`
}

// OutcomeKind classifies a notification for the booking state machine.
type OutcomeKind int

const (
	// OutcomePending means the payment is still in progress.
	OutcomePending OutcomeKind = iota
	// OutcomeConfirmed means the money was captured.
	OutcomeConfirmed
	// OutcomeFailed means the payment was denied, cancelled or expired.
	OutcomeFailed
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeConfirmed:
		return "confirmed"
	case OutcomeFailed:
		return "failed"
	default:
		return "pending"
	}
}

// Signature computes SHA512(order_id + status_code + gross_amount + server_key).
func Signature(orderID, statusCode, grossAmount, serverKey string) string {
	sum := sha512.Sum512([]byte(orderID + statusCode + grossAmount + serverKey))
	return hex.EncodeToString(sum[:])
}

// Verify checks the notification signature against serverKey.
func (n Notification) Verify(serverKey string) error {
	got := strings.ToLower(strings.TrimSpace(n.SignatureKey))
	if got == "" || serverKey == "" {
		return ErrInvalidSignature
	}
	want := Signature(n.OrderID, n.StatusCode, n.GrossAmount, serverKey)
	if subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
		return ErrInvalidSignature
	}
	return nil
}

// Outcome maps transaction_status and fraud_status onto an OutcomeKind.
func (n Notification) Outcome() OutcomeKind {
	switch strings.ToLower(n.TransactionStatus) {
	case "settlement":
		return OutcomeConfirmed
	case "capture":
		switch strings.ToLower(n.FraudStatus) {
		case "", "accept":
			return OutcomeConfirmed
		case "challenge":
			return OutcomePending
		}
		return OutcomeFailed
	case "deny", "cancel", "expire", "failure":
		return OutcomeFailed
	}
	return OutcomePending
}

// Amount parses gross_amount ("12000.00") into minor units.
func (n Notification) Amount() (int64, error) {
	value, err := strconv.ParseFloat(strings.TrimSpace(n.GrossAmount), 64)
	if err != nil {
		return 0, err
	}
	if value < 0 {
		return 0, errors.New("payment: negative gross amount")
	}
	return int64(math.Round(value)), nil
}
