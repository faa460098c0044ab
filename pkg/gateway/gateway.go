// Package gateway adapts the external payment provider used for online fee
// payments.
package gateway

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrProvider wraps failures reported by the payment provider.
	ErrProvider = errors.New("payment provider error")
	// ErrPaymentNotFound is returned when the provider has no transaction for an order.
	ErrPaymentNotFound = errors.New("payment not found at provider")
)

// Customer identifies the payer on the provider checkout page.
type Customer struct {
	Name  string
	Email string
}

// OrderRequest describes an order to open with the provider.
type OrderRequest struct {
	OrderID     string
	Amount      decimal.Decimal
	Currency    string
	Description string
	Customer    Customer
}

// Order is the provider side handle for a checkout.
type Order struct {
	OrderID     string
	Amount      decimal.Decimal
	Currency    string
	Token       string
	RedirectURL string
}

// Notification is a provider transaction status, delivered by webhook or
// fetched on demand.
type Notification struct {
	OrderID           string `json:"order_id"`
	TransactionID     string `json:"transaction_id"`
	TransactionStatus string `json:"transaction_status"`
	FraudStatus       string `json:"fraud_status"`
	StatusCode        string `json:"status_code"`
	GrossAmount       string `json:"gross_amount"`
	PaymentType       string `json:"payment_type"`
	SignatureKey      string `json:"signature_key"`
}

// Outcome is the normalised result of a provider notification.
type Outcome string

const (
	OutcomePaid    Outcome = "PAID"
	OutcomeFailed  Outcome = "FAILED"
	OutcomePending Outcome = "PENDING"
)

// Gateway creates orders, looks up their status and verifies webhooks.
type Gateway interface {
	CreateOrder(ctx context.Context, req OrderRequest) (*Order, error)
	CheckPayment(ctx context.Context, orderID string) (*Notification, error)
	VerifyNotification(n Notification) bool
}

// Classify maps a provider transaction status onto an Outcome.
func Classify(n Notification) Outcome {
	switch n.TransactionStatus {
	case "settlement":
		return OutcomePaid
	case "capture":
		if n.FraudStatus == "" || n.FraudStatus == "accept" {
			return OutcomePaid
		}
		return OutcomePending
	case "deny", "cancel", "expire", "failure":
		return OutcomeFailed
	default:
		return OutcomePending
	}
}
