package dto

import (
	"github.com/shopspring/decimal"

	"github.com/noah-isme/lms-billing-api/internal/models"
)

// CreateOrderRequest captures POST /payment/create-order.
type CreateOrderRequest struct {
	CourseID   string `json:"courseId" validate:"required"`
	MonthCount int    `json:"monthCount" validate:"required,min=1"`
}

// CreateOrderResponse hands the checkout details back to the client.
type CreateOrderResponse struct {
	OrderID     string          `json:"orderId"`
	Amount      decimal.Decimal `json:"amount" swaggertype:"string"`
	Currency    string          `json:"currency"`
	Cycle       string          `json:"cycle"`
	Token       string          `json:"token"`
	RedirectURL string          `json:"redirectUrl"`
}

// VerifyPaymentRequest captures POST /payment/verify.
type VerifyPaymentRequest struct {
	OrderID   string `json:"orderId" validate:"required"`
	PaymentID string `json:"paymentId" validate:"required"`
	Signature string `json:"signature,omitempty"`
}

// VerifyPaymentResponse reports a verified online payment.
type VerifyPaymentResponse struct {
	OrderID string                `json:"orderId"`
	Status  models.OrderStatus    `json:"status"`
	Payment RecordPaymentResponse `json:"payment"`
}

// NotificationAck answers provider webhooks.
type NotificationAck struct {
	OrderID string             `json:"orderId"`
	Status  models.OrderStatus `json:"status"`
	Ignored bool               `json:"ignored,omitempty"`
}
