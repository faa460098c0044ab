package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus tracks a gateway checkout.
type OrderStatus string

const (
	OrderStatusCreated OrderStatus = "CREATED"
	OrderStatusPaid    OrderStatus = "PAID"
	OrderStatusFailed  OrderStatus = "FAILED"
)

// PaymentOrder is an online checkout opened with the payment gateway.
type PaymentOrder struct {
	ID           string          `db:"id" json:"order_id"`
	EnrollmentID string          `db:"enrollment_id" json:"enrollment_id"`
	CourseID     string          `db:"course_id" json:"course_id"`
	StudentID    string          `db:"student_id" json:"student_id"`
	Amount       decimal.Decimal `db:"amount" json:"amount"`
	Currency     string          `db:"currency" json:"currency"`
	MonthCount   int             `db:"month_count" json:"month_count"`
	Status       OrderStatus     `db:"status" json:"status"`
	GatewayToken string          `db:"gateway_token" json:"-"`
	RedirectURL  string          `db:"redirect_url" json:"redirect_url,omitempty"`
	PaymentID    *string         `db:"payment_id" json:"payment_id,omitempty"`
	PaidAt       *time.Time      `db:"paid_at" json:"paid_at,omitempty"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at" json:"updated_at"`
}
