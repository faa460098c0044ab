package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentMethod identifies how a fee payment was made.
type PaymentMethod string

const (
	PaymentMethodCash   PaymentMethod = "Cash"
	PaymentMethodUPI    PaymentMethod = "UPI"
	PaymentMethodBank   PaymentMethod = "Bank"
	PaymentMethodOther  PaymentMethod = "Other"
	PaymentMethodOnline PaymentMethod = "Online"
)

// Transaction is one immutable entry in an enrollment's payment history.
type Transaction struct {
	ID             string          `db:"id" json:"transaction_id"`
	EnrollmentID   string          `db:"enrollment_id" json:"enrollment_id"`
	Amount         decimal.Decimal `db:"amount" json:"amount"`
	Method         PaymentMethod   `db:"method" json:"method"`
	MonthCount     int             `db:"month_count" json:"month_count"`
	Month          string          `db:"month" json:"month"`
	PeriodStart    time.Time       `db:"period_start" json:"period_start"`
	PeriodEnd      time.Time       `db:"period_end" json:"period_end"`
	IdempotencyKey string          `db:"idempotency_key" json:"-"`
	RecordedBy     *string         `db:"recorded_by" json:"recorded_by,omitempty"`
	PaidAt         time.Time       `db:"paid_at" json:"date"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
}

// LedgerEntry is a transaction joined with the owning student for exports.
type LedgerEntry struct {
	Transaction
	StudentID string `db:"student_id" json:"student_id"`
}
