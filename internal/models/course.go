package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Course is the priced catalog entry a student enrolls into.
type Course struct {
	ID         string          `db:"id" json:"id"`
	Title      string          `db:"title" json:"title"`
	MonthlyFee decimal.Decimal `db:"monthly_fee" json:"monthly_fee"`
	Currency   string          `db:"currency" json:"currency"`
	Active     bool            `db:"active" json:"active"`
	CreatedAt  time.Time       `db:"created_at" json:"created_at"`
}
