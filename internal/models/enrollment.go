package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// FeeStatus is the derived billing state shown to students and admins.
type FeeStatus string

const (
	FeeStatusPaid    FeeStatus = "Paid"
	FeeStatusPending FeeStatus = "Pending"
	FeeStatusOverdue FeeStatus = "Overdue"
	FeeStatusBlocked FeeStatus = "Blocked"
)

// Valid reports whether s is a known status.
func (s FeeStatus) Valid() bool {
	switch s {
	case FeeStatusPaid, FeeStatusPending, FeeStatusOverdue, FeeStatusBlocked:
		return true
	}
	return false
}

// UnblockStatus is the stored state of a student's unblock request.
type UnblockStatus string

const (
	UnblockNone     UnblockStatus = "none"
	UnblockPending  UnblockStatus = "pending"
	UnblockApproved UnblockStatus = "approved"
	UnblockRejected UnblockStatus = "rejected"
)

// Unblock decisions recorded alongside the state.
const (
	UnblockDecisionApproved = "approved"
	UnblockDecisionRejected = "rejected"
	UnblockDecisionExpired  = "expired"
)

// Enrollment is the billing relationship between one student and one course.
type Enrollment struct {
	ID                 string          `db:"id" json:"id"`
	CourseID           string          `db:"course_id" json:"course_id"`
	StudentID          string          `db:"student_id" json:"student_id"`
	NextDue            time.Time       `db:"next_due" json:"next_due"`
	MonthlyFee         decimal.Decimal `db:"monthly_fee" json:"monthly_fee"`
	BlockedAt          *time.Time      `db:"blocked_at" json:"blocked_at,omitempty"`
	BlockOverrideUntil *time.Time      `db:"block_override_until" json:"block_override_until,omitempty"`
	UnblockStatus      UnblockStatus   `db:"unblock_status" json:"unblock_status"`
	UnblockRequestedAt *time.Time      `db:"unblock_requested_at" json:"unblock_requested_at,omitempty"`
	UnblockDecidedAt   *time.Time      `db:"unblock_decided_at" json:"unblock_decided_at,omitempty"`
	UnblockDecidedBy   *string         `db:"unblock_decided_by" json:"unblock_decided_by,omitempty"`
	UnblockDecision    *string         `db:"unblock_decision" json:"unblock_decision,omitempty"`
	UnblockNote        *string         `db:"unblock_note" json:"unblock_note,omitempty"`
	CreatedAt          time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time       `db:"updated_at" json:"updated_at"`

	PaymentHistory []Transaction `db:"-" json:"payment_history,omitempty"`
}

// EnrollmentFilter narrows a course fee roster.
type EnrollmentFilter struct {
	CourseID string
	Status   FeeStatus
	Page     int
	PageSize int
}

// PaymentAppend is the compare-and-swap write that records one payment.
// The store applies it only while the enrollment still has ExpectedNextDue.
type PaymentAppend struct {
	EnrollmentID    string
	ExpectedNextDue time.Time
	NewNextDue      time.Time
	ClearBlock      bool
	Transaction     Transaction
	UpdatedAt       time.Time
}

// UnblockUpdate moves the unblock state from From to To. Nil pointer fields
// are left untouched.
type UnblockUpdate struct {
	EnrollmentID  string
	From          UnblockStatus
	To            UnblockStatus
	RequestedAt   *time.Time
	DecidedAt     *time.Time
	DecidedBy     *string
	Decision      *string
	Note          *string
	ClearBlock    bool
	OverrideUntil *time.Time
	UpdatedAt     time.Time
}
