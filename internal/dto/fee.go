package dto

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/lms-billing-api/internal/models"
)

// RecordPaymentRequest captures POST /courses/{id}/fees.
type RecordPaymentRequest struct {
	StudentID      string               `json:"studentId" validate:"required"`
	Amount         decimal.Decimal      `json:"amount" swaggertype:"string"`
	MonthCount     int                  `json:"monthCount" validate:"required,min=1"`
	Method         models.PaymentMethod `json:"method" validate:"required,oneof=Cash UPI Bank Other Online"`
	IdempotencyKey string               `json:"idempotencyKey" validate:"max=128"`
}

// UnblockActionRequest captures PUT /courses/{id}/fees.
type UnblockActionRequest struct {
	StudentID string `json:"studentId"`
	Action    string `json:"action" validate:"required,oneof=request approve reject block"`
	Note      string `json:"note" validate:"max=500"`
}

// EnrollRequest captures POST /courses/{id}/enrollments.
type EnrollRequest struct {
	StudentID string     `json:"studentId" validate:"required"`
	NextDue   *time.Time `json:"nextDue,omitempty"`
}

// UnblockView describes the unblock request state of an enrollment.
type UnblockView struct {
	Status        models.UnblockStatus `json:"status"`
	RequestedAt   *time.Time           `json:"requestedAt,omitempty"`
	DecidedAt     *time.Time           `json:"decidedAt,omitempty"`
	LastDecision  *string              `json:"lastDecision,omitempty"`
	Note          *string              `json:"note,omitempty"`
	OverrideUntil *time.Time           `json:"overrideUntil,omitempty"`
}

// FeeStatusResponse is the fee view of one enrollment.
type FeeStatusResponse struct {
	EnrollmentID   string               `json:"enrollmentId"`
	CourseID       string               `json:"courseId"`
	StudentID      string               `json:"studentId"`
	Status         models.FeeStatus     `json:"status"`
	NextDue        time.Time            `json:"nextDue"`
	MonthlyFee     decimal.Decimal      `json:"monthlyFee" swaggertype:"string"`
	NextCycle      string               `json:"nextCycle"`
	Unblock        UnblockView          `json:"unblockRequest"`
	PaymentHistory []models.Transaction `json:"paymentHistory"`
}

// RecordPaymentResponse reports the outcome of a ledger write.
type RecordPaymentResponse struct {
	NextDue     time.Time          `json:"nextDue"`
	Status      models.FeeStatus   `json:"status"`
	Transaction models.Transaction `json:"transaction"`
	Replayed    bool               `json:"replayed"`
}
