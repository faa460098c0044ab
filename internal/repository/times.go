package repository

import (
	"time"

	"github.com/noah-isme/lms-billing-api/internal/models"
)

// Billing dates are calendar days in UTC. lib/pq hands TIMESTAMPTZ values back
// in the session time zone, so every scanned row is pinned to UTC here.

func utcEnrollment(e *models.Enrollment) {
	e.NextDue = e.NextDue.UTC()
	e.BlockedAt = utcPtr(e.BlockedAt)
	e.BlockOverrideUntil = utcPtr(e.BlockOverrideUntil)
	e.UnblockRequestedAt = utcPtr(e.UnblockRequestedAt)
	e.UnblockDecidedAt = utcPtr(e.UnblockDecidedAt)
	e.CreatedAt = e.CreatedAt.UTC()
	e.UpdatedAt = e.UpdatedAt.UTC()
}

func utcEnrollments(list []models.Enrollment) {
	for i := range list {
		utcEnrollment(&list[i])
	}
}

func utcTransaction(t *models.Transaction) {
	t.PeriodStart = t.PeriodStart.UTC()
	t.PeriodEnd = t.PeriodEnd.UTC()
	t.PaidAt = t.PaidAt.UTC()
	t.CreatedAt = t.CreatedAt.UTC()
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
