package billing

import (
	"time"

	"github.com/noah-isme/lms-billing-api/internal/models"
)

// Policy holds the configured thresholds used to derive status.
type Policy struct {
	// GracePeriod is how long after NextDue an enrollment stays Pending.
	GracePeriod time.Duration
	// BlockAfter is how long after NextDue an unpaid enrollment becomes
	// eligible for automatic blocking.
	BlockAfter time.Duration
}

// DeriveStatus computes the display status of e at now. The stored block flag
// wins unless an approved override is still active.
func DeriveStatus(e models.Enrollment, now time.Time, p Policy) models.FeeStatus {
	if e.BlockedAt != nil && !OverrideActive(e, now) {
		return models.FeeStatusBlocked
	}
	if now.Before(e.NextDue) {
		return models.FeeStatusPaid
	}
	if now.Before(e.NextDue.Add(p.GracePeriod)) {
		return models.FeeStatusPending
	}
	return models.FeeStatusOverdue
}

// OverrideActive reports whether an approved unblock still shields e at now.
func OverrideActive(e models.Enrollment, now time.Time) bool {
	return e.BlockOverrideUntil != nil && now.Before(*e.BlockOverrideUntil)
}

// ShouldBlock reports whether the automatic job should block e at now.
func ShouldBlock(e models.Enrollment, now time.Time, p Policy) bool {
	if e.BlockedAt != nil || OverrideActive(e, now) {
		return false
	}
	return !now.Before(e.NextDue.Add(p.BlockAfter))
}

// BlockCutoff is the latest NextDue that qualifies for blocking at now.
func BlockCutoff(now time.Time, p Policy) time.Time {
	return now.Add(-p.BlockAfter)
}
