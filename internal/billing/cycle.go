// Package billing holds the pure fee rules: billing cycle arithmetic, status
// derivation and the unblock request state machine. Nothing here performs I/O.
package billing

import (
	"time"

	"github.com/shopspring/decimal"
)

const monthLayout = "January 2006"

// Period is the span of calendar months covered by one payment. End is
// exclusive and becomes the enrollment's next due date.
type Period struct {
	Start time.Time
	End   time.Time
	Label string
}

// AddMonths advances t by n calendar months keeping the day-of-month of t.
// When the target month is shorter the day is clamped to its last day.
// Hour, minute and location are preserved.
func AddMonths(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(n), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	if last := daysIn(first); d > last {
		d = last
	}
	return first.AddDate(0, 0, d-1)
}

// MonthLabel renders the month-year of t, e.g. "March 2025".
func MonthLabel(t time.Time) string {
	return t.Format(monthLayout)
}

// CycleLabel names the billing period starting at anchor and spanning
// monthCount months. monthCount is expected to be at least 1.
func CycleLabel(anchor time.Time, monthCount int) string {
	start := MonthLabel(anchor)
	if monthCount <= 1 {
		return start
	}
	return start + " to " + MonthLabel(AddMonths(anchor, monthCount-1))
}

// NewPeriod returns the period covered by paying monthCount months from anchor.
func NewPeriod(anchor time.Time, monthCount int) Period {
	return Period{
		Start: anchor,
		End:   AddMonths(anchor, monthCount),
		Label: CycleLabel(anchor, monthCount),
	}
}

// ExpectedAmount is monthlyFee times monthCount.
func ExpectedAmount(monthlyFee decimal.Decimal, monthCount int) decimal.Decimal {
	return monthlyFee.Mul(decimal.NewFromInt(int64(monthCount)))
}

func daysIn(firstOfMonth time.Time) int {
	return firstOfMonth.AddDate(0, 1, -1).Day()
}
