package subscription

import (
	"math"
	"strings"
	"time"
)

// PeriodEnd computes the local fallback end date for a plan: one month out
// for monthly and premium plans, one year for annual. Used when no remote
// subscription exists or the remote object is gone.
func PeriodEnd(plan Plan, from time.Time) time.Time {
	if plan == PlanAnnual {
		return from.AddDate(1, 0, 0)
	}
	return from.AddDate(0, 1, 0)
}

// DaysRemaining returns the number of whole days until end, rounding partial
// days up. Past dates return 0.
func DaysRemaining(end, now time.Time) int {
	remaining := end.Sub(now)
	if remaining <= 0 {
		return 0
	}
	return int(math.Ceil(remaining.Hours() / 24))
}

// ParseEndDate converts an externally supplied end-date string into a
// timestamp. Sentinel garbage ("", "null", "Invalid Date") and anything
// unparseable yields nil so it is dropped instead of persisted.
func ParseEndDate(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	switch strings.ToLower(raw) {
	case "", "null", "undefined", "invalid date":
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t
		}
	}
	return nil
}
