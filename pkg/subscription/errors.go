package subscription

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound        = errors.New("subscription not found")
	ErrNothingToCancel = errors.New("no subscription to cancel")
	ErrAlreadyExpired  = errors.New("subscription already expired, resubscribe to continue")
	ErrNotReactivable  = errors.New("no subscription scheduled for cancellation to reactivate")
	ErrNotActive       = errors.New("no active subscription")
	ErrSamePlan        = errors.New("already subscribed to this plan")
	ErrUnknownPlan     = errors.New("unknown subscription plan")
	ErrNoPriceForPlan  = errors.New("no price configured for plan")
	ErrNothingToRefund = errors.New("no payment on record to refund")

	ErrPersistFailed = errors.New("failed to persist subscription")
)

// AlreadyScheduledError is returned when a cancellation is requested for a
// subscription that is already scheduled to cancel. It carries the existing
// end date so callers can surface it to the user.
type AlreadyScheduledError struct {
	EndDate time.Time
}

func (e *AlreadyScheduledError) Error() string {
	return fmt.Sprintf("subscription already scheduled for cancellation on %s", e.EndDate.Format("2006-01-02"))
}

// Is lets errors.Is(err, ErrAlreadyScheduled) match regardless of the date.
func (e *AlreadyScheduledError) Is(target error) bool {
	return target == ErrAlreadyScheduled
}

// ErrAlreadyScheduled is the sentinel matched by AlreadyScheduledError.
var ErrAlreadyScheduled = errors.New("subscription already scheduled for cancellation")
