package payment

import (
	"errors"
	"fmt"

	"paylane/models"
)

// ErrConflict is surfaced when an optimistic-concurrency retry also lost.
// The operation is safe to retry from the top.
var ErrConflict = errors.New("concurrent update conflict")

// AmountMismatchError reports a charge event whose amount does not match
// the expected next increment. It is surfaced for manual review, never
// silently applied.
type AmountMismatchError struct {
	BookingID string
	Expected  int64
	Got       int64
}

func (e *AmountMismatchError) Error() string {
	return fmt.Sprintf("amount mismatch on booking %s: expected %d, got %d", e.BookingID, e.Expected, e.Got)
}

// InvalidTransitionError reports an event that has no legal transition from
// the booking's current payment status.
type InvalidTransitionError struct {
	From models.PaymentStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("no legal payment transition from %s", e.From)
}
