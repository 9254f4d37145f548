package processor

import (
	"errors"
	"fmt"
)

// Outcome taxonomy for processor interactions. Transient failures are
// retried at the call site with backoff; business-terminal outcomes are
// recorded on the owning entity and surfaced as structured results.
var (
	// ErrUnavailable marks a transport-level failure (timeout included).
	// The charge may still have succeeded processor-side, so callers retry
	// with the same idempotency key, never a fresh one.
	ErrUnavailable = errors.New("processor unavailable")

	// ErrInvalidRequest marks malformed input. Surfaced to the caller,
	// never retried.
	ErrInvalidRequest = errors.New("invalid processor request")

	// ErrAlreadyRefunded means the processor reports the funds already
	// returned. Callers must treat this as success, not failure.
	ErrAlreadyRefunded = errors.New("transaction already refunded")

	// ErrIgnoredEvent marks a webhook event type outside the normalized
	// vocabulary; the delivery is acknowledged and dropped.
	ErrIgnoredEvent = errors.New("event type not handled")
)

// DeclinedError is a business rejection of a charge. Terminal; the stable
// Code is what reaches the client UI, never the raw processor message.
type DeclinedError struct {
	Code    string
	Message string
}

func (e *DeclinedError) Error() string {
	return fmt.Sprintf("charge declined (%s): %s", e.Code, e.Message)
}

// IsDeclined reports whether err is a terminal business rejection.
func IsDeclined(err error) bool {
	var de *DeclinedError
	return errors.As(err, &de)
}
