package payment

import (
	"fmt"

	"paylane/models"
)

// NextOnCharge computes the booking's payment status after a verified charge
// of the given amount. Transitions are amount-matched: the deposit moves
// AWAITING_DEPOSIT to DEPOSIT_PAID, the remaining balance moves DEPOSIT_PAID
// to FULLY_PAID. A full-total charge while still AWAITING_DEPOSIT takes the
// direct shortcut to FULLY_PAID; this covers a lost or skipped deposit event
// and is not an error. Any other amount is a mismatch, kept aside for
// manual review.
func NextOnCharge(b *models.Booking, amount int64) (models.PaymentStatus, error) {
	switch b.PaymentStatus {
	case models.PaymentAwaitingDeposit:
		if amount == b.TotalAmount {
			return models.PaymentFullyPaid, nil
		}
		if amount == b.DepositAmount {
			return models.PaymentDepositPaid, nil
		}
		return "", &AmountMismatchError{BookingID: b.ID, Expected: b.DepositAmount, Got: amount}

	case models.PaymentDepositPaid:
		if amount == b.RemainingBalance() {
			return models.PaymentFullyPaid, nil
		}
		return "", &AmountMismatchError{BookingID: b.ID, Expected: b.RemainingBalance(), Got: amount}

	default:
		// Refunded bookings never re-enter forward payment progress.
		return "", &InvalidTransitionError{From: b.PaymentStatus}
	}
}

// NextOnRefund computes the booking's payment status from the cumulative
// succeeded refund amount against what was actually captured.
func NextOnRefund(captured, refunded int64) (models.PaymentStatus, error) {
	switch {
	case refunded <= 0:
		return "", fmt.Errorf("no refunded amount to apply")
	case refunded < captured:
		return models.PaymentPartiallyRefunded, nil
	case refunded == captured:
		return models.PaymentRefunded, nil
	default:
		return "", fmt.Errorf("refunded %d exceeds captured %d", refunded, captured)
	}
}
