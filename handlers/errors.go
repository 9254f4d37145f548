package handlers

import (
	"errors"
	"net/http"

	bookingRepo "paylane/database/repository/booking"
	ledgerRepo "paylane/database/repository/ledger"
	refundRepo "paylane/database/repository/refund"
	subRepo "paylane/database/repository/subscription"
	txnRepo "paylane/database/repository/transaction"
	"paylane/services/payment"
	"paylane/services/processor"
	"paylane/utils"

	"github.com/gin-gonic/gin"
)

// respondServiceError maps the service error taxonomy onto stable reason
// codes and HTTP statuses. Raw processor messages never reach the client.
func respondServiceError(c *gin.Context, err error) {
	var declined *processor.DeclinedError
	var mismatch *payment.AmountMismatchError

	switch {
	case errors.As(err, &declined):
		utils.JSONError(c, http.StatusPaymentRequired, declined.Code, "The payment was declined.")
	case errors.As(err, &mismatch):
		utils.JSONError(c, http.StatusUnprocessableEntity, "amount_mismatch", "The amount does not match what this operation allows.")
	case errors.Is(err, processor.ErrInvalidRequest):
		utils.JSONError(c, http.StatusBadRequest, "invalid_request", "The request is malformed or missing required fields.")
	case errors.Is(err, processor.ErrUnavailable):
		utils.JSONError(c, http.StatusServiceUnavailable, "processor_unavailable", "The payment processor is temporarily unavailable. Retry with the same idempotency key.")
	case errors.Is(err, payment.ErrConflict):
		utils.JSONError(c, http.StatusConflict, "conflict", "A concurrent update interfered. Retry the request.")
	case isNotFound(err):
		utils.JSONError(c, http.StatusNotFound, "not_found", "No such record.")
	default:
		utils.JSONError(c, http.StatusInternalServerError, "internal_error", "Something went wrong. Try again later.")
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, bookingRepo.ErrNotFound) ||
		errors.Is(err, txnRepo.ErrNotFound) ||
		errors.Is(err, refundRepo.ErrNotFound) ||
		errors.Is(err, subRepo.ErrNotFound) ||
		errors.Is(err, ledgerRepo.ErrNotFound)
}
