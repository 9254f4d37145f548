package handlers

import (
	"net/http"

	"paylane/services/payment"

	"github.com/gin-gonic/gin"
)

var PaymentService payment.Service

// RegisterBooking registers a completed checkout with the payment engine
// and resolves its processor.
func RegisterBooking(c *gin.Context) {
	var req payment.RegisterBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid input", "details": err.Error()})
		return
	}

	booking, err := PaymentService.RegisterBooking(c.Request.Context(), req)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, booking)
}

// GetBooking returns a booking's payment view.
func GetBooking(c *gin.Context) {
	booking, err := PaymentService.GetBooking(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, booking)
}

// InitiateCharge starts a deposit or balance charge. Replaying the same
// idempotency key returns the original initiation instead of a new charge.
func InitiateCharge(c *gin.Context) {
	var req payment.InitiateChargeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid input", "details": err.Error()})
		return
	}
	req.BookingID = c.Param("id")

	initiation, err := PaymentService.InitiateCharge(c.Request.Context(), req)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, initiation)
}

// ConfirmCharge is the client-driven verification path after the client
// finished the processor's continuation flow.
func ConfirmCharge(c *gin.Context) {
	booking, err := PaymentService.ConfirmCharge(c.Request.Context(), c.Param("transactionID"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, booking)
}
