package handlers

import (
	"net/http"

	"paylane/services/refund"

	"github.com/gin-gonic/gin"
)

var RefundService refund.Service

// RequestRefund asks for funds back on a booking. The engine decomposes the
// amount across the booking's captured charges; the response lists the
// resulting refund records.
func RequestRefund(c *gin.Context) {
	var req refund.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid input", "details": err.Error()})
		return
	}
	req.BookingID = c.Param("id")

	records, err := RefundService.RequestRefund(c.Request.Context(), req)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"refunds": records})
}

// GetRefund returns one refund record.
func GetRefund(c *gin.Context) {
	record, err := RefundService.GetRefund(c.Request.Context(), c.Param("refundID"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

// ListRefunds returns all refund records for a booking.
func ListRefunds(c *gin.Context) {
	records, err := RefundService.ListByBooking(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"refunds": records})
}
