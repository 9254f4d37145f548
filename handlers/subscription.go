package handlers

import (
	"net/http"

	"paylane/services/subscription"

	"github.com/gin-gonic/gin"
)

var SubscriptionService subscription.Service

// OnboardSubscription creates a subscription, honoring the tier's trial
// policy for the region.
func OnboardSubscription(c *gin.Context) {
	var req subscription.OnboardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid input", "details": err.Error()})
		return
	}

	sub, err := SubscriptionService.Onboard(c.Request.Context(), req)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, sub)
}

// GetSubscription returns one subscription.
func GetSubscription(c *gin.Context) {
	sub, err := SubscriptionService.GetSubscription(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, sub)
}

// CancelSubscription cancels a subscription. Canceling an already canceled
// subscription is a no-op.
func CancelSubscription(c *gin.Context) {
	sub, err := SubscriptionService.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, sub)
}
