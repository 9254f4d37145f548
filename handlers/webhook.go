package handlers

import (
	"errors"
	"io"
	"net/http"

	"paylane/middleware"
	"paylane/services/processor"
	"paylane/services/webhook"
	"paylane/utils"

	"github.com/gin-gonic/gin"
)

var WebhookIntake *webhook.Intake

// maxWebhookBody caps webhook payload reads at 1 MiB.
const maxWebhookBody = 1 << 20

// ReceiveWebhook is the intake endpoint for processor notifications. The
// processor name comes from the route; a non-2xx answer asks the processor
// to redeliver.
func ReceiveWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		utils.JSONError(c, http.StatusBadRequest, "invalid_payload", "Could not read the request body.")
		return
	}

	err = WebhookIntake.Handle(
		c.Request.Context(),
		c.Param("processor"),
		payload,
		c.Request.Header,
		middleware.ClientIP(c),
	)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"received": true})
	case errors.Is(err, webhook.ErrAuthenticity):
		utils.JSONError(c, http.StatusUnauthorized, "authenticity_failure", "Signature or source verification failed.")
	case errors.Is(err, processor.ErrUnknownProcessor):
		utils.JSONError(c, http.StatusNotFound, "not_found", "No such processor.")
	default:
		// Transient: the reservation was released, redelivery will retry.
		utils.JSONError(c, http.StatusInternalServerError, "delivery_retry", "Temporary failure, redeliver this event.")
	}
}
