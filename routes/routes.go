package routes

import (
	"net/http"
	"time"

	"paylane/handlers"
	"paylane/middleware"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// RegisterPaymentRoutes registers booking payment endpoints.
func RegisterPaymentRoutes(r *gin.Engine) {
	api := r.Group("/api/bookings")
	{
		api.Use(middleware.RateLimitMiddleware(200), middleware.AuthMiddleware())
		api.POST("", handlers.RegisterBooking)
		api.GET("/:id", handlers.GetBooking)
		api.POST("/:id/charges", handlers.InitiateCharge)
		api.GET("/:id/refunds", handlers.ListRefunds)

		// Refunds move money out; tokens need the explicit grant.
		api.POST("/:id/refunds", middleware.RequireScope("refunds:write"), handlers.RequestRefund)
	}

	txns := r.Group("/api/transactions")
	{
		txns.Use(middleware.AuthMiddleware())
		txns.POST("/:transactionID/confirm", handlers.ConfirmCharge)
	}

	refunds := r.Group("/api/refunds")
	{
		refunds.Use(middleware.AuthMiddleware())
		refunds.GET("/:refundID", handlers.GetRefund)
	}
}

// RegisterSubscriptionRoutes registers subscription endpoints.
func RegisterSubscriptionRoutes(r *gin.Engine) {
	api := r.Group("/api/subscriptions")
	{
		api.Use(middleware.RateLimitMiddleware(200), middleware.AuthMiddleware())
		api.POST("", handlers.OnboardSubscription)
		api.GET("/:id", handlers.GetSubscription)
		api.DELETE("/:id", handlers.CancelSubscription)
	}
}

// RegisterWebhookRoutes registers the processor notification intake. No
// bearer auth here; each processor adapter verifies its own signature or
// source address.
func RegisterWebhookRoutes(r *gin.Engine) {
	api := r.Group("/api/webhooks")
	{
		api.Use(middleware.RateLimitMiddleware(600))
		api.POST("/:processor", handlers.ReceiveWebhook)
	}
}

// RegisterHealthRoute registers a health-check endpoint.
func RegisterHealthRoute(r *gin.Engine) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "message": "Hi, I'm Paylane"})
	})
}

// RegisterRoutes centralizes registration of all endpoints and middleware.
func RegisterRoutes(r *gin.Engine) {
	// Setup global middleware (e.g., CORS) here.
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Authorization", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	RegisterHealthRoute(r)
	RegisterPaymentRoutes(r)
	RegisterSubscriptionRoutes(r)
	RegisterWebhookRoutes(r)
}
