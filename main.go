// File: paylane/main.go
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"paylane/config"
	"paylane/cron"
	"paylane/database"
	bookingRepoPkg "paylane/database/repository/booking"
	ledgerRepoPkg "paylane/database/repository/ledger"
	refundRepoPkg "paylane/database/repository/refund"
	subRepoPkg "paylane/database/repository/subscription"
	txnRepoPkg "paylane/database/repository/transaction"
	"paylane/handlers"
	"paylane/routes"
	"paylane/services/notification"
	"paylane/services/payment"
	"paylane/services/processor"
	"paylane/services/reconcile"
	"paylane/services/refund"
	"paylane/services/subscription"
	"paylane/services/webhook"
	"paylane/utils"

	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v76"
)

func main() {
	config.LoadConfig()
	logger := utils.GetLogger()

	database.InitDB()
	utils.InitCache()
	utils.FirebaseInit()

	// Create the Gin router.
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(utils.ErrorHandler())
	router.Use(gin.Logger())
	stripe.Key = config.AppConfig.StripeKey

	// repositories.
	bookings := bookingRepoPkg.NewMongoBookingRepo()
	txns := txnRepoPkg.NewMongoTransactionRepo()
	refunds := refundRepoPkg.NewMongoRefundRepo()
	subs := subRepoPkg.NewMongoSubscriptionRepo()
	ledger := ledgerRepoPkg.NewMongoLedgerRepo()

	registry := processor.NewRegistry()
	notifier := notification.NewFCMNotifier(logger)

	maxRetries := config.AppConfig.ProcessorMaxRetries
	backoff := time.Duration(config.AppConfig.ProcessorRetryBackoff) * time.Millisecond
	timeout := config.ProcessorTimeout()

	// services.
	paymentService := &payment.DefaultPaymentService{
		Bookings:   bookings,
		Txns:       txns,
		Refunds:    refunds,
		Ledger:     ledger,
		Registry:   registry,
		Notifier:   notifier,
		Cache:      utils.GetCacheClient(),
		Logger:     logger,
		MaxRetries: maxRetries,
		Backoff:    backoff,
		Timeout:    timeout,
	}

	refundService := &refund.DefaultRefundService{
		Bookings:   bookings,
		Refunds:    refunds,
		Txns:       txns,
		Ledger:     ledger,
		Registry:   registry,
		Payments:   paymentService,
		Logger:     logger,
		MaxRetries: maxRetries,
		Backoff:    backoff,
		Timeout:    timeout,
	}

	subscriptionService := &subscription.DefaultSubscriptionService{
		Repo:       subs,
		Txns:       txns,
		Ledger:     ledger,
		Registry:   registry,
		Notifier:   notifier,
		Logger:     logger,
		MaxRetries: maxRetries,
		Backoff:    backoff,
		Timeout:    timeout,
	}

	dispatcher := &webhook.Dispatcher{
		Txns:          txns,
		Payments:      paymentService,
		Subscriptions: subscriptionService,
		Refunds:       refundService,
		Logger:        logger,
	}

	intake := &webhook.Intake{
		Registry: registry,
		Ledger:   ledger,
		Dispatch: dispatcher,
		Logger:   logger,
	}

	sweeper := &reconcile.Sweeper{
		Txns:      txns,
		Refunds:   refunds,
		RefundOp:  refundService,
		Ledger:    ledger,
		Registry:  registry,
		Dispatch:  dispatcher,
		Logger:    logger,
		Staleness: config.Staleness(),
		BatchSize: 200,
	}

	handlers.PaymentService = paymentService
	handlers.RefundService = refundService
	handlers.SubscriptionService = subscriptionService
	handlers.WebhookIntake = intake

	routes.RegisterRoutes(router)

	cron.InitSweepWorker(sweeper, subscriptionService, ledger)

	// Start the HTTP server.
	port := config.AppConfig.AppPort
	if port == "" {
		port = "8080"
	}
	srv := &http.Server{
		Addr:    "0.0.0.0:" + port,
		Handler: router,
	}

	logger.Sugar().Infof("Starting server on %s...", srv.Addr)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Sugar().Fatalf("main: server failed to start: %v", err)
		}
	}()

	// Wait for an OS signal to gracefully shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Sugar().Info("main: server is shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Sugar().Fatalf("main: server forced to shutdown: %v", err)
	}

	logger.Sugar().Info("main: server stopped gracefully")
}
