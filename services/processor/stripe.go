package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"paylane/models"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/paymentintent"
	"github.com/stripe/stripe-go/v76/refund"
	"github.com/stripe/stripe-go/v76/webhook"
)

// StripeProcessor is the global card-network adapter, backed by Stripe
// PaymentIntents. The package-level stripe.Key is set once in main.
type StripeProcessor struct {
	webhookSecret string
}

// NewStripeProcessor creates the Stripe adapter. The webhook secret is the
// signing secret for this route's endpoint (whsec_...).
func NewStripeProcessor(webhookSecret string) *StripeProcessor {
	return &StripeProcessor{webhookSecret: webhookSecret}
}

func (s *StripeProcessor) Name() string { return "stripe" }

func (s *StripeProcessor) InitiateCharge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	if req.Amount <= 0 || req.Currency == "" || req.IdempotencyKey == "" {
		return nil, fmt.Errorf("%w: amount, currency and idempotency key are required", ErrInvalidRequest)
	}

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.Amount),
		Currency: stripe.String(strings.ToLower(req.Currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.IdempotencyKey)
	if req.CustomerRef != "" {
		params.AddMetadata("customer_ref", req.CustomerRef)
	}

	pi, err := paymentintent.New(params)
	if err != nil {
		return nil, mapStripeError(err)
	}
	return &ChargeResult{
		TransactionRef:    pi.ID,
		ClientActionToken: pi.ClientSecret,
	}, nil
}

func (s *StripeProcessor) VerifyTransaction(ctx context.Context, transactionRef string) (*VerifyResult, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx

	pi, err := paymentintent.Get(transactionRef, params)
	if err != nil {
		return nil, mapStripeError(err)
	}

	result := &VerifyResult{
		Amount:   pi.Amount,
		Currency: strings.ToUpper(string(pi.Currency)),
	}
	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded:
		result.Status = VerifySucceeded
		result.Amount = pi.AmountReceived
	case stripe.PaymentIntentStatusCanceled:
		result.Status = VerifyFailed
	default:
		result.Status = VerifyPending
	}
	return result, nil
}

func (s *StripeProcessor) VerifyRefund(ctx context.Context, refundRef string) (*VerifyResult, error) {
	params := &stripe.RefundParams{}
	params.Context = ctx

	re, err := refund.Get(refundRef, params)
	if err != nil {
		return nil, mapStripeError(err)
	}

	result := &VerifyResult{
		Amount:   re.Amount,
		Currency: strings.ToUpper(string(re.Currency)),
	}
	switch re.Status {
	case stripe.RefundStatusSucceeded:
		result.Status = VerifySucceeded
	case stripe.RefundStatusFailed, stripe.RefundStatusCanceled:
		result.Status = VerifyFailed
	default:
		result.Status = VerifyPending
	}
	return result, nil
}

func (s *StripeProcessor) InitiateRefund(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	if req.TransactionRef == "" || req.Amount <= 0 || req.IdempotencyKey == "" {
		return nil, fmt.Errorf("%w: transaction ref, amount and idempotency key are required", ErrInvalidRequest)
	}

	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(req.TransactionRef),
		Amount:        stripe.Int64(req.Amount),
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.IdempotencyKey)

	re, err := refund.New(params)
	if err != nil {
		return nil, mapStripeError(err)
	}
	return &RefundResult{RefundRef: re.ID}, nil
}

func (s *StripeProcessor) VerifyWebhookAuthenticity(payload []byte, headers http.Header, sourceIP string) bool {
	if s.webhookSecret == "" {
		return false
	}
	// IgnoreAPIVersionMismatch: events may be signed by a newer API version
	// than the SDK pins; the signature check itself is unaffected.
	_, err := webhook.ConstructEventWithOptions(payload, headers.Get("Stripe-Signature"), s.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	return err == nil
}

func (s *StripeProcessor) ParseWebhookEvent(payload []byte) (*models.NormalizedEvent, error) {
	var event stripe.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("%w: malformed stripe event: %v", ErrInvalidRequest, err)
	}

	switch event.Type {
	case "payment_intent.succeeded", "payment_intent.payment_failed":
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			return nil, fmt.Errorf("%w: malformed payment intent payload: %v", ErrInvalidRequest, err)
		}
		ev := &models.NormalizedEvent{
			EntityRef:        pi.ID,
			Amount:           pi.Amount,
			Currency:         strings.ToUpper(string(pi.Currency)),
			ProcessorEventID: event.ID,
			Processor:        s.Name(),
		}
		if event.Type == "payment_intent.succeeded" {
			ev.Type = models.EventChargeSucceeded
			ev.Amount = pi.AmountReceived
		} else {
			ev.Type = models.EventChargeFailed
			if pi.LastPaymentError != nil {
				ev.FailureCode = string(pi.LastPaymentError.DeclineCode)
			}
		}
		return ev, nil

	case "refund.updated", "charge.refund.updated":
		var re stripe.Refund
		if err := json.Unmarshal(event.Data.Raw, &re); err != nil {
			return nil, fmt.Errorf("%w: malformed refund payload: %v", ErrInvalidRequest, err)
		}
		ev := &models.NormalizedEvent{
			EntityRef:        re.ID,
			Amount:           re.Amount,
			Currency:         strings.ToUpper(string(re.Currency)),
			ProcessorEventID: event.ID,
			Processor:        s.Name(),
		}
		switch re.Status {
		case stripe.RefundStatusSucceeded:
			ev.Type = models.EventRefundSucceeded
		case stripe.RefundStatusFailed, stripe.RefundStatusCanceled:
			ev.Type = models.EventRefundFailed
			ev.FailureCode = string(re.FailureReason)
		default:
			return nil, ErrIgnoredEvent
		}
		return ev, nil
	}

	return nil, ErrIgnoredEvent
}

// mapStripeError folds Stripe's error taxonomy into the engine's. Card
// declines become terminal DeclinedErrors with the stable decline code;
// everything transport-shaped becomes ErrUnavailable so the caller retries
// with the same idempotency key.
func mapStripeError(err error) error {
	var se *stripe.Error
	if !errors.As(err, &se) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	switch se.Type {
	case stripe.ErrorTypeCard:
		code := string(se.DeclineCode)
		if code == "" {
			code = string(se.Code)
		}
		return &DeclinedError{Code: code, Message: se.Msg}
	case stripe.ErrorTypeInvalidRequest:
		if se.Code == stripe.ErrorCodeChargeAlreadyRefunded {
			return ErrAlreadyRefunded
		}
		return fmt.Errorf("%w: %s", ErrInvalidRequest, se.Msg)
	default:
		return fmt.Errorf("%w: %s", ErrUnavailable, se.Msg)
	}
}
