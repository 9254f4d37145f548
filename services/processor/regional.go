package processor

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"paylane/models"
)

// RegionalProcessor is the adapter for the regional card + mobile-money
// gateway (REST API, bearer-key auth, HMAC-signed webhooks). One instance
// covers all regional markets; the gateway routes card vs mobile-money on
// its side based on the customer's chosen channel.
type RegionalProcessor struct {
	baseURL    string
	secretKey  string
	allowedIPs map[string]bool
	client     *http.Client
}

// NewRegionalProcessor creates the regional gateway adapter. allowedIPs is
// the gateway's published webhook source range; an empty list disables the
// IP check and relies on the HMAC signature alone.
func NewRegionalProcessor(baseURL, secretKey string, allowedIPs []string, client *http.Client) *RegionalProcessor {
	ips := make(map[string]bool, len(allowedIPs))
	for _, ip := range allowedIPs {
		ips[ip] = true
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &RegionalProcessor{
		baseURL:    baseURL,
		secretKey:  secretKey,
		allowedIPs: ips,
		client:     client,
	}
}

func (p *RegionalProcessor) Name() string { return "regional" }

type regionalChargeResponse struct {
	Status           string `json:"status"`
	Reference        string `json:"reference"`
	AuthorizationURL string `json:"authorization_url"`
	Message          string `json:"message"`
}

func (p *RegionalProcessor) InitiateCharge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	if req.Amount <= 0 || req.Currency == "" || req.IdempotencyKey == "" {
		return nil, fmt.Errorf("%w: amount, currency and idempotency key are required", ErrInvalidRequest)
	}

	body := map[string]interface{}{
		"amount":   req.Amount,
		"currency": req.Currency,
		"customer": req.CustomerRef,
	}
	var resp regionalChargeResponse
	if err := p.post(ctx, "/charges", req.IdempotencyKey, body, &resp); err != nil {
		return nil, err
	}
	if resp.Status == "declined" {
		return nil, &DeclinedError{Code: "regional_declined", Message: resp.Message}
	}
	return &ChargeResult{
		TransactionRef:    resp.Reference,
		ClientActionToken: resp.AuthorizationURL,
	}, nil
}

type regionalVerifyResponse struct {
	Status   string `json:"status"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

func (p *RegionalProcessor) VerifyTransaction(ctx context.Context, transactionRef string) (*VerifyResult, error) {
	return p.verify(ctx, "/charges/"+transactionRef)
}

func (p *RegionalProcessor) VerifyRefund(ctx context.Context, refundRef string) (*VerifyResult, error) {
	return p.verify(ctx, "/refunds/"+refundRef)
}

func (p *RegionalProcessor) verify(ctx context.Context, path string) (*VerifyResult, error) {
	var resp regionalVerifyResponse
	if err := p.get(ctx, path, &resp); err != nil {
		return nil, err
	}

	result := &VerifyResult{Amount: resp.Amount, Currency: resp.Currency}
	switch resp.Status {
	case "success", "processed":
		result.Status = VerifySucceeded
	case "failed", "declined", "reversed":
		result.Status = VerifyFailed
	default:
		result.Status = VerifyPending
	}
	return result, nil
}

type regionalRefundResponse struct {
	Status    string `json:"status"`
	Reference string `json:"reference"`
	Message   string `json:"message"`
}

func (p *RegionalProcessor) InitiateRefund(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	if req.TransactionRef == "" || req.Amount <= 0 || req.IdempotencyKey == "" {
		return nil, fmt.Errorf("%w: transaction ref, amount and idempotency key are required", ErrInvalidRequest)
	}

	body := map[string]interface{}{
		"charge_reference": req.TransactionRef,
		"amount":           req.Amount,
	}
	var resp regionalRefundResponse
	if err := p.post(ctx, "/refunds", req.IdempotencyKey, body, &resp); err != nil {
		return nil, err
	}
	if resp.Status == "already_refunded" {
		return nil, ErrAlreadyRefunded
	}
	return &RefundResult{RefundRef: resp.Reference}, nil
}

// VerifyWebhookAuthenticity checks the gateway's source IP against the
// published allow-list and the X-Gateway-Signature header, an HMAC-SHA256
// of the raw payload under the secret key.
func (p *RegionalProcessor) VerifyWebhookAuthenticity(payload []byte, headers http.Header, sourceIP string) bool {
	if len(p.allowedIPs) > 0 && !p.allowedIPs[sourceIP] {
		return false
	}

	signature := headers.Get("X-Gateway-Signature")
	if signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(p.secretKey))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

type regionalWebhookPayload struct {
	Event string `json:"event"`
	ID    string `json:"id"`
	Data  struct {
		Reference string `json:"reference"`
		Amount    int64  `json:"amount"`
		Currency  string `json:"currency"`
		Channel   string `json:"channel"`
		Reason    string `json:"reason"`
	} `json:"data"`
}

func (p *RegionalProcessor) ParseWebhookEvent(payload []byte) (*models.NormalizedEvent, error) {
	var wp regionalWebhookPayload
	if err := json.Unmarshal(payload, &wp); err != nil {
		return nil, fmt.Errorf("%w: malformed gateway event: %v", ErrInvalidRequest, err)
	}

	ev := &models.NormalizedEvent{
		EntityRef:        wp.Data.Reference,
		Amount:           wp.Data.Amount,
		Currency:         wp.Data.Currency,
		ProcessorEventID: wp.ID,
		Processor:        p.Name(),
	}
	switch wp.Event {
	case "charge.success":
		ev.Type = models.EventChargeSucceeded
	case "charge.failed":
		ev.Type = models.EventChargeFailed
		ev.FailureCode = wp.Data.Reason
	case "refund.processed":
		ev.Type = models.EventRefundSucceeded
	case "refund.failed":
		ev.Type = models.EventRefundFailed
		ev.FailureCode = wp.Data.Reason
	default:
		return nil, ErrIgnoredEvent
	}
	return ev, nil
}

func (p *RegionalProcessor) post(ctx context.Context, path, idempotencyKey string, body map[string]interface{}, out interface{}) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.secretKey)
	req.Header.Set("X-Idempotency-Key", idempotencyKey)

	return p.do(req, out)
}

func (p *RegionalProcessor) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	req.Header.Set("Authorization", "Bearer "+p.secretKey)

	return p.do(req, out)
}

func (p *RegionalProcessor) do(req *http.Request, out interface{}) error {
	resp, err := p.client.Do(req)
	if err != nil {
		// Includes timeouts: the request may have landed, so the caller
		// must retry with the same idempotency key.
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	switch {
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: gateway returned %d", ErrUnavailable, resp.StatusCode)
	case resp.StatusCode == http.StatusConflict:
		return ErrAlreadyRefunded
	case resp.StatusCode == http.StatusPaymentRequired:
		var body regionalChargeResponse
		_ = json.Unmarshal(raw, &body)
		return &DeclinedError{Code: "regional_declined", Message: body.Message}
	case resp.StatusCode >= 400:
		return fmt.Errorf("%w: gateway returned %d", ErrInvalidRequest, resp.StatusCode)
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: malformed gateway response: %v", ErrUnavailable, err)
	}
	return nil
}
