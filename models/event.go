package models

// EventType is the shared webhook event vocabulary. Every processor adapter
// maps its own event taxonomy onto these four types.
type EventType string

const (
	EventChargeSucceeded EventType = "charge.succeeded"
	EventChargeFailed    EventType = "charge.failed"
	EventRefundSucceeded EventType = "refund.succeeded"
	EventRefundFailed    EventType = "refund.failed"
)

// NormalizedEvent is the processor-agnostic form of a webhook notification.
// EntityRef is the processor's transaction or refund reference, which the
// engine resolves back to its own records.
type NormalizedEvent struct {
	Type             EventType `json:"type"`
	EntityRef        string    `json:"entity_ref"`
	Amount           int64     `json:"amount"`
	Currency         string    `json:"currency"`
	ProcessorEventID string    `json:"processor_event_id"`
	Processor        string    `json:"processor"`
	FailureCode      string    `json:"failure_code,omitempty"`
}
