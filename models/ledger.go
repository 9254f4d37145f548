package models

import "time"

// IdempotencyRecord marks an operation as observed. The key is either a
// processor-assigned webhook event id or a client-generated idempotency key.
// Once recorded a key is never overwritten; a retried operation with the same
// key returns the recorded outcome instead of re-executing.
type IdempotencyRecord struct {
	Key       string    `bson:"key" json:"key"`
	Outcome   string    `bson:"outcome,omitempty" json:"outcome,omitempty"`
	FirstSeen time.Time `bson:"first_seen" json:"first_seen"`
}
