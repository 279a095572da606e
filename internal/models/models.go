// Package models defines core data structures for WebhookGate.
//
// It contains the durable row types (receipts, delivery jobs, API keys,
// idempotency claims) and the JSON envelopes exchanged on the ingest API.
package models

import "time"

// DeliveryStatus represents the lifecycle state of a delivery job.
type DeliveryStatus string

const (
	DeliveryStatusPending   DeliveryStatus = "pending"
	DeliveryStatusDelivered DeliveryStatus = "delivered"
	DeliveryStatusFailed    DeliveryStatus = "failed"
)

// ClaimStatus represents the lifecycle state of an idempotency claim.
type ClaimStatus string

const (
	ClaimStatusProcessing ClaimStatus = "processing"
	ClaimStatusDone       ClaimStatus = "done"
	ClaimStatusFailed     ClaimStatus = "failed"
)

// Mode is the gateway's enforcement mode.
type Mode string

const (
	// ModeObserve logs duplicates and degradations but lets traffic through.
	ModeObserve Mode = "observe"
	// ModeEnforce blocks duplicates and requires credentials; on ambiguous
	// store state it refuses rather than risking duplicate execution.
	ModeEnforce Mode = "enforce"
)

// Receipt is a durable marker proving a provider/event pair has been observed.
// At most one receipt per (provider, event_id) ever exists.
type Receipt struct {
	Provider   string    `json:"provider"`
	EventID    string    `json:"event_id"`
	ReceivedAt time.Time `json:"received_at"`
}

// DeliveryJob is a durable outbound delivery record, identified by
// (provider, event_id, target_url). The payload is immutable once stored.
type DeliveryJob struct {
	Provider    string         `json:"provider"`
	EventID     string         `json:"event_id"`
	TargetURL   string         `json:"target_url"`
	PayloadJSON string         `json:"payload_json"`
	Status      DeliveryStatus `json:"status"`
	Attempts    int            `json:"attempts"`
	LastError   string         `json:"last_error"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeliveredAt *time.Time     `json:"delivered_at"`
}

// DeliveryKey returns the deterministic idempotency key carried on every
// outbound attempt for this job.
func (j DeliveryJob) DeliveryKey() string {
	return j.Provider + ":" + j.EventID + ":" + j.TargetURL
}

// ApiKey is a provisioned ingest credential. Only the SHA-256 digest of the
// plaintext secret is ever persisted; revocation deactivates, never deletes.
type ApiKey struct {
	ID         string     `json:"id"`
	KeyHash    string     `json:"key_hash"`
	Label      string     `json:"label"`
	Plan       string     `json:"plan"`
	IsActive   bool       `json:"is_active"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at"`
}

// IdempotencyClaim is an atomically-acquired right to execute a consumer
// handler for a given key. Once done or failed it is permanently resolved.
type IdempotencyClaim struct {
	Key         string      `json:"idempotency_key"`
	Status      ClaimStatus `json:"status"`
	CreatedAt   time.Time   `json:"created_at"`
	CompletedAt *time.Time  `json:"completed_at"`
}

// IngestRequest is the body accepted by POST /ingest.
type IngestRequest struct {
	Provider string      `json:"provider"`
	EventID  string      `json:"eventId"`
	Payload  interface{} `json:"payload"`
}

// IngestResponse is the envelope returned for accepted ingest requests.
type IngestResponse struct {
	OK           bool `json:"ok"`
	FirstTime    bool `json:"firstTime"`
	ReceiptKnown bool `json:"receiptKnown"`
	Delivered    bool `json:"delivered"`
	Mode         Mode `json:"mode"`
	Blocked      bool `json:"blocked,omitempty"`
}

// ErrorResponse is the envelope returned for rejected requests.
type ErrorResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

// Error creates an error response envelope with a message.
func Error(message string) ErrorResponse {
	return ErrorResponse{OK: false, Error: message}
}

// HealthResponse is the liveness probe envelope.
type HealthResponse struct {
	OK bool `json:"ok"`
}
