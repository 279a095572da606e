// Package delivery performs outbound webhook delivery attempts and the
// periodic drain loop that retries pending jobs.
package delivery

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/WebhookGate/internal/store"
)

// Default executor configuration
const (
	// DefaultAttemptTimeout bounds a single outbound delivery attempt.
	DefaultAttemptTimeout = 5 * time.Second
	// DefaultMaxAttempts is the failure ceiling before a job flips to failed.
	DefaultMaxAttempts = 5
)

// Outbound headers carried on every delivery attempt.
const (
	HeaderIdempotencyKey = "Idempotency-Key"
	HeaderProvider       = "X-WebhookGate-Provider"
	HeaderEventID        = "X-WebhookGate-EventId"
)

// Executor performs one outbound delivery attempt and records the outcome as
// a delivery-queue state transition. It never lets an error escape its
// boundary: every outcome is a queue transition plus a boolean.
type Executor struct {
	queue       store.DeliveryRepo
	client      *http.Client
	timeout     time.Duration
	maxAttempts int
}

// NewExecutor creates an Executor over the given delivery queue.
func NewExecutor(queue store.DeliveryRepo, timeout time.Duration, maxAttempts int) *Executor {
	if timeout <= 0 {
		timeout = DefaultAttemptTimeout
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Executor{
		queue:       queue,
		client:      &http.Client{},
		timeout:     timeout,
		maxAttempts: maxAttempts,
	}
}

// Attempt issues one POST to targetURL carrying the deterministic delivery
// key and provider metadata headers, bounded by the per-attempt timeout.
// 2xx marks the job delivered and returns true; everything else records one
// failed attempt and returns false. The attempt's timeout is independent of
// any inbound request lifecycle: the parent ctx is only used as the
// cancellation root.
func (e *Executor) Attempt(ctx context.Context, provider, eventID, targetURL, payloadJSON string) bool {
	key := provider + ":" + eventID + ":" + targetURL

	attemptCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	body := []byte(payloadJSON)
	if len(body) == 0 {
		body = []byte("null")
	}

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, targetURL, bytes.NewReader(body))
	if err != nil {
		e.recordFailure(provider, eventID, targetURL, key, err.Error())
		return false
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderIdempotencyKey, key)
	req.Header.Set(HeaderProvider, provider)
	req.Header.Set(HeaderEventID, eventID)

	resp, err := e.client.Do(req)
	if err != nil {
		// Timeouts and transport errors are indistinguishable for
		// retry-accounting purposes.
		e.recordFailure(provider, eventID, targetURL, key, err.Error())
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// All non-2xx are retried up to the attempt ceiling; no 4xx/5xx split.
		e.recordFailure(provider, eventID, targetURL, key, fmt.Sprintf("%d %s", resp.StatusCode, http.StatusText(resp.StatusCode)))
		return false
	}

	if err := e.queue.MarkDelivered(context.Background(), provider, eventID, targetURL); err != nil {
		slog.Error("Executor.Attempt: mark delivered failed", "key", key, "error", err)
	}
	slog.Debug("Executor.Attempt: delivered", "key", key)
	return true
}

func (e *Executor) recordFailure(provider, eventID, targetURL, key, message string) {
	slog.Warn("Executor.Attempt: delivery attempt failed", "key", key, "reason", message)
	// Queue writes use a fresh context so a cancelled attempt still records
	// its failure.
	if err := e.queue.MarkAttemptFailed(context.Background(), provider, eventID, targetURL, message, e.maxAttempts); err != nil {
		slog.Error("Executor.Attempt: mark attempt failed error", "key", key, "error", err)
	}
}
