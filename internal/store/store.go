// Package store provides storage backends for WebhookGate.
//
// Two implementations exist: an SQLite-backed store for single-box
// deployments and a PostgreSQL-backed store. Both expose the same
// per-concern repository interfaces. Every cross-request invariant in the
// gateway rests on the conditional inserts and conditional updates defined
// here; no in-process lock guards durable state.
package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/BTreeMap/WebhookGate/internal/models"
)

// ErrUnavailable indicates the durable store could not be reached or failed
// in a way that is not a conflict outcome. Callers decide fail-open vs
// fail-closed with errors.Is.
var ErrUnavailable = errors.New("store unavailable")

// Opts holds configuration for store construction.
type Opts struct {
	DSN string
}

// Option configures store construction.
type Option func(*Opts)

// WithDSN sets the database DSN. For SQLite this is a file path; for
// Postgres a connection URL or key=value string.
func WithDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// ReceiptRepo answers "have I seen (provider, eventId) before?" via an
// atomic conditional insert. The insert is the dedup decision point.
type ReceiptRepo interface {
	// RecordIfFirst attempts to insert a receipt for (provider, eventID).
	// Returns true when this call created the receipt, false when one
	// already existed. Any other storage failure wraps ErrUnavailable.
	RecordIfFirst(ctx context.Context, provider, eventID string) (bool, error)
}

// DeliveryRepo persists durable delivery jobs and their status state machine
// (pending -> delivered | failed). Rows are never deleted; they remain as an
// audit trail.
type DeliveryRepo interface {
	// EnqueueDelivery inserts a pending job for (provider, eventID,
	// targetURL). If a job already exists the call is a no-op and the
	// original payload is left untouched.
	EnqueueDelivery(ctx context.Context, provider, eventID, targetURL, payloadJSON string) error

	// ListPendingDeliveries returns up to limit pending jobs, oldest
	// updated_at first, so starved jobs are retried before freshly-failed ones.
	ListPendingDeliveries(ctx context.Context, limit int) ([]models.DeliveryJob, error)

	// MarkDelivered sets status=delivered and stamps delivered_at.
	// Idempotent: a second call leaves the original delivered_at in place.
	MarkDelivered(ctx context.Context, provider, eventID, targetURL string) error

	// MarkAttemptFailed records one failed attempt on a pending job in a
	// single conditional update: attempts increments, last_error is set, and
	// the status flips to failed when the incremented count reaches
	// maxAttempts. Non-pending rows are unaffected.
	MarkAttemptFailed(ctx context.Context, provider, eventID, targetURL, message string, maxAttempts int) error

	// GetDelivery retrieves a single job, or nil if absent.
	GetDelivery(ctx context.Context, provider, eventID, targetURL string) (*models.DeliveryJob, error)
}

// APIKeyRepo persists provisioned ingest credentials.
type APIKeyRepo interface {
	// InsertAPIKey stores a new key row. The plaintext secret never reaches
	// this layer; only its hash is persisted.
	InsertAPIKey(ctx context.Context, key models.ApiKey) error

	// FindActiveAPIKeyByHash returns the active key with the given hash, or
	// nil when no such key exists.
	FindActiveAPIKeyByHash(ctx context.Context, keyHash string) (*models.ApiKey, error)

	// TouchAPIKeyLastUsed stamps last_used_at. Best-effort: callers ignore
	// the error.
	TouchAPIKeyLastUsed(ctx context.Context, id string) error

	// DeactivateAPIKey revokes a key. Keys are never hard-deleted.
	DeactivateAPIKey(ctx context.Context, id string) error
}

// ClaimRepo persists idempotency claims for downstream consumers. It is the
// same conditional-insert pattern as ReceiptRepo with an explicit terminal
// status, and adds the transaction boundary the claim protocol commits under.
type ClaimRepo interface {
	// TryClaim atomically inserts a processing claim for key. Returns true
	// when this call acquired the claim, false when the key was already
	// claimed (in any status).
	TryClaim(ctx context.Context, key string) (bool, error)

	// MarkClaimDone resolves the claim to done inside the caller's
	// transaction, so handler effects and the status transition commit together.
	MarkClaimDone(ctx context.Context, tx *sql.Tx, key string) error

	// MarkClaimFailed resolves the claim to failed, conditioned on it still
	// being processing so a concurrent resolution is never clobbered.
	MarkClaimFailed(ctx context.Context, key string) error

	// GetClaim retrieves a claim row, or nil if absent.
	GetClaim(ctx context.Context, key string) (*models.IdempotencyClaim, error)

	// BeginTx opens the transaction the claim protocol scopes handler
	// effects under.
	BeginTx(ctx context.Context) (*sql.Tx, error)
}

// Store is the full surface a WebhookGate deployment needs from its durable
// store.
type Store interface {
	ReceiptRepo
	DeliveryRepo
	APIKeyRepo
	ClaimRepo
	Close() error
}

// Connect opens the store appropriate for the DSN: anything that looks like
// a Postgres connection string gets the Postgres store, everything else is
// treated as an SQLite file path.
func Connect(dsn string) (Store, error) {
	if IsPostgresDSN(dsn) {
		return NewPostgresStore(WithDSN(dsn))
	}
	return NewSQLiteStore(WithDSN(dsn))
}

// IsPostgresDSN reports whether the DSN addresses a Postgres server.
func IsPostgresDSN(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=")
}

// nowUTC is the single clock for row timestamps.
func nowUTC() time.Time {
	return time.Now().UTC()
}
