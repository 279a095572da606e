// Package idempotency provides the claim-and-execute middleware offered to
// downstream consumers.
//
// Wrapping a handler guarantees it runs at most once per Idempotency-Key,
// even under concurrent duplicate deliveries or a crash mid-handler. The
// guarantee rests entirely on the claim insert's atomicity in the store, not
// on any in-process lock: the first request to insert the processing row
// owns execution, everyone else observes a dedup response.
//
// A failed key is never retried automatically. That prevents duplicate side
// effects at the cost of manual intervention for legitimately-failed events.
package idempotency

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/BTreeMap/WebhookGate/internal/store"
)

// HeaderKey is the required inbound header carrying the idempotency key.
const HeaderKey = "Idempotency-Key"

// HandlerFunc is the consumer-supplied handler invoked at most once per key.
// Store writes the handler wants covered by the commit/rollback boundary
// must go through tx; effects outside tx are the handler's own problem.
type HandlerFunc func(ctx context.Context, tx *sql.Tx, event json.RawMessage, w http.ResponseWriter, r *http.Request) error

// Result is the envelope the middleware writes when the handler does not
// respond itself.
type Result struct {
	OK      bool   `json:"ok"`
	Deduped bool   `json:"deduped"`
	Error   string `json:"error,omitempty"`
}

// trackingWriter records whether the handler already produced a response so
// the middleware never sends a second one.
type trackingWriter struct {
	http.ResponseWriter
	wrote bool
}

func (t *trackingWriter) WriteHeader(code int) {
	t.wrote = true
	t.ResponseWriter.WriteHeader(code)
}

func (t *trackingWriter) Write(b []byte) (int, error) {
	t.wrote = true
	return t.ResponseWriter.Write(b)
}

// Wrap returns an http.HandlerFunc implementing the claim protocol around
// handler:
//
//  1. missing Idempotency-Key: 400, nothing mutated
//  2. atomic claim; conflict: 200 deduped, handler not invoked
//  3. claimed: handler runs inside a transaction; on success the claim
//     resolves to done in the same transaction and both commit together
//  4. on handler error or panic: roll back, best-effort resolve to failed
func Wrap(claims store.ClaimRepo, handler HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			defer r.Body.Close()
		}

		key := r.Header.Get(HeaderKey)
		if key == "" {
			writeResult(w, http.StatusBadRequest, Result{OK: false, Error: "Missing Idempotency-Key header"})
			return
		}

		event, err := io.ReadAll(r.Body)
		if err != nil {
			writeResult(w, http.StatusBadRequest, Result{OK: false, Error: "Failed to read request body"})
			return
		}

		claimed, err := claims.TryClaim(r.Context(), key)
		if err != nil {
			slog.Error("idempotency.Wrap: claim failed", "key", key, "error", err)
			writeResult(w, http.StatusServiceUnavailable, Result{OK: false, Error: "Claim store unavailable"})
			return
		}
		if !claimed {
			// Already claimed, by this or a prior request, in any status.
			slog.Debug("idempotency.Wrap: key already claimed", "key", key)
			writeResult(w, http.StatusOK, Result{OK: true, Deduped: true})
			return
		}

		tx, err := claims.BeginTx(r.Context())
		if err != nil {
			slog.Error("idempotency.Wrap: begin tx failed", "key", key, "error", err)
			// The key stays processing; deliberate, it is never re-claimable.
			writeResult(w, http.StatusInternalServerError, Result{OK: false, Error: "Failed to open transaction"})
			return
		}

		tw := &trackingWriter{ResponseWriter: w}
		if err := runHandler(r.Context(), tx, handler, event, tw, r); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				slog.Error("idempotency.Wrap: rollback failed", "key", key, "error", rbErr)
			}
			if mfErr := claims.MarkClaimFailed(context.Background(), key); mfErr != nil {
				slog.Error("idempotency.Wrap: mark failed error", "key", key, "error", mfErr)
			}
			slog.Warn("idempotency.Wrap: handler failed, key resolved to failed", "key", key, "error", err)
			if !tw.wrote {
				writeResult(w, http.StatusInternalServerError, Result{OK: false, Error: err.Error()})
			}
			return
		}

		// Handler effects and the done transition commit atomically.
		if err := claims.MarkClaimDone(r.Context(), tx, key); err != nil {
			_ = tx.Rollback()
			if mfErr := claims.MarkClaimFailed(context.Background(), key); mfErr != nil {
				slog.Error("idempotency.Wrap: mark failed error", "key", key, "error", mfErr)
			}
			slog.Error("idempotency.Wrap: mark done failed", "key", key, "error", err)
			if !tw.wrote {
				writeResult(w, http.StatusInternalServerError, Result{OK: false, Error: "Failed to resolve claim"})
			}
			return
		}
		if err := tx.Commit(); err != nil {
			if mfErr := claims.MarkClaimFailed(context.Background(), key); mfErr != nil {
				slog.Error("idempotency.Wrap: mark failed error", "key", key, "error", mfErr)
			}
			slog.Error("idempotency.Wrap: commit failed", "key", key, "error", err)
			if !tw.wrote {
				writeResult(w, http.StatusInternalServerError, Result{OK: false, Error: "Commit failed"})
			}
			return
		}

		slog.Debug("idempotency.Wrap: handler executed", "key", key)
		if !tw.wrote {
			writeResult(w, http.StatusOK, Result{OK: true, Deduped: false})
		}
	}
}

// runHandler invokes the handler, converting a panic into an error so a
// crashing handler still resolves its claim.
func runHandler(ctx context.Context, tx *sql.Tx, handler HandlerFunc, event json.RawMessage, w http.ResponseWriter, r *http.Request) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("handler panicked: %v", p)
		}
	}()
	return handler(ctx, tx, event, w, r)
}

func writeResult(w http.ResponseWriter, statusCode int, res Result) {
	jsonData, err := json.Marshal(res)
	if err != nil {
		slog.Error("idempotency.writeResult: marshal failed", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, err := w.Write(jsonData); err != nil {
		slog.Error("idempotency.writeResult: write failed", "error", err)
	}
}
