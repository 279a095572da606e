// Package api provides HTTP handlers for WebhookGate endpoints.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/BTreeMap/WebhookGate/internal/models"
	"github.com/BTreeMap/WebhookGate/internal/store"
	"github.com/BTreeMap/WebhookGate/internal/util"
)

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.HealthResponse{OK: true})
}

// ingestHandler evaluates the ingest policy in fixed order: transport auth,
// required fields, target configured, enforcement gate, receipt check, then
// enqueue plus one best-effort immediate delivery attempt. Once a request is
// accepted the response is 200 regardless of delivery outcome: the contract
// with the upstream provider is "you may stop retrying", and retries are
// owned by the drain loop from here on.
func (s *Server) ingestHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	// (1) Transport-level auth: shared ingest token, when configured.
	if s.cfg.IngestToken != "" {
		if r.Header.Get("X-WebhookGate-Token") != s.cfg.IngestToken {
			slog.Warn("Server.ingestHandler: bad ingest token")
			writeJSONResponse(w, http.StatusUnauthorized, models.Error("Unauthorized"))
			return
		}
	}

	var req models.IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.ingestHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}

	// (2) Required fields.
	if req.Provider == "" || req.EventID == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("provider and eventId are required"))
		return
	}

	// (3) Target configured: operator fault, not caller fault.
	if s.cfg.TargetURL == "" {
		slog.Error("Server.ingestHandler: TARGET_URL is not set")
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("TARGET_URL is not set"))
		return
	}

	// (4) Enforcement gate, strictly before any receipt or queue mutation.
	if s.isEnforceMode() {
		if s.cfg.RequireLicense && s.cfg.LicenseKey == "" {
			slog.Warn("Server.ingestHandler: no license configured in enforce mode")
			writeJSONResponse(w, http.StatusPaymentRequired, models.Error("Missing license"))
			return
		}
		if !s.requireEnforcementAPIKey(r.Context(), w, r) {
			return // response already sent
		}
	}

	// (5) Receipt check. Fail closed in enforce mode, open in observe mode.
	firstTime := false
	receiptKnown := true
	first, err := s.receipts.RecordIfFirst(r.Context(), req.Provider, req.EventID)
	switch {
	case err == nil:
		firstTime = first
	case errors.Is(err, store.ErrUnavailable):
		receiptKnown = false
		if s.isEnforceMode() {
			slog.Warn("Server.ingestHandler: cannot verify receipt state, blocking",
				"provider", req.Provider, "eventID", req.EventID, "error", err)
			writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("Invariant unverifiable (receipt store unavailable)"))
			return
		}
		slog.Warn("Server.ingestHandler: receipt tracking failed, forwarding anyway",
			"provider", req.Provider, "eventID", req.EventID, "error", err)
		firstTime = true
	default:
		// RecordIfFirst reports every non-conflict failure as ErrUnavailable.
		slog.Error("Server.ingestHandler: unexpected receipt error", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Internal server error"))
		return
	}

	if !firstTime {
		if s.isEnforceMode() {
			slog.Info("Server.ingestHandler: duplicate blocked", "provider", req.Provider, "eventID", req.EventID)
			writeJSONResponse(w, http.StatusOK, models.IngestResponse{
				OK: true, FirstTime: false, ReceiptKnown: receiptKnown, Mode: models.ModeEnforce, Blocked: true,
			})
			return
		}
		slog.Warn("Server.ingestHandler: duplicate allowed through, side effects may execute again",
			"provider", req.Provider, "eventID", req.EventID)
	}

	payloadJSON := marshalPayload(req.Payload)

	// (6) Durable enqueue, then one best-effort immediate attempt.
	if err := s.queue.EnqueueDelivery(r.Context(), req.Provider, req.EventID, s.cfg.TargetURL, payloadJSON); err != nil {
		slog.Error("Server.ingestHandler: enqueue failed", "provider", req.Provider, "eventID", req.EventID, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to queue delivery"))
		return
	}

	delivered := s.executor.Attempt(r.Context(), req.Provider, req.EventID, s.cfg.TargetURL, payloadJSON)

	// (7) Accepted: always 200, delivered or not.
	writeJSONResponse(w, http.StatusOK, models.IngestResponse{
		OK:           true,
		FirstTime:    firstTime,
		ReceiptKnown: receiptKnown,
		Delivered:    delivered,
		Mode:         s.cfg.Mode,
	})
}

func (s *Server) isEnforceMode() bool {
	return s.cfg.Mode == models.ModeEnforce
}

// requireEnforcementAPIKey validates the presented API key against the key
// store. It writes the rejection response itself and returns false when the
// request must not proceed.
func (s *Server) requireEnforcementAPIKey(ctx context.Context, w http.ResponseWriter, r *http.Request) bool {
	presented := presentedAPIKey(r, s.cfg.APIKeyHeader)
	if presented == "" {
		writeJSONResponse(w, http.StatusUnauthorized, models.Error("Missing API key"))
		return false
	}

	key, err := s.keys.FindActiveAPIKeyByHash(ctx, util.HashAPIKey(presented))
	if err != nil {
		// Fail closed: enforcement cannot be verified.
		slog.Error("Server.requireEnforcementAPIKey: key lookup failed", "error", err)
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("Key store unavailable"))
		return false
	}
	if key == nil {
		writeJSONResponse(w, http.StatusUnauthorized, models.Error("Invalid or inactive API key"))
		return false
	}

	// Best-effort usage marker.
	if err := s.keys.TouchAPIKeyLastUsed(ctx, key.ID); err != nil {
		slog.Debug("Server.requireEnforcementAPIKey: touch last used failed", "id", key.ID, "error", err)
	}
	return true
}

// presentedAPIKey extracts the API key from the configured header or an
// Authorization: Bearer fallback.
func presentedAPIKey(r *http.Request, header string) string {
	v := r.Header.Get(header)
	if v == "" {
		v = r.Header.Get("Authorization")
	}
	v = strings.TrimSpace(v)
	if v == "" {
		return ""
	}
	if len(v) > 7 && strings.EqualFold(v[:7], "bearer ") {
		return strings.TrimSpace(v[7:])
	}
	return v
}

// marshalPayload re-serializes the opaque payload for durable storage.
// A missing payload is stored as JSON null, matching what the consumer
// receives on the wire.
func marshalPayload(payload interface{}) string {
	if payload == nil {
		return "null"
	}
	b, err := json.Marshal(payload)
	if err != nil {
		slog.Warn("marshalPayload: payload not re-serializable, storing null", "error", err)
		return "null"
	}
	return string(b)
}
