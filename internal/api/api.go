// Package api provides HTTP handlers and the main API server logic for WebhookGate.
//
// It exposes the ingest endpoint with its enforcement-mode policy and the
// liveness probe. The API integrates with the store and delivery modules.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/WebhookGate/internal/delivery"
	"github.com/BTreeMap/WebhookGate/internal/models"
	"github.com/BTreeMap/WebhookGate/internal/store"
)

// DefaultAPIKeyHeader is the header checked for ingest credentials when no
// override is configured. Authorization: Bearer is accepted as a fallback.
const DefaultAPIKeyHeader = "X-WebhookGate-Key"

// Config holds the per-deployment settings the ingest policy evaluates.
type Config struct {
	// TargetURL is the downstream consumer endpoint. Empty means the
	// deployment is misconfigured and ingest rejects with 500.
	TargetURL string
	// IngestToken, when set, must be presented on X-WebhookGate-Token.
	IngestToken string
	// Mode selects observe or enforce behavior.
	Mode models.Mode
	// APIKeyHeader is the header carrying the ingest API key.
	APIKeyHeader string
	// LicenseKey is the deployment's license, checked in enforce mode when
	// RequireLicense is set.
	LicenseKey string
	// RequireLicense gates enforce-mode traffic on a configured license.
	RequireLicense bool
}

// Server is the WebhookGate HTTP API server.
type Server struct {
	cfg      Config
	receipts store.ReceiptRepo
	queue    store.DeliveryRepo
	keys     store.APIKeyRepo
	executor *delivery.Executor
}

// NewServer creates the API server over the given repositories and executor.
func NewServer(cfg Config, receipts store.ReceiptRepo, queue store.DeliveryRepo, keys store.APIKeyRepo, executor *delivery.Executor) *Server {
	if cfg.APIKeyHeader == "" {
		cfg.APIKeyHeader = DefaultAPIKeyHeader
	}
	if cfg.Mode == "" {
		cfg.Mode = models.ModeObserve
	}
	return &Server{
		cfg:      cfg,
		receipts: receipts,
		queue:    queue,
		keys:     keys,
		executor: executor,
	}
}

// Handler returns the server's route multiplexer.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ingest", s.ingestHandler)
	mux.HandleFunc("/health", s.healthHandler)
	return mux
}

// Run serves the API until the context is cancelled, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server.Run: WebhookGate API listening", "addr", addr, "mode", s.cfg.Mode)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	slog.Info("Server.Run: shutting down")
	return srv.Shutdown(shutdownCtx)
}
