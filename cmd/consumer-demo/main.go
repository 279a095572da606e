// Command consumer-demo is a reference downstream consumer for WebhookGate.
//
// It wraps its webhook handler with the idempotency middleware: a charge row
// is recorded at most once per Idempotency-Key, inside the transaction the
// middleware commits together with the claim's done transition. With
// CRASH_ONCE=true the process exits after the first charge to demonstrate
// that a replayed delivery never re-executes the handler.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/BTreeMap/WebhookGate/internal/idempotency"
	"github.com/BTreeMap/WebhookGate/internal/store"
	"github.com/BTreeMap/WebhookGate/internal/util"
	"github.com/joho/godotenv"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	defaultDSN := os.Getenv("DATABASE_URL")
	if defaultDSN == "" {
		stateDir := os.Getenv("WEBHOOKGATE_STATE_DIR")
		if stateDir == "" {
			stateDir = "/var/lib/webhookgate"
		}
		defaultDSN = filepath.Join(stateDir, "consumer-demo.db")
	}

	addr := flag.String("addr", ":4000", "consumer listen address")
	dbDSN := flag.String("db-dsn", defaultDSN, "database DSN: SQLite path or Postgres URL (overrides $DATABASE_URL)")
	crashOnce := flag.Bool("crash-once", util.ParseBoolEnv("CRASH_ONCE", false), "exit after the first charge to simulate a mid-handler crash")
	flag.Parse()

	st, err := store.Connect(*dbDSN)
	if err != nil {
		slog.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	consumer := &demoConsumer{
		claims:          st,
		crashOnce:       *crashOnce,
		chargeInsertSQL: chargeInsertSQL(*dbDSN),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/webhooks/stripe", idempotency.Wrap(st, consumer.handleEvent))
	mux.HandleFunc("/stats", consumer.statsHandler)

	slog.Info("consumer-demo listening", "addr", *addr, "crash_once", *crashOnce)
	srv := &http.Server{Addr: *addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	if err := srv.ListenAndServe(); err != nil {
		slog.Error("consumer-demo failed", "error", err)
		os.Exit(1)
	}
}

type demoConsumer struct {
	claims          store.ClaimRepo
	crashOnce       bool
	crashed         atomic.Bool
	chargeInsertSQL string
}

// chargeInsertSQL picks the insert-or-ignore dialect matching the DSN.
func chargeInsertSQL(dsn string) string {
	if store.IsPostgresDSN(dsn) {
		return `INSERT INTO demo_charges (idempotency_key, created_at) VALUES ($1, $2) ON CONFLICT (idempotency_key) DO NOTHING`
	}
	return `INSERT OR IGNORE INTO demo_charges (idempotency_key, created_at) VALUES (?, ?)`
}

// handleEvent records a charge for the delivery key. The insert goes through
// the middleware's transaction, so a failure before commit leaves no charge
// behind and the key resolves to failed.
func (c *demoConsumer) handleEvent(ctx context.Context, tx *sql.Tx, event json.RawMessage, w http.ResponseWriter, r *http.Request) error {
	key := r.Header.Get(idempotency.HeaderKey)

	if _, err := tx.ExecContext(ctx, c.chargeInsertSQL, key, time.Now().UTC()); err != nil {
		return fmt.Errorf("charge insert failed: %w", err)
	}

	if c.crashOnce && c.crashed.CompareAndSwap(false, true) {
		slog.Warn("consumer-demo: crashing after charge (crash-once enabled)")
		os.Exit(1)
	}

	slog.Info("consumer-demo: charged", "key", key, "event_bytes", len(event))
	return nil
}

func (c *demoConsumer) statsHandler(w http.ResponseWriter, r *http.Request) {
	tx, err := c.claims.BeginTx(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer tx.Rollback()

	var charges int
	if err := tx.QueryRowContext(r.Context(), `SELECT COUNT(*) FROM demo_charges`).Scan(&charges); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"charges":%d}`+"\n", charges)
}
