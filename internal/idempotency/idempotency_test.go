package idempotency

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BTreeMap/WebhookGate/internal/models"
	"github.com/BTreeMap/WebhookGate/internal/store"
)

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	tempDir, err := os.MkdirTemp("", "webhookgate_idem_test_")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(tempDir) })

	s, err := store.NewSQLiteStore(store.WithDSN(filepath.Join(tempDir, "test.db")))
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func post(t *testing.T, h http.HandlerFunc, key, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewBufferString(body))
	if key != "" {
		req.Header.Set(HeaderKey, key)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeResult(t *testing.T, rr *httptest.ResponseRecorder) Result {
	t.Helper()
	var res Result
	if err := json.Unmarshal(rr.Body.Bytes(), &res); err != nil {
		t.Fatalf("Failed to decode result %q: %v", rr.Body.String(), err)
	}
	return res
}

func countCharges(t *testing.T, s *store.SQLiteStore) int {
	t.Helper()
	tx, err := s.BeginTx(context.Background())
	if err != nil {
		t.Fatalf("BeginTx failed: %v", err)
	}
	defer tx.Rollback()
	var n int
	if err := tx.QueryRow("SELECT COUNT(*) FROM demo_charges").Scan(&n); err != nil {
		t.Fatalf("count demo_charges failed: %v", err)
	}
	return n
}

func insertCharge(tx *sql.Tx, key string) error {
	_, err := tx.Exec(
		"INSERT OR IGNORE INTO demo_charges (idempotency_key, created_at) VALUES (?, ?)",
		key, time.Now().UTC(),
	)
	return err
}

func TestWrap_MissingKey(t *testing.T) {
	s := newTestStore(t)
	var calls atomic.Int32
	h := Wrap(s, func(ctx context.Context, tx *sql.Tx, event json.RawMessage, w http.ResponseWriter, r *http.Request) error {
		calls.Add(1)
		return nil
	})

	rr := post(t, h, "", `{}`)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rr.Code)
	}
	if calls.Load() != 0 {
		t.Error("handler must not run without a key")
	}
}

func TestWrap_ExecutesOnceThenDedupes(t *testing.T) {
	s := newTestStore(t)
	var calls atomic.Int32
	h := Wrap(s, func(ctx context.Context, tx *sql.Tx, event json.RawMessage, w http.ResponseWriter, r *http.Request) error {
		calls.Add(1)
		return insertCharge(tx, "evt_1")
	})

	rr := post(t, h, "evt_1", `{"amount":4200}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if res := decodeResult(t, rr); !res.OK || res.Deduped {
		t.Errorf("unexpected first result: %+v", res)
	}

	rr = post(t, h, "evt_1", `{"amount":4200}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 on replay, got %d", rr.Code)
	}
	if res := decodeResult(t, rr); !res.OK || !res.Deduped {
		t.Errorf("expected deduped replay, got %+v", res)
	}

	if got := calls.Load(); got != 1 {
		t.Errorf("expected exactly one execution, got %d", got)
	}
	if n := countCharges(t, s); n != 1 {
		t.Errorf("expected one committed charge, got %d", n)
	}

	claim, err := s.GetClaim(context.Background(), "evt_1")
	if err != nil {
		t.Fatalf("GetClaim failed: %v", err)
	}
	if claim == nil || claim.Status != models.ClaimStatusDone {
		t.Errorf("expected done claim, got %+v", claim)
	}
}

func TestWrap_ConcurrentDuplicates(t *testing.T) {
	s := newTestStore(t)
	var calls atomic.Int32
	h := Wrap(s, func(ctx context.Context, tx *sql.Tx, event json.RawMessage, w http.ResponseWriter, r *http.Request) error {
		calls.Add(1)
		return insertCharge(tx, "evt_burst")
	})

	const workers = 20
	var wg sync.WaitGroup
	codes := make([]int, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			codes[slot] = post(t, h, "evt_burst", `{}`).Code
		}(i)
	}
	wg.Wait()

	for i, code := range codes {
		if code != http.StatusOK {
			t.Errorf("request %d: expected 200, got %d", i, code)
		}
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("expected exactly one execution across %d duplicates, got %d", workers, got)
	}
	if n := countCharges(t, s); n != 1 {
		t.Errorf("expected one committed charge, got %d", n)
	}
}

func TestWrap_HandlerErrorRollsBackAndNeverRetries(t *testing.T) {
	s := newTestStore(t)
	var calls atomic.Int32
	h := Wrap(s, func(ctx context.Context, tx *sql.Tx, event json.RawMessage, w http.ResponseWriter, r *http.Request) error {
		calls.Add(1)
		if err := insertCharge(tx, "evt_bad"); err != nil {
			return err
		}
		return errors.New("downstream rejected the charge")
	})

	rr := post(t, h, "evt_bad", `{}`)
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	if res := decodeResult(t, rr); res.OK || res.Error == "" {
		t.Errorf("expected error result, got %+v", res)
	}
	if n := countCharges(t, s); n != 0 {
		t.Errorf("expected the charge insert rolled back, found %d rows", n)
	}

	claim, err := s.GetClaim(context.Background(), "evt_bad")
	if err != nil {
		t.Fatalf("GetClaim failed: %v", err)
	}
	if claim == nil || claim.Status != models.ClaimStatusFailed {
		t.Errorf("expected failed claim, got %+v", claim)
	}

	// A failed key dedupes forever; the handler is never given a second try.
	rr = post(t, h, "evt_bad", `{}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 on replay of failed key, got %d", rr.Code)
	}
	if res := decodeResult(t, rr); !res.Deduped {
		t.Errorf("expected deduped replay, got %+v", res)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("expected no re-execution, got %d calls", got)
	}
}

func TestWrap_HandlerPanicResolvesToFailed(t *testing.T) {
	s := newTestStore(t)
	h := Wrap(s, func(ctx context.Context, tx *sql.Tx, event json.RawMessage, w http.ResponseWriter, r *http.Request) error {
		panic("boom")
	})

	rr := post(t, h, "evt_panic", `{}`)
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	if res := decodeResult(t, rr); res.Error != "handler panicked: boom" {
		t.Errorf("unexpected error message: %+v", res)
	}

	claim, err := s.GetClaim(context.Background(), "evt_panic")
	if err != nil {
		t.Fatalf("GetClaim failed: %v", err)
	}
	if claim == nil || claim.Status != models.ClaimStatusFailed {
		t.Errorf("expected failed claim, got %+v", claim)
	}
}

func TestWrap_HandlerOwnsResponse(t *testing.T) {
	s := newTestStore(t)
	h := Wrap(s, func(ctx context.Context, tx *sql.Tx, event json.RawMessage, w http.ResponseWriter, r *http.Request) error {
		w.WriteHeader(http.StatusCreated)
		_, err := w.Write([]byte(`{"charge":"ch_1"}`))
		return err
	})

	rr := post(t, h, "evt_custom", `{}`)
	if rr.Code != http.StatusCreated {
		t.Errorf("expected the handler's 201, got %d", rr.Code)
	}
	if rr.Body.String() != `{"charge":"ch_1"}` {
		t.Errorf("middleware must not append to the handler's response, got %q", rr.Body.String())
	}
}

func TestWrap_EventBodyReachesHandler(t *testing.T) {
	s := newTestStore(t)
	var seen json.RawMessage
	h := Wrap(s, func(ctx context.Context, tx *sql.Tx, event json.RawMessage, w http.ResponseWriter, r *http.Request) error {
		seen = event
		return nil
	})

	body := `{"provider":"stripe","payload":{"amount":4200}}`
	if rr := post(t, h, "evt_body", body); rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if string(seen) != body {
		t.Errorf("expected handler to see the raw body, got %q", string(seen))
	}
}
