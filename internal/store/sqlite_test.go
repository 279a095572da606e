package store

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	tempDir, err := os.MkdirTemp("", "webhookgate_store_test_")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(tempDir) })

	dbPath := filepath.Join(tempDir, "test.db")
	s, err := NewSQLiteStore(WithDSN(dbPath))
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// --- Receipt repo tests ---

func TestSQLiteStore_RecordIfFirst(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	first, err := s.RecordIfFirst(ctx, "stripe", "evt_1")
	if err != nil {
		t.Fatalf("RecordIfFirst failed: %v", err)
	}
	if !first {
		t.Error("Expected firstTime=true on initial insert")
	}

	second, err := s.RecordIfFirst(ctx, "stripe", "evt_1")
	if err != nil {
		t.Fatalf("RecordIfFirst duplicate failed: %v", err)
	}
	if second {
		t.Error("Expected firstTime=false on duplicate insert")
	}

	// A different event for the same provider is its own receipt.
	other, err := s.RecordIfFirst(ctx, "stripe", "evt_2")
	if err != nil {
		t.Fatalf("RecordIfFirst for second event failed: %v", err)
	}
	if !other {
		t.Error("Expected firstTime=true for a different eventId")
	}
}

func TestSQLiteStore_RecordIfFirst_Concurrent(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	const n = 20
	var firstCount atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			first, err := s.RecordIfFirst(ctx, "stripe", "evt_concurrent")
			if err != nil {
				t.Errorf("RecordIfFirst failed: %v", err)
				return
			}
			if first {
				firstCount.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	if got := firstCount.Load(); got != 1 {
		t.Errorf("Expected exactly one caller to observe firstTime=true, got %d", got)
	}
}
