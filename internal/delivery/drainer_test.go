package delivery

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BTreeMap/WebhookGate/internal/models"
)

func TestDrainer_RetriesUntilSuccess(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Target fails three times, then succeeds. With a ceiling of 5 the job
	// must end delivered with exactly the three failures on record.
	var calls atomic.Int32
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer target.Close()

	if err := s.EnqueueDelivery(ctx, "stripe", "evt_1", target.URL, `{}`); err != nil {
		t.Fatalf("EnqueueDelivery failed: %v", err)
	}

	d := NewDrainer(s, NewExecutor(s, time.Second, 5))
	for i := 0; i < 5; i++ {
		d.DrainOnce(ctx)
	}

	job, err := s.GetDelivery(ctx, "stripe", "evt_1", target.URL)
	if err != nil {
		t.Fatalf("GetDelivery failed: %v", err)
	}
	if job.Status != models.DeliveryStatusDelivered {
		t.Errorf("Expected job delivered, got %q", job.Status)
	}
	if job.Attempts != 3 {
		t.Errorf("Expected 3 recorded failures, got %d", job.Attempts)
	}
	if got := calls.Load(); got != 4 {
		t.Errorf("Expected 4 outbound calls (3 failures + 1 success), got %d", got)
	}
}

func TestDrainer_StopsAtAttemptCeiling(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var calls atomic.Int32
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer target.Close()

	if err := s.EnqueueDelivery(ctx, "stripe", "evt_1", target.URL, `{}`); err != nil {
		t.Fatalf("EnqueueDelivery failed: %v", err)
	}

	d := NewDrainer(s, NewExecutor(s, time.Second, 3))
	for i := 0; i < 6; i++ {
		d.DrainOnce(ctx)
	}

	job, err := s.GetDelivery(ctx, "stripe", "evt_1", target.URL)
	if err != nil {
		t.Fatalf("GetDelivery failed: %v", err)
	}
	if job.Status != models.DeliveryStatusFailed {
		t.Errorf("Expected job failed, got %q", job.Status)
	}
	if job.Attempts != 3 {
		t.Errorf("Expected exactly 3 recorded failures, got %d", job.Attempts)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("Expected failed job to receive no further attempts, got %d calls", got)
	}
}

func TestDrainer_SingleFlight(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	started := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			close(started)
			<-release
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer target.Close()

	if err := s.EnqueueDelivery(ctx, "stripe", "evt_1", target.URL, `{}`); err != nil {
		t.Fatalf("EnqueueDelivery failed: %v", err)
	}

	d := NewDrainer(s, NewExecutor(s, 5*time.Second, 5))

	done := make(chan struct{})
	go func() {
		d.DrainOnce(ctx)
		close(done)
	}()

	<-started
	// A trigger firing while the first pass is blocked must be a no-op.
	d.DrainOnce(ctx)
	if got := calls.Load(); got != 1 {
		t.Errorf("Expected overlapping pass to be dropped, got %d calls", got)
	}

	close(release)
	<-done

	job, err := s.GetDelivery(ctx, "stripe", "evt_1", target.URL)
	if err != nil {
		t.Fatalf("GetDelivery failed: %v", err)
	}
	if job.Status != models.DeliveryStatusDelivered {
		t.Errorf("Expected job delivered after release, got %q", job.Status)
	}
}

func TestDrainer_EmptyQueueIsQuiet(t *testing.T) {
	s := newTestStore(t)
	d := NewDrainer(s, NewExecutor(s, time.Second, 5))
	// Must not panic or error with nothing pending.
	d.DrainOnce(context.Background())
}

func TestDrainer_RunDrainsUntilCancelled(t *testing.T) {
	s := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer target.Close()

	if err := s.EnqueueDelivery(ctx, "stripe", "evt_1", target.URL, `{}`); err != nil {
		t.Fatalf("EnqueueDelivery failed: %v", err)
	}

	d := NewDrainer(s, NewExecutor(s, time.Second, 5))
	stopped := make(chan struct{})
	go func() {
		d.Run(ctx, 10*time.Millisecond)
		close(stopped)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for {
		job, err := s.GetDelivery(ctx, "stripe", "evt_1", target.URL)
		if err != nil {
			t.Fatalf("GetDelivery failed: %v", err)
		}
		if job.Status == models.DeliveryStatusDelivered {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("Expected the loop to deliver the job, still %q", job.Status)
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Expected Run to return after cancellation")
	}
}
