// Package delivery provides the Drainer for retrying pending delivery jobs.
package delivery

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/BTreeMap/WebhookGate/internal/store"
)

// DefaultClaimLimit bounds how many pending jobs one drain pass handles.
const DefaultClaimLimit = 25

// Drainer periodically pulls pending delivery jobs and re-attempts them.
// A single-flight flag drops triggers that fire while a pass is already
// running; that bounds concurrent outbound load and keeps overlapping passes
// from double-attempting the same job. The flag is a local scheduling
// optimization only; correctness rests on the store's conditional updates.
type Drainer struct {
	queue      store.DeliveryRepo
	executor   *Executor
	claimLimit int
	draining   atomic.Bool
}

// NewDrainer creates a Drainer over the given queue and executor.
func NewDrainer(queue store.DeliveryRepo, executor *Executor) *Drainer {
	return &Drainer{
		queue:      queue,
		executor:   executor,
		claimLimit: DefaultClaimLimit,
	}
}

// DrainOnce runs one drain pass. If a previous pass is still running the
// call is a no-op. Jobs are attempted sequentially in staleness order; a
// failing job never aborts the pass.
func (d *Drainer) DrainOnce(ctx context.Context) {
	if !d.draining.CompareAndSwap(false, true) {
		slog.Debug("Drainer.DrainOnce: pass already running, skipping")
		return
	}
	defer d.draining.Store(false)

	jobs, err := d.queue.ListPendingDeliveries(ctx, d.claimLimit)
	if err != nil {
		slog.Error("Drainer.DrainOnce: list pending failed", "error", err)
		return
	}
	if len(jobs) == 0 {
		return
	}
	slog.Debug("Drainer.DrainOnce: retrying pending jobs", "count", len(jobs))

	for _, j := range jobs {
		if ctx.Err() != nil {
			slog.Info("Drainer.DrainOnce: context cancelled mid-pass")
			return
		}
		d.executor.Attempt(ctx, j.Provider, j.EventID, j.TargetURL, j.PayloadJSON)
	}
}

// Run drives drain passes from a ticker until the context is cancelled.
// Deployments wired through the scheduler call DrainOnce directly instead.
func (d *Drainer) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	slog.Info("Drainer.Run: starting drain loop", "interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Drainer.Run: stopping")
			return
		case <-ticker.C:
			d.DrainOnce(ctx)
		}
	}
}
