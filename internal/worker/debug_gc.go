package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/plexus-gateway/plexus/internal/storage/debugstore"
)

const debugGCInterval = 1 * time.Hour

// DebugGC periodically purges debug-store request directories older than
// retention, bounding local disk usage for long-running deployments.
type DebugGC struct {
	store     *debugstore.Store
	retention time.Duration
}

// NewDebugGC creates a DebugGC that purges artifacts older than retention.
func NewDebugGC(store *debugstore.Store, retention time.Duration) *DebugGC {
	return &DebugGC{store: store, retention: retention}
}

// Name returns the worker identifier.
func (w *DebugGC) Name() string { return "debug_gc" }

// Run purges stale debug artifacts on a fixed interval until ctx is cancelled.
func (w *DebugGC) Run(ctx context.Context) error {
	ticker := time.NewTicker(debugGCInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			n, err := w.store.Purge(ctx, time.Now().Add(-w.retention))
			if err != nil {
				slog.Warn("debug store purge failed", "error", err)
				continue
			}
			if n > 0 {
				slog.Info("debug store purged stale requests", "count", n)
			}
		case <-ctx.Done():
			return nil
		}
	}
}
