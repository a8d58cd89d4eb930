package worker

import (
	"context"
	"time"

	"github.com/plexus-gateway/plexus/internal/cooldown"
)

const (
	cooldownEvictInterval = 60 * time.Second
	cooldownStaleAfter    = 24 * time.Hour
)

// CooldownEvictor periodically evicts cooldown state for providers that
// have seen no traffic in cooldownStaleAfter, bounding memory for
// providers removed from a reloaded configuration.
type CooldownEvictor struct {
	manager *cooldown.Manager
}

// NewCooldownEvictor creates a CooldownEvictor over manager.
func NewCooldownEvictor(manager *cooldown.Manager) *CooldownEvictor {
	return &CooldownEvictor{manager: manager}
}

// Name returns the worker identifier.
func (w *CooldownEvictor) Name() string { return "cooldown_evictor" }

// Run evicts stale entries on a fixed interval until ctx is cancelled.
func (w *CooldownEvictor) Run(ctx context.Context) error {
	ticker := time.NewTicker(cooldownEvictInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.manager.EvictStale(time.Now().Add(-cooldownStaleAfter))
		case <-ctx.Done():
			return nil
		}
	}
}
