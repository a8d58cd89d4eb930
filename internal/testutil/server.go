package testutil

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/plexus-gateway/plexus/internal/config"
	"github.com/plexus-gateway/plexus/internal/cooldown"
	"github.com/plexus-gateway/plexus/internal/invoke"
	"github.com/plexus-gateway/plexus/internal/metrics"
	"github.com/plexus-gateway/plexus/internal/quota"
	"github.com/plexus-gateway/plexus/internal/ratelimit"
	"github.com/plexus-gateway/plexus/internal/router"
	"github.com/plexus-gateway/plexus/internal/server"
)

// BaseDeps builds server.Deps wired against store, with fresh Cooldown,
// Quota, RateLimiter, Invoker, Metrics, and Aggregator instances -- enough
// for a real end-to-end request through the router and transform layers.
// Usage is left nil; server tests assert on HTTP behavior, not persisted
// trace rows.
func BaseDeps(t *testing.T, store *config.Store, auth server.Authenticator) server.Deps {
	t.Helper()
	cd := cooldown.NewManager()
	qt := quota.NewTracker(nil)
	return server.Deps{
		ConfigStore: store,
		Auth:        auth,
		Router:      router.New(store.Current, cd, qt),
		Invoker:     invoke.New(),
		Cooldown:    cd,
		Quota:       qt,
		RateLimiter: ratelimit.NewRegistry(),
		Metrics:     metrics.New(prometheus.NewRegistry()),
		Aggregator:  metrics.NewAggregator(),
		Version:     "test",
	}
}
