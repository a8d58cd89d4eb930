// Package router implements Router (C6): resolves a client-facing model
// alias to one concrete (provider, canonical model) RouteDecision, applying
// cooldown filtering, quota admission, and selection in that order.
package router

import (
	"math/rand/v2"
	"time"

	"github.com/plexus-gateway/plexus/internal/config"
	"github.com/plexus-gateway/plexus/internal/cooldown"
	"github.com/plexus-gateway/plexus/internal/gateway"
	"github.com/plexus-gateway/plexus/internal/quota"
	"github.com/plexus-gateway/plexus/internal/selector"
)

// Decision is the result of a successful resolve: the provider and canonical
// model slug a request should be dispatched to.
type Decision struct {
	ProviderID    string
	CanonicalSlug string
	Provider      config.ProviderRecord
}

// Router composes a live config snapshot accessor with the cooldown and
// quota subsystems to pick a route for each request. It holds no mutable
// state of its own beyond the rand source used by the random selector.
type Router struct {
	snapshot func() *config.Snapshot
	cooldown *cooldown.Manager
	quota    *quota.Tracker
	rnd      *rand.Rand
}

// New builds a Router. snapshotFn must return the current ConfigSnapshot
// (typically config.Store.Current); it is called once per resolve so the
// router always acts on a consistent, possibly newer, snapshot.
func New(snapshotFn func() *config.Snapshot, cd *cooldown.Manager, qt *quota.Tracker) *Router {
	return &Router{
		snapshot: snapshotFn,
		cooldown: cd,
		quota:    qt,
		rnd:      rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0)),
	}
}

// Resolve implements the five-step routing algorithm: alias lookup, cooldown
// filtering, quota admission, then selection. Returns a *gateway.Error with
// the appropriate Kind (model_not_found, all_providers_cooled_down,
// quota_exhausted, unimplemented_selector) on every failure path.
func (r *Router) Resolve(aliasID string, now time.Time) (Decision, error) {
	return r.resolve(aliasID, now, nil)
}

// ResolveExcluding behaves like Resolve but treats every provider ID in
// excluded as unavailable, letting a caller that already tried (and failed
// against) those providers retry the same alias against a fresh candidate.
func (r *Router) ResolveExcluding(aliasID string, now time.Time, excluded map[string]bool) (Decision, error) {
	return r.resolve(aliasID, now, excluded)
}

func (r *Router) resolve(aliasID string, now time.Time, excluded map[string]bool) (Decision, error) {
	snap := r.snapshot()

	alias, ok := snap.Models[aliasID]
	if !ok {
		return Decision{}, gateway.NewError(gateway.KindModelNotFound, "no such model alias: "+aliasID)
	}

	targets := alias.Targets // order preserved, never mutated
	if len(excluded) > 0 {
		remaining := make([]config.Target, 0, len(targets))
		for _, t := range targets {
			if !excluded[t.ProviderID] {
				remaining = append(remaining, t)
			}
		}
		targets = remaining
	}
	if len(targets) == 0 {
		return Decision{}, gateway.NewError(gateway.KindAllProvidersCooled, "no remaining candidates for "+aliasID+" after failover")
	}

	providerIDs := make([]string, len(targets))
	for i, t := range targets {
		providerIDs[i] = t.ProviderID
	}
	freeProviderIDs := r.cooldown.Filter(providerIDs, now)
	if len(freeProviderIDs) == 0 {
		wait := r.cooldown.MinRemainingSeconds(providerIDs, now)
		return Decision{}, gateway.NewError(gateway.KindAllProvidersCooled, "all providers on cooldown for "+aliasID).WithRetryAfter(wait)
	}
	free := make(map[string]bool, len(freeProviderIDs))
	for _, id := range freeProviderIDs {
		free[id] = true
	}

	candidates := make([]config.Target, 0, len(targets))
	for _, t := range targets {
		if !free[t.ProviderID] {
			continue
		}
		if provider, ok := snap.Providers[t.ProviderID]; ok && provider.QuotaCheckerRef != "" {
			if !r.quota.Admit(provider.QuotaCheckerRef) {
				continue
			}
		}
		candidates = append(candidates, t)
	}
	if len(candidates) == 0 {
		return Decision{}, gateway.NewError(gateway.KindQuotaExhausted, "all providers quota-exhausted for "+aliasID)
	}

	kind := alias.SelectorKind
	if kind == "" {
		kind = "random"
	}
	picked, err := selector.Select(kind, candidates, r.rnd)
	if err != nil {
		return Decision{}, err
	}

	provider := snap.Providers[picked.ProviderID]
	return Decision{ProviderID: picked.ProviderID, CanonicalSlug: picked.CanonicalSlug, Provider: provider}, nil
}
