// Package selector implements Selector (C5): a registry of pure functions,
// keyed by selectorKind, that pick one target from an already-filtered
// candidate list. Per SPEC_FULL.md §9's redesign note this replaces the
// source's selector class hierarchy with a flat function-pointer table.
package selector

import (
	"math/rand/v2"

	"github.com/plexus-gateway/plexus/internal/config"
	"github.com/plexus-gateway/plexus/internal/gateway"
)

// Func is a pure selection function over an already cooldown/quota-filtered
// candidate list. It must not mutate candidates and must return an element
// of candidates on success.
type Func func(candidates []config.Target, rnd *rand.Rand) (config.Target, error)

var registry = map[string]Func{
	"random":  selectRandom,
	"cost":    unimplemented,
	"latency": unimplemented,
	"usage":   unimplemented,
}

// Select dispatches to the registered Func for kind. An unknown or
// declared-but-unimplemented kind returns gateway.ErrUnimplementedSelector;
// Router treats this as a configuration error, never a silent fallback to
// random (SPEC_FULL.md §4.4).
func Select(kind string, candidates []config.Target, rnd *rand.Rand) (config.Target, error) {
	fn, ok := registry[kind]
	if !ok {
		return config.Target{}, gateway.NewError(gateway.KindUnimplementedSelector, "unknown selector kind: "+kind)
	}
	return fn(candidates, rnd)
}

// selectRandom chooses uniformly among candidates. Deterministic for a
// given rnd seed and candidate list (selector-purity invariant, §8).
func selectRandom(candidates []config.Target, rnd *rand.Rand) (config.Target, error) {
	if len(candidates) == 0 {
		return config.Target{}, gateway.NewError(gateway.KindInternalError, "no candidates to select from")
	}
	i := rnd.IntN(len(candidates))
	return candidates[i], nil
}

// unimplemented backs the cost/latency/usage selector names: declared in
// the schema but not implemented by the core, per SPEC_FULL.md §9's
// preserved Open Question decision.
func unimplemented(candidates []config.Target, rnd *rand.Rand) (config.Target, error) {
	return config.Target{}, gateway.NewError(gateway.KindUnimplementedSelector, "selector not implemented")
}
