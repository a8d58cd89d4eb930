package usage

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/plexus-gateway/plexus/internal/config"
	"github.com/plexus-gateway/plexus/internal/gateway"
)

func TestComputeUsesAliasOverrideFirst(t *testing.T) {
	alias := &config.PricingEntry{InputPer1M: 1, OutputPer1M: 2}
	cost, source := Compute(alias, "gpt-4o", gateway.Usage{InputTokens: 1_000_000, OutputTokens: 1_000_000})
	assert.Equal(t, "alias", source)
	assert.InDelta(t, 3.0, cost, 1e-9)
}

func TestComputeFallsBackToProviderDefault(t *testing.T) {
	cost, source := Compute(nil, "gpt-4o-mini", gateway.Usage{InputTokens: 1_000_000, OutputTokens: 1_000_000})
	assert.Equal(t, "provider", source)
	assert.InDelta(t, 0.75, cost, 1e-9)
}

func TestComputeUnknownModelYieldsZeroCost(t *testing.T) {
	cost, source := Compute(nil, "some-unlisted-model", gateway.Usage{InputTokens: 100, OutputTokens: 100})
	assert.Equal(t, "unknown", source)
	assert.Zero(t, cost)
}

func TestComputeSubtractsCachedFromBillableInput(t *testing.T) {
	alias := &config.PricingEntry{InputPer1M: 10, CachedPer1M: 1}
	cost, _ := Compute(alias, "gpt-4o", gateway.Usage{InputTokens: 1_000_000, CachedTokens: 1_000_000})
	assert.InDelta(t, 1.0, cost, 1e-9)
}

func TestCostPer1M(t *testing.T) {
	assert.InDelta(t, 5.0, CostPer1M(5, 1_000_000), 1e-9)
	assert.Zero(t, CostPer1M(5, 0))
}
