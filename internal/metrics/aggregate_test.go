package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAggregatorRecordsPerProviderModel(t *testing.T) {
	agg := NewAggregator()
	now := time.Unix(1_000_000, 0)

	agg.Record("openai-1", "gpt-4o", true, 100, 20, true, 0.01, 500, now)
	agg.Record("openai-1", "gpt-4o", false, 200, 0, false, 0, 0, now)
	agg.Record("anthropic-1", "claude-3-5-sonnet", true, 300, 50, true, 0.02, 1000, now)

	snaps := agg.Snapshot(now)
	byKey := map[string]Snapshot{}
	for _, s := range snaps {
		byKey[s.ProviderID+"/"+s.Model] = s
	}

	require.Contains(t, byKey, "openai-1/gpt-4o")
	g := byKey["openai-1/gpt-4o"]
	assert.Equal(t, int64(2), g.RequestCount)
	assert.Equal(t, int64(1), g.SuccessCount)
	assert.Equal(t, int64(1), g.FailureCount)
	assert.InDelta(t, 150, g.AvgDurationMs, 0.01)
	assert.InDelta(t, 20, g.AvgTTFTMs, 0.01)

	require.Contains(t, byKey, "anthropic-1/claude-3-5-sonnet")
	a := byKey["anthropic-1/claude-3-5-sonnet"]
	assert.Equal(t, int64(1), a.RequestCount)
	assert.InDelta(t, 0.02, a.TotalCostUSD, 1e-9)
	assert.InDelta(t, 20, a.CostPer1M, 1e-6)
}

func TestBucketRingExpiresOldSamples(t *testing.T) {
	agg := NewAggregator()
	t0 := time.Unix(1_000_000, 0)
	agg.Record("p", "m", true, 100, 0, false, 0, 0, t0)

	snaps := agg.Snapshot(t0.Add(61 * time.Second))
	require.Len(t, snaps, 1)
	assert.Zero(t, snaps[0].RequestCount)
}
