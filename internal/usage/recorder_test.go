package usage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plexus-gateway/plexus/internal/config"
	"github.com/plexus-gateway/plexus/internal/gateway"
	"github.com/plexus-gateway/plexus/internal/streaming"
)

type fakeStore struct {
	mu     sync.Mutex
	usage  []TraceEntry
	errors []ErrorEntry
}

func (f *fakeStore) InsertUsage(ctx context.Context, records []TraceEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.usage = append(f.usage, records...)
	return nil
}

func (f *fakeStore) InsertErrors(ctx context.Context, records []ErrorEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors = append(f.errors, records...)
	return nil
}

func (f *fakeStore) snapshot() ([]TraceEntry, []ErrorEntry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]TraceEntry(nil), f.usage...), append([]ErrorEntry(nil), f.errors...)
}

func TestRecorderFlushesOnBatchSize(t *testing.T) {
	store := &fakeStore{}
	rec := New(store)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { rec.Run(ctx); close(done) }()

	for i := 0; i < usageBatchSize; i++ {
		rec.RecordSuccess(TraceEntry{RequestID: "r"})
	}

	require.Eventually(t, func() bool {
		u, _ := store.snapshot()
		return len(u) == usageBatchSize
	}, time.Second, 10*time.Millisecond)

	cancel()
	<-done
}

func TestRecorderDrainsOnShutdown(t *testing.T) {
	store := &fakeStore{}
	rec := New(store)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { rec.Run(ctx); close(done) }()

	rec.RecordSuccess(TraceEntry{RequestID: "only-one"})
	cancel()
	<-done

	u, _ := store.snapshot()
	require.Len(t, u, 1)
	assert.Equal(t, "only-one", u[0].RequestID)
}

func TestRecorderErrorRingRollsOldestOnOverflow(t *testing.T) {
	store := &fakeStore{}
	rec := New(store)

	for i := 0; i < errorBufCap+10; i++ {
		rec.RecordError(ErrorEntry{RequestID: string(rune('a' + i%26))})
	}
	assert.Len(t, rec.errBuf, errorBufCap)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { rec.Run(ctx); close(done) }()
	cancel()
	<-done

	_, errs := store.snapshot()
	assert.Len(t, errs, errorBufCap)
}

func TestBuildDerivesTTFTDurationAndCost(t *testing.T) {
	entry := Build(BuildInput{
		RequestID:     "r1",
		ProviderID:    "p1",
		AliasID:       "fast",
		CanonicalSlug: "gpt-4o-mini",
		Streaming:     true,
		StartUnixMs:   1000,
		EndUnixMs:     3000,
		Usage:         gateway.Usage{InputTokens: 1_000_000, OutputTokens: 1_000_000},
		Signal: streaming.Signal{
			HasFirstToken:    true,
			FirstTokenUnixMs: 1500,
			Cause:            streaming.CauseComplete,
		},
	})
	assert.Equal(t, int64(2000), entry.DurationMs)
	assert.True(t, entry.HasTTFT)
	assert.Equal(t, int64(500), entry.ProviderTTFTMs)
	assert.InDelta(t, 500000, entry.TokensPerSecond, 1)
	assert.Equal(t, "provider", entry.CostSource)
	assert.Equal(t, "complete", entry.Cause)
}

func TestBuildUnknownModelYieldsUnknownCostSource(t *testing.T) {
	entry := Build(BuildInput{
		CanonicalSlug: "mystery-model",
		StartUnixMs:   0,
		EndUnixMs:     100,
		Usage:         gateway.Usage{InputTokens: 10, OutputTokens: 10},
		AliasPricing:  (*config.PricingEntry)(nil),
	})
	assert.Equal(t, "unknown", entry.CostSource)
	assert.Zero(t, entry.Cost)
}
