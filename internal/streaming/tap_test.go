package streaming

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plexus-gateway/plexus/internal/gateway"
)

func TestTapMarksFirstTokenOnce(t *testing.T) {
	tap := NewTap(0)
	tap.Observe(gateway.UnifiedChunk{DeltaContent: ""}, 100)
	tap.Observe(gateway.UnifiedChunk{DeltaContent: "hi"}, 200)
	tap.Observe(gateway.UnifiedChunk{DeltaContent: "there"}, 300)

	sig := tap.Finish(CauseComplete, nil)
	assert.True(t, sig.HasFirstToken)
	assert.Equal(t, int64(200), sig.FirstTokenUnixMs)
	assert.Equal(t, "hithere", sig.AccumulatedText)
	assert.False(t, sig.Truncated)
}

func TestTapRingRollsOnOverflow(t *testing.T) {
	tap := NewTap(4)
	tap.Observe(gateway.UnifiedChunk{DeltaContent: "ab"}, 1)
	tap.Observe(gateway.UnifiedChunk{DeltaContent: "cd"}, 2)
	tap.Observe(gateway.UnifiedChunk{DeltaContent: "ef"}, 3)

	sig := tap.Finish(CauseComplete, nil)
	assert.True(t, sig.Truncated)
	assert.Equal(t, "cdef", sig.AccumulatedText)
}

func TestPipeForwardsAllChunksInOrder(t *testing.T) {
	tap := NewTap(0)
	in := make(chan gateway.UnifiedChunk, 4)
	out := make(chan gateway.UnifiedChunk, 4)
	in <- gateway.UnifiedChunk{DeltaContent: "a"}
	in <- gateway.UnifiedChunk{DeltaContent: "b"}
	in <- gateway.UnifiedChunk{Done: true}
	close(in)

	sig := tap.Pipe(context.Background(), in, out, func() int64 { return 42 })
	close(out)

	var got []gateway.UnifiedChunk
	for c := range out {
		got = append(got, c)
	}
	require.Len(t, got, 3)
	assert.Equal(t, "a", got[0].DeltaContent)
	assert.True(t, got[2].Done)
	assert.Equal(t, CauseComplete, sig.Cause)
	assert.Equal(t, "ab", sig.AccumulatedText)
}

func TestPipeStopsOnContextCancel(t *testing.T) {
	tap := NewTap(0)
	in := make(chan gateway.UnifiedChunk)
	out := make(chan gateway.UnifiedChunk, 4)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sig := tap.Pipe(ctx, in, out, func() int64 { return 1 })
	assert.Equal(t, CauseClientCancelled, sig.Cause)
	require.Error(t, sig.Err)
}

func TestPipePropagatesUpstreamError(t *testing.T) {
	tap := NewTap(0)
	in := make(chan gateway.UnifiedChunk, 2)
	out := make(chan gateway.UnifiedChunk, 2)
	wantErr := errors.New("boom")
	in <- gateway.UnifiedChunk{Err: wantErr}
	close(in)

	sig := tap.Pipe(context.Background(), in, out, func() int64 { return 1 })
	assert.Equal(t, CauseUpstreamError, sig.Cause)
	assert.ErrorIs(t, sig.Err, wantErr)
}
