package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plexus-gateway/plexus/internal/storage/debugstore"
)

func TestDebugGCStopsOnCancel(t *testing.T) {
	store, err := debugstore.New(t.TempDir())
	require.NoError(t, err)
	gc := NewDebugGC(store, 24*time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- gc.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("debug GC did not stop after cancel")
	}
}

func TestDebugGCName(t *testing.T) {
	store, err := debugstore.New(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "debug_gc", NewDebugGC(store, time.Hour).Name())
}
