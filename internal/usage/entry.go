// Package usage implements UsageRecorder (C12): on request completion it
// builds one TraceEntry (success) or ErrorEntry (failure), derives cost,
// TTFT, and tokens/sec, and batch-flushes both to a Store in the
// background, never blocking the request path.
package usage

import (
	"context"

	"github.com/plexus-gateway/plexus/internal/gateway"
)

// TraceEntry is one successfully completed (or partially streamed then
// cancelled) request, ready for the usage store.
type TraceEntry struct {
	ID              string
	RequestID       string
	ProviderID      string
	AliasID         string
	CanonicalSlug   string
	KeyName         string
	Streaming       bool
	StartUnixMs     int64
	DurationMs      int64
	ProviderTTFTMs  int64
	HasTTFT         bool
	Usage           gateway.Usage
	TokensPerSecond float64
	Cost            float64
	CostSource      string // "alias", "provider", or "unknown"
	Truncated       bool
	Cause           string // "complete", "client_cancelled", "timeout", "upstream_error"
}

// ErrorEntry is one failed request, ready for the error store.
type ErrorEntry struct {
	ID         string
	RequestID  string
	ProviderID string
	AliasID    string
	KeyName    string
	UnixMs     int64
	Kind       string
	Message    string
}

// Store is the persistence boundary UsageRecorder writes through.
type Store interface {
	InsertUsage(ctx context.Context, records []TraceEntry) error
	InsertErrors(ctx context.Context, records []ErrorEntry) error
}
