// Package transform implements Transformer (C8): per-provider-type function
// triples that translate between gateway.UnifiedRequest/Response/Chunk and
// each upstream's own wire format. Polymorphism is a tagged providerType
// plus a flat function-pointer table, not an interface hierarchy.
package transform

import (
	"context"
	"io"

	"github.com/plexus-gateway/plexus/internal/config"
	"github.com/plexus-gateway/plexus/internal/gateway"
)

// Adapter is the function triple for one provider type.
type Adapter struct {
	// BuildRequest renders a UnifiedRequest as the provider's wire body and
	// returns the endpoint path to POST it to.
	BuildRequest func(req gateway.UnifiedRequest, canonicalSlug string, provider config.ProviderRecord) (body []byte, path string, err error)
	// ParseResponse converts a unary provider response body to a UnifiedResponse.
	ParseResponse func(body []byte) (gateway.UnifiedResponse, error)
	// WrapStream reads a provider SSE body and emits UnifiedChunks until the
	// stream ends or ctx is cancelled. The channel is always closed.
	WrapStream func(ctx context.Context, body io.ReadCloser, out chan<- gateway.UnifiedChunk)
}

var registry = map[gateway.ProviderType]Adapter{
	gateway.ProviderOpenAI:       openAIAdapter,
	gateway.ProviderOpenRouter:   openAIAdapter, // thin variant: identical wire shape
	gateway.ProviderAnthropic:    anthropicAdapter,
	gateway.ProviderOpenAICompat: openAICompatAdapter,
}

// For returns the Adapter for a provider type. Callers only ever see the
// four ProviderType values gateway defines, so a missing entry is a
// programming error, not a runtime condition to recover from.
func For(pt gateway.ProviderType) Adapter {
	a, ok := registry[pt]
	if !ok {
		panic("transform: no adapter registered for provider type " + string(pt))
	}
	return a
}
