package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/plexus-gateway/plexus/internal/gateway"
)

// Eligible reports whether req qualifies for response caching: non-streaming
// and either temperature explicitly 0 (deterministic sampling) or the
// client opted in via metadata["cacheControl"] == "enabled".
func Eligible(req gateway.UnifiedRequest) bool {
	if req.Stream {
		return false
	}
	if req.Temperature != nil && *req.Temperature == 0 {
		return true
	}
	if v, ok := req.Metadata["cacheControl"]; ok {
		if s, ok := v.(string); ok && s == "enabled" {
			return true
		}
	}
	return false
}

// Key builds a deterministic cache key for one (alias, canonical model,
// request) triple. Messages/tools/sampling parameters all participate;
// Metadata and Stream are excluded since they don't affect the response
// shape this cache is keyed on.
func Key(aliasID, canonicalSlug string, req gateway.UnifiedRequest) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00", aliasID, canonicalSlug)
	enc := json.NewEncoder(h)
	_ = enc.Encode(req.Messages)
	_ = enc.Encode(req.Tools)
	_ = enc.Encode(req.ToolChoice)
	_ = enc.Encode(req.Temperature)
	_ = enc.Encode(req.TopP)
	_ = enc.Encode(req.TopK)
	_ = enc.Encode(req.PresencePenalty)
	_ = enc.Encode(req.FrequencyPenalty)
	_ = enc.Encode(req.Seed)
	_ = enc.Encode(req.MaxOutputTokens)
	_ = enc.Encode(req.Stop)
	return hex.EncodeToString(h.Sum(nil))
}
