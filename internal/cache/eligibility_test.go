package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/plexus-gateway/plexus/internal/gateway"
)

func ptr(f float64) *float64 { return &f }

func TestEligibleRequiresNonStreaming(t *testing.T) {
	req := gateway.UnifiedRequest{Stream: true, Temperature: ptr(0)}
	assert.False(t, Eligible(req))
}

func TestEligibleOnZeroTemperature(t *testing.T) {
	req := gateway.UnifiedRequest{Temperature: ptr(0)}
	assert.True(t, Eligible(req))
}

func TestEligibleOnExplicitCacheControl(t *testing.T) {
	req := gateway.UnifiedRequest{Metadata: map[string]any{"cacheControl": "enabled"}}
	assert.True(t, Eligible(req))
}

func TestNotEligibleByDefault(t *testing.T) {
	req := gateway.UnifiedRequest{Temperature: ptr(0.7)}
	assert.False(t, Eligible(req))
}

func TestKeyIsDeterministicAndDistinguishesModel(t *testing.T) {
	req := gateway.UnifiedRequest{Messages: []gateway.Message{{Role: gateway.RoleUser}}}
	k1 := Key("fast", "gpt-4o", req)
	k2 := Key("fast", "gpt-4o", req)
	k3 := Key("fast", "gpt-4o-mini", req)
	assert.Equal(t, k1, k2)
	assert.NotEqual(t, k1, k3)
}
