package convert

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/plexus-gateway/plexus/internal/gateway"
)

func TestToOpenAIChatResponseShape(t *testing.T) {
	r := gateway.UnifiedResponse{ID: "id1", Model: "gpt-4o", Content: "hello", FinishReason: "stop", Usage: gateway.Usage{InputTokens: 3, OutputTokens: 2, TotalTokens: 5}}
	b := ToOpenAIChatResponse(r)
	assert.Contains(t, string(b), `"content":"hello"`)
	assert.Contains(t, string(b), `"finish_reason":"stop"`)
	assert.Contains(t, string(b), `"total_tokens":5`)
}

func TestToOpenAIChatChunkUsageOnly(t *testing.T) {
	usage := gateway.Usage{InputTokens: 1, OutputTokens: 1, TotalTokens: 2}
	c := gateway.UnifiedChunk{ID: "id1", Model: "gpt-4o", Usage: &usage}
	b := ToOpenAIChatChunk(c)
	assert.Contains(t, string(b), `"total_tokens":2`)
}

func TestToAnthropicMessagesResponseMapsStopReason(t *testing.T) {
	r := gateway.UnifiedResponse{ID: "id1", Model: "claude-3-5", Content: "hi", FinishReason: "length"}
	b := ToAnthropicMessagesResponse(r)
	assert.Contains(t, string(b), `"stop_reason":"max_tokens"`)
}
