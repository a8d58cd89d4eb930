package transform

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plexus-gateway/plexus/internal/config"
	"github.com/plexus-gateway/plexus/internal/gateway"
)

func rawString(s string) json.RawMessage {
	b, _ := json.Marshal(s)
	return b
}

func TestBuildOpenAIRequestBasic(t *testing.T) {
	req := gateway.UnifiedRequest{
		Messages: []gateway.Message{{Role: gateway.RoleUser, Content: rawString("hi")}},
		Stream:   true,
	}
	body, path, err := buildOpenAIRequest(req, "gpt-4o", config.ProviderRecord{})
	require.NoError(t, err)
	assert.Equal(t, "/v1/chat/completions", path)
	assert.Contains(t, string(body), `"model":"gpt-4o"`)
}

func TestParseOpenAIResponse(t *testing.T) {
	data := []byte(`{"id":"x1","model":"gpt-4o","created":100,"choices":[{"message":{"content":"hi"},"finish_reason":"stop"}],"usage":{"prompt_tokens":1,"completion_tokens":2,"total_tokens":3}}`)
	resp, err := parseOpenAIResponse(data)
	require.NoError(t, err)
	assert.Equal(t, "hi", resp.Content)
	assert.Equal(t, 3, resp.Usage.TotalTokens)
}

func TestWrapOpenAIStreamHandlesDoneAndNull(t *testing.T) {
	sse := "data: {\"id\":\"x\",\"model\":\"m\",\"created\":1,\"choices\":[{\"delta\":{\"content\":\"hi\"}}]}\n\ndata: null\n\n"
	out := make(chan gateway.UnifiedChunk, 8)
	wrapOpenAIStream(context.Background(), io.NopCloser(strings.NewReader(sse)), out)

	var chunks []gateway.UnifiedChunk
	for c := range out {
		chunks = append(chunks, c)
	}
	require.Len(t, chunks, 3)
	assert.Equal(t, "hi", chunks[0].DeltaContent)
	assert.Equal(t, "stop", chunks[1].FinishReason)
	assert.True(t, chunks[2].Done)
}

func TestBuildAnthropicRequestMapsSystemAndTools(t *testing.T) {
	req := gateway.UnifiedRequest{
		Messages: []gateway.Message{
			{Role: gateway.RoleSystem, Content: rawString("be terse")},
			{Role: gateway.RoleUser, Content: rawString("hi")},
		},
	}
	body, path, err := buildAnthropicRequest(req, "claude-3-5-sonnet", config.ProviderRecord{})
	require.NoError(t, err)
	assert.Equal(t, "/v1/messages", path)
	assert.Contains(t, string(body), `"system":"be terse"`)
}

func TestParseAnthropicResponseToolUse(t *testing.T) {
	data := []byte(`{"id":"x1","model":"claude-3-5","content":[{"type":"tool_use","id":"t1","name":"lookup","input":{"q":"x"}}],"stop_reason":"tool_use","usage":{"input_tokens":5,"output_tokens":1}}`)
	resp, err := parseAnthropicResponse(data)
	require.NoError(t, err)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "tool_calls", resp.FinishReason)
}

func TestWrapAnthropicStreamEmitsUsageOnlyOnLastChunk(t *testing.T) {
	sse := "event: message_start\ndata: {\"message\":{\"id\":\"x\",\"model\":\"m\",\"usage\":{\"input_tokens\":3}}}\n\n" +
		"event: content_block_delta\ndata: {\"delta\":{\"type\":\"text_delta\",\"text\":\"hi\"}}\n\n" +
		"event: message_delta\ndata: {\"delta\":{\"stop_reason\":\"end_turn\"},\"usage\":{\"output_tokens\":2}}\n\n" +
		"event: message_stop\ndata: {}\n\n"
	out := make(chan gateway.UnifiedChunk, 8)
	wrapAnthropicStream(context.Background(), io.NopCloser(strings.NewReader(sse)), out)

	var chunks []gateway.UnifiedChunk
	for c := range out {
		chunks = append(chunks, c)
	}
	require.Len(t, chunks, 5)
	for _, c := range chunks[:3] {
		assert.Nil(t, c.Usage)
	}
	require.NotNil(t, chunks[3].Usage)
	assert.True(t, chunks[4].Done)
}

func TestOpenAICompatUnwrapsEnvelope(t *testing.T) {
	data := []byte(`{"response":{"id":"x1","model":"gemini-pro","choices":[{"message":{"content":"hi"},"finish_reason":"stop"}],"usage":{"thoughtsTokenCount":4}}}`)
	resp, err := parseOpenAICompatResponse(data)
	require.NoError(t, err)
	assert.Equal(t, "hi", resp.Content)
	assert.Equal(t, 4, resp.Usage.ReasoningTokens)
}

func TestSessionIDDeterministic(t *testing.T) {
	req1 := gateway.UnifiedRequest{Messages: []gateway.Message{{Role: gateway.RoleUser, Content: rawString("hi")}}}
	req2 := gateway.UnifiedRequest{Messages: []gateway.Message{{Role: gateway.RoleUser, Content: rawString("hi")}}}
	assert.Equal(t, sessionID(req1), sessionID(req2))
	assert.NotEmpty(t, sessionID(req1))
}
