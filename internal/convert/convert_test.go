package convert

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plexus-gateway/plexus/internal/gateway"
)

func TestFromOpenAIChatRequestBasic(t *testing.T) {
	body := []byte(`{"model":"gpt-4o","messages":[{"role":"user","content":"hi"}],"temperature":0.5,"stream":true}`)
	req, err := FromOpenAIChatRequest(body)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", req.Model)
	require.Len(t, req.Messages, 1)
	assert.Equal(t, "hi", req.Messages[0].ContentText())
	assert.True(t, req.Stream)
	require.NotNil(t, req.Temperature)
	assert.Equal(t, 0.5, *req.Temperature)
}

func TestFromOpenAIChatRequestMissingModel(t *testing.T) {
	_, err := FromOpenAIChatRequest([]byte(`{"messages":[]}`))
	assert.Error(t, err)
}

func TestFromOpenAIChatRequestWarnsOnUnsupportedN(t *testing.T) {
	body := []byte(`{"model":"gpt-4o","messages":[{"role":"user","content":"hi"}],"n":3}`)
	req, err := FromOpenAIChatRequest(body)
	require.NoError(t, err)
	assert.NotEmpty(t, req.Warnings)
}

func TestFromOpenAIChatRequestStopArray(t *testing.T) {
	body := []byte(`{"model":"gpt-4o","messages":[{"role":"user","content":"hi"}],"stop":["a","b"]}`)
	req, err := FromOpenAIChatRequest(body)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, req.Stop)
}

func TestFromAnthropicMessagesRequestMergesSystem(t *testing.T) {
	body := []byte(`{"model":"claude-3-5-sonnet","system":"be concise","max_tokens":100,"messages":[{"role":"user","content":"hi"}]}`)
	req, err := FromAnthropicMessagesRequest(body)
	require.NoError(t, err)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, "be concise", req.Messages[0].ContentText())
	assert.Equal(t, "hi", req.Messages[1].ContentText())
}

func TestFromAnthropicMessagesRequestToolUseAndResult(t *testing.T) {
	body := []byte(`{
		"model":"claude-3-5-sonnet",
		"max_tokens":100,
		"messages":[
			{"role":"assistant","content":[{"type":"tool_use","id":"t1","name":"lookup","input":{"q":"x"}}]},
			{"role":"user","content":[{"type":"tool_result","tool_use_id":"t1","content":"42"}]}
		]
	}`)
	req, err := FromAnthropicMessagesRequest(body)
	require.NoError(t, err)
	require.Len(t, req.Messages, 2)
	assert.NotEmpty(t, req.Messages[0].ToolCalls)
	assert.Equal(t, gateway.RoleTool, req.Messages[1].Role)
	assert.Equal(t, "t1", req.Messages[1].ToolCallID)
}

func TestFromAnthropicMessagesRequestWarnsOnImageBlock(t *testing.T) {
	body := []byte(`{
		"model":"claude-3-5-sonnet",
		"max_tokens":100,
		"messages":[{"role":"user","content":[{"type":"image"}]}]
	}`)
	req, err := FromAnthropicMessagesRequest(body)
	require.NoError(t, err)
	assert.NotEmpty(t, req.Warnings)
}
