package convert

import (
	"encoding/json"

	"github.com/plexus-gateway/plexus/internal/gateway"
	"github.com/plexus-gateway/plexus/internal/sseutil"
)

// ToOpenAIChatResponse renders a UnifiedResponse as an OpenAI chat-completion
// response body, the inverse of FromOpenAIChatRequest's request side.
func ToOpenAIChatResponse(r gateway.UnifiedResponse) []byte {
	msg := map[string]any{"role": "assistant"}
	if r.Content != "" {
		msg["content"] = r.Content
	} else {
		msg["content"] = nil
	}
	if len(r.ToolCalls) > 0 {
		msg["tool_calls"] = r.ToolCalls
	}

	body := map[string]any{
		"id":      r.ID,
		"object":  "chat.completion",
		"created": r.Created,
		"model":   r.Model,
		"choices": []map[string]any{{
			"index":         0,
			"message":       msg,
			"finish_reason": sseutil.NilOrString(r.FinishReason),
		}},
		"usage": map[string]any{
			"prompt_tokens":     r.Usage.InputTokens,
			"completion_tokens": r.Usage.OutputTokens,
			"total_tokens":      r.Usage.TotalTokens,
		},
	}
	b, _ := json.Marshal(body)
	return b
}

// ToOpenAIChatChunk renders one UnifiedChunk as an OpenAI streaming chunk.
// The caller is responsible for wrapping the returned bytes in an SSE
// "data: ...\n\n" frame (see writeSSEData in internal/server).
func ToOpenAIChatChunk(c gateway.UnifiedChunk) []byte {
	if c.Usage != nil {
		return sseutil.BuildUsageChunk(c.ID, c.Model, c.Created, *c.Usage)
	}
	if c.FinishReason != "" && c.DeltaContent == "" && len(c.ToolCalls) == 0 {
		return sseutil.BuildFinishChunk(c.ID, c.Model, c.Created, c.FinishReason)
	}
	delta := map[string]any{}
	if c.DeltaContent != "" {
		delta["content"] = c.DeltaContent
	}
	if len(c.ToolCalls) > 0 {
		tc, _ := json.Marshal(c.ToolCalls)
		delta["tool_calls"] = json.RawMessage(tc)
	}
	return sseutil.BuildDeltaChunk(c.ID, c.Model, c.Created, delta, c.FinishReason)
}

// ToAnthropicMessagesResponse renders a UnifiedResponse as an Anthropic
// messages response body.
func ToAnthropicMessagesResponse(r gateway.UnifiedResponse) []byte {
	var content []map[string]any
	if r.Content != "" {
		content = append(content, map[string]any{"type": "text", "text": r.Content})
	}
	for _, tc := range r.ToolCalls {
		var input json.RawMessage
		if tc.Function.Arguments != "" {
			input = json.RawMessage(tc.Function.Arguments)
		} else {
			input = json.RawMessage("{}")
		}
		content = append(content, map[string]any{
			"type":  "tool_use",
			"id":    tc.ID,
			"name":  tc.Function.Name,
			"input": input,
		})
	}

	body := map[string]any{
		"id":          r.ID,
		"type":        "message",
		"role":        "assistant",
		"model":       r.Model,
		"content":     content,
		"stop_reason": mapFinishReasonToAnthropic(r.FinishReason),
		"usage": map[string]any{
			"input_tokens":  r.Usage.InputTokens,
			"output_tokens": r.Usage.OutputTokens,
		},
	}
	b, _ := json.Marshal(body)
	return b
}

func mapFinishReasonToAnthropic(reason string) string {
	switch reason {
	case "length":
		return "max_tokens"
	case "tool_calls":
		return "tool_use"
	case "stop", "":
		return "end_turn"
	default:
		return reason
	}
}
