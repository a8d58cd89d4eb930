package sseutil

import (
	"encoding/json"

	"github.com/plexus-gateway/plexus/internal/gateway"
)

// BuildDeltaChunk renders an OpenAI-format streaming chunk for a content
// delta.
func BuildDeltaChunk(id, model string, created int64, delta map[string]any, finishReason string) []byte {
	chunk := map[string]any{
		"id":      id,
		"object":  "chat.completion.chunk",
		"created": created,
		"model":   model,
		"choices": []map[string]any{{
			"index":         0,
			"delta":         delta,
			"finish_reason": NilOrString(finishReason),
		}},
	}
	b, _ := json.Marshal(chunk)
	return b
}

// BuildToolCallDeltaChunk renders an OpenAI-format tool call delta chunk.
func BuildToolCallDeltaChunk(id, model string, created int64, index int, argumentsDelta string) []byte {
	chunk := map[string]any{
		"id":      id,
		"object":  "chat.completion.chunk",
		"created": created,
		"model":   model,
		"choices": []map[string]any{{
			"index": 0,
			"delta": map[string]any{
				"tool_calls": []map[string]any{{
					"index": index,
					"function": map[string]any{
						"arguments": argumentsDelta,
					},
				}},
			},
			"finish_reason": nil,
		}},
	}
	b, _ := json.Marshal(chunk)
	return b
}

// BuildFinishChunk renders a chunk carrying only a finish_reason.
func BuildFinishChunk(id, model string, created int64, finishReason string) []byte {
	chunk := map[string]any{
		"id":      id,
		"object":  "chat.completion.chunk",
		"created": created,
		"model":   model,
		"choices": []map[string]any{{
			"index":         0,
			"delta":         map[string]any{},
			"finish_reason": finishReason,
		}},
	}
	b, _ := json.Marshal(chunk)
	return b
}

// BuildUsageChunk renders the terminal usage-only chunk OpenAI clients
// expect after stream_options.include_usage is requested. Usage must only
// ever appear on the last chunk of a stream (SPEC_FULL.md §4.5).
func BuildUsageChunk(id, model string, created int64, usage gateway.Usage) []byte {
	chunk := map[string]any{
		"id":      id,
		"object":  "chat.completion.chunk",
		"created": created,
		"model":   model,
		"choices": []map[string]any{},
		"usage": map[string]any{
			"prompt_tokens":     usage.InputTokens,
			"completion_tokens": usage.OutputTokens,
			"total_tokens":      usage.TotalTokens,
		},
	}
	b, _ := json.Marshal(chunk)
	return b
}

// NilOrString returns nil if s is empty, otherwise s -- used so a JSON-null
// finish_reason renders as `null` rather than `""`.
func NilOrString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
