package transform

import (
	"context"
	"encoding/json"
	"io"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/plexus-gateway/plexus/internal/config"
	"github.com/plexus-gateway/plexus/internal/gateway"
	"github.com/plexus-gateway/plexus/internal/sseutil"
)

var anthropicAdapter = Adapter{
	BuildRequest:  buildAnthropicRequest,
	ParseResponse: parseAnthropicResponse,
	WrapStream:    wrapAnthropicStream,
}

func buildAnthropicRequest(req gateway.UnifiedRequest, canonicalSlug string, provider config.ProviderRecord) ([]byte, string, error) {
	maxTokens := 4096
	if req.MaxOutputTokens != nil {
		maxTokens = *req.MaxOutputTokens
	}

	body := map[string]any{
		"model":      canonicalSlug,
		"max_tokens": maxTokens,
		"stream":     req.Stream,
	}
	if req.Temperature != nil {
		body["temperature"] = *req.Temperature
	}
	if req.TopP != nil {
		body["top_p"] = *req.TopP
	}
	if req.TopK != nil {
		body["top_k"] = *req.TopK
	}
	if len(req.Stop) > 0 {
		body["stop_sequences"] = req.Stop
	}
	if len(req.Tools) > 0 {
		body["tools"] = json.RawMessage(req.Tools)
	}
	if req.ToolChoice != nil {
		body["tool_choice"] = req.ToolChoice
	}

	var messages []map[string]any
	for _, m := range req.Messages {
		switch m.Role {
		case gateway.RoleSystem:
			body["system"] = m.ContentText()
		case gateway.RoleTool:
			block := map[string]any{
				"type":        "tool_result",
				"tool_use_id": m.ToolCallID,
				"content":     json.RawMessage(m.Content),
			}
			messages = append(messages, map[string]any{
				"role":    "user",
				"content": []map[string]any{block},
			})
		default:
			msg := map[string]any{"role": string(m.Role)}
			var blocks []map[string]any
			if text := m.ContentText(); text != "" {
				blocks = append(blocks, map[string]any{"type": "text", "text": text})
			}
			if len(m.ToolCalls) > 0 {
				var calls []gateway.ToolCall
				if json.Unmarshal(m.ToolCalls, &calls) == nil {
					for _, c := range calls {
						blocks = append(blocks, map[string]any{
							"type":  "tool_use",
							"id":    c.ID,
							"name":  c.Function.Name,
							"input": json.RawMessage(orEmptyObject(c.Function.Arguments)),
						})
					}
				}
			}
			msg["content"] = blocks
			messages = append(messages, msg)
		}
	}
	body["messages"] = messages

	b, err := json.Marshal(body)
	if err != nil {
		return nil, "", gateway.NewError(gateway.KindInvalidRequest, "encode anthropic request: "+err.Error())
	}
	return b, "/v1/messages", nil
}

func orEmptyObject(s string) string {
	if s == "" {
		return "{}"
	}
	return s
}

func parseAnthropicResponse(data []byte) (gateway.UnifiedResponse, error) {
	r := gjson.ParseBytes(data)

	var text strings.Builder
	var toolCalls []gateway.ToolCall
	r.Get("content").ForEach(func(_, block gjson.Result) bool {
		switch block.Get("type").String() {
		case "text":
			text.WriteString(block.Get("text").String())
		case "tool_use":
			toolCalls = append(toolCalls, gateway.ToolCall{
				ID:   block.Get("id").String(),
				Type: "function",
				Function: struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				}{Name: block.Get("name").String(), Arguments: block.Get("input").Raw},
			})
		}
		return true
	})

	stopReason := mapAnthropicStopReason(r.Get("stop_reason").String())
	if len(toolCalls) > 0 && stopReason == "" {
		stopReason = "tool_calls"
	}

	input := int(r.Get("usage.input_tokens").Int())
	output := int(r.Get("usage.output_tokens").Int())
	return gateway.UnifiedResponse{
		ID:           r.Get("id").String(),
		Model:        r.Get("model").String(),
		Content:      text.String(),
		ToolCalls:    toolCalls,
		FinishReason: stopReason,
		Usage: gateway.Usage{
			InputTokens:  input,
			OutputTokens: output,
			CachedTokens: int(r.Get("usage.cache_read_input_tokens").Int()),
			TotalTokens:  input + output,
		},
	}, nil
}

func mapAnthropicStopReason(reason string) string {
	switch reason {
	case "end_turn":
		return "stop"
	case "max_tokens":
		return "length"
	case "tool_use":
		return "tool_calls"
	case "stop_sequence":
		return "stop"
	default:
		return reason
	}
}

// wrapAnthropicStream implements the event-driven Anthropic SSE state
// machine: message_start seeds id/model/input_tokens, content_block_delta
// carries text or tool-argument deltas, message_delta carries the final
// stop reason and output token count, message_stop emits the terminal
// finish+usage chunks.
func wrapAnthropicStream(ctx context.Context, body io.ReadCloser, out chan<- gateway.UnifiedChunk) {
	defer close(out)
	defer body.Close()

	scanner := sseutil.NewScanner(body)
	var id, model string
	var inputTokens, outputTokens int
	var stopReason string
	var currentEvent string

	emit := func(c gateway.UnifiedChunk) bool {
		select {
		case out <- c:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for scanner.Scan() {
		event, data, ok := sseutil.ParseSSELine(scanner.Text())
		if !ok {
			continue
		}
		if event != "" {
			currentEvent = event
			continue
		}
		if data == "" {
			continue
		}

		r := gjson.Parse(data)
		switch currentEvent {
		case "message_start":
			id = r.Get("message.id").String()
			model = r.Get("message.model").String()
			inputTokens = int(r.Get("message.usage.input_tokens").Int())
			if !emit(gateway.UnifiedChunk{ID: id, Model: model}) {
				return
			}
		case "content_block_delta":
			switch r.Get("delta.type").String() {
			case "text_delta":
				if !emit(gateway.UnifiedChunk{ID: id, Model: model, DeltaContent: r.Get("delta.text").String()}) {
					return
				}
			case "input_json_delta":
				idx := int(r.Get("index").Int())
				partial := r.Get("delta.partial_json").String()
				chunk := gateway.UnifiedChunk{ID: id, Model: model}
				chunk.ToolCalls = []gateway.ToolCall{{Type: "function"}}
				chunk.ToolCalls[0].Function.Arguments = partial
				_ = idx // index carried via ToolCalls[0] position; single-tool-per-chunk per upstream event shape
				if !emit(chunk) {
					return
				}
			}
		case "message_delta":
			outputTokens = int(r.Get("usage.output_tokens").Int())
			stopReason = r.Get("delta.stop_reason").String()
		case "message_stop":
			finish := mapAnthropicStopReason(stopReason)
			if !emit(gateway.UnifiedChunk{ID: id, Model: model, FinishReason: finish}) {
				return
			}
			usage := gateway.Usage{InputTokens: inputTokens, OutputTokens: outputTokens, TotalTokens: inputTokens + outputTokens}
			if !emit(gateway.UnifiedChunk{ID: id, Model: model, Usage: &usage}) {
				return
			}
			emit(gateway.UnifiedChunk{Done: true})
			return
		}
		currentEvent = ""
	}
	if err := scanner.Err(); err != nil {
		emit(gateway.UnifiedChunk{Err: err})
	}
}
