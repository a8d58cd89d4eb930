package transform

import (
	"context"
	"encoding/json"
	"io"

	"github.com/tidwall/gjson"

	"github.com/plexus-gateway/plexus/internal/config"
	"github.com/plexus-gateway/plexus/internal/gateway"
	"github.com/plexus-gateway/plexus/internal/sseutil"
)

var openAIAdapter = Adapter{
	BuildRequest:  buildOpenAIRequest,
	ParseResponse: parseOpenAIResponse,
	WrapStream:    wrapOpenAIStream,
}

func buildOpenAIRequest(req gateway.UnifiedRequest, canonicalSlug string, provider config.ProviderRecord) ([]byte, string, error) {
	messages := make([]map[string]any, 0, len(req.Messages))
	for _, m := range req.Messages {
		msg := map[string]any{"role": string(m.Role)}
		if len(m.Content) > 0 {
			msg["content"] = json.RawMessage(m.Content)
		}
		if m.Name != "" {
			msg["name"] = m.Name
		}
		if len(m.ToolCalls) > 0 {
			msg["tool_calls"] = json.RawMessage(m.ToolCalls)
		}
		if m.ToolCallID != "" {
			msg["tool_call_id"] = m.ToolCallID
		}
		messages = append(messages, msg)
	}

	body := map[string]any{
		"model":    canonicalSlug,
		"messages": messages,
		"stream":   req.Stream,
	}
	if len(req.Tools) > 0 {
		body["tools"] = json.RawMessage(req.Tools)
	}
	if req.ToolChoice != nil {
		body["tool_choice"] = req.ToolChoice
	}
	if req.Temperature != nil {
		body["temperature"] = *req.Temperature
	}
	if req.TopP != nil {
		body["top_p"] = *req.TopP
	}
	if req.PresencePenalty != nil {
		body["presence_penalty"] = *req.PresencePenalty
	}
	if req.FrequencyPenalty != nil {
		body["frequency_penalty"] = *req.FrequencyPenalty
	}
	if req.Seed != nil {
		body["seed"] = *req.Seed
	}
	if req.MaxOutputTokens != nil {
		body["max_tokens"] = *req.MaxOutputTokens
	}
	if len(req.Stop) > 0 {
		body["stop"] = req.Stop
	}
	if req.Stream {
		body["stream_options"] = map[string]any{"include_usage": true}
	}

	b, err := json.Marshal(body)
	if err != nil {
		return nil, "", gateway.NewError(gateway.KindInvalidRequest, "encode openai request: "+err.Error())
	}
	return b, "/v1/chat/completions", nil
}

func parseOpenAIResponse(data []byte) (gateway.UnifiedResponse, error) {
	r := gjson.ParseBytes(data)
	choice := r.Get("choices.0")

	var toolCalls []gateway.ToolCall
	choice.Get("message.tool_calls").ForEach(func(_, tc gjson.Result) bool {
		var t gateway.ToolCall
		if json.Unmarshal([]byte(tc.Raw), &t) == nil {
			toolCalls = append(toolCalls, t)
		}
		return true
	})

	return gateway.UnifiedResponse{
		ID:           r.Get("id").String(),
		Model:        r.Get("model").String(),
		Created:      r.Get("created").Int(),
		Content:      choice.Get("message.content").String(),
		ToolCalls:    toolCalls,
		FinishReason: choice.Get("finish_reason").String(),
		Usage: gateway.Usage{
			InputTokens:     int(r.Get("usage.prompt_tokens").Int()),
			OutputTokens:    int(r.Get("usage.completion_tokens").Int()),
			CachedTokens:    int(r.Get("usage.prompt_tokens_details.cached_tokens").Int()),
			ReasoningTokens: int(r.Get("usage.completion_tokens_details.reasoning_tokens").Int()),
			TotalTokens:     int(r.Get("usage.total_tokens").Int()),
		},
	}, nil
}

// wrapOpenAIStream implements the stream edge-case policy from §4.5: [DONE]
// terminates silently, data:null synthesizes a stop chunk then [DONE], and
// usage is only ever attached to the last chunk.
func wrapOpenAIStream(ctx context.Context, body io.ReadCloser, out chan<- gateway.UnifiedChunk) {
	defer close(out)
	defer body.Close()

	raw := make(chan sseutil.RawEvent, 4)
	go sseutil.ReadRawLines(ctx, body, raw)

	var lastID, lastModel string
	var lastCreated int64

	for ev := range raw {
		if ev.Err != nil {
			select {
			case out <- gateway.UnifiedChunk{Err: ev.Err}:
			case <-ctx.Done():
			}
			return
		}
		if ev.Done {
			select {
			case out <- gateway.UnifiedChunk{Done: true}:
			case <-ctx.Done():
			}
			return
		}
		if string(ev.Data) == "null" {
			select {
			case out <- gateway.UnifiedChunk{ID: lastID, Model: lastModel, Created: lastCreated, FinishReason: "stop"}:
			case <-ctx.Done():
				return
			}
			select {
			case out <- gateway.UnifiedChunk{Done: true}:
			case <-ctx.Done():
			}
			return
		}

		r := gjson.ParseBytes(ev.Data)
		lastID = r.Get("id").String()
		lastModel = r.Get("model").String()
		lastCreated = r.Get("created").Int()
		choice := r.Get("choices.0")

		chunk := gateway.UnifiedChunk{
			ID:           lastID,
			Model:        lastModel,
			Created:      lastCreated,
			DeltaContent: choice.Get("delta.content").String(),
			FinishReason: choice.Get("finish_reason").String(),
		}
		choice.Get("delta.tool_calls").ForEach(func(_, tc gjson.Result) bool {
			var t gateway.ToolCall
			if json.Unmarshal([]byte(tc.Raw), &t) == nil {
				chunk.ToolCalls = append(chunk.ToolCalls, t)
			}
			return true
		})
		if u := r.Get("usage"); u.Exists() && u.Type == gjson.JSON {
			chunk.Usage = &gateway.Usage{
				InputTokens:  int(u.Get("prompt_tokens").Int()),
				OutputTokens: int(u.Get("completion_tokens").Int()),
				TotalTokens:  int(u.Get("total_tokens").Int()),
			}
		}

		select {
		case out <- chunk:
		case <-ctx.Done():
			return
		}
	}
}
