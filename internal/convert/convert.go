// Package convert implements RequestConverter (C7): translates the OpenAI
// chat-completion and Anthropic messages wire formats into gateway.UnifiedRequest.
// Conversion is total on well-typed input -- unsupported fields become
// warnings, never errors.
package convert

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/plexus-gateway/plexus/internal/gateway"
)

type openAIMessage struct {
	Role       string          `json:"role"`
	Content    json.RawMessage `json:"content"`
	Name       string          `json:"name,omitempty"`
	ToolCalls  json.RawMessage `json:"tool_calls,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
}

type openAIChatRequest struct {
	Model            string          `json:"model"`
	Messages         []openAIMessage `json:"messages"`
	Tools            json.RawMessage `json:"tools,omitempty"`
	ToolChoice       json.RawMessage `json:"tool_choice,omitempty"`
	Temperature      *float64        `json:"temperature,omitempty"`
	TopP             *float64        `json:"top_p,omitempty"`
	PresencePenalty  *float64        `json:"presence_penalty,omitempty"`
	FrequencyPenalty *float64        `json:"frequency_penalty,omitempty"`
	Seed             *int64          `json:"seed,omitempty"`
	MaxTokens        *int            `json:"max_tokens,omitempty"`
	Stop             json.RawMessage `json:"stop,omitempty"`
	Stream           bool            `json:"stream,omitempty"`
	N                *int            `json:"n,omitempty"`
	Logprobs         *bool           `json:"logprobs,omitempty"`
	Functions        json.RawMessage `json:"functions,omitempty"`
}

// FromOpenAIChatRequest parses an OpenAI `/v1/chat/completions` body into a
// UnifiedRequest.
func FromOpenAIChatRequest(body []byte) (gateway.UnifiedRequest, error) {
	var req openAIChatRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return gateway.UnifiedRequest{}, gateway.NewError(gateway.KindInvalidRequest, "malformed chat completion request: "+err.Error())
	}
	if req.Model == "" {
		return gateway.UnifiedRequest{}, gateway.NewError(gateway.KindInvalidRequest, "model is required")
	}

	out := gateway.UnifiedRequest{
		Model:            req.Model,
		Tools:            req.Tools,
		Temperature:      req.Temperature,
		TopP:             req.TopP,
		PresencePenalty:  req.PresencePenalty,
		FrequencyPenalty: req.FrequencyPenalty,
		Seed:             req.Seed,
		MaxOutputTokens:  req.MaxTokens,
		Stream:           req.Stream,
		ClientAPIType:    gateway.ClientAPIChat,
	}

	for _, m := range req.Messages {
		out.Messages = append(out.Messages, gateway.Message{
			Role:       gateway.Role(m.Role),
			Content:    m.Content,
			Name:       m.Name,
			ToolCalls:  m.ToolCalls,
			ToolCallID: m.ToolCallID,
		})
	}

	if len(req.ToolChoice) > 0 {
		out.ToolChoice = &gateway.ToolChoice{Raw: req.ToolChoice}
	}

	if len(req.Stop) > 0 {
		switch {
		case gjson.ParseBytes(req.Stop).IsArray():
			for _, v := range gjson.ParseBytes(req.Stop).Array() {
				out.Stop = append(out.Stop, v.String())
			}
		default:
			var s string
			if json.Unmarshal(req.Stop, &s) == nil {
				out.Stop = []string{s}
			}
		}
	}

	if req.N != nil && *req.N != 1 {
		out.Warnings = append(out.Warnings, fmt.Sprintf("n=%d is not supported; only n=1 is honored", *req.N))
	}
	if req.Logprobs != nil && *req.Logprobs {
		out.Warnings = append(out.Warnings, "logprobs is not supported and was ignored")
	}
	if len(req.Functions) > 0 {
		out.Warnings = append(out.Warnings, "legacy `functions` field is not supported; use `tools` instead")
	}

	return out, nil
}

type anthropicContentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

type anthropicMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

type anthropicRequest struct {
	Model         string             `json:"model"`
	System        json.RawMessage    `json:"system,omitempty"`
	Messages      []anthropicMessage `json:"messages"`
	Tools         json.RawMessage    `json:"tools,omitempty"`
	ToolChoice    json.RawMessage    `json:"tool_choice,omitempty"`
	Temperature   *float64           `json:"temperature,omitempty"`
	TopP          *float64           `json:"top_p,omitempty"`
	TopK          *int               `json:"top_k,omitempty"`
	MaxTokens     int                `json:"max_tokens"`
	StopSequences []string           `json:"stop_sequences,omitempty"`
	Stream        bool               `json:"stream,omitempty"`
}

// FromAnthropicMessagesRequest parses an Anthropic `/v1/messages` body into
// a UnifiedRequest. The top-level `system` field (string or block array) is
// merged into a leading system-role message; `tool_use`/`tool_result`
// content blocks are flattened into OpenAI-shaped tool_calls/tool messages
// so the rest of the pipeline only ever deals with one tool-call shape.
func FromAnthropicMessagesRequest(body []byte) (gateway.UnifiedRequest, error) {
	var req anthropicRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return gateway.UnifiedRequest{}, gateway.NewError(gateway.KindInvalidRequest, "malformed messages request: "+err.Error())
	}
	if req.Model == "" {
		return gateway.UnifiedRequest{}, gateway.NewError(gateway.KindInvalidRequest, "model is required")
	}

	maxTokens := req.MaxTokens
	out := gateway.UnifiedRequest{
		Model:           req.Model,
		Tools:           req.Tools,
		Temperature:     req.Temperature,
		TopP:            req.TopP,
		TopK:            req.TopK,
		MaxOutputTokens: &maxTokens,
		Stop:            req.StopSequences,
		Stream:          req.Stream,
		ClientAPIType:   gateway.ClientAPIMessages,
	}
	if len(req.ToolChoice) > 0 {
		out.ToolChoice = &gateway.ToolChoice{Raw: req.ToolChoice}
	}

	if sysText, ok := anthropicSystemText(req.System); ok && sysText != "" {
		b, _ := json.Marshal(sysText)
		out.Messages = append(out.Messages, gateway.Message{Role: gateway.RoleSystem, Content: b})
	}

	for _, m := range req.Messages {
		msgs, warnings := convertAnthropicContent(gateway.Role(m.Role), m.Content)
		out.Messages = append(out.Messages, msgs...)
		out.Warnings = append(out.Warnings, warnings...)
	}

	return out, nil
}

// anthropicSystemText handles both the plain-string and content-block-array
// forms of the `system` field.
func anthropicSystemText(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s, true
	}
	var blocks []anthropicContentBlock
	if json.Unmarshal(raw, &blocks) == nil {
		var out string
		for _, b := range blocks {
			if b.Type == "text" {
				out += b.Text
			}
		}
		return out, true
	}
	return "", false
}

// convertAnthropicContent flattens one Anthropic message's content (plain
// string or block array) into one or more unified messages: a single
// assistant/user message for text+tool_use, and separate tool-role messages
// for each tool_result block.
func convertAnthropicContent(role gateway.Role, raw json.RawMessage) ([]gateway.Message, []string) {
	var plain string
	if json.Unmarshal(raw, &plain) == nil {
		b, _ := json.Marshal(plain)
		return []gateway.Message{{Role: role, Content: b}}, nil
	}

	var blocks []anthropicContentBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return []gateway.Message{{Role: role, Content: raw}}, []string{"unrecognized message content shape"}
	}

	var text string
	var toolCalls []gateway.ToolCall
	var results []gateway.Message
	var warnings []string

	for _, b := range blocks {
		switch b.Type {
		case "text":
			text += b.Text
		case "tool_use":
			toolCalls = append(toolCalls, gateway.ToolCall{
				ID:   b.ID,
				Type: "function",
				Function: struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				}{Name: b.Name, Arguments: string(b.Input)},
			})
		case "tool_result":
			content := b.Content
			if len(content) == 0 {
				content = json.RawMessage(`""`)
			}
			results = append(results, gateway.Message{Role: gateway.RoleTool, Content: content, ToolCallID: b.ToolUseID})
		case "image":
			warnings = append(warnings, "image content block was dropped; image input is not supported")
		default:
			warnings = append(warnings, "unrecognized content block type: "+b.Type)
		}
	}

	var out []gateway.Message
	if text != "" || len(toolCalls) > 0 {
		msg := gateway.Message{Role: role}
		b, _ := json.Marshal(text)
		msg.Content = b
		if len(toolCalls) > 0 {
			tc, _ := json.Marshal(toolCalls)
			msg.ToolCalls = tc
		}
		out = append(out, msg)
	}
	out = append(out, results...)
	return out, warnings
}
