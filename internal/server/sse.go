package server

import (
	"encoding/json"
	"net/http"

	"github.com/plexus-gateway/plexus/internal/gateway"
)

var (
	sseDataPrefix = []byte("data: ")
	sseNewline    = []byte("\n\n")
	sseDone       = []byte("data: [DONE]\n\n")
)

var (
	sseHeaders      = []string{"text/event-stream"}
	sseCacheControl = []string{"no-cache"}
	sseConnection   = []string{"keep-alive"}
	sseAccelBuf     = []string{"no"}
)

// writeSSEHeaders sets the response headers for an SSE stream.
func writeSSEHeaders(w http.ResponseWriter) {
	h := w.Header()
	h["Content-Type"] = sseHeaders
	h["Cache-Control"] = sseCacheControl
	h["Connection"] = sseConnection
	h["X-Accel-Buffering"] = sseAccelBuf
	w.WriteHeader(http.StatusOK)
}

// writeSSEData writes a single SSE data frame: "data: <payload>\n\n".
func writeSSEData(w http.ResponseWriter, data []byte) {
	w.Write(sseDataPrefix)
	w.Write(data)
	w.Write(sseNewline)
}

// writeSSEDone writes the stream termination sentinel: "data: [DONE]\n\n".
func writeSSEDone(w http.ResponseWriter) {
	w.Write(sseDone)
}

// writeSSEError writes an SSE error event signalling a stream failure.
func writeSSEError(w http.ResponseWriter, msg string) {
	w.Write([]byte("event: error\ndata: "))
	w.Write([]byte(`{"error":{"message":"`))
	w.Write([]byte(msg))
	w.Write([]byte(`","type":"stream_error"}}`))
	w.Write(sseNewline)
}

// writeNamedEvent writes one named SSE event frame: "event: <name>\ndata:
// <json>\n\n", the shape Anthropic's messages API and the admin config
// change stream both use.
func writeNamedEvent(w http.ResponseWriter, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	w.Write([]byte("event: "))
	w.Write([]byte(event))
	w.Write([]byte("\ndata: "))
	w.Write(data)
	w.Write(sseNewline)
}

// anthropicStreamEncoder translates the UnifiedChunk stream into Anthropic's
// message_start/content_block_delta/message_stop event sequence. Anthropic
// clients expect the envelope events even though Plexus only ever emits one
// text content block per response.
type anthropicStreamEncoder struct {
	w            http.ResponseWriter
	started      bool
	blockStarted bool
	id           string
	model        string
}

func newAnthropicStreamEncoder(w http.ResponseWriter) *anthropicStreamEncoder {
	return &anthropicStreamEncoder{w: w}
}

func (e *anthropicStreamEncoder) write(c gateway.UnifiedChunk) {
	if !e.started {
		e.started = true
		e.id, e.model = c.ID, c.Model
		writeNamedEvent(e.w, "message_start", map[string]any{
			"type": "message_start",
			"message": map[string]any{
				"id":      e.id,
				"type":    "message",
				"role":    "assistant",
				"model":   e.model,
				"content": []any{},
				"usage":   map[string]any{"input_tokens": 0, "output_tokens": 0},
			},
		})
	}
	if c.DeltaContent != "" {
		if !e.blockStarted {
			e.blockStarted = true
			writeNamedEvent(e.w, "content_block_start", map[string]any{
				"type":  "content_block_start",
				"index": 0,
				"content_block": map[string]any{
					"type": "text",
					"text": "",
				},
			})
		}
		writeNamedEvent(e.w, "content_block_delta", map[string]any{
			"type":  "content_block_delta",
			"index": 0,
			"delta": map[string]any{"type": "text_delta", "text": c.DeltaContent},
		})
	}
	if c.FinishReason != "" {
		if e.blockStarted {
			writeNamedEvent(e.w, "content_block_stop", map[string]any{"type": "content_block_stop", "index": 0})
		}
		writeNamedEvent(e.w, "message_delta", map[string]any{
			"type":  "message_delta",
			"delta": map[string]any{"stop_reason": mapFinishReasonToAnthropicStop(c.FinishReason)},
		})
	}
}

// finish emits the terminal message_stop event with usage, if any was seen.
func (e *anthropicStreamEncoder) finish(u *gateway.Usage) {
	payload := map[string]any{"type": "message_stop"}
	if u != nil {
		payload["amazon-bedrock-invocationMetrics"] = map[string]any{
			"inputTokenCount":  u.InputTokens,
			"outputTokenCount": u.OutputTokens,
		}
	}
	writeNamedEvent(e.w, "message_stop", payload)
}

func (e *anthropicStreamEncoder) writeError(msg string) {
	writeNamedEvent(e.w, "error", map[string]any{
		"type":  "error",
		"error": map[string]any{"type": "api_error", "message": msg},
	})
}

func mapFinishReasonToAnthropicStop(reason string) string {
	switch reason {
	case "length":
		return "max_tokens"
	case "tool_calls":
		return "tool_use"
	default:
		return "end_turn"
	}
}
