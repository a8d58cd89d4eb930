package testutil

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
)

// FakeOpenAIUpstream starts an httptest.Server answering POST
// /v1/chat/completions with a canned non-streaming response, or an SSE
// stream of two content deltas, the second also carrying finish_reason and
// usage, then [DONE], when the request body contains "stream":true.
func FakeOpenAIUpstream() *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		buf, _ := io.ReadAll(r.Body)
		if strings.Contains(string(buf), `"stream":true`) {
			writeFakeOpenAIStream(w)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"id": "chatcmpl-fake",
			"model": "gpt-test-canonical",
			"created": 1700000000,
			"choices": [{"index":0,"message":{"role":"assistant","content":"hello from upstream"},"finish_reason":"stop"}],
			"usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
		}`)
	})
	return httptest.NewServer(mux)
}

// FakeAnthropicUpstream starts an httptest.Server answering POST
// /v1/messages with a canned Anthropic-shaped response.
func FakeAnthropicUpstream() *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/messages", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"id": "msg-fake",
			"model": "claude-test-canonical",
			"type": "message",
			"role": "assistant",
			"content": [{"type": "text", "text": "hello from anthropic upstream"}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 8, "output_tokens": 4}
		}`)
	})
	return httptest.NewServer(mux)
}

func writeFakeOpenAIStream(w http.ResponseWriter) {
	flusher := w.(http.Flusher)
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	frames := []string{
		`{"id":"chatcmpl-fake","model":"gpt-test-canonical","created":1700000000,"choices":[{"index":0,"delta":{"content":"hel"},"finish_reason":null}]}`,
		`{"id":"chatcmpl-fake","model":"gpt-test-canonical","created":1700000000,"choices":[{"index":0,"delta":{"content":"lo"},"finish_reason":"stop"}],"usage":{"prompt_tokens":10,"completion_tokens":2,"total_tokens":12}}`,
	}
	for _, f := range frames {
		fmt.Fprintf(w, "data: %s\n\n", f)
		flusher.Flush()
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}
