package server_test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/plexus-gateway/plexus/internal/cache"
	"github.com/plexus-gateway/plexus/internal/gateway"
	"github.com/plexus-gateway/plexus/internal/server"
	"github.com/plexus-gateway/plexus/internal/testutil"
)

func newTestServer(t *testing.T, adminKey string, upstreamURL string) http.Handler {
	t.Helper()
	store := testutil.WriteConfigStore(t, testutil.SingleProviderConfig(upstreamURL, adminKey))
	deps := testutil.BaseDeps(t, store, testutil.FakeAuth{})
	return server.New(deps)
}

func TestHealthAndReady(t *testing.T) {
	h := newTestServer(t, "admin-secret", "http://unused.invalid")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /health = %d, want 200", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /ready = %d, want 200", rec.Code)
	}
}

func TestChatCompletionsHappyPath(t *testing.T) {
	upstream := testutil.FakeOpenAIUpstream()
	defer upstream.Close()
	h := newTestServer(t, "admin-secret", upstream.URL)

	body := strings.NewReader(`{"model":"gpt-test","messages":[{"role":"user","content":"hi"}]}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", body)
	req.Header.Set("Authorization", "Bearer client-key")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	choices, _ := resp["choices"].([]any)
	if len(choices) == 0 {
		t.Fatalf("expected at least one choice, got %v", resp)
	}
}

func TestChatCompletionsRejectsEmptyMessages(t *testing.T) {
	upstream := testutil.FakeOpenAIUpstream()
	defer upstream.Close()
	h := newTestServer(t, "admin-secret", upstream.URL)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(`{"model":"gpt-test","messages":[]}`))
	req.Header.Set("Authorization", "Bearer client-key")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400; body = %s", rec.Code, rec.Body.String())
	}
}

func TestChatCompletionsStream(t *testing.T) {
	upstream := testutil.FakeOpenAIUpstream()
	defer upstream.Close()
	h := newTestServer(t, "admin-secret", upstream.URL)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(`{"model":"gpt-test","messages":[{"role":"user","content":"hi"}],"stream":true}`))
	req.Header.Set("Authorization", "Bearer client-key")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	out := rec.Body.String()
	if !strings.Contains(out, "data: ") || !strings.Contains(out, "[DONE]") {
		t.Fatalf("expected SSE frames terminated by [DONE], got: %s", out)
	}
}

func TestChatCompletionsCacheHit(t *testing.T) {
	var calls int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"id": "chatcmpl-fake",
			"model": "gpt-test-canonical",
			"created": 1700000000,
			"choices": [{"index":0,"message":{"role":"assistant","content":"hello"},"finish_reason":"stop"}],
			"usage": {"prompt_tokens": 1, "completion_tokens": 1, "total_tokens": 2}
		}`)
	}))
	defer upstream.Close()

	store := testutil.WriteConfigStore(t, testutil.SingleProviderConfig(upstream.URL, "admin-secret"))
	deps := testutil.BaseDeps(t, store, testutil.FakeAuth{})
	respCache, err := cache.NewMemory(100, time.Minute)
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	deps.Cache = respCache
	h := server.New(deps)

	body := `{"model":"gpt-test","temperature":0,"messages":[{"role":"user","content":"hi"}]}`
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
		req.Header.Set("Authorization", "Bearer client-key")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, body = %s", i, rec.Code, rec.Body.String())
		}
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Fatalf("expected upstream hit once across 2 identical requests, got %d calls", n)
	}
}

func TestChatCompletionsFailsOverToSecondProvider(t *testing.T) {
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprint(w, `{"error":{"message":"upstream unavailable"}}`)
	}))
	defer broken.Close()
	healthy := testutil.FakeOpenAIUpstream()
	defer healthy.Close()

	store := testutil.WriteConfigStore(t, testutil.TwoProviderConfig(broken.URL, healthy.URL, "admin-secret"))
	deps := testutil.BaseDeps(t, store, testutil.FakeAuth{})
	h := server.New(deps)

	for i := 0; i < 20; i++ {
		req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(`{"model":"gpt-test","messages":[{"role":"user","content":"hi"}]}`))
		req.Header.Set("Authorization", "Bearer client-key")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("attempt %d: status = %d, want 200 via failover; body = %s", i, rec.Code, rec.Body.String())
		}
	}
}

func TestModelsListRespectsAllowlist(t *testing.T) {
	upstream := testutil.FakeOpenAIUpstream()
	defer upstream.Close()
	store := testutil.WriteConfigStore(t, testutil.SingleProviderConfig(upstream.URL, "admin-secret"))
	deps := testutil.BaseDeps(t, store, testutil.FakeAuth{Identity: &gateway.Identity{KeyID: "k", AllowedModels: []string{"other-model"}}})
	h := server.New(deps)

	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	req.Header.Set("Authorization", "Bearer client-key")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var resp struct {
		Data []map[string]any `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Data) != 0 {
		t.Fatalf("expected gpt-test filtered out, got %v", resp.Data)
	}
}

func TestMessagesHappyPath(t *testing.T) {
	upstream := testutil.FakeAnthropicUpstream()
	defer upstream.Close()
	store := testutil.WriteConfigStore(t, testutil.SingleAnthropicProviderConfig(upstream.URL, "admin-secret"))
	deps := testutil.BaseDeps(t, store, testutil.FakeAuth{})
	h := server.New(deps)

	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(`{"model":"claude-test","max_tokens":64,"messages":[{"role":"user","content":"hi"}]}`))
	req.Header.Set("Authorization", "Bearer client-key")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["type"] != "message" {
		t.Fatalf("expected Anthropic message envelope, got %v", resp)
	}
}

func TestAdminSurfaceRequiresBearerToken(t *testing.T) {
	h := newTestServer(t, "admin-secret", "http://unused.invalid")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v0/config/status", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/v0/config/status", nil)
	req.Header.Set("Authorization", "Bearer admin-secret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body = %s", rec.Code, rec.Body.String())
	}
}

func TestAdminConfigReload(t *testing.T) {
	upstream := testutil.FakeOpenAIUpstream()
	defer upstream.Close()
	h := newTestServer(t, "admin-secret", upstream.URL)

	req := httptest.NewRequest(http.MethodPost, "/v0/config/reload", nil)
	req.Header.Set("Authorization", "Bearer admin-secret")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}
