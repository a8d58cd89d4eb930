package server_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/plexus-gateway/plexus/internal/server"
	"github.com/plexus-gateway/plexus/internal/testutil"
)

func TestNativeMessagesPassthrough(t *testing.T) {
	upstream := testutil.FakeAnthropicUpstream()
	defer upstream.Close()
	store := testutil.WriteConfigStore(t, testutil.SingleAnthropicProviderConfig(upstream.URL, "admin-secret"))
	deps := testutil.BaseDeps(t, store, testutil.FakeAuth{})
	h := server.New(deps)

	req := httptest.NewRequest(http.MethodPost, "/v1/native/messages", strings.NewReader(`{"model":"claude-test","max_tokens":64,"messages":[{"role":"user","content":"hi"}]}`))
	req.Header.Set("X-Api-Key", "client-key")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "hello from anthropic upstream") {
		t.Fatalf("expected raw upstream body passed through unchanged, got: %s", rec.Body.String())
	}
}

func TestNativeMessagesRejectsWrongProviderType(t *testing.T) {
	upstream := testutil.FakeOpenAIUpstream()
	defer upstream.Close()
	store := testutil.WriteConfigStore(t, testutil.SingleProviderConfig(upstream.URL, "admin-secret"))
	deps := testutil.BaseDeps(t, store, testutil.FakeAuth{})
	h := server.New(deps)

	req := httptest.NewRequest(http.MethodPost, "/v1/native/messages", strings.NewReader(`{"model":"gpt-test","messages":[{"role":"user","content":"hi"}]}`))
	req.Header.Set("X-Api-Key", "client-key")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502, body = %s", rec.Code, rec.Body.String())
	}
}
