package invoke

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plexus-gateway/plexus/internal/config"
	"github.com/plexus-gateway/plexus/internal/gateway"
)

func TestUnarySuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	inv := New()
	provider := config.ProviderRecord{ID: "p1", Type: "openai", BaseURL: srv.URL, APIKey: "sk-test"}
	body, err := inv.Unary(context.Background(), provider, "/v1/chat/completions", []byte(`{}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(body))
}

func TestUnaryClassifiesRateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "42")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":"rate limited"}`))
	}))
	defer srv.Close()

	inv := New()
	provider := config.ProviderRecord{ID: "p1", Type: "openai", BaseURL: srv.URL, APIKey: "sk-test"}
	_, err := inv.Unary(context.Background(), provider, "/v1/chat/completions", []byte(`{}`))

	var ge *gateway.Error
	require.True(t, errors.As(err, &ge))
	assert.Equal(t, gateway.KindRateLimit, ge.Kind)
	assert.Equal(t, int64(42), ge.RetryAfterSec)
}

func TestUnaryClassifiesAuthError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	inv := New()
	provider := config.ProviderRecord{ID: "p1", Type: "anthropic", BaseURL: srv.URL, APIKey: "sk-test"}
	_, err := inv.Unary(context.Background(), provider, "/v1/messages", []byte(`{}`))

	var ge *gateway.Error
	require.True(t, errors.As(err, &ge))
	assert.Equal(t, gateway.KindAuthError, ge.Kind)
}

func TestAnthropicAuthUsesXAPIKeyHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "sk-ant", r.Header.Get("x-api-key"))
		assert.Equal(t, "", r.Header.Get("Authorization"))
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	inv := New()
	provider := config.ProviderRecord{ID: "p1", Type: "anthropic", BaseURL: srv.URL, APIKey: "sk-ant"}
	_, err := inv.Unary(context.Background(), provider, "/v1/messages", []byte(`{}`))
	require.NoError(t, err)
}

func TestStreamReturnsColdBodyOnSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("data: {}\n\n"))
	}))
	defer srv.Close()

	inv := New()
	provider := config.ProviderRecord{ID: "p1", Type: "openai", BaseURL: srv.URL, APIKey: "sk-test"}
	body, err := inv.Stream(context.Background(), provider, "/v1/chat/completions", []byte(`{}`))
	require.NoError(t, err)
	defer body.Close()
	b, _ := io.ReadAll(body)
	assert.Contains(t, string(b), "data: {}")
}

func TestStreamHeaderFailureClassified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	inv := New()
	provider := config.ProviderRecord{ID: "p1", Type: "openai", BaseURL: srv.URL, APIKey: "sk-test"}
	_, err := inv.Stream(context.Background(), provider, "/v1/chat/completions", []byte(`{}`))

	var ge *gateway.Error
	require.True(t, errors.As(err, &ge))
	assert.Equal(t, gateway.KindServerError, ge.Kind)
}
