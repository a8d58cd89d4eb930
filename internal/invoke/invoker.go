// Package invoke implements ProviderInvoker (C9): the per-provider-type HTTP
// client that performs a unary or streaming call given a RouteDecision and a
// pre-built provider request body. It never retries internally -- failover
// across candidates is the Router's job, driven by the classified error this
// package returns.
package invoke

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/dnscache"

	"github.com/plexus-gateway/plexus/internal/config"
	"github.com/plexus-gateway/plexus/internal/gateway"
)

// Invoker performs HTTP calls against upstream providers.
type Invoker struct {
	client *http.Client
}

// New builds an Invoker sharing one tuned transport and DNS cache across all
// provider calls.
func New() *Invoker {
	resolver := &dnscache.Resolver{}
	return &Invoker{client: &http.Client{Transport: NewTransport(resolver), Timeout: 0}}
}

func setAuth(req *http.Request, provider config.ProviderRecord) {
	switch gateway.ProviderType(provider.Type) {
	case gateway.ProviderAnthropic:
		req.Header.Set("x-api-key", provider.APIKey)
		req.Header.Set("anthropic-version", "2023-06-01")
	default:
		req.Header.Set("Authorization", "Bearer "+provider.APIKey)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range provider.Headers {
		req.Header.Set(k, v)
	}
}

func endpoint(provider config.ProviderRecord, path string) string {
	return strings.TrimRight(provider.BaseURL, "/") + path
}

// classify turns a transport-level or HTTP-level failure into a
// *gateway.Error carrying one of the five cooldown reason kinds.
func classify(provider config.ProviderRecord, err error) error {
	kind := gateway.AsClassified(err)
	ge := gateway.NewError(kind, fmt.Sprintf("%s: %v", provider.ID, err))
	var ae *APIError
	if as, ok := err.(*APIError); ok {
		ae = as
	}
	if ae != nil && ae.RetryAfter > 0 {
		ge = ge.WithRetryAfter(ae.RetryAfter)
	}
	return ge
}

// Unary performs a non-streaming provider call. On a non-2xx response it
// returns a classified error built from the response body and status.
func (inv *Invoker) Unary(ctx context.Context, provider config.ProviderRecord, path string, body []byte) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint(provider, path), bytes.NewReader(body))
	if err != nil {
		return nil, gateway.NewError(gateway.KindInternalError, "build request: "+err.Error())
	}
	setAuth(httpReq, provider)

	resp, err := inv.client.Do(httpReq)
	if err != nil {
		return nil, classify(provider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, classify(provider, parseAPIError(provider.ID, resp))
	}

	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classify(provider, err)
	}
	return out, nil
}

// Stream performs a streaming provider call and returns a cold body reader:
// the upstream connection is established (headers read) by this call, but
// no SSE parsing happens here -- the caller (internal/transform) owns that.
// A header-read failure is classified the same as a body failure, per
// SPEC_FULL.md §4.6.
func (inv *Invoker) Stream(ctx context.Context, provider config.ProviderRecord, path string, body []byte) (io.ReadCloser, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint(provider, path), bytes.NewReader(body))
	if err != nil {
		return nil, gateway.NewError(gateway.KindInternalError, "build request: "+err.Error())
	}
	setAuth(httpReq, provider)
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := inv.client.Do(httpReq)
	if err != nil {
		return nil, classify(provider, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, classify(provider, parseAPIError(provider.ID, resp))
	}
	return resp.Body, nil
}

// HealthCheck performs a lightweight GET against path, used by the admin
// health surface; it does not participate in cooldown/quota accounting.
func (inv *Invoker) HealthCheck(ctx context.Context, provider config.ProviderRecord, path string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint(provider, path), nil)
	if err != nil {
		return err
	}
	setAuth(httpReq, provider)
	resp, err := inv.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return parseAPIError(provider.ID, resp)
	}
	return nil
}
