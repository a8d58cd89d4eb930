package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/plexus-gateway/plexus/internal/cache"
	"github.com/plexus-gateway/plexus/internal/config"
	"github.com/plexus-gateway/plexus/internal/convert"
	"github.com/plexus-gateway/plexus/internal/cooldown"
	"github.com/plexus-gateway/plexus/internal/gateway"
	"github.com/plexus-gateway/plexus/internal/quota"
	"github.com/plexus-gateway/plexus/internal/ratelimit"
	"github.com/plexus-gateway/plexus/internal/router"
	"github.com/plexus-gateway/plexus/internal/streaming"
	"github.com/plexus-gateway/plexus/internal/transform"
	"github.com/plexus-gateway/plexus/internal/usage"
)

// maxProxyAttempts bounds the provider failover loop: each retryable
// invoke failure excludes that provider and re-resolves the alias, up to
// this many tries, so a misbehaving alias with many targets can't loop
// forever chasing a request that every provider rejects alike.
const maxProxyAttempts = 5

// isRetryableFailure reports whether err reflects a transient,
// provider-specific failure worth retrying against a different candidate,
// as opposed to a request-shaped or configuration error every candidate
// would hit alike.
func isRetryableFailure(err error) bool {
	switch gateway.AsClassified(err) {
	case gateway.KindRateLimit, gateway.KindTimeout, gateway.KindServerError, gateway.KindConnectionError:
		return true
	default:
		return false
	}
}

// budgetWindow is the quota window used for per-key max-budget admission,
// a reuse of the (checkerID, windowType) Tracker for a namespace ("key:...")
// distinct from provider-level quota checkers.
const budgetWindow = quota.Monthly

func keyBudgetChecker(keyID string) string { return "key:" + keyID }

// bodyPool reuses buffers for request body reads.
var bodyPool = sync.Pool{New: func() any { return new(bytes.Buffer) }}

const maxRequestBody = 4 << 20

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	buf := bodyPool.Get().(*bytes.Buffer)
	buf.Reset()
	if _, err := buf.ReadFrom(r.Body); err != nil {
		bodyPool.Put(buf)
		writeJSON(w, http.StatusBadRequest, errorResponse("invalid request body"))
		return nil, false
	}
	out := bytes.Clone(buf.Bytes())
	bodyPool.Put(buf)
	return out, true
}

// validateUnified enforces the boundary checks RequestConverter leaves to
// the HTTP layer: at least one message, temperature within [0,2].
func validateUnified(req gateway.UnifiedRequest) error {
	if len(req.Messages) == 0 {
		return gateway.NewError(gateway.KindInvalidRequest, "At least one message is required")
	}
	if req.Temperature != nil && (*req.Temperature < 0 || *req.Temperature > 2) {
		return gateway.NewError(gateway.KindInvalidRequest, "temperature must be between 0 and 2")
	}
	return nil
}

func (s *server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	req, err := convert.FromOpenAIChatRequest(body)
	if err != nil {
		writeUpstreamError(w, r.Context(), err)
		return
	}
	s.serveUnified(w, r, req, convert.ToOpenAIChatResponse, renderOpenAIStream)
}

func (s *server) handleMessages(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	req, err := convert.FromAnthropicMessagesRequest(body)
	if err != nil {
		writeUpstreamError(w, r.Context(), err)
		return
	}
	s.serveUnified(w, r, req, convert.ToAnthropicMessagesResponse, renderAnthropicStream)
}

// renderFn converts a complete UnifiedResponse into the client wire format.
type renderFn func(gateway.UnifiedResponse) []byte

// streamRenderFn drains a UnifiedChunk channel onto an SSE ResponseWriter in
// the client's wire format, returning the final Usage it observed.
type streamRenderFn func(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, ch <-chan gateway.UnifiedChunk) *gateway.Usage

// serveUnified is the shared routing/invoke/transform/cache/usage pipeline
// both client APIs funnel through; only the wire-format render functions differ.
func (s *server) serveUnified(w http.ResponseWriter, r *http.Request, req gateway.UnifiedRequest, render renderFn, streamRender streamRenderFn) {
	identity := gateway.IdentityFromContext(r.Context())
	if err := validateUnified(req); err != nil {
		writeUpstreamError(w, r.Context(), err)
		return
	}
	if identity != nil && !identity.IsModelAllowed(req.Model) {
		writeJSON(w, http.StatusForbidden, errorResponse("model not allowed"))
		return
	}

	estimated := int64(100)
	if s.deps.TokenCounter != nil {
		estimated = int64(s.deps.TokenCounter.EstimateRequest(req.Model, req.Messages))
	}
	if !s.consumeTPM(w, identity, estimated) {
		return
	}

	requestID := gateway.RequestIDFromContext(r.Context())
	start := now()
	excluded := map[string]bool{}

	for attempt := 1; ; attempt++ {
		decision, err := s.deps.Router.ResolveExcluding(req.Model, now(), excluded)
		if err != nil {
			writeUpstreamError(w, r.Context(), err)
			return
		}
		adapter := transform.For(gateway.ProviderType(decision.Provider.Type))
		body, path, err := adapter.BuildRequest(req, decision.CanonicalSlug, decision.Provider)
		if err != nil {
			writeUpstreamError(w, r.Context(), err)
			return
		}

		if req.Stream {
			providerBody, err := s.deps.Invoker.Stream(r.Context(), decision.Provider, path, body)
			if err != nil {
				s.recordFailure(r.Context(), decision, req.Model, requestID, identity, err)
				if attempt < maxProxyAttempts && isRetryableFailure(err) {
					excluded[decision.ProviderID] = true
					continue
				}
				writeUpstreamError(w, r.Context(), err)
				return
			}
			s.serveStream(w, r, req, decision, providerBody, identity, estimated, start, requestID, streamRender)
			return
		}

		if s.deps.Cache != nil && cache.Eligible(req) {
			key := cache.Key(req.Model, decision.CanonicalSlug, req)
			if data, ok := s.deps.Cache.Get(r.Context(), key); ok {
				if s.deps.Metrics != nil {
					s.deps.Metrics.CacheHits.Inc()
				}
				w.Header()["Content-Type"] = jsonCT
				w.WriteHeader(http.StatusOK)
				w.Write(data)
				return
			}
			if s.deps.Metrics != nil {
				s.deps.Metrics.CacheMisses.Inc()
			}
		}

		respBody, err := s.deps.Invoker.Unary(r.Context(), decision.Provider, path, body)
		elapsed := time.Since(start)
		if err != nil {
			s.recordFailure(r.Context(), decision, req.Model, requestID, identity, err)
			if attempt < maxProxyAttempts && isRetryableFailure(err) {
				excluded[decision.ProviderID] = true
				continue
			}
			writeUpstreamError(w, r.Context(), err)
			return
		}
		resp, err := adapter.ParseResponse(respBody)
		if err != nil {
			writeUpstreamError(w, r.Context(), err)
			return
		}
		s.deps.Cooldown.RecordSuccess(decision.ProviderID, now())

		s.adjustTPM(identity, estimated, &resp.Usage)
		s.recordSuccess(r.Context(), decision, req.Model, requestID, identity, false, elapsed, gateway.UnifiedChunk{}, streaming.Signal{Cause: streaming.CauseComplete, HasFirstToken: false}, resp.Usage)

		out := render(resp)
		if s.deps.Cache != nil && cache.Eligible(req) {
			s.deps.Cache.Set(r.Context(), cache.Key(req.Model, decision.CanonicalSlug, req), out, 5*time.Minute)
		}
		w.Header()["Content-Type"] = jsonCT
		w.WriteHeader(http.StatusOK)
		w.Write(out)
		return
	}
}

// serveStream drains an already-open provider stream onto the client. By
// the time this is called the provider connection has succeeded, so there
// is no further failover: SSE headers are about to be written and can't be
// taken back.
func (s *server) serveStream(w http.ResponseWriter, r *http.Request, req gateway.UnifiedRequest, decision router.Decision, providerBody io.ReadCloser, identity *gateway.Identity, estimated int64, start time.Time, requestID string, streamRender streamRenderFn) {
	adapter := transform.For(gateway.ProviderType(decision.Provider.Type))
	defer providerBody.Close()

	flusher, ok := w.(http.Flusher)
	if !ok {
		slog.Error("ResponseWriter does not implement http.Flusher")
		return
	}
	writeSSEHeaders(w)
	flusher.Flush()

	providerCh := make(chan gateway.UnifiedChunk, 16)
	go adapter.WrapStream(r.Context(), providerBody, providerCh)

	tap := streaming.NewTap(streaming.DefaultMaxBytes)
	clientCh := make(chan gateway.UnifiedChunk, 16)

	var sig streaming.Signal
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		sig = tap.Pipe(r.Context(), providerCh, clientCh, func() int64 { return gateway.NowUnixMs() })
		close(clientCh)
	}()

	usagePtr := streamRender(r.Context(), w, flusher, clientCh)
	wg.Wait()

	s.deps.Cooldown.RecordSuccess(decision.ProviderID, now())
	elapsed := time.Since(start)
	var u gateway.Usage
	if usagePtr != nil {
		u = *usagePtr
	}
	s.adjustTPM(identity, estimated, usagePtr)
	s.recordSuccess(r.Context(), decision, req.Model, requestID, identity, true, elapsed, gateway.UnifiedChunk{}, sig, u)
}

// renderOpenAIStream drains ch, emitting OpenAI-format SSE frames, and
// returns the usage carried on the terminal chunk, if any.
func renderOpenAIStream(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, ch <-chan gateway.UnifiedChunk) *gateway.Usage {
	var usage *gateway.Usage
	for chunk := range ch {
		if chunk.Err != nil {
			writeSSEError(w, "upstream stream error")
			continue
		}
		if chunk.Done {
			continue
		}
		if chunk.Usage != nil {
			usage = chunk.Usage
		}
		writeSSEData(w, convert.ToOpenAIChatChunk(chunk))
		flusher.Flush()
	}
	writeSSEDone(w)
	flusher.Flush()
	return usage
}

// renderAnthropicStream drains ch, emitting Anthropic-format SSE events.
func renderAnthropicStream(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, ch <-chan gateway.UnifiedChunk) *gateway.Usage {
	enc := newAnthropicStreamEncoder(w)
	var usage *gateway.Usage
	for chunk := range ch {
		if chunk.Err != nil {
			enc.writeError("upstream stream error")
			flusher.Flush()
			continue
		}
		if chunk.Done {
			continue
		}
		if chunk.Usage != nil {
			usage = chunk.Usage
		}
		enc.write(chunk)
		flusher.Flush()
	}
	enc.finish(usage)
	flusher.Flush()
	return usage
}

func (s *server) getLimiter(id *gateway.Identity) *ratelimit.Limiter {
	if s.deps.RateLimiter == nil || id == nil || id.KeyID == "" {
		return nil
	}
	limits := ratelimit.Limits{RPM: id.RPMLimit, TPM: id.TPMLimit}
	if limits.RPM == 0 {
		limits.RPM = s.deps.DefaultRPM
	}
	if limits.TPM == 0 {
		limits.TPM = s.deps.DefaultTPM
	}
	if limits.RPM == 0 && limits.TPM == 0 {
		return nil
	}
	return s.deps.RateLimiter.GetOrCreate(id.KeyID, limits)
}

func (s *server) consumeTPM(w http.ResponseWriter, identity *gateway.Identity, estimated int64) bool {
	if limiter := s.getLimiter(identity); limiter != nil {
		result := limiter.ConsumeTPM(estimated)
		setTPMHeaders(w, result)
		if !result.Allowed {
			if s.deps.Metrics != nil {
				s.deps.Metrics.RateLimitRejects.WithLabelValues("tpm").Inc()
			}
			writeRateLimitError(w, result)
			return false
		}
	}
	return true
}

func (s *server) adjustTPM(identity *gateway.Identity, estimated int64, u *gateway.Usage) {
	if u == nil {
		return
	}
	if limiter := s.getLimiter(identity); limiter != nil {
		limiter.AdjustTPM(estimated - int64(u.TotalTokens))
	}
}

func (s *server) recordSuccess(ctx context.Context, decision router.Decision, aliasID, requestID string, identity *gateway.Identity, streamed bool, elapsed time.Duration, _ gateway.UnifiedChunk, sig streaming.Signal, u gateway.Usage) {
	keyName := ""
	if identity != nil {
		keyName = identity.KeyName
	}
	snap := s.snapshotModel(aliasID)
	entry := usage.Build(usage.BuildInput{
		RequestID:     requestID,
		ProviderID:    decision.ProviderID,
		AliasID:       aliasID,
		CanonicalSlug: decision.CanonicalSlug,
		KeyName:       keyName,
		Streaming:     streamed,
		StartUnixMs:   gateway.NowUnixMs() - elapsed.Milliseconds(),
		EndUnixMs:     gateway.NowUnixMs(),
		AliasPricing:  snap,
		Usage:         u,
		Signal:        sig,
	})
	if s.deps.Usage != nil {
		s.deps.Usage.RecordSuccess(entry)
	}
	if s.deps.Metrics != nil {
		s.deps.Metrics.TokensProcessed.WithLabelValues(decision.ProviderID, aliasID, "input").Add(float64(u.InputTokens))
		s.deps.Metrics.TokensProcessed.WithLabelValues(decision.ProviderID, aliasID, "output").Add(float64(u.OutputTokens))
		s.deps.Metrics.CostTotal.WithLabelValues(decision.ProviderID, aliasID).Add(entry.Cost)
	}
	if s.deps.Aggregator != nil {
		s.deps.Aggregator.Record(decision.ProviderID, aliasID, true, elapsed.Milliseconds(), entry.ProviderTTFTMs, entry.HasTTFT, entry.Cost, u.TotalTokens, now())
	}
	if s.deps.Quota != nil && identity != nil && identity.MaxBudgetUSD > 0 {
		s.deps.Quota.ObserveUsage(ctx, keyBudgetChecker(identity.KeyID), budgetWindow, entry.Cost, 0, now())
	}
	if decision.Provider.QuotaCheckerRef != "" && s.deps.Quota != nil {
		s.deps.Quota.ObserveUsage(ctx, decision.Provider.QuotaCheckerRef, quota.Daily, float64(u.TotalTokens), 0, now())
	}
}

func (s *server) recordFailure(ctx context.Context, decision router.Decision, aliasID, requestID string, identity *gateway.Identity, err error) {
	kind := gateway.AsClassified(err)
	reason := classifyCooldownReason(kind)
	var retryAfter int64
	var ge *gateway.Error
	if errors.As(err, &ge) {
		retryAfter = ge.RetryAfterSec
	}
	s.deps.Cooldown.RecordFailure(decision.ProviderID, reason, int(statusFor(kind)), retryAfter, err.Error(), now())

	keyName := ""
	if identity != nil {
		keyName = identity.KeyName
	}
	if s.deps.Usage != nil {
		s.deps.Usage.RecordError(usage.ErrorEntry{
			RequestID:  requestID,
			ProviderID: decision.ProviderID,
			AliasID:    aliasID,
			KeyName:    keyName,
			UnixMs:     gateway.NowUnixMs(),
			Kind:       string(kind),
			Message:    err.Error(),
		})
	}
	if s.deps.Aggregator != nil {
		s.deps.Aggregator.Record(decision.ProviderID, aliasID, false, 0, 0, false, 0, 0, now())
	}
}

func (s *server) snapshotModel(aliasID string) *config.PricingEntry {
	if s.deps.ConfigStore == nil {
		return nil
	}
	alias, ok := s.deps.ConfigStore.Current().Models[aliasID]
	if !ok {
		return nil
	}
	return alias.Pricing
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func errorResponse(msg string) apiError {
	var e apiError
	e.Error.Message = msg
	e.Error.Type = "invalid_request_error"
	return e
}

func writeUpstreamError(w http.ResponseWriter, ctx context.Context, err error) {
	status := errorStatus(err)
	slog.LogAttrs(ctx, slog.LevelError, "request error",
		slog.Int("status", status),
		slog.String("error", err.Error()),
	)
	writeJSON(w, status, errorResponse(err.Error()))
}

func errorStatus(err error) int {
	var ge *gateway.Error
	if errors.As(err, &ge) {
		return ge.HTTPStatus()
	}
	return http.StatusInternalServerError
}

func statusFor(kind gateway.Kind) int {
	return gateway.NewError(kind, "").HTTPStatus()
}

func classifyCooldownReason(kind gateway.Kind) cooldown.Reason {
	switch kind {
	case gateway.KindRateLimit:
		return cooldown.RateLimit
	case gateway.KindAuthError:
		return cooldown.AuthError
	case gateway.KindTimeout:
		return cooldown.Timeout
	case gateway.KindServerError:
		return cooldown.ServerError
	default:
		return cooldown.ConnectionError
	}
}

var jsonCT = []string{"application/json"}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("failed to encode response", "error", err)
		return
	}
	w.Header()["Content-Type"] = jsonCT
	w.WriteHeader(status)
	w.Write(data)
}
