package server

import (
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/tidwall/gjson"

	"github.com/plexus-gateway/plexus/internal/config"
	"github.com/plexus-gateway/plexus/internal/gateway"
)

// mountNativeRoutes registers the raw passthrough routes that skip
// UnifiedRequest conversion entirely: the client wire format and the
// resolved provider's wire format coincide, so the body goes through
// unmodified. Both groups still run through authenticate and rateLimit,
// via normalizeAuth mapping the provider-specific auth header onto
// Authorization: Bearer first.
func (s *server) mountNativeRoutes(r chi.Router) {
	if s.deps.Router == nil || s.deps.Invoker == nil {
		return
	}

	r.Group(func(r chi.Router) {
		r.Use(normalizeAuth("X-Api-Key"))
		r.Use(s.authenticate)
		r.Use(s.rateLimit)
		r.Post("/v1/native/messages", s.handleNativePassthrough(gateway.ProviderAnthropic, "/v1/messages"))
	})

	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)
		r.Use(s.rateLimit)
		r.Post("/v1/compat/*", s.handleCompatPassthrough())
	})
}

// handleNativePassthrough forwards the raw request body to a provider of the
// given type unmodified, extracting the target model from the body's "model"
// field to drive routing. Used for the Anthropic-native /v1/messages variant
// that bypasses conversion.
func (s *server) handleNativePassthrough(providerType gateway.ProviderType, path string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, ok := readBody(w, r)
		if !ok {
			return
		}
		model := gjson.GetBytes(body, "model").String()
		if model == "" {
			writeJSON(w, http.StatusBadRequest, errorResponse("model not specified"))
			return
		}

		identity := gateway.IdentityFromContext(r.Context())
		if identity != nil && !identity.IsModelAllowed(model) {
			writeJSON(w, http.StatusForbidden, errorResponse("model not allowed"))
			return
		}

		decision, err := s.deps.Router.Resolve(model, now())
		if err != nil {
			writeUpstreamError(w, r.Context(), err)
			return
		}
		if gateway.ProviderType(decision.Provider.Type) != providerType {
			writeJSON(w, http.StatusBadGateway, errorResponse("resolved provider does not support native passthrough for this model"))
			return
		}

		if gjson.GetBytes(body, "stream").Bool() {
			s.streamPassthrough(w, r, decision.Provider, path, body)
			return
		}

		respBody, err := s.deps.Invoker.Unary(r.Context(), decision.Provider, path, body)
		if err != nil {
			s.recordFailure(r.Context(), decision, model, gateway.RequestIDFromContext(r.Context()), identity, err)
			writeUpstreamError(w, r.Context(), err)
			return
		}
		s.deps.Cooldown.RecordSuccess(decision.ProviderID, now())
		w.Header()["Content-Type"] = jsonCT
		w.WriteHeader(http.StatusOK)
		w.Write(respBody)
	}
}

// handleCompatPassthrough forwards arbitrary paths under /v1/compat/ to an
// openai-compatible provider chosen by the "model" field in the body, with
// no conversion in either direction.
func (s *server) handleCompatPassthrough() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, ok := readBody(w, r)
		if !ok {
			return
		}
		model := gjson.GetBytes(body, "model").String()
		if model == "" {
			writeJSON(w, http.StatusBadRequest, errorResponse("model not specified"))
			return
		}

		identity := gateway.IdentityFromContext(r.Context())
		if identity != nil && !identity.IsModelAllowed(model) {
			writeJSON(w, http.StatusForbidden, errorResponse("model not allowed"))
			return
		}

		decision, err := s.deps.Router.Resolve(model, now())
		if err != nil {
			writeUpstreamError(w, r.Context(), err)
			return
		}
		if gateway.ProviderType(decision.Provider.Type) != gateway.ProviderOpenAICompat {
			writeJSON(w, http.StatusBadGateway, errorResponse("resolved provider is not openai-compatible"))
			return
		}

		path := "/" + strings.TrimPrefix(chi.URLParam(r, "*"), "/")

		if gjson.GetBytes(body, "stream").Bool() {
			s.streamPassthrough(w, r, decision.Provider, path, body)
			return
		}

		respBody, err := s.deps.Invoker.Unary(r.Context(), decision.Provider, path, body)
		if err != nil {
			s.recordFailure(r.Context(), decision, model, gateway.RequestIDFromContext(r.Context()), identity, err)
			writeUpstreamError(w, r.Context(), err)
			return
		}
		s.deps.Cooldown.RecordSuccess(decision.ProviderID, now())
		w.Header()["Content-Type"] = jsonCT
		w.WriteHeader(http.StatusOK)
		w.Write(respBody)
	}
}

// streamPassthrough copies a provider's raw SSE body to the client unchanged.
func (s *server) streamPassthrough(w http.ResponseWriter, r *http.Request, provider config.ProviderRecord, path string, body []byte) {
	upstream, err := s.deps.Invoker.Stream(r.Context(), provider, path, body)
	if err != nil {
		writeUpstreamError(w, r.Context(), err)
		return
	}
	defer upstream.Close()

	flusher, ok := w.(http.Flusher)
	if !ok {
		slog.Error("ResponseWriter does not implement http.Flusher")
		return
	}
	writeSSEHeaders(w)
	flusher.Flush()

	buf := make([]byte, 4096)
	for {
		n, readErr := upstream.Read(buf)
		if n > 0 {
			w.Write(buf[:n])
			flusher.Flush()
		}
		if readErr != nil {
			if readErr != io.EOF {
				slog.LogAttrs(r.Context(), slog.LevelError, "native passthrough stream error", slog.String("error", readErr.Error()))
			}
			return
		}
	}
}

// normalizeAuth copies a provider-specific auth header to Authorization:
// Bearer so the existing authenticate middleware works unchanged.
func normalizeAuth(header string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") == "" {
				if key := r.Header.Get(header); key != "" {
					r.Header.Set("Authorization", "Bearer "+key)
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
