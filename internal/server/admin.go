package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/plexus-gateway/plexus/internal/config"
)

// maxAdminBody is the maximum allowed admin request body size (1 MB).
const maxAdminBody = 1 << 20

// decodeJSON limits body size, decodes JSON into v, and writes a 400 on
// error. Returns true if decoding succeeded.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxAdminBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse("invalid request body"))
		return false
	}
	return true
}

type configResponse struct {
	Config       string `json:"config"`
	LastModified string `json:"lastModified"`
	Checksum     string `json:"checksum"`
}

// handleGetConfig returns the live config's backing YAML alongside its
// checksum and load time. Raw YAML text isn't tracked on Snapshot, so this
// re-reads the backing file -- the same source Apply consults for a bare
// reload.
func (s *server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	snap := s.deps.ConfigStore.Current()
	checksum, _ := s.deps.ConfigStore.Checksum()
	raw, err := s.deps.ConfigStore.Raw()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse("failed to read config"))
		return
	}
	writeJSON(w, http.StatusOK, configResponse{
		Config:       string(raw),
		LastModified: snap.LoadedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		Checksum:     checksum,
	})
}

type postConfigRequest struct {
	Config   string `json:"config"`
	Validate bool   `json:"validate"`
	Reload   bool   `json:"reload"`
}

// handlePostConfig validates (and optionally rewrites + hot-swaps) the
// config, following Store.Apply's atomic-rewrite semantics.
func (s *server) handlePostConfig(w http.ResponseWriter, r *http.Request) {
	var req postConfigRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	event, err := s.deps.ConfigStore.Apply(r.Context(), config.ReloadRequest{
		Config:   req.Config,
		Validate: req.Validate,
		Reload:   req.Reload,
	})
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse(err.Error()))
		return
	}
	if event == nil {
		writeJSON(w, http.StatusOK, map[string]any{"applied": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"applied":         true,
		"version":         event.Version,
		"checksum":        event.NewChecksum,
		"changedSections": event.ChangedSections,
	})
}

// handleConfigStatus reports the current checksum and snapshot version.
func (s *server) handleConfigStatus(w http.ResponseWriter, r *http.Request) {
	checksum, version := s.deps.ConfigStore.Checksum()
	writeJSON(w, http.StatusOK, map[string]any{
		"checksum": checksum,
		"version":  version,
	})
}

// handleConfigReload re-reads the backing file and hot-swaps the snapshot,
// without rewriting it first.
func (s *server) handleConfigReload(w http.ResponseWriter, r *http.Request) {
	event, err := s.deps.ConfigStore.Apply(r.Context(), config.ReloadRequest{Reload: true})
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse(err.Error()))
		return
	}
	if event == nil {
		writeJSON(w, http.StatusOK, map[string]any{"applied": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"applied":         true,
		"version":         event.Version,
		"checksum":        event.NewChecksum,
		"changedSections": event.ChangedSections,
	})
}

// handleConfigEvents streams config_change events as they're broadcast by
// ConfigStore, for admin dashboards to follow hot-reloads live.
func (s *server) handleConfigEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, errorResponse("streaming unsupported"))
		return
	}
	ch, unsubscribe := s.deps.ConfigStore.Subscribe()
	defer unsubscribe()

	writeSSEHeaders(w)
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			writeNamedEvent(w, "config_change", event)
			flusher.Flush()
		}
	}
}

// handleGetPerformance returns the rolling per-(provider,model) aggregate,
// optionally filtered by provider/model query params.
func (s *server) handleGetPerformance(w http.ResponseWriter, r *http.Request) {
	if s.deps.Aggregator == nil {
		writeJSON(w, http.StatusOK, map[string]any{"data": []any{}})
		return
	}
	q := r.URL.Query()
	provider := q.Get("provider")
	model := q.Get("model")
	excludeUnknown, _ := strconv.ParseBool(q.Get("excludeUnknownProvider"))
	var enabled map[string]bool
	if raw := q.Get("enabledProviders"); raw != "" {
		enabled = make(map[string]bool)
		for _, id := range strings.Split(raw, ",") {
			enabled[strings.TrimSpace(id)] = true
		}
	}

	snaps := s.deps.Aggregator.Snapshot(now())
	data := make([]any, 0, len(snaps))
	for _, snap := range snaps {
		if provider != "" && snap.ProviderID != provider {
			continue
		}
		if model != "" && snap.Model != model {
			continue
		}
		if excludeUnknown && snap.ProviderID == "" {
			continue
		}
		if enabled != nil && !enabled[snap.ProviderID] {
			continue
		}
		data = append(data, snap)
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": data})
}

// handleDeletePerformance clears rolling aggregates for a model (or every
// aggregate, if no model is given).
func (s *server) handleDeletePerformance(w http.ResponseWriter, r *http.Request) {
	if s.deps.Aggregator != nil {
		s.deps.Aggregator.Reset(r.URL.Query().Get("model"))
	}
	w.WriteHeader(http.StatusNoContent)
}
