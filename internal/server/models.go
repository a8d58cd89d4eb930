package server

import (
	"net/http"

	"github.com/plexus-gateway/plexus/internal/gateway"
)

// handleListModels returns every configured alias in OpenAI's model-list
// shape, enriched with the provider target(s) and pricing Plexus resolves it
// against so clients can introspect routing without a separate endpoint.
func (s *server) handleListModels(w http.ResponseWriter, r *http.Request) {
	if s.deps.ConfigStore == nil {
		writeJSON(w, http.StatusOK, modelListResponse{Object: "list", Data: []modelEntry{}})
		return
	}
	snap := s.deps.ConfigStore.Current()
	identity := gateway.IdentityFromContext(r.Context())

	data := make([]modelEntry, 0, len(snap.Models))
	for id, alias := range snap.Models {
		if identity != nil && !identity.IsModelAllowed(id) {
			continue
		}
		entry := modelEntry{
			ID:     id,
			Object: "model",
			OwnedBy: func() string {
				if len(alias.Targets) > 0 {
					return alias.Targets[0].ProviderID
				}
				return "unknown"
			}(),
		}
		if alias.Pricing != nil {
			entry.Pricing = &modelPricing{
				Input:  alias.Pricing.InputPer1M,
				Output: alias.Pricing.OutputPer1M,
			}
		}
		for _, t := range alias.Targets {
			entry.Providers = append(entry.Providers, t.ProviderID)
		}
		data = append(data, entry)
	}

	writeJSON(w, http.StatusOK, modelListResponse{Object: "list", Data: data})
}

type modelPricing struct {
	Input  float64 `json:"input_per_1m"`
	Output float64 `json:"output_per_1m"`
}

type modelEntry struct {
	ID        string        `json:"id"`
	Object    string        `json:"object"`
	OwnedBy   string        `json:"owned_by"`
	Providers []string      `json:"providers,omitempty"`
	Pricing   *modelPricing `json:"pricing,omitempty"`
}

type modelListResponse struct {
	Object string       `json:"object"`
	Data   []modelEntry `json:"data"`
}
