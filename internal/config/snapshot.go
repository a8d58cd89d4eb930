package config

import "time"

// ProviderRecord is the immutable, resolved view of one configured provider.
type ProviderRecord struct {
	ID              string
	Type            string
	BaseURL         string
	APIKey          string
	Headers         map[string]string
	QuotaCheckerRef string
	Cooldown        *CooldownOverride
}

// Target is one (provider, canonical model) pair a ModelAlias can resolve to.
type Target struct {
	ProviderID    string
	CanonicalSlug string
}

// ModelAlias is the immutable, resolved view of one configured model alias.
type ModelAlias struct {
	AliasID      string
	Targets      []Target // nonempty, order preserved
	SelectorKind string
	Pricing      *PricingEntry // nil means "use provider defaults"
}

// Snapshot is the immutable ConfigSnapshot (C1): a point-in-time view of
// providers, model aliases, keys, quotas, and pricing. Once published by
// ConfigStore it is never mutated; every consumer holds a reference for the
// duration of one operation and never sees a torn view.
type Snapshot struct {
	Providers map[string]ProviderRecord
	Models    map[string]ModelAlias
	Keys      map[string]KeyEntry
	Quotas    map[string]QuotaEntry
	AdminKey  string
	Version   int64
	LoadedAt  time.Time
}

// BuildSnapshot converts a parsed Config into an immutable Snapshot tagged
// with the given monotonically increasing version.
func BuildSnapshot(cfg *Config, version int64) *Snapshot {
	providers := make(map[string]ProviderRecord, len(cfg.Providers))
	for id, p := range cfg.Providers {
		providers[id] = ProviderRecord{
			ID:              id,
			Type:            p.Type,
			BaseURL:         p.BaseURL,
			APIKey:          p.APIKey,
			Headers:         p.Headers,
			QuotaCheckerRef: p.QuotaCheckerRef,
			Cooldown:        p.Cooldown,
		}
	}

	models := make(map[string]ModelAlias, len(cfg.Models))
	for id, m := range cfg.Models {
		targets := make([]Target, len(m.Targets))
		for i, t := range m.Targets {
			targets[i] = Target{ProviderID: t.Provider, CanonicalSlug: t.Model}
		}
		models[id] = ModelAlias{
			AliasID:      id,
			Targets:      targets,
			SelectorKind: m.Selector,
			Pricing:      m.Pricing,
		}
	}

	keys := make(map[string]KeyEntry, len(cfg.Keys))
	for k, v := range cfg.Keys {
		keys[k] = v
	}

	quotas := make(map[string]QuotaEntry, len(cfg.Quotas))
	for k, v := range cfg.Quotas {
		quotas[k] = v
	}

	return &Snapshot{
		Providers: providers,
		Models:    models,
		Keys:      keys,
		Quotas:    quotas,
		AdminKey:  cfg.Admin.APIKey,
		Version:   version,
		LoadedAt:  time.Now(),
	}
}

// changedSections returns the set of top-level keys whose serialized form
// differs between two snapshots, used by ConfigStore.replace's config_change
// event per SPEC_FULL.md §4.1.
func changedSections(prev, next *Snapshot) []string {
	var changed []string
	if prev == nil {
		return []string{"providers", "models", "keys", "quotas", "admin"}
	}
	if !mapsEqualProviders(prev.Providers, next.Providers) {
		changed = append(changed, "providers")
	}
	if !mapsEqualModels(prev.Models, next.Models) {
		changed = append(changed, "models")
	}
	if !mapsEqualKeys(prev.Keys, next.Keys) {
		changed = append(changed, "keys")
	}
	if !mapsEqualQuotas(prev.Quotas, next.Quotas) {
		changed = append(changed, "quotas")
	}
	if prev.AdminKey != next.AdminKey {
		changed = append(changed, "admin")
	}
	return changed
}
