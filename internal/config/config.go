// Package config loads the Plexus YAML configuration into a Config, and
// builds the immutable ConfigSnapshot (C1) the rest of the gateway consumes.
// It also implements ConfigStore (C2): atomic-swap access to the current
// snapshot, atomic file rewrite with checksum, and change-event broadcast.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"

	"go.yaml.in/yaml/v3"
)

// Config is the parsed shape of the YAML configuration file.
type Config struct {
	Server    ServerConfig             `yaml:"server"`
	Admin     AdminConfig              `yaml:"admin"`
	Database  DatabaseConfig           `yaml:"database"`
	Debug     DebugConfig              `yaml:"debug"`
	Cache     CacheConfig              `yaml:"cache"`
	Telemetry TelemetryConfig          `yaml:"telemetry"`
	Providers map[string]ProviderEntry `yaml:"providers"`
	Models    map[string]ModelEntry    `yaml:"models"`
	Keys      map[string]KeyEntry      `yaml:"keys"`
	Quotas    map[string]QuotaEntry    `yaml:"quotas"`
}

// ServerConfig holds listener and logging settings.
type ServerConfig struct {
	Port             int    `yaml:"port"`
	LogLevel         string `yaml:"logLevel"`
	RequestTimeoutS  int    `yaml:"requestTimeoutSeconds"`
	ShutdownTimeoutS int    `yaml:"shutdownTimeoutSeconds"`
	DefaultRPM       int64  `yaml:"defaultRPM"`
	DefaultTPM       int64  `yaml:"defaultTPM"`
}

// DatabaseConfig points at the SQLite-backed usage/quota store.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// DebugConfig controls the per-request artifact store.
type DebugConfig struct {
	Enabled           bool   `yaml:"enabled"`
	Dir               string `yaml:"dir"`
	RetentionHours    int    `yaml:"retentionHours"`
	PurgeIntervalMins int    `yaml:"purgeIntervalMinutes"`
}

// CacheConfig controls the in-memory response cache.
type CacheConfig struct {
	Enabled    bool `yaml:"enabled"`
	MaxSize    int  `yaml:"maxSize"`
	DefaultTTL int  `yaml:"defaultTTLSeconds"`
}

// TracingConfig controls OTel span export.
type TracingConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Endpoint   string  `yaml:"endpoint"`
	SampleRate float64 `yaml:"sampleRate"`
}

// TelemetryConfig groups the observability toggles.
type TelemetryConfig struct {
	Tracing TracingConfig `yaml:"tracing"`
}

// AdminConfig holds the admin-surface bearer token.
type AdminConfig struct {
	APIKey string `yaml:"apiKey"`
}

// CooldownOverride overrides one or more of CooldownManager's default
// duration policies for a single provider (SPEC_FULL.md §9 Open Question 3).
type CooldownOverride struct {
	RateLimitSeconds       int64 `yaml:"rateLimitSeconds"`
	RateLimitCapSeconds    int64 `yaml:"rateLimitCapSeconds"`
	AuthErrorSeconds       int64 `yaml:"authErrorSeconds"`
	TimeoutSeconds         int64 `yaml:"timeoutSeconds"`
	TimeoutCapSeconds      int64 `yaml:"timeoutCapSeconds"`
	ServerErrorSeconds     int64 `yaml:"serverErrorSeconds"`
	ServerErrorCapSeconds  int64 `yaml:"serverErrorCapSeconds"`
	ConnectionErrorSeconds int64 `yaml:"connectionErrorSeconds"`
	ConnectionCapSeconds   int64 `yaml:"connectionErrorCapSeconds"`
}

// ProviderEntry is one entry under the `providers` top-level key.
type ProviderEntry struct {
	Type            string            `yaml:"type"`
	BaseURL         string            `yaml:"baseURL"`
	APIKey          string            `yaml:"apiKey"`
	Headers         map[string]string `yaml:"headers"`
	QuotaCheckerRef string            `yaml:"quotaCheckerRef"`
	Cooldown        *CooldownOverride `yaml:"cooldown"`
}

// TargetEntry is one (provider, canonical model) pair inside a ModelEntry.
type TargetEntry struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
}

// PricingEntry overrides per-alias pricing (USD per 1M tokens).
type PricingEntry struct {
	InputPer1M     float64 `yaml:"inputPer1M"`
	OutputPer1M    float64 `yaml:"outputPer1M"`
	CachedPer1M    float64 `yaml:"cachedPer1M"`
	ReasoningPer1M float64 `yaml:"reasoningPer1M"`
}

// ModelEntry is one entry under the `models` top-level key.
type ModelEntry struct {
	Targets  []TargetEntry `yaml:"targets"`
	Selector string        `yaml:"selector"`
	Pricing  *PricingEntry `yaml:"pricing"`
}

// KeyEntry is one entry under the `keys` top-level key.
type KeyEntry struct {
	Name          string   `yaml:"name"`
	AllowedModels []string `yaml:"allowedModels"`
	RPMLimit      int64    `yaml:"rpmLimit"`
	TPMLimit      int64    `yaml:"tpmLimit"`
	MaxBudgetUSD  float64  `yaml:"maxBudgetUSD"`
}

// QuotaEntry is one entry under the `quotas` top-level key: a per-provider
// quota-checker declaration. Options is checker-specific.
type QuotaEntry struct {
	Type    string         `yaml:"type"`
	Options map[string]any `yaml:"options"`
}

var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// expandEnv replaces ${VAR} and ${VAR:-default} references with the
// corresponding environment variable, or the default when unset/empty.
func expandEnv(data []byte) []byte {
	return envPattern.ReplaceAllFunc(data, func(m []byte) []byte {
		sub := envPattern.FindSubmatch(m)
		name := string(sub[1])
		def := string(sub[3])
		if v, ok := os.LookupEnv(name); ok && v != "" {
			return []byte(v)
		}
		return []byte(def)
	})
}

// Load reads and parses the YAML file at path, expanding ${VAR} references
// and applying PLEXUS_PORT/PLEXUS_LOG_LEVEL environment overrides, and
// filling in defaults for unset fields.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(raw)
}

// Parse parses raw YAML bytes into a Config, applying env expansion,
// environment overrides, and defaults. Exposed separately from Load so
// ConfigStore can validate in-memory bytes before committing them to disk.
func Parse(raw []byte) (*Config, error) {
	expanded := expandEnv(raw)

	var cfg Config
	if err := yaml.Unmarshal(expanded, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}

	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = "info"
	}
	if cfg.Server.RequestTimeoutS == 0 {
		cfg.Server.RequestTimeoutS = 600
	}
	if cfg.Server.ShutdownTimeoutS == 0 {
		cfg.Server.ShutdownTimeoutS = 30
	}
	if cfg.Database.DSN == "" {
		cfg.Database.DSN = "plexus.db"
	}
	if cfg.Debug.Dir == "" {
		cfg.Debug.Dir = "debug-artifacts"
	}
	if cfg.Debug.RetentionHours == 0 {
		cfg.Debug.RetentionHours = 72
	}
	if cfg.Debug.PurgeIntervalMins == 0 {
		cfg.Debug.PurgeIntervalMins = 60
	}
	if cfg.Cache.MaxSize == 0 {
		cfg.Cache.MaxSize = 1000
	}
	if cfg.Cache.DefaultTTL == 0 {
		cfg.Cache.DefaultTTL = 300
	}
	if cfg.Telemetry.Tracing.Endpoint == "" {
		cfg.Telemetry.Tracing.Endpoint = "localhost:4317"
	}
	if cfg.Telemetry.Tracing.SampleRate == 0 {
		cfg.Telemetry.Tracing.SampleRate = 0.1
	}
	for id, p := range cfg.Providers {
		if p.Type == "" {
			p.Type = "openai-compatible"
		}
		cfg.Providers[id] = p
	}
	for id, m := range cfg.Models {
		if m.Selector == "" {
			m.Selector = "random"
		}
		cfg.Models[id] = m
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PLEXUS_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = p
		}
	}
	if v := os.Getenv("PLEXUS_LOG_LEVEL"); v != "" {
		cfg.Server.LogLevel = v
	}
}

// Validate checks cross-field invariants the spec calls out explicitly,
// e.g. the MiniMax quota checker's required options.
func Validate(cfg *Config) error {
	for providerID, q := range cfg.Quotas {
		if q.Type != "minimax" {
			continue
		}
		groupID, _ := q.Options["groupid"].(string)
		hertz, _ := q.Options["hertzSession"].(string)
		if groupID == "" && hertz == "" {
			return fmt.Errorf("config: quota %q: MiniMax groupid is required", providerID)
		}
	}
	for aliasID, m := range cfg.Models {
		if len(m.Targets) == 0 {
			return fmt.Errorf("config: model %q: at least one target is required", aliasID)
		}
		for _, t := range m.Targets {
			if _, ok := cfg.Providers[t.Provider]; !ok {
				return fmt.Errorf("config: model %q: unknown provider %q", aliasID, t.Provider)
			}
		}
	}
	return nil
}
