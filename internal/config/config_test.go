package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandEnv(t *testing.T) {
	t.Setenv("PLEXUS_TEST_KEY", "shh")
	out := expandEnv([]byte(`apiKey: ${PLEXUS_TEST_KEY}
fallback: ${PLEXUS_TEST_UNSET:-defaultval}`))
	assert.Contains(t, string(out), "apiKey: shh")
	assert.Contains(t, string(out), "fallback: defaultval")
}

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
providers:
  p1:
    baseURL: https://example.com
models:
  fast:
    targets:
      - provider: p1
        model: m1
`))
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Server.LogLevel)
	assert.Equal(t, "openai-compatible", cfg.Providers["p1"].Type)
	assert.Equal(t, "random", cfg.Models["fast"].Selector)
}

func TestParseEnvOverrides(t *testing.T) {
	t.Setenv("PLEXUS_PORT", "9999")
	t.Setenv("PLEXUS_LOG_LEVEL", "debug")
	cfg, err := Parse([]byte(`
providers:
  p1:
    baseURL: https://example.com
models:
  fast:
    targets:
      - provider: p1
        model: m1
`))
	require.NoError(t, err)
	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Server.LogLevel)
}

func TestValidateMiniMaxQuotaRequiresGroupID(t *testing.T) {
	_, err := Parse([]byte(`
providers:
  p1:
    baseURL: https://example.com
quotas:
  p1:
    type: minimax
    options: {}
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MiniMax groupid is required")
}

func TestValidateUnknownProviderRejected(t *testing.T) {
	_, err := Parse([]byte(`
models:
  fast:
    targets:
      - provider: nope
        model: m1
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown provider")
}

func TestValidateEmptyTargetsRejected(t *testing.T) {
	_, err := Parse([]byte(`
models:
  fast:
    targets: []
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one target is required")
}

func TestLoadReadsFile(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "cfg-*.yaml")
	require.NoError(t, err)
	_, err = f.WriteString(`
providers:
  p1:
    baseURL: https://example.com
models:
  fast:
    targets:
      - provider: p1
        model: m1
`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	cfg, err := Load(f.Name())
	require.NoError(t, err)
	assert.Len(t, cfg.Models, 1)
}
