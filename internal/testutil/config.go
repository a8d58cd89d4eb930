package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/plexus-gateway/plexus/internal/config"
)

// WriteConfigStore writes yamlText to a temp file and opens it as a
// config.Store, cleaning up automatically at test end.
func WriteConfigStore(t *testing.T, yamlText string) *config.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "plexus.yaml")
	if err := os.WriteFile(path, []byte(yamlText), 0o600); err != nil {
		t.Fatalf("write config fixture: %v", err)
	}
	store, err := config.NewStore(path)
	if err != nil {
		t.Fatalf("open config store: %v", err)
	}
	return store
}

// SingleProviderConfig renders a minimal one-provider, one-alias config
// pointed at baseURL, for tests that only need one route to exercise.
func SingleProviderConfig(baseURL, adminKey string) string {
	return fmt.Sprintf(`
admin:
  apiKey: %q
providers:
  test-provider:
    type: openai
    baseURL: %q
    apiKey: test-upstream-key
models:
  gpt-test:
    targets:
      - provider: test-provider
        model: gpt-test-canonical
    selector: random
`, adminKey, baseURL)
}

// TwoProviderConfig renders a two-provider, one-alias config, both targets
// behind the same client-facing alias, for tests exercising failover
// between candidates.
func TwoProviderConfig(primaryURL, secondaryURL, adminKey string) string {
	return fmt.Sprintf(`
admin:
  apiKey: %q
providers:
  primary:
    type: openai
    baseURL: %q
    apiKey: test-upstream-key
  secondary:
    type: openai
    baseURL: %q
    apiKey: test-upstream-key
models:
  gpt-test:
    targets:
      - provider: primary
        model: gpt-test-canonical
      - provider: secondary
        model: gpt-test-canonical
    selector: random
`, adminKey, primaryURL, secondaryURL)
}

// SingleAnthropicProviderConfig renders a minimal one-provider, one-alias
// config for an Anthropic-type provider pointed at baseURL.
func SingleAnthropicProviderConfig(baseURL, adminKey string) string {
	return fmt.Sprintf(`
admin:
  apiKey: %q
providers:
  claude-provider:
    type: anthropic
    baseURL: %q
    apiKey: test-upstream-key
models:
  claude-test:
    targets:
      - provider: claude-provider
        model: claude-test-canonical
    selector: random
`, adminKey, baseURL)
}
