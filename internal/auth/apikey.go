// Package auth implements API key authentication for the gateway's client
// surface. Keys are declared directly in the active configuration snapshot
// (config.Snapshot.Keys) rather than a separate store, so authentication is
// a constant-time scan over an already in-memory map -- no cache layer is
// needed the way a database-backed key store would require one.
package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/plexus-gateway/plexus/internal/config"
	"github.com/plexus-gateway/plexus/internal/gateway"
)

// SnapshotSource is the minimal config.Store surface Authenticate needs.
type SnapshotSource interface {
	Current() *config.Snapshot
}

// APIKeyAuth authenticates requests bearing one of the configured API keys.
type APIKeyAuth struct {
	snapshots SnapshotSource
}

// NewAPIKeyAuth returns an APIKeyAuth resolving keys against snapshots.
func NewAPIKeyAuth(snapshots SnapshotSource) *APIKeyAuth {
	return &APIKeyAuth{snapshots: snapshots}
}

// Authenticate extracts a Bearer token from the Authorization header and
// resolves it against the current snapshot's keys map.
func (a *APIKeyAuth) Authenticate(ctx context.Context, r *http.Request) (*gateway.Identity, error) {
	raw, ok := bearerToken(r)
	if !ok {
		return nil, gateway.NewError(gateway.KindAuthError, "missing bearer token")
	}

	snap := a.snapshots.Current()
	entry, found := lookupKey(snap.Keys, raw)
	if !found {
		return nil, gateway.NewError(gateway.KindAuthError, "invalid API key")
	}
	return buildIdentity(raw, entry), nil
}

func bearerToken(r *http.Request) (string, bool) {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, prefix) {
		return "", false
	}
	token := strings.TrimPrefix(h, prefix)
	return token, token != ""
}

// lookupKey scans every configured key with a constant-time comparison so
// that lookup latency doesn't leak how close an invalid guess came to a
// real key. keys is small (one entry per client), so the full scan is cheap.
func lookupKey(keys map[string]config.KeyEntry, raw string) (config.KeyEntry, bool) {
	var match config.KeyEntry
	found := false
	for k, v := range keys {
		if subtle.ConstantTimeCompare([]byte(k), []byte(raw)) == 1 {
			match = v
			found = true
		}
	}
	return match, found
}

// buildIdentity converts a matched KeyEntry into the caller Identity the
// rest of the gateway checks RPM/TPM/budget/model-allowlist against.
func buildIdentity(raw string, entry config.KeyEntry) *gateway.Identity {
	return &gateway.Identity{
		KeyID:         hashKey(raw),
		KeyName:       entry.Name,
		AllowedModels: entry.AllowedModels,
		RPMLimit:      entry.RPMLimit,
		TPMLimit:      entry.TPMLimit,
		MaxBudgetUSD:  entry.MaxBudgetUSD,
	}
}

// hashKey derives a non-reversible identifier for logs and trace entries so
// the raw key never needs to be persisted or printed.
func hashKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])[:16]
}
