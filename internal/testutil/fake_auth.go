// Package testutil provides configurable test fakes for the HTTP server's
// dependency interfaces.
package testutil

import (
	"context"
	"net/http"

	"github.com/plexus-gateway/plexus/internal/gateway"
)

// FakeAuth always authenticates successfully with the given Identity, or an
// unrestricted default one if none is set.
type FakeAuth struct {
	Identity *gateway.Identity
}

// Authenticate returns the configured identity.
func (f FakeAuth) Authenticate(_ context.Context, _ *http.Request) (*gateway.Identity, error) {
	if f.Identity != nil {
		return f.Identity, nil
	}
	return &gateway.Identity{KeyID: "test-key", KeyName: "test"}, nil
}

// RejectAuth always rejects authentication.
type RejectAuth struct{}

// Authenticate always returns an auth_error.
func (RejectAuth) Authenticate(context.Context, *http.Request) (*gateway.Identity, error) {
	return nil, gateway.NewError(gateway.KindAuthError, "invalid api key")
}
