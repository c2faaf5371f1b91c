package testutil

import (
	"context"
	"net/http"

	routex "github.com/dctx/routex/internal"
)

// FakeAuth always authenticates successfully with the given role
// (defaults to "admin" when unset).
type FakeAuth struct {
	Role string
}

// Authenticate returns a test identity with FakeAuth's configured role.
func (f FakeAuth) Authenticate(_ context.Context, _ *http.Request) (*routex.Identity, error) {
	role := f.Role
	if role == "" {
		role = "admin"
	}
	return &routex.Identity{
		Subject:    "test",
		KeyID:      "key-test-1",
		Role:       role,
		Perms:      routex.RolePermissions[role],
		AuthMethod: "apikey",
	}, nil
}

// RejectAuth always rejects authentication.
type RejectAuth struct{}

// Authenticate always returns ErrUnauthorized.
func (RejectAuth) Authenticate(context.Context, *http.Request) (*routex.Identity, error) {
	return nil, routex.ErrUnauthorized
}
