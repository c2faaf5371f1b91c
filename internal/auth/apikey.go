// Package auth implements API key authentication for the Routex gateway.
// Keys are validated against the store and cached in a W-TinyLFU cache.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	routex "github.com/dctx/routex/internal"
	"github.com/dctx/routex/internal/storage"
	"github.com/maypok86/otter/v2"
)

const (
	cacheTTL    = 30 * time.Second // short enough to pick up key revocations promptly
	cacheMaxLen = 10_000           // max concurrent active keys expected per deployment
)

// APIKeyAuth authenticates requests using API keys with the "rtx_" prefix.
// It caches resolved API keys in an otter W-TinyLFU cache for fast lookups.
type APIKeyAuth struct {
	store       storage.APIKeyStore
	cache       *otter.Cache[string, *routex.APIKey]
	keyIDToHash sync.Map // keyID -> hash for cache invalidation by key ID
}

// NewAPIKeyAuth returns a new APIKeyAuth backed by store.
func NewAPIKeyAuth(store storage.APIKeyStore) (*APIKeyAuth, error) {
	c, err := otter.New(&otter.Options[string, *routex.APIKey]{
		MaximumSize:      cacheMaxLen,
		ExpiryCalculator: otter.ExpiryWriting[string, *routex.APIKey](cacheTTL),
	})
	if err != nil {
		return nil, fmt.Errorf("create auth cache: %w", err)
	}
	return &APIKeyAuth{store: store, cache: c}, nil
}

// Authenticate extracts a Bearer token (or x-api-key) credential, validates
// it against the store, and returns the caller's Identity. Only keys with
// the "rtx_" prefix are handled; all others return ErrUnauthorized.
func (a *APIKeyAuth) Authenticate(ctx context.Context, r *http.Request) (*routex.Identity, error) {
	raw := extractKey(r)
	if raw == "" || !strings.HasPrefix(raw, routex.APIKeyPrefix) {
		return nil, routex.ErrUnauthorized
	}

	hash := routex.HashKey(raw)

	if key, ok := a.cache.GetIfPresent(hash); ok {
		if key.Blocked {
			return nil, routex.ErrKeyBlocked
		}
		if key.ExpiresAt != nil && key.ExpiresAt.Before(time.Now()) {
			a.cache.Invalidate(hash)
			return nil, routex.ErrKeyExpired
		}
		return buildIdentity(key), nil
	}

	key, err := a.store.GetKeyByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, routex.ErrNotFound) {
			return nil, routex.ErrUnauthorized
		}
		return nil, err
	}

	// Belt-and-suspenders: constant-time comparison of the stored hash against
	// the computed hash. The store lookup already matched, but this guards
	// against hypothetical collation or encoding surprises.
	if subtle.ConstantTimeCompare([]byte(key.KeyHash), []byte(hash)) != 1 {
		return nil, routex.ErrUnauthorized
	}

	if key.Blocked {
		return nil, routex.ErrKeyBlocked
	}
	if key.ExpiresAt != nil && key.ExpiresAt.Before(time.Now()) {
		return nil, routex.ErrKeyExpired
	}

	a.cache.Set(hash, key)
	a.keyIDToHash.Store(key.ID, hash)

	go func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		a.store.TouchKeyUsed(ctx, key.ID) //nolint:errcheck
	}()

	return buildIdentity(key), nil
}

func extractKey(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return r.Header.Get("x-api-key")
}

// InvalidateByKeyID removes a cached API key by its key ID.
// Used when admin operations (block, update, delete) modify a key.
func (a *APIKeyAuth) InvalidateByKeyID(keyID string) {
	if hash, ok := a.keyIDToHash.LoadAndDelete(keyID); ok {
		a.cache.Invalidate(hash.(string))
	}
}

// buildIdentity constructs an Identity from a validated API key.
func buildIdentity(key *routex.APIKey) *routex.Identity {
	role := key.Role
	if role == "" {
		role = "viewer"
	}
	id := &routex.Identity{
		Subject:    key.KeyPrefix,
		KeyID:      key.ID,
		Role:       role,
		Perms:      routex.RolePermissions[role],
		AuthMethod: "apikey",
	}
	if key.RPMLimit != nil {
		id.RPMLimit = *key.RPMLimit
	}
	if key.TPMLimit != nil {
		id.TPMLimit = *key.TPMLimit
	}
	return id
}
