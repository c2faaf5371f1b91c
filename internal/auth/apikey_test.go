package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	routex "github.com/dctx/routex/internal"
)

// fakeKeyStore is a minimal in-memory APIKeyStore for auth tests.
type fakeKeyStore struct {
	mu      sync.RWMutex
	keys    map[string]*routex.APIKey // hash -> key
	touched map[string]int            // id -> touch count
}

func newFakeKeyStore() *fakeKeyStore {
	return &fakeKeyStore{
		keys:    make(map[string]*routex.APIKey),
		touched: make(map[string]int),
	}
}

func (s *fakeKeyStore) addKey(raw string, key *routex.APIKey) {
	key.KeyHash = routex.HashKey(raw)
	s.mu.Lock()
	s.keys[key.KeyHash] = key
	s.mu.Unlock()
}

func (s *fakeKeyStore) CreateKey(_ context.Context, key *routex.APIKey) error {
	s.mu.Lock()
	s.keys[key.KeyHash] = key
	s.mu.Unlock()
	return nil
}

func (s *fakeKeyStore) GetKeyByHash(_ context.Context, hash string) (*routex.APIKey, error) {
	s.mu.RLock()
	k, ok := s.keys[hash]
	s.mu.RUnlock()
	if !ok {
		return nil, routex.ErrNotFound
	}
	return k, nil
}

func (s *fakeKeyStore) GetKey(context.Context, string) (*routex.APIKey, error) { return nil, routex.ErrNotFound }
func (s *fakeKeyStore) ListKeys(context.Context, int, int) ([]*routex.APIKey, error) {
	return nil, nil
}
func (s *fakeKeyStore) CountKeys(context.Context) (int, error)          { return 0, nil }
func (s *fakeKeyStore) UpdateKey(context.Context, *routex.APIKey) error { return nil }
func (s *fakeKeyStore) DeleteKey(context.Context, string) error         { return nil }

func (s *fakeKeyStore) TouchKeyUsed(_ context.Context, id string) error {
	s.mu.Lock()
	s.touched[id]++
	s.mu.Unlock()
	return nil
}

func (s *fakeKeyStore) touchCount(id string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.touched[id]
}

const testKey = "rtx_test_key_12345678901234567890"

func newTestAuth(t *testing.T) (*APIKeyAuth, *fakeKeyStore) {
	t.Helper()
	store := newFakeKeyStore()
	auth, err := NewAPIKeyAuth(store)
	if err != nil {
		t.Fatal(err)
	}
	return auth, store
}

func makeRequest(key string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
	if key != "" {
		r.Header.Set("Authorization", "Bearer "+key)
	}
	return r
}

func TestAuthenticate_ValidKey(t *testing.T) {
	t.Parallel()
	auth, store := newTestAuth(t)

	store.addKey(testKey, &routex.APIKey{
		ID:        "key-1",
		KeyPrefix: "rtx_test_key",
		Role:      "editor",
	})

	id, err := auth.Authenticate(context.Background(), makeRequest(testKey))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id.Subject != "rtx_test_key" {
		t.Errorf("Subject = %q, want rtx_test_key", id.Subject)
	}
	if id.Role != "editor" {
		t.Errorf("Role = %q, want editor", id.Role)
	}
	if id.AuthMethod != "apikey" {
		t.Errorf("AuthMethod = %q, want apikey", id.AuthMethod)
	}
	if !id.Can(routex.PermUseModels) {
		t.Error("editor should have PermUseModels")
	}
}

func TestAuthenticate_XAPIKeyHeader(t *testing.T) {
	t.Parallel()
	auth, store := newTestAuth(t)
	store.addKey(testKey, &routex.APIKey{ID: "key-1", KeyPrefix: "rtx_test_key", Role: "viewer"})

	r := httptest.NewRequest(http.MethodGet, "/api/channels", nil)
	r.Header.Set("x-api-key", testKey)
	id, err := auth.Authenticate(context.Background(), r)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id.Role != "viewer" {
		t.Errorf("Role = %q, want viewer", id.Role)
	}
}

func TestAuthenticate_CacheHit(t *testing.T) {
	t.Parallel()
	auth, store := newTestAuth(t)

	store.addKey(testKey, &routex.APIKey{
		ID:        "key-1",
		KeyPrefix: "rtx_test_key",
		Role:      "admin",
	})

	// First call populates cache.
	_, err := auth.Authenticate(context.Background(), makeRequest(testKey))
	if err != nil {
		t.Fatal(err)
	}

	// Remove from store -- second call should hit cache.
	store.mu.Lock()
	delete(store.keys, routex.HashKey(testKey))
	store.mu.Unlock()

	id, err := auth.Authenticate(context.Background(), makeRequest(testKey))
	if err != nil {
		t.Fatalf("cache miss: %v", err)
	}
	if id.Role != "admin" {
		t.Errorf("Role = %q, want admin", id.Role)
	}
}

func TestAuthenticate_NoAuthHeader(t *testing.T) {
	t.Parallel()
	auth, _ := newTestAuth(t)

	_, err := auth.Authenticate(context.Background(), makeRequest(""))
	if err != routex.ErrUnauthorized {
		t.Errorf("err = %v, want ErrUnauthorized", err)
	}
}

func TestAuthenticate_NonBearerToken(t *testing.T) {
	t.Parallel()
	auth, _ := newTestAuth(t)

	r := httptest.NewRequest(http.MethodPost, "/", nil)
	r.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	_, err := auth.Authenticate(context.Background(), r)
	if err != routex.ErrUnauthorized {
		t.Errorf("err = %v, want ErrUnauthorized", err)
	}
}

func TestAuthenticate_WrongPrefix(t *testing.T) {
	t.Parallel()
	auth, _ := newTestAuth(t)

	_, err := auth.Authenticate(context.Background(), makeRequest("sk-not-a-routex-key"))
	if err != routex.ErrUnauthorized {
		t.Errorf("err = %v, want ErrUnauthorized", err)
	}
}

func TestAuthenticate_KeyNotFound(t *testing.T) {
	t.Parallel()
	auth, _ := newTestAuth(t)

	_, err := auth.Authenticate(context.Background(), makeRequest("rtx_unknown_key_does_not_exist"))
	if err != routex.ErrUnauthorized {
		t.Errorf("err = %v, want ErrUnauthorized", err)
	}
}

func TestAuthenticate_BlockedKey(t *testing.T) {
	t.Parallel()
	auth, store := newTestAuth(t)

	store.addKey(testKey, &routex.APIKey{
		ID:        "key-blocked",
		KeyPrefix: "rtx_test_key",
		Blocked:   true,
	})

	_, err := auth.Authenticate(context.Background(), makeRequest(testKey))
	if err != routex.ErrKeyBlocked {
		t.Errorf("err = %v, want ErrKeyBlocked", err)
	}
}

func TestAuthenticate_BlockedKeyCached(t *testing.T) {
	t.Parallel()
	auth, store := newTestAuth(t)

	store.addKey(testKey, &routex.APIKey{
		ID:        "key-blocked-cache",
		KeyPrefix: "rtx_test_key",
		Blocked:   true,
	})

	auth.Authenticate(context.Background(), makeRequest(testKey))

	_, err := auth.Authenticate(context.Background(), makeRequest(testKey))
	if err != routex.ErrKeyBlocked {
		t.Errorf("err = %v, want ErrKeyBlocked", err)
	}
}

func TestAuthenticate_ExpiredKey(t *testing.T) {
	t.Parallel()
	auth, store := newTestAuth(t)

	expired := time.Now().Add(-1 * time.Hour)
	store.addKey(testKey, &routex.APIKey{
		ID:        "key-expired",
		KeyPrefix: "rtx_test_key",
		ExpiresAt: &expired,
	})

	_, err := auth.Authenticate(context.Background(), makeRequest(testKey))
	if err != routex.ErrKeyExpired {
		t.Errorf("err = %v, want ErrKeyExpired", err)
	}
}

func TestAuthenticate_ExpiredKeyCacheInvalidation(t *testing.T) {
	t.Parallel()
	auth, store := newTestAuth(t)

	future := time.Now().Add(1 * time.Hour)
	store.addKey(testKey, &routex.APIKey{
		ID:        "key-will-expire",
		KeyPrefix: "rtx_test_key",
		ExpiresAt: &future,
	})

	_, err := auth.Authenticate(context.Background(), makeRequest(testKey))
	if err != nil {
		t.Fatal(err)
	}

	hash := routex.HashKey(testKey)
	if cached, ok := auth.cache.GetIfPresent(hash); ok {
		past := time.Now().Add(-1 * time.Hour)
		cached.ExpiresAt = &past
	}

	_, err = auth.Authenticate(context.Background(), makeRequest(testKey))
	if err != routex.ErrKeyExpired {
		t.Errorf("err = %v, want ErrKeyExpired", err)
	}

	if _, ok := auth.cache.GetIfPresent(hash); ok {
		t.Error("expired key should be evicted from cache")
	}
}

func TestAuthenticate_TouchKeyUsed(t *testing.T) {
	t.Parallel()
	auth, store := newTestAuth(t)

	store.addKey(testKey, &routex.APIKey{
		ID:        "key-touch",
		KeyPrefix: "rtx_test_key",
	})

	_, err := auth.Authenticate(context.Background(), makeRequest(testKey))
	if err != nil {
		t.Fatal(err)
	}

	// TouchKeyUsed runs in a goroutine; give it a moment.
	time.Sleep(50 * time.Millisecond)
	if n := store.touchCount("key-touch"); n != 1 {
		t.Errorf("touch count = %d, want 1", n)
	}
}

func TestAuthenticate_RPMTPMOverrides(t *testing.T) {
	t.Parallel()
	auth, store := newTestAuth(t)

	rpm, tpm := int64(500), int64(20000)
	store.addKey(testKey, &routex.APIKey{
		ID:        "key-limits",
		KeyPrefix: "rtx_test_key",
		RPMLimit:  &rpm,
		TPMLimit:  &tpm,
	})

	id, err := auth.Authenticate(context.Background(), makeRequest(testKey))
	if err != nil {
		t.Fatal(err)
	}
	if id.RPMLimit != 500 {
		t.Errorf("RPMLimit = %d, want 500", id.RPMLimit)
	}
	if id.TPMLimit != 20000 {
		t.Errorf("TPMLimit = %d, want 20000", id.TPMLimit)
	}
}

func TestBuildIdentity(t *testing.T) {
	t.Parallel()

	key := &routex.APIKey{
		KeyPrefix: "rtx_abcd1234",
		Role:      "editor",
	}
	id := buildIdentity(key)

	if id.Subject != "rtx_abcd1234" {
		t.Errorf("Subject = %q", id.Subject)
	}
	if id.Role != "editor" {
		t.Errorf("Role = %q, want editor", id.Role)
	}
	if id.Perms != routex.RolePermissions["editor"] {
		t.Errorf("Perms = %v, want editor perms", id.Perms)
	}
	if id.AuthMethod != "apikey" {
		t.Errorf("AuthMethod = %q, want apikey", id.AuthMethod)
	}
}

func TestBuildIdentity_AdminRole(t *testing.T) {
	t.Parallel()

	key := &routex.APIKey{
		KeyPrefix: "rtx_admin_key",
		Role:      "admin",
	}
	id := buildIdentity(key)

	if id.Role != "admin" {
		t.Errorf("Role = %q, want admin", id.Role)
	}
	if id.Perms != routex.RolePermissions["admin"] {
		t.Errorf("Perms = %v, want admin perms", id.Perms)
	}
	if !id.Can(routex.PermManageChannels) {
		t.Error("admin should have PermManageChannels")
	}
	if !id.Can(routex.PermAdmin) {
		t.Error("admin should have PermAdmin")
	}
}

func TestBuildIdentity_EmptyRoleDefaultsViewer(t *testing.T) {
	t.Parallel()

	key := &routex.APIKey{
		KeyPrefix: "rtx_empty_role",
		Role:      "",
	}
	id := buildIdentity(key)

	if id.Role != "viewer" {
		t.Errorf("Role = %q, want viewer", id.Role)
	}
}
