package config

import (
	"context"
	"testing"

	routex "github.com/dctx/routex/internal"
	"github.com/dctx/routex/internal/storage/sqlite"
)

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	path := t.TempDir() + "/test.db"
	s, err := sqlite.New(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestBootstrap(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	cfg := &Config{
		Channels: []ChannelEntry{
			{
				Name:     "primary-openai",
				Vendor:   "openai",
				BaseURL:  "https://api.openai.com/v1",
				APIKey:   "sk-test",
				Models:   []string{"gpt-4o"},
				Priority: 1,
				Weight:   1,
			},
		},
		Keys: []KeyEntry{
			{
				Name: "test-key",
				Key:  "rtx_testkey123456",
				Role: "admin",
			},
		},
	}

	// First call seeds everything.
	if err := Bootstrap(ctx, cfg, store); err != nil {
		t.Fatal("bootstrap:", err)
	}

	channel, err := store.GetChannelByName(ctx, "primary-openai")
	if err != nil {
		t.Fatal("get channel:", err)
	}
	if channel.APIKeyEnc != "sk-test" {
		t.Errorf("api key = %q, want plaintext passthrough without crypto configured", channel.APIKeyEnc)
	}

	key, err := store.GetKeyByHash(ctx, routex.HashKey("rtx_testkey123456"))
	if err != nil {
		t.Fatal("get key:", err)
	}
	if key.Role != "admin" {
		t.Errorf("role = %q, want admin", key.Role)
	}

	// Second call is idempotent -- no errors, no duplicates.
	if err := Bootstrap(ctx, cfg, store); err != nil {
		t.Fatal("idempotent bootstrap:", err)
	}

	channels, err := store.ListChannels(ctx)
	if err != nil {
		t.Fatal("list channels:", err)
	}
	if len(channels) != 1 {
		t.Errorf("channel count after second bootstrap = %d, want 1", len(channels))
	}

	n, err := store.CountKeys(ctx)
	if err != nil {
		t.Fatal("count keys:", err)
	}
	if n != 1 {
		t.Errorf("key count after second bootstrap = %d, want 1", n)
	}
}

func TestBootstrapSkipsEmptyKeys(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	cfg := &Config{
		Keys: []KeyEntry{
			{Name: "empty", Key: ""},
		},
	}

	if err := Bootstrap(ctx, cfg, store); err != nil {
		t.Fatal("bootstrap:", err)
	}

	n, err := store.CountKeys(ctx)
	if err != nil {
		t.Fatal("count keys:", err)
	}
	if n != 0 {
		t.Errorf("key count = %d, want 0 (empty key should be skipped)", n)
	}
}

func TestBootstrapEncryptsChannelCredentialWhenCryptoConfigured(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	cfg := &Config{
		Crypto: CryptoConfig{Passphrase: "test-passphrase-at-least-32-bytes-long", Salt: "deadbeefdeadbeefdeadbeefdeadbeef"},
		Channels: []ChannelEntry{
			{Name: "enc-channel", Vendor: "anthropic", APIKey: "sk-secret"},
		},
	}

	if err := Bootstrap(ctx, cfg, store); err != nil {
		t.Fatal("bootstrap:", err)
	}

	channel, err := store.GetChannelByName(ctx, "enc-channel")
	if err != nil {
		t.Fatal("get channel:", err)
	}
	if channel.APIKeyEnc == "sk-secret" {
		t.Error("expected credential to be encrypted, got plaintext")
	}
}
