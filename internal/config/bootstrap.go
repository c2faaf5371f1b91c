// Package config provides configuration loading and database bootstrapping.
package config

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	routex "github.com/dctx/routex/internal"
	"github.com/dctx/routex/internal/crypto"
	"github.com/dctx/routex/internal/storage"
)

// Bootstrap seeds the database from the config file on first run. It is
// idempotent: existing channels (by name) and keys (by hash) are skipped.
func Bootstrap(ctx context.Context, cfg *Config, store storage.Store) error {
	var box *crypto.Box
	if cfg.Crypto.Passphrase != "" {
		salt, err := hex.DecodeString(cfg.Crypto.Salt)
		if err != nil {
			return fmt.Errorf("decode crypto salt: %w", err)
		}
		box, err = crypto.New(cfg.Crypto.Passphrase, salt)
		if err != nil {
			return fmt.Errorf("init crypto box: %w", err)
		}
	}

	for _, ch := range cfg.Channels {
		existing, _ := store.GetChannelByName(ctx, ch.Name)
		if existing != nil {
			continue
		}

		apiKeyEnc, err := encryptIfConfigured(box, ch.APIKey)
		if err != nil {
			return fmt.Errorf("encrypt channel %q credential: %w", ch.Name, err)
		}
		refreshEnc, err := encryptIfConfigured(box, ch.RefreshToken)
		if err != nil {
			return fmt.Errorf("encrypt channel %q refresh token: %w", ch.Name, err)
		}

		status := routex.ChannelDisabled
		if ch.IsEnabled() {
			status = routex.ChannelEnabled
		}
		now := time.Now().UTC()
		channel := &routex.Channel{
			ID:           uuid.Must(uuid.NewV7()).String(),
			Name:         ch.Name,
			Vendor:       routex.Vendor(ch.Vendor),
			BaseURL:      ch.BaseURL,
			APIKeyEnc:    apiKeyEnc,
			RefreshToken: refreshEnc,
			Models:       ch.Models,
			Priority:     ch.Priority,
			Weight:       max(1, ch.Weight),
			Status:       status,
			Transformers: ch.Transformers,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := store.CreateChannel(ctx, channel); err != nil {
			return err
		}
		slog.Info("bootstrapped channel", "name", channel.Name, "vendor", channel.Vendor)
	}

	for _, k := range cfg.Keys {
		if k.Key == "" {
			continue
		}
		hash := routex.HashKey(k.Key)

		existing, _ := store.GetKeyByHash(ctx, hash)
		if existing != nil {
			continue
		}

		prefix := k.Key
		if len(prefix) > 12 {
			prefix = prefix[:12]
		}
		role := k.Role
		if role == "" {
			role = "viewer"
		}

		key := &routex.APIKey{
			ID:        uuid.Must(uuid.NewV7()).String(),
			KeyHash:   hash,
			KeyPrefix: prefix,
			Role:      role,
			RPMLimit:  k.RPMLimit,
			TPMLimit:  k.TPMLimit,
			CreatedAt: time.Now().UTC(),
		}
		if err := store.CreateKey(ctx, key); err != nil {
			return err
		}
		slog.Info("bootstrapped api key", "name", k.Name, "prefix", prefix)
	}

	return nil
}

func encryptIfConfigured(box *crypto.Box, plain string) (string, error) {
	if plain == "" {
		return "", nil
	}
	if box == nil {
		return plain, nil // no crypto configured: store as-is (dev/test convenience)
	}
	return box.Encrypt(plain)
}

// GenerateAdminKey creates a random admin key and returns the plaintext.
func GenerateAdminKey() string {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		panic("crypto/rand: " + err.Error())
	}
	return routex.APIKeyPrefix + base64.RawURLEncoding.EncodeToString(raw)
}
