package server

import (
	"context"
	"sync"
	"sync/atomic"

	routex "github.com/dctx/routex/internal"
	"github.com/dctx/routex/internal/cache"
	"github.com/dctx/routex/internal/crypto"
	"github.com/dctx/routex/internal/storage"
)

// channelProvider adapts the read-through cache plus the durable channel
// store to proxy.Engine's ChannelProvider dependency: a read-through lookup
// of the currently enabled channel set, invalidated on admin writes.
type channelProvider struct {
	cache *cache.Store
	store storage.ChannelStore
}

func NewChannelProvider(c *cache.Store, store storage.ChannelStore) *channelProvider {
	return &channelProvider{cache: c, store: store}
}

// EnabledChannels implements proxy.ChannelProvider.
func (p *channelProvider) EnabledChannels(ctx context.Context) ([]*routex.Channel, error) {
	return cache.GetOrLoad[[]*routex.Channel](ctx, p.cache, cache.ClassEnabledChannels, cache.ClassEnabledChannels,
		func(ctx context.Context) ([]*routex.Channel, error) {
			return p.store.ListEnabledChannels(ctx)
		})
}

// invalidate drops the cached enabled-channel set; call after any channel
// create/update/delete/status-flip admin write.
func (p *channelProvider) invalidate(ctx context.Context) {
	p.cache.InvalidateClass(ctx, cache.ClassEnabledChannels)
}

// priceTable adapts storage.ModelPriceStore to proxy.Engine's PriceLookup
// dependency. PriceLookup.Price has no context and must not block on a
// round trip per proxy attempt, so the table is loaded into memory up front
// and refreshed whenever an admin mutates a price entry.
type priceTable struct {
	store storage.ModelPriceStore

	mu     sync.RWMutex
	byName map[string]routex.ModelPrice

	loaded atomic.Bool
}

func NewPriceTable(store storage.ModelPriceStore) *priceTable {
	return &priceTable{store: store, byName: make(map[string]routex.ModelPrice)}
}

// Refresh reloads the full price table from the store. Called once at
// startup and again after any admin price write.
func (t *priceTable) Refresh(ctx context.Context) error {
	prices, err := t.store.ListModelPrices(ctx)
	if err != nil {
		return err
	}
	byName := make(map[string]routex.ModelPrice, len(prices))
	for _, p := range prices {
		byName[p.Model] = *p
	}
	t.mu.Lock()
	t.byName = byName
	t.mu.Unlock()
	t.loaded.Store(true)
	return nil
}

// Price implements proxy.PriceLookup.
func (t *priceTable) Price(model string) (routex.ModelPrice, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.byName[model]
	return p, ok
}

// optionalDecrypter adapts a possibly-nil *crypto.Box to proxy.Engine's
// Decrypter: when no encryption passphrase is configured, stored
// credentials are plaintext (per config.Bootstrap's own no-crypto
// convenience) and are passed through unchanged instead of fed to AES-GCM.
type optionalDecrypter struct {
	box *crypto.Box
}

// NewOptionalDecrypter wraps box, or a nil box, as a proxy.Engine Decrypter.
func NewOptionalDecrypter(box *crypto.Box) *optionalDecrypter {
	return &optionalDecrypter{box: box}
}

// Decrypt implements proxy.Decrypter.
func (d *optionalDecrypter) Decrypt(ct string) (string, error) {
	if d.box == nil || !crypto.IsEncrypted(ct) {
		return ct, nil
	}
	return d.box.Decrypt(ct)
}
