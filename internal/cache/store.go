package cache

import (
	"context"
	"encoding/json"
	"fmt"

	"golang.org/x/sync/singleflight"
)

// Class names for the cache classes spec §4.3 requires.
const (
	ClassChannels        = "channels"
	ClassEnabledChannels = "enabledChannels"
	ClassSingleChannel   = "singleChannel"
	ClassRoutingRules    = "routingRules"
)

// Loader fetches the value for key on a cache miss.
type Loader[T any] func(ctx context.Context) (T, error)

// Store is a read-through cache over an arbitrary backing loader, with a
// per-class adaptive TTL and single-flight collapsing of concurrent misses.
type Store struct {
	mem        *Memory
	controller *Controller
	group      singleflight.Group
}

// NewStore wraps a Memory cache with adaptive-TTL bookkeeping.
func NewStore(mem *Memory, controller *Controller) *Store {
	return &Store{mem: mem, controller: controller}
}

// singleChannelKey builds the class key for a per-id channel cache entry.
func singleChannelKey(id string) string {
	return ClassSingleChannel + ":" + id
}

// GetOrLoad returns the cached value for (class, key) or invokes load on a
// miss. Concurrent misses for the same key collapse into one load call.
func GetOrLoad[T any](ctx context.Context, s *Store, class, key string, load Loader[T]) (T, error) {
	var zero T

	if raw, ok := s.mem.Get(ctx, key); ok {
		s.controller.RecordHit(class)
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return zero, fmt.Errorf("cache: decode %s: %w", key, err)
		}
		return v, nil
	}
	s.controller.RecordMiss(class)

	result, err, _ := s.group.Do(key, func() (any, error) {
		v, err := load(ctx)
		if err != nil {
			return nil, err
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("cache: encode %s: %w", key, err)
		}
		s.mem.Set(ctx, key, raw, s.controller.TTL(class))
		return v, nil
	})
	if err != nil {
		return zero, err
	}
	return result.(T), nil
}

// Invalidate drops a single key (used after a targeted admin write, e.g. one
// channel's update).
func (s *Store) Invalidate(ctx context.Context, key string) {
	s.mem.Delete(ctx, key)
}

// InvalidateClass drops every key belonging to class. The Memory cache keys
// entries by class-prefixed key, so this is only precise for classes with a
// single well-known key; singleChannel entries are invalidated individually
// via Invalidate(singleChannelKey(id)).
func (s *Store) InvalidateClass(ctx context.Context, class string) {
	s.mem.Delete(ctx, class)
}

// SingleChannelKey is exported so callers constructing singleChannel[id]
// cache keys stay consistent with GetOrLoad/Invalidate.
func SingleChannelKey(id string) string { return singleChannelKey(id) }
