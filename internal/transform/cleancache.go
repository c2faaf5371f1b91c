package transform

import (
	"context"
	"encoding/json"
	"fmt"
)

// CleanCache strips Anthropic prompt-caching and metadata fields from an
// outbound request before it reaches a vendor that does not understand
// them, so a channel can be swapped to a non-Anthropic vendor without the
// caller needing to change its request shape.
type CleanCache struct {
	id       string
	priority int
}

type cleanCacheOpts struct {
	ID       string `json:"id"`
	Priority int    `json:"priority"`
}

func newCleanCacheFromOpts(opts []byte) (Transformer, error) {
	var o cleanCacheOpts
	if len(opts) > 0 {
		if err := json.Unmarshal(opts, &o); err != nil {
			return nil, fmt.Errorf("cleancache: decode opts: %w", err)
		}
	}
	if o.ID == "" {
		o.ID = "cleancache"
	}
	return &CleanCache{id: o.ID, priority: o.Priority}, nil
}

func (t *CleanCache) ID() string    { return t.id }
func (t *CleanCache) Priority() int { return t.priority }

func (t *CleanCache) TransformRequest(_ context.Context, body []byte, _ Context) ([]byte, error) {
	req, err := decodeRequest(body)
	if err != nil {
		return nil, fmt.Errorf("decode request: %w", err)
	}
	req.CacheControl = nil
	req.Metadata = nil
	return encodeRequest(req)
}

func (t *CleanCache) TransformResponse(_ context.Context, body []byte, _ Context) ([]byte, error) {
	return body, nil
}
