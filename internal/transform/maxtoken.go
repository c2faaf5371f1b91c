package transform

import (
	"context"
	"encoding/json"
	"fmt"

	routex "github.com/dctx/routex/internal"
)

// MaxToken clamps (or, in strict mode, rejects) an outbound request's
// max_tokens against Limit, and fills a default when the caller omitted it.
// It does not touch the response; the clamp is one-directional by design.
type MaxToken struct {
	id       string
	priority int
	Limit    int
	Default  int
	Strict   bool
}

type maxTokenOpts struct {
	ID       string `json:"id"`
	Priority int    `json:"priority"`
	Limit    int    `json:"limit"`
	Default  int    `json:"default"`
	Strict   bool   `json:"strict"`
}

func newMaxTokenFromOpts(opts []byte) (Transformer, error) {
	var o maxTokenOpts
	if len(opts) > 0 {
		if err := json.Unmarshal(opts, &o); err != nil {
			return nil, fmt.Errorf("maxtoken: decode opts: %w", err)
		}
	}
	if o.ID == "" {
		o.ID = "maxtoken"
	}
	if o.Limit <= 0 {
		o.Limit = 4096
	}
	if o.Default <= 0 {
		o.Default = o.Limit
	}
	return &MaxToken{id: o.ID, priority: o.Priority, Limit: o.Limit, Default: o.Default, Strict: o.Strict}, nil
}

func (t *MaxToken) ID() string    { return t.id }
func (t *MaxToken) Priority() int { return t.priority }

func (t *MaxToken) TransformRequest(_ context.Context, body []byte, _ Context) ([]byte, error) {
	req, err := decodeRequest(body)
	if err != nil {
		return nil, fmt.Errorf("decode request: %w", err)
	}
	switch {
	case req.MaxTokens <= 0:
		req.MaxTokens = t.Default
	case req.MaxTokens > t.Limit:
		if t.Strict {
			return nil, routex.ErrTokenLimitExceeded
		}
		req.MaxTokens = t.Limit
	}
	return encodeRequest(req)
}

func (t *MaxToken) TransformResponse(_ context.Context, body []byte, _ Context) ([]byte, error) {
	return body, nil
}
