// Package transform implements the request/response transformer pipeline.
// Transformers run in ascending priority order on the outbound request and
// descending priority order on the inbound response, so a stage that rewrites
// both directions (a dialect bridge) can undo on the way back what it did on
// the way out.
package transform

import (
	"context"
	"fmt"
	"slices"
)

// Context carries the per-request metadata a transformer may need without
// coupling it to the full request/response bodies.
type Context struct {
	Model     string
	Vendor    string
	ChannelID string
	RequestID string
}

// Transformer is a named pipeline stage. TransformRequest/TransformResponse
// operate on the canonical Anthropic Messages-shaped JSON body; a dialect
// bridge (openai, gemini) instead rewrites the body into and out of its
// vendor's wire format.
type Transformer interface {
	ID() string
	Priority() int
	TransformRequest(ctx context.Context, body []byte, tc Context) ([]byte, error)
	TransformResponse(ctx context.Context, body []byte, tc Context) ([]byte, error)
}

// Constructor builds a Transformer from its admin-configured options blob.
type Constructor func(opts []byte) (Transformer, error)

// Registry maps transformer IDs to constructors, so channels can reference
// transformers by name in their configured pipeline.
type Registry struct {
	constructors map[string]Constructor
}

// NewRegistry returns a Registry pre-populated with the built-in transformers.
func NewRegistry() *Registry {
	r := &Registry{constructors: make(map[string]Constructor)}
	r.Register("maxtoken", newMaxTokenFromOpts)
	r.Register("sampling", newSamplingFromOpts)
	r.Register("cleancache", newCleanCacheFromOpts)
	r.Register("openai-bridge", newOpenAIBridgeFromOpts)
	r.Register("gemini-bridge", newGeminiBridgeFromOpts)
	return r
}

// Register adds or replaces the constructor for id.
func (r *Registry) Register(id string, ctor Constructor) {
	r.constructors[id] = ctor
}

// Build constructs a Transformer by id with the given options.
func (r *Registry) Build(id string, opts []byte) (Transformer, error) {
	ctor, ok := r.constructors[id]
	if !ok {
		return nil, fmt.Errorf("transform: unknown transformer id %q", id)
	}
	return ctor(opts)
}

// Pipeline is an ordered, resolved set of transformers for one channel.
type Pipeline struct {
	stages []Transformer
}

// NewPipeline sorts stages into ascending-priority request order; the same
// slice reversed gives descending-priority response order.
func NewPipeline(stages []Transformer) *Pipeline {
	sorted := slices.Clone(stages)
	slices.SortStableFunc(sorted, func(a, b Transformer) int {
		return a.Priority() - b.Priority()
	})
	return &Pipeline{stages: sorted}
}

// Len reports the number of stages.
func (p *Pipeline) Len() int { return len(p.stages) }

// ApplyRequest runs stages in ascending-priority order, each receiving the
// previous stage's output.
func (p *Pipeline) ApplyRequest(ctx context.Context, body []byte, tc Context) ([]byte, error) {
	for _, t := range p.stages {
		var err error
		body, err = t.TransformRequest(ctx, body, tc)
		if err != nil {
			return nil, fmt.Errorf("transform: %s: request: %w", t.ID(), err)
		}
	}
	return body, nil
}

// ApplyResponse runs stages in descending-priority order (the reverse of
// ApplyRequest), so the pipeline unwinds symmetrically.
func (p *Pipeline) ApplyResponse(ctx context.Context, body []byte, tc Context) ([]byte, error) {
	for i := len(p.stages) - 1; i >= 0; i-- {
		t := p.stages[i]
		var err error
		body, err = t.TransformResponse(ctx, body, tc)
		if err != nil {
			return nil, fmt.Errorf("transform: %s: response: %w", t.ID(), err)
		}
	}
	return body, nil
}
