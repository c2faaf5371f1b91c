package proxy

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// tokenEstimator falls back to a local tiktoken encoding to approximate
// token counts when an upstream response (chiefly some Gemini streaming
// error paths) omits usage entirely. Encoders are cached per model since
// construction loads a BPE rank table.
type tokenEstimator struct {
	mu       sync.Mutex
	encoders map[string]*tiktoken.Tiktoken
	fallback *tiktoken.Tiktoken
}

func newTokenEstimator() *tokenEstimator {
	fallback, _ := tiktoken.GetEncoding("cl100k_base")
	return &tokenEstimator{encoders: make(map[string]*tiktoken.Tiktoken), fallback: fallback}
}

func (e *tokenEstimator) encoderFor(model string) *tiktoken.Tiktoken {
	e.mu.Lock()
	defer e.mu.Unlock()
	if enc, ok := e.encoders[model]; ok {
		return enc
	}
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc = e.fallback
	}
	e.encoders[model] = enc
	return enc
}

// Estimate returns the approximate token count of text for model. Returns 0
// if no encoder (including the fallback) is available.
func (e *tokenEstimator) Estimate(model, text string) int {
	enc := e.encoderFor(model)
	if enc == nil {
		return 0
	}
	return len(enc.Encode(text, nil, nil))
}
