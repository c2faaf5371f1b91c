package transform

import (
	"context"
	"encoding/json"
	"fmt"
)

// floatRange is an inclusive [Min, Max] clamp bound.
type floatRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

func (r floatRange) clamp(v float64) float64 {
	if v < r.Min {
		return r.Min
	}
	if v > r.Max {
		return r.Max
	}
	return v
}

// Sampling clamps temperature/top_p/top_k into configured ranges, or, in
// EnforceDefaults mode, replaces the caller's value outright so a channel
// can pin reproducible sampling behavior.
type Sampling struct {
	id              string
	priority        int
	Temperature     *floatRange
	TopP            *floatRange
	TopK            *[2]int
	Defaults        SamplingDefaults
	EnforceDefaults bool
}

// SamplingDefaults fill values the caller left unset (before clamping), or,
// when EnforceDefaults is set, replace the caller's values in place of clamping.
type SamplingDefaults struct {
	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
	TopK        *int     `json:"top_k,omitempty"`
}

type samplingOpts struct {
	ID              string            `json:"id"`
	Priority        int               `json:"priority"`
	Temperature     *floatRange       `json:"temperature_range,omitempty"`
	TopP            *floatRange       `json:"top_p_range,omitempty"`
	TopK            *[2]int           `json:"top_k_range,omitempty"`
	Defaults        *SamplingDefaults `json:"defaults,omitempty"`
	EnforceDefaults bool              `json:"enforce_defaults"`
}

func newSamplingFromOpts(opts []byte) (Transformer, error) {
	var o samplingOpts
	if len(opts) > 0 {
		if err := json.Unmarshal(opts, &o); err != nil {
			return nil, fmt.Errorf("sampling: decode opts: %w", err)
		}
	}
	if o.ID == "" {
		o.ID = "sampling"
	}
	s := &Sampling{
		id:              o.ID,
		priority:        o.Priority,
		Temperature:     o.Temperature,
		TopP:            o.TopP,
		TopK:            o.TopK,
		EnforceDefaults: o.EnforceDefaults,
	}
	if o.Defaults != nil {
		s.Defaults = *o.Defaults
	}
	return s, nil
}

func (t *Sampling) ID() string    { return t.id }
func (t *Sampling) Priority() int { return t.priority }

func (t *Sampling) TransformRequest(_ context.Context, body []byte, _ Context) ([]byte, error) {
	req, err := decodeRequest(body)
	if err != nil {
		return nil, fmt.Errorf("decode request: %w", err)
	}

	if t.EnforceDefaults {
		if t.Defaults.Temperature != nil {
			req.Temperature = t.Defaults.Temperature
		}
		if t.Defaults.TopP != nil {
			req.TopP = t.Defaults.TopP
		}
		if t.Defaults.TopK != nil {
			req.TopK = t.Defaults.TopK
		}
		return encodeRequest(req)
	}

	if req.Temperature == nil && t.Defaults.Temperature != nil {
		req.Temperature = t.Defaults.Temperature
	}
	if req.TopP == nil && t.Defaults.TopP != nil {
		req.TopP = t.Defaults.TopP
	}
	if req.TopK == nil && t.Defaults.TopK != nil {
		req.TopK = t.Defaults.TopK
	}

	if t.Temperature != nil && req.Temperature != nil {
		clamped := t.Temperature.clamp(*req.Temperature)
		req.Temperature = &clamped
	}
	if t.TopP != nil && req.TopP != nil {
		clamped := t.TopP.clamp(*req.TopP)
		req.TopP = &clamped
	}
	if t.TopK != nil && req.TopK != nil {
		v := *req.TopK
		if v < t.TopK[0] {
			v = t.TopK[0]
		}
		if v > t.TopK[1] {
			v = t.TopK[1]
		}
		req.TopK = &v
	}
	return encodeRequest(req)
}

func (t *Sampling) TransformResponse(_ context.Context, body []byte, _ Context) ([]byte, error) {
	return body, nil
}
