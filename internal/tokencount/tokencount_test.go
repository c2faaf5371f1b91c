package tokencount

import "testing"

func TestCounter_EstimateBody(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		body    string
		wantMin int64
		wantMax int64
	}{
		{name: "short body", body: `{"role":"user","content":"hello"}`, wantMin: 5, wantMax: 20},
		{name: "longer body", body: `{"role":"system","content":"You are helpful."},{"role":"user","content":"Explain quantum computing."}`, wantMin: 15, wantMax: 40},
		{name: "empty body", body: "", wantMin: 0, wantMax: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := NewCounter()
			got := c.EstimateBody([]byte(tt.body))
			if got < tt.wantMin || got > tt.wantMax {
				t.Errorf("EstimateBody() = %d, want [%d, %d]", got, tt.wantMin, tt.wantMax)
			}
		})
	}
}

func TestCounter_CountText(t *testing.T) {
	t.Parallel()
	c := NewCounter()

	got := c.CountText("Hello, world!")
	if got < 1 {
		t.Errorf("CountText() = %d, want >= 1", got)
	}
}

func TestCounter_CountTextEmpty(t *testing.T) {
	t.Parallel()
	c := NewCounter()

	got := c.CountText("")
	if got != 0 {
		t.Errorf("CountText('') = %d, want 0", got)
	}
}
