package transform

import "testing"

func TestMapModelPassesThroughNative(t *testing.T) {
	if got := mapModel("openai", "gpt-4o-mini"); got != "gpt-4o-mini" {
		t.Errorf("expected native openai model unchanged, got %q", got)
	}
	if got := mapModel("gemini", "gemini-1.5-flash"); got != "gemini-1.5-flash" {
		t.Errorf("expected native gemini model unchanged, got %q", got)
	}
}

func TestMapModelTranslatesKnownSynonym(t *testing.T) {
	if got := mapModel("openai", "claude-3-5-sonnet"); got != "gpt-4o" {
		t.Errorf("expected claude-3-5-sonnet mapped to gpt-4o, got %q", got)
	}
	if got := mapModel("gemini", "claude-3-haiku"); got != "gemini-1.5-flash" {
		t.Errorf("expected claude-3-haiku mapped to gemini-1.5-flash, got %q", got)
	}
}

func TestMapModelFallsBackForUnknown(t *testing.T) {
	if got := mapModel("openai", "some-unlisted-model"); got != fallbackModel {
		t.Errorf("expected unknown model to fall back to %q, got %q", fallbackModel, got)
	}
}
