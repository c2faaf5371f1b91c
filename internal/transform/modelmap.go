package transform

import "strings"

// fallbackModel is the vendor-neutral model sent upstream when the
// requested model has no known mapping for the target vendor.
const fallbackModel = "gpt-4o"

// nativePrefixes lists the model-name prefixes each vendor already speaks
// natively; a request in one of these is passed through unchanged rather
// than remapped.
var nativePrefixes = map[string][]string{
	"openai":    {"gpt-", "o1", "o3", "text-", "chatgpt-"},
	"gemini":    {"gemini-"},
	"anthropic": {"claude-"},
}

// modelAliases maps a known cross-vendor model synonym to the wire name a
// given vendor expects, so a client requesting e.g. "claude-3-5-sonnet"
// against an openai-vendor channel still gets a servable model.
var modelAliases = map[string]map[string]string{
	"openai": {
		"claude-3-5-sonnet":  "gpt-4o",
		"claude-3-opus":      "gpt-4o",
		"claude-3-sonnet":    "gpt-4o",
		"claude-3-haiku":     "gpt-4o-mini",
		"gemini-1.5-pro":     "gpt-4o",
		"gemini-1.5-flash":   "gpt-4o-mini",
		"gemini-2.0-flash":   "gpt-4o-mini",
	},
	"gemini": {
		"claude-3-5-sonnet": "gemini-1.5-pro",
		"claude-3-opus":     "gemini-1.5-pro",
		"claude-3-sonnet":   "gemini-1.5-pro",
		"claude-3-haiku":    "gemini-1.5-flash",
		"gpt-4o":            "gemini-1.5-pro",
		"gpt-4o-mini":       "gemini-1.5-flash",
		"gpt-4-turbo":       "gemini-1.5-pro",
	},
	"anthropic": {
		"gpt-4o":           "claude-3-5-sonnet-20241022",
		"gpt-4o-mini":      "claude-3-haiku-20240307",
		"gpt-4-turbo":      "claude-3-5-sonnet-20241022",
		"gemini-1.5-pro":   "claude-3-5-sonnet-20241022",
		"gemini-1.5-flash": "claude-3-haiku-20240307",
	},
}

// mapModel resolves model to the wire-format name the given vendor's API
// expects: passed through untouched if it already looks native to that
// vendor, translated via the synonym table on a prefix match, and otherwise
// sent to the vendor-neutral fallback rather than upstream verbatim.
func mapModel(vendor, model string) string {
	for _, prefix := range nativePrefixes[vendor] {
		if strings.HasPrefix(model, prefix) {
			return model
		}
	}
	aliases := modelAliases[vendor]
	if aliases == nil {
		return model
	}
	if mapped, ok := aliases[model]; ok {
		return mapped
	}
	for prefix, mapped := range aliases {
		if strings.HasPrefix(model, prefix) {
			return mapped
		}
	}
	return fallbackModel
}
