package transform

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// GeminiBridge translates between the canonical Anthropic Messages shape and
// Google's Gemini generateContent wire format, for channels whose vendor is
// gemini.
type GeminiBridge struct {
	id       string
	priority int
}

type geminiBridgeOpts struct {
	ID       string `json:"id"`
	Priority int    `json:"priority"`
}

func newGeminiBridgeFromOpts(opts []byte) (Transformer, error) {
	var o geminiBridgeOpts
	if len(opts) > 0 {
		if err := json.Unmarshal(opts, &o); err != nil {
			return nil, fmt.Errorf("gemini-bridge: decode opts: %w", err)
		}
	}
	if o.ID == "" {
		o.ID = "gemini-bridge"
	}
	return &GeminiBridge{id: o.ID, priority: o.Priority}, nil
}

func (t *GeminiBridge) ID() string    { return t.id }
func (t *GeminiBridge) Priority() int { return t.priority }

type geminiRequest struct {
	Contents          []geminiContent         `json:"contents"`
	SystemInstruction *geminiContent          `json:"systemInstruction,omitempty"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
	Tools             json.RawMessage         `json:"tools,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text             string            `json:"text,omitempty"`
	InlineData       *geminiInlineData `json:"inlineData,omitempty"`
	FunctionCall     json.RawMessage   `json:"functionCall,omitempty"`
	FunctionResponse json.RawMessage   `json:"functionResponse,omitempty"`
}

// geminiInlineData is Gemini's base64 inline media payload, the equivalent
// of Anthropic's image content block source.
type geminiInlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type geminiGenerationConfig struct {
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
	Temperature     *float64 `json:"temperature,omitempty"`
	TopP            *float64 `json:"topP,omitempty"`
	TopK            *int     `json:"topK,omitempty"`
	StopSequences   []string `json:"stopSequences,omitempty"`
}

// TransformRequest rewrites the canonical Anthropic-shaped body into a
// Gemini generateContent request. The model/vendor routing to pick the right
// :generateContent URL happens in the proxy layer, not here.
func (t *GeminiBridge) TransformRequest(_ context.Context, body []byte, _ Context) ([]byte, error) {
	req, err := decodeRequest(body)
	if err != nil {
		return nil, fmt.Errorf("decode canonical request: %w", err)
	}

	out := geminiRequest{
		Tools: req.Tools,
		GenerationConfig: &geminiGenerationConfig{
			MaxOutputTokens: req.MaxTokens,
			Temperature:     req.Temperature,
			TopP:            req.TopP,
			TopK:            req.TopK,
		},
	}
	if len(req.StopSequences) > 0 {
		var stops []string
		if json.Unmarshal(req.StopSequences, &stops) == nil {
			out.GenerationConfig.StopSequences = stops
		}
	}
	if len(req.System) > 0 {
		out.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: textContent(req.System)}}}
	}

	// tool_use ids only carry the function name on the assistant turn that
	// issued them; track it here so a later tool_result can be rebuilt into
	// a named functionResponse.
	toolNameByID := make(map[string]string)
	for _, m := range req.Messages {
		role := m.Role
		if role == "assistant" {
			role = "model"
		}
		out.Contents = append(out.Contents, geminiContent{
			Role:  role,
			Parts: anthropicBlocksToGeminiParts(parseContentBlocks(m.Content), toolNameByID),
		})
	}
	return json.Marshal(&out)
}

// anthropicBlocksToGeminiParts reshapes one Anthropic message's content
// blocks into Gemini parts: text stays text, inline base64 images become
// inlineData, tool_use becomes functionCall, and tool_result becomes
// functionResponse (named via toolNameByID, populated as tool_use blocks
// are seen).
func anthropicBlocksToGeminiParts(blocks []contentBlock, toolNameByID map[string]string) []geminiPart {
	var parts []geminiPart
	for _, b := range blocks {
		switch b.Type {
		case "text":
			parts = append(parts, geminiPart{Text: b.Text})
		case "image":
			if b.Source != nil {
				parts = append(parts, geminiPart{InlineData: &geminiInlineData{MimeType: b.Source.MediaType, Data: b.Source.Data}})
			}
		case "tool_use":
			toolNameByID[b.ID] = b.Name
			args := b.Input
			if len(args) == 0 {
				args = json.RawMessage("{}")
			}
			fc, _ := json.Marshal(map[string]any{"name": b.Name, "args": json.RawMessage(args)})
			parts = append(parts, geminiPart{FunctionCall: fc})
		case "tool_result":
			fr, _ := json.Marshal(map[string]any{
				"name":     toolNameByID[b.ToolUseID],
				"response": map[string]string{"content": toolResultText(b.Content)},
			})
			parts = append(parts, geminiPart{FunctionResponse: fr})
		}
	}
	return parts
}

// TransformResponse rewrites a Gemini generateContent response into the
// canonical Anthropic-shaped response.
func (t *GeminiBridge) TransformResponse(_ context.Context, body []byte, tc Context) ([]byte, error) {
	result := gjson.ParseBytes(body)
	candidate := result.Get("candidates.0")

	var textBuilder strings.Builder
	var contentBlocks []map[string]any
	callIndex := 0
	candidate.Get("content.parts").ForEach(func(_, part gjson.Result) bool {
		if text := part.Get("text"); text.Exists() {
			textBuilder.WriteString(text.String())
		}
		if inline := part.Get("inlineData"); inline.Exists() {
			contentBlocks = append(contentBlocks, map[string]any{
				"type": "image",
				"source": map[string]string{
					"type":       "base64",
					"media_type": inline.Get("mimeType").String(),
					"data":       inline.Get("data").String(),
				},
			})
		}
		if fc := part.Get("functionCall"); fc.Exists() {
			contentBlocks = append(contentBlocks, map[string]any{
				"type":  "tool_use",
				"id":    fmt.Sprintf("call_%d", callIndex),
				"name":  fc.Get("name").String(),
				"input": json.RawMessage(fc.Get("args").Raw),
			})
			callIndex++
		}
		return true
	})
	if textBuilder.Len() > 0 {
		contentBlocks = append([]map[string]any{{"type": "text", "text": textBuilder.String()}}, contentBlocks...)
	}
	content, err := json.Marshal(contentBlocks)
	if err != nil {
		return nil, fmt.Errorf("marshal content blocks: %w", err)
	}

	resp := CanonicalResponse{
		Type:       "message",
		Role:       "assistant",
		Model:      mapModel("gemini", tc.Model),
		Content:    content,
		StopReason: mapGeminiFinishReason(candidate.Get("finishReason").String()),
	}
	if u := result.Get("usageMetadata"); u.Exists() {
		resp.Usage = &CanonicalUsage{
			InputTokens:  int(u.Get("promptTokenCount").Int()),
			OutputTokens: int(u.Get("candidatesTokenCount").Int()),
		}
	}
	return encodeResponse(&resp)
}

func mapGeminiFinishReason(reason string) string {
	switch reason {
	case "STOP":
		return "end_turn"
	case "MAX_TOKENS":
		return "max_tokens"
	case "SAFETY", "RECITATION":
		return "stop_sequence"
	default:
		return reason
	}
}
