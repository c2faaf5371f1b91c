package transform

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
)

// OpenAIBridge translates between the canonical Anthropic Messages shape and
// the OpenAI Chat Completions wire format, for channels whose vendor is
// openai. Its priority comes from its options (0 by default) like any other
// stage, so its place in a channel's pipeline follows priority and then the
// channel's configured transformer order.
type OpenAIBridge struct {
	id       string
	priority int
}

type openAIBridgeOpts struct {
	ID       string `json:"id"`
	Priority int    `json:"priority"`
}

func newOpenAIBridgeFromOpts(opts []byte) (Transformer, error) {
	var o openAIBridgeOpts
	if len(opts) > 0 {
		if err := json.Unmarshal(opts, &o); err != nil {
			return nil, fmt.Errorf("openai-bridge: decode opts: %w", err)
		}
	}
	if o.ID == "" {
		o.ID = "openai-bridge"
	}
	return &OpenAIBridge{id: o.ID, priority: o.Priority}, nil
}

func (t *OpenAIBridge) ID() string    { return t.id }
func (t *OpenAIBridge) Priority() int { return t.priority }

type openAIChatRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature *float64        `json:"temperature,omitempty"`
	TopP        *float64        `json:"top_p,omitempty"`
	Stream      bool            `json:"stream,omitempty"`
	Tools       json.RawMessage `json:"tools,omitempty"`
	Stop        json.RawMessage `json:"stop,omitempty"`
}

type openAIMessage struct {
	Role       string           `json:"role"`
	Content    json.RawMessage  `json:"content,omitempty"`
	ToolCalls  []openAIToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

type openAIToolCall struct {
	ID       string              `json:"id"`
	Type     string              `json:"type"`
	Function openAIFunctionCall  `json:"function"`
}

type openAIFunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// TransformRequest rewrites the canonical Anthropic-shaped body into an
// OpenAI Chat Completions request. Text, inline base64 images, and
// tool_use/tool_result blocks are each reshaped into their OpenAI
// equivalent rather than forwarded verbatim.
func (t *OpenAIBridge) TransformRequest(_ context.Context, body []byte, tc Context) ([]byte, error) {
	req, err := decodeRequest(body)
	if err != nil {
		return nil, fmt.Errorf("decode canonical request: %w", err)
	}

	out := openAIChatRequest{
		Model:       mapModel(tc.Vendor, req.Model),
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stream:      req.Stream,
		Tools:       req.Tools,
		Stop:        req.StopSequences,
	}
	if len(req.System) > 0 {
		out.Messages = append(out.Messages, openAIMessage{Role: "system", Content: jsonString(textContent(req.System))})
	}
	for _, m := range req.Messages {
		out.Messages = append(out.Messages, anthropicBlocksToOpenAI(m.Role, parseContentBlocks(m.Content))...)
	}
	return json.Marshal(&out)
}

// jsonString marshals a Go string into its JSON-encoded form.
func jsonString(s string) json.RawMessage {
	b, _ := json.Marshal(s)
	return b
}

// anthropicBlocksToOpenAI reshapes one Anthropic message's content blocks
// into the OpenAI messages it maps to: a single role message carrying text
// and image_url parts plus any tool_calls, followed by one role:"tool"
// message per tool_result block (OpenAI requires those as standalone
// messages, not inline content).
func anthropicBlocksToOpenAI(role string, blocks []contentBlock) []openAIMessage {
	var parts []map[string]any
	var toolCalls []openAIToolCall
	var toolMsgs []openAIMessage

	for _, b := range blocks {
		switch b.Type {
		case "text":
			parts = append(parts, map[string]any{"type": "text", "text": b.Text})
		case "image":
			if b.Source != nil {
				url := "data:" + b.Source.MediaType + ";base64," + b.Source.Data
				parts = append(parts, map[string]any{"type": "image_url", "image_url": map[string]string{"url": url}})
			}
		case "tool_use":
			args := "{}"
			if len(b.Input) > 0 {
				args = string(b.Input)
			}
			toolCalls = append(toolCalls, openAIToolCall{
				ID: b.ID, Type: "function",
				Function: openAIFunctionCall{Name: b.Name, Arguments: args},
			})
		case "tool_result":
			toolMsgs = append(toolMsgs, openAIMessage{
				Role: "tool", ToolCallID: b.ToolUseID,
				Content: jsonString(toolResultText(b.Content)),
			})
		}
	}

	var msgs []openAIMessage
	if len(parts) > 0 || len(toolCalls) > 0 {
		msg := openAIMessage{Role: role}
		switch {
		case len(parts) == 1 && parts[0]["type"] == "text":
			msg.Content = jsonString(parts[0]["text"].(string))
		case len(parts) > 0:
			raw, _ := json.Marshal(parts)
			msg.Content = raw
		}
		msg.ToolCalls = toolCalls
		msgs = append(msgs, msg)
	}
	return append(msgs, toolMsgs...)
}

// toolResultText flattens an Anthropic tool_result block's content, which is
// either a plain string or an array of text blocks, to a single string.
func toolResultText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	return textContent(raw)
}

// TransformResponse rewrites an OpenAI Chat Completions response into the
// canonical Anthropic-shaped response.
func (t *OpenAIBridge) TransformResponse(_ context.Context, body []byte, _ Context) ([]byte, error) {
	result := gjson.ParseBytes(body)

	choice := result.Get("choices.0")
	finishReason := choice.Get("finish_reason").String()

	var contentBlocks []map[string]any
	if text := choice.Get("message.content"); text.Exists() && text.Type == gjson.String && text.String() != "" {
		contentBlocks = append(contentBlocks, map[string]any{"type": "text", "text": text.String()})
	}
	choice.Get("message.tool_calls").ForEach(func(_, tc gjson.Result) bool {
		var input json.RawMessage
		if raw := tc.Get("function.arguments"); raw.Exists() {
			input = json.RawMessage(raw.Raw)
			if raw.Type == gjson.String {
				input = json.RawMessage(raw.String())
			}
		}
		contentBlocks = append(contentBlocks, map[string]any{
			"type":  "tool_use",
			"id":    tc.Get("id").String(),
			"name":  tc.Get("function.name").String(),
			"input": input,
		})
		return true
	})
	content, err := json.Marshal(contentBlocks)
	if err != nil {
		return nil, fmt.Errorf("marshal content blocks: %w", err)
	}

	resp := CanonicalResponse{
		ID:         result.Get("id").String(),
		Type:       "message",
		Role:       "assistant",
		Model:      result.Get("model").String(),
		Content:    content,
		StopReason: mapOpenAIFinishReason(finishReason),
	}
	if u := result.Get("usage"); u.Exists() {
		resp.Usage = &CanonicalUsage{
			InputTokens:  int(u.Get("prompt_tokens").Int()),
			OutputTokens: int(u.Get("completion_tokens").Int()),
		}
	}
	return encodeResponse(&resp)
}

func mapOpenAIFinishReason(reason string) string {
	switch reason {
	case "stop":
		return "end_turn"
	case "length":
		return "max_tokens"
	case "tool_calls":
		return "tool_use"
	case "content_filter":
		return "stop_sequence"
	default:
		return reason
	}
}
