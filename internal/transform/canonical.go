package transform

import "encoding/json"

// CanonicalRequest is the Anthropic Messages API request shape. It is the
// wire format ingress accepts and the format every transformer operates on
// unless it is a dialect bridge.
type CanonicalRequest struct {
	Model         string          `json:"model"`
	MaxTokens     int             `json:"max_tokens"`
	Messages      []CanonicalMsg  `json:"messages"`
	System        json.RawMessage `json:"system,omitempty"`
	Temperature   *float64        `json:"temperature,omitempty"`
	TopP          *float64        `json:"top_p,omitempty"`
	TopK          *int            `json:"top_k,omitempty"`
	Stream        bool            `json:"stream,omitempty"`
	Tools         json.RawMessage `json:"tools,omitempty"`
	StopSequences json.RawMessage `json:"stop_sequences,omitempty"`
	CacheControl  json.RawMessage `json:"cache_control,omitempty"`
	Metadata      json.RawMessage `json:"metadata,omitempty"`
}

// CanonicalMsg is one Anthropic-shaped message turn.
type CanonicalMsg struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

// CanonicalUsage mirrors Anthropic's usage block.
type CanonicalUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// CanonicalResponse is the Anthropic Messages API response shape.
type CanonicalResponse struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Role       string          `json:"role"`
	Model      string          `json:"model"`
	Content    json.RawMessage `json:"content"`
	StopReason string          `json:"stop_reason,omitempty"`
	Usage      *CanonicalUsage `json:"usage,omitempty"`
}

func decodeRequest(body []byte) (*CanonicalRequest, error) {
	var req CanonicalRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

func encodeRequest(req *CanonicalRequest) ([]byte, error) {
	return json.Marshal(req)
}

func decodeResponse(body []byte) (*CanonicalResponse, error) {
	var resp CanonicalResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func encodeResponse(resp *CanonicalResponse) ([]byte, error) {
	return json.Marshal(resp)
}

// textContent extracts the plain-text portion of an Anthropic-shaped content
// block or string, ignoring tool_use/image blocks. Used for system prompts,
// which dialect bridges flatten to plain text.
func textContent(raw json.RawMessage) string {
	for _, b := range parseContentBlocks(raw) {
		if b.Type == "text" {
			return b.Text
		}
	}
	return ""
}

// imageSource is the nested base64 payload of an Anthropic image block.
type imageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

// contentBlock is one element of an Anthropic-shaped message content array:
// text, inline base64 image, tool_use (assistant-issued call), or tool_result
// (the caller's reply to one).
type contentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	Source    *imageSource    `json:"source,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
}

// parseContentBlocks normalizes an Anthropic message's content field, which
// is either a plain string or an array of typed blocks, into blocks.
func parseContentBlocks(raw json.RawMessage) []contentBlock {
	if len(raw) == 0 {
		return nil
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		if s == "" {
			return nil
		}
		return []contentBlock{{Type: "text", Text: s}}
	}
	var blocks []contentBlock
	if json.Unmarshal(raw, &blocks) != nil {
		return nil
	}
	return blocks
}
