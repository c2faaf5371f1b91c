package proxy

import (
	"bufio"
	"bytes"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
)

const maxSSELineSize = 64 * 1024

// maxAccumulatedBody bounds the parallel in-memory copy kept for post-hoc
// token accounting; the wire copy going to the client is never bounded by
// this, only the accumulation is.
const maxAccumulatedBody = 8 << 20

// streamResult summarizes a piped SSE stream once it reaches EOF.
type streamResult struct {
	InputTokens  int
	OutputTokens int
	CachedTokens int
	StopReason   string
	Text         string // accumulated text_delta content, for token-estimation fallback
}

// pipeSSE forwards resp's SSE body to w frame by frame, flushing after each
// line, while accumulating a bounded parallel copy so usage/stop-reason can
// be extracted once the stream ends. The accumulated copy is never written
// back to the wire -- the client has already received each frame by the
// time this function inspects it.
func pipeSSE(w http.ResponseWriter, resp *http.Response) streamResult {
	flusher, _ := w.(http.Flusher)
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 4096), maxSSELineSize)

	var accum bytes.Buffer
	var result streamResult

	for scanner.Scan() {
		line := scanner.Bytes()
		w.Write(line)
		w.Write([]byte("\n"))
		if flusher != nil {
			flusher.Flush()
		}

		if accum.Len() < maxAccumulatedBody {
			accum.Write(line)
			accum.WriteByte('\n')
		}

		data, ok := sseData(string(line))
		if !ok || data == "[DONE]" {
			continue
		}
		mergeUsage(&result, []byte(data))
		if sr := gjson.Get(data, "delta.stop_reason"); sr.Exists() {
			result.StopReason = sr.String()
		}
		if text := gjson.Get(data, "delta.text"); text.Exists() {
			result.Text += text.String()
		}
	}
	return result
}

// sseData extracts the payload of a "data: ..." SSE line; ok is false for
// blank lines, comments, and any other field.
func sseData(line string) (string, bool) {
	if line == "" || line[0] == ':' {
		return "", false
	}
	key, value, found := strings.Cut(line, ":")
	if !found || key != "data" {
		return "", false
	}
	return strings.TrimPrefix(value, " "), true
}

// mergeUsage overlays any usage fields present in data onto result. Later
// frames (message_delta's cumulative usage) overwrite earlier ones.
func mergeUsage(result *streamResult, data []byte) {
	u := gjson.GetBytes(data, "usage")
	if !u.Exists() {
		u = gjson.GetBytes(data, "message.usage")
	}
	if !u.Exists() {
		return
	}
	if in := u.Get("input_tokens"); in.Exists() {
		result.InputTokens = int(in.Int())
	}
	if out := u.Get("output_tokens"); out.Exists() {
		result.OutputTokens = int(out.Int())
	}
	if cached := u.Get("cache_read_input_tokens"); cached.Exists() {
		result.CachedTokens = int(cached.Int())
	}
}

// extractUsage pulls the top-level usage object out of a full (non-streamed)
// JSON response body.
func extractUsage(body []byte) (in, out, cached int) {
	u := gjson.GetBytes(body, "usage")
	if !u.Exists() {
		return 0, 0, 0
	}
	return int(u.Get("input_tokens").Int()), int(u.Get("output_tokens").Int()), int(u.Get("cache_read_input_tokens").Int())
}
