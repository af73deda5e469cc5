// Package anthropic defines the wire types for the subset of the
// Anthropic Messages API the gateway's HTTP front-end speaks: plain
// text turns in, plain text (or SSE-streamed) turns out. Tool use,
// image blocks, and thinking-signature passthrough are intentionally
// not modeled here — the dispatch engine already exchanges those as
// opaque upstream JSON, and the front-end's contract only needs text.
package anthropic

// ContentBlock is one block of a message's content array. Only Text
// is populated; other block types are accepted on input and dropped.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// Message is one turn of the conversation.
type Message struct {
	Role    string `json:"role"`
	Content any    `json:"content"` // string or []ContentBlock
}

// MessagesRequest is the POST /v1/messages request body.
type MessagesRequest struct {
	Model     string    `json:"model"`
	Messages  []Message `json:"messages"`
	System    any       `json:"system,omitempty"` // string or []ContentBlock
	MaxTokens int       `json:"max_tokens,omitempty"`
	Stream    bool      `json:"stream,omitempty"`
}

// MessagesResponse is the non-streaming POST /v1/messages response.
type MessagesResponse struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Role       string         `json:"role"`
	Model      string         `json:"model"`
	Content    []ContentBlock `json:"content"`
	StopReason string         `json:"stop_reason"`
}

// TextOf extracts the plain-text content of a message's Content field,
// which per the API may be a bare string or a content-block array.
func TextOf(content any) string {
	switch v := content.(type) {
	case string:
		return v
	case []any:
		var out string
		for _, item := range v {
			m, ok := item.(map[string]interface{})
			if !ok {
				continue
			}
			if t, ok := m["text"].(string); ok {
				out += t
			}
		}
		return out
	default:
		return ""
	}
}
