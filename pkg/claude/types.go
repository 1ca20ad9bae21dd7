package claude

import "encoding/json"

// Event is a single NDJSON object from the claude CLI stream. Both the raw
// API streaming shapes and the CLI's composite shapes decode into it; only
// the fields matching the event's type carry values.
type Event struct {
	Type    string `json:"type"`
	Subtype string `json:"subtype"`

	// Event holds the wrapped payload of a stream_event envelope.
	Event json.RawMessage `json:"event"`

	// Message is set on message_start and assistant events.
	Message *Message `json:"message"`

	// Block-level fields for content_block_* events.
	Index        int           `json:"index"`
	ContentBlock *ContentBlock `json:"content_block"`
	Delta        *Delta        `json:"delta"`

	Usage *Usage       `json:"usage"`
	Error *StreamError `json:"error"`

	// Composite fields for system init and result events.
	Model        string  `json:"model"`
	DurationMS   int64   `json:"duration_ms"`
	NumTurns     int     `json:"num_turns"`
	TotalCostUSD float64 `json:"total_cost_usd"`
}

// Message is the payload of message_start and assistant events.
type Message struct {
	ID      string         `json:"id"`
	Model   string         `json:"model"`
	Role    string         `json:"role"`
	Content []ContentBlock `json:"content"`
	Usage   *Usage         `json:"usage"`
}

// ContentBlock is one block of a message: text, tool_use, tool_result, or
// thinking. Input is the full tool input object on composite events.
type ContentBlock struct {
	Type  string          `json:"type"`
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Text  string          `json:"text"`
	Input json.RawMessage `json:"input"`
}

// Delta carries the incremental payloads of content_block_delta and the
// stop reason of message_delta.
type Delta struct {
	Type        string `json:"type"`
	Text        string `json:"text"`
	PartialJSON string `json:"partial_json"`
	Thinking    string `json:"thinking"`
	StopReason  string `json:"stop_reason"`
}

// Usage carries token counts.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// StreamError is the payload of an error event.
type StreamError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ResultSummary is the final result event's accounting, kept for metrics
// and the session log.
type ResultSummary struct {
	Subtype      string
	DurationMS   int64
	NumTurns     int
	TotalCostUSD float64
}

// Success reports whether the session finished with a success result.
func (r *ResultSummary) Success() bool {
	return r != nil && r.Subtype == "success"
}
