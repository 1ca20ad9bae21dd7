package claude

import (
	"encoding/json"
	"fmt"
	"strings"
)

// toolPreviewLimit caps pretty-printed tool inputs on composite events.
const toolPreviewLimit = 500

// Parser converts the claude CLI's stream-json output into human-readable
// narration while accumulating the session's text response.
//
// It handles both the CLI's composite events (assistant, system, result)
// and the raw API streaming shapes (message_start, content_block_*,
// message_stop); both encodings feed the same accumulated text, so the
// response handed back to the loop is independent of which encoding the
// CLI chose.
type Parser struct {
	palette Palette

	blockKind  string
	blockIndex int
	toolName   string
	toolInput  strings.Builder
	text       strings.Builder

	messageID string
	model     string

	inputTokens  int
	outputTokens int
	lastOutput   int
	result       *ResultSummary
}

// NewParser creates a parser rendering with the given palette.
func NewParser(palette Palette) *Parser {
	return &Parser{palette: palette}
}

// ParseLine handles one stream line and returns the narration to print.
// An empty return means the event is silent. Lines that are not JSON pass
// through verbatim; they are raw verbose output, not an error.
func (p *Parser) ParseLine(line string) string {
	line = strings.TrimSpace(line)
	if line == "" {
		return ""
	}

	var ev Event
	if err := json.Unmarshal([]byte(line), &ev); err != nil {
		return line
	}

	if ev.Type == "stream_event" && len(ev.Event) > 0 {
		var inner Event
		if err := json.Unmarshal(ev.Event, &inner); err != nil {
			return line
		}
		ev = inner
	}

	return p.handle(&ev)
}

// Text returns the concatenation of all text content seen so far. After the
// stream ends this is the session's response.
func (p *Parser) Text() string {
	return p.text.String()
}

// Result returns the final result event's summary, or nil if none arrived.
func (p *Parser) Result() *ResultSummary {
	return p.result
}

// InputTokens returns the input token total reported by the stream.
func (p *Parser) InputTokens() int {
	return p.inputTokens
}

// OutputTokens returns the output token total reported by the stream.
func (p *Parser) OutputTokens() int {
	return p.outputTokens
}

func (p *Parser) handle(ev *Event) string {
	switch ev.Type {
	case "assistant":
		return p.handleAssistant(ev)
	case "user":
		return ""
	case "system":
		return p.handleSystem(ev)
	case "result":
		return p.handleResult(ev)
	case "message_start":
		return p.handleMessageStart(ev)
	case "content_block_start":
		return p.handleBlockStart(ev)
	case "content_block_delta":
		return p.handleBlockDelta(ev)
	case "content_block_stop":
		return p.handleBlockStop()
	case "message_delta":
		return p.handleMessageDelta(ev)
	case "message_stop":
		p.outputTokens += p.lastOutput
		p.lastOutput = 0
		return "\n" + p.palette.Banner.Sprint("━━━ End Response ━━━") + "\n"
	case "error":
		return p.handleError(ev)
	case "ping", "progress", "queue-operation", "":
		return ""
	default:
		// Unknown event kinds get a debug tag, never a failure.
		return p.palette.Dim.Sprintf("[%s]", ev.Type) + " "
	}
}

func (p *Parser) handleMessageStart(ev *Event) string {
	p.messageID = "unknown"
	p.model = "unknown"
	inputTokens := 0

	if ev.Message != nil {
		if ev.Message.ID != "" {
			p.messageID = ev.Message.ID
		}
		if ev.Message.Model != "" {
			p.model = ev.Message.Model
		}
		if ev.Message.Usage != nil {
			inputTokens = ev.Message.Usage.InputTokens
			p.inputTokens += inputTokens
		}
	}

	return fmt.Sprintf("\n%s\n%s\n",
		p.palette.Banner.Sprint("━━━ Agent Response ━━━"),
		p.palette.Dim.Sprintf("Model: %s | Input tokens: %d", p.model, inputTokens))
}

func (p *Parser) handleBlockStart(ev *Event) string {
	p.blockIndex = ev.Index
	p.blockKind = ""
	if ev.ContentBlock != nil {
		p.blockKind = ev.ContentBlock.Type
	}

	switch p.blockKind {
	case "tool_use":
		p.toolName = "unknown"
		if ev.ContentBlock.Name != "" {
			p.toolName = ev.ContentBlock.Name
		}
		p.toolInput.Reset()
		return fmt.Sprintf("\n%s %s\n",
			p.palette.Tool.Sprint("⚡ Tool Call:"),
			p.palette.ToolName.Sprint(p.toolName))
	case "thinking":
		return "\n" + p.palette.Thinking.Sprint("💭 Thinking...") + "\n"
	default:
		// Text content arrives via deltas.
		return ""
	}
}

func (p *Parser) handleBlockDelta(ev *Event) string {
	if ev.Delta == nil {
		return ""
	}

	switch ev.Delta.Type {
	case "text_delta":
		p.text.WriteString(ev.Delta.Text)
		return ev.Delta.Text
	case "input_json_delta":
		// Partial JSON is unprintable until the block completes.
		p.toolInput.WriteString(ev.Delta.PartialJSON)
		return ""
	case "thinking_delta":
		return p.palette.Thinking.Sprint(ev.Delta.Thinking)
	case "signature_delta":
		return ""
	default:
		return ""
	}
}

func (p *Parser) handleBlockStop() string {
	output := ""

	switch {
	case p.blockKind == "tool_use" && p.toolInput.Len() > 0:
		output = p.palette.Dim.Sprint(prettyJSON(p.toolInput.String())) + "\n"
		p.toolInput.Reset()
	case p.blockKind == "thinking":
		output = p.palette.Thinking.Sprint("💭 ...done thinking") + "\n"
	}

	p.blockKind = ""
	p.toolName = ""
	return output
}

func (p *Parser) handleMessageDelta(ev *Event) string {
	outputTokens := 0
	if ev.Usage != nil {
		outputTokens = ev.Usage.OutputTokens
		// The API reports a running total per message; keep the latest.
		p.lastOutput = outputTokens
	}

	if ev.Delta != nil && ev.Delta.StopReason != "" {
		return "\n" + p.palette.Dim.Sprintf("[Stop: %s | Output tokens: %d]", ev.Delta.StopReason, outputTokens)
	}
	return ""
}

func (p *Parser) handleError(ev *Event) string {
	errType, message := "unknown", "Unknown error"
	if ev.Error != nil {
		if ev.Error.Type != "" {
			errType = ev.Error.Type
		}
		if ev.Error.Message != "" {
			message = ev.Error.Message
		}
	}
	return "\n" + p.palette.Failure.Sprintf("⚠ Error (%s): %s", errType, message) + "\n"
}

func (p *Parser) handleSystem(ev *Event) string {
	if ev.Subtype != "init" {
		return ""
	}

	model := ev.Model
	if model == "" {
		model = "unknown"
	}
	p.model = model

	return fmt.Sprintf("\n%s\n%s\n\n",
		p.palette.Banner.Sprint("━━━ Agent Started ━━━"),
		p.palette.Dim.Sprintf("Model: %s", model))
}

func (p *Parser) handleAssistant(ev *Event) string {
	if ev.Message == nil {
		return ""
	}

	if ev.Message.Usage != nil {
		p.inputTokens += ev.Message.Usage.InputTokens
		p.outputTokens += ev.Message.Usage.OutputTokens
	}

	var parts []string
	for i := range ev.Message.Content {
		block := &ev.Message.Content[i]
		switch block.Type {
		case "text":
			p.text.WriteString(block.Text)
			parts = append(parts, block.Text)
		case "tool_use":
			name := block.Name
			if name == "" {
				name = "unknown"
			}
			parts = append(parts, "\n"+p.palette.Tool.Sprint("⚡ "+name))
			if preview := toolPreview(block.Input); preview != "" {
				parts = append(parts, "\n"+p.palette.Dim.Sprint(preview))
			}
			parts = append(parts, "\n")
		case "tool_result":
			// Tool results can be verbose; show only a summary mark.
			parts = append(parts, p.palette.OK.Sprint("✓")+" ")
		}
	}

	return strings.Join(parts, "")
}

func (p *Parser) handleResult(ev *Event) string {
	p.result = &ResultSummary{
		Subtype:      ev.Subtype,
		DurationMS:   ev.DurationMS,
		NumTurns:     ev.NumTurns,
		TotalCostUSD: ev.TotalCostUSD,
	}

	// The result event's usage is authoritative for the whole session.
	if ev.Usage != nil {
		if ev.Usage.InputTokens > 0 {
			p.inputTokens = ev.Usage.InputTokens
		}
		if ev.Usage.OutputTokens > 0 {
			p.outputTokens = ev.Usage.OutputTokens
		}
	}

	durationStr := ""
	if ev.DurationMS > 0 {
		durationStr = fmt.Sprintf("%.1fs", float64(ev.DurationMS)/1000)
	}
	costStr := ""
	if ev.TotalCostUSD > 0 {
		costStr = fmt.Sprintf("$%.4f", ev.TotalCostUSD)
	}

	status, banner := "✗", p.palette.Failure
	if ev.Subtype == "success" {
		status, banner = "✓", p.palette.Success
	}

	return fmt.Sprintf("\n\n%s\n%s\n",
		banner.Sprintf("━━━ %s Session Complete ━━━", status),
		p.palette.Dim.Sprintf("Turns: %d | Duration: %s | Cost: %s", ev.NumTurns, durationStr, costStr))
}

// prettyJSON formats a complete tool input buffer, falling back to the raw
// buffer when it does not parse.
func prettyJSON(raw string) string {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return raw
	}
	formatted, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return raw
	}
	return string(formatted)
}

// toolPreview pretty-prints a composite tool input, truncated for display.
func toolPreview(input json.RawMessage) string {
	if len(input) == 0 {
		return ""
	}
	trimmed := strings.TrimSpace(string(input))
	if trimmed == "null" || trimmed == "{}" {
		return ""
	}

	var v any
	if err := json.Unmarshal(input, &v); err != nil {
		return ""
	}
	formatted, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return ""
	}

	s := string(formatted)
	if len(s) > toolPreviewLimit {
		s = s[:toolPreviewLimit] + "..."
	}
	return s
}
