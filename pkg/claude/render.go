package claude

import "github.com/fatih/color"

// Palette holds the colors used for stream narration. It is injected into
// the parser rather than referenced as globals so tests and transcripts can
// run colorless.
type Palette struct {
	// Banner colors the session start/end banners.
	Banner *color.Color
	// Dim colors metadata lines and tool input dumps.
	Dim *color.Color
	// Tool and ToolName color tool call markers.
	Tool     *color.Color
	ToolName *color.Color
	// Thinking colors extended-thinking output.
	Thinking *color.Color
	// OK marks tool results.
	OK *color.Color
	// Success and Failure color the final session banner and errors.
	Success *color.Color
	Failure *color.Color
}

// DefaultPalette returns the standard narration colors. fatih/color
// disables them automatically when stdout is not a terminal.
func DefaultPalette() Palette {
	return Palette{
		Banner:   color.New(color.FgCyan, color.Bold),
		Dim:      color.New(color.Faint),
		Tool:     color.New(color.FgYellow),
		ToolName: color.New(color.FgYellow, color.Bold),
		Thinking: color.New(color.FgMagenta),
		OK:       color.New(color.FgGreen),
		Success:  color.New(color.FgGreen, color.Bold),
		Failure:  color.New(color.FgRed, color.Bold),
	}
}
