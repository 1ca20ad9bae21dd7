package claude

// playwrightPrefix is the MCP namespace the browser plugin registers under.
const playwrightPrefix = "mcp__plugin_playwright_playwright__browser_"

var builtinTools = []string{
	"Read",
	"Write",
	"Edit",
	"Glob",
	"Grep",
	"Bash",
	"TodoWrite",
}

var playwrightSuffixes = []string{
	"navigate",
	"navigate_back",
	"snapshot",
	"click",
	"fill_form",
	"type",
	"select_option",
	"hover",
	"drag",
	"press_key",
	"take_screenshot",
	"evaluate",
	"console_messages",
	"network_requests",
	"tabs",
	"close",
	"resize",
	"file_upload",
	"handle_dialog",
	"wait_for",
	"install",
	"run_code",
}

// BuiltinTools returns the core file and shell tools the agent may use.
func BuiltinTools() []string {
	out := make([]string, len(builtinTools))
	copy(out, builtinTools)
	return out
}

// PlaywrightTools returns the browser automation tools, fully namespaced.
func PlaywrightTools() []string {
	out := make([]string, 0, len(playwrightSuffixes))
	for _, s := range playwrightSuffixes {
		out = append(out, playwrightPrefix+s)
	}
	return out
}

// DefaultAllowedTools returns the full allow-list passed to the CLI when
// the configuration does not override it.
func DefaultAllowedTools() []string {
	return append(BuiltinTools(), PlaywrightTools()...)
}
