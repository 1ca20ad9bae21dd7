package preflight

import (
	"fmt"
	"strings"
)

// FormatCheckError formats a failed check result with actionable guidance.
func FormatCheckError(check CheckResult) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("  %s: %s\n", check.Check, check.Message))
	sb.WriteString(fmt.Sprintf("    %s\n", getGuidance(check.Check)))

	return sb.String()
}

// FormatResults formats all preflight results for display.
func FormatResults(results *Results) string {
	var sb strings.Builder

	if results.Passed {
		sb.WriteString("Preflight checks passed\n")
		for i := range results.Checks {
			sb.WriteString(fmt.Sprintf("  [PASS] %s: %s\n", results.Checks[i].Check, results.Checks[i].Message))
		}
	} else {
		sb.WriteString("Preflight checks failed\n\n")
		sb.WriteString("Failed checks:\n")
		for i := range results.Checks {
			if !results.Checks[i].Passed {
				sb.WriteString(FormatCheckError(results.Checks[i]))
				sb.WriteString("\n")
			}
		}

		sb.WriteString("Passed checks:\n")
		for i := range results.Checks {
			if results.Checks[i].Passed {
				sb.WriteString(fmt.Sprintf("  [PASS] %s: %s\n", results.Checks[i].Check, results.Checks[i].Message))
			}
		}
	}

	return sb.String()
}

// getGuidance returns actionable guidance for fixing a failed check.
func getGuidance(check Check) string {
	switch check {
	case CheckClaudeCLI:
		return "Install the Claude Code CLI: npm install -g @anthropic-ai/claude-code"

	case CheckGit:
		return "Install git: https://git-scm.com/downloads"

	case CheckStateDir:
		return "Point --state-dir (or state_dir in the config file) at a writable directory."

	case CheckConfig:
		return "Fix the reported field in the config file or pass it as a flag."

	case CheckAnthropicKey:
		return "Set ANTHROPIC_API_KEY to enable exact token counting: https://console.anthropic.com/"

	default:
		return "Check the documentation for setup instructions."
	}
}
