package preflight

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"agentloop/pkg/config"
	"agentloop/pkg/tokens"
)

// checkClaudeCLI verifies the Claude Code CLI is installed and runnable.
func checkClaudeCLI(ctx context.Context) CheckResult {
	result := CheckResult{Check: CheckClaudeCLI}

	path, err := exec.LookPath("claude")
	if err != nil {
		result.Passed = false
		result.Message = "Claude Code CLI (claude) not found in PATH"
		result.Error = err
		return result
	}

	cmd := exec.CommandContext(ctx, "claude", "--version")
	output, err := cmd.Output()
	if err != nil {
		result.Passed = false
		result.Message = fmt.Sprintf("claude found at %s but --version failed", path)
		result.Error = err
		return result
	}

	version := strings.TrimSpace(string(output))
	result.Passed = true
	result.Message = fmt.Sprintf("Claude Code CLI %s", version)
	return result
}

// checkGit verifies git is available for branch and merge work.
func checkGit(ctx context.Context) CheckResult {
	result := CheckResult{Check: CheckGit}

	if _, err := exec.LookPath("git"); err != nil {
		result.Passed = false
		result.Message = "git not found in PATH"
		result.Error = err
		return result
	}

	cmd := exec.CommandContext(ctx, "git", "--version")
	output, err := cmd.Output()
	if err != nil {
		result.Passed = false
		result.Message = "git --version failed"
		result.Error = err
		return result
	}

	result.Passed = true
	result.Message = strings.TrimSpace(string(output))
	return result
}

// checkStateDir verifies the ledger directory exists and is writable.
func checkStateDir(cfg *config.Config) CheckResult {
	result := CheckResult{Check: CheckStateDir}

	if cfg == nil || cfg.StateDir == "" {
		result.Passed = false
		result.Message = "State directory is not configured"
		result.Error = fmt.Errorf("missing state directory")
		return result
	}

	if err := os.MkdirAll(cfg.StateDir, 0o755); err != nil {
		result.Passed = false
		result.Message = fmt.Sprintf("Cannot create state directory %s", cfg.StateDir)
		result.Error = err
		return result
	}

	probe := filepath.Join(cfg.StateDir, ".preflight_probe")
	if err := os.WriteFile(probe, []byte("ok\n"), 0o644); err != nil {
		result.Passed = false
		result.Message = fmt.Sprintf("State directory %s is not writable", cfg.StateDir)
		result.Error = err
		return result
	}
	os.Remove(probe)

	result.Passed = true
	result.Message = fmt.Sprintf("State directory %s is writable", cfg.StateDir)
	return result
}

// checkConfig verifies the loop configuration is complete.
func checkConfig(cfg *config.Config) CheckResult {
	result := CheckResult{Check: CheckConfig}

	if cfg == nil {
		result.Passed = false
		result.Message = "No configuration loaded"
		result.Error = fmt.Errorf("nil config")
		return result
	}

	if err := cfg.Validate(); err != nil {
		result.Passed = false
		result.Message = err.Error()
		result.Error = err
		return result
	}

	result.Passed = true
	result.Message = fmt.Sprintf("Configuration valid for project %q", cfg.ProjectName)
	return result
}

// checkAnthropicKey reports whether exact token counting is available. The
// CLI carries its own credentials, so a missing key is advisory, not fatal.
func checkAnthropicKey() CheckResult {
	result := CheckResult{Check: CheckAnthropicKey, Passed: true}

	if tokens.HaveAPIKey() {
		result.Message = "Anthropic API key is configured (exact token counts)"
	} else {
		result.Message = fmt.Sprintf("%s not set, token counts will be estimated", tokens.EnvAPIKey)
	}
	return result
}
