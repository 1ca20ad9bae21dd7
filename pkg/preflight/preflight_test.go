package preflight

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"agentloop/pkg/config"
)

func validConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.ProjectDir = t.TempDir()
	cfg.StateDir = cfg.ProjectDir
	return &cfg
}

// TestCheckClaudeCLI runs against whatever environment the tests have; the
// CLI may legitimately be absent, so only the result shape is asserted.
func TestCheckClaudeCLI(t *testing.T) {
	result := checkClaudeCLI(context.Background())

	if result.Message == "" {
		t.Error("check should always carry a message")
	}
	if !result.Passed && result.Error == nil {
		t.Error("failed check should carry an error")
	}
	if !result.Passed {
		t.Logf("claude CLI unavailable here (expected in CI): %s", result.Message)
	}
}

func TestCheckGit(t *testing.T) {
	result := checkGit(context.Background())

	if result.Passed && !strings.Contains(result.Message, "git version") {
		t.Errorf("passing git check should report the version, got %q", result.Message)
	}
	if !result.Passed {
		t.Logf("git unavailable here: %s", result.Message)
	}
}

func TestCheckStateDirWritable(t *testing.T) {
	cfg := validConfig(t)

	result := checkStateDir(cfg)
	if !result.Passed {
		t.Errorf("temp state dir should be writable: %s", result.Message)
	}
}

func TestCheckStateDirRejectsBadPath(t *testing.T) {
	cfg := validConfig(t)
	// A path under a regular file can never be created.
	blocker := filepath.Join(cfg.ProjectDir, "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatalf("Failed to create blocker file: %v", err)
	}
	cfg.StateDir = filepath.Join(blocker, "state")

	result := checkStateDir(cfg)
	if result.Passed {
		t.Error("state dir under a regular file should fail")
	}
	if result.Error == nil {
		t.Error("failed check should carry an error")
	}
}

func TestCheckStateDirUnconfigured(t *testing.T) {
	result := checkStateDir(nil)
	if result.Passed {
		t.Error("nil config should fail the state dir check")
	}
}

func TestCheckConfig(t *testing.T) {
	result := checkConfig(validConfig(t))
	if !result.Passed {
		t.Errorf("valid config rejected: %s", result.Message)
	}

	bad := config.Default()
	result = checkConfig(&bad)
	if result.Passed {
		t.Error("config without project_dir should fail")
	}
	if !strings.Contains(result.Message, "project_dir") {
		t.Errorf("failure should name the bad field, got %q", result.Message)
	}

	result = checkConfig(nil)
	if result.Passed {
		t.Error("nil config should fail")
	}
}

// TestCheckAnthropicKey verifies the key check is advisory in both states.
func TestCheckAnthropicKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	result := checkAnthropicKey()
	if !result.Passed {
		t.Error("missing API key must stay advisory")
	}
	if !strings.Contains(result.Message, "not set") {
		t.Errorf("missing-key message = %q", result.Message)
	}

	t.Setenv("ANTHROPIC_API_KEY", "test-key")
	result = checkAnthropicKey()
	if !result.Passed || !strings.Contains(result.Message, "configured") {
		t.Errorf("configured-key result = %+v", result)
	}
}

func TestRunReportsEveryCheck(t *testing.T) {
	results, err := Run(context.Background(), validConfig(t))
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if len(results.Checks) != len(allChecks) {
		t.Fatalf("got %d checks, want %d", len(results.Checks), len(allChecks))
	}
	for i, check := range allChecks {
		if results.Checks[i].Check != check {
			t.Errorf("check %d = %s, want %s", i, results.Checks[i].Check, check)
		}
	}
	if results.Summary == "" {
		t.Error("summary should never be empty")
	}
}

func TestValidateSurfacesConfigFailures(t *testing.T) {
	bad := config.Default()
	bad.ProjectDir = ""

	err := Validate(context.Background(), &bad)
	if err == nil {
		t.Fatal("Validate should fail on incomplete config")
	}
	if !strings.Contains(err.Error(), "config") {
		t.Errorf("error should name the failed check: %v", err)
	}
}

// TestFormatCheckError tests error formatting.
func TestFormatCheckError(t *testing.T) {
	check := CheckResult{
		Check:   CheckClaudeCLI,
		Passed:  false,
		Message: "Claude Code CLI (claude) not found in PATH",
	}

	formatted := FormatCheckError(check)
	if !strings.Contains(formatted, "claude-cli") {
		t.Error("formatted error should name the check")
	}
	if !strings.Contains(formatted, "not found in PATH") {
		t.Error("formatted error should include the message")
	}
	if !strings.Contains(formatted, "npm install") {
		t.Error("formatted error should include guidance")
	}
}

// TestFormatResults tests results formatting.
func TestFormatResults(t *testing.T) {
	results := &Results{
		Passed: true,
		Checks: []CheckResult{
			{Check: CheckGit, Passed: true, Message: "git version 2.43.0"},
			{Check: CheckStateDir, Passed: true, Message: "writable"},
		},
	}

	formatted := FormatResults(results)
	if !strings.Contains(formatted, "Preflight checks passed") {
		t.Error("passed results should indicate success")
	}
	if !strings.Contains(formatted, "[PASS] git") {
		t.Error("passed results should list each check")
	}

	results.Passed = false
	results.Checks[1].Passed = false
	results.Checks[1].Message = "state dir read-only"

	formatted = FormatResults(results)
	if !strings.Contains(formatted, "Preflight checks failed") {
		t.Error("failed results should indicate failure")
	}
	if !strings.Contains(formatted, "state dir read-only") {
		t.Error("failed results should include the failure message")
	}
}
