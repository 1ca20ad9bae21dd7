// Package preflight validates the environment before the orchestration
// loop starts: the claude CLI and git must be runnable, the state directory
// writable, and the configuration complete. Run it early so a six-hour
// autonomous run does not die on its first session.
package preflight

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"agentloop/pkg/config"
)

// Check identifies one preflight validation.
type Check string

// Check constants for everything the loop depends on.
const (
	CheckClaudeCLI    Check = "claude-cli"
	CheckGit          Check = "git"
	CheckStateDir     Check = "state-dir"
	CheckConfig       Check = "config"
	CheckAnthropicKey Check = "anthropic-key"
)

// allChecks lists every check in report order.
var allChecks = []Check{
	CheckClaudeCLI,
	CheckGit,
	CheckStateDir,
	CheckConfig,
	CheckAnthropicKey,
}

// CheckResult represents the outcome of a single preflight check.
type CheckResult struct {
	Error   error
	Message string
	Check   Check
	Passed  bool
}

// Results contains all preflight check results.
type Results struct {
	Summary string
	Checks  []CheckResult
	Passed  bool
}

// Run executes every preflight check against the given configuration.
func Run(ctx context.Context, cfg *config.Config) (*Results, error) {
	results := &Results{
		Checks: make([]CheckResult, 0, len(allChecks)),
		Passed: true,
	}

	var failed int
	for _, check := range allChecks {
		result := runCheck(ctx, check, cfg)
		results.Checks = append(results.Checks, result)

		if !result.Passed {
			results.Passed = false
			failed++
		}
	}

	if results.Passed {
		results.Summary = fmt.Sprintf("All %d preflight checks passed", len(results.Checks))
	} else {
		results.Summary = fmt.Sprintf("%d of %d preflight checks failed", failed, len(results.Checks))
	}

	return results, nil
}

// runCheck executes a single check.
func runCheck(ctx context.Context, check Check, cfg *config.Config) CheckResult {
	switch check {
	case CheckClaudeCLI:
		return checkClaudeCLI(ctx)
	case CheckGit:
		return checkGit(ctx)
	case CheckStateDir:
		return checkStateDir(cfg)
	case CheckConfig:
		return checkConfig(cfg)
	case CheckAnthropicKey:
		return checkAnthropicKey()
	default:
		return CheckResult{
			Check:   check,
			Passed:  false,
			Message: "Unknown check",
			Error:   fmt.Errorf("unknown check: %s", check),
		}
	}
}

// Validate runs all checks and returns an error if any fail. Use this for
// simple pass/fail gating before the loop starts.
func Validate(ctx context.Context, cfg *config.Config) error {
	results, err := Run(ctx, cfg)
	if err != nil {
		return fmt.Errorf("preflight check error: %w", err)
	}

	if !results.Passed {
		var failedChecks []string
		for i := range results.Checks {
			if !results.Checks[i].Passed {
				failedChecks = append(failedChecks, FormatCheckError(results.Checks[i]))
			}
		}
		return errors.New(strings.Join(failedChecks, "\n"))
	}

	return nil
}
