// Package orchestrator drives the autonomous agent loop: it prepares the
// project workspace, decides which session type runs next, renders the role
// prompt, launches the agent subprocess, and advances the state machine from
// the session outcome and the ledgers the agent updated.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"agentloop/pkg/claude"
	"agentloop/pkg/config"
	"agentloop/pkg/ledger"
	"agentloop/pkg/logx"
	"agentloop/pkg/metrics"
	"agentloop/pkg/prompts"
	"agentloop/pkg/session"
	"agentloop/pkg/tokens"
	"agentloop/pkg/workspace"
)

// sessionPause is the gap between sessions, long enough for an operator to
// interrupt cleanly before the next subprocess launches.
const sessionPause = 2 * time.Second

// Console tags for loop narration lines.
const (
	tagInfo    = "INFO"
	tagWarn    = "WARN"
	tagError   = "ERROR"
	tagSession = "SESSION"
	tagSuccess = "SUCCESS"
	tagQueue   = "QUEUE"
	tagLimit   = "LIMIT"
	tagDone    = "DONE"
)

var divider = strings.Repeat("=", 70)

// SessionRunner runs one agent session to completion. The production
// implementation launches the claude CLI; tests substitute a scripted one.
type SessionRunner interface {
	Run(ctx context.Context, spec claude.SessionSpec) (claude.RunResult, error)
}

var _ SessionRunner = (*claude.Runner)(nil)

// Loop is the orchestration loop. Construct with New; the exported fields
// may be replaced before Run for testing or output redirection.
type Loop struct {
	// Runner executes agent sessions.
	Runner SessionRunner
	// Out receives all user-facing narration.
	Out io.Writer
	// Pause is the wait between sessions. Zero disables the wait.
	Pause time.Duration
	// Brownfield selects the brownfield initializer on a fresh start, for
	// pointing the loop at an existing codebase without ledgers.
	Brownfield bool

	cfg      *config.Config
	renderer *prompts.Renderer
	recorder *metrics.Recorder
	logger   *logx.Logger
}

// New builds a loop over the given configuration. Configuration problems
// are the one class of error that is fatal before the loop starts.
func New(cfg *config.Config) (*Loop, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	renderer, err := prompts.NewRenderer()
	if err != nil {
		return nil, err
	}

	runner := claude.NewRunner()
	runner.Heartbeat = cfg.HeartbeatInterval()

	return &Loop{
		Runner:   runner,
		Out:      os.Stdout,
		Pause:    sessionPause,
		cfg:      cfg,
		renderer: renderer,
		recorder: metrics.NewRecorder(),
		logger:   logx.NewLogger("loop"),
	}, nil
}

// Run executes the loop until no work remains, the iteration limit is hit,
// or ctx is cancelled. Session-level failures are retried, never returned.
func (l *Loop) Run(ctx context.Context) error {
	l.printStartup()

	if err := l.prepareWorkspace(); err != nil {
		return err
	}

	state := l.loadState()
	l.say(tagInfo, "Loaded session state: iteration=%d, type=%s", state.Iteration, state.SessionType)

	if err := l.positionState(state); err != nil {
		return err
	}

	for {
		stop, err := l.iterate(ctx, state)
		if err != nil {
			return err
		}
		if stop {
			break
		}
	}

	fmt.Fprintln(l.Out, "\n"+divider)
	l.say(tagDone, "SESSION COMPLETE")
	fmt.Fprintln(l.Out, divider)
	l.say(tagInfo, "Project directory: %s", l.cfg.ProjectDir)
	l.say(tagInfo, "Features completed: %d", state.FeaturesCompleted)
	l.printProgress()
	l.say(tagInfo, "Autonomous agent finished")
	return nil
}

// iterate runs one session and advances the state machine. stop reports
// that the loop should end: iteration limit reached or no work left.
func (l *Loop) iterate(ctx context.Context, state *session.State) (stop bool, err error) {
	state.Iteration++

	if l.cfg.MaxIterations > 0 && state.Iteration > l.cfg.MaxIterations {
		l.say(tagLimit, "Reached max iterations (%d)", l.cfg.MaxIterations)
		fmt.Fprintln(l.Out, "To continue, run again without --max-iterations or with a higher value")
		return true, nil
	}

	item, done := l.resolveWork(state)
	if done {
		l.say(tagDone, "All work items are passing; no work remains")
		return true, nil
	}

	model := session.ModelFor(state.SessionType, l.cfg.Models)

	fmt.Fprintln(l.Out, "\n"+divider)
	l.say(tagSession, "SESSION %d: %s (%s)", state.Iteration, state.SessionType, model)
	if state.CurrentFeature != "" {
		l.say(tagInfo, "Feature: %s", state.CurrentFeature)
	}
	if state.CurrentBranch != "" {
		l.say(tagInfo, "Branch: %s", state.CurrentBranch)
	}
	fmt.Fprintln(l.Out, divider)
	fmt.Fprintln(l.Out)

	l.say(tagInfo, "Generating prompt for session...")
	prompt, err := l.renderer.RenderFor(state.SessionType, state.FixReason, l.promptData(state, item))
	if err != nil {
		return false, fmt.Errorf("render %s prompt: %w", state.SessionType, err)
	}
	l.say(tagInfo, "Prompt generated: %d characters", len(prompt))
	l.logPromptTokens(ctx, model, prompt)

	l.say(tagInfo, "Invoking Claude Code CLI...")
	started := time.Now()
	res, runErr := l.Runner.Run(ctx, claude.SessionSpec{
		Prompt:       prompt,
		Model:        model,
		MaxTurns:     l.cfg.MaxTurns,
		AllowedTools: l.cfg.AllowedTools,
		WorkDir:      l.cfg.ProjectDir,
		StateDir:     l.cfg.StateDir,
		Transcript:   claude.TranscriptPath(l.cfg.StateDir, state.Iteration, string(state.SessionType)),
	})
	if runErr != nil {
		// Only cancellation comes back as an error; save the position so
		// rerunning the same command resumes this session.
		l.saveState(state)
		return false, runErr
	}
	l.say(tagInfo, "Session returned with status: %s", res.Status)

	l.record(state.SessionType, model, res, time.Since(started))
	l.advance(state, res, started)

	l.saveState(state)
	l.say(tagInfo, "Session state saved")

	l.printProgress()

	l.say(tagInfo, "Preparing next session...")
	if err := l.sleepBetween(ctx); err != nil {
		return false, err
	}
	return false, nil
}

// advance applies the post-session state transition. An error status leaves
// the session type unchanged so the failed session runs again; counters only
// move on sessions that completed.
func (l *Loop) advance(state *session.State, res claude.RunResult, started time.Time) {
	previous := state.SessionType

	if res.Status == claude.StatusError {
		l.say(tagError, "Session encountered an error, will retry...")
		return
	}

	if previous == session.Review {
		l.reconcileReviewIssues(state, started)
	}
	if previous == session.Implement || previous == session.Bugfix {
		state.TotalImplementations++
	}

	next := session.Next(*state, l.pendingDebt(), session.ParamsFrom(l.cfg))
	state.SessionType = next
	state.FixReason = session.ReasonFor(next, state.ReviewIssues)
	if next == session.GlobalFix {
		state.LastGlobalFixImplCount = state.TotalImplementations
	}
	l.say(tagInfo, "State transition: %s -> %s", previous, next)

	if previous == session.Review && next == session.Implement {
		state.FeaturesCompleted++
		state.CurrentFeature = ""
		state.CurrentBranch = ""
		state.ReviewIssues = nil
		l.say(tagSuccess, "Feature completed! Total: %d", state.FeaturesCompleted)
	}
}

// resolveWork turns a nominal IMPLEMENT into the concrete session the work
// queue calls for: pending bugs outrank a due tech-debt sweep, which
// outranks plain features. done reports that every item is passing.
func (l *Loop) resolveWork(state *session.State) (item *ledger.WorkItem, done bool) {
	if state.SessionType != session.Implement {
		return nil, false
	}

	work, err := session.NextWork(l.featureFile(), *state, session.ParamsFrom(l.cfg))
	if errors.Is(err, ledger.ErrNoWork) {
		return nil, true
	}
	if err != nil {
		l.say(tagWarn, "Could not read work queue: %v", err)
		return nil, false
	}

	if work.Type != session.Implement {
		l.say(tagQueue, "Work queue selected %s session", work.Type)
	}
	state.SessionType = work.Type
	if work.Type == session.GlobalFix {
		state.FixReason = session.FixTechDebt
		state.LastGlobalFixImplCount = state.TotalImplementations
	}
	if work.Item != nil {
		state.CurrentFeature = work.Item.ID
		return work.Item, false
	}
	return nil, false
}

// promptData assembles the substitution values for the session prompt. The
// work item comes from the queue when one was just selected, or is looked up
// from the ledger when a resumed session carries only the feature id.
func (l *Loop) promptData(state *session.State, item *ledger.WorkItem) *prompts.PromptData {
	data := &prompts.PromptData{
		ProjectName:          l.cfg.ProjectName,
		ProjectDir:           l.cfg.ProjectDir,
		FeatureCount:         l.cfg.FeatureCount,
		MainBranch:           l.cfg.MainBranch,
		ArchitectureInterval: l.cfg.ArchitectureInterval,
		FeaturesCompleted:    state.FeaturesCompleted,
		TechDebtCount:        l.pendingDebt(),
	}

	if item == nil && state.CurrentFeature != "" {
		if got, err := ledger.NewFeatureLedger(l.featureFile()).Get(state.CurrentFeature); err == nil {
			item = got
		}
	}
	if item != nil {
		data.FeatureID = item.ID
		data.FeatureName = item.Name
		data.FeatureDescription = item.Description
	}
	return data
}

// record feeds the session outcome into the metrics recorder and refreshes
// the textfile snapshot. Cost prefers the subprocess's own accounting and
// falls back to the pricing table.
func (l *Loop) record(t session.Type, model string, res claude.RunResult, elapsed time.Duration) {
	outcome := "success"
	if res.Status != claude.StatusContinue {
		outcome = "error"
	}
	l.recorder.ObserveSession(string(t), outcome, elapsed)
	l.recorder.AddTokens("input", res.InputTokens)
	l.recorder.AddTokens("output", res.OutputTokens)
	for i := 0; i < res.Stalls; i++ {
		l.recorder.IncHeartbeatStall()
	}

	cost := 0.0
	if res.Result != nil && res.Result.TotalCostUSD > 0 {
		cost = res.Result.TotalCostUSD
	} else if info, ok := config.ResolveModel(model); ok {
		cost = config.EstimateCost(info, res.InputTokens, res.OutputTokens)
	}
	l.recorder.AddCost(cost)

	if l.cfg.MetricsSnapshot {
		if err := l.recorder.WriteTextfile(metrics.TextfilePath(l.cfg.StateDir)); err != nil {
			l.logger.Warn("Failed to write metrics snapshot: %v", err)
		}
	}
}

// logPromptTokens reports the prompt size before launch. With an API key the
// count comes from the token-counting endpoint; otherwise it is an estimate.
func (l *Loop) logPromptTokens(ctx context.Context, model, prompt string) {
	if tokens.HaveAPIKey() {
		countCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		resolved := model
		if info, ok := config.ResolveModel(model); ok {
			resolved = info.ID
		}
		if n, err := tokens.CountExact(countCtx, resolved, prompt); err == nil {
			l.say(tagInfo, "Prompt tokens: %d", n)
			return
		}
	}
	l.say(tagInfo, "Prompt tokens (estimated): %d", tokens.Estimate(prompt))
}

// printStartup prints the banner, the model routing, and the run limits.
func (l *Loop) printStartup() {
	fmt.Fprintln(l.Out, "\n"+divider)
	fmt.Fprintln(l.Out, "  AUTONOMOUS CODING AGENT")
	fmt.Fprintln(l.Out, "  Multi-Agent Workflow with Code Review")
	fmt.Fprintln(l.Out, divider)
	l.say(tagInfo, "Starting autonomous coding agent")
	l.say(tagInfo, "Spec file: %s", l.cfg.SpecFile)
	l.say(tagInfo, "Project directory: %s", l.cfg.ProjectDir)
	if len(l.cfg.SourceDirs) > 0 {
		l.say(tagInfo, "Source directories: %s", strings.Join(l.cfg.SourceDirs, ", "))
	}
	fmt.Fprintln(l.Out, "\nModels:")
	fmt.Fprintf(l.Out, "  - Implement: %s\n", l.cfg.Models.Implement)
	fmt.Fprintf(l.Out, "  - Review: %s\n", l.cfg.Models.Review)
	fmt.Fprintf(l.Out, "  - Fix: %s\n", l.cfg.Models.Fix)
	fmt.Fprintf(l.Out, "  - Architecture: %s (every %d features)\n", l.cfg.Models.Architecture, l.cfg.ArchitectureInterval)
	fmt.Fprintf(l.Out, "  - Bugfix: %s\n", l.cfg.Models.Bugfix)
	if l.Brownfield {
		fmt.Fprintf(l.Out, "  - Brownfield: %s\n", l.cfg.Models.Brownfield)
	}
	if l.cfg.MaxIterations > 0 {
		fmt.Fprintf(l.Out, "\nMax iterations: %d\n", l.cfg.MaxIterations)
	}
	fmt.Fprintln(l.Out)
}

// prepareWorkspace scaffolds the project directory and persists the config
// snapshot that resume and the companion tools read.
func (l *Loop) prepareWorkspace() error {
	if err := workspace.Prepare(l.cfg); err != nil {
		return fmt.Errorf("prepare project directory: %w", err)
	}
	l.say(tagInfo, "Project directory ready: %s", l.cfg.ProjectDir)
	l.say(tagInfo, "Created security settings at %s", filepath.Join(l.cfg.ProjectDir, workspace.SettingsFileName))

	if err := l.cfg.SaveSnapshot(); err != nil {
		return fmt.Errorf("save config snapshot: %w", err)
	}
	l.say(tagInfo, "Saved agent config for resume capability")
	return nil
}

// pendingDebt is an advisory read; a missing or corrupt ledger counts as no
// debt rather than stopping the loop.
func (l *Loop) pendingDebt() int {
	n, err := ledger.NewFeatureLedger(l.featureFile()).DebtCount()
	if err != nil {
		return 0
	}
	return n
}

func (l *Loop) featureFile() string {
	return filepath.Join(l.cfg.StateDir, ledger.FeatureListFile)
}

func (l *Loop) stateFile() string {
	return filepath.Join(l.cfg.StateDir, ledger.StateFile)
}

// sleepBetween pauses before the next session, returning early if ctx is
// cancelled during the wait.
func (l *Loop) sleepBetween(ctx context.Context) error {
	if l.Pause <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(l.Pause)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// say prints a timestamped narration line in the loop's console format.
func (l *Loop) say(tag, format string, args ...any) {
	fmt.Fprintf(l.Out, "[%s] [%s] %s\n",
		time.Now().UTC().Format("15:04:05"), tag, fmt.Sprintf(format, args...))
}
