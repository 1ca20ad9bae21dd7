package orchestrator

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentloop/pkg/claude"
	"agentloop/pkg/config"
	"agentloop/pkg/ledger"
	"agentloop/pkg/session"
)

// scriptedRunner stands in for the claude CLI: each call is recorded and the
// script decides the outcome, optionally mutating the ledgers the way a real
// agent session would through the companion CLI.
type scriptedRunner struct {
	calls  []claude.SessionSpec
	script func(n int, spec claude.SessionSpec) (claude.RunResult, error)
}

func (r *scriptedRunner) Run(_ context.Context, spec claude.SessionSpec) (claude.RunResult, error) {
	n := len(r.calls)
	r.calls = append(r.calls, spec)
	if r.script == nil {
		return claude.RunResult{Status: claude.StatusContinue, Text: "ok"}, nil
	}
	return r.script(n, spec)
}

func continueResult() (claude.RunResult, error) {
	return claude.RunResult{Status: claude.StatusContinue, Text: "ok"}, nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	base := t.TempDir()

	specFile := filepath.Join(base, "spec.txt")
	require.NoError(t, os.WriteFile(specFile, []byte("Build a demo app.\n"), 0o644))

	cfg := config.Default()
	cfg.ProjectName = "Demo"
	cfg.ProjectDir = filepath.Join(base, "project")
	cfg.StateDir = filepath.Join(base, "state")
	cfg.SpecFile = specFile
	return &cfg
}

func newTestLoop(t *testing.T, cfg *config.Config, runner *scriptedRunner) (*Loop, *bytes.Buffer) {
	t.Helper()
	l, err := New(cfg)
	require.NoError(t, err)

	out := &bytes.Buffer{}
	l.Out = out
	l.Runner = runner
	l.Pause = 0
	return l, out
}

// seedProject creates the two ledgers an initialized project carries.
func seedProject(t *testing.T, cfg *config.Config, items ...ledger.WorkItem) {
	t.Helper()
	fl := ledger.NewFeatureLedger(filepath.Join(cfg.StateDir, ledger.FeatureListFile))
	require.NoError(t, fl.Save(&ledger.FeatureList{TotalFeatures: len(items), Features: items}))

	pl := ledger.NewProgressLedger(filepath.Join(cfg.StateDir, ledger.ProgressFile), cfg.ProjectDir)
	_, err := pl.Init(cfg.ProjectName, len(items), false)
	require.NoError(t, err)
}

func passFeature(t *testing.T, cfg *config.Config, id string) {
	t.Helper()
	fl := ledger.NewFeatureLedger(filepath.Join(cfg.StateDir, ledger.FeatureListFile))
	_, err := fl.Pass(id)
	require.NoError(t, err)
}

func recordReview(t *testing.T, cfg *config.Config, featureID, verdict string, issues []ledger.Issue) {
	t.Helper()
	rl := ledger.NewReviewLedger(filepath.Join(cfg.StateDir, ledger.ReviewsFile))
	if !ledger.Exists(rl.Path()) {
		require.NoError(t, rl.Init(false))
	}
	_, err := rl.AddReview(ledger.ReviewEntry{
		AgentType: "REVIEW",
		FeatureID: &featureID,
		Branch:    "feature/" + strings.ToLower(featureID),
		Verdict:   verdict,
		Issues:    issues,
		Summary:   "scripted review",
	})
	require.NoError(t, err)
}

func loadSnapshot(t *testing.T, cfg *config.Config) session.State {
	t.Helper()
	var st session.State
	require.NoError(t, ledger.Load(filepath.Join(cfg.StateDir, ledger.StateFile), &st))
	return st
}

func transcriptBase(spec claude.SessionSpec) string {
	return filepath.Base(spec.Transcript)
}

func TestLoopImplementsAndReviewsToCompletion(t *testing.T) {
	cfg := testConfig(t)
	seedProject(t, cfg,
		ledger.WorkItem{ID: "FEAT-001", Name: "Login form"},
		ledger.WorkItem{ID: "FEAT-002", Name: "Logout button"},
	)

	runner := &scriptedRunner{}
	runner.script = func(n int, _ claude.SessionSpec) (claude.RunResult, error) {
		switch n {
		case 1:
			passFeature(t, cfg, "FEAT-001")
		case 3:
			passFeature(t, cfg, "FEAT-002")
		}
		return continueResult()
	}

	l, out := newTestLoop(t, cfg, runner)
	require.NoError(t, l.Run(context.Background()))

	require.Len(t, runner.calls, 4)
	assert.Equal(t, "session_1_implement.log", transcriptBase(runner.calls[0]))
	assert.Equal(t, "session_2_review.log", transcriptBase(runner.calls[1]))
	assert.Equal(t, "session_3_implement.log", transcriptBase(runner.calls[2]))
	assert.Equal(t, "session_4_review.log", transcriptBase(runner.calls[3]))

	assert.Equal(t, cfg.Models.Implement, runner.calls[0].Model)
	assert.Equal(t, cfg.Models.Review, runner.calls[1].Model)

	st := loadSnapshot(t, cfg)
	assert.Equal(t, 2, st.FeaturesCompleted)
	assert.Equal(t, session.Implement, st.SessionType, "no architecture review due at 2 of 5")

	passing, total := ledger.NewFeatureLedger(filepath.Join(cfg.StateDir, ledger.FeatureListFile)).Counts()
	assert.Equal(t, 2, passing)
	assert.Equal(t, 2, total)

	text := out.String()
	assert.Contains(t, text, "Feature completed! Total: 2")
	assert.Contains(t, text, "All work items are passing; no work remains")
	assert.Contains(t, text, "SESSION COMPLETE")
	assert.NotContains(t, text, "SESSION 5")

	metricsFile, err := os.ReadFile(filepath.Join(cfg.StateDir, "metrics.prom"))
	require.NoError(t, err)
	assert.Contains(t, string(metricsFile), "agentloop_sessions_total")
}

func TestFirstRunSeedsProjectAndRunsInitializer(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxIterations = 1

	runner := &scriptedRunner{}
	l, out := newTestLoop(t, cfg, runner)
	require.NoError(t, l.Run(context.Background()))

	require.Len(t, runner.calls, 1)
	assert.Equal(t, "session_1_initializer.log", transcriptBase(runner.calls[0]))
	assert.Equal(t, cfg.Models.Implement, runner.calls[0].Model)
	assert.Contains(t, runner.calls[0].Prompt, cfg.ProjectName)

	text := out.String()
	assert.Contains(t, text, "Fresh start detected - will use INITIALIZER agent")
	assert.Contains(t, text, "NOTE: First session takes 10-20+ minutes!")
	assert.Contains(t, text, "Reached max iterations (1)")
	assert.Contains(t, text, "To continue, run again without --max-iterations or with a higher value")

	spec, err := os.ReadFile(filepath.Join(cfg.ProjectDir, "app_spec.txt"))
	require.NoError(t, err)
	assert.Equal(t, "Build a demo app.\n", string(spec))
	assert.FileExists(t, filepath.Join(cfg.ProjectDir, "review_checklist.md"))
	assert.FileExists(t, filepath.Join(cfg.ProjectDir, ".claude_settings.json"))
	assert.FileExists(t, filepath.Join(cfg.ProjectDir, "CLAUDE.md"))
	assert.FileExists(t, filepath.Join(cfg.StateDir, config.SnapshotFileName))

	st := loadSnapshot(t, cfg)
	assert.Equal(t, session.Implement, st.SessionType)
}

func TestBrownfieldFirstRunUsesBrownfieldInitializer(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxIterations = 1

	runner := &scriptedRunner{}
	l, out := newTestLoop(t, cfg, runner)
	l.Brownfield = true
	require.NoError(t, l.Run(context.Background()))

	require.Len(t, runner.calls, 1)
	assert.Equal(t, "session_1_brownfield_initializer.log", transcriptBase(runner.calls[0]))
	assert.Equal(t, cfg.Models.Brownfield, runner.calls[0].Model)
	assert.Contains(t, out.String(), "Brownfield start detected - will use BROWNFIELD_INITIALIZER agent")
}

func TestSessionErrorRetriesSameType(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxIterations = 2
	seedProject(t, cfg, ledger.WorkItem{ID: "FEAT-001", Name: "Login form"})

	runner := &scriptedRunner{}
	runner.script = func(n int, _ claude.SessionSpec) (claude.RunResult, error) {
		if n == 0 {
			return claude.RunResult{Status: claude.StatusError, Text: "exited with code 3"}, nil
		}
		return continueResult()
	}

	l, out := newTestLoop(t, cfg, runner)
	require.NoError(t, l.Run(context.Background()))

	require.Len(t, runner.calls, 2)
	assert.Equal(t, "session_1_implement.log", transcriptBase(runner.calls[0]))
	assert.Equal(t, "session_2_implement.log", transcriptBase(runner.calls[1]))
	assert.Contains(t, out.String(), "Session encountered an error, will retry...")

	st := loadSnapshot(t, cfg)
	assert.Equal(t, session.Review, st.SessionType)
	assert.Equal(t, 0, st.FeaturesCompleted, "a failed session must not advance counters")
}

func TestResumeFromProgressPhase(t *testing.T) {
	cfg := testConfig(t)
	seedProject(t, cfg, ledger.WorkItem{ID: "FEAT-001", Name: "Login form"})

	pl := ledger.NewProgressLedger(filepath.Join(cfg.StateDir, ledger.ProgressFile), cfg.ProjectDir)
	feature := "FEAT-001"
	branch := "feature/feat-001"
	_, err := pl.UpdateStatus(ledger.StatusUpdate{Phase: "REVIEW", Feature: &feature, Branch: &branch})
	require.NoError(t, err)

	runner := &scriptedRunner{}
	runner.script = func(n int, _ claude.SessionSpec) (claude.RunResult, error) {
		if n == 0 {
			recordReview(t, cfg, "FEAT-001", ledger.VerdictApprove, nil)
			passFeature(t, cfg, "FEAT-001")
		}
		return continueResult()
	}

	l, out := newTestLoop(t, cfg, runner)
	require.NoError(t, l.Run(context.Background()))

	require.Len(t, runner.calls, 1)
	assert.Equal(t, "session_1_review.log", transcriptBase(runner.calls[0]))

	text := out.String()
	assert.Contains(t, text, "Resuming existing project from progress.json")
	assert.Contains(t, text, "Resuming from phase: REVIEW")
	assert.Contains(t, text, "Current feature: FEAT-001")
	assert.Contains(t, text, "Branch: feature/feat-001")
	assert.Contains(t, text, "Review verdict: APPROVE")
	assert.Contains(t, text, "Feature completed! Total: 1")
}

func TestReviewFindingsScheduleFix(t *testing.T) {
	cfg := testConfig(t)
	seedProject(t, cfg, ledger.WorkItem{ID: "FEAT-001", Name: "Login form"})

	runner := &scriptedRunner{}
	runner.script = func(n int, _ claude.SessionSpec) (claude.RunResult, error) {
		switch n {
		case 1:
			recordReview(t, cfg, "FEAT-001", ledger.VerdictRequestChanges, []ledger.Issue{
				{"id": "ISSUE-001", "severity": "major", "description": "Login button does nothing"},
			})
		case 3:
			recordReview(t, cfg, "FEAT-001", ledger.VerdictApprove, nil)
			passFeature(t, cfg, "FEAT-001")
		}
		return continueResult()
	}

	l, out := newTestLoop(t, cfg, runner)
	require.NoError(t, l.Run(context.Background()))

	require.Len(t, runner.calls, 4)
	assert.Equal(t, "session_1_implement.log", transcriptBase(runner.calls[0]))
	assert.Equal(t, "session_2_review.log", transcriptBase(runner.calls[1]))
	assert.Equal(t, "session_3_fix.log", transcriptBase(runner.calls[2]))
	assert.Equal(t, "session_4_review.log", transcriptBase(runner.calls[3]))

	assert.Equal(t, cfg.Models.Fix, runner.calls[2].Model)
	assert.Contains(t, runner.calls[2].Prompt, "# Fix Session",
		"review findings select the fix prompt, not the sweep prompt")

	text := out.String()
	assert.Contains(t, text, "Review verdict: REQUEST_CHANGES (1 issues)")
	assert.Contains(t, text, "State transition: REVIEW -> FIX")
	assert.Contains(t, text, "Feature completed! Total: 1")
}

func TestQueuePrefersBugsOverFeatures(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxIterations = 1
	seedProject(t, cfg,
		ledger.WorkItem{ID: "FEAT-001", Name: "Login form"},
		ledger.WorkItem{ID: "BUG-001", Name: "Crash on save", Type: ledger.TypeBug},
	)

	runner := &scriptedRunner{}
	l, out := newTestLoop(t, cfg, runner)
	require.NoError(t, l.Run(context.Background()))

	require.Len(t, runner.calls, 1)
	assert.Equal(t, "session_1_bugfix.log", transcriptBase(runner.calls[0]))
	assert.Equal(t, cfg.Models.Bugfix, runner.calls[0].Model)

	text := out.String()
	assert.Contains(t, text, "Work queue selected BUGFIX session")
	assert.Contains(t, text, "Feature: BUG-001")
}

func TestDebtThresholdSchedulesGlobalFix(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxIterations = 1

	items := make([]ledger.WorkItem, 0, cfg.TechDebtThreshold)
	for i := 0; i < cfg.TechDebtThreshold; i++ {
		items = append(items, ledger.WorkItem{
			ID:   fmt.Sprintf("%s-%03d", ledger.PrefixDebt, i+1),
			Name: "debt item",
			Type: ledger.TypeTechDebt,
		})
	}
	seedProject(t, cfg, items...)

	prior := session.State{SessionType: session.Implement, TotalImplementations: 12}
	require.NoError(t, ledger.WriteSnapshot(filepath.Join(cfg.StateDir, ledger.StateFile), &prior))

	runner := &scriptedRunner{}
	l, out := newTestLoop(t, cfg, runner)
	require.NoError(t, l.Run(context.Background()))

	require.Len(t, runner.calls, 1)
	assert.Equal(t, "session_1_global_fix.log", transcriptBase(runner.calls[0]))
	assert.Equal(t, cfg.Models.Fix, runner.calls[0].Model)
	assert.Contains(t, runner.calls[0].Prompt, "# Tech Debt Sweep")
	assert.Contains(t, out.String(), "Work queue selected GLOBAL_FIX session")

	st := loadSnapshot(t, cfg)
	assert.Equal(t, 12, st.LastGlobalFixImplCount, "scheduling the sweep stamps the cooldown")
	assert.Equal(t, 12, st.TotalImplementations)
	assert.Equal(t, session.Implement, st.SessionType)
}

func TestArchitectureReviewAfterInterval(t *testing.T) {
	cfg := testConfig(t)
	cfg.ArchitectureInterval = 2
	seedProject(t, cfg,
		ledger.WorkItem{ID: "FEAT-001", Name: "one"},
		ledger.WorkItem{ID: "FEAT-002", Name: "two"},
		ledger.WorkItem{ID: "FEAT-003", Name: "three"},
	)

	runner := &scriptedRunner{}
	runner.script = func(n int, _ claude.SessionSpec) (claude.RunResult, error) {
		switch n {
		case 1:
			passFeature(t, cfg, "FEAT-001")
		case 3:
			passFeature(t, cfg, "FEAT-002")
		case 5:
			passFeature(t, cfg, "FEAT-003")
		}
		return continueResult()
	}

	l, out := newTestLoop(t, cfg, runner)
	require.NoError(t, l.Run(context.Background()))

	require.Len(t, runner.calls, 7)
	assert.Equal(t, "session_7_architecture.log", transcriptBase(runner.calls[6]))
	assert.Equal(t, cfg.Models.Architecture, runner.calls[6].Model)
	assert.Contains(t, out.String(), "State transition: REVIEW -> ARCHITECTURE")

	// The trigger reads the count before the completing review bumps it, so
	// the feature whose review hands off to ARCHITECTURE is never counted.
	st := loadSnapshot(t, cfg)
	assert.Equal(t, 2, st.FeaturesCompleted)
}

func TestNoWorkExitsBeforeAnySession(t *testing.T) {
	cfg := testConfig(t)
	seedProject(t, cfg, ledger.WorkItem{ID: "FEAT-001", Name: "done already", Passes: true})

	runner := &scriptedRunner{}
	l, out := newTestLoop(t, cfg, runner)
	require.NoError(t, l.Run(context.Background()))

	assert.Empty(t, runner.calls)
	text := out.String()
	assert.Contains(t, text, "All work items are passing; no work remains")
	assert.Contains(t, text, "SESSION COMPLETE")
}

func TestCancellationSavesStateAndReturns(t *testing.T) {
	cfg := testConfig(t)
	seedProject(t, cfg, ledger.WorkItem{ID: "FEAT-001", Name: "Login form"})

	runner := &scriptedRunner{}
	runner.script = func(int, claude.SessionSpec) (claude.RunResult, error) {
		return claude.RunResult{}, context.Canceled
	}

	l, _ := newTestLoop(t, cfg, runner)
	err := l.Run(context.Background())
	require.ErrorIs(t, err, context.Canceled)

	require.Len(t, runner.calls, 1)
	st := loadSnapshot(t, cfg)
	assert.Equal(t, 1, st.Iteration, "interrupted session stays pending for resume")
	assert.Equal(t, session.Implement, st.SessionType)
}

func TestCorruptProgressFallsBackToImplement(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxIterations = 1

	fl := ledger.NewFeatureLedger(filepath.Join(cfg.StateDir, ledger.FeatureListFile))
	require.NoError(t, fl.Save(&ledger.FeatureList{
		TotalFeatures: 1,
		Features:      []ledger.WorkItem{{ID: "FEAT-001", Name: "Login form"}},
	}))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.StateDir, ledger.ProgressFile), []byte(`{"status": {`), 0o644))

	runner := &scriptedRunner{}
	l, out := newTestLoop(t, cfg, runner)
	require.NoError(t, l.Run(context.Background()))

	require.Len(t, runner.calls, 1)
	assert.Equal(t, "session_1_implement.log", transcriptBase(runner.calls[0]))
	assert.Contains(t, out.String(), "Could not parse progress.json, starting fresh")
}

func TestFeatureListWithoutProgressTrustsSnapshot(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxIterations = 1

	fl := ledger.NewFeatureLedger(filepath.Join(cfg.StateDir, ledger.FeatureListFile))
	require.NoError(t, fl.Save(&ledger.FeatureList{
		TotalFeatures: 1,
		Features:      []ledger.WorkItem{{ID: "FEAT-001", Name: "Login form"}},
	}))
	prior := session.State{SessionType: session.Review, CurrentFeature: "FEAT-001"}
	require.NoError(t, ledger.WriteSnapshot(filepath.Join(cfg.StateDir, ledger.StateFile), &prior))

	runner := &scriptedRunner{}
	l, out := newTestLoop(t, cfg, runner)
	require.NoError(t, l.Run(context.Background()))

	require.Len(t, runner.calls, 1)
	assert.Equal(t, "session_1_review.log", transcriptBase(runner.calls[0]))
	text := out.String()
	assert.Contains(t, text, "Resuming existing project")
	assert.Contains(t, text, "Current state: REVIEW")
}

func TestFormatProgress(t *testing.T) {
	assert.Equal(t, "\nProgress: feature_list.json not yet created\n", FormatProgress(0, 0))

	half := FormatProgress(1, 2)
	assert.Contains(t, half, "1/2 features (50.0%)")
	assert.Equal(t, 20, strings.Count(half, "█"))
	assert.Equal(t, 20, strings.Count(half, "░"))

	full := FormatProgress(3, 3)
	assert.Contains(t, full, "3/3 features (100.0%)")
	assert.Equal(t, 40, strings.Count(full, "█"))
}
