package orchestrator

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"agentloop/pkg/ledger"
	"agentloop/pkg/session"
	"agentloop/pkg/workspace"
)

// loadState reads the session snapshot from the state directory. A missing
// or unreadable snapshot starts clean; positionState re-derives the rest
// from the ledgers.
func (l *Loop) loadState() *session.State {
	var state session.State
	err := ledger.Load(l.stateFile(), &state)
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		return &session.State{SessionType: session.Implement}
	case err != nil:
		l.say(tagWarn, "Could not read state snapshot, starting clean: %v", err)
		return &session.State{SessionType: session.Implement}
	}
	if !state.SessionType.Valid() {
		state.SessionType = session.Implement
	}
	return &state
}

// saveState persists the snapshot. The snapshot is a cache, so a failed
// write degrades resume fidelity but never stops the loop.
func (l *Loop) saveState(state *session.State) {
	if err := ledger.WriteSnapshot(l.stateFile(), state); err != nil {
		l.say(tagWarn, "Could not save session state: %v", err)
	}
}

// positionState decides where the loop starts: a fresh directory runs the
// initializer and seeds the project documents; a tracked project resumes
// from the progress ledger; a half-tracked one (feature list without
// progress) trusts the snapshot.
func (l *Loop) positionState(state *session.State) error {
	firstRun := !ledger.Exists(l.featureFile())

	switch {
	case firstRun:
		if l.Brownfield {
			state.SessionType = session.BrownfieldInitializer
			l.say(tagInfo, "Brownfield start detected - will use BROWNFIELD_INITIALIZER agent")
		} else {
			state.SessionType = session.Initializer
			l.say(tagInfo, "Fresh start detected - will use INITIALIZER agent")
		}
		fmt.Fprintln(l.Out)
		fmt.Fprintln(l.Out, divider)
		fmt.Fprintln(l.Out, "  NOTE: First session takes 10-20+ minutes!")
		fmt.Fprintln(l.Out, "  The agent is generating detailed test cases.")
		fmt.Fprintln(l.Out, divider)
		fmt.Fprintln(l.Out)
		if err := workspace.SeedSpec(l.cfg); err != nil {
			return fmt.Errorf("seed project documents: %w", err)
		}
		l.say(tagInfo, "Copied spec file to project directory")

	case ledger.DetectExistingProject(l.cfg.StateDir):
		l.say(tagInfo, "Resuming existing project from progress.json")
		l.resumeFromLedgers(state)
		l.printProgress()

	default:
		l.say(tagInfo, "Resuming existing project")
		l.say(tagInfo, "Current state: %s", state.SessionType)
		l.printProgress()
	}
	return nil
}

// resumeFromLedgers re-derives the loop position from the progress ledger.
// The snapshot is a cache; after a crash or an agent-side update the ledgers
// carry the truth.
func (l *Loop) resumeFromLedgers(state *session.State) {
	progress := ledger.NewProgressLedger(
		filepath.Join(l.cfg.StateDir, ledger.ProgressFile), l.cfg.ProjectDir)

	st, err := progress.Status()
	if err != nil {
		l.say(tagWarn, "Could not parse progress.json, starting fresh: %v", err)
		state.SessionType = session.Implement
		return
	}

	phase := session.Type(st.CurrentPhase)
	if !phase.Valid() {
		if st.CurrentPhase != "" {
			l.say(tagWarn, "Unknown phase %q in progress.json, defaulting to IMPLEMENT", st.CurrentPhase)
		}
		phase = session.Implement
	}
	state.SessionType = phase

	if f := st.CurrentFeature; f != nil && *f != "" {
		state.CurrentFeature = *f
	}
	if b := st.CurrentBranch; b != nil && *b != "" {
		state.CurrentBranch = *b
	}
	if st.FeaturesCompleted > state.FeaturesCompleted {
		state.FeaturesCompleted = st.FeaturesCompleted
	}

	l.say(tagInfo, "Resuming from phase: %s", state.SessionType)
	if state.CurrentFeature != "" {
		l.say(tagInfo, "Current feature: %s", state.CurrentFeature)
	}

	// A resumed fix session needs its issue list back so prompt selection
	// distinguishes review fixes from a scheduled sweep.
	if state.SessionType == session.Fix || state.SessionType == session.GlobalFix {
		l.reconcileReviewIssues(state, time.Time{})
		state.FixReason = session.ReasonFor(state.SessionType, state.ReviewIssues)
	}
}

// reconcileReviewIssues carries the verdict the review agent recorded into
// the loop state. The review agent writes findings through the companion
// CLI; a missing ledger or no recorded review counts as a clean pass.
// Records older than since are ignored so a stale verdict from an earlier
// feature cannot re-trigger a fix; a zero since accepts any record.
func (l *Loop) reconcileReviewIssues(state *session.State, since time.Time) {
	reviews := ledger.NewReviewLedger(filepath.Join(l.cfg.StateDir, ledger.ReviewsFile))

	rec, err := reviews.Review(-1)
	if err != nil {
		state.ReviewIssues = nil
		return
	}

	if !since.IsZero() {
		if ts, perr := time.Parse(time.RFC3339, rec.Timestamp); perr == nil {
			if ts.Before(since.UTC().Truncate(time.Second)) {
				l.say(tagWarn, "Review session recorded no verdict; treating as pass")
				state.ReviewIssues = nil
				return
			}
		}
	}

	switch rec.Verdict {
	case ledger.VerdictRequestChanges, ledger.VerdictReject:
		issues := make([]string, 0, len(rec.Issues))
		for _, issue := range rec.Issues {
			if d := issue.Description(); d != "" {
				issues = append(issues, d)
			}
		}
		state.ReviewIssues = issues
		l.say(tagInfo, "Review verdict: %s (%d issues)", rec.Verdict, len(issues))
	default:
		state.ReviewIssues = nil
		l.say(tagInfo, "Review verdict: %s", rec.Verdict)
	}
}

const progressBarWidth = 40

// FormatProgress renders the passing-features bar shown between sessions.
// Exported for the status command, which shows the same line.
func FormatProgress(passing, total int) string {
	if total == 0 {
		return "\nProgress: feature_list.json not yet created\n"
	}
	filled := progressBarWidth * passing / total
	bar := strings.Repeat("█", filled) + strings.Repeat("░", progressBarWidth-filled)
	pct := float64(passing) / float64(total) * 100
	return fmt.Sprintf("\nProgress: [%s] %d/%d features (%.1f%%)\n", bar, passing, total, pct)
}

func (l *Loop) printProgress() {
	passing, total := ledger.NewFeatureLedger(l.featureFile()).Counts()
	fmt.Fprint(l.Out, FormatProgress(passing, total))
}
