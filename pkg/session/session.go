// Package session holds the session state machine: the closed set of agent
// roles, the pure transition function between them, and the work-selection
// priority chain that decides what a nominal IMPLEMENT actually runs as.
package session

import (
	"agentloop/pkg/config"
)

// Type identifies the agent role a session runs as. The value doubles as
// the phase string recorded in the progress ledger.
type Type string

const (
	Initializer           Type = "INITIALIZER"
	BrownfieldInitializer Type = "BROWNFIELD_INITIALIZER"
	Implement             Type = "IMPLEMENT"
	Review                Type = "REVIEW"
	Fix                   Type = "FIX"
	Architecture          Type = "ARCHITECTURE"
	GlobalFix             Type = "GLOBAL_FIX"
	Bugfix                Type = "BUGFIX"
)

// Types lists every session type, in no particular order.
var Types = []Type{
	Initializer, BrownfieldInitializer, Implement, Review,
	Fix, Architecture, GlobalFix, Bugfix,
}

// Valid reports whether t is one of the known session types.
func (t Type) Valid() bool {
	switch t {
	case Initializer, BrownfieldInitializer, Implement, Review,
		Fix, Architecture, GlobalFix, Bugfix:
		return true
	}
	return false
}

func (t Type) String() string { return string(t) }

// FixReason explains why a fix-shaped session was scheduled, so prompt
// selection never has to guess from an empty issue list.
type FixReason string

const (
	FixNone         FixReason = ""
	FixReviewIssues FixReason = "review_issues"
	FixTechDebt     FixReason = "tech_debt_sweep"
)

// State is the transient loop snapshot persisted between iterations as
// .agent_state.json. It is a cache: the ledgers stay the source of truth,
// and a resumed run reconciles the snapshot against them.
type State struct {
	Iteration              int       `json:"iteration"`
	SessionType            Type      `json:"session_type"`
	CurrentFeature         string    `json:"current_feature,omitempty"`
	CurrentBranch          string    `json:"current_branch,omitempty"`
	ReviewIssues           []string  `json:"review_issues,omitempty"`
	FixReason              FixReason `json:"fix_reason,omitempty"`
	FeaturesCompleted      int       `json:"features_completed"`
	TotalImplementations   int       `json:"total_implementations"`
	LastGlobalFixImplCount int       `json:"last_global_fix_implementation_count"`
}

// Params is the slice of configuration the transition function reads.
type Params struct {
	ArchitectureInterval int
	TechDebtThreshold    int
	GlobalFixCooldown    int
}

// ParamsFrom extracts the transition parameters from the full config.
func ParamsFrom(cfg *config.Config) Params {
	return Params{
		ArchitectureInterval: cfg.ArchitectureInterval,
		TechDebtThreshold:    cfg.TechDebtThreshold,
		GlobalFixCooldown:    cfg.GlobalFixCooldown,
	}
}

// Next computes the session type that follows st. It is total and pure:
// any unrecognized current type falls back to IMPLEMENT, and no input
// panics. pendingDebt is the ledger's count of open tech debt at decision
// time.
//
// After a REVIEW with no issues, scheduling order is debt sweep, then
// architecture review, then more feature work. The sweep is throttled by
// both the debt threshold and an implementation-count cooldown; the
// architecture trigger fires only when the completed count is exactly
// divisible by the interval, so a count that skips past a multiple misses
// that window.
func Next(st State, pendingDebt int, p Params) Type {
	switch st.SessionType {
	case Initializer, BrownfieldInitializer:
		return Implement
	case Implement, Bugfix:
		return Review
	case Review:
		if len(st.ReviewIssues) > 0 {
			return Fix
		}
		if p.TechDebtThreshold > 0 && pendingDebt >= p.TechDebtThreshold && cooldownElapsed(st, p) {
			return GlobalFix
		}
		if p.ArchitectureInterval > 0 && st.FeaturesCompleted > 0 &&
			st.FeaturesCompleted%p.ArchitectureInterval == 0 {
			return Architecture
		}
		return Implement
	case Fix:
		return Review
	case GlobalFix, Architecture:
		return Implement
	default:
		return Implement
	}
}

// cooldownElapsed gates repeat sweeps: enough implementation sessions must
// have run since the last one was stamped.
func cooldownElapsed(st State, p Params) bool {
	return st.TotalImplementations-st.LastGlobalFixImplCount >= p.GlobalFixCooldown
}

// ReasonFor tags why a fix-shaped session was scheduled.
func ReasonFor(t Type, reviewIssues []string) FixReason {
	switch t {
	case GlobalFix:
		return FixTechDebt
	case Fix:
		if len(reviewIssues) > 0 {
			return FixReviewIssues
		}
		return FixTechDebt
	default:
		return FixNone
	}
}

// ModelFor resolves the configured model for a session type. Unrecognized
// types run on the implement model.
func ModelFor(t Type, m config.Models) string {
	switch t {
	case Review:
		return m.Review
	case Fix, GlobalFix:
		return m.Fix
	case Architecture:
		return m.Architecture
	case Bugfix:
		return m.Bugfix
	case BrownfieldInitializer:
		return m.Brownfield
	default:
		return m.Implement
	}
}
