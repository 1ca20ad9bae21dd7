package ledgercli

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"agentloop/pkg/ledger"
	"agentloop/pkg/session"
)

// Outcomes accepted by add-session. Review sessions record their verdict as
// the outcome, so the set covers both plain results and verdicts.
var sessionOutcomes = []string{
	"SUCCESS", "READY_FOR_REVIEW", "APPROVED", "REQUEST_CHANGES",
	"PASS_WITH_COMMENTS", "REJECT", "ERROR",
}

// Phases a session may hand off to.
var loopPhases = []string{"IMPLEMENT", "REVIEW", "FIX", "ARCHITECTURE", "GLOBAL_FIX"}

var agentTypeNames = func() []string {
	names := make([]string, len(session.Types))
	for i, t := range session.Types {
		names[i] = t.String()
	}
	return names
}()

// ProgressCmd returns the progress command group over progress.json.
func ProgressCmd() *cobra.Command {
	var file, stateDir string

	cmd := &cobra.Command{
		Use:   "progress",
		Short: "Manage the progress.json session history",
		Long: `The progress group records completed sessions and maintains the status
pointer the loop resumes from. Session records are append-only; only the
status pointer mutates.`,
	}
	cmd.PersistentFlags().StringVarP(&file, "file", "f", "",
		"path to progress.json (overrides --agent-state-dir)")
	cmd.PersistentFlags().StringVarP(&stateDir, "agent-state-dir", "d", "",
		"state directory holding the ledgers (default: $"+ledger.EnvStateDir+" or the working directory)")

	path := func() string { return ledger.ResolveFile(file, stateDir, ledger.ProgressFile) }

	cmd.AddCommand(
		progressInitCmd(path),
		progressAddSessionCmd(path),
		progressUpdateStatusCmd(path),
		progressGetStatusCmd(path),
		progressGetSessionCmd(path),
		progressGetReviewTypeCmd(path),
		progressNextSessionIDCmd(path),
		progressListCmd(path),
	)
	return cmd
}

func progressInitCmd(path func() string) *cobra.Command {
	var (
		projectName  string
		featureCount int
		force        bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create progress.json for a new project",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p := path()
			if ledger.Exists(p) && !force {
				return fmt.Errorf("ERROR: %s already exists. Use --force to overwrite.", p)
			}
			doc, err := ledger.NewProgressLedger(p, "").Init(projectName, featureCount, force)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "SUCCESS: Initialized %s\n", p)
			return printJSON(cmd.OutOrStdout(), doc)
		},
	}
	cmd.Flags().StringVarP(&projectName, "project-name", "n", "", "project name (required)")
	cmd.Flags().IntVarP(&featureCount, "feature-count", "c", 0, "total number of planned features (required)")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	_ = cmd.MarkFlagRequired("project-name")
	_ = cmd.MarkFlagRequired("feature-count")
	return cmd
}

func progressAddSessionCmd(path func() string) *cobra.Command {
	var (
		agentType, summary, outcome   string
		features                      string
		commits                       []string
		commitFrom, commitTo          string
		startedAt, nextPhase          string
		currentFeature, currentBranch string
	)

	cmd := &cobra.Command{
		Use:   "add-session",
		Short: "Append a completed session record",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p := path()
			if !ledger.Exists(p) {
				return fmt.Errorf("ERROR: %s does not exist. Run 'init' first.", p)
			}
			if err := checkChoice("agent type", agentType, agentTypeNames); err != nil {
				return err
			}
			if err := checkChoice("outcome", outcome, sessionOutcomes); err != nil {
				return err
			}
			if nextPhase != "" {
				if err := checkChoice("next phase", nextPhase, loopPhases); err != nil {
					return err
				}
			}

			entry := ledger.SessionEntry{
				AgentType:       agentType,
				Summary:         summary,
				Outcome:         outcome,
				StartedAt:       startedAt,
				FeaturesTouched: splitList(features),
				Commits:         commits,
				CommitFrom:      commitFrom,
				CommitTo:        commitTo,
				NextPhase:       nextPhase,
			}
			if cmd.Flags().Changed("current-feature") {
				entry.CurrentFeature = &currentFeature
			}
			if cmd.Flags().Changed("current-branch") {
				entry.CurrentBranch = &currentBranch
			}

			rec, err := ledger.NewProgressLedger(p, "").AddSession(entry)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "SUCCESS: Added session %d\n", rec.SessionID)
			return printJSON(cmd.OutOrStdout(), rec)
		},
	}
	cmd.Flags().StringVar(&agentType, "agent-type", "", "session agent type (required)")
	cmd.Flags().StringVar(&summary, "summary", "", "what the session did (required)")
	cmd.Flags().StringVar(&outcome, "outcome", "", "session outcome (required)")
	cmd.Flags().StringVar(&features, "features", "", "comma-separated feature ids the session touched")
	cmd.Flags().StringArrayVar(&commits, "commits", nil, "commit as \"hash:message\", repeatable")
	cmd.Flags().StringVar(&commitFrom, "commit-from", "", "commit the session started from")
	cmd.Flags().StringVar(&commitTo, "commit-to", "", "commit the session ended at (default: current head)")
	cmd.Flags().StringVar(&startedAt, "started-at", "", "session start timestamp (default: now)")
	cmd.Flags().StringVar(&nextPhase, "next-phase", "", "phase to hand off to")
	cmd.Flags().StringVar(&currentFeature, "current-feature", "", "feature pointer to record (\"null\" clears)")
	cmd.Flags().StringVar(&currentBranch, "current-branch", "", "branch pointer to record (\"null\" clears)")
	_ = cmd.MarkFlagRequired("agent-type")
	_ = cmd.MarkFlagRequired("summary")
	_ = cmd.MarkFlagRequired("outcome")
	return cmd
}

func progressUpdateStatusCmd(path func() string) *cobra.Command {
	var (
		phase, feature, branch             string
		featuresCompleted, featuresPassing int
	)

	cmd := &cobra.Command{
		Use:   "update-status",
		Short: "Update the status pointer without recording a session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p := path()
			if !ledger.Exists(p) {
				return fmt.Errorf("ERROR: %s does not exist.", p)
			}
			if phase != "" {
				if err := checkChoice("phase", phase, loopPhases); err != nil {
					return err
				}
			}

			upd := ledger.StatusUpdate{Phase: phase}
			if cmd.Flags().Changed("feature") {
				upd.Feature = &feature
			}
			if cmd.Flags().Changed("branch") {
				upd.Branch = &branch
			}
			if cmd.Flags().Changed("features-completed") {
				upd.FeaturesCompleted = &featuresCompleted
			}
			if cmd.Flags().Changed("features-passing") {
				upd.FeaturesPassing = &featuresPassing
			}

			st, err := ledger.NewProgressLedger(p, "").UpdateStatus(upd)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "SUCCESS: Status updated")
			return printJSON(cmd.OutOrStdout(), st)
		},
	}
	cmd.Flags().StringVar(&phase, "phase", "", "current loop phase")
	cmd.Flags().StringVar(&feature, "feature", "", "current feature pointer (\"null\" clears)")
	cmd.Flags().StringVar(&branch, "branch", "", "current branch pointer (\"null\" clears)")
	cmd.Flags().IntVar(&featuresCompleted, "features-completed", 0, "completed feature count")
	cmd.Flags().IntVar(&featuresPassing, "features-passing", 0, "passing feature count")
	return cmd
}

func progressGetStatusCmd(path func() string) *cobra.Command {
	var field string

	cmd := &cobra.Command{
		Use:   "get-status",
		Short: "Print the status pointer, or one field of it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireLedger(path()); err != nil {
				return err
			}
			led := ledger.NewProgressLedger(path(), "")
			if field != "" {
				v, err := led.StatusField(field)
				if err != nil {
					return fmt.Errorf("ERROR: %v", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), v)
				return nil
			}
			st, err := led.Status()
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), st)
		},
	}
	cmd.Flags().StringVar(&field, "field", "", "print a single status field")
	return cmd
}

func progressGetSessionCmd(path func() string) *cobra.Command {
	var field string

	cmd := &cobra.Command{
		Use:   "get-session [session-id]",
		Short: "Print one session record; no argument means the most recent",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireLedger(path()); err != nil {
				return err
			}
			id := -1
			if len(args) == 1 {
				var err error
				if id, err = strconv.Atoi(args[0]); err != nil {
					return fmt.Errorf("invalid session id %q", args[0])
				}
			}
			led := ledger.NewProgressLedger(path(), "")
			if field != "" {
				v, err := led.SessionField(id, field)
				if errors.Is(err, ledger.ErrNotFound) {
					return fmt.Errorf("ERROR: Session %d not found", id)
				}
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), v)
				return nil
			}
			rec, err := led.Session(id)
			if errors.Is(err, ledger.ErrNotFound) {
				return fmt.Errorf("ERROR: Session %d not found", id)
			}
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), rec)
		},
	}
	cmd.Flags().StringVar(&field, "field", "", "print a single field; dotted paths reach nested objects")
	return cmd
}

func progressGetReviewTypeCmd(path func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "get-review-type",
		Short: "Classify the pending review from the status pointer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireLedger(path()); err != nil {
				return err
			}
			rc, err := ledger.NewProgressLedger(path(), "").ReviewType()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "REVIEW_TYPE: %s\n", rc.Kind)
			if rc.Kind == ledger.ReviewKindFeature {
				fmt.Fprintf(out, "FEATURE_ID: %s\n", rc.FeatureID)
			}
			fmt.Fprintf(out, "BRANCH: %s\n", rc.Branch)
			return nil
		},
	}
}

func progressNextSessionIDCmd(path func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "next-session-id",
		Short: "Print the id the next add-session would assign",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireLedger(path()); err != nil {
				return err
			}
			id, err := ledger.NewProgressLedger(path(), "").NextSessionID()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
}

func progressListCmd(path func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all recorded sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireLedger(path()); err != nil {
				return err
			}
			doc, err := ledger.NewProgressLedger(path(), "").Load()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, s := range doc.Sessions {
				fmt.Fprintf(out, "[%d] %s: %s - %.50s...\n",
					s.SessionID, s.CompletedAt, s.AgentType, s.Summary)
			}
			return nil
		},
	}
}
