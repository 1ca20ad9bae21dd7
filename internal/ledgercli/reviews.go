package ledgercli

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"agentloop/pkg/ledger"
)

// Agent types allowed to record reviews.
var reviewAgentTypes = []string{"REVIEW", "ARCHITECTURE"}

// ReviewsCmd returns the reviews command group over reviews.json.
func ReviewsCmd() *cobra.Command {
	var file, stateDir string

	cmd := &cobra.Command{
		Use:   "reviews",
		Short: "Manage the reviews.json verdict and fix history",
		Long: `The reviews group records review verdicts with their issues and the fix
attempts made against them. The fix count per feature feeds the escalation
rule: attempt three is final.`,
	}
	cmd.PersistentFlags().StringVarP(&file, "file", "f", "",
		"path to reviews.json (overrides --agent-state-dir)")
	cmd.PersistentFlags().StringVarP(&stateDir, "agent-state-dir", "d", "",
		"state directory holding the ledgers (default: $"+ledger.EnvStateDir+" or the working directory)")

	path := func() string { return ledger.ResolveFile(file, stateDir, ledger.ReviewsFile) }

	cmd.AddCommand(
		reviewsInitCmd(path),
		reviewsAddReviewCmd(path),
		reviewsAddFixCmd(path),
		reviewsGetReviewCmd(path),
		reviewsGetLastCmd(path),
		reviewsGetFixCountCmd(path),
		reviewsShowIssuesCmd(path),
		reviewsListCmd(path),
		reviewsMarkMergedCmd(path),
	)
	return cmd
}

func reviewsInitCmd(path func() string) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create an empty reviews.json",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p := path()
			if ledger.Exists(p) && !force {
				return fmt.Errorf("ERROR: %s already exists. Use --force to overwrite.", p)
			}
			if err := ledger.NewReviewLedger(p).Init(force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "SUCCESS: Initialized %s\n", p)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func reviewsAddReviewCmd(path func() string) *cobra.Command {
	var (
		agentType, featureID, branch string
		verdict, issues, summary     string
		commitFrom, commitTo         string
	)

	cmd := &cobra.Command{
		Use:   "add-review",
		Short: "Record a review verdict with its issues",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireLedger(path()); err != nil {
				return err
			}
			if err := checkChoice("agent type", agentType, reviewAgentTypes); err != nil {
				return err
			}
			parsed, err := parseIssues(issues)
			if err != nil {
				return fmt.Errorf("ERROR: Invalid issues JSON: %v", err)
			}

			rec, err := ledger.NewReviewLedger(path()).AddReview(ledger.ReviewEntry{
				AgentType:  agentType,
				FeatureID:  featurePtr(featureID),
				Branch:     branch,
				Verdict:    verdict,
				Issues:     parsed,
				Summary:    summary,
				CommitFrom: commitFrom,
				CommitTo:   commitTo,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "SUCCESS: Added review R%d\n", rec.ReviewID)
			return printJSON(cmd.OutOrStdout(), rec)
		},
	}
	cmd.Flags().StringVarP(&agentType, "agent-type", "a", "REVIEW", "reviewing agent type")
	cmd.Flags().StringVar(&featureID, "feature-id", "", "feature under review (\"null\" or empty for architecture reviews)")
	cmd.Flags().StringVarP(&branch, "branch", "b", "", "branch that was reviewed (required)")
	cmd.Flags().StringVarP(&verdict, "verdict", "v", "", "review verdict (required)")
	cmd.Flags().StringVar(&issues, "issues", "", "issues as a JSON array, inline or a file path")
	cmd.Flags().StringVarP(&summary, "summary", "s", "", "review summary (required)")
	cmd.Flags().StringVar(&commitFrom, "commit-from", "", "first commit covered by the review")
	cmd.Flags().StringVar(&commitTo, "commit-to", "", "last commit covered by the review")
	_ = cmd.MarkFlagRequired("branch")
	_ = cmd.MarkFlagRequired("verdict")
	_ = cmd.MarkFlagRequired("summary")
	return cmd
}

func reviewsAddFixCmd(path func() string) *cobra.Command {
	var (
		reviewID                    int
		featureID, branch           string
		issuesFixed, issuesDeferred string
		testsAdded                  string
	)

	cmd := &cobra.Command{
		Use:   "add-fix",
		Short: "Record a fix attempt against a review",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireLedger(path()); err != nil {
				return err
			}
			var fixed, deferred []string
			if err := jsonArg(issuesFixed, &fixed); err != nil {
				return fmt.Errorf("ERROR: Invalid issues_fixed JSON: %v", err)
			}
			if err := jsonArg(issuesDeferred, &deferred); err != nil {
				return fmt.Errorf("ERROR: Invalid issues_deferred JSON: %v", err)
			}

			rec, err := ledger.NewReviewLedger(path()).AddFix(ledger.FixEntry{
				ReviewID:       reviewID,
				FeatureID:      featurePtr(featureID),
				Branch:         branch,
				IssuesFixed:    fixed,
				IssuesDeferred: deferred,
				TestsAdded:     splitList(testsAdded),
			})
			if errors.Is(err, ledger.ErrNotFound) {
				return fmt.Errorf("ERROR: Review R%d not found", reviewID)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "SUCCESS: Added fix F%d\n", rec.FixID)
			return printJSON(cmd.OutOrStdout(), rec)
		},
	}
	cmd.Flags().IntVarP(&reviewID, "review-id", "r", 0, "review this fix addresses (required)")
	cmd.Flags().StringVar(&featureID, "feature-id", "", "feature the fix belongs to")
	cmd.Flags().StringVarP(&branch, "branch", "b", "", "branch the fix landed on (required)")
	cmd.Flags().StringVar(&issuesFixed, "issues-fixed", "", "issue ids fixed, as a JSON array")
	cmd.Flags().StringVar(&issuesDeferred, "issues-deferred", "", "issue ids deferred, as a JSON array")
	cmd.Flags().StringVar(&testsAdded, "tests-added", "", "comma-separated test names added")
	_ = cmd.MarkFlagRequired("review-id")
	_ = cmd.MarkFlagRequired("branch")
	return cmd
}

func reviewsGetReviewCmd(path func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "get-review <review-id>",
		Short: "Print one review by numeric id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireLedger(path()); err != nil {
				return err
			}
			id, err := strconv.Atoi(strings.TrimPrefix(args[0], "R"))
			if err != nil {
				return fmt.Errorf("invalid review id %q", args[0])
			}
			rec, err := ledger.NewReviewLedger(path()).Review(id)
			if errors.Is(err, ledger.ErrNotFound) {
				return fmt.Errorf("ERROR: Review R%d not found", id)
			}
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), rec)
		},
	}
}

func reviewsGetLastCmd(path func() string) *cobra.Command {
	var field string

	cmd := &cobra.Command{
		Use:   "get-last",
		Short: "Print the most recent review, or one field of it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireLedger(path()); err != nil {
				return err
			}
			rec, err := ledger.NewReviewLedger(path()).Review(-1)
			if errors.Is(err, ledger.ErrNotFound) {
				return errors.New("ERROR: No reviews found")
			}
			if err != nil {
				return err
			}
			if field != "" {
				m, err := recordMap(rec)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderValue(m[field]))
				return nil
			}
			return printJSON(cmd.OutOrStdout(), rec)
		},
	}
	cmd.Flags().StringVar(&field, "field", "", "print a single field of the review")
	return cmd
}

func reviewsGetFixCountCmd(path func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "get-fix-count <feature-id>",
		Short: "Report fix attempts for a feature against the escalation ceiling",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireLedger(path()); err != nil {
				return err
			}
			count, err := ledger.NewReviewLedger(path()).FixCount(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "FIX_COUNT: %d\n", count)
			fmt.Fprintf(out, "REMAINING: %d\n", max(0, ledger.MaxFixAttempts-count))
			switch {
			case count >= ledger.MaxFixAttempts:
				fmt.Fprintln(out, "ERROR: Maximum fix attempts reached - Tiebreaker required")
			case count == ledger.MaxFixAttempts-1:
				fmt.Fprintln(out, "WARNING: FINAL FIX ATTEMPT - Next failure triggers mandatory decision")
			}
			return nil
		},
	}
}

func reviewsShowIssuesCmd(path func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "show-issues",
		Short: "Print the latest review's issues grouped by severity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireLedger(path()); err != nil {
				return err
			}
			report, err := ledger.NewReviewLedger(path()).IssueReport()
			if errors.Is(err, ledger.ErrNotFound) {
				return errors.New("ERROR: No reviews found")
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), strings.TrimRight(report, "\n"))
			return nil
		},
	}
}

func reviewsListCmd(path func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all reviews and fixes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireLedger(path()); err != nil {
				return err
			}
			doc, err := ledger.NewReviewLedger(path()).Load()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "=== REVIEWS ===")
			for _, r := range doc.Reviews {
				fmt.Fprintf(out, "  R%d: [%s] %s - %s (%d issues)\n",
					r.ReviewID, r.Verdict, reviewSubject(r.FeatureID), r.Summary, len(r.Issues))
			}
			if len(doc.Fixes) > 0 {
				fmt.Fprintln(out)
				fmt.Fprintln(out, "=== FIXES ===")
				for _, f := range doc.Fixes {
					status := "pending"
					if f.MergedToMain {
						status = "merged"
					}
					fmt.Fprintf(out, "  F%d: addresses R%d for %s - %d fixed, %d deferred [%s]\n",
						f.FixID, f.ReviewID, reviewSubject(f.FeatureID),
						len(f.IssuesFixed), len(f.IssuesDeferred), status)
				}
			}
			return nil
		},
	}
}

func reviewsMarkMergedCmd(path func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "mark-merged <fix-id>",
		Short: "Flip a fix to merged once it lands on main",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireLedger(path()); err != nil {
				return err
			}
			id, err := strconv.Atoi(strings.TrimPrefix(args[0], "F"))
			if err != nil {
				return fmt.Errorf("invalid fix id %q", args[0])
			}
			_, err = ledger.NewReviewLedger(path()).MarkMerged(id)
			if errors.Is(err, ledger.ErrNotFound) {
				return fmt.Errorf("ERROR: Fix F%d not found", id)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "SUCCESS: Fix F%d marked as merged\n", id)
			return nil
		},
	}
}

// parseIssues accepts a JSON array of issues or a single issue object,
// inline or in a file.
func parseIssues(raw string) ([]ledger.Issue, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return nil, nil
	}
	var issues []ledger.Issue
	if err := jsonArg(text, &issues); err == nil {
		return issues, nil
	}
	var one ledger.Issue
	if err := jsonArg(text, &one); err != nil {
		return nil, err
	}
	return []ledger.Issue{one}, nil
}

// featurePtr maps the flag value to the stored pointer: empty or "null"
// means no feature (an architecture review).
func featurePtr(id string) *string {
	if id == "" || id == ledger.ClearField {
		return nil
	}
	return &id
}

// reviewSubject names what a review or fix was about.
func reviewSubject(p *string) string {
	if p == nil || *p == "" {
		return "ARCHITECTURE"
	}
	return *p
}
