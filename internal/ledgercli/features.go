package ledgercli

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"agentloop/pkg/ledger"
)

// candidateInstruction rides along with next-candidates so batch selection
// stays deliberate rather than first-N.
const candidateInstruction = "Select up to 5 RELATED features to implement together. Choose features that share the same component, category, or have dependencies on each other."

// FeaturesCmd returns the features command group over feature_list.json.
func FeaturesCmd() *cobra.Command {
	var file, stateDir string

	cmd := &cobra.Command{
		Use:   "features",
		Short: "Manage feature_list.json work items",
		Long: `The features group is the only supported way to read and update
feature_list.json. Every mutation writes a timestamped backup before
touching the file.`,
	}
	cmd.PersistentFlags().StringVarP(&file, "file", "f", "",
		"path to feature_list.json (overrides --agent-state-dir)")
	cmd.PersistentFlags().StringVarP(&stateDir, "agent-state-dir", "d", "",
		"state directory holding the ledgers (default: $"+ledger.EnvStateDir+" or the working directory)")

	path := func() string { return ledger.ResolveFile(file, stateDir, ledger.FeatureListFile) }

	cmd.AddCommand(
		featuresNextCmd(path),
		featuresNextCandidatesCmd(path),
		featuresGetCmd(path),
		featuresPassCmd(path),
		featuresPassBatchCmd(path),
		featuresFailCmd(path),
		featuresNextIDCmd(path),
		featuresDebtCountCmd(path),
		featuresAppendCmd(path),
		featuresListCmd(path),
		featuresStatsCmd(path),
	)
	return cmd
}

func featuresNextCmd(path func() string) *cobra.Command {
	var typ string

	cmd := &cobra.Command{
		Use:   "next",
		Short: "Print the next pending work item",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if typ != "" {
				if err := checkChoice("type", typ, []string{ledger.TypeBug, ledger.TypeTechDebt, ledger.TypeFeature}); err != nil {
					return err
				}
			}
			if err := requireLedger(path()); err != nil {
				return err
			}
			item, err := ledger.NewFeatureLedger(path()).Next(typ)
			if errors.Is(err, ledger.ErrNoWork) {
				fmt.Fprintln(cmd.ErrOrStderr(), "NO_MORE_FEATURES: All features are passing!")
				return nil
			}
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), item)
		},
	}
	cmd.Flags().StringVar(&typ, "type", "", "restrict to one work item kind: bug, tech_debt, or feature")
	return cmd
}

func featuresNextCandidatesCmd(path func() string) *cobra.Command {
	var count int

	cmd := &cobra.Command{
		Use:   "next-candidates",
		Short: "Print pending work items for the agent to choose from",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireLedger(path()); err != nil {
				return err
			}
			cands, err := ledger.NewFeatureLedger(path()).NextCandidates(count)
			if errors.Is(err, ledger.ErrNoWork) {
				fmt.Fprintln(cmd.ErrOrStderr(), "NO_MORE_FEATURES: All features are passing!")
				return nil
			}
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), struct {
				ledger.Candidates
				Instruction string `json:"instruction"`
			}{*cands, candidateInstruction})
		},
	}
	cmd.Flags().IntVarP(&count, "count", "c", 15, "number of candidates to show")
	return cmd
}

func featuresGetCmd(path func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "get <feature-id>",
		Short: "Print one work item by id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireLedger(path()); err != nil {
				return err
			}
			item, err := ledger.NewFeatureLedger(path()).Get(args[0])
			if errors.Is(err, ledger.ErrNotFound) {
				return fmt.Errorf("ERROR: Feature %s not found", args[0])
			}
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), item)
		},
	}
}

func featuresPassCmd(path func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "pass <feature-id>",
		Short: "Mark a work item passing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireLedger(path()); err != nil {
				return err
			}
			already, err := ledger.NewFeatureLedger(path()).Pass(args[0])
			if errors.Is(err, ledger.ErrNotFound) {
				return fmt.Errorf("ERROR: Feature %s not found", args[0])
			}
			if err != nil {
				return err
			}
			if already {
				fmt.Fprintf(cmd.ErrOrStderr(), "WARNING: Feature %s is already passing\n", args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "SUCCESS: Feature %s marked as PASSING\n", args[0])
			return nil
		},
	}
}

func featuresPassBatchCmd(path func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "pass-batch <id,id,...>",
		Short: "Mark several work items passing in one write",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireLedger(path()); err != nil {
				return err
			}
			led := ledger.NewFeatureLedger(path())
			ids := splitList(args[0])

			passed, already, err := led.PassBatch(ids)
			if errors.Is(err, ledger.ErrNotFound) {
				return fmt.Errorf("ERROR: Features not found: %s", strings.Join(missingIDs(led, ids), ", "))
			}
			if err != nil {
				return err
			}
			if len(already) > 0 {
				fmt.Fprintf(cmd.ErrOrStderr(), "WARNING: Already passing: %s\n", strings.Join(already, ", "))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "SUCCESS: Marked %d features as PASSING: %s\n",
				len(passed), strings.Join(passed, ", "))
			return nil
		},
	}
}

// missingIDs reports which of the requested ids are absent from the ledger.
func missingIDs(led *ledger.FeatureLedger, ids []string) []string {
	doc, err := led.Load()
	if err != nil {
		return ids
	}
	known := make(map[string]bool, len(doc.Features))
	for _, item := range doc.Features {
		known[item.ID] = true
	}
	var missing []string
	for _, id := range ids {
		if !known[id] {
			missing = append(missing, id)
		}
	}
	return missing
}

func featuresFailCmd(path func() string) *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "fail <feature-id>",
		Short: "Mark a work item failing after a regression",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireLedger(path()); err != nil {
				return err
			}
			err := ledger.NewFeatureLedger(path()).Fail(args[0], reason)
			if errors.Is(err, ledger.ErrNotFound) {
				return fmt.Errorf("ERROR: Feature %s not found", args[0])
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "SUCCESS: Feature %s marked as FAILING - %s\n", args[0], reason)
			return nil
		},
	}
	cmd.Flags().StringVarP(&reason, "reason", "r", "", "reason for the failure (required)")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func featuresNextIDCmd(path func() string) *cobra.Command {
	var typ string

	cmd := &cobra.Command{
		Use:   "next-id",
		Short: "Print the next unused id for a work item type",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := ledger.NewFeatureLedger(path()).NextID(typ)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
	cmd.Flags().StringVar(&typ, "type", "", "work item type: FEAT, BUG, or DEBT (required)")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func featuresDebtCountCmd(path func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "debt-count",
		Short: "Print the number of pending tech debt items",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireLedger(path()); err != nil {
				return err
			}
			n, err := ledger.NewFeatureLedger(path()).DebtCount()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "TECH_DEBT_PENDING: %d\n", n)
			return nil
		},
	}
}

func featuresAppendCmd(path func() string) *cobra.Command {
	var entries, sourceAppspec string

	cmd := &cobra.Command{
		Use:   "append",
		Short: "Append work items from JSON, assigning ids where absent",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var items []ledger.WorkItem
			if err := jsonArg(entries, &items); err != nil {
				return fmt.Errorf("ERROR: Invalid entries JSON: %v", err)
			}
			added, err := ledger.NewFeatureLedger(path()).Append(items, sourceAppspec)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "SUCCESS: Appended %d entries\n", len(added))
			for _, item := range added {
				fmt.Fprintf(out, "  %s: %s\n", item.ID, item.Name)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&entries, "entries", "", "JSON array of work items, inline or a file path (required)")
	cmd.Flags().StringVar(&sourceAppspec, "source-appspec", "", "provenance tag stamped on each appended item")
	_ = cmd.MarkFlagRequired("entries")
	return cmd
}

func featuresListCmd(path func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all work items grouped by kind",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireLedger(path()); err != nil {
				return err
			}
			doc, err := ledger.NewFeatureLedger(path()).Load()
			if err != nil {
				return err
			}

			var bugs, debt, feats []ledger.WorkItem
			for _, item := range doc.Features {
				switch item.Kind() {
				case ledger.TypeBug:
					bugs = append(bugs, item)
				case ledger.TypeTechDebt:
					debt = append(debt, item)
				default:
					feats = append(feats, item)
				}
			}

			out := cmd.OutOrStdout()
			if len(bugs) > 0 {
				fmt.Fprintln(out, "=== BUGS (priority) ===")
				printItems(out, bugs)
				fmt.Fprintln(out)
			}
			fmt.Fprintln(out, "=== FEATURES ===")
			printItems(out, feats)
			if len(debt) > 0 {
				fmt.Fprintln(out)
				fmt.Fprintln(out, "=== TECH DEBT ===")
				printItems(out, debt)
			}

			fmt.Fprintln(out)
			summary := []string{
				fmt.Sprintf("%d bugs pending", countPending(bugs)),
				fmt.Sprintf("%d features pending", countPending(feats)),
			}
			if len(debt) > 0 {
				summary = append(summary, fmt.Sprintf("%d tech debt pending", countPending(debt)))
			}
			fmt.Fprintf(out, "Summary: %s\n", strings.Join(summary, ", "))
			return nil
		},
	}
}

func printItems(w io.Writer, items []ledger.WorkItem) {
	for _, item := range items {
		status := "FAIL"
		if item.Passes {
			status = "PASS"
		}
		fmt.Fprintf(w, "[%s] %s: %s\n", status, item.ID, item.Name)
	}
}

func countPending(items []ledger.WorkItem) int {
	n := 0
	for _, item := range items {
		if !item.Passes {
			n++
		}
	}
	return n
}

func featuresStatsCmd(path func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show work item statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireLedger(path()); err != nil {
				return err
			}
			led := ledger.NewFeatureLedger(path())
			doc, err := led.Load()
			if err != nil {
				return err
			}

			type tally struct{ passing, total int }
			var all, bugs, feats, debt tally
			count := func(t *tally, passes bool) {
				t.total++
				if passes {
					t.passing++
				}
			}
			for _, item := range doc.Features {
				count(&all, item.Passes)
				switch item.Kind() {
				case ledger.TypeBug:
					count(&bugs, item.Passes)
				case ledger.TypeTechDebt:
					count(&debt, item.Passes)
				default:
					count(&feats, item.Passes)
				}
			}

			pct := 0
			if all.total > 0 {
				pct = 100 * all.passing / all.total
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Total features: %d\n", all.total)
			fmt.Fprintf(out, "Passing: %d\n", all.passing)
			fmt.Fprintf(out, "Failing: %d\n", all.total-all.passing)
			fmt.Fprintf(out, "Progress: %d/%d (%d%%)\n", all.passing, all.total, pct)
			fmt.Fprintf(out, "Bugs: %d/%d resolved\n", bugs.passing, bugs.total)
			fmt.Fprintf(out, "Features: %d/%d passing\n", feats.passing, feats.total)
			if debt.total > 0 {
				fmt.Fprintf(out, "Tech debt: %d/%d cleared\n", debt.passing, debt.total)
			}
			fmt.Fprintf(out, "Next: %s\n", nextLabel(led))
			return nil
		},
	}
}

// nextLabel names the highest priority pending item: bugs outrank features,
// tech debt trails everything.
func nextLabel(led *ledger.FeatureLedger) string {
	for _, kind := range []string{ledger.TypeBug, ledger.TypeFeature, ledger.TypeTechDebt} {
		item, err := led.Next(kind)
		if err != nil {
			continue
		}
		switch kind {
		case ledger.TypeBug:
			return fmt.Sprintf("%s (bug - priority)", item.ID)
		case ledger.TypeTechDebt:
			return fmt.Sprintf("%s (tech debt)", item.ID)
		default:
			return fmt.Sprintf("%s (feature)", item.ID)
		}
	}
	return "none (all passing)"
}
