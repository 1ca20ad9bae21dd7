package cli

import (
	"fmt"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"agentloop/pkg/ledger"
	"agentloop/pkg/metrics"
	"agentloop/pkg/orchestrator"
)

// StatusCmd returns the status command: a read-only progress summary from
// the ledgers, safe to run while a loop is active.
func StatusCmd() *cobra.Command {
	var (
		projectDir string
		stateDir   string
		sessions   int
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show project progress from the ledgers",
		Long: `Summarize the tracked project: features passing, the progress bar, the
current phase, feature, and branch, and the most recent sessions.

Everything is read from the flat JSON ledgers; nothing is modified.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			cfg, err := inspectConfig("", stateDir, projectDir)
			if err != nil {
				return err
			}

			fmt.Fprintf(out, "Project: %s\n", cfg.ProjectName)
			fmt.Fprintf(out, "State dir: %s\n", cfg.StateDir)

			features := ledger.NewFeatureLedger(filepath.Join(cfg.StateDir, ledger.FeatureListFile))
			passing, total := features.Counts()
			fmt.Fprint(out, orchestrator.FormatProgress(passing, total))

			if sum, err := metrics.ReadTextfile(metrics.TextfilePath(cfg.StateDir)); err == nil && sum.TotalSessions() > 0 {
				fmt.Fprintf(out, "Sessions: %d | Tokens: %d in, %d out", sum.TotalSessions(), sum.InputTokens, sum.OutputTokens)
				if sum.EstimatedCost > 0 {
					fmt.Fprintf(out, " | Est. cost: $%.2f", sum.EstimatedCost)
				}
				fmt.Fprintln(out)
			}

			progress := ledger.NewProgressLedger(filepath.Join(cfg.StateDir, ledger.ProgressFile), cfg.ProjectDir)
			doc, err := progress.Load()
			if err != nil {
				fmt.Fprintln(out, "\nNo progress recorded yet.")
				return nil
			}

			st := doc.Status
			fmt.Fprintf(out, "\nPhase: %s\n", st.CurrentPhase)
			fmt.Fprintf(out, "Feature: %s\n", orDash(st.CurrentFeature))
			fmt.Fprintf(out, "Branch: %s\n", orDash(st.CurrentBranch))
			fmt.Fprintf(out, "Head: %s\n", st.HeadCommit)
			fmt.Fprintf(out, "Updated: %s\n", st.UpdatedAt)

			if len(doc.Sessions) == 0 {
				return nil
			}
			width := consoleWidth()
			fmt.Fprintln(out, "\nRecent sessions:")
			start := len(doc.Sessions) - sessions
			if start < 0 {
				start = 0
			}
			for _, s := range doc.Sessions[start:] {
				fmt.Fprintln(out, clipLine(fmt.Sprintf("  [%d] %s: %s - %s",
					s.SessionID, s.AgentType, s.Outcome, s.Summary), width))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&projectDir, "project-dir", defaultProjectDir, "project directory")
	cmd.Flags().StringVar(&stateDir, "state-dir", "", "ledger directory (default: the project directory)")
	cmd.Flags().IntVar(&sessions, "sessions", 5, "number of recent sessions to show")
	return cmd
}

// consoleWidth returns the terminal width for line clipping, with a fixed
// fallback when output is redirected.
func consoleWidth() int {
	if !term.IsTerminal(syscall.Stdout) {
		return 100
	}
	w, _, err := term.GetSize(syscall.Stdout)
	if err != nil || w <= 0 {
		return 100
	}
	return w
}

// clipLine shortens a line to the given width, marking the cut.
func clipLine(line string, width int) string {
	runes := []rune(line)
	if width <= 3 || len(runes) <= width {
		return line
	}
	return string(runes[:width-3]) + "..."
}

func orDash(p *string) string {
	if p == nil || *p == "" {
		return "-"
	}
	return *p
}
