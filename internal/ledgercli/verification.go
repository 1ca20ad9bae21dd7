package ledgercli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"agentloop/pkg/ledger"
)

// VerificationCmd returns the verification command group over the
// per-session evidence bundles.
func VerificationCmd() *cobra.Command {
	var stateDir string

	cmd := &cobra.Command{
		Use:   "verification",
		Short: "Manage per-session verification evidence bundles",
		Long: `The verification group prepares evidence bundles under
<state-dir>/verification/<session-id>/ and inspects their reports. Bundles
carry the input spec, screenshots, and test output that back a session's
claims.`,
	}
	cmd.PersistentFlags().StringVarP(&stateDir, "agent-state-dir", "d", "",
		"state directory holding the ledgers (default: $"+ledger.EnvStateDir+" or the working directory)")

	dir := func() string { return ledger.ResolveDir(stateDir) }

	cmd.AddCommand(
		verificationPrepareCmd(dir),
		verificationStatusCmd(dir),
		verificationListCmd(dir),
		verificationReportCmd(dir),
	)
	return cmd
}

func verificationPrepareCmd(dir func() string) *cobra.Command {
	var (
		sessionID  int
		featureIDs string
		agentType  string
	)

	cmd := &cobra.Command{
		Use:   "prepare",
		Short: "Create a session's bundle structure and input file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkChoice("agent type", agentType, []string{"IMPLEMENT", "FIX", "BUGFIX", "GLOBAL_FIX"}); err != nil {
				return err
			}
			ids := splitList(featureIDs)
			input, err := ledger.NewVerification(dir()).Prepare(sessionID, ids, agentType)
			if err != nil {
				return err
			}
			if len(input.FeatureSpecifications) == 0 && len(input.FeatureIDs) > 0 {
				fmt.Fprintf(cmd.ErrOrStderr(), "WARNING: No features found matching IDs: %s\n",
					strings.Join(input.FeatureIDs, ", "))
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "SUCCESS: Verification input prepared")
			fmt.Fprintf(out, "Directory: %s\n", input.OutputDir)
			fmt.Fprintf(out, "Input file: %s\n", filepath.Join(input.OutputDir, "verification_input.json"))
			return printJSON(out, input)
		},
	}
	cmd.Flags().IntVarP(&sessionID, "session-id", "s", 0, "session the bundle belongs to (required)")
	cmd.Flags().StringVarP(&featureIDs, "feature-ids", "f", "", "comma-separated feature ids to verify (required)")
	cmd.Flags().StringVarP(&agentType, "agent-type", "a", "IMPLEMENT", "agent type requesting verification")
	_ = cmd.MarkFlagRequired("session-id")
	_ = cmd.MarkFlagRequired("feature-ids")
	return cmd
}

func verificationStatusCmd(dir func() string) *cobra.Command {
	var sessionID int

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Summarize one session's evidence bundle",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := ledger.NewVerification(dir()).Status(sessionID)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), st)
		},
	}
	cmd.Flags().IntVarP(&sessionID, "session-id", "s", 0, "session to inspect (required)")
	_ = cmd.MarkFlagRequired("session-id")
	return cmd
}

func verificationListCmd(dir func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every session's verification status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			statuses, err := ledger.NewVerification(dir()).List()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(statuses) == 0 {
				fmt.Fprintln(out, "No verification reports found.")
				return nil
			}

			fmt.Fprintf(out, "%-10s %-15s %-12s\n", "Session", "Status", "Screenshots")
			fmt.Fprintln(out, strings.Repeat("-", 37))
			var verified, notVerified, inProgress int
			for _, st := range statuses {
				fmt.Fprintf(out, "%-10d %-15s %-12d\n", st.SessionID, st.Status, st.Screenshots)
				switch st.Status {
				case ledger.VerifyVerified:
					verified++
				case ledger.VerifyNotVerified:
					notVerified++
				case ledger.VerifyInProgress:
					inProgress++
				}
			}
			fmt.Fprintf(out, "Total: %d | Verified: %d | Not Verified: %d | In Progress: %d\n",
				len(statuses), verified, notVerified, inProgress)
			return nil
		},
	}
}

func verificationReportCmd(dir func() string) *cobra.Command {
	var sessionID int

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Generate a report template for manual verification",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			v := ledger.NewVerification(dir())
			bundleDir := v.SessionDir(sessionID)
			if _, err := os.Stat(bundleDir); err != nil {
				return fmt.Errorf("ERROR: Verification directory does not exist: %s\nRun 'prepare' first to create the directory structure.", bundleDir)
			}
			inputPath := filepath.Join(bundleDir, "verification_input.json")
			if !ledger.Exists(inputPath) {
				return fmt.Errorf("ERROR: Verification input not found: %s", inputPath)
			}

			reportPath, err := v.ReportTemplate(sessionID)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "SUCCESS: Report template generated: %s\n", reportPath)
			fmt.Fprintln(out, "Edit this file to complete verification manually.")
			return nil
		},
	}
	cmd.Flags().IntVarP(&sessionID, "session-id", "s", 0, "session to report on (required)")
	_ = cmd.MarkFlagRequired("session-id")
	return cmd
}
