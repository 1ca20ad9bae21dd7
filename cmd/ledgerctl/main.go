package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"agentloop/internal/ledgercli"
	"agentloop/pkg/version"
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "ledgerctl",
		Short:   "Companion CLI for the agent state ledgers",
		Version: version.Version,
		Long: `ledgerctl is how agent sessions read and update the JSON ledgers
(feature_list.json, progress.json, reviews.json) and the verification
bundles. Direct edits to the ledger files are not supported: every
mutation here validates its input and writes a timestamped backup before
touching the file.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.SetVersionTemplate(version.Template("ledgerctl"))

	rootCmd.AddCommand(ledgercli.FeaturesCmd())
	rootCmd.AddCommand(ledgercli.ProgressCmd())
	rootCmd.AddCommand(ledgercli.ReviewsCmd())
	rootCmd.AddCommand(ledgercli.VerificationCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
