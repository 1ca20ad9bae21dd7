package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"agentloop/internal/cli"
	"agentloop/pkg/version"
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "agentloop",
		Short:   "Autonomous multi-agent coding loop",
		Version: version.Version,
		Long: `agentloop drives a multi-agent coding workflow against the Claude Code
CLI: an implementation agent builds features from a spec, a review agent
audits every change, and fix, bugfix, and architecture agents keep the
codebase healthy. All shared state lives in flat JSON ledgers, so an
interrupted run resumes by running the same command again.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.SetVersionTemplate(version.Template("agentloop"))

	rootCmd.AddCommand(cli.RunCmd())
	rootCmd.AddCommand(cli.StatusCmd())
	rootCmd.AddCommand(cli.DoctorCmd())
	rootCmd.AddCommand(cli.SecretsCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
