package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"agentloop/pkg/config"
	"agentloop/pkg/preflight"
)

// DoctorCmd returns the doctor command for environment validation.
func DoctorCmd() *cobra.Command {
	var (
		projectDir string
		stateDir   string
		configFile string
	)

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Validate the environment before a long run",
		Long: `Run every preflight check and report the results:

- claude CLI present and responding to --version
- git available for branch and merge work
- state directory writable
- configuration complete
- Anthropic API key (advisory, enables exact token counts)

Examples:
  agentloop doctor
  agentloop doctor --project-dir ./generations/project`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := inspectConfig(configFile, stateDir, projectDir)
			if err != nil {
				return err
			}

			results, err := preflight.Run(cmd.Context(), &cfg)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), preflight.FormatResults(results))

			if !results.Passed {
				return errors.New("environment validation failed")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&projectDir, "project-dir", defaultProjectDir, "project directory to validate")
	cmd.Flags().StringVar(&stateDir, "state-dir", "", "ledger directory (default: the project directory)")
	cmd.Flags().StringVar(&configFile, "config-file", "", "validate a YAML config file")
	return cmd
}

// inspectConfig builds the configuration the read-only commands work
// against: an explicit config file wins, then the snapshot of a previous
// run, then defaults pointed at the given directories.
func inspectConfig(configFile, stateDir, projectDir string) (config.Config, error) {
	if configFile != "" {
		return config.LoadYAML(configFile)
	}

	dir := stateDir
	if dir == "" {
		dir = projectDir
	}
	if snap, ok, err := config.LoadSnapshot(dir); err == nil && ok {
		if stateDir != "" {
			snap.StateDir = stateDir
		}
		return snap, nil
	}

	cfg := config.Default()
	cfg.ProjectDir = projectDir
	cfg.StateDir = dir
	return cfg, nil
}
