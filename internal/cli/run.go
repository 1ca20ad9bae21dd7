// Package cli implements the agentloop commands. Each constructor returns a
// self-contained cobra command; main assembles them under the root.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"agentloop/pkg/config"
	"agentloop/pkg/ledger"
	"agentloop/pkg/orchestrator"
	"agentloop/pkg/preflight"
)

// defaultProjectDir mirrors the documented default so `run` works with
// nothing but a spec file.
const defaultProjectDir = "./generations/project"

// RunCmd returns the run command: preflight, configuration assembly, and the
// orchestration loop itself.
func RunCmd() *cobra.Command {
	defaults := config.Default()

	var (
		specFile      string
		projectDir    string
		stateDir      string
		configFile    string
		projectName   string
		sourceDirs    []string
		forbiddenDirs []string
		mainBranch    string

		implementModel    string
		reviewModel       string
		fixModel          string
		architectureModel string
		bugfixModel       string
		brownfieldModel   string

		maxIterations        int
		architectureInterval int
		featureCount         int
		techDebtThreshold    int

		brownfield bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the autonomous agent loop until no work remains",
		Long: `Run the multi-agent coding loop: implement, review, fix, and architecture
sessions alternate until every work item in feature_list.json passes.

An interrupted run resumes by running the same command again; the saved
configuration snapshot and the ledgers in the state directory carry
everything the loop needs to pick up where it stopped.

Prerequisites:
  - Claude Code CLI installed: npm install -g @anthropic-ai/claude-code
  - Logged in: claude login

Examples:
  agentloop run --spec-file app_spec.txt
  agentloop run --spec-file app_spec.txt --max-iterations 5
  agentloop run --spec-file app_spec.txt --project-dir ./legacy --brownfield`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			flags := cmd.Flags()

			// Configuration sources, lowest to highest: defaults, then a
			// config file or the snapshot of a previous run, then every
			// flag the operator set explicitly.
			cfg := defaults
			if configFile != "" {
				loaded, err := config.LoadYAML(configFile)
				if err != nil {
					return err
				}
				cfg = loaded
			} else {
				dir := stateDir
				if dir == "" {
					dir = projectDir
				}
				snap, ok, err := config.LoadSnapshot(dir)
				switch {
				case err != nil:
					fmt.Fprintf(cmd.ErrOrStderr(), "WARNING: ignoring unreadable config snapshot: %v\n", err)
				case ok:
					cfg = snap
					fmt.Fprintf(out, "Resuming with saved configuration from %s\n",
						filepath.Join(dir, config.SnapshotFileName))
				}
			}

			if flags.Changed("project-dir") || cfg.ProjectDir == "" {
				cfg.ProjectDir = projectDir
			}
			if flags.Changed("state-dir") {
				cfg.StateDir = stateDir
			}
			if flags.Changed("spec-file") || cfg.SpecFile == "" {
				cfg.SpecFile = specFile
			}
			if flags.Changed("project-name") {
				cfg.ProjectName = projectName
			}
			if flags.Changed("source-dir") {
				cfg.SourceDirs = sourceDirs
			}
			if flags.Changed("forbidden-dir") {
				cfg.ForbiddenDirs = forbiddenDirs
			}
			if flags.Changed("main-branch") {
				cfg.MainBranch = mainBranch
			}
			if flags.Changed("implement-model") {
				cfg.Models.Implement = implementModel
			}
			if flags.Changed("review-model") {
				cfg.Models.Review = reviewModel
			}
			if flags.Changed("fix-model") {
				cfg.Models.Fix = fixModel
			}
			if flags.Changed("architecture-model") {
				cfg.Models.Architecture = architectureModel
			}
			if flags.Changed("bugfix-model") {
				cfg.Models.Bugfix = bugfixModel
			}
			if flags.Changed("brownfield-model") {
				cfg.Models.Brownfield = brownfieldModel
			}
			if flags.Changed("max-iterations") {
				cfg.MaxIterations = maxIterations
			}
			if flags.Changed("architecture-interval") {
				cfg.ArchitectureInterval = architectureInterval
			}
			if flags.Changed("feature-count") {
				cfg.FeatureCount = featureCount
			}
			if flags.Changed("tech-debt-threshold") {
				cfg.TechDebtThreshold = techDebtThreshold
			}
			if cfg.StateDir == "" {
				cfg.StateDir = cfg.ProjectDir
			}
			if err := absolutePaths(&cfg); err != nil {
				return err
			}

			if !ledger.Exists(cfg.SpecFile) {
				return fmt.Errorf("Error: Spec file not found: %s", cfg.SpecFile)
			}
			if err := gatePreflight(cmd.Context(), &cfg); err != nil {
				return err
			}
			fmt.Fprintln(out, "✓ Claude Code CLI installed")

			if err := loadSecrets(cmd, cfg.StateDir); err != nil {
				return err
			}

			loop, err := orchestrator.New(&cfg)
			if err != nil {
				return err
			}
			loop.Brownfield = brownfield

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			switch err := loop.Run(ctx); {
			case errors.Is(err, context.Canceled):
				fmt.Fprintln(out, "\n\nInterrupted by user")
				fmt.Fprintln(out, "To resume, run the same command again")
				return nil
			case err != nil:
				return fmt.Errorf("Fatal error: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&specFile, "spec-file", "", "path to the application specification file (required)")
	cmd.Flags().StringVar(&projectDir, "project-dir", defaultProjectDir, "directory for the generated project")
	cmd.Flags().StringVar(&stateDir, "state-dir", "", "ledger directory (default: the project directory)")
	cmd.Flags().StringVar(&configFile, "config-file", "", "load configuration from a YAML file")
	cmd.Flags().StringVar(&projectName, "project-name", defaults.ProjectName, "project name used in prompts and ledgers")
	cmd.Flags().StringArrayVar(&sourceDirs, "source-dir", nil, "additional source directory the agent may modify (repeatable)")
	cmd.Flags().StringArrayVar(&forbiddenDirs, "forbidden-dir", nil, "directory the agent must not modify (repeatable)")
	cmd.Flags().StringVar(&mainBranch, "main-branch", defaults.MainBranch, "name of the main git branch")

	cmd.Flags().StringVar(&implementModel, "implement-model", defaults.Models.Implement, "model for implementation sessions")
	cmd.Flags().StringVar(&reviewModel, "review-model", defaults.Models.Review, "model for code review sessions")
	cmd.Flags().StringVar(&fixModel, "fix-model", defaults.Models.Fix, "model for fix and global-fix sessions")
	cmd.Flags().StringVar(&architectureModel, "architecture-model", defaults.Models.Architecture, "model for architecture reviews")
	cmd.Flags().StringVar(&bugfixModel, "bugfix-model", defaults.Models.Bugfix, "model for bugfix sessions")
	cmd.Flags().StringVar(&brownfieldModel, "brownfield-model", defaults.Models.Brownfield, "model for the brownfield initializer")

	cmd.Flags().IntVar(&maxIterations, "max-iterations", 0, "maximum number of sessions, 0 means unlimited")
	cmd.Flags().IntVar(&architectureInterval, "architecture-interval", defaults.ArchitectureInterval, "run an architecture review every N completed features")
	cmd.Flags().IntVar(&featureCount, "feature-count", defaults.FeatureCount, "number of features the initializer generates")
	cmd.Flags().IntVar(&techDebtThreshold, "tech-debt-threshold", defaults.TechDebtThreshold, "pending tech debt count that triggers a global fix sweep")
	cmd.Flags().BoolVar(&brownfield, "brownfield", false, "start from an existing codebase with the brownfield initializer")

	_ = cmd.MarkFlagRequired("spec-file")

	return cmd
}

// gatePreflight runs the environment checks before the loop starts. A
// missing claude CLI gets the install hint; other failures are reported
// with their per-check guidance.
func gatePreflight(ctx context.Context, cfg *config.Config) error {
	results, err := preflight.Run(ctx, cfg)
	if err != nil {
		return err
	}
	if results.Passed {
		return nil
	}

	var b strings.Builder
	for i := range results.Checks {
		check := results.Checks[i]
		if check.Passed {
			continue
		}
		if check.Check == preflight.CheckClaudeCLI {
			return errors.New("Error: Claude Code CLI not installed\n\nInstall with: npm install -g @anthropic-ai/claude-code")
		}
		b.WriteString(preflight.FormatCheckError(check))
	}
	return errors.New(strings.TrimRight(b.String(), "\n"))
}

// absolutePaths normalizes every configured path so the loop and the agent
// subprocess agree on locations regardless of the launch directory.
func absolutePaths(cfg *config.Config) error {
	resolve := func(p *string) error {
		if *p == "" {
			return nil
		}
		abs, err := filepath.Abs(*p)
		if err != nil {
			return fmt.Errorf("resolve path %s: %w", *p, err)
		}
		*p = abs
		return nil
	}

	for _, p := range []*string{&cfg.ProjectDir, &cfg.StateDir, &cfg.SpecFile} {
		if err := resolve(p); err != nil {
			return err
		}
	}
	for i := range cfg.SourceDirs {
		if err := resolve(&cfg.SourceDirs[i]); err != nil {
			return err
		}
	}
	for i := range cfg.ForbiddenDirs {
		if err := resolve(&cfg.ForbiddenDirs[i]); err != nil {
			return err
		}
	}
	return nil
}
