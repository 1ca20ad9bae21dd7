// Package config holds the orchestrator configuration: project paths,
// per-role model selection, scheduling thresholds, and the persisted
// snapshot used for crash resume.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Snapshot file written into the state directory so a restarted run picks
// up the exact configuration of the interrupted one.
const SnapshotFileName = ".agent_config.json"

// Models maps each session role to the model it runs with.
type Models struct {
	Implement    string `yaml:"implement" json:"implement"`
	Review       string `yaml:"review" json:"review"`
	Fix          string `yaml:"fix" json:"fix"`
	Architecture string `yaml:"architecture" json:"architecture"`
	Bugfix       string `yaml:"bugfix" json:"bugfix"`
	Brownfield   string `yaml:"brownfield" json:"brownfield"`
}

// Config is immutable after construction. The orchestration loop owns it
// for the process lifetime; companion tools read the snapshot.
type Config struct {
	ProjectName string `yaml:"project_name" json:"project_name"`
	ProjectDir  string `yaml:"project_dir" json:"project_dir"`
	// StateDir holds the ledgers, snapshots, and backups. Defaults to
	// ProjectDir so the agent and the companion tools see one directory.
	StateDir      string   `yaml:"state_dir" json:"state_dir"`
	SpecFile      string   `yaml:"spec_file" json:"spec_file"`
	SourceDirs    []string `yaml:"source_dirs" json:"source_dirs"`
	ForbiddenDirs []string `yaml:"forbidden_dirs" json:"forbidden_dirs"`
	MainBranch    string   `yaml:"main_branch" json:"main_branch"`

	Models Models `yaml:"models" json:"models"`

	// MaxIterations of 0 means run until no work remains.
	MaxIterations        int `yaml:"max_iterations" json:"max_iterations"`
	ArchitectureInterval int `yaml:"architecture_interval" json:"architecture_interval"`
	FeatureCount         int `yaml:"feature_count" json:"feature_count"`
	// TechDebtThreshold is the pending tech-debt count at which a global
	// fix sweep outranks new feature work.
	TechDebtThreshold int `yaml:"tech_debt_threshold" json:"tech_debt_threshold"`
	// GlobalFixCooldown is the number of implementation sessions that must
	// elapse before another sweep may be scheduled.
	GlobalFixCooldown int `yaml:"global_fix_cooldown" json:"global_fix_cooldown"`

	MaxTurns         int `yaml:"max_turns" json:"max_turns"`
	HeartbeatSeconds int `yaml:"heartbeat_seconds" json:"heartbeat_seconds"`

	// AllowedTools overrides the default tool allow-list handed to the
	// subprocess. Empty means use the built-in default set.
	AllowedTools []string `yaml:"allowed_tools" json:"allowed_tools"`

	// MetricsSnapshot enables writing metrics.prom into the state
	// directory when the loop exits.
	MetricsSnapshot bool `yaml:"metrics_snapshot" json:"metrics_snapshot"`
}

// Default returns the baseline configuration. Paths are left empty and must
// be filled by flags or a config file.
func Default() Config {
	return Config{
		ProjectName: "Project",
		MainBranch:  "main",
		Models: Models{
			Implement:    "sonnet",
			Review:       "opus",
			Fix:          "sonnet",
			Architecture: "opus",
			Bugfix:       "sonnet",
			Brownfield:   "opus",
		},
		ArchitectureInterval: 5,
		FeatureCount:         50,
		TechDebtThreshold:    5,
		GlobalFixCooldown:    10,
		MaxTurns:             200,
		HeartbeatSeconds:     30,
		MetricsSnapshot:      true,
	}
}

// LoadYAML reads an operator-authored config file over the defaults.
// Unknown keys are rejected so typos surface immediately.
func LoadYAML(path string) (Config, error) {
	cfg := Default()

	f, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config %s: %w", path, err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.applyDerived()
	return cfg, nil
}

func (c *Config) applyDerived() {
	if c.StateDir == "" {
		c.StateDir = c.ProjectDir
	}
}

// Validate checks the fields the loop cannot run without.
func (c *Config) Validate() error {
	if c.ProjectDir == "" {
		return fmt.Errorf("project_dir is required")
	}
	if c.ArchitectureInterval <= 0 {
		return fmt.Errorf("architecture_interval must be positive, got %d", c.ArchitectureInterval)
	}
	if c.TechDebtThreshold <= 0 {
		return fmt.Errorf("tech_debt_threshold must be positive, got %d", c.TechDebtThreshold)
	}
	if c.GlobalFixCooldown < 0 {
		return fmt.Errorf("global_fix_cooldown must not be negative, got %d", c.GlobalFixCooldown)
	}
	if c.MaxTurns <= 0 {
		return fmt.Errorf("max_turns must be positive, got %d", c.MaxTurns)
	}
	for role, model := range map[string]string{
		"implement":    c.Models.Implement,
		"review":       c.Models.Review,
		"fix":          c.Models.Fix,
		"architecture": c.Models.Architecture,
		"bugfix":       c.Models.Bugfix,
		"brownfield":   c.Models.Brownfield,
	} {
		if model == "" {
			return fmt.Errorf("models.%s must not be empty", role)
		}
	}
	return nil
}

// HeartbeatInterval returns the stall-notice period as a duration.
func (c *Config) HeartbeatInterval() time.Duration {
	if c.HeartbeatSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.HeartbeatSeconds) * time.Second
}

// SaveSnapshot persists the configuration into the state directory.
func (c *Config) SaveSnapshot() error {
	if c.StateDir == "" {
		return fmt.Errorf("state dir not set")
	}
	if err := os.MkdirAll(c.StateDir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config snapshot: %w", err)
	}
	data = append(data, '\n')

	path := filepath.Join(c.StateDir, SnapshotFileName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write config snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace config snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot reads a previously saved configuration from stateDir.
// The second return is false when no snapshot exists.
func LoadSnapshot(stateDir string) (Config, bool, error) {
	path := filepath.Join(stateDir, SnapshotFileName)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Config{}, false, nil
	}
	if err != nil {
		return Config{}, false, fmt.Errorf("read config snapshot: %w", err)
	}

	cfg := Default()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, false, fmt.Errorf("parse config snapshot %s: %w", path, err)
	}
	cfg.applyDerived()
	return cfg, true, nil
}
