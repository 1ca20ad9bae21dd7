// Package workspace prepares the directory the agent works in: the CLI
// permission settings, the CLAUDE.md rules document, and the seeded spec
// files a fresh project starts from.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"

	"agentloop/pkg/config"
	"agentloop/pkg/prompts"
)

// Files written into the project directory.
const (
	SettingsFileName  = ".claude_settings.json"
	GuideFileName     = "CLAUDE.md"
	SpecFileName      = "app_spec.txt"
	ChecklistFileName = "review_checklist.md"
)

// Prepare creates the project directory and writes the permission settings
// and agent guide. It runs on every start so configuration changes take
// effect on resume, not just on fresh projects.
func Prepare(cfg *config.Config) error {
	if err := os.MkdirAll(cfg.ProjectDir, 0o755); err != nil {
		return fmt.Errorf("create project dir: %w", err)
	}
	if err := WriteSettings(cfg); err != nil {
		return err
	}
	return WriteGuide(cfg)
}

// SeedSpec copies the application spec into the project as app_spec.txt and
// drops the review checklist beside it. Existing files are left untouched so
// a resumed project keeps the documents its ledger was planned from.
func SeedSpec(cfg *config.Config) error {
	if cfg.SpecFile == "" {
		return fmt.Errorf("spec file not configured")
	}

	specDst := filepath.Join(cfg.ProjectDir, SpecFileName)
	if _, err := os.Stat(specDst); os.IsNotExist(err) {
		data, err := os.ReadFile(cfg.SpecFile)
		if err != nil {
			return fmt.Errorf("read spec file %s: %w", cfg.SpecFile, err)
		}
		if err := os.WriteFile(specDst, data, 0o644); err != nil {
			return fmt.Errorf("copy spec into project: %w", err)
		}
	}

	checklistDst := filepath.Join(cfg.ProjectDir, ChecklistFileName)
	if _, err := os.Stat(checklistDst); os.IsNotExist(err) {
		if err := os.WriteFile(checklistDst, []byte(prompts.ReviewChecklist()), 0o644); err != nil {
			return fmt.Errorf("write review checklist: %w", err)
		}
	}

	return nil
}
