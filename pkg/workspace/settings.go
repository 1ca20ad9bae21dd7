package workspace

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"agentloop/pkg/claude"
	"agentloop/pkg/config"
)

// Settings is the permission document consumed by the Claude Code CLI.
type Settings struct {
	Permissions Permissions `json:"permissions"`
	Model       string      `json:"model"`
}

// Permissions carries the allow-list; anything not listed is denied.
type Permissions struct {
	Allow []string `json:"allow"`
}

// fileTools get per-directory glob grants.
var fileTools = []string{"Read", "Write", "Edit", "Glob", "Grep"}

// bashAllow is the shell whitelist. ledgerctl is how agents reach the
// ledgers; curl is intentionally not allowed so testing cannot bypass the UI.
var bashAllow = []string{
	"Bash(ls *)",
	"Bash(cat *)",
	"Bash(npm *)",
	"Bash(npx *)",
	"Bash(node *)",
	"Bash(python *)",
	"Bash(python3 *)",
	"Bash(pip *)",
	"Bash(pip3 *)",
	"Bash(pytest *)",
	"Bash(git *)",
	"Bash(ledgerctl *)",
	"Bash(mkdir *)",
	"Bash(chmod +x *)",
	"Bash(./init.sh)",
	"Bash(sleep *)",
	"Bash(date *)",
	"Bash(uvicorn *)",
}

// BuildPermissions assembles the allow-list: file tools scoped to the
// project directory and each extra source directory, the bash whitelist,
// and every browser automation tool.
func BuildPermissions(projectDir string, sourceDirs []string) []string {
	dirs := append([]string{projectDir}, sourceDirs...)

	perms := make([]string, 0, len(dirs)*len(fileTools)+len(bashAllow)+len(claude.PlaywrightTools()))
	for _, dir := range dirs {
		for _, tool := range fileTools {
			perms = append(perms, fmt.Sprintf("%s(%s/**)", tool, dir))
		}
	}
	perms = append(perms, bashAllow...)
	for _, tool := range claude.PlaywrightTools() {
		perms = append(perms, tool+"(*)")
	}
	return perms
}

// WriteSettings writes the CLI permission document into the project dir.
func WriteSettings(cfg *config.Config) error {
	settings := Settings{
		Permissions: Permissions{Allow: BuildPermissions(cfg.ProjectDir, cfg.SourceDirs)},
		Model:       cfg.Models.Implement,
	}

	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	data = append(data, '\n')

	path := filepath.Join(cfg.ProjectDir, SettingsFileName)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write settings file: %w", err)
	}
	return nil
}
