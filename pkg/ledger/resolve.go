package ledger

import (
	"os"
	"path/filepath"
)

// EnvStateDir is the environment variable that points agent subprocesses
// and the companion CLIs at the project state directory.
const EnvStateDir = "AGENT_STATE_DIR"

// ResolveFile locates a ledger file for the companion CLIs. Precedence:
// explicit file path, then the state-dir flag, then AGENT_STATE_DIR, then
// the working directory.
func ResolveFile(explicit, stateDir, name string) string {
	if explicit != "" {
		return explicit
	}
	return filepath.Join(ResolveDir(stateDir), name)
}

// ResolveDir resolves the state directory with the same precedence, minus
// the per-file override.
func ResolveDir(stateDir string) string {
	if stateDir != "" {
		return stateDir
	}
	if env := os.Getenv(EnvStateDir); env != "" {
		return env
	}
	return "."
}

// DetectExistingProject reports whether dir already carries a tracked
// project: both the feature ledger and the progress ledger must exist.
// One without the other is treated as untracked so initialization can
// rebuild the pair.
func DetectExistingProject(dir string) bool {
	return Exists(filepath.Join(dir, FeatureListFile)) &&
		Exists(filepath.Join(dir, ProgressFile))
}
