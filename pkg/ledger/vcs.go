package ledger

import (
	"os/exec"
	"strings"
)

// HeadCommit returns the short hash of the current git HEAD in dir. The
// progress ledger stamps this on every write; when the query fails (no
// repository yet, git not installed) it degrades to "unknown" rather than
// blocking the write.
func HeadCommit(dir string) string {
	cmd := exec.Command("git", "rev-parse", "--short", "HEAD")
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return "unknown"
	}
	return strings.TrimSpace(string(out))
}
