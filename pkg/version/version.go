// Package version carries build information shared by the agentloop and
// ledgerctl binaries. The variables are set at build time via ldflags,
// for example:
//
//	go build -ldflags "-X agentloop/pkg/version.Version=v1.2.3"
package version

import "fmt"

//nolint:gochecknoglobals // These must be package-level vars for ldflags injection.
var (
	// Version is the semantic version, or "dev" for development builds.
	Version = "dev"

	// Commit is the git commit SHA of the build.
	Commit = "none"

	// Date is the build date in ISO format.
	Date = "unknown"
)

// Template renders the multi-line --version output for a named binary.
func Template(binary string) string {
	return fmt.Sprintf("%s %s\n  commit: %s\n  built:  %s\n", binary, Version, Commit, Date)
}
