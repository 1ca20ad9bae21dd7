package ledger

import "errors"

// Sentinel errors shared by every ledger operation. Callers dispatch with
// errors.Is: the companion CLIs map them onto exit codes and stderr
// messages, the orchestrator decides recover-vs-fail per ledger.
var (
	// ErrNotFound covers both a missing ledger file and a missing record
	// inside an otherwise healthy ledger.
	ErrNotFound = errors.New("not found")

	// ErrCorruptLedger marks a ledger file that exists but does not parse
	// as JSON. Wrapped errors carry the path and the parse detail.
	ErrCorruptLedger = errors.New("corrupt ledger")

	// ErrNoWork is returned by work selection when every item in the
	// feature ledger is already passing.
	ErrNoWork = errors.New("no work remaining")
)
