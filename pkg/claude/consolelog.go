package claude

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
)

// ansiEscape matches ANSI escape sequences, including CSI color codes.
var ansiEscape = regexp.MustCompile("\x1b(?:[@-Z\\\\-_]|\\[[0-?]*[ -/]*[@-~])")

// StripANSI removes terminal escape sequences from s.
func StripANSI(s string) string {
	return ansiEscape.ReplaceAllString(s, "")
}

// Transcript mirrors session output to a plain-text log file with ANSI
// sequences stripped. A nil Transcript discards writes, so callers never
// need to branch on whether logging is enabled.
type Transcript struct {
	mu sync.Mutex
	f  *os.File
}

// NewTranscript opens the transcript file, creating parent directories.
func NewTranscript(path string) (*Transcript, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create transcript directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create transcript file: %w", err)
	}
	return &Transcript{f: f}, nil
}

// Write appends text to the transcript, stripped of escape sequences.
func (t *Transcript) Write(s string) {
	if t == nil || t.f == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.f.WriteString(StripANSI(s))
}

// Close flushes and releases the underlying file.
func (t *Transcript) Close() error {
	if t == nil || t.f == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	err := t.f.Close()
	t.f = nil
	return err
}

// TranscriptPath returns the conventional log location for a session,
// e.g. <stateDir>/logs/session_3_implement.log.
func TranscriptPath(stateDir string, sessionNum int, sessionType string) string {
	name := fmt.Sprintf("session_%d_%s.log", sessionNum, strings.ToLower(sessionType))
	return filepath.Join(stateDir, "logs", name)
}
