package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Ledger file names inside a project state directory.
const (
	FeatureListFile = "feature_list.json"
	ProgressFile    = "progress.json"
	ReviewsFile     = "reviews.json"
	StateFile       = ".agent_state.json"

	backupDirName = ".backups"
)

// Load reads the JSON document at path into v. A missing file returns
// ErrNotFound; a file that exists but does not parse returns
// ErrCorruptLedger. Both are wrapped with the path so callers can report
// without re-stating it.
func Load(path string, v any) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%s: %w", path, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%s: %v: %w", path, err, ErrCorruptLedger)
	}
	return nil
}

// Save replaces the document at path with v rendered as indented JSON.
// The previous contents are first copied into a sibling .backups directory
// with a UTC timestamp suffix, then the new contents are written to a temp
// file and renamed into place so readers never observe a partial write.
func Save(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	if err := backup(path); err != nil {
		return err
	}
	return writeAtomic(path, v)
}

// WriteSnapshot writes v to path atomically without taking a backup copy.
// Used for transient caches like .agent_state.json that are rewritten every
// iteration and would otherwise flood .backups.
func WriteSnapshot(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	return writeAtomic(path, v)
}

// Exists reports whether a regular file is present at path.
func Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func writeAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", path, err)
	}
	data = append(data, '\n')

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}

// backup copies the current file into .backups as {stem}_{timestamp}.json.
// A missing source file means this is a first write; nothing to back up.
func backup(path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read %s for backup: %w", path, err)
	}

	backupDir := filepath.Join(filepath.Dir(path), backupDirName)
	if err := os.MkdirAll(backupDir, 0755); err != nil {
		return fmt.Errorf("failed to create backup directory %s: %w", backupDir, err)
	}

	base := filepath.Base(path)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	stamp := time.Now().UTC().Format("20060102_150405")
	dst := filepath.Join(backupDir, fmt.Sprintf("%s_%s.json", stem, stamp))
	if err := os.WriteFile(dst, data, 0644); err != nil {
		return fmt.Errorf("failed to write backup %s: %w", dst, err)
	}
	return nil
}

// nowStamp returns the ISO 8601 timestamp format used across the ledgers.
func nowStamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// cleanList trims whitespace and drops empty entries. Comma-separated CLI
// inputs pass through here so ledgers never store blank tokens.
func cleanList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
