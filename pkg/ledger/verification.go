package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// Verification statuses. VERIFIED, NOT_VERIFIED, and INCOMPLETE come from
// the **Status:** marker inside verification.md; the rest are derived from
// which bundle files exist.
const (
	VerifyNotStarted  = "NOT_STARTED"
	VerifyInProgress  = "IN_PROGRESS"
	VerifyVerified    = "VERIFIED"
	VerifyNotVerified = "NOT_VERIFIED"
	VerifyIncomplete  = "INCOMPLETE"
	VerifyUnknown     = "UNKNOWN"
)

const (
	verificationDirName = "verification"
	verificationReport  = "verification.md"
	verificationInput   = "verification_input.json"
)

// VerificationInput is written into the bundle for the verification
// subagent, describing what to verify and where to put evidence.
type VerificationInput struct {
	SessionID             int               `json:"session_id"`
	FeatureSpecifications []WorkItem        `json:"feature_specifications"`
	FeatureIDs            []string          `json:"feature_ids"`
	TestCommands          []string          `json:"test_commands"`
	AppURLs               map[string]string `json:"app_urls"`
	OutputDir             string            `json:"verification_output_dir"`
	CreatedAt             string            `json:"created_at"`
	AgentType             string            `json:"agent_type"`
}

// VerificationStatus summarizes one session's evidence bundle.
type VerificationStatus struct {
	SessionID    int    `json:"session_id"`
	Status       string `json:"status"`
	Message      string `json:"message,omitempty"`
	ReportPath   string `json:"report_path,omitempty"`
	Screenshots  int    `json:"screenshots_count"`
	TestEvidence bool   `json:"test_evidence_exists"`
	Dir          string `json:"verification_dir,omitempty"`
}

// Verification manages the per-session evidence bundles under
// <state-dir>/verification/<session-id>/. The bundles are a side channel
// keyed by session id, independent of the three main ledgers.
type Verification struct {
	stateDir string
}

// NewVerification returns a manager rooted at the given state directory.
func NewVerification(stateDir string) *Verification {
	return &Verification{stateDir: stateDir}
}

// SessionDir returns the bundle directory for one session.
func (v *Verification) SessionDir(sessionID int) string {
	return filepath.Join(v.stateDir, verificationDirName, strconv.Itoa(sessionID))
}

// Prepare creates the bundle structure (screenshots/, test_evidence/) and
// writes the input file the verification subagent reads. Feature
// specifications are snapshotted from the feature ledger; a missing ledger
// just means an empty specification set.
func (v *Verification) Prepare(sessionID int, featureIDs []string, agentType string) (*VerificationInput, error) {
	dir := v.SessionDir(sessionID)
	for _, sub := range []string{"", "screenshots", "test_evidence"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0755); err != nil {
			return nil, fmt.Errorf("failed to create verification directory: %w", err)
		}
	}

	featureIDs = cleanList(featureIDs)
	specs := []WorkItem{}
	if doc, err := NewFeatureLedger(filepath.Join(v.stateDir, FeatureListFile)).Load(); err == nil {
		want := make(map[string]bool, len(featureIDs))
		for _, id := range featureIDs {
			want[id] = true
		}
		for _, item := range doc.Features {
			if want[item.ID] {
				specs = append(specs, item)
			}
		}
	}

	if agentType == "" {
		agentType = "IMPLEMENT"
	}

	input := &VerificationInput{
		SessionID:             sessionID,
		FeatureSpecifications: specs,
		FeatureIDs:            featureIDs,
		TestCommands:          testCommands(),
		AppURLs: map[string]string{
			"frontend": envOr("FRONTEND_URL", "http://localhost:3000"),
			"backend":  envOr("BACKEND_URL", "http://localhost:8000"),
		},
		OutputDir: dir,
		CreatedAt: nowStamp(),
		AgentType: agentType,
	}

	if err := WriteSnapshot(filepath.Join(dir, verificationInput), input); err != nil {
		return nil, err
	}
	return input, nil
}

// Status inspects one bundle: an absent directory means not started, an
// input without a report means in progress, otherwise the report's
// **Status:** marker decides.
func (v *Verification) Status(sessionID int) (*VerificationStatus, error) {
	dir := v.SessionDir(sessionID)
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		return &VerificationStatus{
			SessionID: sessionID,
			Status:    VerifyNotStarted,
			Message:   "Verification directory does not exist",
		}, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", dir, err)
	}

	reportPath := filepath.Join(dir, verificationReport)
	if Exists(filepath.Join(dir, verificationInput)) && !Exists(reportPath) {
		return &VerificationStatus{
			SessionID: sessionID,
			Status:    VerifyInProgress,
			Message:   "Verification input exists, awaiting report",
		}, nil
	}
	if !Exists(reportPath) {
		return &VerificationStatus{
			SessionID: sessionID,
			Status:    VerifyNotStarted,
			Message:   "No verification report found",
		}, nil
	}

	content, err := os.ReadFile(reportPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", reportPath, err)
	}

	return &VerificationStatus{
		SessionID:    sessionID,
		Status:       reportStatus(string(content)),
		ReportPath:   reportPath,
		Screenshots:  countScreenshots(dir),
		TestEvidence: Exists(filepath.Join(dir, "test_evidence", "test_output.txt")),
		Dir:          dir,
	}, nil
}

// List summarizes every bundle under the state directory, lowest session id
// first. A bundle with a report but no status marker counts as in progress.
func (v *Verification) List() ([]VerificationStatus, error) {
	base := filepath.Join(v.stateDir, verificationDirName)
	entries, err := os.ReadDir(base)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", base, err)
	}

	var out []VerificationStatus
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		id, err := strconv.Atoi(entry.Name())
		if err != nil {
			continue
		}
		dir := filepath.Join(base, entry.Name())

		status := VerifyNotStarted
		if content, err := os.ReadFile(filepath.Join(dir, verificationReport)); err == nil {
			if s := reportStatus(string(content)); s != VerifyUnknown {
				status = s
			} else {
				status = VerifyInProgress
			}
		} else if Exists(filepath.Join(dir, verificationInput)) {
			status = VerifyInProgress
		}

		out = append(out, VerificationStatus{
			SessionID:   id,
			Status:      status,
			Screenshots: countScreenshots(dir),
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out, nil
}

// ReportTemplate writes a verification.md skeleton into an existing bundle
// for manual completion and returns its path. Prepare must have run first.
func (v *Verification) ReportTemplate(sessionID int) (string, error) {
	dir := v.SessionDir(sessionID)
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("verification directory %s: %w (run prepare first)", dir, ErrNotFound)
	}

	inputPath := filepath.Join(dir, verificationInput)
	data, err := os.ReadFile(inputPath)
	if errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("verification input %s: %w", inputPath, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", inputPath, err)
	}
	var input VerificationInput
	if err := json.Unmarshal(data, &input); err != nil {
		return "", fmt.Errorf("%s: %v: %w", inputPath, err, ErrCorruptLedger)
	}

	reportPath := filepath.Join(dir, verificationReport)
	if err := os.WriteFile(reportPath, []byte(reportTemplate(sessionID, &input)), 0644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", reportPath, err)
	}
	return reportPath, nil
}

func reportTemplate(sessionID int, input *VerificationInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Verification Report: Session %d\n\n", sessionID)
	fmt.Fprintf(&b, "## Metadata\n")
	fmt.Fprintf(&b, "- **Session ID:** %d\n", sessionID)
	fmt.Fprintf(&b, "- **Agent Type:** %s\n", input.AgentType)
	fmt.Fprintf(&b, "- **Timestamp:** %s\n", nowStamp())
	fmt.Fprintf(&b, "- **Verified By:** [Manual / Verification Subagent]\n\n")

	fmt.Fprintf(&b, "## Features Verified\n")
	fmt.Fprintf(&b, "| Feature ID | Name | Specification Summary |\n")
	fmt.Fprintf(&b, "|------------|------|----------------------|\n")
	for _, item := range input.FeatureSpecifications {
		fmt.Fprintf(&b, "| %s | %s | %s... |\n", item.ID, item.Name, truncate(item.Description, 50))
	}
	if len(input.FeatureSpecifications) == 0 {
		for _, id := range input.FeatureIDs {
			fmt.Fprintf(&b, "| %s | [Name] | [Description] |\n", id)
		}
	}

	b.WriteString(`
---

## Test Evidence

### Tests Created
| Test Name | Purpose | What It Verifies |
|-----------|---------|------------------|
| [test_name] | [purpose] | [what it verifies] |

### Test Execution
- **Command:** [test command]
- **Exit Code:** [0 or error code]
- **Result:** [X passed, Y failed]
- **Raw Output:** See ` + "`test_evidence/test_output.txt`" + `

---

## Visual Evidence

### Screenshot: 001-[description].png
- **URL:** [URL tested]
- **What This Shows:** [Description]
- **Expected Per Spec:** [Expected behavior]
- **Match:** [YES / NO]

---

## Specification Compliance Checklist

| Requirement | Evidence | Status |
|-------------|----------|--------|
| [requirement from spec] | [screenshot/test] | [VERIFIED / NOT_VERIFIED] |

---

## Verification Conclusion

**Status:** [VERIFIED / NOT_VERIFIED / INCOMPLETE]
**Reason:** [Explanation]

---

## Limitations Noted

- [What was not tested and why]
`)
	return b.String()
}

// reportStatus scans report content for a status marker. Checked in order
// so an explicit VERIFIED wins over later markers.
func reportStatus(content string) string {
	for _, status := range []string{VerifyVerified, VerifyNotVerified, VerifyIncomplete} {
		if strings.Contains(content, "**Status:** "+status) {
			return status
		}
	}
	return VerifyUnknown
}

func countScreenshots(bundleDir string) int {
	matches, err := filepath.Glob(filepath.Join(bundleDir, "screenshots", "*.png"))
	if err != nil {
		return 0
	}
	return len(matches)
}

func testCommands() []string {
	if env := os.Getenv("TEST_COMMANDS"); env != "" {
		return cleanList(strings.Split(env, ","))
	}
	return []string{"pytest tests/", "npm run test"}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
