package ledgercli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentloop/pkg/ledger"
)

func seedFeatureFile(t *testing.T, items []ledger.WorkItem) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ledger.FeatureListFile)
	_, err := ledger.NewFeatureLedger(path).Append(items, "")
	require.NoError(t, err)
	return path
}

func TestFeaturesNextReturnsFirstPending(t *testing.T) {
	path := seedFeatureFile(t, []ledger.WorkItem{
		{ID: "FEAT-001", Name: "login form", Passes: true},
		{ID: "BUG-001", Name: "crash on empty email", Type: ledger.TypeBug},
		{ID: "FEAT-002", Name: "logout"},
	})

	out, errOut, err := runLedgerctl(t, "features", "next", "-f", path)
	require.NoError(t, err)
	assert.Empty(t, errOut)

	var item ledger.WorkItem
	require.NoError(t, json.Unmarshal([]byte(out), &item))
	assert.Equal(t, "BUG-001", item.ID)
}

func TestFeaturesNextWithTypeFilter(t *testing.T) {
	path := seedFeatureFile(t, []ledger.WorkItem{
		{ID: "BUG-001", Name: "crash on empty email", Type: ledger.TypeBug},
		{ID: "FEAT-002", Name: "logout"},
	})

	out, _, err := runLedgerctl(t, "features", "next", "--type", "feature", "-f", path)
	require.NoError(t, err)
	var item ledger.WorkItem
	require.NoError(t, json.Unmarshal([]byte(out), &item))
	assert.Equal(t, "FEAT-002", item.ID)

	_, errOut, err := runLedgerctl(t, "features", "next", "--type", "tech_debt", "-f", path)
	require.NoError(t, err)
	assert.Equal(t, "NO_MORE_FEATURES: All features are passing!\n", errOut)

	_, _, err = runLedgerctl(t, "features", "next", "--type", "story", "-f", path)
	assert.EqualError(t, err, `invalid type "story" (choose from bug, tech_debt, feature)`)
}

func TestFeaturesNextAllPassing(t *testing.T) {
	path := seedFeatureFile(t, []ledger.WorkItem{
		{ID: "FEAT-001", Name: "login form", Passes: true},
	})

	out, errOut, err := runLedgerctl(t, "features", "next", "-f", path)
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Equal(t, "NO_MORE_FEATURES: All features are passing!\n", errOut)
}

func TestFeaturesNextMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ledger.FeatureListFile)
	_, _, err := runLedgerctl(t, "features", "next", "-f", path)
	assert.EqualError(t, err, fmt.Sprintf("ERROR: %s does not exist", path))
}

func TestFeaturesNextCandidates(t *testing.T) {
	path := seedFeatureFile(t, []ledger.WorkItem{
		{ID: "FEAT-001", Name: "login form"},
		{ID: "FEAT-002", Name: "logout"},
		{ID: "FEAT-003", Name: "session timeout"},
	})

	out, _, err := runLedgerctl(t, "features", "next-candidates", "-f", path, "--count", "2")
	require.NoError(t, err)

	var payload struct {
		TotalPending int               `json:"total_pending"`
		Shown        int               `json:"candidates_shown"`
		Features     []ledger.WorkItem `json:"features"`
		Instruction  string            `json:"instruction"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &payload))
	assert.Equal(t, 3, payload.TotalPending)
	assert.Equal(t, 2, payload.Shown)
	assert.Len(t, payload.Features, 2)
	assert.Contains(t, payload.Instruction, "RELATED features")
}

func TestFeaturesGet(t *testing.T) {
	path := seedFeatureFile(t, []ledger.WorkItem{
		{ID: "FEAT-001", Name: "login form", Description: "users can log in"},
	})

	out, _, err := runLedgerctl(t, "features", "get", "FEAT-001", "-f", path)
	require.NoError(t, err)
	var item ledger.WorkItem
	require.NoError(t, json.Unmarshal([]byte(out), &item))
	assert.Equal(t, "login form", item.Name)

	_, _, err = runLedgerctl(t, "features", "get", "FEAT-404", "-f", path)
	assert.EqualError(t, err, "ERROR: Feature FEAT-404 not found")
}

func TestFeaturesPass(t *testing.T) {
	path := seedFeatureFile(t, []ledger.WorkItem{{ID: "FEAT-001", Name: "login form"}})

	out, errOut, err := runLedgerctl(t, "features", "pass", "FEAT-001", "-f", path)
	require.NoError(t, err)
	assert.Equal(t, "SUCCESS: Feature FEAT-001 marked as PASSING\n", out)
	assert.Empty(t, errOut)

	out, errOut, err = runLedgerctl(t, "features", "pass", "FEAT-001", "-f", path)
	require.NoError(t, err)
	assert.Equal(t, "SUCCESS: Feature FEAT-001 marked as PASSING\n", out)
	assert.Equal(t, "WARNING: Feature FEAT-001 is already passing\n", errOut)

	_, _, err = runLedgerctl(t, "features", "pass", "FEAT-404", "-f", path)
	assert.EqualError(t, err, "ERROR: Feature FEAT-404 not found")
}

func TestFeaturesPassBatch(t *testing.T) {
	path := seedFeatureFile(t, []ledger.WorkItem{
		{ID: "FEAT-001", Name: "a", Passes: true},
		{ID: "FEAT-002", Name: "b"},
		{ID: "FEAT-003", Name: "c"},
	})

	out, errOut, err := runLedgerctl(t, "features", "pass-batch", "FEAT-001,FEAT-002,FEAT-003", "-f", path)
	require.NoError(t, err)
	assert.Equal(t, "WARNING: Already passing: FEAT-001\n", errOut)
	assert.Equal(t, "SUCCESS: Marked 2 features as PASSING: FEAT-002, FEAT-003\n", out)
}

func TestFeaturesPassBatchUnknownIDs(t *testing.T) {
	path := seedFeatureFile(t, []ledger.WorkItem{{ID: "FEAT-002", Name: "b"}})

	_, _, err := runLedgerctl(t, "features", "pass-batch", "FEAT-404,FEAT-002,FEAT-405", "-f", path)
	assert.EqualError(t, err, "ERROR: Features not found: FEAT-404, FEAT-405")

	item, getErr := ledger.NewFeatureLedger(path).Get("FEAT-002")
	require.NoError(t, getErr)
	assert.False(t, item.Passes, "failed batch must not mark anything")
}

func TestFeaturesFail(t *testing.T) {
	path := seedFeatureFile(t, []ledger.WorkItem{{ID: "FEAT-001", Name: "login form", Passes: true}})

	out, _, err := runLedgerctl(t, "features", "fail", "FEAT-001", "-f", path,
		"-r", "regression in session 9")
	require.NoError(t, err)
	assert.Equal(t, "SUCCESS: Feature FEAT-001 marked as FAILING - regression in session 9\n", out)

	item, err := ledger.NewFeatureLedger(path).Get("FEAT-001")
	require.NoError(t, err)
	assert.False(t, item.Passes)
	assert.Equal(t, "regression in session 9", item.FailureReason)
}

func TestFeaturesNextIDWithoutLedger(t *testing.T) {
	path := filepath.Join(t.TempDir(), ledger.FeatureListFile)

	out, _, err := runLedgerctl(t, "features", "next-id", "--type", "BUG", "-f", path)
	require.NoError(t, err)
	assert.Equal(t, "BUG-001\n", out)
}

func TestFeaturesAppend(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ledger.FeatureListFile)
	entries := filepath.Join(dir, "entries.json")
	require.NoError(t, os.WriteFile(entries, []byte(`[
		{"name": "export to CSV", "description": "users can download their data"},
		{"name": "extract config loader", "type": "tech_debt"}
	]`), 0644))

	out, _, err := runLedgerctl(t, "features", "append", "-f", path,
		"--entries", entries, "--source-appspec", "appspec_v2.md")
	require.NoError(t, err)
	assert.Contains(t, out, "SUCCESS: Appended 2 entries")
	assert.Contains(t, out, "  FEAT-001: export to CSV")
	assert.Contains(t, out, "  DEBT-001: extract config loader")

	item, err := ledger.NewFeatureLedger(path).Get("FEAT-001")
	require.NoError(t, err)
	assert.Equal(t, "appspec_v2.md", item.SourceAppspec)
}

func TestFeaturesAppendRejectsBadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), ledger.FeatureListFile)

	_, _, err := runLedgerctl(t, "features", "append", "-f", path, "--entries", `{"name": "solo"`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ERROR: Invalid entries JSON")
}

func TestFeaturesListGroupsByKind(t *testing.T) {
	path := seedFeatureFile(t, []ledger.WorkItem{
		{ID: "FEAT-001", Name: "login form", Passes: true},
		{ID: "FEAT-002", Name: "logout"},
		{ID: "BUG-001", Name: "crash on empty email", Type: ledger.TypeBug},
		{ID: "DEBT-001", Name: "extract config loader", Type: ledger.TypeTechDebt},
	})

	out, _, err := runLedgerctl(t, "features", "list", "-f", path)
	require.NoError(t, err)
	assert.Contains(t, out, "=== BUGS (priority) ===")
	assert.Contains(t, out, "[FAIL] BUG-001: crash on empty email")
	assert.Contains(t, out, "=== FEATURES ===")
	assert.Contains(t, out, "[PASS] FEAT-001: login form")
	assert.Contains(t, out, "[FAIL] FEAT-002: logout")
	assert.Contains(t, out, "=== TECH DEBT ===")
	assert.Contains(t, out, "Summary: 1 bugs pending, 1 features pending, 1 tech debt pending")
	assert.Less(t, strings.Index(out, "BUGS"), strings.Index(out, "FEATURES"), "bugs render first")
}

func TestFeaturesListPlainProject(t *testing.T) {
	path := seedFeatureFile(t, []ledger.WorkItem{
		{ID: "FEAT-001", Name: "login form"},
	})

	out, _, err := runLedgerctl(t, "features", "list", "-f", path)
	require.NoError(t, err)
	assert.NotContains(t, out, "BUGS")
	assert.NotContains(t, out, "TECH DEBT")
	assert.Contains(t, out, "Summary: 0 bugs pending, 1 features pending\n")
}

func TestFeaturesStats(t *testing.T) {
	path := seedFeatureFile(t, []ledger.WorkItem{
		{ID: "FEAT-001", Name: "login form", Passes: true},
		{ID: "FEAT-002", Name: "logout"},
		{ID: "BUG-001", Name: "crash on empty email", Type: ledger.TypeBug},
		{ID: "DEBT-001", Name: "extract config loader", Type: ledger.TypeTechDebt},
	})

	out, _, err := runLedgerctl(t, "features", "stats", "-f", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Total features: 4\n")
	assert.Contains(t, out, "Passing: 1\n")
	assert.Contains(t, out, "Failing: 3\n")
	assert.Contains(t, out, "Progress: 1/4 (25%)\n")
	assert.Contains(t, out, "Bugs: 0/1 resolved\n")
	assert.Contains(t, out, "Features: 1/2 passing\n")
	assert.Contains(t, out, "Tech debt: 0/1 cleared\n")
	assert.Contains(t, out, "Next: BUG-001 (bug - priority)\n")
}

func TestFeaturesStatsAllPassing(t *testing.T) {
	path := seedFeatureFile(t, []ledger.WorkItem{
		{ID: "FEAT-001", Name: "login form", Passes: true},
	})

	out, _, err := runLedgerctl(t, "features", "stats", "-f", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Progress: 1/1 (100%)\n")
	assert.Contains(t, out, "Next: none (all passing)\n")
	assert.NotContains(t, out, "Tech debt:", "section only renders when debt exists")
}

func TestFeaturesDebtCount(t *testing.T) {
	path := seedFeatureFile(t, []ledger.WorkItem{
		{ID: "FEAT-001", Name: "login form"},
		{ID: "DEBT-001", Name: "split the session handler", Type: ledger.TypeTechDebt},
		{ID: "DEBT-002", Name: "remove dead CSS", Type: ledger.TypeTechDebt, Passes: true},
	})

	out, _, err := runLedgerctl(t, "features", "debt-count", "-f", path)
	require.NoError(t, err)
	assert.Equal(t, "TECH_DEBT_PENDING: 1\n", out)
}

func TestFeaturesStateDirResolution(t *testing.T) {
	dir := t.TempDir()
	_, err := ledger.NewFeatureLedger(filepath.Join(dir, ledger.FeatureListFile)).
		Append([]ledger.WorkItem{{ID: "FEAT-001", Name: "login form"}}, "")
	require.NoError(t, err)

	out, _, err := runLedgerctl(t, "features", "get", "FEAT-001", "-d", dir)
	require.NoError(t, err)
	assert.Contains(t, out, `"id": "FEAT-001"`)

	t.Setenv(ledger.EnvStateDir, dir)
	out, _, err = runLedgerctl(t, "features", "get", "FEAT-001")
	require.NoError(t, err)
	assert.Contains(t, out, `"id": "FEAT-001"`)
}
