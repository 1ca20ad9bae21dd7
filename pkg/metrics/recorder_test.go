package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestObserveSessionAccumulates(t *testing.T) {
	r := NewRecorder()

	r.ObserveSession("IMPLEMENT", "continue", 90*time.Second)
	r.ObserveSession("IMPLEMENT", "continue", 30*time.Second)
	r.ObserveSession("REVIEW", "error", 5*time.Second)

	families, err := r.registry.Gather()
	if err != nil {
		t.Fatalf("Failed to gather: %v", err)
	}

	found := map[string]bool{}
	for _, fam := range families {
		found[fam.GetName()] = true
	}
	for _, want := range []string{"agentloop_sessions_total", "agentloop_session_duration_seconds"} {
		if !found[want] {
			t.Errorf("Expected metric family %s", want)
		}
	}
}

func TestWriteTextfile(t *testing.T) {
	r := NewRecorder()
	r.ObserveSession("IMPLEMENT", "continue", time.Minute)
	r.AddTokens("input", 1200)
	r.AddTokens("output", 300)
	r.AddCost(0.42)
	r.IncHeartbeatStall()

	path := filepath.Join(t.TempDir(), TextfileName)
	if err := r.WriteTextfile(path); err != nil {
		t.Fatalf("Failed to write textfile: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read textfile: %v", err)
	}
	out := string(data)

	for _, want := range []string{
		`agentloop_sessions_total{outcome="continue",type="IMPLEMENT"} 1`,
		`agentloop_tokens_total{direction="input"} 1200`,
		`agentloop_tokens_total{direction="output"} 300`,
		"agentloop_estimated_cost_dollars_total 0.42",
		"agentloop_heartbeat_stalls_total 1",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("Textfile missing %q\n%s", want, out)
		}
	}

	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("Temp file should not remain after write")
	}
}

func TestAddTokensIgnoresNonPositive(t *testing.T) {
	r := NewRecorder()
	r.AddTokens("input", 0)
	r.AddTokens("input", -5)
	r.AddCost(0)

	path := filepath.Join(t.TempDir(), TextfileName)
	if err := r.WriteTextfile(path); err != nil {
		t.Fatalf("Failed to write textfile: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read textfile: %v", err)
	}
	if strings.Contains(string(data), `direction="input"`) {
		t.Error("Zero and negative token counts should not create series")
	}
}
