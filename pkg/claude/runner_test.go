package claude

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// writeStub creates an executable shell script standing in for the CLI.
func writeStub(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "claude-stub")
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("Failed to write stub CLI: %v", err)
	}
	return path
}

func newStubRunner(bin string, out io.Writer) *Runner {
	r := NewRunner()
	r.Bin = bin
	r.Out = out
	r.Heartbeat = time.Minute
	return r
}

func TestRunHappyPath(t *testing.T) {
	stub := writeStub(t, `#!/bin/sh
printf 'args:%s\n' "$*"
cat <<'EOF'
{"type":"system","subtype":"init","model":"claude-sonnet-4-5"}
{"type":"message_start","message":{"id":"msg_01","model":"claude-sonnet-4-5","usage":{"input_tokens":10}}}
{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"All done."}}
{"type":"message_stop"}
{"type":"result","subtype":"success","duration_ms":1200,"num_turns":3,"total_cost_usd":0.01,"usage":{"input_tokens":10,"output_tokens":4}}
EOF
exit 0
`)

	var out bytes.Buffer
	r := newStubRunner(stub, &out)

	transcript := filepath.Join(t.TempDir(), "logs", "session_1_implement.log")
	res, err := r.Run(context.Background(), SessionSpec{
		Prompt:       "build the thing",
		Model:        "claude-sonnet-4-5",
		AllowedTools: []string{"Read", "Bash"},
		WorkDir:      t.TempDir(),
		Transcript:   transcript,
	})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if res.Status != StatusContinue {
		t.Errorf("status = %q, want %q", res.Status, StatusContinue)
	}
	if res.Text != "All done." {
		t.Errorf("text = %q, want %q", res.Text, "All done.")
	}
	if res.Result == nil || !res.Result.Success() {
		t.Errorf("result summary = %+v, want success", res.Result)
	}
	if res.InputTokens != 10 || res.OutputTokens != 4 {
		t.Errorf("tokens = %d/%d, want 10/4", res.InputTokens, res.OutputTokens)
	}
	if res.SessionUUID == "" {
		t.Error("session UUID not assigned")
	}

	printed := out.String()
	for _, want := range []string{
		"-p build the thing",
		"--model claude-sonnet-4-5",
		"--max-turns 200",
		"--output-format stream-json",
		"--verbose",
		"--session-id " + res.SessionUUID,
		"--allowedTools Read --allowedTools Bash",
		"━━━ Agent Started ━━━",
		"━━━ Agent Response ━━━",
		"All done.",
		"━━━ ✓ Session Complete ━━━",
		strings.Repeat("-", 70),
	} {
		if !strings.Contains(printed, want) {
			t.Errorf("output missing %q\noutput: %s", want, printed)
		}
	}

	data, err := os.ReadFile(transcript)
	if err != nil {
		t.Fatalf("Failed to read transcript: %v", err)
	}
	if string(data) != printed {
		t.Errorf("transcript diverges from terminal output:\nfile: %q\nterm: %q", data, printed)
	}
}

func TestRunNonzeroExit(t *testing.T) {
	stub := writeStub(t, `#!/bin/sh
printf '%s\n' '{"type":"message_start","message":{"model":"m","usage":{"input_tokens":5}}}'
exit 3
`)

	var out bytes.Buffer
	res, err := newStubRunner(stub, &out).Run(context.Background(), SessionSpec{
		Prompt: "p", Model: "m", WorkDir: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("nonzero exit must not surface as an error: %v", err)
	}
	if res.Status != StatusError {
		t.Errorf("status = %q, want %q", res.Status, StatusError)
	}
	if res.Text != "exited with code 3" {
		t.Errorf("message = %q, want %q", res.Text, "exited with code 3")
	}
	if res.InputTokens != 5 {
		t.Errorf("tokens observed before failure should be kept, got %d", res.InputTokens)
	}
}

func TestRunMissingBinary(t *testing.T) {
	var out bytes.Buffer
	r := newStubRunner(filepath.Join(t.TempDir(), "no-such-cli"), &out)

	res, err := r.Run(context.Background(), SessionSpec{Prompt: "p", Model: "m", WorkDir: t.TempDir()})
	if err != nil {
		t.Fatalf("launch failure must not surface as an error: %v", err)
	}
	if res.Status != StatusError {
		t.Errorf("status = %q, want %q", res.Status, StatusError)
	}
	if res.Text == "" {
		t.Error("launch failure should carry a message")
	}
}

func TestRunCancellationPropagates(t *testing.T) {
	stub := writeStub(t, `#!/bin/sh
sleep 5
`)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	var out bytes.Buffer
	start := time.Now()
	_, err := newStubRunner(stub, &out).Run(ctx, SessionSpec{Prompt: "p", Model: "m", WorkDir: t.TempDir()})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context error, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("cancellation took %v, subprocess not killed", elapsed)
	}
}

func TestRunTagsStderr(t *testing.T) {
	stub := writeStub(t, `#!/bin/sh
echo 'warning: disk low' 1>&2
exit 0
`)

	var out bytes.Buffer
	if _, err := newStubRunner(stub, &out).Run(context.Background(), SessionSpec{Prompt: "p", Model: "m", WorkDir: t.TempDir()}); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if !strings.Contains(out.String(), "[STDERR] warning: disk low\n") {
		t.Errorf("stderr not tagged: %q", out.String())
	}
}

func TestRunExportsStateDir(t *testing.T) {
	stub := writeStub(t, `#!/bin/sh
printf 'state=%s cwd=%s\n' "$AGENT_STATE_DIR" "$(pwd)"
exit 0
`)

	stateDir := t.TempDir()
	workDir := t.TempDir()

	var out bytes.Buffer
	if _, err := newStubRunner(stub, &out).Run(context.Background(), SessionSpec{
		Prompt: "p", Model: "m", WorkDir: workDir, StateDir: stateDir,
	}); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	printed := out.String()
	if !strings.Contains(printed, "state="+stateDir) {
		t.Errorf("AGENT_STATE_DIR not exported: %q", printed)
	}
	if !strings.Contains(printed, "cwd="+workDir) {
		t.Errorf("working directory not applied: %q", printed)
	}
}
