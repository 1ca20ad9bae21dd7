package claude

import (
	"os"
	"path/filepath"
	"testing"
)

func TestStripANSI(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"\x1b[1;36mhello\x1b[0m", "hello"},
		{"\x1b[2Kplain", "plain"},
		{"no escapes here", "no escapes here"},
		{"mix\x1b[31med\x1b[0m text", "mixed text"},
	}
	for _, tc := range cases {
		if got := StripANSI(tc.in); got != tc.want {
			t.Errorf("StripANSI(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestTranscriptStripsEscapes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "session_1_implement.log")

	tr, err := NewTranscript(path)
	if err != nil {
		t.Fatalf("Failed to create transcript: %v", err)
	}
	tr.Write("\x1b[33m⚡ Tool Call:\x1b[0m Bash\n")
	tr.Write("plain line\n")
	if err := tr.Close(); err != nil {
		t.Fatalf("Failed to close transcript: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read transcript: %v", err)
	}
	want := "⚡ Tool Call: Bash\nplain line\n"
	if string(data) != want {
		t.Errorf("transcript = %q, want %q", string(data), want)
	}
}

func TestNilTranscriptIsSafe(t *testing.T) {
	var tr *Transcript
	tr.Write("dropped")
	if err := tr.Close(); err != nil {
		t.Errorf("nil transcript Close() = %v", err)
	}
}

func TestTranscriptPath(t *testing.T) {
	got := TranscriptPath("/var/state", 3, "IMPLEMENT")
	want := filepath.Join("/var/state", "logs", "session_3_implement.log")
	if got != want {
		t.Errorf("TranscriptPath = %q, want %q", got, want)
	}
}
