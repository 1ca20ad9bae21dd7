package claude

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"agentloop/pkg/logx"
)

// Session outcome statuses handed back to the orchestration loop.
const (
	StatusContinue = "continue"
	StatusError    = "error"
)

const (
	defaultMaxTurns  = 200
	defaultHeartbeat = 30 * time.Second

	// Stream lines can carry whole file contents inside tool inputs.
	initialScanBuffer = 64 * 1024
	maxScanBuffer     = 10 * 1024 * 1024
)

// SessionSpec describes one subprocess invocation.
type SessionSpec struct {
	Prompt       string
	Model        string
	MaxTurns     int
	AllowedTools []string
	WorkDir      string
	StateDir     string // exported as AGENT_STATE_DIR for companion tools
	Transcript   string // plain-text log path; empty disables mirroring
}

// RunResult is the outcome of one session.
type RunResult struct {
	Status       string
	Text         string // accumulated response, or the error message
	SessionUUID  string
	InputTokens  int
	OutputTokens int
	Result       *ResultSummary
	Stalls       int
}

// Runner launches the claude CLI and narrates its stream-json output.
type Runner struct {
	Bin       string
	Out       io.Writer
	Palette   Palette
	Heartbeat time.Duration

	logger *logx.Logger
}

// NewRunner returns a runner with the standard CLI binary and terminal output.
func NewRunner() *Runner {
	return &Runner{
		Bin:       "claude",
		Out:       os.Stdout,
		Palette:   DefaultPalette(),
		Heartbeat: defaultHeartbeat,
		logger:    logx.NewLogger("session"),
	}
}

// Run executes one agent session to completion. Failures launching or
// communicating with the subprocess are reported through RunResult with
// StatusError; the returned error is non-nil only when ctx is cancelled,
// so callers can distinguish shutdown from session failure.
func (r *Runner) Run(ctx context.Context, spec SessionSpec) (RunResult, error) {
	workDir := spec.WorkDir
	if workDir == "" {
		workDir = "."
	}

	r.logger.Info("Starting agent session with model: %s", spec.Model)
	r.logger.Info("Working directory: %s", workDir)
	if spec.StateDir != "" && spec.StateDir != workDir {
		r.logger.Info("Agent state directory: %s", spec.StateDir)
	}
	r.logger.Info("Prompt length: %d chars", len(spec.Prompt))

	maxTurns := spec.MaxTurns
	if maxTurns <= 0 {
		maxTurns = defaultMaxTurns
	}
	tools := spec.AllowedTools
	if len(tools) == 0 {
		tools = DefaultAllowedTools()
	}

	// A fresh UUID per invocation keeps CLI-side session state from
	// bleeding between loop iterations.
	sessionUUID := uuid.NewString()

	args := []string{
		"-p", spec.Prompt,
		"--model", spec.Model,
		"--max-turns", strconv.Itoa(maxTurns),
		"--output-format", "stream-json",
		"--verbose",
		"--session-id", sessionUUID,
	}
	for _, tool := range tools {
		args = append(args, "--allowedTools", tool)
	}

	r.logger.Info("Allowed tools: %d tools configured", len(tools))
	r.logger.Info("Launching Claude Code CLI...")

	var transcript *Transcript
	if spec.Transcript != "" {
		t, err := NewTranscript(spec.Transcript)
		if err != nil {
			return RunResult{Status: StatusError, Text: err.Error()}, nil
		}
		transcript = t
		r.logger.Info("Console output will be saved to: %s", spec.Transcript)
	}
	defer transcript.Close()

	cmd := exec.CommandContext(ctx, r.Bin, args...)
	cmd.Dir = workDir
	cmd.Env = os.Environ()
	if spec.StateDir != "" {
		cmd.Env = append(cmd.Env, "AGENT_STATE_DIR="+spec.StateDir)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return RunResult{Status: StatusError, Text: err.Error()}, nil
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return RunResult{Status: StatusError, Text: err.Error()}, nil
	}

	if err := cmd.Start(); err != nil {
		r.logger.Error("Failed to launch CLI: %v", err)
		return RunResult{Status: StatusError, Text: err.Error()}, nil
	}
	r.logger.Info("Process started with PID: %d", cmd.Process.Pid)

	parser := NewParser(r.Palette)

	var emitMu sync.Mutex
	emit := func(s string) {
		emitMu.Lock()
		defer emitMu.Unlock()
		fmt.Fprint(r.Out, s)
		transcript.Write(s)
	}

	interval := r.Heartbeat
	if interval <= 0 {
		interval = defaultHeartbeat
	}
	hb := StartHeartbeat(interval, emit)

	var (
		wg            sync.WaitGroup
		bytesReceived int64
		stdoutErr     error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, initialScanBuffer), maxScanBuffer)
		for scanner.Scan() {
			hb.Touch()
			bytesReceived += int64(len(scanner.Bytes())) + 1
			line := scanner.Text()
			if line == "" {
				continue
			}
			if out := parser.ParseLine(line); out != "" {
				emit(out)
			}
		}
		stdoutErr = scanner.Err()
	}()
	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(stderr)
		scanner.Buffer(make([]byte, initialScanBuffer), maxScanBuffer)
		for scanner.Scan() {
			hb.Touch()
			line := scanner.Text()
			if line == "" {
				continue
			}
			emit(fmt.Sprintf("[%s] [STDERR] %s\n", time.Now().UTC().Format("15:04:05"), line))
		}
	}()

	wg.Wait()
	hb.Stop()

	waitErr := cmd.Wait()

	emit("\n")
	r.logger.Info("Process exited with code: %d", cmd.ProcessState.ExitCode())
	r.logger.Info("Total bytes received: %d", bytesReceived)
	emit(strings.Repeat("-", 70) + "\n")

	result := RunResult{
		SessionUUID:  sessionUUID,
		InputTokens:  parser.InputTokens(),
		OutputTokens: parser.OutputTokens(),
		Result:       parser.Result(),
		Stalls:       hb.Stalls(),
	}

	if ctx.Err() != nil {
		r.logger.Warn("Session was cancelled")
		return result, ctx.Err()
	}

	if stdoutErr != nil {
		r.logger.Error("Error reading agent output: %v", stdoutErr)
		result.Status = StatusError
		result.Text = stdoutErr.Error()
		return result, nil
	}

	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			code := exitErr.ExitCode()
			r.logger.Error("Process failed with exit code %d", code)
			result.Status = StatusError
			result.Text = fmt.Sprintf("exited with code %d", code)
			return result, nil
		}
		r.logger.Error("Error during agent session: %v", waitErr)
		result.Status = StatusError
		result.Text = waitErr.Error()
		return result, nil
	}

	r.logger.Info("Session completed successfully")
	result.Status = StatusContinue
	result.Text = parser.Text()
	return result, nil
}
