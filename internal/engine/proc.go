// ABOUTME: Subprocess engine that runs the configured agent command per turn.
// ABOUTME: Writes the request as one JSON line on stdin, reads JSONL events from stdout.

package engine

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
)

// maxEventLine bounds a single stdout event line. Large tool outputs are
// expected; anything beyond this is an engine protocol fault.
const maxEventLine = 4 * 1024 * 1024

// eventBufferSize is the per-turn event channel capacity. A full channel
// blocks the reader goroutine, which in turn stalls the subprocess pipe -
// that is the backpressure path, not a drop.
const eventBufferSize = 16

// ProcEngine executes each turn by spawning an agent CLI that speaks the
// JSONL event protocol on stdout. One process per turn; cancelling the
// context terminates the process.
type ProcEngine struct {
	command        string
	args           []string
	defaultWorkDir string
	profile        *Profile
	logger         *slog.Logger
}

// ProcConfig configures a ProcEngine.
type ProcConfig struct {
	Command        string
	Args           []string
	DefaultWorkDir string
	Profile        *Profile // optional
	Logger         *slog.Logger
}

// NewProcEngine creates a subprocess-backed engine.
func NewProcEngine(cfg ProcConfig) (*ProcEngine, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("%w: engine command not configured", ErrEngineUnavailable)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ProcEngine{
		command:        cfg.Command,
		args:           cfg.Args,
		defaultWorkDir: cfg.DefaultWorkDir,
		profile:        cfg.Profile,
		logger:         logger.With("component", "proc-engine"),
	}, nil
}

// procRequest is the single JSON line written to the subprocess stdin.
type procRequest struct {
	Message                   string `json:"message"`
	WorkDir                   string `json:"work_dir,omitempty"`
	BypassApprovalsAndSandbox bool   `json:"bypass_approvals_and_sandbox,omitempty"`
}

// Execute implements Engine. It returns after the process has started;
// event parsing happens on a dedicated goroutine.
func (e *ProcEngine) Execute(ctx context.Context, req *Request) (<-chan Event, error) {
	workDir := req.WorkDir
	if workDir == "" {
		workDir = e.defaultWorkDir
	}

	if workDir != "" {
		if err := seedAgentContext(workDir); err != nil {
			e.logger.Warn("could not seed agent context file", "work_dir", workDir, "error", err)
		}
	}

	cmd := exec.CommandContext(ctx, e.command, e.args...)
	cmd.Dir = workDir
	cmd.Env = e.environ(req)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: opening stdin: %v", ErrEngineUnavailable, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: opening stdout: %v", ErrEngineUnavailable, err)
	}
	cmd.Stderr = &logWriter{logger: e.logger}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: starting %s: %v", ErrEngineUnavailable, e.command, err)
	}

	line, err := json.Marshal(procRequest{
		Message:                   req.Message,
		WorkDir:                   workDir,
		BypassApprovalsAndSandbox: req.BypassApprovalsAndSandbox,
	})
	if err != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return nil, fmt.Errorf("%w: encoding request: %v", ErrEngineUnavailable, err)
	}
	if _, err := stdin.Write(append(line, '\n')); err != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return nil, fmt.Errorf("%w: writing request: %v", ErrEngineUnavailable, err)
	}
	_ = stdin.Close()

	out := make(chan Event, eventBufferSize)
	go e.readEvents(ctx, cmd, stdout, out)
	return out, nil
}

// readEvents parses stdout lines into events until the process exits or a
// terminal event arrives. It is the single writer to out and always closes it.
func (e *ProcEngine) readEvents(ctx context.Context, cmd *exec.Cmd, stdout io.Reader, out chan<- Event) {
	defer close(out)

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), maxEventLine)

	terminal := false
	for scanner.Scan() {
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}

		var ev Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			e.logger.Error("malformed engine event line", "error", err)
			out <- Event{Kind: KindError, Err: &ErrorInfo{
				Code:    "engine_protocol",
				Message: fmt.Sprintf("malformed engine event: %v", err),
			}}
			terminal = true
			_ = cmd.Process.Kill()
			break
		}

		select {
		case out <- ev:
		case <-ctx.Done():
			_ = cmd.Wait()
			return
		}

		if ev.Kind.Terminal() {
			terminal = true
			break
		}
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		e.logger.Error("reading engine stdout", "error", err)
	}

	waitErr := cmd.Wait()

	// Cancelled turns end without a terminal event on purpose.
	if ctx.Err() != nil {
		return
	}

	if !terminal {
		msg := "engine exited before completing the turn"
		if waitErr != nil {
			msg = fmt.Sprintf("engine exited before completing the turn: %v", waitErr)
		}
		out <- Event{Kind: KindError, Err: &ErrorInfo{Code: "engine_exit", Message: msg}}
	}
}

// environ builds the subprocess environment from the parent environment,
// the profile, and the bypass flag. Bypass wins over any profile setting,
// mirroring the server-side override in the request path.
func (e *ProcEngine) environ(req *Request) []string {
	env := os.Environ()
	if e.profile != nil {
		env = append(env, e.profile.Environ()...)
	}
	if req.BypassApprovalsAndSandbox {
		env = append(env,
			"SEANCE_APPROVAL_POLICY=never",
			"SEANCE_SANDBOX_MODE=danger-full-access",
		)
	}
	return env
}

// logWriter forwards subprocess stderr to the logger, one chunk per write.
type logWriter struct {
	logger *slog.Logger
}

func (w *logWriter) Write(p []byte) (int, error) {
	w.logger.Debug("engine stderr", "output", string(p))
	return len(p), nil
}

// agentContextFile is seeded into the working directory before a turn so
// the agent finds its operating instructions where it expects them.
const agentContextFile = "AGENTS.md"

const agentContextContent = `# Agent Instructions

This directory is managed through seance-gateway. Sessions run one turn at
a time; keep changes scoped to the task in the current message.
`

// seedAgentContext writes AGENTS.md into workDir if it does not exist yet.
func seedAgentContext(workDir string) error {
	path := filepath.Join(workDir, agentContextFile)
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}
	return os.WriteFile(path, []byte(agentContextContent), 0644)
}
