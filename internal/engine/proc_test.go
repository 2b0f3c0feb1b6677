// ABOUTME: Tests for the subprocess engine using shell scripts as fake agents.
// ABOUTME: Covers the JSONL protocol, protocol faults, env wiring, and cancellation.

package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newShellEngine builds a ProcEngine running the given shell script.
func newShellEngine(t *testing.T, script string) *ProcEngine {
	t.Helper()
	eng, err := NewProcEngine(ProcConfig{
		Command: "/bin/sh",
		Args:    []string{"-c", script},
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	return eng
}

// collect drains the event channel with a timeout guard.
func collect(t *testing.T, ch <-chan Event) []Event {
	t.Helper()
	var events []Event
	deadline := time.After(10 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-deadline:
			t.Fatalf("timed out waiting for events, got %d so far", len(events))
		}
	}
}

func TestNewProcEngine_RequiresCommand(t *testing.T) {
	_, err := NewProcEngine(ProcConfig{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEngineUnavailable)
}

func TestProcEngine_StreamsEvents(t *testing.T) {
	eng := newShellEngine(t, `
		echo '{"type":"task_started"}'
		echo '{"type":"agent_message","message":"hi there"}'
		echo '{"type":"task_complete","last_agent_message":"hi there"}'
	`)

	ch, err := eng.Execute(context.Background(), &Request{Message: "hello"})
	require.NoError(t, err)

	events := collect(t, ch)
	require.Len(t, events, 3)
	assert.Equal(t, KindTaskStarted, events[0].Kind)
	assert.Equal(t, KindAgentMessage, events[1].Kind)
	assert.Equal(t, "hi there", events[1].Message)
	assert.Equal(t, KindTaskComplete, events[2].Kind)
	assert.Equal(t, "hi there", events[2].LastAgentMessage)
}

func TestProcEngine_RequestReachesStdin(t *testing.T) {
	eng := newShellEngine(t, `
		read line
		case "$line" in
		*summon*) echo '{"type":"task_complete","last_agent_message":"saw it"}' ;;
		*) echo '{"type":"error","error":{"code":"wrong_prompt","message":"prompt did not arrive"}}' ;;
		esac
	`)

	ch, err := eng.Execute(context.Background(), &Request{Message: "summon the spirits"})
	require.NoError(t, err)

	events := collect(t, ch)
	require.Len(t, events, 1)
	assert.Equal(t, KindTaskComplete, events[0].Kind)
	assert.Equal(t, "saw it", events[0].LastAgentMessage)
}

func TestProcEngine_MalformedLine(t *testing.T) {
	eng := newShellEngine(t, `
		echo '{"type":"task_started"}'
		echo 'this is not json'
		sleep 5
	`)

	ch, err := eng.Execute(context.Background(), &Request{Message: "hello"})
	require.NoError(t, err)

	events := collect(t, ch)
	require.Len(t, events, 2)
	assert.Equal(t, KindTaskStarted, events[0].Kind)
	assert.Equal(t, KindError, events[1].Kind)
	require.NotNil(t, events[1].Err)
	assert.Equal(t, "engine_protocol", events[1].Err.Code)
}

func TestProcEngine_ExitWithoutTerminal(t *testing.T) {
	eng := newShellEngine(t, `echo '{"type":"task_started"}'`)

	ch, err := eng.Execute(context.Background(), &Request{Message: "hello"})
	require.NoError(t, err)

	events := collect(t, ch)
	require.Len(t, events, 2)
	assert.Equal(t, KindTaskStarted, events[0].Kind)
	assert.Equal(t, KindError, events[1].Kind)
	require.NotNil(t, events[1].Err)
	assert.Equal(t, "engine_exit", events[1].Err.Code)
}

func TestProcEngine_StartFailure(t *testing.T) {
	eng, err := NewProcEngine(ProcConfig{
		Command: "/nonexistent/agent-binary",
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)

	_, err = eng.Execute(context.Background(), &Request{Message: "hello"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrEngineUnavailable))
}

func TestProcEngine_CancelKillsProcess(t *testing.T) {
	eng := newShellEngine(t, `
		echo '{"type":"task_started"}'
		sleep 30
		echo '{"type":"task_complete"}'
	`)

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := eng.Execute(ctx, &Request{Message: "hello"})
	require.NoError(t, err)

	// Wait for the first event, then cancel mid-turn
	first := <-ch
	assert.Equal(t, KindTaskStarted, first.Kind)
	cancel()

	events := collect(t, ch)
	// No terminal event after cancellation; the session layer settles the state
	for _, ev := range events {
		assert.NotEqual(t, KindTaskComplete, ev.Kind)
	}
}

func TestProcEngine_BypassSetsEnv(t *testing.T) {
	eng := newShellEngine(t,
		`echo "{\"type\":\"task_complete\",\"last_agent_message\":\"$SEANCE_APPROVAL_POLICY/$SEANCE_SANDBOX_MODE\"}"`)

	ch, err := eng.Execute(context.Background(), &Request{
		Message:                   "hello",
		BypassApprovalsAndSandbox: true,
	})
	require.NoError(t, err)

	events := collect(t, ch)
	require.Len(t, events, 1)
	assert.Equal(t, "never/danger-full-access", events[0].LastAgentMessage)
}

func TestProcEngine_ProfileEnv(t *testing.T) {
	eng, err := NewProcEngine(ProcConfig{
		Command: "/bin/sh",
		Args: []string{"-c",
			`echo "{\"type\":\"task_complete\",\"last_agent_message\":\"$SEANCE_MODEL\"}"`},
		Profile: &Profile{Model: "gpt-5-codex"},
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)

	ch, err := eng.Execute(context.Background(), &Request{Message: "hello"})
	require.NoError(t, err)

	events := collect(t, ch)
	require.Len(t, events, 1)
	assert.Equal(t, "gpt-5-codex", events[0].LastAgentMessage)
}

func TestProcEngine_SeedsAgentContext(t *testing.T) {
	dir := t.TempDir()
	eng := newShellEngine(t, `echo '{"type":"task_complete"}'`)

	ch, err := eng.Execute(context.Background(), &Request{Message: "hello", WorkDir: dir})
	require.NoError(t, err)
	collect(t, ch)

	data, err := os.ReadFile(filepath.Join(dir, "AGENTS.md"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "seance-gateway")
}

func TestProcEngine_DoesNotOverwriteAgentContext(t *testing.T) {
	dir := t.TempDir()
	existing := filepath.Join(dir, "AGENTS.md")
	require.NoError(t, os.WriteFile(existing, []byte("hand-written instructions"), 0644))

	eng := newShellEngine(t, `echo '{"type":"task_complete"}'`)
	ch, err := eng.Execute(context.Background(), &Request{Message: "hello", WorkDir: dir})
	require.NoError(t, err)
	collect(t, ch)

	data, err := os.ReadFile(existing)
	require.NoError(t, err)
	assert.Equal(t, "hand-written instructions", string(data))
}
