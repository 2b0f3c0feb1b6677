// ABOUTME: Minimal fake agent engine for E2E testing, speaking the JSONL turn protocol.
// ABOUTME: Usage: set engine.command to this binary; it echoes the prompt with markdown.

package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"
)

// turnRequest mirrors the single JSON line the gateway writes on stdin.
type turnRequest struct {
	Message                   string `json:"message"`
	WorkDir                   string `json:"work_dir,omitempty"`
	BypassApprovalsAndSandbox bool   `json:"bypass_approvals_and_sandbox,omitempty"`
}

// event is one JSONL line on stdout, matching the gateway's event protocol.
type event struct {
	Type             string         `json:"type"`
	Message          string         `json:"message,omitempty"`
	Usage            map[string]int `json:"usage,omitempty"`
	LastAgentMessage string         `json:"last_agent_message,omitempty"`
}

func main() {
	delay := flag.Duration("delay", 50*time.Millisecond, "Pause between events")
	failAfter := flag.Int("fail-after", 0, "Exit without a terminal event after N events (0 = complete normally)")
	flag.Parse()

	if err := run(*delay, *failAfter); err != nil {
		log.Fatal(err)
	}
}

func run(delay time.Duration, failAfter int) error {
	var req turnRequest
	if err := json.NewDecoder(bufio.NewReader(os.Stdin)).Decode(&req); err != nil {
		return fmt.Errorf("reading turn request: %w", err)
	}

	fmt.Fprintf(os.Stderr, "fake-engine: turn in %q (bypass=%t)\n", req.WorkDir, req.BypassApprovalsAndSandbox)

	out := json.NewEncoder(os.Stdout)
	emitted := 0
	emit := func(ev event) error {
		if failAfter > 0 && emitted >= failAfter {
			// Simulate a crashed engine
			os.Exit(1)
		}
		if err := out.Encode(ev); err != nil {
			return err
		}
		emitted++
		time.Sleep(delay)
		return nil
	}

	reply := echoReply(req.Message)

	if err := emit(event{Type: "task_started"}); err != nil {
		return err
	}
	for _, word := range strings.SplitAfter(reply, " ") {
		if err := emit(event{Type: "agent_message_delta", Message: word}); err != nil {
			return err
		}
	}
	if err := emit(event{Type: "agent_message", Message: reply}); err != nil {
		return err
	}
	if err := emit(event{Type: "token_count", Usage: map[string]int{
		"input_tokens":  len(req.Message),
		"output_tokens": len(reply),
	}}); err != nil {
		return err
	}
	return emit(event{Type: "task_complete", LastAgentMessage: reply})
}

func echoReply(input string) string {
	lower := strings.ToLower(input)
	if strings.Contains(lower, "markdown") || strings.Contains(lower, "bullet") || strings.Contains(lower, "list") {
		return "Here is a **markdown** response:\n\n- First item\n- Second item with `code`\n- Third item"
	}
	return fmt.Sprintf("Echo: **%s**", input)
}
