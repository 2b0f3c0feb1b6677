// ABOUTME: Interactive client for seance-gateway over the HTTP API.
// ABOUTME: Sends messages and renders the SSE event stream with JWT auth.

package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
)

// getToken returns the JWT token from SEANCE_TOKEN env var or ~/.config/seance/token file
func getToken() string {
	// Check env var first
	if token := os.Getenv("SEANCE_TOKEN"); token != "" {
		return token
	}

	// Try to read from token file
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	tokenPath := filepath.Join(configDir, "seance", "token")
	data, err := os.ReadFile(tokenPath)
	if err != nil {
		return ""
	}

	return strings.TrimSpace(string(data))
}

// sendRequest is the JSON body sent to POST /messages.
type sendRequest struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	WorkDir string `json:"work_dir,omitempty"`
	Bypass  bool   `json:"bypass_approvals_and_sandbox,omitempty"`
}

// sessionInfo is one entry in the GET /sessions response.
type sessionInfo struct {
	ID        string `json:"id"`
	State     string `json:"state"`
	ErrorCode string `json:"error_code,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
	EndedAt   string `json:"ended_at,omitempty"`
}

func main() {
	// Parse command line flags
	server := flag.String("server", "http://localhost:8080", "Gateway server URL")
	workDir := flag.String("workdir", "", "Working directory for the engine (absolute path)")
	bypass := flag.Bool("bypass", false, "Request approval and sandbox bypass (server must allow it)")
	flag.Parse()

	fmt.Printf("seance-client connected to %s\n", *server)
	if getToken() != "" {
		fmt.Println("Auth: JWT token configured (SEANCE_TOKEN)")
	} else {
		fmt.Println("Auth: none (set SEANCE_TOKEN for authentication)")
	}
	fmt.Println("Type a message and press Enter. /help for commands. Ctrl+C to quit.")
	fmt.Println()

	// Setup context with signal handling for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Run the interactive loop
	if err := run(ctx, *server, *workDir, *bypass); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("\nGoodbye!")
}

func run(ctx context.Context, server, workDir string, bypass bool) error {
	scanner := bufio.NewScanner(os.Stdin)

	for {
		fmt.Print("> ")

		// Read input with context awareness
		inputCh := make(chan string, 1)
		errCh := make(chan error, 1)

		go func() {
			if scanner.Scan() {
				inputCh <- scanner.Text()
			} else {
				if err := scanner.Err(); err != nil {
					errCh <- err
				} else {
					errCh <- io.EOF
				}
			}
		}()

		var input string
		select {
		case <-ctx.Done():
			return nil
		case err := <-errCh:
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("reading input: %w", err)
		case input = <-inputCh:
		}

		// Trim whitespace
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		// Check for quit commands
		if input == "/quit" || input == "/exit" || input == "/q" {
			return nil
		}

		if input == "/sessions" {
			if err := listSessions(ctx, server); err != nil {
				fmt.Printf("[error] %v\n", err)
			}
			fmt.Println()
			continue
		}

		if input == "/help" {
			printHelp()
			fmt.Println()
			continue
		}

		// Send message and stream response
		if err := sendMessage(ctx, server, workDir, bypass, input); err != nil {
			fmt.Printf("[error] %v\n", err)
		}
		fmt.Println()
	}
}

// printHelp displays available commands.
func printHelp() {
	fmt.Println("Commands:")
	fmt.Println("  /sessions      List recent sessions")
	fmt.Println("  /help          Show this help")
	fmt.Println("  /quit          Exit the client")
}

// listSessions fetches and displays recent session records.
func listSessions(ctx context.Context, server string) error {
	url := fmt.Sprintf("%s/sessions", server)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	// Add auth header if token is configured
	if token := getToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("fetching sessions: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned status %d", resp.StatusCode)
	}

	var list struct {
		Sessions []sessionInfo `json:"sessions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}

	if len(list.Sessions) == 0 {
		fmt.Println("No sessions")
		return nil
	}

	fmt.Println("Recent sessions:")
	for _, s := range list.Sessions {
		line := fmt.Sprintf("  %s  %s", s.ID, s.State)
		if s.ErrorCode != "" {
			line += " [" + s.ErrorCode + "]"
		}
		fmt.Println(line)
	}
	return nil
}

func sendMessage(ctx context.Context, server, workDir string, bypass bool, message string) error {
	// Build request body
	reqBody := sendRequest{
		Type:    "user_message",
		Message: message,
		WorkDir: workDir,
		Bypass:  bypass,
	}
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	// Create HTTP request
	url := fmt.Sprintf("%s/messages", server)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	// Add auth header if token is configured
	if token := getToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	// Send request
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	// Check for error responses
	if resp.StatusCode != http.StatusOK {
		// Try to read error from body
		if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
			var errResp map[string]string
			if err := json.NewDecoder(resp.Body).Decode(&errResp); err == nil {
				if msg, ok := errResp["error"]; ok {
					return fmt.Errorf("%s", msg)
				}
			}
		}
		return fmt.Errorf("server returned status %d", resp.StatusCode)
	}

	// Stream SSE responses
	return streamSSE(ctx, resp.Body)
}

func streamSSE(ctx context.Context, body io.Reader) error {
	scanner := bufio.NewScanner(body)

	var eventType string
	var dataLines []string

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Text()

		// Empty line signals end of event
		if line == "" {
			if eventType != "" && len(dataLines) > 0 {
				data := strings.Join(dataLines, "\n")
				if err := handleSSEEvent(eventType, data); err != nil {
					return err
				}
			}
			eventType = ""
			dataLines = nil
			continue
		}

		// Comment lines are keep-alive pings
		if strings.HasPrefix(line, ":") {
			continue
		}

		// Parse event type
		if strings.HasPrefix(line, "event:") {
			eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			continue
		}

		// Parse data
		if strings.HasPrefix(line, "data:") {
			dataLines = append(dataLines, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
			continue
		}
	}

	return scanner.Err()
}

func handleSSEEvent(eventType, data string) error {
	// Parse JSON data
	var payload map[string]interface{}
	if err := json.Unmarshal([]byte(data), &payload); err != nil {
		return fmt.Errorf("parsing event data: %w", err)
	}

	switch eventType {
	case "started":
		if id, ok := payload["session_id"].(string); ok {
			fmt.Printf("\033[2m[session %s]\033[0m\n", id)
		}

	case "task_started":
		// Nothing useful to show

	case "agent_message_delta":
		if delta, ok := payload["delta"].(string); ok {
			fmt.Print(delta)
		}

	case "agent_message":
		if text, ok := payload["message"].(string); ok {
			fmt.Println(text)
		}

	case "agent_reasoning":
		if text, ok := payload["text"].(string); ok {
			fmt.Printf("\033[2m[reasoning] %s\033[0m\n", truncate(text, 80))
		}

	case "tool_call_begin":
		name := payload["name"]
		fmt.Printf("\033[33m[tool] %v\033[0m\n", name)

	case "tool_call_end":
		isError := false
		if e, ok := payload["is_error"].(bool); ok {
			isError = e
		}
		if isError {
			output := truncate(fmt.Sprintf("%v", payload["output"]), 100)
			fmt.Printf("\033[31m[tool error] %s\033[0m\n", output)
		} else {
			fmt.Printf("\033[32m[tool done]\033[0m\n")
		}

	case "approval_request":
		name := payload["tool_name"]
		fmt.Printf("\033[33m[approval needed] %v\033[0m\n", name)

	case "token_count":
		// Silently ignore usage events in the client
		return nil

	case "task_complete":
		fmt.Println("\033[32m[done]\033[0m")

	case "error":
		code := payload["code"]
		if errMsg, ok := payload["error"].(string); ok {
			fmt.Printf("\033[31m[error %v] %s\033[0m\n", code, errMsg)
		}

	default:
		// Ignore unknown events silently
	}

	return nil
}

// truncate shortens a string to maxLen, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
