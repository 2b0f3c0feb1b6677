// ABOUTME: HTTP API handlers for session execution and inspection.
// ABOUTME: Provides POST /messages (SSE stream) and the /sessions endpoints.

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/2389/seance-gateway/internal/metrics"
	"github.com/2389/seance-gateway/internal/session"
	"github.com/2389/seance-gateway/internal/store"
)

// SendMessageRequest is the JSON request body for POST /messages.
type SendMessageRequest struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	WorkDir string `json:"work_dir,omitempty"`
	ID      string `json:"id,omitempty"`
	Bypass  bool   `json:"bypass_approvals_and_sandbox,omitempty"`
}

// SessionInfoResponse is the JSON representation of one session.
type SessionInfoResponse struct {
	ID        string `json:"id"`
	State     string `json:"state"`
	ErrorCode string `json:"error_code,omitempty"`
	WorkDir   string `json:"work_dir,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
	EndedAt   string `json:"ended_at,omitempty"`
}

// ListSessionsResponse is the JSON response for GET /sessions.
type ListSessionsResponse struct {
	Sessions []SessionInfoResponse `json:"sessions"`
	Usage    UsageSummaryResponse  `json:"usage"`
}

// UsageSummaryResponse aggregates token totals across all retained sessions.
type UsageSummaryResponse struct {
	Sessions     int64 `json:"sessions"`
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
	CachedTokens int64 `json:"cached_tokens"`
}

// UsageResponse is the usage portion of GET /sessions/{id}.
type UsageResponse struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
	CachedTokens int64 `json:"cached_tokens"`
}

// SessionDetailResponse is the JSON response for GET /sessions/{id}.
type SessionDetailResponse struct {
	SessionInfoResponse
	Usage *UsageResponse `json:"usage,omitempty"`
}

// handleMessages handles POST /messages requests.
// It accepts a JSON body with the message and streams engine events via SSE.
//
// Responsibilities:
//  1. Parse and validate the JSON body
//  2. Check the bypass flag against configuration
//  3. Validate the working directory override
//  4. Register the session - duplicate live ids conflict
//  5. Start the engine - failures surface as 502 before headers
//  6. Stream events as SSE until the terminal event
//  7. Settle the terminal state into store, recent cache, and metrics
func (g *Gateway) handleMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	body := io.Reader(r.Body)
	if g.config.Limits.MaxMessageBytes > 0 {
		body = http.MaxBytesReader(w, r.Body, g.config.Limits.MaxMessageBytes)
	}

	req, err := parseSendRequest(body)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	if req.Bypass && !g.config.Engine.AllowBypass {
		g.sendJSONError(w, http.StatusForbidden, "bypass_approvals_and_sandbox is not permitted on this gateway")
		return
	}

	if req.WorkDir != "" {
		if msg := validateWorkDir(req.WorkDir); msg != "" {
			g.sendJSONError(w, http.StatusBadRequest, msg)
			return
		}
	}

	sess, err := session.New(&session.Request{
		Type:    req.Type,
		Message: req.Message,
		WorkDir: req.WorkDir,
		ID:      req.ID,
	}, g.logger)
	if err != nil {
		var verr *session.ValidationError
		if errors.As(err, &verr) {
			g.sendJSONError(w, http.StatusBadRequest, verr.Error())
			return
		}
		g.logger.Error("failed to create session", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if max := g.config.Limits.MaxSessions; max > 0 && g.registry.Len() >= max {
		g.sendJSONError(w, http.StatusServiceUnavailable, "session limit reached")
		return
	}

	if err := g.registry.Register(sess); err != nil {
		var cerr *session.ConflictError
		if errors.As(err, &cerr) {
			g.sendJSONError(w, http.StatusConflict, cerr.Error())
			return
		}
		g.logger.Error("failed to register session", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	defer g.registry.Unregister(sess.ID)

	// Check streaming support before starting the engine (fail fast)
	flusher, ok := w.(http.Flusher)
	if !ok {
		g.logger.Error("streaming not supported")
		g.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	g.persistCreated(r.Context(), sess, req.Bypass)

	if err := sess.Start(g.baseCtx, g.engine, req.Bypass); err != nil {
		g.logger.Error("engine rejected session", "session_id", sess.ID, "error", err)
		g.sendJSONError(w, http.StatusBadGateway, "engine unavailable")
		g.settleSession(sess)
		return
	}
	metrics.RecordSessionStart()
	g.updateState(sess.ID, session.StateRunning.String(), "", time.Time{})

	// Wall-clock cap cancels the turn the same way a disconnect does
	if d := g.config.Sessions.MaxDuration; d > 0 {
		capTimer := time.AfterFunc(d, func() {
			g.logger.Warn("session exceeded max duration, cancelling", "session_id", sess.ID, "max_duration", d)
			sess.Cancel()
		})
		defer capTimer.Stop()
	}

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	// Send initial "started" event with the session id so the client can
	// track and inspect the turn
	g.writeSSEEvent(w, "started", map[string]string{"session_id": sess.ID})
	flusher.Flush()

	g.streamSession(r.Context(), w, flusher, sess)

	g.settleSession(sess)
	metrics.RecordSessionEnd(sess.State().String(), sess.EndedAt().Sub(sess.CreatedAt).Seconds())
}

// validateWorkDir checks a work_dir override. Returns an error message, or
// "" when the directory is usable.
func validateWorkDir(dir string) string {
	if !filepath.IsAbs(dir) {
		return "work_dir must be an absolute path"
	}
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Sprintf("work_dir %q is not accessible", dir)
	}
	if !info.IsDir() {
		return fmt.Sprintf("work_dir %q is not a directory", dir)
	}
	return ""
}

// persistCreated writes the initial session record. Persistence failures are
// logged but do not block the turn; the stream is the primary product.
func (g *Gateway) persistCreated(ctx context.Context, sess *session.Session, bypass bool) {
	rec := &store.SessionRecord{
		ID:        sess.ID,
		State:     session.StateCreated.String(),
		WorkDir:   sess.WorkDir,
		Bypass:    bypass,
		CreatedAt: sess.CreatedAt,
	}
	err := g.store.CreateSession(ctx, rec)
	if errors.Is(err, store.ErrDuplicateSession) {
		// A terminated turn used this id earlier; the registry already ruled
		// out a live duplicate. Replace the record wholesale so inspection
		// shows this turn's metadata, not the previous one's.
		g.logger.Warn("session id reused, replacing record", "session_id", sess.ID)
		if err := g.store.ReplaceSession(ctx, rec); err != nil {
			g.logger.Error("failed to replace session record", "session_id", sess.ID, "error", err)
		}
		return
	}
	if err != nil {
		g.logger.Error("failed to persist session", "session_id", sess.ID, "error", err)
	}
}

// updateState records a session state transition, logging failures.
func (g *Gateway) updateState(id, state, errorCode string, endedAt time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := g.store.UpdateSessionState(ctx, id, state, errorCode, endedAt); err != nil {
		g.logger.Error("failed to update session state", "session_id", id, "state", state, "error", err)
	}
}

// settleSession records the terminal outcome in the store and recent cache.
func (g *Gateway) settleSession(sess *session.Session) {
	<-sess.Done()

	state := sess.State()
	g.updateState(sess.ID, state.String(), sess.ErrorCode(), sess.EndedAt())
	g.recent.Add(session.Terminated{
		ID:        sess.ID,
		State:     state,
		ErrorCode: sess.ErrorCode(),
		EndedAt:   sess.EndedAt(),
	})
	g.logger.Info("session finished", "session_id", sess.ID, "state", state.String())
}

// handleSessions handles GET /sessions requests.
// Returns session records, most recent first, with live registry state
// taking precedence over the stored snapshot.
func (g *Gateway) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 1 {
			g.sendJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	records, err := g.store.ListSessions(r.Context(), limit)
	if err != nil {
		g.logger.Error("failed to list sessions", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	response := ListSessionsResponse{
		Sessions: make([]SessionInfoResponse, len(records)),
	}
	for i, rec := range records {
		info := recordToInfo(rec)
		if live, ok := g.registry.Lookup(rec.ID); ok {
			info.State = live.State().String()
		}
		response.Sessions[i] = info
	}

	if sum, err := g.store.SummarizeUsage(r.Context(), time.Time{}); err == nil {
		response.Usage = UsageSummaryResponse{
			Sessions:     sum.Sessions,
			InputTokens:  sum.InputTokens,
			OutputTokens: sum.OutputTokens,
			CachedTokens: sum.CachedTokens,
		}
	} else {
		g.logger.Error("failed to summarize usage", "error", err)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// handleSession handles GET /sessions/{id} requests.
// Checks the live registry first, then the recent cache, then the store.
func (g *Gateway) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/sessions/")
	if id == "" || strings.Contains(id, "/") {
		g.sendJSONError(w, http.StatusBadRequest, "invalid session path")
		return
	}

	detail, ok := g.lookupSession(r.Context(), id)
	if !ok {
		g.sendJSONError(w, http.StatusNotFound, "session not found")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(detail)
}

// lookupSession resolves one session id across the registry, recent cache,
// and store.
func (g *Gateway) lookupSession(ctx context.Context, id string) (*SessionDetailResponse, bool) {
	detail := &SessionDetailResponse{}

	switch {
	case g.liveInfo(id, &detail.SessionInfoResponse):
	case g.recentInfo(id, &detail.SessionInfoResponse):
	default:
		rec, err := g.store.GetSession(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			return nil, false
		}
		if err != nil {
			g.logger.Error("failed to get session", "session_id", id, "error", err)
			return nil, false
		}
		detail.SessionInfoResponse = recordToInfo(rec)
	}

	if usage, err := g.store.GetUsage(ctx, id); err == nil {
		detail.Usage = &UsageResponse{
			InputTokens:  usage.InputTokens,
			OutputTokens: usage.OutputTokens,
			CachedTokens: usage.CachedTokens,
		}
	}
	return detail, true
}

// liveInfo fills info from the registry, reporting whether the id is live.
func (g *Gateway) liveInfo(id string, info *SessionInfoResponse) bool {
	sess, ok := g.registry.Lookup(id)
	if !ok {
		return false
	}
	info.ID = sess.ID
	info.State = sess.State().String()
	info.WorkDir = sess.WorkDir
	info.CreatedAt = sess.CreatedAt.Format(time.RFC3339)
	return true
}

// recentInfo fills info from the recently-terminated cache.
func (g *Gateway) recentInfo(id string, info *SessionInfoResponse) bool {
	t, ok := g.recent.Lookup(id)
	if !ok {
		return false
	}
	info.ID = t.ID
	info.State = t.State.String()
	info.ErrorCode = t.ErrorCode
	info.EndedAt = t.EndedAt.Format(time.RFC3339)
	return true
}

// recordToInfo converts a store record to the wire shape.
func recordToInfo(rec *store.SessionRecord) SessionInfoResponse {
	info := SessionInfoResponse{
		ID:        rec.ID,
		State:     rec.State,
		ErrorCode: rec.ErrorCode,
		WorkDir:   rec.WorkDir,
		CreatedAt: rec.CreatedAt.Format(time.RFC3339),
	}
	if rec.EndedAt != nil {
		info.EndedAt = rec.EndedAt.Format(time.RFC3339)
	}
	return info
}

// writeSSEEvent writes a single SSE event to the response writer.
func (g *Gateway) writeSSEEvent(w http.ResponseWriter, event string, data interface{}) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		g.logger.Error("failed to marshal SSE data", "error", err)
		return
	}

	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", dataJSON)
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// parseSendRequest parses a SendMessageRequest from the given reader.
// Returns an error if the JSON is invalid; field validation happens in the
// session constructor.
func parseSendRequest(r io.Reader) (*SendMessageRequest, error) {
	var req SendMessageRequest
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return nil, errors.New("invalid JSON body")
	}
	return &req, nil
}
