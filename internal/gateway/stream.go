// ABOUTME: SSE streaming responder for one session.
// ABOUTME: Forwards encoded events, sends keep-alive pings, and cancels on disconnect.

package gateway

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/2389/seance-gateway/internal/codec"
	"github.com/2389/seance-gateway/internal/engine"
	"github.com/2389/seance-gateway/internal/metrics"
	"github.com/2389/seance-gateway/internal/session"
	"github.com/2389/seance-gateway/internal/store"
)

// streamSession reads from the session's event queue and writes SSE frames
// until the queue closes. Client disconnect requests cancellation; the
// remaining events are drained so the session settles.
func (g *Gateway) streamSession(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, sess *session.Session) {
	ticker := time.NewTicker(g.config.Server.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			g.logger.Info("client disconnected, cancelling session", "session_id", sess.ID)
			g.abandonSession(sess)
			return

		case <-ticker.C:
			// SSE comment line; keeps idle proxies from closing the stream.
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()

		case ev, ok := <-sess.Events():
			if !ok {
				return
			}

			if ev.Kind == engine.KindTokenCount && ev.Usage != nil {
				g.recordUsage(sess.ID, ev.Usage)
			}

			wire, err := codec.Encode(ev)
			if err != nil {
				metrics.RecordCodecFault()
				g.logger.Error("unencodable engine event", "session_id", sess.ID, "error", err)
				g.writeSSEEvent(w, "error", map[string]string{
					"code":  "codec_error",
					"error": "engine produced an event the gateway could not encode",
				})
				flusher.Flush()
				g.abandonSession(sess)
				return
			}

			g.writeSSEEvent(w, wire.Type, wire.Data)
			flusher.Flush()
			metrics.RecordEventStreamed(wire.Type)
		}
	}
}

// abandonSession cancels the session and drains its queue so the pump can
// settle the terminal state.
func (g *Gateway) abandonSession(sess *session.Session) {
	sess.Cancel()
	for range sess.Events() {
	}
}

// recordUsage persists cumulative token totals reported by the engine.
func (g *Gateway) recordUsage(sessionID string, usage *engine.TokenUsage) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := g.store.RecordUsage(ctx, &store.UsageRecord{
		SessionID:    sessionID,
		InputTokens:  usage.InputTokens,
		OutputTokens: usage.OutputTokens,
		CachedTokens: usage.CachedTokens,
	})
	if err != nil {
		g.logger.Error("failed to record usage", "session_id", sessionID, "error", err)
	}
}
