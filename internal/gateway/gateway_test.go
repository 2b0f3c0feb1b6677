// ABOUTME: Tests for gateway wiring, health endpoints, and middleware.
// ABOUTME: Uses the scripted engine and mock store via newWithDeps.

package gateway

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/seance-gateway/internal/auth"
	"github.com/2389/seance-gateway/internal/config"
	"github.com/2389/seance-gateway/internal/engine"
	"github.com/2389/seance-gateway/internal/store"
)

// newTestGateway builds a gateway around the mock store and the given
// engine. Mutators adjust the config before wiring.
func newTestGateway(t *testing.T, eng engine.Engine, mutate ...func(*config.Config)) (*Gateway, *store.MockStore) {
	t.Helper()

	cfg := &config.Config{}
	cfg.Server.HTTPAddr = "127.0.0.1:0"
	cfg.Server.ShutdownTimeout = 5 * time.Second
	cfg.Server.PingInterval = time.Minute
	cfg.Database.Path = "unused-in-tests"
	cfg.Engine.Command = "/bin/true"
	cfg.Sessions.RecentTTL = time.Minute
	cfg.Sessions.RecentMax = 32
	for _, m := range mutate {
		m(cfg)
	}

	ms := store.NewMockStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	gw, err := newWithDeps(cfg, ms, eng, logger)
	require.NoError(t, err)
	t.Cleanup(func() {
		gw.baseCancel()
		gw.recent.Close()
	})
	return gw, ms
}

func TestHandleHealth(t *testing.T) {
	gw, _ := newTestGateway(t, &engine.Scripted{})

	rec := httptest.NewRecorder()
	gw.handleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestHandleReady(t *testing.T) {
	gw, _ := newTestGateway(t, &engine.Scripted{})

	rec := httptest.NewRecorder()
	gw.handleReady(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ready")
}

// unreadyStore fails every read so the readiness probe trips.
type unreadyStore struct {
	store.Store
}

func (unreadyStore) ListSessions(ctx context.Context, limit int) ([]*store.SessionRecord, error) {
	return nil, errors.New("database closed")
}

func TestHandleReady_StoreDown(t *testing.T) {
	gw, _ := newTestGateway(t, &engine.Scripted{})
	gw.store = unreadyStore{gw.store}

	rec := httptest.NewRecorder()
	gw.handleReady(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "store unavailable", rec.Body.String())
}

func TestAuthMiddleware_RejectsMissingToken(t *testing.T) {
	gw, _ := newTestGateway(t, &engine.Scripted{}, func(cfg *config.Config) {
		cfg.Auth.Enabled = true
		cfg.Auth.JWTSecret = "test-secret"
	})

	rec := httptest.NewRecorder()
	gw.httpServer.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sessions", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthMiddleware_AcceptsValidToken(t *testing.T) {
	gw, _ := newTestGateway(t, &engine.Scripted{}, func(cfg *config.Config) {
		cfg.Auth.Enabled = true
		cfg.Auth.JWTSecret = "test-secret"
	})

	token, err := auth.NewJWTVerifier([]byte("test-secret")).Generate("tester", time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/sessions", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	gw.httpServer.Handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthMiddleware_HealthStaysOpen(t *testing.T) {
	gw, _ := newTestGateway(t, &engine.Scripted{}, func(cfg *config.Config) {
		cfg.Auth.Enabled = true
		cfg.Auth.JWTSecret = "test-secret"
	})

	rec := httptest.NewRecorder()
	gw.httpServer.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimit_Returns429(t *testing.T) {
	gw, _ := newTestGateway(t, &engine.Scripted{}, func(cfg *config.Config) {
		cfg.Limits.RequestsPerSecond = 1
		cfg.Limits.Burst = 1
	})

	first := httptest.NewRecorder()
	gw.httpServer.Handler.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/sessions", nil))
	assert.Equal(t, http.StatusOK, first.Code)

	second := httptest.NewRecorder()
	gw.httpServer.Handler.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/sessions", nil))
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, "1", second.Header().Get("Retry-After"))
}

func TestHealth_ServesDuringStream(t *testing.T) {
	eng := &engine.Scripted{Script: engine.EchoScript("slow"), Delay: 50 * time.Millisecond}
	gw, _ := newTestGateway(t, eng)

	streamDone := make(chan struct{})
	go func() {
		defer close(streamDone)
		rec := httptest.NewRecorder()
		gw.httpServer.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/messages",
			jsonBody(`{"type":"user_message","message":"hi"}`)))
		assert.Equal(t, http.StatusOK, rec.Code)
	}()

	// Health stays responsive while the turn streams
	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		gw.httpServer.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		time.Sleep(10 * time.Millisecond)
	}

	select {
	case <-streamDone:
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not finish")
	}
}

func TestShutdown_CancelsLiveSessions(t *testing.T) {
	eng := &engine.Scripted{
		Script: engine.EchoScript("never delivered"),
		Delay:  time.Hour,
	}
	gw, _ := newTestGateway(t, eng)

	rec := httptest.NewRecorder()
	handlerDone := make(chan struct{})
	go func() {
		defer close(handlerDone)
		gw.handleMessages(rec, httptest.NewRequest(http.MethodPost, "/messages",
			jsonBody(`{"type":"user_message","message":"hi","id":"shutdown-1"}`)))
	}()

	require.Eventually(t, func() bool {
		_, ok := gw.registry.Lookup("shutdown-1")
		return ok
	}, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, gw.Shutdown(ctx))

	select {
	case <-handlerDone:
	case <-time.After(5 * time.Second):
		t.Fatal("handler did not finish after shutdown")
	}

	term, ok := gw.recent.Lookup("shutdown-1")
	require.True(t, ok)
	assert.Equal(t, "cancelled", term.State.String())
}

func TestScheduleRetention_BadSchedule(t *testing.T) {
	cfg := &config.Config{}
	cfg.Server.PingInterval = time.Minute
	cfg.Database.Retention = time.Hour
	cfg.Database.PurgeSchedule = "not a cron expression"
	cfg.Sessions.RecentTTL = time.Minute
	cfg.Sessions.RecentMax = 32

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	_, err := newWithDeps(cfg, store.NewMockStore(), &engine.Scripted{}, logger)
	assert.Error(t, err)
}
