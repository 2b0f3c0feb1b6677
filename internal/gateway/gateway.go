// ABOUTME: Gateway orchestrator that coordinates the HTTP server and session machinery.
// ABOUTME: Manages the engine, store, registry, retention janitor, and listener lifecycle.

package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/robfig/cron/v3"
	"tailscale.com/tsnet"

	"github.com/2389/seance-gateway/internal/auth"
	"github.com/2389/seance-gateway/internal/config"
	"github.com/2389/seance-gateway/internal/engine"
	"github.com/2389/seance-gateway/internal/metrics"
	"github.com/2389/seance-gateway/internal/session"
	"github.com/2389/seance-gateway/internal/store"
)

// Gateway orchestrates the seance-gateway server components. It owns the
// HTTP server, the agent engine, the live session registry, and the
// retention janitor.
type Gateway struct {
	config      *config.Config
	store       store.Store
	engine      engine.Engine
	registry    *session.Registry
	recent      *session.RecentCache
	limiter     *auth.RateLimiter
	httpServer  *http.Server
	tsnetServer *tsnet.Server
	janitor     *cron.Cron
	logger      *slog.Logger

	// baseCtx is the run context engine turns are bound to. Sessions stop
	// via Cancel, not via HTTP request teardown, so this context outlives
	// individual requests and is cancelled only on shutdown.
	baseCtx    context.Context
	baseCancel context.CancelFunc
}

// initStore creates and returns a store based on config and environment.
func initStore(cfg *config.Config) (store.Store, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("SEANCE_DB_PATH"); envPath != "" {
		dbPath = envPath
	}

	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// initEngine builds the subprocess engine from config, loading the optional
// profile file.
func initEngine(cfg *config.Config, logger *slog.Logger) (engine.Engine, error) {
	var profile *engine.Profile
	if cfg.Engine.ProfilePath != "" {
		p, err := engine.LoadProfile(cfg.Engine.ProfilePath)
		if err != nil {
			return nil, err
		}
		profile = p
	}

	return engine.NewProcEngine(engine.ProcConfig{
		Command:        cfg.Engine.Command,
		Args:           cfg.Engine.Args,
		DefaultWorkDir: cfg.Engine.DefaultWorkDir,
		Profile:        profile,
		Logger:         logger,
	})
}

// New creates a new Gateway instance with the given configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	s, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	eng, err := initEngine(cfg, logger)
	if err != nil {
		s.Close()
		return nil, err
	}

	return newWithDeps(cfg, s, eng, logger)
}

// NewDemo creates a Gateway backed by a scripted echo engine instead of the
// configured agent command. Useful for trying the HTTP surface without an
// agent CLI installed.
func NewDemo(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	s, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	eng := &engine.Scripted{
		Script: engine.EchoScript("This is a demo turn; configure engine.command to run a real agent."),
		Delay:  100 * time.Millisecond,
	}
	return newWithDeps(cfg, s, eng, logger)
}

// newWithDeps wires a gateway around explicit store and engine instances.
// Tests use it to inject a scripted engine and the in-memory store.
func newWithDeps(cfg *config.Config, s store.Store, eng engine.Engine, logger *slog.Logger) (*Gateway, error) {
	baseCtx, baseCancel := context.WithCancel(context.Background())

	gw := &Gateway{
		config:     cfg,
		store:      s,
		engine:     eng,
		registry:   session.NewRegistry(),
		recent:     session.NewRecentCache(cfg.Sessions.RecentTTL, cfg.Sessions.RecentMax),
		logger:     logger.With("component", "gateway"),
		baseCtx:    baseCtx,
		baseCancel: baseCancel,
	}

	if cfg.Limits.RequestsPerSecond > 0 {
		gw.limiter = auth.NewRateLimiter(cfg.Limits.RequestsPerSecond, cfg.Limits.Burst)
	}

	mux := http.NewServeMux()

	// Health endpoints - no auth required
	mux.HandleFunc("/health", gw.handleHealth)
	mux.HandleFunc("/health/ready", gw.handleReady)

	if cfg.Metrics.Enabled {
		mux.Handle(cfg.Metrics.Path, metrics.Handler())
	}

	gw.registerAPIRoutes(mux)

	var handler http.Handler = mux
	if cfg.Metrics.Enabled {
		handler = metrics.Middleware(handler)
	}

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if cfg.Database.Retention > 0 {
		if err := gw.scheduleRetention(); err != nil {
			baseCancel()
			gw.recent.Close()
			return nil, err
		}
	}

	return gw, nil
}

// registerAPIRoutes registers session routes on the mux with or without
// auth and rate-limit middleware.
func (g *Gateway) registerAPIRoutes(mux *http.ServeMux) {
	wrap := func(h http.Handler) http.Handler {
		if g.limiter != nil {
			h = auth.RateLimitMiddleware(g.limiter)(h)
		}
		if g.config.Auth.Enabled {
			verifier := auth.NewJWTVerifier([]byte(g.config.Auth.JWTSecret))
			h = auth.Middleware(verifier)(h)
		}
		return h
	}

	mux.Handle("/messages", wrap(http.HandlerFunc(g.handleMessages)))
	mux.Handle("/sessions", wrap(http.HandlerFunc(g.handleSessions)))
	mux.Handle("/sessions/", wrap(http.HandlerFunc(g.handleSession)))

	if g.config.Auth.Enabled {
		g.logger.Info("HTTP auth middleware enabled")
	} else {
		g.logger.Warn("HTTP auth disabled")
	}
}

// scheduleRetention starts the cron janitor that purges terminal session
// records past the retention window.
func (g *Gateway) scheduleRetention() error {
	g.janitor = cron.New()
	_, err := g.janitor.AddFunc(g.config.Database.PurgeSchedule, func() {
		cutoff := time.Now().Add(-g.config.Database.Retention)
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		purged, err := g.store.PurgeSessionsBefore(ctx, cutoff)
		if err != nil {
			g.logger.Error("retention purge failed", "error", err)
			return
		}
		if g.limiter != nil {
			g.limiter.Reset()
		}
		g.logger.Info("retention purge complete", "purged", purged, "cutoff", cutoff)
	})
	if err != nil {
		return fmt.Errorf("scheduling retention purge %q: %w", g.config.Database.PurgeSchedule, err)
	}
	return nil
}

// setupListeners creates the HTTP listener based on configuration
// (Tailscale or TCP).
func (g *Gateway) setupListeners(ctx context.Context) (net.Listener, error) {
	if g.config.Tailscale.Enabled {
		if g.config.Server.HTTPAddr != "" {
			g.logger.Warn("server.http_addr is ignored when tailscale is enabled",
				"http_addr", g.config.Server.HTTPAddr)
		}
		return g.setupTailscaleListener(ctx)
	}

	g.logger.Info("starting gateway", "http_addr", g.config.Server.HTTPAddr)
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return ln, nil
}

// Run starts the gateway server and blocks until the context is canceled.
// Returns nil on graceful shutdown (context canceled), or an error if the
// server fails.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := g.setupListeners(ctx)
	if err != nil {
		return err
	}

	if g.janitor != nil {
		g.janitor.Start()
	}

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := g.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), g.config.Server.ShutdownTimeout)
	defer cancel()
	return g.Shutdown(ctx)
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown gracefully stops the gateway and releases resources. Live
// sessions are cancelled; their responders finish writing the final frames
// before the HTTP server drains.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	if g.janitor != nil {
		g.janitor.Stop()
	}

	g.registry.CancelAll()

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	g.baseCancel()

	if g.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", g.tsnetServer.Close())
	}
	errs = appendCloseError(errs, "store close", g.store.Close())
	g.recent.Close()

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive. It never touches the
// session machinery.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// handleReady returns 200 OK if the store is reachable.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	if _, err := g.store.ListSessions(r.Context(), 1); err != nil {
		g.logger.Error("readiness check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("store unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d live sessions)", g.registry.Len())
}
