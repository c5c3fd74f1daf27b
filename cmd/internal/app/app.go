// Package app wires the marketplace server runtime: config, logging, tracing,
// metrics, the session store and the auth HTTP routes.
package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	authapi "marketplace/cmd/internal/auth/api"
	"marketplace/cmd/internal/auth/session"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// App is the marketplace server runtime.
type App struct {
	cfg Config
	log *slog.Logger

	dbPool   *pgxpool.Pool
	registry *prometheus.Registry

	sessions *session.Service
	auth     *authapi.Handler

	shutdownTracing func(context.Context) error
}

// New constructs a fully wired App instance from config and logger.
func New(ctx context.Context, cfg Config, log *slog.Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg)
	}

	digester, err := ValidateSecurityConfig(cfg)
	if err != nil {
		return nil, err
	}

	shutdownTracing, err := SetupTracing(ctx, cfg)
	if err != nil {
		return nil, err
	}

	a := &App{
		cfg:             cfg,
		log:             log,
		registry:        prometheus.NewRegistry(),
		shutdownTracing: shutdownTracing,
	}
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	store, audit, err := a.newStore(ctx)
	if err != nil {
		_ = shutdownTracing(ctx)
		return nil, err
	}

	sessCfg := cfg.SessionConfig()
	a.sessions, err = session.NewService(sessCfg, store, digester,
		session.WithLogger(log.With("component", "session")),
		session.WithMetrics(session.NewMetrics(a.registry)),
	)
	if err != nil {
		a.close(ctx)
		return nil, err
	}

	tokens, err := session.NewAccessTokenManager(sessCfg)
	if err != nil {
		a.close(ctx)
		return nil, err
	}

	a.auth, err = authapi.NewHandler(log.With("component", "auth"), cfg.AuthConfig(), a.sessions, tokens,
		authapi.WithAuditSink(audit),
	)
	if err != nil {
		a.close(ctx)
		return nil, err
	}

	log.Info("app.ready",
		"db_enabled", a.dbPool != nil,
		"digest_keyed", digester.Keyed(),
		"access_token_format", sessCfg.AccessTokenFormat,
		"tracing", cfg.OTLPEndpoint != "",
	)
	return a, nil
}

// Auth exposes the auth handler so the login flow can call StartSession.
func (a *App) Auth() *authapi.Handler { return a.auth }

// Handler returns the root HTTP handler with middleware applied.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()

	var ping pinger
	if a.dbPool != nil {
		ping = func(ctx context.Context) error { return PingDB(ctx, a.dbPool, 2*time.Second) }
	}
	registerHTTP(mux, a.log, a.cfg, ping, a.registry, a.auth)

	return WithRequestID(WithSecurityHeaders(WithRequestLogging(mux, a.log)))
}

// Run starts the HTTP server and blocks until context cancellation or fatal server error.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "db_enabled", a.dbPool != nil)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		a.close(context.Background())
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	a.close(shutdownCtx)
	a.log.Info("server.stopped")
	return nil
}

func (a *App) close(ctx context.Context) {
	if a.shutdownTracing != nil {
		if err := a.shutdownTracing(ctx); err != nil {
			a.log.Error("tracing.shutdown.fail", "err", err)
		}
	}
	if a.dbPool != nil {
		a.dbPool.Close()
	}
}

// newStore decides between the Postgres store and the in-memory dev store.
func (a *App) newStore(ctx context.Context) (session.Store, authapi.AuditSink, error) {
	if a.cfg.DatabaseURL == "" {
		a.log.Warn("db.disabled.inmemory_store")
		return session.NewMemoryStore(), authapi.NoopAuditSink{}, nil
	}

	pool, err := NewDBPool(ctx, a.cfg)
	if err != nil {
		return nil, nil, err
	}
	a.dbPool = pool

	a.log.Info("db.enabled.postgres_store")
	return session.NewPostgresStore(pool), authapi.NewPostgresAuditSink(pool, a.log.With("component", "audit")), nil
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
