package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/statelylabs/sqlgate/internal/gateway/db"
	httpapi "github.com/statelylabs/sqlgate/internal/gateway/http"
	"github.com/statelylabs/sqlgate/pkg/jwtx"
	"github.com/statelylabs/sqlgate/pkg/slogx"
)

const (
	// BuildVersion should be set at build time via ldflags.
	BuildVersion = "v0.1.0"
)

// Application wires the gateway together: key cache, verifier, pool,
// executor, HTTP server. Everything is constructed once here and passed by
// handle; no component reaches for ambient globals.
type Application struct {
	cfg    Config
	logger *slog.Logger

	keys     *jwtx.RemoteKeySet
	verifier *jwtx.Verifier
	pool     *db.Pool
	executor *db.Executor

	server *http.Server
	router *httpapi.Router
}

// New validates the configuration and initializes all dependencies. The
// database gets one bounded connectivity probe; the key cache is pre-warmed
// best-effort (a down identity provider at boot is not fatal, the cache
// refreshes on demand).
func New(cfg Config) (*Application, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "sqlgate",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
	}

	app.keys = jwtx.NewRemoteKeySet(cfg.JWKSURL, cfg.JWKSCacheTTL, cfg.JWKSFetchTTL)
	app.verifier = jwtx.NewVerifier(app.keys, jwtx.VerifyOptions{
		Issuer:     cfg.Issuer,
		Audience:   cfg.Audience,
		Algorithms: cfg.Algorithms,
	})

	app.pool = db.NewPool(db.PgxDialer(cfg.DatabaseURL), cfg.MaxConns, cfg.AcquireWait, app.logger)
	app.executor = db.NewExecutor(app.logger)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("database unreachable: %w", err)
	}
	app.logger.Info("database connection test successful")

	if err := app.keys.Refresh(ctx); err != nil {
		app.logger.Warn("signing key pre-fetch failed, will retry on demand", "err", err)
	} else {
		app.logger.Info("signing keys loaded", "jwks_url", cfg.JWKSURL)
	}

	app.initHTTP()
	return app, nil
}

// Run starts the HTTP server and blocks until shutdown is requested.
func (app *Application) Run() error {
	app.logger.Info("gateway starting",
		"port", app.cfg.Port,
		"version", BuildVersion,
		"issuer", app.cfg.Issuer,
		"max_connections", app.cfg.MaxConns,
	)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- app.server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-shutdown:
		app.logger.Info("shutdown signal received", "signal", sig)
		if err := app.Shutdown(); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	return nil
}

// Shutdown stops the server, then drains and closes the pool.
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down gateway...")

	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGrace)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", "error", err)
		if err := app.server.Close(); err != nil {
			app.logger.Error("error closing server", "error", err)
		}
	}

	if err := app.pool.Close(ctx); err != nil {
		app.logger.Error("error closing connection pool", "error", err)
		return err
	}

	app.logger.Info("gateway stopped")
	return nil
}

func (app *Application) initHTTP() {
	router := httpapi.NewRouter(app.verifier, app.pool, app.executor, app.logger)
	router.ApplyRoutes()
	app.router = router

	app.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 3 * time.Second,
	}
}
