// Package app ties all server components together.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/parley-chat/parley/internal/api"
	"github.com/parley-chat/parley/internal/auth"
	"github.com/parley-chat/parley/internal/chat"
	"github.com/parley-chat/parley/internal/config"
	"github.com/parley-chat/parley/internal/metrics"
	"github.com/parley-chat/parley/internal/store"
)

// App is the assembled server process.
type App struct {
	cfg     *config.Config
	store   store.Store
	auth    *auth.Service
	hub     *chat.Hub
	api     *api.Server
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// New creates an App from configuration.
func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	db, err := store.New(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	// The group room and its conversation exist before the first client
	// connects.
	group, err := db.EnsureGroup(context.Background())
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("provision group room: %w", err)
	}

	authSvc := auth.NewService(db, cfg.Auth)
	m := metrics.New()
	hub := chat.New(db, authSvc, group, logger, m, cfg.Chat, cfg.Server.AllowedOrigins)
	apiSrv := api.NewServer(db, authSvc, hub, cfg, logger)

	a := &App{
		cfg:     cfg,
		store:   db,
		auth:    authSvc,
		hub:     hub,
		api:     apiSrv,
		metrics: m,
		logger:  logger.With("component", "app"),
	}

	for _, origin := range cfg.Server.AllowedOrigins {
		if origin == "*" {
			logger.Warn("CORS allowed_origins contains wildcard '*', restrict to specific origins in production")
			break
		}
	}
	if cfg.Server.UIStaticDir != "" {
		if _, err := os.Stat(cfg.Server.UIStaticDir); os.IsNotExist(err) {
			logger.Warn("UI static directory does not exist", "path", cfg.Server.UIStaticDir)
		}
	}

	return a, nil
}

// Run starts the HTTP server and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    a.cfg.Server.Addr,
		Handler: a.api.Handler(),
	}

	a.api.StartBackgroundTasks(ctx)

	if a.cfg.Storage.Retention.Duration > 0 {
		go a.runRetentionPurger(ctx, a.cfg.Storage.Retention.Duration)
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("server listening", "addr", a.cfg.Server.Addr)
		if a.cfg.Server.TLSCert != "" && a.cfg.Server.TLSKey != "" {
			errCh <- srv.ListenAndServeTLS(a.cfg.Server.TLSCert, a.cfg.Server.TLSKey)
		} else {
			a.logger.Warn("TLS not configured, running without encryption (development only)")
			errCh <- srv.ListenAndServe()
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutting down gracefully")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("graceful shutdown failed, forcing close", "error", err)
			_ = srv.Close()
		} else {
			a.logger.Info("http server stopped gracefully")
		}

		_ = a.store.Close()
		a.logger.Info("shutdown complete")
		return ctx.Err()

	case err := <-errCh:
		_ = a.store.Close()
		return err
	}
}

func (a *App) runRetentionPurger(ctx context.Context, retention time.Duration) {
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-retention)
			n, err := a.store.PurgeOldMessages(ctx, cutoff)
			if err != nil {
				a.logger.Warn("retention purge failed", "error", err)
				continue
			}
			if n > 0 {
				a.metrics.MessagesPurged.Add(float64(n))
				a.logger.Info("retention purge: deleted old messages", "count", n)
			}
		}
	}
}
