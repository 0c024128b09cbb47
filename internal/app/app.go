package app

import (
	"context"
	"fmt"
	stdhttp "net/http"
	"time"

	"github.com/rs/zerolog"

	"tabchat/internal/channel"
	"tabchat/internal/config"
	"tabchat/internal/store"
	"tabchat/internal/store/sqlite"
	"tabchat/internal/tabs"
	transporthttp "tabchat/internal/transport/http"
)

// App wires the shared store, the broadcast broker, the tab registry,
// and the HTTP surface together.
type App struct {
	server          *stdhttp.Server
	shutdownTimeout time.Duration
	registry        *tabs.Registry
	store           store.Store
	log             *zerolog.Logger
}

// New constructs the application with provided configuration.
func New(cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	st, err := sqlite.New(cfg.DataPath)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}

	logger.Info().Str("data_path", cfg.DataPath).Msg("store initialized")

	broker := channel.NewBroker()
	registry := tabs.NewRegistry(st, broker, cfg.PageSize, *logger)
	server := transporthttp.NewServer(registry, cfg, logger)

	return &App{
		server:          server,
		shutdownTimeout: cfg.ShutdownTimeout,
		registry:        registry,
		store:           st,
		log:             logger,
	}, nil
}

// Run starts the HTTP server and blocks until context cancellation or fatal error.
func (a *App) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	go func() {
		if err := a.server.ListenAndServe(); err != nil && err != stdhttp.ErrServerClosed {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	select {
	case err := <-serverErr:
		a.cleanup()
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()

		a.log.Info().Msg("shutting down http server")
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			a.cleanup()
			return err
		}

		a.cleanup()
		return <-serverErr
	}
}

// cleanup closes open tabs and the store.
func (a *App) cleanup() {
	a.registry.CloseAll()

	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close store")
		} else {
			a.log.Info().Msg("store closed")
		}
	}
}
