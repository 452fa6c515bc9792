package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/hassdash/dashboard/internal/config"
	"github.com/hassdash/dashboard/internal/connection"
	"github.com/hassdash/dashboard/internal/database"
	"github.com/hassdash/dashboard/internal/outbound"
	"github.com/hassdash/dashboard/internal/poller"
	"github.com/hassdash/dashboard/internal/state"
	"github.com/hassdash/dashboard/internal/store"
)

// newLogger builds the process logger from config.
func newLogger(w io.Writer, cfg config.LogConfig) (*slog.Logger, error) {
	level, err := config.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	if cfg.Format == "json" {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(h), nil
}

func clientConfig(cfg *config.DashboardConfig) connection.ClientConfig {
	c := connection.DefaultClientConfig()
	c.Socket.URL = cfg.Hub.URL
	c.Socket.HandshakeTimeout = cfg.Hub.HandshakeTimeout
	c.Socket.PingInterval = cfg.Hub.PingInterval
	c.Socket.PingTimeout = cfg.Hub.PingTimeout
	c.Socket.WriteTimeout = cfg.Hub.WriteTimeout
	c.AccessToken = cfg.Hub.Token
	c.HandshakeTimeout = cfg.Hub.HandshakeTimeout
	c.MessageTimeout = cfg.Hub.MessageTimeout
	c.Batch = outbound.BatchConfig{
		MaxBatchSize:  cfg.Outbound.BatchSize,
		FlushInterval: cfg.Outbound.FlushInterval,
	}
	c.RateLimit = outbound.LimiterConfig{
		Limit:  cfg.Outbound.RateLimit,
		Window: cfg.Outbound.RateWindow,
	}
	return c
}

func managerConfig(cfg *config.DashboardConfig) connection.ManagerConfig {
	return connection.ManagerConfig{
		ReconnectBaseWait:  cfg.Reconnect.BaseDelay,
		ReconnectMaxWait:   cfg.Reconnect.MaxDelay,
		MaxAttempts:        cfg.Reconnect.MaxAttempts,
		ResubscribeTimeout: cfg.Reconnect.ResubscribeTimeout,
	}
}

func stateConfig(cfg *config.DashboardConfig) state.Config {
	c := state.DefaultConfig()
	c.FreshnessWindow = cfg.State.FreshnessWindow
	c.FetchTimeout = cfg.State.FetchTimeout
	c.UpdateAttempts = cfg.State.UpdateAttempts
	c.UpdateBackoff = cfg.State.UpdateBackoff
	return c
}

func pollerConfig(cfg *config.DashboardConfig) poller.Config {
	c := poller.DefaultConfig()
	c.Interval = cfg.Poller.Interval
	return c
}

// openStore returns a Postgres-backed store when a database is
// configured and an in-memory one otherwise.
func openStore(ctx context.Context, cfg config.DBConfig, logger *slog.Logger) (*store.Store, error) {
	if !cfg.Enabled() {
		logger.Warn("no database configured, documents are kept in memory")
		return store.New(store.NewMemoryBackend(), logger), nil
	}

	logger.Info("connecting to database",
		"host", cfg.Host,
		"port", cfg.Port,
		"database", cfg.Name,
	)

	pool, err := database.Connect(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	backend := store.NewPostgresBackend(pool)
	if err := backend.EnsureSchema(ctx); err != nil {
		backend.Close()
		return nil, err
	}

	logger.Info("database connected")
	return store.New(backend, logger), nil
}
