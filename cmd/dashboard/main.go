package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/hassdash/dashboard/internal/auth"
	"github.com/hassdash/dashboard/internal/config"
	"github.com/hassdash/dashboard/internal/connection"
	"github.com/hassdash/dashboard/internal/httpapi"
	"github.com/hassdash/dashboard/internal/metrics"
	"github.com/hassdash/dashboard/internal/poller"
	"github.com/hassdash/dashboard/internal/state"
	"github.com/hassdash/dashboard/internal/subscription"
	"github.com/hassdash/dashboard/internal/version"
)

func main() {
	configPath := flag.String("config", "", "path to config file (environment only when empty)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger, err := newLogger(os.Stdout, cfg.Log)
	if err != nil {
		slog.Error("failed to configure logging", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	logger.Info("starting dashboard",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
		"hub_url", cfg.Hub.URL,
	)

	if err := run(cfg, logger); err != nil {
		logger.Error("dashboard stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("dashboard stopped")
}

func run(cfg *config.DashboardConfig, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	// Synchronization core
	client := connection.NewClient(clientConfig(cfg), m, logger.With("component", "client"))
	registry := subscription.NewRegistry(client, cfg.Hub.MessageTimeout, logger.With("component", "subscriptions"))
	client.SetEventHandler(registry)

	states := state.NewManager(stateConfig(cfg), client, registry, m, logger.With("component", "state"))

	// Events may have been missed while disconnected.
	client.OnState(connection.StateConnected, func(connection.ConnectionState) {
		states.Invalidate()
	})

	mgr := connection.NewManager(managerConfig(cfg), client, registry, logger.With("component", "connection"))

	// Documents
	st, err := openStore(ctx, cfg.Database.Postgres, logger.With("component", "store"))
	if err != nil {
		return err
	}
	defer st.Close()

	tokens, err := auth.NewTokenSet(cfg.Server.APITokens)
	if err != nil {
		return fmt.Errorf("api tokens: %w", err)
	}

	server := httpapi.New(httpapi.Config{
		Addr:              cfg.Server.Addr,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		ShutdownTimeout:   cfg.Server.ShutdownTimeout,
		MetricsPath:       cfg.Metrics.Path,
		Tokens:            tokens,
		Gatherer:          reg,
	}, states, mgr, st, m, logger.With("component", "http"))

	g, gctx := errgroup.WithContext(ctx)

	// The HTTP server starts before the hub connects so health is
	// observable during the initial attempts.
	g.Go(func() error {
		return server.Run(gctx)
	})

	g.Go(func() error {
		if err := runSync(gctx, mgr, states, logger); err != nil {
			if gctx.Err() != nil {
				return nil
			}
			return err
		}
		<-gctx.Done()

		stopCtx, stopCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer stopCancel()
		if err := states.Stop(stopCtx); err != nil {
			logger.Debug("state subscription not released", "error", err)
		}
		return mgr.Stop(stopCtx)
	})

	if !cfg.Poller.Disabled {
		p := poller.New(pollerConfig(cfg), states, logger.With("component", "poller"))
		g.Go(func() error {
			if err := p.Start(gctx); err != nil {
				return err
			}
			<-gctx.Done()

			stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer stopCancel()
			return p.Stop(stopCtx)
		})
	}

	logger.Info("dashboard running", "addr", cfg.Server.Addr)
	return g.Wait()
}

// runSync connects to the hub and subscribes the state cache to change
// events. A hub that stays unreachable does not stop the service: documents
// stay available and /health reports 503.
func runSync(ctx context.Context, mgr *connection.Manager, states *state.Manager, logger *slog.Logger) error {
	if err := mgr.Start(ctx); err != nil {
		if errors.Is(err, connection.ErrConnectionExhausted) {
			logger.Error("hub unreachable, serving without live state", "error", err)
			return nil
		}
		return err
	}

	for {
		err := states.Start(ctx)
		if err == nil {
			return nil
		}
		logger.Warn("state event subscription failed", "error", err)

		if err := mgr.WaitConnected(ctx); err != nil {
			if errors.Is(err, connection.ErrConnectionExhausted) {
				logger.Error("hub unreachable, serving without live state", "error", err)
				return nil
			}
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}
}
