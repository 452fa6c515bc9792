// hubprobe connects to the hub and streams state changes to the console.
// Usage: go run ./cmd/hubprobe --config configs/dashboard.example.yaml
//
// Required environment variables when no config file sets them:
//
//	DASHBOARD_HUB_URL   - hub WebSocket URL
//	DASHBOARD_HUB_TOKEN - long-lived access token
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hassdash/dashboard/internal/config"
	"github.com/hassdash/dashboard/internal/connection"
	"github.com/hassdash/dashboard/internal/metrics"
	"github.com/hassdash/dashboard/internal/model"
	"github.com/hassdash/dashboard/internal/outbound"
	"github.com/hassdash/dashboard/internal/state"
	"github.com/hassdash/dashboard/internal/subscription"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	filter := flag.String("filter", "", "only print entities whose id starts with this prefix")
	verbose := flag.Bool("verbose", false, "print full state JSON")
	flag.Parse()

	// Setup logger
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	cfg, err := config.LoadWithDefaults(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if cfg.Hub.URL == "" || cfg.Hub.Token == "" {
		logger.Error("hub url and token are required",
			"url_set", cfg.Hub.URL != "",
			"token_set", cfg.Hub.Token != "",
		)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	m := metrics.New(nil)

	clientCfg := connection.DefaultClientConfig()
	clientCfg.Socket.URL = cfg.Hub.URL
	clientCfg.AccessToken = cfg.Hub.Token
	clientCfg.MessageTimeout = cfg.Hub.MessageTimeout
	clientCfg.Batch = outbound.BatchConfig{MaxBatchSize: cfg.Outbound.BatchSize, FlushInterval: cfg.Outbound.FlushInterval}
	clientCfg.RateLimit = outbound.LimiterConfig{Limit: cfg.Outbound.RateLimit, Window: cfg.Outbound.RateWindow}

	client := connection.NewClient(clientCfg, m, logger)
	registry := subscription.NewRegistry(client, cfg.Hub.MessageTimeout, logger)
	client.SetEventHandler(registry)

	client.OnState(connection.StateReconnecting, func(connection.ConnectionState) {
		fmt.Println("-- reconnecting")
	})

	mgr := connection.NewManager(connection.ManagerConfig{
		ReconnectBaseWait:  cfg.Reconnect.BaseDelay,
		ReconnectMaxWait:   cfg.Reconnect.MaxDelay,
		MaxAttempts:        cfg.Reconnect.MaxAttempts,
		ResubscribeTimeout: cfg.Reconnect.ResubscribeTimeout,
	}, client, registry, logger)

	logger.Info("connecting to hub", "url", cfg.Hub.URL)
	if err := mgr.Start(ctx); err != nil {
		logger.Error("failed to connect", "error", err)
		os.Exit(1)
	}
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		_ = mgr.Stop(stopCtx)
	}()

	rtt, err := client.Ping(ctx)
	if err != nil {
		logger.Warn("ping failed", "error", err)
	}
	fmt.Printf("hub version %s, round trip %s\n", client.HubVersion(), rtt)

	states := state.NewManager(state.DefaultConfig(), client, registry, m, logger)
	all, err := states.GetAll(ctx)
	if err != nil {
		logger.Error("failed to fetch states", "error", err)
		os.Exit(1)
	}
	domains := make(map[string]int)
	for _, st := range all {
		domains[st.Domain()]++
	}
	fmt.Printf("%d entities across %d domains\n", len(all), len(domains))

	_, err = registry.Subscribe(ctx, state.TopicStateChanged, func(ev connection.Event) {
		printChange(ev, *filter, *verbose)
	}, true)
	if err != nil {
		logger.Error("failed to subscribe", "error", err)
		os.Exit(1)
	}

	// Stats printer
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := m.Snapshot()
			fmt.Printf("-- sent=%d received=%d latency=%s reconnects=%d\n",
				snap.MessagesSent, snap.MessagesReceived, snap.LastLatency, snap.Reconnects)
		}
	}
}

func printChange(ev connection.Event, filter string, verbose bool) {
	var change model.StateChange
	if err := json.Unmarshal(ev.Data, &change); err != nil {
		fmt.Printf("!! undecodable state_changed: %v\n", err)
		return
	}
	if filter != "" && !strings.HasPrefix(change.EntityID, filter) {
		return
	}

	ts := ev.ReceivedAt.Format("15:04:05.000")
	if change.NewState == nil {
		fmt.Printf("[%s] %s removed\n", ts, change.EntityID)
		return
	}

	old := "-"
	if change.OldState != nil {
		old = change.OldState.State
	}
	fmt.Printf("[%s] %s: %s -> %s\n", ts, change.EntityID, old, change.NewState.State)

	if verbose {
		data, _ := json.MarshalIndent(change.NewState, "  ", "  ")
		fmt.Printf("  %s\n", data)
	}
}
