package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
)

// Validate checks that all required fields are set and values are valid.
func (c *DashboardConfig) Validate() error {
	if c.Hub.URL == "" {
		return errors.New("hub.url is required")
	}
	u, err := url.Parse(c.Hub.URL)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return fmt.Errorf("hub.url must be a ws:// or wss:// URL, got %q", c.Hub.URL)
	}
	if c.Hub.Token == "" {
		return errors.New("hub.token or hub.token_file is required")
	}
	if c.Hub.HandshakeTimeout <= 0 {
		return errors.New("hub.handshake_timeout must be > 0")
	}
	if c.Hub.MessageTimeout <= 0 {
		return errors.New("hub.message_timeout must be > 0")
	}

	if c.Reconnect.BaseDelay <= 0 {
		return errors.New("reconnect.base_delay must be > 0")
	}
	if c.Reconnect.MaxDelay < c.Reconnect.BaseDelay {
		return fmt.Errorf("reconnect.max_delay (%s) cannot be below base_delay (%s)", c.Reconnect.MaxDelay, c.Reconnect.BaseDelay)
	}
	if c.Reconnect.MaxAttempts < 1 {
		return errors.New("reconnect.max_attempts must be >= 1")
	}

	if c.Outbound.BatchSize < 1 {
		return errors.New("outbound.batch_size must be >= 1")
	}
	if c.Outbound.FlushInterval < 0 {
		return errors.New("outbound.flush_interval must be >= 0")
	}
	if c.Outbound.FlushInterval >= c.State.FreshnessWindow {
		return fmt.Errorf("outbound.flush_interval (%s) must be below state.freshness_window (%s)", c.Outbound.FlushInterval, c.State.FreshnessWindow)
	}
	if c.Outbound.RateLimit < 0 {
		return errors.New("outbound.rate_limit must be >= 0")
	}
	if c.Outbound.RateWindow <= 0 {
		return errors.New("outbound.rate_window must be > 0")
	}

	if c.State.FreshnessWindow <= 0 {
		return errors.New("state.freshness_window must be > 0")
	}
	if c.State.UpdateAttempts < 1 {
		return errors.New("state.update_attempts must be >= 1")
	}

	if !c.Poller.Disabled && c.Poller.Interval <= 0 {
		return errors.New("poller.interval must be > 0")
	}

	if c.Database.Postgres.Enabled() {
		if err := c.Database.Postgres.validate("database.postgres"); err != nil {
			return err
		}
	}

	if c.Server.Addr == "" {
		return errors.New("server.addr is required")
	}
	if len(c.Server.APITokens) == 0 {
		return errors.New("server.api_tokens must contain at least one token")
	}

	if !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /, got %q", c.Metrics.Path)
	}

	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}

	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}

// ParseLevel maps a level name to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}
