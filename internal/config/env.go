package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "DASHBOARD_"

type envOverride struct {
	name  string
	apply func(c *DashboardConfig, v string) error
}

func stringVar(dst func(*DashboardConfig) *string) func(*DashboardConfig, string) error {
	return func(c *DashboardConfig, v string) error {
		*dst(c) = v
		return nil
	}
}

func intVar(dst func(*DashboardConfig) *int) func(*DashboardConfig, string) error {
	return func(c *DashboardConfig, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*dst(c) = n
		return nil
	}
}

func durationVar(dst func(*DashboardConfig) *time.Duration) func(*DashboardConfig, string) error {
	return func(c *DashboardConfig, v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*dst(c) = d
		return nil
	}
}

var envOverrides = []envOverride{
	{"HUB_URL", stringVar(func(c *DashboardConfig) *string { return &c.Hub.URL })},
	{"HUB_TOKEN", stringVar(func(c *DashboardConfig) *string { return &c.Hub.Token })},
	{"HUB_TOKEN_FILE", stringVar(func(c *DashboardConfig) *string { return &c.Hub.TokenFile })},
	{"MESSAGE_TIMEOUT", durationVar(func(c *DashboardConfig) *time.Duration { return &c.Hub.MessageTimeout })},
	{"RECONNECT_BASE_DELAY", durationVar(func(c *DashboardConfig) *time.Duration { return &c.Reconnect.BaseDelay })},
	{"RECONNECT_MAX_DELAY", durationVar(func(c *DashboardConfig) *time.Duration { return &c.Reconnect.MaxDelay })},
	{"MAX_RECONNECT_ATTEMPTS", intVar(func(c *DashboardConfig) *int { return &c.Reconnect.MaxAttempts })},
	{"BATCH_SIZE", intVar(func(c *DashboardConfig) *int { return &c.Outbound.BatchSize })},
	{"BATCH_FLUSH_INTERVAL", durationVar(func(c *DashboardConfig) *time.Duration { return &c.Outbound.FlushInterval })},
	{"RATE_LIMIT", intVar(func(c *DashboardConfig) *int { return &c.Outbound.RateLimit })},
	{"RATE_WINDOW", durationVar(func(c *DashboardConfig) *time.Duration { return &c.Outbound.RateWindow })},
	{"FRESHNESS_WINDOW", durationVar(func(c *DashboardConfig) *time.Duration { return &c.State.FreshnessWindow })},
	{"LISTEN_ADDR", stringVar(func(c *DashboardConfig) *string { return &c.Server.Addr })},
	{"API_TOKENS", func(c *DashboardConfig, v string) error {
		c.Server.APITokens = nil
		for _, tok := range strings.Split(v, ",") {
			if tok = strings.TrimSpace(tok); tok != "" {
				c.Server.APITokens = append(c.Server.APITokens, tok)
			}
		}
		return nil
	}},
	{"DB_HOST", stringVar(func(c *DashboardConfig) *string { return &c.Database.Postgres.Host })},
	{"DB_PORT", intVar(func(c *DashboardConfig) *int { return &c.Database.Postgres.Port })},
	{"DB_NAME", stringVar(func(c *DashboardConfig) *string { return &c.Database.Postgres.Name })},
	{"DB_USER", stringVar(func(c *DashboardConfig) *string { return &c.Database.Postgres.User })},
	{"DB_PASSWORD", stringVar(func(c *DashboardConfig) *string { return &c.Database.Postgres.Password })},
	{"LOG_LEVEL", stringVar(func(c *DashboardConfig) *string { return &c.Log.Level })},
	{"LOG_FORMAT", stringVar(func(c *DashboardConfig) *string { return &c.Log.Format })},
}

// applyEnv applies DASHBOARD_* overrides found by lookup.
func (c *DashboardConfig) applyEnv(lookup func(string) (string, bool)) error {
	for _, o := range envOverrides {
		v, ok := lookup(EnvPrefix + o.name)
		if !ok || v == "" {
			continue
		}
		if err := o.apply(c, v); err != nil {
			return fmt.Errorf("env %s%s: %w", EnvPrefix, o.name, err)
		}
	}
	return nil
}
