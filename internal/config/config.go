package config

import "time"

// DashboardConfig is the root configuration for the dashboard service.
type DashboardConfig struct {
	Hub       HubConfig       `yaml:"hub"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
	Outbound  OutboundConfig  `yaml:"outbound"`
	State     StateConfig     `yaml:"state"`
	Poller    PollerConfig    `yaml:"poller"`
	Database  DatabaseConfig  `yaml:"database"`
	Server    ServerConfig    `yaml:"server"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Log       LogConfig       `yaml:"log"`
}

// HubConfig holds the hub WebSocket settings.
type HubConfig struct {
	URL              string        `yaml:"url"`        // e.g. ws://homeassistant.local:8123/api/websocket
	Token            string        `yaml:"token"`      // long-lived access token
	TokenFile        string        `yaml:"token_file"` // read when token is empty
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	MessageTimeout   time.Duration `yaml:"message_timeout"`
	PingInterval     time.Duration `yaml:"ping_interval"`
	PingTimeout      time.Duration `yaml:"ping_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
}

// ReconnectConfig holds reconnection controller settings.
type ReconnectConfig struct {
	BaseDelay          time.Duration `yaml:"base_delay"`
	MaxDelay           time.Duration `yaml:"max_delay"`
	MaxAttempts        int           `yaml:"max_attempts"`
	ResubscribeTimeout time.Duration `yaml:"resubscribe_timeout"`
}

// OutboundConfig holds batching and rate limiting settings.
type OutboundConfig struct {
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	RateLimit     int           `yaml:"rate_limit"`
	RateWindow    time.Duration `yaml:"rate_window"`
}

// StateConfig holds state cache settings.
type StateConfig struct {
	FreshnessWindow time.Duration `yaml:"freshness_window"`
	FetchTimeout    time.Duration `yaml:"fetch_timeout"`
	UpdateAttempts  int           `yaml:"update_attempts"`
	UpdateBackoff   time.Duration `yaml:"update_backoff"`
}

// PollerConfig holds full-state resync settings.
type PollerConfig struct {
	Disabled bool          `yaml:"disabled"`
	Interval time.Duration `yaml:"interval"`
}

// DatabaseConfig holds the document store connection. An empty host
// selects the in-memory store.
type DatabaseConfig struct {
	Postgres DBConfig `yaml:"postgres"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// Enabled reports whether a database is configured.
func (c DBConfig) Enabled() bool {
	return c.Host != ""
}

// ServerConfig holds REST server settings.
type ServerConfig struct {
	Addr              string        `yaml:"addr"`
	APITokens         []string      `yaml:"api_tokens"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Path string `yaml:"path"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}
