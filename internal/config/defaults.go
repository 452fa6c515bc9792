package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultHandshakeTimeout   = 5 * time.Second
	DefaultMessageTimeout     = 10 * time.Second
	DefaultPingInterval       = 20 * time.Second
	DefaultPingTimeout        = 60 * time.Second
	DefaultWriteTimeout       = 5 * time.Second
	DefaultReconnectBaseDelay = 1 * time.Second
	DefaultReconnectMaxDelay  = 30 * time.Second
	DefaultMaxAttempts        = 10
	DefaultResubscribeTimeout = 30 * time.Second
	DefaultBatchSize          = 10
	DefaultFlushInterval      = 100 * time.Millisecond
	DefaultRateLimit          = 100
	DefaultRateWindow         = time.Minute
	DefaultFreshnessWindow    = 5 * time.Second
	DefaultFetchTimeout       = 2 * time.Second
	DefaultUpdateAttempts     = 3
	DefaultUpdateBackoff      = 200 * time.Millisecond
	DefaultPollInterval       = 5 * time.Minute
	DefaultDBPort             = 5432
	DefaultDBSSLMode          = "prefer"
	DefaultMaxConns           = 10
	DefaultMinConns           = 2
	DefaultServerAddr         = ":8080"
	DefaultReadHeaderTimeout  = 5 * time.Second
	DefaultShutdownTimeout    = 10 * time.Second
	DefaultMetricsPath        = "/metrics"
	DefaultLogLevel           = "info"
	DefaultLogFormat          = "text"
)

func (c *DashboardConfig) applyDefaults() {
	// Hub defaults
	if c.Hub.HandshakeTimeout == 0 {
		c.Hub.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.Hub.MessageTimeout == 0 {
		c.Hub.MessageTimeout = DefaultMessageTimeout
	}
	if c.Hub.PingInterval == 0 {
		c.Hub.PingInterval = DefaultPingInterval
	}
	if c.Hub.PingTimeout == 0 {
		c.Hub.PingTimeout = DefaultPingTimeout
	}
	if c.Hub.WriteTimeout == 0 {
		c.Hub.WriteTimeout = DefaultWriteTimeout
	}

	// Reconnect defaults
	if c.Reconnect.BaseDelay == 0 {
		c.Reconnect.BaseDelay = DefaultReconnectBaseDelay
	}
	if c.Reconnect.MaxDelay == 0 {
		c.Reconnect.MaxDelay = DefaultReconnectMaxDelay
	}
	if c.Reconnect.MaxAttempts == 0 {
		c.Reconnect.MaxAttempts = DefaultMaxAttempts
	}
	if c.Reconnect.ResubscribeTimeout == 0 {
		c.Reconnect.ResubscribeTimeout = DefaultResubscribeTimeout
	}

	// Outbound defaults
	if c.Outbound.BatchSize == 0 {
		c.Outbound.BatchSize = DefaultBatchSize
	}
	if c.Outbound.FlushInterval == 0 {
		c.Outbound.FlushInterval = DefaultFlushInterval
	}
	if c.Outbound.RateLimit == 0 {
		c.Outbound.RateLimit = DefaultRateLimit
	}
	if c.Outbound.RateWindow == 0 {
		c.Outbound.RateWindow = DefaultRateWindow
	}

	// State defaults
	if c.State.FreshnessWindow == 0 {
		c.State.FreshnessWindow = DefaultFreshnessWindow
	}
	if c.State.FetchTimeout == 0 {
		c.State.FetchTimeout = DefaultFetchTimeout
	}
	if c.State.UpdateAttempts == 0 {
		c.State.UpdateAttempts = DefaultUpdateAttempts
	}
	if c.State.UpdateBackoff == 0 {
		c.State.UpdateBackoff = DefaultUpdateBackoff
	}

	// Poller defaults
	if c.Poller.Interval == 0 {
		c.Poller.Interval = DefaultPollInterval
	}

	// Database defaults
	applyDBDefaults(&c.Database.Postgres)

	// Server defaults
	if c.Server.Addr == "" {
		c.Server.Addr = DefaultServerAddr
	}
	if c.Server.ReadHeaderTimeout == 0 {
		c.Server.ReadHeaderTimeout = DefaultReadHeaderTimeout
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = DefaultShutdownTimeout
	}

	// Metrics defaults
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}

	// Log defaults
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
