package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Resubscriber replays subscriptions on a fresh connection.
type Resubscriber interface {
	Resubscribe(ctx context.Context) error
}

// Health is the controller's view of the hub connection.
type Health struct {
	State               ConnectionState
	Healthy             bool
	Exhausted           bool
	ConsecutiveFailures int
	LastError           string
	ConnectedSince      time.Time
	HubVersion          string
}

// Manager keeps a Client connected: it reconnects with bounded exponential
// backoff and replays subscriptions after every reconnect.
type Manager struct {
	cfg    ManagerConfig
	client *Client
	logger *slog.Logger

	// sleep waits between attempts; replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu             sync.Mutex
	resub          Resubscriber
	failures       int
	lastErr        error
	exhausted      error
	connectedSince time.Time
	changed        chan struct{} // closed and replaced on every status change
}

// NewManager creates a controller for client. resub may be nil and set
// later with SetResubscriber.
func NewManager(cfg ManagerConfig, client *Client, resub Resubscriber, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.ResubscribeTimeout <= 0 {
		cfg.ResubscribeTimeout = DefaultManagerConfig().ResubscribeTimeout
	}

	return &Manager{
		cfg:     cfg,
		client:  client,
		logger:  logger,
		sleep:   sleepContext,
		resub:   resub,
		changed: make(chan struct{}),
	}
}

// SetResubscriber sets the component replayed after each reconnect.
func (m *Manager) SetResubscriber(r Resubscriber) {
	m.mu.Lock()
	m.resub = r
	m.mu.Unlock()
}

// Client returns the managed client.
func (m *Manager) Client() *Client {
	return m.client
}

// Start connects, retrying with backoff, and then supervises the
// connection until Stop. It returns ErrConnectionExhausted when every
// attempt failed.
func (m *Manager) Start(ctx context.Context) error {
	m.ctx, m.cancel = context.WithCancel(ctx)

	if err := m.connect(m.ctx, false); err != nil {
		return fmt.Errorf("connect to hub: %w", err)
	}

	m.wg.Add(1)
	go m.supervise()

	m.logger.Info("connection manager started", "hub_version", m.client.HubVersion())
	return nil
}

// Stop ends supervision and disconnects gracefully within ctx.
func (m *Manager) Stop(ctx context.Context) error {
	m.logger.Info("stopping connection manager")

	if m.cancel != nil {
		m.cancel()
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		m.logger.Warn("shutdown timeout, forcing close")
		return m.client.Disconnect(ctx, true)
	}

	if err := m.client.Disconnect(ctx, false); err != nil {
		return fmt.Errorf("disconnect: %w", err)
	}

	m.logger.Info("connection manager stopped")
	return nil
}

// WaitConnected blocks until the client is connected, the controller has
// given up, or ctx is done.
func (m *Manager) WaitConnected(ctx context.Context) error {
	for {
		m.mu.Lock()
		exhausted, changed := m.exhausted, m.changed
		m.mu.Unlock()

		if exhausted != nil {
			return exhausted
		}
		if m.client.State() == StateConnected {
			return nil
		}

		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Health reports connection status for health checks.
func (m *Manager) Health() Health {
	m.mu.Lock()
	defer m.mu.Unlock()

	h := Health{
		State:               m.client.State(),
		Exhausted:           m.exhausted != nil,
		ConsecutiveFailures: m.failures,
		ConnectedSince:      m.connectedSince,
		HubVersion:          m.client.HubVersion(),
	}
	h.Healthy = h.State == StateConnected && !h.Exhausted
	if m.exhausted != nil {
		h.LastError = m.exhausted.Error()
	} else if m.lastErr != nil {
		h.LastError = m.lastErr.Error()
	}
	return h
}

// supervise reconnects after every connection loss.
func (m *Manager) supervise() {
	defer m.wg.Done()

	for {
		select {
		case <-m.ctx.Done():
			return
		case cause := <-m.client.Lost():
			m.logger.Warn("hub connection lost, reconnecting", "error", cause)
			m.signal()

			if err := m.connect(m.ctx, true); err != nil {
				if errors.Is(err, ErrConnectionExhausted) {
					m.logger.Error("giving up on hub connection", "error", err)
				}
				return
			}
		}
	}
}

// connect runs the bounded retry loop. When reconnecting, the first
// attempt is preceded by a backoff delay as well.
func (m *Manager) connect(ctx context.Context, reconnect bool) error {
	waits := 0
	var lastErr error

	for attempt := 1; attempt <= m.cfg.MaxAttempts; attempt++ {
		if reconnect || attempt > 1 {
			if reconnect {
				m.client.setState(StateReconnecting)
			}
			delay := Backoff(waits, m.cfg.ReconnectBaseWait, m.cfg.ReconnectMaxWait)
			waits++

			m.logger.Debug("waiting before connect attempt", "attempt", attempt, "delay", delay)
			if err := m.sleep(ctx, delay); err != nil {
				return err
			}
		}

		err := m.client.Connect(ctx)
		if err == nil {
			m.recordSuccess()
			if reconnect {
				m.client.Metrics().Reconnected()
				m.resubscribe(ctx)
				m.logger.Info("reconnected to hub", "attempts", attempt)
			}
			return nil
		}

		if errors.Is(err, ErrClosed) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		lastErr = err
		m.recordFailure(err)
		m.logger.Warn("hub connect attempt failed",
			"attempt", attempt,
			"max_attempts", m.cfg.MaxAttempts,
			"error", err,
		)
	}

	exhausted := fmt.Errorf("%w after %d attempts: %w", ErrConnectionExhausted, m.cfg.MaxAttempts, lastErr)
	m.mu.Lock()
	m.exhausted = exhausted
	m.mu.Unlock()
	m.signal()
	return exhausted
}

func (m *Manager) resubscribe(ctx context.Context) {
	m.mu.Lock()
	r := m.resub
	m.mu.Unlock()
	if r == nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, m.cfg.ResubscribeTimeout)
	defer cancel()

	if err := r.Resubscribe(ctx); err != nil {
		m.logger.Warn("subscription replay incomplete", "error", err)
	}
}

func (m *Manager) recordSuccess() {
	m.mu.Lock()
	m.failures = 0
	m.lastErr = nil
	m.connectedSince = time.Now()
	m.mu.Unlock()
	m.signal()
}

func (m *Manager) recordFailure(err error) {
	m.mu.Lock()
	m.failures++
	m.lastErr = err
	m.mu.Unlock()
	m.signal()
}

// signal wakes WaitConnected callers.
func (m *Manager) signal() {
	m.mu.Lock()
	close(m.changed)
	m.changed = make(chan struct{})
	m.mu.Unlock()
}
