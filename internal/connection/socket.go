package connection

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Socket is a single WebSocket connection to the hub. A Socket is not
// reusable: once closed, a new one is dialed.
type Socket interface {
	// Connect dials the WebSocket endpoint.
	Connect(ctx context.Context) error

	// Close sends a close frame and tears the connection down.
	Close() error

	// Send writes one text frame.
	Send(data []byte) error

	// Messages returns every inbound text frame with its receive time.
	Messages() <-chan TimestampedMessage

	// Errors delivers at most one terminal read or keepalive error.
	Errors() <-chan error

	// IsConnected returns current connection state.
	IsConnected() bool
}

// socket implements the Socket interface.
type socket struct {
	cfg    SocketConfig
	logger *slog.Logger

	conn *websocket.Conn

	messages chan TimestampedMessage
	errors   chan error
	done     chan struct{}

	// Write serialization
	writeMu sync.Mutex

	mu         sync.RWMutex
	connected  bool
	lastPongAt time.Time
	closed     bool
}

// NewSocket creates an unconnected socket.
func NewSocket(cfg SocketConfig, logger *slog.Logger) Socket {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultSocketConfig().BufferSize
	}

	return &socket{
		cfg:      cfg,
		logger:   logger,
		messages: make(chan TimestampedMessage, cfg.BufferSize),
		errors:   make(chan error, 1),
		done:     make(chan struct{}),
	}
}

// Connect dials the WebSocket endpoint and starts the read and keepalive loops.
func (s *socket) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrAlreadyClosed
	}
	s.mu.Unlock()

	dialer := websocket.Dialer{
		HandshakeTimeout: s.cfg.HandshakeTimeout,
	}

	conn, _, err := dialer.DialContext(ctx, s.cfg.URL, nil)
	if err != nil {
		return &TransportError{Op: "dial", Err: err}
	}

	s.mu.Lock()
	s.conn = conn
	s.connected = true
	s.lastPongAt = time.Now()
	s.mu.Unlock()

	conn.SetPingHandler(func(data string) error {
		s.touch()
		s.writeMu.Lock()
		defer s.writeMu.Unlock()
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})
	conn.SetPongHandler(func(string) error {
		s.touch()
		return nil
	})

	go s.readLoop()
	if s.cfg.PingInterval > 0 {
		go s.keepaliveLoop()
	}

	s.logger.Debug("websocket connected", "url", s.cfg.URL)
	return nil
}

// Close sends a close frame and closes the underlying connection.
func (s *socket) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.connected = false
	conn := s.conn
	s.mu.Unlock()

	close(s.done)

	if conn == nil {
		return nil
	}

	s.writeMu.Lock()
	_ = conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	s.writeMu.Unlock()
	return conn.Close()
}

// Send writes one text frame.
func (s *socket) Send(data []byte) error {
	s.mu.RLock()
	if !s.connected {
		s.mu.RUnlock()
		return ErrNotConnected
	}
	conn := s.conn
	s.mu.RUnlock()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.cfg.WriteTimeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return &TransportError{Op: "write", Err: err}
	}
	return nil
}

func (s *socket) Messages() <-chan TimestampedMessage {
	return s.messages
}

func (s *socket) Errors() <-chan error {
	return s.errors
}

func (s *socket) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

func (s *socket) touch() {
	s.mu.Lock()
	s.lastPongAt = time.Now()
	s.mu.Unlock()
}

// fail reports a terminal error unless the socket is already closing.
func (s *socket) fail(err error) {
	select {
	case <-s.done:
		return
	default:
	}
	select {
	case s.errors <- err:
	default:
	}
}

// readLoop forwards inbound frames. Frames are never dropped: a full buffer
// blocks the reader until the consumer catches up or the socket closes.
func (s *socket) readLoop() {
	defer func() {
		s.mu.Lock()
		s.connected = false
		s.mu.Unlock()
	}()

	for {
		_, data, err := s.conn.ReadMessage()
		receivedAt := time.Now()

		if err != nil {
			s.fail(&TransportError{Op: "read", Err: err})
			return
		}

		select {
		case s.messages <- TimestampedMessage{Data: data, ReceivedAt: receivedAt}:
		case <-s.done:
			return
		}
	}
}

// keepaliveLoop pings the hub and reports a stale connection when no pong
// arrives within PingTimeout.
func (s *socket) keepaliveLoop() {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.writeMu.Lock()
			deadline := time.Now().Add(s.cfg.WriteTimeout)
			if err := s.conn.WriteControl(websocket.PingMessage, []byte("keepalive"), deadline); err != nil {
				s.logger.Debug("failed to send ping", "error", err)
			}
			s.writeMu.Unlock()

			s.mu.RLock()
			lastPong := s.lastPongAt
			s.mu.RUnlock()

			if s.cfg.PingTimeout > 0 && time.Since(lastPong) > s.cfg.PingTimeout {
				s.logger.Warn("no pong received, connection stale",
					"last_pong", lastPong,
					"timeout", s.cfg.PingTimeout,
				)
				s.fail(&TransportError{Op: "keepalive", Err: ErrStaleConnection})
				_ = s.conn.Close()
				return
			}
		}
	}
}
