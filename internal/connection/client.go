package connection

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hassdash/dashboard/internal/metrics"
	"github.com/hassdash/dashboard/internal/outbound"
)

// EventHandler receives hub events on the client's read goroutine, in the
// order the hub emitted them.
type EventHandler interface {
	HandleEvent(ev Event)
}

// EventHandlerFunc adapts a function to EventHandler.
type EventHandlerFunc func(Event)

func (f EventHandlerFunc) HandleEvent(ev Event) { f(ev) }

// Client speaks the hub protocol over one connection at a time.
type Client struct {
	cfg     ClientConfig
	logger  *slog.Logger
	metrics *metrics.Metrics

	limiter *outbound.Limiter
	batcher *outbound.Batcher[[]byte]

	newSocket func(SocketConfig, *slog.Logger) Socket

	nextID    atomic.Int64
	state     atomic.Int32
	observers *observers
	lost      chan error

	// connectMu serializes Connect and Disconnect.
	connectMu sync.Mutex

	mu         sync.Mutex
	sock       Socket
	stop       chan struct{} // closed to end the current read loop
	pending    map[int64]*Call
	handler    EventHandler
	hubVersion string
	closed     bool
}

// NewClient creates a disconnected client. m may be nil.
func NewClient(cfg ClientConfig, m *metrics.Metrics, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.New(nil)
	}
	if cfg.MessageTimeout <= 0 {
		cfg.MessageTimeout = DefaultClientConfig().MessageTimeout
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultClientConfig().HandshakeTimeout
	}

	c := &Client{
		cfg:       cfg,
		logger:    logger,
		metrics:   m,
		limiter:   outbound.NewLimiter(cfg.RateLimit),
		newSocket: NewSocket,
		observers: newObservers(logger),
		lost:      make(chan error, 1),
		pending:   make(map[int64]*Call),
	}
	c.batcher = outbound.NewBatcher(cfg.Batch, c.writeBatch, logger.With("component", "batcher"))
	return c
}

// SetEventHandler installs the receiver of hub events.
func (c *Client) SetEventHandler(h EventHandler) {
	c.mu.Lock()
	c.handler = h
	c.mu.Unlock()
}

// OnState registers fn to run each time the connection enters state.
// It returns an id for RemoveObserver.
func (c *Client) OnState(state ConnectionState, fn StateObserver) int64 {
	return c.observers.add(state, fn)
}

// RemoveObserver unregisters an observer. Unknown ids are ignored.
func (c *Client) RemoveObserver(id int64) {
	c.observers.remove(id)
}

// State returns the current connection state.
func (c *Client) State() ConnectionState {
	return ConnectionState(c.state.Load())
}

// HubVersion returns the version reported in the last auth_ok.
func (c *Client) HubVersion() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hubVersion
}

// Lost delivers the cause each time an established connection drops.
func (c *Client) Lost() <-chan error {
	return c.lost
}

// Pending returns the number of requests awaiting a result.
func (c *Client) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Metrics returns the client's metrics.
func (c *Client) Metrics() *metrics.Metrics {
	return c.metrics
}

func (c *Client) setState(s ConnectionState) {
	if ConnectionState(c.state.Swap(int32(s))) == s {
		return
	}
	c.metrics.SetConnectionState(int(s))
	c.logger.Debug("connection state changed", "state", s)
	c.observers.notify(s)
}

// Connect dials the hub and completes the auth handshake. It is a no-op
// when already connected.
func (c *Client) Connect(ctx context.Context) error {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.sock != nil {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	c.setState(StateConnecting)

	sock := c.newSocket(c.cfg.Socket, c.logger)
	if err := sock.Connect(ctx); err != nil {
		c.setState(StateDisconnected)
		return err
	}

	version, err := c.handshake(ctx, sock)
	if err != nil {
		_ = sock.Close()
		c.setState(StateDisconnected)
		return err
	}

	stop := make(chan struct{})

	c.mu.Lock()
	c.sock = sock
	c.stop = stop
	c.hubVersion = version
	c.mu.Unlock()

	c.batcher.Reopen()
	go c.readLoop(sock, stop)

	c.logger.Info("connected to hub", "url", c.cfg.Socket.URL, "hub_version", version)
	c.setState(StateConnected)
	return nil
}

// handshake waits for auth_required, sends the access token and waits for
// the verdict, all within HandshakeTimeout.
func (c *Client) handshake(ctx context.Context, sock Socket) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.HandshakeTimeout)
	defer cancel()

	authSent := false
	for {
		var msg TimestampedMessage
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return "", ErrHandshakeTimeout
			}
			return "", ctx.Err()
		case err := <-sock.Errors():
			return "", err
		case msg = <-sock.Messages():
		}

		var env envelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			return "", &TransportError{Op: "handshake", Err: fmt.Errorf("decode %q: %w", msg.Data, err)}
		}

		switch env.Type {
		case TypeAuthRequired:
			if authSent {
				continue
			}
			data, err := json.Marshal(authMessage{Type: TypeAuth, AccessToken: c.cfg.AccessToken})
			if err != nil {
				return "", fmt.Errorf("encode auth: %w", err)
			}
			if err := sock.Send(data); err != nil {
				return "", err
			}
			authSent = true
		case TypeAuthOK:
			return env.HAVersion, nil
		case TypeAuthInvalid:
			return "", &AuthenticationError{Message: env.Message}
		default:
			c.logger.Debug("ignoring message during handshake", "type", env.Type)
		}
	}
}

// Go sends req and returns the in-flight call. A zero timeout uses
// MessageTimeout. Rate limited requests fail before an id is assigned.
func (c *Client) Go(req Request, timeout time.Duration) (*Call, error) {
	if timeout <= 0 {
		timeout = c.cfg.MessageTimeout
	}

	c.mu.Lock()
	closed, connected := c.closed, c.sock != nil
	c.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}
	if !connected {
		return nil, ErrNotConnected
	}

	if !c.limiter.Allow() {
		c.metrics.RateLimited()
		return nil, fmt.Errorf("send %s: %w", req.Type, outbound.ErrRateLimitExceeded)
	}

	id := c.nextID.Add(1)
	data, err := req.encode(id)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", req.Type, err)
	}

	call := newCall(id, req, timeout)

	c.mu.Lock()
	if c.sock == nil || c.closed {
		c.mu.Unlock()
		return nil, ErrNotConnected
	}
	c.pending[id] = call
	call.timer = time.AfterFunc(timeout, func() {
		c.complete(id, Result{ID: id}, fmt.Errorf("%s %d after %s: %w", req.Type, id, timeout, ErrMessageTimeout))
	})
	c.mu.Unlock()

	if err := c.batcher.Enqueue(data); err != nil {
		c.complete(id, Result{ID: id}, ErrNotConnected)
		return nil, ErrNotConnected
	}

	c.metrics.MessageSent()
	return call, nil
}

// Send sends req and waits for its result. Cancelling ctx abandons the
// call without affecting the connection.
func (c *Client) Send(ctx context.Context, req Request, timeout time.Duration) (Result, error) {
	call, err := c.Go(req, timeout)
	if err != nil {
		return Result{}, err
	}

	select {
	case <-call.Done:
		return call.Result, call.Error
	case <-ctx.Done():
		c.complete(call.ID, Result{ID: call.ID}, ctx.Err())
		return Result{}, ctx.Err()
	}
}

// Ping sends a protocol ping and returns the round trip time.
func (c *Client) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if _, err := c.Send(ctx, Request{Type: TypePing}, 0); err != nil {
		return 0, fmt.Errorf("ping: %w", err)
	}
	return time.Since(start), nil
}

// Disconnect closes the client for good. With force=false queued frames
// are flushed and in-flight calls may finish until ctx is done; with
// force=true queued frames are dropped and pending calls fail with ErrClosed.
func (c *Client) Disconnect(ctx context.Context, force bool) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	if force {
		if dropped := c.batcher.Discard(); len(dropped) > 0 {
			c.logger.Debug("discarded queued frames", "count", len(dropped))
		}
		c.batcher.Close()
	} else {
		c.batcher.Close()
		c.waitPending(ctx)
	}

	c.mu.Lock()
	sock, stop := c.sock, c.stop
	c.sock, c.stop = nil, nil
	c.mu.Unlock()

	c.failPending(ErrClosed)

	if stop != nil {
		close(stop)
	}
	if sock != nil {
		if err := sock.Close(); err != nil {
			c.logger.Debug("socket close", "error", err)
		}
	}

	c.setState(StateDisconnected)
	c.logger.Info("disconnected from hub", "force", force)
	return nil
}

// waitPending blocks until every call pending now has finished or ctx is done.
func (c *Client) waitPending(ctx context.Context) {
	c.mu.Lock()
	calls := make([]*Call, 0, len(c.pending))
	for _, call := range c.pending {
		calls = append(calls, call)
	}
	c.mu.Unlock()

	for _, call := range calls {
		select {
		case <-call.finished:
		case <-ctx.Done():
			c.logger.Warn("disconnect deadline reached with calls in flight", "pending", c.Pending())
			return
		}
	}
}

// complete resolves a pending call. Unknown ids are late or abandoned
// results and are ignored.
func (c *Client) complete(id int64, res Result, err error) bool {
	c.mu.Lock()
	call, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()

	if !ok {
		return false
	}
	call.finish(res, err)
	return true
}

func (c *Client) failPending(err error) {
	c.mu.Lock()
	calls := c.pending
	c.pending = make(map[int64]*Call)
	c.mu.Unlock()

	for _, call := range calls {
		call.finish(Result{ID: call.ID}, err)
	}
}

// writeBatch is the batcher's flush function.
func (c *Client) writeBatch(frames [][]byte) {
	c.metrics.BatchFlushed(len(frames))

	c.mu.Lock()
	sock := c.sock
	c.mu.Unlock()
	if sock == nil {
		return
	}

	for _, frame := range frames {
		if err := sock.Send(frame); err != nil {
			c.logger.Warn("write to hub failed", "error", err)
			c.connectionLost(sock, err)
			return
		}
	}
}

// readLoop dispatches inbound frames for one connection.
func (c *Client) readLoop(sock Socket, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case err := <-sock.Errors():
			c.connectionLost(sock, err)
			return
		case msg := <-sock.Messages():
			c.handleFrame(msg)
		}
	}
}

// connectionLost tears down sock if it is still the active connection.
func (c *Client) connectionLost(sock Socket, cause error) {
	c.mu.Lock()
	if c.sock != sock {
		c.mu.Unlock()
		return
	}
	stop := c.stop
	c.sock, c.stop = nil, nil
	c.mu.Unlock()

	close(stop)
	_ = sock.Close()

	if dropped := c.batcher.Discard(); len(dropped) > 0 {
		c.logger.Debug("discarded queued frames", "count", len(dropped))
	}

	var te *TransportError
	if !errors.As(cause, &te) {
		cause = &TransportError{Op: "read", Err: cause}
	}
	c.failPending(cause)

	c.logger.Warn("hub connection lost", "error", cause)
	c.setState(StateDisconnected)

	select {
	case c.lost <- cause:
	default:
	}
}

// handleFrame unpacks a frame, which may hold one message or a JSON array
// of coalesced messages.
func (c *Client) handleFrame(msg TimestampedMessage) {
	data := bytes.TrimSpace(msg.Data)
	if len(data) > 0 && data[0] == '[' {
		var batch []json.RawMessage
		if err := json.Unmarshal(data, &batch); err != nil {
			c.logger.Warn("failed to decode message batch", "error", err)
			return
		}
		for _, raw := range batch {
			c.dispatch(raw, msg.ReceivedAt)
		}
		return
	}
	c.dispatch(data, msg.ReceivedAt)
}

func (c *Client) dispatch(raw []byte, receivedAt time.Time) {
	c.metrics.MessageReceived()

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		c.logger.Warn("failed to decode hub message", "error", err)
		return
	}

	switch env.Type {
	case TypeResult:
		res := Result{
			ID:      env.ID,
			Success: env.Success != nil && *env.Success,
			Result:  env.Result,
			Error:   env.Error,
		}
		var err error
		if !res.Success {
			if res.Error == nil {
				res.Error = &HubError{Code: "unknown_error", Message: "request failed"}
			}
			err = res.Error
		}
		c.resolve(res, err)

	case TypePong:
		c.resolve(Result{ID: env.ID, Success: true}, nil)

	case TypeEvent:
		ev := Event{SubscriptionID: env.ID, ReceivedAt: receivedAt}
		if env.Event != nil {
			ev.EventType = env.Event.EventType
			ev.Data = env.Event.Data
			ev.Origin = env.Event.Origin
			ev.TimeFired = env.Event.TimeFired
		} else {
			ev.EventType = env.EventType
			ev.Data = env.Data
		}

		c.mu.Lock()
		h := c.handler
		c.mu.Unlock()
		if h != nil {
			h.HandleEvent(ev)
		}

	default:
		c.logger.Debug("ignoring hub message", "type", env.Type, "id", env.ID)
	}
}

// resolve completes a call from a hub reply and records its latency.
func (c *Client) resolve(res Result, err error) {
	c.mu.Lock()
	call, ok := c.pending[res.ID]
	c.mu.Unlock()
	if !ok {
		c.logger.Debug("result for unknown request", "id", res.ID)
		return
	}

	if c.complete(res.ID, res, err) {
		c.metrics.ObserveLatency(time.Since(call.IssuedAt))
	}
}
