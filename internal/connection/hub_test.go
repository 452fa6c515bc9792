package connection

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hassdash/dashboard/internal/outbound"
)

const testToken = "secret-token"

// hubConn is one server side connection of the fake hub.
type hubConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *hubConn) send(v any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.WriteJSON(v)
}

func (c *hubConn) sendRaw(data string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.WriteMessage(websocket.TextMessage, []byte(data))
}

func (c *hubConn) close() {
	_ = c.conn.Close()
}

func (c *hubConn) reply(id int64, result any) {
	c.send(map[string]any{"id": id, "type": "result", "success": true, "result": result})
}

// fakeHub speaks the server side of the hub protocol.
type fakeHub struct {
	server *httptest.Server

	// skipAuthRequired leaves the client waiting for the handshake.
	skipAuthRequired bool
	// onConnect runs after auth_ok with the connection number (1 based).
	onConnect func(c *hubConn, n int)
	// onMessage runs for every request after auth.
	onMessage func(c *hubConn, msg map[string]any)
	// reject refuses the upgrade for dial attempt n (1 based).
	reject func(n int) bool

	attempts atomic.Int32
	conns    atomic.Int32
}

// mockHub starts a fake hub. Configure it with the options before the
// first connection.
func mockHub(t *testing.T, opts ...func(*fakeHub)) *fakeHub {
	t.Helper()

	h := &fakeHub{}
	for _, opt := range opts {
		opt(h)
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	h.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if n := int(h.attempts.Add(1)); h.reject != nil && h.reject(n) {
			http.Error(w, "hub starting", http.StatusServiceUnavailable)
			return
		}
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer ws.Close()
		h.serve(&hubConn{conn: ws}, int(h.conns.Add(1)))
	}))
	t.Cleanup(h.server.Close)

	return h
}

func (h *fakeHub) serve(c *hubConn, n int) {
	if h.skipAuthRequired {
		for {
			if _, _, err := c.conn.ReadMessage(); err != nil {
				return
			}
		}
	}

	c.send(map[string]any{"type": "auth_required", "ha_version": "2024.6.0"})

	var auth map[string]any
	if err := c.conn.ReadJSON(&auth); err != nil {
		return
	}
	if auth["type"] != "auth" || auth["access_token"] != testToken {
		c.send(map[string]any{"type": "auth_invalid", "message": "Invalid access token"})
		return
	}
	c.send(map[string]any{"type": "auth_ok", "ha_version": "2024.6.0"})

	if h.onConnect != nil {
		h.onConnect(c, n)
	}

	for {
		var msg map[string]any
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}
		if msg["type"] == "ping" {
			c.send(map[string]any{"id": msgID(msg), "type": "pong"})
			continue
		}
		if h.onMessage != nil {
			h.onMessage(c, msg)
		}
	}
}

func (h *fakeHub) URL() string {
	return "ws" + strings.TrimPrefix(h.server.URL, "http")
}

func msgID(msg map[string]any) int64 {
	f, _ := msg["id"].(float64)
	return int64(f)
}

func testClientConfig(url string) ClientConfig {
	cfg := DefaultClientConfig()
	cfg.Socket.URL = url
	cfg.Socket.PingInterval = 0
	cfg.AccessToken = testToken
	cfg.HandshakeTimeout = 2 * time.Second
	cfg.MessageTimeout = 2 * time.Second
	cfg.Batch = outbound.BatchConfig{MaxBatchSize: 10, FlushInterval: 5 * time.Millisecond}
	return cfg
}
