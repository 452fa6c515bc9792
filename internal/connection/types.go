package connection

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hassdash/dashboard/internal/outbound"
)

// ConnectionState is the lifecycle state of the hub connection.
type ConnectionState int32

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return fmt.Sprintf("ConnectionState(%d)", int32(s))
	}
}

// Wire message types.
const (
	TypeAuthRequired = "auth_required"
	TypeAuth         = "auth"
	TypeAuthOK       = "auth_ok"
	TypeAuthInvalid  = "auth_invalid"
	TypeResult       = "result"
	TypeEvent        = "event"
	TypePing         = "ping"
	TypePong         = "pong"
)

// TimestampedMessage wraps raw message data with receive timestamp.
type TimestampedMessage struct {
	Data       []byte    // Raw frame bytes from WebSocket
	ReceivedAt time.Time // Local timestamp when ReadMessage() returned
}

// Request is an outbound command. Fields are merged into the envelope next
// to "type" and "id"; the id is assigned by the Client.
type Request struct {
	Type   string
	Fields map[string]any
}

// encode renders the request with its correlation id.
func (r Request) encode(id int64) ([]byte, error) {
	msg := make(map[string]any, len(r.Fields)+2)
	for k, v := range r.Fields {
		msg[k] = v
	}
	msg["type"] = r.Type
	msg["id"] = id
	return json.Marshal(msg)
}

// Result is the hub's reply to a request.
type Result struct {
	ID      int64
	Success bool
	Result  json.RawMessage
	Error   *HubError
}

// Decode unmarshals the result payload into v.
func (r Result) Decode(v any) error {
	if len(r.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Result, v); err != nil {
		return fmt.Errorf("decode result %d: %w", r.ID, err)
	}
	return nil
}

// Event is a pushed hub event.
type Event struct {
	SubscriptionID int64           // Id of the subscribe request, 0 if the hub omitted it
	EventType      string          // e.g. "state_changed"
	Data           json.RawMessage // Event-specific payload
	Origin         string
	TimeFired      time.Time
	ReceivedAt     time.Time
}

// envelope is the union of every inbound message shape.
type envelope struct {
	ID        int64           `json:"id,omitempty"`
	Type      string          `json:"type"`
	Success   *bool           `json:"success,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     *HubError       `json:"error,omitempty"`
	Event     *eventWire      `json:"event,omitempty"`
	EventType string          `json:"event_type,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	HAVersion string          `json:"ha_version,omitempty"`
	Message   string          `json:"message,omitempty"`
}

// eventWire is the nested event body.
type eventWire struct {
	EventType string          `json:"event_type"`
	Data      json.RawMessage `json:"data"`
	Origin    string          `json:"origin,omitempty"`
	TimeFired time.Time       `json:"time_fired,omitempty"`
}

// authMessage is sent in reply to auth_required.
type authMessage struct {
	Type        string `json:"type"`
	AccessToken string `json:"access_token"`
}

// SocketConfig configures a WebSocket socket.
type SocketConfig struct {
	URL              string        // WebSocket URL (e.g., ws://homeassistant.local:8123/api/websocket)
	HandshakeTimeout time.Duration // WebSocket upgrade timeout
	PingInterval     time.Duration // How often to send keepalive pings (0 disables)
	PingTimeout      time.Duration // Max time without pong before considering connection stale
	WriteTimeout     time.Duration // Write deadline for sends
	BufferSize       int           // Inbound message channel buffer size
}

// DefaultSocketConfig returns sensible defaults.
func DefaultSocketConfig() SocketConfig {
	return SocketConfig{
		HandshakeTimeout: 10 * time.Second,
		PingInterval:     20 * time.Second,
		PingTimeout:      60 * time.Second,
		WriteTimeout:     5 * time.Second,
		BufferSize:       1024,
	}
}

// ClientConfig configures the protocol client.
type ClientConfig struct {
	Socket           SocketConfig
	AccessToken      string                 // Long-lived hub access token
	HandshakeTimeout time.Duration          // auth_required -> auth_ok window
	MessageTimeout   time.Duration          // Default per-request timeout
	Batch            outbound.BatchConfig   // Outbound coalescing
	RateLimit        outbound.LimiterConfig // Outbound request cap
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Socket:           DefaultSocketConfig(),
		HandshakeTimeout: 5 * time.Second,
		MessageTimeout:   10 * time.Second,
		Batch:            outbound.DefaultBatchConfig(),
		RateLimit:        outbound.DefaultLimiterConfig(),
	}
}

// ManagerConfig configures the reconnection controller.
type ManagerConfig struct {
	ReconnectBaseWait  time.Duration // First retry delay; doubles per attempt
	ReconnectMaxWait   time.Duration // Backoff ceiling
	MaxAttempts        int           // Consecutive failures before giving up
	ResubscribeTimeout time.Duration // Budget for replaying subscriptions
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		ReconnectBaseWait:  1 * time.Second,
		ReconnectMaxWait:   30 * time.Second,
		MaxAttempts:        10,
		ResubscribeTimeout: 30 * time.Second,
	}
}
