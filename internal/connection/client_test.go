package connection

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hassdash/dashboard/internal/outbound"
)

func connectClient(t *testing.T, cfg ClientConfig) *Client {
	t.Helper()

	client := NewClient(cfg, nil, nil)
	require.NoError(t, client.Connect(context.Background()))
	t.Cleanup(func() {
		_ = client.Disconnect(context.Background(), true)
	})
	return client
}

func TestClient_Connect(t *testing.T) {
	hub := mockHub(t)
	client := NewClient(testClientConfig(hub.URL()), nil, nil)

	var states []ConnectionState
	var mu sync.Mutex
	for _, s := range []ConnectionState{StateConnecting, StateConnected, StateDisconnected} {
		client.OnState(s, func(s ConnectionState) {
			mu.Lock()
			states = append(states, s)
			mu.Unlock()
		})
	}

	require.NoError(t, client.Connect(context.Background()))
	assert.Equal(t, StateConnected, client.State())
	assert.Equal(t, "2024.6.0", client.HubVersion())

	// Connecting twice is a no-op.
	require.NoError(t, client.Connect(context.Background()))
	assert.Equal(t, int32(1), hub.conns.Load())

	require.NoError(t, client.Disconnect(context.Background(), false))
	assert.Equal(t, StateDisconnected, client.State())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []ConnectionState{StateConnecting, StateConnected, StateDisconnected}, states)
}

func TestClient_ConnectAuthInvalid(t *testing.T) {
	hub := mockHub(t)
	cfg := testClientConfig(hub.URL())
	cfg.AccessToken = "wrong"

	client := NewClient(cfg, nil, nil)
	err := client.Connect(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAuthentication)
	var authErr *AuthenticationError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "Invalid access token", authErr.Message)
	assert.Equal(t, StateDisconnected, client.State())
}

func TestClient_ConnectHandshakeTimeout(t *testing.T) {
	hub := mockHub(t, func(h *fakeHub) { h.skipAuthRequired = true })
	cfg := testClientConfig(hub.URL())
	cfg.HandshakeTimeout = 50 * time.Millisecond

	client := NewClient(cfg, nil, nil)
	err := client.Connect(context.Background())

	assert.ErrorIs(t, err, ErrHandshakeTimeout)
	assert.Equal(t, StateDisconnected, client.State())
}

func TestClient_ConnectTransportError(t *testing.T) {
	hub := mockHub(t)
	url := hub.URL()
	hub.server.Close()

	client := NewClient(testClientConfig(url), nil, nil)
	err := client.Connect(context.Background())

	assert.ErrorIs(t, err, ErrTransport)
	assert.False(t, IsTransient(&AuthenticationError{}))
	assert.True(t, IsTransient(err))
}

func TestClient_ResultsMatchedByIDOutOfOrder(t *testing.T) {
	const n = 5

	var mu sync.Mutex
	var held []map[string]any
	hub := mockHub(t, func(h *fakeHub) {
		h.onMessage = func(c *hubConn, msg map[string]any) {
			mu.Lock()
			held = append(held, msg)
			batch := held
			if len(batch) == n {
				held = nil
			}
			mu.Unlock()

			if len(batch) < n {
				return
			}
			// Reply in reverse arrival order.
			for i := len(batch) - 1; i >= 0; i-- {
				c.reply(msgID(batch[i]), map[string]any{"echo": batch[i]["n"]})
			}
		}
	})
	client := connectClient(t, testClientConfig(hub.URL()))

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := client.Send(context.Background(), Request{
				Type:   "echo",
				Fields: map[string]any{"n": i},
			}, 0)
			if err != nil {
				errs <- err
				return
			}
			var out struct{ Echo int }
			if err := res.Decode(&out); err != nil {
				errs <- err
				return
			}
			if out.Echo != i {
				errs <- errors.New("mismatched result")
			}
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, 0, client.Pending())
	snap := client.Metrics().Snapshot()
	assert.Equal(t, int64(n), snap.MessagesSent)
	assert.Greater(t, snap.LastLatency, time.Duration(0))
}

func TestClient_IDsIncrease(t *testing.T) {
	ids := make(chan int64, 3)
	hub := mockHub(t, func(h *fakeHub) {
		h.onMessage = func(c *hubConn, msg map[string]any) {
			ids <- msgID(msg)
			c.reply(msgID(msg), nil)
		}
	})
	client := connectClient(t, testClientConfig(hub.URL()))

	for i := 0; i < 3; i++ {
		_, err := client.Send(context.Background(), Request{Type: "get_config"}, 0)
		require.NoError(t, err)
	}

	assert.Equal(t, int64(1), <-ids)
	assert.Equal(t, int64(2), <-ids)
	assert.Equal(t, int64(3), <-ids)
}

func TestClient_MessageTimeoutKeepsConnection(t *testing.T) {
	hub := mockHub(t) // never answers requests, only pings
	client := connectClient(t, testClientConfig(hub.URL()))

	start := time.Now()
	_, err := client.Send(context.Background(), Request{Type: "get_states"}, 50*time.Millisecond)

	assert.ErrorIs(t, err, ErrMessageTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	assert.Equal(t, 0, client.Pending())
	assert.Equal(t, StateConnected, client.State())

	rtt, err := client.Ping(context.Background())
	require.NoError(t, err)
	assert.Greater(t, rtt, time.Duration(0))
}

func TestClient_SendContextCancelAbandonsCall(t *testing.T) {
	hub := mockHub(t)
	client := connectClient(t, testClientConfig(hub.URL()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := client.Send(ctx, Request{Type: "get_states"}, time.Minute)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, client.Pending())
}

func TestClient_HubError(t *testing.T) {
	hub := mockHub(t, func(h *fakeHub) {
		h.onMessage = func(c *hubConn, msg map[string]any) {
			c.send(map[string]any{
				"id":      msgID(msg),
				"type":    "result",
				"success": false,
				"error":   map[string]any{"code": "not_found", "message": "Service not found."},
			})
		}
	})
	client := connectClient(t, testClientConfig(hub.URL()))

	_, err := client.Send(context.Background(), Request{Type: "call_service"}, 0)

	var hubErr *HubError
	require.ErrorAs(t, err, &hubErr)
	assert.Equal(t, "not_found", hubErr.Code)
	assert.False(t, IsTransient(err))
}

func TestClient_RateLimitedFailsFast(t *testing.T) {
	hub := mockHub(t, func(h *fakeHub) {
		h.onMessage = func(c *hubConn, msg map[string]any) {
			c.reply(msgID(msg), nil)
		}
	})
	cfg := testClientConfig(hub.URL())
	cfg.RateLimit = outbound.LimiterConfig{Limit: 2, Window: time.Minute}
	client := connectClient(t, cfg)

	for i := 0; i < 2; i++ {
		_, err := client.Send(context.Background(), Request{Type: "get_states"}, 0)
		require.NoError(t, err)
	}

	_, err := client.Send(context.Background(), Request{Type: "get_states"}, 0)
	assert.ErrorIs(t, err, outbound.ErrRateLimitExceeded)
	assert.Equal(t, int64(2), client.nextID.Load(), "rejected request must not consume an id")

	snap := client.Metrics().Snapshot()
	assert.Equal(t, int64(2), snap.MessagesSent)
	assert.Equal(t, int64(1), snap.RateLimited)
}

func TestClient_EventDispatchPreservesOrder(t *testing.T) {
	hub := mockHub(t, func(h *fakeHub) {
		h.onConnect = func(c *hubConn, _ int) {
			go func() {
				c.send(map[string]any{
					"id":   7,
					"type": "event",
					"event": map[string]any{
						"event_type": "state_changed",
						"data":       map[string]any{"seq": 1},
						"time_fired": "2024-06-01T12:00:00.000000+00:00",
						"origin":     "LOCAL",
					},
				})
				c.send(map[string]any{"type": "event", "event_type": "state_changed", "data": map[string]any{"seq": 2}})
				c.sendRaw(`[{"id":7,"type":"event","event":{"event_type":"state_changed","data":{"seq":3}}},` +
					`{"id":7,"type":"event","event":{"event_type":"state_changed","data":{"seq":4}}}]`)
			}()
		}
	})

	events := make(chan Event, 4)
	client := NewClient(testClientConfig(hub.URL()), nil, nil)
	client.SetEventHandler(EventHandlerFunc(func(ev Event) { events <- ev }))
	require.NoError(t, client.Connect(context.Background()))
	t.Cleanup(func() { _ = client.Disconnect(context.Background(), true) })

	for want := 1; want <= 4; want++ {
		select {
		case ev := <-events:
			var data struct{ Seq int }
			require.NoError(t, json.Unmarshal(ev.Data, &data))
			assert.Equal(t, want, data.Seq)
			assert.Equal(t, "state_changed", ev.EventType)
			if want == 1 {
				assert.Equal(t, int64(7), ev.SubscriptionID)
				assert.Equal(t, "LOCAL", ev.Origin)
				assert.False(t, ev.TimeFired.IsZero())
			}
			if want == 2 {
				assert.Equal(t, int64(0), ev.SubscriptionID)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for event %d", want)
		}
	}
	assert.Equal(t, int64(4), client.Metrics().Snapshot().MessagesReceived)
}

func TestClient_ConnectionLossFailsPending(t *testing.T) {
	hub := mockHub(t, func(h *fakeHub) {
		h.onMessage = func(c *hubConn, msg map[string]any) {
			c.close()
		}
	})
	client := connectClient(t, testClientConfig(hub.URL()))

	_, err := client.Send(context.Background(), Request{Type: "get_states"}, 0)
	assert.ErrorIs(t, err, ErrTransport)

	select {
	case cause := <-client.Lost():
		assert.ErrorIs(t, cause, ErrTransport)
	case <-time.After(2 * time.Second):
		t.Fatal("no loss notification")
	}
	assert.Equal(t, StateDisconnected, client.State())

	_, err = client.Send(context.Background(), Request{Type: "get_states"}, 0)
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestClient_DisconnectForceFailsPending(t *testing.T) {
	received := make(chan struct{}, 1)
	hub := mockHub(t, func(h *fakeHub) {
		h.onMessage = func(c *hubConn, msg map[string]any) {
			received <- struct{}{}
		}
	})
	client := connectClient(t, testClientConfig(hub.URL()))

	call, err := client.Go(Request{Type: "get_states"}, time.Minute)
	require.NoError(t, err)
	<-received

	require.NoError(t, client.Disconnect(context.Background(), true))

	done := <-call.Done
	assert.ErrorIs(t, done.Error, ErrClosed)
	assert.Equal(t, 0, client.Pending())

	_, err = client.Go(Request{Type: "get_states"}, 0)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, client.Connect(context.Background()), ErrClosed)
}

func TestClient_DisconnectGracefulWaitsForInFlight(t *testing.T) {
	hub := mockHub(t, func(h *fakeHub) {
		h.onMessage = func(c *hubConn, msg map[string]any) {
			go func() {
				time.Sleep(50 * time.Millisecond)
				c.reply(msgID(msg), "late but fine")
			}()
		}
	})
	cfg := testClientConfig(hub.URL())
	cfg.Batch.FlushInterval = time.Hour // only Disconnect flushes
	client := NewClient(cfg, nil, nil)
	require.NoError(t, client.Connect(context.Background()))

	call, err := client.Go(Request{Type: "get_states"}, 0)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, client.Disconnect(ctx, false))

	res, err := call.Wait(context.Background())
	require.NoError(t, err)
	var s string
	require.NoError(t, res.Decode(&s))
	assert.Equal(t, "late but fine", s)
}

func TestConnectionState_String(t *testing.T) {
	assert.Equal(t, "disconnected", StateDisconnected.String())
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "connected", StateConnected.String())
	assert.Equal(t, "reconnecting", StateReconnecting.String())
	assert.Equal(t, "ConnectionState(9)", ConnectionState(9).String())
}

func TestRequest_Encode(t *testing.T) {
	data, err := Request{
		Type:   "subscribe_events",
		Fields: map[string]any{"event_type": "state_changed", "id": 99},
	}.encode(3)
	require.NoError(t, err)

	var msg map[string]any
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, "subscribe_events", msg["type"])
	assert.Equal(t, float64(3), msg["id"], "assigned id wins over fields")
	assert.Equal(t, "state_changed", msg["event_type"])
}
