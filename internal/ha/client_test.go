package ha

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// mockHAServer creates a mock Home Assistant WebSocket server
func mockHAServer(t *testing.T, handler func(*websocket.Conn)) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("Failed to upgrade connection: %v", err)
			return
		}
		defer conn.Close()

		handler(conn)
	}))
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

// standardAuthFlow handles the standard authentication flow
func standardAuthFlow(t *testing.T, conn *websocket.Conn, token string) {
	assert.NoError(t, conn.WriteJSON(Message{Type: "auth_required"}))

	var authMsg AuthMessage
	assert.NoError(t, conn.ReadJSON(&authMsg))
	assert.Equal(t, "auth", authMsg.Type)
	assert.Equal(t, token, authMsg.AccessToken)

	assert.NoError(t, conn.WriteJSON(Message{Type: "auth_ok"}))
}

func reply(conn *websocket.Conn, id int) {
	success := true
	conn.WriteJSON(Message{ID: id, Type: "result", Success: &success})
}

// drain keeps the connection open until the client goes away
func drain(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func newTestClient(server *httptest.Server, token string) *Client {
	client := NewClient(wsURL(server), token, zap.NewNop())
	client.timeout = time.Second
	client.backoff = 10 * time.Millisecond
	return client
}

func TestClient_Connect(t *testing.T) {
	token := "test_token"

	t.Run("successful connection", func(t *testing.T) {
		server := mockHAServer(t, func(conn *websocket.Conn) {
			standardAuthFlow(t, conn, token)
			drain(conn)
		})
		defer server.Close()

		client := newTestClient(server, token)
		require.NoError(t, client.Connect())
		assert.True(t, client.IsConnected())

		require.NoError(t, client.Disconnect())
		assert.False(t, client.IsConnected())
	})

	t.Run("invalid token", func(t *testing.T) {
		server := mockHAServer(t, func(conn *websocket.Conn) {
			conn.WriteJSON(Message{Type: "auth_required"})
			var authMsg AuthMessage
			conn.ReadJSON(&authMsg)
			conn.WriteJSON(Message{Type: "auth_invalid"})
		})
		defer server.Close()

		client := newTestClient(server, "wrong_token")
		err := client.Connect()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "authentication failed")
		assert.False(t, client.IsConnected())
	})

	t.Run("unexpected greeting", func(t *testing.T) {
		server := mockHAServer(t, func(conn *websocket.Conn) {
			conn.WriteJSON(Message{Type: "hello"})
		})
		defer server.Close()

		err := newTestClient(server, token).Connect()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "expected auth_required")
	})

	t.Run("already connected", func(t *testing.T) {
		server := mockHAServer(t, func(conn *websocket.Conn) {
			standardAuthFlow(t, conn, token)
			drain(conn)
		})
		defer server.Close()

		client := newTestClient(server, token)
		require.NoError(t, client.Connect())
		defer client.Disconnect()

		err := client.Connect()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "already connected")
	})
}

func TestClient_SubscribeEvents(t *testing.T) {
	token := "test_token"
	requests := make(chan SubscribeEventsRequest, 1)

	server := mockHAServer(t, func(conn *websocket.Conn) {
		standardAuthFlow(t, conn, token)

		var sub SubscribeEventsRequest
		if err := conn.ReadJSON(&sub); err != nil {
			return
		}
		requests <- sub
		reply(conn, sub.ID)

		conn.WriteJSON(map[string]any{
			"id":   sub.ID,
			"type": "event",
			"event": map[string]any{
				"event_type": "goodhome_identify_device",
				"data":       map[string]any{"device_id": "d1"},
				"origin":     "LOCAL",
				"time_fired": "2026-01-02T03:04:05Z",
			},
		})
		drain(conn)
	})
	defer server.Close()

	client := newTestClient(server, token)
	require.NoError(t, client.Connect())
	defer client.Disconnect()

	events := make(chan Event, 1)
	_, err := client.SubscribeEvents("goodhome_identify_device", func(e Event) {
		events <- e
	})
	require.NoError(t, err)

	sub := <-requests
	assert.Equal(t, "subscribe_events", sub.Type)
	assert.Equal(t, "goodhome_identify_device", sub.EventType)

	select {
	case e := <-events:
		var data struct {
			DeviceID string `json:"device_id"`
		}
		require.NoError(t, e.Decode(&data))
		assert.Equal(t, "d1", data.DeviceID)
		assert.Equal(t, "LOCAL", e.Origin)
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}
}

func TestClient_SubscribeEvents_EmptyType(t *testing.T) {
	client := NewClient("ws://unused", "token", zap.NewNop())
	_, err := client.SubscribeEvents("", func(Event) {})
	assert.Error(t, err)
}

func TestClient_SubscribeBeforeConnect(t *testing.T) {
	token := "test_token"
	requests := make(chan SubscribeEventsRequest, 1)

	server := mockHAServer(t, func(conn *websocket.Conn) {
		standardAuthFlow(t, conn, token)
		var sub SubscribeEventsRequest
		if err := conn.ReadJSON(&sub); err != nil {
			return
		}
		requests <- sub
		reply(conn, sub.ID)
		drain(conn)
	})
	defer server.Close()

	client := newTestClient(server, token)
	_, err := client.SubscribeEvents("goodhome_identify_device", func(Event) {})
	require.NoError(t, err)

	require.NoError(t, client.Connect())
	defer client.Disconnect()

	select {
	case sub := <-requests:
		assert.Equal(t, "goodhome_identify_device", sub.EventType)
	case <-time.After(2 * time.Second):
		t.Fatal("subscription not sent on connect")
	}
}

func TestClient_Unsubscribe(t *testing.T) {
	token := "test_token"
	subscribed := make(chan int, 1)
	unsubscribed := make(chan UnsubscribeEventsRequest, 1)

	server := mockHAServer(t, func(conn *websocket.Conn) {
		standardAuthFlow(t, conn, token)

		var sub SubscribeEventsRequest
		if err := conn.ReadJSON(&sub); err != nil {
			return
		}
		subscribed <- sub.ID
		reply(conn, sub.ID)

		var unsub UnsubscribeEventsRequest
		if err := conn.ReadJSON(&unsub); err != nil {
			return
		}
		unsubscribed <- unsub
		reply(conn, unsub.ID)
		drain(conn)
	})
	defer server.Close()

	client := newTestClient(server, token)
	require.NoError(t, client.Connect())
	defer client.Disconnect()

	first, err := client.SubscribeEvents("custom", func(Event) {})
	require.NoError(t, err)
	second, err := client.SubscribeEvents("custom", func(Event) {})
	require.NoError(t, err)
	subID := <-subscribed

	// The server subscription stays while a handler remains
	require.NoError(t, first.Unsubscribe())
	require.NoError(t, second.Unsubscribe())

	select {
	case unsub := <-unsubscribed:
		assert.Equal(t, "unsubscribe_events", unsub.Type)
		assert.Equal(t, subID, unsub.Subscription)
	case <-time.After(2 * time.Second):
		t.Fatal("unsubscribe_events not sent")
	}
}

func TestClient_FireEvent(t *testing.T) {
	token := "test_token"
	requests := make(chan FireEventRequest, 1)

	server := mockHAServer(t, func(conn *websocket.Conn) {
		standardAuthFlow(t, conn, token)

		var raw struct {
			ID        int            `json:"id"`
			Type      string         `json:"type"`
			EventType string         `json:"event_type"`
			EventData map[string]any `json:"event_data"`
		}
		if err := conn.ReadJSON(&raw); err != nil {
			return
		}
		requests <- FireEventRequest{ID: raw.ID, Type: raw.Type, EventType: raw.EventType, EventData: raw.EventData}
		reply(conn, raw.ID)
		drain(conn)
	})
	defer server.Close()

	client := newTestClient(server, token)
	require.NoError(t, client.Connect())
	defer client.Disconnect()

	err := client.FireEvent("goodhome_command_result", map[string]any{"outcome": "confirmed"})
	require.NoError(t, err)

	req := <-requests
	assert.Equal(t, "fire_event", req.Type)
	assert.Equal(t, "goodhome_command_result", req.EventType)
	assert.Equal(t, map[string]any{"outcome": "confirmed"}, req.EventData)
}

func TestClient_FireEvent_Errors(t *testing.T) {
	token := "test_token"

	t.Run("not connected", func(t *testing.T) {
		client := NewClient("ws://unused", token, zap.NewNop())
		err := client.FireEvent("custom", nil)
		assert.ErrorIs(t, err, ErrNotConnected)
	})

	t.Run("error result", func(t *testing.T) {
		server := mockHAServer(t, func(conn *websocket.Conn) {
			standardAuthFlow(t, conn, token)
			var req FireEventRequest
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			failed := false
			conn.WriteJSON(Message{
				ID:      req.ID,
				Type:    "result",
				Success: &failed,
				Error:   &Error{Code: "unauthorized", Message: "Unauthorized"},
			})
			drain(conn)
		})
		defer server.Close()

		client := newTestClient(server, token)
		require.NoError(t, client.Connect())
		defer client.Disconnect()

		err := client.FireEvent("custom", nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unauthorized")
	})

	t.Run("timeout", func(t *testing.T) {
		server := mockHAServer(t, func(conn *websocket.Conn) {
			standardAuthFlow(t, conn, token)
			drain(conn)
		})
		defer server.Close()

		client := newTestClient(server, token)
		client.timeout = 50 * time.Millisecond
		require.NoError(t, client.Connect())
		defer client.Disconnect()

		err := client.FireEvent("custom", nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "timeout")
	})
}

func TestClient_ReconnectRestoresSubscriptions(t *testing.T) {
	token := "test_token"
	var connections atomic.Int32
	resubscribed := make(chan string, 1)

	server := mockHAServer(t, func(conn *websocket.Conn) {
		n := connections.Add(1)
		standardAuthFlow(t, conn, token)

		var sub SubscribeEventsRequest
		if err := conn.ReadJSON(&sub); err != nil {
			return
		}
		reply(conn, sub.ID)
		if n == 1 {
			// Drop the first connection
			return
		}
		resubscribed <- sub.EventType
		drain(conn)
	})
	defer server.Close()

	client := newTestClient(server, token)
	_, err := client.SubscribeEvents("goodhome_identify_device", func(Event) {})
	require.NoError(t, err)
	require.NoError(t, client.Connect())
	defer client.Disconnect()

	select {
	case eventType := <-resubscribed:
		assert.Equal(t, "goodhome_identify_device", eventType)
	case <-time.After(3 * time.Second):
		t.Fatal("client did not reconnect")
	}
	assert.Eventually(t, client.IsConnected, time.Second, 10*time.Millisecond)
}

func TestMockClient(t *testing.T) {
	mock := NewMockClient()

	t.Run("connection", func(t *testing.T) {
		assert.False(t, mock.IsConnected())
		require.NoError(t, mock.Connect())
		assert.True(t, mock.IsConnected())
		assert.Error(t, mock.Connect())
		require.NoError(t, mock.Disconnect())
		assert.False(t, mock.IsConnected())
	})

	t.Run("fire requires connection", func(t *testing.T) {
		assert.ErrorIs(t, mock.FireEvent("custom", nil), ErrNotConnected)
		require.NoError(t, mock.Connect())
		defer mock.Disconnect()

		require.NoError(t, mock.FireEvent("custom", map[string]any{"a": 1}))
		fired := mock.Fired()
		require.Len(t, fired, 1)
		assert.Equal(t, "custom", fired[0].EventType)

		mock.ClearFired()
		assert.Empty(t, mock.Fired())
	})

	t.Run("emit and unsubscribe", func(t *testing.T) {
		var got []string
		sub, err := mock.SubscribeEvents("custom", func(e Event) {
			var data struct {
				DeviceID string `json:"device_id"`
			}
			require.NoError(t, e.Decode(&data))
			got = append(got, data.DeviceID)
		})
		require.NoError(t, err)
		assert.Equal(t, 1, mock.HandlerCount("custom"))

		require.NoError(t, mock.Emit("custom", map[string]any{"device_id": "d1"}))
		require.NoError(t, sub.Unsubscribe())
		require.NoError(t, mock.Emit("custom", map[string]any{"device_id": "d2"}))

		assert.Equal(t, []string{"d1"}, got)
		assert.Equal(t, 0, mock.HandlerCount("custom"))
	})
}
