package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// connWrapper wraps a WebSocket connection with its write mutex and the
// event subscriptions it holds
type connWrapper struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	subsMu sync.Mutex
	subs   map[int]string // subscribe_events id -> event type ("" is all)
}

func (w *connWrapper) write(v any) {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	w.conn.WriteJSON(v)
}

// MockHAServer simulates the Home Assistant websocket event bus: token
// auth, subscribe_events, unsubscribe_events and fire_event
type MockHAServer struct {
	server *httptest.Server
	token  string

	connections []*connWrapper
	connsMu     sync.Mutex

	fired   []FiredEvent
	firedMu sync.Mutex
}

// Message represents a WebSocket message
type Message struct {
	ID      int             `json:"id,omitempty"`
	Type    string          `json:"type"`
	Success *bool           `json:"success,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Event   *Event          `json:"event,omitempty"`
}

// Event represents a Home Assistant event
type Event struct {
	EventType string          `json:"event_type"`
	Data      json.RawMessage `json:"data"`
	Origin    string          `json:"origin"`
	TimeFired time.Time       `json:"time_fired"`
}

type request struct {
	ID           int            `json:"id"`
	Type         string         `json:"type"`
	AccessToken  string         `json:"access_token"`
	EventType    string         `json:"event_type"`
	EventData    map[string]any `json:"event_data"`
	Subscription int            `json:"subscription"`
}

// NewMockHAServer starts a mock HA server accepting token
func NewMockHAServer(token string) *MockHAServer {
	s := &MockHAServer{token: token}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/websocket", s.handleWebSocket)
	s.server = httptest.NewServer(mux)
	return s
}

// URL returns the websocket endpoint
func (s *MockHAServer) URL() string {
	return "ws" + strings.TrimPrefix(s.server.URL, "http") + "/api/websocket"
}

// Close drops every connection and stops the server
func (s *MockHAServer) Close() {
	s.DropConnections()
	s.server.Close()
}

// DropConnections closes every client connection, which makes clients
// reconnect
func (s *MockHAServer) DropConnections() {
	s.connsMu.Lock()
	conns := s.connections
	s.connections = nil
	s.connsMu.Unlock()

	for _, wrapper := range conns {
		wrapper.conn.Close()
	}
}

// Connections returns the number of authenticated connections
func (s *MockHAServer) Connections() int {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	return len(s.connections)
}

// SubscriptionCount returns how many subscriptions exist for eventType
// across all connections
func (s *MockHAServer) SubscriptionCount(eventType string) int {
	count := 0
	for _, wrapper := range s.snapshot() {
		wrapper.subsMu.Lock()
		for _, t := range wrapper.subs {
			if t == eventType {
				count++
			}
		}
		wrapper.subsMu.Unlock()
	}
	return count
}

// Emit broadcasts an event to every matching subscription
func (s *MockHAServer) Emit(eventType string, data any) {
	raw, _ := json.Marshal(data)
	event := &Event{
		EventType: eventType,
		Data:      raw,
		Origin:    "LOCAL",
		TimeFired: time.Now(),
	}

	for _, wrapper := range s.snapshot() {
		wrapper.subsMu.Lock()
		var ids []int
		for id, t := range wrapper.subs {
			if t == "" || t == eventType {
				ids = append(ids, id)
			}
		}
		wrapper.subsMu.Unlock()

		for _, id := range ids {
			wrapper.write(Message{ID: id, Type: "event", Event: event})
		}
	}
}

// FiredEvents returns all fire_event requests since the last clear
func (s *MockHAServer) FiredEvents() []FiredEvent {
	s.firedMu.Lock()
	defer s.firedMu.Unlock()
	events := make([]FiredEvent, len(s.fired))
	copy(events, s.fired)
	return events
}

// ClearFiredEvents resets the fired event log
func (s *MockHAServer) ClearFiredEvents() {
	s.firedMu.Lock()
	defer s.firedMu.Unlock()
	s.fired = nil
}

func (s *MockHAServer) snapshot() []*connWrapper {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	return append([]*connWrapper(nil), s.connections...)
}

// handleWebSocket handles WebSocket connections
func (s *MockHAServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	wrapper := &connWrapper{conn: conn, subs: make(map[int]string)}
	defer func() {
		s.connsMu.Lock()
		for i, c := range s.connections {
			if c == wrapper {
				s.connections = append(s.connections[:i], s.connections[i+1:]...)
				break
			}
		}
		s.connsMu.Unlock()
		conn.Close()
	}()

	wrapper.write(Message{Type: "auth_required"})

	var auth request
	if err := conn.ReadJSON(&auth); err != nil {
		return
	}
	if auth.Type != "auth" || auth.AccessToken != s.token {
		wrapper.write(Message{Type: "auth_invalid"})
		return
	}
	wrapper.write(Message{Type: "auth_ok"})

	s.connsMu.Lock()
	s.connections = append(s.connections, wrapper)
	s.connsMu.Unlock()

	for {
		var req request
		if err := conn.ReadJSON(&req); err != nil {
			return
		}

		switch req.Type {
		case "subscribe_events":
			wrapper.subsMu.Lock()
			wrapper.subs[req.ID] = req.EventType
			wrapper.subsMu.Unlock()
		case "unsubscribe_events":
			wrapper.subsMu.Lock()
			delete(wrapper.subs, req.Subscription)
			wrapper.subsMu.Unlock()
		case "fire_event":
			s.firedMu.Lock()
			s.fired = append(s.fired, FiredEvent{
				Timestamp: time.Now(),
				EventType: req.EventType,
				EventData: req.EventData,
			})
			s.firedMu.Unlock()
		}

		success := true
		wrapper.write(Message{ID: req.ID, Type: "result", Success: &success})

		if req.Type == "fire_event" {
			s.Emit(req.EventType, req.EventData)
		}
	}
}
