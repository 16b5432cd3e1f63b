package ha

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// FiredEvent records a FireEvent call for testing
type FiredEvent struct {
	EventType string
	Data      any
	Time      time.Time
}

// MockClient implements EventBus in memory for testing
type MockClient struct {
	handlers  map[string][]handlerEntry
	nextSubID int
	subsMu    sync.RWMutex

	connected bool
	connMu    sync.RWMutex

	fired   []FiredEvent
	firedMu sync.Mutex

	// FireErr, when set, is returned by FireEvent
	FireErr error
}

// NewMockClient creates a new mock HA client
func NewMockClient() *MockClient {
	return &MockClient{handlers: make(map[string][]handlerEntry)}
}

// Connect simulates connecting to Home Assistant
func (m *MockClient) Connect() error {
	m.connMu.Lock()
	defer m.connMu.Unlock()

	if m.connected {
		return fmt.Errorf("already connected")
	}
	m.connected = true
	return nil
}

// Disconnect simulates disconnecting
func (m *MockClient) Disconnect() error {
	m.connMu.Lock()
	defer m.connMu.Unlock()
	m.connected = false
	return nil
}

// IsConnected returns connection status
func (m *MockClient) IsConnected() bool {
	m.connMu.RLock()
	defer m.connMu.RUnlock()
	return m.connected
}

// SubscribeEvents registers handler for eventType
func (m *MockClient) SubscribeEvents(eventType string, handler EventHandler) (Subscription, error) {
	if eventType == "" {
		return nil, fmt.Errorf("event type cannot be empty")
	}

	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	subID := m.nextSubID
	m.nextSubID++
	m.handlers[eventType] = append(m.handlers[eventType], handlerEntry{subID: subID, handler: handler})
	return &subscription{eventType: eventType, subID: subID, unsub: m.unsubscribe}, nil
}

func (m *MockClient) unsubscribe(eventType string, subID int) error {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()

	entries := m.handlers[eventType]
	for i, entry := range entries {
		if entry.subID == subID {
			m.handlers[eventType] = append(entries[:i:i], entries[i+1:]...)
			break
		}
	}
	if len(m.handlers[eventType]) == 0 {
		delete(m.handlers, eventType)
	}
	return nil
}

// FireEvent records the event
func (m *MockClient) FireEvent(eventType string, data any) error {
	if m.FireErr != nil {
		return m.FireErr
	}
	if !m.IsConnected() {
		return ErrNotConnected
	}

	m.firedMu.Lock()
	defer m.firedMu.Unlock()
	m.fired = append(m.fired, FiredEvent{EventType: eventType, Data: data, Time: time.Now()})
	return nil
}

// Fired returns a copy of every fired event
func (m *MockClient) Fired() []FiredEvent {
	m.firedMu.Lock()
	defer m.firedMu.Unlock()
	return append([]FiredEvent(nil), m.fired...)
}

// ClearFired drops the recorded events
func (m *MockClient) ClearFired() {
	m.firedMu.Lock()
	defer m.firedMu.Unlock()
	m.fired = nil
}

// HandlerCount returns the number of handlers for eventType
func (m *MockClient) HandlerCount(eventType string) int {
	m.subsMu.RLock()
	defer m.subsMu.RUnlock()
	return len(m.handlers[eventType])
}

// Emit delivers an event with data to the handlers of eventType
// synchronously
func (m *MockClient) Emit(eventType string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}

	m.subsMu.RLock()
	entries := append([]handlerEntry(nil), m.handlers[eventType]...)
	m.subsMu.RUnlock()

	event := Event{EventType: eventType, Data: raw, Origin: "LOCAL", TimeFired: time.Now()}
	for _, entry := range entries {
		entry.handler(event)
	}
	return nil
}
