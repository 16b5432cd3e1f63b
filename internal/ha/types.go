package ha

import (
	"encoding/json"
	"time"
)

// Message represents a base WebSocket message to/from Home Assistant
type Message struct {
	ID      int             `json:"id,omitempty"`
	Type    string          `json:"type"`
	Success *bool           `json:"success,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
	Event   *Event          `json:"event,omitempty"`
}

// Error represents an error response from Home Assistant
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// AuthMessage represents authentication request
type AuthMessage struct {
	Type        string `json:"type"`
	AccessToken string `json:"access_token,omitempty"`
}

// Event is one message of the Home Assistant event bus
type Event struct {
	EventType string          `json:"event_type"`
	Data      json.RawMessage `json:"data"`
	Origin    string          `json:"origin"`
	TimeFired time.Time       `json:"time_fired"`
	Context   *Context        `json:"context,omitempty"`
}

// Decode unmarshals the event data into v
func (e Event) Decode(v any) error {
	return json.Unmarshal(e.Data, v)
}

// Context represents the context of an event
type Context struct {
	ID       string `json:"id"`
	ParentID string `json:"parent_id,omitempty"`
	UserID   string `json:"user_id,omitempty"`
}

// SubscribeEventsRequest represents a subscribe_events request
type SubscribeEventsRequest struct {
	ID        int    `json:"id"`
	Type      string `json:"type"`
	EventType string `json:"event_type,omitempty"`
}

// UnsubscribeEventsRequest cancels a subscribe_events request
type UnsubscribeEventsRequest struct {
	ID           int    `json:"id"`
	Type         string `json:"type"`
	Subscription int    `json:"subscription"`
}

// FireEventRequest puts an event on the bus
type FireEventRequest struct {
	ID        int    `json:"id"`
	Type      string `json:"type"`
	EventType string `json:"event_type"`
	EventData any    `json:"event_data,omitempty"`
}

// EventHandler is called for every event of a subscribed type
type EventHandler func(Event)

// Subscription represents an active event subscription
type Subscription interface {
	Unsubscribe() error
}

// subscription implements Subscription interface
type subscription struct {
	eventType string
	subID     int
	unsub     func(eventType string, subID int) error
}

func (s *subscription) Unsubscribe() error {
	return s.unsub(s.eventType, s.subID)
}
