// Package ha is a client for the Home Assistant websocket event bus. It
// authenticates with a long-lived token, subscribes to event types, fires
// events and reconnects with backoff, restoring its subscriptions.
package ha

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ErrNotConnected is returned for requests made while disconnected
var ErrNotConnected = errors.New("ha: not connected")

const (
	defaultTimeout    = 10 * time.Second
	defaultBackoff    = time.Second
	defaultMaxBackoff = 30 * time.Second
)

// EventBus defines the event operations of the Home Assistant client
type EventBus interface {
	Connect() error
	Disconnect() error
	IsConnected() bool
	SubscribeEvents(eventType string, handler EventHandler) (Subscription, error)
	FireEvent(eventType string, data any) error
}

// handlerEntry holds a handler with its unique subscription ID
type handlerEntry struct {
	subID   int
	handler EventHandler
}

// Client implements EventBus over the websocket API
type Client struct {
	url    string
	token  string
	logger *zap.Logger

	conn      *websocket.Conn
	connected bool
	connMu    sync.RWMutex
	writeMu   sync.Mutex // Protects websocket writes

	msgID   int
	msgIDMu sync.Mutex

	pending   map[int]chan Message
	pendingMu sync.Mutex

	handlers   map[string][]handlerEntry
	serverSubs map[string]int // event type -> subscribe_events id
	nextSubID  int
	subsMu     sync.Mutex

	ctx       context.Context
	cancel    context.CancelFunc
	reconnect bool

	timeout    time.Duration
	backoff    time.Duration
	maxBackoff time.Duration
}

// NewClient creates a new Home Assistant WebSocket client
func NewClient(url, token string, logger *zap.Logger) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		url:        url,
		token:      token,
		logger:     logger,
		pending:    make(map[int]chan Message),
		handlers:   make(map[string][]handlerEntry),
		serverSubs: make(map[string]int),
		ctx:        ctx,
		cancel:     cancel,
		reconnect:  true,
		timeout:    defaultTimeout,
		backoff:    defaultBackoff,
		maxBackoff: defaultMaxBackoff,
	}
}

func (c *Client) resetContextLocked() {
	if c.cancel != nil {
		c.cancel()
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
}

// Connect establishes WebSocket connection, authenticates and subscribes
// to every event type that has handlers
func (c *Client) Connect() error {
	c.connMu.Lock()

	if c.connected {
		c.connMu.Unlock()
		return fmt.Errorf("already connected")
	}

	conn, _, err := websocket.DefaultDialer.Dial(c.url, nil)
	if err != nil {
		c.connMu.Unlock()
		return fmt.Errorf("failed to connect to WebSocket: %w", err)
	}

	if err := c.authenticate(conn); err != nil {
		conn.Close()
		c.connMu.Unlock()
		return err
	}

	c.conn = conn
	c.resetContextLocked()
	c.connected = true
	c.reconnect = true
	c.logger.Info("Connected to Home Assistant")

	go c.receiveMessages(conn)

	// Release lock before subscribing to avoid deadlock
	c.connMu.Unlock()

	c.restoreSubscriptions()
	return nil
}

func (c *Client) authenticate(conn *websocket.Conn) error {
	var authRequired Message
	if err := conn.ReadJSON(&authRequired); err != nil {
		return fmt.Errorf("failed to read auth_required: %w", err)
	}
	if authRequired.Type != "auth_required" {
		return fmt.Errorf("expected auth_required, got %s", authRequired.Type)
	}

	c.writeMu.Lock()
	err := conn.WriteJSON(AuthMessage{Type: "auth", AccessToken: c.token})
	c.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to send auth: %w", err)
	}

	var authResponse Message
	if err := conn.ReadJSON(&authResponse); err != nil {
		return fmt.Errorf("failed to read auth response: %w", err)
	}
	switch authResponse.Type {
	case "auth_ok":
		return nil
	case "auth_invalid":
		return fmt.Errorf("authentication failed: invalid token")
	}
	return fmt.Errorf("expected auth_ok, got %s", authResponse.Type)
}

// Disconnect closes the WebSocket connection. Handlers are kept and
// resubscribed by the next Connect.
func (c *Client) Disconnect() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	// Also stops a pending reconnect loop
	c.reconnect = false
	c.cancel()

	if !c.connected {
		return nil
	}
	c.connected = false

	if c.conn != nil {
		c.writeMu.Lock()
		c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()

		c.conn.Close()
		c.conn = nil
	}

	c.subsMu.Lock()
	c.serverSubs = make(map[string]int)
	c.subsMu.Unlock()

	c.logger.Info("Disconnected from Home Assistant")
	return nil
}

// IsConnected returns true if client is connected
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected
}

func (c *Client) nextMsgID() int {
	c.msgIDMu.Lock()
	defer c.msgIDMu.Unlock()
	c.msgID++
	return c.msgID
}

// sendMessage sends msg, whose id is msgID, and waits for the result
func (c *Client) sendMessage(msgID int, msg any) (*Message, error) {
	c.connMu.RLock()
	if !c.connected {
		c.connMu.RUnlock()
		return nil, ErrNotConnected
	}
	conn, ctx := c.conn, c.ctx
	c.connMu.RUnlock()

	respChan := make(chan Message, 1)
	c.pendingMu.Lock()
	c.pending[msgID] = respChan
	c.pendingMu.Unlock()

	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, msgID)
		c.pendingMu.Unlock()
	}()

	c.writeMu.Lock()
	err := conn.WriteJSON(msg)
	c.writeMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("failed to send message: %w", err)
	}

	select {
	case resp := <-respChan:
		if resp.Success != nil && !*resp.Success {
			if resp.Error != nil {
				return nil, fmt.Errorf("HA error: %s - %s", resp.Error.Code, resp.Error.Message)
			}
			return nil, fmt.Errorf("request failed")
		}
		return &resp, nil
	case <-time.After(c.timeout):
		return nil, fmt.Errorf("timeout waiting for response")
	case <-ctx.Done():
		return nil, fmt.Errorf("client disconnected")
	}
}

// receiveMessages handles incoming messages in the background
func (c *Client) receiveMessages(conn *websocket.Conn) {
	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			c.connMu.RLock()
			current := c.conn == conn && c.connected
			c.connMu.RUnlock()
			if current {
				c.logger.Error("Failed to read message", zap.Error(err))
				c.handleDisconnect(conn)
			}
			return
		}

		if msg.Type == "event" {
			c.handleEvent(&msg)
			continue
		}

		if msg.ID > 0 {
			c.pendingMu.Lock()
			if ch, ok := c.pending[msg.ID]; ok {
				select {
				case ch <- msg:
				default:
					c.logger.Warn("Response channel full", zap.Int("msg_id", msg.ID))
				}
			}
			c.pendingMu.Unlock()
		}
	}
}

func (c *Client) handleEvent(msg *Message) {
	if msg.Event == nil {
		return
	}

	c.subsMu.Lock()
	entries := append([]handlerEntry(nil), c.handlers[msg.Event.EventType]...)
	c.subsMu.Unlock()

	for _, entry := range entries {
		entry.handler(*msg.Event)
	}
}

// handleDisconnect handles connection loss
func (c *Client) handleDisconnect(conn *websocket.Conn) {
	c.connMu.Lock()
	if c.conn != conn {
		c.connMu.Unlock()
		return
	}
	c.connected = false
	c.conn = nil
	reconnect := c.reconnect
	ctx := c.ctx
	c.connMu.Unlock()
	conn.Close()

	c.subsMu.Lock()
	c.serverSubs = make(map[string]int)
	c.subsMu.Unlock()

	c.logger.Warn("Connection lost")
	if reconnect {
		go c.attemptReconnect(ctx)
	}
}

// attemptReconnect tries to reconnect with exponential backoff
func (c *Client) attemptReconnect(ctx context.Context) {
	backoff := c.backoff
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}

		c.logger.Info("Attempting to reconnect...")
		if err := c.Connect(); err != nil {
			c.logger.Error("Reconnection failed", zap.Error(err))
			backoff *= 2
			if backoff > c.maxBackoff {
				backoff = c.maxBackoff
			}
			continue
		}

		c.logger.Info("Reconnected successfully")
		return
	}
}

func (c *Client) restoreSubscriptions() {
	c.subsMu.Lock()
	var types []string
	for eventType := range c.handlers {
		types = append(types, eventType)
	}
	c.subsMu.Unlock()

	for _, eventType := range types {
		if err := c.subscribeServer(eventType); err != nil {
			c.logger.Warn("Failed to subscribe to events",
				zap.String("event_type", eventType), zap.Error(err))
		}
	}
}

func (c *Client) subscribeServer(eventType string) error {
	msgID := c.nextMsgID()
	if _, err := c.sendMessage(msgID, &SubscribeEventsRequest{
		ID:        msgID,
		Type:      "subscribe_events",
		EventType: eventType,
	}); err != nil {
		return err
	}

	c.subsMu.Lock()
	c.serverSubs[eventType] = msgID
	c.subsMu.Unlock()
	c.logger.Debug("Subscribed to events", zap.String("event_type", eventType))
	return nil
}

// SubscribeEvents calls handler for every event of eventType. While
// disconnected the handler is registered and subscribed on Connect.
func (c *Client) SubscribeEvents(eventType string, handler EventHandler) (Subscription, error) {
	if eventType == "" {
		return nil, fmt.Errorf("event type cannot be empty")
	}

	c.subsMu.Lock()
	subID := c.nextSubID
	c.nextSubID++
	c.handlers[eventType] = append(c.handlers[eventType], handlerEntry{subID: subID, handler: handler})
	_, subscribed := c.serverSubs[eventType]
	c.subsMu.Unlock()

	if !subscribed && c.IsConnected() {
		if err := c.subscribeServer(eventType); err != nil {
			c.removeHandler(eventType, subID)
			return nil, fmt.Errorf("failed to subscribe to %s: %w", eventType, err)
		}
	}

	return &subscription{eventType: eventType, subID: subID, unsub: c.unsubscribe}, nil
}

// removeHandler drops one handler and reports whether it was the last one
func (c *Client) removeHandler(eventType string, subID int) bool {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()

	entries := c.handlers[eventType]
	for i, entry := range entries {
		if entry.subID == subID {
			c.handlers[eventType] = append(entries[:i:i], entries[i+1:]...)
			break
		}
	}
	if len(c.handlers[eventType]) == 0 {
		delete(c.handlers, eventType)
		return true
	}
	return false
}

func (c *Client) unsubscribe(eventType string, subID int) error {
	if !c.removeHandler(eventType, subID) {
		return nil
	}

	c.subsMu.Lock()
	serverID, ok := c.serverSubs[eventType]
	delete(c.serverSubs, eventType)
	c.subsMu.Unlock()
	if !ok || !c.IsConnected() {
		return nil
	}

	msgID := c.nextMsgID()
	_, err := c.sendMessage(msgID, &UnsubscribeEventsRequest{
		ID:           msgID,
		Type:         "unsubscribe_events",
		Subscription: serverID,
	})
	return err
}

// FireEvent puts an event with data on the bus
func (c *Client) FireEvent(eventType string, data any) error {
	msgID := c.nextMsgID()
	_, err := c.sendMessage(msgID, &FireEventRequest{
		ID:        msgID,
		Type:      "fire_event",
		EventType: eventType,
		EventData: data,
	})
	if err != nil {
		return fmt.Errorf("failed to fire %s: %w", eventType, err)
	}
	return nil
}
