package bridge

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"goodhome/internal/confirm"
	"goodhome/internal/ha"
)

// Home Assistant event types
const (
	IdentifyEvent      = "goodhome_identify_device"
	CommandResultEvent = "goodhome_command_result"
)

const (
	identifyTimeout = 15 * time.Second
	resultQueueSize = 64
)

// Bus is the Home Assistant event bus as seen by Events
type Bus interface {
	SubscribeEvents(eventType string, handler ha.EventHandler) (ha.Subscription, error)
	FireEvent(eventType string, data any) error
}

// Identifier blinks a thermostat
type Identifier interface {
	Identify(ctx context.Context, deviceID string) bool
}

// CommandResult is the data of a goodhome_command_result event
type CommandResult struct {
	EntityID  string `json:"entity_id"`
	CommandID string `json:"command_id"`
	Kind      string `json:"kind"`
	Outcome   string `json:"outcome"`
	Attempts  int    `json:"attempts"`
	Error     string `json:"error,omitempty"`
}

type identifyRequest struct {
	DeviceID string `json:"device_id"`
}

// Events serves identify requests from the Home Assistant event bus and
// reports every finished command back to it
type Events struct {
	bus        Bus
	identifier Identifier
	logger     *zap.Logger

	sub     ha.Subscription
	results chan CommandResult

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
	once   sync.Once
}

// NewEvents creates the event bus glue. Call Start to subscribe.
func NewEvents(bus Bus, identifier Identifier, logger *zap.Logger) *Events {
	ctx, cancel := context.WithCancel(context.Background())
	return &Events{
		bus:        bus,
		identifier: identifier,
		logger:     logger,
		results:    make(chan CommandResult, resultQueueSize),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start subscribes to identify requests and starts the result publisher
func (ev *Events) Start() error {
	sub, err := ev.bus.SubscribeEvents(IdentifyEvent, ev.handleIdentify)
	if err != nil {
		return err
	}
	ev.sub = sub

	ev.wg.Add(1)
	go ev.publishResults()
	return nil
}

// handleIdentify runs on the websocket receive loop, so the vendor call
// happens on its own goroutine
func (ev *Events) handleIdentify(e ha.Event) {
	var req identifyRequest
	if err := e.Decode(&req); err != nil || req.DeviceID == "" {
		ev.logger.Warn("Ignoring identify event without device_id", zap.ByteString("data", e.Data))
		return
	}

	ev.mu.Lock()
	if ev.closed {
		ev.mu.Unlock()
		return
	}
	ev.wg.Add(1)
	ev.mu.Unlock()

	go func() {
		defer ev.wg.Done()
		ctx, cancel := context.WithTimeout(ev.ctx, identifyTimeout)
		defer cancel()
		if !ev.identifier.Identify(ctx, req.DeviceID) {
			ev.logger.Warn("Identify request failed", zap.String("device_id", req.DeviceID))
		}
	}()
}

// CommandTransition queues terminal events for the bus. A full queue
// drops the result.
func (ev *Events) CommandTransition(e confirm.Event) {
	if !e.Terminal() {
		return
	}
	result := CommandResult{
		EntityID:  e.EntityID,
		CommandID: e.CommandID,
		Kind:      e.Kind,
		Outcome:   string(e.Outcome),
		Attempts:  e.Attempts,
	}
	if e.Err != nil {
		result.Error = e.Err.Error()
	}

	select {
	case ev.results <- result:
	default:
		ev.logger.Warn("Command result queue full, dropping result",
			zap.String("entity_id", e.EntityID),
			zap.String("command_id", e.CommandID))
	}
}

func (ev *Events) publishResults() {
	defer ev.wg.Done()
	for {
		select {
		case <-ev.ctx.Done():
			return
		case result := <-ev.results:
			if err := ev.bus.FireEvent(CommandResultEvent, result); err != nil {
				ev.logger.Warn("Failed to fire command result",
					zap.String("command_id", result.CommandID),
					zap.Error(err))
			}
		}
	}
}

// Close unsubscribes and waits for in-flight work
func (ev *Events) Close() {
	ev.once.Do(func() {
		if ev.sub != nil {
			if err := ev.sub.Unsubscribe(); err != nil {
				ev.logger.Debug("Failed to unsubscribe", zap.Error(err))
			}
		}
		ev.mu.Lock()
		ev.closed = true
		ev.mu.Unlock()

		ev.cancel()
		ev.wg.Wait()
	})
}
