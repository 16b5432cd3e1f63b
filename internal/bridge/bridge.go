// Package bridge exposes the account's entities to Home Assistant over
// MQTT discovery and routes commands back to them.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"goodhome/internal/confirm"
	"goodhome/internal/entity"
	"goodhome/internal/goodhome"
	"goodhome/internal/mqtt"
)

const (
	commandTimeout = 15 * time.Second

	// stateNone is what Home Assistant reads as an unknown value
	stateNone = "None"
)

// Transport is the MQTT client as seen by the bridge
type Transport interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// Registry is the account as seen by the bridge
type Registry interface {
	Entities() []entity.Entity
	Entity(uniqueID string) (entity.Entity, bool)
}

// Bridge publishes discovery, state and attributes and routes commands.
// Updates are queued and published by a single worker so coordinator
// listeners and confirmation observers never wait on the broker.
type Bridge struct {
	transport Transport
	registry  Registry
	topics    Topics
	qos       byte
	logger    *zap.Logger

	mu        sync.Mutex
	dirty     map[string]struct{}
	all       bool
	announced map[string]struct{}

	wake    chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
	stopped chan struct{}
	started bool
	once    sync.Once
}

// New creates a bridge. Call Start to go live.
func New(transport Transport, registry Registry, topics Topics, qos byte, logger *zap.Logger) *Bridge {
	ctx, cancel := context.WithCancel(context.Background())
	return &Bridge{
		transport: transport,
		registry:  registry,
		topics:    topics,
		qos:       qos,
		logger:    logger,
		dirty:     make(map[string]struct{}),
		announced: make(map[string]struct{}),
		wake:      make(chan struct{}, 1),
		ctx:       ctx,
		cancel:    cancel,
		stopped:   make(chan struct{}),
	}
}

// Start subscribes the command topics, publishes every entity and starts
// the publish worker
func (b *Bridge) Start() error {
	for _, filter := range b.topics.CommandFilters() {
		if err := b.transport.Subscribe(filter, b.qos, b.handleCommand); err != nil {
			return fmt.Errorf("failed to subscribe %s: %w", filter, err)
		}
	}

	if err := b.PublishAll(); err != nil {
		return err
	}

	b.mu.Lock()
	b.started = true
	b.mu.Unlock()
	go b.run()

	b.logger.Info("MQTT bridge started",
		zap.Int("entities", len(b.registry.Entities())),
		zap.String("discovery_prefix", b.topics.DiscoveryPrefix))
	return nil
}

// PublishAll publishes discovery, state, attributes and availability of
// every entity. The first error is returned after all entities are tried.
func (b *Bridge) PublishAll() error {
	var first error
	for _, e := range b.registry.Entities() {
		if err := b.publishDiscovery(e); err != nil && first == nil {
			first = err
		}
		if err := b.publishEntity(e); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// OnRefresh queues every entity, for coordinator.Subscribe
func (b *Bridge) OnRefresh([]goodhome.Device) {
	b.mu.Lock()
	b.all = true
	b.mu.Unlock()
	b.signal()
}

// CommandTransition queues the entity whose command moved
func (b *Bridge) CommandTransition(e confirm.Event) {
	b.mark(e.EntityID)
}

func (b *Bridge) mark(uniqueID string) {
	b.mu.Lock()
	b.dirty[uniqueID] = struct{}{}
	b.mu.Unlock()
	b.signal()
}

func (b *Bridge) signal() {
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

// Close stops the publish worker
func (b *Bridge) Close() {
	b.once.Do(func() {
		b.cancel()
		b.mu.Lock()
		started := b.started
		b.mu.Unlock()
		if started {
			<-b.stopped
		}
	})
}

func (b *Bridge) run() {
	defer close(b.stopped)
	for {
		select {
		case <-b.ctx.Done():
			return
		case <-b.wake:
			b.flush()
		}
	}
}

// flush publishes everything queued since the last flush
func (b *Bridge) flush() {
	b.mu.Lock()
	all := b.all
	ids := make([]string, 0, len(b.dirty))
	for id := range b.dirty {
		ids = append(ids, id)
	}
	b.all = false
	b.dirty = make(map[string]struct{})
	b.mu.Unlock()

	var entities []entity.Entity
	if all {
		entities = b.registry.Entities()
	} else {
		sort.Strings(ids)
		for _, id := range ids {
			if e, ok := b.registry.Entity(id); ok {
				entities = append(entities, e)
			}
		}
	}

	for _, e := range entities {
		if err := b.publishDiscovery(e); err != nil {
			b.logger.Warn("Failed to publish discovery", zap.String("entity_id", e.UniqueID()), zap.Error(err))
			continue
		}
		if err := b.publishEntity(e); err != nil {
			b.logger.Warn("Failed to publish entity", zap.String("entity_id", e.UniqueID()), zap.Error(err))
		}
	}
}

// publishDiscovery sends the retained config once per entity
func (b *Bridge) publishDiscovery(e entity.Entity) error {
	uid := e.UniqueID()
	b.mu.Lock()
	_, done := b.announced[uid]
	b.mu.Unlock()
	if done {
		return nil
	}

	payload, err := json.Marshal(Discovery(e, b.topics))
	if err != nil {
		return fmt.Errorf("failed to marshal discovery for %s: %w", uid, err)
	}
	if err := b.transport.Publish(b.topics.Discovery(e.Platform(), uid), b.qos, true, payload); err != nil {
		return err
	}

	b.mu.Lock()
	b.announced[uid] = struct{}{}
	b.mu.Unlock()
	return nil
}

// publishEntity sends availability, state and attributes, all retained
func (b *Bridge) publishEntity(e entity.Entity) error {
	uid := e.UniqueID()

	availability := mqtt.PayloadOffline
	if e.Available() {
		availability = mqtt.PayloadOnline
	}
	if err := b.transport.Publish(b.topics.Availability(uid), b.qos, true, []byte(availability)); err != nil {
		return err
	}

	if e.Platform() != entity.PlatformButton {
		state, err := StatePayload(e)
		if err != nil {
			return err
		}
		if err := b.transport.Publish(b.topics.State(uid), b.qos, true, state); err != nil {
			return err
		}
	}

	attrs, err := AttributesPayload(e)
	if err != nil {
		return err
	}
	return b.transport.Publish(b.topics.Attributes(uid), b.qos, true, attrs)
}

// handleCommand routes a payload from a command topic to its entity.
// Invalid commands are logged and dropped.
func (b *Bridge) handleCommand(topic string, payload []byte) error {
	uid, field, ok := b.topics.ParseCommand(topic)
	if !ok {
		return nil
	}

	e, ok := b.registry.Entity(uid)
	if !ok {
		b.logger.Warn("Command for unknown entity", zap.String("topic", topic))
		return nil
	}
	cmd, ok := e.(entity.Commander)
	if !ok {
		b.logger.Warn("Entity does not accept commands", zap.String("entity_id", uid))
		return nil
	}

	ctx, cancel := context.WithTimeout(b.ctx, commandTimeout)
	defer cancel()

	value := strings.TrimSpace(string(payload))
	id, err := cmd.Command(ctx, field, value)
	if err != nil {
		b.logger.Warn("Dropped invalid command",
			zap.String("entity_id", uid),
			zap.String("field", field),
			zap.String("payload", value),
			zap.Error(err))
		return nil
	}

	b.logger.Info("Command received",
		zap.String("entity_id", uid),
		zap.String("field", field),
		zap.String("command_id", id))
	b.mark(uid)
	return nil
}

// climateState is the JSON state of a climate entity. All climate
// templates read from it.
type climateState struct {
	HVACMode           string   `json:"hvac_mode"`
	PresetMode         string   `json:"preset_mode"`
	Temperature        *float64 `json:"temperature"`
	CurrentTemperature *float64 `json:"current_temperature"`
	CurrentHumidity    *float64 `json:"current_humidity"`
}

func optional(v float64, ok bool) *float64 {
	if !ok {
		return nil
	}
	return &v
}

// StatePayload renders the state topic payload of e
func StatePayload(e entity.Entity) ([]byte, error) {
	if c, ok := e.(*entity.Climate); ok {
		return json.Marshal(climateState{
			HVACMode:           c.HVACMode(),
			PresetMode:         c.PresetMode(),
			Temperature:        optional(c.TargetTemperature()),
			CurrentTemperature: optional(c.CurrentTemperature()),
			CurrentHumidity:    optional(c.CurrentHumidity()),
		})
	}
	return []byte(formatState(e.State())), nil
}

func formatState(v any) string {
	switch t := v.(type) {
	case nil:
		return stateNone
	case bool:
		if t {
			return PayloadOn
		}
		return PayloadOff
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	}
	return fmt.Sprint(v)
}

// AttributesPayload renders the attributes of e, plus any tentative values
// under "pending"
func AttributesPayload(e entity.Entity) ([]byte, error) {
	attrs := make(map[string]any)
	for k, v := range e.Attributes() {
		attrs[k] = v
	}
	if p, ok := e.(entity.Pender); ok {
		if pending := p.Pending(); len(pending) > 0 {
			attrs["pending"] = pending
		}
	}
	return json.Marshal(attrs)
}
