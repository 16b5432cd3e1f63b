// Package mqtt wraps paho.mqtt.golang for the bridge: one connection with
// an availability last will, auto-reconnect and subscriptions that survive
// it.
package mqtt

import (
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"goodhome/internal/config"
)

const (
	connectTimeout    = 10 * time.Second
	publishTimeout    = 5 * time.Second
	disconnectQuiesce = 1000 // milliseconds
	keepAlive         = 60 * time.Second
	retryInterval     = 2 * time.Second
	maxReconnect      = 2 * time.Minute
	maxQoS            = 2

	// Availability payloads understood by Home Assistant
	PayloadOnline  = "online"
	PayloadOffline = "offline"
)

// MessageHandler receives the payload of one message. A returned error is
// logged with the topic.
type MessageHandler func(topic string, payload []byte) error

type subscription struct {
	topic   string
	qos     byte
	handler MessageHandler
}

// Client is safe for concurrent use
type Client struct {
	client      pahomqtt.Client
	qos         byte
	statusTopic string
	logger      *zap.Logger

	subMu         sync.RWMutex
	subscriptions map[string]subscription

	connMu    sync.RWMutex
	connected bool
}

// StatusTopic is the availability topic under base
func StatusTopic(base string) string {
	return base + "/status"
}

// Connect dials the broker and publishes online on the status topic
func Connect(cfg config.MQTTConfig, logger *zap.Logger) (*Client, error) {
	return connect(cfg, logger, pahomqtt.NewClient)
}

func connect(cfg config.MQTTConfig, logger *zap.Logger, newClient func(*pahomqtt.ClientOptions) pahomqtt.Client) (*Client, error) {
	c := &Client{
		qos:           cfg.QoS,
		statusTopic:   StatusTopic(cfg.BaseTopic),
		logger:        logger,
		subscriptions: make(map[string]subscription),
	}

	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(retryInterval)
	opts.SetMaxReconnectInterval(maxReconnect)
	opts.SetConnectTimeout(connectTimeout)
	opts.SetKeepAlive(keepAlive)
	opts.SetWill(c.statusTopic, PayloadOffline, cfg.QoS, true)
	opts.SetOnConnectHandler(func(pahomqtt.Client) { c.handleConnect() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.handleDisconnect(err) })
	opts.SetReconnectingHandler(func(pahomqtt.Client, *pahomqtt.ClientOptions) {
		c.logger.Info("Reconnecting to MQTT broker")
	})

	c.client = newClient(opts)
	token := c.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, connectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// The connect handler runs asynchronously
	c.connMu.Lock()
	c.connected = true
	c.connMu.Unlock()

	logger.Info("Connected to MQTT broker", zap.String("broker", cfg.Broker), zap.String("client_id", cfg.ClientID))
	return c, nil
}

func (c *Client) handleConnect() {
	c.connMu.Lock()
	c.connected = true
	c.connMu.Unlock()

	c.restoreSubscriptions()
	c.client.Publish(c.statusTopic, c.qos, true, PayloadOnline)
}

func (c *Client) handleDisconnect(err error) {
	c.connMu.Lock()
	c.connected = false
	c.connMu.Unlock()
	c.logger.Warn("Lost MQTT connection", zap.Error(err))
}

func (c *Client) restoreSubscriptions() {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	for _, sub := range c.subscriptions {
		c.client.Subscribe(sub.topic, sub.qos, c.wrap(sub.handler))
	}
	if len(c.subscriptions) > 0 {
		c.logger.Info("Restored MQTT subscriptions", zap.Int("count", len(c.subscriptions)))
	}
}

// IsConnected reports the last known connection state
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected && c.client.IsConnected()
}

// QoS is the configured default quality of service
func (c *Client) QoS() byte {
	return c.qos
}

// Publish sends payload and waits for the broker acknowledgment
func (c *Client) Publish(topic string, qos byte, retained bool, payload []byte) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("%w: %s after %v", ErrPublishTimeout, topic, publishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrPublishFailed, topic, err)
	}
	return nil
}

// Subscribe registers handler for topic. The subscription is restored
// after every reconnect.
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if handler == nil {
		return fmt.Errorf("%w: handler cannot be nil", ErrSubscribeFailed)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.subMu.Lock()
	c.subscriptions[topic] = subscription{topic: topic, qos: qos, handler: handler}
	c.subMu.Unlock()

	token := c.client.Subscribe(topic, qos, c.wrap(handler))
	var err error
	if !token.WaitTimeout(publishTimeout) {
		err = fmt.Errorf("%w: %s: timeout after %v", ErrSubscribeFailed, topic, publishTimeout)
	} else if terr := token.Error(); terr != nil {
		err = fmt.Errorf("%w: %s: %w", ErrSubscribeFailed, topic, terr)
	}
	if err != nil {
		c.subMu.Lock()
		delete(c.subscriptions, topic)
		c.subMu.Unlock()
		return err
	}
	return nil
}

// SubscriptionCount returns the number of tracked subscriptions
func (c *Client) SubscriptionCount() int {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	return len(c.subscriptions)
}

// Close publishes offline and disconnects
func (c *Client) Close() {
	if c.IsConnected() {
		token := c.client.Publish(c.statusTopic, c.qos, true, PayloadOffline)
		token.WaitTimeout(publishTimeout)
	}
	c.client.Disconnect(disconnectQuiesce)

	c.connMu.Lock()
	c.connected = false
	c.connMu.Unlock()
	c.logger.Info("Disconnected from MQTT broker")
}

func (c *Client) wrap(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				c.logger.Error("MQTT handler panic recovered",
					zap.String("topic", msg.Topic()),
					zap.Any("panic", r))
			}
		}()
		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			c.logger.Warn("MQTT handler returned error",
				zap.String("topic", msg.Topic()),
				zap.Error(err))
		}
	}
}
