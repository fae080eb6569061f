package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/pimonitor/pimonitor-core/internal/infrastructure/config"
)

// Client is the monitor's broker connection. It announces the instance on
// Topics.SystemStatus, shares presets and carries device snapshots.
//
// Subscriptions survive reconnects. All methods are safe for concurrent use.
type Client struct {
	client    pahomqtt.Client
	cfg       config.MQTTConfig
	connected atomic.Bool

	// mu guards the fields below.
	mu            sync.RWMutex
	subscriptions map[string]subscription
	onConnect     func()
	onDisconnect  func(err error)
	logger        Logger
}

// Logger receives handler failures.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

type subscription struct {
	qos     byte
	handler MessageHandler
}

// MessageHandler handles one received message on paho's goroutine. A
// returned error is logged.
type MessageHandler func(topic string, payload []byte) error

// Connect dials the broker with an offline will and announces the instance
// online. Only the first connection must succeed within the connect
// timeout; paho reconnects on its own afterwards.
func Connect(cfg config.MQTTConfig) (*Client, error) {
	c := &Client{cfg: cfg, subscriptions: make(map[string]subscription)}

	opts := buildClientOptions(cfg)
	configureLWT(opts, cfg.Broker.ClientID)
	opts.SetOnConnectHandler(func(pahomqtt.Client) { c.handleConnect() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.handleDisconnect(err) })

	c.client = pahomqtt.NewClient(opts)
	token := c.client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// handleConnect may still be pending.
	c.connected.Store(true)
	return c, nil
}

// announce publishes the instance status, retained.
func (c *Client) announce(status, reason string) pahomqtt.Token {
	return c.client.Publish(Topics{}.SystemStatus(), byte(c.cfg.QoS), true,
		buildStatusPayload(status, c.cfg.Broker.ClientID, reason))
}

func (c *Client) handleConnect() {
	c.connected.Store(true)

	c.mu.RLock()
	for topic, sub := range c.subscriptions {
		c.client.Subscribe(topic, sub.qos, c.wrapHandler(sub.handler))
	}
	callback := c.onConnect
	c.mu.RUnlock()

	c.announce("online", "")
	if callback != nil {
		callback()
	}
}

func (c *Client) handleDisconnect(err error) {
	c.connected.Store(false)

	c.mu.RLock()
	callback := c.onDisconnect
	c.mu.RUnlock()
	if callback != nil {
		callback(err)
	}
}

// Close announces a graceful shutdown and disconnects. Safe on nil.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	if c.IsConnected() {
		c.announce("offline", "graceful_shutdown").WaitTimeout(defaultPublishTimeout)
	}
	c.client.Disconnect(defaultDisconnectQuiesce)
	c.connected.Store(false)
	return nil
}

// HealthCheck fails with ErrNotConnected while the broker is unreachable.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected reports the last known connection state.
func (c *Client) IsConnected() bool {
	if c == nil || c.client == nil {
		return false
	}
	return c.connected.Load() && c.client.IsConnected()
}

// SetOnConnect sets a callback run on every (re)connect.
func (c *Client) SetOnConnect(callback func()) {
	c.mu.Lock()
	c.onConnect = callback
	c.mu.Unlock()
}

// SetOnDisconnect sets a callback run when the connection is lost.
func (c *Client) SetOnDisconnect(callback func(err error)) {
	c.mu.Lock()
	c.onDisconnect = callback
	c.mu.Unlock()
}

// SetLogger sets the logger for handler failures.
func (c *Client) SetLogger(logger Logger) {
	c.mu.Lock()
	c.logger = logger
	c.mu.Unlock()
}

// wrapHandler adapts a MessageHandler to paho. A panicking handler is
// logged and does not take down paho's router.
func (c *Client) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		c.mu.RLock()
		logger := c.logger
		c.mu.RUnlock()

		defer func() {
			if r := recover(); r != nil && logger != nil {
				logger.Error("mqtt handler panicked", "topic", msg.Topic(), "panic", r)
			}
		}()
		if err := handler(msg.Topic(), msg.Payload()); err != nil && logger != nil {
			logger.Warn("mqtt handler failed", "topic", msg.Topic(), "error", err)
		}
	}
}
