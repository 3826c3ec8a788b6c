package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-aqara/internal/infrastructure/config"
)

// Logger is the subset of logging.Logger the client writes to.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

// MessageHandler receives one message. Returned errors are logged; the
// message is acknowledged either way.
type MessageHandler func(topic string, payload []byte) error

// Client is the bridge's broker connection. It reconnects on its own and
// replays every subscription after a reconnect, since sessions are clean.
type Client struct {
	cfg         config.MQTTConfig
	paho        pahomqtt.Client
	will        *will
	log         Logger
	onReconnect func()
	onLost      func(err error)

	connected atomic.Bool
	connects  atomic.Int32

	mu   sync.Mutex
	subs map[string]subscription
}

type subscription struct {
	qos     byte
	handler MessageHandler
}

// Connect dials the broker and waits until the session is up, ctx is done
// or the connect timeout passes.
func Connect(ctx context.Context, cfg config.MQTTConfig, opts ...Option) (*Client, error) {
	c := newClient(cfg, opts...)
	c.paho = pahomqtt.NewClient(c.pahoOptions())

	if err := wait(ctx, c.paho.Connect(), connectTimeout); err != nil {
		// Stop the background retry loop.
		c.paho.Disconnect(0)
		return nil, fmt.Errorf("%w: %s: %w", ErrConnectionFailed, brokerURL(cfg), err)
	}
	c.connected.Store(true)
	return c, nil
}

func newClient(cfg config.MQTTConfig, opts ...Option) *Client {
	c := &Client{cfg: cfg, subs: make(map[string]subscription)}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// wait blocks on a paho token with a deadline.
func wait(ctx context.Context, tok pahomqtt.Token, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) handleConnect() {
	c.connected.Store(true)
	if c.connects.Add(1) == 1 {
		return
	}
	c.resubscribe()
	if c.onReconnect != nil {
		c.onReconnect()
	}
}

func (c *Client) handleLost(err error) {
	c.connected.Store(false)
	if c.onLost != nil {
		c.onLost(err)
	}
}

func (c *Client) resubscribe() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for topic, sub := range c.subs {
		tok := c.paho.Subscribe(topic, sub.qos, c.wrapHandler(sub.handler))
		if err := wait(context.Background(), tok, operationTimeout); err != nil && c.log != nil {
			c.log.Warn("MQTT resubscribe failed", "topic", topic, "error", err)
		}
	}
}

// IsConnected reports whether the session is currently open.
func (c *Client) IsConnected() bool {
	return c != nil && c.paho != nil && c.connected.Load() && c.paho.IsConnectionOpen()
}

// HealthCheck returns ErrNotConnected while the broker is unreachable.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// Close disconnects cleanly, so the broker discards the will.
func (c *Client) Close() error {
	if c == nil || c.paho == nil {
		return nil
	}
	c.connected.Store(false)
	c.paho.Disconnect(disconnectQuiesce)
	return nil
}

// wrapHandler adapts h to paho, logging returned errors and recovering panics.
func (c *Client) wrapHandler(h MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil && c.log != nil {
				c.log.Error("MQTT handler panic recovered", "topic", msg.Topic(), "panic", r)
			}
		}()
		if err := h(msg.Topic(), msg.Payload()); err != nil && c.log != nil {
			c.log.Warn("MQTT handler returned error", "topic", msg.Topic(), "error", err)
		}
	}
}
