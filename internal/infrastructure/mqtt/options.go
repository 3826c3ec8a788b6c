package mqtt

import (
	"crypto/tls"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-aqara/internal/infrastructure/config"
)

const (
	connectTimeout    = 10 * time.Second
	operationTimeout  = 5 * time.Second
	disconnectQuiesce = 250 // milliseconds
	keepAlive         = 30 * time.Second

	maxQoS         = 2
	maxPayloadSize = 64 << 10

	tlsMinVersion = tls.VersionTLS12
)

// Option customises a Client before it dials.
type Option func(*Client)

// WithWill registers a retained QoS 1 last will. The broker publishes payload
// on topic when the bridge drops off without a clean disconnect. An empty
// topic or payload leaves the will unset.
func WithWill(topic string, payload []byte) Option {
	return func(c *Client) {
		if topic == "" || len(payload) == 0 {
			return
		}
		c.will = &will{topic: topic, payload: payload}
	}
}

// WithLogger routes handler errors, recovered panics and resubscribe
// failures to l.
func WithLogger(l Logger) Option {
	return func(c *Client) { c.log = l }
}

// WithConnectionHooks installs callbacks for reconnects and lost connections.
// onReconnect is not called for the initial connect. Either may be nil.
func WithConnectionHooks(onReconnect func(), onLost func(err error)) Option {
	return func(c *Client) {
		c.onReconnect = onReconnect
		c.onLost = onLost
	}
}

type will struct {
	topic   string
	payload []byte
}

func brokerURL(cfg config.MQTTConfig) string {
	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker.Host, cfg.Broker.Port)
}

// pahoOptions translates the process config into paho options and wires
// the client's connection handlers.
func (c *Client) pahoOptions() *pahomqtt.ClientOptions {
	cfg := c.cfg
	opts := pahomqtt.NewClientOptions().
		AddBroker(brokerURL(cfg)).
		SetClientID(cfg.Broker.ClientID).
		SetCleanSession(true).
		SetKeepAlive(keepAlive).
		SetConnectTimeout(connectTimeout).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(time.Duration(cfg.Reconnect.InitialDelay) * time.Second).
		SetMaxReconnectInterval(time.Duration(cfg.Reconnect.MaxDelay) * time.Second).
		SetOnConnectHandler(func(pahomqtt.Client) { c.handleConnect() }).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.handleLost(err) })

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}
	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tlsMinVersion})
	}
	if c.will != nil {
		opts.SetBinaryWill(c.will.topic, c.will.payload, 1, true)
	}
	return opts
}
