package mqtt

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-aqara/internal/infrastructure/config"
)

// testConfig targets Mosquitto at 127.0.0.1:1883. Broker tests skip when
// nothing listens there.
func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "graylogic-aqara-test",
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

func connectOrSkip(t *testing.T, cfg config.MQTTConfig, opts ...Option) *Client {
	t.Helper()

	addr := net.JoinHostPort(cfg.Broker.Host, strconv.Itoa(cfg.Broker.Port))
	conn, err := net.DialTimeout("tcp", addr, 200*time.Millisecond)
	if err != nil {
		t.Skipf("no MQTT broker at %s: %v", addr, err)
	}
	conn.Close()

	client, err := Connect(context.Background(), cfg, opts...)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { client.Close() }) //nolint:errcheck // Test cleanup
	return client
}

func TestPahoOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Auth = config.MQTTAuthConfig{Username: "bridge", Password: "secret"}

	opts := newClient(cfg).pahoOptions()

	if len(opts.Servers) != 1 || opts.Servers[0].String() != "tcp://127.0.0.1:1883" {
		t.Errorf("Servers = %v, want [tcp://127.0.0.1:1883]", opts.Servers)
	}
	if opts.ClientID != "graylogic-aqara-test" {
		t.Errorf("ClientID = %q", opts.ClientID)
	}
	if opts.Username != "bridge" || opts.Password != "secret" {
		t.Errorf("credentials = %q/%q", opts.Username, opts.Password)
	}
	if !opts.CleanSession || !opts.AutoReconnect || !opts.ConnectRetry {
		t.Error("expected clean session, auto-reconnect and connect retry")
	}
	if opts.MaxReconnectInterval != 5*time.Second {
		t.Errorf("MaxReconnectInterval = %v, want 5s", opts.MaxReconnectInterval)
	}
	if opts.TLSConfig != nil && opts.TLSConfig.MinVersion != 0 {
		t.Error("TLS configured for plain broker")
	}
	if opts.WillEnabled {
		t.Error("will set without WithWill")
	}
}

func TestPahoOptionsTLS(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.TLS = true
	cfg.Broker.Port = 8883

	opts := newClient(cfg).pahoOptions()

	if opts.Servers[0].String() != "ssl://127.0.0.1:8883" {
		t.Errorf("Servers[0] = %s, want ssl://127.0.0.1:8883", opts.Servers[0])
	}
	if opts.TLSConfig == nil || opts.TLSConfig.MinVersion != tlsMinVersion {
		t.Error("expected TLS 1.2 minimum")
	}
}

func TestWithWill(t *testing.T) {
	payload := []byte(`{"bridge":"aqara-bridge-01","status":"offline"}`)

	tests := []struct {
		name    string
		topic   string
		payload []byte
		enabled bool
	}{
		{"health will", "graylogic/health/aqara", payload, true},
		{"empty topic", "", payload, false},
		{"empty payload", "graylogic/health/aqara", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := newClient(testConfig(), WithWill(tt.topic, tt.payload)).pahoOptions()
			if opts.WillEnabled != tt.enabled {
				t.Fatalf("WillEnabled = %v, want %v", opts.WillEnabled, tt.enabled)
			}
			if !tt.enabled {
				return
			}
			if opts.WillTopic != tt.topic || string(opts.WillPayload) != string(tt.payload) {
				t.Errorf("will = %q %s", opts.WillTopic, opts.WillPayload)
			}
			if !opts.WillRetained || opts.WillQos != 1 {
				t.Error("will should be retained with QoS 1")
			}
		})
	}
}

func TestConnectionHooks(t *testing.T) {
	var reconnects, lost int
	c := newClient(testConfig(), WithConnectionHooks(
		func() { reconnects++ },
		func(error) { lost++ },
	))

	c.handleConnect()
	if reconnects != 0 || !c.connected.Load() {
		t.Fatalf("initial connect: reconnects = %d, connected = %v", reconnects, c.connected.Load())
	}

	c.handleLost(errors.New("EOF"))
	if lost != 1 || c.connected.Load() {
		t.Fatalf("lost = %d, connected = %v", lost, c.connected.Load())
	}

	// No subscriptions yet, so resubscribe has nothing to replay.
	c.handleConnect()
	if reconnects != 1 {
		t.Errorf("reconnects = %d, want 1", reconnects)
	}
}

func TestDisconnectedClient(t *testing.T) {
	var nilClient *Client
	if nilClient.IsConnected() {
		t.Error("nil client reports connected")
	}
	if err := nilClient.Close(); err != nil {
		t.Errorf("Close() on nil client = %v", err)
	}
	if err := (&Client{}).Close(); err != nil {
		t.Errorf("Close() on undialled client = %v", err)
	}
}

func TestValidationBeforeConnection(t *testing.T) {
	client := newClient(testConfig())
	handler := func(string, []byte) error { return nil }

	tests := []struct {
		name string
		call func() error
		want error
	}{
		{"publish empty topic", func() error { return client.Publish("", []byte("x"), 1, false) }, ErrInvalidTopic},
		{"publish wildcard", func() error { return client.Publish("graylogic/state/aqara/+", []byte("x"), 1, false) }, ErrInvalidTopic},
		{"publish bad qos", func() error { return client.Publish("a/b", []byte("x"), 3, false) }, ErrInvalidQoS},
		{"publish oversize", func() error { return client.Publish("a/b", make([]byte, maxPayloadSize+1), 1, false) }, ErrPublishFailed},
		{"publish disconnected", func() error { return client.Publish("a/b", []byte("x"), 1, false) }, ErrNotConnected},
		{"subscribe empty topic", func() error { return client.Subscribe("", 1, handler) }, ErrInvalidTopic},
		{"subscribe bad qos", func() error { return client.Subscribe("a/b", 3, handler) }, ErrInvalidQoS},
		{"subscribe nil handler", func() error { return client.Subscribe("a/b", 1, nil) }, ErrSubscribeFailed},
		{"subscribe disconnected", func() error { return client.Subscribe("a/+", 1, handler) }, ErrNotConnected},
		{"unsubscribe empty topic", func() error { return client.Unsubscribe("") }, ErrInvalidTopic},
		{"unsubscribe disconnected", func() error { return client.Unsubscribe("a/b") }, ErrNotConnected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.call(); !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestHealthCheck(t *testing.T) {
	client := newClient(testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := client.HealthCheck(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck() error = %v, want context.Canceled", err)
	}
	if err := client.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}
}

type recordingLogger struct {
	mu     sync.Mutex
	errors []string
	warns  []string
}

func (l *recordingLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	l.errors = append(l.errors, msg)
	l.mu.Unlock()
}

func (l *recordingLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	l.warns = append(l.warns, msg)
	l.mu.Unlock()
}

type stubMessage struct {
	topic   string
	payload []byte
}

func (m stubMessage) Duplicate() bool   { return false }
func (m stubMessage) Qos() byte         { return 1 }
func (m stubMessage) Retained() bool    { return false }
func (m stubMessage) Topic() string     { return m.topic }
func (m stubMessage) MessageID() uint16 { return 0 }
func (m stubMessage) Payload() []byte   { return m.payload }
func (m stubMessage) Ack()              {}

func TestWrapHandlerRecoversAndLogs(t *testing.T) {
	logger := &recordingLogger{}
	client := newClient(testConfig(), WithLogger(logger))

	var got string
	ok := client.wrapHandler(func(topic string, payload []byte) error {
		got = topic + " " + string(payload)
		return nil
	})
	ok(nil, stubMessage{topic: "graylogic/command/aqara/PLUG1", payload: []byte(`{"command":"on"}`)})
	if got != `graylogic/command/aqara/PLUG1 {"command":"on"}` {
		t.Errorf("handler saw %q", got)
	}

	failing := client.wrapHandler(func(string, []byte) error { return errors.New("bad payload") })
	failing(nil, stubMessage{topic: "graylogic/command/aqara/x"})

	panicking := client.wrapHandler(func(string, []byte) error { panic("boom") })
	panicking(nil, stubMessage{topic: "graylogic/command/aqara/x"})

	logger.mu.Lock()
	defer logger.mu.Unlock()
	if len(logger.warns) != 1 {
		t.Errorf("warns = %v, want one handler error", logger.warns)
	}
	if len(logger.errors) != 1 {
		t.Errorf("errors = %v, want one recovered panic", logger.errors)
	}
}

func TestWrapHandlerWithoutLogger(t *testing.T) {
	client := newClient(testConfig())
	// Must neither panic nor dereference a nil logger.
	client.wrapHandler(func(string, []byte) error { panic("boom") })(nil, stubMessage{topic: "t"})
	client.wrapHandler(func(string, []byte) error { return errors.New("x") })(nil, stubMessage{topic: "t"})
}

func TestTopicBuilders(t *testing.T) {
	const key = "LW0158d0001"
	tests := []struct {
		name     string
		got      string
		expected string
	}{
		{"BridgeState", Topics{}.BridgeState("aqara", key), "graylogic/state/aqara/" + key},
		{"BridgeCommand", Topics{}.BridgeCommand("aqara", key), "graylogic/command/aqara/" + key},
		{"BridgeAck", Topics{}.BridgeAck("aqara", key), "graylogic/ack/aqara/" + key},
		{"BridgeHealth", Topics{}.BridgeHealth("aqara"), "graylogic/health/aqara"},
		{"BridgeCommands", Topics{}.BridgeCommands("aqara"), "graylogic/command/aqara/+"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.expected {
				t.Errorf("%s() = %q, want %q", tt.name, tt.got, tt.expected)
			}
		})
	}
}

func TestConnectUnreachableBroker(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.Port = 19999

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	if _, err := Connect(ctx, cfg); !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestConnectAndClose(t *testing.T) {
	client := connectOrSkip(t, testConfig(), WithWill("graylogic/health/aqara-test", []byte(`{"status":"offline"}`)))

	if !client.IsConnected() {
		t.Fatal("IsConnected() = false, want true")
	}
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	if err := client.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after Close(), want false")
	}
}

func TestSubscribeUnsubscribe(t *testing.T) {
	client := connectOrSkip(t, testConfig())
	topic := Topics{}.BridgeCommands("aqara-test")

	if err := client.Subscribe(topic, 1, func(string, []byte) error { return nil }); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if client.SubscriptionCount() != 1 {
		t.Fatal("subscription not tracked")
	}

	if err := client.Unsubscribe(topic); err != nil {
		t.Fatalf("Unsubscribe() error = %v", err)
	}
	if client.SubscriptionCount() != 0 {
		t.Error("subscription still tracked after Unsubscribe()")
	}
}

func TestPublishSubscribeRoundtrip(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.ClientID = "graylogic-aqara-test-pub"
	pub := connectOrSkip(t, cfg)

	cfg.Broker.ClientID = "graylogic-aqara-test-sub"
	sub := connectOrSkip(t, cfg)

	received := make(chan string, 4)
	err := sub.Subscribe(Topics{}.BridgeCommands("aqara-test"), 1, func(topic string, payload []byte) error {
		received <- topic + " " + string(payload)
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	topic := Topics{}.BridgeCommand("aqara-test", "PLUG158d0002")
	if err := pub.Publish(topic, []byte(`{"command":"on"}`), 1, false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case got := <-received:
		if got != topic+` {"command":"on"}` {
			t.Errorf("received %q", got)
		}
	case <-time.After(5 * time.Second):
		t.Error("timeout waiting for message")
	}
}

func TestPublishAndClearRetained(t *testing.T) {
	client := connectOrSkip(t, testConfig())

	topic := Topics{}.BridgeState("aqara-test", "Tem158d0001")
	if err := client.Publish(topic, []byte(`{"temperature":21.5}`), 1, true); err != nil {
		t.Errorf("Publish() error = %v", err)
	}
	if err := client.Publish(topic, nil, 1, true); err != nil {
		t.Errorf("clearing retained message error = %v", err)
	}
}
