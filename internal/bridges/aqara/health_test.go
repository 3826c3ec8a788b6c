package aqara

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// mockPublisher implements HealthPublisher for testing.
type mockPublisher struct {
	mu        sync.Mutex
	connected bool
	messages  []publishedMessage
}

type publishedMessage struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

func newMockPublisher(connected bool) *mockPublisher {
	return &mockPublisher{connected: connected}
}

func (m *mockPublisher) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, publishedMessage{
		topic:    topic,
		payload:  payload,
		qos:      qos,
		retained: retained,
	})
	return nil
}

func (m *mockPublisher) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *mockPublisher) getMessages() []publishedMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]publishedMessage, len(m.messages))
	copy(result, m.messages)
	return result
}

func decodeHealth(t *testing.T, payload []byte) HealthMessage {
	t.Helper()
	var health HealthMessage
	if err := json.Unmarshal(payload, &health); err != nil {
		t.Fatalf("failed to unmarshal health message: %v", err)
	}
	return health
}

func TestNewHealthReporterDefaults(t *testing.T) {
	hr := NewHealthReporter(HealthReporterConfig{BridgeID: "test-bridge"})
	if hr.cfg.Interval != defaultHealthInterval {
		t.Errorf("interval = %v, want %v", hr.cfg.Interval, defaultHealthInterval)
	}
	if hr.cfg.Now == nil {
		t.Error("clock should default to time.Now")
	}

	hr = NewHealthReporter(HealthReporterConfig{BridgeID: "test-bridge", Interval: 5 * time.Second})
	if hr.cfg.Interval != 5*time.Second {
		t.Errorf("interval = %v, want 5s", hr.cfg.Interval)
	}
}

func TestHealthReporterPublishNow(t *testing.T) {
	pub := newMockPublisher(true)
	transport := newMockTransport()
	transport.stats = TransportStats{PacketsRx: 500, PacketsTx: 100, ErrorsTotal: 2, Open: true}

	hr := NewHealthReporter(HealthReporterConfig{
		BridgeID:  "health-test",
		Version:   "2.0.0",
		Publisher: pub,
		Transport: transport,
		Counts:    func() (int, int) { return 12, 1 },
	})

	if err := hr.PublishNow(); err != nil {
		t.Fatalf("PublishNow failed: %v", err)
	}

	messages := pub.getMessages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}

	msg := messages[0]
	if msg.topic != "graylogic/health/aqara" {
		t.Errorf("topic = %q, want graylogic/health/aqara", msg.topic)
	}
	if msg.qos != 1 || !msg.retained {
		t.Errorf("qos/retained = %d/%v, want 1/true", msg.qos, msg.retained)
	}

	health := decodeHealth(t, msg.payload)
	if health.Status != HealthHealthy {
		t.Errorf("Status = %q, want %q", health.Status, HealthHealthy)
	}
	if health.DevicesManaged != 12 || health.GatewaysManaged != 1 {
		t.Errorf("managed = %d/%d, want 12/1", health.DevicesManaged, health.GatewaysManaged)
	}
	if health.Statistics == nil || health.Statistics.MessagesReceived != 500 || health.Statistics.Errors != 2 {
		t.Errorf("Statistics = %+v, want rx=500 errors=2", health.Statistics)
	}
}

func TestHealthReporterDetermineStatus(t *testing.T) {
	tests := []struct {
		name       string
		connected  bool
		open       bool
		gateways   int
		wantStatus HealthStatus
		wantReason string
	}{
		{"healthy", true, true, 1, HealthHealthy, ""},
		{"mqtt down", false, true, 1, HealthDegraded, "MQTT disconnected"},
		{"mqtt down wins over socket", false, false, 0, HealthDegraded, "MQTT disconnected"},
		{"socket closed", true, false, 1, HealthDegraded, "UDP socket closed"},
		{"no gateway heard", true, true, 0, HealthDegraded, "no gateways discovered"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			transport := newMockTransport()
			transport.stats.Open = tt.open
			gateways := tt.gateways

			hr := NewHealthReporter(HealthReporterConfig{
				BridgeID:  "test-bridge",
				Publisher: newMockPublisher(tt.connected),
				Transport: transport,
				Counts:    func() (int, int) { return 3, gateways },
			})

			status, reason := hr.determineStatus()
			if status != tt.wantStatus {
				t.Errorf("status = %q, want %q", status, tt.wantStatus)
			}
			if reason != tt.wantReason {
				t.Errorf("reason = %q, want %q", reason, tt.wantReason)
			}
		})
	}
}

func TestHealthReporterPublishStarting(t *testing.T) {
	pub := newMockPublisher(true)
	hr := NewHealthReporter(HealthReporterConfig{BridgeID: "test-bridge", Publisher: pub})

	if err := hr.PublishStarting(); err != nil {
		t.Fatalf("PublishStarting failed: %v", err)
	}

	messages := pub.getMessages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}
	if health := decodeHealth(t, messages[0].payload); health.Status != HealthStarting {
		t.Errorf("Status = %q, want %q", health.Status, HealthStarting)
	}
}

func TestHealthReporterUsesClock(t *testing.T) {
	pub := newMockPublisher(true)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	hr := NewHealthReporter(HealthReporterConfig{BridgeID: "clocked", Publisher: pub, Now: clock})
	now = now.Add(90 * time.Second)

	if err := hr.PublishNow(); err != nil {
		t.Fatalf("PublishNow failed: %v", err)
	}
	health := decodeHealth(t, pub.getMessages()[0].payload)
	if health.UptimeSeconds != 90 {
		t.Errorf("UptimeSeconds = %d, want 90", health.UptimeSeconds)
	}
	if !health.Timestamp.Equal(now) {
		t.Errorf("Timestamp = %v, want %v", health.Timestamp, now)
	}
}

func TestHealthReporterStartStop(t *testing.T) {
	pub := newMockPublisher(true)

	hr := NewHealthReporter(HealthReporterConfig{
		BridgeID:  "lifecycle-test",
		Interval:  50 * time.Millisecond,
		Publisher: pub,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hr.Start(ctx)
	time.Sleep(150 * time.Millisecond)
	hr.Stop()
	hr.Stop()

	messages := pub.getMessages()
	// initial + at least one periodic + stopping
	if len(messages) < 3 {
		t.Errorf("expected at least 3 messages, got %d", len(messages))
	}

	last := decodeHealth(t, messages[len(messages)-1].payload)
	if last.Status != HealthStopping {
		t.Errorf("last Status = %q, want %q", last.Status, HealthStopping)
	}
}

func TestHealthReporterWithNoPublisher(t *testing.T) {
	hr := NewHealthReporter(HealthReporterConfig{BridgeID: "no-publisher"})

	if err := hr.PublishNow(); err != nil {
		t.Errorf("PublishNow with nil publisher should not error: %v", err)
	}
}

func TestBridgeHealthDegradedUntilGatewayHeard(t *testing.T) {
	transport := newMockTransport()
	b, err := NewBridge(BridgeOptions{
		Config:      createTestConfig(),
		Transport:   transport,
		Accessories: &mockAccessories{},
		Publisher:   newMockPublisher(true),
		Metrics:     NewMetrics(prometheus.NewRegistry()),
	})
	if err != nil {
		t.Fatalf("NewBridge() error: %v", err)
	}

	// GW1 has a configured password but has not sent anything yet.
	b.refreshCounts()
	if m := b.GetMetrics(); m.Gateways != 0 {
		t.Errorf("gateways before any traffic = %d, want 0", m.Gateways)
	}
	status, reason := b.health.determineStatus()
	if status != HealthDegraded || reason != "no gateways discovered" {
		t.Errorf("status = %q (%q), want degraded (no gateways discovered)", status, reason)
	}

	b.handlePacket(Packet{
		Data: []byte(`{"cmd":"iam","sid":"GW1","model":"gateway","ip":"10.0.0.5","port":"9999"}`),
		From: sourceAddr,
	})
	if m := b.GetMetrics(); m.Gateways != 1 {
		t.Errorf("gateways after iam = %d, want 1", m.Gateways)
	}
	if status, _ := b.health.determineStatus(); status != HealthHealthy {
		t.Errorf("status after iam = %q, want healthy", status)
	}
}
