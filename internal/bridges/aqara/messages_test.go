package aqara

import (
	"encoding/json"
	"testing"
	"time"
)

func TestTopics(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"state", StateTopic("LW0158d0001"), "graylogic/state/aqara/LW0158d0001"},
		{"command", CommandTopic("PLUG158d0002"), "graylogic/command/aqara/PLUG158d0002"},
		{"ack", AckTopic("PLUG158d0002"), "graylogic/ack/aqara/PLUG158d0002"},
		{"health", HealthTopic(), "graylogic/health/aqara"},
		{"subscribe", CommandSubscribeTopic(), "graylogic/command/aqara/+"},
	}

	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s topic = %q, want %q", tt.name, tt.got, tt.want)
		}
	}
}

func TestKeyFromTopic(t *testing.T) {
	tests := []struct {
		topic  string
		want   string
		wantOK bool
	}{
		{"graylogic/command/aqara/LW0158d0001", "LW0158d0001", true},
		{"graylogic/command/aqara/", "", false},
		{"graylogic/command/aqara/a/b", "", false},
		{"graylogic/command/knx/LW0158d0001", "", false},
		{"graylogic/state/aqara/LW0158d0001", "", false},
	}

	for _, tt := range tests {
		got, ok := KeyFromTopic(tt.topic)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("KeyFromTopic(%q) = (%q, %v), want (%q, %v)", tt.topic, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestCommandMessageJSON(t *testing.T) {
	data := []byte(`{"id":"cmd-1","timestamp":"2026-03-01T12:00:00Z","key":"LW0DEV2","command":"on","source":"api"}`)

	var cmd CommandMessage
	if err := json.Unmarshal(data, &cmd); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if cmd.ID != "cmd-1" || cmd.Key != "LW0DEV2" || cmd.Command != CommandOn {
		t.Errorf("decoded = %+v", cmd)
	}
	if !cmd.Timestamp.Equal(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("Timestamp = %v, want 2026-03-01T12:00:00Z", cmd.Timestamp)
	}
}

func TestNewAckError(t *testing.T) {
	cmd := CommandMessage{ID: "cmd-9", Key: "PLUGP1", Command: "explode"}

	ack := NewAckError(cmd, ErrCodeInvalidCommand, "unsupported command")
	if ack.CommandID != "cmd-9" || ack.Key != "PLUGP1" || ack.Protocol != "aqara" {
		t.Errorf("ack = %+v", ack)
	}
	if ack.Status != AckFailed {
		t.Errorf("Status = %q, want failed", ack.Status)
	}
	if ack.Error == nil || ack.Error.Code != ErrCodeInvalidCommand {
		t.Errorf("Error = %+v, want INVALID_COMMAND", ack.Error)
	}
}

func TestNewHealthMessage(t *testing.T) {
	start := time.Now().Add(-90 * time.Second)
	msg := NewHealthMessage("b1", "1.2.3", HealthHealthy, TransportStats{PacketsRx: 7, PacketsTx: 3}, 4, 1, start)

	if msg.UptimeSeconds < 89 || msg.UptimeSeconds > 91 {
		t.Errorf("UptimeSeconds = %d, want about 90", msg.UptimeSeconds)
	}
	if msg.Statistics.MessagesReceived != 7 || msg.Statistics.MessagesSent != 3 {
		t.Errorf("Statistics = %+v", msg.Statistics)
	}
	if msg.DevicesManaged != 4 || msg.GatewaysManaged != 1 {
		t.Errorf("managed = %d/%d, want 4/1", msg.DevicesManaged, msg.GatewaysManaged)
	}
}
