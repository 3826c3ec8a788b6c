package aqara

import (
	"strings"
	"time"

	"github.com/nerrad567/gray-logic-aqara/internal/infrastructure/mqtt"
)

// Protocol is the protocol name used in MQTT topics and messages.
const Protocol = "aqara"

// TopicPrefix is the root of every Gray Logic topic.
const TopicPrefix = mqtt.TopicPrefixBridge

// CommandMessage is a command received from Core for one accessory.
type CommandMessage struct {
	// ID correlates the command with its acknowledgement.
	ID string `json:"id"`

	Timestamp time.Time `json:"timestamp"`

	// Key is the accessory key, e.g. "LW0158d0001".
	Key string `json:"key"`

	// Command is one of "on", "off", "toggle", "set_brightness".
	Command string `json:"command"`

	Parameters map[string]any `json:"parameters,omitempty"`

	Source string `json:"source,omitempty"`
}

// Supported commands.
const (
	CommandOn            = "on"
	CommandOff           = "off"
	CommandToggle        = "toggle"
	CommandSetBrightness = "set_brightness"
)

// AckStatus represents the status of a command acknowledgement.
type AckStatus string

const (
	// AckAccepted means the write was handed to the gateway.
	AckAccepted AckStatus = "accepted"

	// AckFailed means the command was rejected before transmission.
	AckFailed AckStatus = "failed"
)

// AckMessage acknowledges a command.
type AckMessage struct {
	CommandID string    `json:"command_id"`
	Timestamp time.Time `json:"timestamp"`
	Key       string    `json:"key"`
	Status    AckStatus `json:"status"`
	Protocol  string    `json:"protocol"`
	Error     *AckError `json:"error,omitempty"`
}

// AckError describes why a command failed.
type AckError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes for command failures.
const (
	ErrCodeInvalidCommand    = "INVALID_COMMAND"
	ErrCodeInvalidParameters = "INVALID_PARAMETERS"
	ErrCodeNotConfigured     = "NOT_CONFIGURED"
)

// StateMessage publishes the current state of one accessory.
type StateMessage struct {
	Key       string         `json:"key"`
	DeviceID  string         `json:"device_id"`
	GatewayID string         `json:"gateway_id"`
	Kind      string         `json:"kind"`
	Name      string         `json:"name"`
	Timestamp time.Time      `json:"timestamp"`
	State     map[string]any `json:"state"`
	Protocol  string         `json:"protocol"`
}

// HealthStatus represents the health state of the bridge.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthOffline  HealthStatus = "offline"
	HealthStarting HealthStatus = "starting"
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage is published periodically to report bridge health.
type HealthMessage struct {
	Bridge          string            `json:"bridge"`
	Timestamp       time.Time         `json:"timestamp"`
	Status          HealthStatus      `json:"status"`
	Version         string            `json:"version"`
	UptimeSeconds   int64             `json:"uptime_seconds"`
	Statistics      *BridgeStatistics `json:"statistics,omitempty"`
	DevicesManaged  int               `json:"devices_managed"`
	GatewaysManaged int               `json:"gateways_managed"`
	Reason          string            `json:"reason,omitempty"`
}

// BridgeStatistics contains datagram counters.
type BridgeStatistics struct {
	MessagesReceived uint64 `json:"messages_received"`
	MessagesSent     uint64 `json:"messages_sent"`
	Errors           uint64 `json:"errors"`
}

// NewAckMessage creates an acknowledgement for a command.
func NewAckMessage(cmd CommandMessage, status AckStatus) AckMessage {
	return AckMessage{
		CommandID: cmd.ID,
		Timestamp: time.Now().UTC(),
		Key:       cmd.Key,
		Status:    status,
		Protocol:  Protocol,
	}
}

// NewAckError creates a failed acknowledgement.
func NewAckError(cmd CommandMessage, code, message string) AckMessage {
	ack := NewAckMessage(cmd, AckFailed)
	ack.Error = &AckError{Code: code, Message: message}
	return ack
}

// NewHealthMessage builds a health message from transport counters.
func NewHealthMessage(bridgeID, version string, status HealthStatus, stats TransportStats, devices, gateways int, startTime time.Time) HealthMessage {
	return HealthMessage{
		Bridge:        bridgeID,
		Timestamp:     time.Now().UTC(),
		Status:        status,
		Version:       version,
		UptimeSeconds: int64(time.Since(startTime).Seconds()),
		Statistics: &BridgeStatistics{
			MessagesReceived: stats.PacketsRx,
			MessagesSent:     stats.PacketsTx,
			Errors:           stats.ErrorsTotal,
		},
		DevicesManaged:  devices,
		GatewaysManaged: gateways,
	}
}

// NewLWTMessage creates the Last Will and Testament message.
func NewLWTMessage(bridgeID string) HealthMessage {
	return HealthMessage{
		Bridge:    bridgeID,
		Timestamp: time.Now().UTC(),
		Status:    HealthOffline,
		Reason:    "unexpected_disconnect",
	}
}

// StateTopic returns the retained state topic of an accessory.
//
// Example: graylogic/state/aqara/LW0158d0001
func StateTopic(key string) string {
	return mqtt.Topics{}.BridgeState(Protocol, key)
}

// CommandTopic returns the command topic of an accessory.
func CommandTopic(key string) string {
	return mqtt.Topics{}.BridgeCommand(Protocol, key)
}

// AckTopic returns the acknowledgement topic of an accessory.
func AckTopic(key string) string {
	return mqtt.Topics{}.BridgeAck(Protocol, key)
}

// HealthTopic returns the bridge health topic.
func HealthTopic() string {
	return mqtt.Topics{}.BridgeHealth(Protocol)
}

// CommandSubscribeTopic returns the wildcard for all accessory commands.
func CommandSubscribeTopic() string {
	return mqtt.Topics{}.BridgeCommands(Protocol)
}

// KeyFromTopic extracts the accessory key from a command topic.
func KeyFromTopic(topic string) (string, bool) {
	prefix := strings.TrimSuffix(CommandSubscribeTopic(), "+")
	if !strings.HasPrefix(topic, prefix) {
		return "", false
	}
	key := strings.TrimPrefix(topic, prefix)
	if key == "" || strings.Contains(key, "/") {
		return "", false
	}
	return key, true
}
