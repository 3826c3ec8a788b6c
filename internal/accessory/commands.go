package accessory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nerrad567/gray-logic-aqara/internal/audit"
	"github.com/nerrad567/gray-logic-aqara/internal/bridges/aqara"
)

const paramBrightness = "brightness"

// Execute applies a command to the accessory named by cmd.Key and records
// the outcome. Writes are asynchronous: success means the command was
// handed to the bridge.
func (m *Manager) Execute(cmd aqara.CommandMessage) error {
	deviceID, err := m.execute(cmd)
	m.audited(cmd, deviceID, err)
	return err
}

func (m *Manager) execute(cmd aqara.CommandMessage) (string, error) {
	m.mu.RLock()
	a, ok := m.accessories[cmd.Key]
	var (
		sw       aqara.SwitchHandle
		lt       aqara.LightHandle
		on       bool
		kind     Kind
		deviceID string
	)
	if ok {
		sw = m.switches[cmd.Key]
		lt = m.lights[cmd.Key]
		on, _ = a.State[StateOn].(bool)
		kind = a.Kind
		deviceID = a.DeviceID
	}
	m.mu.RUnlock()

	if !ok {
		return deviceID, fmt.Errorf("%w: %s", ErrNotFound, cmd.Key)
	}
	if !kind.Controllable() {
		return deviceID, fmt.Errorf("%w: %s", ErrNotControllable, cmd.Key)
	}

	switch cmd.Command {
	case aqara.CommandOn, aqara.CommandOff, aqara.CommandToggle:
		target := cmd.Command == aqara.CommandOn
		if cmd.Command == aqara.CommandToggle {
			target = !on
		}
		switch {
		case sw != nil:
			sw.Send(target)
		case lt != nil:
			lt.SetOn(target)
		default:
			return deviceID, m.commandChannel(cmd.Key, deviceID, target)
		}
		return deviceID, nil

	case aqara.CommandSetBrightness:
		if lt == nil {
			return deviceID, fmt.Errorf("%w: %s has no brightness", ErrNotControllable, cmd.Key)
		}
		level, err := brightnessParam(cmd.Parameters)
		if err != nil {
			return deviceID, err
		}
		lt.SetBrightness(level)
		return deviceID, nil

	default:
		return deviceID, fmt.Errorf("%w: %q", ErrInvalidCommand, cmd.Command)
	}
}

// commandChannel switches a channel whose device has not reported since
// startup, so no handle is known yet. The bridge creates the commander.
func (m *Manager) commandChannel(key, deviceID string, on bool) error {
	m.mu.RLock()
	channels := m.channels
	m.mu.RUnlock()

	channel, ok := aqara.ChannelForKey(key, deviceID)
	if channels == nil || !ok {
		return fmt.Errorf("%w: %s", ErrNotControllable, key)
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	if err := channels.SetChannel(ctx, deviceID, channel, on); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrNotControllable, key, err)
	}
	return nil
}

func brightnessParam(params map[string]any) (uint8, error) {
	raw, ok := params[paramBrightness]
	if !ok {
		return 0, fmt.Errorf("%w: brightness is required", ErrInvalidParameters)
	}
	v, ok := raw.(float64)
	if !ok || v < 0 || v > 100 || v != float64(int(v)) {
		return 0, fmt.Errorf("%w: brightness must be an integer 0-100", ErrInvalidParameters)
	}
	return uint8(v), nil
}

// handleCommand processes one MQTT command and publishes its ack.
func (m *Manager) handleCommand(topic string, payload []byte) error {
	key, ok := aqara.KeyFromTopic(topic)
	if !ok {
		return fmt.Errorf("unexpected command topic %q", topic)
	}

	var cmd aqara.CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		cmd.Key = key
		m.publishAck(aqara.NewAckError(cmd, aqara.ErrCodeInvalidCommand, "malformed command payload"))
		return fmt.Errorf("parsing command for %s: %w", key, err)
	}
	// The topic is authoritative for the target.
	cmd.Key = key

	if err := m.Execute(cmd); err != nil {
		m.publishAck(aqara.NewAckError(cmd, ackCode(err), err.Error()))
		m.logWarn("command rejected", "key", key, "command", cmd.Command, "error", err)
		return nil
	}

	m.logDebug("command accepted", "key", key, "command", cmd.Command)
	m.publishAck(aqara.NewAckMessage(cmd, aqara.AckAccepted))
	return nil
}

// audited queues an audit entry for one command.
func (m *Manager) audited(cmd aqara.CommandMessage, deviceID string, err error) {
	if m.audit == nil {
		return
	}
	source := cmd.Source
	if source == "" {
		source = "mqtt"
	}
	e := &audit.Entry{
		Action:   audit.ActionCommand,
		Key:      cmd.Key,
		DeviceID: deviceID,
		Source:   source,
		Status:   audit.StatusAccepted,
		Details:  map[string]any{"command": cmd.Command, "command_id": cmd.ID},
	}
	if len(cmd.Parameters) > 0 {
		e.Details["parameters"] = cmd.Parameters
	}
	if err != nil {
		e.Status = audit.StatusFailed
		e.Details["error"] = err.Error()
	}
	m.enqueue(func(ctx context.Context) { m.record(ctx, e) })
}

func ackCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidParameters):
		return aqara.ErrCodeInvalidParameters
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrNotControllable):
		return aqara.ErrCodeNotConfigured
	default:
		return aqara.ErrCodeInvalidCommand
	}
}

func (m *Manager) publishAck(ack aqara.AckMessage) {
	payload, err := json.Marshal(ack)
	if err != nil {
		m.logError("failed to marshal ack", err, "key", ack.Key)
		return
	}
	m.publish(aqara.AckTopic(ack.Key), payload, false)
}

func (m *Manager) logDebug(msg string, keysAndValues ...any) {
	if m.logger != nil {
		m.logger.Debug(msg, keysAndValues...)
	}
}
