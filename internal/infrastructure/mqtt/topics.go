package mqtt

import "fmt"

// TopicPrefixBridge is the root of every bridge topic. Bridge topics follow
// graylogic/{category}/{protocol}/{key}.
const TopicPrefixBridge = "graylogic"

// Topics builds bridge topic names.
//
//	mqtt.Topics{}.BridgeState("aqara", "PLUG158d0002")
//	// graylogic/state/aqara/PLUG158d0002
type Topics struct{}

// BridgeState is the retained state topic of one accessory.
func (Topics) BridgeState(protocol, key string) string {
	return fmt.Sprintf("%s/state/%s/%s", TopicPrefixBridge, protocol, key)
}

// BridgeCommand is the command topic of one accessory.
func (Topics) BridgeCommand(protocol, key string) string {
	return fmt.Sprintf("%s/command/%s/%s", TopicPrefixBridge, protocol, key)
}

// BridgeAck is the acknowledgement topic of one accessory.
func (Topics) BridgeAck(protocol, key string) string {
	return fmt.Sprintf("%s/ack/%s/%s", TopicPrefixBridge, protocol, key)
}

// BridgeHealth is the retained health topic of a bridge.
func (Topics) BridgeHealth(protocol string) string {
	return fmt.Sprintf("%s/health/%s", TopicPrefixBridge, protocol)
}

// BridgeCommands matches every command topic of one protocol.
func (Topics) BridgeCommands(protocol string) string {
	return fmt.Sprintf("%s/command/%s/+", TopicPrefixBridge, protocol)
}
