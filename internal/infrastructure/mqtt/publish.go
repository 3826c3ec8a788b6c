package mqtt

import (
	"context"
	"fmt"
	"strings"
)

// Publish sends payload to topic and waits for the broker's acknowledgement
// at the given QoS. Wildcards are rejected. A nil payload with retained set
// clears the retained message on topic.
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if err := checkTopic(topic, false); err != nil {
		return err
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: %d byte payload exceeds %d", ErrPublishFailed, len(payload), maxPayloadSize)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	if err := wait(context.Background(), c.paho.Publish(topic, qos, retained, payload), operationTimeout); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrPublishFailed, topic, err)
	}
	return nil
}

// checkTopic validates a publish topic, or a subscription filter when
// filter is true.
func checkTopic(topic string, filter bool) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if !filter && strings.ContainsAny(topic, "+#") {
		return fmt.Errorf("%w: wildcard in publish topic %q", ErrInvalidTopic, topic)
	}
	return nil
}
