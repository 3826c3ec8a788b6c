package mqtt

import (
	"context"
	"fmt"
)

// Subscribe registers handler for topic, which may contain + and # wildcards.
// paho runs handlers on its own goroutine; they should return quickly.
// The subscription is replayed after every reconnect until Unsubscribe.
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	if err := checkTopic(topic, true); err != nil {
		return err
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if handler == nil {
		return fmt.Errorf("%w: nil handler", ErrSubscribeFailed)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := wait(context.Background(), c.paho.Subscribe(topic, qos, c.wrapHandler(handler)), operationTimeout); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrSubscribeFailed, topic, err)
	}
	c.subs[topic] = subscription{qos: qos, handler: handler}
	return nil
}

// Unsubscribe drops topic. Messages already in flight may still be delivered.
func (c *Client) Unsubscribe(topic string) error {
	if err := checkTopic(topic, true); err != nil {
		return err
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.mu.Lock()
	delete(c.subs, topic)
	c.mu.Unlock()

	if err := wait(context.Background(), c.paho.Unsubscribe(topic), operationTimeout); err != nil {
		return fmt.Errorf("%w: unsubscribing %s: %w", ErrSubscribeFailed, topic, err)
	}
	return nil
}

// SubscriptionCount returns how many filters are replayed on reconnect.
func (c *Client) SubscriptionCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}
