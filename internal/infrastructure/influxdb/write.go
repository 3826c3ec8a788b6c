package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by the bridge.
const (
	measurementAccessory = "aqara_accessory"
	measurementBridge    = "aqara_bridge"
)

// AccessoryReading is one decoded accessory update.
type AccessoryReading struct {
	Key       string
	DeviceID  string
	GatewayID string
	Kind      string
	Fields    map[string]any
	Time      time.Time
}

// WriteAccessoryReading queues the numeric and boolean fields of r.
// Readings with nothing plottable are dropped.
func (c *Client) WriteAccessoryReading(r AccessoryReading) {
	c.write(accessoryPoint(r))
}

// accessoryPoint converts a reading to a point, or nil when no field survives.
func accessoryPoint(r AccessoryReading) *write.Point {
	fields := make(map[string]any, len(r.Fields))
	for name, v := range r.Fields {
		switch val := v.(type) {
		case float64, float32, int, int64, uint8, uint32, uint64, bool:
			fields[name] = val
		case *float64:
			if val != nil {
				fields[name] = *val
			}
		}
	}
	if len(fields) == 0 {
		return nil
	}

	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	return write.NewPoint(
		measurementAccessory,
		map[string]string{
			"key":        r.Key,
			"device_id":  r.DeviceID,
			"gateway_id": r.GatewayID,
			"kind":       r.Kind,
		},
		fields,
		ts,
	)
}

// BridgeStats is one sample of the bridge counters.
type BridgeStats struct {
	BridgeID string
	Received uint64
	Sent     uint64
	Errors   uint64
	Devices  int
	Gateways int
}

// WriteBridgeStats queues a bridge counter sample stamped with the current time.
func (c *Client) WriteBridgeStats(s BridgeStats) {
	c.write(bridgePoint(s, time.Now()))
}

func bridgePoint(s BridgeStats, ts time.Time) *write.Point {
	return write.NewPoint(
		measurementBridge,
		map[string]string{"bridge_id": s.BridgeID},
		map[string]any{
			"messages_received": s.Received,
			"messages_sent":     s.Sent,
			"errors":            s.Errors,
			"devices":           s.Devices,
			"gateways":          s.Gateways,
		},
		ts,
	)
}
