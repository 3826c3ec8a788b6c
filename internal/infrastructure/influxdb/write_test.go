package influxdb

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

func TestAccessoryPoint(t *testing.T) {
	temp := 21.5
	ts := time.Unix(1700000000, 0)

	point := accessoryPoint(AccessoryReading{
		Key:       "lumi-158d0001a2b3c4-temperature",
		DeviceID:  "158d0001a2b3c4",
		GatewayID: "GW1",
		Kind:      "temperature",
		Fields:    map[string]any{"temperature": &temp, "label": "ignored"},
		Time:      ts,
	})
	if point == nil {
		t.Fatal("accessoryPoint() = nil")
	}

	got := write.PointToLineProtocol(point, time.Second)
	want := "aqara_accessory,device_id=158d0001a2b3c4,gateway_id=GW1,key=lumi-158d0001a2b3c4-temperature,kind=temperature temperature=21.5 1700000000"
	if !strings.HasPrefix(got, want) {
		t.Errorf("line protocol = %q, want prefix %q", got, want)
	}
}

func TestAccessoryPointBool(t *testing.T) {
	point := accessoryPoint(AccessoryReading{
		Key:    "lumi-1-ch0",
		Kind:   "switch",
		Fields: map[string]any{"on": true},
		Time:   time.Unix(1700000000, 0),
	})
	if point == nil {
		t.Fatal("accessoryPoint() = nil")
	}
	if got := write.PointToLineProtocol(point, time.Second); !strings.Contains(got, " on=true ") {
		t.Errorf("line protocol = %q, want on=true field", got)
	}
}

func TestAccessoryPointNothingPlottable(t *testing.T) {
	tests := []struct {
		name   string
		fields map[string]any
	}{
		{"nil map", nil},
		{"nil pointer", map[string]any{"temperature": (*float64)(nil)}},
		{"strings only", map[string]any{"status": "unknown"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if p := accessoryPoint(AccessoryReading{Key: "k", Fields: tt.fields}); p != nil {
				t.Errorf("accessoryPoint() = %v, want nil", p)
			}
		})
	}
}

func TestBridgePoint(t *testing.T) {
	point := bridgePoint(BridgeStats{
		BridgeID: "aqara-bridge",
		Received: 10,
		Sent:     4,
		Errors:   1,
		Devices:  3,
		Gateways: 1,
	}, time.Unix(1700000000, 0))
	got := write.PointToLineProtocol(point, time.Second)

	for _, part := range []string{"aqara_bridge,bridge_id=aqara-bridge ", "devices=3i", "gateways=1i", "messages_received=10"} {
		if !strings.Contains(got, part) {
			t.Errorf("line protocol = %q, missing %q", got, part)
		}
	}
}

func TestWritesDroppedWhenClosed(t *testing.T) {
	var c *Client
	if c.IsConnected() {
		t.Error("nil client reports connected")
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close() on nil client = %v", err)
	}

	c = &Client{}
	c.closed.Store(true)
	// Must not touch the nil write API.
	c.WriteAccessoryReading(AccessoryReading{Key: "k", Fields: map[string]any{"v": 1.0}})
	c.WriteBridgeStats(BridgeStats{BridgeID: "b"})
	c.Flush()
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("HealthCheck() = %v, want ErrClosed", err)
	}
}

func TestDrainErrorsCountsAndForwards(t *testing.T) {
	c := &Client{bucket: "aqara"}
	var got []error
	c.SetOnError(func(err error) { got = append(got, err) })

	errs := make(chan error, 2)
	errs <- errors.New("timeout")
	errs <- errors.New("401")
	close(errs)
	c.drainErrors(errs)

	if c.WriteErrors() != 2 {
		t.Errorf("WriteErrors() = %d, want 2", c.WriteErrors())
	}
	if len(got) != 2 || !strings.Contains(got[0].Error(), "bucket aqara") {
		t.Errorf("forwarded errors = %v", got)
	}
}
