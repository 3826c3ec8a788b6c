package influxdb_test

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"

	"github.com/nerrad567/gray-logic-aqara/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-aqara/internal/infrastructure/influxdb"
)

// testConfig points at a local dev InfluxDB.
func testConfig() config.InfluxDBConfig {
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           "http://127.0.0.1:8086",
		Token:         "graylogic-dev-token",
		Org:           "graylogic",
		Bucket:        "aqara",
		BatchSize:     10,
		FlushInterval: 1,
	}
}

// connectOrSkip returns a live client, or skips unless RUN_INTEGRATION demands one.
func connectOrSkip(t *testing.T) *influxdb.Client {
	t.Helper()
	client, err := influxdb.Connect(context.Background(), testConfig())
	if err != nil {
		if os.Getenv("RUN_INTEGRATION") != "" {
			t.Fatalf("Connect() error = %v", err)
		}
		t.Skip("InfluxDB not available, skipping integration test")
	}
	t.Cleanup(func() { client.Close() }) //nolint:errcheck // Test cleanup
	return client
}

func TestConnectDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false

	if _, err := influxdb.Connect(context.Background(), cfg); !errors.Is(err, influxdb.ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnectUnreachable(t *testing.T) {
	cfg := testConfig()
	cfg.URL = "http://127.0.0.1:1"

	if _, err := influxdb.Connect(context.Background(), cfg); !errors.Is(err, influxdb.ErrUnreachable) {
		t.Errorf("Connect() error = %v, want ErrUnreachable", err)
	}
}

func TestConnectCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := influxdb.Connect(ctx, testConfig()); !errors.Is(err, influxdb.ErrUnreachable) {
		t.Errorf("Connect() error = %v, want ErrUnreachable", err)
	}
}

func TestWriteAndClose(t *testing.T) {
	client := connectOrSkip(t)

	var (
		mu       sync.Mutex
		writeErr error
	)
	client.SetOnError(func(err error) {
		mu.Lock()
		writeErr = err
		mu.Unlock()
	})

	if err := client.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck() error = %v", err)
	}

	client.WriteAccessoryReading(influxdb.AccessoryReading{
		Key:       "Tem158d0001",
		DeviceID:  "158d0001",
		GatewayID: "34ce00fa3f4b",
		Kind:      "temperature",
		Fields:    map[string]any{"temperature": 21.5},
	})
	client.WriteBridgeStats(influxdb.BridgeStats{BridgeID: "aqara-bridge-test", Received: 1, Devices: 1, Gateways: 1})
	client.Flush()

	if err := client.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after Close()")
	}
	if err := client.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if writeErr != nil {
		t.Errorf("write error = %v", writeErr)
	}
}
