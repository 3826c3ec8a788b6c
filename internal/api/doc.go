// Package api implements the HTTP status API of the Aqara bridge.
//
// It exposes:
//   - GET /api/v1/health: liveness plus gateway and device counts
//   - GET /api/v1/metrics: a JSON status document (runtime, MQTT, bridge counters)
//   - GET /api/v1/devices and /api/v1/gateways: the bridge registry
//   - GET /api/v1/accessories[/{key}]: published accessories and their state
//   - POST /api/v1/accessories/{key}/command: on, off, toggle, set_brightness
//   - GET /api/v1/audit: commands and evictions, newest first
//   - GET /metrics: Prometheus exposition
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Commands take the same path as MQTT commands, so a 202 means the write
// was handed to the bridge, not that the gateway applied it.
package api
