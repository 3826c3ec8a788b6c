package influxdb

import "errors"

var (
	// ErrDisabled is returned by Connect when influxdb.enabled is false.
	ErrDisabled = errors.New("influxdb: disabled in configuration")

	// ErrUnreachable means the server did not answer a ping.
	ErrUnreachable = errors.New("influxdb: server unreachable")

	// ErrClosed is returned by HealthCheck after Close.
	ErrClosed = errors.New("influxdb: client closed")
)
