package aqara

import "errors"

// Domain errors for the Aqara gateway bridge.
var (
	// ErrMalformedPayload is returned when the outer envelope or the nested
	// data string of a datagram is not valid JSON.
	ErrMalformedPayload = errors.New("aqara: malformed payload")

	// ErrMissingCredentials is returned when a write is requested for a
	// gateway whose password or session token is not known yet.
	ErrMissingCredentials = errors.New("aqara: gateway password or token unavailable")

	// ErrInvalidCredentials is returned when a password is not a valid
	// AES-128 key or a token is shorter than one cipher block.
	ErrInvalidCredentials = errors.New("aqara: invalid gateway credentials")

	// ErrUnknownDevice is returned when a command targets a device that has
	// not been discovered.
	ErrUnknownDevice = errors.New("aqara: unknown device")

	// ErrNoGatewayAddress is returned when a device is known but its gateway
	// has not announced a reply address.
	ErrNoGatewayAddress = errors.New("aqara: gateway address unknown")

	// ErrUnknownChannelState is reported when a switch channel reads "unknown".
	ErrUnknownChannelState = errors.New("aqara: channel state unknown")

	// ErrTransportClosed is returned when sending on a closed UDP transport.
	ErrTransportClosed = errors.New("aqara: transport closed")

	// ErrNotRunning is returned when a request needs the event loop but the
	// bridge has not been started or has already stopped.
	ErrNotRunning = errors.New("aqara: bridge not running")
)
