package accessory

import "errors"

var (
	// ErrNotFound is returned when no accessory has the requested key.
	ErrNotFound = errors.New("accessory: not found")

	// ErrNotControllable is returned when a command targets a read-only
	// accessory or one whose handle is not known yet.
	ErrNotControllable = errors.New("accessory: not controllable")

	// ErrQueueFull is returned when the outbound worker queue is saturated.
	ErrQueueFull = errors.New("accessory: outbound queue full")
)

var (
	// ErrInvalidCommand is returned for a command name the accessory does not support.
	ErrInvalidCommand = errors.New("accessory: invalid command")

	// ErrInvalidParameters is returned when command parameters are missing or out of range.
	ErrInvalidParameters = errors.New("accessory: invalid parameters")
)
