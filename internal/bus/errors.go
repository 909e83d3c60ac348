package bus

import "errors"

// Sentinel errors for the bus connection.
var (
	// ErrConnectionClosed is returned when operations are attempted on a
	// closed connection.
	ErrConnectionClosed = errors.New("bus connection is closed")

	// ErrNilRule is returned when a nil rule is registered.
	ErrNilRule = errors.New("match rule cannot be nil")

	// ErrNilDispatch is returned when a nil dispatch function is registered.
	ErrNilDispatch = errors.New("dispatch function cannot be nil")

	// ErrUnknownHandle is returned when unregistering a handle that is not
	// registered.
	ErrUnknownHandle = errors.New("unknown match handle")

	// ErrMatchLimit is returned when the connection's match registration
	// limit is exhausted.
	ErrMatchLimit = errors.New("match registration limit reached")
)
