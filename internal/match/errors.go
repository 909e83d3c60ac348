package match

import "errors"

// Sentinel errors for match construction.
var (
	// ErrNilSpec is returned when a nil filter spec is supplied.
	ErrNilSpec = errors.New("filter spec cannot be nil")

	// ErrNilHandler is returned when a nil handler is supplied.
	ErrNilHandler = errors.New("handler cannot be nil")

	// ErrNilConnection is returned when a nil connection is supplied.
	ErrNilConnection = errors.New("connection cannot be nil")
)

// ValidationError reports a malformed filter description. Construction
// stops at the first violation; nothing is registered.
type ValidationError struct {
	// Reason describes the first violation encountered.
	Reason string

	// Err is an optional underlying sentinel.
	Err error
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return "invalid match rule: " + e.Reason
}

// Unwrap returns the underlying error, if any.
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// RegistrationError reports that the bus connection rejected a validated
// rule.
type RegistrationError struct {
	// Err is the connection's rejection.
	Err error
}

// Error implements the error interface.
func (e *RegistrationError) Error() string {
	return "failed to register match rule: " + e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *RegistrationError) Unwrap() error {
	return e.Err
}

// AllocationError reports that internal bookkeeping could not be
// constructed. Anything already allocated in the failing call has been
// rolled back.
type AllocationError struct {
	// Err is the underlying failure.
	Err error
}

// Error implements the error interface.
func (e *AllocationError) Error() string {
	return "failed to allocate match bookkeeping: " + e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *AllocationError) Unwrap() error {
	return e.Err
}

// HandlerError wraps an error raised by a subscriber's handler during
// dispatch. It is logged and suppressed, never surfaced to the bus.
type HandlerError struct {
	// MatchID identifies the match whose handler failed.
	MatchID string

	// Err is the handler's error.
	Err error
}

// Error implements the error interface.
func (e *HandlerError) Error() string {
	return "match callback error for " + e.MatchID + ": " + e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *HandlerError) Unwrap() error {
	return e.Err
}
