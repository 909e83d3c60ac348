package luart

import "errors"

// Sentinel errors for the Lua runtime layer.
var (
	// ErrRefTableClosed is returned when holding a reference after Close.
	ErrRefTableClosed = errors.New("lua ref table is closed")

	// ErrRefTableFull is returned when the ref table's capacity is
	// exhausted.
	ErrRefTableFull = errors.New("lua ref table is full")

	// ErrNotAFunction is returned when a dispatched handler is not a Lua
	// function.
	ErrNotAFunction = errors.New("handler is not a lua function")

	// ErrExecutorClosed is returned when attempting to use a closed
	// executor.
	ErrExecutorClosed = errors.New("lua executor is closed")

	// ErrQueueFull is returned when the executor queue cannot accept more
	// work.
	ErrQueueFull = errors.New("lua executor queue is full")
)
