package mcp

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected marks requests abandoned because the tool server
	// process is gone or was disconnected.
	ErrNotConnected = errors.New("tool server not connected")

	// ErrRequestTimedOut marks requests whose response never arrived
	// within the per-request timeout.
	ErrRequestTimedOut = errors.New("tool server request timed out")

	// ErrInvalidResponse marks responses missing expected fields.
	ErrInvalidResponse = errors.New("invalid tool server response")
)

// LaunchError wraps a failure to spawn the tool server process.
type LaunchError struct {
	Command string
	Err     error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("failed to launch tool server %q: %v", e.Command, e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }

// RPCError is a server-reported JSON-RPC error.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("tool server request failed (%d): %s", e.Code, e.Message)
}
