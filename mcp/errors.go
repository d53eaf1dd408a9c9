package mcp

import "fmt"

// TransportErrorKind classifies how the channel to a provider failed.
type TransportErrorKind string

const (
	TransportTimeout      TransportErrorKind = "timeout"
	TransportDisconnected TransportErrorKind = "disconnected"
	TransportMalformed    TransportErrorKind = "malformed-response"
)

// TransportError reports a channel-level failure: the provider could not
// be reached, did not answer in time, or answered garbage.
type TransportError struct {
	Kind TransportErrorKind
	Err  error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transport %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("transport %s", e.Kind)
}

func (e *TransportError) Unwrap() error { return e.Err }

// SessionError reports a failed handshake: the provider never answered
// initialize, or answered with an incompatible protocol.
type SessionError struct {
	Reason string
	Err    error
}

func (e *SessionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("session: %s: %v", e.Reason, e.Err)
	}
	return "session: " + e.Reason
}

func (e *SessionError) Unwrap() error { return e.Err }

// ToolError is a provider-reported failure for one specific call. It is
// not a channel problem and does not affect provider health.
type ToolError struct {
	Code    int
	Message string
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("tool error: %s", e.Message)
}
