// Package gwerr names the error kinds the gateway distinguishes, shared
// between the Connection state machine and the HTTP/WebSocket bridges so
// neither needs to import the other to classify a failure.
package gwerr

import "fmt"

type ParseError struct{ Cause error }

func (e *ParseError) Error() string { return fmt.Sprintf("gateway: malformed request: %v", e.Cause) }
func (e *ParseError) Unwrap() error { return e.Cause }

type UnsupportedUpgradeError struct{ Target string }

func (e *UnsupportedUpgradeError) Error() string {
	return fmt.Sprintf("gateway: unsupported upgrade target %q", e.Target)
}

type MissingWebSocketKeyError struct{}

func (e *MissingWebSocketKeyError) Error() string {
	return "gateway: upgrade request missing Sec-WebSocket-Key"
}

// WebSocketProtocolError wraps an RFC 6455 violation, carrying the close
// code the connection must send back to the peer.
type WebSocketProtocolError struct {
	Code   int
	Reason string
}

func (e *WebSocketProtocolError) Error() string {
	return fmt.Sprintf("gateway: websocket protocol error: %s (close code %d)", e.Reason, e.Code)
}

type InvalidPayloadDataError struct{ Reason string }

func (e *InvalidPayloadDataError) Error() string {
	return fmt.Sprintf("gateway: invalid payload data: %s", e.Reason)
}

type MessageTooBigError struct{ Reason string }

func (e *MessageTooBigError) Error() string {
	return fmt.Sprintf("gateway: message too big: %s", e.Reason)
}

// ApplicationMisbehaviorError is raised when the application sends a
// message that violates the bridge's expected sequencing: http.response.body
// before start, a duplicate start, or a message type invalid for the
// current state.
type ApplicationMisbehaviorError struct{ Reason string }

func (e *ApplicationMisbehaviorError) Error() string {
	return fmt.Sprintf("gateway: application misbehavior: %s", e.Reason)
}
