// Package gwmsg defines the server-gateway message contract: the Scope
// record passed to the application once per HTTP request or WebSocket
// session, and the keyed
// messages exchanged between the gateway and the application task over
// its receive()/send() callables.
package gwmsg

import "context"

// ScopeType distinguishes an HTTP request/response cycle from a WebSocket
// session.
type ScopeType string

const (
	ScopeHTTP      ScopeType = "http"
	ScopeWebSocket ScopeType = "websocket"
)

// HeaderField is a single (name, value) header pair, carried as bytes to
// preserve the exact wire representation.
type HeaderField struct {
	Name  []byte
	Value []byte
}

// Scope is the immutable per-request context handed to the application
// factory. It is built once when headers finish parsing and never mutated
// afterwards.
type Scope struct {
	Type ScopeType

	HTTPVersion string
	Server      string
	Client      string
	Scheme      string
	Method      string
	Path        string
	Query       string
	// Headers carries lowercased header names.
	Headers []HeaderField

	// Subprotocols is populated only for ScopeWebSocket, from a
	// Sec-WebSocket-Protocol header if present.
	Subprotocols []string

	// ConnectionID is a UUID assigned per Connection, useful for
	// correlating log lines across a connection's full lifetime.
	ConnectionID string

	// Debug carries the server's --debug flag through to the application,
	// which may use it to decide whether to recover and report a panic in
	// its own handler instead of letting it propagate silently. The
	// gateway itself never implements that policy.
	Debug bool
}

// Type is the discriminant of a Message.
type Type string

const (
	// Inbound to the application.
	TypeHTTPRequest         Type = "http.request"
	TypeHTTPDisconnect      Type = "http.disconnect"
	TypeWebSocketConnect    Type = "websocket.connect"
	TypeWebSocketReceive    Type = "websocket.receive"
	TypeWebSocketDisconnect Type = "websocket.disconnect"

	// Outbound from the application.
	TypeHTTPResponseStart Type = "http.response.start"
	TypeHTTPResponseBody  Type = "http.response.body"
	TypeWebSocketAccept   Type = "websocket.accept"
	TypeWebSocketClose    Type = "websocket.close"
	TypeWebSocketSend     Type = "websocket.send"
)

// Message is a single keyed record exchanged between the gateway and the
// application task. Only the fields relevant to Type are meaningful; it is
// a flat struct rather than a map to keep the hot path allocation-free
// and statically typed, a deliberate departure from ASGI's dict shape.
type Message struct {
	Type Type

	// http.request
	Body     []byte
	MoreBody bool

	// http.response.start
	Status  int
	Headers []HeaderField

	// websocket.receive / websocket.send: exactly one of Text/Bytes is set.
	Text    string
	HasText bool
	Bytes   []byte

	// websocket.disconnect / websocket.close
	Code int

	// websocket.accept
	Subprotocol string
}

// ReceiveFunc is the application's handle to pull the next inbound message.
type ReceiveFunc func(ctx context.Context) (Message, error)

// SendFunc is the application's handle to submit an outbound message.
type SendFunc func(ctx context.Context, msg Message) error

// HandlerFunc is the task-like value the application factory returns,
// invoked with the bound receive/send callables.
type HandlerFunc func(ctx context.Context, receive ReceiveFunc, send SendFunc) error

// App is the application factory: called once per HTTP request or
// WebSocket session with that request's Scope, returning the handler that
// will run for it. A kept-alive connection calls it again for each request.
type App func(scope Scope) HandlerFunc
