// Package gateway implements the per-connection protocol engine: the
// state machine that selects between the HTTP header parser and the
// WebSocket frame codec, performs the upgrade handshake, and drives an
// application task through the HTTP/WebSocket bridge adapters under
// backpressure.
package gateway

import (
	"context"
	"encoding/binary"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"bufproto/internal/gateway/bridge"
	"bufproto/internal/gateway/gwerr"
	"bufproto/internal/gateway/gwmsg"
	"bufproto/internal/gateway/handshake"
	"bufproto/internal/gateway/httpparse"
	"bufproto/internal/gateway/wsframe"
	"bufproto/internal/transport"
)

// State is the Connection's protocol state.
type State int

const (
	StateRequest State = iota
	StateResponse
	StateStreaming
	StateFraming
	StateClosed
)

// readBufferSize is the chunk size read off the transport per iteration.
const readBufferSize = 4096

// Logger is the narrow logging surface a Connection needs; zap's
// SugaredLogger and internal/applog's Logger both satisfy it.
type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debugf(string, ...any) {}
func (noopLogger) Infof(string, ...any)  {}
func (noopLogger) Warnf(string, ...any)  {}
func (noopLogger) Errorf(string, ...any) {}

// Connection is the per-TCP-connection state machine. It exclusively owns
// its transport, read buffer, active parser, active bridge and AppRunner.
type Connection struct {
	id        string
	transport transport.Transport
	app       gwmsg.App
	log       Logger
	debug     bool

	maxHeaderBytes  int
	maxFramePayload int64

	state  State
	parser *httpparse.Parser
	wsDec  *wsframe.Decoder

	httpBridge *bridge.HTTPBridge
	wsBridge   *bridge.WSBridge

	keepAlive bool
	runner    *AppRunner
}

// Config carries the per-connection tunables the CLI and config layer
// set. Zero limits fall back to the parsers' built-in defaults.
type Config struct {
	Log             Logger
	Debug           bool
	MaxHeaderBytes  int
	MaxFramePayload int64
}

// New returns a Connection ready to drive t with app, ready to call Serve.
func New(t transport.Transport, app gwmsg.App, log Logger) *Connection {
	return NewWithConfig(t, app, Config{Log: log})
}

// NewWithDebug is like New but also sets Scope.Debug for every request this
// Connection serves, letting the application decide whether to recover and
// report its own panics; the gateway itself never implements that policy.
func NewWithDebug(t transport.Transport, app gwmsg.App, log Logger, debug bool) *Connection {
	return NewWithConfig(t, app, Config{Log: log, Debug: debug})
}

// NewWithConfig is the full-control constructor.
func NewWithConfig(t transport.Transport, app gwmsg.App, cfg Config) *Connection {
	log := cfg.Log
	if log == nil {
		log = noopLogger{}
	}
	c := &Connection{
		id:              uuid.NewString(),
		transport:       t,
		app:             app,
		log:             log,
		debug:           cfg.Debug,
		maxHeaderBytes:  cfg.MaxHeaderBytes,
		maxFramePayload: cfg.MaxFramePayload,
		state:           StateRequest,
		keepAlive:       true,
	}
	c.parser = c.newParser()
	return c
}

func (c *Connection) newParser() *httpparse.Parser {
	if c.maxHeaderBytes > 0 {
		return httpparse.NewWithLimit(c.maxHeaderBytes)
	}
	return httpparse.New()
}

func (c *Connection) newDecoder() *wsframe.Decoder {
	if c.maxFramePayload > 0 {
		return wsframe.NewDecoderWithLimit(c.maxFramePayload)
	}
	return wsframe.NewDecoder()
}

// Serve reads from the transport until it closes or ctx is cancelled,
// driving the protocol state machine. It always returns with the
// transport closed.
func (c *Connection) Serve(ctx context.Context) {
	defer c.teardown()

	buf := make([]byte, readBufferSize)
	for {
		if c.state == StateClosed {
			return
		}
		n, err := c.transport.Read(buf)
		if n > 0 {
			c.handleBytes(ctx, buf[:n])
		}
		if err != nil {
			c.onTransportLost()
			return
		}
		select {
		case <-ctx.Done():
			c.onTransportLost()
			return
		default:
		}
	}
}

func (c *Connection) teardown() {
	if c.state != StateClosed {
		c.state = StateClosed
	}
	_ = c.transport.Close()
}

func (c *Connection) onTransportLost() {
	if c.runner != nil {
		switch {
		case c.httpBridge != nil:
			c.runner.Enqueue(gwmsg.Message{Type: gwmsg.TypeHTTPDisconnect})
		case c.wsBridge != nil:
			c.runner.Enqueue(gwmsg.Message{Type: gwmsg.TypeWebSocketDisconnect, Code: wsframe.CloseAbnormalClosure})
		}
		c.runner.Cancel()
	}
	c.state = StateClosed
}

func (c *Connection) handleBytes(ctx context.Context, data []byte) {
	switch c.state {
	case StateRequest:
		c.feedHeaders(ctx, data)
	case StateFraming:
		c.feedFrames(data)
	case StateResponse, StateStreaming:
		// Pipelined requests are unsupported; any bytes received here are
		// a protocol violation.
		c.log.Warnf("connection %s: unexpected bytes while a response is in flight", c.id)
		c.respondAndClose(400, "Unexpected data while a response is in flight.\n")
	case StateClosed:
	}
}

func (c *Connection) feedHeaders(ctx context.Context, data []byte) {
	if err := c.parser.Feed(data); err != nil {
		c.log.Warnf("connection %s: %v", c.id, &gwerr.ParseError{Cause: err})
		c.respondAndClose(400, "Malformed request.\n")
		return
	}
	if !c.parser.IsComplete() {
		return
	}
	c.onHeadersComplete(ctx)
}

func (c *Connection) onHeadersComplete(ctx context.Context) {
	if c.parser.UpgradeFlag() {
		c.beginUpgrade(ctx)
		return
	}
	c.beginHTTPResponse(ctx)
}

func (c *Connection) beginHTTPResponse(ctx context.Context) {
	scope := c.buildHTTPScope(c.parser)
	c.applyRequestKeepAlive(c.parser)

	c.httpBridge = bridge.NewHTTP(c)
	c.state = StateResponse
	c.runner = Start(ctx, c.app, scope, c)
	c.runner.Enqueue(gwmsg.Message{Type: gwmsg.TypeHTTPRequest, Body: nil, MoreBody: false})
}

func (c *Connection) applyRequestKeepAlive(p *httpparse.Parser) {
	if h, ok := p.Header("Connection"); ok {
		if containsToken(string(h.Value), "close") {
			c.keepAlive = false
		}
	}
}

func (c *Connection) beginUpgrade(ctx context.Context) {
	target := c.parser.UpgradeTarget
	if target == nil || !strings.EqualFold(strings.TrimSpace(string(target.Value)), "websocket") {
		c.log.Warnf("connection %s: %v", c.id, &gwerr.UnsupportedUpgradeError{Target: headerValueOrEmpty(target)})
		c.respondAndClose(500, "Unsupported upgrade request.\n")
		return
	}

	keyHeader, ok := c.parser.Header("Sec-WebSocket-Key")
	if !ok {
		c.log.Warnf("connection %s: %v", c.id, &gwerr.MissingWebSocketKeyError{})
		c.respondAndClose(403, "Missing Sec-WebSocket-Key.\n")
		return
	}

	acceptKey := handshake.AcceptKey(string(keyHeader.Value))
	scope := c.buildWebSocketScope(c.parser)

	c.wsBridge = bridge.NewWS(c, acceptKey, scope.Subprotocols)
	c.wsDec = c.newDecoder()
	c.state = StateFraming
	c.runner = Start(ctx, c.app, scope, c)
	c.runner.Enqueue(gwmsg.Message{Type: gwmsg.TypeWebSocketConnect})
}

func (c *Connection) feedFrames(data []byte) {
	frames, err := c.wsDec.Decode(data)
	for _, f := range frames {
		c.handleFrame(f)
		if c.state == StateClosed {
			return
		}
	}
	if err != nil {
		c.handleFrameError(err)
	}
}

func (c *Connection) handleFrame(f wsframe.Frame) {
	switch f.Opcode {
	case wsframe.OpText:
		c.runner.Enqueue(gwmsg.Message{Type: gwmsg.TypeWebSocketReceive, Text: string(f.Payload), HasText: true})
	case wsframe.OpBinary:
		c.runner.Enqueue(gwmsg.Message{Type: gwmsg.TypeWebSocketReceive, Bytes: f.Payload})
	case wsframe.OpPing:
		if err := c.WriteBytes(wsframe.Encode(wsframe.OpPong, f.Payload)); err != nil {
			c.log.Warnf("connection %s: pong write failed: %v", c.id, err)
		}
	case wsframe.OpPong:
		// The gateway never schedules pings of its own; unsolicited pongs
		// are simply observed, not acted on.
	case wsframe.OpClose:
		code, reason := parseClosePayload(f.Payload)
		if err := c.wsBridge.PeerClose(code, reason); err != nil {
			c.log.Warnf("connection %s: close echo failed: %v", c.id, err)
		}
		c.state = StateClosed
	}
}

func parseClosePayload(payload []byte) (int, string) {
	if len(payload) < 2 {
		return wsframe.CloseNormalClosure, ""
	}
	return int(binary.BigEndian.Uint16(payload[:2])), string(payload[2:])
}

func (c *Connection) handleFrameError(err error) {
	fe, ok := err.(*wsframe.FrameError)
	if !ok {
		c.log.Errorf("connection %s: unexpected frame decode error: %v", c.id, err)
		c.state = StateClosed
		return
	}
	c.log.Warnf("connection %s: %v", c.id, classifyFrameError(fe))
	_ = c.WriteBytes(wsframe.EncodeClose(fe.Code, fe.Reason))
	if c.runner != nil {
		c.runner.Enqueue(gwmsg.Message{Type: gwmsg.TypeWebSocketDisconnect, Code: fe.Code})
		c.runner.Cancel()
	}
	c.state = StateClosed
}

func classifyFrameError(fe *wsframe.FrameError) error {
	switch fe.Code {
	case wsframe.CloseInvalidPayloadData:
		return &gwerr.InvalidPayloadDataError{Reason: fe.Reason}
	case wsframe.CloseMessageTooBig:
		return &gwerr.MessageTooBigError{Reason: fe.Reason}
	default:
		return &gwerr.WebSocketProtocolError{Code: fe.Code, Reason: fe.Reason}
	}
}

func (c *Connection) respondAndClose(code int, body string) {
	_ = c.WriteBytes(bridge.SimpleResponse(code, body, time.Now()))
	c.state = StateClosed
}

// OnAppMessage dispatches one application-produced message to whichever
// bridge is active. A misbehaving application (body before start, a
// duplicate start, the wrong message type for the current state) never
// takes the connection down silently: the error is logged, a 500 goes out
// if the response hasn't started yet, and the transport is closed.
func (c *Connection) OnAppMessage(ctx context.Context, msg gwmsg.Message) error {
	var err error
	switch {
	case c.httpBridge != nil:
		err = c.httpBridge.OnAppMessage(ctx, msg)
	case c.wsBridge != nil:
		err = c.wsBridge.OnAppMessage(ctx, msg)
	default:
		err = &gwerr.ApplicationMisbehaviorError{Reason: "message sent outside a request"}
	}

	var misbehave *gwerr.ApplicationMisbehaviorError
	if errors.As(err, &misbehave) {
		c.log.Errorf("connection %s: %v", c.id, err)
		if c.httpBridge != nil && !c.httpBridge.Started() {
			_ = c.WriteBytes(bridge.SimpleResponse(500, "Internal server error.\n", time.Now()))
		}
		c.state = StateClosed
		_ = c.transport.Close()
	}
	return err
}

// --- bridge.ConnHandle ---

func (c *Connection) WriteBytes(p []byte) error {
	if err := c.transport.Drain(); err != nil {
		return err
	}
	_, err := c.transport.Write(p)
	return err
}

func (c *Connection) SetKeepAlive(keepAlive bool) { c.keepAlive = keepAlive }
func (c *Connection) KeepAlive() bool             { return c.keepAlive }

func (c *Connection) EnqueueInbound(msg gwmsg.Message) {
	if c.runner != nil {
		c.runner.Enqueue(msg)
	}
}

func (c *Connection) HTTPResponseComplete() {
	if !c.keepAlive {
		c.state = StateClosed
		// The app goroutine runs concurrently with Serve's read loop; a
		// blocked Read only notices the state change once the transport
		// itself is closed, unblocking it with an error.
		_ = c.transport.Close()
		return
	}
	c.parser = c.newParser()
	c.httpBridge = nil
	c.runner = nil
	c.state = StateRequest
}

func (c *Connection) WebSocketClosed() {
	c.state = StateClosed
	// App-initiated close (WSBridge.onClose) runs on the
	// AppRunner goroutine, concurrently with Serve's read loop; force the
	// transport closed so a blocked Read notices immediately. Peer-initiated
	// close (WSBridge.PeerClose) runs synchronously on Serve's own goroutine
	// via handleFrame, where this is a harmless redundant close.
	_ = c.transport.Close()
}

func (c *Connection) Logf(format string, args ...any) {
	c.log.Debugf(format, args...)
}

func headerValueOrEmpty(h *httpparse.Header) string {
	if h == nil {
		return ""
	}
	return string(h.Value)
}

// containsToken reports whether header is a comma-separated list containing
// token, case-insensitively (used for the Connection header's "close" and
// "upgrade" tokens).
func containsToken(header, token string) bool {
	for _, part := range strings.Split(header, ",") {
		if strings.EqualFold(strings.TrimSpace(part), token) {
			return true
		}
	}
	return false
}
