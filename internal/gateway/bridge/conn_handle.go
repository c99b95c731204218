package bridge

import "bufproto/internal/gateway/gwmsg"

// ConnHandle is the narrow, non-owning back-reference a bridge holds to
// its Connection, used only for issuing writes and consulting state. It
// exposes exactly the operations a bridge needs: writing wire bytes (with
// backpressure already applied), toggling keep-alive, handing messages
// back to the application's inbound queue, and signalling the two
// completion transitions the Connection itself must act on.
type ConnHandle interface {
	// WriteBytes writes p to the transport, awaiting the drain latch first
	// if writes are currently paused.
	WriteBytes(p []byte) error

	SetKeepAlive(keepAlive bool)
	KeepAlive() bool

	// EnqueueInbound hands msg to the AppRunner's inbound queue.
	EnqueueInbound(msg gwmsg.Message)

	// HTTPResponseComplete is called once an HTTP response reaches Closed:
	// the Connection either resets for a kept-alive request or closes the
	// transport.
	HTTPResponseComplete()

	// WebSocketClosed is called once the WebSocket session reaches Closed:
	// the Connection closes the transport after the Close frame is flushed.
	WebSocketClosed()

	// Logf logs a connection-scoped diagnostic line.
	Logf(format string, args ...any)
}
