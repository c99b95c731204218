// Package transport provides the byte-transport abstraction the gateway
// consumes, plus the single-waiter latch its write backpressure is built
// on. The gateway never touches a net.Conn directly.
package transport

import (
	"net"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

// Transport is the minimal surface the gateway needs from a connection: it
// deliberately knows nothing about HTTP or WebSocket framing.
type Transport interface {
	Read(p []byte) (int, error)
	// Write enqueues p for sending; it may return before p reaches the
	// network. Callers must consult Paused/Drain for backpressure.
	Write(p []byte) (int, error)
	Close() error
	// IsTLS reports whether this transport terminates TLS, which the
	// gateway uses to pick the http/https or ws/wss scheme for Scope.
	IsTLS() bool
	LocalAddr() string
	RemoteAddr() string
	// Paused reports the current state of the write backpressure latch.
	Paused() bool
	// Drain blocks until the write backpressure latch is open.
	Drain() error
}

// Conn adapts a net.Conn into a Transport, queuing writes through a
// Watermarked writer so a slow reader on the other end produces real
// backpressure instead of an unbounded in-process buffer.
type Conn struct {
	net.Conn
	tls    bool
	writer *Watermarked
}

// Default watermarks: 16KiB low / 64KiB high, the scale asyncio-style
// flow-control transports conventionally use.
const (
	DefaultLowWatermark  = 16 * 1024
	DefaultHighWatermark = 64 * 1024
)

// NewConn wraps c as a plain (non-TLS) Transport with the default
// watermarks.
func NewConn(c net.Conn) *Conn {
	return newConn(c, false, DefaultLowWatermark, DefaultHighWatermark)
}

// NewConnWithWatermarks is NewConn with explicit write-queue watermarks,
// for servers that tune backpressure through configuration.
func NewConnWithWatermarks(c net.Conn, low, high int) *Conn {
	return newConn(c, false, low, high)
}

// NewTLSConn wraps c as a Transport that reports IsTLS() == true, for a
// caller that has already terminated TLS on c.
func NewTLSConn(c net.Conn) *Conn {
	return newConn(c, true, DefaultLowWatermark, DefaultHighWatermark)
}

func newConn(c net.Conn, tls bool, low, high int) *Conn {
	return &Conn{
		Conn:   c,
		tls:    tls,
		writer: NewWatermarked(c, low, high),
	}
}

func (c *Conn) Write(p []byte) (int, error) {
	n, err := c.writer.Write(p)
	return n, errors.Wrap(err, "transport: write")
}

// Close stops the background writer and closes the underlying net.Conn,
// unblocking any in-flight Read on the peer.
func (c *Conn) Close() error {
	var errs *multierror.Error
	errs = multierror.Append(errs, c.writer.Close())
	errs = multierror.Append(errs, c.Conn.Close())
	return errs.ErrorOrNil()
}

func (c *Conn) IsTLS() bool        { return c.tls }
func (c *Conn) LocalAddr() string  { return c.Conn.LocalAddr().String() }
func (c *Conn) RemoteAddr() string { return c.Conn.RemoteAddr().String() }
func (c *Conn) Paused() bool       { return c.writer.Paused() }
func (c *Conn) Drain() error       { return c.writer.Drain() }
