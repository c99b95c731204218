package bridge

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/valyala/bytebufferpool"

	"bufproto/internal/gateway/gwerr"
	"bufproto/internal/gateway/gwmsg"
)

type httpState int

const (
	httpAwaitStart httpState = iota
	httpResponse
	httpStreaming
	httpClosed
)

// HTTPBridge translates http.response.start /
// http.response.body application messages into the response preamble and
// body bytes written to the wire, choosing Content-Length or chunked
// transfer encoding.
type HTTPBridge struct {
	conn ConnHandle
	now  func() time.Time

	state         httpState
	preamble      *bytebufferpool.ByteBuffer
	contentLength *int
}

// NewHTTP returns a fresh HTTPBridge awaiting http.response.start.
func NewHTTP(conn ConnHandle) *HTTPBridge {
	return &HTTPBridge{conn: conn, state: httpAwaitStart, now: time.Now}
}

// Started reports whether http.response.start has already been processed,
// used by the Connection to pick the right recovery response: a
// misbehaving application gets a 500 only if the response hasn't started
// yet, otherwise the transport is simply torn down.
func (b *HTTPBridge) Started() bool {
	return b.state != httpAwaitStart
}

// OnAppMessage dispatches one outbound application message.
func (b *HTTPBridge) OnAppMessage(_ context.Context, msg gwmsg.Message) error {
	switch msg.Type {
	case gwmsg.TypeHTTPResponseStart:
		return b.onStart(msg)
	case gwmsg.TypeHTTPResponseBody:
		return b.onBody(msg)
	default:
		return &gwerr.ApplicationMisbehaviorError{
			Reason: fmt.Sprintf("unexpected message type %q for an HTTP response", msg.Type),
		}
	}
}

func (b *HTTPBridge) onStart(msg gwmsg.Message) error {
	if b.state != httpAwaitStart {
		return &gwerr.ApplicationMisbehaviorError{Reason: "http.response.start sent more than once"}
	}

	buf := bytebufferpool.Get()
	buf.Write(statusLine(msg.Status))
	buf.Write(serverHeaders(b.now()))

	for _, h := range msg.Headers {
		lower := strings.ToLower(string(h.Name))
		switch {
		case lower == "content-length":
			if n, err := strconv.Atoi(string(h.Value)); err == nil {
				cl := n
				b.contentLength = &cl
			}
		case lower == "connection" && strings.EqualFold(strings.TrimSpace(string(h.Value)), "close"):
			b.conn.SetKeepAlive(false)
		}
		buf.Write(h.Name)
		buf.WriteString(": ")
		buf.Write(h.Value)
		buf.WriteString("\r\n")
	}

	b.preamble = buf
	b.state = httpResponse
	return nil
}

func (b *HTTPBridge) onBody(msg gwmsg.Message) error {
	switch b.state {
	case httpResponse:
		return b.onFirstBody(msg)
	case httpStreaming:
		return b.onStreamingBody(msg)
	case httpAwaitStart:
		return &gwerr.ApplicationMisbehaviorError{Reason: "http.response.body sent before http.response.start"}
	default:
		return &gwerr.ApplicationMisbehaviorError{Reason: "http.response.body sent after the response completed"}
	}
}

func (b *HTTPBridge) onFirstBody(msg gwmsg.Message) error {
	if !msg.MoreBody {
		if b.contentLength == nil {
			// Hex, matching the chunk-size notation used on the streaming path.
			b.preamble.WriteString(fmt.Sprintf("content-length: %x\r\n\r\n", len(msg.Body)))
		} else {
			b.preamble.WriteString("\r\n")
		}
		b.preamble.Write(msg.Body)
		return b.flushAndComplete()
	}

	b.preamble.WriteString("transfer-encoding: chunked\r\n\r\n")
	writeChunk(b.preamble, msg.Body)
	out := b.preamble.Bytes()
	bodyCopy := append([]byte(nil), out...)
	bytebufferpool.Put(b.preamble)
	b.preamble = nil
	b.state = httpStreaming
	return b.conn.WriteBytes(bodyCopy)
}

func (b *HTTPBridge) flushAndComplete() error {
	out := append([]byte(nil), b.preamble.Bytes()...)
	bytebufferpool.Put(b.preamble)
	b.preamble = nil
	b.state = httpClosed

	err := b.conn.WriteBytes(out)
	b.conn.EnqueueInbound(gwmsg.Message{Type: gwmsg.TypeHTTPDisconnect})
	b.conn.HTTPResponseComplete()
	return err
}

func (b *HTTPBridge) onStreamingBody(msg gwmsg.Message) error {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	writeChunk(buf, msg.Body)
	if !msg.MoreBody {
		buf.WriteString("0\r\n\r\n")
	}
	out := append([]byte(nil), buf.Bytes()...)

	err := b.conn.WriteBytes(out)
	if !msg.MoreBody {
		b.state = httpClosed
		b.conn.EnqueueInbound(gwmsg.Message{Type: gwmsg.TypeHTTPDisconnect})
		b.conn.HTTPResponseComplete()
	}
	return err
}

func writeChunk(buf *bytebufferpool.ByteBuffer, body []byte) {
	buf.WriteString(fmt.Sprintf("%x\r\n", len(body)))
	buf.Write(body)
	buf.WriteString("\r\n")
}
