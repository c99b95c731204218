// Package bridge implements the two protocol adapters sitting between the
// connection state machine and the application's message stream: HTTPBridge
// turns response messages into status line, headers and body bytes, and
// WSBridge turns session messages into handshake and frame bytes. Both
// expose the same small dispatch surface rather than an inheritance tree.
package bridge

import (
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// ServerName is the value of the "server" header emitted on every
// response, handshake responses included.
const ServerName = "bufproto"

// statusLine renders "HTTP/1.1 <code> <reason>\r\n". Reason phrases come
// from net/http's StatusText table of the IANA registry; unregistered
// codes get the empty phrase StatusText already returns.
func statusLine(code int) []byte {
	reason := http.StatusText(code)
	line := "HTTP/1.1 " + strconv.Itoa(code) + " " + reason + "\r\n"
	return []byte(line)
}

// serverHeaders renders the server and date headers carried on every
// response.
func serverHeaders(now time.Time) []byte {
	return []byte("server: " + ServerName + "\r\n" +
		"date: " + now.UTC().Format(http.TimeFormat) + "\r\n")
}

// SimpleResponse renders a complete response for the error paths the
// Connection drives directly (malformed request, unsupported upgrade,
// missing Sec-WebSocket-Key), cases reached before any HTTPBridge exists
// to compose one.
func SimpleResponse(code int, body string, now time.Time) []byte {
	out := statusLine(code)
	out = append(out, serverHeaders(now)...)
	out = append(out, []byte(fmt.Sprintf("content-length: %d\r\n\r\n", len(body)))...)
	out = append(out, []byte(body)...)
	return out
}
