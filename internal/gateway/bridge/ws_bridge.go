package bridge

import (
	"context"
	"fmt"
	"time"

	"bufproto/internal/gateway/gwerr"
	"bufproto/internal/gateway/gwmsg"
	"bufproto/internal/gateway/wsframe"
)

type wsState int

const (
	wsAwaitAccept wsState = iota
	wsOpen
	wsClosed
)

// WSBridge turns websocket.accept /
// websocket.send / websocket.close application messages into the upgrade
// response and data/close frames written to the wire, and turns a
// peer-initiated Close frame into the matching echoed Close plus a
// websocket.disconnect handed back to the application.
type WSBridge struct {
	conn ConnHandle

	acceptKey             string
	requestedSubprotocols []string

	state wsState
}

// NewWS returns a fresh WSBridge awaiting websocket.accept. acceptKey is
// the Sec-WebSocket-Accept value already computed from the upgrade
// request's Sec-WebSocket-Key (handshake.AcceptKey); requestedSubprotocols
// is the client's Sec-WebSocket-Protocol list, used only to validate the
// application's chosen subprotocol.
func NewWS(conn ConnHandle, acceptKey string, requestedSubprotocols []string) *WSBridge {
	return &WSBridge{
		conn:                  conn,
		acceptKey:             acceptKey,
		requestedSubprotocols: requestedSubprotocols,
		state:                 wsAwaitAccept,
	}
}

// OnAppMessage dispatches one outbound application message.
func (b *WSBridge) OnAppMessage(_ context.Context, msg gwmsg.Message) error {
	switch msg.Type {
	case gwmsg.TypeWebSocketAccept:
		return b.onAccept(msg)
	case gwmsg.TypeWebSocketSend:
		return b.onSend(msg)
	case gwmsg.TypeWebSocketClose:
		return b.onClose(msg)
	default:
		return &gwerr.ApplicationMisbehaviorError{
			Reason: fmt.Sprintf("unexpected message type %q for a websocket connection", msg.Type),
		}
	}
}

func (b *WSBridge) onAccept(msg gwmsg.Message) error {
	if b.state != wsAwaitAccept {
		return &gwerr.ApplicationMisbehaviorError{Reason: "websocket.accept sent more than once"}
	}
	if msg.Subprotocol != "" && !contains(b.requestedSubprotocols, msg.Subprotocol) {
		return &gwerr.ApplicationMisbehaviorError{
			Reason: fmt.Sprintf("websocket.accept chose subprotocol %q, not offered by the client", msg.Subprotocol),
		}
	}

	resp := "HTTP/1.1 101 Switching Protocols\r\n" +
		string(serverHeaders(time.Now())) +
		"upgrade: websocket\r\n" +
		"connection: Upgrade\r\n" +
		"sec-websocket-accept: " + b.acceptKey + "\r\n"
	if msg.Subprotocol != "" {
		resp += "sec-websocket-protocol: " + msg.Subprotocol + "\r\n"
	}
	resp += "\r\n"

	b.state = wsOpen
	return b.conn.WriteBytes([]byte(resp))
}

func (b *WSBridge) onSend(msg gwmsg.Message) error {
	if b.state != wsOpen {
		return &gwerr.ApplicationMisbehaviorError{Reason: "websocket.send sent outside an open session"}
	}
	if msg.HasText {
		return b.conn.WriteBytes(wsframe.Encode(wsframe.OpText, []byte(msg.Text)))
	}
	return b.conn.WriteBytes(wsframe.Encode(wsframe.OpBinary, msg.Bytes))
}

func (b *WSBridge) onClose(msg gwmsg.Message) error {
	if b.state == wsClosed {
		return nil
	}
	code := msg.Code
	if code == 0 {
		code = wsframe.CloseNormalClosure
	}
	frame := wsframe.EncodeClose(code, "")
	b.state = wsClosed
	err := b.conn.WriteBytes(frame)
	b.conn.EnqueueInbound(gwmsg.Message{Type: gwmsg.TypeWebSocketDisconnect, Code: code})
	b.conn.WebSocketClosed()
	return err
}

// PeerClose handles a Close frame received from the peer: it echoes the
// close code back (RFC 6455 §5.5.1 requires a Close response to a Close),
// hands websocket.disconnect to the application, and tears the session
// down. It is a no-op if the application already closed first.
func (b *WSBridge) PeerClose(code int, reason string) error {
	if b.state == wsClosed {
		return nil
	}
	frame := wsframe.EncodeClose(code, reason)
	b.state = wsClosed
	err := b.conn.WriteBytes(frame)
	b.conn.EnqueueInbound(gwmsg.Message{Type: gwmsg.TypeWebSocketDisconnect, Code: code})
	b.conn.WebSocketClosed()
	return err
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
