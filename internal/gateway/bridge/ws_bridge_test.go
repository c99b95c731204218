package bridge

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bufproto/internal/gateway/gwerr"
	"bufproto/internal/gateway/gwmsg"
	"bufproto/internal/gateway/wsframe"
)

// TestWSBridgeAcceptHandshake: websocket.accept emits the 101 response
// carrying the precomputed accept key.
func TestWSBridgeAcceptHandshake(t *testing.T) {
	conn := newFakeConn()
	b := NewWS(conn, "J9R6HjgRj5VpgXEFRYnNh9igw2o=", nil)

	require.NoError(t, b.OnAppMessage(context.Background(), gwmsg.Message{Type: gwmsg.TypeWebSocketAccept}))

	out := string(conn.allBytes())
	assert.Contains(t, out, "HTTP/1.1 101 Switching Protocols\r\n")
	assert.Contains(t, out, "sec-websocket-accept: J9R6HjgRj5VpgXEFRYnNh9igw2o=\r\n")
	assert.Contains(t, out, "upgrade: websocket\r\n")
}

func TestWSBridgeAcceptWithSubprotocol(t *testing.T) {
	conn := newFakeConn()
	b := NewWS(conn, "key", []string{"chat", "superchat"})

	require.NoError(t, b.OnAppMessage(context.Background(), gwmsg.Message{
		Type:        gwmsg.TypeWebSocketAccept,
		Subprotocol: "chat",
	}))
	assert.Contains(t, string(conn.allBytes()), "sec-websocket-protocol: chat\r\n")
}

func TestWSBridgeRejectsUnofferedSubprotocol(t *testing.T) {
	conn := newFakeConn()
	b := NewWS(conn, "key", []string{"chat"})

	err := b.OnAppMessage(context.Background(), gwmsg.Message{
		Type:        gwmsg.TypeWebSocketAccept,
		Subprotocol: "bogus",
	})
	require.Error(t, err)
}

// TestWSBridgeSendEncodesTextFrame: websocket.send with a text payload
// becomes an unmasked Text frame on the wire.
func TestWSBridgeSendEncodesTextFrame(t *testing.T) {
	conn := newFakeConn()
	b := NewWS(conn, "key", nil)
	ctx := context.Background()

	require.NoError(t, b.OnAppMessage(ctx, gwmsg.Message{Type: gwmsg.TypeWebSocketAccept}))
	require.NoError(t, b.OnAppMessage(ctx, gwmsg.Message{
		Type:    gwmsg.TypeWebSocketSend,
		Text:    "Message text was: hi",
		HasText: true,
	}))

	frames, err := wsframe.NewDecoder().Decode(maskClient(conn.written[len(conn.written)-1]))
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, wsframe.OpText, frames[0].Opcode)
	assert.Equal(t, "Message text was: hi", string(frames[0].Payload))
}

func TestWSBridgeSendBeforeAcceptIsMisbehavior(t *testing.T) {
	conn := newFakeConn()
	b := NewWS(conn, "key", nil)
	err := b.OnAppMessage(context.Background(), gwmsg.Message{Type: gwmsg.TypeWebSocketSend, HasText: true})
	require.Error(t, err)
	var misbehave *gwerr.ApplicationMisbehaviorError
	assert.ErrorAs(t, err, &misbehave)
}

func TestWSBridgeCloseEmitsCloseFrameAndCompletes(t *testing.T) {
	conn := newFakeConn()
	b := NewWS(conn, "key", nil)
	ctx := context.Background()

	require.NoError(t, b.OnAppMessage(ctx, gwmsg.Message{Type: gwmsg.TypeWebSocketAccept}))
	require.NoError(t, b.OnAppMessage(ctx, gwmsg.Message{Type: gwmsg.TypeWebSocketClose, Code: 1000}))

	assert.Equal(t, 1, conn.wsComplete)
	require.Len(t, conn.inbound, 1)
	assert.Equal(t, gwmsg.TypeWebSocketDisconnect, conn.inbound[0].Type)
	assert.Equal(t, 1000, conn.inbound[0].Code)
}

func TestWSBridgePeerCloseEchoesAndEnqueuesDisconnect(t *testing.T) {
	conn := newFakeConn()
	b := NewWS(conn, "key", nil)
	ctx := context.Background()
	require.NoError(t, b.OnAppMessage(ctx, gwmsg.Message{Type: gwmsg.TypeWebSocketAccept}))

	require.NoError(t, b.PeerClose(1000, ""))

	assert.Equal(t, 1, conn.wsComplete)
	require.Len(t, conn.inbound, 1)
	assert.Equal(t, gwmsg.TypeWebSocketDisconnect, conn.inbound[0].Type)
	assert.Equal(t, 1000, conn.inbound[0].Code)
}

// maskClient turns a server-framed (unmasked) frame into bytes a Decoder
// (which expects client framing) will accept, reusing the same helper
// shape as the wsframe package's own tests.
func maskClient(frame []byte) []byte {
	key := [4]byte{0x01, 0x02, 0x03, 0x04}
	headerLen := 2
	payloadLen7 := int(frame[1] & 0x7F)
	switch payloadLen7 {
	case 126:
		headerLen += 2
	case 127:
		headerLen += 8
	}
	header := append([]byte(nil), frame[:headerLen]...)
	header[1] |= 0x80
	payload := frame[headerLen:]
	masked := make([]byte, len(payload))
	for i, b := range payload {
		masked[i] = b ^ key[i%4]
	}
	out := append(header, key[:]...)
	out = append(out, masked...)
	return out
}
