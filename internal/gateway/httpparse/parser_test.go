package httpparse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleRequest = "GET /chat?room=lobby HTTP/1.1\r\n" +
	"Host: localhost:8000\r\n" +
	"Connection: keep-alive, Upgrade\r\n" +
	"Upgrade: websocket\r\n" +
	"Sec-WebSocket-Key: Y56tJpDd+hCW+vDb0qdekQ==\r\n" +
	"\r\n"

func assertParsed(t *testing.T, p *Parser) {
	t.Helper()
	require.True(t, p.IsComplete())
	assert.Equal(t, "GET", p.Method)
	assert.Equal(t, "HTTP/1.1", p.Version)
	assert.Equal(t, "/chat", p.Path)
	assert.Equal(t, "room=lobby", p.Query)
	assert.True(t, p.UpgradeFlag())
	require.NotNil(t, p.UpgradeTarget)
	assert.Equal(t, "Upgrade", string(p.UpgradeTarget.Name))
	assert.Equal(t, "websocket", string(p.UpgradeTarget.Value))
	require.Len(t, p.Headers, 4)
	assert.Equal(t, "Host", string(p.Headers[0].Name))
	assert.Equal(t, "localhost:8000", string(p.Headers[0].Value))
}

func TestFeedWhole(t *testing.T) {
	p := New()
	require.NoError(t, p.Feed([]byte(sampleRequest)))
	assertParsed(t, p)
}

// TestFeedChunkedEquivalence verifies that any partition of a valid header
// block yields the same parsed result as feeding it whole.
func TestFeedChunkedEquivalence(t *testing.T) {
	splits := [][]int{
		{1},
		{5, 12, 40},
		{len(sampleRequest) - 1},
	}
	for _, cuts := range splits {
		p := New()
		prev := 0
		cuts = append(cuts, len(sampleRequest))
		for _, cut := range cuts {
			require.NoError(t, p.Feed([]byte(sampleRequest[prev:cut])))
			prev = cut
		}
		assertParsed(t, p)
	}
}

func TestFeedByteAtATime(t *testing.T) {
	p := New()
	for i := 0; i < len(sampleRequest); i++ {
		require.NoError(t, p.Feed([]byte{sampleRequest[i]}))
	}
	assertParsed(t, p)
}

func TestNoUpgradeWhenConnectionHeaderIsPlainKeepAlive(t *testing.T) {
	raw := "GET / HTTP/1.1\r\n" +
		"Host: localhost:8000\r\n" +
		"Connection: keep-alive\r\n" +
		"Upgrade: websocket\r\n" +
		"\r\n"
	p := New()
	require.NoError(t, p.Feed([]byte(raw)))
	assert.False(t, p.UpgradeFlag())
	assert.Nil(t, p.UpgradeTarget)
}

func TestNoUpgradeWithoutConnectionHeader(t *testing.T) {
	raw := "GET / HTTP/1.1\r\nHost: localhost\r\n\r\n"
	p := New()
	require.NoError(t, p.Feed([]byte(raw)))
	assert.False(t, p.UpgradeFlag())
}

func TestMalformedRequestLine(t *testing.T) {
	p := New()
	err := p.Feed([]byte("GET /\r\n\r\n"))
	assert.ErrorIs(t, err, ErrMalformedRequestLine)
}

func TestUnsupportedVersionRejected(t *testing.T) {
	p := New()
	err := p.Feed([]byte("GET / HTTP/2.0\r\n\r\n"))
	assert.ErrorIs(t, err, ErrMalformedRequestLine)
}

func TestMalformedHeaderLine(t *testing.T) {
	p := New()
	err := p.Feed([]byte("GET / HTTP/1.1\r\nnotvalidheader\r\n\r\n"))
	assert.ErrorIs(t, err, ErrMalformedHeaderLine)
}

func TestHeaderBlockTooLarge(t *testing.T) {
	p := NewWithLimit(32)
	err := p.Feed([]byte("GET / HTTP/1.1\r\nX-Long: " + string(make([]byte, 64)) + "\r\n\r\n"))
	assert.ErrorIs(t, err, ErrHeaderTooLarge)
}

func TestHeaderCasePreservedAndOrdered(t *testing.T) {
	raw := "GET / HTTP/1.1\r\nX-Custom-Header: MixedCaseValue\r\nAnother: two\r\n\r\n"
	p := New()
	require.NoError(t, p.Feed([]byte(raw)))
	require.Len(t, p.Headers, 2)
	assert.Equal(t, "X-Custom-Header", string(p.Headers[0].Name))
	assert.Equal(t, "MixedCaseValue", string(p.Headers[0].Value))
	assert.Equal(t, "Another", string(p.Headers[1].Name))
}

func TestHeaderLookupCaseInsensitive(t *testing.T) {
	p := New()
	require.NoError(t, p.Feed([]byte("GET / HTTP/1.1\r\nContent-Type: text/plain\r\n\r\n")))
	h, ok := p.Header("content-type")
	require.True(t, ok)
	assert.Equal(t, "text/plain", string(h.Value))
}
