package gateway

import (
	"strings"

	"bufproto/internal/gateway/gwmsg"
	"bufproto/internal/gateway/handshake"
	"bufproto/internal/gateway/httpparse"
)

// buildHTTPScope assembles the immutable per-request Scope once the
// header parser reports completion with no upgrade.
func (c *Connection) buildHTTPScope(p *httpparse.Parser) gwmsg.Scope {
	return gwmsg.Scope{
		Type:         gwmsg.ScopeHTTP,
		HTTPVersion:  p.Version,
		Server:       c.transport.LocalAddr(),
		Client:       c.transport.RemoteAddr(),
		Scheme:       c.scheme(),
		Method:       p.Method,
		Path:         p.Path,
		Query:        p.Query,
		Headers:      lowercasedHeaders(p.Headers),
		ConnectionID: c.id,
		Debug:        c.debug,
	}
}

// buildWebSocketScope is like buildHTTPScope but for a request whose
// upgrade handshake has been validated; subprotocols come from the
// request's Sec-WebSocket-Protocol header, if any.
func (c *Connection) buildWebSocketScope(p *httpparse.Parser) gwmsg.Scope {
	scope := c.buildHTTPScope(p)
	scope.Type = gwmsg.ScopeWebSocket
	scope.Scheme = c.wsScheme()
	if h, ok := p.Header("Sec-WebSocket-Protocol"); ok {
		scope.Subprotocols = handshake.Subprotocols(string(h.Value))
	}
	return scope
}

// scheme picks http/https from the transport's TLS state.
func (c *Connection) scheme() string {
	if c.transport.IsTLS() {
		return "https"
	}
	return "http"
}

func (c *Connection) wsScheme() string {
	if c.transport.IsTLS() {
		return "wss"
	}
	return "ws"
}

// lowercasedHeaders copies parser headers into gwmsg form with lowercased
// names; the Scope always carries lowercased header names while the
// parser preserves the wire casing.
func lowercasedHeaders(headers []httpparse.Header) []gwmsg.HeaderField {
	out := make([]gwmsg.HeaderField, len(headers))
	for i, h := range headers {
		out[i] = gwmsg.HeaderField{
			Name:  []byte(strings.ToLower(string(h.Name))),
			Value: append([]byte(nil), h.Value...),
		}
	}
	return out
}
