// Package httpparse implements the hand-coded HTTP/1.1 request-line and
// header-block parser used by the gateway's Connection state machine.
//
// A Parser is fed successive byte slices as they arrive off the wire and
// accumulates them into a request line followed by CRLF-terminated header
// lines, terminated by an empty line. Feeding is chunk-agnostic: splitting a
// valid header block across any number of Feed calls produces the same
// final state as feeding it in one call.
package httpparse

import (
	"bytes"
	"strings"

	"github.com/pkg/errors"
)

// DefaultMaxHeaderBytes bounds the total size of the request line plus
// header block a Parser will accumulate before giving up with
// ErrHeaderTooLarge.
const DefaultMaxHeaderBytes = 64 * 1024

// State is the Parser's position in the request line / header block walk.
type State int

const (
	AwaitRequestLine State = iota
	AwaitHeaders
	Complete
)

// UpgradeState is the tri-state record of whether the Connection header
// announced an upgrade: unknown until that header is parsed, then yes or
// no for the rest of the request.
type UpgradeState int

const (
	UpgradeUnknown UpgradeState = iota
	UpgradeYes
	UpgradeNo
)

// Header is a single parsed header field, preserving the exact bytes and
// case the client sent.
type Header struct {
	Name  []byte
	Value []byte
}

var (
	// ErrMalformedRequestLine is returned when the request line does not
	// split into exactly three space-separated fields.
	ErrMalformedRequestLine = errors.New("httpparse: malformed request line")
	// ErrMalformedHeaderLine is returned when a header line contains no
	// colon separator.
	ErrMalformedHeaderLine = errors.New("httpparse: malformed header line")
	// ErrHeaderTooLarge is returned when the accumulated request line and
	// headers exceed the configured limit.
	ErrHeaderTooLarge = errors.New("httpparse: header block exceeds limit")
)

// Parser incrementally decodes an HTTP/1.1 request line and header block.
type Parser struct {
	state State
	buf   []byte // unprocessed bytes not yet forming a complete line
	total int    // total bytes accumulated, for the size limit

	maxHeaderBytes int

	Method  string
	Version string
	Path    string
	Query   string
	Headers []Header

	upgradeState  UpgradeState
	UpgradeTarget *Header
}

// New returns a fresh Parser ready to receive the start of a request.
func New() *Parser {
	return &Parser{maxHeaderBytes: DefaultMaxHeaderBytes}
}

// NewWithLimit is like New but overrides DefaultMaxHeaderBytes.
func NewWithLimit(maxHeaderBytes int) *Parser {
	return &Parser{maxHeaderBytes: maxHeaderBytes}
}

// IsComplete reports whether the empty CRLF line terminating the header
// block has been consumed.
func (p *Parser) IsComplete() bool {
	return p.state == Complete
}

// UpgradeFlag resolves the tri-state upgrade record to a yes/no value,
// meaningful once parsing is complete. A request with no Connection
// header at all resolves to "no".
func (p *Parser) UpgradeFlag() bool {
	return p.upgradeState == UpgradeYes
}

// Feed consumes the next chunk of bytes off the wire. It is idempotent
// under chunking: any split of a valid header block fed across multiple
// calls yields the same final state as feeding it whole. Feed must not be
// called with non-empty data once IsComplete is true; trailing bytes after
// completion belong to the request body or the next frame and are the
// caller's responsibility.
func (p *Parser) Feed(data []byte) error {
	if p.state == Complete || len(data) == 0 {
		return nil
	}

	p.total += len(data)
	if p.total > p.maxHeaderBytes {
		return ErrHeaderTooLarge
	}
	p.buf = append(p.buf, data...)

	for p.state != Complete {
		idx := bytes.IndexByte(p.buf, '\n')
		if idx < 0 {
			break
		}
		line := p.buf[:idx+1]
		p.buf = p.buf[idx+1:]

		if err := p.consumeLine(line); err != nil {
			return err
		}
	}
	return nil
}

func (p *Parser) consumeLine(line []byte) error {
	trimmed := bytes.TrimRight(line, "\r\n")

	if p.state == AwaitRequestLine {
		fields := strings.Split(string(trimmed), " ")
		if len(fields) != 3 {
			return errors.Wrapf(ErrMalformedRequestLine, "got %d fields", len(fields))
		}
		p.Method = fields[0]
		p.Path, p.Query = splitTarget(fields[1])
		p.Version = fields[2]
		if p.Version != "HTTP/1.1" && p.Version != "HTTP/1.0" {
			return errors.Wrapf(ErrMalformedRequestLine, "unsupported version %q", p.Version)
		}
		p.state = AwaitHeaders
		return nil
	}

	// AwaitHeaders: an empty line terminates the block.
	if len(trimmed) == 0 {
		if p.upgradeState == UpgradeUnknown {
			p.upgradeState = UpgradeNo
		}
		p.state = Complete
		return nil
	}

	colon := bytes.IndexByte(trimmed, ':')
	if colon < 0 {
		return ErrMalformedHeaderLine
	}

	name := trimmed[:colon]
	value := bytes.TrimSpace(trimmed[colon+1:])
	// Copy out of the shared buf slice since buf is reused across Feed calls.
	h := Header{Name: append([]byte(nil), name...), Value: append([]byte(nil), value...)}

	if p.upgradeState == UpgradeUnknown && strings.EqualFold(string(h.Name), "connection") {
		if strings.Contains(strings.ToLower(string(h.Value)), "upgrade") {
			p.upgradeState = UpgradeYes
		} else {
			p.upgradeState = UpgradeNo
		}
	} else if p.upgradeState == UpgradeYes && p.UpgradeTarget == nil && strings.EqualFold(string(h.Name), "upgrade") {
		target := h
		p.UpgradeTarget = &target
	}

	p.Headers = append(p.Headers, h)
	return nil
}

func splitTarget(target string) (path, query string) {
	if i := strings.IndexByte(target, '?'); i >= 0 {
		return target[:i], target[i+1:]
	}
	return target, ""
}

// Header looks up the first header whose name matches name case-insensitively.
func (p *Parser) Header(name string) (Header, bool) {
	for _, h := range p.Headers {
		if strings.EqualFold(string(h.Name), name) {
			return h, true
		}
	}
	return Header{}, false
}
