package jsonrpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Framing selects the stream framing a codec speaks.
type Framing int

// Supported framings.
const (
	// FramingLSP prefixes each JSON body with "Content-Length: N\r\n\r\n".
	FramingLSP Framing = iota
	// FramingMCP terminates each JSON body with a single newline and
	// forbids embedded newlines.
	FramingMCP
)

func (f Framing) String() string {
	if f == FramingMCP {
		return "mcp"
	}
	return "lsp"
}

var headerSep = []byte("\r\n\r\n")

// EncodeLSP encodes a message with Content-Length framing.
func EncodeLSP(m *Message) ([]byte, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "Content-Length: %d\r\n\r\n", len(body))
	buf.Write(body)
	return buf.Bytes(), nil
}

// EncodeMCP encodes a message as one newline-terminated line.
// encoding/json never emits raw newlines inside a marshalled value, so the
// single-line invariant holds for every message this runtime produces.
func EncodeMCP(m *Message) ([]byte, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	if bytes.ContainsRune(body, '\n') {
		return nil, fmt.Errorf("MCP framing forbids embedded newlines")
	}
	return append(body, '\n'), nil
}

// Decoder is an incremental frame decoder over a rolling byte buffer.
// Feed appends raw stream bytes; Next extracts at most one complete frame.
// Decoding is all-or-nothing: an incomplete frame consumes no bytes.
type Decoder struct {
	framing Framing
	buf     []byte
}

// NewDecoder creates a decoder for the given framing.
func NewDecoder(framing Framing) *Decoder {
	return &Decoder{framing: framing}
}

// Feed appends stream bytes to the rolling buffer.
func (d *Decoder) Feed(p []byte) {
	d.buf = append(d.buf, p...)
}

// Buffered reports the number of unconsumed bytes.
func (d *Decoder) Buffered() int { return len(d.buf) }

// Next returns the next complete message, or nil when the buffer does not
// yet hold one. Malformed MCP lines are dropped silently. A malformed LSP
// header is an error, but the header bytes are consumed so the decoder can
// resynchronise on the next frame instead of re-reporting the same error.
func (d *Decoder) Next() (*Message, error) {
	if d.framing == FramingMCP {
		return d.nextLine()
	}
	return d.nextFramed()
}

func (d *Decoder) nextFramed() (*Message, error) {
	headerEnd := bytes.Index(d.buf, headerSep)
	if headerEnd < 0 {
		return nil, nil
	}
	bodyStart := headerEnd + len(headerSep)

	contentLength := -1
	for _, line := range strings.Split(string(d.buf[:headerEnd]), "\r\n") {
		name, value, ok := strings.Cut(line, ":")
		if ok && strings.EqualFold(strings.TrimSpace(name), "content-length") {
			n, err := strconv.Atoi(strings.TrimSpace(value))
			if err != nil {
				d.buf = append(d.buf[:0], d.buf[bodyStart:]...)
				return nil, fmt.Errorf("bad Content-Length header %q: %w", line, err)
			}
			contentLength = n
			break
		}
	}
	if contentLength < 0 {
		d.buf = append(d.buf[:0], d.buf[bodyStart:]...)
		return nil, fmt.Errorf("frame header missing Content-Length")
	}

	bodyEnd := bodyStart + contentLength
	if len(d.buf) < bodyEnd {
		return nil, nil // need more bytes
	}

	body := d.buf[bodyStart:bodyEnd]
	var msg Message
	err := json.Unmarshal(body, &msg)
	// Remove exactly header+body, whether or not the body parsed.
	d.buf = append(d.buf[:0], d.buf[bodyEnd:]...)
	if err != nil {
		return nil, fmt.Errorf("decode frame body: %w", err)
	}
	return &msg, nil
}

func (d *Decoder) nextLine() (*Message, error) {
	for {
		nl := bytes.IndexByte(d.buf, '\n')
		if nl < 0 {
			return nil, nil
		}
		line := bytes.TrimSpace(d.buf[:nl])
		d.buf = append(d.buf[:0], d.buf[nl+1:]...)
		if len(line) == 0 {
			continue
		}
		var msg Message
		if err := json.Unmarshal(line, &msg); err != nil {
			continue // malformed lines are dropped
		}
		return &msg, nil
	}
}
