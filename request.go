package simple_response

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/textproto"
	"strconv"
	"strings"
)

var (
	ErrMalformedRequest   = errors.New("simple_response: malformed request")
	ErrUnsupportedVersion = errors.New("simple_response: unsupported protocol version")
)

// Version is an HTTP protocol version. Only 1.0 and 1.1 are served.
type Version struct {
	Major, Minor int
}

var (
	HTTP10 = Version{1, 0}
	HTTP11 = Version{1, 1}
)

func (v Version) String() string {
	return "HTTP/" + strconv.Itoa(v.Major) + "." + strconv.Itoa(v.Minor)
}

// AtLeast reports whether v is o or a later version.
func (v Version) AtLeast(o Version) bool {
	return v.Major > o.Major || (v.Major == o.Major && v.Minor >= o.Minor)
}

// ParseVersion parses "HTTP/1.0" or "HTTP/1.1".
func ParseVersion(s string) (Version, error) {
	switch s {
	case "HTTP/1.1":
		return HTTP11, nil
	case "HTTP/1.0":
		return HTTP10, nil
	}
	if !strings.HasPrefix(s, "HTTP/") {
		return Version{}, fmt.Errorf("%w: bad protocol %q", ErrMalformedRequest, s)
	}
	return Version{}, fmt.Errorf("%w: %q", ErrUnsupportedVersion, s)
}

// A Request is the parsed head of an inbound request. The body is left
// on the connection and exposed through Body.
type Request struct {
	ctx    context.Context
	cancel context.CancelFunc

	Method     string
	URI        string
	Proto      Version
	Header     *Headers
	Body       io.Reader
	RemoteAddr string
}

// Context returns the request's context, cancelled when the
// connection's handler returns or the connection fails.
func (r *Request) Context() context.Context {
	if r.ctx != nil {
		return r.ctx
	}
	return context.Background()
}

// ContentLength returns the declared body length, or -1 if the request
// carries no Content-Length.
func (r *Request) ContentLength() (int64, error) {
	v, ok := r.Header.Lookup("Content-Length")
	if !ok {
		return -1, nil
	}
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil || n < 0 {
		return -1, fmt.Errorf("%w: bad Content-Length %q", ErrMalformedRequest, v)
	}
	return n, nil
}

// WantsClose reports whether the client asked for the connection to be
// closed after this exchange.
func (r *Request) WantsClose() bool {
	return r.Header.hasToken("Connection", "close")
}

// WantsKeepAlive reports whether the client expects a persistent
// connection: HTTP/1.1 unless it sent "close", HTTP/1.0 only when it
// sent "keep-alive".
func (r *Request) WantsKeepAlive() bool {
	if r.WantsClose() {
		return false
	}
	if r.Proto.AtLeast(HTTP11) {
		return true
	}
	return r.Header.hasToken("Connection", "keep-alive")
}

// readRequest reads a request line and header block from br. Bare LF
// line endings are accepted.
func readRequest(br *bufio.Reader) (*Request, error) {
	tp := textproto.NewReader(br)

	line, err := tp.ReadLine()
	if err != nil {
		return nil, err
	}
	parts := strings.Fields(line)
	if len(parts) != 3 {
		return nil, fmt.Errorf("%w: bad request line %q", ErrMalformedRequest, line)
	}
	req := &Request{Method: parts[0], URI: parts[1], Header: &Headers{}}
	if req.Proto, err = ParseVersion(parts[2]); err != nil {
		return nil, err
	}

	for {
		line, err := tp.ReadLine()
		if err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return nil, err
		}
		if line == "" {
			break
		}
		i := strings.IndexByte(line, ':')
		if i <= 0 {
			return nil, fmt.Errorf("%w: bad header line %q", ErrMalformedRequest, line)
		}
		req.Header.Add(strings.TrimSpace(line[:i]), strings.TrimSpace(line[i+1:]))
	}
	return req, nil
}
