package simple_response

import (
	"bytes"
	"strings"
)

// ResponseWriter frames one HTTP/1.x response onto a Sink.
//
// WriteHeaders may be called at most once, WriteBody any number of
// times after it, and End exactly once. Each call hands its bytes to
// the sink before returning; the sink may buffer them.
type ResponseWriter interface {
	// WriteHeaders writes the status line, the given headers and the
	// blank line ending the header block, and resolves KeepAlive.
	WriteHeaders(status string, h *Headers) error

	// WriteBody forwards p to the sink unchanged.
	WriteBody(p []byte) error

	// End signals the sink that the response is complete.
	End() error

	// KeepAlive reports whether the connection may carry another
	// exchange. It is false until headers are written or End is called.
	KeepAlive() bool

	HeadersWritten() bool
	Ended() bool
}

// A Response represents the server side of a response.
type Response struct {
	output           Sink
	proto            Version // from the request; immutable
	defaultKeepAlive bool
	eol              []byte

	headersWritten bool
	ended          bool
	keepAlive      bool
	framed         bool
	err            error // first sink failure, returned from every later call
}

// New returns a writer for a response to req, written to output.
// defaultKeepAlive is the server's preference when the response headers
// do not decide persistence. Nothing is written until WriteHeaders or
// End.
func New(output Sink, req *Request, defaultKeepAlive bool) *Response {
	return &Response{
		output:           output,
		proto:            req.Proto,
		defaultKeepAlive: defaultKeepAlive,
		eol:              lineBreak(output),
	}
}

func (w *Response) WriteHeaders(status string, h *Headers) error {
	if w.err != nil {
		return w.err
	}
	if w.ended {
		return violation("WriteHeaders after End")
	}
	if w.headersWritten {
		return violation("headers already written")
	}

	if err := checkFieldText(status, h); err != nil {
		return err
	}

	keepAlive, synthesize := w.resolveKeepAlive(h)

	var buf bytes.Buffer
	buf.WriteString(w.proto.String())
	buf.WriteByte(' ')
	buf.WriteString(status)
	buf.Write(w.eol)
	h.Write(&buf, w.eol)
	if synthesize {
		NewHeaders("Connection", "keep-alive").Write(&buf, w.eol)
	}
	buf.Write(w.eol)

	if _, err := w.output.Write(buf.Bytes()); err != nil {
		w.err = &SinkError{Op: "write", Err: err}
		return w.err
	}
	w.keepAlive = keepAlive
	w.framed = bodyFramed(status, h)
	w.headersWritten = true
	return nil
}

// resolveKeepAlive decides persistence from the response's Connection
// header, falling back to the server default. HTTP/1.0 responses that
// persist by default must advertise it, so synthesize reports whether a
// "Connection: keep-alive" field has to be added.
func (w *Response) resolveKeepAlive(h *Headers) (keepAlive, synthesize bool) {
	if v, ok := h.Lookup("Connection"); ok {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "close":
			return false, false
		case "keep-alive":
			return true, false
		}
		return w.defaultKeepAlive, false
	}
	if w.proto.AtLeast(HTTP11) {
		return w.defaultKeepAlive, false
	}
	return w.defaultKeepAlive, w.defaultKeepAlive
}

// checkFieldText refuses line breaks in the status or any header, which
// would end the line early and let the rest be read as new fields.
func checkFieldText(status string, h *Headers) error {
	if strings.ContainsAny(status, "\r\n") {
		return violation("line break in status %q", status)
	}
	var bad error
	h.Each(func(name, value string) {
		if bad == nil && (name == "" || strings.ContainsAny(name, "\r\n:") || strings.ContainsAny(value, "\r\n")) {
			bad = violation("invalid header %q: %q", name, value)
		}
	})
	return bad
}

func bodyFramed(status string, h *Headers) bool {
	if _, ok := h.Lookup("Content-Length"); ok {
		return true
	}
	if _, ok := h.Lookup("Transfer-Encoding"); ok {
		return true
	}
	code := status
	if i := strings.IndexByte(code, ' '); i >= 0 {
		code = code[:i]
	}
	return strings.HasPrefix(code, "1") && len(code) == 3 || code == "204" || code == "304"
}

func (w *Response) WriteBody(p []byte) error {
	if w.err != nil {
		return w.err
	}
	if w.ended {
		return violation("WriteBody after End")
	}
	if !w.headersWritten {
		return violation("WriteBody before WriteHeaders")
	}
	if len(p) == 0 {
		return nil
	}
	if _, err := w.output.Write(p); err != nil {
		w.err = &SinkError{Op: "write", Err: err}
		return w.err
	}
	return nil
}

// End finishes the response. If no headers were written nothing is put
// on the wire and the exchange is not persistent, whatever the protocol
// version: there is no framing for the client to rely on.
func (w *Response) End() error {
	if w.err != nil {
		return w.err
	}
	if w.ended {
		return violation("End called twice")
	}
	if !w.headersWritten {
		w.keepAlive = false
	}
	if err := w.output.End(); err != nil {
		w.err = &SinkError{Op: "end", Err: err}
		return w.err
	}
	w.ended = true
	return nil
}

func (w *Response) KeepAlive() bool { return w.keepAlive }

func (w *Response) HeadersWritten() bool { return w.headersWritten }

func (w *Response) Ended() bool { return w.ended }

// Framed reports whether a client can find the end of the body from the
// header block alone: a declared length or transfer coding, or a status
// that never carries a body.
func (w *Response) Framed() bool { return w.framed }
