package simple_response

import (
	"bufio"
	"context"
	"io"
	"net"
	"sync"
)

// Sink receives the bytes of one response and the signal that it is
// complete. After End the sink may reuse or close the underlying
// connection according to the writer's KeepAlive.
type Sink interface {
	Write(p []byte) (int, error)
	End() error
}

// LineBreaker is implemented by sinks whose framing uses a line
// terminator other than CRLF.
type LineBreaker interface {
	LineBreak() []byte
}

func lineBreak(s Sink) []byte {
	if lb, ok := s.(LineBreaker); ok {
		if eol := lb.LineBreak(); len(eol) > 0 {
			return eol
		}
	}
	return crlf
}

type flusher interface {
	Flush() error
}

type writerSink struct {
	w io.Writer
}

// WriterSink adapts w to a Sink. End flushes w if it has a
// Flush() error method; it never closes w.
func WriterSink(w io.Writer) Sink {
	return writerSink{w}
}

func (s writerSink) Write(p []byte) (int, error) {
	return s.w.Write(p)
}

func (s writerSink) End() error {
	if f, ok := s.w.(flusher); ok {
		return f.Flush()
	}
	return nil
}

var (
	readerPool sync.Pool
	writerPool sync.Pool
)

func acquireReader(r io.Reader) *bufio.Reader {
	if br, ok := readerPool.Get().(*bufio.Reader); ok {
		br.Reset(r)
		return br
	}
	return bufio.NewReader(r)
}

func releaseReader(br *bufio.Reader) {
	br.Reset(nil)
	readerPool.Put(br)
}

// connSink is the Sink of every response on one connection. Writes
// collect in a pooled bufio.Writer and End flushes them, so a response
// reaches the socket in as few writes as its size allows. The first
// socket error is kept: it fails every later call and cancels the
// connection's context.
type connSink struct {
	rwc    net.Conn
	bw     *bufio.Writer
	err    error
	cancel context.CancelFunc
}

func newConnSink(rwc net.Conn, cancel context.CancelFunc) *connSink {
	s := &connSink{rwc: rwc, cancel: cancel}
	if bw, ok := writerPool.Get().(*bufio.Writer); ok {
		bw.Reset(socketWriter{s})
		s.bw = bw
	} else {
		s.bw = bufio.NewWriter(socketWriter{s})
	}
	return s
}

func (s *connSink) Write(p []byte) (int, error) {
	if s.err != nil {
		return 0, s.err
	}
	return s.bw.Write(p)
}

func (s *connSink) End() error {
	if err := s.bw.Flush(); err != nil {
		return err
	}
	return s.err
}

// release flushes anything still buffered and returns the writer to
// the pool. The sink is unusable afterwards.
func (s *connSink) release() {
	if s.bw == nil {
		return
	}
	s.bw.Flush()
	s.bw.Reset(nil)
	writerPool.Put(s.bw)
	s.bw = nil
}

// socketWriter is the sink's path to the socket.
type socketWriter struct {
	s *connSink
}

func (w socketWriter) Write(p []byte) (int, error) {
	n, err := w.s.rwc.Write(p)
	if err != nil && w.s.err == nil {
		w.s.err = err
		w.s.cancel()
	}
	return n, err
}
