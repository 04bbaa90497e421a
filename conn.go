package simple_response

import (
	"bufio"
	"context"
	"errors"
	"io"
	"io/ioutil"
	"net"
	"runtime"
	"time"

	atom "go.uber.org/atomic"
)

// maxDrainBytes bounds how much of an unread request body is discarded
// to keep a connection alive. Larger bodies close the connection.
const maxDrainBytes = 256 << 10

// staleNewConn is how long a connection may sit without sending its
// first request before Shutdown treats it as idle.
const staleNewConn = 5 * time.Second

type ConnState int

const (
	// StateNew is a connection that is expected to send a request
	// immediately.
	StateNew ConnState = iota

	// StateActive is a connection that has read a request head and is
	// being served.
	StateActive

	// StateIdle is a connection that finished a persistent exchange and
	// is waiting for the next request.
	StateIdle

	// StateClosed is terminal.
	StateClosed
)

var stateName = map[ConnState]string{
	StateNew:    "new",
	StateActive: "active",
	StateIdle:   "idle",
	StateClosed: "closed",
}

func (c ConnState) String() string {
	return stateName[c]
}

// A conn is the server side of one client connection. It runs
// exchanges one after another for as long as each response is
// persistent.
type conn struct {
	srv        *Server
	rwc        net.Conn
	remoteAddr string

	br  *bufio.Reader
	out *connSink

	state atom.Int32
	since atom.Int64 // unix nanos of the last state change
}

func (c *conn) setState(state ConnState) {
	prev := ConnState(c.state.Swap(int32(state)))
	c.since.Store(time.Now().UnixNano())
	c.srv.stateChanged(c, prev, state)
	if hook := c.srv.ConnState; hook != nil {
		hook(c.rwc, state)
	}
}

// closable reports whether Shutdown may close the connection without
// cutting an exchange short: it is waiting on a kept-alive connection,
// or it never sent a request.
func (c *conn) closable(now time.Time) bool {
	switch ConnState(c.state.Load()) {
	case StateIdle:
		return true
	case StateNew:
		return now.Sub(time.Unix(0, c.since.Load())) > staleNewConn
	}
	return false
}

func (c *conn) serve(ctx context.Context) {
	c.remoteAddr = c.rwc.RemoteAddr().String()
	ctx, cancel := context.WithCancel(context.WithValue(ctx, LocalAddrContextKey, c.rwc.LocalAddr()))

	c.br = acquireReader(c.rwc)
	c.out = newConnSink(c.rwc, cancel)
	defer func() {
		if err := recover(); err != nil {
			stack := make([]byte, 64<<10)
			stack = stack[:runtime.Stack(stack, false)]
			c.srv.logf("simple_response: panic serving %v: %v\n%s", c.remoteAddr, err, stack)
		}
		cancel()
		c.out.release()
		releaseReader(c.br)
		c.rwc.Close()
		c.setState(StateClosed)
	}()

	for c.exchange(ctx) {
		c.setState(StateIdle)
		if !c.awaitNext() {
			return
		}
	}
}

// exchange serves one request and reports whether the connection may
// carry another.
func (c *conn) exchange(ctx context.Context) bool {
	req, err := c.readRequest(ctx)
	if err != nil {
		if !isConnGone(err) {
			c.srv.logf("simple_response: read request on %v with error: %v", c.remoteAddr, err)
		}
		return false
	}
	c.setState(StateActive)

	w := New(c.out, req, c.srv.defaultKeepAlive(req))
	serverHandler{c.srv}.Serve(w, req)
	req.cancel()

	if !c.finishRequest(w, req) || !c.discardBody(req) {
		return false
	}
	c.srv.keptAlive.Inc()
	return true
}

// awaitNext waits up to the idle timeout for the next request head to
// start arriving.
func (c *conn) awaitNext() bool {
	if d := c.srv.idleTimeout(); d != 0 {
		c.rwc.SetReadDeadline(time.Now().Add(d))
		if _, err := c.br.Peek(1); err != nil {
			return false
		}
	}
	c.rwc.SetReadDeadline(time.Time{})
	return true
}

// finishRequest ends a response the handler left open and reports
// whether the connection may carry another exchange: the writer must
// have resolved to keep-alive, the body must be delimited for the
// client, and the server must not be going away.
func (c *conn) finishRequest(w *Response, req *Request) bool {
	if !w.Ended() {
		if status := c.srv.EmptyResponseStatus; status != "" && !w.HeadersWritten() {
			if err := w.WriteHeaders(status, NewHeaders("Content-Length", "0")); err != nil {
				c.srv.logf("simple_response: implicit headers on %v: %v", c.remoteAddr, err)
				return false
			}
		}
		if err := w.End(); err != nil {
			c.srv.logf("simple_response: end response on %v: %v", c.remoteAddr, err)
			return false
		}
	}
	if !w.KeepAlive() || c.srv.shuttingDown() {
		return false
	}
	return w.Framed() || req.Method == "HEAD"
}

// discardBody consumes whatever the handler left of the request body
// so the next request head is at the front of br.
func (c *conn) discardBody(req *Request) bool {
	if hasUnframedBody(req) {
		return false
	}
	_, err := io.CopyN(ioutil.Discard, req.Body, maxDrainBytes+1)
	return err == io.EOF
}

// hasUnframedBody reports whether the request body has no declared
// length and so runs until the peer closes.
func hasUnframedBody(req *Request) bool {
	_, ok := req.Header.Lookup("Transfer-Encoding")
	return ok
}

// readRequest reads the next request head under the header timeout,
// attaches its body and extends the read deadline to cover it.
func (c *conn) readRequest(ctx context.Context) (*Request, error) {
	start := time.Now()
	c.rwc.SetReadDeadline(deadline(start, c.srv.headerTimeout()))

	req, err := readRequest(c.br)
	if err != nil {
		return nil, err
	}
	req.RemoteAddr = c.remoteAddr

	if hasUnframedBody(req) {
		req.Body = c.br
	} else {
		n, err := req.ContentLength()
		if err != nil {
			return nil, err
		}
		if n < 0 {
			n = 0
		}
		req.Body = io.LimitReader(c.br, n)
	}
	req.ctx, req.cancel = context.WithCancel(ctx)

	c.rwc.SetReadDeadline(deadline(start, c.srv.ReadTimeout))
	c.rwc.SetWriteDeadline(deadline(time.Now(), c.srv.WriteTimeout))
	return req, nil
}

// deadline is from+d, or no deadline when d is zero.
func deadline(from time.Time, d time.Duration) time.Time {
	if d == 0 {
		return time.Time{}
	}
	return from.Add(d)
}

func isConnGone(err error) bool {
	if err == io.EOF || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "read"
}
