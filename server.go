package simple_response

import (
	"context"
	"errors"
	"log"
	"net"
	"time"

	atom "go.uber.org/atomic"
)

type contextKey struct {
	name string
}

var (
	// ServerContextKey is a context key. Handlers can use it with
	// Request.Context().Value to access the *Server that accepted the
	// connection.
	ServerContextKey = &contextKey{"simple_response"}

	// LocalAddrContextKey is a context key. The associated value is the
	// net.Addr the connection arrived on.
	LocalAddrContextKey = &contextKey{"simple_response_local_addr"}
)

var shutdownPollInterval = 500 * time.Millisecond

var (
	ErrServerClosed       = errors.New("simple_response: server closed")
	ErrServerAddrError    = errors.New("simple_response: address error")
	ErrServerNetworkError = errors.New("simple_response: network type error")
)

// StatusNoContent is a status suitable for Server.EmptyResponseStatus.
const StatusNoContent = "204 No Content"

// A Server accepts connections and serves HTTP/1.0 and HTTP/1.1
// exchanges on them, one Response per request.
// The zero value for Server is a valid configuration once Handler is set.
type Server struct {
	Network string // "tcp" if empty
	Addr    string // address to listen on, ErrServerAddrError if empty

	Handler Handler // handler to invoke

	// DisableKeepAlives makes every response default to a
	// non-persistent connection. A handler can still opt in with an
	// explicit "Connection: keep-alive" header.
	DisableKeepAlives bool

	// EmptyResponseStatus, if set, is written with a zero
	// Content-Length when a handler returns without writing headers.
	// Otherwise such a response puts nothing on the wire and the
	// connection is closed.
	EmptyResponseStatus string

	// ReadHeaderTimeout is the amount of time allowed to read
	// request headers. If zero, ReadTimeout is used.
	ReadHeaderTimeout time.Duration

	// ReadTimeout is the maximum duration for reading the entire
	// request, including the body.
	ReadTimeout time.Duration

	// WriteTimeout is the maximum duration before timing out
	// writes of the response. It is reset when a new request head is read.
	WriteTimeout time.Duration

	// IdleTimeout is the maximum amount of time to wait for the
	// next request on a persistent connection. If zero, ReadTimeout
	// is used.
	IdleTimeout time.Duration

	// ConnState, if set, is called whenever a connection changes state.
	ConnState func(net.Conn, ConnState)

	// ErrorLog specifies an optional logger for accept errors, request
	// read errors and handler panics.
	// If nil, logging is done via the log package's standard logger.
	ErrorLog *log.Logger

	inShutdown atom.Bool
	keptAlive  atom.Uint64
	idle       atom.Int64

	reg registry
}

// ListenAndServe listens on the TCP network address addr and serves
// requests with handler on incoming connections.
//
// ListenAndServe always returns a non-nil error.
func ListenAndServe(addr string, handler Handler) error {
	server := &Server{Addr: addr, Handler: handler}
	return server.ListenAndServe()
}

// ListenAndServe listens on srv.Network and srv.Addr and then calls
// Serve. Only stream networks are accepted.
func (srv *Server) ListenAndServe() error {
	if srv.shuttingDown() {
		return ErrServerClosed
	}
	addr := srv.Addr
	if len(addr) == 0 {
		return ErrServerAddrError
	}
	network := srv.Network
	switch network {
	case "":
		network = "tcp"
	case "tcp", "tcp4", "tcp6", "unix":
	default:
		return ErrServerNetworkError
	}

	ln, err := net.Listen(network, addr)
	if err != nil {
		return err
	}
	if tl, ok := ln.(*net.TCPListener); ok {
		ln = tcpKeepAliveListener{tl}
	}
	return srv.Serve(ln)
}

func (srv *Server) shuttingDown() bool {
	return srv.inShutdown.Load()
}

// KeptAlive returns the number of exchanges after which a connection
// was kept open for another request.
func (srv *Server) KeptAlive() uint64 {
	return srv.keptAlive.Load()
}

// IdleConns returns the number of kept-alive connections currently
// waiting for their next request.
func (srv *Server) IdleConns() int {
	return int(srv.idle.Load())
}

// Serve accepts connections on l, serving each in its own goroutine.
// It returns ErrServerClosed after Shutdown or Close.
func (srv *Server) Serve(l net.Listener) error {
	l = &onceCloseListener{Listener: l}
	defer l.Close()

	if !srv.reg.addListener(&l) {
		return ErrServerClosed
	}
	defer srv.reg.removeListener(&l)

	var retry acceptBackoff
	ctx := context.WithValue(context.Background(), ServerContextKey, srv)
	for {
		rw, err := l.Accept()
		if err != nil {
			select {
			case <-srv.reg.doneC():
				return ErrServerClosed
			default:
			}
			if ne, ok := err.(net.Error); ok && ne.Temporary() {
				d := retry.next()
				srv.logf("simple_response: accept error: %v; retrying in %v", err, d)
				time.Sleep(d)
				continue
			}
			return err
		}
		retry.reset()
		c := &conn{srv: srv, rwc: rw}
		c.setState(StateNew) // registered before Serve can return
		go c.serve(ctx)
	}
}

// acceptBackoff doubles the pause after each temporary accept error,
// from 5ms up to one second.
type acceptBackoff struct {
	d time.Duration
}

func (b *acceptBackoff) next() time.Duration {
	switch {
	case b.d == 0:
		b.d = 5 * time.Millisecond
	case b.d < time.Second:
		b.d *= 2
	}
	if b.d > time.Second {
		b.d = time.Second
	}
	return b.d
}

func (b *acceptBackoff) reset() { b.d = 0 }

// defaultKeepAlive is the persistence a response to req gets when its
// own headers do not decide it.
func (srv *Server) defaultKeepAlive(req *Request) bool {
	if srv.DisableKeepAlives || srv.shuttingDown() || hasUnframedBody(req) {
		return false
	}
	return req.WantsKeepAlive()
}

// stateChanged keeps the registry and the idle count in step with a
// connection's state.
func (srv *Server) stateChanged(c *conn, prev, next ConnState) {
	if prev == StateIdle {
		srv.idle.Dec()
	}
	switch next {
	case StateNew:
		srv.reg.addConn(c)
	case StateIdle:
		srv.idle.Inc()
	case StateClosed:
		srv.reg.removeConn(c)
	}
}

// Shutdown stops accepting connections and then, until none are left
// or ctx is done, closes connections that sit idle between kept-alive
// exchanges. Exchanges still running finish, but none of them is kept
// alive.
func (srv *Server) Shutdown(ctx context.Context) error {
	srv.inShutdown.Store(true)
	lnErr := srv.reg.shutDown()

	ticker := time.NewTicker(shutdownPollInterval)
	defer ticker.Stop()
	for {
		now := time.Now()
		if srv.reg.closeConns(func(c *conn) bool { return c.closable(now) }) == 0 {
			return lnErr
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Close immediately closes all listeners and connections, in-flight
// exchanges included. For a graceful shutdown, use Shutdown.
func (srv *Server) Close() error {
	srv.inShutdown.Store(true)
	err := srv.reg.shutDown()
	srv.reg.closeConns(func(*conn) bool { return true })
	return err
}

func (srv *Server) logf(format string, args ...interface{}) {
	if srv.ErrorLog != nil {
		srv.ErrorLog.Printf(format, args...)
		return
	}
	log.Printf(format, args...)
}

func (srv *Server) idleTimeout() time.Duration {
	return orDefault(srv.IdleTimeout, srv.ReadTimeout)
}

func (srv *Server) headerTimeout() time.Duration {
	return orDefault(srv.ReadHeaderTimeout, srv.ReadTimeout)
}

func orDefault(d, fallback time.Duration) time.Duration {
	if d != 0 {
		return d
	}
	return fallback
}
