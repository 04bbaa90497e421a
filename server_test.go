package simple_response

import (
	"bufio"
	"context"
	"io"
	"io/ioutil"
	"log"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startServer(t *testing.T, srv *Server) (addr string, stop func()) {
	t.Helper()
	if srv.Handler == nil {
		srv.Handler = HelloWorldHandler()
	}
	srv.ErrorLog = log.New(ioutil.Discard, "", 0)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- srv.Serve(ln) }()

	return ln.Addr().String(), func() {
		require.NoError(t, srv.Close())
		assert.Equal(t, ErrServerClosed, <-done)
	}
}

type client struct {
	t  *testing.T
	c  net.Conn
	br *bufio.Reader
}

func dial(t *testing.T, addr string) *client {
	t.Helper()
	c, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	c.SetDeadline(time.Now().Add(5 * time.Second))
	return &client{t: t, c: c, br: bufio.NewReader(c)}
}

func (cl *client) send(raw string) {
	cl.t.Helper()
	_, err := io.WriteString(cl.c, raw)
	require.NoError(cl.t, err)
}

// readResponse reads one response head and a Content-Length framed body.
func (cl *client) readResponse() (head []string, body string) {
	cl.t.Helper()
	for {
		line, err := cl.br.ReadString('\n')
		require.NoError(cl.t, err)
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		head = append(head, line)
	}
	n := 0
	for _, l := range head[1:] {
		if i := strings.IndexByte(l, ':'); i > 0 && strings.EqualFold(l[:i], "Content-Length") {
			var err error
			n, err = strconv.Atoi(strings.TrimSpace(l[i+1:]))
			require.NoError(cl.t, err)
		}
	}
	buf := make([]byte, n)
	_, err := io.ReadFull(cl.br, buf)
	require.NoError(cl.t, err)
	return head, string(buf)
}

func (cl *client) assertClosed() {
	cl.t.Helper()
	_, err := cl.br.ReadByte()
	assert.Equal(cl.t, io.EOF, err)
}

func TestServeHTTP11KeepsAlive(t *testing.T) {
	srv := &Server{}
	addr, stop := startServer(t, srv)
	defer stop()

	cl := dial(t, addr)
	defer cl.c.Close()

	for i := 0; i < 2; i++ {
		cl.send("GET / HTTP/1.1\r\nHost: test\r\n\r\n")
		head, body := cl.readResponse()

		assert.Equal(t, "HTTP/1.1 200 OK", head[0])
		assert.NotContains(t, head, "Connection: keep-alive")
		assert.Equal(t, helloBody, body)
	}
	assert.True(t, srv.KeptAlive() >= 1)
}

func TestServeHTTP10(t *testing.T) {
	addr, stop := startServer(t, &Server{})
	defer stop()

	t.Run("closes by default", func(t *testing.T) {
		cl := dial(t, addr)
		defer cl.c.Close()

		cl.send("GET / HTTP/1.0\r\n\r\n")
		head, body := cl.readResponse()

		assert.Equal(t, "HTTP/1.0 200 OK", head[0])
		for _, l := range head {
			assert.False(t, strings.HasPrefix(l, "Connection:"), l)
		}
		assert.Equal(t, helloBody, body)
		cl.assertClosed()
	})

	t.Run("keep-alive advertised", func(t *testing.T) {
		cl := dial(t, addr)
		defer cl.c.Close()

		for i := 0; i < 2; i++ {
			cl.send("GET / HTTP/1.0\r\nConnection: keep-alive\r\n\r\n")
			head, body := cl.readResponse()

			assert.Equal(t, "HTTP/1.0 200 OK", head[0])
			assert.Equal(t, "Connection: keep-alive", head[len(head)-1])
			assert.Equal(t, helloBody, body)
		}
	})
}

func TestServeClientClose(t *testing.T) {
	addr, stop := startServer(t, &Server{})
	defer stop()

	cl := dial(t, addr)
	defer cl.c.Close()

	cl.send("GET / HTTP/1.1\r\nConnection: close\r\n\r\n")
	head, _ := cl.readResponse()

	assert.Equal(t, "HTTP/1.1 200 OK", head[0])
	cl.assertClosed()
}

func TestServeDisableKeepAlives(t *testing.T) {
	addr, stop := startServer(t, &Server{DisableKeepAlives: true})
	defer stop()

	cl := dial(t, addr)
	defer cl.c.Close()

	cl.send("GET / HTTP/1.1\r\n\r\n")
	_, body := cl.readResponse()

	assert.Equal(t, helloBody, body)
	cl.assertClosed()
}

func TestServeDiscardsUnreadBody(t *testing.T) {
	addr, stop := startServer(t, &Server{})
	defer stop()

	cl := dial(t, addr)
	defer cl.c.Close()

	cl.send("POST / HTTP/1.1\r\nContent-Length: 7\r\n\r\npayload")
	_, body := cl.readResponse()
	assert.Equal(t, helloBody, body)

	cl.send("GET / HTTP/1.1\r\n\r\n")
	head, _ := cl.readResponse()
	assert.Equal(t, "HTTP/1.1 200 OK", head[0])
}

func TestServeHandlerWithoutHeaders(t *testing.T) {
	silent := HandlerFunc(func(w ResponseWriter, r *Request) {})

	t.Run("nothing written", func(t *testing.T) {
		addr, stop := startServer(t, &Server{Handler: silent})
		defer stop()

		cl := dial(t, addr)
		defer cl.c.Close()

		cl.send("GET / HTTP/1.1\r\n\r\n")
		cl.assertClosed()
	})

	t.Run("empty response status", func(t *testing.T) {
		addr, stop := startServer(t, &Server{Handler: silent, EmptyResponseStatus: StatusNoContent})
		defer stop()

		cl := dial(t, addr)
		defer cl.c.Close()

		for i := 0; i < 2; i++ {
			cl.send("GET / HTTP/1.1\r\n\r\n")
			head, body := cl.readResponse()

			assert.Equal(t, []string{"HTTP/1.1 204 No Content", "Content-Length: 0"}, head)
			assert.Empty(t, body)
		}
	})
}

func TestServeHandlerEcho(t *testing.T) {
	echo := HandlerFunc(func(w ResponseWriter, r *Request) {
		b, err := ioutil.ReadAll(r.Body)
		assert.NoError(t, err)
		h := NewHeaders("Content-Length", strconv.Itoa(len(b)))
		assert.NoError(t, w.WriteHeaders("200 OK", h))
		assert.NoError(t, w.WriteBody(b[:len(b)/2]))
		assert.NoError(t, w.WriteBody(b[len(b)/2:]))
		assert.NoError(t, w.End())
		assert.Error(t, w.End())
	})
	addr, stop := startServer(t, &Server{Handler: echo})
	defer stop()

	cl := dial(t, addr)
	defer cl.c.Close()

	cl.send("PUT /echo HTTP/1.1\r\nContent-Length: 10\r\n\r\nhelloworld")
	_, body := cl.readResponse()

	assert.Equal(t, "helloworld", body)
}

func TestServeMalformedRequestCloses(t *testing.T) {
	addr, stop := startServer(t, &Server{})
	defer stop()

	cl := dial(t, addr)
	defer cl.c.Close()

	cl.send("NONSENSE\r\n\r\n")
	cl.assertClosed()
}

func TestShutdown(t *testing.T) {
	srv := &Server{Handler: HelloWorldHandler(), ErrorLog: log.New(ioutil.Discard, "", 0)}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- srv.Serve(ln) }()

	cl := dial(t, ln.Addr().String())
	defer cl.c.Close()
	cl.send("GET / HTTP/1.1\r\n\r\n")
	cl.readResponse()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))
	assert.Equal(t, ErrServerClosed, <-done)
	cl.assertClosed()

	assert.Equal(t, ErrServerClosed, srv.ListenAndServe())
}

func TestListenAndServeErrors(t *testing.T) {
	assert.Equal(t, ErrServerAddrError, (&Server{}).ListenAndServe())
	assert.Equal(t, ErrServerNetworkError, (&Server{Addr: ":0", Network: "udp"}).ListenAndServe())
}

func TestServeUnframedResponseCloses(t *testing.T) {
	unframed := HandlerFunc(func(w ResponseWriter, r *Request) {
		assert.NoError(t, w.WriteHeaders("200 OK", nil))
		assert.NoError(t, w.WriteBody([]byte("abc")))
		assert.NoError(t, w.End())
		assert.True(t, w.KeepAlive())
	})
	addr, stop := startServer(t, &Server{Handler: unframed})
	defer stop()

	cl := dial(t, addr)
	defer cl.c.Close()

	cl.send("GET / HTTP/1.1\r\n\r\n")
	head, _ := cl.readResponse()
	assert.Equal(t, []string{"HTTP/1.1 200 OK"}, head)

	// The body runs to the end of the connection.
	rest, err := ioutil.ReadAll(cl.br)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(rest))
}

func TestServeHeadWithoutLengthKeepsAlive(t *testing.T) {
	head := HandlerFunc(func(w ResponseWriter, r *Request) {
		assert.NoError(t, w.WriteHeaders("200 OK", NewHeaders("Content-Type", "text/plain")))
		assert.NoError(t, w.End())
	})
	addr, stop := startServer(t, &Server{Handler: head})
	defer stop()

	cl := dial(t, addr)
	defer cl.c.Close()

	for i := 0; i < 2; i++ {
		cl.send("HEAD / HTTP/1.1\r\n\r\n")
		h, _ := cl.readResponse()
		assert.Equal(t, "HTTP/1.1 200 OK", h[0])
	}
}

func TestServeConnStateHook(t *testing.T) {
	var (
		mu     sync.Mutex
		states []ConnState
	)
	closed := make(chan struct{})
	srv := &Server{ConnState: func(_ net.Conn, st ConnState) {
		mu.Lock()
		states = append(states, st)
		mu.Unlock()
		if st == StateClosed {
			close(closed)
		}
	}}
	addr, stop := startServer(t, srv)
	defer stop()

	cl := dial(t, addr)
	for i := 0; i < 2; i++ {
		cl.send("GET / HTTP/1.1\r\n\r\n")
		cl.readResponse()
	}
	cl.c.Close()

	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		t.Fatal("connection never reached StateClosed")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []ConnState{StateNew, StateActive, StateIdle, StateActive, StateIdle, StateClosed}, states)
	assert.Equal(t, 0, srv.IdleConns())
	assert.Equal(t, uint64(2), srv.KeptAlive())
}

func TestConnStateString(t *testing.T) {
	assert.Equal(t, "new", StateNew.String())
	assert.Equal(t, "active", StateActive.String())
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "closed", StateClosed.String())
}

func TestCloseDropsIdleConns(t *testing.T) {
	srv := &Server{}
	addr, stop := startServer(t, srv)

	cl := dial(t, addr)
	defer cl.c.Close()
	cl.send("GET / HTTP/1.1\r\n\r\n")
	cl.readResponse()

	stop()
	cl.assertClosed()
}
