package simple_response

import "strconv"

type serverHandler struct {
	srv *Server
}

func (sh serverHandler) Serve(w ResponseWriter, req *Request) {
	handler := sh.srv.Handler
	if handler == nil {
		panic("simple_response: invalid handler")
	}
	handler.Serve(w, req)
}

// A Handler responds to one request. It should end the response; if it
// returns without calling End, the connection does.
type Handler interface {
	Serve(ResponseWriter, *Request)
}

type HandlerFunc func(ResponseWriter, *Request)

// Serve calls f(w, r).
func (f HandlerFunc) Serve(w ResponseWriter, r *Request) {
	f(w, r)
}

const helloBody = "simple_response: hello world!"

// HelloWorld replies with a fixed plain-text body.
func HelloWorld(w ResponseWriter, r *Request) {
	h := NewHeaders(
		"Content-Type", "text/plain; charset=utf-8",
		"Content-Length", strconv.Itoa(len(helloBody)),
	)
	if err := w.WriteHeaders("200 OK", h); err != nil {
		return
	}
	if err := w.WriteBody([]byte(helloBody)); err != nil {
		return
	}
	w.End()
}

// HelloWorldHandler returns a simple request handler
// that replies to each request with a ``simple_response: hello world!'' reply.
func HelloWorldHandler() Handler { return HandlerFunc(HelloWorld) }
