package simple_response

import (
	"net"
	"sync"
)

// registry holds a server's open listeners and connections. Once shut
// it refuses new listeners and its done channel is closed.
type registry struct {
	mu        sync.Mutex
	listeners map[*net.Listener]struct{}
	conns     map[*conn]struct{}
	done      chan struct{}
	shut      bool
}

func (r *registry) initLocked() {
	if r.done == nil {
		r.listeners = make(map[*net.Listener]struct{})
		r.conns = make(map[*conn]struct{})
		r.done = make(chan struct{})
	}
}

// addListener reports false if the registry is already shut.
func (r *registry) addListener(ln *net.Listener) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.initLocked()
	if r.shut {
		return false
	}
	r.listeners[ln] = struct{}{}
	return true
}

func (r *registry) removeListener(ln *net.Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.listeners, ln)
}

func (r *registry) addConn(c *conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.initLocked()
	r.conns[c] = struct{}{}
}

func (r *registry) removeConn(c *conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, c)
}

func (r *registry) doneC() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.initLocked()
	return r.done
}

// shutDown marks the registry shut and closes every listener,
// returning the first close error. It is safe to call more than once.
func (r *registry) shutDown() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.initLocked()
	if !r.shut {
		r.shut = true
		close(r.done)
	}
	var first error
	for ln := range r.listeners {
		if err := (*ln).Close(); err != nil && first == nil {
			first = err
		}
		delete(r.listeners, ln)
	}
	return first
}

// closeConns closes the sockets of connections matching pick and
// reports how many connections are left open.
func (r *registry) closeConns(pick func(*conn) bool) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	for c := range r.conns {
		if pick(c) {
			c.rwc.Close()
			delete(r.conns, c)
		}
	}
	return len(r.conns)
}
