// transport.go - Handler/Transport contracts and the in-process pipe.

package rpc

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by a transport after Close.
var ErrClosed = errors.New("rpc: transport closed")

// Handler serves one request. It is called by a single serve loop, so
// implementations see requests one at a time.
type Handler interface {
	Handle(ctx context.Context, req *Request) *Response
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, req *Request) *Response

func (f HandlerFunc) Handle(ctx context.Context, req *Request) *Response {
	return f(ctx, req)
}

// Transport carries requests to a worker and returns its responses.
type Transport interface {
	RoundTrip(ctx context.Context, req *Request) (*Response, error)
	Close() error
}

type envelope struct {
	req   *Request
	reply chan *Response
}

// Pipe is an in-process transport: one goroutine owns the handler and
// serves requests in arrival order.
type Pipe struct {
	requests chan envelope
	done     chan struct{}
	stopped  chan struct{}
	once     sync.Once
}

// NewPipe starts the serve loop for h.
func NewPipe(h Handler) *Pipe {
	p := &Pipe{
		requests: make(chan envelope),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	go p.serve(h)
	return p
}

func (p *Pipe) serve(h Handler) {
	defer close(p.stopped)
	// The worker context outlives individual calls; a caller giving up
	// does not abort work already started.
	ctx := context.Background()
	for {
		select {
		case <-p.done:
			return
		case env := <-p.requests:
			resp := h.Handle(ctx, env.req)
			// reply is buffered, so an abandoned call never blocks the loop.
			env.reply <- resp
		}
	}
}

// RoundTrip hands req to the serve loop and waits for its response or ctx.
func (p *Pipe) RoundTrip(ctx context.Context, req *Request) (*Response, error) {
	env := envelope{req: req, reply: make(chan *Response, 1)}
	select {
	case p.requests <- env:
	case <-p.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case resp := <-env.reply:
		return resp, nil
	case <-p.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops the serve loop after the request in progress, if any.
func (p *Pipe) Close() error {
	p.once.Do(func() { close(p.done) })
	<-p.stopped
	return nil
}
