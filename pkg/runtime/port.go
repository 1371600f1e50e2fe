package runtime

import (
	"context"
	"sync"

	"github.com/DhyeyTeraiya/new--sub004/pkg/protocol"
)

// Port is one context's receiving end. Messages are handled one at a
// time on a dedicated goroutine, so a context never observes its own
// handler running concurrently.
type Port struct {
	addr    Address
	router  *Router
	handler Handler

	queue     chan delivery
	done      chan struct{}
	closeOnce sync.Once
}

type delivery struct {
	ctx     context.Context
	msg     Message
	respond RespondFunc
}

func newPort(r *Router, addr Address, handler Handler) *Port {
	return &Port{
		addr:    addr,
		router:  r,
		handler: handler,
		queue:   make(chan delivery, r.buffer),
		done:    make(chan struct{}),
	}
}

// Address returns the address this port is attached under.
func (p *Port) Address() Address { return p.addr }

// Close detaches the context. Messages still queued are settled with a
// failure so senders are not left waiting for the full timeout.
func (p *Port) Close() {
	p.closeOnce.Do(func() {
		close(p.done)
		p.router.detach(p.addr)
	})
}

func (p *Port) deliver(ctx context.Context, msg Message, respond RespondFunc) error {
	d := delivery{ctx: ctx, msg: msg, respond: settleOnce(respond)}

	select {
	case <-p.done:
		return protocol.ErrNoReceiver
	default:
	}

	select {
	case p.queue <- d:
		return nil
	case <-p.done:
		return protocol.ErrNoReceiver
	default:
		return ErrBacklogFull
	}
}

func (p *Port) run() {
	for {
		select {
		case d := <-p.queue:
			p.handler(d.ctx, d.msg, d.respond)
		case <-p.done:
			p.drain()
			return
		}
	}
}

func (p *Port) drain() {
	for {
		select {
		case d := <-p.queue:
			d.respond(protocol.Failf("context detached"))
		default:
			return
		}
	}
}

// settleOnce normalizes respond so handlers can always call it, and
// drops every settlement after the first.
func settleOnce(fn RespondFunc) RespondFunc {
	if fn == nil {
		return func(protocol.Response) {}
	}
	var once sync.Once
	return func(resp protocol.Response) {
		once.Do(func() { fn(resp) })
	}
}
