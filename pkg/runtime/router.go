package runtime

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"

	"github.com/DhyeyTeraiya/new--sub004/pkg/protocol"
)

var (
	// ErrRouterClosed is returned for operations after Close.
	ErrRouterClosed = errors.New("router closed")

	// ErrAlreadyAttached is returned when an address is attached twice.
	ErrAlreadyAttached = errors.New("address already attached")

	// ErrBacklogFull is returned when a target's delivery queue is full.
	ErrBacklogFull = errors.New("message backlog full")
)

const defaultPortBuffer = 64

// Router connects the extension's contexts. Each context attaches once
// under its Address and receives messages through its own Port.
type Router struct {
	logger     *slog.Logger
	buffer     int
	middleware []Middleware

	mu       sync.RWMutex
	ports    map[Address]*Port
	onDetach []func(Address)
	closed   bool
}

// Option configures a Router.
type Option func(*Router)

// WithPortBuffer sets the per-context delivery queue size.
func WithPortBuffer(n int) Option {
	return func(r *Router) {
		if n > 0 {
			r.buffer = n
		}
	}
}

// WithMiddleware wraps every attached handler with the given middleware,
// outermost first.
func WithMiddleware(mw ...Middleware) Option {
	return func(r *Router) {
		r.middleware = append(r.middleware, mw...)
	}
}

// WithDetachHook registers fn to run whenever a context detaches.
func WithDetachHook(fn func(Address)) Option {
	return func(r *Router) {
		r.onDetach = append(r.onDetach, fn)
	}
}

// NewRouter builds a Router. logger must not be nil.
func NewRouter(logger *slog.Logger, opts ...Option) *Router {
	r := &Router{
		logger: logger.With(slog.String("component", "runtime")),
		buffer: defaultPortBuffer,
		ports:  make(map[Address]*Port),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Attach registers a context under addr and starts delivering messages
// to handler. The returned Port must be closed when the context goes
// away.
func (r *Router) Attach(addr Address, handler Handler) (*Port, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrRouterClosed
	}
	if _, ok := r.ports[addr]; ok {
		return nil, ErrAlreadyAttached
	}

	p := newPort(r, addr, Chain(handler, r.middleware...))
	r.ports[addr] = p
	go p.run()

	r.logger.Debug("context attached", slog.String("address", addr.String()))
	return p, nil
}

// Send queues msg for the context at to. respond may be nil when no
// reply is expected; otherwise at most one settlement is delivered,
// from whichever handler answers first.
//
// Send never blocks on the receiver. protocol.ErrNoReceiver is returned
// when no context is attached at to, ErrBacklogFull when the receiver
// cannot keep up.
func (r *Router) Send(ctx context.Context, to Address, msg Message, respond RespondFunc) error {
	r.mu.RLock()
	p, ok := r.ports[to]
	closed := r.closed
	r.mu.RUnlock()

	if closed {
		return ErrRouterClosed
	}
	if !ok {
		return protocol.ErrNoReceiver
	}
	return p.deliver(ctx, msg, respond)
}

// Targets lists the attached addresses of the given kind, ordered by tab
// id for determinism.
func (r *Router) Targets(kind Kind) []Address {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Address
	for addr := range r.ports {
		if addr.Kind == kind {
			out = append(out, addr)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Tab < out[j].Tab })
	return out
}

// Close detaches every context and rejects further traffic.
func (r *Router) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	ports := make([]*Port, 0, len(r.ports))
	for _, p := range r.ports {
		ports = append(ports, p)
	}
	r.mu.Unlock()

	for _, p := range ports {
		p.Close()
	}
}

// detach removes addr from the routing table and fires detach hooks.
func (r *Router) detach(addr Address) {
	r.mu.Lock()
	_, ok := r.ports[addr]
	if ok {
		delete(r.ports, addr)
	}
	hooks := r.onDetach
	r.mu.Unlock()

	if !ok {
		return
	}
	for _, fn := range hooks {
		fn(addr)
	}
	r.logger.Debug("context detached", slog.String("address", addr.String()))
}
