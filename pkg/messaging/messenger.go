// Package messaging layers request/response correlation on top of the
// runtime's one-way message passing. Callers get a blocking request
// call with a timeout; responders register per-type handlers.
package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/DhyeyTeraiya/new--sub004/pkg/protocol"
	"github.com/DhyeyTeraiya/new--sub004/pkg/runtime"
)

const defaultRequestTimeout = 5 * time.Second

// Handler processes one request and returns the reply payload. A nil
// error resolves the request; an error marks this handler as failed.
type Handler func(ctx context.Context, msg runtime.Message) (any, error)

// Messenger is one context's view of the messaging system. It owns the
// context's runtime port, tracks requests awaiting replies, and
// dispatches inbound messages to registered handlers.
type Messenger struct {
	addr    runtime.Address
	router  *runtime.Router
	logger  *slog.Logger
	timeout time.Duration

	mu       sync.Mutex
	port     *runtime.Port
	pending  map[string]*pendingRequest
	handlers map[string][]*registration
	nextReg  uint64
	closed   bool
}

type pendingRequest struct {
	resolve chan protocol.Response
	reject  chan error
	timer   *time.Timer
}

type registration struct {
	id uint64
	fn Handler
}

// MessengerOption configures a Messenger.
type MessengerOption func(*Messenger)

// WithRequestTimeout sets the default deadline for correlated requests.
func WithRequestTimeout(d time.Duration) MessengerOption {
	return func(m *Messenger) {
		if d > 0 {
			m.timeout = d
		}
	}
}

// Attach registers a new Messenger for addr on the router.
func Attach(router *runtime.Router, addr runtime.Address, logger *slog.Logger, opts ...MessengerOption) (*Messenger, error) {
	m := &Messenger{
		addr:     addr,
		router:   router,
		logger:   logger.With(slog.String("component", "messaging"), slog.String("address", addr.String())),
		timeout:  defaultRequestTimeout,
		pending:  make(map[string]*pendingRequest),
		handlers: make(map[string][]*registration),
	}
	for _, opt := range opts {
		opt(m)
	}

	port, err := router.Attach(addr, m.dispatch)
	if err != nil {
		return nil, fmt.Errorf("attach %s: %w", addr, err)
	}
	m.port = port
	return m, nil
}

// Address returns the context address this messenger speaks for.
func (m *Messenger) Address() runtime.Address { return m.addr }

// Request sends a correlated request and blocks until a reply arrives,
// the default timeout passes, or ctx is canceled. A failure reply from
// the responder is returned as a Response with Success=false, not as an
// error; errors mean the exchange itself broke down.
func (m *Messenger) Request(ctx context.Context, to runtime.Address, typ string, payload any) (protocol.Response, error) {
	return m.RequestTimeout(ctx, to, typ, payload, m.timeout)
}

// RequestTimeout is Request with an explicit deadline. timeout <= 0
// falls back to the messenger default.
func (m *Messenger) RequestTimeout(ctx context.Context, to runtime.Address, typ string, payload any, timeout time.Duration) (protocol.Response, error) {
	if timeout <= 0 {
		timeout = m.timeout
	}
	raw, err := marshalPayload(typ, payload)
	if err != nil {
		return protocol.Response{}, err
	}

	id := protocol.NewRequestID()
	pr := &pendingRequest{
		resolve: make(chan protocol.Response, 1),
		reject:  make(chan error, 1),
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return protocol.Response{}, fmt.Errorf("request %s: %w", typ, protocol.ErrClosed)
	}
	m.pending[id] = pr
	pr.timer = time.AfterFunc(timeout, func() {
		m.rejectPending(id, fmt.Errorf("request %s after %v: %w", typ, timeout, protocol.ErrTimeout))
	})
	m.mu.Unlock()

	msg := runtime.Message{
		ID:      id,
		Type:    typ,
		Payload: raw,
		Sender:  m.addr,
		SentAt:  time.Now(),
	}
	if err := m.router.Send(ctx, to, msg, func(resp protocol.Response) {
		m.resolvePending(id, resp)
	}); err != nil {
		m.dropPending(id)
		return protocol.Response{}, fmt.Errorf("send %s to %s: %w", typ, to, err)
	}

	select {
	case resp := <-pr.resolve:
		return resp, nil
	case err := <-pr.reject:
		return protocol.Response{}, err
	case <-ctx.Done():
		m.dropPending(id)
		return protocol.Response{}, ctx.Err()
	}
}

// Notify sends a fire-and-forget message; no reply is expected.
func (m *Messenger) Notify(ctx context.Context, to runtime.Address, typ string, payload any) error {
	raw, err := marshalPayload(typ, payload)
	if err != nil {
		return err
	}
	msg := runtime.Message{
		Type:    typ,
		Payload: raw,
		Sender:  m.addr,
		SentAt:  time.Now(),
	}
	if err := m.router.Send(ctx, to, msg, nil); err != nil {
		return fmt.Errorf("send %s to %s: %w", typ, to, err)
	}
	return nil
}

// OnMessage registers fn for messages of the given type and returns a
// function that removes exactly this registration.
func (m *Messenger) OnMessage(typ string, fn Handler) (remove func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextReg++
	reg := &registration{id: m.nextReg, fn: fn}
	m.handlers[typ] = append(m.handlers[typ], reg)

	id := reg.id
	return func() { m.removeHandler(typ, id) }
}

// PendingRequests reports how many requests are awaiting replies.
func (m *Messenger) PendingRequests() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// Cleanup tears the messenger down: every in-flight request is rejected,
// handlers are dropped, and the context detaches from the router.
func (m *Messenger) Cleanup() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	pend := m.pending
	m.pending = make(map[string]*pendingRequest)
	m.handlers = make(map[string][]*registration)
	port := m.port
	m.mu.Unlock()

	for _, pr := range pend {
		pr.timer.Stop()
		pr.reject <- fmt.Errorf("messenger cleanup: %w", protocol.ErrClosed)
	}
	if port != nil {
		port.Close()
	}
	m.logger.Debug("messenger cleaned up", slog.Int("rejected", len(pend)))
}

// dispatch is the runtime handler for this context. Handler execution
// happens off the port goroutine so a slow handler cannot stall
// delivery of later messages.
func (m *Messenger) dispatch(ctx context.Context, msg runtime.Message, respond runtime.RespondFunc) {
	m.mu.Lock()
	regs := append([]*registration(nil), m.handlers[msg.Type]...)
	m.mu.Unlock()

	if len(regs) == 0 {
		// No handler: the sender's timeout is the only signal, matching
		// how an unanswered message behaves on the platform.
		m.logger.Debug("no handler for message", slog.String("type", msg.Type))
		return
	}
	go m.runHandlers(ctx, regs, msg, respond)
}

// runHandlers executes every registered handler. The first success wins
// the reply; if all fail, the first failure is reported.
func (m *Messenger) runHandlers(ctx context.Context, regs []*registration, msg runtime.Message, respond runtime.RespondFunc) {
	var firstErr error
	responded := false

	for _, reg := range regs {
		data, err := invokeHandler(ctx, reg.fn, msg)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			m.logger.Debug("handler failed",
				slog.String("type", msg.Type),
				slog.Any("error", err),
			)
			continue
		}
		if !responded {
			respond(protocol.OK(data))
			responded = true
		}
	}

	if !responded && firstErr != nil {
		respond(protocol.Fail(firstErr))
	}
}

// invokeHandler runs one handler; a panicking handler counts as failed.
func invokeHandler(ctx context.Context, fn Handler, msg runtime.Message) (data any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return fn(ctx, msg)
}

func (m *Messenger) resolvePending(id string, resp protocol.Response) {
	if pr := m.takePending(id); pr != nil {
		pr.resolve <- resp
	}
}

func (m *Messenger) rejectPending(id string, err error) {
	if pr := m.takePending(id); pr != nil {
		pr.reject <- err
	}
}

func (m *Messenger) dropPending(id string) {
	m.takePending(id)
}

// takePending removes and returns the pending request for id, stopping
// its timer. Returns nil when the request already settled.
func (m *Messenger) takePending(id string) *pendingRequest {
	m.mu.Lock()
	defer m.mu.Unlock()

	pr, ok := m.pending[id]
	if !ok {
		return nil
	}
	delete(m.pending, id)
	pr.timer.Stop()
	return pr
}

func (m *Messenger) removeHandler(typ string, id uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	regs := m.handlers[typ]
	for i, reg := range regs {
		if reg.id == id {
			m.handlers[typ] = append(regs[:i:i], regs[i+1:]...)
			break
		}
	}
	if len(m.handlers[typ]) == 0 {
		delete(m.handlers, typ)
	}
}

func marshalPayload(typ string, payload any) (json.RawMessage, error) {
	if payload == nil {
		return nil, nil
	}
	if raw, ok := payload.(json.RawMessage); ok {
		return raw, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", typ, err)
	}
	return raw, nil
}
