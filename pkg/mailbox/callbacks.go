package mailbox

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

// Callbacks tracks one-shot result callbacks keyed by correlation id.
// A callback fires at most once and is discarded automatically when its
// TTL passes without a result.
type Callbacks struct {
	logger *slog.Logger
	ttl    time.Duration

	mu      sync.Mutex
	pending map[string]*pendingCallback
	closed  bool
}

type pendingCallback struct {
	fn    func(json.RawMessage)
	timer *time.Timer
}

// NewCallbacks builds a registry whose callbacks expire after ttl.
func NewCallbacks(logger *slog.Logger, ttl time.Duration) *Callbacks {
	return &Callbacks{
		logger:  logger.With(slog.String("component", "mailbox")),
		ttl:     ttl,
		pending: make(map[string]*pendingCallback),
	}
}

// Register stores fn under id. A previous callback under the same id is
// replaced and will never fire.
func (c *Callbacks) Register(id string, fn func(json.RawMessage)) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	if old, ok := c.pending[id]; ok {
		old.timer.Stop()
	}
	c.pending[id] = &pendingCallback{
		fn:    fn,
		timer: time.AfterFunc(c.ttl, func() { c.expire(id) }),
	}
}

// Trigger fires and removes the callback for id, reporting whether one
// was registered. An expired or unknown id returns false.
func (c *Callbacks) Trigger(id string, result json.RawMessage) bool {
	c.mu.Lock()
	cb, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
		cb.timer.Stop()
	}
	c.mu.Unlock()

	if !ok {
		return false
	}
	cb.fn(result)
	return true
}

// Count reports how many callbacks are waiting.
func (c *Callbacks) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Close drops every pending callback and refuses new registrations.
func (c *Callbacks) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	for id, cb := range c.pending {
		cb.timer.Stop()
		delete(c.pending, id)
	}
}

func (c *Callbacks) expire(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.pending[id]; ok {
		delete(c.pending, id)
		c.logger.Debug("callback expired without a result", slog.String("id", id))
	}
}
