// Package mailbox holds undeliverable traffic: a short-lived message
// queue for contexts that were not reachable at send time, and a
// registry of one-shot callbacks awaiting a later result.
package mailbox

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

// Queue buffers messages for receivers that were unavailable when the
// message was sent. Entries are claimed destructively and expire after
// the configured TTL; expired entries are purged when the next message
// is enqueued and are never handed out.
type Queue struct {
	logger *slog.Logger
	ttl    time.Duration
	now    func() time.Time

	mu      sync.Mutex
	entries map[string]queueEntry
}

type queueEntry struct {
	data     json.RawMessage
	queuedAt time.Time
}

// QueueOption configures a Queue.
type QueueOption func(*Queue)

// WithQueueClock overrides the time source, used by expiry tests.
func WithQueueClock(now func() time.Time) QueueOption {
	return func(q *Queue) { q.now = now }
}

// NewQueue builds a Queue whose entries live for ttl.
func NewQueue(logger *slog.Logger, ttl time.Duration, opts ...QueueOption) *Queue {
	q := &Queue{
		logger:  logger.With(slog.String("component", "mailbox")),
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]queueEntry),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Put stores data under id, replacing any previous entry with the same
// id. Expired entries are dropped as a side effect.
func (q *Queue) Put(id string, data json.RawMessage) {
	now := q.now()

	q.mu.Lock()
	defer q.mu.Unlock()

	for key, e := range q.entries {
		if now.Sub(e.queuedAt) > q.ttl {
			delete(q.entries, key)
			q.logger.Debug("queued message expired", slog.String("id", key))
		}
	}
	q.entries[id] = queueEntry{data: data, queuedAt: now}
}

// Claim removes and returns the entry for id. Entries past their TTL
// are dropped instead of returned, so stale traffic is never delivered.
func (q *Queue) Claim(id string) (json.RawMessage, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.entries[id]
	if !ok {
		return nil, false
	}
	delete(q.entries, id)
	if q.now().Sub(e.queuedAt) > q.ttl {
		q.logger.Debug("queued message expired on claim", slog.String("id", id))
		return nil, false
	}
	return e.data, true
}

// Size reports how many entries are currently claimable.
func (q *Queue) Size() int {
	now := q.now()

	q.mu.Lock()
	defer q.mu.Unlock()

	n := 0
	for _, e := range q.entries {
		if now.Sub(e.queuedAt) <= q.ttl {
			n++
		}
	}
	return n
}
