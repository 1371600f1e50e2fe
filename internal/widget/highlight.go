package widget

import (
	"log/slog"
	"sync"
	"time"
)

// DOM is the slice of the page the highlighter touches. Both calls
// report whether the selector matched anything.
type DOM interface {
	AddClass(selector, class string) bool
	RemoveClass(selector, class string) bool
}

// Highlighter flashes a CSS class on elements for a fixed duration.
// Overlapping flashes on the same selector each schedule their own
// removal; RemoveClass is idempotent on the page side, so the class
// simply disappears when the last timer fires.
type Highlighter struct {
	dom      DOM
	class    string
	duration time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	timers map[*time.Timer]struct{}
}

func NewHighlighter(dom DOM, class string, duration time.Duration, logger *slog.Logger) *Highlighter {
	if class == "" {
		class = "ai-highlight"
	}
	if duration <= 0 {
		duration = 3 * time.Second
	}
	return &Highlighter{
		dom:      dom,
		class:    class,
		duration: duration,
		logger:   logger,
		timers:   make(map[*time.Timer]struct{}),
	}
}

// Flash adds the highlight class to the selector's matches and
// schedules its removal. Returns false when nothing matched.
func (h *Highlighter) Flash(selector string) bool {
	if selector == "" {
		return false
	}
	if !h.dom.AddClass(selector, h.class) {
		h.logger.Debug("Highlight selector matched nothing", "selector", selector)
		return false
	}

	h.mu.Lock()
	var t *time.Timer
	t = time.AfterFunc(h.duration, func() {
		h.dom.RemoveClass(selector, h.class)
		h.mu.Lock()
		delete(h.timers, t)
		h.mu.Unlock()
	})
	h.timers[t] = struct{}{}
	h.mu.Unlock()
	return true
}

// Stop cancels pending removals without touching the page. Used on
// teardown when the page is going away anyway.
func (h *Highlighter) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for t := range h.timers {
		t.Stop()
	}
	h.timers = make(map[*time.Timer]struct{})
}
