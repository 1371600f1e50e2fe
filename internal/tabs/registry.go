// Package tabs tracks which browser tabs currently host a content
// context and which of them may receive broadcasts.
package tabs

import (
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

// Info describes one known tab.
type Info struct {
	ID        string
	URL       string
	Title     string
	UpdatedAt time.Time
}

// privilegedPrefixes are URL schemes the browser reserves; content
// scripts cannot run there, so messages to such tabs always fail.
var privilegedPrefixes = []string{
	"chrome://",
	"chrome-extension://",
	"edge://",
	"devtools://",
	"about:",
	"view-source:",
}

// IsPrivileged reports whether url belongs to a browser-internal page.
func IsPrivileged(url string) bool {
	for _, prefix := range privilegedPrefixes {
		if strings.HasPrefix(url, prefix) {
			return true
		}
	}
	return false
}

// QueueKey is the mailbox key under which undeliverable messages for a
// tab are parked until its content context claims them.
func QueueKey(tab string) string {
	return "tab:" + tab
}

// Registry is the background context's view of open tabs.
type Registry struct {
	logger *slog.Logger

	mu   sync.RWMutex
	tabs map[string]Info
}

// NewRegistry builds an empty Registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger: logger.With(slog.String("component", "tabs")),
		tabs:   make(map[string]Info),
	}
}

// Update upserts a tab's location. First sight of a tab registers it.
func (r *Registry) Update(id, url, title string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.tabs[id] = Info{ID: id, URL: url, Title: title, UpdatedAt: time.Now()}
	r.logger.Debug("tab updated", slog.String("tab", id), slog.String("url", url))
}

// Remove forgets a tab, typically when its context detaches.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tabs[id]; ok {
		delete(r.tabs, id)
		r.logger.Debug("tab removed", slog.String("tab", id))
	}
}

// Get returns the tab's info if it is known.
func (r *Registry) Get(id string) (Info, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	info, ok := r.tabs[id]
	return info, ok
}

// List returns every known tab, ordered by id.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Info, 0, len(r.tabs))
	for _, info := range r.tabs {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Eligible returns the tabs that may receive broadcasts: tabs with a
// loaded, non-privileged URL, further narrowed by pred when given.
func (r *Registry) Eligible(pred func(Info) bool) []Info {
	var out []Info
	for _, info := range r.List() {
		if info.URL == "" || IsPrivileged(info.URL) {
			continue
		}
		if pred != nil && !pred(info) {
			continue
		}
		out = append(out, info)
	}
	return out
}
