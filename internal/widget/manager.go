package widget

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/DhyeyTeraiya/new--sub004/pkg/protocol"
)

// widgetCommand is the payload of a WIDGET_COMMAND frame message.
type widgetCommand struct {
	Command string `json:"command"`
}

// Manager owns the single widget frame of a page. Init is serialized:
// concurrent callers wait for the first creation and share its frame,
// and a failed creation leaves the manager empty so a later call can
// try again.
type Manager struct {
	factory Factory
	logger  *slog.Logger

	mu      sync.Mutex
	frame   Frame
	visible bool
}

func NewManager(factory Factory, logger *slog.Logger) *Manager {
	return &Manager{factory: factory, logger: logger}
}

// Init creates the frame if none exists and waits for it to settle.
// Whichever of Loaded or Failed fires first decides the outcome; a
// frame that reports both only counts the first.
func (m *Manager) Init(ctx context.Context) (Frame, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.frame != nil {
		return m.frame, nil
	}

	f, err := m.factory()
	if err != nil {
		return nil, fmt.Errorf("create widget frame: %w", err)
	}

	select {
	case <-f.Loaded():
		m.frame = f
		m.logger.Info("Widget frame ready")
		return f, nil
	case err := <-f.Failed():
		f.Close()
		m.logger.Warn("Widget frame failed to load", "error", err)
		return nil, fmt.Errorf("widget frame load: %w", err)
	case <-ctx.Done():
		f.Close()
		return nil, ctx.Err()
	}
}

// Frame returns the settled frame, if any.
func (m *Manager) Frame() (Frame, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.frame, m.frame != nil
}

// Show makes the widget visible, creating the frame on first use.
func (m *Manager) Show(ctx context.Context) error {
	f, err := m.Init(ctx)
	if err != nil {
		return err
	}
	if err := postCommand(f, "show"); err != nil {
		return err
	}
	m.mu.Lock()
	m.visible = true
	m.mu.Unlock()
	return nil
}

// Hide hides the widget. A page without a frame has nothing to hide.
func (m *Manager) Hide() error {
	f, ok := m.Frame()
	if !ok {
		return nil
	}
	if err := postCommand(f, "hide"); err != nil {
		return err
	}
	m.mu.Lock()
	m.visible = false
	m.mu.Unlock()
	return nil
}

// Visible reports whether the last show/hide command left the widget
// visible.
func (m *Manager) Visible() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.visible
}

// Close tears the frame down. The next Init creates a fresh one.
func (m *Manager) Close() error {
	m.mu.Lock()
	f := m.frame
	m.frame = nil
	m.visible = false
	m.mu.Unlock()

	if f == nil {
		return nil
	}
	return f.Close()
}

func postCommand(f Frame, command string) error {
	data, err := json.Marshal(widgetCommand{Command: command})
	if err != nil {
		return err
	}
	return f.Post(FrameMessage{Type: protocol.FrameWidgetCommand, Data: data})
}
