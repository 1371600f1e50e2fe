// Package widget manages the assistant UI frame a content context
// embeds into the page, and the message bridge between that frame and
// the rest of the extension.
package widget

import "encoding/json"

// FrameMessage crosses the boundary between the content context and
// the embedded frame. RequestID ties a result to the frame request
// that caused it.
type FrameMessage struct {
	Type      string          `json:"type"`
	RequestID string          `json:"requestId,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Frame is one embedded widget surface. Loaded or Failed settles the
// creation exactly once; Messages yields what the frame posts out.
type Frame interface {
	Post(msg FrameMessage) error
	Messages() <-chan FrameMessage
	Loaded() <-chan struct{}
	Failed() <-chan error
	Close() error
}

// Factory creates a frame in the page. Called once per page unless
// creation fails.
type Factory func() (Frame, error)
