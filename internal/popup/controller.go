// Package popup backs the toolbar popup: a short-lived context that
// asks the background for session status and connectivity.
package popup

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/DhyeyTeraiya/new--sub004/pkg/messaging"
	"github.com/DhyeyTeraiya/new--sub004/pkg/protocol"
	"github.com/DhyeyTeraiya/new--sub004/pkg/runtime"
)

// Controller is the popup's view of the extension. It holds no state
// of its own; everything it shows comes from the background.
type Controller struct {
	messenger *messaging.Messenger
	logger    *slog.Logger
}

// NewController attaches the popup context to the router. Only one
// popup exists at a time; opening a second one fails until the first
// is closed.
func NewController(router *runtime.Router, logger *slog.Logger, opts ...messaging.MessengerOption) (*Controller, error) {
	m, err := messaging.Attach(router, runtime.Popup(), logger, opts...)
	if err != nil {
		return nil, err
	}
	return &Controller{
		messenger: m,
		logger:    logger.With(slog.String("component", "popup")),
	}, nil
}

// Status fetches the current session snapshot from the background.
func (c *Controller) Status(ctx context.Context) (protocol.SessionInfo, error) {
	resp, err := c.messenger.Request(ctx, runtime.Background(), protocol.CmdGetSessionInfo, nil)
	if err != nil {
		return protocol.SessionInfo{}, err
	}
	if err := resp.Err(); err != nil {
		return protocol.SessionInfo{}, err
	}

	var info protocol.SessionInfo
	if err := json.Unmarshal(resp.Data, &info); err != nil {
		return protocol.SessionInfo{}, fmt.Errorf("decode session info: %w", err)
	}
	return info, nil
}

// Ping round-trips a message through the background and reports how
// long it took.
func (c *Controller) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	resp, err := c.messenger.Request(ctx, runtime.Background(), protocol.CmdPing, nil)
	if err != nil {
		return 0, err
	}
	if err := resp.Err(); err != nil {
		return 0, err
	}
	return time.Since(start), nil
}

// Close detaches the popup context so the address can be reused.
func (c *Controller) Close() {
	c.messenger.Cleanup()
}
