// Package content runs the per-tab side of the extension. A Script
// owns the page's widget frame, relays background broadcasts into it,
// applies element highlights to the page, and reports navigation.
package content

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/DhyeyTeraiya/new--sub004/internal/tabs"
	"github.com/DhyeyTeraiya/new--sub004/internal/widget"
	"github.com/DhyeyTeraiya/new--sub004/pkg/messaging"
	"github.com/DhyeyTeraiya/new--sub004/pkg/protocol"
	"github.com/DhyeyTeraiya/new--sub004/pkg/runtime"
)

// maxBacklogClaims bounds one drain pass so a misbehaving responder
// cannot trap the script in a claim loop.
const maxBacklogClaims = 32

// pushedEvents are the server events the background fans out to pages.
var pushedEvents = []string{
	protocol.EventAIResponse,
	protocol.EventActionProgress,
	protocol.EventActionComplete,
	protocol.EventActionError,
	protocol.EventAutomationProgress,
	protocol.EventScreenshot,
	protocol.EventError,
	protocol.EventElementHighlight,
}

// Options tunes a page script. Zero values fall back to the widget and
// messaging defaults.
type Options struct {
	HighlightClass    string
	HighlightDuration time.Duration
	RequestTimeout    time.Duration
}

// Script is one tab's content controller.
type Script struct {
	tab         string
	messenger   *messaging.Messenger
	widgets     *widget.Manager
	highlighter *widget.Highlighter
	logger      *slog.Logger

	mu           sync.Mutex
	bridgeCancel context.CancelFunc
}

// NewScript attaches a content context for the tab and registers its
// broadcast handlers. The widget frame is not created until Start.
func NewScript(router *runtime.Router, tab string, factory widget.Factory, dom widget.DOM, opts Options, logger *slog.Logger) (*Script, error) {
	var mopts []messaging.MessengerOption
	if opts.RequestTimeout > 0 {
		mopts = append(mopts, messaging.WithRequestTimeout(opts.RequestTimeout))
	}
	m, err := messaging.Attach(router, runtime.Content(tab), logger, mopts...)
	if err != nil {
		return nil, err
	}

	log := logger.With(slog.String("component", "content"), slog.String("tab", tab))
	s := &Script{
		tab:         tab,
		messenger:   m,
		widgets:     widget.NewManager(factory, log),
		highlighter: widget.NewHighlighter(dom, opts.HighlightClass, opts.HighlightDuration, log),
		logger:      log,
	}
	s.registerHandlers()
	return s, nil
}

func (s *Script) registerHandlers() {
	for _, typ := range pushedEvents {
		s.messenger.OnMessage(typ, func(ctx context.Context, msg runtime.Message) (any, error) {
			return nil, s.deliverEvent(msg.Type, msg.Payload)
		})
	}
	s.messenger.OnMessage(protocol.CmdConnectionStatus, func(ctx context.Context, msg runtime.Message) (any, error) {
		s.postStatus(msg.Payload)
		return nil, nil
	})
}

// Start brings the page online: create the widget frame, start its
// bridge, and drain whatever was queued while the page was away.
func (s *Script) Start(ctx context.Context) error {
	frame, err := s.widgets.Init(ctx)
	if err != nil {
		return err
	}

	bctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	if s.bridgeCancel != nil {
		s.bridgeCancel()
	}
	s.bridgeCancel = cancel
	s.mu.Unlock()

	bridge := widget.NewBridge(frame, s.messenger, s.highlighter, s.logger)
	go bridge.Run(bctx)

	s.drainBacklog(ctx)
	s.logger.Info("Content script started")
	return nil
}

// drainBacklog claims queued messages for this tab one at a time and
// replays them. An empty reply or any failure ends the pass; whatever
// is still queued stays claimable.
func (s *Script) drainBacklog(ctx context.Context) {
	for i := 0; i < maxBacklogClaims; i++ {
		resp, err := s.messenger.Request(ctx, runtime.Background(), protocol.CmdGetQueuedMessage, claimRequest{Key: tabs.QueueKey(s.tab)})
		if err != nil {
			s.logger.Debug("Backlog claim failed", "error", err)
			return
		}
		if !resp.Success || len(resp.Data) == 0 {
			return
		}

		var env protocol.Envelope
		if err := json.Unmarshal(resp.Data, &env); err != nil {
			s.logger.Warn("Discarding undecodable queued message", "error", err)
			return
		}
		if err := s.deliverEvent(env.Type, env.Payload); err != nil {
			s.logger.Warn("Failed to replay queued message", "type", env.Type, "error", err)
			return
		}
		s.logger.Debug("Replayed queued message", "type", env.Type)
	}
}

// PageChanged reports a navigation to the background and returns once
// the registry has taken it.
func (s *Script) PageChanged(ctx context.Context, url, title string) error {
	resp, err := s.messenger.Request(ctx, runtime.Background(), protocol.CmdPageChanged, pageInfo{URL: url, Title: title})
	if err != nil {
		return err
	}
	return resp.Err()
}

// ShowWidget makes the widget visible, creating the frame on demand.
func (s *Script) ShowWidget(ctx context.Context) error {
	return s.widgets.Show(ctx)
}

// HideWidget hides the widget if the page has one.
func (s *Script) HideWidget() error {
	return s.widgets.Hide()
}

// Close tears the page down: stop the bridge, drop pending highlights,
// close the frame, and detach from the router.
func (s *Script) Close() {
	s.mu.Lock()
	cancel := s.bridgeCancel
	s.bridgeCancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	s.highlighter.Stop()
	s.widgets.Close()
	s.messenger.Cleanup()
	s.logger.Info("Content script closed")
}

// deliverEvent applies one pushed server event to this page. Element
// highlights touch the page directly; everything else goes into the
// widget frame. The returned error marks the event undelivered so the
// background can queue it.
func (s *Script) deliverEvent(typ string, payload json.RawMessage) error {
	if typ == protocol.EventElementHighlight {
		return s.applyHighlight(payload)
	}
	return s.forwardEvent(typ, payload)
}

// frameEvent is the shape pushed server events take inside the frame.
type frameEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func (s *Script) forwardEvent(typ string, payload json.RawMessage) error {
	frame, ok := s.widgets.Frame()
	if !ok {
		return fmt.Errorf("widget frame not ready for %s", typ)
	}
	data, err := json.Marshal(frameEvent{Event: typ, Data: payload})
	if err != nil {
		return err
	}
	return frame.Post(widget.FrameMessage{Type: protocol.FrameResponse, Data: data})
}

type highlightPayload struct {
	Selector string `json:"selector"`
}

// applyHighlight flashes the requested element. A selector that
// matches nothing is not an error; retrying it later would not help.
func (s *Script) applyHighlight(payload json.RawMessage) error {
	var req highlightPayload
	if err := json.Unmarshal(payload, &req); err != nil {
		return fmt.Errorf("malformed highlight payload: %w", err)
	}
	if req.Selector == "" {
		return fmt.Errorf("highlight payload has no selector")
	}
	if !s.highlighter.Flash(req.Selector) {
		s.logger.Debug("Highlight matched nothing", "selector", req.Selector)
	}
	return nil
}

// postStatus pushes a connection state change into the frame. A page
// without a frame just drops it; stale status is worthless.
func (s *Script) postStatus(payload json.RawMessage) {
	frame, ok := s.widgets.Frame()
	if !ok {
		return
	}
	if err := frame.Post(widget.FrameMessage{Type: protocol.FrameConnectionStatus, Data: payload}); err != nil {
		s.logger.Debug("Failed to post connection status", "error", err)
	}
}

// claimRequest asks the background for the next queued message under a
// mailbox key.
type claimRequest struct {
	Key string `json:"key"`
}

// pageInfo reports where a tab navigated.
type pageInfo struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}
