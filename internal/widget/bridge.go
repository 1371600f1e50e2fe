package widget

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/DhyeyTeraiya/new--sub004/pkg/protocol"
	"github.com/DhyeyTeraiya/new--sub004/pkg/runtime"
)

// Requester is the slice of the messenger the bridge needs: a
// correlated request to another extension context.
type Requester interface {
	Request(ctx context.Context, to runtime.Address, typ string, payload any) (protocol.Response, error)
}

// Bridge pumps messages out of a widget frame. Chat, connection and
// automation requests are forwarded to the background context and
// their replies posted back under the originating requestId; element
// highlighting touches the local page and never leaves the tab.
type Bridge struct {
	frame       Frame
	requester   Requester
	background  runtime.Address
	highlighter *Highlighter
	logger      *slog.Logger
}

func NewBridge(frame Frame, requester Requester, highlighter *Highlighter, logger *slog.Logger) *Bridge {
	return &Bridge{
		frame:       frame,
		requester:   requester,
		background:  runtime.Background(),
		highlighter: highlighter,
		logger:      logger,
	}
}

// Run consumes frame messages until the frame closes its channel or
// ctx is done. Each message is handled on its own goroutine so a slow
// background round trip never stalls the pump.
func (b *Bridge) Run(ctx context.Context) {
	for {
		select {
		case msg, ok := <-b.frame.Messages():
			if !ok {
				return
			}
			go b.handle(ctx, msg)
		case <-ctx.Done():
			return
		}
	}
}

func (b *Bridge) handle(ctx context.Context, msg FrameMessage) {
	switch msg.Type {
	case protocol.FrameChatMessage:
		b.forward(ctx, msg, protocol.CmdSendChatMessage, protocol.FrameResponse)
	case protocol.FrameExecuteAutomation:
		b.forward(ctx, msg, protocol.CmdExecuteAutomation, protocol.FrameResponse)
	case protocol.FrameCheckConnection:
		b.forward(ctx, msg, protocol.CmdGetSessionInfo, protocol.FrameConnectionStatus)
	case protocol.FrameHighlightElement:
		b.highlight(msg)
	default:
		b.logger.Debug("Ignoring unknown frame message", "type", msg.Type)
	}
}

// forward relays one frame request to the background context and posts
// the settled response back to the frame.
func (b *Bridge) forward(ctx context.Context, msg FrameMessage, cmd, replyType string) {
	resp, err := b.requester.Request(ctx, b.background, cmd, msg.Data)
	if err != nil {
		resp = protocol.Fail(err)
	}
	b.post(replyType, msg.RequestID, resp)
}

type highlightRequest struct {
	Selector string `json:"selector"`
}

type highlightResult struct {
	Highlighted bool `json:"highlighted"`
}

func (b *Bridge) highlight(msg FrameMessage) {
	var req highlightRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		b.post(protocol.FrameResponse, msg.RequestID, protocol.Failf("malformed highlight request"))
		return
	}
	ok := b.highlighter.Flash(req.Selector)
	b.post(protocol.FrameResponse, msg.RequestID, protocol.OK(highlightResult{Highlighted: ok}))
}

func (b *Bridge) post(typ, requestID string, resp protocol.Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		b.logger.Error("Failed to encode frame reply", "error", err)
		return
	}
	if err := b.frame.Post(FrameMessage{Type: typ, RequestID: requestID, Data: data}); err != nil {
		b.logger.Warn("Failed to post reply to widget frame", "type", typ, "error", err)
	}
}
