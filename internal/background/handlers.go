package background

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/DhyeyTeraiya/new--sub004/internal/tabs"
	"github.com/DhyeyTeraiya/new--sub004/pkg/protocol"
	"github.com/DhyeyTeraiya/new--sub004/pkg/runtime"
)

func (s *Service) registerHandlers() {
	s.messenger.OnMessage(protocol.CmdPing, s.handlePing)
	s.messenger.OnMessage(protocol.CmdGetSessionInfo, s.handleSessionInfo)
	s.messenger.OnMessage(protocol.CmdSendChatMessage, s.handleChatMessage)
	s.messenger.OnMessage(protocol.CmdExecuteAutomation, s.handleExecuteAutomation)
	s.messenger.OnMessage(protocol.CmdRequestScreenshot, s.handleRequestScreenshot)
	s.messenger.OnMessage(protocol.CmdPageChanged, s.handlePageChanged)
	s.messenger.OnMessage(protocol.CmdGetQueuedMessage, s.handleGetQueuedMessage)
}

type pongReply struct {
	Pong bool      `json:"pong"`
	Time time.Time `json:"time"`
}

func (s *Service) handlePing(ctx context.Context, msg runtime.Message) (any, error) {
	return pongReply{Pong: true, Time: time.Now().UTC()}, nil
}

func (s *Service) handleSessionInfo(ctx context.Context, msg runtime.Message) (any, error) {
	return s.session.Snapshot(), nil
}

// sendReceipt acknowledges a message handed to the server. MessageID
// is the envelope id the server will echo in correlated events.
type sendReceipt struct {
	MessageID string `json:"messageId"`
}

func (s *Service) handleChatMessage(ctx context.Context, msg runtime.Message) (any, error) {
	env, err := s.session.SendEnvelope(protocol.WireChatMessage, msg.Payload)
	if err != nil {
		return nil, err
	}
	return sendReceipt{MessageID: env.ID}, nil
}

func (s *Service) handleExecuteAutomation(ctx context.Context, msg runtime.Message) (any, error) {
	env, err := s.session.SendEnvelope(protocol.WireExecuteAutomation, msg.Payload)
	if err != nil {
		return nil, err
	}
	return sendReceipt{MessageID: env.ID}, nil
}

// handleRequestScreenshot is the one deferred command: the server
// answers with a screenshot event carrying the request's envelope id,
// which the callback registry routes back here.
func (s *Service) handleRequestScreenshot(ctx context.Context, msg runtime.Message) (any, error) {
	env, err := s.session.SendEnvelope(protocol.WireRequestScreenshot, msg.Payload)
	if err != nil {
		return nil, err
	}

	result := make(chan json.RawMessage, 1)
	s.callbacks.Register(env.ID, func(data json.RawMessage) {
		result <- data
	})

	select {
	case data := <-result:
		return data, nil
	case <-time.After(s.cfg.Mailbox.CallbackTTL):
		return nil, fmt.Errorf("screenshot %s: %w", env.ID, protocol.ErrTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// pageChange is what a content context reports on navigation.
type pageChange struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

// pageChangedWire is the envelope payload sent to the server so the
// assistant can follow the user's navigation.
type pageChangedWire struct {
	TabID string `json:"tabId"`
	URL   string `json:"url"`
	Title string `json:"title"`
}

func (s *Service) handlePageChanged(ctx context.Context, msg runtime.Message) (any, error) {
	if msg.Sender.Kind != runtime.KindContent || msg.Sender.Tab == "" {
		return nil, fmt.Errorf("page change from non-content context %s", msg.Sender)
	}
	var p pageChange
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		return nil, fmt.Errorf("malformed page change: %w", err)
	}

	s.tabs.Update(msg.Sender.Tab, p.URL, p.Title)

	// Offline navigation is normal; the server just misses the update.
	_, err := s.session.SendEnvelope(protocol.WirePageChanged, pageChangedWire{
		TabID: msg.Sender.Tab,
		URL:   p.URL,
		Title: p.Title,
	})
	if err != nil && !errors.Is(err, protocol.ErrNotConnected) {
		s.logger.Warn("Failed to report page change", slog.Any("error", err))
	}
	return nil, nil
}

// claimKey names the mailbox slot a context wants to drain. A content
// context asking with an empty key gets its own tab's slot.
type claimKey struct {
	Key string `json:"key"`
}

func (s *Service) handleGetQueuedMessage(ctx context.Context, msg runtime.Message) (any, error) {
	var req claimKey
	if len(msg.Payload) > 0 {
		if err := json.Unmarshal(msg.Payload, &req); err != nil {
			return nil, fmt.Errorf("malformed claim: %w", err)
		}
	}
	key := req.Key
	if key == "" && msg.Sender.Kind == runtime.KindContent {
		key = tabs.QueueKey(msg.Sender.Tab)
	}
	if key == "" {
		return nil, fmt.Errorf("claim without a key")
	}

	data, ok := s.queue.Claim(key)
	if !ok {
		return nil, nil
	}
	return data, nil
}
