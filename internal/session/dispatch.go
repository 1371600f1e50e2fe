package session

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"

	"github.com/DhyeyTeraiya/new--sub004/pkg/protocol"
)

// uiEvents are the inbound types handed to the sink for UI surfaces.
// Everything else is either consumed here or dropped.
var uiEvents = map[string]bool{
	protocol.EventAIResponse:         true,
	protocol.EventActionProgress:     true,
	protocol.EventActionComplete:     true,
	protocol.EventActionError:        true,
	protocol.EventAutomationProgress: true,
	protocol.EventScreenshot:         true,
	protocol.EventElementHighlight:   true,
	protocol.EventError:              true,
}

// handleMessage is the transport's inbound callback. A frame that is
// not valid JSON, carries no type, or carries an unknown type is logged
// and dropped; the connection stays up.
func (m *Manager) handleMessage(ctx context.Context, connID uuid.UUID, raw []byte) {
	var env protocol.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		m.logger.Warn("dropping malformed frame", slog.Any("error", err))
		return
	}

	switch env.Type {
	case "":
		m.logger.Warn("dropping frame without a type")
	case protocol.EventPong:
		m.logger.Debug("heartbeat answered")
	case protocol.EventSessionUpdate:
		m.applySessionUpdate(env)
	case protocol.EventError:
		m.logger.Warn("server reported an error", slog.String("payload", string(env.Payload)))
		m.sink.ServerEvent(env)
	default:
		if !uiEvents[env.Type] {
			m.logger.Debug("dropping unknown message type", slog.String("type", env.Type))
			return
		}
		m.sink.ServerEvent(env)
	}
}

// applySessionUpdate merges the update into the current session and
// persists the result. The payload may be the session object itself or
// wrapped under a "session" key.
func (m *Manager) applySessionUpdate(env protocol.Envelope) {
	var wrapper struct {
		Session *protocol.Session `json:"session"`
	}
	var upd protocol.Session
	if err := json.Unmarshal(env.Payload, &wrapper); err == nil && wrapper.Session != nil {
		upd = *wrapper.Session
	} else if err := json.Unmarshal(env.Payload, &upd); err != nil {
		m.logger.Warn("dropping malformed session update", slog.Any("error", err))
		return
	}

	m.mu.Lock()
	if m.session == nil {
		m.session = &protocol.Session{}
	}
	merged := m.session.Merge(upd)
	m.session = &merged
	sessionID := merged.ID
	m.mu.Unlock()

	m.persist()
	m.logger.Info("session updated", slog.String("sessionID", sessionID))
}
