package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Envelope wraps every message that crosses the WebSocket boundary.
// ID is globally unique; the server echoes it when a frame is a direct
// reply to one of ours, which is how replies are matched to requests.
type Envelope struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewEnvelope builds an outbound envelope with a fresh id. payload may be
// any JSON-marshalable value or nil.
func NewEnvelope(typ string, payload any, sessionID string) (Envelope, error) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, fmt.Errorf("marshal %s payload: %w", typ, err)
		}
		raw = data
	}
	return Envelope{
		ID:        uuid.NewString(),
		Type:      typ,
		Payload:   raw,
		SessionID: sessionID,
		Timestamp: time.Now().UTC(),
	}, nil
}

// NewRequestID returns a correlation id for intra-extension requests.
func NewRequestID() string {
	return fmt.Sprintf("req_%d_%s", time.Now().UnixMilli(), uuid.NewString()[:8])
}
