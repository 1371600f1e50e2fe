package transport

import (
	"context"
	"fmt"
	"net/url"

	"github.com/coder/websocket"

	"github.com/DhyeyTeraiya/new--sub004/pkg/protocol"
)

// DialConfig carries everything needed to reach the server's socket
// endpoint. Token and SessionID ride as query parameters, which is how
// the server authenticates the upgrade.
type DialConfig struct {
	BaseURL       string
	Token         string
	SessionID     string
	ClientVersion string
}

// Dial opens a WebSocket to the server and returns it as a Socket.
// The caller bounds the handshake through ctx.
func Dial(ctx context.Context, cfg DialConfig) (Socket, error) {
	u, err := socketURL(cfg)
	if err != nil {
		return nil, err
	}
	// Never put the full URL in errors or logs: the token is in it.
	conn, _, err := websocket.Dial(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", u.Host, err)
	}
	return &wsSocket{conn: conn}, nil
}

func socketURL(cfg DialConfig) (*url.URL, error) {
	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse socket url: %w", err)
	}
	q := u.Query()
	q.Set("token", cfg.Token)
	q.Set("sessionId", cfg.SessionID)
	q.Set("clientType", protocol.ClientType)
	q.Set("clientVersion", cfg.ClientVersion)
	u.RawQuery = q.Encode()
	return u, nil
}

// wsSocket adapts a coder/websocket connection to the Socket interface.
type wsSocket struct {
	conn *websocket.Conn
}

func (s *wsSocket) Read(ctx context.Context) ([]byte, error) {
	for {
		typ, data, err := s.conn.Read(ctx)
		if err != nil {
			return nil, err
		}
		// Ensure we are only handling text or binary messages.
		if typ != websocket.MessageText && typ != websocket.MessageBinary {
			continue
		}
		return data, nil
	}
}

func (s *wsSocket) Write(ctx context.Context, data []byte) error {
	return s.conn.Write(ctx, websocket.MessageText, data)
}

func (s *wsSocket) Close(reason string) error {
	return s.conn.Close(websocket.StatusNormalClosure, reason)
}
