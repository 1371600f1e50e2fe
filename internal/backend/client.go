// Package backend talks to the assistant server's HTTP API, which owns
// session issuance. The WebSocket side lives in pkg/transport; this
// client only creates and restores sessions.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/DhyeyTeraiya/new--sub004/pkg/protocol"
)

// SessionGrant is what the server hands back for both session creation
// and restoration. Token is empty when the server did not rotate it.
type SessionGrant struct {
	Session protocol.Session `json:"session"`
	Token   string           `json:"token,omitempty"`
}

// Client calls the session endpoints.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// NewClient builds a Client for the API at baseURL.
func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		logger:  logger.With(slog.String("component", "backend")),
	}
}

type createSessionRequest struct {
	DeviceInfo  protocol.DeviceInfo  `json:"deviceInfo"`
	Preferences protocol.Preferences `json:"preferences"`
}

// CreateSession asks the server for a brand-new session.
func (c *Client) CreateSession(ctx context.Context, device protocol.DeviceInfo, prefs protocol.Preferences) (SessionGrant, error) {
	body := createSessionRequest{DeviceInfo: device, Preferences: prefs}
	data, err := c.doJSON(ctx, http.MethodPost, "/sessions", "", body)
	if err != nil {
		return SessionGrant{}, fmt.Errorf("create session: %w", err)
	}

	var grant SessionGrant
	if err := json.Unmarshal(data, &grant); err != nil {
		return SessionGrant{}, fmt.Errorf("create session: decode response: %w", err)
	}
	if grant.Session.ID == "" {
		return SessionGrant{}, fmt.Errorf("create session: server returned no session id")
	}
	c.logger.Info("session created", slog.String("sessionID", grant.Session.ID))
	return grant, nil
}

// GetSession restores an existing session by id. protocol.ErrSessionNotFound
// and protocol.ErrUnauthorized distinguish the recoverable rejections.
func (c *Client) GetSession(ctx context.Context, id, token string) (SessionGrant, error) {
	data, err := c.doJSON(ctx, http.MethodGet, "/sessions/"+id, token, nil)
	if err != nil {
		return SessionGrant{}, fmt.Errorf("get session %s: %w", id, err)
	}

	var grant SessionGrant
	if err := json.Unmarshal(data, &grant); err != nil {
		return SessionGrant{}, fmt.Errorf("get session %s: decode response: %w", id, err)
	}
	return grant, nil
}

// apiEnvelope is the server's uniform response wrapper.
type apiEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func (c *Client) doJSON(ctx context.Context, method, path, token string, body any) (json.RawMessage, error) {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusNotFound:
		return nil, protocol.ErrSessionNotFound
	case http.StatusUnauthorized:
		return nil, protocol.ErrUnauthorized
	}

	var env apiEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("status %d: undecodable response", resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 || !env.Success {
		msg := env.Error
		if msg == "" {
			msg = fmt.Sprintf("status %d", resp.StatusCode)
		}
		return nil, fmt.Errorf("server rejected request: %s", msg)
	}
	return env.Data, nil
}
