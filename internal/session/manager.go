// Package session owns the server relationship: establishing or
// restoring a session over HTTP, keeping a WebSocket to the server
// alive, and dispatching what arrives on it.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	goruntime "runtime"
	"sync"
	"time"

	"encoding/json"

	"github.com/google/uuid"

	"github.com/DhyeyTeraiya/new--sub004/internal/backend"
	"github.com/DhyeyTeraiya/new--sub004/internal/storage"
	"github.com/DhyeyTeraiya/new--sub004/pkg/protocol"
	"github.com/DhyeyTeraiya/new--sub004/pkg/transport"
)

// API is the slice of the backend client the manager needs.
type API interface {
	CreateSession(ctx context.Context, device protocol.DeviceInfo, prefs protocol.Preferences) (backend.SessionGrant, error)
	GetSession(ctx context.Context, id, token string) (backend.SessionGrant, error)
}

// Store persists local state across restarts.
type Store interface {
	Load() storage.State
	Save(storage.State) error
}

// Sink receives what the manager does not consume itself: server events
// meant for UI surfaces, and connection state changes.
type Sink interface {
	ServerEvent(env protocol.Envelope)
	ConnectionStateChanged(state protocol.ConnectionState)
}

// Dialer opens the socket; tests substitute fakes.
type Dialer func(ctx context.Context, cfg transport.DialConfig) (transport.Socket, error)

// Config carries the manager's tunables.
type Config struct {
	WSBase               string
	ClientVersion        string
	HeartbeatInterval    time.Duration
	ReconnectBaseDelay   time.Duration
	MaxReconnectAttempts int
	DialTimeout          time.Duration
	ReadTimeout          time.Duration
}

// Manager drives the connection state machine:
//
//	disconnected -> connecting -> connected -> (disconnected|error) -> reconnecting -> connecting ...
//
// All transitions flow through transition(), which also notifies the
// sink and persists the new state.
type Manager struct {
	cfg    Config
	api    API
	store  Store
	sink   Sink
	dial   Dialer
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	session    *protocol.Session
	token      string
	prefs      protocol.Preferences
	state      protocol.ConnectionState
	conn       *transport.Conn
	connecting bool
	attempts   int
	reconnect  *time.Timer
	closed     bool
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithDialer overrides how the socket is opened.
func WithDialer(d Dialer) ManagerOption {
	return func(m *Manager) { m.dial = d }
}

// NewManager builds a Manager. Call Start to bring it up.
func NewManager(cfg Config, api API, store Store, sink Sink, logger *slog.Logger, opts ...ManagerOption) *Manager {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	if cfg.ReconnectBaseDelay <= 0 {
		cfg.ReconnectBaseDelay = time.Second
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = 5
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}

	m := &Manager{
		cfg:    cfg,
		api:    api,
		store:  store,
		sink:   sink,
		dial:   transport.Dial,
		logger: logger.With(slog.String("component", "session")),
		state:  protocol.StateDisconnected,
		prefs:  protocol.DefaultPreferences(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start restores or creates the session, then brings the socket up and
// begins heartbeating. It returns once the session is established; the
// socket connects in the background.
func (m *Manager) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	m.ctx = runCtx
	m.cancel = cancel

	if err := m.establishSession(runCtx); err != nil {
		m.transition(protocol.StateError)
		return err
	}

	m.ConnectSocket()
	go m.heartbeatLoop()
	return nil
}

// Shutdown tears the connection down and persists the final state.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	conn := m.conn
	m.conn = nil
	if m.reconnect != nil {
		m.reconnect.Stop()
	}
	m.mu.Unlock()

	if conn != nil {
		conn.Close(nil)
		<-conn.Done()
	}
	if m.cancel != nil {
		m.cancel()
	}
	m.transition(protocol.StateDisconnected)
	m.logger.Info("session manager stopped")
}

// State returns the current connection state.
func (m *Manager) State() protocol.ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Snapshot returns the session, state, and preferences as one view.
func (m *Manager) Snapshot() protocol.SessionInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	info := protocol.SessionInfo{State: m.state, Preferences: m.prefs}
	if m.session != nil {
		s := *m.session
		info.Session = &s
	}
	return info
}

// SendEnvelope wraps payload in an outbound envelope and queues it on
// the socket. The returned envelope carries the id the server will echo
// in any direct response.
func (m *Manager) SendEnvelope(typ string, payload any) (protocol.Envelope, error) {
	m.mu.Lock()
	conn := m.conn
	state := m.state
	var sessionID string
	if m.session != nil {
		sessionID = m.session.ID
	}
	m.mu.Unlock()

	if conn == nil || state != protocol.StateConnected {
		return protocol.Envelope{}, protocol.ErrNotConnected
	}

	env, err := protocol.NewEnvelope(typ, payload, sessionID)
	if err != nil {
		return protocol.Envelope{}, err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return protocol.Envelope{}, fmt.Errorf("marshal envelope: %w", err)
	}
	if err := conn.Send(data); err != nil {
		return protocol.Envelope{}, err
	}
	return env, nil
}

// ConnectSocket starts a connection attempt unless one is already in
// flight or the socket is already up. Safe to call from anywhere.
func (m *Manager) ConnectSocket() {
	m.mu.Lock()
	if m.closed || m.connecting || m.state == protocol.StateConnected {
		m.mu.Unlock()
		return
	}
	m.connecting = true
	m.mu.Unlock()

	m.transition(protocol.StateConnecting)
	go m.connect()
}

func (m *Manager) connect() {
	m.mu.Lock()
	token := m.token
	var sessionID string
	if m.session != nil {
		sessionID = m.session.ID
	}
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return
	}

	dialCtx, cancel := context.WithTimeout(m.ctx, m.cfg.DialTimeout)
	sock, err := m.dial(dialCtx, transport.DialConfig{
		BaseURL:       m.cfg.WSBase,
		Token:         token,
		SessionID:     sessionID,
		ClientVersion: m.cfg.ClientVersion,
	})
	cancel()
	if err != nil {
		m.logger.Error("socket connect failed", slog.Any("error", err))
		m.mu.Lock()
		m.connecting = false
		m.mu.Unlock()
		m.transition(protocol.StateError)
		m.scheduleReconnect()
		return
	}

	conn := transport.NewConn(m.ctx, sock, transport.ConnConfig{ReadTimeout: m.cfg.ReadTimeout},
		m.handleMessage, m.handleClose, m.logger)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		conn.Close(nil)
		return
	}
	m.conn = conn
	m.connecting = false
	m.attempts = 0
	m.mu.Unlock()

	// Transition before the pumps start: once Run is live the socket
	// may die at any moment, and that close must observe "connected".
	m.transition(protocol.StateConnected)
	conn.Run()
}

// handleClose runs whenever the transport goes away underneath us.
func (m *Manager) handleClose(connID uuid.UUID, err error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.conn = nil
	m.mu.Unlock()

	if err != nil {
		m.logger.Warn("connection lost", slog.Any("error", err))
	}
	m.transition(protocol.StateDisconnected)
	m.scheduleReconnect()
}

// scheduleReconnect arms the backoff timer: baseDelay * 2^attempts,
// giving up after the configured number of attempts.
func (m *Manager) scheduleReconnect() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	if m.attempts >= m.cfg.MaxReconnectAttempts {
		attempts := m.attempts
		m.mu.Unlock()
		m.logger.Error("giving up on reconnecting", slog.Int("attempts", attempts))
		return
	}
	delay := m.cfg.ReconnectBaseDelay << m.attempts
	m.attempts++
	attempt := m.attempts
	m.reconnect = time.AfterFunc(delay, m.ConnectSocket)
	m.mu.Unlock()

	m.logger.Info("reconnect scheduled",
		slog.Duration("delay", delay),
		slog.Int("attempt", attempt),
		slog.Int("maxAttempts", m.cfg.MaxReconnectAttempts),
	)
	m.transition(protocol.StateReconnecting)
}

// establishSession restores the persisted session when it is still
// valid, otherwise creates a new one. Every restore failure falls back
// to creation; only creation failure is fatal.
func (m *Manager) establishSession(ctx context.Context) error {
	st := m.store.Load()
	m.mu.Lock()
	m.prefs = st.Preferences
	m.mu.Unlock()

	if st.SessionID != "" && st.Token != "" {
		if tokenExpired(st.Token, time.Now()) {
			m.logger.Info("stored token already expired, skipping restore",
				slog.String("sessionID", st.SessionID))
		} else {
			grant, err := m.api.GetSession(ctx, st.SessionID, st.Token)
			if err == nil {
				m.adoptGrant(grant, st.Token)
				m.logger.Info("session restored", slog.String("sessionID", grant.Session.ID))
				return nil
			}
			switch {
			case errors.Is(err, protocol.ErrSessionNotFound):
				m.logger.Info("stored session no longer exists, creating a new one")
			case errors.Is(err, protocol.ErrUnauthorized):
				m.logger.Info("stored token rejected, creating a new session")
			default:
				m.logger.Warn("session restore failed, creating a new one", slog.Any("error", err))
			}
		}
	}

	grant, err := m.api.CreateSession(ctx, m.deviceInfo(), st.Preferences)
	if err != nil {
		return fmt.Errorf("establish session: %w", err)
	}
	m.adoptGrant(grant, "")
	return nil
}

// adoptGrant takes over the granted session and token. A grant without
// a token keeps fallbackToken, covering restores that do not rotate.
func (m *Manager) adoptGrant(grant backend.SessionGrant, fallbackToken string) {
	m.mu.Lock()
	sess := grant.Session
	m.session = &sess
	switch {
	case grant.Token != "":
		m.token = grant.Token
	case fallbackToken != "":
		m.token = fallbackToken
	}
	m.mu.Unlock()
	m.persist()
}

func (m *Manager) deviceInfo() protocol.DeviceInfo {
	return protocol.DeviceInfo{
		ClientType:    protocol.ClientType,
		ClientVersion: m.cfg.ClientVersion,
		Platform:      goruntime.GOOS,
	}
}

// transition moves the state machine, notifies the sink, and persists.
// A no-op transition does nothing.
func (m *Manager) transition(to protocol.ConnectionState) {
	m.mu.Lock()
	from := m.state
	if from == to {
		m.mu.Unlock()
		return
	}
	m.state = to
	m.mu.Unlock()

	m.logger.Info("connection state changed",
		slog.String("from", string(from)),
		slog.String("to", string(to)),
	)
	if m.sink != nil {
		m.sink.ConnectionStateChanged(to)
	}
	m.persist()
}

func (m *Manager) persist() {
	m.mu.Lock()
	st := storage.State{
		Token:           m.token,
		Preferences:     m.prefs,
		ConnectionState: string(m.state),
	}
	if m.session != nil {
		st.SessionID = m.session.ID
	}
	m.mu.Unlock()

	if err := m.store.Save(st); err != nil {
		m.logger.Warn("failed to persist state", slog.Any("error", err))
	}
}

func (m *Manager) heartbeatLoop() {
	ticker := time.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if m.State() != protocol.StateConnected {
				continue
			}
			if _, err := m.SendEnvelope(protocol.WirePing, nil); err != nil {
				m.logger.Warn("heartbeat failed", slog.Any("error", err))
			}
		case <-m.ctx.Done():
			return
		}
	}
}
