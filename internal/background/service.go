// Package background implements the hub context of the extension: it
// owns the server session, answers commands from pages and the popup,
// and fans server events out to eligible tabs, parking what could not
// be delivered.
package background

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/DhyeyTeraiya/new--sub004/internal/backend"
	"github.com/DhyeyTeraiya/new--sub004/internal/session"
	"github.com/DhyeyTeraiya/new--sub004/internal/storage"
	"github.com/DhyeyTeraiya/new--sub004/internal/tabs"
	"github.com/DhyeyTeraiya/new--sub004/pkg/config"
	"github.com/DhyeyTeraiya/new--sub004/pkg/mailbox"
	"github.com/DhyeyTeraiya/new--sub004/pkg/messaging"
	"github.com/DhyeyTeraiya/new--sub004/pkg/protocol"
	"github.com/DhyeyTeraiya/new--sub004/pkg/runtime"
)

// Service wires the background context together: router, messenger,
// mailbox, tab registry, and the session manager. It is the session
// manager's sink, so everything the server pushes lands here.
type Service struct {
	cfg    *config.Config
	logger *slog.Logger

	router    *runtime.Router
	messenger *messaging.Messenger
	queue     *mailbox.Queue
	callbacks *mailbox.Callbacks
	tabs      *tabs.Registry
	session   *session.Manager

	ctx    context.Context
	cancel context.CancelFunc

	sessionOpts []session.ManagerOption
}

// Option configures a Service.
type Option func(*Service)

// WithSessionOptions forwards options to the session manager; tests
// use it to substitute the dialer.
func WithSessionOptions(opts ...session.ManagerOption) Option {
	return func(s *Service) {
		s.sessionOpts = append(s.sessionOpts, opts...)
	}
}

// New assembles a Service from configuration. Nothing connects until
// Start.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Service, error) {
	s := &Service{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "background")),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.tabs = tabs.NewRegistry(logger)
	s.queue = mailbox.NewQueue(logger, cfg.Mailbox.QueueTTL)
	s.callbacks = mailbox.NewCallbacks(logger, cfg.Mailbox.CallbackTTL)

	s.router = runtime.NewRouter(logger,
		runtime.WithPortBuffer(cfg.Messaging.PortBuffer),
		runtime.WithMiddleware(runtime.NewStamper(), runtime.NewTrafficLogger(logger)),
		runtime.WithDetachHook(s.onDetach),
	)

	m, err := messaging.Attach(s.router, runtime.Background(), logger,
		messaging.WithRequestTimeout(cfg.Messaging.RequestTimeout))
	if err != nil {
		return nil, fmt.Errorf("attach background context: %w", err)
	}
	s.messenger = m

	store, err := storage.Open(cfg.Storage.Dir, logger)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	api := backend.NewClient(cfg.Backend.HTTPBase, cfg.Backend.HTTPTimeout, logger)

	s.session = session.NewManager(session.Config{
		WSBase:               cfg.Backend.WSBase,
		ClientVersion:        cfg.Backend.ClientVersion,
		HeartbeatInterval:    cfg.Session.HeartbeatInterval,
		ReconnectBaseDelay:   cfg.Session.ReconnectBaseDelay,
		MaxReconnectAttempts: cfg.Session.MaxReconnectAttempts,
		DialTimeout:          cfg.Session.DialTimeout,
		ReadTimeout:          cfg.Transport.ReadTimeout,
	}, api, store, s, logger, s.sessionOpts...)

	return s, nil
}

// Router is the shared runtime router; content and popup contexts
// attach to it.
func (s *Service) Router() *runtime.Router { return s.router }

// Start registers the command handlers and brings the session up.
func (s *Service) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.ctx = runCtx
	s.cancel = cancel

	s.registerHandlers()
	if err := s.session.Start(runCtx); err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	s.logger.Info("Background service started")
	return nil
}

// Shutdown stops everything in dependency order: the session first so
// no more server events arrive, then the local plumbing.
func (s *Service) Shutdown() {
	s.session.Shutdown()
	s.callbacks.Close()
	if s.cancel != nil {
		s.cancel()
	}
	s.messenger.Cleanup()
	s.router.Close()
	s.logger.Info("Background service stopped")
}

// onDetach forgets tabs whose content context went away.
func (s *Service) onDetach(addr runtime.Address) {
	if addr.Kind == runtime.KindContent {
		s.tabs.Remove(addr.Tab)
	}
}

// ServerEvent implements session.Sink. It runs on the transport read
// goroutine, so anything slow moves off it immediately.
func (s *Service) ServerEvent(env protocol.Envelope) {
	// A registered callback claims its result by correlation id before
	// any fan-out; screenshot replies never reach the tabs this way.
	if env.ID != "" && s.callbacks.Trigger(env.ID, env.Payload) {
		s.logger.Debug("Envelope settled a registered callback", slog.String("id", env.ID))
		return
	}
	go s.broadcastEvent(env)
}

// ConnectionStateChanged implements session.Sink.
func (s *Service) ConnectionStateChanged(state protocol.ConnectionState) {
	go s.broadcastStatus(state)
}

// broadcastEvent fans one server event out to every eligible tab.
// Failed deliveries are parked in the mailbox under the tab's key so
// the page can claim them when it comes back.
func (s *Service) broadcastEvent(env protocol.Envelope) {
	infos := s.tabs.Eligible(nil)
	if len(infos) == 0 {
		s.logger.Debug("No eligible tabs for event", slog.String("type", env.Type))
		return
	}
	targets := make([]runtime.Address, 0, len(infos))
	for _, info := range infos {
		targets = append(targets, runtime.Content(info.ID))
	}

	data, err := json.Marshal(env)
	if err != nil {
		s.logger.Error("Failed to encode event for queueing", slog.Any("error", err))
		return
	}

	results := s.messenger.Broadcast(s.ctx, targets, env.Type, env.Payload)
	for _, res := range results {
		if res.Success {
			continue
		}
		s.queue.Put(tabs.QueueKey(res.Target.Tab), data)
		s.logger.Info("Queued undelivered event",
			slog.String("type", env.Type),
			slog.String("tab", res.Target.Tab),
			slog.String("reason", res.Err),
		)
	}
}

// broadcastStatus pushes a connection state change to every attached
// context. Status is ephemeral: failures are not queued, a context
// that attaches later asks for the current state instead.
func (s *Service) broadcastStatus(state protocol.ConnectionState) {
	targets := s.router.Targets(runtime.KindContent)
	targets = append(targets, s.router.Targets(runtime.KindPopup)...)
	if len(targets) == 0 {
		return
	}
	s.messenger.Broadcast(s.ctx, targets, protocol.CmdConnectionStatus, statusPayload{State: state})
}

// statusPayload is the body of a CONNECTION_STATUS push.
type statusPayload struct {
	State protocol.ConnectionState `json:"state"`
}
