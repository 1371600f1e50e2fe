package background

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DhyeyTeraiya/new--sub004/internal/session"
	"github.com/DhyeyTeraiya/new--sub004/pkg/config"
	"github.com/DhyeyTeraiya/new--sub004/pkg/messaging"
	"github.com/DhyeyTeraiya/new--sub004/pkg/protocol"
	"github.com/DhyeyTeraiya/new--sub004/pkg/runtime"
	"github.com/DhyeyTeraiya/new--sub004/pkg/transport"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeSocket stands in for the WebSocket.
type fakeSocket struct {
	inbound chan []byte
	readErr chan error

	mu      sync.Mutex
	written [][]byte
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{
		inbound: make(chan []byte, 16),
		readErr: make(chan error, 1),
	}
}

func (s *fakeSocket) Read(ctx context.Context) ([]byte, error) {
	select {
	case data := <-s.inbound:
		return data, nil
	case err := <-s.readErr:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *fakeSocket) Write(ctx context.Context, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.written = append(s.written, data)
	return nil
}

func (s *fakeSocket) Close(reason string) error { return nil }

func (s *fakeSocket) writes() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.written))
	copy(out, s.written)
	return out
}

// findWritten returns the first written envelope of the given type.
func (s *fakeSocket) findWritten(typ string) (protocol.Envelope, bool) {
	for _, data := range s.writes() {
		var env protocol.Envelope
		if json.Unmarshal(data, &env) == nil && env.Type == typ {
			return env, true
		}
	}
	return protocol.Envelope{}, false
}

func writeGrant(w http.ResponseWriter, id, token string) {
	data := map[string]any{
		"session": map[string]any{"id": id, "active": true, "createdAt": time.Now().UTC()},
	}
	if token != "" {
		data["token"] = token
	}
	json.NewEncoder(w).Encode(map[string]any{"success": true, "data": data})
}

func newBackendServer(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/sessions":
			writeGrant(w, "sess-bg", "token-bg")
		case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/sessions/"):
			writeGrant(w, strings.TrimPrefix(r.URL.Path, "/sessions/"), "")
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func testConfig(t *testing.T, httpBase string) *config.Config {
	t.Helper()
	return &config.Config{
		Backend: config.BackendConfig{
			HTTPBase:      httpBase,
			WSBase:        "ws://test.invalid/ws",
			ClientVersion: "1.0.0",
			HTTPTimeout:   2 * time.Second,
		},
		Transport: config.TransportConfig{ReadTimeout: 5 * time.Second},
		Messaging: config.MessagingConfig{RequestTimeout: 2 * time.Second, PortBuffer: 16},
		Session: config.SessionConfig{
			HeartbeatInterval:    time.Hour,
			ReconnectBaseDelay:   5 * time.Millisecond,
			MaxReconnectAttempts: 2,
			DialTimeout:          time.Second,
		},
		Mailbox: config.MailboxConfig{QueueTTL: time.Minute, CallbackTTL: 150 * time.Millisecond},
		Widget:  config.WidgetConfig{HighlightClass: "ai-highlight", HighlightDuration: 20 * time.Millisecond},
		Storage: config.StorageConfig{Dir: t.TempDir()},
		Log:     config.LogConfig{Level: "error"},
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

type rig struct {
	svc  *Service
	sock *fakeSocket
}

// newRig starts a Service against a scripted backend and socket and
// waits until it is connected.
func newRig(t *testing.T) *rig {
	t.Helper()
	sock := newFakeSocket()
	server := newBackendServer(t)

	svc, err := New(testConfig(t, server.URL), newTestLogger(),
		WithSessionOptions(session.WithDialer(func(ctx context.Context, cfg transport.DialConfig) (transport.Socket, error) {
			return sock, nil
		})))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(svc.Shutdown)

	waitFor(t, "connected state", func() bool {
		return svc.session.State() == protocol.StateConnected
	})
	return &rig{svc: svc, sock: sock}
}

// pushEvent injects a server envelope into the socket.
func (r *rig) pushEvent(t *testing.T, id, typ string, payload any) {
	t.Helper()
	env := protocol.Envelope{ID: id, Type: typ, Timestamp: time.Now().UTC()}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		env.Payload = raw
	}
	data, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	r.sock.inbound <- data
}

// attach joins another context to the service's router.
func attach(t *testing.T, svc *Service, addr runtime.Address, opts ...messaging.MessengerOption) *messaging.Messenger {
	t.Helper()
	m, err := messaging.Attach(svc.Router(), addr, newTestLogger(), opts...)
	if err != nil {
		t.Fatalf("attach %s: %v", addr, err)
	}
	t.Cleanup(m.Cleanup)
	return m
}

// eventRecorder collects messages delivered to a context.
type eventRecorder struct {
	mu     sync.Mutex
	events []runtime.Message
}

func (r *eventRecorder) record(typ string, m *messaging.Messenger) {
	m.OnMessage(typ, func(ctx context.Context, msg runtime.Message) (any, error) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.events = append(r.events, msg)
		return nil, nil
	})
}

func (r *eventRecorder) recorded() []runtime.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]runtime.Message(nil), r.events...)
}

func TestPingCommand(t *testing.T) {
	r := newRig(t)
	popup := attach(t, r.svc, runtime.Popup())

	resp, err := popup.Request(context.Background(), runtime.Background(), protocol.CmdPing, nil)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if !resp.Success {
		t.Fatalf("ping failed: %s", resp.Error)
	}
	var pong pongReply
	if err := json.Unmarshal(resp.Data, &pong); err != nil || !pong.Pong {
		t.Fatalf("unexpected pong: %s", resp.Data)
	}
	if pong.Time.IsZero() {
		t.Fatal("pong carries no time")
	}
}

func TestSessionInfoCommand(t *testing.T) {
	r := newRig(t)
	popup := attach(t, r.svc, runtime.Popup())

	resp, err := popup.Request(context.Background(), runtime.Background(), protocol.CmdGetSessionInfo, nil)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if !resp.Success {
		t.Fatalf("session info failed: %s", resp.Error)
	}
	var info protocol.SessionInfo
	if err := json.Unmarshal(resp.Data, &info); err != nil {
		t.Fatalf("decoding session info: %v", err)
	}
	if info.Session == nil || info.Session.ID != "sess-bg" {
		t.Fatalf("unexpected session: %+v", info.Session)
	}
	if info.State != protocol.StateConnected {
		t.Fatalf("state = %q, want connected", info.State)
	}
}

func TestChatMessageReachesServer(t *testing.T) {
	r := newRig(t)
	content := attach(t, r.svc, runtime.Content("tab-1"))

	resp, err := content.Request(context.Background(), runtime.Background(), protocol.CmdSendChatMessage, map[string]string{"message": "open my cart"})
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if !resp.Success {
		t.Fatalf("chat command failed: %s", resp.Error)
	}
	var receipt sendReceipt
	if err := json.Unmarshal(resp.Data, &receipt); err != nil || receipt.MessageID == "" {
		t.Fatalf("unexpected receipt: %s", resp.Data)
	}

	waitFor(t, "chat envelope on the wire", func() bool {
		_, ok := r.sock.findWritten(protocol.WireChatMessage)
		return ok
	})
	env, _ := r.sock.findWritten(protocol.WireChatMessage)
	if env.ID != receipt.MessageID {
		t.Fatalf("wire id %q != receipt id %q", env.ID, receipt.MessageID)
	}
	if env.SessionID != "sess-bg" {
		t.Fatalf("wire session id = %q, want sess-bg", env.SessionID)
	}
	if !strings.Contains(string(env.Payload), "open my cart") {
		t.Fatalf("wire payload lost the message: %s", env.Payload)
	}
}

func TestChatMessageFailsWhileDisconnected(t *testing.T) {
	server := newBackendServer(t)
	svc, err := New(testConfig(t, server.URL), newTestLogger(),
		WithSessionOptions(session.WithDialer(func(ctx context.Context, cfg transport.DialConfig) (transport.Socket, error) {
			return nil, errors.New("network down")
		})))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(svc.Shutdown)

	content := attach(t, svc, runtime.Content("tab-1"))
	resp, err := content.Request(context.Background(), runtime.Background(), protocol.CmdSendChatMessage, map[string]string{"message": "hello"})
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if resp.Success {
		t.Fatal("chat succeeded without a connection")
	}
}

func TestScreenshotRoundTrip(t *testing.T) {
	r := newRig(t)
	popup := attach(t, r.svc, runtime.Popup())

	type outcome struct {
		resp protocol.Response
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		resp, err := popup.Request(context.Background(), runtime.Background(), protocol.CmdRequestScreenshot, map[string]string{"tabId": "tab-1"})
		done <- outcome{resp, err}
	}()

	var reqID string
	waitFor(t, "screenshot request on the wire", func() bool {
		env, ok := r.sock.findWritten(protocol.WireRequestScreenshot)
		if ok {
			reqID = env.ID
		}
		return ok
	})

	r.pushEvent(t, reqID, protocol.EventScreenshot, map[string]string{"image": "iVBORw0KGgo="})

	select {
	case out := <-done:
		if out.err != nil {
			t.Fatalf("Request failed: %v", out.err)
		}
		if !out.resp.Success {
			t.Fatalf("screenshot failed: %s", out.resp.Error)
		}
		if !strings.Contains(string(out.resp.Data), "iVBORw0KGgo=") {
			t.Fatalf("screenshot data lost: %s", out.resp.Data)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("screenshot request never settled")
	}
}

func TestScreenshotTimesOutWithoutReply(t *testing.T) {
	r := newRig(t)
	popup := attach(t, r.svc, runtime.Popup())

	resp, err := popup.Request(context.Background(), runtime.Background(), protocol.CmdRequestScreenshot, nil)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if resp.Success {
		t.Fatal("screenshot succeeded without a server reply")
	}
	if !strings.Contains(resp.Error, "timed out") {
		t.Fatalf("error = %q, want a timeout", resp.Error)
	}
}

func TestPageChangedUpdatesRegistryAndServer(t *testing.T) {
	r := newRig(t)
	content := attach(t, r.svc, runtime.Content("tab-1"))

	resp, err := content.Request(context.Background(), runtime.Background(), protocol.CmdPageChanged, map[string]string{
		"url":   "https://shop.example/cart",
		"title": "Cart",
	})
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if !resp.Success {
		t.Fatalf("page change failed: %s", resp.Error)
	}

	info, ok := r.svc.tabs.Get("tab-1")
	if !ok || info.URL != "https://shop.example/cart" {
		t.Fatalf("registry did not record the navigation: %+v", info)
	}

	waitFor(t, "page change on the wire", func() bool {
		_, ok := r.sock.findWritten(protocol.WirePageChanged)
		return ok
	})
	env, _ := r.sock.findWritten(protocol.WirePageChanged)
	if !strings.Contains(string(env.Payload), `"tab-1"`) {
		t.Fatalf("wire payload missing tab id: %s", env.Payload)
	}
}

func TestPageChangedRejectedFromPopup(t *testing.T) {
	r := newRig(t)
	popup := attach(t, r.svc, runtime.Popup())

	resp, err := popup.Request(context.Background(), runtime.Background(), protocol.CmdPageChanged, map[string]string{"url": "https://x.example"})
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if resp.Success {
		t.Fatal("popup was allowed to report a page change")
	}
}

func TestServerEventBroadcastToTabs(t *testing.T) {
	r := newRig(t)
	content := attach(t, r.svc, runtime.Content("tab-1"))
	rec := &eventRecorder{}
	rec.record(protocol.EventAIResponse, content)

	if _, err := content.Request(context.Background(), runtime.Background(), protocol.CmdPageChanged, map[string]string{
		"url": "https://shop.example", "title": "Shop",
	}); err != nil {
		t.Fatalf("page change failed: %v", err)
	}

	r.pushEvent(t, "evt-1", protocol.EventAIResponse, map[string]string{"message": "found it"})

	waitFor(t, "event delivery", func() bool {
		return len(rec.recorded()) == 1
	})
	got := rec.recorded()[0]
	if got.Type != protocol.EventAIResponse {
		t.Fatalf("delivered type = %q", got.Type)
	}
	if !strings.Contains(string(got.Payload), "found it") {
		t.Fatalf("delivered payload = %s", got.Payload)
	}
	if r.svc.queue.Size() != 0 {
		t.Fatalf("delivered event was queued anyway, size = %d", r.svc.queue.Size())
	}
}

func TestUndeliveredEventQueuedAndClaimed(t *testing.T) {
	r := newRig(t)

	// The tab is known but its context never attached.
	r.svc.tabs.Update("tab-9", "https://docs.example", "Docs")

	r.pushEvent(t, "evt-2", protocol.EventAIResponse, map[string]string{"message": "stranded"})

	waitFor(t, "event to be queued", func() bool {
		return r.svc.queue.Size() == 1
	})

	content := attach(t, r.svc, runtime.Content("tab-9"))
	resp, err := content.Request(context.Background(), runtime.Background(), protocol.CmdGetQueuedMessage, nil)
	if err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if !resp.Success {
		t.Fatalf("claim rejected: %s", resp.Error)
	}
	var env protocol.Envelope
	if err := json.Unmarshal(resp.Data, &env); err != nil {
		t.Fatalf("decoding queued envelope: %v", err)
	}
	if env.Type != protocol.EventAIResponse {
		t.Fatalf("queued type = %q", env.Type)
	}
	if !strings.Contains(string(env.Payload), "stranded") {
		t.Fatalf("queued payload = %s", env.Payload)
	}

	// The queue is drained; a second claim comes back empty.
	resp, err = content.Request(context.Background(), runtime.Background(), protocol.CmdGetQueuedMessage, nil)
	if err != nil {
		t.Fatalf("second claim failed: %v", err)
	}
	if !resp.Success || len(resp.Data) != 0 {
		t.Fatalf("second claim not empty: %+v", resp)
	}
}

func TestClaimRejectsGarbagePayload(t *testing.T) {
	r := newRig(t)
	content := attach(t, r.svc, runtime.Content("tab-1"))

	resp, err := content.Request(context.Background(), runtime.Background(), protocol.CmdGetQueuedMessage, json.RawMessage(`"garbage"`))
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if resp.Success {
		t.Fatal("garbage claim succeeded")
	}
}

func TestPrivilegedTabNeverTargeted(t *testing.T) {
	r := newRig(t)
	content := attach(t, r.svc, runtime.Content("tab-1"))
	rec := &eventRecorder{}
	rec.record(protocol.EventAIResponse, content)

	if _, err := content.Request(context.Background(), runtime.Background(), protocol.CmdPageChanged, map[string]string{
		"url": "chrome://settings", "title": "Settings",
	}); err != nil {
		t.Fatalf("page change failed: %v", err)
	}

	r.pushEvent(t, "evt-3", protocol.EventAIResponse, map[string]string{"message": "secret"})

	time.Sleep(50 * time.Millisecond)
	if n := len(rec.recorded()); n != 0 {
		t.Fatalf("privileged tab received %d events", n)
	}
	if r.svc.queue.Size() != 0 {
		t.Fatalf("privileged tab's event was queued, size = %d", r.svc.queue.Size())
	}
}

func TestConnectionStatusPushedOnDisconnect(t *testing.T) {
	r := newRig(t)
	content := attach(t, r.svc, runtime.Content("tab-1"))
	rec := &eventRecorder{}
	rec.record(protocol.CmdConnectionStatus, content)

	r.sock.readErr <- errors.New("server went away")

	waitFor(t, "disconnect status push", func() bool {
		for _, msg := range rec.recorded() {
			if strings.Contains(string(msg.Payload), string(protocol.StateDisconnected)) {
				return true
			}
		}
		return false
	})
}

func TestDetachedTabForgotten(t *testing.T) {
	r := newRig(t)
	content := attach(t, r.svc, runtime.Content("tab-5"))

	if _, err := content.Request(context.Background(), runtime.Background(), protocol.CmdPageChanged, map[string]string{
		"url": "https://news.example", "title": "News",
	}); err != nil {
		t.Fatalf("page change failed: %v", err)
	}
	if _, ok := r.svc.tabs.Get("tab-5"); !ok {
		t.Fatal("registry never saw the tab")
	}

	content.Cleanup()

	waitFor(t, "tab removal", func() bool {
		_, ok := r.svc.tabs.Get("tab-5")
		return !ok
	})
}
