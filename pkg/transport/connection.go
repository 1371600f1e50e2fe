package transport

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/DhyeyTeraiya/new--sub004/pkg/protocol"
)

// callback executed when a message is received.
type MessageHandler func(ctx context.Context, connID uuid.UUID, msg []byte)

type OnCloseHandler func(connID uuid.UUID, err error)

type ConnConfig struct {
	// ReadTimeout bounds the gap between inbound frames. With server
	// pongs answering our heartbeats, a silent link is a dead link.
	ReadTimeout time.Duration
}

// Socket is the minimal frame interface Conn pumps against. Production
// code uses the WebSocket adapter from Dial; tests plug in fakes.
type Socket interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close(reason string) error
}

// Conn represents a single, thread-safe connection to the server.
type Conn struct {
	id     uuid.UUID
	sock   Socket
	config ConnConfig
	send   chan []byte

	onMessage MessageHandler
	onClose   OnCloseHandler

	done      chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once

	logger *slog.Logger
}

func NewConn(parentCtx context.Context, sock Socket, config ConnConfig, onMessage MessageHandler, onClose OnCloseHandler, logger *slog.Logger) *Conn {
	id := uuid.New()
	connCtx, cancel := context.WithCancel(parentCtx)
	connLogger := logger.With(slog.String("connID", id.String()))

	if config.ReadTimeout <= 0 {
		config.ReadTimeout = 90 * time.Second
	}

	return &Conn{
		id:        id,
		sock:      sock,
		logger:    connLogger,
		config:    config,
		onMessage: onMessage,
		send:      make(chan []byte, 256), // Buffered channel
		done:      make(chan struct{}),
		ctx:       connCtx,
		cancel:    cancel,
		onClose:   onClose,
	}
}

func (c *Conn) Run() {
	go c.readPump()
	go c.writePump()

	c.logger.Info("connection established")
}

// readPump pumps messages from the socket to the message handler.
func (c *Conn) readPump() {
	var readErr error
	defer func() {
		c.Close(readErr)
	}()

	for {
		readCtx, cancelRead := context.WithTimeout(c.ctx, c.config.ReadTimeout)
		message, err := c.sock.Read(readCtx)
		cancelRead()
		if err != nil {
			readErr = err
			return
		}
		// Pass a connection-scoped context to the handler.
		c.onMessage(c.ctx, c.id, message)
	}
}

// writePump pumps messages from the send channel to the socket.
func (c *Conn) writePump() {
	var writeErr error

	defer func() {
		c.Close(writeErr)
	}()

	for {
		select {
		case message := <-c.send:
			if err := c.sock.Write(c.ctx, message); err != nil {
				writeErr = err
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// Send queues a message for the server. It is safe for concurrent use
// and fails once the connection is closing.
func (c *Conn) Send(message []byte) error {
	select {
	case c.send <- message:
		return nil
	case <-c.ctx.Done():
		c.logger.Warn("Attempted to send on a closed connection")
		return protocol.ErrNotConnected
	}
}

// gracefully shuts down the connection and its resources.
func (c *Conn) Close(err error) {
	c.closeOnce.Do(func() {
		c.logger.Info("Transport connection closing", slog.Any("reason", err))

		c.cancel() // Signal pumps to stop.
		c.sock.Close("closing")
		if c.onClose != nil {
			c.onClose(c.id, err)
		}
		close(c.done)
		c.logger.Info("Connection closed")
	})
}

// returns a channel that is closed when the connection is fully terminated.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// ID returns the unique identifier of the connection.
func (c *Conn) ID() uuid.UUID {
	return c.id
}
