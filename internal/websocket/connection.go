package websocket

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"mentormatrix/pkg/interfaces"
)

var _ interfaces.Connection = (*Connection)(nil)

// ConnectionConfig tunes a single socket.
type ConnectionConfig struct {
	SendBuffer      int
	WriteTimeout    time.Duration
	PongWait        time.Duration
	PingInterval    time.Duration
	MaxMessageBytes int64
}

// DefaultConnectionConfig returns the heartbeat and buffer defaults.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		SendBuffer:      100,
		WriteTimeout:    5 * time.Second,
		PongWait:        60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageBytes: 64 * 1024,
	}
}

// Connection wraps a gorilla socket with a single writer goroutine.
// ARCHITECTURAL DISCOVERY: gorilla allows one concurrent writer, so every
// frame and ping goes through writeLoop
type Connection struct {
	id        string
	conn      *websocket.Conn
	config    ConnectionConfig
	logger    *slog.Logger
	writeCh   chan []byte
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	done      chan struct{}
}

// NewConnection assigns a fresh connection id and starts the writer.
func NewConnection(conn *websocket.Conn, config ConnectionConfig, logger *slog.Logger) *Connection {
	if config.SendBuffer <= 0 {
		config.SendBuffer = DefaultConnectionConfig().SendBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	id := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		id:      id,
		conn:    conn,
		config:  config,
		logger:  logger.With("conn_id", id),
		writeCh: make(chan []byte, config.SendBuffer),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	go c.writeLoop()

	return c
}

// ID returns the transport-assigned connection id.
func (c *Connection) ID() string { return c.id }

// Context is canceled when the connection closes.
func (c *Connection) Context() context.Context { return c.ctx }

// Send enqueues frame without blocking.
// FUNCTIONAL DISCOVERY: a slow reader loses frames instead of stalling the
// broadcaster for everyone else in the room
func (c *Connection) Send(frame []byte) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	select {
	case c.writeCh <- frame:
		return nil
	default:
		c.logger.Warn("dropping frame, send buffer full")
		return ErrSendBufferFull
	}
}

// writeLoop owns the socket: it is the only writer and the only closer.
func (c *Connection) writeLoop() {
	defer close(c.done)
	defer func() {
		c.cancel()
		_ = c.conn.Close()
	}()

	var ping <-chan time.Time
	if c.config.PingInterval > 0 {
		ticker := time.NewTicker(c.config.PingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		select {
		case data := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Debug("write failed", "error", err)
				return
			}
		case <-ping:
			deadline := time.Now().Add(c.config.WriteTimeout)
			if err := c.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.logger.Debug("ping failed", "error", err)
				return
			}
		case <-c.ctx.Done():
			c.flush()
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return
		}
	}
}

// flush writes whatever is already queued, best effort, before the socket
// goes away.
func (c *Connection) flush() {
	for {
		select {
		case data := <-c.writeCh:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		default:
			return
		}
	}
}

// Close asks the writer to flush and close the socket. Safe to call more
// than once.
func (c *Connection) Close() error {
	c.closeOnce.Do(c.cancel)
	return nil
}

// Done is closed once the writer has exited.
func (c *Connection) Done() <-chan struct{} { return c.done }
