package ws

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"ocpphub/backend/services/ocpp-server/internal/session"
)

// ErrSendBufferFull is returned by Send when the outbound queue cannot take another frame.
var ErrSendBufferFull = errors.New("ws: send buffer full")

const maxMessageSize = 1024 * 1024

// MessageProcessor handles raw OCPP messages.
type MessageProcessor interface {
	Process(ctx context.Context, sess *session.Session, raw []byte) ([]byte, error)
}

// Connection represents active station WebSocket connection.
type Connection struct {
	stationID    string
	ws           *websocket.Conn
	send         chan []byte
	logger       *zap.Logger
	processor    MessageProcessor
	writeTimeout time.Duration
	readTimeout  time.Duration
	onClose      func(*Connection)

	mu      sync.Mutex
	closed  bool
	session *session.Session
}

// NewConnection builds connection wrapper.
func NewConnection(stationID string, ws *websocket.Conn, processor MessageProcessor, opts ConnectionOptions, logger *zap.Logger, onClose func(*Connection)) *Connection {
	opts.defaults()
	return &Connection{
		stationID:    stationID,
		ws:           ws,
		send:         make(chan []byte, opts.SendBuffer),
		logger:       logger,
		processor:    processor,
		writeTimeout: opts.WriteTimeout,
		readTimeout:  opts.ReadTimeout,
		onClose:      onClose,
	}
}

// ConnectionOptions tunes a connection.
type ConnectionOptions struct {
	WriteTimeout time.Duration
	ReadTimeout  time.Duration
	SendBuffer   int
}

func (o *ConnectionOptions) defaults() {
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 15 * time.Second
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = 60 * time.Second
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 16
	}
}

// StationID returns identifier.
func (c *Connection) StationID() string {
	return c.stationID
}

// Attach binds the registry session inbound frames are processed against.
func (c *Connection) Attach(sess *session.Session) {
	c.mu.Lock()
	c.session = sess
	c.mu.Unlock()
}

// Start launches read/write pumps. It returns when the connection is closed.
func (c *Connection) Start(ctx context.Context) {
	go c.writePump(ctx)
	c.readPump(ctx)
}

func (c *Connection) readPump(ctx context.Context) {
	defer c.cleanup()
	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.readTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.readTimeout))
	})

	c.mu.Lock()
	sess := c.session
	c.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, message, err := c.ws.ReadMessage()
		if err != nil {
			c.logger.Info("connection read closed", zap.String("station_id", c.stationID), zap.Error(err))
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(c.readTimeout))

		response, err := c.processor.Process(ctx, sess, message)
		if err != nil {
			c.logger.Warn("failed to process message", zap.String("station_id", c.stationID), zap.Error(err))
			continue
		}
		if response == nil {
			continue
		}
		if err := c.Send(response); err != nil {
			c.logger.Warn("failed to queue response", zap.String("station_id", c.stationID), zap.Error(err))
		}
	}
}

func (c *Connection) writePump(ctx context.Context) {
	defer c.ws.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-c.send:
			if !ok {
				_ = c.write(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.write(websocket.TextMessage, msg); err != nil {
				c.logger.Info("connection write failed", zap.String("station_id", c.stationID), zap.Error(err))
				return
			}
		}
	}
}

// Send enqueues a frame for writing. It never blocks.
func (c *Connection) Send(msg []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return session.ErrConnectionClosed
	}
	select {
	case c.send <- msg:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Ping sends a ping control frame. It is safe to call concurrently with the write pump.
func (c *Connection) Ping() error {
	return c.ws.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(c.writeTimeout))
}

// Close terminates the underlying socket; the read pump then runs cleanup.
func (c *Connection) Close() error {
	return c.ws.Close()
}

func (c *Connection) write(messageType int, data []byte) error {
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.ws.WriteMessage(messageType, data)
}

func (c *Connection) cleanup() {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
	c.mu.Unlock()

	_ = c.ws.Close()
	if c.onClose != nil {
		c.onClose(c)
	}
}
