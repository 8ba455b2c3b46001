package room

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/tsarna/uiflow/pkg/uiflow/protocol"
	"go.uber.org/zap"
)

// Connection is one WebSocket client attached to a room. It is the room's
// Peer: frames the room sends are queued and written by a single sender
// goroutine.
type Connection struct {
	ctx     context.Context
	conn    *websocket.Conn
	logger  *zap.Logger
	metrics *Metrics
	config  *ListenerConfig

	outbound chan []byte
	done     chan struct{}

	closing     chan struct{}
	closeOnce   sync.Once
	closeCode   websocket.StatusCode
	closeReason string

	cleanupOnce sync.Once
}

func newConnection(ctx context.Context, conn *websocket.Conn, config *ListenerConfig, roomName string, user User) *Connection {
	return &Connection{
		ctx:  ctx,
		conn: conn,
		logger: config.logger.With(
			zap.String("room", roomName),
			zap.String("user_id", user.ID),
		),
		metrics:  config.metrics,
		config:   config,
		outbound: make(chan []byte, config.queueSize),
		done:     make(chan struct{}),
		closing:  make(chan struct{}),
	}
}

// Send queues a frame without blocking. A full queue drops the frame.
func (c *Connection) Send(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.outbound <- data:
		return true
	default:
		c.metrics.RecordMessageDropped(c.ctx)
		c.logger.Warn("Outbound channel full, dropping frame", zap.Int("size", len(data)))
		return false
	}
}

// Close flushes the queued frames and then closes the socket.
func (c *Connection) Close(code websocket.StatusCode, reason string) {
	c.closeOnce.Do(func() {
		c.closeCode = code
		c.closeReason = reason
		close(c.closing)
	})
}

// Start serves the connection as connID of endpoint and blocks until it
// closes.
func (c *Connection) Start(endpoint Endpoint, connID string) {
	c.logger = c.logger.With(zap.String("connection_id", connID))
	c.logger.Debug("Starting WebSocket connection handler")

	go c.messageSender()

	c.messageReader(endpoint, connID)

	endpoint.Leave(connID)
	c.logger.Debug("WebSocket connection handler stopping")
	c.cleanup()
}

// reject tells the client why it could not join and closes the socket.
func (c *Connection) reject(err error) {
	if data, encErr := protocol.Encode(fatalError(err)); encErr == nil {
		writeCtx, cancel := context.WithTimeout(c.ctx, c.config.writeTimeout)
		_ = c.conn.Write(writeCtx, websocket.MessageBinary, data)
		cancel()
	}
	_ = c.conn.Close(websocket.StatusInternalError, "join failed")
	c.cleanup()
}

func (c *Connection) messageSender() {
	defer c.logger.Debug("Message sender goroutine stopped")

	var pingChan <-chan time.Time
	if c.config.pingInterval > 0 {
		pingTicker := time.NewTicker(c.config.pingInterval)
		pingChan = pingTicker.C
		defer pingTicker.Stop()
	}

	for {
		select {
		case data := <-c.outbound:
			if err := c.write(data); err != nil {
				c.logger.Error("Failed to send WebSocket message", zap.Error(err))
				if websocket.CloseStatus(err) != -1 {
					return
				}
			}

		case <-pingChan:
			pingCtx, cancel := context.WithTimeout(c.ctx, c.config.writeTimeout)
			err := c.conn.Ping(pingCtx)
			cancel()

			if err != nil {
				c.logger.Debug("Ping failed, closing connection", zap.Error(err))
				_ = c.conn.CloseNow()
				return
			}
			c.metrics.RecordPingSent(c.ctx)

		case <-c.closing:
			c.flush()
			if err := c.conn.Close(c.closeCode, c.closeReason); err != nil {
				c.logger.Debug("WebSocket close error (may be expected)", zap.Error(err))
			}
			return

		case <-c.done:
			return

		case <-c.ctx.Done():
			return
		}
	}
}

// flush writes whatever is queued without waiting for more.
func (c *Connection) flush() {
	for {
		select {
		case data := <-c.outbound:
			if err := c.write(data); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *Connection) write(data []byte) error {
	writeCtx, cancel := context.WithTimeout(c.ctx, c.config.writeTimeout)
	defer cancel()

	err := c.conn.Write(writeCtx, websocket.MessageBinary, data)
	if errors.Is(err, context.DeadlineExceeded) {
		c.metrics.RecordWriteTimeout(c.ctx)
	}
	if err == nil {
		c.metrics.RecordMessageSent(c.ctx, len(data))
	}
	return err
}

func (c *Connection) messageReader(endpoint Endpoint, connID string) {
	defer c.logger.Debug("Message reader stopped")

	c.conn.SetReadLimit(c.config.readLimit)

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		readCtx, cancel := context.WithTimeout(c.ctx, c.config.readTimeout)
		_, data, err := c.conn.Read(readCtx)
		cancel()
		if err != nil {
			if status := websocket.CloseStatus(err); status != -1 {
				c.logger.Debug("WebSocket connection closed by client",
					zap.Int("close_status", int(status)),
				)
			} else {
				c.logger.Debug("Failed to read WebSocket message", zap.Error(err))
			}
			return
		}

		if len(data) == 0 {
			continue
		}
		c.metrics.RecordMessageReceived(c.ctx, len(data))

		if err := endpoint.Deliver(c.ctx, connID, data); err != nil {
			c.logger.Debug("Room stopped accepting frames", zap.Error(err))
			return
		}
	}
}

func (c *Connection) cleanup() {
	c.cleanupOnce.Do(func() {
		close(c.done)

		err := c.conn.Close(websocket.StatusNormalClosure, "Connection closed")
		if err != nil {
			c.logger.Debug("WebSocket close error (may be expected)", zap.Error(err))
		}
	})
}

func (c *Connection) shutdownClose(code websocket.StatusCode, reason string) {
	c.logger.Debug("Closing connection for shutdown",
		zap.Int("close_code", int(code)),
		zap.String("reason", reason),
	)

	if err := c.conn.Close(code, reason); err != nil {
		c.logger.Debug("Error closing WebSocket during shutdown", zap.Error(err))
	}
}
