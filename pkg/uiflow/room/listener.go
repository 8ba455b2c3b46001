package room

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/tsarna/uiflow/pkg/uiflow/protocol"
	"go.uber.org/zap"
)

// RoomParam is the chi URL parameter holding the room name.
const RoomParam = "room"

// joinAttempts covers a room being evicted between Open and Join.
const joinAttempts = 2

// Listener accepts WebSocket connections and attaches each one to a room.
type Listener struct {
	rooms   Rooms
	logger  *zap.Logger
	metrics *Metrics
	config  *ListenerConfig

	// Connection tracking for graceful shutdown
	connections  map[*Connection]struct{}
	connMutex    sync.RWMutex
	shutdown     chan struct{}
	shutdownOnce sync.Once
}

func newListener(config *ListenerConfig) *Listener {
	return &Listener{
		rooms:       config.rooms,
		logger:      config.logger,
		metrics:     config.metrics,
		config:      config,
		connections: make(map[*Connection]struct{}),
		shutdown:    make(chan struct{}),
	}
}

// ServeWebsocket upgrades a request for /{room} and serves the connection
// until it closes. The room name comes from the chi URL parameter "room";
// user_id and user_name come from the query string.
//
//	r := chi.NewRouter()
//	r.Get("/ws/{room}", listener.ServeWebsocket)
func (l *Listener) ServeWebsocket(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	name := chi.URLParam(r, RoomParam)
	if name == "" {
		http.Error(w, "room name is required", http.StatusBadRequest)
		return
	}

	select {
	case <-l.shutdown:
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	if _, err := l.rooms.Open(ctx, name); err != nil {
		l.metrics.RecordConnectionError(ctx, "open_room")
		l.logger.Warn("Rejecting connection", zap.String("room", name), zap.Error(err))
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	user := UserFromRequest(r)

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionContextTakeover,
		OriginPatterns:  l.config.origins,
	})
	if err != nil {
		l.metrics.RecordConnectionError(ctx, "upgrade")
		l.logger.Error("Failed to accept WebSocket connection",
			zap.Error(err),
			zap.String("remote_addr", r.RemoteAddr),
			zap.String("user_agent", r.UserAgent()),
		)
		return
	}

	connection := newConnection(ctx, conn, l.config, name, user)

	l.connMutex.Lock()
	l.connections[connection] = struct{}{}
	connCount := len(l.connections)
	l.connMutex.Unlock()

	l.metrics.RecordConnectionStart(ctx)
	l.metrics.RecordConnectionActive(ctx, connCount)
	l.logger.Debug("WebSocket connection established",
		zap.String("room", name),
		zap.String("user_id", user.ID),
		zap.String("remote_addr", r.RemoteAddr),
		zap.Int("active_connections", connCount),
	)

	started := time.Now()
	endpoint, connID, err := l.join(ctx, name, connection, user)
	if err != nil {
		l.metrics.RecordConnectionError(ctx, "join")
		l.logger.Error("Failed to join room", zap.String("room", name), zap.Error(err))
		connection.reject(err)
	} else {
		connection.Start(endpoint, connID)
	}

	l.connMutex.Lock()
	delete(l.connections, connection)
	connCount = len(l.connections)
	l.connMutex.Unlock()

	l.metrics.RecordConnectionActive(ctx, connCount)
	l.metrics.RecordConnectionEnd(ctx, time.Since(started))
	l.logger.Debug("WebSocket connection removed from tracking",
		zap.String("room", name),
		zap.Int("active_connections", connCount),
	)
}

func (l *Listener) join(ctx context.Context, name string, c *Connection, user User) (Endpoint, string, error) {
	var err error
	for attempt := 0; attempt < joinAttempts; attempt++ {
		var endpoint Endpoint
		endpoint, err = l.rooms.Open(ctx, name)
		if err != nil {
			return nil, "", err
		}

		var connID string
		connID, err = endpoint.Join(ctx, c, user)
		if err == nil {
			return endpoint, connID, nil
		}
		if !errors.Is(err, ErrRoomClosed) {
			break
		}
	}
	return nil, "", err
}

// Shutdown stops accepting connections, closes the active ones and waits for
// them to finish or for ctx to expire.
func (l *Listener) Shutdown(ctx context.Context) error {
	l.shutdownOnce.Do(func() {
		l.logger.Info("Starting graceful WebSocket shutdown")
		close(l.shutdown)

		l.connMutex.RLock()
		connections := make([]*Connection, 0, len(l.connections))
		for conn := range l.connections {
			connections = append(connections, conn)
		}
		l.connMutex.RUnlock()

		if len(connections) == 0 {
			l.logger.Info("No active connections to close")
			return
		}

		l.logger.Info("Closing active WebSocket connections",
			zap.Int("connection_count", len(connections)),
		)
		for _, conn := range connections {
			go conn.shutdownClose(websocket.StatusGoingAway, "Server shutting down")
		}
	})

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		remaining := l.ConnectionCount()
		if remaining == 0 {
			l.logger.Info("All WebSocket connections closed successfully")
			return nil
		}

		select {
		case <-ctx.Done():
			l.logger.Warn("Shutdown timeout reached with active connections",
				zap.Int("remaining_connections", remaining),
			)
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// ConnectionCount returns the current number of active WebSocket connections.
func (l *Listener) ConnectionCount() int {
	l.connMutex.RLock()
	defer l.connMutex.RUnlock()
	return len(l.connections)
}

func fatalError(err error) protocol.Error {
	code := protocol.CodeInternal
	if errors.Is(err, ErrRoomClosed) {
		code = protocol.CodeRoomClosed
	}
	return protocol.Error{Code: code, Message: err.Error(), Fatal: true}
}
