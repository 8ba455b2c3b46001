package client

import (
	"context"
	"net/http"

	"github.com/coder/websocket"
)

// Socket is an ordered, message framed, bidirectional connection.
type Socket interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close(code websocket.StatusCode, reason string) error
}

// Dialer opens sockets. The default implementation uses WebSockets.
type Dialer interface {
	Dial(ctx context.Context, url string, header http.Header) (Socket, error)
}

// DefaultReadLimit bounds the size of a single inbound frame.
const DefaultReadLimit = 1 << 20

// WebSocketDialer dials with github.com/coder/websocket.
type WebSocketDialer struct {
	ReadLimit int64
}

// Dial implements Dialer. A 401 or 403 handshake response is reported as an
// AuthError so the client stops retrying.
func (d WebSocketDialer) Dial(ctx context.Context, url string, header http.Header) (Socket, error) {
	conn, resp, err := websocket.Dial(ctx, url, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, &AuthError{Code: 4001, HTTPStatus: resp.StatusCode}
		}
		return nil, err
	}

	limit := d.ReadLimit
	if limit <= 0 {
		limit = DefaultReadLimit
	}
	conn.SetReadLimit(limit)

	return &wsSocket{conn: conn}, nil
}

type wsSocket struct {
	conn *websocket.Conn
}

func (s *wsSocket) Read(ctx context.Context) ([]byte, error) {
	// Text frames are accepted too; the codec decides whether they parse.
	_, data, err := s.conn.Read(ctx)
	return data, err
}

func (s *wsSocket) Write(ctx context.Context, data []byte) error {
	return s.conn.Write(ctx, websocket.MessageBinary, data)
}

func (s *wsSocket) Close(code websocket.StatusCode, reason string) error {
	return s.conn.Close(code, reason)
}
