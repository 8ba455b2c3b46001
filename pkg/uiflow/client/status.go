package client

import (
	"errors"
	"fmt"

	"github.com/coder/websocket"
)

// StatusKind is the coarse connection state.
type StatusKind int

const (
	StatusDisconnected StatusKind = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
	StatusAuthFailed
)

// Status is the connection status. Attempt is only meaningful while
// Reconnecting and is 1-based.
type Status struct {
	Kind    StatusKind
	Attempt int
}

var (
	Disconnected = Status{Kind: StatusDisconnected}
	Connecting   = Status{Kind: StatusConnecting}
	Connected    = Status{Kind: StatusConnected}
	AuthFailed   = Status{Kind: StatusAuthFailed}
)

// Reconnecting returns the status for the given reconnect attempt.
func Reconnecting(attempt int) Status {
	return Status{Kind: StatusReconnecting, Attempt: attempt}
}

func (s Status) IsConnected() bool {
	return s.Kind == StatusConnected
}

// IsConnecting reports an initial or repeated connection attempt in progress.
func (s Status) IsConnecting() bool {
	return s.Kind == StatusConnecting || s.Kind == StatusReconnecting
}

// IsDisconnected reports a state with no automatic progress: either the
// caller disconnected, retries ran out, or authentication failed.
func (s Status) IsDisconnected() bool {
	return s.Kind == StatusDisconnected || s.Kind == StatusAuthFailed
}

// Description is a short human readable label suitable for a status badge.
func (s Status) Description() string {
	switch s.Kind {
	case StatusConnecting:
		return "Connecting..."
	case StatusConnected:
		return "Connected"
	case StatusReconnecting:
		if s.Attempt <= 3 {
			return "Reconnecting..."
		}
		return "Connection unstable"
	case StatusAuthFailed:
		return "Authentication failed"
	default:
		return "Disconnected"
	}
}

func (s Status) String() string {
	if s.Kind == StatusReconnecting {
		return fmt.Sprintf("Reconnecting(%d)", s.Attempt)
	}
	switch s.Kind {
	case StatusConnecting:
		return "Connecting"
	case StatusConnected:
		return "Connected"
	case StatusAuthFailed:
		return "AuthFailed"
	default:
		return "Disconnected"
	}
}

// CloseInfo describes why a socket closed.
type CloseInfo struct {
	Code   websocket.StatusCode
	Reason string
}

// IsAuthFailure reports a close code in the 4001-4009 range that servers use
// to reject credentials.
func (c CloseInfo) IsAuthFailure() bool {
	return c.Code >= 4001 && c.Code <= 4009
}

// IsNormal reports a normal or going-away closure.
func (c CloseInfo) IsNormal() bool {
	return c.Code == websocket.StatusNormalClosure || c.Code == websocket.StatusGoingAway
}

// closeInfoFromError extracts the close frame from a read or dial error.
// Errors without a close frame are reported as an abnormal closure.
func closeInfoFromError(err error) CloseInfo {
	if err == nil {
		return CloseInfo{Code: websocket.StatusNormalClosure}
	}

	var authErr *AuthError
	if errors.As(err, &authErr) {
		return CloseInfo{Code: authErr.Code, Reason: authErr.Error()}
	}

	var closeErr websocket.CloseError
	if errors.As(err, &closeErr) {
		return CloseInfo{Code: closeErr.Code, Reason: closeErr.Reason}
	}

	return CloseInfo{Code: websocket.StatusAbnormalClosure, Reason: err.Error()}
}
