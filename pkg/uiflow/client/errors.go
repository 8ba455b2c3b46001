package client

import (
	"errors"
	"fmt"

	"github.com/coder/websocket"
)

var (
	// ErrConfiguration is returned when required settings are missing.
	ErrConfiguration = errors.New("invalid client configuration")

	// ErrNotConnected is returned by send operations while no socket is open,
	// including while reconnecting. Nothing is queued.
	ErrNotConnected = errors.New("client is not connected")

	// ErrAlreadyStarted is returned by Connect on a running client.
	ErrAlreadyStarted = errors.New("client is already started")
)

// TransportError wraps a socket level failure for a specific operation. A
// failed send does not by itself change the connection status.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// AuthError is returned by a Dialer when the server rejects the handshake
// credentials. It is treated like a close with an auth failure code.
type AuthError struct {
	Code       websocket.StatusCode
	HTTPStatus int
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication rejected (http %d)", e.HTTPStatus)
}
