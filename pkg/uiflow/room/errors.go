package room

import (
	"errors"
	"fmt"

	"github.com/tsarna/uiflow/pkg/uiflow/protocol"
)

var (
	// ErrRoomClosed is returned when a room stopped before it could handle a
	// request.
	ErrRoomClosed = errors.New("room is closed")

	// ErrUnknownConnection is returned for frames from a connection that is
	// not (or no longer) a member.
	ErrUnknownConnection = errors.New("unknown connection")
)

// ActionError rejects an action. Code is optional and machine readable;
// Message is shown to the user.
type ActionError struct {
	Code    string
	Message string
}

func (e *ActionError) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Reject returns an ActionError without a code.
func Reject(message string) error {
	return &ActionError{Message: message}
}

// Rejectf returns an ActionError with a formatted message.
func Rejectf(format string, args ...any) error {
	return &ActionError{Message: fmt.Sprintf(format, args...)}
}

// RejectCode returns an ActionError with a code.
func RejectCode(code, message string) error {
	return &ActionError{Code: code, Message: message}
}

// actionFailure converts a handler error into the ActionErr sent back to the
// origin. Errors that are not ActionErrors keep their text.
func actionFailure(op protocol.OpID, err error) protocol.ActionErr {
	var ae *ActionError
	if errors.As(err, &ae) {
		return protocol.ActionErr{OpID: op, Code: ae.Code, Message: ae.Message}
	}
	return protocol.ActionErr{OpID: op, Message: err.Error()}
}
