package protocol

import (
	"errors"
	"fmt"
)

// ErrorCode identifies the kind of a server Error for programmatic handling.
type ErrorCode string

const (
	CodeDecode        ErrorCode = "decode_error"        // Frame could not be decoded
	CodeUnknownTag    ErrorCode = "unknown_tag"         // Frame tag not understood
	CodeUnsupported   ErrorCode = "unsupported"         // Message valid but not handled here
	CodeUnknownTarget ErrorCode = "unknown_target"      // Signal target not connected
	CodeInvalidSignal ErrorCode = "invalid_signal"      // Signal payload incomplete
	CodeInternal      ErrorCode = "internal_error"      // Server failure
	CodeRoomClosed    ErrorCode = "room_closed"         // Room is shutting down
	CodeNotAuthorized ErrorCode = "not_authorized"      // Credentials rejected
	CodeValidation    ErrorCode = "validation_failed"   // Action rejected by the application
	CodeStorage       ErrorCode = "storage_unavailable" // Persistence failed
)

func (c ErrorCode) String() string {
	if c == "" {
		return "unspecified"
	}
	return string(c)
}

// ErrDecode matches every decode failure, malformed or unknown tag.
var ErrDecode = errors.New("decode error")

// DecodeError reports bytes that are not a well formed envelope, or a payload
// that does not fit the variant named by its tag.
type DecodeError struct {
	Tag    *Tag
	Err    error
	Reason string
}

func (e *DecodeError) Error() string {
	msg := e.Reason
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Tag != nil {
		return fmt.Sprintf("malformed message (tag %s): %s", *e.Tag, msg)
	}
	return fmt.Sprintf("malformed message: %s", msg)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func (e *DecodeError) Is(target error) bool { return target == ErrDecode }

// UnknownTagError reports a well formed envelope whose tag this decoder does
// not know. Receivers should log and continue.
type UnknownTagError struct {
	Tag Tag
}

func (e *UnknownTagError) Error() string {
	return fmt.Sprintf("unknown message tag %s", e.Tag)
}

func (e *UnknownTagError) Is(target error) bool { return target == ErrDecode }

// IsUnknownTag reports whether err is, or wraps, an UnknownTagError.
func IsUnknownTag(err error) bool {
	var ute *UnknownTagError
	return errors.As(err, &ute)
}

// IsMalformed reports whether err is, or wraps, a DecodeError.
func IsMalformed(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}
