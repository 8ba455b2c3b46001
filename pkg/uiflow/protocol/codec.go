package protocol

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Frames are MessagePack maps of the form {"t": tag, "d": {field: value...}}.
// Payload fields are keyed by name, so decoders tolerate fields they do not
// know and fields that an older peer omits.

type envelope struct {
	Tag  Tag `msgpack:"t"`
	Data any `msgpack:"d"`
}

type rawEnvelope struct {
	Tag  *Tag               `msgpack:"t"`
	Data msgpack.RawMessage `msgpack:"d"`
}

// Encode serializes any envelope variant.
func Encode(msg Message) ([]byte, error) {
	if msg == nil {
		return nil, fmt.Errorf("cannot encode nil message")
	}
	data, err := msgpack.Marshal(envelope{Tag: msg.Tag(), Data: msg})
	if err != nil {
		return nil, fmt.Errorf("failed to encode message %s: %w", msg.Tag(), err)
	}
	return data, nil
}

// EncodeServer serializes a server-to-client message.
func EncodeServer[S, D, E any](msg ServerMessage[S, D, E]) ([]byte, error) {
	return Encode(msg)
}

// EncodeClient serializes a client-to-server message.
func EncodeClient[A any](msg ClientMessage[A]) ([]byte, error) {
	return Encode(msg)
}

// DecodeServer parses a server-to-client frame.
func DecodeServer[S, D, E any](data []byte) (ServerMessage[S, D, E], error) {
	env, err := decodeEnvelope(data)
	if err != nil {
		return nil, err
	}

	var msg ServerMessage[S, D, E]
	switch *env.Tag {
	case TagConnected:
		var m Connected
		err = env.payload(&m)
		msg = m
	case TagPong:
		var m Pong
		err = env.payload(&m)
		msg = m
	case TagError:
		var m Error
		err = env.payload(&m)
		msg = m
	case TagSnapshot:
		var m Snapshot[S]
		err = env.payload(&m)
		msg = m
	case TagDelta:
		var m Delta[D]
		err = env.payload(&m)
		msg = m
	case TagDeltas:
		var m Deltas[D]
		err = env.payload(&m)
		msg = m
	case TagPresence:
		var m Presence
		err = env.payload(&m)
		msg = m
	case TagSignal:
		var m Signal
		err = env.payload(&m)
		msg = m
	case TagNotify:
		var m Notify[E]
		err = env.payload(&m)
		msg = m
	case TagProgress:
		var m Progress
		err = env.payload(&m)
		msg = m
	case TagActionOk:
		var m ActionOk
		err = env.payload(&m)
		msg = m
	case TagActionErr:
		var m ActionErr
		err = env.payload(&m)
		msg = m
	default:
		return nil, &UnknownTagError{Tag: *env.Tag}
	}

	if err != nil {
		return nil, err
	}
	return msg, nil
}

// DecodeClient parses a client-to-server frame.
func DecodeClient[A any](data []byte) (ClientMessage[A], error) {
	env, err := decodeEnvelope(data)
	if err != nil {
		return nil, err
	}

	var msg ClientMessage[A]
	switch *env.Tag {
	case TagPing:
		var m Ping
		err = env.payload(&m)
		msg = m
	case TagResync:
		var m Resync
		err = env.payload(&m)
		msg = m
	case TagAction:
		var m Action[A]
		err = env.payload(&m)
		msg = m
	case TagSubscribe:
		var m Subscribe
		err = env.payload(&m)
		msg = m
	case TagUnsubscribe:
		var m Unsubscribe
		err = env.payload(&m)
		msg = m
	case TagSignalTo:
		var m SignalTo
		err = env.payload(&m)
		msg = m
	default:
		return nil, &UnknownTagError{Tag: *env.Tag}
	}

	if err != nil {
		return nil, err
	}
	return msg, nil
}

func decodeEnvelope(data []byte) (*rawEnvelope, error) {
	if len(data) == 0 {
		return nil, &DecodeError{Reason: "empty frame"}
	}

	var env rawEnvelope
	if err := msgpack.Unmarshal(data, &env); err != nil {
		return nil, &DecodeError{Err: err}
	}
	if env.Tag == nil {
		return nil, &DecodeError{Reason: "missing tag"}
	}
	return &env, nil
}

func (e *rawEnvelope) payload(v any) error {
	// A variant without fields may be sent with no payload at all.
	if len(e.Data) == 0 {
		return nil
	}
	if err := msgpack.Unmarshal(e.Data, v); err != nil {
		tag := *e.Tag
		return &DecodeError{Tag: &tag, Err: err}
	}
	return nil
}
