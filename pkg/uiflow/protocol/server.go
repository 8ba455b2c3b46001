package protocol

// Message is implemented by every envelope variant, in either direction.
type Message interface {
	Tag() Tag
}

// ServerMessage is a server-to-client envelope. S is the application state
// carried by snapshots, D the delta type and E the notification event type.
//
// The set of variants is closed; use a type switch to dispatch:
//
//	switch m := msg.(type) {
//	case protocol.Snapshot[S]:
//	case protocol.Delta[D]:
//	case protocol.Notify[E]:
//	}
type ServerMessage[S, D, E any] interface {
	Message
	serverMessage()
}

// Connected is the first message on every new connection.
type Connected struct {
	ProtocolVersion uint32 `msgpack:"protocol_version"`
	ConnectionID    string `msgpack:"connection_id"`
}

// Pong answers a Ping, echoing the client's timestamp.
type Pong struct {
	ClientTs uint64 `msgpack:"client_ts"`
	ServerTs uint64 `msgpack:"server_ts"`
}

// Error reports a server-side problem. A fatal error is followed by a close.
type Error struct {
	Code    ErrorCode `msgpack:"code,omitempty"`
	Message string    `msgpack:"message"`
	Fatal   bool      `msgpack:"fatal"`
}

// Snapshot is the complete state at Seq.
type Snapshot[S any] struct {
	State     S      `msgpack:"state"`
	Seq       uint64 `msgpack:"seq"`
	Timestamp uint64 `msgpack:"timestamp"`
}

// Delta is a single change; Seq is the sequence reached after applying it.
type Delta[D any] struct {
	Delta     D      `msgpack:"delta"`
	Seq       uint64 `msgpack:"seq"`
	Timestamp uint64 `msgpack:"timestamp"`
}

// Deltas is an ordered batch. Each delta consumes one sequence number and Seq
// is the sequence reached after applying all of them.
type Deltas[D any] struct {
	Deltas    []D    `msgpack:"deltas"`
	Seq       uint64 `msgpack:"seq"`
	Timestamp uint64 `msgpack:"timestamp"`
}

// BaseSeq returns the sequence the batch expects the receiver to be at.
func (d Deltas[D]) BaseSeq() uint64 {
	n := uint64(len(d.Deltas))
	if n > d.Seq {
		return 0
	}
	return d.Seq - n
}

// Presence is the full roster of live users in the room.
type Presence struct {
	Users []PresenceInfo `msgpack:"users"`
}

// Signal relays a peer signalling payload from another user.
type Signal struct {
	FromUserID string        `msgpack:"from_user_id"`
	Signal     SignalPayload `msgpack:"signal"`
}

// Notify carries an application event that is not a state change.
type Notify[E any] struct {
	Domain        string `msgpack:"domain"`
	Event         E      `msgpack:"event"`
	CorrelationID *OpID  `msgpack:"correlation_id,omitempty"`
}

// Progress reports intermediate progress of an operation.
type Progress struct {
	OpID    OpID    `msgpack:"op_id"`
	Percent *uint8  `msgpack:"percent,omitempty"`
	Message *string `msgpack:"message,omitempty"`
}

// ActionOk reports that an action succeeded.
type ActionOk struct {
	OpID   OpID `msgpack:"op_id"`
	Result any  `msgpack:"result,omitempty"`
}

// ActionErr reports that an action was rejected.
type ActionErr struct {
	OpID    OpID   `msgpack:"op_id"`
	Code    string `msgpack:"code,omitempty"`
	Message string `msgpack:"message"`
}

func (Connected) Tag() Tag { return TagConnected }
func (Pong) Tag() Tag { return TagPong }
func (Error) Tag() Tag { return TagError }
func (Snapshot[S]) Tag() Tag { return TagSnapshot }
func (Delta[D]) Tag() Tag { return TagDelta }
func (Deltas[D]) Tag() Tag { return TagDeltas }
func (Presence) Tag() Tag { return TagPresence }
func (Signal) Tag() Tag { return TagSignal }
func (Notify[E]) Tag() Tag { return TagNotify }
func (Progress) Tag() Tag { return TagProgress }
func (ActionOk) Tag() Tag { return TagActionOk }
func (ActionErr) Tag() Tag { return TagActionErr }
func (Connected) serverMessage() {}
func (Pong) serverMessage() {}
func (Error) serverMessage() {}
func (Snapshot[S]) serverMessage() {}
func (Delta[D]) serverMessage() {}
func (Deltas[D]) serverMessage() {}
func (Presence) serverMessage() {}
func (Signal) serverMessage() {}
func (Notify[E]) serverMessage() {}
func (Progress) serverMessage() {}
func (ActionOk) serverMessage() {}
func (ActionErr) serverMessage() {}
