package protocol

// ClientMessage is a client-to-server envelope; A is the application action type.
type ClientMessage[A any] interface {
	Message
	clientMessage()
}

// Ping is a keepalive carrying the client's clock in unix milliseconds.
type Ping struct {
	Ts uint64 `msgpack:"ts"`
}

// Resync asks for a fresh snapshot. LastSeq is the last sequence the client
// applied, if any.
type Resync struct {
	LastSeq *uint64 `msgpack:"last_seq,omitempty"`
}

// Action submits an application action for validation by the room.
type Action[A any] struct {
	OpID   OpID `msgpack:"op_id"`
	Action A    `msgpack:"action"`
}

// Subscribe adds notification domain patterns for this connection.
type Subscribe struct {
	Domains []string `msgpack:"domains"`
}

// Unsubscribe removes notification domain patterns.
type Unsubscribe struct {
	Domains []string `msgpack:"domains"`
}

// SignalTo asks the room to relay a signalling payload to another user.
type SignalTo struct {
	TargetUserID string        `msgpack:"target_user_id"`
	Signal       SignalPayload `msgpack:"signal"`
}

func (Ping) Tag() Tag { return TagPing }
func (Resync) Tag() Tag { return TagResync }
func (Action[A]) Tag() Tag { return TagAction }
func (Subscribe) Tag() Tag { return TagSubscribe }
func (Unsubscribe) Tag() Tag { return TagUnsubscribe }
func (SignalTo) Tag() Tag { return TagSignalTo }
func (Ping) clientMessage() {}
func (Resync) clientMessage() {}
func (Action[A]) clientMessage() {}
func (Subscribe) clientMessage() {}
func (Unsubscribe) clientMessage() {}
func (SignalTo) clientMessage() {}
