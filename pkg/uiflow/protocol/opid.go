package protocol

import (
	"strconv"
	"sync/atomic"
)

// OpID correlates an action fired by a client with its eventual outcome
// (Progress, ActionOk or ActionErr). Values are unique only within the
// process that issued them.
type OpID uint64

var opCounter atomic.Uint64

// NewOpID returns the next operation id. The first id issued is 1.
func NewOpID() OpID {
	return OpID(opCounter.Add(1))
}

// OpIDFromRaw wraps a raw numeric id received from the wire.
func OpIDFromRaw(raw uint64) OpID {
	return OpID(raw)
}

// Raw returns the numeric value for transmission.
func (o OpID) Raw() uint64 {
	return uint64(o)
}

func (o OpID) String() string {
	return "op-" + strconv.FormatUint(uint64(o), 10)
}
