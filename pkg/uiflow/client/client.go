package client

import (
	"github.com/tsarna/uiflow/pkg/uiflow/protocol"
)

// Client is the callback-driven connection manager. Handlers run on the read
// goroutine, one message at a time, in arrival order. They may call any
// Client method, including Disconnect.
type Client[S, D, E, A any] struct {
	*conn[S, D, E, A]
	handlers Handlers[S, D, E]
}

func (c *Client[S, D, E, A]) deliver(msg protocol.ServerMessage[S, D, E]) {
	h := &c.handlers

	switch m := msg.(type) {
	case protocol.Connected:
		if h.OnConnected != nil {
			h.OnConnected(m)
		}
	case protocol.Pong:
		if h.OnPong != nil {
			h.OnPong(m)
		}
	case protocol.Error:
		if h.OnError != nil {
			h.OnError(m)
		}
	case protocol.Snapshot[S]:
		if h.OnSnapshot != nil {
			h.OnSnapshot(m)
		}
	case protocol.Delta[D]:
		if h.OnDelta != nil {
			h.OnDelta(m)
		}
	case protocol.Deltas[D]:
		if h.OnDeltas != nil {
			h.OnDeltas(m)
		} else if h.OnDelta != nil {
			// Unpack the batch for callers that only handle single deltas.
			base := m.BaseSeq()
			for i, d := range m.Deltas {
				h.OnDelta(protocol.Delta[D]{Delta: d, Seq: base + uint64(i) + 1, Timestamp: m.Timestamp})
			}
		}
	case protocol.Presence:
		if h.OnPresence != nil {
			h.OnPresence(m)
		}
	case protocol.Signal:
		if h.OnSignal != nil {
			h.OnSignal(m)
		}
	case protocol.Notify[E]:
		if h.OnNotify != nil {
			h.OnNotify(m)
		}
	case protocol.Progress:
		if h.OnProgress != nil {
			h.OnProgress(m)
		}
	case protocol.ActionOk:
		if h.OnActionOk != nil {
			h.OnActionOk(m)
		}
	case protocol.ActionErr:
		if h.OnActionErr != nil {
			h.OnActionErr(m)
		}
	}
}

func (c *Client[S, D, E, A]) statusChanged(status Status) {
	if c.handlers.OnStatus != nil {
		c.handlers.OnStatus(status)
	}
}

func (c *Client[S, D, E, A]) decodeFailed(err error) {
	if c.handlers.OnDecodeError != nil {
		c.handlers.OnDecodeError(err)
	}
}
