package client

import (
	"sync"

	"github.com/tsarna/uiflow/pkg/uiflow/protocol"
)

// Event is one item produced by a Poller. Exactly one field is set: a decoded
// server message, a status change or a decode failure.
type Event[S, D, E any] struct {
	Message protocol.ServerMessage[S, D, E]
	Status  *Status
	Err     error
}

// IsStatusChanged reports whether the event is a synthetic status change.
func (e Event[S, D, E]) IsStatusChanged() bool {
	return e.Status != nil
}

// Poller is the poll-driven connection manager for callers that run their own
// loop, such as a game tick or a terminal UI. It shares the state machine of
// Client; only delivery differs.
type Poller[S, D, E, A any] struct {
	*conn[S, D, E, A]

	queueMu sync.Mutex
	queue   []Event[S, D, E]
}

// Poll returns the oldest pending event without blocking. The second result
// is false when nothing is pending.
func (p *Poller[S, D, E, A]) Poll() (Event[S, D, E], bool) {
	p.queueMu.Lock()
	defer p.queueMu.Unlock()

	if len(p.queue) == 0 {
		return Event[S, D, E]{}, false
	}
	ev := p.queue[0]
	p.queue[0] = Event[S, D, E]{}
	p.queue = p.queue[1:]
	return ev, true
}

// Drain returns and removes every pending event.
func (p *Poller[S, D, E, A]) Drain() []Event[S, D, E] {
	p.queueMu.Lock()
	defer p.queueMu.Unlock()

	events := p.queue
	p.queue = nil
	return events
}

// Pending returns the number of queued events.
func (p *Poller[S, D, E, A]) Pending() int {
	p.queueMu.Lock()
	defer p.queueMu.Unlock()
	return len(p.queue)
}

func (p *Poller[S, D, E, A]) push(ev Event[S, D, E]) {
	p.queueMu.Lock()
	p.queue = append(p.queue, ev)
	p.queueMu.Unlock()
}

func (p *Poller[S, D, E, A]) deliver(msg protocol.ServerMessage[S, D, E]) {
	p.push(Event[S, D, E]{Message: msg})
}

func (p *Poller[S, D, E, A]) statusChanged(status Status) {
	p.push(Event[S, D, E]{Status: &status})
}

func (p *Poller[S, D, E, A]) decodeFailed(err error) {
	p.push(Event[S, D, E]{Err: err})
}
