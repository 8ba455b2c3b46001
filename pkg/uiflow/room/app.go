package room

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Application is the domain logic hosted by a room. S is the authoritative
// state, V the public view sent in snapshots, D the delta type, E the
// notification event type and A the action type.
//
// Every hook runs on the room goroutine with exclusive access to state. A hook
// that returns an error leaves no trace: state is restored from the last
// persisted copy and everything recorded on tx is discarded.
type Application[S, V, D, E, A any] interface {
	// NewState returns the state of a room that has never been persisted.
	NewState() S

	// View projects the state into what every client may see.
	View(state *S) V

	// Join runs after a new connection has received its snapshot.
	Join(tx Tx[D, E], state *S, m Member) error

	// Leave runs when the last connection of a user has gone.
	Leave(tx Tx[D, E], state *S, m Member) error

	// Handle validates and applies an action from tx.Origin().
	Handle(tx Tx[D, E], state *S, action A) error

	// Alarm runs when the alarm set through tx.SetAlarm fires.
	Alarm(tx Tx[D, E], state *S) error
}

// Tx records the side effects of one application hook. They are applied only
// if the hook succeeds and the new state has been persisted.
type Tx[D, E any] interface {
	Context() context.Context
	Logger() *zap.Logger

	// Origin is the connection that triggered the hook; false for alarms.
	Origin() (Member, bool)

	// Now is the time the hook started.
	Now() time.Time

	// Emit queues deltas for every connection. Each consumes one sequence number.
	Emit(deltas ...D)

	// Notify queues an event for every connection subscribed to domain.
	Notify(domain string, event E)

	// NotifyUser queues an event for the connections of one user only.
	NotifyUser(userID, domain string, event E)

	// SetAlarm replaces the pending alarm.
	SetAlarm(after time.Duration)

	// CancelAlarm clears the pending alarm.
	CancelAlarm()

	// Resnapshot broadcasts a full snapshot instead of the emitted deltas.
	Resnapshot()

	// NextID returns a room-unique, persisted, increasing id.
	NextID() uint64

	// SetResult attaches a result to the ActionOk reply.
	SetResult(result any)
}
