package room

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Notification is an event queued by Notify or NotifyUser. UserID is empty for
// room-wide events.
type Notification[E any] struct {
	Domain string
	UserID string
	Event  E
}

// AlarmChange is the alarm operation requested by a hook.
type AlarmChange struct {
	Cancel bool
	After  time.Duration
}

// Effects is the Tx the room hands to applications. It is exported so that
// applications can be exercised without a running room.
type Effects[D, E any] struct {
	ctx    context.Context
	logger *zap.Logger
	origin *Member
	now    time.Time
	nextID uint64

	Deltas        []D
	Notifications []Notification[E]
	Alarm         *AlarmChange
	Snapshot      bool
	Result        any
}

// NewEffects creates an empty recorder. origin may be nil; nextID is the next
// value NextID will return.
func NewEffects[D, E any](ctx context.Context, origin *Member, now time.Time, nextID uint64, logger *zap.Logger) *Effects[D, E] {
	if logger == nil {
		logger = zap.NewNop()
	}
	if nextID == 0 {
		nextID = 1
	}
	return &Effects[D, E]{
		ctx:    ctx,
		logger: logger,
		origin: origin,
		now:    now,
		nextID: nextID,
	}
}

func (fx *Effects[D, E]) Context() context.Context { return fx.ctx }

func (fx *Effects[D, E]) Logger() *zap.Logger { return fx.logger }

func (fx *Effects[D, E]) Origin() (Member, bool) {
	if fx.origin == nil {
		return Member{}, false
	}
	return *fx.origin, true
}

func (fx *Effects[D, E]) Now() time.Time { return fx.now }

func (fx *Effects[D, E]) Emit(deltas ...D) {
	fx.Deltas = append(fx.Deltas, deltas...)
}

func (fx *Effects[D, E]) Notify(domain string, event E) {
	fx.Notifications = append(fx.Notifications, Notification[E]{Domain: domain, Event: event})
}

func (fx *Effects[D, E]) NotifyUser(userID, domain string, event E) {
	fx.Notifications = append(fx.Notifications, Notification[E]{Domain: domain, UserID: userID, Event: event})
}

func (fx *Effects[D, E]) SetAlarm(after time.Duration) {
	fx.Alarm = &AlarmChange{After: after}
}

func (fx *Effects[D, E]) CancelAlarm() {
	fx.Alarm = &AlarmChange{Cancel: true}
}

func (fx *Effects[D, E]) Resnapshot() { fx.Snapshot = true }

func (fx *Effects[D, E]) NextID() uint64 {
	id := fx.nextID
	fx.nextID++
	return id
}

func (fx *Effects[D, E]) SetResult(result any) { fx.Result = result }

// PeekNextID returns the value the next call to NextID would return.
func (fx *Effects[D, E]) PeekNextID() uint64 { return fx.nextID }

// SeqAdvance is how far the room sequence moves when these effects commit.
func (fx *Effects[D, E]) SeqAdvance() uint64 {
	if fx.Snapshot {
		return uint64(len(fx.Deltas)) + 1
	}
	return uint64(len(fx.Deltas))
}
