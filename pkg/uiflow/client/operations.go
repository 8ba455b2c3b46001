package client

import (
	"sync"
	"time"

	"github.com/tsarna/uiflow/pkg/uiflow/protocol"
)

// OperationState is the lifecycle stage of a tracked operation.
type OperationState int

const (
	OperationPending OperationState = iota
	OperationSucceeded
	OperationFailed
)

func (s OperationState) String() string {
	switch s {
	case OperationSucceeded:
		return "succeeded"
	case OperationFailed:
		return "failed"
	default:
		return "pending"
	}
}

// Operation is a snapshot of one tracked operation. T is caller data stored
// alongside it, typically the action that was sent.
type Operation[T any] struct {
	ID        protocol.OpID
	Data      T
	State     OperationState
	Percent   *uint8
	Message   string
	Result    any
	StartedAt time.Time
}

// OperationTracker correlates outgoing actions with Progress, ActionOk and
// ActionErr replies. Completing or failing an operation that is no longer
// pending is a no-op, so duplicate deliveries are harmless. It is safe for
// concurrent use.
type OperationTracker[T any] struct {
	mu  sync.Mutex
	ops map[protocol.OpID]*Operation[T]
	now func() time.Time
}

// NewOperationTracker creates an empty tracker.
func NewOperationTracker[T any]() *OperationTracker[T] {
	return &OperationTracker[T]{
		ops: make(map[protocol.OpID]*Operation[T]),
		now: time.Now,
	}
}

// Start allocates a new OpID and tracks it as pending.
func (t *OperationTracker[T]) Start(data T) protocol.OpID {
	id := protocol.NewOpID()
	t.StartWithID(id, data)
	return id
}

// StartWithID tracks a caller chosen OpID as pending, replacing any earlier
// entry with the same id.
func (t *OperationTracker[T]) StartWithID(id protocol.OpID, data T) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ops[id] = &Operation[T]{
		ID:        id,
		Data:      data,
		State:     OperationPending,
		StartedAt: t.now(),
	}
}

// UpdateProgress records intermediate progress. It returns false when the
// operation is unknown or already finished.
func (t *OperationTracker[T]) UpdateProgress(p protocol.Progress) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	op, ok := t.ops[p.OpID]
	if !ok || op.State != OperationPending {
		return false
	}
	op.Percent = p.Percent
	if p.Message != nil {
		op.Message = *p.Message
	}
	return true
}

// Complete marks the operation as succeeded. It returns false for unknown or
// already finished operations.
func (t *OperationTracker[T]) Complete(ok protocol.ActionOk) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	op, found := t.ops[ok.OpID]
	if !found || op.State != OperationPending {
		return false
	}
	op.State = OperationSucceeded
	op.Result = ok.Result
	return true
}

// Fail marks the operation as failed. It returns false for unknown or already
// finished operations.
func (t *OperationTracker[T]) Fail(e protocol.ActionErr) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	op, found := t.ops[e.OpID]
	if !found || op.State != OperationPending {
		return false
	}
	op.State = OperationFailed
	op.Message = e.Message
	return true
}

// IsPending reports whether id is tracked and has not finished.
func (t *OperationTracker[T]) IsPending(id protocol.OpID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	op, ok := t.ops[id]
	return ok && op.State == OperationPending
}

// Get returns a copy of the tracked operation.
func (t *OperationTracker[T]) Get(id protocol.OpID) (Operation[T], bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	op, ok := t.ops[id]
	if !ok {
		return Operation[T]{}, false
	}
	return *op, true
}

// Remove stops tracking id.
func (t *OperationTracker[T]) Remove(id protocol.OpID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.ops, id)
}

// Len returns the number of tracked operations, finished ones included.
func (t *OperationTracker[T]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.ops)
}

// CleanupStale drops operations started more than timeout ago, pending or not,
// and returns how many were removed.
func (t *OperationTracker[T]) CleanupStale(timeout time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := t.now().Add(-timeout)
	removed := 0
	for id, op := range t.ops {
		if op.StartedAt.Before(cutoff) {
			delete(t.ops, id)
			removed++
		}
	}
	return removed
}
