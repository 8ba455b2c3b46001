package client

import (
	"sync"

	"github.com/tsarna/uiflow/pkg/uiflow/protocol"
)

// Applier is a client-side view that can absorb deltas.
type Applier[D any] interface {
	ApplyDelta(delta D)
}

// Mirror keeps a local copy of room state in step with the server. The view
// type is used through a pointer so that ApplyDelta mutates it in place.
//
// Mirror enforces the same ordering rule as the connection: a delta is only
// applied on top of the exact sequence it follows. Apply methods report false
// when the caller should resync.
type Mirror[V any, D any, PV interface {
	*V
	Applier[D]
}] struct {
	mu     sync.RWMutex
	view   V
	seq    uint64
	synced bool
}

// NewMirror creates an empty mirror that has not seen a snapshot.
func NewMirror[V any, D any, PV interface {
	*V
	Applier[D]
}]() *Mirror[V, D, PV] {
	return &Mirror[V, D, PV]{}
}

// ApplySnapshot replaces the view.
func (m *Mirror[V, D, PV]) ApplySnapshot(snap protocol.Snapshot[V]) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.view = snap.State
	m.seq = snap.Seq
	m.synced = true
}

// ApplyDelta applies one delta if it directly follows the current sequence.
func (m *Mirror[V, D, PV]) ApplyDelta(d protocol.Delta[D]) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.synced || d.Seq != m.seq+1 {
		return false
	}
	PV(&m.view).ApplyDelta(d.Delta)
	m.seq = d.Seq
	return true
}

// ApplyDeltas applies a batch if it directly follows the current sequence.
func (m *Mirror[V, D, PV]) ApplyDeltas(batch protocol.Deltas[D]) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.synced || len(batch.Deltas) == 0 || batch.BaseSeq() != m.seq {
		return false
	}
	for _, d := range batch.Deltas {
		PV(&m.view).ApplyDelta(d)
	}
	m.seq = batch.Seq
	return true
}

// Apply routes any server message; messages that do not carry state are
// ignored and reported as applied.
func (m *Mirror[V, D, PV]) Apply(msg protocol.Message) bool {
	switch v := msg.(type) {
	case protocol.Snapshot[V]:
		m.ApplySnapshot(v)
		return true
	case protocol.Delta[D]:
		return m.ApplyDelta(v)
	case protocol.Deltas[D]:
		return m.ApplyDeltas(v)
	}
	return true
}

// View returns the current view and sequence. The view is a shallow copy;
// callers must not modify slices or maps it shares with the mirror.
func (m *Mirror[V, D, PV]) View() (V, uint64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.view, m.seq, m.synced
}

// Read calls fn with the view under the mirror's read lock.
func (m *Mirror[V, D, PV]) Read(fn func(view *V, seq uint64)) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	fn(&m.view, m.seq)
}
