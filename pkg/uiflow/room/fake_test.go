package room

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/require"
	"github.com/tsarna/uiflow/pkg/uiflow/protocol"
	"github.com/tsarna/uiflow/pkg/uiflow/storage"
	"go.uber.org/zap/zaptest"
)

const (
	waitFor = 2 * time.Second
	tick    = 2 * time.Millisecond
)

type counterState struct {
	Count  int
	Leaves int
}

type counterView struct {
	Count  int
	Leaves int
}

type counterDelta struct {
	Add int
}

type counterEvent struct {
	Text string
}

type counterAction struct {
	Type   string
	N      int
	Domain string
}

type counterApp struct{}

func (counterApp) NewState() counterState { return counterState{} }

func (counterApp) View(s *counterState) counterView {
	return counterView{Count: s.Count, Leaves: s.Leaves}
}

func (counterApp) Join(tx Tx[counterDelta, counterEvent], s *counterState, m Member) error {
	return nil
}

func (counterApp) Leave(tx Tx[counterDelta, counterEvent], s *counterState, m Member) error {
	s.Leaves++
	return nil
}

func (counterApp) Handle(tx Tx[counterDelta, counterEvent], s *counterState, a counterAction) error {
	switch a.Type {
	case "add":
		s.Count += a.N
		tx.Emit(counterDelta{Add: a.N})
	case "add_each":
		for i := 0; i < a.N; i++ {
			s.Count++
			tx.Emit(counterDelta{Add: 1})
		}
	case "fail":
		s.Count = 999
		tx.Emit(counterDelta{Add: 999})
		return RejectCode("too_big", "Count is too big")
	case "plain_fail":
		return errors.New("boom")
	case "notify":
		tx.Notify(a.Domain, counterEvent{Text: "to all"})
	case "whisper":
		origin, _ := tx.Origin()
		tx.NotifyUser(origin.UserID, a.Domain, counterEvent{Text: "just you"})
	case "alarm":
		tx.SetAlarm(time.Duration(a.N) * time.Millisecond)
	case "cancel":
		tx.CancelAlarm()
	case "reset":
		s.Count = 0
		tx.Resnapshot()
	case "id":
		tx.SetResult(tx.NextID())
	default:
		return Rejectf("unknown action %q", a.Type)
	}
	return nil
}

func (counterApp) Alarm(tx Tx[counterDelta, counterEvent], s *counterState) error {
	s.Count += 100
	tx.Emit(counterDelta{Add: 100})
	return nil
}

type testMsg = protocol.ServerMessage[counterView, counterDelta, counterEvent]

// fakePeer records frames sent by a room.
type fakePeer struct {
	frames chan []byte
	closed chan websocket.StatusCode
}

func newFakePeer() *fakePeer {
	return &fakePeer{
		frames: make(chan []byte, 256),
		closed: make(chan websocket.StatusCode, 1),
	}
}

func (p *fakePeer) Send(data []byte) bool {
	select {
	case p.frames <- data:
		return true
	default:
		return false
	}
}

func (p *fakePeer) Close(code websocket.StatusCode, reason string) {
	select {
	case p.closed <- code:
	default:
	}
}

func (p *fakePeer) next(t *testing.T) testMsg {
	t.Helper()
	select {
	case data := <-p.frames:
		msg, err := protocol.DecodeServer[counterView, counterDelta, counterEvent](data)
		require.NoError(t, err)
		return msg
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for a frame")
		return nil
	}
}

func (p *fakePeer) expectNone(t *testing.T) {
	t.Helper()
	select {
	case data := <-p.frames:
		msg, _ := protocol.DecodeServer[counterView, counterDelta, counterEvent](data)
		t.Fatalf("unexpected frame %T", msg)
	case <-time.After(30 * time.Millisecond):
	}
}

func expect[T any](t *testing.T, p *fakePeer) T {
	t.Helper()
	msg := p.next(t)
	got, ok := msg.(T)
	require.Truef(t, ok, "expected %T, got %T", *new(T), msg)
	return got
}

// join connects a peer and consumes its Connected, Snapshot and Presence.
func join(t *testing.T, r *Room[counterState, counterView, counterDelta, counterEvent, counterAction], userID string) (*fakePeer, string) {
	t.Helper()
	p := newFakePeer()
	id, err := r.Join(context.Background(), p, User{ID: userID, Name: "Name " + userID})
	require.NoError(t, err)

	connected := expect[protocol.Connected](t, p)
	require.Equal(t, id, connected.ConnectionID)
	expect[protocol.Snapshot[counterView]](t, p)
	expect[protocol.Presence](t, p)
	return p, id
}

func send(t *testing.T, r *Room[counterState, counterView, counterDelta, counterEvent, counterAction], connID string, msg protocol.ClientMessage[counterAction]) {
	t.Helper()
	data, err := protocol.EncodeClient[counterAction](msg)
	require.NoError(t, err)
	require.NoError(t, r.Deliver(context.Background(), connID, data))
}

func act(t *testing.T, r *Room[counterState, counterView, counterDelta, counterEvent, counterAction], connID string, op uint64, a counterAction) {
	t.Helper()
	send(t, r, connID, protocol.Action[counterAction]{OpID: protocol.OpIDFromRaw(op), Action: a})
}

func newTestHub(t *testing.T, store storage.Store) *Hub[counterState, counterView, counterDelta, counterEvent, counterAction] {
	t.Helper()
	hub, err := NewHub[counterState, counterView, counterDelta, counterEvent, counterAction]().
		WithApplication(counterApp{}).
		WithStore(store).
		WithLogger(zaptest.NewLogger(t)).
		Build()
	require.NoError(t, err)
	t.Cleanup(func() { _ = hub.Shutdown(context.Background()) })
	return hub
}

func newTestRoom(t *testing.T, store storage.Store) *Room[counterState, counterView, counterDelta, counterEvent, counterAction] {
	t.Helper()
	r, err := newTestHub(t, store).Room("r1")
	require.NoError(t, err)
	return r
}

// failingStore fails every Put once armed.
type failingStore struct {
	storage.Store
	mu   sync.Mutex
	fail bool
}

func (s *failingStore) arm(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = fail
}

func (s *failingStore) Put(ctx context.Context, room, key string, value []byte) error {
	s.mu.Lock()
	fail := s.fail
	s.mu.Unlock()
	if fail {
		return errors.New("disk full")
	}
	return s.Store.Put(ctx, room, key, value)
}
