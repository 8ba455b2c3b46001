package room

import (
	"context"
	"runtime"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsarna/uiflow/pkg/uiflow/protocol"
	"github.com/tsarna/uiflow/pkg/uiflow/storage"
	"go.uber.org/zap/zaptest"
)

func TestRoomJoin(t *testing.T) {
	r := newTestRoom(t, storage.NewMemoryStore())

	p1 := newFakePeer()
	id1, err := r.Join(context.Background(), p1, User{ID: "alice", Name: "Alice"})
	require.NoError(t, err)

	connected := expect[protocol.Connected](t, p1)
	assert.Equal(t, uint32(protocol.ProtocolVersion), connected.ProtocolVersion)
	assert.Equal(t, id1, connected.ConnectionID)

	snap := expect[protocol.Snapshot[counterView]](t, p1)
	assert.Equal(t, uint64(0), snap.Seq)
	assert.Equal(t, 0, snap.State.Count)

	presence := expect[protocol.Presence](t, p1)
	require.Len(t, presence.Users, 1)
	assert.Equal(t, "alice", presence.Users[0].UserID)
	assert.Equal(t, "Alice", presence.Users[0].DisplayName())
	assert.Equal(t, protocol.PresenceActive, presence.Users[0].Status)

	// A second connection of the same user does not duplicate presence.
	p2 := newFakePeer()
	_, err = r.Join(context.Background(), p2, User{ID: "alice", Name: "Alice"})
	require.NoError(t, err)
	expect[protocol.Connected](t, p2)
	expect[protocol.Snapshot[counterView]](t, p2)
	assert.Len(t, expect[protocol.Presence](t, p2).Users, 1)
	assert.Len(t, expect[protocol.Presence](t, p1).Users, 1)

	assert.Equal(t, 2, r.ConnectionCount())
}

func TestRoomAction(t *testing.T) {
	r := newTestRoom(t, storage.NewMemoryStore())
	p1, id1 := join(t, r, "alice")
	p2, _ := join(t, r, "bob")
	expect[protocol.Presence](t, p1)

	t.Run("single delta", func(t *testing.T) {
		act(t, r, id1, 1, counterAction{Type: "add", N: 5})

		delta := expect[protocol.Delta[counterDelta]](t, p1)
		assert.Equal(t, uint64(1), delta.Seq)
		assert.Equal(t, 5, delta.Delta.Add)

		ok := expect[protocol.ActionOk](t, p1)
		assert.Equal(t, protocol.OpIDFromRaw(1), ok.OpID)

		assert.Equal(t, uint64(1), expect[protocol.Delta[counterDelta]](t, p2).Seq)
		p2.expectNone(t)
	})

	t.Run("batch carries final seq", func(t *testing.T) {
		act(t, r, id1, 2, counterAction{Type: "add_each", N: 3})

		batch := expect[protocol.Deltas[counterDelta]](t, p2)
		assert.Len(t, batch.Deltas, 3)
		assert.Equal(t, uint64(4), batch.Seq)
		assert.Equal(t, uint64(1), batch.BaseSeq())

		expect[protocol.Deltas[counterDelta]](t, p1)
		expect[protocol.ActionOk](t, p1)
	})

	t.Run("rejection goes to the origin only", func(t *testing.T) {
		act(t, r, id1, 3, counterAction{Type: "fail"})

		failure := expect[protocol.ActionErr](t, p1)
		assert.Equal(t, protocol.OpIDFromRaw(3), failure.OpID)
		assert.Equal(t, "too_big", failure.Code)
		assert.Equal(t, "Count is too big", failure.Message)
		p2.expectNone(t)

		view, seq, err := r.View(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 8, view.Count)
		assert.Equal(t, uint64(4), seq)
	})

	t.Run("plain errors keep their text", func(t *testing.T) {
		act(t, r, id1, 4, counterAction{Type: "plain_fail"})
		failure := expect[protocol.ActionErr](t, p1)
		assert.Empty(t, failure.Code)
		assert.Equal(t, "boom", failure.Message)
	})

	t.Run("result and ids", func(t *testing.T) {
		act(t, r, id1, 5, counterAction{Type: "id"})
		assert.EqualValues(t, 1, expect[protocol.ActionOk](t, p1).Result)
		act(t, r, id1, 6, counterAction{Type: "id"})
		assert.EqualValues(t, 2, expect[protocol.ActionOk](t, p1).Result)
	})
}

func TestRoomControlMessages(t *testing.T) {
	r := newTestRoom(t, storage.NewMemoryStore())
	p1, id1 := join(t, r, "alice")

	send(t, r, id1, protocol.Ping{Ts: 1234})
	pong := expect[protocol.Pong](t, p1)
	assert.Equal(t, uint64(1234), pong.ClientTs)
	assert.NotZero(t, pong.ServerTs)

	act(t, r, id1, 1, counterAction{Type: "add", N: 2})
	expect[protocol.Delta[counterDelta]](t, p1)
	expect[protocol.ActionOk](t, p1)

	last := uint64(0)
	send(t, r, id1, protocol.Resync{LastSeq: &last})
	snap := expect[protocol.Snapshot[counterView]](t, p1)
	assert.Equal(t, uint64(1), snap.Seq)
	assert.Equal(t, 2, snap.State.Count)

	require.NoError(t, r.Deliver(context.Background(), id1, []byte{0xc1}))
	decodeErr := expect[protocol.Error](t, p1)
	assert.Equal(t, protocol.CodeDecode, decodeErr.Code)
	assert.False(t, decodeErr.Fatal)

	// The connection survives a bad frame.
	send(t, r, id1, protocol.Ping{Ts: 1})
	expect[protocol.Pong](t, p1)
}

func TestRoomSubscriptions(t *testing.T) {
	r := newTestRoom(t, storage.NewMemoryStore())
	p1, id1 := join(t, r, "alice")
	p2, id2 := join(t, r, "bob")
	expect[protocol.Presence](t, p1)

	send(t, r, id2, protocol.Subscribe{Domains: []string{"game/#"}})

	act(t, r, id1, 1, counterAction{Type: "notify", Domain: "chat"})
	n := expect[protocol.Notify[counterEvent]](t, p1)
	assert.Equal(t, "chat", n.Domain)
	require.NotNil(t, n.CorrelationID)
	assert.Equal(t, protocol.OpIDFromRaw(1), *n.CorrelationID)
	expect[protocol.ActionOk](t, p1)
	p2.expectNone(t)

	act(t, r, id1, 2, counterAction{Type: "notify", Domain: "game/score"})
	expect[protocol.Notify[counterEvent]](t, p1)
	expect[protocol.ActionOk](t, p1)
	assert.Equal(t, "game/score", expect[protocol.Notify[counterEvent]](t, p2).Domain)

	// Dropping the last pattern returns to receiving everything.
	send(t, r, id2, protocol.Unsubscribe{Domains: []string{"game/#"}})
	act(t, r, id1, 3, counterAction{Type: "notify", Domain: "chat"})
	expect[protocol.Notify[counterEvent]](t, p1)
	expect[protocol.ActionOk](t, p1)
	assert.Equal(t, "chat", expect[protocol.Notify[counterEvent]](t, p2).Domain)

	// User-targeted events reach only that user.
	act(t, r, id2, 4, counterAction{Type: "whisper", Domain: "private"})
	whisper := expect[protocol.Notify[counterEvent]](t, p2)
	assert.Equal(t, "just you", whisper.Event.Text)
	expect[protocol.ActionOk](t, p2)
	p1.expectNone(t)
}

func TestRoomSignal(t *testing.T) {
	r := newTestRoom(t, storage.NewMemoryStore())
	p1, id1 := join(t, r, "alice")
	p2, _ := join(t, r, "bob")
	expect[protocol.Presence](t, p1)

	send(t, r, id1, protocol.SignalTo{TargetUserID: "bob", Signal: protocol.Offer("v=0")})
	sig := expect[protocol.Signal](t, p2)
	assert.Equal(t, "alice", sig.FromUserID)
	assert.Equal(t, protocol.SignalOffer, sig.Signal.Kind)
	assert.Equal(t, "v=0", sig.Signal.SDP)
	p1.expectNone(t)

	send(t, r, id1, protocol.SignalTo{TargetUserID: "carol", Signal: protocol.Answer("v=0")})
	unknown := expect[protocol.Error](t, p1)
	assert.Equal(t, protocol.CodeUnknownTarget, unknown.Code)
	assert.False(t, unknown.Fatal)

	send(t, r, id1, protocol.SignalTo{TargetUserID: "bob", Signal: protocol.SignalPayload{Kind: protocol.SignalOffer}})
	assert.Equal(t, protocol.CodeInvalidSignal, expect[protocol.Error](t, p1).Code)
}

func TestRoomLeave(t *testing.T) {
	r := newTestRoom(t, storage.NewMemoryStore())
	p1, _ := join(t, r, "alice")
	_, id2 := join(t, r, "bob")
	expect[protocol.Presence](t, p1)
	_, id3 := join(t, r, "bob")
	expect[protocol.Presence](t, p1)

	// bob still has a connection: no leave hook yet.
	r.Leave(id2)
	assert.Len(t, expect[protocol.Presence](t, p1).Users, 2)

	r.Leave(id3)
	presence := expect[protocol.Presence](t, p1)
	require.Len(t, presence.Users, 1)
	assert.Equal(t, "alice", presence.Users[0].UserID)

	view, _, err := r.View(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, view.Leaves)
	assert.Equal(t, 1, r.ConnectionCount())

	// Unknown ids are ignored.
	r.Leave("nope")
	p1.expectNone(t)
}

func TestRoomAlarm(t *testing.T) {
	r := newTestRoom(t, storage.NewMemoryStore())
	p1, id1 := join(t, r, "alice")

	act(t, r, id1, 1, counterAction{Type: "alarm", N: 10})
	expect[protocol.ActionOk](t, p1)

	delta := expect[protocol.Delta[counterDelta]](t, p1)
	assert.Equal(t, 100, delta.Delta.Add)
	assert.Equal(t, uint64(1), delta.Seq)

	// A cancelled alarm never fires; a replaced one fires once.
	act(t, r, id1, 2, counterAction{Type: "alarm", N: 200})
	expect[protocol.ActionOk](t, p1)
	act(t, r, id1, 3, counterAction{Type: "cancel"})
	expect[protocol.ActionOk](t, p1)

	act(t, r, id1, 4, counterAction{Type: "alarm", N: 300})
	expect[protocol.ActionOk](t, p1)
	act(t, r, id1, 5, counterAction{Type: "alarm", N: 10})
	expect[protocol.ActionOk](t, p1)

	assert.Equal(t, uint64(2), expect[protocol.Delta[counterDelta]](t, p1).Seq)
	select {
	case <-p1.frames:
		t.Fatal("replaced alarm fired")
	case <-time.After(400 * time.Millisecond):
	}
}

func TestRoomResnapshot(t *testing.T) {
	r := newTestRoom(t, storage.NewMemoryStore())
	p1, id1 := join(t, r, "alice")
	p2, _ := join(t, r, "bob")
	expect[protocol.Presence](t, p1)

	act(t, r, id1, 1, counterAction{Type: "add", N: 3})
	expect[protocol.Delta[counterDelta]](t, p1)
	expect[protocol.ActionOk](t, p1)
	expect[protocol.Delta[counterDelta]](t, p2)

	act(t, r, id1, 2, counterAction{Type: "reset"})
	snap := expect[protocol.Snapshot[counterView]](t, p2)
	assert.Equal(t, uint64(2), snap.Seq)
	assert.Equal(t, 0, snap.State.Count)
	assert.Equal(t, uint64(2), expect[protocol.Snapshot[counterView]](t, p1).Seq)
	expect[protocol.ActionOk](t, p1)
}

func TestRoomPersistence(t *testing.T) {
	store := storage.NewMemoryStore()

	hub := newTestHub(t, store)
	r, err := hub.Room("r1")
	require.NoError(t, err)
	p1, id1 := join(t, r, "alice")

	act(t, r, id1, 1, counterAction{Type: "add_each", N: 2})
	expect[protocol.Deltas[counterDelta]](t, p1)
	expect[protocol.ActionOk](t, p1)
	act(t, r, id1, 2, counterAction{Type: "id"})
	expect[protocol.ActionOk](t, p1)

	require.NoError(t, hub.Shutdown(context.Background()))
	fatal := expect[protocol.Error](t, p1)
	assert.Equal(t, protocol.CodeRoomClosed, fatal.Code)
	assert.True(t, fatal.Fatal)
	assert.Equal(t, websocket.StatusGoingAway, <-p1.closed)

	_, err = hub.Room("r1")
	assert.ErrorIs(t, err, ErrRoomClosed)

	// A fresh hub reads what the first one wrote.
	restarted := newTestRoom(t, store)
	view, seq, err := restarted.View(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, view.Count)
	assert.Equal(t, uint64(2), seq)

	p2, id2 := join(t, restarted, "alice")
	act(t, restarted, id2, 3, counterAction{Type: "id"})
	assert.EqualValues(t, 2, expect[protocol.ActionOk](t, p2).Result)
}

func TestRoomStorageFailure(t *testing.T) {
	store := &failingStore{Store: storage.NewMemoryStore()}
	r := newTestRoom(t, store)
	p1, id1 := join(t, r, "alice")

	store.arm(true)
	act(t, r, id1, 1, counterAction{Type: "add", N: 1})
	failure := expect[protocol.ActionErr](t, p1)
	assert.Equal(t, string(protocol.CodeStorage), failure.Code)
	p1.expectNone(t)

	store.arm(false)
	act(t, r, id1, 2, counterAction{Type: "add", N: 1})
	delta := expect[protocol.Delta[counterDelta]](t, p1)
	assert.Equal(t, uint64(1), delta.Seq)
	expect[protocol.ActionOk](t, p1)

	view, _, err := r.View(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, view.Count)
}

func TestRoomClosed(t *testing.T) {
	r := newTestRoom(t, storage.NewMemoryStore())
	require.NoError(t, r.Close(context.Background()))

	_, err := r.Join(context.Background(), newFakePeer(), User{ID: "late"})
	assert.ErrorIs(t, err, ErrRoomClosed)
	assert.ErrorIs(t, r.Deliver(context.Background(), "x", nil), ErrRoomClosed)
	_, _, err = r.View(context.Background())
	assert.ErrorIs(t, err, ErrRoomClosed)

	// Closing twice is fine.
	require.NoError(t, r.Close(context.Background()))
}

func TestRoomJoinCancelledBeforeShutdown(t *testing.T) {
	r := newTestRoom(t, storage.NewMemoryStore())

	// Hold the room goroutine so the join stays queued.
	release := make(chan struct{})
	held := make(chan struct{})
	go func() {
		_ = r.inspect(context.Background(), func() {
			close(held)
			<-release
		})
	}()
	<-held

	baseline := runtime.NumGoroutine()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := r.Join(ctx, newFakePeer(), User{ID: "slow"})
	require.ErrorIs(t, err, context.DeadlineExceeded)

	closed := make(chan error, 1)
	go func() { closed <- r.Close(context.Background()) }()
	close(release)
	require.NoError(t, <-closed)

	// The room loop and the held inspect call both exit; nothing replaces them.
	assert.Eventually(t, func() bool {
		return runtime.NumGoroutine() <= baseline-2
	}, time.Second, 5*time.Millisecond, "join cleanup must not outlive the room")
	assert.Zero(t, r.ConnectionCount())
}

func TestEffects(t *testing.T) {
	origin := &Member{UserID: "alice"}
	now := time.Unix(100, 0)
	fx := NewEffects[counterDelta, counterEvent](context.Background(), origin, now, 0, zaptest.NewLogger(t))

	m, ok := fx.Origin()
	assert.True(t, ok)
	assert.Equal(t, "alice", m.UserID)
	assert.Equal(t, now, fx.Now())

	assert.Equal(t, uint64(1), fx.NextID())
	assert.Equal(t, uint64(2), fx.NextID())
	assert.Equal(t, uint64(3), fx.PeekNextID())

	fx.Emit(counterDelta{Add: 1}, counterDelta{Add: 2})
	assert.Equal(t, uint64(2), fx.SeqAdvance())
	fx.Resnapshot()
	assert.Equal(t, uint64(3), fx.SeqAdvance())

	fx.SetAlarm(time.Second)
	fx.CancelAlarm()
	require.NotNil(t, fx.Alarm)
	assert.True(t, fx.Alarm.Cancel)

	alarm := NewEffects[counterDelta, counterEvent](context.Background(), nil, now, 7, nil)
	_, ok = alarm.Origin()
	assert.False(t, ok)
	assert.Equal(t, uint64(7), alarm.NextID())
}
