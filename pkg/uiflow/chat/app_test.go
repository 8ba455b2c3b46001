package chat

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsarna/uiflow/pkg/uiflow/room"
	"go.uber.org/zap/zaptest"
)

type effects = room.Effects[Delta, Event]

func newApp(t *testing.T, max int) *App {
	t.Helper()
	app, err := NewAppConfig().WithMaxMessages(max).Build()
	require.NoError(t, err)
	return app
}

func handle(t *testing.T, app *App, s *State, nextID uint64, a Action) (*effects, error) {
	t.Helper()
	m := room.Member{ConnectionID: "c1", UserID: "alice", UserName: "Alice"}
	fx := room.NewEffects[Delta, Event](context.Background(), &m, time.UnixMilli(1234), nextID, zaptest.NewLogger(t))
	return fx, app.Handle(fx, s, a)
}

func TestAppConfig(t *testing.T) {
	_, err := NewAppConfig().WithMaxMessages(0).Build()
	assert.Error(t, err)

	app, err := NewAppConfig().Build()
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxMessages, app.NewState().MaxMessages)
}

func TestCounter(t *testing.T) {
	app := newApp(t, 10)
	s := app.NewState()

	fx, err := handle(t, app, &s, 1, Decrement())
	require.NoError(t, err)
	assert.Equal(t, uint64(0), s.Counter)
	assert.Equal(t, []Delta{{Type: DeltaCounterChanged, Value: 0}}, fx.Deltas)

	for range 3 {
		_, err = handle(t, app, &s, 1, Increment())
		require.NoError(t, err)
	}
	fx, err = handle(t, app, &s, 1, Decrement())
	require.NoError(t, err)
	assert.Equal(t, uint64(2), s.Counter)
	assert.Equal(t, uint64(2), fx.Deltas[0].Value)

	s.Counter = ^uint64(0)
	_, err = handle(t, app, &s, 1, Increment())
	require.NoError(t, err)
	assert.Equal(t, ^uint64(0), s.Counter)
}

func TestSendMessageKeepsWindow(t *testing.T) {
	app := newApp(t, 3)
	s := app.NewState()
	mirror := app.View(&s)

	next := uint64(1)
	for i := range 5 {
		fx, err := handle(t, app, &s, next, SendMessage(fmt.Sprintf("  hello %d ", i)))
		require.NoError(t, err)
		require.Len(t, fx.Deltas, 1)
		assert.Equal(t, next, fx.Result)
		next = fx.PeekNextID()
		for _, d := range fx.Deltas {
			mirror.ApplyDelta(d)
		}
	}

	require.Len(t, s.Messages, 3)
	assert.Equal(t, "hello 2", s.Messages[0].Text)
	assert.Equal(t, uint64(3), s.Messages[0].ID)
	assert.Equal(t, uint64(5), s.Messages[2].ID)
	assert.Equal(t, "Alice", s.Messages[2].UserName)
	assert.Equal(t, uint64(1234), s.Messages[2].Timestamp)
	assert.Equal(t, app.View(&s), mirror)
}

func TestSendMessageValidation(t *testing.T) {
	app := newApp(t, 3)
	s := app.NewState()

	_, err := handle(t, app, &s, 1, SendMessage("   "))
	assert.EqualError(t, err, "Message is empty")

	long := make([]rune, MaxMessageLength+1)
	for i := range long {
		long[i] = 'é'
	}
	_, err = handle(t, app, &s, 1, SendMessage(string(long)))
	assert.Error(t, err)

	_, err = handle(t, app, &s, 1, Action{Type: "shout"})
	assert.EqualError(t, err, `Unknown action "shout"`)
	assert.Empty(t, s.Messages)
}

func TestTypingAndPresenceDeltas(t *testing.T) {
	app := newApp(t, 3)
	s := app.NewState()

	fx, err := handle(t, app, &s, 1, StartTyping())
	require.NoError(t, err)
	assert.Empty(t, fx.Deltas)
	assert.Equal(t, []room.Notification[Event]{{
		Domain: TypingDomain,
		Event:  Event{Type: EventUserTyping, UserID: "alice", UserName: "Alice"},
	}}, fx.Notifications)

	m := room.Member{UserID: "bob", UserName: "Bob"}
	fx = room.NewEffects[Delta, Event](context.Background(), &m, time.Now(), 1, nil)
	require.NoError(t, app.Join(fx, &s, m))
	require.NoError(t, app.Leave(fx, &s, m))
	assert.Equal(t, []Delta{
		{Type: DeltaUserJoined, UserID: "bob", UserName: "Bob"},
		{Type: DeltaUserLeft, UserID: "bob"},
	}, fx.Deltas)

	before := s
	s.ApplyDelta(fx.Deltas[0])
	assert.Equal(t, before, s)
}
