package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tsarna/uiflow/pkg/uiflow/room"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap/zaptest"
)

const testSeed = 42

type effects = room.Effects[Delta, Event]

// harness drives a Game without a room. After every committed hook it checks
// that a view rebuilt from the emitted deltas equals the projected state.
type harness struct {
	t      *testing.T
	game   *Game
	state  State
	view   View
	now    time.Time
	nextID uint64
	alarm  *room.AlarmChange
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	game, err := NewGameConfig().
		WithDefaults(cfg).
		WithSeeder(func() uint64 { return testSeed }).
		Build()
	require.NoError(t, err)

	h := &harness{
		t:      t,
		game:   game,
		now:    time.UnixMilli(1_700_000_000_000),
		nextID: 1,
	}
	h.state = game.NewState()
	h.view = roundTrip(t, game.View(&h.state))
	return h
}

func smallConfig(mode Mode) Config {
	cfg := DefaultConfig()
	cfg.GridSize = [2]uint8{4, 4}
	cfg.Mode = mode
	return cfg
}

func member(userID string) room.Member {
	return room.Member{ConnectionID: "conn-" + userID, UserID: userID, UserName: "Name " + userID}
}

func (h *harness) newEffects(origin *room.Member) *effects {
	return room.NewEffects[Delta, Event](context.Background(), origin, h.now, h.nextID, zaptest.NewLogger(h.t))
}

// run executes hook like a room would: a failed hook leaves no trace.
func (h *harness) run(origin *room.Member, hook func(Tx, *State) error) (*effects, error) {
	h.t.Helper()
	saved := roundTrip(h.t, h.state)
	fx := h.newEffects(origin)
	if err := hook(fx, &h.state); err != nil {
		h.state = saved
		return fx, err
	}

	if fx.Snapshot {
		h.view = roundTrip(h.t, h.game.View(&h.state))
	} else {
		for _, d := range fx.Deltas {
			h.view.ApplyDelta(roundTrip(h.t, d))
		}
	}
	if fx.Alarm != nil {
		h.alarm = fx.Alarm
		if fx.Alarm.Cancel {
			h.alarm = nil
		}
	}
	h.nextID = fx.PeekNextID()

	require.Equal(h.t, roundTrip(h.t, h.game.View(&h.state)), roundTrip(h.t, h.view),
		"reconstructed view diverged from state")
	return fx, nil
}

func (h *harness) do(userID string, a Action) (*effects, error) {
	h.t.Helper()
	m := member(userID)
	return h.run(&m, func(tx Tx, s *State) error { return h.game.Handle(tx, s, a) })
}

func (h *harness) must(userID string, a Action) *effects {
	h.t.Helper()
	fx, err := h.do(userID, a)
	require.NoError(h.t, err, "action %s by %s", a.Type, userID)
	return fx
}

func (h *harness) reject(userID string, a Action, message string) {
	h.t.Helper()
	fx, err := h.do(userID, a)
	require.Error(h.t, err)
	var ae *room.ActionError
	require.True(h.t, errors.As(err, &ae))
	require.Equal(h.t, message, ae.Message)
	require.Empty(h.t, fx.Deltas)
}

func (h *harness) leave(userID string) *effects {
	h.t.Helper()
	m := member(userID)
	fx, err := h.run(&m, func(tx Tx, s *State) error { return h.game.Leave(tx, s, m) })
	require.NoError(h.t, err)
	return fx
}

func (h *harness) fireAlarm() *effects {
	h.t.Helper()
	require.NotNil(h.t, h.alarm, "no alarm pending")
	h.now = h.now.Add(h.alarm.After)
	h.alarm = nil
	fx, err := h.run(nil, h.game.Alarm)
	require.NoError(h.t, err)
	return fx
}

// start seats players in the lobby, deals and readies everyone.
func (h *harness) start(players ...string) {
	h.t.Helper()
	for _, p := range players {
		h.must(p, JoinGame("Name "+p))
	}
	h.must(players[0], StartGame())
	for _, p := range players {
		h.must(p, Ready())
	}
	require.Equal(h.t, PhasePlaying, h.state.Phase.Kind)
}

func (h *harness) current() string {
	h.t.Helper()
	id, ok := h.state.CurrentPlayer()
	require.True(h.t, ok)
	return id
}

// matching returns the indices of an unmatched pair.
func (h *harness) matching() (int, int) {
	h.t.Helper()
	seen := map[uint8]int{}
	for i, c := range h.state.Cards {
		if c.Matched {
			continue
		}
		if j, ok := seen[c.PairID]; ok {
			return j, i
		}
		seen[c.PairID] = i
	}
	h.t.Fatal("no unmatched pair left")
	return 0, 0
}

// mismatching returns two unmatched cards of different pairs.
func (h *harness) mismatching() (int, int) {
	h.t.Helper()
	first := -1
	for i, c := range h.state.Cards {
		if c.Matched {
			continue
		}
		if first < 0 {
			first = i
			continue
		}
		if c.PairID != h.state.Cards[first].PairID {
			return first, i
		}
	}
	h.t.Fatal("no mismatching cards left")
	return 0, 0
}

// turn flips and acknowledges two cards as the current player.
func (h *harness) turn(a, b int) *effects {
	h.t.Helper()
	p := h.current()
	h.must(p, FlipCard(a))
	h.must(p, AckCardLoaded(a))
	h.must(p, FlipCard(b))
	return h.must(p, AckCardLoaded(b))
}

func roundTrip[T any](t *testing.T, v T) T {
	t.Helper()
	data, err := msgpack.Marshal(&v)
	require.NoError(t, err)
	var out T
	require.NoError(t, msgpack.Unmarshal(data, &out))
	return out
}

func deltaTypes(fx *effects) []DeltaType {
	var types []DeltaType
	for _, d := range fx.Deltas {
		types = append(types, d.Type)
	}
	return types
}

func eventTypes(fx *effects) []EventType {
	var types []EventType
	for _, n := range fx.Notifications {
		types = append(types, n.Event.Type)
	}
	return types
}
