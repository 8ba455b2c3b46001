package cmd

import (
	"slices"

	"github.com/tsarna/uiflow/pkg/uiflow/memory"
)

// brain decides the next memory move from the mirrored view and every face
// it has seen so far.
type brain struct {
	me      string
	players int

	// seen maps card index to asset id.
	seen map[int]string
	// flips are race-mode cards this player has turned over privately.
	flips []int
	// acked holds face-up cards this player has already acknowledged.
	acked map[int]bool
	// played is set once the game reaches Playing.
	played bool
}

func newBrain(me string, players int) *brain {
	return &brain{
		me:      me,
		players: max(players, 1),
		seen:    map[int]string{},
		acked:   map[int]bool{},
	}
}

func (b *brain) observeView(v *memory.View) {
	for i, c := range v.Cards {
		if c.Face != nil {
			b.seen[i] = c.Face.AssetID
		}
	}
}

func (b *brain) observeDelta(d memory.Delta) {
	switch d.Type {
	case memory.DeltaCardsDealt:
		clear(b.seen)
		clear(b.acked)
		b.flips = nil
	case memory.DeltaGameStarted:
		b.played = true
	case memory.DeltaCardFlipped:
		if d.Face != nil {
			b.seen[d.Index] = d.Face.AssetID
		}
	case memory.DeltaPairMatched:
		for _, i := range d.Indices {
			delete(b.seen, i)
			delete(b.acked, i)
		}
	case memory.DeltaCardsReset:
		for _, i := range d.Indices {
			delete(b.acked, i)
		}
	}
}

func (b *brain) observeEvent(e memory.Event) {
	switch e.Type {
	case memory.EventOwnCardFlipped:
		if e.Face != nil {
			b.seen[e.Index] = e.Face.AssetID
		}
		b.flips = append(b.flips, e.Index)
		if len(b.flips) >= 2 {
			// The server resolves the pair on the second flip.
			b.flips = nil
		}
	case memory.EventCardsReset:
		b.flips = slices.DeleteFunc(b.flips, func(i int) bool { return slices.Contains(e.Indices, i) })
	}
}

// reset forgets per-connection state after a reconnect.
func (b *brain) reset() {
	clear(b.acked)
	b.flips = nil
}

// next returns the action to send, if any.
func (b *brain) next(v *memory.View) (memory.Action, bool) {
	if _, joined := v.Player(b.me); !joined {
		return memory.Action{}, false
	}
	b.observeView(v)

	switch v.Phase.Kind {
	case memory.PhaseLobby:
		if v.Host != nil && *v.Host == b.me && b.activePlayers(v) >= b.players {
			return memory.StartGame(), true
		}
	case memory.PhaseLoading:
		if slices.Contains(v.TurnOrder, b.me) && !slices.Contains(v.Phase.ReadyPlayers, b.me) {
			return memory.Ready(), true
		}
	case memory.PhasePlaying:
		b.played = true
		if v.Config.Mode == memory.Race {
			return b.nextRace(v)
		}
		return b.nextTurn(v)
	}
	return memory.Action{}, false
}

func (b *brain) nextTurn(v *memory.View) (memory.Action, bool) {
	var faceUp []int
	for i, c := range v.Cards {
		if c.Face != nil && !c.Matched {
			faceUp = append(faceUp, i)
		}
	}
	for i := range b.acked {
		if !slices.Contains(faceUp, i) {
			delete(b.acked, i)
		}
	}
	for _, i := range faceUp {
		if !b.acked[i] {
			b.acked[i] = true
			return memory.AckCardLoaded(i), true
		}
	}

	if current, ok := v.CurrentPlayer(); !ok || current != b.me || len(faceUp) >= 2 {
		return memory.Action{}, false
	}
	return b.pick(v.Hidden(), faceUp)
}

func (b *brain) nextRace(v *memory.View) (memory.Action, bool) {
	if !slices.Contains(v.TurnOrder, b.me) {
		return memory.Action{}, false
	}
	b.flips = slices.DeleteFunc(b.flips, func(i int) bool {
		return i < 0 || i >= len(v.Cards) || v.Cards[i].Matched
	})

	var candidates []int
	for i, c := range v.Cards {
		if !c.Matched && !slices.Contains(b.flips, i) {
			candidates = append(candidates, i)
		}
	}
	return b.pick(candidates, b.flips)
}

// pick chooses a card from candidates given the cards already up this turn.
// Known pairs come first, then cards never seen, then anything.
func (b *brain) pick(candidates, up []int) (memory.Action, bool) {
	if len(candidates) == 0 {
		return memory.Action{}, false
	}

	if len(up) == 1 {
		if asset, ok := b.seen[up[0]]; ok {
			for _, i := range candidates {
				if b.seen[i] == asset {
					return memory.FlipCard(i), true
				}
			}
		}
	} else if first, _, ok := b.knownPair(candidates); ok {
		return memory.FlipCard(first), true
	}

	for _, i := range candidates {
		if _, known := b.seen[i]; !known {
			return memory.FlipCard(i), true
		}
	}
	return memory.FlipCard(candidates[0]), true
}

func (b *brain) knownPair(candidates []int) (int, int, bool) {
	byAsset := map[string]int{}
	for _, i := range candidates {
		asset, ok := b.seen[i]
		if !ok {
			continue
		}
		if j, found := byAsset[asset]; found {
			return j, i, true
		}
		byAsset[asset] = i
	}
	return 0, 0, false
}

func (b *brain) activePlayers(v *memory.View) int {
	n := 0
	for _, p := range v.Players {
		if !p.Spectating {
			n++
		}
	}
	return n
}

// finished reports whether a game this player took part in has ended.
func (b *brain) finished(v *memory.View) bool {
	return b.played && v.Phase.Kind == memory.PhaseFinished
}
