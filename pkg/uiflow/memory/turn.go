package memory

// TurnKind names a step of a turn-taking turn.
type TurnKind string

const (
	TurnAwaitingFirst TurnKind = "awaiting_first"
	TurnFirstFlipped  TurnKind = "first_flipped"
	TurnSecondFlipped TurnKind = "second_flipped"
	TurnBothReady     TurnKind = "both_ready"
)

// TurnState tracks the two flips of a turn and whether every client has
// loaded their images. A turn resolves only once both are acknowledged.
type TurnState struct {
	Kind TurnKind `msgpack:"kind"`

	First       int  `msgpack:"first"`
	Second      int  `msgpack:"second"`
	FirstAcked  bool `msgpack:"first_acked,omitempty"`
	SecondAcked bool `msgpack:"second_acked,omitempty"`

	IsMatch bool   `msgpack:"is_match,omitempty"`
	ReadyAt uint64 `msgpack:"ready_at,omitempty"`
}

// AwaitingFirst is the state at the start of every turn.
func AwaitingFirst() TurnState {
	return TurnState{Kind: TurnAwaitingFirst}
}

// OnFlip returns the state after flipping index, or false if no flip is
// allowed now.
func (t TurnState) OnFlip(index int) (TurnState, bool) {
	switch t.Kind {
	case TurnAwaitingFirst:
		return TurnState{Kind: TurnFirstFlipped, First: index}, true
	case TurnFirstFlipped:
		if index == t.First {
			return t, false
		}
		return TurnState{
			Kind:       TurnSecondFlipped,
			First:      t.First,
			Second:     index,
			FirstAcked: t.FirstAcked,
		}, true
	default:
		return t, false
	}
}

// OnAck records that index has loaded. Once both flipped cards are
// acknowledged the state becomes BothReady with isMatch and now.
func (t TurnState) OnAck(index int, isMatch bool, now uint64) TurnState {
	switch t.Kind {
	case TurnFirstFlipped:
		if index == t.First {
			t.FirstAcked = true
		}
		return t
	case TurnSecondFlipped:
		first := t.FirstAcked || index == t.First
		second := t.SecondAcked || index == t.Second
		if first && second {
			return TurnState{
				Kind:    TurnBothReady,
				First:   t.First,
				Second:  t.Second,
				IsMatch: isMatch,
				ReadyAt: now,
			}
		}
		t.FirstAcked = first
		t.SecondAcked = second
		return t
	default:
		return t
	}
}

// FaceUp lists the cards this turn has revealed.
func (t TurnState) FaceUp() []int {
	switch t.Kind {
	case TurnFirstFlipped:
		return []int{t.First}
	case TurnSecondFlipped, TurnBothReady:
		return []int{t.First, t.Second}
	default:
		return nil
	}
}

// PendingReset reports whether the turn is waiting for the flip-back alarm.
func (t TurnState) PendingReset() bool {
	return t.Kind == TurnBothReady && !t.IsMatch
}
