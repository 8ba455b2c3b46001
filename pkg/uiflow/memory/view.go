package memory

import "slices"

// PlayerView is a player as every client sees it.
type PlayerView struct {
	UserID     string `msgpack:"user_id"`
	UserName   string `msgpack:"user_name"`
	Score      int    `msgpack:"score"`
	Spectating bool   `msgpack:"spectating"`
	JoinedAt   uint64 `msgpack:"joined_at"`
}

// CardView is a card as every client sees it. Face is set while the card is
// turned up on the shared board.
type CardView struct {
	CardID    string  `msgpack:"card_id"`
	Matched   bool    `msgpack:"matched"`
	MatchedBy *string `msgpack:"matched_by,omitempty"`
	Face      *Face   `msgpack:"face,omitempty"`
}

// View is the public projection of State. It is what snapshots carry, and a
// client keeps it current by applying every delta in order.
type View struct {
	Config      Config       `msgpack:"config"`
	Phase       Phase        `msgpack:"phase"`
	Players     []PlayerView `msgpack:"players,omitempty"`
	Cards       []CardView   `msgpack:"cards,omitempty"`
	TurnOrder   []string     `msgpack:"turn_order,omitempty"`
	CurrentTurn int          `msgpack:"current_turn"`
	Host        *string      `msgpack:"host,omitempty"`
}

func (g *Game) View(s *State) View {
	return NewView(s)
}

// NewView projects s. Private race flips and unrevealed faces are left out.
func NewView(s *State) View {
	v := View{
		Config:      publicConfig(s.Config),
		Phase:       s.Phase,
		TurnOrder:   slices.Clone(s.TurnOrder),
		CurrentTurn: s.CurrentTurn,
		Host:        s.Host,
	}
	v.Phase.ReadyPlayers = slices.Clone(s.Phase.ReadyPlayers)
	v.Phase.Rankings = slices.Clone(s.Phase.Rankings)

	for _, id := range s.JoinOrder {
		p, ok := s.Players[id]
		if !ok {
			continue
		}
		v.Players = append(v.Players, PlayerView{
			UserID:     p.UserID,
			UserName:   p.UserName,
			Score:      p.Score,
			Spectating: p.Spectating,
			JoinedAt:   p.JoinedAt,
		})
	}

	var faceUp []int
	if s.Phase.Kind == PhasePlaying && s.Config.Mode == TurnTaking {
		faceUp = s.TurnState.FaceUp()
	}
	for i, c := range s.Cards {
		cv := CardView{CardID: c.CardID, Matched: c.Matched, MatchedBy: c.MatchedBy}
		if c.Matched || slices.Contains(faceUp, i) {
			face := c.Face()
			cv.Face = &face
		}
		v.Cards = append(v.Cards, cv)
	}
	return v
}

// Player returns the player with userID.
func (v *View) Player(userID string) (*PlayerView, bool) {
	for i := range v.Players {
		if v.Players[i].UserID == userID {
			return &v.Players[i], true
		}
	}
	return nil, false
}

// CurrentPlayer is the user whose turn it is, if any.
func (v *View) CurrentPlayer() (string, bool) {
	if v.CurrentTurn < 0 || v.CurrentTurn >= len(v.TurnOrder) {
		return "", false
	}
	return v.TurnOrder[v.CurrentTurn], true
}

// Hidden lists the indices of cards that are neither matched nor face up.
func (v *View) Hidden() []int {
	var hidden []int
	for i, c := range v.Cards {
		if !c.Matched && c.Face == nil {
			hidden = append(hidden, i)
		}
	}
	return hidden
}

// ApplyDelta folds d into the view.
func (v *View) ApplyDelta(d Delta) {
	switch d.Type {
	case DeltaPlayerJoined:
		if p, ok := v.Player(d.UserID); ok {
			p.UserName = d.UserName
			return
		}
		v.Players = append(v.Players, PlayerView{
			UserID:     d.UserID,
			UserName:   d.UserName,
			Spectating: d.Spectating,
			JoinedAt:   d.JoinedAt,
		})

	case DeltaPlayerLeft:
		v.Players = slices.DeleteFunc(v.Players, func(p PlayerView) bool { return p.UserID == d.UserID })
		if idx := indexOf(v.TurnOrder, d.UserID); idx >= 0 {
			v.TurnOrder = without(v.TurnOrder, d.UserID)
			if idx < v.CurrentTurn {
				v.CurrentTurn--
			}
			if v.CurrentTurn >= len(v.TurnOrder) {
				v.CurrentTurn = 0
			}
			if v.Phase.Kind == PhaseLoading {
				v.Phase.ReadyPlayers = without(v.Phase.ReadyPlayers, d.UserID)
				v.Phase.TotalPlayers--
			}
		}

	case DeltaConfigChanged:
		if d.Config != nil {
			v.Config = publicConfig(*d.Config)
		}

	case DeltaHostChanged:
		v.Host = d.Host

	case DeltaCardsDealt:
		v.Cards = make([]CardView, len(d.Cards))
		for i, c := range d.Cards {
			v.Cards[i] = CardView{CardID: c.CardID, Matched: c.Matched, MatchedBy: c.MatchedBy}
		}
		v.TurnOrder = slices.Clone(d.TurnOrder)
		v.CurrentTurn = 0
		v.Phase = Loading(d.TotalPlayers)
		for i := range v.Players {
			v.Players[i].Score = 0
		}

	case DeltaPlayerReady:
		if !v.Phase.isReady(d.UserID) {
			v.Phase.ReadyPlayers = append(v.Phase.ReadyPlayers, d.UserID)
		}

	case DeltaGameStarted:
		v.Phase = Playing()
		v.TurnOrder = slices.Clone(d.TurnOrder)
		v.CurrentTurn = 0

	case DeltaCardFlipped:
		if c := v.card(d.Index); c != nil {
			c.Face = d.Face
		}

	case DeltaTurnChanged:
		if idx := indexOf(v.TurnOrder, d.UserID); idx >= 0 {
			v.CurrentTurn = idx
		}

	case DeltaPairMatched:
		for _, i := range d.Indices {
			if c := v.card(i); c != nil {
				c.Matched = true
				c.MatchedBy = stringPtr(d.By)
				c.Face = d.Face
			}
		}
		if p, ok := v.Player(d.By); ok {
			p.Score = d.Score
		}

	case DeltaCardsReset:
		for _, i := range d.Indices {
			if c := v.card(i); c != nil && !c.Matched {
				c.Face = nil
			}
		}

	case DeltaScoreChanged:
		if p, ok := v.Player(d.UserID); ok {
			p.Score = d.Score
		}

	case DeltaGameEnded:
		v.Phase = Finished(d.Winner, d.Rankings)
	}
}

func (v *View) card(index int) *CardView {
	if index < 0 || index >= len(v.Cards) {
		return nil
	}
	return &v.Cards[index]
}
