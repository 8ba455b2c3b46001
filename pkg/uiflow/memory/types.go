package memory

// Mode selects how players take cards.
type Mode string

const (
	// TurnTaking lets one player flip at a time; a match keeps the turn.
	TurnTaking Mode = "turn_taking"
	// Race lets every player flip concurrently with private reveals.
	Race Mode = "race"
)

// IsValid reports whether m is a known mode.
func (m Mode) IsValid() bool {
	return m == TurnTaking || m == Race
}

const (
	DefaultPolicyID    = "b3dab69f7e6100849434fb1781e34bd12a916557f6231b8d2629b6f6"
	DefaultFlipDelayMs = 1200
	DefaultMinPlayers  = 1
	DefaultMaxPlayers  = 8

	// PublicDomain carries game-wide events.
	PublicDomain = "game"
	// PrivateDomain carries reveals meant for a single player.
	PrivateDomain = "private"

	maxCells = 2 * 255
)

// Config holds the settings chosen in the lobby.
type Config struct {
	GridSize    [2]uint8 `msgpack:"grid_size"`
	Mode        Mode     `msgpack:"mode"`
	PolicyID    string   `msgpack:"policy_id"`
	FlipDelayMs uint64   `msgpack:"flip_delay_ms"`
	ShuffleSeed uint64   `msgpack:"shuffle_seed"`
}

// DefaultConfig is a 6x6 turn-taking game.
func DefaultConfig() Config {
	return Config{
		GridSize:    [2]uint8{6, 6},
		Mode:        TurnTaking,
		PolicyID:    DefaultPolicyID,
		FlipDelayMs: DefaultFlipDelayMs,
	}
}

// Cells is the number of cards on the board.
func (c Config) Cells() int {
	return int(c.GridSize[0]) * int(c.GridSize[1])
}

// Pairs is the number of distinct faces on the board.
func (c Config) Pairs() int {
	return c.Cells() / 2
}

// ValidGrid reports whether a board of cols x rows can be dealt.
func ValidGrid(grid [2]uint8) bool {
	cells := int(grid[0]) * int(grid[1])
	return cells > 0 && cells%2 == 0 && cells <= maxCells
}

// PhaseKind names a game phase.
type PhaseKind string

const (
	PhaseLobby    PhaseKind = "lobby"
	PhaseStarting PhaseKind = "starting"
	PhaseLoading  PhaseKind = "loading"
	PhasePlaying  PhaseKind = "playing"
	PhaseFinished PhaseKind = "finished"
)

// Phase is the game phase with the fields of its kind. The game deals
// straight from the lobby, so Starting is only ever seen from older peers.
type Phase struct {
	Kind PhaseKind `msgpack:"kind"`

	MinPlayers int `msgpack:"min_players,omitempty"`
	MaxPlayers int `msgpack:"max_players,omitempty"`

	Countdown int `msgpack:"countdown,omitempty"`

	ReadyPlayers []string `msgpack:"ready_players,omitempty"`
	TotalPlayers int      `msgpack:"total_players,omitempty"`

	Winner   *string   `msgpack:"winner,omitempty"`
	Rankings []Ranking `msgpack:"rankings,omitempty"`
}

// Lobby is the phase before cards are dealt.
func Lobby() Phase {
	return Phase{Kind: PhaseLobby, MinPlayers: DefaultMinPlayers, MaxPlayers: DefaultMaxPlayers}
}

// Loading waits for every player to report its images ready.
func Loading(totalPlayers int) Phase {
	return Phase{Kind: PhaseLoading, TotalPlayers: totalPlayers}
}

// Playing is the phase in which cards can be flipped.
func Playing() Phase {
	return Phase{Kind: PhasePlaying}
}

// Finished holds the final standings.
func Finished(winner *string, rankings []Ranking) Phase {
	return Phase{Kind: PhaseFinished, Winner: winner, Rankings: rankings}
}

func (p Phase) isReady(userID string) bool {
	for _, id := range p.ReadyPlayers {
		if id == userID {
			return true
		}
	}
	return false
}

// Ranking is one line of the final standings.
type Ranking struct {
	UserID string `msgpack:"user_id"`
	Name   string `msgpack:"name"`
	Score  int    `msgpack:"score"`
}

// Card is a card on the board. Two cards share each PairID.
type Card struct {
	CardID    string  `msgpack:"card_id"`
	PairID    uint8   `msgpack:"pair_id"`
	AssetID   string  `msgpack:"asset_id"`
	Name      string  `msgpack:"name"`
	Matched   bool    `msgpack:"matched"`
	MatchedBy *string `msgpack:"matched_by,omitempty"`
}

// Face is what a revealed card shows.
type Face struct {
	AssetID string `msgpack:"asset_id"`
	Name    string `msgpack:"name"`
}

// Face returns the revealed side of c.
func (c Card) Face() Face {
	return Face{AssetID: c.AssetID, Name: c.Name}
}

// HiddenCard is a card as dealt to clients, without its face.
type HiddenCard struct {
	CardID    string  `msgpack:"card_id"`
	Matched   bool    `msgpack:"matched"`
	MatchedBy *string `msgpack:"matched_by,omitempty"`
}

// Hidden strips the face from c.
func (c Card) Hidden() HiddenCard {
	return HiddenCard{CardID: c.CardID, Matched: c.Matched, MatchedBy: c.MatchedBy}
}

// Player is a participant or spectator. Flipped holds the indices a race
// player has turned over but not yet resolved.
type Player struct {
	UserID     string `msgpack:"user_id"`
	UserName   string `msgpack:"user_name"`
	Score      int    `msgpack:"score"`
	Flipped    []int  `msgpack:"flipped,omitempty"`
	Spectating bool   `msgpack:"spectating"`
	JoinedAt   uint64 `msgpack:"joined_at"`
}

// State is the authoritative game state.
type State struct {
	Config      Config             `msgpack:"config"`
	Phase       Phase              `msgpack:"phase"`
	Players     map[string]*Player `msgpack:"players,omitempty"`
	JoinOrder   []string           `msgpack:"join_order,omitempty"`
	Cards       []Card             `msgpack:"cards,omitempty"`
	TurnOrder   []string           `msgpack:"turn_order,omitempty"`
	CurrentTurn int                `msgpack:"current_turn"`
	TurnState   TurnState          `msgpack:"turn_state"`
	Host        *string            `msgpack:"host,omitempty"`
	Streak      int                `msgpack:"streak"`
}

// NewState returns an empty lobby with cfg.
func NewState(cfg Config) State {
	return State{
		Config:    cfg,
		Phase:     Lobby(),
		Players:   map[string]*Player{},
		TurnState: AwaitingFirst(),
	}
}

// CurrentPlayer is the user whose turn it is, if any.
func (s *State) CurrentPlayer() (string, bool) {
	if s.CurrentTurn < 0 || s.CurrentTurn >= len(s.TurnOrder) {
		return "", false
	}
	return s.TurnOrder[s.CurrentTurn], true
}

// AllMatched reports whether the board has been cleared.
func (s *State) AllMatched() bool {
	if len(s.Cards) == 0 {
		return false
	}
	for _, c := range s.Cards {
		if !c.Matched {
			return false
		}
	}
	return true
}

// RemainingPairs counts pairs not yet matched.
func (s *State) RemainingPairs() int {
	n := 0
	for _, c := range s.Cards {
		if !c.Matched {
			n++
		}
	}
	return n / 2
}

// activePlayers returns the non-spectators in join order.
func (s *State) activePlayers() []*Player {
	var players []*Player
	for _, id := range s.JoinOrder {
		if p, ok := s.Players[id]; ok && !p.Spectating {
			players = append(players, p)
		}
	}
	return players
}

func indexOf(ids []string, id string) int {
	for i, v := range ids {
		if v == id {
			return i
		}
	}
	return -1
}

func without(ids []string, id string) []string {
	var kept []string
	for _, v := range ids {
		if v != id {
			kept = append(kept, v)
		}
	}
	return kept
}

func stringPtr(s string) *string {
	return &s
}
