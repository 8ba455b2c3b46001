package memory

// DeltaType discriminates game deltas.
type DeltaType string

const (
	DeltaPlayerJoined  DeltaType = "player_joined"
	DeltaPlayerLeft    DeltaType = "player_left"
	DeltaConfigChanged DeltaType = "config_changed"
	DeltaHostChanged   DeltaType = "host_changed"
	DeltaCardsDealt    DeltaType = "cards_dealt"
	DeltaPlayerReady   DeltaType = "player_ready"
	DeltaGameStarted   DeltaType = "game_started"
	DeltaCardFlipped   DeltaType = "card_flipped"
	DeltaTurnChanged   DeltaType = "turn_changed"
	DeltaPairMatched   DeltaType = "pair_matched"
	DeltaCardsReset    DeltaType = "cards_reset"
	DeltaScoreChanged  DeltaType = "score_changed"
	DeltaGameEnded     DeltaType = "game_ended"
)

// Delta is a change broadcast to every client. Only the fields of Type are
// set.
type Delta struct {
	Type DeltaType `msgpack:"type"`

	UserID     string  `msgpack:"user_id,omitempty"`
	UserName   string  `msgpack:"user_name,omitempty"`
	Spectating bool    `msgpack:"spectating,omitempty"`
	JoinedAt   uint64  `msgpack:"joined_at,omitempty"`
	Host       *string `msgpack:"host,omitempty"`

	Config *Config `msgpack:"config,omitempty"`

	Cards        []HiddenCard `msgpack:"cards,omitempty"`
	AssetIDs     []string     `msgpack:"asset_ids,omitempty"`
	TotalPlayers int          `msgpack:"total_players,omitempty"`
	ReadyCount   int          `msgpack:"ready_count,omitempty"`
	TurnOrder    []string     `msgpack:"turn_order,omitempty"`

	Index     int     `msgpack:"index,omitempty"`
	Indices   []int   `msgpack:"indices,omitempty"`
	By        string  `msgpack:"by,omitempty"`
	ByName    string  `msgpack:"by_name,omitempty"`
	Face      *Face   `msgpack:"face,omitempty"`
	ForPlayer *string `msgpack:"for_player,omitempty"`
	Score     int     `msgpack:"score,omitempty"`

	Winner   *string   `msgpack:"winner,omitempty"`
	Rankings []Ranking `msgpack:"rankings,omitempty"`
}

// EventType discriminates game notifications.
type EventType string

const (
	EventMatchFound     EventType = "match_found"
	EventStreak         EventType = "streak"
	EventNearVictory    EventType = "near_victory"
	EventOwnCardFlipped EventType = "own_card_flipped"
	EventCardsReset     EventType = "cards_reset"
)

// Event is a notification. Public events go to PublicDomain; race reveals go
// to the flipping player on PrivateDomain and never consume a sequence
// number.
type Event struct {
	Type EventType `msgpack:"type"`

	PlayerName     string `msgpack:"player_name,omitempty"`
	PairName       string `msgpack:"pair_name,omitempty"`
	Count          int    `msgpack:"count,omitempty"`
	PairsRemaining int    `msgpack:"pairs_remaining,omitempty"`

	Index   int   `msgpack:"index,omitempty"`
	Indices []int `msgpack:"indices,omitempty"`
	Face    *Face `msgpack:"face,omitempty"`
}

// ActionType discriminates player actions.
type ActionType string

const (
	ActionJoinGame       ActionType = "join_game"
	ActionLeaveGame      ActionType = "leave_game"
	ActionSetConfig      ActionType = "set_config"
	ActionStartGame      ActionType = "start_game"
	ActionFlipCard       ActionType = "flip_card"
	ActionAckCardLoaded  ActionType = "ack_card_loaded"
	ActionReady          ActionType = "ready"
	ActionRequestRematch ActionType = "request_rematch"
	ActionResetGame      ActionType = "reset_game"
)

// Action is sent by players. Use the constructors below.
type Action struct {
	Type ActionType `msgpack:"type"`

	UserName    string    `msgpack:"user_name,omitempty"`
	Mode        *Mode     `msgpack:"mode,omitempty"`
	GridSize    *[2]uint8 `msgpack:"grid_size,omitempty"`
	FlipDelayMs *uint64   `msgpack:"flip_delay_ms,omitempty"`
	Index       int       `msgpack:"index,omitempty"`
}

func JoinGame(userName string) Action { return Action{Type: ActionJoinGame, UserName: userName} }

func LeaveGame() Action { return Action{Type: ActionLeaveGame} }

func StartGame() Action { return Action{Type: ActionStartGame} }

func Ready() Action { return Action{Type: ActionReady} }

func FlipCard(index int) Action { return Action{Type: ActionFlipCard, Index: index} }

func AckCardLoaded(index int) Action { return Action{Type: ActionAckCardLoaded, Index: index} }

func RequestRematch() Action { return Action{Type: ActionRequestRematch} }

func ResetGame() Action { return Action{Type: ActionResetGame} }

// SetConfig changes the settings given; nil fields are left alone.
func SetConfig(mode *Mode, grid *[2]uint8, flipDelayMs *uint64) Action {
	return Action{Type: ActionSetConfig, Mode: mode, GridSize: grid, FlipDelayMs: flipDelayMs}
}
