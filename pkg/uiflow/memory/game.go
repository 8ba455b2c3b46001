package memory

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/tsarna/uiflow/pkg/uiflow/protocol"
	"github.com/tsarna/uiflow/pkg/uiflow/room"
	"go.uber.org/zap"
)

// Tx is the transaction a game hook records its effects on.
type Tx = room.Tx[Delta, Event]

// GameConfig holds the configuration for creating a Game.
// Use NewGameConfig() to create a new configuration and chain methods
// to set the parameters before calling Build().
type GameConfig struct {
	defaults Config
	assets   AssetSource
	seeder   func() uint64
}

// NewGameConfig creates a GameConfig with the default board and synthetic
// assets.
//
//	game, err := memory.NewGameConfig().
//	    WithDefaults(cfg).
//	    WithAssets(memory.StaticAssets(names)).
//	    Build()
func NewGameConfig() *GameConfig {
	return &GameConfig{
		defaults: DefaultConfig(),
		assets:   SyntheticAssets{},
		seeder:   rand.Uint64,
	}
}

// WithDefaults sets the settings a new or reset room starts with.
func (c *GameConfig) WithDefaults(cfg Config) *GameConfig {
	c.defaults = cfg
	return c
}

// WithAssets sets where card faces come from.
func (c *GameConfig) WithAssets(assets AssetSource) *GameConfig {
	c.assets = assets
	return c
}

// WithSeeder sets the source of shuffle seeds.
func (c *GameConfig) WithSeeder(seeder func() uint64) *GameConfig {
	c.seeder = seeder
	return c
}

// Build validates the configuration and creates the Game.
func (c *GameConfig) Build() (*Game, error) {
	if !c.defaults.Mode.IsValid() {
		return nil, fmt.Errorf("invalid game mode %q", c.defaults.Mode)
	}
	if !ValidGrid(c.defaults.GridSize) {
		return nil, fmt.Errorf("invalid grid size %dx%d", c.defaults.GridSize[0], c.defaults.GridSize[1])
	}
	if c.assets == nil || c.seeder == nil {
		return nil, errors.New("invalid game configuration, missing asset source or seeder")
	}
	return &Game{config: *c}, nil
}

// Game is the memory-matching game, hosted by a room.
type Game struct {
	config GameConfig
}

var _ room.Application[State, View, Delta, Event, Action] = (*Game)(nil)

func (g *Game) NewState() State {
	return NewState(g.config.defaults)
}

// Join re-arms a pending flip-back, since alarms do not survive a restart.
func (g *Game) Join(tx Tx, s *State, _ room.Member) error {
	if s.Phase.Kind == PhasePlaying && s.TurnState.PendingReset() {
		tx.SetAlarm(g.flipBackIn(s, tx.Now()))
	}
	return nil
}

// Leave removes the player once their last connection is gone.
func (g *Game) Leave(tx Tx, s *State, m room.Member) error {
	g.removePlayer(tx, s, m.UserID)
	return nil
}

func (g *Game) Alarm(tx Tx, s *State) error {
	if s.Phase.Kind != PhasePlaying || !s.TurnState.PendingReset() {
		tx.Logger().Debug("Ignoring stale flip-back alarm", zap.String("turn_state", string(s.TurnState.Kind)))
		return nil
	}
	g.flipBack(tx, s)
	return nil
}

func (g *Game) Handle(tx Tx, s *State, a Action) error {
	origin, ok := tx.Origin()
	if !ok {
		return room.Reject("Action has no sender")
	}

	switch a.Type {
	case ActionJoinGame:
		name := a.UserName
		if name == "" {
			name = origin.UserName
		}
		g.joinGame(tx, s, origin.UserID, name)
		return nil
	case ActionLeaveGame:
		g.removePlayer(tx, s, origin.UserID)
		return nil
	case ActionSetConfig:
		return g.setConfig(tx, s, origin.UserID, a)
	case ActionStartGame:
		return g.startGame(tx, s)
	case ActionReady:
		return g.ready(tx, s, origin.UserID)
	case ActionFlipCard:
		return g.flipCard(tx, s, origin.UserID, a.Index)
	case ActionAckCardLoaded:
		return g.ackCardLoaded(tx, s, a.Index)
	case ActionRequestRematch:
		return g.requestRematch(tx, s, origin.UserID)
	case ActionResetGame:
		*s = g.NewState()
		tx.CancelAlarm()
		tx.Resnapshot()
		tx.Logger().Info("Game state reset", zap.String("user_id", origin.UserID))
		return nil
	default:
		return room.Rejectf("Unknown action %q", a.Type)
	}
}

func (g *Game) joinGame(tx Tx, s *State, userID, name string) {
	if p, ok := s.Players[userID]; ok {
		p.UserName = name
		tx.Emit(Delta{
			Type:       DeltaPlayerJoined,
			UserID:     userID,
			UserName:   name,
			Spectating: p.Spectating,
			JoinedAt:   p.JoinedAt,
		})
		return
	}

	maxPlayers := s.Phase.MaxPlayers
	if maxPlayers == 0 {
		maxPlayers = DefaultMaxPlayers
	}
	p := &Player{
		UserID:     userID,
		UserName:   name,
		Spectating: s.Phase.Kind != PhaseLobby || len(s.activePlayers()) >= maxPlayers,
		JoinedAt:   protocol.Millis(tx.Now()),
	}
	if s.Players == nil {
		s.Players = map[string]*Player{}
	}
	s.Players[userID] = p
	s.JoinOrder = append(s.JoinOrder, userID)

	tx.Emit(Delta{
		Type:       DeltaPlayerJoined,
		UserID:     userID,
		UserName:   name,
		Spectating: p.Spectating,
		JoinedAt:   p.JoinedAt,
	})

	if s.Host == nil {
		s.Host = stringPtr(userID)
		tx.Emit(Delta{Type: DeltaHostChanged, Host: stringPtr(userID)})
	}
}

func (g *Game) removePlayer(tx Tx, s *State, userID string) {
	if _, ok := s.Players[userID]; !ok {
		return
	}

	idx := indexOf(s.TurnOrder, userID)
	heldTurn := s.Phase.Kind == PhasePlaying && s.Config.Mode == TurnTaking &&
		idx >= 0 && idx == s.CurrentTurn

	if heldTurn && s.TurnState.Kind != TurnAwaitingFirst {
		var faceUp []int
		for _, i := range s.TurnState.FaceUp() {
			if !s.Cards[i].Matched {
				faceUp = append(faceUp, i)
			}
		}
		if len(faceUp) > 0 {
			tx.Emit(Delta{Type: DeltaCardsReset, Indices: faceUp})
		}
		s.TurnState = AwaitingFirst()
		tx.CancelAlarm()
	}
	if heldTurn {
		s.Streak = 0
	}

	delete(s.Players, userID)
	s.JoinOrder = without(s.JoinOrder, userID)
	if idx >= 0 {
		s.TurnOrder = without(s.TurnOrder, userID)
		if idx < s.CurrentTurn {
			s.CurrentTurn--
		}
		if s.CurrentTurn >= len(s.TurnOrder) {
			s.CurrentTurn = 0
		}
		if s.Phase.Kind == PhaseLoading {
			s.Phase.ReadyPlayers = without(s.Phase.ReadyPlayers, userID)
			s.Phase.TotalPlayers--
		}
	}
	tx.Emit(Delta{Type: DeltaPlayerLeft, UserID: userID})

	if s.Host != nil && *s.Host == userID {
		s.Host = nil
		if len(s.JoinOrder) > 0 {
			s.Host = stringPtr(s.JoinOrder[0])
		}
		tx.Emit(Delta{Type: DeltaHostChanged, Host: s.Host})
	}

	switch {
	case (s.Phase.Kind == PhaseLoading || s.Phase.Kind == PhasePlaying) && len(s.TurnOrder) == 0:
		g.endGame(tx, s)
	case s.Phase.Kind == PhaseLoading:
		g.maybeBegin(tx, s)
	case heldTurn:
		tx.Emit(Delta{Type: DeltaTurnChanged, UserID: s.TurnOrder[s.CurrentTurn]})
	}
}

func (g *Game) setConfig(tx Tx, s *State, userID string, a Action) error {
	if s.Phase.Kind != PhaseLobby {
		return room.Reject("Can only change settings in lobby")
	}
	if s.Host == nil || *s.Host != userID {
		return room.Reject("Only the host can change settings")
	}
	if a.Mode != nil && !a.Mode.IsValid() {
		return room.Rejectf("Invalid game mode %q", *a.Mode)
	}
	if a.GridSize != nil && !ValidGrid(*a.GridSize) {
		return room.Reject("Invalid grid size")
	}

	if a.Mode != nil {
		s.Config.Mode = *a.Mode
	}
	if a.GridSize != nil {
		s.Config.GridSize = *a.GridSize
	}
	if a.FlipDelayMs != nil {
		s.Config.FlipDelayMs = *a.FlipDelayMs
	}

	cfg := publicConfig(s.Config)
	tx.Emit(Delta{Type: DeltaConfigChanged, Config: &cfg})
	return nil
}

func (g *Game) startGame(tx Tx, s *State) error {
	if s.Phase.Kind != PhaseLobby {
		return room.Reject("Game already started")
	}
	active := s.activePlayers()
	if len(active) == 0 {
		return room.Reject("Need at least one player")
	}

	seed := g.config.seeder()
	pairs := s.Config.Pairs()
	assets, err := g.config.assets.Assets(tx.Context(), s.Config.PolicyID, pairs, seed)
	if err != nil {
		return room.Rejectf("Failed to fetch assets: %v", err)
	}
	if len(assets) < pairs {
		return room.Rejectf("Failed to fetch assets: got %d of %d", len(assets), pairs)
	}

	s.Config.ShuffleSeed = seed
	s.Cards = Deal(assets[:pairs], seed)

	s.TurnOrder = make([]string, len(active))
	for i, p := range active {
		s.TurnOrder[i] = p.UserID
	}
	shuffle(seed, s.TurnOrder)
	s.CurrentTurn = 0
	s.TurnState = AwaitingFirst()
	s.Streak = 0

	for _, p := range s.Players {
		p.Score = 0
		p.Flipped = nil
	}
	s.Phase = Loading(len(active))

	hidden := make([]HiddenCard, len(s.Cards))
	seen := map[uint8]bool{}
	var assetIDs []string
	for i, c := range s.Cards {
		hidden[i] = c.Hidden()
		if !seen[c.PairID] {
			seen[c.PairID] = true
			assetIDs = append(assetIDs, c.AssetID)
		}
	}

	tx.Logger().Info("Dealing cards",
		zap.Int("cards", len(hidden)),
		zap.Int("assets", len(assetIDs)),
		zap.Int("players", len(active)),
	)
	tx.Emit(Delta{
		Type:         DeltaCardsDealt,
		Cards:        hidden,
		AssetIDs:     assetIDs,
		TotalPlayers: len(active),
		TurnOrder:    slices.Clone(s.TurnOrder),
	})
	return nil
}

func (g *Game) ready(tx Tx, s *State, userID string) error {
	if s.Phase.Kind != PhaseLoading {
		return room.Reject("Not in loading phase")
	}
	if indexOf(s.TurnOrder, userID) < 0 {
		return room.Reject("You are not a player")
	}
	if s.Phase.isReady(userID) {
		return nil
	}

	s.Phase.ReadyPlayers = append(s.Phase.ReadyPlayers, userID)
	tx.Emit(Delta{
		Type:         DeltaPlayerReady,
		UserID:       userID,
		ReadyCount:   len(s.Phase.ReadyPlayers),
		TotalPlayers: s.Phase.TotalPlayers,
	})
	g.maybeBegin(tx, s)
	return nil
}

// maybeBegin starts play once every player has loaded.
func (g *Game) maybeBegin(tx Tx, s *State) {
	if s.Phase.TotalPlayers <= 0 || len(s.Phase.ReadyPlayers) < s.Phase.TotalPlayers {
		return
	}
	tx.Logger().Info("All players ready, starting game")
	s.Phase = Playing()
	tx.Emit(Delta{Type: DeltaGameStarted, TurnOrder: slices.Clone(s.TurnOrder)})
}

func (g *Game) flipCard(tx Tx, s *State, userID string, index int) error {
	if s.Phase.Kind != PhasePlaying {
		return room.Reject("Game is not in progress")
	}
	if index < 0 || index >= len(s.Cards) {
		return room.Reject("Invalid card index")
	}
	if s.Config.Mode == Race {
		return g.flipRace(tx, s, userID, index)
	}
	if s.Cards[index].Matched {
		return room.Reject("Card already matched")
	}

	if current, _ := s.CurrentPlayer(); current != userID {
		return room.Reject("Not your turn")
	}
	next, ok := s.TurnState.OnFlip(index)
	if !ok {
		return room.Reject("Invalid flip action")
	}
	s.TurnState = next

	face := s.Cards[index].Face()
	tx.Emit(Delta{Type: DeltaCardFlipped, Index: index, By: userID, Face: &face})
	return nil
}

func (g *Game) flipRace(tx Tx, s *State, userID string, index int) error {
	p, ok := s.Players[userID]
	if !ok || p.Spectating {
		return room.Reject("You are not a player")
	}

	var kept, stale []int
	for _, i := range p.Flipped {
		if s.Cards[i].Matched {
			stale = append(stale, i)
		} else {
			kept = append(kept, i)
		}
	}
	if len(stale) > 0 {
		p.Flipped = kept
		tx.NotifyUser(userID, PrivateDomain, Event{Type: EventCardsReset, Indices: stale})
	}

	if s.Cards[index].Matched {
		// Someone else claimed the pair this flip would have completed.
		if slices.ContainsFunc(stale, func(i int) bool { return s.Cards[i].PairID == s.Cards[index].PairID }) {
			return nil
		}
		return room.Reject("Card already matched")
	}

	if slices.Contains(p.Flipped, index) {
		return room.Reject("Card already flipped")
	}
	if len(p.Flipped) >= 2 {
		return room.Reject("Two cards already flipped")
	}

	p.Flipped = append(p.Flipped, index)
	face := s.Cards[index].Face()
	tx.NotifyUser(userID, PrivateDomain, Event{Type: EventOwnCardFlipped, Index: index, Face: &face})

	if len(p.Flipped) < 2 {
		return nil
	}

	first, second := p.Flipped[0], p.Flipped[1]
	p.Flipped = nil
	if s.Cards[first].PairID != s.Cards[second].PairID {
		tx.NotifyUser(userID, PrivateDomain, Event{Type: EventCardsReset, Indices: []int{first, second}})
		return nil
	}

	g.claimPair(tx, s, p, first, second)
	g.nearVictory(tx, s, p)
	if s.AllMatched() {
		g.endGame(tx, s)
	}
	return nil
}

func (g *Game) ackCardLoaded(tx Tx, s *State, index int) error {
	if s.Phase.Kind != PhasePlaying {
		return room.Reject("Game is not in progress")
	}
	if s.Config.Mode != TurnTaking {
		return nil
	}
	if index < 0 || index >= len(s.Cards) {
		return room.Reject("Invalid card index")
	}

	turn := s.TurnState
	isMatch := turn.Kind == TurnSecondFlipped &&
		s.Cards[turn.First].PairID == s.Cards[turn.Second].PairID

	next := turn.OnAck(index, isMatch, protocol.Millis(tx.Now()))
	s.TurnState = next
	if turn.Kind == TurnBothReady || next.Kind != TurnBothReady {
		return nil
	}

	if !next.IsMatch {
		delay := time.Duration(s.Config.FlipDelayMs) * time.Millisecond
		tx.Logger().Debug("No match, scheduling flip-back", zap.Duration("delay", delay))
		tx.SetAlarm(delay)
		return nil
	}

	current, ok := s.CurrentPlayer()
	if !ok {
		return nil
	}
	p, ok := s.Players[current]
	if !ok {
		return nil
	}

	g.claimPair(tx, s, p, next.First, next.Second)
	s.TurnState = AwaitingFirst()
	s.Streak++
	if s.Streak >= 2 {
		tx.Notify(PublicDomain, Event{Type: EventStreak, PlayerName: p.UserName, Count: s.Streak})
	}
	if s.AllMatched() {
		g.endGame(tx, s)
	}
	return nil
}

// claimPair marks a matched pair and credits p.
func (g *Game) claimPair(tx Tx, s *State, p *Player, first, second int) {
	for _, i := range []int{first, second} {
		s.Cards[i].Matched = true
		s.Cards[i].MatchedBy = stringPtr(p.UserID)
	}
	p.Score++

	face := s.Cards[first].Face()
	tx.Emit(
		Delta{
			Type:    DeltaPairMatched,
			Indices: []int{first, second},
			By:      p.UserID,
			ByName:  p.UserName,
			Score:   p.Score,
			Face:    &face,
		},
		Delta{Type: DeltaScoreChanged, UserID: p.UserID, Score: p.Score},
	)
	tx.Notify(PublicDomain, Event{Type: EventMatchFound, PlayerName: p.UserName, PairName: face.Name})
}

// nearVictory announces a race player whose next match would decide the
// game.
func (g *Game) nearVictory(tx Tx, s *State, p *Player) {
	remaining := s.RemainingPairs()
	if remaining == 0 {
		return
	}
	best := 0
	for _, other := range s.activePlayers() {
		if other.UserID != p.UserID && other.Score > best {
			best = other.Score
		}
	}
	if p.Score+1 > best+remaining-1 && p.Score <= best+remaining {
		tx.Notify(PublicDomain, Event{Type: EventNearVictory, PlayerName: p.UserName, PairsRemaining: remaining})
	}
}

// flipBack hides a non-matching pair and passes the turn.
func (g *Game) flipBack(tx Tx, s *State) {
	turn := s.TurnState
	s.TurnState = AwaitingFirst()
	s.Streak = 0

	tx.Emit(Delta{Type: DeltaCardsReset, Indices: []int{turn.First, turn.Second}})
	if len(s.TurnOrder) == 0 {
		return
	}
	s.CurrentTurn = (s.CurrentTurn + 1) % len(s.TurnOrder)
	tx.Emit(Delta{Type: DeltaTurnChanged, UserID: s.TurnOrder[s.CurrentTurn]})
}

func (g *Game) flipBackIn(s *State, now time.Time) time.Duration {
	delay := time.Duration(s.Config.FlipDelayMs) * time.Millisecond
	elapsed := time.Duration(0)
	if ms := protocol.Millis(now); ms > s.TurnState.ReadyAt {
		elapsed = time.Duration(ms-s.TurnState.ReadyAt) * time.Millisecond
	}
	if elapsed >= delay {
		return 0
	}
	return delay - elapsed
}

func (g *Game) endGame(tx Tx, s *State) {
	rankings := Rankings(s)
	var winner *string
	if len(rankings) > 0 {
		winner = stringPtr(rankings[0].UserID)
	}

	s.Phase = Finished(winner, rankings)
	s.TurnState = AwaitingFirst()
	tx.CancelAlarm()
	tx.Emit(Delta{Type: DeltaGameEnded, Winner: winner, Rankings: rankings})
}

// Rankings orders the players by score, ties broken by join order.
func Rankings(s *State) []Ranking {
	var rankings []Ranking
	for _, p := range s.activePlayers() {
		rankings = append(rankings, Ranking{UserID: p.UserID, Name: p.UserName, Score: p.Score})
	}
	slices.SortStableFunc(rankings, func(a, b Ranking) int {
		return b.Score - a.Score
	})
	return rankings
}

func (g *Game) requestRematch(tx Tx, s *State, userID string) error {
	if s.Phase.Kind != PhaseFinished {
		return room.Reject("Game is not finished")
	}

	s.Phase = Lobby()
	s.Cards = nil
	s.TurnOrder = nil
	s.CurrentTurn = 0
	s.TurnState = AwaitingFirst()
	s.Streak = 0
	for _, p := range s.Players {
		p.Score = 0
		p.Flipped = nil
		p.Spectating = false
	}
	s.Host = stringPtr(userID)

	tx.Resnapshot()
	return nil
}

func publicConfig(cfg Config) Config {
	cfg.ShuffleSeed = 0
	return cfg
}
