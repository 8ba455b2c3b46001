package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pairIDs(cards []Card) []uint8 {
	ids := make([]uint8, len(cards))
	for i, c := range cards {
		ids[i] = c.PairID
	}
	return ids
}

func TestDeal(t *testing.T) {
	assets, err := SyntheticAssets{}.Assets(context.Background(), DefaultPolicyID, 18, 1)
	require.NoError(t, err)
	require.Len(t, assets, 18)
	assert.Equal(t, Asset{ID: "b3dab69f.0001", Name: "Card 1"}, assets[0])

	first := Deal(assets, 7)
	second := Deal(assets, 7)
	assert.Len(t, first, 36)
	assert.Equal(t, pairIDs(first), pairIDs(second), "same seed, same layout")
	assert.NotEqual(t, first[0].CardID, second[0].CardID)

	byPair := map[uint8][]Card{}
	ids := map[string]bool{}
	for _, c := range first {
		byPair[c.PairID] = append(byPair[c.PairID], c)
		ids[c.CardID] = true
	}
	assert.Len(t, ids, 36)
	for pair, cards := range byPair {
		require.Len(t, cards, 2, "pair %d", pair)
		assert.Equal(t, cards[0].Face(), cards[1].Face())
	}

	assert.NotEqual(t, pairIDs(first), pairIDs(Deal(assets, 8)))
}

func TestStaticAssets(t *testing.T) {
	src := StaticAssets{"ada", "bob", "cyd", "dot"}

	_, err := src.Assets(context.Background(), "", 5, 1)
	assert.EqualError(t, err, "collection only has 4 assets, need at least 5 for 5 pairs")

	picked, err := src.Assets(context.Background(), "", 3, 99)
	require.NoError(t, err)
	assert.Len(t, picked, 3)
	again, err := src.Assets(context.Background(), "", 3, 99)
	require.NoError(t, err)
	assert.Equal(t, picked, again)
	for _, a := range picked {
		assert.Contains(t, []string(src), a.Name)
		assert.Equal(t, a.Name, a.ID)
	}
	assert.Equal(t, StaticAssets{"ada", "bob", "cyd", "dot"}, src)
}

func TestStartGameAssetFailure(t *testing.T) {
	cfg := smallConfig(TurnTaking)
	game, err := NewGameConfig().WithDefaults(cfg).WithAssets(StaticAssets{"one"}).Build()
	require.NoError(t, err)

	h := newHarness(t, cfg)
	h.game = game
	h.must("alice", JoinGame("Alice"))
	h.reject("alice", StartGame(), "Failed to fetch assets: collection only has 1 assets, need at least 8 for 8 pairs")
	assert.Equal(t, PhaseLobby, h.state.Phase.Kind)
}

func TestValidGrid(t *testing.T) {
	assert.True(t, ValidGrid([2]uint8{6, 6}))
	assert.True(t, ValidGrid([2]uint8{1, 2}))
	assert.True(t, ValidGrid([2]uint8{255, 2}))
	assert.False(t, ValidGrid([2]uint8{0, 0}))
	assert.False(t, ValidGrid([2]uint8{5, 5}))
	assert.False(t, ValidGrid([2]uint8{16, 32}))
}
