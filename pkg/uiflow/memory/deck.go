package memory

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/google/uuid"
)

// Asset is an image that can be printed on a pair of cards.
type Asset struct {
	ID   string
	Name string
}

// AssetSource picks the faces for a new deal.
type AssetSource interface {
	// Assets returns count distinct assets of collection policyID. The same
	// seed must yield the same selection.
	Assets(ctx context.Context, policyID string, count int, seed uint64) ([]Asset, error)
}

// SyntheticAssets numbers assets of the requested collection without
// consulting any catalogue.
type SyntheticAssets struct{}

func (SyntheticAssets) Assets(_ context.Context, policyID string, count int, _ uint64) ([]Asset, error) {
	prefix := policyID
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	assets := make([]Asset, count)
	for i := range assets {
		assets[i] = Asset{
			ID:   fmt.Sprintf("%s.%04x", prefix, i+1),
			Name: fmt.Sprintf("Card %d", i+1),
		}
	}
	return assets, nil
}

// StaticAssets draws from a fixed list of names, regardless of collection.
type StaticAssets []string

func (s StaticAssets) Assets(_ context.Context, _ string, count int, seed uint64) ([]Asset, error) {
	if len(s) < count {
		return nil, fmt.Errorf("collection only has %d assets, need at least %d for %d pairs", len(s), count, count)
	}
	names := append([]string(nil), s...)
	shuffle(seed, names)

	assets := make([]Asset, count)
	for i := range assets {
		assets[i] = Asset{ID: names[i], Name: names[i]}
	}
	return assets, nil
}

// Deal prints every asset on two cards and shuffles them with seed.
func Deal(assets []Asset, seed uint64) []Card {
	cards := make([]Card, 0, 2*len(assets))
	for i, a := range assets {
		for range 2 {
			cards = append(cards, Card{
				CardID:  uuid.NewString(),
				PairID:  uint8(i),
				AssetID: a.ID,
				Name:    a.Name,
			})
		}
	}
	shuffle(seed, cards)
	return cards
}

func shuffle[T any](seed uint64, items []T) {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	rng.Shuffle(len(items), func(i, j int) {
		items[i], items[j] = items[j], items[i]
	})
}
