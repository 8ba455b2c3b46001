package room

import (
	"context"
	"errors"

	"github.com/tsarna/uiflow/pkg/uiflow/storage"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	keyState  = "state"
	keySeq    = "seq"
	keyNextID = "next_id"
)

// kvCache is a read-through, write-through view of one room's key-space.
// Once a key has been read or written it is never fetched from the store
// again.
type kvCache struct {
	store  storage.Store
	room   string
	values map[string][]byte
}

func newKVCache(store storage.Store, room string) *kvCache {
	return &kvCache{store: store, room: room, values: make(map[string][]byte)}
}

func (c *kvCache) Get(ctx context.Context, key string) ([]byte, error) {
	if v, ok := c.values[key]; ok {
		return v, nil
	}
	v, err := c.store.Get(ctx, c.room, key)
	if err != nil {
		return nil, err
	}
	c.values[key] = v
	return v, nil
}

func (c *kvCache) Put(ctx context.Context, key string, value []byte) error {
	if err := c.store.Put(ctx, c.room, key, value); err != nil {
		return err
	}
	c.values[key] = value
	return nil
}

func (c *kvCache) getCounter(ctx context.Context, key string, def uint64) (uint64, error) {
	data, err := c.Get(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return def, nil
	}
	if err != nil {
		return 0, err
	}
	var n uint64
	if err := msgpack.Unmarshal(data, &n); err != nil {
		return 0, err
	}
	return n, nil
}

func (c *kvCache) putCounter(ctx context.Context, key string, n uint64) error {
	data, err := msgpack.Marshal(n)
	if err != nil {
		return err
	}
	return c.Put(ctx, key, data)
}
