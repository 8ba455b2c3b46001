package storage

import "context"

// Namespaced prefixes every room name, so that several applications can
// share one backend without their rooms colliding.
type Namespaced struct {
	store  Store
	prefix string
}

// WithNamespace wraps store so that room r is stored as prefix + "." + r.
func WithNamespace(store Store, prefix string) *Namespaced {
	return &Namespaced{store: store, prefix: prefix + "."}
}

func (n *Namespaced) Get(ctx context.Context, room, key string) ([]byte, error) {
	if err := ValidateName("room", room); err != nil {
		return nil, err
	}
	return n.store.Get(ctx, n.prefix+room, key)
}

func (n *Namespaced) Put(ctx context.Context, room, key string, value []byte) error {
	if err := ValidateName("room", room); err != nil {
		return err
	}
	return n.store.Put(ctx, n.prefix+room, key, value)
}

func (n *Namespaced) Delete(ctx context.Context, room, key string) error {
	if err := ValidateName("room", room); err != nil {
		return err
	}
	return n.store.Delete(ctx, n.prefix+room, key)
}

func (n *Namespaced) DeleteAll(ctx context.Context, room string) error {
	if err := ValidateName("room", room); err != nil {
		return err
	}
	return n.store.DeleteAll(ctx, n.prefix+room)
}
