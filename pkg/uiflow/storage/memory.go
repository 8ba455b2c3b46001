package storage

import (
	"context"
	"sync"
)

// MemoryStore keeps everything in process memory. It is the default store
// and the one used by tests.
type MemoryStore struct {
	mu    sync.RWMutex
	rooms map[string]map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rooms: make(map[string]map[string][]byte)}
}

func (s *MemoryStore) Get(ctx context.Context, room, key string) ([]byte, error) {
	if err := validate(room, key); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.rooms[room][key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), value...), nil
}

func (s *MemoryStore) Put(ctx context.Context, room, key string, value []byte) error {
	if err := validate(room, key); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	keys, ok := s.rooms[room]
	if !ok {
		keys = make(map[string][]byte)
		s.rooms[room] = keys
	}
	keys[key] = append([]byte(nil), value...)
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, room, key string) error {
	if err := validate(room, key); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.rooms[room], key)
	return nil
}

func (s *MemoryStore) DeleteAll(ctx context.Context, room string) error {
	if err := ValidateName("room", room); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.rooms, room)
	return nil
}

// Rooms returns the names of rooms that have at least one key.
func (s *MemoryStore) Rooms() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.rooms))
	for name, keys := range s.rooms {
		if len(keys) > 0 {
			names = append(names, name)
		}
	}
	return names
}
