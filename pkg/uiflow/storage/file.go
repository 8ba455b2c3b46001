package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// FileStore keeps one directory per room and one file per key under a root
// directory. Writes go through a temporary file and a rename so a crash never
// leaves a torn value behind.
type FileStore struct {
	dir string
}

// NewFileStore creates the root directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(room, key string) string {
	return filepath.Join(s.dir, room, key)
}

func (s *FileStore) Get(ctx context.Context, room, key string) ([]byte, error) {
	if err := validate(room, key); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.path(room, key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	return data, err
}

func (s *FileStore) Put(ctx context.Context, room, key string, value []byte) error {
	if err := validate(room, key); err != nil {
		return err
	}

	roomDir := filepath.Join(s.dir, room)
	if err := os.MkdirAll(roomDir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(roomDir, "."+key+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(value); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.path(room, key))
}

func (s *FileStore) Delete(ctx context.Context, room, key string) error {
	if err := validate(room, key); err != nil {
		return err
	}

	err := os.Remove(s.path(room, key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func (s *FileStore) DeleteAll(ctx context.Context, room string) error {
	if err := ValidateName("room", room); err != nil {
		return err
	}
	return os.RemoveAll(filepath.Join(s.dir, room))
}
