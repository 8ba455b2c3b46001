// Package storage provides the key-value stores that rooms persist to. Every
// room has its own key-space; values are opaque byte blobs.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned by Get when a key has never been written or was
// deleted.
var ErrNotFound = errors.New("key not found")

// Store is a per-room key-value store. Implementations must be safe for
// concurrent use by different rooms; a single room never issues concurrent
// calls.
type Store interface {
	Get(ctx context.Context, room, key string) ([]byte, error)
	Put(ctx context.Context, room, key string, value []byte) error
	Delete(ctx context.Context, room, key string) error
	DeleteAll(ctx context.Context, room string) error
}

// ValidateName rejects room names and keys that cannot be mapped safely onto
// file paths or object keys.
func ValidateName(kind, name string) error {
	if name == "" {
		return fmt.Errorf("%s is required", kind)
	}
	if name == "." || name == ".." || strings.ContainsAny(name, "/\\\x00") {
		return fmt.Errorf("invalid %s %q", kind, name)
	}
	return nil
}

func validate(room, key string) error {
	if err := ValidateName("room", room); err != nil {
		return err
	}
	return ValidateName("key", key)
}
