package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a requested path does not exist in storage.
var ErrNotFound = errors.New("not found")

// Storage provides an abstraction over key-value style file storage.
type Storage interface {
	Read(ctx context.Context, path string) ([]byte, error)
	Write(ctx context.Context, path string, data []byte) error
	Delete(ctx context.Context, path string) error
	List(ctx context.Context, prefix string) ([]string, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// Change describes a document that was created, rewritten or removed
// underneath a watched prefix.
type Change struct {
	Path    string
	Removed bool
}

// Watcher is implemented by backends that can push change notifications.
// Watch blocks until ctx is cancelled.
type Watcher interface {
	Watch(ctx context.Context, prefix string, fn func(Change)) error
}
