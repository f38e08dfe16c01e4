package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStorageRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, s.Write(ctx, "workflows/a.yaml", []byte("name: a")))
	require.NoError(t, s.Write(ctx, "workflows/b.yaml", []byte("name: b")))
	require.NoError(t, s.Write(ctx, "workflows/nested/c.yaml", []byte("name: c")))

	data, err := s.Read(ctx, "workflows/a.yaml")
	require.NoError(t, err)
	assert.Equal(t, "name: a", string(data))

	paths, err := s.List(ctx, "workflows")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"workflows/a.yaml", "workflows/b.yaml"}, paths)

	ok, err := s.Exists(ctx, "workflows/b.yaml")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, s.Delete(ctx, "workflows/b.yaml"))
	ok, err = s.Exists(ctx, "workflows/b.yaml")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLocalStorageNotFound(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	_, err = s.Read(ctx, "missing.yaml")
	assert.True(t, errors.Is(err, ErrNotFound))

	err = s.Delete(ctx, "missing.yaml")
	assert.True(t, errors.Is(err, ErrNotFound))

	paths, err := s.List(ctx, "nothing-here")
	require.NoError(t, err)
	assert.Empty(t, paths)
}

func TestLocalStorageStaysInsideBase(t *testing.T) {
	ctx := context.Background()
	base := t.TempDir()
	s, err := NewLocalStorage(base)
	require.NoError(t, err)

	require.NoError(t, s.Write(ctx, "../escape.yaml", []byte("x")))
	ok, err := s.Exists(ctx, "escape.yaml")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLocalStorageWatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	var (
		mu      sync.Mutex
		changes []Change
	)
	done := make(chan error, 1)
	go func() {
		done <- s.Watch(ctx, "workflows", func(c Change) {
			mu.Lock()
			changes = append(changes, c)
			mu.Unlock()
		})
	}()

	// Give the watcher a moment to register the directory.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, s.Write(ctx, "workflows/wf1.yaml", []byte("name: one")))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, c := range changes {
			if c.Path == "workflows/wf1.yaml" && !c.Removed {
				return true
			}
		}
		return false
	}, 3*time.Second, 20*time.Millisecond)

	require.NoError(t, s.Delete(ctx, "workflows/wf1.yaml"))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		last := changes[len(changes)-1]
		return last.Path == "workflows/wf1.yaml" && last.Removed
	}, 3*time.Second, 20*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}
