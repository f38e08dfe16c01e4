package repositoryimpl

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/volunteerhub/volunteerhub/internal/pushsubscription"
	"github.com/volunteerhub/volunteerhub/pkg/cerr"
	"github.com/volunteerhub/volunteerhub/pkg/storage"
)

func TestYAMLRepository(t *testing.T) {
	ctx := context.Background()
	s, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	repo := NewYAMLRepository(s)

	now := time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)
	for _, sub := range []*pushsubscription.Subscription{
		{ID: "s1", UserID: "u1", Endpoint: "https://push.example/1", P256dhKey: "k", AuthKey: "a", CreatedAt: now},
		{ID: "s2", UserID: "u1", Endpoint: "https://push.example/2", P256dhKey: "k", AuthKey: "a", CreatedAt: now},
		{ID: "s3", UserID: "u2", Endpoint: "https://push.example/3", P256dhKey: "k", AuthKey: "a", CreatedAt: now},
	} {
		require.NoError(t, repo.Create(ctx, sub))
	}
	require.True(t, cerr.IsCode(repo.Create(ctx, &pushsubscription.Subscription{ID: "s1"}), cerr.AlreadyExists))

	all, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	mine, err := repo.ListByUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, "s1", mine[0].ID)

	found, err := repo.FindByEndpoint(ctx, "https://push.example/3")
	require.NoError(t, err)
	assert.Equal(t, "u2", found.UserID)

	require.NoError(t, repo.DeleteByEndpoint(ctx, "https://push.example/3"))
	_, err = repo.Get(ctx, "s3")
	assert.True(t, cerr.IsCode(err, cerr.NotFound))
	assert.True(t, cerr.IsCode(repo.DeleteByEndpoint(ctx, "https://push.example/3"), cerr.NotFound))
}
