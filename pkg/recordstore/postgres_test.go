package recordstore

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestBuildQueries(t *testing.T) {
	sql, args := buildInsert("tasks", Row{"title": "x", "priority": "high"})
	assert.Equal(t, `INSERT INTO "tasks" ("priority", "title") VALUES ($1, $2) RETURNING *`, sql)
	assert.Equal(t, []any{"high", "x"}, args)

	where, args := buildWhere(Filter{"status": "open", "deleted_at": nil, "assignee": "u1"}, 1)
	assert.Equal(t, ` WHERE "assignee" = $1 AND "deleted_at" IS NULL AND "status" = $2`, where)
	assert.Equal(t, []any{"u1", "open"}, args)

	sql, args = buildUpdate("applications", Filter{"id": "a1"}, Row{"status": "approved", "reviewed": true})
	assert.Equal(t, `UPDATE "applications" SET "reviewed" = $1, "status" = $2 WHERE "id" = $3`, sql)
	assert.Equal(t, []any{true, "approved", "a1"}, args)
}

func TestPostgresStore(t *testing.T) {
	if testing.Short() {
		t.Skip("requires docker")
	}
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("volunteerhub"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Errorf("failed to terminate container: %s", err)
		}
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	_, err = pool.Exec(ctx, `CREATE TABLE tasks (
		id BIGSERIAL PRIMARY KEY,
		title TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`)
	require.NoError(t, err)

	store := NewPostgresStore(pool)

	row, err := store.Insert(ctx, "tasks", Row{"title": "Welcome new volunteers"})
	require.NoError(t, err)
	assert.Equal(t, "pending", row["status"])
	assert.NotNil(t, row["id"])

	_, err = store.Insert(ctx, "tasks", Row{"title": "Restock pantry", "status": "done"})
	require.NoError(t, err)

	n, err := store.Count(ctx, "tasks", Filter{"status": "pending"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	changed, err := store.Update(ctx, "tasks", Filter{"status": "pending"}, Row{"status": "done"})
	require.NoError(t, err)
	assert.Equal(t, 1, changed)

	rows, err := store.Select(ctx, "tasks", Filter{"status": "done"}, 0)
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	_, err = store.Count(ctx, "tasks; drop table tasks", nil)
	assert.ErrorIs(t, err, ErrInvalidIdentifier)
}
