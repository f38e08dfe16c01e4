package repositoryimpl

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/volunteerhub/volunteerhub/internal/trigger"
	"github.com/volunteerhub/volunteerhub/internal/workflow"
	"github.com/volunteerhub/volunteerhub/pkg/cerr"
	"github.com/volunteerhub/volunteerhub/pkg/storage"
)

func newRepo(t *testing.T) *YAMLRepository {
	t.Helper()
	s, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	return NewYAMLRepository(s)
}

func sampleWorkflow(id string, status workflow.Status) *workflow.Workflow {
	return &workflow.Workflow{
		ID:     id,
		Name:   "Welcome new volunteers",
		Status: status,
		Triggers: []trigger.Trigger{
			trigger.NewEvent("volunteer.created", map[string]any{"role": "driver"}),
			trigger.NewWeekly(1, "09:00"),
		},
		Actions: []workflow.Action{
			{Kind: workflow.ActionSendEmail, Config: map[string]any{"template_id": "volunteer_welcome", "recipients": []any{"a@example.org"}}, DelayMinutes: 5},
		},
		CreatedAt: time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC),
		UpdatedAt: time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestYAMLRepositoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)

	w := sampleWorkflow("wf1", workflow.StatusActive)
	require.NoError(t, repo.Create(ctx, w))

	got, err := repo.Get(ctx, "wf1")
	require.NoError(t, err)
	assert.Equal(t, w.Name, got.Name)
	require.Len(t, got.Triggers, 2)
	assert.Equal(t, trigger.KindEvent, got.Triggers[0].Kind)
	assert.Equal(t, "driver", got.Triggers[0].Event.Conditions["role"])
	require.NotNil(t, got.Triggers[1].Time.DayOfWeek)
	assert.Equal(t, 1, *got.Triggers[1].Time.DayOfWeek)
	assert.Equal(t, 5, got.Actions[0].DelayMinutes)

	err = repo.Create(ctx, w)
	assert.True(t, cerr.IsCode(err, cerr.AlreadyExists))

	_, err = repo.Get(ctx, "missing")
	assert.True(t, cerr.IsCode(err, cerr.NotFound))
}

func TestYAMLRepositoryListFiltersByStatus(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)

	require.NoError(t, repo.Create(ctx, sampleWorkflow("wf1", workflow.StatusActive)))
	require.NoError(t, repo.Create(ctx, sampleWorkflow("wf2", workflow.StatusPaused)))
	require.NoError(t, repo.Create(ctx, sampleWorkflow("wf3", workflow.StatusActive)))

	all, total, err := repo.List(ctx, "", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, all, 3)

	active, total, err := repo.List(ctx, workflow.StatusActive, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Equal(t, "wf1", active[0].ID)
	assert.Equal(t, "wf3", active[1].ID)

	page, total, err := repo.List(ctx, "", 1, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, page, 1)
	assert.Equal(t, "wf2", page[0].ID)
}

func TestYAMLRepositoryUpdateKeepsCounters(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	require.NoError(t, repo.Create(ctx, sampleWorkflow("wf1", workflow.StatusActive)))

	at := time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)
	got, err := repo.RecordExecution(ctx, "wf1", at)
	require.NoError(t, err)
	assert.EqualValues(t, 1, got.ExecutionCount)

	stale := sampleWorkflow("wf1", workflow.StatusPaused)
	stale.ExecutionCount = 0
	require.NoError(t, repo.Update(ctx, stale))

	got, err = repo.Get(ctx, "wf1")
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusPaused, got.Status)
	assert.EqualValues(t, 1, got.ExecutionCount)
	require.NotNil(t, got.LastExecutedAt)
	assert.True(t, at.Equal(*got.LastExecutedAt))

	err = repo.Update(ctx, sampleWorkflow("missing", workflow.StatusActive))
	assert.True(t, cerr.IsCode(err, cerr.NotFound))
}

func TestYAMLRepositoryRecordExecutionConcurrent(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	require.NoError(t, repo.Create(ctx, sampleWorkflow("wf1", workflow.StatusActive)))

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.RecordExecution(ctx, "wf1", time.Now())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := repo.Get(ctx, "wf1")
	require.NoError(t, err)
	assert.EqualValues(t, 20, got.ExecutionCount)
}

func TestIDFromPath(t *testing.T) {
	id, ok := IDFromPath("workflows/01J.yaml")
	assert.True(t, ok)
	assert.Equal(t, "01J", id)

	_, ok = IDFromPath("executions/wf1/01J.yaml")
	assert.False(t, ok)
	_, ok = IDFromPath("workflows/01J.yaml.tmp")
	assert.False(t, ok)
}
