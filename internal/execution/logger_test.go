package execution_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/volunteerhub/volunteerhub/internal/eventbus"
	"github.com/volunteerhub/volunteerhub/internal/execution"
	execrepo "github.com/volunteerhub/volunteerhub/internal/execution/repositoryimpl"
	"github.com/volunteerhub/volunteerhub/internal/trigger"
	"github.com/volunteerhub/volunteerhub/internal/workflow"
	wfrepo "github.com/volunteerhub/volunteerhub/internal/workflow/repositoryimpl"
	"github.com/volunteerhub/volunteerhub/pkg/storage"
)

func TestLoggerLog(t *testing.T) {
	ctx := context.Background()
	s, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	workflows := wfrepo.NewYAMLRepository(s)
	executions := execrepo.NewYAMLRepository(s)
	bus := eventbus.New()
	subID, ch := bus.Subscribe(4)
	defer bus.Unsubscribe(subID)

	require.NoError(t, workflows.Create(ctx, &workflow.Workflow{ID: "wf-1", Name: "reminders", Status: workflow.StatusActive}))
	logger := execution.NewLogger(executions, workflows, bus)

	finished := time.Date(2026, 10, 14, 9, 0, 2, 0, time.UTC)
	rec := execution.NewRecord("01JA0000000000000000000001", "wf-1", execution.Firing{TriggerKind: trigger.KindTime},
		finished.Add(-2*time.Second), finished, nil)
	require.NoError(t, logger.Log(ctx, rec))

	wf, err := workflows.Get(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), wf.ExecutionCount)
	require.NotNil(t, wf.LastExecutedAt)
	assert.True(t, wf.LastExecutedAt.Equal(finished))

	_, err = executions.Get(ctx, "wf-1", rec.ID)
	require.NoError(t, err)

	select {
	case ev := <-ch:
		assert.Equal(t, eventbus.ExecutionRecorded, ev.Name)
		assert.Equal(t, rec.ID, ev.Payload["execution_id"])
	case <-time.After(time.Second):
		t.Fatal("no execution.recorded event")
	}
}

func TestLoggerLogUnknownWorkflow(t *testing.T) {
	ctx := context.Background()
	s, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	logger := execution.NewLogger(execrepo.NewYAMLRepository(s), wfrepo.NewYAMLRepository(s), nil)

	rec := execution.NewRecord("01JA0000000000000000000002", "ghost", execution.Firing{TriggerKind: trigger.KindManual},
		time.Now(), time.Now(), nil)
	err = logger.Log(ctx, rec)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ghost")
}
