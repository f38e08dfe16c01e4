package workflow_test

import (
	"context"
	"testing"
	"time"

	"connectrpc.com/connect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/volunteerhub/volunteerhub/internal/eventbus"
	"github.com/volunteerhub/volunteerhub/internal/trigger"
	"github.com/volunteerhub/volunteerhub/internal/workflow"
	"github.com/volunteerhub/volunteerhub/internal/workflow/repositoryimpl"
	"github.com/volunteerhub/volunteerhub/pkg/cerr"
	"github.com/volunteerhub/volunteerhub/pkg/storage"
)

type stubScheduler struct {
	id      string
	payload map[string]any
	applied []workflow.Workflow
}

func (r *stubScheduler) Apply(w *workflow.Workflow) {
	r.applied = append(r.applied, *w)
}

func (r *stubScheduler) RunNow(_ context.Context, id string, payload map[string]any) (*workflow.RunResult, error) {
	r.id, r.payload = id, payload
	return &workflow.RunResult{ExecutionID: "exec1", Success: true}, nil
}

func newServer(t *testing.T) (*workflow.Server, *eventbus.Bus, *stubScheduler) {
	t.Helper()
	s, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	bus := eventbus.New()
	sched := &stubScheduler{}
	return workflow.NewServer(repositoryimpl.NewYAMLRepository(s), sched, bus, time.UTC), bus, sched
}

func welcomeRequest() *workflow.CreateWorkflowRequest {
	return &workflow.CreateWorkflowRequest{
		Name:     "Welcome",
		Triggers: []trigger.Trigger{trigger.NewEvent("volunteer.created", nil)},
		Actions: []workflow.Action{{
			Kind:   workflow.ActionSendEmail,
			Config: map[string]any{"template_id": "volunteer_welcome", "recipients": []any{"{{email}}"}},
		}},
	}
}

func nextEvent(t *testing.T, ch <-chan *eventbus.Event) *eventbus.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(time.Second):
		t.Fatal("no event published")
		return nil
	}
}

func TestServerCreateAndGet(t *testing.T) {
	ctx := context.Background()
	srv, bus, _ := newServer(t)
	subID, ch := bus.Subscribe(8)
	defer bus.Unsubscribe(subID)

	created, err := srv.CreateWorkflow(ctx, connect.NewRequest(welcomeRequest()))
	require.NoError(t, err)
	w := created.Msg.Workflow
	assert.NotEmpty(t, w.ID)
	assert.Equal(t, workflow.StatusActive, w.Status)
	assert.Zero(t, w.ExecutionCount)

	ev := nextEvent(t, ch)
	assert.Equal(t, eventbus.WorkflowChanged, ev.Name)
	assert.Equal(t, w.ID, ev.Payload["workflow_id"])

	got, err := srv.GetWorkflow(ctx, connect.NewRequest(&workflow.GetWorkflowRequest{ID: w.ID}))
	require.NoError(t, err)
	assert.Equal(t, "Welcome", got.Msg.Workflow.Name)
}

func TestServerCreateRejectsInvalidTrigger(t *testing.T) {
	ctx := context.Background()
	srv, _, _ := newServer(t)

	req := welcomeRequest()
	req.Triggers = []trigger.Trigger{trigger.NewWeekly(9, "9:00")}
	_, err := srv.CreateWorkflow(ctx, connect.NewRequest(req))
	require.Error(t, err)
	assert.True(t, cerr.IsCode(err, cerr.InvalidArgument))

	var cErr *cerr.Error
	require.ErrorAs(t, err, &cErr)
	assert.Len(t, cErr.Details, 2)

	list, err := srv.ListWorkflows(ctx, connect.NewRequest(&workflow.ListWorkflowsRequest{}))
	require.NoError(t, err)
	assert.Zero(t, list.Msg.Total)
}

func TestServerSetStatusAndUpdate(t *testing.T) {
	ctx := context.Background()
	srv, _, sched := newServer(t)

	created, err := srv.CreateWorkflow(ctx, connect.NewRequest(welcomeRequest()))
	require.NoError(t, err)
	id := created.Msg.Workflow.ID

	paused, err := srv.SetWorkflowStatus(ctx, connect.NewRequest(&workflow.SetWorkflowStatusRequest{ID: id, Status: workflow.StatusPaused}))
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusPaused, paused.Msg.Workflow.Status)
	// The scheduler is told directly, not through the bus.
	require.Len(t, sched.applied, 2)
	assert.Equal(t, workflow.StatusPaused, sched.applied[1].Status)

	_, err = srv.SetWorkflowStatus(ctx, connect.NewRequest(&workflow.SetWorkflowStatusRequest{ID: id, Status: "deleted"}))
	assert.True(t, cerr.IsCode(err, cerr.InvalidArgument))

	list, err := srv.ListWorkflows(ctx, connect.NewRequest(&workflow.ListWorkflowsRequest{Status: workflow.StatusActive}))
	require.NoError(t, err)
	assert.Zero(t, list.Msg.Total)

	name := "Welcome drivers"
	updated, err := srv.UpdateWorkflow(ctx, connect.NewRequest(&workflow.UpdateWorkflowRequest{ID: id, Name: &name}))
	require.NoError(t, err)
	assert.Equal(t, "Welcome drivers", updated.Msg.Workflow.Name)
	assert.Len(t, updated.Msg.Workflow.Triggers, 1)
	require.Len(t, sched.applied, 3)
	assert.Equal(t, "Welcome drivers", sched.applied[2].Name)

	empty := []workflow.Action{}
	_, err = srv.UpdateWorkflow(ctx, connect.NewRequest(&workflow.UpdateWorkflowRequest{ID: id, Actions: &empty}))
	assert.True(t, cerr.IsCode(err, cerr.InvalidArgument))
}

func TestServerRunWorkflow(t *testing.T) {
	ctx := context.Background()
	srv, _, runner := newServer(t)

	resp, err := srv.RunWorkflow(ctx, connect.NewRequest(&workflow.RunWorkflowRequest{ID: "wf1", Payload: map[string]any{"k": "v"}}))
	require.NoError(t, err)
	assert.Equal(t, "exec1", resp.Msg.Result.ExecutionID)
	assert.Equal(t, "wf1", runner.id)
	assert.Equal(t, "v", runner.payload["k"])
}

func TestServerValidateWorkflow(t *testing.T) {
	ctx := context.Background()
	srv, _, _ := newServer(t)

	resp, err := srv.ValidateWorkflow(ctx, connect.NewRequest(&workflow.ValidateWorkflowRequest{
		Name:     "Monthly report",
		Triggers: []trigger.Trigger{trigger.NewMonthly(31, "09:00"), trigger.NewEvent("shift.cancelled", nil)},
		Actions:  []workflow.Action{{Kind: workflow.ActionGenerateReport, Config: map[string]any{"report_type": "monthly_summary"}}},
		Previews: 2,
	}))
	require.NoError(t, err)
	assert.True(t, resp.Msg.Valid)
	require.Len(t, resp.Msg.Triggers, 2)
	assert.Len(t, resp.Msg.Triggers[0].NextRuns, 2)
	assert.Empty(t, resp.Msg.Triggers[1].NextRuns)

	resp, err = srv.ValidateWorkflow(ctx, connect.NewRequest(&workflow.ValidateWorkflowRequest{
		Actions: []workflow.Action{{Kind: "launch_rocket"}},
	}))
	require.NoError(t, err)
	assert.False(t, resp.Msg.Valid)
	var fields []string
	for _, v := range resp.Msg.Violations {
		fields = append(fields, v.Field)
	}
	assert.ElementsMatch(t, []string{"name", "triggers", "actions[0].kind"}, fields)
}
