package execution

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/volunteerhub/volunteerhub/internal/trigger"
	"github.com/volunteerhub/volunteerhub/internal/workflow"
)

func TestNewRecordMidFailure(t *testing.T) {
	start := time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)
	results := []ActionResult{
		{Kind: workflow.ActionCreateTask, Success: true},
		{Kind: workflow.ActionSendEmail, Error: "mail gateway returned 502"},
		{Kind: workflow.ActionUpdateRecords, Success: true},
	}
	rec := NewRecord("exec-1", "wf-1", Firing{TriggerKind: trigger.KindEvent, EventName: "shift.cancelled"}, start, start.Add(3*time.Second), results)

	assert.False(t, rec.Success)
	assert.Len(t, rec.Results, 3)
	assert.Equal(t, []string{"action 1 (send_email): mail gateway returned 502"}, rec.Errors)
}

func TestNewRecordAllSucceeded(t *testing.T) {
	start := time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)
	rec := NewRecord("exec-2", "wf-1", Firing{TriggerKind: trigger.KindManual}, start, start, []ActionResult{{Kind: workflow.ActionCreateTask, Success: true}})
	assert.True(t, rec.Success)
	assert.Empty(t, rec.Errors)
}
