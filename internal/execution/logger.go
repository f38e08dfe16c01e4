package execution

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/volunteerhub/volunteerhub/internal/eventbus"
	"github.com/volunteerhub/volunteerhub/internal/workflow"
)

// Logger persists firing outcomes and keeps the workflow counters in step.
type Logger struct {
	repo      Repository
	workflows workflow.Repository
	bus       *eventbus.Bus
}

func NewLogger(repo Repository, workflows workflow.Repository, bus *eventbus.Bus) *Logger {
	return &Logger{repo: repo, workflows: workflows, bus: bus}
}

// Log appends rec, then increments the workflow's execution count by one
// and stamps last_executed_at with the record's finish time. The counter
// update is read-then-write; it is only serialised within this process.
func (l *Logger) Log(ctx context.Context, rec *Record) error {
	if err := l.repo.Create(ctx, rec); err != nil {
		return fmt.Errorf("append execution %s: %w", rec.ID, err)
	}
	w, err := l.workflows.RecordExecution(ctx, rec.WorkflowID, rec.FinishedAt)
	if err != nil {
		return fmt.Errorf("update counters of workflow %s: %w", rec.WorkflowID, err)
	}
	slog.DebugContext(ctx, "execution recorded",
		"execution_id", rec.ID,
		"success", rec.Success,
		"execution_count", w.ExecutionCount,
	)
	if l.bus != nil {
		l.bus.PublishNew(eventbus.ExecutionRecorded, map[string]any{
			"workflow_id":  rec.WorkflowID,
			"execution_id": rec.ID,
			"success":      rec.Success,
		})
	}
	return nil
}
