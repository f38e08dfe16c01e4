package execution

import (
	"fmt"
	"time"

	"github.com/volunteerhub/volunteerhub/internal/trigger"
	"github.com/volunteerhub/volunteerhub/internal/workflow"
)

// Firing describes what started an execution.
type Firing struct {
	TriggerKind  trigger.Kind   `yaml:"trigger_kind" json:"trigger_kind"`
	TriggerIndex int            `yaml:"trigger_index" json:"trigger_index"`
	EventName    string         `yaml:"event_name,omitempty" json:"event_name,omitempty"`
	Payload      map[string]any `yaml:"payload,omitempty" json:"payload,omitempty"`
}

type ActionResult struct {
	Kind      workflow.ActionKind `yaml:"kind" json:"kind"`
	Success   bool                `yaml:"success" json:"success"`
	Result    any                 `yaml:"result,omitempty" json:"result,omitempty"`
	Error     string              `yaml:"error,omitempty" json:"error,omitempty"`
	StartedAt time.Time           `yaml:"started_at" json:"started_at"`
	Duration  time.Duration       `yaml:"duration" json:"duration"`
}

// Record is the append-only log entry of one firing. Once written it is
// never modified.
type Record struct {
	ID         string         `yaml:"id" json:"id"`
	WorkflowID string         `yaml:"workflow_id" json:"workflow_id"`
	Firing     Firing         `yaml:"firing" json:"firing"`
	StartedAt  time.Time      `yaml:"started_at" json:"started_at"`
	FinishedAt time.Time      `yaml:"finished_at" json:"finished_at"`
	Success    bool           `yaml:"success" json:"success"`
	Results    []ActionResult `yaml:"results" json:"results"`
	Errors     []string       `yaml:"errors,omitempty" json:"errors,omitempty"`
}

// NewRecord summarises results: the record succeeds only when every action
// did, and Errors keeps each failure prefixed with its action position.
func NewRecord(id, workflowID string, firing Firing, startedAt, finishedAt time.Time, results []ActionResult) *Record {
	rec := &Record{
		ID:         id,
		WorkflowID: workflowID,
		Firing:     firing,
		StartedAt:  startedAt,
		FinishedAt: finishedAt,
		Success:    true,
		Results:    results,
	}
	for i, r := range results {
		if !r.Success {
			rec.Success = false
			rec.Errors = append(rec.Errors, fmt.Sprintf("action %d (%s): %s", i, r.Kind, r.Error))
		}
	}
	return rec
}
