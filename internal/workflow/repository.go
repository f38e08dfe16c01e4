package workflow

import (
	"context"
	"time"
)

type Repository interface {
	Create(ctx context.Context, w *Workflow) error
	Get(ctx context.Context, id string) (*Workflow, error)
	// List filters by status when status is non-empty.
	List(ctx context.Context, status Status, limit, offset int) ([]*Workflow, int, error)
	// Update replaces the definition of w. ExecutionCount and LastExecutedAt
	// are kept from the stored workflow.
	Update(ctx context.Context, w *Workflow) error
	// RecordExecution increments ExecutionCount by one and sets
	// LastExecutedAt to at.
	RecordExecution(ctx context.Context, id string, at time.Time) (*Workflow, error)
}
