package execution

import "context"

type Repository interface {
	// Create appends rec. Records are never updated afterwards.
	Create(ctx context.Context, rec *Record) error
	Get(ctx context.Context, workflowID, id string) (*Record, error)
	// List returns records of a workflow, newest first.
	List(ctx context.Context, workflowID string, limit, offset int) ([]*Record, int, error)
}
