package repositoryimpl

import (
	"context"
	"fmt"
	"slices"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/volunteerhub/volunteerhub/internal/execution"
	"github.com/volunteerhub/volunteerhub/pkg/cerr"
	"github.com/volunteerhub/volunteerhub/pkg/storage"
)

const executionsPrefix = "executions"

// YAMLRepository writes records to executions/<workflow id>/<record id>.yaml.
// Record ids are ULIDs, so lexical order is chronological.
type YAMLRepository struct {
	storage storage.Storage
}

func NewYAMLRepository(s storage.Storage) *YAMLRepository {
	return &YAMLRepository{storage: s}
}

func path(workflowID, id string) string {
	return fmt.Sprintf("%s/%s/%s.yaml", executionsPrefix, workflowID, id)
}

func (r *YAMLRepository) Create(ctx context.Context, rec *execution.Record) error {
	p := path(rec.WorkflowID, rec.ID)
	exists, err := r.storage.Exists(ctx, p)
	if err != nil {
		return cerr.WrapStorageWriteError("execution", err)
	}
	if exists {
		return cerr.NewError(cerr.AlreadyExists, "execution already recorded", nil)
	}
	data, err := yaml.Marshal(rec)
	if err != nil {
		return cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to marshal execution: %w", err))
	}
	if err := r.storage.Write(ctx, p, data); err != nil {
		return cerr.WrapStorageWriteError("execution", err)
	}
	return nil
}

func (r *YAMLRepository) Get(ctx context.Context, workflowID, id string) (*execution.Record, error) {
	data, err := r.storage.Read(ctx, path(workflowID, id))
	if err != nil {
		return nil, cerr.WrapStorageReadError("execution", err)
	}
	return decode(data)
}

func (r *YAMLRepository) List(ctx context.Context, workflowID string, limit, offset int) ([]*execution.Record, int, error) {
	paths, err := r.storage.List(ctx, fmt.Sprintf("%s/%s", executionsPrefix, workflowID))
	if err != nil {
		return nil, 0, cerr.WrapStorageReadError("executions", err)
	}
	sort.Strings(paths)
	slices.Reverse(paths)

	total := len(paths)
	if offset >= total {
		return nil, total, nil
	}
	paths = paths[offset:]
	if limit > 0 && len(paths) > limit {
		paths = paths[:limit]
	}

	records := make([]*execution.Record, 0, len(paths))
	for _, p := range paths {
		data, err := r.storage.Read(ctx, p)
		if err != nil {
			return nil, 0, cerr.WrapStorageReadError("execution", err)
		}
		rec, err := decode(data)
		if err != nil {
			return nil, 0, err
		}
		records = append(records, rec)
	}
	return records, total, nil
}

func decode(data []byte) (*execution.Record, error) {
	var rec execution.Record
	if err := yaml.Unmarshal(data, &rec); err != nil {
		return nil, cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to unmarshal execution: %w", err))
	}
	return &rec, nil
}
