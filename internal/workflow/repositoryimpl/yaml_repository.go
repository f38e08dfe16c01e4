package repositoryimpl

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/volunteerhub/volunteerhub/internal/workflow"
	"github.com/volunteerhub/volunteerhub/pkg/cerr"
	"github.com/volunteerhub/volunteerhub/pkg/storage"
)

const WorkflowsPrefix = "workflows"

// YAMLRepository stores one document per workflow. Writes are serialised so
// definition updates and execution counters never overwrite each other
// within a process.
type YAMLRepository struct {
	storage storage.Storage
	mu      sync.Mutex
}

func NewYAMLRepository(s storage.Storage) *YAMLRepository {
	return &YAMLRepository{storage: s}
}

func Path(id string) string {
	return fmt.Sprintf("%s/%s.yaml", WorkflowsPrefix, id)
}

func (r *YAMLRepository) Create(ctx context.Context, w *workflow.Workflow) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	exists, err := r.storage.Exists(ctx, Path(w.ID))
	if err != nil {
		return cerr.WrapStorageWriteError("workflow", err)
	}
	if exists {
		return cerr.NewError(cerr.AlreadyExists, "workflow already exists", nil)
	}
	return r.write(ctx, w)
}

func (r *YAMLRepository) Get(ctx context.Context, id string) (*workflow.Workflow, error) {
	data, err := r.storage.Read(ctx, Path(id))
	if err != nil {
		return nil, cerr.WrapStorageReadError("workflow", err)
	}
	return decode(data)
}

// List skips documents that cannot be decoded so one hand-edited file does
// not hide every other workflow.
func (r *YAMLRepository) List(ctx context.Context, status workflow.Status, limit, offset int) ([]*workflow.Workflow, int, error) {
	paths, err := r.storage.List(ctx, WorkflowsPrefix)
	if err != nil {
		return nil, 0, cerr.WrapStorageReadError("workflows", err)
	}
	sort.Strings(paths)

	var all []*workflow.Workflow
	for _, p := range paths {
		data, err := r.storage.Read(ctx, p)
		if err != nil {
			return nil, 0, cerr.WrapStorageReadError("workflow", err)
		}
		w, err := decode(data)
		if err != nil {
			slog.WarnContext(ctx, "skipping undecodable workflow", "path", p, "error", err)
			continue
		}
		if status != "" && w.Status != status {
			continue
		}
		all = append(all, w)
	}

	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	all = all[offset:]
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, total, nil
}

func (r *YAMLRepository) Update(ctx context.Context, w *workflow.Workflow) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, err := r.Get(ctx, w.ID)
	if err != nil {
		return err
	}
	w.ExecutionCount = current.ExecutionCount
	w.LastExecutedAt = current.LastExecutedAt
	return r.write(ctx, w)
}

func (r *YAMLRepository) RecordExecution(ctx context.Context, id string, at time.Time) (*workflow.Workflow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	w.ExecutionCount++
	at = at.UTC()
	w.LastExecutedAt = &at
	if err := r.write(ctx, w); err != nil {
		return nil, err
	}
	return w, nil
}

func (r *YAMLRepository) write(ctx context.Context, w *workflow.Workflow) error {
	data, err := yaml.Marshal(w)
	if err != nil {
		return cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to marshal workflow: %w", err))
	}
	if err := r.storage.Write(ctx, Path(w.ID), data); err != nil {
		return cerr.WrapStorageWriteError("workflow", err)
	}
	return nil
}

func decode(data []byte) (*workflow.Workflow, error) {
	var w workflow.Workflow
	if err := yaml.Unmarshal(data, &w); err != nil {
		return nil, cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to unmarshal workflow: %w", err))
	}
	return &w, nil
}

// IDFromPath extracts the workflow id from a storage path written by this
// repository.
func IDFromPath(p string) (string, bool) {
	name, ok := strings.CutPrefix(p, WorkflowsPrefix+"/")
	if !ok || strings.Contains(name, "/") {
		return "", false
	}
	return strings.CutSuffix(name, ".yaml")
}
