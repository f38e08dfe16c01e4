package recordstore

import (
	"context"
	"fmt"
	"maps"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"gopkg.in/yaml.v3"

	"github.com/volunteerhub/volunteerhub/pkg/storage"
)

const recordsPrefix = "records"

// DocumentStore keeps each row as a YAML document at
// records/<table>/<id>.yaml. Scans are linear, which suits local
// development and tests.
type DocumentStore struct {
	storage storage.Storage
	now     func() time.Time
	mu      sync.Mutex
}

var _ Store = (*DocumentStore)(nil)

func NewDocumentStore(s storage.Storage) *DocumentStore {
	return &DocumentStore{storage: s, now: time.Now}
}

func rowPath(table, id string) string {
	return path.Join(recordsPrefix, table, id+".yaml")
}

// Insert assigns a ULID id and created_at when the row lacks them.
func (s *DocumentStore) Insert(ctx context.Context, table string, row Row) (Row, error) {
	if err := validate(table, row); err != nil {
		return nil, err
	}
	stored := maps.Clone(row)
	if stored == nil {
		stored = Row{}
	}
	id, _ := stored["id"].(string)
	if id == "" {
		id = ulid.Make().String()
		stored["id"] = id
	}
	if strings.ContainsAny(id, "/\\") {
		return nil, fmt.Errorf("%w: id %q", ErrInvalidIdentifier, id)
	}
	if _, ok := stored["created_at"]; !ok {
		stored["created_at"] = s.now().UTC()
	}
	if err := s.write(ctx, table, id, stored); err != nil {
		return nil, err
	}
	return stored, nil
}

func (s *DocumentStore) Select(ctx context.Context, table string, filter Filter, limit int) ([]Row, error) {
	if err := validate(table, filter); err != nil {
		return nil, err
	}
	rows, err := s.scan(ctx, table, filter)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

func (s *DocumentStore) Count(ctx context.Context, table string, filter Filter) (int, error) {
	if err := validate(table, filter); err != nil {
		return 0, err
	}
	rows, err := s.scan(ctx, table, filter)
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}

func (s *DocumentStore) Update(ctx context.Context, table string, filter Filter, updates Row) (int, error) {
	if err := validate(table, filter, updates); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.scan(ctx, table, filter)
	if err != nil {
		return 0, err
	}
	for _, row := range rows {
		maps.Copy(row, updates)
		id, _ := row["id"].(string)
		if err := s.write(ctx, table, id, row); err != nil {
			return 0, err
		}
	}
	return len(rows), nil
}

// scan returns matching rows in id order, which for generated ids is
// insertion order.
func (s *DocumentStore) scan(ctx context.Context, table string, filter Filter) ([]Row, error) {
	paths, err := s.storage.List(ctx, path.Join(recordsPrefix, table))
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", table, err)
	}
	sort.Strings(paths)
	var rows []Row
	for _, p := range paths {
		if !strings.HasSuffix(p, ".yaml") {
			continue
		}
		data, err := s.storage.Read(ctx, p)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", p, err)
		}
		var row Row
		if err := yaml.Unmarshal(data, &row); err != nil {
			return nil, fmt.Errorf("decode %s: %w", p, err)
		}
		if Matches(row, filter) {
			rows = append(rows, row)
		}
	}
	return rows, nil
}

func (s *DocumentStore) write(ctx context.Context, table, id string, row Row) error {
	data, err := yaml.Marshal(map[string]any(row))
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", table, id, err)
	}
	if err := s.storage.Write(ctx, rowPath(table, id), data); err != nil {
		return fmt.Errorf("write %s/%s: %w", table, id, err)
	}
	return nil
}
