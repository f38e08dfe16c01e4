package recordstore

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore runs queries against the organisation database. Row ids and
// timestamps are left to column defaults.
type PostgresStore struct {
	db *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Insert(ctx context.Context, table string, row Row) (Row, error) {
	if err := validate(table, row); err != nil {
		return nil, err
	}
	sql, args := buildInsert(table, row)
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("insert into %s: %w", table, err)
	}
	stored, err := pgx.CollectExactlyOneRow(rows, pgx.RowToMap)
	if err != nil {
		return nil, fmt.Errorf("insert into %s: %w", table, err)
	}
	return Row(stored), nil
}

func (s *PostgresStore) Select(ctx context.Context, table string, filter Filter, limit int) ([]Row, error) {
	if err := validate(table, filter); err != nil {
		return nil, err
	}
	where, args := buildWhere(filter, 1)
	sql := "SELECT * FROM " + quote(table) + where
	if limit > 0 {
		sql += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("select from %s: %w", table, err)
	}
	maps, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, fmt.Errorf("select from %s: %w", table, err)
	}
	out := make([]Row, len(maps))
	for i, m := range maps {
		out[i] = Row(m)
	}
	return out, nil
}

func (s *PostgresStore) Count(ctx context.Context, table string, filter Filter) (int, error) {
	if err := validate(table, filter); err != nil {
		return 0, err
	}
	where, args := buildWhere(filter, 1)
	var n int64
	if err := s.db.QueryRow(ctx, "SELECT count(*) FROM "+quote(table)+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return int(n), nil
}

func (s *PostgresStore) Update(ctx context.Context, table string, filter Filter, updates Row) (int, error) {
	if err := validate(table, filter, updates); err != nil {
		return 0, err
	}
	if len(updates) == 0 {
		return 0, nil
	}
	sql, args := buildUpdate(table, filter, updates)
	tag, err := s.db.Exec(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("update %s: %w", table, err)
	}
	return int(tag.RowsAffected()), nil
}

func quote(ident string) string {
	return pgx.Identifier{ident}.Sanitize()
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func buildInsert(table string, row Row) (string, []any) {
	if len(row) == 0 {
		return "INSERT INTO " + quote(table) + " DEFAULT VALUES RETURNING *", nil
	}
	cols := sortedKeys(row)
	quoted := make([]string, len(cols))
	params := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, c := range cols {
		quoted[i] = quote(c)
		params[i] = fmt.Sprintf("$%d", i+1)
		args[i] = row[c]
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING *",
		quote(table), strings.Join(quoted, ", "), strings.Join(params, ", ")), args
}

// buildWhere numbers its placeholders from start so it can follow a SET
// clause.
func buildWhere(filter Filter, start int) (string, []any) {
	if len(filter) == 0 {
		return "", nil
	}
	var (
		conds []string
		args  []any
	)
	n := start
	for _, c := range sortedKeys(filter) {
		v := filter[c]
		if v == nil {
			conds = append(conds, quote(c)+" IS NULL")
			continue
		}
		conds = append(conds, fmt.Sprintf("%s = $%d", quote(c), n))
		args = append(args, v)
		n++
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func buildUpdate(table string, filter Filter, updates Row) (string, []any) {
	cols := sortedKeys(updates)
	sets := make([]string, len(cols))
	args := make([]any, 0, len(cols)+len(filter))
	for i, c := range cols {
		sets[i] = fmt.Sprintf("%s = $%d", quote(c), i+1)
		args = append(args, updates[c])
	}
	where, whereArgs := buildWhere(filter, len(cols)+1)
	return "UPDATE " + quote(table) + " SET " + strings.Join(sets, ", ") + where, append(args, whereArgs...)
}
