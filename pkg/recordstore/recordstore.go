// Package recordstore is a minimal table/row abstraction over the
// organisation's relational data. Workflows address rows by table name and
// equality filters only.
package recordstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
)

// ErrInvalidIdentifier is returned for table or column names outside
// [a-z_][a-z0-9_]*.
var ErrInvalidIdentifier = errors.New("invalid identifier")

// Row is one record keyed by column name.
type Row map[string]any

// Filter is a conjunction of column equality conditions. A nil value matches
// a missing or null column.
type Filter map[string]any

type Store interface {
	// Insert writes row into table and returns the stored row, including
	// any generated columns.
	Insert(ctx context.Context, table string, row Row) (Row, error)
	// Select returns rows matching filter. limit <= 0 means no limit.
	Select(ctx context.Context, table string, filter Filter, limit int) ([]Row, error)
	Count(ctx context.Context, table string, filter Filter) (int, error)
	// Update sets updates on every row matching filter and returns how many
	// rows were changed.
	Update(ctx context.Context, table string, filter Filter, updates Row) (int, error)
}

var identifierRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

func ValidateIdentifier(name string) error {
	if !identifierRe.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidIdentifier, name)
	}
	return nil
}

func validate(table string, maps ...map[string]any) error {
	if err := ValidateIdentifier(table); err != nil {
		return err
	}
	for _, m := range maps {
		for col := range m {
			if err := ValidateIdentifier(col); err != nil {
				return err
			}
		}
	}
	return nil
}
