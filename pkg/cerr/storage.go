package cerr

import (
	"errors"
	"fmt"

	"github.com/volunteerhub/volunteerhub/pkg/recordstore"
	"github.com/volunteerhub/volunteerhub/pkg/storage"
)

func WrapStorageReadError(target string, err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return NewError(NotFound, fmt.Sprintf("%s not found", target), err)
	}
	return NewError(Internal, "server error", fmt.Errorf("failed to read %s: %w", target, err))
}

func WrapStorageWriteError(target string, err error) error {
	return NewError(Internal, "server error", fmt.Errorf("failed to write %s: %w", target, err))
}

func WrapStorageDeleteError(target string, err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return NewError(NotFound, fmt.Sprintf("%s not found", target), err)
	}
	return NewError(Internal, "server error", fmt.Errorf("failed to delete %s: %w", target, err))
}

// WrapRecordError classifies a record store failure on table.
func WrapRecordError(table string, err error) error {
	switch {
	case errors.Is(err, recordstore.ErrInvalidIdentifier):
		return NewError(InvalidArgument, fmt.Sprintf("invalid record query on %s", table), err)
	default:
		return NewError(Unavailable, "record store unavailable", fmt.Errorf("record store %s: %w", table, err))
	}
}
