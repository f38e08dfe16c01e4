// Package panicerr converts panics into errors so a misbehaving callback
// fails its own unit of work instead of the process.
package panicerr

import (
	"context"

	"github.com/sourcegraph/conc/panics"
)

// Run calls fn and returns its error, or the recovered panic as an error.
func Run(fn func() error) error {
	var (
		catcher panics.Catcher
		err     error
	)
	catcher.Try(func() {
		err = fn()
	})
	if r := catcher.Recovered(); r != nil {
		return r.AsError()
	}
	return err
}

// RunValue is Run for functions that also produce a value. On panic the
// zero value is returned.
func RunValue[T any](ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	var v T
	err := Run(func() error {
		var err error
		v, err = fn(ctx)
		return err
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v, nil
}
