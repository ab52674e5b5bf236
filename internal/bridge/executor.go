package bridge

import (
	"context"
	"fmt"
	"runtime/debug"
)

// Executor runs payloads. *Bridge serializes them on one worker; Direct runs
// them on the calling goroutine.
type Executor interface {
	Do(ctx context.Context, fn Func) (any, error)
}

var (
	_ Executor = (*Bridge)(nil)
	_ Executor = Direct{}
)

// Direct runs every payload inline. Use it for collaborators that are
// already safe for concurrent use, and in tests.
type Direct struct{}

func (Direct) Do(ctx context.Context, fn Func) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			value, err = nil, &PanicError{Bridge: "direct", Value: r, Stack: debug.Stack()}
		}
	}()
	return fn(ctx)
}

// Call runs fn on e and returns its typed result.
func Call[T any](ctx context.Context, e Executor, fn func(ctx context.Context) (T, error)) (T, error) {
	v, err := e.Do(ctx, func(ctx context.Context) (any, error) {
		return fn(ctx)
	})
	var zero T
	if err != nil {
		return zero, err
	}
	if v == nil {
		return zero, nil
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("bridge: result is %T, not %T", v, zero)
	}
	return t, nil
}

// Exec runs fn on e for its error only.
func Exec(ctx context.Context, e Executor, fn func(ctx context.Context) error) error {
	_, err := e.Do(ctx, func(ctx context.Context) (any, error) {
		return nil, fn(ctx)
	})
	return err
}
