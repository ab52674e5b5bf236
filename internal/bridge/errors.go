package bridge

import (
	"errors"
	"fmt"
)

var (
	// ErrShutdown is returned for calls submitted after Shutdown, and for
	// calls still queued when the worker exited.
	ErrShutdown = errors.New("bridge: shut down")

	// ErrTimeout is returned when the caller's deadline passes before the
	// worker delivered a result. It wraps context.DeadlineExceeded.
	ErrTimeout = errors.New("bridge: call timed out")
)

// PanicError carries a panic recovered from a payload on the worker.
type PanicError struct {
	Bridge string
	Value  any
	Stack  []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("bridge %s: panic in call: %v", e.Bridge, e.Value)
}

// Unwrap exposes the panic value when it was itself an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}
