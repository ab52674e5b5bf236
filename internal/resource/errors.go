package resource

import (
	"errors"
	"strings"
)

var (
	// ErrAllocation is returned when a resource's Alloc yields a null handle.
	ErrAllocation = errors.New("allocation returned a null handle")

	// ErrClone is returned when a resource's Clone yields a null handle. The
	// original resource stays open.
	ErrClone = errors.New("clone returned a null handle")

	// ErrClosed is returned by any operation on a resource that was already
	// closed or claimed.
	ErrClosed = errors.New("resource already closed")

	// ErrInvalidReplacement is returned when Replace is given a null handle
	// or a resource that no longer owns one.
	ErrInvalidReplacement = errors.New("replacement handle is null")

	// ErrFree wraps a failure reported by a resource's Free. The handle is
	// considered released regardless.
	ErrFree = errors.New("free failed")

	// ErrUnknownProperty is returned by Stateful implementations for a
	// property name they do not recognize.
	ErrUnknownProperty = errors.New("unknown property")
)

// Error describes a failed lifecycle operation on a resource.
//
// errors.Is matches both the sentinel in Err and anything in the Cause chain.
type Error struct {
	Kind  string // concrete resource type, e.g. "image"
	Op    string // lifecycle operation, e.g. "alloc", "close"
	Err   error  // one of the sentinels in this package
	Cause error  // underlying library failure, may be nil
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind)
	if e.Op != "" {
		b.WriteString(" ")
		b.WriteString(e.Op)
	}
	b.WriteString(": ")
	b.WriteString(e.Err.Error())
	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}
	return b.String()
}

// Unwrap returns the sentinel and the cause.
func (e *Error) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Err}
	}
	return []error{e.Err, e.Cause}
}

func newError(kind, op string, sentinel, cause error) *Error {
	return &Error{Kind: kind, Op: op, Err: sentinel, Cause: cause}
}
