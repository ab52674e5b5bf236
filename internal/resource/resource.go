package resource

import (
	"errors"
	"runtime"
	"sync"
	"weak"

	"go.uber.org/zap"
)

// Ops are the three capability points a concrete resource type supplies.
//
// The zero value of H is the null handle. Alloc and Clone report a null
// handle either by returning it with a nil error (mapped to ErrAllocation or
// ErrClone) or by returning an error, which is propagated as the cause.
type Ops[H comparable] interface {
	Alloc() (H, error)
	Free(h H) error
	Clone(h H) (H, error)
}

// Option configures a Base at construction.
type Option func(*options)

type options struct {
	registry *Registry
}

// WithRegistry tracks the resource in r instead of the process-wide default.
func WithRegistry(r *Registry) Option {
	return func(o *options) {
		if r != nil {
			o.registry = r
		}
	}
}

// core owns the handle. It lives apart from Base so that the GC cleanup
// attached to a Base can reach it without keeping the Base alive.
type core[H comparable] struct {
	mu       sync.Mutex
	id       uint64
	kind     string
	ops      Ops[H]
	handle   H
	registry *Registry
}

// Base owns exactly one native handle while open.
type Base[H comparable] struct {
	c       *core[H]
	cleanup runtime.Cleanup
}

// New allocates a handle through ops.Alloc and wraps it.
func New[H comparable](kind string, ops Ops[H], opts ...Option) (*Base[H], error) {
	h, err := ops.Alloc()
	if err != nil {
		return nil, newError(kind, "alloc", ErrAllocation, err)
	}
	var zero H
	if h == zero {
		return nil, newError(kind, "alloc", ErrAllocation, nil)
	}
	return adopt(kind, ops, h, opts), nil
}

// Wrap takes ownership of an existing handle, e.g. one returned by a library
// call that creates a new object.
func Wrap[H comparable](kind string, ops Ops[H], h H, opts ...Option) (*Base[H], error) {
	var zero H
	if h == zero {
		return nil, newError(kind, "wrap", ErrAllocation, nil)
	}
	return adopt(kind, ops, h, opts), nil
}

func adopt[H comparable](kind string, ops Ops[H], h H, opts []Option) *Base[H] {
	o := options{registry: Default()}
	for _, opt := range opts {
		opt(&o)
	}

	c := &core[H]{
		id:       o.registry.nextID(),
		kind:     kind,
		ops:      ops,
		handle:   h,
		registry: o.registry,
	}
	b := &Base[H]{c: c}
	b.cleanup = runtime.AddCleanup(b, (*core[H]).finalize, c)

	wp := weak.Make(b)
	o.registry.track(c, func() bool { return wp.Value() != nil })
	return b
}

// ID is the registry key of this resource. It stays valid after Close.
func (b *Base[H]) ID() uint64 { return b.c.id }

// Kind names the concrete resource type.
func (b *Base[H]) Kind() string { return b.c.kind }

// Closed reports whether the resource no longer owns a handle.
func (b *Base[H]) Closed() bool {
	b.c.mu.Lock()
	defer b.c.mu.Unlock()
	var zero H
	return b.c.handle == zero
}

// Handle returns the owned handle, or ErrClosed.
//
// The handle is only guaranteed valid while b is reachable; prefer Use, which
// keeps b alive for the duration of the callback.
func (b *Base[H]) Handle() (H, error) {
	b.c.mu.Lock()
	defer b.c.mu.Unlock()
	var zero H
	if b.c.handle == zero {
		return zero, newError(b.c.kind, "handle", ErrClosed, nil)
	}
	return b.c.handle, nil
}

// Use calls fn with the owned handle. The mutex is not held while fn runs,
// so fn may call other methods on b, but must not close it.
func (b *Base[H]) Use(fn func(h H) error) error {
	h, err := b.Handle()
	if err != nil {
		return err
	}
	err = fn(h)
	runtime.KeepAlive(b)
	return err
}

// Claim detaches the handle without freeing it, removes the resource from
// its registry and returns the handle. The caller now owns it.
func (b *Base[H]) Claim() (H, error) {
	h, err := b.c.detach("claim", true)
	if err == nil {
		b.cleanup.Stop()
	}
	return h, err
}

// Close frees the handle and removes the resource from its registry. A
// second Close fails with ErrClosed.
func (b *Base[H]) Close() error {
	err := b.c.release("close", true)
	if !errors.Is(err, ErrClosed) {
		b.cleanup.Stop()
	}
	return err
}

// Replace frees the current handle and adopts h. Replacing a handle with
// itself is a no-op.
func (b *Base[H]) Replace(h H) error {
	var zero H
	if h == zero {
		return newError(b.c.kind, "replace", ErrInvalidReplacement, nil)
	}

	c := b.c
	c.mu.Lock()
	old := c.handle
	if old == zero {
		c.mu.Unlock()
		return newError(c.kind, "replace", ErrClosed, nil)
	}
	if old == h {
		c.mu.Unlock()
		return nil
	}
	c.handle = h
	c.mu.Unlock()

	if err := c.ops.Free(old); err != nil {
		return newError(c.kind, "replace", ErrFree, err)
	}
	return nil
}

// ReplaceWith claims other's handle and adopts it in place of the current
// one. other is closed afterwards. If b is already closed, other is left
// untouched.
func (b *Base[H]) ReplaceWith(other *Base[H]) error {
	if b.Closed() {
		return newError(b.c.kind, "replace", ErrClosed, nil)
	}
	if other == nil || other == b {
		return newError(b.c.kind, "replace", ErrInvalidReplacement, nil)
	}
	h, err := other.Claim()
	if err != nil {
		return newError(b.c.kind, "replace", ErrInvalidReplacement, err)
	}
	if err := b.Replace(h); err != nil {
		if errors.Is(err, ErrClosed) {
			// Lost a race with Close; the claimed handle has no owner left.
			_ = b.c.ops.Free(h)
		}
		return err
	}
	return nil
}

// Copy clones the handle into a new resource of the same kind, tracked in
// the same registry. Concrete types wrap the result in their own type.
func (b *Base[H]) Copy() (*Base[H], error) {
	var dup *Base[H]
	err := b.Use(func(h H) error {
		cloned, err := b.c.ops.Clone(h)
		if err != nil {
			return newError(b.c.kind, "clone", ErrClone, err)
		}
		var zero H
		if cloned == zero {
			return newError(b.c.kind, "clone", ErrClone, nil)
		}
		dup = adopt(b.c.kind, b.c.ops, cloned, []Option{WithRegistry(b.c.registry)})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return dup, nil
}

func (c *core[H]) detach(op string, untrack bool) (H, error) {
	var zero H
	c.mu.Lock()
	h := c.handle
	if h == zero {
		c.mu.Unlock()
		return zero, newError(c.kind, op, ErrClosed, nil)
	}
	c.handle = zero
	c.mu.Unlock()

	if untrack {
		c.registry.untrack(c.id, c.kind)
	}
	return h, nil
}

// release is the single teardown path. Only the caller that detaches the
// handle frees it; Free runs without c.mu held since it may block on a
// worker that needs the lock.
func (c *core[H]) release(op string, untrack bool) error {
	h, err := c.detach(op, untrack)
	if err != nil {
		return err
	}
	if err := c.ops.Free(h); err != nil {
		return newError(c.kind, op, ErrFree, err)
	}
	return nil
}

// finalize runs when the owning Base became unreachable without Close.
// Free may block on a worker, so it does not run on the cleanup goroutine.
func (c *core[H]) finalize() {
	go func() {
		err := c.release("finalize", true)
		switch {
		case err == nil:
			c.registry.log().Debug("finalized unclosed resource",
				zap.String("kind", c.kind), zap.Uint64("id", c.id))
		case !errors.Is(err, ErrClosed):
			c.registry.log().Warn("finalizer failed to free resource",
				zap.String("kind", c.kind), zap.Uint64("id", c.id), zap.Error(err))
		}
	}()
}

func (c *core[H]) resourceID() uint64 { return c.id }

func (c *core[H]) resourceKind() string { return c.kind }

func (c *core[H]) forceClose() error { return c.release("sweep", false) }
