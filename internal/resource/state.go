package resource

import (
	"context"
	"errors"
	"reflect"

	"github.com/hashicorp/go-multierror"
)

// ErrGuardPopped is returned by Pop on a guard that was already popped.
var ErrGuardPopped = errors.New("state guard already popped")

// Stateful is implemented by resources whose properties can be read and
// overridden by name.
type Stateful interface {
	State(ctx context.Context, name string) (any, error)
	SetState(ctx context.Context, name string, value any) error
}

// Property is a named value to apply through a Guard. A nil Value means the
// property is absent and is skipped entirely.
type Property struct {
	Name  string
	Value any
}

// Set returns a Property. Passing a nil value (or a nil pointer, map or
// slice) makes it absent.
func Set(name string, value any) Property {
	return Property{Name: name, Value: value}
}

// Opt returns a Property holding *v, or an absent one when v is nil.
func Opt[T any](name string, v *T) Property {
	if v == nil {
		return Property{Name: name}
	}
	return Property{Name: name, Value: *v}
}

func absent(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}

// Guard holds the prior values of the properties one Push applied.
type Guard struct {
	target Stateful
	saved  []Property
	popped bool
}

// Push applies props to target, recording each prior value. Absent
// properties are neither read nor applied. If any read or write fails, the
// properties applied so far are restored and the error is returned.
func Push(ctx context.Context, target Stateful, props ...Property) (*Guard, error) {
	g := &Guard{target: target}
	for _, p := range props {
		if absent(p.Value) {
			continue
		}
		old, err := target.State(ctx, p.Name)
		if err != nil {
			return nil, g.rollback(ctx, err)
		}
		if err := target.SetState(ctx, p.Name, p.Value); err != nil {
			return nil, g.rollback(ctx, err)
		}
		g.saved = append(g.saved, Property{Name: p.Name, Value: old})
	}
	return g, nil
}

func (g *Guard) rollback(ctx context.Context, cause error) error {
	if err := g.Pop(ctx); err != nil {
		return multierror.Append(cause, err)
	}
	return cause
}

// Pop restores the recorded values in reverse order of application. It keeps
// going after a failed restore and returns all failures together.
func (g *Guard) Pop(ctx context.Context) error {
	if g.popped {
		return ErrGuardPopped
	}
	g.popped = true

	var errs *multierror.Error
	for i := len(g.saved) - 1; i >= 0; i-- {
		p := g.saved[i]
		if err := g.target.SetState(ctx, p.Name, p.Value); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	g.saved = nil
	return errs.ErrorOrNil()
}

// WithState pushes props onto target, runs fn and pops on every exit,
// including a panic in fn. A Pop failure is returned only when fn succeeded.
func WithState(ctx context.Context, target Stateful, props []Property, fn func() error) (err error) {
	g, err := Push(ctx, target, props...)
	if err != nil {
		return err
	}
	defer func() {
		if perr := g.Pop(ctx); perr != nil && err == nil {
			err = perr
		}
	}()
	return fn()
}
