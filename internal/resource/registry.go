package resource

import (
	"errors"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
)

// Observer receives registry events. internal/metrics implements it.
type Observer interface {
	ResourceTracked(kind string)
	ResourceUntracked(kind string)
	RegistrySwept(report SweepReport)
}

// trackable is the view of a resource core the registry needs.
type trackable interface {
	resourceID() uint64
	resourceKind() string
	forceClose() error
}

type entry struct {
	res   trackable
	alive func() bool
}

// Registry is a table of live resources keyed by id.
//
// Entries hold a weak pointer to the wrapper, never a strong one, so a tracked
// resource can still be garbage collected; its cleanup then removes the entry.
type Registry struct {
	mu      sync.Mutex
	entries map[uint64]entry
	ids     atomic.Uint64
	sweeps  atomic.Int64

	logger   *zap.Logger
	observer Observer
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithLogger sets the registry logger. Defaults to a no-op logger.
func WithLogger(l *zap.Logger) RegistryOption {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithObserver reports registry events to o.
func WithObserver(o Observer) RegistryOption {
	return func(r *Registry) { r.observer = o }
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		entries: make(map[uint64]entry),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

var (
	defaultRegistry     *Registry
	defaultRegistryOnce sync.Once
)

// Default returns the process-wide registry.
func Default() *Registry {
	defaultRegistryOnce.Do(func() {
		if defaultRegistry == nil {
			defaultRegistry = NewRegistry()
		}
	})
	return defaultRegistry
}

// SetDefault replaces the process-wide registry. Call it before any resource
// is created.
func SetDefault(r *Registry) {
	defaultRegistryOnce.Do(func() {})
	defaultRegistry = r
}

func (r *Registry) nextID() uint64 { return r.ids.Add(1) }

func (r *Registry) log() *zap.Logger { return r.logger }

// track is a no-op if the id is already present.
func (r *Registry) track(res trackable, alive func() bool) {
	id := res.resourceID()

	r.mu.Lock()
	_, exists := r.entries[id]
	if !exists {
		r.entries[id] = entry{res: res, alive: alive}
	}
	r.mu.Unlock()

	if !exists && r.observer != nil {
		r.observer.ResourceTracked(res.resourceKind())
	}
}

// untrack is a no-op if the id is absent.
func (r *Registry) untrack(id uint64, kind string) {
	r.mu.Lock()
	_, exists := r.entries[id]
	if exists {
		delete(r.entries, id)
	}
	r.mu.Unlock()

	if exists && r.observer != nil {
		r.observer.ResourceUntracked(kind)
	}
}

// Contains reports whether the resource with the given id is tracked.
func (r *Registry) Contains(id uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[id]
	return ok
}

// Len returns the number of tracked resources.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Alive returns how many tracked resources still have a reachable wrapper.
func (r *Registry) Alive() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.entries {
		if e.alive() {
			n++
		}
	}
	return n
}

// Sweeps returns how many times Sweep has run.
func (r *Registry) Sweeps() int64 { return r.sweeps.Load() }

// SweepReport summarizes a Sweep.
type SweepReport struct {
	// Tracked is the number of entries in the registry when the sweep began.
	Tracked int
	// Alive is how many of those still had a reachable wrapper.
	Alive int
	// Unclosed is how many were still open and were force-closed.
	Unclosed int
	// Failed is how many force-closes reported a free failure.
	Failed int
	// Err aggregates the free failures, nil if there were none.
	Err error
}

// Sweep force-closes every tracked resource that is still open and leaves the
// registry empty. It must run before the native library is torn down.
//
// Entries are detached under the registry mutex and freed after it is
// released, so resources being closed concurrently by other goroutines
// neither deadlock against the sweep nor get freed twice. A failing free is
// logged and the sweep moves on.
func (r *Registry) Sweep() SweepReport {
	r.mu.Lock()
	entries := make([]entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	clear(r.entries)
	r.mu.Unlock()

	r.sweeps.Add(1)
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].res.resourceID() < entries[j].res.resourceID()
	})

	report := SweepReport{Tracked: len(entries)}
	r.logger.Debug("sweeping tracked resources", zap.Int("tracked", report.Tracked))

	var errs *multierror.Error
	for _, e := range entries {
		if r.observer != nil {
			r.observer.ResourceUntracked(e.res.resourceKind())
		}
		if e.alive() {
			report.Alive++
		}

		err := e.res.forceClose()
		if errors.Is(err, ErrClosed) {
			continue
		}
		report.Unclosed++
		if err != nil {
			report.Failed++
			errs = multierror.Append(errs, err)
			r.logger.Warn("failed to free resource during sweep",
				zap.String("kind", e.res.resourceKind()),
				zap.Uint64("id", e.res.resourceID()),
				zap.Error(err))
		}
	}
	report.Err = errs.ErrorOrNil()

	r.logger.Debug("finished sweep",
		zap.Int("tracked", report.Tracked),
		zap.Int("alive", report.Alive),
		zap.Int("unclosed", report.Unclosed),
		zap.Int("failed", report.Failed))

	if r.observer != nil {
		r.observer.RegistrySwept(report)
	}
	return report
}
