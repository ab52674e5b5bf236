// Package wand ties the magick library, its resource registry and the bridge
// workers that serialize native calls into one Runtime with an ordered
// shutdown.
package wand

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/ironsheep/wandbridge/internal/bridge"
	"github.com/ironsheep/wandbridge/internal/magick"
	"github.com/ironsheep/wandbridge/internal/resource"
)

// Worker names used by the packages built on a Runtime.
const (
	WorkerMagick    = "magick"
	WorkerTesseract = "tesseract"
)

// ErrClosed is returned when a resource is created on a closed runtime.
var ErrClosed = errors.New("wand: runtime closed")

// Config holds the runtime settings. Zero values mean defaults.
type Config struct {
	// QueueSize bounds each worker's request queue.
	QueueSize int
	// CallTimeout bounds native calls whose context has no deadline.
	CallTimeout time.Duration
	// ShutdownTimeout bounds each step of Close when ctx has no deadline.
	ShutdownTimeout time.Duration
	// MaxPixels caps the area of any image the library holds.
	MaxPixels int

	Logger           *zap.Logger
	BridgeObserver   bridge.Observer
	RegistryObserver resource.Observer
}

const defaultShutdownTimeout = 10 * time.Second

// Runtime owns one magick library instance.
type Runtime struct {
	cfg      Config
	logger   *zap.Logger
	lib      *magick.Library
	registry *resource.Registry

	mu      sync.Mutex
	workers map[string]*bridge.Bridge
	closed  bool

	closeOnce sync.Once
	closeErr  error
}

// Open builds a runtime and runs Genesis on the magick worker.
func Open(ctx context.Context, cfg Config) (*Runtime, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}

	r := &Runtime{
		cfg:     cfg,
		logger:  logger,
		lib: magick.New(
			magick.WithLogger(logger.Named("magick")),
			magick.WithAreaLimit(cfg.MaxPixels),
		),
		workers: make(map[string]*bridge.Bridge),
	}

	regOpts := []resource.RegistryOption{resource.WithLogger(logger.Named("registry"))}
	if cfg.RegistryObserver != nil {
		regOpts = append(regOpts, resource.WithObserver(cfg.RegistryObserver))
	}
	r.registry = resource.NewRegistry(regOpts...)

	if err := bridge.Exec(ctx, r.Executor(), func(context.Context) error {
		return r.lib.Genesis()
	}); err != nil {
		_ = r.shutdownWorkers(context.Background())
		return nil, fmt.Errorf("failed to instantiate magick library: %w", err)
	}

	logger.Info("wand runtime opened",
		zap.Int("queue_size", r.queueSize()),
		zap.Duration("call_timeout", cfg.CallTimeout))
	return r, nil
}

func (r *Runtime) queueSize() int {
	if r.cfg.QueueSize > 0 {
		return r.cfg.QueueSize
	}
	return bridge.DefaultQueueSize
}

// Library returns the magick library. Every call on it must go through
// Executor.
func (r *Runtime) Library() *magick.Library { return r.lib }

// Registry tracks every resource created against this runtime.
func (r *Runtime) Registry() *resource.Registry { return r.registry }

// Executor returns the worker that owns the magick library.
func (r *Runtime) Executor() bridge.Executor { return r.Worker(WorkerMagick) }

// Logger returns the runtime logger.
func (r *Runtime) Logger() *zap.Logger { return r.logger }

// Worker returns the named worker, creating it on first use. After Close it
// returns a worker that rejects every call with bridge.ErrShutdown.
func (r *Runtime) Worker(name string) *bridge.Bridge {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.workers[name]; ok {
		return b
	}
	opts := []bridge.Option{
		bridge.WithQueueSize(r.cfg.QueueSize),
		bridge.WithLogger(r.logger.Named("bridge")),
	}
	if r.cfg.CallTimeout > 0 {
		opts = append(opts, bridge.WithDefaultTimeout(r.cfg.CallTimeout))
	}
	if r.cfg.BridgeObserver != nil {
		opts = append(opts, bridge.WithObserver(r.cfg.BridgeObserver))
	}
	b := bridge.New(name, opts...)
	if r.closed {
		_ = b.Shutdown(context.Background())
	}
	r.workers[name] = b
	return b
}

// Closed reports whether Close was called.
func (r *Runtime) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// ResourceOptions returns the options resources created against r must use,
// or ErrClosed.
func (r *Runtime) ResourceOptions() ([]resource.Option, error) {
	if r.Closed() {
		return nil, ErrClosed
	}
	return []resource.Option{resource.WithRegistry(r.registry)}, nil
}

// NewResource allocates a resource tracked by r. A resource whose tracking
// lands after Close took its sweep snapshot is freed again and ErrClosed is
// returned, so nothing created against r outlives Terminus.
func NewResource[H comparable](r *Runtime, kind string, ops resource.Ops[H]) (*resource.Base[H], error) {
	opts, err := r.ResourceOptions()
	if err != nil {
		return nil, err
	}
	base, err := resource.New(kind, ops, opts...)
	if err != nil {
		return nil, err
	}
	if r.Closed() {
		if cerr := base.Close(); cerr != nil {
			r.logger.Debug("failed to free resource created during close",
				zap.String("kind", kind), zap.Error(cerr))
		}
		return nil, ErrClosed
	}
	return base, nil
}

// Close sweeps every resource still open, runs Terminus on the magick worker
// and shuts all workers down, in that order. Only the first call does any
// work; later calls return its result.
func (r *Runtime) Close(ctx context.Context) error {
	r.closeOnce.Do(func() {
		r.closeErr = r.close(ctx)
	})
	return r.closeErr
}

func (r *Runtime) close(ctx context.Context) error {
	var errs *multierror.Error

	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	report := r.registry.Sweep()
	if report.Err != nil {
		errs = multierror.Append(errs, fmt.Errorf("sweep: %w", report.Err))
	}

	stepCtx, cancel := r.stepContext(ctx)
	leaked, err := bridge.Call(stepCtx, r.Executor(), func(context.Context) (int, error) {
		return r.lib.Terminus(), nil
	})
	cancel()
	if err != nil {
		errs = multierror.Append(errs, fmt.Errorf("terminus: %w", err))
	}

	if err := r.shutdownWorkers(ctx); err != nil {
		errs = multierror.Append(errs, err)
	}

	r.logger.Info("wand runtime closed",
		zap.Int("tracked", report.Tracked),
		zap.Int("alive", report.Alive),
		zap.Int("unclosed", report.Unclosed),
		zap.Int("leaked", leaked),
		zap.Int64("violations", r.lib.Violations()))
	return errs.ErrorOrNil()
}

func (r *Runtime) stepContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.cfg.ShutdownTimeout)
}

func (r *Runtime) shutdownWorkers(ctx context.Context) error {
	r.mu.Lock()
	workers := make([]*bridge.Bridge, 0, len(r.workers))
	for _, b := range r.workers {
		workers = append(workers, b)
	}
	r.mu.Unlock()

	var errs *multierror.Error
	for _, b := range workers {
		stepCtx, cancel := r.stepContext(ctx)
		if err := b.Shutdown(stepCtx); err != nil {
			errs = multierror.Append(errs, err)
		}
		cancel()
	}
	return errs.ErrorOrNil()
}

// Stats is a snapshot of the runtime.
type Stats struct {
	Tracked    int            `json:"tracked"`
	Alive      int            `json:"alive"`
	Sweeps     int64          `json:"sweeps"`
	LiveNative int            `json:"live_native"`
	Calls      int64          `json:"native_calls"`
	Violations int64          `json:"violations"`
	Workers    []bridge.Stats `json:"workers"`
}

func (r *Runtime) Stats() Stats {
	s := Stats{
		Tracked:    r.registry.Len(),
		Alive:      r.registry.Alive(),
		Sweeps:     r.registry.Sweeps(),
		LiveNative: r.lib.Live(),
		Calls:      r.lib.Calls(),
		Violations: r.lib.Violations(),
	}

	r.mu.Lock()
	for _, b := range r.workers {
		s.Workers = append(s.Workers, b.Stats())
	}
	r.mu.Unlock()

	sort.Slice(s.Workers, func(i, j int) bool { return s.Workers[i].Name < s.Workers[j].Name })
	return s
}
