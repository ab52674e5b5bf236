package bridge

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// DefaultQueueSize is the request buffer used when WithQueueSize is not set.
const DefaultQueueSize = 64

// State is the lifecycle state of a Bridge.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateShutdown
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateShutdown:
		return "shutdown"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Func is a payload executed on the worker. The context it receives is the
// caller's context, marked as running on the worker.
type Func func(ctx context.Context) (any, error)

// Observer is notified after each call the worker finished. wait is the time
// spent queued, run the time spent executing.
type Observer interface {
	CallFinished(bridge string, wait, run time.Duration, err error)
}

type result struct {
	value any
	err   error
}

type request struct {
	ctx      context.Context
	fn       Func
	done     chan result
	enqueued time.Time
}

type workerKey struct{}

// Bridge runs payloads one at a time on a dedicated worker goroutine.
type Bridge struct {
	name           string
	queueSize      int
	defaultTimeout time.Duration
	logger         *zap.Logger
	observer       Observer

	mu       sync.Mutex
	state    State
	requests chan *request
	exited   chan struct{}

	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	panics    atomic.Int64
	timedOut  atomic.Int64
	skipped   atomic.Int64
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithQueueSize sets how many requests may wait for the worker before
// callers block on submission.
func WithQueueSize(n int) Option {
	return func(b *Bridge) {
		if n > 0 {
			b.queueSize = n
		}
	}
}

// WithDefaultTimeout bounds calls whose context carries no deadline.
func WithDefaultTimeout(d time.Duration) Option {
	return func(b *Bridge) { b.defaultTimeout = d }
}

func WithLogger(l *zap.Logger) Option {
	return func(b *Bridge) {
		if l != nil {
			b.logger = l
		}
	}
}

func WithObserver(o Observer) Option {
	return func(b *Bridge) { b.observer = o }
}

// New returns an idle Bridge. No goroutine is started until the first call.
func New(name string, opts ...Option) *Bridge {
	b := &Bridge{
		name:      name,
		queueSize: DefaultQueueSize,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With(zap.String("bridge", name))
	return b
}

// Name returns the name given to New.
func (b *Bridge) Name() string { return b.name }

// State returns the current lifecycle state.
func (b *Bridge) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// OnWorker reports whether ctx was handed to a payload by this bridge's
// worker.
func (b *Bridge) OnWorker(ctx context.Context) bool {
	owner, _ := ctx.Value(workerKey{}).(*Bridge)
	return owner == b
}

// start launches the worker on first use. It returns the channels the caller
// must use, or ErrShutdown.
func (b *Bridge) start() (chan *request, chan struct{}, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateShutdown:
		return nil, nil, ErrShutdown
	case StateIdle:
		b.requests = make(chan *request, b.queueSize)
		b.exited = make(chan struct{})
		b.state = StateRunning
		go b.run(b.requests, b.exited)
		b.logger.Debug("started bridge worker", zap.Int("queue_size", b.queueSize))
	}
	return b.requests, b.exited, nil
}

// Do runs fn on the worker and blocks until it returns, ctx expires or the
// bridge shuts down. Calls are served in submission order.
func (b *Bridge) Do(ctx context.Context, fn Func) (any, error) {
	if b.OnWorker(ctx) {
		return b.invoke(ctx, fn)
	}

	requests, exited, err := b.start()
	if err != nil {
		return nil, err
	}

	if _, ok := ctx.Deadline(); !ok && b.defaultTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.defaultTimeout)
		defer cancel()
	}

	req := &request{
		ctx:      ctx,
		fn:       fn,
		done:     make(chan result, 1),
		enqueued: time.Now(),
	}
	b.submitted.Add(1)

	select {
	case requests <- req:
	case <-ctx.Done():
		return nil, b.expired(ctx)
	case <-exited:
		return nil, ErrShutdown
	}

	select {
	case res := <-req.done:
		return res.value, res.err
	case <-ctx.Done():
		return nil, b.expired(ctx)
	case <-exited:
		// The worker may have delivered just before exiting.
		select {
		case res := <-req.done:
			return res.value, res.err
		default:
			return nil, ErrShutdown
		}
	}
}

func (b *Bridge) expired(ctx context.Context) error {
	err := ctx.Err()
	if errors.Is(err, context.DeadlineExceeded) {
		b.timedOut.Add(1)
		return fmt.Errorf("%w: %s: %w", ErrTimeout, b.name, err)
	}
	return fmt.Errorf("bridge %s: %w", b.name, err)
}

func (b *Bridge) run(requests chan *request, exited chan struct{}) {
	// The thread exits together with the worker; it is never unlocked.
	runtime.LockOSThread()
	defer close(exited)

	for req := range requests {
		if req == nil {
			b.drain(requests)
			return
		}
		if req.ctx.Err() != nil {
			b.skipped.Add(1)
			continue
		}
		b.serve(req)
	}
}

func (b *Bridge) serve(req *request) {
	started := time.Now()
	ctx := context.WithValue(req.ctx, workerKey{}, b)
	value, err := b.invoke(ctx, req.fn)
	req.done <- result{value: value, err: err}

	if b.observer != nil {
		b.observer.CallFinished(b.name, started.Sub(req.enqueued), time.Since(started), err)
	}
}

// invoke runs fn, turning a panic into a *PanicError.
func (b *Bridge) invoke(ctx context.Context, fn Func) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			b.panics.Add(1)
			b.failed.Add(1)
			stack := debug.Stack()
			b.logger.Error("recovered panic in bridge call",
				zap.Any("panic", r), zap.ByteString("stack", stack))
			value, err = nil, &PanicError{Bridge: b.name, Value: r, Stack: stack}
		}
	}()

	value, err = fn(ctx)
	if err != nil {
		b.failed.Add(1)
	} else {
		b.completed.Add(1)
	}
	return value, err
}

// drain fails whatever is still buffered after the shutdown sentinel.
func (b *Bridge) drain(requests chan *request) {
	n := 0
	for {
		select {
		case req := <-requests:
			if req != nil {
				req.done <- result{err: ErrShutdown}
				n++
			}
		default:
			if n > 0 {
				b.logger.Debug("rejected queued calls at shutdown", zap.Int("count", n))
			}
			return
		}
	}
}

// Shutdown stops accepting calls, lets the worker finish everything queued
// ahead of the stop request and waits for it to exit or for ctx to expire.
// It is safe to call more than once.
func (b *Bridge) Shutdown(ctx context.Context) error {
	b.mu.Lock()
	prev := b.state
	b.state = StateShutdown
	requests, exited := b.requests, b.exited
	b.mu.Unlock()

	if exited == nil {
		return nil
	}
	if prev == StateRunning {
		select {
		case requests <- nil:
		case <-ctx.Done():
			return fmt.Errorf("bridge %s: shutdown: %w", b.name, ctx.Err())
		}
		b.logger.Debug("stopping bridge worker")
	}

	select {
	case <-exited:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("bridge %s: shutdown: %w", b.name, ctx.Err())
	}
}

// Stats is a snapshot of a Bridge's counters.
type Stats struct {
	Name      string `json:"name"`
	State     string `json:"state"`
	Submitted int64  `json:"submitted"`
	Completed int64  `json:"completed"`
	Failed    int64  `json:"failed"`
	Panics    int64  `json:"panics"`
	TimedOut  int64  `json:"timed_out"`
	Skipped   int64  `json:"skipped"`
	Queued    int    `json:"queued"`
}

func (b *Bridge) Stats() Stats {
	b.mu.Lock()
	state, requests := b.state, b.requests
	b.mu.Unlock()

	return Stats{
		Name:      b.name,
		State:     state.String(),
		Submitted: b.submitted.Load(),
		Completed: b.completed.Load(),
		Failed:    b.failed.Load(),
		Panics:    b.panics.Load(),
		TimedOut:  b.timedOut.Load(),
		Skipped:   b.skipped.Load(),
		Queued:    len(requests),
	}
}
