// Package metrics exports the wand runtime's resource and worker activity to
// Prometheus.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ironsheep/wandbridge/internal/bridge"
	"github.com/ironsheep/wandbridge/internal/resource"
	"github.com/ironsheep/wandbridge/internal/wand"
)

const (
	namespace         = "wandbridge"
	resourceSubsystem = "resource"
	bridgeSubsystem   = "bridge"
	runtimeSubsystem  = "runtime"
)

// Call results used for the result label.
const (
	ResultOK       = "ok"
	ResultError    = "error"
	ResultPanic    = "panic"
	ResultTimeout  = "timeout"
	ResultCanceled = "canceled"
)

// Collector implements resource.Observer and bridge.Observer. Pass it to
// wand.Config and register it once.
type Collector struct {
	// Tracked is the number of resources currently in the registry, per kind.
	Tracked *prometheus.GaugeVec
	// TrackedTotal counts every resource ever tracked, per kind.
	TrackedTotal *prometheus.CounterVec
	Sweeps       prometheus.Counter
	Unclosed     prometheus.Counter
	FreeFailures prometheus.Counter

	Calls    *prometheus.CounterVec
	WaitTime *prometheus.HistogramVec
	RunTime  *prometheus.HistogramVec
}

var (
	_ resource.Observer = (*Collector)(nil)
	_ bridge.Observer   = (*Collector)(nil)
)

func New() *Collector {
	return &Collector{
		Tracked: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: resourceSubsystem,
				Name:      "tracked",
				Help:      "Number of resources currently tracked by the registry.",
			},
			[]string{"kind"},
		),
		TrackedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: resourceSubsystem,
				Name:      "tracked_total",
				Help:      "Total number of resources tracked by the registry.",
			},
			[]string{"kind"},
		),
		Sweeps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: resourceSubsystem,
			Name:      "sweeps_total",
			Help:      "Total number of registry sweeps.",
		}),
		Unclosed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: resourceSubsystem,
			Name:      "swept_unclosed_total",
			Help:      "Total number of resources a sweep found open and force-closed.",
		}),
		FreeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: resourceSubsystem,
			Name:      "sweep_free_failures_total",
			Help:      "Total number of native frees that failed during a sweep.",
		}),
		Calls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: bridgeSubsystem,
				Name:      "calls_total",
				Help:      "Total number of calls executed by a bridge worker, by result.",
			},
			[]string{"bridge", "result"},
		),
		WaitTime: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: bridgeSubsystem,
				Name:      "queue_wait_seconds",
				Help:      "Time calls spent queued before a bridge worker picked them up.",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
			},
			[]string{"bridge"},
		),
		RunTime: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: bridgeSubsystem,
				Name:      "call_duration_seconds",
				Help:      "Time calls spent executing on a bridge worker.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"bridge"},
		),
	}
}

// Register registers every collector with reg. It panics on duplicate
// registration.
func (c *Collector) Register(reg prometheus.Registerer) {
	reg.MustRegister(c.Tracked)
	reg.MustRegister(c.TrackedTotal)
	reg.MustRegister(c.Sweeps)
	reg.MustRegister(c.Unclosed)
	reg.MustRegister(c.FreeFailures)
	reg.MustRegister(c.Calls)
	reg.MustRegister(c.WaitTime)
	reg.MustRegister(c.RunTime)
}

func (c *Collector) ResourceTracked(kind string) {
	c.Tracked.WithLabelValues(kind).Inc()
	c.TrackedTotal.WithLabelValues(kind).Inc()
}

func (c *Collector) ResourceUntracked(kind string) {
	c.Tracked.WithLabelValues(kind).Dec()
}

func (c *Collector) RegistrySwept(report resource.SweepReport) {
	c.Sweeps.Inc()
	c.Unclosed.Add(float64(report.Unclosed))
	c.FreeFailures.Add(float64(report.Failed))
}

func (c *Collector) CallFinished(name string, wait, run time.Duration, err error) {
	c.Calls.WithLabelValues(name, Result(err)).Inc()
	c.WaitTime.WithLabelValues(name).Observe(wait.Seconds())
	c.RunTime.WithLabelValues(name).Observe(run.Seconds())
}

// Result maps a call error to its result label.
func Result(err error) string {
	var perr *bridge.PanicError
	switch {
	case err == nil:
		return ResultOK
	case errors.As(err, &perr):
		return ResultPanic
	case errors.Is(err, bridge.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return ResultTimeout
	case errors.Is(err, context.Canceled):
		return ResultCanceled
	default:
		return ResultError
	}
}

// RegisterRuntime exports gauges read from rt on every scrape.
func RegisterRuntime(reg prometheus.Registerer, rt *wand.Runtime) {
	gauge := func(name, help string, fn func(wand.Stats) float64) prometheus.GaugeFunc {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: runtimeSubsystem,
			Name:      name,
			Help:      help,
		}, func() float64 { return fn(rt.Stats()) })
	}
	reg.MustRegister(gauge("live_native_handles", "Native handles currently allocated by the library.",
		func(s wand.Stats) float64 { return float64(s.LiveNative) }))
	reg.MustRegister(gauge("alive_wrappers", "Tracked resources whose wrapper is still reachable.",
		func(s wand.Stats) float64 { return float64(s.Alive) }))
	reg.MustRegister(gauge("thread_violations", "Native calls made off the owning worker thread.",
		func(s wand.Stats) float64 { return float64(s.Violations) }))
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer, logger *zap.Logger) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{
		ErrorLog:      zap.NewStdLog(logger),
		ErrorHandling: promhttp.ContinueOnError,
	})
}

// Serve exposes g on addr at path until ctx is done.
func Serve(ctx context.Context, addr, path string, g prometheus.Gatherer, logger *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle(path, Handler(g, logger))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("serving metrics", zap.String("addr", addr), zap.String("path", path))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
