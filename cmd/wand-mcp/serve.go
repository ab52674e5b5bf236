package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/ironsheep/wandbridge/internal/config"
	"github.com/ironsheep/wandbridge/internal/logging"
	"github.com/ironsheep/wandbridge/internal/metrics"
	"github.com/ironsheep/wandbridge/internal/ocr"
	"github.com/ironsheep/wandbridge/internal/server"
	"github.com/ironsheep/wandbridge/internal/wand"
)

// ServeOptions holds the serve flags. Set flags win over the config file and
// the environment.
type ServeOptions struct {
	// ConfigPath is an optional YAML config file.
	ConfigPath  string
	LogLevel    string
	MetricsAddr string
	CallTimeout string

	flags *pflag.FlagSet
}

// AddFlags adds flags for the options to a flagset
func (o *ServeOptions) AddFlags(fs *pflag.FlagSet) {
	o.flags = fs
	fs.StringVarP(&o.ConfigPath, "config", "c", "", "path to a YAML config file")
	fs.StringVar(&o.LogLevel, "log-level", "", "log level (debug, info, warn, error)")
	fs.StringVar(&o.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9464")
	fs.StringVar(&o.CallTimeout, "call-timeout", "", "bound on each native call, e.g. 30s")
}

// Complete loads the configuration and applies the flags that were set.
func (o *ServeOptions) Complete() (*config.Config, error) {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return nil, err
	}

	overrides := map[string]string{}
	if o.changed("log-level") {
		overrides["LOG_LEVEL"] = o.LogLevel
	}
	if o.changed("metrics-addr") {
		overrides["METRICS_ADDR"] = o.MetricsAddr
	}
	if o.changed("call-timeout") {
		overrides["CALL_TIMEOUT"] = o.CallTimeout
	}
	err = cfg.ApplyEnv(func(key string) (string, bool) {
		v, ok := overrides[key[len(config.EnvPrefix):]]
		return v, ok
	})
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (o *ServeOptions) changed(name string) bool {
	if o.flags == nil {
		return false
	}
	// The root command shares these flags; Changed lives on the flag itself.
	f := o.flags.Lookup(name)
	return f != nil && f.Changed
}

func NewServeCommand(ctx context.Context) *cobra.Command {
	opts := &ServeOptions{}
	cmd := &cobra.Command{
		Use:          "serve",
		Short:        "Serve MCP over stdin/stdout",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.Complete()
			if err != nil {
				return err
			}
			return Serve(ctx, cfg)
		},
	}
	opts.AddFlags(cmd.Flags())
	return cmd
}

// Serve runs the MCP server until stdin closes or ctx is done, then tears
// the runtime down.
func Serve(ctx context.Context, cfg *config.Config) (err error) {
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	logging.SetLogger(logger)

	logger.Info("starting wand-mcp",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("commit", GitCommit))

	collector := metrics.New()
	rt, err := wand.Open(ctx, wand.Config{
		QueueSize:        cfg.Runtime.QueueSize,
		CallTimeout:      cfg.Runtime.CallTimeout,
		ShutdownTimeout:  cfg.Runtime.ShutdownTimeout,
		MaxPixels:        cfg.Runtime.MaxPixels,
		Logger:           logger.Named("wand"),
		BridgeObserver:   collector,
		RegistryObserver: collector,
	})
	if err != nil {
		return err
	}

	srv := server.New(rt,
		server.WithLogger(logger.Named("server")),
		server.WithMaxImages(cfg.Server.MaxImages),
		server.WithOCR(ocr.Config{
			Languages:      cfg.OCR.Languages,
			TessdataPrefix: cfg.OCR.TessdataPrefix,
		}),
		server.WithVersion(Version),
	)

	defer func() {
		var errs *multierror.Error
		if cerr := srv.Close(); cerr != nil {
			errs = multierror.Append(errs, cerr)
		}
		// The serve context may already be canceled; Close bounds each step
		// with the configured shutdown timeout.
		if cerr := rt.Close(context.WithoutCancel(ctx)); cerr != nil {
			errs = multierror.Append(errs, cerr)
		}
		if cerr := errs.ErrorOrNil(); cerr != nil {
			logger.Error("shutdown failed", zap.Error(cerr))
			if err == nil {
				err = fmt.Errorf("shutdown: %w", cerr)
			}
		}
	}()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if cfg.Metrics.Addr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		collector.Register(reg)
		metrics.RegisterRuntime(reg, rt)

		go func() {
			if err := metrics.Serve(runCtx, cfg.Metrics.Addr, cfg.Metrics.Path, reg, logger.Named("metrics")); err != nil {
				logger.Error("metrics endpoint failed", zap.Error(err))
			}
		}()
	}

	err = srv.Run(runCtx)
	if errors.Is(ctx.Err(), context.Canceled) {
		logger.Info("received shutdown signal")
	}
	return err
}
