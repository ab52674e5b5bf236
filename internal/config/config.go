// Package config loads the wand-mcp configuration from an optional YAML file
// and WANDBRIDGE_* environment variables. Environment variables win over the
// file, and command-line flags win over both.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/ironsheep/wandbridge/internal/bridge"
	"github.com/ironsheep/wandbridge/internal/magick"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "WANDBRIDGE_"

// Config is the complete server configuration.
type Config struct {
	Log     LogConfig     `yaml:"log"`
	Runtime RuntimeConfig `yaml:"runtime"`
	OCR     OCRConfig     `yaml:"ocr"`
	Metrics MetricsConfig `yaml:"metrics"`
	Server  ServerConfig  `yaml:"server"`
}

// LogConfig configures the zap logger. Logs always go to stderr; stdout
// carries the protocol.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "console" or "json"
}

// RuntimeConfig configures the wand runtime and its workers.
type RuntimeConfig struct {
	QueueSize       int           `yaml:"queue_size"`
	CallTimeout     time.Duration `yaml:"call_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// MaxPixels caps width x height of any image, bounding memory per call.
	MaxPixels int `yaml:"max_pixels"`
}

type OCRConfig struct {
	Languages      []string `yaml:"languages"`
	TessdataPrefix string   `yaml:"tessdata_prefix,omitempty"`
}

// MetricsConfig enables the Prometheus endpoint when Addr is set.
type MetricsConfig struct {
	Addr string `yaml:"addr,omitempty"`
	Path string `yaml:"path"`
}

type ServerConfig struct {
	// MaxImages bounds the images a session may hold open.
	MaxImages int `yaml:"max_images"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Log: LogConfig{Level: "info", Format: "console"},
		Runtime: RuntimeConfig{
			QueueSize:       bridge.DefaultQueueSize,
			CallTimeout:     30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			MaxPixels:       magick.DefaultAreaLimit,
		},
		OCR:     OCRConfig{Languages: []string{"eng"}},
		Metrics: MetricsConfig{Path: "/metrics"},
		Server:  ServerConfig{MaxImages: 64},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from environment variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	get := func(name string) (string, bool) {
		v, ok := lookup(EnvPrefix + name)
		return strings.TrimSpace(v), ok && strings.TrimSpace(v) != ""
	}

	if v, ok := get("LOG_LEVEL"); ok {
		c.Log.Level = v
	}
	if v, ok := get("LOG_FORMAT"); ok {
		c.Log.Format = v
	}
	if v, ok := get("QUEUE_SIZE"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %sQUEUE_SIZE %q: %w", EnvPrefix, v, err)
		}
		c.Runtime.QueueSize = n
	}
	if v, ok := get("CALL_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %sCALL_TIMEOUT %q: %w", EnvPrefix, v, err)
		}
		c.Runtime.CallTimeout = d
	}
	if v, ok := get("MAX_PIXELS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %sMAX_PIXELS %q: %w", EnvPrefix, v, err)
		}
		c.Runtime.MaxPixels = n
	}
	if v, ok := get("METRICS_ADDR"); ok {
		c.Metrics.Addr = v
	}
	if v, ok := get("OCR_LANGUAGES"); ok {
		c.OCR.Languages = strings.FieldsFunc(v, func(r rune) bool { return r == ',' || r == '+' })
	}
	if v, ok := get("TESSDATA_PREFIX"); ok {
		c.OCR.TessdataPrefix = v
	}
	return nil
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs *multierror.Error
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("log.level: %w", err))
	}
	if c.Log.Format != "console" && c.Log.Format != "json" {
		errs = multierror.Append(errs, fmt.Errorf("log.format: must be console or json, got %q", c.Log.Format))
	}
	if c.Runtime.QueueSize < 1 {
		errs = multierror.Append(errs, fmt.Errorf("runtime.queue_size: must be positive, got %d", c.Runtime.QueueSize))
	}
	if c.Runtime.CallTimeout < 0 {
		errs = multierror.Append(errs, fmt.Errorf("runtime.call_timeout: must not be negative"))
	}
	if c.Runtime.ShutdownTimeout < 0 {
		errs = multierror.Append(errs, fmt.Errorf("runtime.shutdown_timeout: must not be negative"))
	}
	if c.Runtime.MaxPixels < 1 {
		errs = multierror.Append(errs, fmt.Errorf("runtime.max_pixels: must be positive, got %d", c.Runtime.MaxPixels))
	}
	if len(c.OCR.Languages) == 0 {
		errs = multierror.Append(errs, fmt.Errorf("ocr.languages: at least one language is required"))
	}
	if c.Metrics.Addr != "" && !strings.HasPrefix(c.Metrics.Path, "/") {
		errs = multierror.Append(errs, fmt.Errorf("metrics.path: must start with /, got %q", c.Metrics.Path))
	}
	if c.Server.MaxImages < 1 {
		errs = multierror.Append(errs, fmt.Errorf("server.max_images: must be positive, got %d", c.Server.MaxImages))
	}
	if err := errs.ErrorOrNil(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
