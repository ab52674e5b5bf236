package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "wand.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 64, cfg.Runtime.QueueSize)
	assert.Equal(t, 1<<27, cfg.Runtime.MaxPixels)
	assert.Equal(t, []string{"eng"}, cfg.OCR.Languages)
	assert.Empty(t, cfg.Metrics.Addr)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
log:
  level: debug
  format: json
runtime:
  queue_size: 8
  call_timeout: 2s
ocr:
  languages: [eng, deu]
metrics:
  addr: ":9464"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8, cfg.Runtime.QueueSize)
	assert.Equal(t, 2*time.Second, cfg.Runtime.CallTimeout)
	assert.Equal(t, 10*time.Second, cfg.Runtime.ShutdownTimeout, "unset fields keep defaults")
	assert.Equal(t, []string{"eng", "deu"}, cfg.OCR.Languages)
	assert.Equal(t, ":9464", cfg.Metrics.Addr)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
}

func TestLoadNoFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().Runtime, cfg.Runtime)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read config")

	_, err = Load(writeConfig(t, "runtime: [not, a, map]"))
	assert.ErrorContains(t, err, "failed to parse config")
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "log:\n  level: warn\n")
	t.Setenv("WANDBRIDGE_LOG_LEVEL", "error")
	t.Setenv("WANDBRIDGE_QUEUE_SIZE", "16")
	t.Setenv("WANDBRIDGE_CALL_TIMEOUT", "750ms")
	t.Setenv("WANDBRIDGE_MAX_PIXELS", "1000000")
	t.Setenv("WANDBRIDGE_METRICS_ADDR", "127.0.0.1:9000")
	t.Setenv("WANDBRIDGE_OCR_LANGUAGES", "eng+fra")
	t.Setenv("WANDBRIDGE_TESSDATA_PREFIX", "/opt/tessdata")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "error", cfg.Log.Level)
	assert.Equal(t, 16, cfg.Runtime.QueueSize)
	assert.Equal(t, 750*time.Millisecond, cfg.Runtime.CallTimeout)
	assert.Equal(t, 1000000, cfg.Runtime.MaxPixels)
	assert.Equal(t, "127.0.0.1:9000", cfg.Metrics.Addr)
	assert.Equal(t, []string{"eng", "fra"}, cfg.OCR.Languages)
	assert.Equal(t, "/opt/tessdata", cfg.OCR.TessdataPrefix)
}

func TestApplyEnvInvalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"queue size", map[string]string{"WANDBRIDGE_QUEUE_SIZE": "many"}, "QUEUE_SIZE"},
		{"call timeout", map[string]string{"WANDBRIDGE_CALL_TIMEOUT": "soon"}, "CALL_TIMEOUT"},
		{"max pixels", map[string]string{"WANDBRIDGE_MAX_PIXELS": "huge"}, "MAX_PIXELS"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lookup := func(k string) (string, bool) {
				v, ok := tt.env[k]
				return v, ok
			}
			err := Default().ApplyEnv(lookup)
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestBlankEnvIsIgnored(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.ApplyEnv(func(string) (string, bool) { return "  ", true }))
	assert.Equal(t, Default(), cfg)
}

func TestValidateReportsAllErrors(t *testing.T) {
	cfg := Default()
	cfg.Log.Level = "loud"
	cfg.Log.Format = "xml"
	cfg.Runtime.QueueSize = 0
	cfg.Runtime.CallTimeout = -time.Second
	cfg.Runtime.MaxPixels = 0
	cfg.OCR.Languages = nil
	cfg.Metrics.Addr = ":9000"
	cfg.Metrics.Path = "metrics"
	cfg.Server.MaxImages = 0

	err := cfg.Validate()
	require.Error(t, err)
	for _, field := range []string{
		"log.level", "log.format", "runtime.queue_size", "runtime.call_timeout",
		"runtime.max_pixels", "ocr.languages", "metrics.path", "server.max_images",
	} {
		assert.ErrorContains(t, err, field)
	}
}
