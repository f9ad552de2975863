package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/zjrosen/butler/internal/tracing"
)

func TestDefaults_AreValid(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, Validate(cfg))
	require.Equal(t, ".", cfg.Repo)
	require.Equal(t, 5*time.Second, cfg.Lock.Timeout)
	require.Equal(t, 500*time.Millisecond, cfg.Lock.PollInterval)
	require.False(t, cfg.Tracing.Enabled)
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	cfg := Defaults()
	cfg.Repo = ""
	cfg.Inputs = []string{"/in", ""}
	cfg.Lock.PollInterval = 0
	cfg.Cache.Expiration = -time.Second

	err := Validate(cfg)
	require.Error(t, err)
	require.Contains(t, err.Error(), "repo is required")
	require.Contains(t, err.Error(), "inputs[1] is empty")
	require.Contains(t, err.Error(), "lock.poll_interval")
	require.Contains(t, err.Error(), "cache.expiration")
}

func TestValidate_Watch(t *testing.T) {
	cfg := Defaults()
	cfg.Watch = WatchConfig{Enabled: true}
	require.ErrorContains(t, Validate(cfg), "watch.debounce")

	cfg.Watch.Enabled = false
	require.NoError(t, Validate(cfg))
}

func TestValidate_LogLevel(t *testing.T) {
	cfg := Defaults()
	cfg.Log.Level = "chatty"
	require.ErrorContains(t, Validate(cfg), "log.level")
}

func TestValidateLock_NegativeTimeout(t *testing.T) {
	err := ValidateLock(LockConfig{Timeout: -time.Second, PollInterval: time.Millisecond})
	require.ErrorContains(t, err, "lock.timeout")

	require.NoError(t, ValidateLock(LockConfig{Timeout: 0, PollInterval: time.Millisecond}))
}

func TestValidateTracing(t *testing.T) {
	tests := []struct {
		name    string
		cfg     tracing.Config
		wantErr string
	}{
		{"disabled defaults", tracing.Config{}, ""},
		{"bad sample rate", tracing.Config{SampleRate: 1.5}, "sample_rate"},
		{"bad exporter", tracing.Config{Exporter: "jaeger"}, "tracing.exporter"},
		{"file without path", tracing.Config{Enabled: true, Exporter: tracing.ExporterFile}, "file_path"},
		{"file without path while disabled", tracing.Config{Exporter: tracing.ExporterFile}, ""},
		{"otlp without endpoint", tracing.Config{Enabled: true, Exporter: tracing.ExporterOTLP}, "otlp_endpoint"},
		{"stdout", tracing.Config{Enabled: true, Exporter: tracing.ExporterStdout, SampleRate: 0.5}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTracing(tt.cfg)
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestDefaultConfigTemplate_IsValidYAML(t *testing.T) {
	var doc map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(DefaultConfigTemplate()), &doc))
	require.Equal(t, ".", doc["repo"])
	require.Contains(t, doc, "lock")
}

func TestWriteDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "butler.yaml")
	require.NoError(t, WriteDefaultConfig(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, DefaultConfigTemplate(), string(data))
}
