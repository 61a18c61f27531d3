package config_test

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ngvozdiev/htsim/internal/config"
)

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()

	if cfg.AdminAPI.Addr != ":7000" {
		t.Errorf("AdminAPI.Addr = %q, want %q", cfg.AdminAPI.Addr, ":7000")
	}

	if cfg.Metrics.Addr != ":9100" {
		t.Errorf("Metrics.Addr = %q, want %q", cfg.Metrics.Addr, ":9100")
	}

	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics.Path = %q, want %q", cfg.Metrics.Path, "/metrics")
	}

	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "info")
	}

	if cfg.Log.Format != "json" {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, "json")
	}

	if cfg.Sim.ClockResolution != "picosecond" {
		t.Errorf("Sim.ClockResolution = %q, want %q", cfg.Sim.ClockResolution, "picosecond")
	}

	// Defaults fail validation because no topology path is set -- that
	// is scenario-specific and must come from a file or flag.
	cfg.Sim.TopologyPath = "topology.yaml"
	if err := config.Validate(cfg); err != nil {
		t.Errorf("DefaultConfig() (with topology path) failed validation: %v", err)
	}
}

func TestLoadFromYAML(t *testing.T) {
	t.Parallel()

	yamlContent := `
adminapi:
  addr: ":7100"
metrics:
  addr: ":9200"
  path: "/custom-metrics"
log:
  level: "debug"
  format: "text"
sim:
  topology_path: "topo.yaml"
  clock_resolution: "nanosecond"
  real_time: true
  stop_time: "10s"
  queue_size_bytes: 200000
  die_on_failed_match: true
`

	path := writeTemp(t, yamlContent)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.AdminAPI.Addr != ":7100" {
		t.Errorf("AdminAPI.Addr = %q, want %q", cfg.AdminAPI.Addr, ":7100")
	}

	if cfg.Metrics.Addr != ":9200" {
		t.Errorf("Metrics.Addr = %q, want %q", cfg.Metrics.Addr, ":9200")
	}

	if cfg.Metrics.Path != "/custom-metrics" {
		t.Errorf("Metrics.Path = %q, want %q", cfg.Metrics.Path, "/custom-metrics")
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "debug")
	}

	if cfg.Log.Format != "text" {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, "text")
	}

	if cfg.Sim.TopologyPath != "topo.yaml" {
		t.Errorf("Sim.TopologyPath = %q, want %q", cfg.Sim.TopologyPath, "topo.yaml")
	}

	if cfg.Sim.ClockResolution != "nanosecond" {
		t.Errorf("Sim.ClockResolution = %q, want %q", cfg.Sim.ClockResolution, "nanosecond")
	}

	if !cfg.Sim.RealTime {
		t.Error("Sim.RealTime = false, want true")
	}

	if cfg.Sim.StopTime != 10*time.Second {
		t.Errorf("Sim.StopTime = %v, want %v", cfg.Sim.StopTime, 10*time.Second)
	}

	if cfg.Sim.QueueSizeBytes != 200000 {
		t.Errorf("Sim.QueueSizeBytes = %d, want %d", cfg.Sim.QueueSizeBytes, 200000)
	}

	if !cfg.Sim.DieOnFailedMatch {
		t.Error("Sim.DieOnFailedMatch = false, want true")
	}
}

func TestLoadMergesDefaults(t *testing.T) {
	t.Parallel()

	yamlContent := `
adminapi:
  addr: ":7200"
log:
  level: "warn"
sim:
  topology_path: "topo.yaml"
`

	path := writeTemp(t, yamlContent)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.AdminAPI.Addr != ":7200" {
		t.Errorf("AdminAPI.Addr = %q, want %q", cfg.AdminAPI.Addr, ":7200")
	}

	if cfg.Log.Level != "warn" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "warn")
	}

	// Defaults should be preserved.
	if cfg.Metrics.Addr != ":9100" {
		t.Errorf("Metrics.Addr = %q, want default %q", cfg.Metrics.Addr, ":9100")
	}

	if cfg.Log.Format != "json" {
		t.Errorf("Log.Format = %q, want default %q", cfg.Log.Format, "json")
	}

	if cfg.Sim.ClockResolution != "picosecond" {
		t.Errorf("Sim.ClockResolution = %q, want default %q", cfg.Sim.ClockResolution, "picosecond")
	}
}

func TestValidateErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		modify  func(*config.Config)
		wantErr error
	}{
		{
			name: "empty admin api addr",
			modify: func(cfg *config.Config) {
				cfg.Sim.TopologyPath = "topo.yaml"
				cfg.AdminAPI.Addr = ""
			},
			wantErr: config.ErrEmptyAdminAPIAddr,
		},
		{
			name: "invalid clock resolution",
			modify: func(cfg *config.Config) {
				cfg.Sim.TopologyPath = "topo.yaml"
				cfg.Sim.ClockResolution = "femtosecond"
			},
			wantErr: config.ErrInvalidClockResolution,
		},
		{
			name: "missing topology path",
			modify: func(cfg *config.Config) {
				cfg.Sim.TopologyPath = ""
			},
			wantErr: config.ErrMissingTopology,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := config.DefaultConfig()
			tt.modify(cfg)

			err := config.Validate(cfg)
			if err == nil {
				t.Fatal("Validate() returned nil, want error")
			}

			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  slog.Level
	}{
		{input: "debug", want: slog.LevelDebug},
		{input: "DEBUG", want: slog.LevelDebug},
		{input: "info", want: slog.LevelInfo},
		{input: "INFO", want: slog.LevelInfo},
		{input: "warn", want: slog.LevelWarn},
		{input: "WARN", want: slog.LevelWarn},
		{input: "error", want: slog.LevelError},
		{input: "Error", want: slog.LevelError},
		{input: "unknown", want: slog.LevelInfo},
		{input: "", want: slog.LevelInfo},
		{input: "trace", want: slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()

			got := config.ParseLogLevel(tt.input)
			if got != tt.want {
				t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestLoadNonexistentFile(t *testing.T) {
	t.Parallel()

	_, err := config.Load("/nonexistent/path/config.yml")
	if err == nil {
		t.Fatal("Load() returned nil error for nonexistent file")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	// Environment variable tests cannot be parallel because they modify
	// process-wide state (os.Setenv).

	yamlContent := `
adminapi:
  addr: ":7000"
log:
  level: "info"
sim:
  topology_path: "topo.yaml"
`
	path := writeTemp(t, yamlContent)

	t.Setenv("HTSIM_LOG_LEVEL", "debug")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q (from env)", cfg.Log.Level, "debug")
	}
}

// writeTemp creates a temporary YAML file and returns its path.
// The file is automatically cleaned up when the test finishes.
func writeTemp(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "htsim.yml")

	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp file: %v", err)
	}

	return path
}
