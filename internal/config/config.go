// Package config manages the htsim daemon configuration using koanf/v2.
//
// Supports YAML files, environment variables, and CLI flags, the same
// layering the teacher daemon uses: defaults, then file, then environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// -------------------------------------------------------------------------
// Configuration Structures
// -------------------------------------------------------------------------

// Config holds the complete htsimd configuration.
type Config struct {
	AdminAPI AdminAPIConfig `koanf:"adminapi"`
	Metrics  MetricsConfig  `koanf:"metrics"`
	Log      LogConfig      `koanf:"log"`
	Sim      SimConfig      `koanf:"sim"`
}

// AdminAPIConfig holds the control-plane HTTP server configuration
// (rule install, device stats, path queries -- see internal/adminapi).
type AdminAPIConfig struct {
	// Addr is the admin API listen address (e.g., ":7000").
	Addr string `koanf:"addr"`
}

// MetricsConfig holds the Prometheus metrics endpoint configuration.
type MetricsConfig struct {
	// Addr is the HTTP listen address for the metrics endpoint (e.g., ":9100").
	Addr string `koanf:"addr"`
	// Path is the URL path for the metrics endpoint (e.g., "/metrics").
	Path string `koanf:"path"`
}

// LogConfig holds the logging configuration.
type LogConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `koanf:"level"`
	// Format is the log output format: "json" or "text".
	Format string `koanf:"format"`
}

// SimConfig holds the parameters that drive a simulation run.
type SimConfig struct {
	// TopologyPath is the path to the topology.yaml document describing
	// links/regions/clusters.
	TopologyPath string `koanf:"topology_path"`

	// ScenarioPath is the path to a scenario document describing the
	// traffic generators and rule installs to run against the loaded
	// topology.
	ScenarioPath string `koanf:"scenario_path"`

	// ClockResolution selects "picosecond" (simulated, default) or
	// "nanosecond" (real-time) virtual-time resolution.
	ClockResolution string `koanf:"clock_resolution"`

	// RealTime runs the event queue in real-time mode (sleeps between
	// events) instead of simulated mode (virtual time jumps straight from
	// one event to the next).
	RealTime bool `koanf:"real_time"`

	// StopTime truncates the run after this much wall/virtual duration
	// has elapsed. Zero means run until the event queue drains.
	StopTime time.Duration `koanf:"stop_time"`

	// QueueSizeBytes is the queue capacity applied to every link in the
	// topology.
	QueueSizeBytes uint64 `koanf:"queue_size_bytes"`

	// DieOnFailedMatch makes an unmatched packet fatal instead of merely
	// dropped and counted.
	DieOnFailedMatch bool `koanf:"die_on_failed_match"`
}

// -------------------------------------------------------------------------
// Defaults
// -------------------------------------------------------------------------

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		AdminAPI: AdminAPIConfig{
			Addr: ":7000",
		},
		Metrics: MetricsConfig{
			Addr: ":9100",
			Path: "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Sim: SimConfig{
			ClockResolution: "picosecond",
			QueueSizeBytes:  100 * 1500,
		},
	}
}

// -------------------------------------------------------------------------
// Loader
// -------------------------------------------------------------------------

// envPrefix is the environment variable prefix for htsim configuration.
// Variables are named HTSIM_<section>_<key>, e.g., HTSIM_SIM_REAL_TIME.
const envPrefix = "HTSIM_"

// Load reads configuration from a YAML file at path, overlays environment
// variable overrides (HTSIM_ prefix), and merges on top of DefaultConfig().
// Missing fields inherit defaults.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := DefaultConfig()
	if err := loadDefaults(k, defaults); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load config from %s: %w", path, err)
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config from %s: %w", path, err)
	}

	return cfg, nil
}

// envKeyMapper transforms HTSIM_SIM_REAL_TIME -> sim.real_time.
func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	return strings.Replace(s, "_", ".", 1)
}

// loadDefaults marshals the default config into koanf as the base layer.
func loadDefaults(k *koanf.Koanf, defaults *Config) error {
	defaultMap := map[string]any{
		"adminapi.addr":           defaults.AdminAPI.Addr,
		"metrics.addr":            defaults.Metrics.Addr,
		"metrics.path":            defaults.Metrics.Path,
		"log.level":               defaults.Log.Level,
		"log.format":              defaults.Log.Format,
		"sim.clock_resolution":    defaults.Sim.ClockResolution,
		"sim.queue_size_bytes":    defaults.Sim.QueueSizeBytes,
		"sim.die_on_failed_match": defaults.Sim.DieOnFailedMatch,
		"sim.real_time":           defaults.Sim.RealTime,
	}

	for key, val := range defaultMap {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}

	return nil
}

// -------------------------------------------------------------------------
// Validation
// -------------------------------------------------------------------------

// Validation errors.
var (
	// ErrEmptyAdminAPIAddr indicates the admin API listen address is empty.
	ErrEmptyAdminAPIAddr = errors.New("adminapi.addr must not be empty")

	// ErrInvalidClockResolution indicates an unrecognized clock resolution.
	ErrInvalidClockResolution = errors.New("sim.clock_resolution must be picosecond or nanosecond")

	// ErrMissingTopology indicates no topology file was configured.
	ErrMissingTopology = errors.New("sim.topology_path must not be empty")
)

// ValidClockResolutions lists the recognized clock resolution strings.
var ValidClockResolutions = map[string]bool{
	"picosecond": true,
	"nanosecond": true,
}

// Validate checks the configuration for logical errors.
func Validate(cfg *Config) error {
	if cfg.AdminAPI.Addr == "" {
		return ErrEmptyAdminAPIAddr
	}

	if cfg.Sim.ClockResolution != "" && !ValidClockResolutions[cfg.Sim.ClockResolution] {
		return fmt.Errorf("%q: %w", cfg.Sim.ClockResolution, ErrInvalidClockResolution)
	}

	if cfg.Sim.TopologyPath == "" {
		return ErrMissingTopology
	}

	return nil
}

// -------------------------------------------------------------------------
// Log Level Parsing
// -------------------------------------------------------------------------

// ParseLogLevel maps a configuration log level string to the corresponding
// slog.Level. Unknown values default to slog.LevelInfo.
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
