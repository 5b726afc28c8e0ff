// Package config provides the configuration model for fedstream.
//
// A StreamerConfig describes one federated stream: the global requested batch
// size, the bounded channel capacity, the executor width and the list of
// sources to multiplex. Each SourceConfig names a backend kind, a location,
// an optional column projection and backend specific options.
//
// Example usage:
//
//	cfg := config.NewStreamerConfig()
//	cfg.BatchSize = 64
//	cfg.Sources = append(cfg.Sources, config.SourceConfig{
//	    Name:     "patients",
//	    Kind:     "csv",
//	    Location: "./mimic-patients.csv",
//	    Columns:  []string{"gender", "anchor_age", "dod"},
//	})
//
//	if err := cfg.Validate(); err != nil {
//	    log.Fatal(err)
//	}
package config

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/ajitpratap0/fedstream/pkg/errors"
)

const (
	// DefaultBufferCapacity is the bounded channel capacity used when none is configured.
	DefaultBufferCapacity = 100
	// DefaultBatchSize is the requested batch size used when none is configured.
	DefaultBatchSize = 1000
)

// StreamerConfig is the construction input of a federated streamer.
type StreamerConfig struct {
	// Name identifies the streamer in logs and metrics
	Name string `yaml:"name" json:"name"`
	// BatchSize is the global requested number of rows per fetch
	BatchSize int `yaml:"batch_size" json:"batch_size"`
	// BufferCapacity is the capacity of the backpressure channel
	BufferCapacity int `yaml:"buffer_capacity" json:"buffer_capacity"`
	// Workers bounds the number of blocking fetches running at once
	Workers int `yaml:"workers" json:"workers"`
	// CloseTimeout bounds how long Close waits for in-flight fetches
	CloseTimeout time.Duration `yaml:"close_timeout" json:"close_timeout"`

	// Sources lists the federated inputs
	Sources []SourceConfig `yaml:"sources" json:"sources"`

	// Observability settings for monitoring and debugging
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`
}

// SourceConfig describes one backend.
type SourceConfig struct {
	// Name is the stable identity of the source, used to tag every outcome
	Name string `yaml:"name" json:"name"`
	// Kind selects the backend variant (csv, jsonl, parquet, ...)
	Kind string `yaml:"kind" json:"kind"`
	// Location is backend specific: a path, an object URL or a DSN
	Location string `yaml:"location" json:"location"`
	// Columns projects the source onto the listed columns, in order
	Columns []string `yaml:"columns" json:"columns"`
	// BatchSize overrides the global batch size when positive
	BatchSize int `yaml:"batch_size" json:"batch_size"`
	// Options carries backend specific settings
	Options map[string]string `yaml:"options" json:"options"`
}

// ObservabilityConfig contains logging, metrics and tracing settings.
type ObservabilityConfig struct {
	// LogLevel sets logging verbosity (debug, info, warn, error)
	LogLevel string `yaml:"log_level" json:"log_level"`
	// LogEncoding selects json or console output
	LogEncoding string `yaml:"log_encoding" json:"log_encoding"`
	// EnableMetrics registers Prometheus collectors for the streamer
	EnableMetrics bool `yaml:"enable_metrics" json:"enable_metrics"`
	// EnableTracing installs an OpenTelemetry tracer provider
	EnableTracing bool `yaml:"enable_tracing" json:"enable_tracing"`
	// TracingSampleRate controls trace sampling (0.0-1.0)
	TracingSampleRate float64 `yaml:"tracing_sample_rate" json:"tracing_sample_rate"`
}

// NewStreamerConfig creates a StreamerConfig with sensible defaults.
func NewStreamerConfig() *StreamerConfig {
	return &StreamerConfig{
		Name:           "fedstream",
		BatchSize:      DefaultBatchSize,
		BufferCapacity: DefaultBufferCapacity,
		Workers:        runtime.NumCPU(),
		CloseTimeout:   30 * time.Second,
		Observability: ObservabilityConfig{
			LogLevel:          "info",
			LogEncoding:       "json",
			EnableMetrics:     true,
			TracingSampleRate: 0.1,
		},
	}
}

// ApplyDefaults fills zero values with defaults. Negative values are left
// untouched so Validate can report them.
func (c *StreamerConfig) ApplyDefaults() {
	if c.Name == "" {
		c.Name = "fedstream"
	}
	if c.BatchSize == 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.BufferCapacity == 0 {
		c.BufferCapacity = DefaultBufferCapacity
	}
	if c.Workers == 0 {
		c.Workers = runtime.NumCPU()
	}
	if c.CloseTimeout == 0 {
		c.CloseTimeout = 30 * time.Second
	}
	if c.Observability.LogLevel == "" {
		c.Observability.LogLevel = "info"
	}
	if c.Observability.LogEncoding == "" {
		c.Observability.LogEncoding = "json"
	}
}

// Validate validates the configuration for correctness.
// All failures are configuration errors.
func (c *StreamerConfig) Validate() error {
	if c.BatchSize <= 0 {
		return errors.New(errors.ErrorTypeConfig, "batch_size must be positive")
	}
	if c.BufferCapacity < 1 {
		return errors.New(errors.ErrorTypeConfig, "buffer_capacity must be at least 1")
	}
	if c.Workers < 0 {
		return errors.New(errors.ErrorTypeConfig, "workers cannot be negative")
	}
	if len(c.Sources) == 0 {
		return errors.New(errors.ErrorTypeConfig, "at least one source is required")
	}

	seen := make(map[string]struct{}, len(c.Sources))
	for i := range c.Sources {
		src := &c.Sources[i]
		if err := src.Validate(); err != nil {
			return err
		}
		if _, dup := seen[src.Name]; dup {
			return errors.Config(src.Name, fmt.Sprintf("duplicate source name %q", src.Name), nil)
		}
		seen[src.Name] = struct{}{}
	}
	return nil
}

// Validate checks a single source configuration.
func (s *SourceConfig) Validate() error {
	if s.Name == "" {
		return errors.New(errors.ErrorTypeConfig, "source name is required")
	}
	// names become output file names
	if strings.ContainsAny(s.Name, `/\`) || s.Name == "." || s.Name == ".." {
		return errors.Config(s.Name, fmt.Sprintf("source name %q must not contain path separators or be a dot entry", s.Name), nil)
	}
	if s.Kind == "" {
		return errors.Config(s.Name, "source kind is required", nil)
	}
	if s.BatchSize < 0 {
		return errors.Config(s.Name, "batch_size cannot be negative", nil)
	}
	seen := make(map[string]struct{}, len(s.Columns))
	for _, col := range s.Columns {
		if col == "" {
			return errors.Config(s.Name, "projected column names cannot be empty", nil)
		}
		if _, dup := seen[col]; dup {
			return errors.Config(s.Name, fmt.Sprintf("column %q projected twice", col), nil)
		}
		seen[col] = struct{}{}
	}
	return nil
}

// EffectiveBatchSize returns the per-source batch size, falling back to global.
func (s *SourceConfig) EffectiveBatchSize(global int) int {
	if s.BatchSize > 0 {
		return s.BatchSize
	}
	return global
}
