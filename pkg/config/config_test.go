package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/fedstream/pkg/errors"
)

func TestLoadStreamer(t *testing.T) {
	t.Setenv("FEDSTREAM_TEST_DIR", "/data")

	path := filepath.Join(t.TempDir(), "streamer.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
batch_size: 64
sources:
  - name: patients
    kind: csv
    location: ${FEDSTREAM_TEST_DIR}/patients.csv
    columns: [gender, anchor_age]
    options:
      delimiter: ";"
  - name: events
    kind: jsonl
    location: /data/events.jsonl
    batch_size: 8
`), 0o600))

	cfg, err := LoadStreamer(path)
	require.NoError(t, err)

	assert.Equal(t, 64, cfg.BatchSize)
	assert.Equal(t, DefaultBufferCapacity, cfg.BufferCapacity)
	require.Len(t, cfg.Sources, 2)
	assert.Equal(t, "/data/patients.csv", cfg.Sources[0].Location)
	assert.Equal(t, []string{"gender", "anchor_age"}, cfg.Sources[0].Columns)
	assert.Equal(t, ";", cfg.Sources[0].Option("delimiter", ","))
	assert.Equal(t, 64, cfg.Sources[0].EffectiveBatchSize(cfg.BatchSize))
	assert.Equal(t, 8, cfg.Sources[1].EffectiveBatchSize(cfg.BatchSize))
}

func TestValidate(t *testing.T) {
	valid := func() *StreamerConfig {
		cfg := NewStreamerConfig()
		cfg.Sources = []SourceConfig{{Name: "a", Kind: "csv"}}
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*StreamerConfig)
	}{
		{"zero batch size", func(c *StreamerConfig) { c.BatchSize = 0 }},
		{"zero capacity", func(c *StreamerConfig) { c.BufferCapacity = 0 }},
		{"negative workers", func(c *StreamerConfig) { c.Workers = -1 }},
		{"no sources", func(c *StreamerConfig) { c.Sources = nil }},
		{"unnamed source", func(c *StreamerConfig) { c.Sources[0].Name = "" }},
		{"missing kind", func(c *StreamerConfig) { c.Sources[0].Kind = "" }},
		{"name with slash", func(c *StreamerConfig) { c.Sources[0].Name = "../escape" }},
		{"name with backslash", func(c *StreamerConfig) { c.Sources[0].Name = `a\b` }},
		{"dot-dot name", func(c *StreamerConfig) { c.Sources[0].Name = ".." }},
		{"duplicate names", func(c *StreamerConfig) {
			c.Sources = append(c.Sources, SourceConfig{Name: "a", Kind: "jsonl"})
		}},
		{"duplicate column", func(c *StreamerConfig) { c.Sources[0].Columns = []string{"x", "x"} }},
		{"negative source batch", func(c *StreamerConfig) { c.Sources[0].BatchSize = -2 }},
	}

	require.NoError(t, valid().Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
		})
	}
}

func TestSourceOptions(t *testing.T) {
	src := SourceConfig{Options: map[string]string{
		"has_header":  "false",
		"infer_rows":  "20",
		"null_values": "NA, ,null",
		"broken":      "yes please",
	}}

	b, err := src.BoolOption("has_header", true)
	require.NoError(t, err)
	assert.False(t, b)

	n, err := src.IntOption("infer_rows", 100)
	require.NoError(t, err)
	assert.Equal(t, 20, n)

	n, err = src.IntOption("missing", 100)
	require.NoError(t, err)
	assert.Equal(t, 100, n)

	_, err = src.BoolOption("broken", true)
	assert.Error(t, err)

	assert.Equal(t, []string{"NA", "null"}, src.ListOption("null_values"))
	assert.Nil(t, src.ListOption("missing"))
}

func TestSubstituteEnvVars(t *testing.T) {
	t.Setenv("FEDSTREAM_A", "alpha")
	assert.Equal(t, "x=alpha y= z", substituteEnvVars("x=${FEDSTREAM_A} y=${FEDSTREAM_UNSET} z"))
	assert.Equal(t, "open ${brace", substituteEnvVars("open ${brace"))
}
