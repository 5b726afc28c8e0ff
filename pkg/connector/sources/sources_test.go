package sources

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/fedstream/pkg/config"
	"github.com/ajitpratap0/fedstream/pkg/connector/core"
	"github.com/ajitpratap0/fedstream/pkg/errors"
)

func TestParseKind(t *testing.T) {
	for _, k := range Kinds() {
		got, err := ParseKind(string(k))
		require.NoError(t, err)
		assert.Equal(t, k, got)
	}
	_, err := ParseKind("excel")
	assert.Error(t, err)
	assert.Len(t, Kinds(), 11)
}

func TestNewDispatchesByKind(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "vitals.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte("hr,spo2\n80,97\n82,96\n91,99\n"), 0o600))
	jsonlPath := filepath.Join(dir, "vitals.jsonl")
	require.NoError(t, os.WriteFile(jsonlPath, []byte(`{"hr": 80}`+"\n"+`{"hr": 82}`+"\n"), 0o600))

	for _, cfg := range []config.SourceConfig{
		{Name: "csv", Kind: "csv", Location: csvPath},
		{Name: "jsonl", Kind: "jsonl", Location: jsonlPath},
	} {
		t.Run(cfg.Kind, func(t *testing.T) {
			ds, err := New(context.Background(), cfg, 2)
			require.NoError(t, err)
			defer ds.Close()

			assert.True(t, ds.Valid())
			assert.Equal(t, cfg.Kind, ds.Kind())
			assert.Equal(t, cfg.Name, ds.Name())
			assert.Equal(t, cfg.Location, ds.Location())
			assert.Equal(t, "hr", ds.Schema().Fields[0].Name)

			o := ds.Fetch(context.Background())
			require.Equal(t, core.OutcomeBatch, o.Kind, "%v", o.Err)
			assert.Equal(t, cfg.Name, o.Source)
			assert.Equal(t, 2, o.Batch.NumRows())
			o.Release()
			assert.Equal(t, int64(2), ds.Cursor())

			// clones share the backend and its cursor
			clone := ds.Clone()
			assert.Equal(t, int64(2), clone.Cursor())

			require.NoError(t, ds.Reset(context.Background()))
			assert.Equal(t, int64(0), clone.Cursor())
		})
	}
}

func TestNewConfigurationErrors(t *testing.T) {
	tests := []config.SourceConfig{
		{Name: "x", Kind: "excel", Location: "book.xlsx"},
		{Name: "x", Kind: "csv", Location: filepath.Join(t.TempDir(), "missing.csv")},
		{Name: "x", Kind: "postgresql"},
		{Name: "x", Kind: "mysql", Location: "not a dsn", Options: map[string]string{"table": "t"}},
		{Name: "x", Kind: "mongodb"},
		{Name: "x", Kind: "kafka"},
	}
	for _, cfg := range tests {
		t.Run(cfg.Kind, func(t *testing.T) {
			ds, err := New(context.Background(), cfg, 10)
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrorTypeConfig), "got %v", err)
			assert.Equal(t, "x", errors.SourceOf(err))
			assert.False(t, ds.Valid())
		})
	}
}

func TestZeroDataSource(t *testing.T) {
	var ds DataSource
	assert.Equal(t, core.OutcomeEndOfStream, ds.Fetch(context.Background()).Kind)
	assert.NoError(t, ds.Close())
	assert.Error(t, ds.Reset(context.Background()))
	assert.Nil(t, ds.Schema())
}
