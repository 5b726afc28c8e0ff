package arrowipc

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/fedstream/pkg/config"
	"github.com/ajitpratap0/fedstream/pkg/connector/core"
	"github.com/ajitpratap0/fedstream/pkg/errors"
)

var testSchema = arrow.NewSchema([]arrow.Field{
	{Name: "n", Type: arrow.PrimitiveTypes.Int64},
	{Name: "tag", Type: arrow.BinaryTypes.String},
}, nil)

// records returns two records holding n = 0..4 and 5..6.
func records(t *testing.T) []arrow.Record {
	t.Helper()
	var out []arrow.Record
	for _, r := range [][2]int{{0, 5}, {5, 7}} {
		b := array.NewRecordBuilder(memory.DefaultAllocator, testSchema)
		for i := r[0]; i < r[1]; i++ {
			b.Field(0).(*array.Int64Builder).Append(int64(i))
			b.Field(1).(*array.StringBuilder).Append(string(rune('a' + i)))
		}
		out = append(out, b.NewRecord())
		b.Release()
	}
	return out
}

func writeStream(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rows.arrows")
	f, err := os.Create(path)
	require.NoError(t, err)
	w := ipc.NewWriter(f, ipc.WithSchema(testSchema))
	for _, rec := range records(t) {
		require.NoError(t, w.Write(rec))
		rec.Release()
	}
	require.NoError(t, w.Close())
	require.NoError(t, f.Close())
	return path
}

func writeFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rows.arrow")
	f, err := os.Create(path)
	require.NoError(t, err)
	w, err := ipc.NewFileWriter(f, ipc.WithSchema(testSchema))
	require.NoError(t, err)
	for _, rec := range records(t) {
		require.NoError(t, w.Write(rec))
		rec.Release()
	}
	require.NoError(t, w.Close())
	require.NoError(t, f.Close())
	return path
}

func fetchAll(t *testing.T, s *Source) (sizes []int, values []int64) {
	t.Helper()
	for {
		o := s.Fetch(context.Background())
		if o.Kind == core.OutcomeEndOfStream {
			return sizes, values
		}
		require.Equal(t, core.OutcomeBatch, o.Kind, "%v", o.Err)
		sizes = append(sizes, o.Batch.NumRows())
		col := o.Batch.ColumnByName("n")
		for i := 0; i < col.Len(); i++ {
			values = append(values, col.Int64(i))
		}
		o.Release()
	}
}

func TestSourceFormats(t *testing.T) {
	for name, path := range map[string]string{"stream": writeStream(t), "file": writeFile(t)} {
		t.Run(name, func(t *testing.T) {
			s, err := New(context.Background(), config.SourceConfig{Name: "ipc", Kind: Kind, Location: path}, 3)
			require.NoError(t, err)
			defer s.Close()
			assert.Equal(t, name, s.format)

			sizes, values := fetchAll(t, s)
			// batches never span records
			assert.Equal(t, []int{3, 2, 2}, sizes)
			assert.Equal(t, []int64{0, 1, 2, 3, 4, 5, 6}, values)

			require.NoError(t, s.Reset(context.Background()))
			_, again := fetchAll(t, s)
			assert.Equal(t, values, again)
		})
	}
}

func TestSourceProjection(t *testing.T) {
	cfg := config.SourceConfig{Name: "ipc", Kind: Kind, Location: writeStream(t), Columns: []string{"tag"}}
	s, err := New(context.Background(), cfg, 10)
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, "tag:string", s.Schema().String())
	o := s.Fetch(context.Background())
	require.Equal(t, core.OutcomeBatch, o.Kind)
	assert.Equal(t, "c", o.Batch.Column(0).String(2))
	o.Release()
}

func TestNewConfigurationErrors(t *testing.T) {
	for _, cfg := range []config.SourceConfig{
		{Name: "format", Location: writeStream(t), Options: map[string]string{"format": "csv"}},
		{Name: "column", Location: writeStream(t), Columns: []string{"missing"}},
		{Name: "missing", Location: filepath.Join(t.TempDir(), "none.arrows")},
	} {
		t.Run(cfg.Name, func(t *testing.T) {
			_, err := New(context.Background(), cfg, 10)
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
		})
	}
}
