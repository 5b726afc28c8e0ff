package avro

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/linkedin/goavro/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/fedstream/pkg/columnar"
	"github.com/ajitpratap0/fedstream/pkg/config"
	"github.com/ajitpratap0/fedstream/pkg/connector/core"
	"github.com/ajitpratap0/fedstream/pkg/errors"
)

const admissionsSchema = `{
  "type": "record",
  "name": "Admission",
  "fields": [
    {"name": "hadm_id", "type": "long"},
    {"name": "admittime", "type": {"type": "long", "logicalType": "timestamp-micros"}},
    {"name": "ward", "type": ["null", "string"]},
    {"name": "los", "type": "double"},
    {"name": "kind", "type": {"type": "enum", "name": "Kind", "symbols": ["ELECTIVE", "URGENT"]}},
    {"name": "codes", "type": {"type": "array", "items": "string"}}
  ]
}`

var admitted = time.Date(2150, 1, 2, 3, 4, 5, 0, time.UTC)

func writeOCF(t *testing.T, n int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "admissions.avro")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w, err := goavro.NewOCFWriter(goavro.OCFConfig{W: f, Schema: admissionsSchema, CompressionName: goavro.CompressionDeflateLabel})
	require.NoError(t, err)
	var rows []interface{}
	for i := 0; i < n; i++ {
		var ward interface{}
		if i%2 == 0 {
			ward = goavro.Union("string", "ICU")
		}
		kind := "ELECTIVE"
		if i%3 == 0 {
			kind = "URGENT"
		}
		rows = append(rows, map[string]interface{}{
			"hadm_id":   int64(2000 + i),
			"admittime": admitted.Add(time.Duration(i) * time.Hour),
			"ward":      ward,
			"los":       float64(i) + 0.5,
			"kind":      kind,
			"codes":     []interface{}{"I10", "E11"},
		})
	}
	require.NoError(t, w.Append(rows))
	return path
}

func TestMapSchema(t *testing.T) {
	schema, unions, err := MapSchema(admissionsSchema)
	require.NoError(t, err)
	assert.Equal(t, "hadm_id:int64,admittime:timestamp,ward:string,los:float64,kind:string,codes:string", schema.String())
	assert.True(t, unions["ward"])
	assert.False(t, unions["hadm_id"])

	_, _, err = MapSchema(`{"type": "array", "items": "long"}`)
	assert.Error(t, err)
}

func TestSourceStreams(t *testing.T) {
	s, err := New(context.Background(), config.SourceConfig{Name: "adm", Kind: Kind, Location: writeOCF(t, 5)}, 2)
	require.NoError(t, err)
	defer s.Close()

	var batches []*columnar.Batch
	for {
		o := s.Fetch(context.Background())
		if o.Kind == core.OutcomeEndOfStream {
			break
		}
		require.Equal(t, core.OutcomeBatch, o.Kind, "%v", o.Err)
		batches = append(batches, o.Batch)
	}
	defer func() {
		for _, b := range batches {
			b.Release()
		}
	}()

	require.Len(t, batches, 3)
	first := batches[0]
	assert.Equal(t, int64(2000), first.Column(0).Int64(0))
	assert.Equal(t, admitted, first.Column(1).Value(0))
	assert.Equal(t, "ICU", first.Column(2).String(0))
	assert.True(t, first.Column(2).IsNull(1))
	assert.Equal(t, 1.5, first.Column(3).Float64(1))
	assert.Equal(t, "URGENT", first.Column(4).String(0))
	assert.Equal(t, `["I10","E11"]`, first.Column(5).String(0))
	assert.Equal(t, int64(2004), batches[2].Column(0).Int64(0))
	assert.Equal(t, int64(5), s.Cursor())

	require.NoError(t, s.Reset(context.Background()))
	o := s.Fetch(context.Background())
	require.Equal(t, core.OutcomeBatch, o.Kind)
	assert.Equal(t, int64(2000), o.Batch.Column(0).Int64(0))
	o.Release()
}

func TestSourceProjection(t *testing.T) {
	cfg := config.SourceConfig{Name: "adm", Kind: Kind, Location: writeOCF(t, 3), Columns: []string{"los", "hadm_id"}}
	s, err := New(context.Background(), cfg, 10)
	require.NoError(t, err)
	defer s.Close()

	o := s.Fetch(context.Background())
	require.Equal(t, core.OutcomeBatch, o.Kind)
	defer o.Release()
	assert.Equal(t, "los:float64,hadm_id:int64", o.Batch.Schema().String())
	assert.Equal(t, int64(2002), o.Batch.Column(1).Int64(2))
}

func TestNewConfigurationErrors(t *testing.T) {
	garbage := filepath.Join(t.TempDir(), "x.avro")
	require.NoError(t, os.WriteFile(garbage, []byte("not avro"), 0o600))

	for _, cfg := range []config.SourceConfig{
		{Name: "missing", Location: filepath.Join(t.TempDir(), "none.avro")},
		{Name: "garbage", Location: garbage},
		{Name: "projection", Location: writeOCF(t, 1), Columns: []string{"nope"}},
	} {
		t.Run(cfg.Name, func(t *testing.T) {
			_, err := New(context.Background(), cfg, 10)
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
		})
	}
}
