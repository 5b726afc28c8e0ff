package jsonl

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/fedstream/pkg/columnar"
	"github.com/ajitpratap0/fedstream/pkg/config"
	"github.com/ajitpratap0/fedstream/pkg/connector/core"
	"github.com/ajitpratap0/fedstream/pkg/errors"
)

const events = `{"id": 1, "kind": "admit", "cost": 10, "tags": ["er"]}
{"id": 2, "kind": "transfer", "cost": 12.5}
{"id": 3, "kind": null, "cost": 7, "flag": true}
{"id": 4, "kind": "discharge", "cost": 0, "meta": {"ward": "B"}}
{"id": 5, "kind": "admit", "cost": 3}
`

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "events.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestSourceInfersAndStreams(t *testing.T) {
	s, err := New(context.Background(), config.SourceConfig{Name: "events", Kind: Kind, Location: writeFile(t, events)}, 2)
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, "cost:float64,flag:bool,id:int64,kind:string,meta:string,tags:string", s.Schema().String())

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
	assert.Equal(t, 1, batches[2].NumRows())
	assert.Equal(t, 12.5, batches[0].Column(0).Float64(1))
	assert.Equal(t, `["er"]`, batches[0].Column(5).String(0))
	assert.True(t, batches[0].Column(1).IsNull(0))
	assert.True(t, batches[1].Column(3).IsNull(0))
	assert.True(t, batches[1].Column(1).Bool(0))
	assert.Equal(t, `{"ward":"B"}`, batches[1].Column(4).String(1))
	assert.Equal(t, int64(5), batches[2].Column(2).Int64(0))
	assert.Equal(t, int64(5), s.Cursor())
}

func TestSourceExplicitSchemaProjection(t *testing.T) {
	cfg := config.SourceConfig{
		Name:     "events",
		Kind:     Kind,
		Location: writeFile(t, events),
		Columns:  []string{"kind", "id"},
		Options:  map[string]string{"schema": "id:int32,kind:string"},
	}
	s, err := New(context.Background(), cfg, 10)
	require.NoError(t, err)
	defer s.Close()

	o := s.Fetch(context.Background())
	require.Equal(t, core.OutcomeBatch, o.Kind)
	defer o.Release()
	assert.Equal(t, "kind:string,id:int32", o.Batch.Schema().String())
	assert.Equal(t, 5, o.Batch.NumRows())
	assert.Equal(t, int32(4), o.Batch.Column(1).Int32(3))

	require.NoError(t, s.Reset(context.Background()))
	again := s.Fetch(context.Background())
	require.Equal(t, core.OutcomeBatch, again.Kind)
	assert.Equal(t, 5, again.Batch.NumRows())
	again.Release()
}

func TestSourceMalformedObject(t *testing.T) {
	content := `{"id": 1}` + "\n" + `{"id": "x"}` + "\n"
	cfg := config.SourceConfig{Name: "broken", Kind: Kind, Location: writeFile(t, content),
		Options: map[string]string{"schema": "id:int64"}}
	s, err := New(context.Background(), cfg, 1)
	require.NoError(t, err)
	defer s.Close()

	o := s.Fetch(context.Background())
	require.Equal(t, core.OutcomeBatch, o.Kind)
	o.Release()

	o = s.Fetch(context.Background())
	require.Equal(t, core.OutcomeFailure, o.Kind)
	assert.True(t, errors.IsType(o.Err, errors.ErrorTypeFetch))
	assert.Equal(t, int64(1), s.Cursor())
}

func TestNewRejectsEmptyFile(t *testing.T) {
	_, err := New(context.Background(), config.SourceConfig{Name: "empty", Kind: Kind, Location: writeFile(t, "")}, 1)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}
