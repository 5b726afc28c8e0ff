// Package jsonl reads newline-delimited JSON objects as columnar batches.
package jsonl

import (
	"context"
	"fmt"
	"io"

	gojson "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/ajitpratap0/fedstream/pkg/columnar"
	"github.com/ajitpratap0/fedstream/pkg/config"
	"github.com/ajitpratap0/fedstream/pkg/connector/base"
	"github.com/ajitpratap0/fedstream/pkg/connector/core"
	"github.com/ajitpratap0/fedstream/pkg/errors"
	"github.com/ajitpratap0/fedstream/pkg/storage"
)

// Kind is the backend kind served by this package.
const Kind = "jsonl"

// Source streams objects from a JSON lines file. Nested objects and arrays
// are kept as JSON text in string columns.
type Source struct {
	*base.BaseSource

	storage storage.Options
	rc      io.ReadCloser
	dec     *gojson.Decoder
	objects int64

	schema  *columnar.Schema
	pending []map[string]interface{}
}

// New opens the file and resolves the schema, either from the schema option
// or from the first infer_rows objects.
func New(ctx context.Context, cfg config.SourceConfig, batchSize int) (*Source, error) {
	explicit, err := base.ExplicitSchema(cfg)
	if err != nil {
		return nil, err
	}
	inferRows, err := base.InferRows(cfg)
	if err != nil {
		return nil, err
	}

	s := &Source{
		BaseSource: base.NewBaseSource(cfg.Name, Kind, cfg.Location, cfg.EffectiveBatchSize(batchSize)),
		storage:    storage.OptionsFromMap(cfg.Options),
	}
	if err := s.open(ctx); err != nil {
		return nil, errors.Config(cfg.Name, "open jsonl", err)
	}

	full := explicit
	if full == nil {
		for len(s.pending) < inferRows {
			obj, err := s.decode()
			if err == io.EOF {
				break
			}
			if err != nil {
				s.rc.Close()
				return nil, errors.Config(cfg.Name, "infer jsonl schema", err)
			}
			s.pending = append(s.pending, obj)
		}
		if full, err = columnar.InferRecordSchema(s.pending); err != nil {
			s.rc.Close()
			return nil, errors.Config(cfg.Name, "infer jsonl schema", err)
		}
	}
	if s.schema, _, err = base.Project(cfg, full); err != nil {
		s.rc.Close()
		return nil, err
	}

	s.Logger().Info("jsonl source opened",
		zap.String("location", cfg.Location),
		zap.String("schema", s.schema.String()))
	return s, nil
}

func (s *Source) open(ctx context.Context) error {
	rc, err := storage.Open(ctx, s.Location(), s.storage)
	if err != nil {
		return err
	}
	dec := gojson.NewDecoder(rc)
	dec.UseNumber()
	s.rc, s.dec, s.objects, s.pending = rc, dec, 0, nil
	return nil
}

func (s *Source) decode() (map[string]interface{}, error) {
	var obj map[string]interface{}
	if err := s.dec.Decode(&obj); err != nil {
		if err == io.EOF {
			return nil, err
		}
		return nil, fmt.Errorf("object %d: %w", s.objects+1, err)
	}
	s.objects++
	for k, v := range obj {
		switch v.(type) {
		case map[string]interface{}, []interface{}:
			raw, err := gojson.Marshal(v)
			if err != nil {
				return nil, fmt.Errorf("object %d field %q: %w", s.objects, k, err)
			}
			obj[k] = string(raw)
		}
	}
	return obj, nil
}

// Schema returns the projected schema of every batch.
func (s *Source) Schema() *columnar.Schema { return s.schema }

// Fetch reads the next batch of objects.
func (s *Source) Fetch(ctx context.Context) core.Outcome {
	return s.BaseSource.Fetch(ctx, s.read)
}

func (s *Source) read(ctx context.Context, _ int64, limit int) (*columnar.Batch, error) {
	bb := columnar.NewBatchBuilder(s.schema, limit)
	for bb.Len() < limit {
		if err := ctx.Err(); err != nil {
			return discard(bb, err)
		}
		var obj map[string]interface{}
		if len(s.pending) > 0 {
			obj, s.pending = s.pending[0], s.pending[1:]
		} else {
			var err error
			if obj, err = s.decode(); err == io.EOF {
				break
			} else if err != nil {
				return discard(bb, err)
			}
		}
		if err := bb.AppendRecord(obj); err != nil {
			return discard(bb, fmt.Errorf("object %d: %w", s.objects-int64(len(s.pending)), err))
		}
	}
	if bb.Len() == 0 {
		return nil, nil
	}
	return bb.NewBatch()
}

func discard(bb *columnar.BatchBuilder, err error) (*columnar.Batch, error) {
	if b, berr := bb.NewBatch(); berr == nil {
		b.Release()
	}
	return nil, err
}

// Reset reopens the file at the first object.
func (s *Source) Reset(ctx context.Context) error {
	if s.Closed() {
		return errors.New(errors.ErrorTypeConnection, "source is closed")
	}
	old := s.rc
	if err := s.open(ctx); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "reopen jsonl")
	}
	old.Close()
	s.ResetCursor()
	return nil
}

// Close closes the underlying reader.
func (s *Source) Close() error {
	return s.CloseOnce(s.rc.Close)
}
