// Package arrowipc reads Arrow IPC data, in either the streaming format or
// the random-access file format (.arrow, .feather).
package arrowipc

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"go.uber.org/zap"

	"github.com/ajitpratap0/fedstream/pkg/columnar"
	"github.com/ajitpratap0/fedstream/pkg/compression"
	"github.com/ajitpratap0/fedstream/pkg/config"
	"github.com/ajitpratap0/fedstream/pkg/connector/base"
	"github.com/ajitpratap0/fedstream/pkg/connector/core"
	"github.com/ajitpratap0/fedstream/pkg/errors"
	"github.com/ajitpratap0/fedstream/pkg/storage"
)

// Kind is the backend kind served by this package.
const Kind = "arrow_ipc"

const (
	FormatStream = "stream"
	FormatFile   = "file"
)

// Source streams the record batches of one IPC location.
type Source struct {
	*base.BaseSource

	format  string
	storage storage.Options
	columns []string

	closer  io.Closer
	schema  *columnar.Schema
	batcher *base.RecordBatcher
}

// New opens the location and reads the IPC schema.
func New(ctx context.Context, cfg config.SourceConfig, batchSize int) (*Source, error) {
	format := cfg.Option("format", detectFormat(cfg.Location))
	if format != FormatStream && format != FormatFile {
		return nil, errors.Config(cfg.Name, fmt.Sprintf("unknown ipc format %q", format), nil)
	}
	s := &Source{
		BaseSource: base.NewBaseSource(cfg.Name, Kind, cfg.Location, cfg.EffectiveBatchSize(batchSize)),
		format:     format,
		storage:    storage.OptionsFromMap(cfg.Options),
		columns:    cfg.Columns,
	}
	if err := s.open(ctx); err != nil {
		return nil, errors.Config(cfg.Name, "open arrow ipc", err)
	}
	s.Logger().Info("arrow ipc source opened",
		zap.String("location", cfg.Location),
		zap.String("format", format),
		zap.String("schema", s.schema.String()))
	return s, nil
}

func detectFormat(location string) string {
	_, inner := compression.Detect(location)
	if strings.HasSuffix(inner, ".arrow") || strings.HasSuffix(inner, ".feather") {
		return FormatFile
	}
	return FormatStream
}

func (s *Source) open(ctx context.Context) error {
	var (
		it     base.RecordIterator
		schema *arrow.Schema
		closer io.Closer
	)
	switch s.format {
	case FormatFile:
		f, err := storage.OpenFile(ctx, s.Location(), s.storage)
		if err != nil {
			return err
		}
		fr, err := ipc.NewFileReader(f)
		if err != nil {
			f.Close()
			return err
		}
		it, schema, closer = &fileRecords{fr: fr}, fr.Schema(), f
	default:
		rc, err := storage.Open(ctx, s.Location(), s.storage)
		if err != nil {
			return err
		}
		r, err := ipc.NewReader(rc)
		if err != nil {
			rc.Close()
			return err
		}
		it, schema, closer = r, r.Schema(), rc
	}

	proj, err := base.ArrowProjection(s.columns, schema)
	if err == nil {
		var full *columnar.Schema
		if full, err = columnar.SchemaFromArrow(schema); err == nil {
			s.schema, _, err = full.Project(s.columns)
		}
	}
	if err != nil {
		it.Release()
		closer.Close()
		return err
	}

	if s.batcher != nil {
		s.batcher.Release()
		s.closer.Close()
	}
	s.batcher = base.NewRecordBatcher(it, proj)
	s.closer = closer
	return nil
}

// fileRecords walks the records of an IPC file in order.
type fileRecords struct {
	fr  *ipc.FileReader
	i   int
	cur arrow.Record
	err error
}

func (f *fileRecords) Next() bool {
	if f.i >= f.fr.NumRecords() {
		return false
	}
	f.cur, f.err = f.fr.Record(f.i)
	f.i++
	return f.err == nil
}

func (f *fileRecords) Record() arrow.Record { return f.cur }
func (f *fileRecords) Err() error           { return f.err }
func (f *fileRecords) Release()             { _ = f.fr.Close() }

// Schema returns the projected schema of every batch.
func (s *Source) Schema() *columnar.Schema { return s.schema }

// Fetch reads the next batch of rows.
func (s *Source) Fetch(ctx context.Context) core.Outcome {
	return s.BaseSource.Fetch(ctx, func(_ context.Context, _ int64, limit int) (*columnar.Batch, error) {
		return s.batcher.Next(limit)
	})
}

// Reset reopens the location at the first record.
func (s *Source) Reset(ctx context.Context) error {
	if s.Closed() {
		return errors.New(errors.ErrorTypeConnection, "source is closed")
	}
	if err := s.open(ctx); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "reopen arrow ipc")
	}
	s.ResetCursor()
	return nil
}

// Close releases the reader and closes the location.
func (s *Source) Close() error {
	return s.CloseOnce(func() error {
		s.batcher.Release()
		return s.closer.Close()
	})
}
