// Package parquet reads Parquet files through the Arrow Parquet reader.
// Column buffers decoded by the reader are shared with the produced batches.
package parquet

import (
	"context"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
	"go.uber.org/zap"

	"github.com/ajitpratap0/fedstream/pkg/columnar"
	"github.com/ajitpratap0/fedstream/pkg/config"
	"github.com/ajitpratap0/fedstream/pkg/connector/base"
	"github.com/ajitpratap0/fedstream/pkg/connector/core"
	"github.com/ajitpratap0/fedstream/pkg/errors"
	"github.com/ajitpratap0/fedstream/pkg/storage"
)

// Kind is the backend kind served by this package.
const Kind = "parquet"

// Source streams the row groups of one Parquet file.
type Source struct {
	*base.BaseSource

	pf      *file.Reader
	fr      *pqarrow.FileReader
	cols    []int
	schema  *columnar.Schema
	batcher *base.RecordBatcher
}

// New opens the file and reads its footer. Columns are projected at the
// reader so unselected column chunks are never decoded.
func New(ctx context.Context, cfg config.SourceConfig, batchSize int) (*Source, error) {
	size := cfg.EffectiveBatchSize(batchSize)
	f, err := storage.OpenFile(ctx, cfg.Location, storage.OptionsFromMap(cfg.Options))
	if err != nil {
		return nil, errors.Config(cfg.Name, "open parquet file", err)
	}
	pf, err := file.NewParquetReader(f)
	if err != nil {
		f.Close()
		return nil, errors.Config(cfg.Name, "read parquet footer", err)
	}
	s := &Source{
		BaseSource: base.NewBaseSource(cfg.Name, Kind, cfg.Location, size),
		pf:         pf,
	}

	s.fr, err = pqarrow.NewFileReader(pf, pqarrow.ArrowReadProperties{BatchSize: int64(size)}, memory.DefaultAllocator)
	if err != nil {
		pf.Close()
		return nil, errors.Config(cfg.Name, "map parquet schema", err)
	}
	if len(cfg.Columns) > 0 {
		for _, name := range cfg.Columns {
			idx := pf.MetaData().Schema.ColumnIndexByName(name)
			if idx < 0 {
				pf.Close()
				return nil, errors.Config(cfg.Name, "column "+name+" not found", nil)
			}
			s.cols = append(s.cols, idx)
		}
	}
	if err := s.openRecords(ctx); err != nil {
		pf.Close()
		return nil, errors.Config(cfg.Name, "open parquet records", err)
	}

	s.Logger().Info("parquet source opened",
		zap.String("location", cfg.Location),
		zap.Int64("rows", pf.NumRows()),
		zap.Int("row_groups", pf.NumRowGroups()),
		zap.String("schema", s.schema.String()))
	return s, nil
}

func (s *Source) openRecords(ctx context.Context) error {
	// the reader keeps ctx for every later decode
	rr, err := s.fr.GetRecordReader(context.WithoutCancel(ctx), s.cols, nil)
	if err != nil {
		return err
	}
	schema, err := columnar.SchemaFromArrow(rr.Schema())
	if err != nil {
		rr.Release()
		return err
	}
	if s.batcher != nil {
		s.batcher.Release()
	}
	s.schema = schema
	s.batcher = base.NewRecordBatcher(rr, nil)
	return nil
}

// Schema returns the schema of every batch.
func (s *Source) Schema() *columnar.Schema { return s.schema }

// Fetch reads the next batch of rows.
func (s *Source) Fetch(ctx context.Context) core.Outcome {
	return s.BaseSource.Fetch(ctx, func(_ context.Context, _ int64, limit int) (*columnar.Batch, error) {
		return s.batcher.Next(limit)
	})
}

// Reset restarts reading at the first row group.
func (s *Source) Reset(ctx context.Context) error {
	if s.Closed() {
		return errors.New(errors.ErrorTypeConnection, "source is closed")
	}
	if err := s.openRecords(ctx); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "reopen parquet records")
	}
	s.ResetCursor()
	return nil
}

// Close releases the record reader and closes the file.
func (s *Source) Close() error {
	return s.CloseOnce(func() error {
		s.batcher.Release()
		return s.pf.Close()
	})
}
