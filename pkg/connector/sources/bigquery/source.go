// Package bigquery streams the rows of one BigQuery table through the
// tabledata API, one page per fetch.
package bigquery

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	gojson "github.com/goccy/go-json"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/ajitpratap0/fedstream/pkg/columnar"
	"github.com/ajitpratap0/fedstream/pkg/config"
	"github.com/ajitpratap0/fedstream/pkg/connector/base"
	"github.com/ajitpratap0/fedstream/pkg/connector/core"
	"github.com/ajitpratap0/fedstream/pkg/errors"
)

// Kind is the backend kind served by this package.
const Kind = "bigquery"

// rowIterator is the part of *bigquery.RowIterator the source uses.
type rowIterator interface {
	Next(dst interface{}) error
}

// tableReader opens an iterator at row start returning pages of pageSize rows.
type tableReader func(ctx context.Context, start uint64, pageSize int) rowIterator

// Source reads one page of table rows per fetch.
type Source struct {
	*base.BaseSource

	rows    tableReader
	closeFn func() error
	schema  *columnar.Schema
	// cols maps each projected field to its position in a table row
	cols []int
}

// Target is a parsed table reference.
type Target struct {
	Project string
	Dataset string
	Table   string
}

func (t Target) String() string { return t.Project + "." + t.Dataset + "." + t.Table }

// ParseTarget reads the project, dataset and table options. A location of
// the form bigquery://project/dataset.table supplies whatever they omit.
func ParseTarget(cfg config.SourceConfig) (Target, error) {
	t := Target{
		Project: cfg.Option("project", ""),
		Dataset: cfg.Option("dataset", ""),
		Table:   cfg.Option("table", ""),
	}
	if rest, ok := strings.CutPrefix(cfg.Location, "bigquery://"); ok {
		project, path, _ := strings.Cut(rest, "/")
		if t.Project == "" {
			t.Project = project
		}
		if ds, tbl, ok := strings.Cut(path, "."); ok {
			if t.Dataset == "" {
				t.Dataset = ds
			}
			if t.Table == "" {
				t.Table = tbl
			}
		}
	}
	if t.Project == "" || t.Dataset == "" || t.Table == "" {
		return t, errors.Config(cfg.Name, "project, dataset and table are required", nil)
	}
	return t, nil
}

// MapType maps a BigQuery field onto a column type. Repeated and nested
// fields are carried as JSON text.
func MapType(f *bigquery.FieldSchema) columnar.ColumnType {
	if f.Repeated {
		return columnar.ColumnTypeString
	}
	switch f.Type {
	case bigquery.IntegerFieldType:
		return columnar.ColumnTypeInt64
	case bigquery.FloatFieldType, bigquery.NumericFieldType, bigquery.BigNumericFieldType:
		return columnar.ColumnTypeFloat64
	case bigquery.BooleanFieldType:
		return columnar.ColumnTypeBool
	case bigquery.BytesFieldType:
		return columnar.ColumnTypeBinary
	case bigquery.TimestampFieldType, bigquery.DateTimeFieldType:
		return columnar.ColumnTypeTimestamp
	case bigquery.DateFieldType:
		return columnar.ColumnTypeDate32
	}
	return columnar.ColumnTypeString
}

// MapSchema converts a table schema.
func MapSchema(s bigquery.Schema) (*columnar.Schema, error) {
	fields := make([]columnar.Field, len(s))
	for i, f := range s {
		fields[i] = columnar.Field{Name: f.Name, Type: MapType(f)}
	}
	return columnar.NewSchema(fields...)
}

// New opens a client, reads the table metadata and resolves the schema.
func New(ctx context.Context, cfg config.SourceConfig, batchSize int) (*Source, error) {
	target, err := ParseTarget(cfg)
	if err != nil {
		return nil, err
	}
	var opts []option.ClientOption
	if path := cfg.Option("credentials_file", ""); path != "" {
		opts = append(opts, option.WithCredentialsFile(path))
	}
	if endpoint := cfg.Option("endpoint", ""); endpoint != "" {
		opts = append(opts, option.WithEndpoint(endpoint), option.WithoutAuthentication())
	}
	retry, err := base.RetryFromConfig(cfg)
	if err != nil {
		return nil, err
	}

	client, err := bigquery.NewClient(ctx, target.Project, opts...)
	if err != nil {
		return nil, errors.Config(cfg.Name, "failed to create BigQuery client", err)
	}
	table := client.Dataset(target.Dataset).Table(target.Table)
	var md *bigquery.TableMetadata
	err = retry.Execute(ctx, func(ctx context.Context) error {
		var err error
		md, err = table.Metadata(ctx)
		return err
	})
	if err != nil {
		client.Close()
		return nil, errors.Config(cfg.Name, "failed to read table metadata", err)
	}

	s, err := newSource(cfg, batchSize, md.Schema, tableRows(table), client.Close)
	if err != nil {
		client.Close()
		return nil, err
	}
	s.Logger().Info("bigquery source opened",
		zap.String("table", target.String()),
		zap.Uint64("num_rows", md.NumRows),
		zap.String("schema", s.schema.String()))
	return s, nil
}

func tableRows(t *bigquery.Table) tableReader {
	return func(ctx context.Context, start uint64, pageSize int) rowIterator {
		it := t.Read(ctx)
		it.StartIndex = start
		it.PageInfo().MaxSize = pageSize
		return it
	}
}

func newSource(cfg config.SourceConfig, batchSize int, table bigquery.Schema, rows tableReader, closeFn func() error) (*Source, error) {
	full, err := base.ExplicitSchema(cfg)
	if err != nil {
		return nil, err
	}
	if full == nil {
		if full, err = MapSchema(table); err != nil {
			return nil, errors.Config(cfg.Name, "unsupported table schema", err)
		}
	}
	schema, _, err := base.Project(cfg, full)
	if err != nil {
		return nil, err
	}

	position := make(map[string]int, len(table))
	for i, f := range table {
		position[f.Name] = i
	}
	cols := make([]int, len(schema.Fields))
	for i, f := range schema.Fields {
		j, ok := position[f.Name]
		if !ok {
			return nil, errors.Config(cfg.Name, fmt.Sprintf("column %q is not in the table", f.Name), nil)
		}
		cols[i] = j
	}

	return &Source{
		BaseSource: base.NewBaseSource(cfg.Name, Kind, cfg.Location, cfg.EffectiveBatchSize(batchSize)),
		rows:       rows,
		closeFn:    closeFn,
		schema:     schema,
		cols:       cols,
	}, nil
}

// Schema returns the projected schema of every batch.
func (s *Source) Schema() *columnar.Schema { return s.schema }

// Fetch reads the next page of rows.
func (s *Source) Fetch(ctx context.Context) core.Outcome {
	return s.BaseSource.Fetch(ctx, s.read)
}

func (s *Source) read(ctx context.Context, offset int64, limit int) (*columnar.Batch, error) {
	it := s.rows(ctx, uint64(offset), limit)
	bb := columnar.NewBatchBuilder(s.schema, limit)
	values := make([]interface{}, len(s.cols))
	for n := 0; n < limit; n++ {
		var row []bigquery.Value
		err := it.Next(&row)
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return discard(bb, err)
		}
		for i, j := range s.cols {
			values[i] = nil
			if j < len(row) {
				values[i] = convertValue(row[j])
			}
		}
		if err := bb.AppendRow(values); err != nil {
			return discard(bb, fmt.Errorf("row %d: %w", offset+int64(n)+1, err))
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

// convertValue maps BigQuery values onto what columns accept.
func convertValue(v bigquery.Value) interface{} {
	switch x := v.(type) {
	case []bigquery.Value, map[string]bigquery.Value:
		raw, err := gojson.Marshal(plain(x))
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(raw)
	}
	return plain(v)
}

func plain(v bigquery.Value) interface{} {
	switch x := v.(type) {
	case time.Time:
		return x.UTC()
	case civil.Date:
		return x.In(time.UTC)
	case civil.DateTime:
		return x.In(time.UTC)
	case civil.Time:
		return x.String()
	case *big.Rat:
		if x == nil {
			return nil
		}
		f, _ := x.Float64()
		return f
	case []bigquery.Value:
		out := make([]interface{}, len(x))
		for i, e := range x {
			out[i] = plain(e)
		}
		return out
	case map[string]bigquery.Value:
		out := make(map[string]interface{}, len(x))
		for k, e := range x {
			out[k] = plain(e)
		}
		return out
	}
	return v
}

// Reset restarts at the first row.
func (s *Source) Reset(context.Context) error {
	if s.Closed() {
		return errors.New(errors.ErrorTypeConnection, "source is closed")
	}
	s.ResetCursor()
	return nil
}

// Close closes the client.
func (s *Source) Close() error {
	return s.CloseOnce(func() error {
		if s.closeFn == nil {
			return nil
		}
		return s.closeFn()
	})
}
