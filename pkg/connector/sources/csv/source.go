// Package csv reads delimited text files as columnar batches.
//
// The location may be a local path or an s3:// or gs:// URL; compressed files
// (.gz, .zst, .sz, .lz4, ...) are decoded on the fly. Without an explicit
// schema, column types are inferred from the first infer_rows rows.
package csv

import (
	"context"
	stdcsv "encoding/csv"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/ajitpratap0/fedstream/pkg/columnar"
	"github.com/ajitpratap0/fedstream/pkg/config"
	"github.com/ajitpratap0/fedstream/pkg/connector/base"
	"github.com/ajitpratap0/fedstream/pkg/connector/core"
	"github.com/ajitpratap0/fedstream/pkg/errors"
	"github.com/ajitpratap0/fedstream/pkg/storage"
)

// Kind is the backend kind served by this package.
const Kind = "csv"

type options struct {
	delimiter rune
	comment   rune
	hasHeader bool
	nulls     map[string]struct{}
	inferRows int
	explicit  *columnar.Schema
	storage   storage.Options
}

func parseOptions(cfg config.SourceConfig) (options, error) {
	var o options
	var err error

	if o.delimiter, err = singleRune(cfg, "delimiter", ','); err != nil {
		return o, err
	}
	if o.comment, err = singleRune(cfg, "comment", 0); err != nil {
		return o, err
	}
	if o.hasHeader, err = cfg.BoolOption("has_header", true); err != nil {
		return o, errors.Config(cfg.Name, "invalid has_header option", err)
	}
	if o.inferRows, err = base.InferRows(cfg); err != nil {
		return o, err
	}
	if o.explicit, err = base.ExplicitSchema(cfg); err != nil {
		return o, err
	}

	o.nulls = map[string]struct{}{"": {}}
	for _, v := range cfg.ListOption("null_values") {
		o.nulls[v] = struct{}{}
	}
	o.storage = storage.OptionsFromMap(cfg.Options)
	return o, nil
}

func singleRune(cfg config.SourceConfig, key string, def rune) (rune, error) {
	v := cfg.Option(key, "")
	if v == "" {
		return def, nil
	}
	if v == `\t` {
		return '\t', nil
	}
	if utf8.RuneCountInString(v) != 1 {
		return 0, errors.Config(cfg.Name, fmt.Sprintf("%s must be a single character, got %q", key, v), nil)
	}
	r, _ := utf8.DecodeRuneInString(v)
	return r, nil
}

// Source streams rows of one delimited file.
type Source struct {
	*base.BaseSource

	opts   options
	rc     io.ReadCloser
	reader *stdcsv.Reader
	line   int64

	header  []string
	schema  *columnar.Schema // projected
	fileIdx []int            // file field index of each projected field
	pending [][]string       // rows read while inferring, not yet delivered
}

// New opens the file, reads the header and resolves the schema. Every
// failure is a configuration error.
func New(ctx context.Context, cfg config.SourceConfig, batchSize int) (*Source, error) {
	opts, err := parseOptions(cfg)
	if err != nil {
		return nil, err
	}
	s := &Source{
		BaseSource: base.NewBaseSource(cfg.Name, Kind, cfg.Location, cfg.EffectiveBatchSize(batchSize)),
		opts:       opts,
	}
	if err := s.open(ctx); err != nil {
		return nil, errors.Config(cfg.Name, "open csv", err)
	}
	if err := s.resolveSchema(cfg); err != nil {
		s.rc.Close()
		return nil, err
	}

	s.Logger().Info("csv source opened",
		zap.String("location", cfg.Location),
		zap.String("schema", s.schema.String()),
		zap.Bool("has_header", opts.hasHeader))
	return s, nil
}

func (s *Source) open(ctx context.Context) error {
	rc, err := storage.Open(ctx, s.Location(), s.opts.storage)
	if err != nil {
		return err
	}
	r := stdcsv.NewReader(rc)
	r.Comma = s.opts.delimiter
	r.Comment = s.opts.comment

	var header []string
	if s.opts.hasHeader {
		header, err = r.Read()
		if err == io.EOF {
			err = fmt.Errorf("file has no header row")
		}
		if err != nil {
			rc.Close()
			return err
		}
		for i, h := range header {
			header[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		}
	}

	s.rc, s.reader, s.header, s.pending = rc, r, header, nil
	s.line = 0
	if header != nil {
		s.line = 1
	}
	return nil
}

func (s *Source) readRecord() ([]string, error) {
	rec, err := s.reader.Read()
	if err == nil {
		s.line++
	}
	return rec, err
}

func (s *Source) resolveSchema(cfg config.SourceConfig) error {
	var full *columnar.Schema
	var fileIdx []int

	switch {
	case s.opts.explicit != nil && s.header != nil:
		// explicit types for named header columns
		full = s.opts.explicit
		fileIdx = make([]int, full.Len())
		for i, f := range full.Fields {
			fileIdx[i] = indexOf(s.header, f.Name)
			if fileIdx[i] < 0 {
				return errors.Config(cfg.Name, fmt.Sprintf("schema column %q is not in the header", f.Name), nil)
			}
		}
	case s.opts.explicit != nil:
		full = s.opts.explicit
		fileIdx = make([]int, full.Len())
		for i := range fileIdx {
			fileIdx[i] = i
		}
	default:
		inferred, err := s.infer()
		if err != nil {
			return errors.Config(cfg.Name, "infer csv schema", err)
		}
		full = inferred
		fileIdx = make([]int, full.Len())
		for i := range fileIdx {
			fileIdx[i] = i
		}
	}

	projected, idx, err := base.Project(cfg, full)
	if err != nil {
		return err
	}
	s.schema = projected
	s.fileIdx = make([]int, len(idx))
	for i, j := range idx {
		s.fileIdx[i] = fileIdx[j]
	}
	return nil
}

// infer samples up to inferRows rows and keeps them for the first fetch.
func (s *Source) infer() (*columnar.Schema, error) {
	for len(s.pending) < s.opts.inferRows {
		rec, err := s.readRecord()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		s.pending = append(s.pending, rec)
	}

	width := len(s.header)
	if width == 0 && len(s.pending) > 0 {
		width = len(s.pending[0])
	}
	if width == 0 {
		return nil, fmt.Errorf("no header and no rows to infer from")
	}
	types := make([]columnar.ColumnType, width)
	for _, rec := range s.pending {
		for i := 0; i < width && i < len(rec); i++ {
			if s.isNull(rec[i]) {
				continue
			}
			types[i] = columnar.MergeTypes(types[i], columnar.InferTextType(rec[i]))
		}
	}

	fields := make([]columnar.Field, width)
	for i, t := range types {
		name := fmt.Sprintf("column_%d", i)
		if s.header != nil {
			name = s.header[i]
		}
		if t == columnar.ColumnTypeInvalid {
			t = columnar.ColumnTypeString
		}
		fields[i] = columnar.Field{Name: name, Type: t}
	}
	return columnar.NewSchema(fields...)
}

func (s *Source) isNull(v string) bool {
	_, ok := s.opts.nulls[v]
	return ok
}

// Schema returns the projected schema of every batch.
func (s *Source) Schema() *columnar.Schema { return s.schema }

// Fetch reads the next batch of rows.
func (s *Source) Fetch(ctx context.Context) core.Outcome {
	return s.BaseSource.Fetch(ctx, s.read)
}

func (s *Source) read(ctx context.Context, _ int64, limit int) (*columnar.Batch, error) {
	bb := columnar.NewBatchBuilder(s.schema, limit)
	for bb.Len() < limit {
		if err := ctx.Err(); err != nil {
			return nil, discard(bb, err)
		}
		var rec []string
		if len(s.pending) > 0 {
			rec, s.pending = s.pending[0], s.pending[1:]
		} else {
			var err error
			rec, err = s.readRecord()
			if err == io.EOF {
				break
			}
			if err != nil {
				return nil, discard(bb, err)
			}
		}
		if err := s.appendRecord(bb, rec); err != nil {
			return nil, discard(bb, fmt.Errorf("line %d: %w", s.line, err))
		}
	}
	if bb.Len() == 0 {
		return nil, nil
	}
	return bb.NewBatch()
}

func (s *Source) appendRecord(bb *columnar.BatchBuilder, rec []string) error {
	for i, j := range s.fileIdx {
		col := bb.Column(i)
		if j >= len(rec) {
			return fmt.Errorf("row has %d fields, column %q needs %d", len(rec), col.Field().Name, j+1)
		}
		if s.isNull(rec[j]) {
			col.AppendNull()
			continue
		}
		if err := col.AppendText(rec[j]); err != nil {
			return err
		}
	}
	return nil
}

func discard(bb *columnar.BatchBuilder, err error) error {
	if b, berr := bb.NewBatch(); berr == nil {
		b.Release()
	}
	return err
}

// Reset reopens the file and rewinds the cursor to the first data row.
func (s *Source) Reset(ctx context.Context) error {
	if s.Closed() {
		return errors.New(errors.ErrorTypeConnection, "source is closed")
	}
	old := s.rc
	if err := s.open(ctx); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "reopen csv")
	}
	old.Close()
	s.ResetCursor()
	return nil
}

// Close closes the underlying reader.
func (s *Source) Close() error {
	return s.CloseOnce(s.rc.Close)
}

func indexOf(list []string, name string) int {
	for i, v := range list {
		if v == name {
			return i
		}
	}
	return -1
}
