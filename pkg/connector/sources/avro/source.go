// Package avro reads Avro object container files. The column schema is
// derived from the writer schema stored in the file header.
package avro

import (
	"context"
	"fmt"
	"io"

	gojson "github.com/goccy/go-json"
	"github.com/linkedin/goavro/v2"
	"go.uber.org/zap"

	"github.com/ajitpratap0/fedstream/pkg/columnar"
	"github.com/ajitpratap0/fedstream/pkg/config"
	"github.com/ajitpratap0/fedstream/pkg/connector/base"
	"github.com/ajitpratap0/fedstream/pkg/connector/core"
	"github.com/ajitpratap0/fedstream/pkg/errors"
	"github.com/ajitpratap0/fedstream/pkg/storage"
)

// Kind is the backend kind served by this package.
const Kind = "avro"

// Source streams the records of one OCF file.
type Source struct {
	*base.BaseSource

	storage storage.Options
	rc      io.ReadCloser
	ocf     *goavro.OCFReader
	unions  map[string]bool // fields whose values arrive wrapped in a union map
	schema  *columnar.Schema
}

// New opens the file and maps the writer schema to columns.
func New(ctx context.Context, cfg config.SourceConfig, batchSize int) (*Source, error) {
	s := &Source{
		BaseSource: base.NewBaseSource(cfg.Name, Kind, cfg.Location, cfg.EffectiveBatchSize(batchSize)),
		storage:    storage.OptionsFromMap(cfg.Options),
	}
	if err := s.open(ctx); err != nil {
		return nil, errors.Config(cfg.Name, "open avro", err)
	}
	full, unions, err := MapSchema(s.ocf.Codec().Schema())
	if err != nil {
		s.rc.Close()
		return nil, errors.Config(cfg.Name, "map avro schema", err)
	}
	s.unions = unions
	if s.schema, _, err = base.Project(cfg, full); err != nil {
		s.rc.Close()
		return nil, err
	}

	s.Logger().Info("avro source opened",
		zap.String("location", cfg.Location),
		zap.String("compression", s.ocf.CompressionName()),
		zap.String("schema", s.schema.String()))
	return s, nil
}

func (s *Source) open(ctx context.Context) error {
	rc, err := storage.Open(ctx, s.Location(), s.storage)
	if err != nil {
		return err
	}
	ocf, err := goavro.NewOCFReader(rc)
	if err != nil {
		rc.Close()
		return err
	}
	s.rc, s.ocf = rc, ocf
	return nil
}

type avroField struct {
	Name string            `json:"name"`
	Type gojson.RawMessage `json:"type"`
}

type avroRecord struct {
	Type   string      `json:"type"`
	Fields []avroField `json:"fields"`
}

type avroType struct {
	Type        interface{} `json:"type"`
	LogicalType string      `json:"logicalType"`
}

// MapSchema maps a top-level Avro record schema onto columns. The second
// result marks the fields declared as unions.
func MapSchema(schemaJSON string) (*columnar.Schema, map[string]bool, error) {
	var rec avroRecord
	if err := gojson.Unmarshal([]byte(schemaJSON), &rec); err != nil {
		return nil, nil, err
	}
	if rec.Type != "record" {
		return nil, nil, fmt.Errorf("top-level avro type is %q, want record", rec.Type)
	}
	fields := make([]columnar.Field, len(rec.Fields))
	unions := make(map[string]bool)
	for i, f := range rec.Fields {
		t, union, err := mapType(f.Type)
		if err != nil {
			return nil, nil, fmt.Errorf("field %q: %w", f.Name, err)
		}
		fields[i] = columnar.Field{Name: f.Name, Type: t}
		unions[f.Name] = union
	}
	schema, err := columnar.NewSchema(fields...)
	return schema, unions, err
}

func mapType(raw gojson.RawMessage) (columnar.ColumnType, bool, error) {
	var v interface{}
	if err := gojson.Unmarshal(raw, &v); err != nil {
		return columnar.ColumnTypeInvalid, false, err
	}
	switch x := v.(type) {
	case string:
		return primitive(x, ""), false, nil
	case []interface{}:
		// ["null", T] maps to T; wider unions become JSON text
		var branches []gojson.RawMessage
		if err := gojson.Unmarshal(raw, &branches); err != nil {
			return columnar.ColumnTypeInvalid, true, err
		}
		var nonNull []gojson.RawMessage
		for _, b := range branches {
			if string(b) != `"null"` {
				nonNull = append(nonNull, b)
			}
		}
		if len(nonNull) != 1 {
			return columnar.ColumnTypeString, true, nil
		}
		t, _, err := mapType(nonNull[0])
		return t, true, err
	case map[string]interface{}:
		var at avroType
		if err := gojson.Unmarshal(raw, &at); err != nil {
			return columnar.ColumnTypeInvalid, false, err
		}
		if name, ok := at.Type.(string); ok {
			return primitive(name, at.LogicalType), false, nil
		}
		return columnar.ColumnTypeString, false, nil
	}
	return columnar.ColumnTypeInvalid, false, fmt.Errorf("unrecognised avro type %s", raw)
}

func primitive(name, logical string) columnar.ColumnType {
	switch name {
	case "boolean":
		return columnar.ColumnTypeBool
	case "int":
		if logical == "date" {
			return columnar.ColumnTypeDate32
		}
		return columnar.ColumnTypeInt32
	case "long":
		if logical == "timestamp-micros" || logical == "timestamp-millis" {
			return columnar.ColumnTypeTimestamp
		}
		return columnar.ColumnTypeInt64
	case "float":
		return columnar.ColumnTypeFloat32
	case "double":
		return columnar.ColumnTypeFloat64
	case "bytes", "fixed":
		return columnar.ColumnTypeBinary
	}
	// string, enum, and nested records, arrays and maps
	return columnar.ColumnTypeString
}

// Schema returns the projected schema of every batch.
func (s *Source) Schema() *columnar.Schema { return s.schema }

// Fetch reads the next batch of records.
func (s *Source) Fetch(ctx context.Context) core.Outcome {
	return s.BaseSource.Fetch(ctx, s.read)
}

func (s *Source) read(ctx context.Context, offset int64, limit int) (*columnar.Batch, error) {
	bb := columnar.NewBatchBuilder(s.schema, limit)
	fail := func(err error) (*columnar.Batch, error) {
		if b, berr := bb.NewBatch(); berr == nil {
			b.Release()
		}
		return nil, err
	}
	for bb.Len() < limit && s.ocf.Scan() {
		if err := ctx.Err(); err != nil {
			return fail(err)
		}
		datum, err := s.ocf.Read()
		if err != nil {
			return fail(err)
		}
		rec, ok := datum.(map[string]interface{})
		if !ok {
			return fail(fmt.Errorf("record %d is %T, want a record", offset+int64(bb.Len()), datum))
		}
		if err := bb.AppendRecord(s.normalize(rec)); err != nil {
			return fail(fmt.Errorf("record %d: %w", offset+int64(bb.Len()), err))
		}
	}
	if err := s.ocf.Err(); err != nil {
		return fail(err)
	}
	if bb.Len() == 0 {
		return fail(nil)
	}
	return bb.NewBatch()
}

// normalize unwraps union values and renders nested values as JSON text.
func (s *Source) normalize(rec map[string]interface{}) map[string]interface{} {
	for k, v := range rec {
		if m, ok := v.(map[string]interface{}); ok && s.unions[k] && len(m) == 1 {
			for _, inner := range m {
				v = inner
			}
		}
		switch v.(type) {
		case map[string]interface{}, []interface{}:
			if raw, err := gojson.Marshal(v); err == nil {
				v = string(raw)
			}
		}
		rec[k] = v
	}
	return rec
}

// Reset reopens the file at the first record.
func (s *Source) Reset(ctx context.Context) error {
	if s.Closed() {
		return errors.New(errors.ErrorTypeConnection, "source is closed")
	}
	old := s.rc
	if err := s.open(ctx); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "reopen avro")
	}
	old.Close()
	s.ResetCursor()
	return nil
}

// Close closes the underlying reader.
func (s *Source) Close() error {
	return s.CloseOnce(s.rc.Close)
}
