// Package sources holds the closed set of source backends. DataSource is a
// tagged union over them; every operation switches on the kind, so adding
// a backend means adding a Kind, a field and an arm in each switch.
package sources

import (
	"context"
	"fmt"

	"github.com/ajitpratap0/fedstream/pkg/columnar"
	"github.com/ajitpratap0/fedstream/pkg/config"
	"github.com/ajitpratap0/fedstream/pkg/connector/core"
	"github.com/ajitpratap0/fedstream/pkg/connector/sources/arrowipc"
	"github.com/ajitpratap0/fedstream/pkg/connector/sources/avro"
	"github.com/ajitpratap0/fedstream/pkg/connector/sources/bigquery"
	"github.com/ajitpratap0/fedstream/pkg/connector/sources/csv"
	"github.com/ajitpratap0/fedstream/pkg/connector/sources/jsonl"
	"github.com/ajitpratap0/fedstream/pkg/connector/sources/kafka"
	"github.com/ajitpratap0/fedstream/pkg/connector/sources/mongodb"
	"github.com/ajitpratap0/fedstream/pkg/connector/sources/parquet"
	"github.com/ajitpratap0/fedstream/pkg/connector/sources/postgresql"
	"github.com/ajitpratap0/fedstream/pkg/connector/sources/sqldb"
	"github.com/ajitpratap0/fedstream/pkg/errors"
)

// Kind identifies a backend.
type Kind string

const (
	KindCSV        Kind = csv.Kind
	KindJSONL      Kind = jsonl.Kind
	KindParquet    Kind = parquet.Kind
	KindArrowIPC   Kind = arrowipc.Kind
	KindAvro       Kind = avro.Kind
	KindPostgreSQL Kind = postgresql.Kind
	KindMySQL      Kind = sqldb.KindMySQL
	KindSnowflake  Kind = sqldb.KindSnowflake
	KindMongoDB    Kind = mongodb.Kind
	KindKafka      Kind = kafka.Kind
	KindBigQuery   Kind = bigquery.Kind
)

var kinds = []Kind{
	KindCSV, KindJSONL, KindParquet, KindArrowIPC, KindAvro,
	KindPostgreSQL, KindMySQL, KindSnowflake, KindMongoDB, KindKafka, KindBigQuery,
}

// Kinds lists every supported kind.
func Kinds() []Kind {
	return append([]Kind(nil), kinds...)
}

// ParseKind validates a kind name.
func ParseKind(s string) (Kind, error) {
	for _, k := range kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown source kind %q", s)
}

// DataSource holds exactly one backend, selected by kind. The zero value
// holds none and reports itself exhausted.
type DataSource struct {
	kind Kind

	csv      *csv.Source
	jsonl    *jsonl.Source
	parquet  *parquet.Source
	arrowipc *arrowipc.Source
	avro     *avro.Source
	postgres *postgresql.Source
	sql      *sqldb.Source
	mongo    *mongodb.Source
	kafka    *kafka.Source
	bq       *bigquery.Source
}

// New builds the backend named by cfg.Kind. globalBatchSize applies unless
// cfg sets its own. Every fault is a configuration error.
func New(ctx context.Context, cfg config.SourceConfig, globalBatchSize int) (DataSource, error) {
	kind, err := ParseKind(cfg.Kind)
	if err != nil {
		return DataSource{}, errors.Config(cfg.Name, "invalid source kind", err)
	}
	ds := DataSource{kind: kind}
	switch kind {
	case KindCSV:
		ds.csv, err = csv.New(ctx, cfg, globalBatchSize)
	case KindJSONL:
		ds.jsonl, err = jsonl.New(ctx, cfg, globalBatchSize)
	case KindParquet:
		ds.parquet, err = parquet.New(ctx, cfg, globalBatchSize)
	case KindArrowIPC:
		ds.arrowipc, err = arrowipc.New(ctx, cfg, globalBatchSize)
	case KindAvro:
		ds.avro, err = avro.New(ctx, cfg, globalBatchSize)
	case KindPostgreSQL:
		ds.postgres, err = postgresql.New(ctx, cfg, globalBatchSize)
	case KindMySQL, KindSnowflake:
		ds.sql, err = sqldb.New(ctx, cfg, globalBatchSize)
	case KindMongoDB:
		ds.mongo, err = mongodb.New(ctx, cfg, globalBatchSize)
	case KindKafka:
		ds.kafka, err = kafka.New(ctx, cfg, globalBatchSize)
	case KindBigQuery:
		ds.bq, err = bigquery.New(ctx, cfg, globalBatchSize)
	}
	if err != nil {
		if !errors.IsType(err, errors.ErrorTypeConfig) {
			err = errors.Config(cfg.Name, "failed to create source", err)
		}
		return DataSource{}, err
	}
	return ds, nil
}

// FromCSV wraps an already constructed CSV source.
func FromCSV(s *csv.Source) DataSource { return DataSource{kind: KindCSV, csv: s} }

// Kind returns the backend kind name.
func (d DataSource) Kind() string { return string(d.kind) }

// Valid reports whether d holds a backend.
func (d DataSource) Valid() bool { return d.kind != "" }

// Name returns the source name.
func (d DataSource) Name() string {
	switch d.kind {
	case KindCSV:
		return d.csv.Name()
	case KindJSONL:
		return d.jsonl.Name()
	case KindParquet:
		return d.parquet.Name()
	case KindArrowIPC:
		return d.arrowipc.Name()
	case KindAvro:
		return d.avro.Name()
	case KindPostgreSQL:
		return d.postgres.Name()
	case KindMySQL, KindSnowflake:
		return d.sql.Name()
	case KindMongoDB:
		return d.mongo.Name()
	case KindKafka:
		return d.kafka.Name()
	case KindBigQuery:
		return d.bq.Name()
	}
	return ""
}

// Location returns the configured location.
func (d DataSource) Location() string {
	switch d.kind {
	case KindCSV:
		return d.csv.Location()
	case KindJSONL:
		return d.jsonl.Location()
	case KindParquet:
		return d.parquet.Location()
	case KindArrowIPC:
		return d.arrowipc.Location()
	case KindAvro:
		return d.avro.Location()
	case KindPostgreSQL:
		return d.postgres.Location()
	case KindMySQL, KindSnowflake:
		return d.sql.Location()
	case KindMongoDB:
		return d.mongo.Location()
	case KindKafka:
		return d.kafka.Location()
	case KindBigQuery:
		return d.bq.Location()
	}
	return ""
}

// Schema returns the schema shared by every batch of the source.
func (d DataSource) Schema() *columnar.Schema {
	switch d.kind {
	case KindCSV:
		return d.csv.Schema()
	case KindJSONL:
		return d.jsonl.Schema()
	case KindParquet:
		return d.parquet.Schema()
	case KindArrowIPC:
		return d.arrowipc.Schema()
	case KindAvro:
		return d.avro.Schema()
	case KindPostgreSQL:
		return d.postgres.Schema()
	case KindMySQL, KindSnowflake:
		return d.sql.Schema()
	case KindMongoDB:
		return d.mongo.Schema()
	case KindKafka:
		return d.kafka.Schema()
	case KindBigQuery:
		return d.bq.Schema()
	}
	return nil
}

// Fetch reads the next batch from the backend.
func (d DataSource) Fetch(ctx context.Context) core.Outcome {
	switch d.kind {
	case KindCSV:
		return d.csv.Fetch(ctx)
	case KindJSONL:
		return d.jsonl.Fetch(ctx)
	case KindParquet:
		return d.parquet.Fetch(ctx)
	case KindArrowIPC:
		return d.arrowipc.Fetch(ctx)
	case KindAvro:
		return d.avro.Fetch(ctx)
	case KindPostgreSQL:
		return d.postgres.Fetch(ctx)
	case KindMySQL, KindSnowflake:
		return d.sql.Fetch(ctx)
	case KindMongoDB:
		return d.mongo.Fetch(ctx)
	case KindKafka:
		return d.kafka.Fetch(ctx)
	case KindBigQuery:
		return d.bq.Fetch(ctx)
	}
	return core.EndOfStream("", "")
}

// Cursor returns the number of rows delivered so far.
func (d DataSource) Cursor() int64 {
	switch d.kind {
	case KindCSV:
		return d.csv.Cursor()
	case KindJSONL:
		return d.jsonl.Cursor()
	case KindParquet:
		return d.parquet.Cursor()
	case KindArrowIPC:
		return d.arrowipc.Cursor()
	case KindAvro:
		return d.avro.Cursor()
	case KindPostgreSQL:
		return d.postgres.Cursor()
	case KindMySQL, KindSnowflake:
		return d.sql.Cursor()
	case KindMongoDB:
		return d.mongo.Cursor()
	case KindKafka:
		return d.kafka.Cursor()
	case KindBigQuery:
		return d.bq.Cursor()
	}
	return 0
}

// Reset rewinds the source to its first row. It is not used while
// streaming.
func (d DataSource) Reset(ctx context.Context) error {
	switch d.kind {
	case KindCSV:
		return d.csv.Reset(ctx)
	case KindJSONL:
		return d.jsonl.Reset(ctx)
	case KindParquet:
		return d.parquet.Reset(ctx)
	case KindArrowIPC:
		return d.arrowipc.Reset(ctx)
	case KindAvro:
		return d.avro.Reset(ctx)
	case KindPostgreSQL:
		return d.postgres.Reset(ctx)
	case KindMySQL, KindSnowflake:
		return d.sql.Reset(ctx)
	case KindMongoDB:
		return d.mongo.Reset(ctx)
	case KindKafka:
		return d.kafka.Reset(ctx)
	case KindBigQuery:
		return d.bq.Reset(ctx)
	}
	return errors.New(errors.ErrorTypeConfig, "empty data source")
}

// Close releases the backend. It is idempotent.
func (d DataSource) Close() error {
	switch d.kind {
	case KindCSV:
		return d.csv.Close()
	case KindJSONL:
		return d.jsonl.Close()
	case KindParquet:
		return d.parquet.Close()
	case KindArrowIPC:
		return d.arrowipc.Close()
	case KindAvro:
		return d.avro.Close()
	case KindPostgreSQL:
		return d.postgres.Close()
	case KindMySQL, KindSnowflake:
		return d.sql.Close()
	case KindMongoDB:
		return d.mongo.Close()
	case KindKafka:
		return d.kafka.Close()
	case KindBigQuery:
		return d.bq.Close()
	}
	return nil
}

// Clone returns a handle sharing the same backend. The single-owner rule
// for Fetch covers both handles together.
func (d DataSource) Clone() DataSource { return d }

var (
	_ core.Source   = DataSource{}
	_ core.Resetter = DataSource{}
)
