// Package sqldb pages through MySQL and Snowflake tables or queries using
// database/sql. Column types come from the driver where it reports them and
// are inferred from sampled rows otherwise.
package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/snowflakedb/gosnowflake"
	"go.uber.org/zap"

	"github.com/ajitpratap0/fedstream/pkg/columnar"
	"github.com/ajitpratap0/fedstream/pkg/config"
	"github.com/ajitpratap0/fedstream/pkg/connector/base"
	"github.com/ajitpratap0/fedstream/pkg/connector/core"
	"github.com/ajitpratap0/fedstream/pkg/errors"
)

// Backend kinds served by this package.
const (
	KindMySQL     = "mysql"
	KindSnowflake = "snowflake"
)

type dialect struct {
	driver   string
	quote    string
	parseDSN func(string) error
}

var dialects = map[string]dialect{
	KindMySQL: {
		driver: "mysql",
		quote:  "`",
		parseDSN: func(dsn string) error {
			_, err := mysql.ParseDSN(dsn)
			return err
		},
	},
	KindSnowflake: {
		driver: "snowflake",
		quote:  `"`,
		parseDSN: func(dsn string) error {
			_, err := gosnowflake.ParseDSN(dsn)
			return err
		},
	},
}

// Source streams rows of a table or query, one LIMIT/OFFSET page per fetch.
type Source struct {
	*base.BaseSource

	db     *sql.DB
	query  *base.SQLQuery
	schema *columnar.Schema
	names  []string
}

// New opens a database handle for cfg.Kind.
func New(ctx context.Context, cfg config.SourceConfig, batchSize int) (*Source, error) {
	d, ok := dialects[cfg.Kind]
	if !ok {
		return nil, errors.Config(cfg.Name, fmt.Sprintf("sqldb does not serve kind %q", cfg.Kind), nil)
	}
	dsn, err := base.DSN(cfg)
	if err != nil {
		return nil, err
	}
	if err := d.parseDSN(dsn); err != nil {
		return nil, errors.Config(cfg.Name, "invalid dsn", err)
	}
	retry, err := base.RetryFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, errors.Config(cfg.Name, "failed to open database", err)
	}
	db.SetMaxOpenConns(2)
	if err := retry.Execute(ctx, db.PingContext); err != nil {
		db.Close()
		return nil, errors.Config(cfg.Name, "failed to reach database", err)
	}
	s, err := NewWithDB(ctx, cfg, batchSize, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewWithDB builds a source over an open handle, which the source then owns.
func NewWithDB(ctx context.Context, cfg config.SourceConfig, batchSize int, db *sql.DB) (*Source, error) {
	d, ok := dialects[cfg.Kind]
	if !ok {
		return nil, errors.Config(cfg.Name, fmt.Sprintf("sqldb does not serve kind %q", cfg.Kind), nil)
	}
	query, err := base.NewSQLQuery(cfg, d.quote)
	if err != nil {
		return nil, err
	}
	full, err := base.ExplicitSchema(cfg)
	if err != nil {
		return nil, err
	}
	if full == nil {
		inferRows, err := base.InferRows(cfg)
		if err != nil {
			return nil, err
		}
		if full, err = describe(ctx, db, query.Probe(inferRows)); err != nil {
			return nil, errors.Config(cfg.Name, "failed to describe query", err)
		}
	}
	schema, _, err := base.Project(cfg, full)
	if err != nil {
		return nil, err
	}

	s := &Source{
		BaseSource: base.NewBaseSource(cfg.Name, cfg.Kind, cfg.Location, cfg.EffectiveBatchSize(batchSize)),
		db:         db,
		query:      query,
		schema:     schema,
		names:      make([]string, schema.Len()),
	}
	for i, f := range schema.Fields {
		s.names[i] = f.Name
	}
	s.Logger().Info("sql source opened", zap.String("schema", schema.String()))
	return s, nil
}

// describe maps the driver's column types, sampling the probe rows for
// columns the driver does not type.
func describe(ctx context.Context, db *sql.DB, probe string) (*columnar.Schema, error) {
	rows, err := db.QueryContext(ctx, probe)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	cts, err := rows.ColumnTypes()
	if err != nil {
		return nil, err
	}
	types := make([]columnar.ColumnType, len(cts))
	typed := make([]bool, len(cts))
	for i, ct := range cts {
		types[i] = columnType(ct)
		typed[i] = types[i] != columnar.ColumnTypeInvalid
	}
	for rows.Next() {
		values, err := scan(rows, len(cts))
		if err != nil {
			return nil, err
		}
		for i, v := range values {
			if !typed[i] {
				types[i] = columnar.MergeTypes(types[i], inferValue(v))
			}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	fields := make([]columnar.Field, len(cts))
	for i, ct := range cts {
		t := types[i]
		if t == columnar.ColumnTypeInvalid {
			t = columnar.ColumnTypeString
		}
		fields[i] = columnar.Field{Name: ct.Name(), Type: t}
	}
	return columnar.NewSchema(fields...)
}

func inferValue(v any) columnar.ColumnType {
	if s, ok := v.(string); ok {
		return columnar.InferTextType(s)
	}
	return columnar.InferValueType(v)
}

// columnType maps MySQL and Snowflake type names. It returns
// ColumnTypeInvalid for names it does not know.
func columnType(ct *sql.ColumnType) columnar.ColumnType {
	name := strings.ToUpper(ct.DatabaseTypeName())
	name = strings.TrimPrefix(name, "UNSIGNED ")
	switch name {
	case "BOOLEAN", "BOOL":
		return columnar.ColumnTypeBool
	case "TINYINT", "SMALLINT", "MEDIUMINT", "INT", "INTEGER", "YEAR":
		return columnar.ColumnTypeInt32
	case "BIGINT":
		return columnar.ColumnTypeInt64
	case "FIXED", "NUMBER", "DECIMAL", "NUMERIC":
		if _, scale, ok := ct.DecimalSize(); ok && scale == 0 {
			return columnar.ColumnTypeInt64
		}
		return columnar.ColumnTypeFloat64
	case "FLOAT":
		return columnar.ColumnTypeFloat32
	case "DOUBLE", "REAL":
		return columnar.ColumnTypeFloat64
	case "DATE":
		return columnar.ColumnTypeDate32
	case "DATETIME", "TIMESTAMP", "TIMESTAMP_NTZ", "TIMESTAMP_LTZ", "TIMESTAMP_TZ":
		return columnar.ColumnTypeTimestamp
	case "BINARY", "VARBINARY", "BLOB", "TINYBLOB", "MEDIUMBLOB", "LONGBLOB":
		return columnar.ColumnTypeBinary
	case "CHAR", "VARCHAR", "TEXT", "TINYTEXT", "MEDIUMTEXT", "LONGTEXT", "ENUM", "SET",
		"JSON", "VARIANT", "OBJECT", "ARRAY", "TIME":
		return columnar.ColumnTypeString
	}
	return columnar.ColumnTypeInvalid
}

// scan reads the current row. Raw bytes become strings; binary columns
// accept either form.
func scan(rows *sql.Rows, n int) ([]any, error) {
	values := make([]any, n)
	ptrs := make([]any, n)
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, err
	}
	for i, v := range values {
		if b, ok := v.([]byte); ok {
			values[i] = string(b)
		}
	}
	return values, nil
}

// Schema returns the projected schema of every batch.
func (s *Source) Schema() *columnar.Schema { return s.schema }

// Fetch reads the next page.
func (s *Source) Fetch(ctx context.Context) core.Outcome {
	return s.BaseSource.Fetch(ctx, s.read)
}

func (s *Source) read(ctx context.Context, offset int64, limit int) (*columnar.Batch, error) {
	rows, err := s.db.QueryContext(ctx, s.query.Page(s.names, offset, limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	bb := columnar.NewBatchBuilder(s.schema, limit)
	for rows.Next() {
		values, err := scan(rows, len(s.names))
		if err == nil {
			for i, f := range s.schema.Fields {
				if str, ok := values[i].(string); ok && f.Type == columnar.ColumnTypeBinary {
					values[i] = []byte(str)
				}
			}
			err = bb.AppendRow(values)
		}
		if err != nil {
			return discard(bb, fmt.Errorf("row %d: %w", offset+int64(bb.Len())+1, err))
		}
	}
	if err := rows.Err(); err != nil {
		return discard(bb, err)
	}
	if bb.Len() == 0 {
		return discard(bb, nil)
	}
	return bb.NewBatch()
}

func discard(bb *columnar.BatchBuilder, err error) (*columnar.Batch, error) {
	if b, berr := bb.NewBatch(); berr == nil {
		b.Release()
	}
	return nil, err
}

// Reset restarts paging at offset zero.
func (s *Source) Reset(context.Context) error {
	if s.Closed() {
		return errors.New(errors.ErrorTypeConnection, "source is closed")
	}
	s.ResetCursor()
	return nil
}

// Close closes the database handle.
func (s *Source) Close() error {
	return s.CloseOnce(s.db.Close)
}
