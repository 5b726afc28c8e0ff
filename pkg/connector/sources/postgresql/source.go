// Package postgresql pages through a PostgreSQL table or query with pgx.
package postgresql

import (
	"context"
	"fmt"

	gojson "github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/ajitpratap0/fedstream/pkg/columnar"
	"github.com/ajitpratap0/fedstream/pkg/config"
	"github.com/ajitpratap0/fedstream/pkg/connector/base"
	"github.com/ajitpratap0/fedstream/pkg/connector/core"
	"github.com/ajitpratap0/fedstream/pkg/errors"
)

// Kind is the backend kind served by this package.
const Kind = "postgresql"

// querier is the part of *pgxpool.Pool the source uses.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Close()
}

// Source streams rows of a table or query, one LIMIT/OFFSET page per fetch.
type Source struct {
	*base.BaseSource

	db     querier
	query  *base.SQLQuery
	schema *columnar.Schema
}

// New connects a pool to the dsn option (or location) and describes the
// result columns.
func New(ctx context.Context, cfg config.SourceConfig, batchSize int) (*Source, error) {
	dsn, err := base.DSN(cfg)
	if err != nil {
		return nil, err
	}
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, errors.Config(cfg.Name, "failed to parse connection string", err)
	}
	// fetches are sequential; one spare connection covers the describe query
	poolConfig.MaxConns = 2
	retry, err := base.RetryFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, errors.Config(cfg.Name, "failed to create connection pool", err)
	}
	if err := retry.Execute(ctx, pool.Ping); err != nil {
		pool.Close()
		return nil, errors.Config(cfg.Name, "failed to reach PostgreSQL", err)
	}
	s, err := newSource(ctx, cfg, batchSize, pool)
	if err != nil {
		pool.Close()
		return nil, err
	}
	s.Logger().Info("Connected to PostgreSQL",
		zap.String("host", poolConfig.ConnConfig.Host),
		zap.String("database", poolConfig.ConnConfig.Database),
		zap.String("schema", s.schema.String()))
	return s, nil
}

func newSource(ctx context.Context, cfg config.SourceConfig, batchSize int, db querier) (*Source, error) {
	query, err := base.NewSQLQuery(cfg, `"`)
	if err != nil {
		return nil, err
	}
	full, err := base.ExplicitSchema(cfg)
	if err != nil {
		return nil, err
	}
	if full == nil {
		if full, err = describe(ctx, db, query); err != nil {
			return nil, errors.Config(cfg.Name, "failed to describe query", err)
		}
	}
	schema, _, err := base.Project(cfg, full)
	if err != nil {
		return nil, err
	}
	return &Source{
		BaseSource: base.NewBaseSource(cfg.Name, Kind, cfg.Location, cfg.EffectiveBatchSize(batchSize)),
		db:         db,
		query:      query,
		schema:     schema,
	}, nil
}

func describe(ctx context.Context, db querier, query *base.SQLQuery) (*columnar.Schema, error) {
	rows, err := db.Query(ctx, query.Probe(0))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	fds := rows.FieldDescriptions()
	fields := make([]columnar.Field, len(fds))
	for i, fd := range fds {
		fields[i] = columnar.Field{Name: fd.Name, Type: columnType(fd)}
	}
	for rows.Next() {
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return columnar.NewSchema(fields...)
}

func columnType(fd pgconn.FieldDescription) columnar.ColumnType {
	switch fd.DataTypeOID {
	case pgtype.BoolOID:
		return columnar.ColumnTypeBool
	case pgtype.Int2OID, pgtype.Int4OID:
		return columnar.ColumnTypeInt32
	case pgtype.Int8OID:
		return columnar.ColumnTypeInt64
	case pgtype.Float4OID:
		return columnar.ColumnTypeFloat32
	case pgtype.Float8OID, pgtype.NumericOID:
		return columnar.ColumnTypeFloat64
	case pgtype.DateOID:
		return columnar.ColumnTypeDate32
	case pgtype.TimestampOID, pgtype.TimestamptzOID:
		return columnar.ColumnTypeTimestamp
	case pgtype.ByteaOID:
		return columnar.ColumnTypeBinary
	default:
		return columnar.ColumnTypeString
	}
}

// Schema returns the projected schema of every batch.
func (s *Source) Schema() *columnar.Schema { return s.schema }

// Fetch reads the next page.
func (s *Source) Fetch(ctx context.Context) core.Outcome {
	return s.BaseSource.Fetch(ctx, s.read)
}

func (s *Source) read(ctx context.Context, offset int64, limit int) (*columnar.Batch, error) {
	names := make([]string, s.schema.Len())
	for i, f := range s.schema.Fields {
		names[i] = f.Name
	}
	rows, err := s.db.Query(ctx, s.query.Page(names, offset, limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	bb := columnar.NewBatchBuilder(s.schema, limit)
	for rows.Next() {
		values, err := rows.Values()
		if err == nil {
			for i, v := range values {
				values[i] = convertValue(v)
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

// convertValue maps pgx values without a direct column representation.
func convertValue(v any) any {
	switch x := v.(type) {
	case pgtype.Numeric:
		f, err := x.Float64Value()
		if err != nil || !f.Valid {
			return nil
		}
		return f.Float64
	case [16]byte:
		return pgtype.UUID{Bytes: x, Valid: true}.String()
	case map[string]any, []any:
		raw, err := gojson.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(raw)
	}
	return v
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

// Close closes the connection pool.
func (s *Source) Close() error {
	return s.CloseOnce(func() error {
		s.db.Close()
		return nil
	})
}
