// Package base provides BaseSource, the bookkeeping shared by every source
// backend: name, location, batch size, cursor, sticky exhaustion, and close
// state.
//
// # Usage
//
// Backends embed BaseSource and route Fetch through it:
//
//	type MySource struct {
//	    *base.BaseSource
//	    // backend-specific fields
//	}
//
//	func (s *MySource) Fetch(ctx context.Context) core.Outcome {
//	    return s.BaseSource.Fetch(ctx, s.read)
//	}
//
// The read function receives the current cursor and the batch size and
// returns the next batch, or nil once the backend has no more rows.
package base

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/ajitpratap0/fedstream/pkg/columnar"
	"github.com/ajitpratap0/fedstream/pkg/connector/core"
	"github.com/ajitpratap0/fedstream/pkg/errors"
	"github.com/ajitpratap0/fedstream/pkg/logger"
	"go.uber.org/zap"
)

// ReadFunc reads up to limit rows starting at row offset.
type ReadFunc func(ctx context.Context, offset int64, limit int) (*columnar.Batch, error)

// BaseSource implements the cursor contract of core.Source.
type BaseSource struct {
	name      string
	kind      string
	location  string
	batchSize int
	logger    *zap.Logger

	cursor    atomic.Int64
	exhausted atomic.Bool

	closeOnce sync.Once
	closed    atomic.Bool
	closeErr  error
}

// NewBaseSource creates the shared state for a source. batchSize must be positive.
func NewBaseSource(name, kind, location string, batchSize int) *BaseSource {
	return &BaseSource{
		name:      name,
		kind:      kind,
		location:  location,
		batchSize: batchSize,
		logger: logger.Get().With(
			zap.String("source", name),
			zap.String("kind", kind),
		),
	}
}

// Name returns the source name.
func (bs *BaseSource) Name() string { return bs.name }

// Kind returns the backend kind.
func (bs *BaseSource) Kind() string { return bs.kind }

// Location returns where the source reads from.
func (bs *BaseSource) Location() string { return bs.location }

// BatchSize returns the fixed number of rows requested per fetch.
func (bs *BaseSource) BatchSize() int { return bs.batchSize }

// Cursor returns the number of rows delivered so far.
func (bs *BaseSource) Cursor() int64 { return bs.cursor.Load() }

// Exhausted reports whether end of stream has been reached.
func (bs *BaseSource) Exhausted() bool { return bs.exhausted.Load() }

// Logger returns the source-scoped logger.
func (bs *BaseSource) Logger() *zap.Logger { return bs.logger }

// Fetch runs read at the current cursor and converts the result into an
// outcome. The cursor only advances after a successful read.
func (bs *BaseSource) Fetch(ctx context.Context, read ReadFunc) core.Outcome {
	if bs.exhausted.Load() {
		return core.EndOfStream(bs.name, bs.location)
	}
	if bs.closed.Load() {
		return core.Failure(bs.name, bs.location,
			errors.Fetch(bs.name, bs.location, errors.New(errors.ErrorTypeConnection, "source is closed")))
	}

	offset := bs.cursor.Load()
	batch, err := read(ctx, offset, bs.batchSize)
	if err != nil {
		if batch != nil {
			batch.Release()
		}
		bs.fetchLogger(ctx).Warn("fetch failed", zap.Int64("cursor", offset), zap.Error(err))
		return core.Failure(bs.name, bs.location,
			errors.Fetch(bs.name, bs.location, err).WithDetail(errors.DetailCursor, offset))
	}
	if batch == nil || batch.NumRows() == 0 {
		if batch != nil {
			batch.Release()
		}
		bs.exhausted.Store(true)
		bs.fetchLogger(ctx).Debug("end of stream", zap.Int64("rows", offset))
		return core.EndOfStream(bs.name, bs.location)
	}

	bs.cursor.Store(offset + int64(batch.NumRows()))
	return core.BatchOutcome(bs.name, bs.location, batch)
}

// fetchLogger scopes the global logger to this source and to the streamer
// named in ctx, if any.
func (bs *BaseSource) fetchLogger(ctx context.Context) *zap.Logger {
	return logger.WithContext(logger.WithSource(ctx, bs.name)).With(zap.String("kind", bs.kind))
}

// ResetCursor rewinds to row 0 and clears exhaustion.
func (bs *BaseSource) ResetCursor() {
	bs.cursor.Store(0)
	bs.exhausted.Store(false)
}

// CloseOnce runs closeFn the first time it is called and returns its error on
// every call.
func (bs *BaseSource) CloseOnce(closeFn func() error) error {
	bs.closeOnce.Do(func() {
		bs.closed.Store(true)
		if closeFn != nil {
			bs.closeErr = closeFn()
		}
		bs.logger.Debug("source closed", zap.Int64("cursor", bs.cursor.Load()))
	})
	return bs.closeErr
}

// Closed reports whether Close has run.
func (bs *BaseSource) Closed() bool { return bs.closed.Load() }

// SetLogger replaces the source logger, keeping the source fields.
func (bs *BaseSource) SetLogger(l *zap.Logger) {
	if l == nil {
		return
	}
	bs.logger = l.With(zap.String("source", bs.name), zap.String("kind", bs.kind))
}
