package base

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ajitpratap0/fedstream/pkg/columnar"
	"github.com/ajitpratap0/fedstream/pkg/connector/core"
	"github.com/ajitpratap0/fedstream/pkg/errors"
	"github.com/ajitpratap0/fedstream/pkg/logger"
)

func rowsReader(t *testing.T, total int64) ReadFunc {
	schema, err := columnar.ParseSchema("n:int64")
	require.NoError(t, err)
	return func(_ context.Context, offset int64, limit int) (*columnar.Batch, error) {
		bb := columnar.NewBatchBuilder(schema, limit)
		for i := offset; i < total && i < offset+int64(limit); i++ {
			if err := bb.AppendRow([]interface{}{i}); err != nil {
				return nil, err
			}
		}
		return bb.NewBatch()
	}
}

func TestBaseSourceFetchAdvancesCursor(t *testing.T) {
	bs := NewBaseSource("numbers", "test", "mem://numbers", 4)
	bs.SetLogger(zaptest.NewLogger(t))
	read := rowsReader(t, 10)
	ctx := context.Background()

	var sizes []int
	for {
		o := bs.Fetch(ctx, read)
		if o.Kind == core.OutcomeEndOfStream {
			break
		}
		require.Equal(t, core.OutcomeBatch, o.Kind)
		assert.Equal(t, "numbers", o.Source)
		assert.Equal(t, "mem://numbers", o.Location)
		sizes = append(sizes, o.Batch.NumRows())
		o.Release()
	}
	assert.Equal(t, []int{4, 4, 2}, sizes)
	assert.Equal(t, int64(10), bs.Cursor())
	assert.True(t, bs.Exhausted())
}

func TestBaseSourceEndOfStreamIsSticky(t *testing.T) {
	bs := NewBaseSource("once", "test", "", 5)
	calls := 0
	read := func(ctx context.Context, offset int64, limit int) (*columnar.Batch, error) {
		calls++
		return nil, nil
	}
	for i := 0; i < 3; i++ {
		o := bs.Fetch(context.Background(), read)
		assert.Equal(t, core.OutcomeEndOfStream, o.Kind)
	}
	assert.Equal(t, 1, calls)
	assert.Equal(t, int64(0), bs.Cursor())
}

func TestBaseSourceFailureKeepsCursor(t *testing.T) {
	bs := NewBaseSource("flaky", "test", "s3://bucket/key.csv", 2)
	good := rowsReader(t, 10)

	o := bs.Fetch(context.Background(), good)
	require.Equal(t, core.OutcomeBatch, o.Kind)
	o.Release()

	o = bs.Fetch(context.Background(), func(context.Context, int64, int) (*columnar.Batch, error) {
		return nil, fmt.Errorf("connection reset")
	})
	require.Equal(t, core.OutcomeFailure, o.Kind)
	assert.Equal(t, int64(2), bs.Cursor())
	assert.True(t, errors.IsType(o.Err, errors.ErrorTypeFetch))
	assert.Equal(t, "flaky", errors.SourceOf(o.Err))
	assert.Contains(t, o.Err.Error(), "connection reset")

	var e *errors.Error
	require.True(t, errors.As(o.Err, &e))
	assert.Equal(t, "2", e.Detail(errors.DetailCursor))
	assert.Equal(t, "s3://bucket/key.csv", e.Detail(errors.DetailLocation))
}

func TestBaseSourceFetchLogsContextNames(t *testing.T) {
	obs, logs := observer.New(zapcore.DebugLevel)
	defer logger.Replace(zap.New(obs))()

	bs := NewBaseSource("orders", "csv", "orders.csv", 2)
	ctx := logger.WithStreamer(context.Background(), "nightly")
	o := bs.Fetch(ctx, func(context.Context, int64, int) (*columnar.Batch, error) {
		return nil, fmt.Errorf("disk gone")
	})
	require.Equal(t, core.OutcomeFailure, o.Kind)

	entries := logs.FilterMessage("fetch failed").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "nightly", fields["streamer"])
	assert.Equal(t, "orders", fields["source"])
	assert.Equal(t, "csv", fields["kind"])
}

func TestBaseSourceResetCursor(t *testing.T) {
	bs := NewBaseSource("again", "test", "", 8)
	read := rowsReader(t, 3)

	o := bs.Fetch(context.Background(), read)
	require.Equal(t, 3, o.Batch.NumRows())
	o.Release()
	require.Equal(t, core.OutcomeEndOfStream, bs.Fetch(context.Background(), read).Kind)

	bs.ResetCursor()
	assert.False(t, bs.Exhausted())
	assert.Equal(t, int64(0), bs.Cursor())

	o = bs.Fetch(context.Background(), read)
	require.Equal(t, core.OutcomeBatch, o.Kind)
	assert.Equal(t, int64(0), o.Batch.Column(0).Int64(0))
	o.Release()
}

func TestBaseSourceCloseOnce(t *testing.T) {
	bs := NewBaseSource("closer", "test", "", 1)
	calls := 0
	closeFn := func() error {
		calls++
		return fmt.Errorf("already gone")
	}

	err := bs.CloseOnce(closeFn)
	assert.EqualError(t, err, "already gone")
	assert.EqualError(t, bs.CloseOnce(closeFn), "already gone")
	assert.Equal(t, 1, calls)
	assert.True(t, bs.Closed())

	o := bs.Fetch(context.Background(), rowsReader(t, 5))
	require.Equal(t, core.OutcomeFailure, o.Kind)
	assert.True(t, errors.IsType(o.Err, errors.ErrorTypeConnection))
}
