package base

import (
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"

	"github.com/ajitpratap0/fedstream/pkg/columnar"
)

// RecordIterator is the part of an Arrow record reader RecordBatcher needs.
// The record returned by Record is only valid until the next call to Next.
type RecordIterator interface {
	Next() bool
	Record() arrow.Record
	Err() error
	Release()
}

// RecordBatcher re-chunks Arrow records into batches of at most a given
// number of rows. Slicing shares buffers with the source records.
type RecordBatcher struct {
	it   RecordIterator
	proj []int
	cur  *columnar.Batch
	pos  int
}

// NewRecordBatcher reads from it, keeping only the columns at proj (all
// columns when proj is nil). The batcher owns it.
func NewRecordBatcher(it RecordIterator, proj []int) *RecordBatcher {
	return &RecordBatcher{it: it, proj: proj}
}

// Next returns up to limit rows, or nil at the end of the records.
func (rb *RecordBatcher) Next(limit int) (*columnar.Batch, error) {
	for rb.cur == nil || rb.pos >= rb.cur.NumRows() {
		rb.dropCurrent()
		if !rb.it.Next() {
			return nil, rb.it.Err()
		}
		b, err := rb.convert(rb.it.Record())
		if err != nil {
			return nil, err
		}
		rb.cur, rb.pos = b, 0
	}
	end := min(rb.pos+limit, rb.cur.NumRows())
	out, err := rb.cur.Slice(rb.pos, end)
	if err != nil {
		return nil, err
	}
	rb.pos = end
	return out, nil
}

func (rb *RecordBatcher) convert(rec arrow.Record) (*columnar.Batch, error) {
	if rb.proj == nil {
		return columnar.FromArrow(rec)
	}
	fields := make([]arrow.Field, len(rb.proj))
	cols := make([]arrow.Array, len(rb.proj))
	for i, j := range rb.proj {
		fields[i] = rec.Schema().Field(j)
		cols[i] = rec.Column(j)
	}
	projected := array.NewRecord(arrow.NewSchema(fields, nil), cols, rec.NumRows())
	defer projected.Release()
	return columnar.FromArrow(projected)
}

func (rb *RecordBatcher) dropCurrent() {
	if rb.cur != nil {
		rb.cur.Release()
		rb.cur = nil
	}
}

// Release frees the pending batch and the iterator.
func (rb *RecordBatcher) Release() {
	rb.dropCurrent()
	rb.it.Release()
}

// ArrowProjection resolves the configured columns against an Arrow schema.
// It returns nil indexes when no projection is configured.
func ArrowProjection(columns []string, schema *arrow.Schema) ([]int, error) {
	if len(columns) == 0 {
		return nil, nil
	}
	full, err := columnar.SchemaFromArrow(schema)
	if err != nil {
		return nil, err
	}
	_, idx, err := full.Project(columns)
	return idx, err
}
