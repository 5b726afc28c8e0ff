package columnar

import (
	"fmt"
	"sync/atomic"
)

// Batch is an ordered list of equal-length columns. Batches are immutable and
// reference-counted; the producer hands its reference to whoever receives the
// batch and the last holder calls Release.
type Batch struct {
	refs    int64
	schema  *Schema
	columns []*Column
	rows    int
	layout  uint32
}

// NewBatch assembles a batch at the current LayoutVersion. It takes over the
// columns' buffer references.
func NewBatch(schema *Schema, columns []*Column) (*Batch, error) {
	return NewBatchWithLayout(LayoutVersion, schema, columns)
}

// NewBatchWithLayout assembles a batch tagged with an explicit layout version,
// for buffers produced by a writer that follows another layout contract.
func NewBatchWithLayout(layout uint32, schema *Schema, columns []*Column) (*Batch, error) {
	if schema == nil {
		return nil, fmt.Errorf("batch schema is nil")
	}
	if len(columns) != len(schema.Fields) {
		return nil, fmt.Errorf("batch has %d columns, schema has %d fields", len(columns), len(schema.Fields))
	}
	rows := 0
	for i, col := range columns {
		if col.Field() != schema.Fields[i] {
			return nil, fmt.Errorf("column %d is %s, schema expects %s", i, col.Field(), schema.Fields[i])
		}
		if i == 0 {
			rows = col.Len()
		} else if col.Len() != rows {
			return nil, fmt.Errorf("column %q has %d rows, expected %d", col.Name(), col.Len(), rows)
		}
	}
	return &Batch{refs: 1, schema: schema, columns: columns, rows: rows, layout: layout}, nil
}

// Schema returns the batch schema.
func (b *Batch) Schema() *Schema { return b.schema }

// Layout returns the layout version the buffers were written against.
func (b *Batch) Layout() uint32 { return b.layout }

// NumRows returns the row count shared by every column.
func (b *Batch) NumRows() int { return b.rows }

// NumCols returns the number of columns.
func (b *Batch) NumCols() int { return len(b.columns) }

// Column returns column i.
func (b *Batch) Column(i int) *Column { return b.columns[i] }

// Columns returns all columns. The slice must not be modified.
func (b *Batch) Columns() []*Column { return b.columns }

// ColumnByName returns the named column or nil.
func (b *Batch) ColumnByName(name string) *Column {
	if i := b.schema.Index(name); i >= 0 {
		return b.columns[i]
	}
	return nil
}

// Retain increases the reference count by 1.
func (b *Batch) Retain() {
	atomic.AddInt64(&b.refs, 1)
}

// Release decreases the reference count by 1 and drops the column buffers
// once it reaches zero.
func (b *Batch) Release() {
	n := atomic.AddInt64(&b.refs, -1)
	switch {
	case n == 0:
		for _, col := range b.columns {
			col.release()
		}
	case n < 0:
		panic("columnar: batch released too many times")
	}
}

// Slice returns a batch viewing rows [i, j), sharing buffers with b.
func (b *Batch) Slice(i, j int) (*Batch, error) {
	if i < 0 || j > b.rows || i > j {
		return nil, fmt.Errorf("slice [%d:%d] out of range for %d rows", i, j, b.rows)
	}
	cols := make([]*Column, len(b.columns))
	for k, col := range b.columns {
		cols[k] = col.slice(i, j)
	}
	return &Batch{refs: 1, schema: b.schema, columns: cols, rows: j - i, layout: b.layout}, nil
}

// Row returns row i boxed as Go values, in column order.
func (b *Batch) Row(i int) []interface{} {
	row := make([]interface{}, len(b.columns))
	for k, col := range b.columns {
		row[k] = col.Value(i)
	}
	return row
}
