// Package columnar implements the in-memory columnar batches that flow from
// sources to consumers.
//
// # Overview
//
// A Batch is an ordered list of equal-length, typed columns. Column data lives
// in reference-counted Buffers so a batch can be handed to another owner, or
// wrapped by the exchange converter, without copying any values.
//
// # Layout
//
// Every batch carries a layout version tag. Under LayoutVersion 1 buffers
// follow the Arrow columnar format for the supported types:
//
//   - validity: LSB-ordered bitmap, omitted when a column has no nulls
//   - bool: LSB-ordered value bitmap
//   - int32, int64, float32, float64, date32, timestamp: little-endian slots
//   - string, binary: int32 offsets plus a contiguous data buffer
//
// Code that reinterprets buffers in another format must check Batch.Layout
// first.
//
// # Usage
//
//	schema, _ := columnar.ParseSchema("id:int64,name:string")
//	bb := columnar.NewBatchBuilder(schema, 1024)
//	_ = bb.AppendRow([]interface{}{int64(1), "alice"})
//	batch, _ := bb.NewBatch()
//	defer batch.Release()
//
// # Ownership
//
// Batches and buffers start with one reference. Retain adds a reference and
// Release drops one; the storage is released with the last reference.
package columnar
