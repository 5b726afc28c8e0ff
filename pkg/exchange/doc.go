// Package exchange converts columnar batches into Apache Arrow records
// without copying value buffers.
//
// ToRecord re-describes each column's buffers as Arrow buffers over the same
// bytes. Each Arrow buffer holds a reference on the columnar buffer it wraps,
// so the bytes stay alive until both the batch and every record built from
// it are released. VerifyLayout runs before any reinterpretation and rejects
// batches whose layout tag or buffer geometry does not match what Arrow
// expects.
//
// IPCWriter writes records as an Arrow IPC stream. Under cgo, ExportC hands
// a record to a foreign runtime through the Arrow C Data Interface.
package exchange
