package exchange

import (
	"io"
	"sync"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/ajitpratap0/fedstream/pkg/errors"
)

// IPCWriter writes records as one Arrow IPC stream. The stream schema is
// taken from the first record; later records must match it.
type IPCWriter struct {
	mu     sync.Mutex
	w      io.Writer
	mem    memory.Allocator
	writer *ipc.Writer
	schema *arrow.Schema
	rows   int64
	count  int64
}

// NewIPCWriter creates a writer on w.
func NewIPCWriter(w io.Writer) *IPCWriter {
	return &IPCWriter{w: w, mem: memory.DefaultAllocator}
}

// Write appends rec to the stream.
func (iw *IPCWriter) Write(rec arrow.Record) error {
	iw.mu.Lock()
	defer iw.mu.Unlock()

	if iw.writer == nil {
		iw.schema = rec.Schema()
		iw.writer = ipc.NewWriter(iw.w, ipc.WithSchema(iw.schema), ipc.WithAllocator(iw.mem))
	} else if !iw.schema.Equal(rec.Schema()) {
		return errors.Newf(errors.ErrorTypeConversion, "record schema %s does not match stream schema %s",
			rec.Schema(), iw.schema)
	}
	if err := iw.writer.Write(rec); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "write ipc record")
	}
	iw.rows += rec.NumRows()
	iw.count++
	return nil
}

// Rows returns the number of rows written.
func (iw *IPCWriter) Rows() int64 {
	iw.mu.Lock()
	defer iw.mu.Unlock()
	return iw.rows
}

// Records returns the number of records written.
func (iw *IPCWriter) Records() int64 {
	iw.mu.Lock()
	defer iw.mu.Unlock()
	return iw.count
}

// Close writes the end-of-stream marker. It does not close the underlying
// writer. Closing a writer that never saw a record is a no-op.
func (iw *IPCWriter) Close() error {
	iw.mu.Lock()
	defer iw.mu.Unlock()
	if iw.writer == nil {
		return nil
	}
	err := iw.writer.Close()
	iw.writer = nil
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "close ipc stream")
	}
	return nil
}
