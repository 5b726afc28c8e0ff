package columnar

import (
	"sync/atomic"
)

// Buffer is an immutable, reference-counted byte region holding column data.
// A Buffer starts with one reference. When the count drops to zero the
// optional release hook runs and the bytes are dropped.
type Buffer struct {
	refs    int64
	buf     []byte
	release func()
}

// NewBuffer wraps b without copying it.
func NewBuffer(b []byte) *Buffer {
	return &Buffer{refs: 1, buf: b}
}

// NewBufferWithRelease wraps b and calls release once the last reference is dropped.
func NewBufferWithRelease(b []byte, release func()) *Buffer {
	return &Buffer{refs: 1, buf: b, release: release}
}

// Retain increases the reference count by 1.
func (b *Buffer) Retain() {
	if b == nil {
		return
	}
	atomic.AddInt64(&b.refs, 1)
}

// Release decreases the reference count by 1.
func (b *Buffer) Release() {
	if b == nil {
		return
	}
	n := atomic.AddInt64(&b.refs, -1)
	switch {
	case n == 0:
		if b.release != nil {
			b.release()
			b.release = nil
		}
		b.buf = nil
	case n < 0:
		panic("columnar: buffer released too many times")
	}
}

// RefCount returns the current number of references.
func (b *Buffer) RefCount() int64 {
	if b == nil {
		return 0
	}
	return atomic.LoadInt64(&b.refs)
}

// Bytes returns the underlying bytes. They must not be modified.
func (b *Buffer) Bytes() []byte {
	if b == nil {
		return nil
	}
	return b.buf
}

// Len returns the buffer length in bytes.
func (b *Buffer) Len() int {
	if b == nil {
		return 0
	}
	return len(b.buf)
}

// SameStorage reports whether a and b start at the same address, which is
// how zero-copy hand-offs are checked.
func SameStorage(a, b []byte) bool {
	if len(a) == 0 || len(b) == 0 {
		return len(a) == len(b)
	}
	return &a[0] == &b[0]
}
