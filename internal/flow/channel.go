package flow

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/ajitpratap0/fedstream/pkg/errors"
)

// DefaultCapacity is used when a channel is created with a capacity below 1.
const DefaultCapacity = 100

// ErrReceiverClosed is returned by Send once the receiving side has closed.
var ErrReceiverClosed = errors.New(errors.ErrorTypeInternal, "receiver closed")

// Channel is a bounded FIFO between one producer and one consumer. Send
// suspends while Len() == Cap(), so occupancy never exceeds the capacity.
type Channel[T any] struct {
	ch       chan T
	sendDone chan struct{}
	recvDone chan struct{}

	mu         sync.Mutex
	sendClosed bool
	recvClosed bool

	highWater atomic.Int64
	stalls    atomic.Int64
	onStall   func()
}

// NewChannel creates a channel holding at most capacity items.
func NewChannel[T any](capacity int) *Channel[T] {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &Channel[T]{
		ch:       make(chan T, capacity),
		sendDone: make(chan struct{}),
		recvDone: make(chan struct{}),
	}
}

// OnStall registers fn to run each time a Send finds the channel full. It
// must be set before the first Send.
func (c *Channel[T]) OnStall(fn func()) {
	c.onStall = fn
}

// Send enqueues v, suspending while the channel is full. It returns
// ErrReceiverClosed after CloseRecv, ctx.Err() if ctx ends first, and a
// protocol violation when called after CloseSend.
func (c *Channel[T]) Send(ctx context.Context, v T) error {
	// The flag checks and the non-blocking enqueue happen under mu so that
	// CloseRecv cannot land between them.
	c.mu.Lock()
	if c.sendClosed {
		c.mu.Unlock()
		return errors.Protocol("send after the producer side was closed")
	}
	if c.recvClosed {
		c.mu.Unlock()
		return ErrReceiverClosed
	}
	select {
	case c.ch <- v:
		c.observe()
		c.mu.Unlock()
		return nil
	default:
	}
	c.mu.Unlock()

	c.stalls.Add(1)
	if c.onStall != nil {
		c.onStall()
	}
	select {
	case c.ch <- v:
		c.observe()
		return nil
	case <-c.recvDone:
		return ErrReceiverClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Channel[T]) observe() {
	n := int64(len(c.ch))
	for {
		hw := c.highWater.Load()
		if n <= hw || c.highWater.CompareAndSwap(hw, n) {
			return
		}
	}
}

// Recv dequeues the next item. ok is false once the producer has closed and
// the queue is drained, or after CloseRecv. err is ctx.Err() when ctx ends
// before an item is available.
func (c *Channel[T]) Recv(ctx context.Context) (v T, ok bool, err error) {
	select {
	case v = <-c.ch:
		return v, true, nil
	default:
	}
	select {
	case v = <-c.ch:
		return v, true, nil
	case <-c.sendDone:
		select {
		case v = <-c.ch:
			return v, true, nil
		default:
			return v, false, nil
		}
	case <-c.recvDone:
		return v, false, nil
	case <-ctx.Done():
		return v, false, ctx.Err()
	}
}

// CloseSend marks normal completion of the producer. Items already queued
// remain receivable. It is idempotent.
func (c *Channel[T]) CloseSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.sendClosed {
		c.sendClosed = true
		close(c.sendDone)
	}
}

// CloseRecv marks that the consumer is gone. Blocked and later sends return
// ErrReceiverClosed. It is idempotent.
func (c *Channel[T]) CloseRecv() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.recvClosed {
		c.recvClosed = true
		close(c.recvDone)
	}
}

// Drain removes and returns every queued item without blocking.
func (c *Channel[T]) Drain() []T {
	var out []T
	for {
		select {
		case v := <-c.ch:
			out = append(out, v)
		default:
			return out
		}
	}
}

// Len returns the number of queued items.
func (c *Channel[T]) Len() int { return len(c.ch) }

// Cap returns the capacity.
func (c *Channel[T]) Cap() int { return cap(c.ch) }

// HighWater returns the largest occupancy observed after a send.
func (c *Channel[T]) HighWater() int { return int(c.highWater.Load()) }

// Stalls returns how many sends found the channel full.
func (c *Channel[T]) Stalls() int64 { return c.stalls.Load() }
