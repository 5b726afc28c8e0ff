package flow

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ajitpratap0/fedstream/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannelFIFO(t *testing.T) {
	ctx := context.Background()
	c := NewChannel[int](4)
	for i := 0; i < 4; i++ {
		require.NoError(t, c.Send(ctx, i))
	}
	assert.Equal(t, 4, c.Len())
	assert.Equal(t, 4, c.Cap())
	c.CloseSend()

	for i := 0; i < 4; i++ {
		v, ok, err := c.Recv(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, i, v)
	}
	_, ok, err := c.Recv(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestChannelDefaultCapacity(t *testing.T) {
	assert.Equal(t, DefaultCapacity, NewChannel[int](0).Cap())
}

func TestChannelSendBlocksWhenFull(t *testing.T) {
	ctx := context.Background()
	c := NewChannel[int](1)
	require.NoError(t, c.Send(ctx, 1))

	sent := make(chan error, 1)
	go func() { sent <- c.Send(ctx, 2) }()

	select {
	case <-sent:
		t.Fatal("send on a full channel returned")
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, 1, c.Len())

	v, ok, err := c.Recv(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, v)
	require.NoError(t, <-sent)

	assert.Equal(t, 1, c.HighWater())
	assert.Equal(t, int64(1), c.Stalls())
}

func TestChannelSendAfterCloseRecv(t *testing.T) {
	ctx := context.Background()
	c := NewChannel[int](1)
	require.NoError(t, c.Send(ctx, 1))

	blocked := make(chan error, 1)
	go func() { blocked <- c.Send(ctx, 2) }()
	time.Sleep(20 * time.Millisecond)

	c.CloseRecv()
	c.CloseRecv()
	assert.ErrorIs(t, <-blocked, ErrReceiverClosed)
	assert.ErrorIs(t, c.Send(ctx, 3), ErrReceiverClosed)
	assert.Equal(t, []int{1}, c.Drain())
}

func TestChannelSendRacingCloseRecv(t *testing.T) {
	ctx := context.Background()
	for round := 0; round < 50; round++ {
		c := NewChannel[int](10000)
		var closed atomic.Bool
		var late atomic.Int64

		var wg sync.WaitGroup
		for w := 0; w < 4; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < 500; i++ {
					after := closed.Load()
					err := c.Send(ctx, i)
					if after && err == nil {
						late.Add(1)
					}
					if err != nil {
						assert.ErrorIs(t, err, ErrReceiverClosed)
						return
					}
				}
			}()
		}
		c.CloseRecv()
		closed.Store(true)
		queued := c.Len()
		wg.Wait()

		assert.Zero(t, late.Load(), "round %d: send started after CloseRecv succeeded", round)
		assert.Equal(t, queued, c.Len(), "round %d: queue grew after CloseRecv", round)
	}
}

func TestChannelSendAfterCloseSend(t *testing.T) {
	c := NewChannel[int](2)
	c.CloseSend()
	c.CloseSend()
	err := c.Send(context.Background(), 1)
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
}

func TestChannelRecvHonoursContext(t *testing.T) {
	c := NewChannel[int](1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, ok, err := c.Recv(ctx)
	assert.False(t, ok)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestChannelOccupancyBound(t *testing.T) {
	ctx := context.Background()
	const capacity = 3
	c := NewChannel[int](capacity)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			if err := c.Send(ctx, i); err != nil {
				return
			}
		}
		c.CloseSend()
	}()

	next := 0
	for {
		assert.LessOrEqual(t, c.Len(), capacity)
		v, ok, err := c.Recv(ctx)
		require.NoError(t, err)
		if !ok {
			break
		}
		assert.Equal(t, next, v)
		next++
	}
	wg.Wait()
	assert.Equal(t, 200, next)
	assert.LessOrEqual(t, c.HighWater(), capacity)
}
