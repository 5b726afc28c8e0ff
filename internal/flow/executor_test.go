package flow

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecutorBoundsParallelism(t *testing.T) {
	e := NewExecutor(2)
	assert.Equal(t, 2, e.Width())

	var running, peak atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := e.Run(context.Background(), func() {
				n := running.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				running.Add(-1)
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	e.Wait()
	assert.LessOrEqual(t, peak.Load(), int64(2))
	assert.Equal(t, 0, e.InFlight())
}

func TestExecutorRunCancelledWhileWaiting(t *testing.T) {
	e := NewExecutor(1)
	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = e.Run(context.Background(), func() {
			close(started)
			<-release
		})
	}()
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ran := false
	err := e.Run(ctx, func() { ran = true })
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, ran)

	close(release)
	e.Wait()
}

func TestExecutorDefaultWidth(t *testing.T) {
	assert.Positive(t, NewExecutor(0).Width())
}
