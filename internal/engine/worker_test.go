package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- bounded concurrency ---

func TestNodePoolBoundsConcurrency(t *testing.T) {
	pool := newNodePool(2)
	defer pool.Shutdown()

	var active, peak atomic.Int32
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		err := pool.Submit(ctx, func(ctx context.Context) error {
			cur := active.Add(1)
			for {
				p := peak.Load()
				if cur <= p || peak.CompareAndSwap(p, cur) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			active.Add(-1)
			return nil
		})
		require.NoError(t, err)
	}
	pool.Wait()

	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.Equal(t, int64(10), pool.Stats().Completed)
}

func TestNodePoolMinimumSizeOne(t *testing.T) {
	pool := newNodePool(0)
	defer pool.Shutdown()

	err := pool.Submit(context.Background(), func(ctx context.Context) error { return nil })
	require.NoError(t, err)
	pool.Wait()
	assert.Equal(t, int64(1), pool.Stats().Completed)
}

// --- stats ---

func TestNodePoolCountsFailuresAndPanics(t *testing.T) {
	pool := newNodePool(4)
	defer pool.Shutdown()
	ctx := context.Background()

	require.NoError(t, pool.Submit(ctx, func(ctx context.Context) error { return nil }))
	require.NoError(t, pool.Submit(ctx, func(ctx context.Context) error { return errors.New("bad") }))
	require.NoError(t, pool.Submit(ctx, func(ctx context.Context) error { panic("worse") }))
	pool.Wait()

	stats := pool.Stats()
	assert.Equal(t, int64(1), stats.Completed)
	assert.Equal(t, int64(2), stats.Failed, "panics count as failures")
	assert.Equal(t, int64(1), stats.Panics)
	assert.Equal(t, int64(0), stats.Active)
}

// --- shutdown ---

func TestNodePoolRejectsAfterShutdown(t *testing.T) {
	pool := newNodePool(1)
	pool.Shutdown()

	err := pool.Submit(context.Background(), func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrPoolClosed)
}

func TestNodePoolShutdownWaitsForInflight(t *testing.T) {
	pool := newNodePool(1)
	release := make(chan struct{})
	var finished atomic.Bool

	require.NoError(t, pool.Submit(context.Background(), func(ctx context.Context) error {
		<-release
		finished.Store(true)
		return nil
	}))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		pool.Shutdown()
	}()

	time.Sleep(10 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.True(t, finished.Load())
}

func TestNodePoolShutdownIdempotent(t *testing.T) {
	pool := newNodePool(1)
	pool.Shutdown()
	pool.Shutdown()
}

// --- cancellation ---

func TestNodePoolSubmitHonorsContext(t *testing.T) {
	pool := newNodePool(1)
	defer pool.Shutdown()

	block := make(chan struct{})
	require.NoError(t, pool.Submit(context.Background(), func(ctx context.Context) error {
		<-block
		return nil
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := pool.Submit(ctx, func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(block)
	pool.Wait()
}
