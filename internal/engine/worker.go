package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrPoolClosed is returned when a node is submitted after Shutdown.
var ErrPoolClosed = errors.New("node pool is closed")

// PoolStats is a snapshot of node pool counters.
type PoolStats struct {
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Panics    int64 `json:"panics"`
}

// nodePool bounds how many nodes of a level execute concurrently. Submit
// blocks when all slots are busy, so a wide level cannot fan out past the
// configured parallelism.
type nodePool struct {
	slots  chan struct{}
	wg     sync.WaitGroup
	stats  PoolStats
	mu     sync.Mutex
	done   chan struct{}
	closed bool
}

func newNodePool(parallelism int) *nodePool {
	if parallelism <= 0 {
		parallelism = 1
	}
	return &nodePool{
		slots: make(chan struct{}, parallelism),
		done:  make(chan struct{}),
	}
}

// Submit runs fn on a pool slot, blocking until one frees up. Waiting
// honors both context cancellation and pool shutdown.
func (p *nodePool) Submit(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	p.mu.Unlock()

	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	case <-p.done:
		return ErrPoolClosed
	}

	// Shutdown may have won the race while we waited for a slot. The
	// wg.Add must happen under the lock so Shutdown's wg.Wait cannot miss
	// a submission.
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		<-p.slots
		return ErrPoolClosed
	}
	p.wg.Add(1)
	atomic.AddInt64(&p.stats.Active, 1)
	p.mu.Unlock()

	go func() {
		defer func() {
			if r := recover(); r != nil {
				atomic.AddInt64(&p.stats.Panics, 1)
				atomic.AddInt64(&p.stats.Failed, 1)
			}
			atomic.AddInt64(&p.stats.Active, -1)
			<-p.slots
			p.wg.Done()
		}()

		if err := fn(ctx); err != nil {
			atomic.AddInt64(&p.stats.Failed, 1)
		} else {
			atomic.AddInt64(&p.stats.Completed, 1)
		}
	}()

	return nil
}

// Wait blocks until every submitted node has finished.
func (p *nodePool) Wait() {
	p.wg.Wait()
}

// Shutdown rejects new submissions and waits for in-flight nodes.
func (p *nodePool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.done)
	p.mu.Unlock()

	p.wg.Wait()
}

func (p *nodePool) Stats() PoolStats {
	return PoolStats{
		Active:    atomic.LoadInt64(&p.stats.Active),
		Completed: atomic.LoadInt64(&p.stats.Completed),
		Failed:    atomic.LoadInt64(&p.stats.Failed),
		Panics:    atomic.LoadInt64(&p.stats.Panics),
	}
}
