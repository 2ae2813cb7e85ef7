package detections

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

const (
	// AcquireTimeout bounds how long a request waits for a free session.
	AcquireTimeout = 30 * time.Second
)

var ErrPoolClosed = errors.New("pool is closed")

// ModelSessionPool hands out sessions to one request at a time. A session's
// bound tensors make it unsafe for concurrent runs.
type ModelSessionPool struct {
	sessions chan *ModelSession
	size     int
	mu       sync.RWMutex
	closed   bool

	metricsMu sync.Mutex
	metrics   PoolMetrics
}

type PoolMetrics struct {
	InUse           int           `json:"sessions_in_use"`
	TotalAcquired   int64         `json:"total_acquired"`
	TotalReleased   int64         `json:"total_released"`
	AcquireFailures int64         `json:"acquire_failures"`
	WaitTime        time.Duration `json:"wait_time_ns"`
	PoolSize        int           `json:"pool_size"`
}

// NewModelSessionPool fills a pool of size sessions created by newSession.
func NewModelSessionPool(size int, newSession func() (*ModelSession, error)) (*ModelSessionPool, error) {
	if size <= 0 {
		return nil, fmt.Errorf("pool size must be positive, got %d", size)
	}

	pool := &ModelSessionPool{
		sessions: make(chan *ModelSession, size),
		size:     size,
		metrics:  PoolMetrics{PoolSize: size},
	}

	for i := 0; i < size; i++ {
		session, err := newSession()
		if err != nil {
			pool.Destroy()
			return nil, fmt.Errorf("failed to initialize session %d: %w", i, err)
		}
		pool.sessions <- session
	}

	return pool, nil
}

func (p *ModelSessionPool) Size() int {
	return p.size
}

func (p *ModelSessionPool) Acquire(ctx context.Context) (*ModelSession, error) {
	p.mu.RLock()
	closed := p.closed
	p.mu.RUnlock()
	if closed {
		return nil, ErrPoolClosed
	}

	start := time.Now()
	defer func() {
		p.metricsMu.Lock()
		p.metrics.WaitTime += time.Since(start)
		p.metricsMu.Unlock()
	}()

	timer := time.NewTimer(AcquireTimeout)
	defer timer.Stop()

	select {
	case session, ok := <-p.sessions:
		if !ok {
			return nil, ErrPoolClosed
		}
		p.metricsMu.Lock()
		p.metrics.InUse++
		p.metrics.TotalAcquired++
		p.metricsMu.Unlock()
		return session, nil
	case <-timer.C:
		p.metricsMu.Lock()
		p.metrics.AcquireFailures++
		p.metricsMu.Unlock()
		return nil, fmt.Errorf("timeout waiting for available session")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *ModelSessionPool) Release(session *ModelSession) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	p.metricsMu.Lock()
	p.metrics.InUse--
	p.metrics.TotalReleased++
	p.metricsMu.Unlock()

	if p.closed {
		session.Destroy()
		return
	}
	p.sessions <- session
}

func (p *ModelSessionPool) Destroy() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}

	p.closed = true
	close(p.sessions)

	for session := range p.sessions {
		session.Destroy()
	}
}

// GetMetrics returns a snapshot of the pool counters.
func (p *ModelSessionPool) GetMetrics() PoolMetrics {
	p.metricsMu.Lock()
	defer p.metricsMu.Unlock()
	return p.metrics
}
