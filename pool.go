package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Angelo-oinv/imx415-detector/detections"
	"github.com/Angelo-oinv/imx415-detector/logger"

	"go.uber.org/zap"
)

const (
	DefaultPoolSize = 2
	AcquireTimeout  = 5 * time.Second
)

var ErrPoolClosed = errors.New("engine pool closed")

// PoolEngine is what the pool manages: an inference engine that reports
// whether it is still usable.
type PoolEngine interface {
	detections.Engine
	Healthy() bool
	Close() error
}

// EnginePool hands out inference engines to HTTP handlers. Engines that
// come back unhealthy (a session wedged by an inference timeout) are
// retired and rebuilt, so the pool keeps its size.
type EnginePool struct {
	engines chan PoolEngine
	size    int
	build   func() (PoolEngine, error)

	mu     sync.Mutex
	closed bool

	metricsMu sync.Mutex
	metrics   PoolMetrics
}

// PoolMetrics is a snapshot of the pool counters.
type PoolMetrics struct {
	InUse           int           `json:"in_use"`
	TotalAcquired   int64         `json:"total_acquired"`
	TotalReleased   int64         `json:"total_released"`
	AcquireFailures int64         `json:"acquire_failures"`
	Replacements    int64         `json:"replacements"`
	WaitTime        time.Duration `json:"wait_time_ns"`
}

// NewEnginePool builds size engines up front. Any single build failure
// tears the whole pool down.
func NewEnginePool(size int, build func() (PoolEngine, error)) (*EnginePool, error) {
	if size <= 0 {
		size = DefaultPoolSize
	}
	pool := &EnginePool{
		engines: make(chan PoolEngine, size),
		size:    size,
		build:   build,
	}
	for i := 0; i < size; i++ {
		eng, err := build()
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("initialize engine %d: %w", i, err)
		}
		pool.engines <- eng
	}
	return pool, nil
}

// Acquire blocks until an engine is free, ctx is done, or the acquire
// timeout fires.
func (p *EnginePool) Acquire(ctx context.Context) (PoolEngine, error) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
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
	case eng, ok := <-p.engines:
		if !ok {
			return nil, ErrPoolClosed
		}
		p.metricsMu.Lock()
		p.metrics.InUse++
		p.metrics.TotalAcquired++
		p.metricsMu.Unlock()
		return eng, nil
	case <-timer.C:
		p.metricsMu.Lock()
		p.metrics.AcquireFailures++
		p.metricsMu.Unlock()
		return nil, errors.New("timeout waiting for a free engine")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Release returns an engine to the pool. Unhealthy engines are retired
// and a replacement is built in the background.
func (p *EnginePool) Release(eng PoolEngine) {
	p.metricsMu.Lock()
	p.metrics.InUse--
	p.metrics.TotalReleased++
	p.metricsMu.Unlock()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		eng.Close()
		return
	}

	if !eng.Healthy() {
		eng.Close()
		p.metricsMu.Lock()
		p.metrics.Replacements++
		p.metricsMu.Unlock()
		go p.replace()
		return
	}

	// Capacity equals the engine count, so this send never blocks.
	p.engines <- eng
}

func (p *EnginePool) replace() {
	eng, err := p.build()
	if err != nil {
		logger.Log().Error("rebuild pool engine", zap.Error(err))
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		eng.Close()
		return
	}
	p.engines <- eng
}

// Close drains the pool and closes every idle engine. Engines still
// checked out are closed when they come back through Release.
func (p *EnginePool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.engines)
	p.mu.Unlock()

	for eng := range p.engines {
		eng.Close()
	}
}

// Metrics returns a snapshot of the pool counters.
func (p *EnginePool) Metrics() PoolMetrics {
	p.metricsMu.Lock()
	defer p.metricsMu.Unlock()
	return p.metrics
}

// Size returns the configured engine count.
func (p *EnginePool) Size() int { return p.size }
