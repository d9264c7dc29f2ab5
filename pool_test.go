package main

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type stubEngine struct {
	mu       sync.Mutex
	healthy  bool
	closed   bool
	outputs  [][]float32
	inferErr error
}

func (s *stubEngine) Infer(input []float32) ([][]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outputs, s.inferErr
}

func (s *stubEngine) Healthy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.healthy
}

func (s *stubEngine) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *stubEngine) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func newStubPool(t *testing.T, size int) (*EnginePool, chan *stubEngine) {
	t.Helper()
	built := make(chan *stubEngine, 16)
	pool, err := NewEnginePool(size, func() (PoolEngine, error) {
		eng := &stubEngine{healthy: true}
		built <- eng
		return eng, nil
	})
	if err != nil {
		t.Fatalf("NewEnginePool: %v", err)
	}
	// Drain the initial builds so later waits see only replacements.
	for i := 0; i < size; i++ {
		<-built
	}
	return pool, built
}

func TestPoolAcquireRelease(t *testing.T) {
	pool, _ := newStubPool(t, 2)
	defer pool.Close()

	assert.Equal(t, 2, pool.Size())

	eng, err := pool.Acquire(context.Background())
	assert.NoError(t, err)
	assert.NotNil(t, eng)

	m := pool.Metrics()
	assert.Equal(t, 1, m.InUse)
	assert.Equal(t, int64(1), m.TotalAcquired)

	pool.Release(eng)
	m = pool.Metrics()
	assert.Equal(t, 0, m.InUse)
	assert.Equal(t, int64(1), m.TotalReleased)
}

func TestPoolAcquireHonorsContext(t *testing.T) {
	pool, _ := newStubPool(t, 1)
	defer pool.Close()

	eng, err := pool.Acquire(context.Background())
	assert.NoError(t, err)
	defer pool.Release(eng)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = pool.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPoolRetiresUnhealthyEngine(t *testing.T) {
	pool, built := newStubPool(t, 1)
	defer pool.Close()

	eng, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	old := eng.(*stubEngine)
	old.mu.Lock()
	old.healthy = false
	old.mu.Unlock()

	pool.Release(eng)
	assert.True(t, old.isClosed())
	assert.Equal(t, int64(1), pool.Metrics().Replacements)

	// The replacement build runs in the background.
	select {
	case <-built:
	case <-time.After(2 * time.Second):
		t.Fatal("replacement engine was never built")
	}

	fresh, err := pool.Acquire(context.Background())
	assert.NoError(t, err)
	assert.NotSame(t, old, fresh)
	pool.Release(fresh)
}

func TestPoolClose(t *testing.T) {
	t.Run("idle engines are closed", func(t *testing.T) {
		built := make([]*stubEngine, 0, 2)
		pool, err := NewEnginePool(2, func() (PoolEngine, error) {
			eng := &stubEngine{healthy: true}
			built = append(built, eng)
			return eng, nil
		})
		if err != nil {
			t.Fatalf("NewEnginePool: %v", err)
		}

		pool.Close()
		for _, eng := range built {
			assert.True(t, eng.isClosed())
		}
	})

	t.Run("acquire after close fails", func(t *testing.T) {
		pool, _ := newStubPool(t, 1)
		pool.Close()
		_, err := pool.Acquire(context.Background())
		assert.ErrorIs(t, err, ErrPoolClosed)
	})

	t.Run("checked-out engine is closed on release", func(t *testing.T) {
		pool, _ := newStubPool(t, 1)
		eng, err := pool.Acquire(context.Background())
		if err != nil {
			t.Fatalf("Acquire: %v", err)
		}

		pool.Close()
		pool.Release(eng)
		assert.True(t, eng.(*stubEngine).isClosed())
	})

	t.Run("close twice is safe", func(t *testing.T) {
		pool, _ := newStubPool(t, 1)
		pool.Close()
		pool.Close()
	})
}

func TestPoolBuildFailureTearsDown(t *testing.T) {
	first := &stubEngine{healthy: true}
	calls := 0
	_, err := NewEnginePool(2, func() (PoolEngine, error) {
		calls++
		if calls == 1 {
			return first, nil
		}
		return nil, errors.New("onnxruntime session init failed")
	})

	if assert.Error(t, err) {
		assert.Contains(t, err.Error(), "initialize engine 1")
	}
	assert.True(t, first.isClosed())
}
