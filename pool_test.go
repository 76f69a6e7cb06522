package main

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/dooh-web/landmark-detector/detections"
)

// stubEngine returns a fixed prediction or error and counts runs and closes.
type stubEngine struct {
	id     int
	pred   *detections.RawPrediction
	err    error
	runs   *int32
	closed int32
}

func (e *stubEngine) Run(ctx context.Context, input []float32, size int) (*detections.RawPrediction, error) {
	if e.runs != nil {
		atomic.AddInt32(e.runs, 1)
	}
	if e.err != nil {
		return nil, e.err
	}
	return e.pred, nil
}

func (e *stubEngine) Close() error {
	atomic.AddInt32(&e.closed, 1)
	return nil
}

// stubFactory hands out numbered engines and remembers them.
type stubFactory struct {
	mu      sync.Mutex
	created []*stubEngine
	build   func(n int) (*stubEngine, error)
}

func (f *stubFactory) factory() EngineFactory {
	return func() (PooledEngine, error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		n := len(f.created) + 1
		engine := &stubEngine{id: n}
		if f.build != nil {
			var err error
			engine, err = f.build(n)
			if err != nil {
				return nil, err
			}
			engine.id = n
		}
		f.created = append(f.created, engine)
		return engine, nil
	}
}

func (f *stubFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}

func newTestPool(t *testing.T, f *stubFactory, opts PoolOptions) *EnginePool {
	logger, _ := logtest.NewNullLogger()
	pool, err := NewEnginePool(f.factory(), opts, logger)
	require.NoError(t, err)
	t.Cleanup(pool.Destroy)
	return pool
}

func TestEnginePool_AcquireRelease(t *testing.T) {
	f := &stubFactory{}
	pool := newTestPool(t, f, PoolOptions{Size: 2, AcquireTimeout: 50 * time.Millisecond})
	require.Equal(t, 2, f.count())

	a, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	b, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	require.NotSame(t, a, b)

	snap := pool.Snapshot()
	require.Equal(t, 2, snap.EnginesInUse)
	require.EqualValues(t, 2, snap.TotalAcquired)

	pool.Release(a)
	pool.Release(b)

	snap = pool.Snapshot()
	require.Equal(t, 0, snap.EnginesInUse)
	require.EqualValues(t, 2, snap.TotalReleased)
	require.Equal(t, 2, snap.LiveEngines)
}

func TestEnginePool_AcquireTimeout(t *testing.T) {
	pool := newTestPool(t, &stubFactory{}, PoolOptions{Size: 1, AcquireTimeout: 20 * time.Millisecond})

	engine, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	defer pool.Release(engine)

	_, err = pool.Acquire(context.Background())
	require.True(t, errors.Is(err, errPoolTimeout))
	require.EqualValues(t, 1, pool.Snapshot().AcquireFailures)
}

func TestEnginePool_AcquireCancelled(t *testing.T) {
	pool := newTestPool(t, &stubFactory{}, PoolOptions{Size: 1, AcquireTimeout: time.Second})

	engine, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	defer pool.Release(engine)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = pool.Acquire(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestEnginePool_FactoryFailure(t *testing.T) {
	f := &stubFactory{build: func(n int) (*stubEngine, error) {
		if n == 2 {
			return nil, errors.New("model file missing")
		}
		return &stubEngine{}, nil
	}}
	logger, _ := logtest.NewNullLogger()

	_, err := NewEnginePool(f.factory(), PoolOptions{Size: 3}, logger)
	require.Error(t, err)
	require.Contains(t, err.Error(), "model file missing")

	require.Equal(t, 1, f.count())
	require.EqualValues(t, 1, f.created[0].closed)
}

func TestEnginePool_DiscardReplenishes(t *testing.T) {
	f := &stubFactory{}
	pool := newTestPool(t, f, PoolOptions{Size: 1, AcquireTimeout: time.Second})

	engine, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	pool.Discard(engine)
	require.EqualValues(t, 1, engine.(*stubEngine).closed)

	replacement, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	require.NotSame(t, engine, replacement)
	pool.Release(replacement)

	require.Equal(t, 2, f.count())
	snap := pool.Snapshot()
	require.EqualValues(t, 1, snap.TotalDiscarded)
	require.Equal(t, 1, snap.LiveEngines)
}

func TestEnginePool_HealthCheckRecovers(t *testing.T) {
	var failing int32 = 1
	f := &stubFactory{build: func(n int) (*stubEngine, error) {
		if n > 1 && atomic.LoadInt32(&failing) == 1 {
			return nil, errors.New("gpu busy")
		}
		return &stubEngine{}, nil
	}}
	pool := newTestPool(t, f, PoolOptions{Size: 1, AcquireTimeout: 20 * time.Millisecond, HealthCheckPeriod: 10 * time.Millisecond})

	engine, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	pool.Discard(engine)

	require.Eventually(t, func() bool {
		return len(pool.Snapshot().RecentErrors) > 0
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, 0, pool.Snapshot().LiveEngines)

	atomic.StoreInt32(&failing, 0)
	require.Eventually(t, func() bool {
		return pool.Snapshot().LiveEngines == 1
	}, time.Second, 5*time.Millisecond)

	engine, err = pool.Acquire(context.Background())
	require.NoError(t, err)
	pool.Release(engine)
}

func TestEnginePool_Destroy(t *testing.T) {
	f := &stubFactory{}
	logger, _ := logtest.NewNullLogger()
	pool, err := NewEnginePool(f.factory(), PoolOptions{Size: 2}, logger)
	require.NoError(t, err)

	held, err := pool.Acquire(context.Background())
	require.NoError(t, err)

	pool.Destroy()
	pool.Destroy()

	_, err = pool.Acquire(context.Background())
	require.True(t, errors.Is(err, errPoolClosed))

	pool.Release(held)
	for _, e := range f.created {
		require.EqualValues(t, 1, e.closed, "engine %d", e.id)
	}
	require.Equal(t, 0, pool.Snapshot().LiveEngines)
}

func TestNewEnginePool_Defaults(t *testing.T) {
	f := &stubFactory{}
	pool := newTestPool(t, f, PoolOptions{})
	require.Equal(t, DefaultPoolSize, pool.Snapshot().PoolSize)
	require.Equal(t, DefaultPoolSize, f.count())

	_, err := NewEnginePool(nil, PoolOptions{}, nil)
	require.Error(t, err)
}
