package main

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/dooh-web/landmark-detector/detections"
)

const (
	DefaultPoolSize          = 4
	DefaultAcquireTimeout    = 5 * time.Second
	DefaultHealthCheckPeriod = 60 * time.Second
	maxRecordedErrors        = 10
)

var (
	errPoolTimeout = errors.New("timeout waiting for available engine")
	errPoolClosed  = errors.New("engine pool is closed")
)

// PooledEngine is an engine the pool can hand out and close.
type PooledEngine interface {
	detections.Engine
	Close() error
}

// EngineFactory creates a loaded engine ready to run.
type EngineFactory func() (PooledEngine, error)

type PoolOptions struct {
	Size              int
	AcquireTimeout    time.Duration
	HealthCheckPeriod time.Duration
}

// EnginePool bounds concurrent inferences. Engines that fail are discarded
// and replaced in the background.
type EnginePool struct {
	engines chan PooledEngine
	size    int
	factory EngineFactory
	opts    PoolOptions
	logger  logrus.FieldLogger

	mu         sync.Mutex
	closed     bool
	live       int
	lastErrors []error
	done       chan struct{}

	metrics *PoolMetrics
}

type PoolMetrics struct {
	mu              sync.RWMutex
	inUse           int
	totalAcquired   int64
	totalReleased   int64
	totalDiscarded  int64
	acquireFailures int64
	waitTime        time.Duration
}

// PoolSnapshot is a point-in-time copy of the pool counters.
type PoolSnapshot struct {
	PoolSize        int      `json:"pool_size"`
	LiveEngines     int      `json:"live_engines"`
	EnginesInUse    int      `json:"engines_in_use"`
	TotalAcquired   int64    `json:"total_acquired"`
	TotalReleased   int64    `json:"total_released"`
	TotalDiscarded  int64    `json:"total_discarded"`
	AcquireFailures int64    `json:"acquire_failures"`
	WaitTimeMs      int64    `json:"wait_time_ms"`
	RecentErrors    []string `json:"recent_errors,omitempty"`
}

func NewEnginePool(factory EngineFactory, opts PoolOptions, logger logrus.FieldLogger) (*EnginePool, error) {
	if factory == nil {
		return nil, errors.New("engine pool needs a factory")
	}
	if opts.Size <= 0 {
		opts.Size = DefaultPoolSize
	}
	if opts.AcquireTimeout <= 0 {
		opts.AcquireTimeout = DefaultAcquireTimeout
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	pool := &EnginePool{
		engines: make(chan PooledEngine, opts.Size),
		size:    opts.Size,
		factory: factory,
		opts:    opts,
		logger:  logger,
		done:    make(chan struct{}),
		metrics: &PoolMetrics{},
	}

	for i := 0; i < opts.Size; i++ {
		engine, err := factory()
		if err != nil {
			pool.Destroy()
			return nil, errors.Wrapf(err, "failed to initialize engine %d", i)
		}
		pool.live++
		pool.engines <- engine
	}

	if opts.HealthCheckPeriod > 0 {
		go pool.healthCheck()
	}

	return pool, nil
}

func (p *EnginePool) Acquire(ctx context.Context) (PooledEngine, error) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return nil, errPoolClosed
	}

	start := time.Now()
	defer func() {
		p.metrics.mu.Lock()
		p.metrics.waitTime += time.Since(start)
		p.metrics.mu.Unlock()
	}()

	timer := time.NewTimer(p.opts.AcquireTimeout)
	defer timer.Stop()

	select {
	case engine, ok := <-p.engines:
		if !ok {
			return nil, errPoolClosed
		}
		p.metrics.mu.Lock()
		p.metrics.inUse++
		p.metrics.totalAcquired++
		p.metrics.mu.Unlock()
		return engine, nil
	case <-timer.C:
		p.metrics.mu.Lock()
		p.metrics.acquireFailures++
		p.metrics.mu.Unlock()
		return nil, errPoolTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *EnginePool) Release(engine PooledEngine) {
	p.metrics.mu.Lock()
	p.metrics.inUse--
	p.metrics.totalReleased++
	p.metrics.mu.Unlock()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		p.live--
		p.closeEngine(engine)
		return
	}
	p.engines <- engine
}

// Discard closes an engine that is no longer trusted and schedules a
// replacement.
func (p *EnginePool) Discard(engine PooledEngine) {
	p.metrics.mu.Lock()
	p.metrics.inUse--
	p.metrics.totalDiscarded++
	p.metrics.mu.Unlock()

	p.mu.Lock()
	p.live--
	closed := p.closed
	p.mu.Unlock()

	p.closeEngine(engine)
	if !closed {
		go p.replenish()
	}
}

func (p *EnginePool) Destroy() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}

	p.closed = true
	close(p.done)
	close(p.engines)

	for engine := range p.engines {
		p.live--
		p.closeEngine(engine)
	}
}

func (p *EnginePool) closeEngine(engine PooledEngine) {
	if err := engine.Close(); err != nil {
		p.logger.WithError(err).Warn("failed to close engine")
	}
}

func (p *EnginePool) healthCheck() {
	ticker := time.NewTicker(p.opts.HealthCheckPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			p.replenish()
		}
	}
}

// replenish creates engines until the pool is back at its configured size.
func (p *EnginePool) replenish() {
	for {
		p.mu.Lock()
		if p.closed || p.live >= p.size {
			p.mu.Unlock()
			return
		}
		// reserve the slot so concurrent replenishers do not overshoot
		p.live++
		p.mu.Unlock()

		engine, err := p.factory()

		p.mu.Lock()
		if err != nil {
			p.live--
			p.recordErrorLocked(err)
			p.mu.Unlock()
			p.logger.WithError(err).Warn("failed to replenish engine")
			return
		}
		if p.closed {
			p.live--
			p.mu.Unlock()
			p.closeEngine(engine)
			return
		}
		p.engines <- engine
		p.mu.Unlock()
	}
}

func (p *EnginePool) recordErrorLocked(err error) {
	p.lastErrors = append(p.lastErrors, err)
	if len(p.lastErrors) > maxRecordedErrors {
		p.lastErrors = p.lastErrors[1:]
	}
}

func (p *EnginePool) Snapshot() PoolSnapshot {
	p.metrics.mu.RLock()
	snap := PoolSnapshot{
		PoolSize:        p.size,
		EnginesInUse:    p.metrics.inUse,
		TotalAcquired:   p.metrics.totalAcquired,
		TotalReleased:   p.metrics.totalReleased,
		TotalDiscarded:  p.metrics.totalDiscarded,
		AcquireFailures: p.metrics.acquireFailures,
		WaitTimeMs:      p.metrics.waitTime.Milliseconds(),
	}
	p.metrics.mu.RUnlock()

	p.mu.Lock()
	snap.LiveEngines = p.live
	for _, err := range p.lastErrors {
		snap.RecentErrors = append(snap.RecentErrors, err.Error())
	}
	p.mu.Unlock()
	return snap
}
