package detections

import (
	"context"
	"fmt"
	"sync"

	"github.com/pkg/errors"
)

// Engine runs the detection network. Input is a [1, 3, size, size] float32
// tensor in [0,1]; the result carries F and N taken from the output shape.
type Engine interface {
	Run(ctx context.Context, input []float32, size int) (*RawPrediction, error)
}

// EngineState is the lifecycle of an engine handle.
type EngineState int32

const (
	StateUnloaded EngineState = iota
	StateLoading
	StateReady
	StateFailed
)

func (s EngineState) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("EngineState(%d)", int32(s))
	}
}

// Lifecycle guards the Unloaded → Loading → Ready | Failed transitions of an
// engine. Load may be retried from Failed; Dispose returns to Unloaded.
type Lifecycle struct {
	mu      sync.RWMutex
	state   EngineState
	lastErr error
}

// State returns the current state and the error that caused Failed, if any.
func (l *Lifecycle) State() (EngineState, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state, l.lastErr
}

// Load runs load exactly once per transition out of Unloaded or Failed.
func (l *Lifecycle) Load(load func() error) error {
	l.mu.Lock()
	switch l.state {
	case StateReady:
		l.mu.Unlock()
		return nil
	case StateLoading:
		l.mu.Unlock()
		return errors.New("engine is already loading")
	}
	l.state = StateLoading
	l.lastErr = nil
	l.mu.Unlock()

	err := load()

	l.mu.Lock()
	defer l.mu.Unlock()
	if err != nil {
		l.state = StateFailed
		l.lastErr = err
		return err
	}
	l.state = StateReady
	return nil
}

// Use runs fn while holding the engine in the Ready state.
func (l *Lifecycle) Use(fn func() error) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.state != StateReady {
		return errors.Wrapf(ErrEngineNotReady, "state %s", l.state)
	}
	return fn()
}

// Dispose waits for running calls, runs release and returns to Unloaded.
func (l *Lifecycle) Dispose(release func() error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	switch l.state {
	case StateUnloaded:
		return nil
	case StateLoading:
		return errors.New("engine is loading")
	}
	var err error
	if release != nil {
		err = release()
	}
	l.state = StateUnloaded
	l.lastErr = nil
	return err
}
