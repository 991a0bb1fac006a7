// Package runstate holds process-lifetime crawl state: the single-flight
// running flag, the cooperative stop signal, and the task registry polled by
// the control API.
package runstate

import (
	"context"
	"sync"
	"sync/atomic"
)

// Coordinator is safe for concurrent use. The zero value is "not running,
// not stopping"; New is provided for symmetry with the other constructors.
type Coordinator struct {
	running atomic.Bool

	mu       sync.Mutex
	stopping bool
	stopCh   chan struct{} // closed while a stop is requested
}

func New() *Coordinator {
	return &Coordinator{stopCh: make(chan struct{})}
}

// TrySetRunning marks a crawl active. It returns false if one already is.
func (c *Coordinator) TrySetRunning() bool {
	return c.running.CompareAndSwap(false, true)
}

// SetRunning sets the flag unconditionally. Callers use SetRunning(false) on
// every exit path of a crawl.
func (c *Coordinator) SetRunning(v bool) {
	c.running.Store(v)
}

func (c *Coordinator) IsRunning() bool {
	return c.running.Load()
}

// RequestStop raises the cooperative stop signal. Long-running work observes
// it through StopRequested or a context from Context.
func (c *Coordinator) RequestStop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.initLocked()
	if c.stopping {
		return
	}
	c.stopping = true
	close(c.stopCh)
}

// ClearStop resets the stop signal before a new run.
func (c *Coordinator) ClearStop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.initLocked()
	if !c.stopping {
		return
	}
	c.stopping = false
	c.stopCh = make(chan struct{})
}

func (c *Coordinator) StopRequested() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopping
}

// Done returns a channel that is closed once a stop is requested. The
// channel is replaced by ClearStop, so callers should fetch it per run.
func (c *Coordinator) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.initLocked()
	return c.stopCh
}

// Context derives a context that is cancelled when parent is done or a stop
// is requested, whichever comes first.
func (c *Coordinator) Context(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	stop := c.Done()

	go func() {
		select {
		case <-stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}

func (c *Coordinator) initLocked() {
	if c.stopCh == nil {
		c.stopCh = make(chan struct{})
	}
}
