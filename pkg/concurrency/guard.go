// Package concurrency holds the small mutual-exclusion primitives the call
// controller builds its operation guarantees on: serialized round trips,
// at-most-once execution with a shared outcome, and burst debouncing.
package concurrency

import (
	"errors"
	"sync"
	"time"
)

// ErrBusy is returned by Guard when an execution is already in flight.
var ErrBusy = errors.New("operation already in flight")

// Guard rejects reentrant executions while one is outstanding.
type Guard struct {
	mu     sync.Mutex
	isBusy bool
}

func NewGuard() *Guard {
	return &Guard{}
}

// Execute runs task unless another execution is in flight, in which case it
// returns ErrBusy without running the task.
func (g *Guard) Execute(task func() error) error {
	g.mu.Lock()
	if g.isBusy {
		g.mu.Unlock()
		return ErrBusy
	}
	g.isBusy = true
	g.mu.Unlock()
	defer func() {
		g.mu.Lock()
		g.isBusy = false
		g.mu.Unlock()
	}()
	return task()
}

// SerialGate serializes executions: a caller that arrives while another
// task is running waits for its turn instead of failing. Used for the
// media-update round trips, where a second toggle must queue behind the
// first rather than race it.
type SerialGate struct {
	mu sync.Mutex
}

// Execute runs task once the previous execution (if any) has settled.
func (g *SerialGate) Execute(task func() error) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return task()
}

// OnceFlight runs a task at most once. The first caller executes it; every
// concurrent and later caller waits for that single execution and receives
// the same outcome. This is a call-once contract, not plain mutual
// exclusion: the task never runs a second time.
type OnceFlight struct {
	mu      sync.Mutex
	started bool
	done    chan struct{}
	err     error
}

// Do executes task if no execution has started yet, otherwise waits for
// the original execution and returns its result.
func (f *OnceFlight) Do(task func() error) error {
	f.mu.Lock()
	if f.started {
		done := f.done
		f.mu.Unlock()
		<-done
		return f.err
	}
	f.started = true
	f.done = make(chan struct{})
	f.mu.Unlock()

	err := task()

	f.mu.Lock()
	f.err = err
	close(f.done)
	f.mu.Unlock()
	return err
}

// Started reports whether an execution has begun (or finished).
func (f *OnceFlight) Started() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.started
}

// Debouncer collapses a burst of triggers into a single deferred call.
// Each Trigger restarts the timer; only the last callback of a burst runs.
type Debouncer struct {
	mu    sync.Mutex
	delay time.Duration
	timer *time.Timer
}

func NewDebouncer(delay time.Duration) *Debouncer {
	return &Debouncer{delay: delay}
}

// Trigger schedules fn to run after the debounce delay, cancelling any
// previously scheduled callback.
func (d *Debouncer) Trigger(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, fn)
}

// Stop cancels any pending callback.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
