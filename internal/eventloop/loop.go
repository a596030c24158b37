// Package eventloop runs every policy callback on one goroutine.
//
// Transports, host event sinks and timers never call policy code directly;
// they Post a task and the loop executes tasks strictly in arrival order.
// State owned by policy code (registries, grab toggles, seat flags, metric
// handles) is therefore only touched from the loop goroutine and needs no
// locking.
package eventloop

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"policyd/internal/clock"
)

// ErrClosed is returned by Post and Repeat after Close.
var ErrClosed = errors.New("eventloop: closed")

// ErrRunning is returned by Run when another Run is active.
var ErrRunning = errors.New("eventloop: already running")

type task struct {
	name string
	fn   func()
}

// Loop is a single-goroutine task queue. The queue is unbounded so that a
// task posting follow-up work from inside the loop can never deadlock.
type Loop struct {
	clock clock.Clock

	mu     sync.Mutex
	queue  []task
	closed bool
	timers map[*Timer]struct{}

	// wake has capacity 1; a pending signal means "queue may be non-empty".
	wake    chan struct{}
	running atomic.Bool
}

// New creates a loop whose timers use clk. A nil clk uses the wall clock.
func New(clk clock.Clock) *Loop {
	if clk == nil {
		clk = clock.Real()
	}
	return &Loop{
		clock:  clk,
		timers: make(map[*Timer]struct{}),
		wake:   make(chan struct{}, 1),
	}
}

// Clock returns the loop's time source.
func (l *Loop) Clock() clock.Clock {
	return l.clock
}

// Post queues fn for execution on the loop goroutine. name identifies the
// task in panic logs. Safe to call from any goroutine, including the loop
// itself.
func (l *Loop) Post(name string, fn func()) error {
	if fn == nil {
		return nil
	}
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	l.queue = append(l.queue, task{name: name, fn: fn})
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return nil
}

// Pending returns the number of queued tasks.
func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

// Run executes tasks until ctx is cancelled or Close is called. After Close
// it finishes the tasks already queued and returns nil.
func (l *Loop) Run(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return ErrRunning
	}
	defer l.running.Store(false)

	slog.Debug("[DEBUG-LOOP] event loop started")
	for {
		l.runQueued()

		l.mu.Lock()
		finished := l.closed && len(l.queue) == 0
		l.mu.Unlock()
		if finished {
			slog.Debug("[DEBUG-LOOP] event loop stopped")
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.wake:
		}
	}
}

// Drain runs queued tasks on the calling goroutine until the queue is empty,
// including tasks posted by the drained tasks. It returns the number of
// tasks run. Drain does nothing while Run is active.
func (l *Loop) Drain() int {
	if !l.running.CompareAndSwap(false, true) {
		return 0
	}
	defer l.running.Store(false)
	return l.runQueued()
}

func (l *Loop) runQueued() int {
	count := 0
	for {
		l.mu.Lock()
		if len(l.queue) == 0 {
			l.mu.Unlock()
			return count
		}
		next := l.queue[0]
		l.queue[0] = task{}
		l.queue = l.queue[1:]
		l.mu.Unlock()

		safeCall(next.name, next.fn)
		count++
	}
}

// Close rejects further posts, stops every repeating timer and lets Run
// return once the queue is empty. Close is idempotent.
func (l *Loop) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	timers := make([]*Timer, 0, len(l.timers))
	for timer := range l.timers {
		timers = append(timers, timer)
	}
	l.mu.Unlock()

	for _, timer := range timers {
		timer.Stop()
	}
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *Loop) track(t *Timer) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return false
	}
	l.timers[t] = struct{}{}
	return true
}

func (l *Loop) forget(t *Timer) {
	l.mu.Lock()
	delete(l.timers, t)
	l.mu.Unlock()
}
