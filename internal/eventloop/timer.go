package eventloop

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"policyd/internal/clock"
)

// Timer is a repeating loop timer with absolute deadlines. Each deadline is
// computed from the previous one, not from the moment the callback ran, so
// the cadence does not drift. Deadlines that were missed entirely (the host
// was suspended, the loop was blocked) are skipped rather than replayed.
type Timer struct {
	loop   *Loop
	name   string
	period time.Duration
	fn     func()

	mu      sync.Mutex
	next    time.Time
	pending *clock.Timer
	stopped bool
	// gen counts arm calls; a nested arm from a synchronous fire wins.
	gen     uint64
	fires   int
	skipped int
}

// Repeat posts fn at first and then every period after it. fn runs on the
// loop goroutine.
func (l *Loop) Repeat(name string, first time.Time, period time.Duration, fn func()) (*Timer, error) {
	if period <= 0 {
		return nil, fmt.Errorf("eventloop: timer %q: period must be positive, got %s", name, period)
	}
	if fn == nil {
		return nil, fmt.Errorf("eventloop: timer %q: nil callback", name)
	}
	t := &Timer{loop: l, name: name, period: period, fn: fn, next: first}
	if !l.track(t) {
		return nil, ErrClosed
	}
	t.arm()
	return t, nil
}

// Next returns the upcoming deadline.
func (t *Timer) Next() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.next
}

// Fires returns how many times the timer has posted its callback.
func (t *Timer) Fires() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fires
}

// Skipped returns how many deadlines were dropped because they had already
// passed.
func (t *Timer) Skipped() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.skipped
}

// Stopped reports whether Stop was called.
func (t *Timer) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

// Stop cancels the timer. A callback already posted but not yet run is
// dropped. Stop is idempotent.
func (t *Timer) Stop() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.stopped = true
	pending := t.pending
	t.pending = nil
	t.mu.Unlock()

	if pending != nil {
		pending.Stop()
	}
	t.loop.forget(t)
	slog.Debug("[DEBUG-LOOP] timer stopped", "timer", t.name)
}

func (t *Timer) arm() {
	clk := t.loop.clock
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.gen++
	gen := t.gen
	delay := t.next.Sub(clk.Now())
	t.mu.Unlock()

	// AfterFunc may run fire synchronously, so no lock is held here.
	pending := clk.AfterFunc(delay, t.fire)

	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		pending.Stop()
		return
	}
	if t.gen == gen {
		t.pending = pending
	}
	t.mu.Unlock()
}

func (t *Timer) fire() {
	now := t.loop.clock.Now()
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	due := t.next
	next := due.Add(t.period)
	if !next.After(now) {
		missed := now.Sub(due) / t.period
		next = due.Add((missed + 1) * t.period)
		t.skipped += int(missed)
	}
	t.next = next
	t.fires++
	t.mu.Unlock()

	err := t.loop.Post(t.name, func() {
		if t.Stopped() {
			return
		}
		t.fn()
	})
	if err != nil {
		t.Stop()
		return
	}
	t.arm()
}
