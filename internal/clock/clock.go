// Package clock abstracts the time operations the event loop needs so that
// aligned timers can be tested deterministically.
package clock

import "time"

// Clock is injected wherever production code would call time.Now or
// time.AfterFunc directly.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// AfterFunc calls f once d has elapsed. f runs on a clock-owned
	// goroutine (real) or synchronously inside Advance (fake). If d <= 0, f
	// fires as soon as possible.
	AfterFunc(d time.Duration, f func()) *Timer
}

// Timer is a pending AfterFunc call.
type Timer struct {
	stopFunc func() bool
}

// Stop cancels the pending call. It reports whether the call was stopped
// before it fired.
func (t *Timer) Stop() bool { return t.stopFunc() }

// Real returns the wall clock.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) *Timer {
	timer := time.AfterFunc(d, f)
	return &Timer{stopFunc: timer.Stop}
}
