package eventloop

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

const (
	// defaultInitialBackoff is the first restart delay after a worker panic.
	// Doubles per attempt up to defaultMaxBackoff.
	defaultInitialBackoff = 100 * time.Millisecond

	// defaultMaxBackoff caps the restart delay.
	defaultMaxBackoff = 5 * time.Second

	// defaultMaxRetries bounds restarts; about 30s of backoff in total.
	defaultMaxRetries = 10
)

// safeCall runs fn and converts a panic into an error log with a stack. It
// reports whether fn panicked. Every loop task goes through here, so a
// panicking action never unwinds into the host transport.
func safeCall(name string, fn func()) (panicked bool) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("[DEBUG-PANIC] event loop task recovered from panic",
				"task", name,
				"panic", r,
				"stack", string(debug.Stack()),
			)
			panicked = true
		}
	}()
	fn()
	return false
}

// RecoveryOptions configures Go. Zero values use the defaults above.
type RecoveryOptions struct {
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	MaxRetries     int

	// OnPanic is called after each recovered panic with the 1-based attempt.
	OnPanic func(worker string, attempt int)
	// OnFatal is called once the worker exhausted MaxRetries.
	OnFatal func(worker string, maxRetries int)
}

func (opts RecoveryOptions) applyDefaults() RecoveryOptions {
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = defaultInitialBackoff
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = defaultMaxBackoff
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	if opts.MaxBackoff < opts.InitialBackoff {
		slog.Warn("[DEBUG-PANIC] MaxBackoff < InitialBackoff, using InitialBackoff as MaxBackoff",
			"initialBackoff", opts.InitialBackoff, "maxBackoff", opts.MaxBackoff)
		opts.MaxBackoff = opts.InitialBackoff
	}
	return opts
}

// Go runs a background worker (config watcher, status hub listener) in a
// goroutine tracked by wg. A panicking worker is restarted with exponential
// backoff; a worker that returns normally, or whose ctx is cancelled, is not
// restarted.
func Go(ctx context.Context, name string, wg *sync.WaitGroup, fn func(ctx context.Context), opts RecoveryOptions) {
	opts = opts.applyDefaults()
	wg.Go(func() {
		runRecoveryLoop(ctx, name, fn, opts)
	})
}

func runRecoveryLoop(ctx context.Context, name string, fn func(ctx context.Context), opts RecoveryOptions) {
	delay := opts.InitialBackoff
	for attempt := 0; attempt < opts.MaxRetries; attempt++ {
		panicked := safeCall(name, func() { fn(ctx) })
		if !panicked || ctx.Err() != nil {
			return
		}

		slog.Warn("[DEBUG-PANIC] restarting worker after panic",
			"worker", name, "restartDelay", delay, "attempt", attempt+1)
		if opts.OnPanic != nil {
			opts.OnPanic(name, attempt+1)
		}
		if attempt == opts.MaxRetries-1 {
			break
		}

		restart := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			restart.Stop()
			return
		case <-restart.C:
		}
		delay = nextBackoff(delay, opts.MaxBackoff)
	}

	slog.Error("[DEBUG-PANIC] worker exceeded max retries, giving up",
		"worker", name, "maxRetries", opts.MaxRetries)
	if opts.OnFatal != nil {
		opts.OnFatal(name, opts.MaxRetries)
	}
}

// nextBackoff doubles current, capped at maxBackoff and guarded against
// overflow.
func nextBackoff(current, maxBackoff time.Duration) time.Duration {
	if current <= 0 {
		return defaultInitialBackoff
	}
	if current >= maxBackoff {
		return maxBackoff
	}
	next := current * 2
	if next > maxBackoff || next < current {
		return maxBackoff
	}
	return next
}
