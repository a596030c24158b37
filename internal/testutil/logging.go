package testutil

import (
	"bytes"
	"log/slog"
	"sync"
	"testing"
	"time"
)

// syncBuffer guards a bytes.Buffer so log records written from the event
// loop goroutine and read from the test goroutine do not race.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// LogBuffer exposes captured log output.
type LogBuffer interface {
	String() string
}

// CaptureLogBuffer redirects the default slog logger to an in-memory buffer
// and restores the original logger in t.Cleanup.
func CaptureLogBuffer(t *testing.T, level slog.Level) LogBuffer {
	t.Helper()
	originalLogger := slog.Default()
	buf := &syncBuffer{}
	slog.SetDefault(slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: level})))
	t.Cleanup(func() {
		slog.SetDefault(originalLogger)
	})
	return buf
}

// WaitFor polls cond every few milliseconds until it returns true or timeout
// elapses, failing the test in the latter case.
func WaitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		if cond() {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out after %s waiting for %s", timeout, what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}
