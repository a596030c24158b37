package eventloop

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"policyd/internal/clock"
	"policyd/internal/testutil"
)

func TestPostRunsInOrder(t *testing.T) {
	loop := New(nil)
	var order []int
	for i := range 5 {
		if err := loop.Post("step", func() { order = append(order, i) }); err != nil {
			t.Fatalf("Post() error = %v", err)
		}
	}

	if n := loop.Drain(); n != 5 {
		t.Fatalf("Drain() = %d, want 5", n)
	}
	for i, got := range order {
		if got != i {
			t.Fatalf("order = %v, want ascending", order)
		}
	}
}

func TestDrainRunsFollowUpTasks(t *testing.T) {
	loop := New(nil)
	ran := false
	loop.Post("outer", func() {
		loop.Post("inner", func() { ran = true })
	})

	if n := loop.Drain(); n != 2 {
		t.Fatalf("Drain() = %d, want 2", n)
	}
	if !ran {
		t.Fatal("follow-up task did not run")
	}
}

func TestPanicGuardKeepsDispatching(t *testing.T) {
	logs := testutil.CaptureLogBuffer(t, slog.LevelDebug)
	loop := New(nil)
	after := false
	loop.Post("boom", func() { panic("action failed") })
	loop.Post("after", func() { after = true })

	loop.Drain()

	if !after {
		t.Fatal("task after panic did not run")
	}
	out := logs.String()
	if !strings.Contains(out, "recovered from panic") || !strings.Contains(out, "task=boom") {
		t.Fatalf("panic not logged: %q", out)
	}
}

func TestRunStopsOnClose(t *testing.T) {
	loop := New(nil)
	var count atomic.Int32
	done := make(chan error, 1)
	go func() { done <- loop.Run(context.Background()) }()

	for range 3 {
		loop.Post("count", func() { count.Add(1) })
	}
	testutil.WaitFor(t, time.Second, "tasks", func() bool { return count.Load() == 3 })
	loop.Close()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Close")
	}
	if err := loop.Post("late", func() {}); !errors.Is(err, ErrClosed) {
		t.Fatalf("Post() after Close error = %v, want ErrClosed", err)
	}
	loop.Close()
}

func TestRunReturnsContextError(t *testing.T) {
	loop := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run() error = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRunRejectsSecondRunner(t *testing.T) {
	loop := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	started := make(chan struct{})
	go func() {
		loop.Post("started", func() { close(started) })
		loop.Run(ctx)
	}()
	<-started

	if err := loop.Run(ctx); !errors.Is(err, ErrRunning) {
		t.Fatalf("second Run() error = %v, want ErrRunning", err)
	}
	if n := loop.Drain(); n != 0 {
		t.Fatalf("Drain() during Run = %d, want 0", n)
	}
}

func TestRepeatAbsoluteDeadlines(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	fake := clock.Fake(start)
	loop := New(fake)
	var ticks []time.Time

	timer, err := loop.Repeat("tick", start.Add(2*time.Second), 5*time.Second, func() {
		ticks = append(ticks, fake.Now())
	})
	if err != nil {
		t.Fatalf("Repeat() error = %v", err)
	}

	fake.Advance(2 * time.Second)
	loop.Drain()
	fake.Advance(5 * time.Second)
	loop.Drain()
	fake.Advance(5 * time.Second)
	loop.Drain()

	want := []time.Time{start.Add(2 * time.Second), start.Add(7 * time.Second), start.Add(12 * time.Second)}
	if len(ticks) != len(want) {
		t.Fatalf("ticks = %v, want %v", ticks, want)
	}
	for i := range want {
		if !ticks[i].Equal(want[i]) {
			t.Fatalf("tick %d at %v, want %v", i, ticks[i], want[i])
		}
	}
	if next := timer.Next(); !next.Equal(start.Add(17 * time.Second)) {
		t.Fatalf("Next() = %v", next)
	}
}

func TestRepeatSkipsMissedDeadlines(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	fake := clock.Fake(start)
	loop := New(fake)
	fired := 0
	timer, err := loop.Repeat("tick", start.Add(time.Second), time.Second, func() { fired++ })
	if err != nil {
		t.Fatalf("Repeat() error = %v", err)
	}

	// A jump over several periods delivers one callback and realigns.
	fake.Advance(3500 * time.Millisecond)
	loop.Drain()

	if fired != 1 {
		t.Fatalf("fired = %d, want 1", fired)
	}
	if timer.Skipped() != 2 {
		t.Fatalf("Skipped() = %d, want 2", timer.Skipped())
	}
	if next := timer.Next(); !next.Equal(start.Add(4 * time.Second)) {
		t.Fatalf("Next() = %v, want +4s", next)
	}
}

func TestTimerStop(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	fake := clock.Fake(start)
	loop := New(fake)
	fired := 0
	timer, err := loop.Repeat("tick", start.Add(time.Second), time.Second, func() { fired++ })
	if err != nil {
		t.Fatalf("Repeat() error = %v", err)
	}

	fake.Advance(time.Second)
	// Posted but not yet run: Stop drops it.
	timer.Stop()
	loop.Drain()
	fake.Advance(5 * time.Second)
	loop.Drain()

	if fired != 0 {
		t.Fatalf("fired = %d after Stop, want 0", fired)
	}
	if fake.PendingCount() != 0 {
		t.Fatalf("PendingCount() = %d, want 0", fake.PendingCount())
	}
	timer.Stop()
}

func TestCloseStopsTimers(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	fake := clock.Fake(start)
	loop := New(fake)
	timer, err := loop.Repeat("tick", start.Add(time.Second), time.Second, func() {})
	if err != nil {
		t.Fatalf("Repeat() error = %v", err)
	}

	loop.Close()

	if !timer.Stopped() {
		t.Fatal("Close did not stop timer")
	}
	if _, err := loop.Repeat("late", start, time.Second, func() {}); !errors.Is(err, ErrClosed) {
		t.Fatalf("Repeat() after Close error = %v, want ErrClosed", err)
	}
}

func TestRepeatValidation(t *testing.T) {
	loop := New(nil)
	if _, err := loop.Repeat("zero", time.Now(), 0, func() {}); err == nil {
		t.Fatal("Repeat() with zero period succeeded")
	}
	if _, err := loop.Repeat("nil", time.Now(), time.Second, nil); err == nil {
		t.Fatal("Repeat() with nil callback succeeded")
	}
}

func TestGoRestartsPanickingWorker(t *testing.T) {
	testutil.CaptureLogBuffer(t, slog.LevelError)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	var runs, panics atomic.Int32

	Go(ctx, "flaky", &wg, func(ctx context.Context) {
		if runs.Add(1) == 1 {
			panic("first run fails")
		}
	}, RecoveryOptions{
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
		MaxRetries:     3,
		OnPanic:        func(string, int) { panics.Add(1) },
	})
	wg.Wait()

	if runs.Load() != 2 || panics.Load() != 1 {
		t.Fatalf("runs=%d panics=%d, want 2/1", runs.Load(), panics.Load())
	}
}

func TestGoGivesUpAfterMaxRetries(t *testing.T) {
	testutil.CaptureLogBuffer(t, slog.LevelError)
	var wg sync.WaitGroup
	var fatal atomic.Int32

	Go(context.Background(), "broken", &wg, func(context.Context) {
		panic("always")
	}, RecoveryOptions{
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
		MaxRetries:     2,
		OnFatal:        func(string, int) { fatal.Add(1) },
	})
	wg.Wait()

	if fatal.Load() != 1 {
		t.Fatalf("OnFatal calls = %d, want 1", fatal.Load())
	}
}

func TestNextBackoff(t *testing.T) {
	tests := []struct {
		current, max, want time.Duration
	}{
		{0, time.Second, defaultInitialBackoff},
		{100 * time.Millisecond, time.Second, 200 * time.Millisecond},
		{800 * time.Millisecond, time.Second, time.Second},
		{time.Second, time.Second, time.Second},
		{time.Duration(1 << 62), time.Duration(1<<63 - 1), time.Duration(1<<63 - 1)},
	}
	for _, tt := range tests {
		if got := nextBackoff(tt.current, tt.max); got != tt.want {
			t.Errorf("nextBackoff(%v, %v) = %v, want %v", tt.current, tt.max, got, tt.want)
		}
	}
}
