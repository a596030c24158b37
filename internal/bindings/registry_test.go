package bindings

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"policyd/internal/host"
	"policyd/internal/keys"
	"policyd/internal/testutil"
)

type recordingNotifier struct {
	calls []string
	err   error
}

func (n *recordingNotifier) BindChord(_ context.Context, seat host.SeatName, chord keys.Chord) error {
	n.calls = append(n.calls, "bind "+string(seat)+" "+chord.String())
	return n.err
}

func (n *recordingNotifier) UnbindChord(_ context.Context, seat host.SeatName, chord keys.Chord) error {
	n.calls = append(n.calls, "unbind "+string(seat)+" "+chord.String())
	return n.err
}

func chord(t *testing.T, spec string) keys.Chord {
	t.Helper()
	c, err := keys.ParseChord(spec, keys.ModSuper)
	if err != nil {
		t.Fatalf("ParseChord(%q) error = %v", spec, err)
	}
	return c
}

func TestDispatchInvokesOnlyMatchingAction(t *testing.T) {
	r := NewRegistry("default", nil)
	var gotA, gotB int
	r.Bind(chord(t, "Mod+p"), func() { gotA++ })
	r.Bind(chord(t, "Mod+Shift+p"), func() { gotB++ })

	if !r.Dispatch(chord(t, "Mod+p")) {
		t.Fatal("Dispatch(Mod+p) = false, want true")
	}
	if gotA != 1 || gotB != 0 {
		t.Fatalf("invocations = (A=%d, B=%d), want (1, 0)", gotA, gotB)
	}
}

func TestDispatchUnboundPassesThrough(t *testing.T) {
	r := NewRegistry("default", nil)
	r.Bind(chord(t, "Mod+p"), func() { t.Fatal("unexpected action") })
	if r.Dispatch(chord(t, "Mod+q")) {
		t.Fatal("Dispatch(unbound) = true, want false")
	}
}

func TestRebindKeepsLatestAction(t *testing.T) {
	n := &recordingNotifier{}
	r := NewRegistry("default", n)
	var first, second int
	c := chord(t, "Mod+x")
	r.Bind(c, func() { first++ })
	r.Bind(c, func() { second++ })

	if r.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", r.Len())
	}
	r.Dispatch(c)
	if first != 0 || second != 1 {
		t.Fatalf("invocations = (first=%d, second=%d), want (0, 1)", first, second)
	}
	if len(n.calls) != 1 {
		t.Fatalf("notifier calls = %v, want a single bind", n.calls)
	}
}

func TestUnbind(t *testing.T) {
	n := &recordingNotifier{}
	r := NewRegistry("seat0", n)
	c := chord(t, "Mod+d")

	r.Unbind(c)
	if len(n.calls) != 0 {
		t.Fatalf("unbinding an unbound chord notified host: %v", n.calls)
	}

	r.Bind(c, func() {})
	r.Unbind(c)
	if r.Has(c) {
		t.Fatal("Has() = true after Unbind")
	}
	want := []string{"bind seat0 Super+d", "unbind seat0 Super+d"}
	if strings.Join(n.calls, ";") != strings.Join(want, ";") {
		t.Fatalf("notifier calls = %v, want %v", n.calls, want)
	}
}

func TestBindNilActionUnbinds(t *testing.T) {
	r := NewRegistry("default", nil)
	c := chord(t, "Mod+d")
	r.Bind(c, func() {})
	r.Bind(c, nil)
	if r.Has(c) {
		t.Fatal("Bind(nil) left the chord bound")
	}
}

func TestSwap(t *testing.T) {
	n := &recordingNotifier{}
	r := NewRegistry("default", n)
	enter := chord(t, "Sys_Req")
	exit := chord(t, "Mod+b")
	var fired string
	r.Bind(enter, func() { fired = "enter" })
	n.calls = nil

	r.Swap(enter, exit, func() { fired = "exit" })

	if r.Has(enter) || !r.Has(exit) {
		t.Fatalf("after Swap: Has(enter)=%v Has(exit)=%v, want false/true", r.Has(enter), r.Has(exit))
	}
	r.Dispatch(exit)
	if fired != "exit" {
		t.Fatalf("fired = %q, want exit", fired)
	}
	want := []string{"unbind default Sys_Req", "bind default Super+b"}
	if strings.Join(n.calls, ";") != strings.Join(want, ";") {
		t.Fatalf("notifier calls = %v, want %v", n.calls, want)
	}

	r.Swap(exit, exit, func() { fired = "same" })
	r.Dispatch(exit)
	if fired != "same" || r.Len() != 1 {
		t.Fatalf("self-swap: fired=%q Len=%d, want same/1", fired, r.Len())
	}
}

func TestClearAndChords(t *testing.T) {
	r := NewRegistry("default", nil)
	for _, spec := range []string{"Mod+l", "Mod+h", "Mod+j"} {
		r.Bind(chord(t, spec), func() {})
	}
	got := r.Chords()
	if len(got) != 3 || got[0].String() != "Super+h" || got[2].String() != "Super+l" {
		t.Fatalf("Chords() = %v, want sorted h,j,l", got)
	}
	r.Clear()
	if r.Len() != 0 {
		t.Fatalf("Len() after Clear = %d, want 0", r.Len())
	}
}

func TestNotifierErrorIsLoggedNotReturned(t *testing.T) {
	logs := testutil.CaptureLogBuffer(t, slog.LevelWarn)
	n := &recordingNotifier{err: errors.New("host gone")}
	r := NewRegistry("default", n)
	c := chord(t, "Mod+t")

	r.Bind(c, func() {})

	if !r.Has(c) {
		t.Fatal("binding must succeed locally even when the host rejects it")
	}
	if !strings.Contains(logs.String(), "host rejected chord binding") {
		t.Fatalf("expected warning log, got %q", logs.String())
	}
}

func TestTableSeatsAreIndependent(t *testing.T) {
	table := NewTable(nil)
	var onA, onB int
	c := chord(t, "Mod+1")
	table.Seat("a").Bind(c, func() { onA++ })
	table.Seat("b").Bind(c, func() { onB++ })

	table.Dispatch("a", c)
	if onA != 1 || onB != 0 {
		t.Fatalf("invocations = (a=%d, b=%d), want (1, 0)", onA, onB)
	}
	if table.Dispatch("missing", c) {
		t.Fatal("Dispatch on unknown seat = true, want false")
	}
	if seats := table.Seats(); len(seats) != 2 || seats[0] != "a" {
		t.Fatalf("Seats() = %v, want [a b]", seats)
	}
	if table.Seat("a") != table.Seat("a") {
		t.Fatal("Seat() must return the same registry on repeat calls")
	}
}
