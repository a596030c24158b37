// Package bindings holds the per-seat chord -> action registry and its
// dispatch rules.
//
// A Registry is not safe for concurrent use. Every mutation and dispatch
// happens on the event loop goroutine, which serializes all policy
// callbacks.
package bindings

import (
	"context"
	"log/slog"
	"sort"

	"policyd/internal/host"
	"policyd/internal/keys"
)

// Action is a zero-argument unit of deferred work run when its chord fires.
type Action func()

// Notifier mirrors registry changes to the host so that it intercepts
// exactly the bound chords. host.Input satisfies it.
type Notifier interface {
	BindChord(ctx context.Context, seat host.SeatName, chord keys.Chord) error
	UnbindChord(ctx context.Context, seat host.SeatName, chord keys.Chord) error
}

// Registry maps chords to actions for one seat. At most one action is bound
// to a chord at any time.
type Registry struct {
	seat     host.SeatName
	actions  map[keys.Chord]Action
	notifier Notifier
}

// NewRegistry creates an empty registry for seat. notifier may be nil.
func NewRegistry(seat host.SeatName, notifier Notifier) *Registry {
	return &Registry{
		seat:     seat,
		actions:  make(map[keys.Chord]Action),
		notifier: notifier,
	}
}

// Seat returns the seat this registry serves.
func (r *Registry) Seat() host.SeatName {
	return r.seat
}

// Bind registers action under chord, replacing any previous action. A nil
// action is treated as Unbind.
func (r *Registry) Bind(chord keys.Chord, action Action) {
	if action == nil {
		r.Unbind(chord)
		return
	}
	_, replaced := r.actions[chord]
	r.actions[chord] = action
	if replaced {
		slog.Debug("[DEBUG-BIND] chord rebound", "seat", r.seat, "chord", chord.String())
		return
	}
	r.notifyBind(chord)
}

// Unbind removes chord. Unbinding an unbound chord is a no-op.
func (r *Registry) Unbind(chord keys.Chord) {
	if _, ok := r.actions[chord]; !ok {
		return
	}
	delete(r.actions, chord)
	r.notifyUnbind(chord)
}

// Swap removes the binding for remove and installs action under add in one
// step, so callers never observe both chords bound or neither bound.
func (r *Registry) Swap(remove, add keys.Chord, action Action) {
	if remove == add {
		r.Bind(add, action)
		return
	}
	_, hadRemove := r.actions[remove]
	_, hadAdd := r.actions[add]
	delete(r.actions, remove)
	r.actions[add] = action
	if hadRemove {
		r.notifyUnbind(remove)
	}
	if !hadAdd {
		r.notifyBind(add)
	}
}

// Clear removes every binding.
func (r *Registry) Clear() {
	for _, chord := range r.Chords() {
		r.Unbind(chord)
	}
}

// Lookup returns the action bound to chord.
func (r *Registry) Lookup(chord keys.Chord) (Action, bool) {
	action, ok := r.actions[chord]
	return action, ok
}

// Has reports whether chord is bound.
func (r *Registry) Has(chord keys.Chord) bool {
	_, ok := r.actions[chord]
	return ok
}

// Len returns the number of bound chords.
func (r *Registry) Len() int {
	return len(r.actions)
}

// Chords returns the bound chords sorted by their string form.
func (r *Registry) Chords() []keys.Chord {
	out := make([]keys.Chord, 0, len(r.actions))
	for chord := range r.actions {
		out = append(out, chord)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// Dispatch runs the action bound to chord and reports whether one was found.
// An unbound chord is left to host default handling.
func (r *Registry) Dispatch(chord keys.Chord) bool {
	action, ok := r.actions[chord]
	if !ok {
		slog.Debug("[DEBUG-BIND] unbound chord passed through", "seat", r.seat, "chord", chord.String())
		return false
	}
	action()
	return true
}

func (r *Registry) notifyBind(chord keys.Chord) {
	if r.notifier == nil {
		return
	}
	if err := r.notifier.BindChord(context.Background(), r.seat, chord); err != nil {
		slog.Warn("[WARN-BIND] host rejected chord binding", "seat", r.seat, "chord", chord.String(), "error", err)
	}
}

func (r *Registry) notifyUnbind(chord keys.Chord) {
	if r.notifier == nil {
		return
	}
	if err := r.notifier.UnbindChord(context.Background(), r.seat, chord); err != nil {
		slog.Warn("[WARN-BIND] host rejected chord unbinding", "seat", r.seat, "chord", chord.String(), "error", err)
	}
}
