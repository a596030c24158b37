// Package grab implements the per-seat exclusive keyboard capture toggle
// used for nested/embedded sessions.
//
// The toggle is an explicit two-state machine. Its state decides which of
// the two chords is live; the registry entries are kept in step with it, so
// exactly one of {enter, exit} is bound at any time.
package grab

import (
	"context"
	"fmt"
	"log/slog"

	"policyd/internal/bindings"
	"policyd/internal/host"
	"policyd/internal/keys"
)

// State is the capture state of one seat.
type State uint8

const (
	// Normal dispatches only explicitly bound chords.
	Normal State = iota
	// Grabbed captures every keyboard device of the seat exclusively.
	Grabbed
)

func (s State) String() string {
	switch s {
	case Normal:
		return "normal"
	case Grabbed:
		return "grabbed"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// Devices is the host surface the toggle needs. host.Input satisfies it.
type Devices interface {
	SeatDevices(ctx context.Context, seat host.SeatName) ([]host.InputDevice, error)
	GrabDevice(ctx context.Context, id host.DeviceID, grab bool) error
}

// Toggle owns the grab state of one seat. Like the registry it serves, it
// is used only from the event loop goroutine.
type Toggle struct {
	registry *bindings.Registry
	devices  Devices
	enter    keys.Chord
	exit     keys.Chord
	state    State
	captured map[host.DeviceID]bool
}

// New creates a toggle in the Normal state. Call Install to bind the enter
// chord.
func New(registry *bindings.Registry, devices Devices, enter, exit keys.Chord) *Toggle {
	return &Toggle{
		registry: registry,
		devices:  devices,
		enter:    enter,
		exit:     exit,
		captured: make(map[host.DeviceID]bool),
	}
}

// State returns the current state.
func (t *Toggle) State() State {
	return t.state
}

// ActiveChord returns the chord that currently triggers a transition.
func (t *Toggle) ActiveChord() keys.Chord {
	if t.state == Grabbed {
		return t.exit
	}
	return t.enter
}

// Captured returns the number of devices currently captured.
func (t *Toggle) Captured() int {
	return len(t.captured)
}

// Install binds the chord belonging to the current state.
func (t *Toggle) Install() {
	t.registry.Bind(t.ActiveChord(), t.handler(t.ActiveChord()))
}

// handler returns the registry action for chord. The action re-checks the
// state before transitioning, so a stale chord is ignored.
func (t *Toggle) handler(chord keys.Chord) bindings.Action {
	return func() { t.handle(chord) }
}

func (t *Toggle) handle(chord keys.Chord) {
	switch {
	case t.state == Normal && chord == t.enter:
		t.Enter()
	case t.state == Grabbed && chord == t.exit:
		t.Exit()
	default:
		slog.Debug("[DEBUG-GRAB] chord does not match current state", "seat", t.registry.Seat(),
			"chord", chord.String(), "state", t.state.String())
	}
}

// Enter captures every keyboard device of the seat and swaps the enter chord
// for the exit chord. Calling Enter while Grabbed only captures keyboards
// that are not captured yet.
func (t *Toggle) Enter() {
	t.captureKeyboards()
	if t.state == Grabbed {
		return
	}
	t.state = Grabbed
	t.registry.Swap(t.enter, t.exit, t.handler(t.exit))
	slog.Info("[DEBUG-GRAB] keyboard grab enabled", "seat", t.registry.Seat(), "devices", len(t.captured))
}

// Exit releases every captured device and swaps the chords back. Calling
// Exit while Normal is a no-op.
func (t *Toggle) Exit() {
	if t.state == Normal {
		return
	}
	t.releaseAll()
	t.state = Normal
	t.registry.Swap(t.exit, t.enter, t.handler(t.enter))
	slog.Info("[DEBUG-GRAB] keyboard grab released", "seat", t.registry.Seat())
}

// DeviceAdded captures a keyboard that arrives while Grabbed.
func (t *Toggle) DeviceAdded(device host.InputDevice) {
	if t.state != Grabbed || device.Seat != t.registry.Seat() || !device.Has(host.CapKeyboard) {
		return
	}
	t.capture(device)
}

// Rebind replaces both chords and rebinds the one belonging to the current
// state. State and captured devices are preserved.
func (t *Toggle) Rebind(enter, exit keys.Chord) {
	t.registry.Unbind(t.ActiveChord())
	t.enter, t.exit = enter, exit
	t.Install()
}

func (t *Toggle) captureKeyboards() {
	devices, err := t.devices.SeatDevices(context.Background(), t.registry.Seat())
	if err != nil {
		slog.Warn("[WARN-GRAB] failed to list seat devices", "seat", t.registry.Seat(), "error", err)
		return
	}
	for _, device := range devices {
		if device.Has(host.CapKeyboard) {
			t.capture(device)
		}
	}
}

func (t *Toggle) capture(device host.InputDevice) {
	if t.captured[device.ID] {
		return
	}
	slog.Info("[DEBUG-GRAB] grabbing keyboard", "seat", t.registry.Seat(), "device", device.ID, "name", device.Name)
	if err := t.devices.GrabDevice(context.Background(), device.ID, true); err != nil {
		slog.Warn("[WARN-GRAB] grab failed", "device", device.ID, "error", err)
		return
	}
	t.captured[device.ID] = true
}

func (t *Toggle) releaseAll() {
	for id := range t.captured {
		slog.Info("[DEBUG-GRAB] ungrabbing keyboard", "seat", t.registry.Seat(), "device", id)
		if err := t.devices.GrabDevice(context.Background(), id, false); err != nil {
			// The device may have been unplugged since; the host dropped the
			// grab with it.
			slog.Debug("[DEBUG-GRAB] ungrab failed", "device", id, "error", err)
		}
		delete(t.captured, id)
	}
}
