// Package memhost is an in-memory host.Host. It keeps just enough compositor
// state to observe policy decisions (bound chords, grabbed devices, connector
// layout, visible workspaces, status lines) and records every command it
// receives. It backs the unit tests and the daemon's --dry-run mode.
package memhost

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"

	"policyd/internal/host"
	"policyd/internal/keys"
)

// Host is safe for concurrent use. Event emission calls the subscribed sink
// on the emitting goroutine without holding the internal lock.
type Host struct {
	mu sync.Mutex

	devices    map[host.DeviceID]host.InputDevice
	settings   map[host.DeviceID]host.DeviceSettings
	grabbed    map[host.DeviceID]bool
	connectors map[string]*host.Connector
	graphics   []host.GraphicsDevice
	bound      map[host.SeatName]map[keys.Chord]struct{}
	shown      map[host.SeatName]string
	assigned   map[host.SeatName]string
	hwCursor   map[host.SeatName]bool
	statuses   []string
	calls      []string
	failures   map[string]error

	vt       int
	quits    int
	reloads  int
	sink     func(host.Event)
	kinds    map[host.EventKind]bool
	logCalls bool
}

var _ host.Host = (*Host)(nil)

// New returns an empty host.
func New() *Host {
	return &Host{
		devices:    make(map[host.DeviceID]host.InputDevice),
		settings:   make(map[host.DeviceID]host.DeviceSettings),
		grabbed:    make(map[host.DeviceID]bool),
		connectors: make(map[string]*host.Connector),
		bound:      make(map[host.SeatName]map[keys.Chord]struct{}),
		shown:      make(map[host.SeatName]string),
		assigned:   make(map[host.SeatName]string),
		hwCursor:   make(map[host.SeatName]bool),
		failures:   make(map[string]error),
	}
}

// LogCalls makes every recorded command also appear as an Info log record.
// Used by --dry-run.
func (h *Host) LogCalls(enabled bool) {
	h.mu.Lock()
	h.logCalls = enabled
	h.mu.Unlock()
}

// FailCalls makes every subsequent call of method return err. A nil err
// clears the failure.
func (h *Host) FailCalls(method string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err == nil {
		delete(h.failures, method)
		return
	}
	h.failures[method] = err
}

// record appends a command to the call log and returns the injected failure
// for method, if any. Caller must hold h.mu.
func (h *Host) record(method string, format string, args ...any) error {
	entry := method
	if format != "" {
		entry += " " + fmt.Sprintf(format, args...)
	}
	h.calls = append(h.calls, entry)
	if h.logCalls {
		slog.Info("[DRY-RUN] host call", "call", entry)
	}
	return h.failures[method]
}

// Calls returns a copy of the recorded commands.
func (h *Host) Calls() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.calls)
}

// ResetCalls clears the call log.
func (h *Host) ResetCalls() {
	h.mu.Lock()
	h.calls = nil
	h.mu.Unlock()
}

// ---- host.Input ----

func (h *Host) BindChord(_ context.Context, seat host.SeatName, chord keys.Chord) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.record("bind", "%s %s", seat, chord); err != nil {
		return err
	}
	set := h.bound[seat]
	if set == nil {
		set = make(map[keys.Chord]struct{})
		h.bound[seat] = set
	}
	set[chord] = struct{}{}
	return nil
}

func (h *Host) UnbindChord(_ context.Context, seat host.SeatName, chord keys.Chord) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.record("unbind", "%s %s", seat, chord); err != nil {
		return err
	}
	delete(h.bound[seat], chord)
	return nil
}

func (h *Host) InputDevices(context.Context) ([]host.InputDevice, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.failures["input-devices"]; err != nil {
		return nil, err
	}
	return h.sortedDevices(func(host.InputDevice) bool { return true }), nil
}

func (h *Host) SeatDevices(_ context.Context, seat host.SeatName) ([]host.InputDevice, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.failures["seat-devices"]; err != nil {
		return nil, err
	}
	return h.sortedDevices(func(d host.InputDevice) bool { return d.Seat == seat }), nil
}

// sortedDevices returns matching devices ordered by ID. Caller must hold h.mu.
func (h *Host) sortedDevices(match func(host.InputDevice) bool) []host.InputDevice {
	out := make([]host.InputDevice, 0, len(h.devices))
	for _, d := range h.devices {
		if match(d) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (h *Host) ConfigureDevice(_ context.Context, id host.DeviceID, settings host.DeviceSettings) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.record("configure-device", "%d", id); err != nil {
		return err
	}
	device, ok := h.devices[id]
	if !ok {
		return fmt.Errorf("device %d not found", id)
	}
	h.settings[id] = settings
	if settings.Seat != "" {
		device.Seat = settings.Seat
		h.devices[id] = device
	}
	return nil
}

func (h *Host) GrabDevice(_ context.Context, id host.DeviceID, grab bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.record("grab-device", "%d %t", id, grab); err != nil {
		return err
	}
	if _, ok := h.devices[id]; !ok {
		return fmt.Errorf("device %d not found", id)
	}
	if grab {
		h.grabbed[id] = true
	} else {
		delete(h.grabbed, id)
	}
	return nil
}

// ---- host.Outputs ----

func (h *Host) Connectors(context.Context) ([]host.Connector, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.failures["connectors"]; err != nil {
		return nil, err
	}
	out := make([]host.Connector, 0, len(h.connectors))
	for _, c := range h.connectors {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (h *Host) SetConnectorEnabled(_ context.Context, name string, enabled bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.record("connector-enabled", "%s %t", name, enabled); err != nil {
		return err
	}
	c, ok := h.connectors[name]
	if !ok {
		return fmt.Errorf("connector %s not found", name)
	}
	c.Enabled = enabled
	return nil
}

func (h *Host) SetConnectorPosition(_ context.Context, name string, x, y int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.record("connector-position", "%s %d %d", name, x, y); err != nil {
		return err
	}
	c, ok := h.connectors[name]
	if !ok {
		return fmt.Errorf("connector %s not found", name)
	}
	c.X, c.Y = x, y
	return nil
}

func (h *Host) GraphicsDevices(context.Context) ([]host.GraphicsDevice, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.failures["graphics-devices"]; err != nil {
		return nil, err
	}
	return slices.Clone(h.graphics), nil
}

// ---- host.Windows ----

func (h *Host) Focus(_ context.Context, seat host.SeatName, dir host.Direction) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.record("focus", "%s %s", seat, dir)
}

func (h *Host) Move(_ context.Context, seat host.SeatName, dir host.Direction) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.record("move", "%s %s", seat, dir)
}

func (h *Host) CreateSplit(_ context.Context, seat host.SeatName, axis host.Axis) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.record("split", "%s %s", seat, axis)
}

func (h *Host) Toggle(_ context.Context, seat host.SeatName, toggle host.ContainerToggle) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.record("toggle", "%s %s", seat, toggle)
}

func (h *Host) FocusParent(_ context.Context, seat host.SeatName) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.record("focus-parent", "%s", seat)
}

func (h *Host) Close(_ context.Context, seat host.SeatName) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.record("close", "%s", seat)
}

func (h *Host) ShowWorkspace(_ context.Context, seat host.SeatName, workspace string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.record("show-workspace", "%s %s", seat, workspace); err != nil {
		return err
	}
	h.shown[seat] = workspace
	return nil
}

func (h *Host) SetWorkspace(_ context.Context, seat host.SeatName, workspace string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.record("set-workspace", "%s %s", seat, workspace); err != nil {
		return err
	}
	h.assigned[seat] = workspace
	return nil
}

func (h *Host) UseHardwareCursor(_ context.Context, seat host.SeatName, enabled bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.record("hardware-cursor", "%s %t", seat, enabled); err != nil {
		return err
	}
	h.hwCursor[seat] = enabled
	return nil
}

// ---- host.Session ----

func (h *Host) SwitchVT(_ context.Context, vt int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.record("switch-vt", "%d", vt); err != nil {
		return err
	}
	h.vt = vt
	return nil
}

func (h *Host) SetStatus(_ context.Context, text string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.failures["set-status"]; err != nil {
		return err
	}
	h.statuses = append(h.statuses, text)
	return nil
}

func (h *Host) Quit(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.record("quit", ""); err != nil {
		return err
	}
	h.quits++
	return nil
}

func (h *Host) Reload(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.record("reload", ""); err != nil {
		return err
	}
	h.reloads++
	return nil
}

func (h *Host) Subscribe(_ context.Context, sink func(host.Event), kinds ...host.EventKind) error {
	if sink == nil {
		return fmt.Errorf("memhost: nil event sink")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.record("subscribe", "%v", kinds); err != nil {
		return err
	}
	h.sink = sink
	h.kinds = make(map[host.EventKind]bool, len(kinds))
	for _, kind := range kinds {
		h.kinds[kind] = true
	}
	return nil
}
