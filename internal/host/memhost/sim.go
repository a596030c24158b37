package memhost

import (
	"sort"

	"policyd/internal/host"
	"policyd/internal/keys"
)

// emit delivers ev to the subscribed sink if its kind was requested.
func (h *Host) emit(ev host.Event) {
	h.mu.Lock()
	sink := h.sink
	wanted := h.kinds[ev.Kind()]
	h.mu.Unlock()
	if sink != nil && wanted {
		sink(ev)
	}
}

// AddDevice attaches an input device and emits InputDeviceAdded.
func (h *Host) AddDevice(device host.InputDevice) {
	h.mu.Lock()
	h.devices[device.ID] = device
	h.mu.Unlock()
	h.emit(host.InputDeviceAdded{Device: device})
}

// RemoveDevice detaches an input device. The host drops any grab with it.
func (h *Host) RemoveDevice(id host.DeviceID) {
	h.mu.Lock()
	delete(h.devices, id)
	delete(h.grabbed, id)
	h.mu.Unlock()
}

// AddConnector registers a connector and emits ConnectorAdded.
func (h *Host) AddConnector(connector host.Connector) {
	h.mu.Lock()
	c := connector
	h.connectors[connector.Name] = &c
	h.mu.Unlock()
	h.emit(host.ConnectorAdded{Connector: connector.Name})
}

// Connect marks a connector connected and emits ConnectorConnected.
func (h *Host) Connect(name string) {
	h.mu.Lock()
	c, ok := h.connectors[name]
	if ok {
		c.Connected = true
	}
	h.mu.Unlock()
	if ok {
		h.emit(host.ConnectorConnected{Connector: name})
	}
}

// Disconnect marks a connector disconnected. Like real hosts, an unplugged
// output stops scanning out, so it also becomes disabled. No event is
// emitted: policyd only reacts to connect-side transitions.
func (h *Host) Disconnect(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.connectors[name]; ok {
		c.Connected = false
		c.Enabled = false
	}
}

// AddGraphicsDevice registers a DRM device reported by GraphicsDevices.
func (h *Host) AddGraphicsDevice(device host.GraphicsDevice) {
	h.mu.Lock()
	h.graphics = append(h.graphics, device)
	h.mu.Unlock()
}

// InitGraphics emits GraphicsInitialized.
func (h *Host) InitGraphics() {
	h.emit(host.GraphicsInitialized{})
}

// Press simulates a key chord on seat. Bound chords are delivered as a
// KeyEvent and Press returns true; unbound chords fall through to host
// default handling and Press returns false.
func (h *Host) Press(seat host.SeatName, chord keys.Chord) bool {
	h.mu.Lock()
	_, bound := h.bound[seat][chord]
	h.mu.Unlock()
	if !bound {
		return false
	}
	h.emit(host.KeyEvent{Seat: seat, Chord: chord})
	return true
}

// ---- inspectors ----

// Bound returns the chords the host intercepts for seat, sorted by String.
func (h *Host) Bound(seat host.SeatName) []keys.Chord {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]keys.Chord, 0, len(h.bound[seat]))
	for chord := range h.bound[seat] {
		out = append(out, chord)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// IsBound reports whether the host intercepts chord on seat.
func (h *Host) IsBound(seat host.SeatName, chord keys.Chord) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.bound[seat][chord]
	return ok
}

// Grabbed reports whether device id is exclusively captured.
func (h *Host) Grabbed(id host.DeviceID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.grabbed[id]
}

// Device returns the current snapshot of device id.
func (h *Host) Device(id host.DeviceID) (host.InputDevice, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	d, ok := h.devices[id]
	return d, ok
}

// Settings returns the last settings applied to device id.
func (h *Host) Settings(id host.DeviceID) (host.DeviceSettings, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.settings[id]
	return s, ok
}

// Connector returns the current state of connector name.
func (h *Host) Connector(name string) (host.Connector, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.connectors[name]
	if !ok {
		return host.Connector{}, false
	}
	return *c, true
}

// ShownWorkspace returns the workspace last shown on seat.
func (h *Host) ShownWorkspace(seat host.SeatName) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.shown[seat]
}

// AssignedWorkspace returns the workspace the focused window of seat was
// last moved to.
func (h *Host) AssignedWorkspace(seat host.SeatName) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.assigned[seat]
}

// HardwareCursor returns the last hardware cursor preference for seat.
func (h *Host) HardwareCursor(seat host.SeatName) (enabled, set bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	enabled, set = h.hwCursor[seat]
	return enabled, set
}

// Statuses returns every status line published so far.
func (h *Host) Statuses() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.statuses...)
}

// VT returns the last virtual terminal switched to (0 if none).
func (h *Host) VT() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.vt
}

// Quits and Reloads count the session commands received.
func (h *Host) Quits() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.quits
}

func (h *Host) Reloads() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.reloads
}
