package main

import (
	"log/slog"
	"slices"

	"policyd/internal/host"
)

// deviceSettings builds the preferences for one device. Pointers get
// handedness and the transform matrix; every device gets tap-to-click and
// its seat.
func (a *App) deviceSettings(device host.InputDevice, seat host.SeatName) host.DeviceSettings {
	tap := a.cfg.Input.TapEnabled
	settings := host.DeviceSettings{TapEnabled: &tap, Seat: seat}
	if device.Has(host.CapPointer) {
		leftHanded := a.cfg.Input.PointerLeftHanded
		transform := host.TransformMatrix(a.cfg.Input.PointerTransform)
		settings.LeftHanded = &leftHanded
		settings.Transform = &transform
	}
	return settings
}

// seatFor keeps a device on its current seat when policyd manages that
// seat, and otherwise moves it to the first configured seat.
func (a *App) seatFor(device host.InputDevice) host.SeatName {
	seats := a.configuredSeats()
	if device.Seat != "" && slices.Contains(seats, device.Seat) {
		return device.Seat
	}
	if len(seats) == 0 {
		return device.Seat
	}
	return seats[0]
}

// configureDevice applies settings and reports the device's seat after
// assignment.
func (a *App) configureDevice(device host.InputDevice) host.InputDevice {
	seat := a.seatFor(device)
	if err := a.host.ConfigureDevice(a.ctx, device.ID, a.deviceSettings(device, seat)); err != nil {
		slog.Warn("[WARN-DEVICE] configure failed", "device", device.ID, "name", device.Name, "error", err)
		return device
	}
	slog.Debug("[DEBUG-DEVICE] device configured", "device", device.ID, "name", device.Name, "seat", seat)
	device.Seat = seat
	return device
}

// configureExistingDevices configures every device present at startup or
// after a reload.
func (a *App) configureExistingDevices() {
	devices, err := a.host.InputDevices(a.ctx)
	if err != nil {
		slog.Warn("[WARN-DEVICE] failed to list input devices", "error", err)
		return
	}
	for _, device := range devices {
		a.configureDevice(device)
	}
}

// onDeviceAdded configures a new device and lets the seat's grab toggle
// capture it when a grab is active.
func (a *App) onDeviceAdded(device host.InputDevice) {
	device = a.configureDevice(device)
	if sc, ok := a.seats[device.Seat]; ok {
		sc.grab.DeviceAdded(device)
	}
}
