package main

import (
	"errors"
	"log/slog"
	"strings"
	"testing"

	"policyd/internal/host"
	"policyd/internal/testutil"
)

func TestExistingDevicesConfiguredAtStartup(t *testing.T) {
	ta := newTestApp(t, testConfig())

	pointer, ok := ta.host.Settings(2)
	if !ok {
		t.Fatal("touchpad not configured")
	}
	if pointer.LeftHanded == nil || *pointer.LeftHanded {
		t.Errorf("LeftHanded = %v, want false", pointer.LeftHanded)
	}
	if pointer.Transform == nil || *pointer.Transform != (host.TransformMatrix{{0.35, 0}, {0, 0.35}}) {
		t.Errorf("Transform = %v", pointer.Transform)
	}
	if pointer.TapEnabled == nil || !*pointer.TapEnabled {
		t.Errorf("TapEnabled = %v, want true", pointer.TapEnabled)
	}
	if pointer.Seat != "default" {
		t.Errorf("Seat = %q", pointer.Seat)
	}

	keyboard, ok := ta.host.Settings(1)
	if !ok {
		t.Fatal("keyboard not configured")
	}
	if keyboard.LeftHanded != nil || keyboard.Transform != nil {
		t.Errorf("keyboard got pointer settings: %+v", keyboard)
	}
	if keyboard.TapEnabled == nil || !*keyboard.TapEnabled {
		t.Error("keyboard tap setting missing")
	}
}

func TestDeviceOnUnmanagedSeatMovesToFirstSeat(t *testing.T) {
	cfg := testConfig()
	cfg.Seats = []string{"main", "guest"}
	ta := newTestApp(t, cfg)

	ta.host.AddDevice(host.InputDevice{ID: 7, Name: "usb keyboard", Capabilities: host.CapKeyboard, Seat: "seat9"})
	ta.host.AddDevice(host.InputDevice{ID: 8, Name: "guest mouse", Capabilities: host.CapPointer, Seat: "guest"})
	ta.loop.Drain()

	if device, _ := ta.host.Device(7); device.Seat != "main" {
		t.Errorf("device 7 seat = %q, want main", device.Seat)
	}
	if device, _ := ta.host.Device(8); device.Seat != "guest" {
		t.Errorf("device 8 seat = %q, want guest", device.Seat)
	}
}

func TestHotPluggedKeyboardJoinsActiveGrab(t *testing.T) {
	ta := newTestApp(t, testConfig())
	ta.press(t, "Sys_Req")

	ta.host.AddDevice(host.InputDevice{ID: 5, Name: "usb keyboard", Capabilities: host.CapKeyboard, Seat: "default"})
	ta.host.AddDevice(host.InputDevice{ID: 6, Name: "usb mouse", Capabilities: host.CapPointer, Seat: "default"})
	ta.loop.Drain()

	if !ta.host.Grabbed(5) {
		t.Error("hot-plugged keyboard not grabbed")
	}
	if ta.host.Grabbed(6) {
		t.Error("hot-plugged mouse grabbed")
	}
	if _, ok := ta.host.Settings(5); !ok {
		t.Error("hot-plugged keyboard not configured")
	}

	ta.press(t, "Super+b")
	if ta.host.Grabbed(1) || ta.host.Grabbed(5) {
		t.Error("grab not released on every keyboard")
	}
}

func TestHotPluggedKeyboardNotGrabbedWhenNormal(t *testing.T) {
	ta := newTestApp(t, testConfig())

	ta.host.AddDevice(host.InputDevice{ID: 5, Name: "usb keyboard", Capabilities: host.CapKeyboard, Seat: "default"})
	ta.loop.Drain()

	if ta.host.Grabbed(5) {
		t.Error("keyboard grabbed without an active grab")
	}
}

func TestConfigureFailureIsLogged(t *testing.T) {
	ta := newTestApp(t, testConfig())
	logs := testutil.CaptureLogBuffer(t, slog.LevelWarn)
	ta.host.FailCalls("configure-device", errors.New("device busy"))

	ta.host.AddDevice(host.InputDevice{ID: 9, Name: "tablet", Capabilities: host.CapTabletTool, Seat: "default"})
	ta.loop.Drain()

	if out := logs.String(); !strings.Contains(out, "[WARN-DEVICE] configure failed") {
		t.Errorf("log = %q", out)
	}
}
