package memhost

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"testing"

	"policyd/internal/host"
	"policyd/internal/keys"
	"policyd/internal/testutil"
)

func TestRecordsCommands(t *testing.T) {
	ctx := context.Background()
	h := New()
	h.AddDevice(host.InputDevice{ID: 1, Capabilities: host.CapKeyboard, Seat: "default"})
	h.AddConnector(host.Connector{Name: "eDP-1", Connected: true})
	chord := keys.MustParseChord("Super+b", 0)

	steps := []error{
		h.BindChord(ctx, "default", chord),
		h.Focus(ctx, "default", host.Up),
		h.CreateSplit(ctx, "default", host.Vertical),
		h.GrabDevice(ctx, 1, true),
		h.SetConnectorEnabled(ctx, "eDP-1", true),
		h.Close(ctx, "default"),
	}
	for i, err := range steps {
		if err != nil {
			t.Fatalf("step %d error = %v", i, err)
		}
	}

	want := []string{
		"bind default Super+b",
		"focus default up",
		"split default vertical",
		"grab-device 1 true",
		"connector-enabled eDP-1 true",
		"close default",
	}
	if got := h.Calls(); !slices.Equal(got, want) {
		t.Errorf("Calls() = %q, want %q", got, want)
	}
	if !h.IsBound("default", chord) || !h.Grabbed(1) {
		t.Error("state not updated")
	}
	if c, _ := h.Connector("eDP-1"); !c.Enabled {
		t.Error("connector not enabled")
	}
}

func TestFailCalls(t *testing.T) {
	ctx := context.Background()
	h := New()
	boom := errors.New("boom")

	h.FailCalls("show-workspace", boom)
	if err := h.ShowWorkspace(ctx, "default", "2"); !errors.Is(err, boom) {
		t.Fatalf("ShowWorkspace() error = %v", err)
	}
	if got := h.ShownWorkspace("default"); got != "" {
		t.Errorf("failed call changed state: %q", got)
	}

	h.FailCalls("connectors", boom)
	if _, err := h.Connectors(ctx); !errors.Is(err, boom) {
		t.Errorf("Connectors() error = %v", err)
	}

	h.FailCalls("show-workspace", nil)
	if err := h.ShowWorkspace(ctx, "default", "2"); err != nil {
		t.Errorf("cleared failure still returned %v", err)
	}
}

func TestEmitsOnlySubscribedKinds(t *testing.T) {
	h := New()
	var got []host.Event
	if err := h.Subscribe(context.Background(), func(ev host.Event) { got = append(got, ev) }, host.EventConnectorConnected); err != nil {
		t.Fatal(err)
	}

	h.AddConnector(host.Connector{Name: "HDMI-A-1"})
	h.Connect("HDMI-A-1")
	h.InitGraphics()

	if len(got) != 1 || got[0] != (host.ConnectorConnected{Connector: "HDMI-A-1"}) {
		t.Errorf("events = %#v", got)
	}
}

func TestSubscribeRejectsNilSink(t *testing.T) {
	if err := New().Subscribe(context.Background(), nil); err == nil {
		t.Error("nil sink accepted")
	}
}

func TestPressOnlyDeliversBoundChords(t *testing.T) {
	ctx := context.Background()
	h := New()
	var got []host.Event
	if err := h.Subscribe(ctx, func(ev host.Event) { got = append(got, ev) }, host.EventKey); err != nil {
		t.Fatal(err)
	}
	chord := keys.MustParseChord("Super+1", 0)

	if h.Press("default", chord) {
		t.Fatal("unbound chord delivered")
	}
	if err := h.BindChord(ctx, "default", chord); err != nil {
		t.Fatal(err)
	}
	if !h.Press("default", chord) || len(got) != 1 {
		t.Fatalf("bound chord not delivered: %#v", got)
	}
	if err := h.UnbindChord(ctx, "default", chord); err != nil {
		t.Fatal(err)
	}
	if h.Press("default", chord) {
		t.Error("chord delivered after unbind")
	}
}

func TestDisconnectDisables(t *testing.T) {
	h := New()
	h.AddConnector(host.Connector{Name: "HDMI-A-1", Connected: true, Enabled: true})
	h.Disconnect("HDMI-A-1")
	if c, _ := h.Connector("HDMI-A-1"); c.Connected || c.Enabled {
		t.Errorf("connector = %+v", c)
	}
}

func TestConfigureDeviceMovesSeat(t *testing.T) {
	ctx := context.Background()
	h := New()
	h.AddDevice(host.InputDevice{ID: 3, Capabilities: host.CapPointer, Seat: "seat0"})

	tap := true
	if err := h.ConfigureDevice(ctx, 3, host.DeviceSettings{TapEnabled: &tap, Seat: "default"}); err != nil {
		t.Fatal(err)
	}
	if d, _ := h.Device(3); d.Seat != "default" {
		t.Errorf("seat = %q", d.Seat)
	}
	if devices, _ := h.SeatDevices(ctx, "default"); len(devices) != 1 {
		t.Errorf("SeatDevices = %+v", devices)
	}
	if err := h.ConfigureDevice(ctx, 99, host.DeviceSettings{}); err == nil {
		t.Error("unknown device accepted")
	}
}

func TestLogCalls(t *testing.T) {
	logs := testutil.CaptureLogBuffer(t, slog.LevelInfo)
	h := New()
	h.LogCalls(true)
	if err := h.SwitchVT(context.Background(), 3); err != nil {
		t.Fatal(err)
	}
	if out := logs.String(); !strings.Contains(out, "[DRY-RUN] host call") || !strings.Contains(out, "switch-vt 3") {
		t.Errorf("log = %q", out)
	}
	if h.VT() != 3 {
		t.Errorf("VT = %d", h.VT())
	}
}
