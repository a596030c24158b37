package outputs

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"testing"

	"policyd/internal/host"
	"policyd/internal/host/memhost"
	"policyd/internal/testutil"
)

const (
	primary   = "eDP-1"
	secondary = "HDMI-A-1"
)

func TestArrangeTruthTable(t *testing.T) {
	tests := []struct {
		name        string
		pConnected  bool
		sConnected  bool
		wantActive  string
		wantPOn     bool
		wantSOn     bool
		wantNoCalls bool
	}{
		{name: "both connected", pConnected: true, sConnected: true, wantActive: secondary, wantSOn: true},
		{name: "only primary", pConnected: true, wantActive: primary, wantPOn: true},
		{name: "only secondary", sConnected: true, wantActive: secondary, wantSOn: true},
		{name: "neither", wantNoCalls: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := memhost.New()
			h.AddConnector(host.Connector{Name: primary, Connected: tt.pConnected, Enabled: tt.pConnected, X: 0, Y: 0})
			h.AddConnector(host.Connector{Name: secondary, Connected: tt.sConnected, Enabled: tt.sConnected, X: 1920})
			a := NewArranger(h, nil)

			result, err := a.Arrange(context.Background())
			if err != nil {
				t.Fatalf("Arrange() error = %v", err)
			}
			if result.Active != tt.wantActive {
				t.Errorf("Active = %q, want %q", result.Active, tt.wantActive)
			}
			if tt.wantNoCalls && len(h.Calls()) != 0 {
				t.Errorf("expected no host calls, got %v", h.Calls())
			}

			p, _ := h.Connector(primary)
			s, _ := h.Connector(secondary)
			if p.Enabled != tt.wantPOn {
				t.Errorf("primary enabled = %v, want %v", p.Enabled, tt.wantPOn)
			}
			if s.Enabled != tt.wantSOn {
				t.Errorf("secondary enabled = %v, want %v", s.Enabled, tt.wantSOn)
			}
			if tt.wantActive != "" {
				winner, _ := h.Connector(tt.wantActive)
				if winner.X != 0 || winner.Y != 0 {
					t.Errorf("winner at (%d,%d), want origin", winner.X, winner.Y)
				}
			}
		})
	}
}

func TestArrangeIsIdempotent(t *testing.T) {
	h := memhost.New()
	h.AddConnector(host.Connector{Name: primary, Connected: true, Enabled: true})
	h.AddConnector(host.Connector{Name: secondary, Connected: true, Enabled: true, X: 1920})
	a := NewArranger(h, nil)

	first, err := a.Arrange(context.Background())
	if err != nil {
		t.Fatalf("first Arrange() error = %v", err)
	}
	if len(first.Changes) == 0 {
		t.Fatal("first Arrange() made no changes")
	}
	h.ResetCalls()

	second, err := a.Arrange(context.Background())
	if err != nil {
		t.Fatalf("second Arrange() error = %v", err)
	}
	if len(second.Changes) != 0 || len(h.Calls()) != 0 {
		t.Fatalf("second Arrange() changes=%v calls=%v, want none", second.Changes, h.Calls())
	}
	if second.Active != secondary {
		t.Fatalf("Active = %q, want %q", second.Active, secondary)
	}
}

func TestAtMostOneEnabledAfterArrange(t *testing.T) {
	h := memhost.New()
	names := []string{"DP-2", primary, "DP-1", secondary}
	for i, name := range names {
		h.AddConnector(host.Connector{Name: name, Connected: true, Enabled: true, X: i * 1000})
	}
	a := NewArranger(h, nil)

	if _, err := a.Arrange(context.Background()); err != nil {
		t.Fatalf("Arrange() error = %v", err)
	}

	connectors, _ := h.Connectors(context.Background())
	var enabled []string
	for _, c := range connectors {
		if c.Enabled {
			enabled = append(enabled, c.Name)
		}
	}
	if !slices.Equal(enabled, []string{secondary}) {
		t.Fatalf("enabled = %v, want [%s]", enabled, secondary)
	}
}

func TestArrangeDisablesDisconnectedButEnabled(t *testing.T) {
	h := memhost.New()
	// Some hosts keep the enabled flag after a display is unplugged.
	h.AddConnector(host.Connector{Name: primary, Connected: true})
	h.AddConnector(host.Connector{Name: secondary, Enabled: true, X: 1920})
	a := NewArranger(h, nil)

	result, err := a.Arrange(context.Background())
	if err != nil {
		t.Fatalf("Arrange() error = %v", err)
	}
	if result.Active != primary {
		t.Fatalf("Active = %q, want %q", result.Active, primary)
	}

	connectors, _ := h.Connectors(context.Background())
	var enabled []string
	for _, c := range connectors {
		if c.Enabled {
			enabled = append(enabled, c.Name)
		}
	}
	if !slices.Equal(enabled, []string{primary}) {
		t.Fatalf("enabled = %v, want [%s]", enabled, primary)
	}
	if !slices.Contains(h.Calls(), "connector-enabled "+secondary+" false") {
		t.Errorf("calls = %v, want secondary disabled", h.Calls())
	}
}

func TestUnlistedConnectorsRankAfterListedByName(t *testing.T) {
	h := memhost.New()
	h.AddConnector(host.Connector{Name: "DP-2", Connected: true})
	h.AddConnector(host.Connector{Name: "DP-1", Connected: true})
	a := NewArranger(h, nil)

	result, err := a.Arrange(context.Background())
	if err != nil {
		t.Fatalf("Arrange() error = %v", err)
	}
	if result.Active != "DP-1" {
		t.Fatalf("Active = %q, want DP-1", result.Active)
	}
	c, _ := h.Connector("DP-1")
	if !c.Enabled {
		t.Fatal("winner not enabled")
	}
}

func TestHotPlugScenario(t *testing.T) {
	h := memhost.New()
	h.AddConnector(host.Connector{Name: primary, Connected: true, Enabled: true})
	a := NewArranger(h, nil)
	h.Subscribe(context.Background(), func(ev host.Event) {
		a.Trigger(context.Background(), string(ev.Kind()))
	}, host.EventConnectorAdded, host.EventConnectorConnected)

	h.AddConnector(host.Connector{Name: secondary, X: 1920})
	h.Connect(secondary)

	s, _ := h.Connector(secondary)
	p, _ := h.Connector(primary)
	if !s.Enabled || s.X != 0 || p.Enabled {
		t.Fatalf("after plug: secondary=%+v primary=%+v", s, p)
	}

	// Unplugging the external display produces no event here; the next
	// trigger restores the panel.
	h.Disconnect(secondary)
	result := a.Trigger(context.Background(), "manual")
	p, _ = h.Connector(primary)
	if result.Active != primary || !p.Enabled {
		t.Fatalf("after unplug: active=%q primary=%+v", result.Active, p)
	}
}

func TestCustomPriority(t *testing.T) {
	h := memhost.New()
	h.AddConnector(host.Connector{Name: primary, Connected: true, Enabled: true})
	h.AddConnector(host.Connector{Name: secondary, Connected: true, Enabled: true})
	a := NewArranger(h, []string{" eDP-1 ", "", "eDP-1"})

	if got := a.Priority(); !slices.Equal(got, []string{primary}) {
		t.Fatalf("Priority() = %v", got)
	}
	result, err := a.Arrange(context.Background())
	if err != nil || result.Active != primary {
		t.Fatalf("Arrange() = %+v, %v", result, err)
	}

	a.SetPriority(nil)
	if got := a.Priority(); !slices.Equal(got, DefaultPriority) {
		t.Fatalf("Priority() after reset = %v", got)
	}
}

func TestTriggerLogsQueryFailure(t *testing.T) {
	logs := testutil.CaptureLogBuffer(t, slog.LevelDebug)
	h := memhost.New()
	h.FailCalls("connectors", errors.New("host went away"))
	a := NewArranger(h, nil)

	result := a.Trigger(context.Background(), "connector-added")

	if result.Active != "" {
		t.Fatalf("Active = %q, want empty", result.Active)
	}
	if !strings.Contains(logs.String(), "arrangement failed") {
		t.Fatalf("expected failure log, got %q", logs.String())
	}
}
