// Package host describes the compositor runtime that policyd drives. The
// daemon never implements window-tree, device or output operations itself;
// it issues them through Host and reacts to the Events the host delivers.
package host

import (
	"context"
	"fmt"

	"policyd/internal/keys"
)

// SeatName identifies a keyboard/pointer focus context owned by the host.
type SeatName string

// DeviceID identifies an input device for the lifetime of its connection.
type DeviceID uint64

// Capability is a bitset of input device capabilities.
type Capability uint32

const (
	CapKeyboard Capability = 1 << iota
	CapPointer
	CapTouch
	CapTabletTool
	CapTabletPad
	CapGesture
	CapSwitch
)

// InputDevice is a snapshot of one input device.
type InputDevice struct {
	ID           DeviceID   `json:"id"`
	Name         string     `json:"name"`
	Capabilities Capability `json:"capabilities"`
	Seat         SeatName   `json:"seat,omitempty"`
}

// Has reports whether the device has every capability in c.
func (d InputDevice) Has(c Capability) bool {
	return d.Capabilities&c == c
}

// TransformMatrix is a 2x2 pointer acceleration/transform matrix.
type TransformMatrix [2][2]float64

// DeviceSettings carries the per-device preferences policyd applies on
// arrival. Nil fields are left untouched by the host.
type DeviceSettings struct {
	LeftHanded *bool            `json:"left_handed,omitempty"`
	Transform  *TransformMatrix `json:"transform,omitempty"`
	TapEnabled *bool            `json:"tap_enabled,omitempty"`
	Seat       SeatName         `json:"seat,omitempty"`
}

// Connector is a physical output port.
type Connector struct {
	Name      string `json:"name"`
	Connected bool   `json:"connected"`
	Enabled   bool   `json:"enabled"`
	X         int    `json:"x"`
	Y         int    `json:"y"`
}

// GraphicsDevice is a DRM device together with the connectors it drives.
type GraphicsDevice struct {
	ID         uint64   `json:"id"`
	Syspath    string   `json:"syspath,omitempty"`
	Vendor     string   `json:"vendor,omitempty"`
	Model      string   `json:"model,omitempty"`
	Connectors []string `json:"connectors,omitempty"`
}

// Direction is a focus/move direction in the window tree.
type Direction uint8

const (
	Left Direction = iota
	Down
	Up
	Right
)

func (d Direction) String() string {
	switch d {
	case Left:
		return "left"
	case Down:
		return "down"
	case Up:
		return "up"
	case Right:
		return "right"
	default:
		return fmt.Sprintf("direction(%d)", uint8(d))
	}
}

// Axis is a split orientation.
type Axis uint8

const (
	Horizontal Axis = iota
	Vertical
)

func (a Axis) String() string {
	if a == Vertical {
		return "vertical"
	}
	return "horizontal"
}

// ContainerToggle names a boolean property of the focused container.
type ContainerToggle string

const (
	ToggleSplit      ContainerToggle = "split"
	ToggleMono       ContainerToggle = "mono"
	ToggleFullscreen ContainerToggle = "fullscreen"
	ToggleFloating   ContainerToggle = "floating"
)

// Input covers chord registration and input device control.
type Input interface {
	BindChord(ctx context.Context, seat SeatName, chord keys.Chord) error
	UnbindChord(ctx context.Context, seat SeatName, chord keys.Chord) error
	InputDevices(ctx context.Context) ([]InputDevice, error)
	SeatDevices(ctx context.Context, seat SeatName) ([]InputDevice, error)
	ConfigureDevice(ctx context.Context, id DeviceID, settings DeviceSettings) error
	GrabDevice(ctx context.Context, id DeviceID, grab bool) error
}

// Outputs covers connector state and graphics device enumeration.
type Outputs interface {
	Connectors(ctx context.Context) ([]Connector, error)
	SetConnectorEnabled(ctx context.Context, name string, enabled bool) error
	SetConnectorPosition(ctx context.Context, name string, x, y int) error
	GraphicsDevices(ctx context.Context) ([]GraphicsDevice, error)
}

// Windows covers operations on the focused container of a seat.
type Windows interface {
	Focus(ctx context.Context, seat SeatName, dir Direction) error
	Move(ctx context.Context, seat SeatName, dir Direction) error
	CreateSplit(ctx context.Context, seat SeatName, axis Axis) error
	Toggle(ctx context.Context, seat SeatName, toggle ContainerToggle) error
	FocusParent(ctx context.Context, seat SeatName) error
	Close(ctx context.Context, seat SeatName) error
	ShowWorkspace(ctx context.Context, seat SeatName, workspace string) error
	SetWorkspace(ctx context.Context, seat SeatName, workspace string) error
	UseHardwareCursor(ctx context.Context, seat SeatName, enabled bool) error
}

// Session covers process-wide host commands.
type Session interface {
	SwitchVT(ctx context.Context, vt int) error
	SetStatus(ctx context.Context, text string) error
	Quit(ctx context.Context) error
	Reload(ctx context.Context) error
}

// Host is the full command surface of the compositor runtime.
type Host interface {
	Input
	Outputs
	Windows
	Session

	// Subscribe asks the host to deliver the given event kinds to sink.
	// Events for one Host are delivered from a single goroutine in the order
	// the host observed them.
	Subscribe(ctx context.Context, sink func(Event), kinds ...EventKind) error
}
