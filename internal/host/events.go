package host

import "policyd/internal/keys"

// EventKind names a host notification stream.
type EventKind string

const (
	EventKey                 EventKind = "key"
	EventInputDeviceAdded    EventKind = "input_device_added"
	EventConnectorAdded      EventKind = "connector_added"
	EventConnectorConnected  EventKind = "connector_connected"
	EventGraphicsInitialized EventKind = "graphics_initialized"
)

// AllEventKinds lists every stream policyd reacts to.
var AllEventKinds = []EventKind{
	EventKey,
	EventInputDeviceAdded,
	EventConnectorAdded,
	EventConnectorConnected,
	EventGraphicsInitialized,
}

// Event is one host notification.
type Event interface {
	Kind() EventKind
}

// KeyEvent reports a pressed chord on a seat.
type KeyEvent struct {
	Seat  SeatName
	Chord keys.Chord
}

func (KeyEvent) Kind() EventKind { return EventKey }

// InputDeviceAdded reports a newly attached input device.
type InputDeviceAdded struct {
	Device InputDevice
}

func (InputDeviceAdded) Kind() EventKind { return EventInputDeviceAdded }

// ConnectorAdded reports a connector that appeared.
type ConnectorAdded struct {
	Connector string
}

func (ConnectorAdded) Kind() EventKind { return EventConnectorAdded }

// ConnectorConnected reports an existing connector transitioning to connected.
type ConnectorConnected struct {
	Connector string
}

func (ConnectorConnected) Kind() EventKind { return EventConnectorConnected }

// GraphicsInitialized fires once when the host's graphics stack is ready.
type GraphicsInitialized struct{}

func (GraphicsInitialized) Kind() EventKind { return EventGraphicsInitialized }
