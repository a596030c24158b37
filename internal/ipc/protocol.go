// Package ipc speaks the host protocol: newline-delimited JSON messages over
// a unix stream socket.
//
// Every message is one JSON object on one line. Requests carry an id and a
// method; the peer answers with a response carrying the same id and either a
// result or an error string. Events flow from the host unprompted and carry
// only an event name and params.
package ipc

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"policyd/internal/host"
	"policyd/internal/keys"
)

// Message types.
const (
	TypeRequest  = "request"
	TypeResponse = "response"
	TypeEvent    = "event"
)

// maxFrameBytes limits one message to prevent memory exhaustion.
const maxFrameBytes = 256 * 1024

// Methods exposed by the host.
const (
	MethodBindChord            = "bind_chord"
	MethodUnbindChord          = "unbind_chord"
	MethodInputDevices         = "input_devices"
	MethodSeatDevices          = "seat_devices"
	MethodConfigureDevice      = "configure_device"
	MethodGrabDevice           = "grab_device"
	MethodConnectors           = "connectors"
	MethodSetConnectorEnabled  = "set_connector_enabled"
	MethodSetConnectorPosition = "set_connector_position"
	MethodGraphicsDevices      = "graphics_devices"
	MethodFocus                = "focus"
	MethodMove                 = "move"
	MethodCreateSplit          = "create_split"
	MethodToggle               = "toggle"
	MethodFocusParent          = "focus_parent"
	MethodClose                = "close"
	MethodShowWorkspace        = "show_workspace"
	MethodSetWorkspace         = "set_workspace"
	MethodUseHardwareCursor    = "use_hardware_cursor"
	MethodSwitchVT             = "switch_vt"
	MethodSetStatus            = "set_status"
	MethodQuit                 = "quit"
	MethodReload               = "reload"
	MethodSubscribe            = "subscribe"
)

// Message is the single envelope for requests, responses and events.
type Message struct {
	Type   string          `json:"type"`
	ID     string          `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Event  host.EventKind  `json:"event,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Param payloads. Field names are the wire contract.
type (
	seatParams struct {
		Seat host.SeatName `json:"seat"`
	}
	chordParams struct {
		Seat  host.SeatName `json:"seat"`
		Chord keys.Chord    `json:"chord"`
	}
	configureParams struct {
		ID       host.DeviceID       `json:"id"`
		Settings host.DeviceSettings `json:"settings"`
	}
	grabParams struct {
		ID   host.DeviceID `json:"id"`
		Grab bool          `json:"grab"`
	}
	connectorParams struct {
		Name    string `json:"name"`
		Enabled bool   `json:"enabled,omitempty"`
		X       int    `json:"x,omitempty"`
		Y       int    `json:"y,omitempty"`
	}
	directionParams struct {
		Seat      host.SeatName `json:"seat"`
		Direction string        `json:"direction"`
	}
	axisParams struct {
		Seat host.SeatName `json:"seat"`
		Axis string        `json:"axis"`
	}
	toggleParams struct {
		Seat   host.SeatName        `json:"seat"`
		Toggle host.ContainerToggle `json:"toggle"`
	}
	workspaceParams struct {
		Seat      host.SeatName `json:"seat"`
		Workspace string        `json:"workspace"`
	}
	cursorParams struct {
		Seat    host.SeatName `json:"seat"`
		Enabled bool          `json:"enabled"`
	}
	vtParams struct {
		VT int `json:"vt"`
	}
	statusParams struct {
		Text string `json:"text"`
	}
	subscribeParams struct {
		Events []host.EventKind `json:"events"`
	}
)

// Event payloads.
type (
	keyEventParams struct {
		Seat  host.SeatName `json:"seat"`
		Chord keys.Chord    `json:"chord"`
	}
	deviceEventParams struct {
		Device host.InputDevice `json:"device"`
	}
	connectorEventParams struct {
		Connector string `json:"connector"`
	}
)

func parseDirection(raw string) (host.Direction, error) {
	for _, d := range []host.Direction{host.Left, host.Down, host.Up, host.Right} {
		if d.String() == raw {
			return d, nil
		}
	}
	return 0, fmt.Errorf("unknown direction %q", raw)
}

func parseAxis(raw string) (host.Axis, error) {
	switch raw {
	case host.Horizontal.String():
		return host.Horizontal, nil
	case host.Vertical.String():
		return host.Vertical, nil
	default:
		return 0, fmt.Errorf("unknown axis %q", raw)
	}
}

// encodeEvent converts a host event into its wire message.
func encodeEvent(ev host.Event) (Message, error) {
	var payload any
	switch e := ev.(type) {
	case host.KeyEvent:
		payload = keyEventParams{Seat: e.Seat, Chord: e.Chord}
	case host.InputDeviceAdded:
		payload = deviceEventParams{Device: e.Device}
	case host.ConnectorAdded:
		payload = connectorEventParams{Connector: e.Connector}
	case host.ConnectorConnected:
		payload = connectorEventParams{Connector: e.Connector}
	case host.GraphicsInitialized:
		payload = nil
	default:
		return Message{}, fmt.Errorf("unsupported event %T", ev)
	}
	msg := Message{Type: TypeEvent, Event: ev.Kind()}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Message{}, err
		}
		msg.Params = raw
	}
	return msg, nil
}

// decodeEvent converts a wire event into a host event.
func decodeEvent(msg Message) (host.Event, error) {
	switch msg.Event {
	case host.EventKey:
		var p keyEventParams
		if err := unmarshalParams(msg.Params, &p); err != nil {
			return nil, err
		}
		return host.KeyEvent{Seat: p.Seat, Chord: p.Chord}, nil
	case host.EventInputDeviceAdded:
		var p deviceEventParams
		if err := unmarshalParams(msg.Params, &p); err != nil {
			return nil, err
		}
		return host.InputDeviceAdded{Device: p.Device}, nil
	case host.EventConnectorAdded, host.EventConnectorConnected:
		var p connectorEventParams
		if err := unmarshalParams(msg.Params, &p); err != nil {
			return nil, err
		}
		if msg.Event == host.EventConnectorAdded {
			return host.ConnectorAdded{Connector: p.Connector}, nil
		}
		return host.ConnectorConnected{Connector: p.Connector}, nil
	case host.EventGraphicsInitialized:
		return host.GraphicsInitialized{}, nil
	default:
		return nil, fmt.Errorf("unknown event %q", msg.Event)
	}
}

func unmarshalParams(raw json.RawMessage, out any) error {
	if len(raw) == 0 {
		return errors.New("missing params")
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("invalid params: %w", err)
	}
	return nil
}

func encodeMessage(msg Message) ([]byte, error) {
	raw, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	return append(raw, '\n'), nil
}

func decodeMessage(raw []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return Message{}, err
	}
	switch msg.Type {
	case TypeRequest, TypeResponse, TypeEvent:
		return msg, nil
	default:
		return Message{}, fmt.Errorf("unknown message type %q", msg.Type)
	}
}

func newFrameReader(r io.Reader) *bufio.Reader {
	return bufio.NewReaderSize(r, maxFrameBytes+1)
}

// readFrame returns one newline-terminated frame. A final unterminated frame
// before EOF is returned as is.
func readFrame(reader *bufio.Reader) ([]byte, error) {
	raw, err := reader.ReadSlice('\n')
	if errors.Is(err, bufio.ErrBufferFull) {
		return nil, fmt.Errorf("frame exceeds %d bytes", maxFrameBytes)
	}
	if errors.Is(err, io.EOF) {
		if len(raw) == 0 {
			return nil, io.EOF
		}
		return raw, nil
	}
	if err != nil {
		return nil, err
	}
	return raw, nil
}
