package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"policyd/internal/host"
	"policyd/internal/keys"
)

// DefaultRequestTimeout bounds one request when the caller sets none.
const DefaultRequestTimeout = 2 * time.Second

// ErrClosed is returned by calls on a closed client or a lost connection.
var ErrClosed = errors.New("ipc: client closed")

// RemoteError is an error string reported by the host for one request.
type RemoteError struct {
	Method  string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("host %s: %s", e.Method, e.Message)
}

var dialFn = func(ctx context.Context, socket string) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, "unix", socket)
}

// Client implements host.Host over one host connection. Requests may be
// issued from any goroutine; responses are matched by id so they may arrive
// in any order. Events are delivered to the subscribed sink from the single
// reader goroutine, in arrival order.
type Client struct {
	conn    net.Conn
	timeout time.Duration

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan Message
	sink    func(host.Event)
	kinds   map[host.EventKind]bool
	err     error

	done      chan struct{}
	closeOnce sync.Once
}

var _ host.Host = (*Client)(nil)

// Dial connects to the host socket and starts the reader.
func Dial(ctx context.Context, socket string, timeout time.Duration) (*Client, error) {
	if strings.TrimSpace(socket) == "" {
		return nil, errors.New("ipc: host socket path is empty")
	}
	conn, err := dialFn(ctx, socket)
	if err != nil {
		return nil, fmt.Errorf("dial host %s: %w", socket, err)
	}
	return NewClient(conn, timeout), nil
}

// NewClient wraps an established connection. A non-positive timeout selects
// DefaultRequestTimeout.
func NewClient(conn net.Conn, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	c := &Client{
		conn:    conn,
		timeout: timeout,
		pending: make(map[string]chan Message),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// Done is closed once the connection is gone.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err reports why the connection ended. It is nil while the client is open
// and ErrClosed after a local Disconnect.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Disconnect tears down the connection. Pending calls fail with ErrClosed.
// Close is taken by host.Windows.
func (c *Client) Disconnect() error {
	var closeErr error
	c.closeOnce.Do(func() {
		c.fail(ErrClosed)
		closeErr = c.conn.Close()
	})
	return closeErr
}

// fail records the terminal error once and releases every waiter.
func (c *Client) fail(err error) {
	c.mu.Lock()
	if c.err != nil {
		c.mu.Unlock()
		return
	}
	c.err = err
	c.pending = make(map[string]chan Message)
	c.mu.Unlock()
	close(c.done)
}

func (c *Client) readLoop() {
	reader := newFrameReader(c.conn)
	for {
		raw, err := readFrame(reader)
		if err != nil {
			if errors.Is(err, io.EOF) || IsConnectionError(err) {
				slog.Info("[DEBUG-IPC] host connection closed", "error", err)
			} else {
				slog.Warn("[WARN-IPC] host connection failed", "error", err)
			}
			c.fail(fmt.Errorf("%w: %v", ErrClosed, err))
			_ = c.conn.Close()
			return
		}
		msg, err := decodeMessage(raw)
		if err != nil {
			slog.Warn("[WARN-IPC] dropping malformed host message", "error", err)
			continue
		}
		switch msg.Type {
		case TypeResponse:
			c.deliverResponse(msg)
		case TypeEvent:
			c.deliverEvent(msg)
		case TypeRequest:
			slog.Debug("[DEBUG-IPC] host sent a request; policyd serves none", "method", msg.Method)
			c.reply(Message{Type: TypeResponse, ID: msg.ID, Error: "unsupported method"})
		}
	}
}

func (c *Client) deliverResponse(msg Message) {
	c.mu.Lock()
	ch, ok := c.pending[msg.ID]
	if ok {
		delete(c.pending, msg.ID)
	}
	c.mu.Unlock()
	if !ok {
		slog.Debug("[DEBUG-IPC] response for unknown request", "id", msg.ID)
		return
	}
	ch <- msg
}

func (c *Client) deliverEvent(msg Message) {
	ev, err := decodeEvent(msg)
	if err != nil {
		slog.Warn("[WARN-IPC] dropping undecodable host event", "event", msg.Event, "error", err)
		return
	}
	c.mu.Lock()
	sink := c.sink
	wanted := c.kinds[ev.Kind()]
	c.mu.Unlock()
	if sink == nil || !wanted {
		return
	}
	sink(ev)
}

func (c *Client) reply(msg Message) {
	if err := c.write(msg); err != nil {
		slog.Debug("[DEBUG-IPC] failed to write reply", "error", err)
	}
}

func (c *Client) write(msg Message) error {
	raw, err := encodeMessage(msg)
	if err != nil {
		return err
	}
	if len(raw) > maxFrameBytes {
		return fmt.Errorf("frame exceeds %d bytes", maxFrameBytes)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
		return err
	}
	_, err = c.conn.Write(raw)
	return err
}

// call sends one request and waits for its response, decoding the result
// into out when out is non-nil.
func (c *Client) call(ctx context.Context, method string, params any, out any) error {
	msg := Message{Type: TypeRequest, ID: uuid.NewString(), Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("encode %s params: %w", method, err)
		}
		msg.Params = raw
	}

	ch := make(chan Message, 1)
	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return err
	}
	c.pending[msg.ID] = ch
	c.mu.Unlock()

	forget := func() {
		c.mu.Lock()
		delete(c.pending, msg.ID)
		c.mu.Unlock()
	}

	if err := c.write(msg); err != nil {
		forget()
		return fmt.Errorf("send %s: %w", method, err)
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case resp := <-ch:
		if resp.Error != "" {
			return &RemoteError{Method: method, Message: resp.Error}
		}
		if out == nil {
			return nil
		}
		if len(resp.Result) == 0 {
			return fmt.Errorf("host %s: empty result", method)
		}
		if err := json.Unmarshal(resp.Result, out); err != nil {
			return fmt.Errorf("decode %s result: %w", method, err)
		}
		return nil
	case <-timer.C:
		forget()
		return fmt.Errorf("host %s: timed out after %s", method, c.timeout)
	case <-ctx.Done():
		forget()
		return ctx.Err()
	case <-c.done:
		return c.Err()
	}
}

// IsConnectionError reports whether err indicates the peer went away.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ENOENT) || errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

// ---- host.Input ----

func (c *Client) BindChord(ctx context.Context, seat host.SeatName, chord keys.Chord) error {
	return c.call(ctx, MethodBindChord, chordParams{Seat: seat, Chord: chord}, nil)
}

func (c *Client) UnbindChord(ctx context.Context, seat host.SeatName, chord keys.Chord) error {
	return c.call(ctx, MethodUnbindChord, chordParams{Seat: seat, Chord: chord}, nil)
}

func (c *Client) InputDevices(ctx context.Context) ([]host.InputDevice, error) {
	var devices []host.InputDevice
	if err := c.call(ctx, MethodInputDevices, nil, &devices); err != nil {
		return nil, err
	}
	return devices, nil
}

func (c *Client) SeatDevices(ctx context.Context, seat host.SeatName) ([]host.InputDevice, error) {
	var devices []host.InputDevice
	if err := c.call(ctx, MethodSeatDevices, seatParams{Seat: seat}, &devices); err != nil {
		return nil, err
	}
	return devices, nil
}

func (c *Client) ConfigureDevice(ctx context.Context, id host.DeviceID, settings host.DeviceSettings) error {
	return c.call(ctx, MethodConfigureDevice, configureParams{ID: id, Settings: settings}, nil)
}

func (c *Client) GrabDevice(ctx context.Context, id host.DeviceID, grab bool) error {
	return c.call(ctx, MethodGrabDevice, grabParams{ID: id, Grab: grab}, nil)
}

// ---- host.Outputs ----

func (c *Client) Connectors(ctx context.Context) ([]host.Connector, error) {
	var connectors []host.Connector
	if err := c.call(ctx, MethodConnectors, nil, &connectors); err != nil {
		return nil, err
	}
	return connectors, nil
}

func (c *Client) SetConnectorEnabled(ctx context.Context, name string, enabled bool) error {
	return c.call(ctx, MethodSetConnectorEnabled, connectorParams{Name: name, Enabled: enabled}, nil)
}

func (c *Client) SetConnectorPosition(ctx context.Context, name string, x, y int) error {
	return c.call(ctx, MethodSetConnectorPosition, connectorParams{Name: name, X: x, Y: y}, nil)
}

func (c *Client) GraphicsDevices(ctx context.Context) ([]host.GraphicsDevice, error) {
	var devices []host.GraphicsDevice
	if err := c.call(ctx, MethodGraphicsDevices, nil, &devices); err != nil {
		return nil, err
	}
	return devices, nil
}

// ---- host.Windows ----

func (c *Client) Focus(ctx context.Context, seat host.SeatName, dir host.Direction) error {
	return c.call(ctx, MethodFocus, directionParams{Seat: seat, Direction: dir.String()}, nil)
}

func (c *Client) Move(ctx context.Context, seat host.SeatName, dir host.Direction) error {
	return c.call(ctx, MethodMove, directionParams{Seat: seat, Direction: dir.String()}, nil)
}

func (c *Client) CreateSplit(ctx context.Context, seat host.SeatName, axis host.Axis) error {
	return c.call(ctx, MethodCreateSplit, axisParams{Seat: seat, Axis: axis.String()}, nil)
}

func (c *Client) Toggle(ctx context.Context, seat host.SeatName, toggle host.ContainerToggle) error {
	return c.call(ctx, MethodToggle, toggleParams{Seat: seat, Toggle: toggle}, nil)
}

func (c *Client) FocusParent(ctx context.Context, seat host.SeatName) error {
	return c.call(ctx, MethodFocusParent, seatParams{Seat: seat}, nil)
}

func (c *Client) Close(ctx context.Context, seat host.SeatName) error {
	return c.call(ctx, MethodClose, seatParams{Seat: seat}, nil)
}

func (c *Client) ShowWorkspace(ctx context.Context, seat host.SeatName, workspace string) error {
	return c.call(ctx, MethodShowWorkspace, workspaceParams{Seat: seat, Workspace: workspace}, nil)
}

func (c *Client) SetWorkspace(ctx context.Context, seat host.SeatName, workspace string) error {
	return c.call(ctx, MethodSetWorkspace, workspaceParams{Seat: seat, Workspace: workspace}, nil)
}

func (c *Client) UseHardwareCursor(ctx context.Context, seat host.SeatName, enabled bool) error {
	return c.call(ctx, MethodUseHardwareCursor, cursorParams{Seat: seat, Enabled: enabled}, nil)
}

// ---- host.Session ----

func (c *Client) SwitchVT(ctx context.Context, vt int) error {
	return c.call(ctx, MethodSwitchVT, vtParams{VT: vt}, nil)
}

func (c *Client) SetStatus(ctx context.Context, text string) error {
	return c.call(ctx, MethodSetStatus, statusParams{Text: text}, nil)
}

func (c *Client) Quit(ctx context.Context) error {
	return c.call(ctx, MethodQuit, nil, nil)
}

func (c *Client) Reload(ctx context.Context) error {
	return c.call(ctx, MethodReload, nil, nil)
}

// Subscribe registers sink locally before asking the host to start the
// streams, so no event that follows the host's acknowledgement is lost.
func (c *Client) Subscribe(ctx context.Context, sink func(host.Event), kinds ...host.EventKind) error {
	if sink == nil {
		return errors.New("ipc: nil event sink")
	}
	wanted := make(map[host.EventKind]bool, len(kinds))
	for _, kind := range kinds {
		wanted[kind] = true
	}
	c.mu.Lock()
	c.sink = sink
	c.kinds = wanted
	c.mu.Unlock()
	return c.call(ctx, MethodSubscribe, subscribeParams{Events: kinds}, nil)
}
