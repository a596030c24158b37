package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"policyd/internal/host"
)

const (
	defaultMaxConnections  = 8
	serverWriteTimeout     = 5 * time.Second
	acceptFailureThreshold = 10
)

// Server exposes a host.Host backend on a unix socket using the same
// protocol the Client speaks. It lets policyd run against a simulated
// compositor and backs the protocol tests.
type Server struct {
	socket  string
	backend host.Host

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	listener  net.Listener
	started   bool
	wg        sync.WaitGroup
	connSlots chan struct{}
}

// NewServer constructs a Server. Call Start to begin listening.
func NewServer(socket string, backend host.Host) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		socket:    socket,
		backend:   backend,
		ctx:       ctx,
		cancel:    cancel,
		connSlots: make(chan struct{}, defaultMaxConnections),
	}
}

// Socket returns the listen path.
func (s *Server) Socket() string {
	return s.socket
}

// Start creates the socket (removing a stale one) and accepts connections.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return errors.New("ipc server already started")
	}
	if s.backend == nil {
		return errors.New("ipc server requires a backend")
	}
	if err := os.MkdirAll(filepath.Dir(s.socket), 0o700); err != nil {
		return fmt.Errorf("create socket dir: %w", err)
	}
	if err := os.Remove(s.socket); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove stale socket: %w", err)
	}
	listener, err := net.Listen("unix", s.socket)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.socket, err)
	}
	if err := os.Chmod(s.socket, 0o600); err != nil {
		slog.Warn("[WARN-IPC] failed to restrict socket permissions", "socket", s.socket, "error", err)
	}

	s.listener = listener
	s.started = true
	s.wg.Go(s.acceptLoop)
	return nil
}

// Stop closes the listener and every open connection, then waits for their
// handlers to return.
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	s.cancel()
	listener := s.listener
	s.listener = nil
	s.mu.Unlock()

	if listener != nil {
		if err := listener.Close(); err != nil {
			slog.Warn("[WARN-IPC] failed to close listener during shutdown", "error", err)
		}
	}
	s.wg.Wait()
	return nil
}

func (s *Server) acceptLoop() {
	consecutiveErrors := 0
	for {
		s.mu.Lock()
		listener := s.listener
		s.mu.Unlock()
		if listener == nil {
			return
		}

		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
			}
			consecutiveErrors++
			if consecutiveErrors > acceptFailureThreshold {
				slog.Warn("[WARN-IPC] accept loop: repeated failures", "error", err, "count", consecutiveErrors)
				time.Sleep(500 * time.Millisecond)
			} else {
				slog.Debug("[DEBUG-IPC] accept error", "error", err)
			}
			continue
		}
		consecutiveErrors = 0

		select {
		case s.connSlots <- struct{}{}:
		default:
			slog.Warn("[WARN-IPC] rejecting connection: too many clients")
			_ = conn.Close()
			continue
		}

		s.wg.Go(func() {
			defer func() { <-s.connSlots }()
			ServeConn(s.ctx, conn, s.backend)
		})
	}
}

// ServeConn answers requests on conn against backend until the peer hangs
// up or ctx ends. Requests are handled in arrival order.
func ServeConn(ctx context.Context, conn net.Conn, backend host.Host) {
	sc := &serverConn{conn: conn, backend: backend}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	defer conn.Close()

	reader := newFrameReader(conn)
	for {
		raw, err := readFrame(reader)
		if errors.Is(err, io.EOF) || IsConnectionError(err) {
			slog.Debug("[DEBUG-IPC] client disconnected")
			return
		}
		if err != nil {
			sc.write(Message{Type: TypeResponse, Error: fmt.Sprintf("invalid request: %v", err)})
			return
		}
		msg, err := decodeMessage(raw)
		if err != nil {
			sc.write(Message{Type: TypeResponse, Error: fmt.Sprintf("invalid request: %v", err)})
			continue
		}
		if msg.Type != TypeRequest {
			slog.Debug("[DEBUG-IPC] ignoring non-request message", "type", msg.Type)
			continue
		}

		slog.Debug("[DEBUG-IPC] received request", "method", msg.Method, "id", msg.ID)
		result, err := sc.dispatch(ctx, msg)
		resp := Message{Type: TypeResponse, ID: msg.ID}
		if err != nil {
			resp.Error = err.Error()
		} else if result != nil {
			rawResult, encErr := json.Marshal(result)
			if encErr != nil {
				resp.Error = fmt.Sprintf("encode result: %v", encErr)
			} else {
				resp.Result = rawResult
			}
		}
		sc.write(resp)
	}
}

type serverConn struct {
	conn    net.Conn
	backend host.Host
	writeMu sync.Mutex
}

func (sc *serverConn) write(msg Message) {
	raw, err := encodeMessage(msg)
	if err != nil {
		slog.Warn("[WARN-IPC] failed to encode message", "error", err)
		return
	}
	sc.writeMu.Lock()
	defer sc.writeMu.Unlock()
	if err := sc.conn.SetWriteDeadline(time.Now().Add(serverWriteTimeout)); err != nil {
		slog.Debug("[DEBUG-IPC] failed to set write deadline", "error", err)
		return
	}
	if _, err := sc.conn.Write(raw); err != nil {
		slog.Debug("[DEBUG-IPC] failed to write message", "error", err)
	}
}

func (sc *serverConn) forward(ev host.Event) {
	msg, err := encodeEvent(ev)
	if err != nil {
		slog.Warn("[WARN-IPC] cannot forward event", "error", err)
		return
	}
	sc.write(msg)
}

func (sc *serverConn) dispatch(ctx context.Context, msg Message) (any, error) {
	b := sc.backend
	switch msg.Method {
	case MethodBindChord, MethodUnbindChord:
		var p chordParams
		if err := unmarshalParams(msg.Params, &p); err != nil {
			return nil, err
		}
		if msg.Method == MethodBindChord {
			return nil, b.BindChord(ctx, p.Seat, p.Chord)
		}
		return nil, b.UnbindChord(ctx, p.Seat, p.Chord)
	case MethodInputDevices:
		return nonNil(b.InputDevices(ctx))
	case MethodSeatDevices:
		var p seatParams
		if err := unmarshalParams(msg.Params, &p); err != nil {
			return nil, err
		}
		return nonNil(b.SeatDevices(ctx, p.Seat))
	case MethodConfigureDevice:
		var p configureParams
		if err := unmarshalParams(msg.Params, &p); err != nil {
			return nil, err
		}
		return nil, b.ConfigureDevice(ctx, p.ID, p.Settings)
	case MethodGrabDevice:
		var p grabParams
		if err := unmarshalParams(msg.Params, &p); err != nil {
			return nil, err
		}
		return nil, b.GrabDevice(ctx, p.ID, p.Grab)
	case MethodConnectors:
		return nonNil(b.Connectors(ctx))
	case MethodSetConnectorEnabled:
		var p connectorParams
		if err := unmarshalParams(msg.Params, &p); err != nil {
			return nil, err
		}
		return nil, b.SetConnectorEnabled(ctx, p.Name, p.Enabled)
	case MethodSetConnectorPosition:
		var p connectorParams
		if err := unmarshalParams(msg.Params, &p); err != nil {
			return nil, err
		}
		return nil, b.SetConnectorPosition(ctx, p.Name, p.X, p.Y)
	case MethodGraphicsDevices:
		return nonNil(b.GraphicsDevices(ctx))
	case MethodFocus, MethodMove:
		var p directionParams
		if err := unmarshalParams(msg.Params, &p); err != nil {
			return nil, err
		}
		dir, err := parseDirection(p.Direction)
		if err != nil {
			return nil, err
		}
		if msg.Method == MethodFocus {
			return nil, b.Focus(ctx, p.Seat, dir)
		}
		return nil, b.Move(ctx, p.Seat, dir)
	case MethodCreateSplit:
		var p axisParams
		if err := unmarshalParams(msg.Params, &p); err != nil {
			return nil, err
		}
		axis, err := parseAxis(p.Axis)
		if err != nil {
			return nil, err
		}
		return nil, b.CreateSplit(ctx, p.Seat, axis)
	case MethodToggle:
		var p toggleParams
		if err := unmarshalParams(msg.Params, &p); err != nil {
			return nil, err
		}
		return nil, b.Toggle(ctx, p.Seat, p.Toggle)
	case MethodFocusParent, MethodClose:
		var p seatParams
		if err := unmarshalParams(msg.Params, &p); err != nil {
			return nil, err
		}
		if msg.Method == MethodFocusParent {
			return nil, b.FocusParent(ctx, p.Seat)
		}
		return nil, b.Close(ctx, p.Seat)
	case MethodShowWorkspace, MethodSetWorkspace:
		var p workspaceParams
		if err := unmarshalParams(msg.Params, &p); err != nil {
			return nil, err
		}
		if msg.Method == MethodShowWorkspace {
			return nil, b.ShowWorkspace(ctx, p.Seat, p.Workspace)
		}
		return nil, b.SetWorkspace(ctx, p.Seat, p.Workspace)
	case MethodUseHardwareCursor:
		var p cursorParams
		if err := unmarshalParams(msg.Params, &p); err != nil {
			return nil, err
		}
		return nil, b.UseHardwareCursor(ctx, p.Seat, p.Enabled)
	case MethodSwitchVT:
		var p vtParams
		if err := unmarshalParams(msg.Params, &p); err != nil {
			return nil, err
		}
		return nil, b.SwitchVT(ctx, p.VT)
	case MethodSetStatus:
		var p statusParams
		if err := unmarshalParams(msg.Params, &p); err != nil {
			return nil, err
		}
		return nil, b.SetStatus(ctx, p.Text)
	case MethodQuit:
		return nil, b.Quit(ctx)
	case MethodReload:
		return nil, b.Reload(ctx)
	case MethodSubscribe:
		var p subscribeParams
		if err := unmarshalParams(msg.Params, &p); err != nil {
			return nil, err
		}
		return nil, b.Subscribe(ctx, sc.forward, p.Events...)
	default:
		return nil, fmt.Errorf("unknown method %q", msg.Method)
	}
}

// nonNil turns a (slice, error) pair into a dispatch result, keeping empty
// lists as JSON arrays rather than null.
func nonNil[T any](items []T, err error) (any, error) {
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []T{}
	}
	return items, nil
}
