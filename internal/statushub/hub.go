package statushub

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"policyd/internal/logging"
)

// writeDeadline bounds a single websocket write. A bar that stalls longer
// is dropped.
const writeDeadline = 5 * time.Second

// readDeadline is extended on every pong; three missed pings drop the client.
const readDeadline = 90 * time.Second

const pingInterval = 30 * time.Second

// sendQueueSize is how many frames a client may fall behind before the hub
// drops it. Publish never waits on a client.
const sendQueueSize = 16

// stopFlushTimeout bounds flushing queued frames to a client on Stop.
const stopFlushTimeout = time.Second

// maxReadMessageSize limits what a client may send. Clients only send
// control frames, so this is small.
const maxReadMessageSize = 4 * 1024

var wsUpgrader = websocket.Upgrader{
	// The hub binds to loopback by default; bars are local processes.
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  1024,
	WriteBufferSize: 4 * 1024,
}

// Options configures the hub.
type Options struct {
	// Addr is the listen address. Use "127.0.0.1:0" for an OS-assigned port.
	Addr string
	// ForwardWarnings makes Warn broadcast warning frames. When false, Warn
	// is a no-op.
	ForwardWarnings bool
}

// client is one connected bar. Only its writer goroutine writes to conn;
// gorilla/websocket does not allow concurrent writers.
type client struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}

	stopOnce sync.Once

	// goingAway is set before done closes when the hub itself stops, so the
	// writer flushes the queue and sends a close frame.
	goingAway bool
}

func newClient(conn *websocket.Conn) *client {
	return &client{
		conn: conn,
		send: make(chan []byte, sendQueueSize),
		done: make(chan struct{}),
	}
}

func (c *client) stop(goingAway bool) {
	c.stopOnce.Do(func() {
		c.goingAway = goingAway
		close(c.done)
	})
}

// Hub fans out status lines to every connected client.
//
// Frames are queued per client under h.mu, so every client sees frames in
// seq order. A client whose queue is full, or whose write or ping fails, is
// dropped alone.
type Hub struct {
	opts Options

	mu      sync.RWMutex
	clients map[*client]struct{}
	last    *Frame
	seq     uint64
	stopped bool

	listener net.Listener
	server   *http.Server
	url      string
	writers  sync.WaitGroup

	closeOnce sync.Once
}

// NewHub creates a hub. It is not listening until Start.
func NewHub(opts Options) *Hub {
	if opts.Addr == "" {
		opts.Addr = "127.0.0.1:0"
	}
	return &Hub{
		opts:    opts,
		clients: make(map[*client]struct{}),
	}
}

// Start listens on the configured address and serves websocket upgrades at
// /ws. The server runs until Stop.
func (h *Hub) Start(ctx context.Context) error {
	if h.server != nil {
		return fmt.Errorf("statushub: already started")
	}

	ln, err := net.Listen("tcp", h.opts.Addr)
	if err != nil {
		return fmt.Errorf("statushub: listen: %w", err)
	}
	h.listener = ln
	h.url = "ws://" + ln.Addr().String() + "/ws"

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.handleWS)

	h.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	go func() {
		if serveErr := h.server.Serve(ln); serveErr != nil && serveErr != http.ErrServerClosed {
			slog.Error("[DEBUG-HUB] server error", "error", serveErr)
		}
	}()

	slog.Info("[DEBUG-HUB] status hub started", "url", h.url)
	return nil
}

// Stop flushes and closes every client, then shuts the server down.
// Idempotent.
func (h *Hub) Stop() error {
	var stopErr error
	h.closeOnce.Do(func() {
		h.mu.Lock()
		clients := h.clients
		h.clients = make(map[*client]struct{})
		h.stopped = true
		h.mu.Unlock()

		for c := range clients {
			c.stop(true)
		}
		h.writers.Wait()

		if h.server != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := h.server.Shutdown(shutdownCtx); err != nil {
				stopErr = fmt.Errorf("statushub: shutdown: %w", err)
			}
		}
		slog.Info("[DEBUG-HUB] status hub stopped")
	})
	return stopErr
}

// URL returns the websocket URL, or "" before Start.
func (h *Hub) URL() string {
	return h.url
}

// ClientCount reports the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Last returns the most recent status line, if any.
func (h *Hub) Last() (string, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.last == nil {
		return "", false
	}
	return h.last.Text, true
}

// Publish queues a status line for every client and remembers it for late
// joiners. It does not wait for any client to write.
func (h *Hub) Publish(line string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seq++
	f := Frame{Type: TypeStatus, Text: line, Seq: h.seq}
	h.last = &f
	h.broadcastLocked(f)
}

// Warn queues a warning frame when ForwardWarnings is set. Warnings are not
// replayed to late joiners.
func (h *Hub) Warn(w logging.Warning) {
	if !h.opts.ForwardWarnings {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seq++
	h.broadcastLocked(Frame{
		Type:  TypeWarning,
		Text:  w.Message,
		Seq:   h.seq,
		Level: w.Level.String(),
		Tag:   w.Tag,
		Attrs: w.Attrs,
	})
}

// broadcastLocked encodes f once and queues it for every client. Caller
// must hold h.mu and must not log at Warn or above.
func (h *Hub) broadcastLocked(f Frame) {
	if len(h.clients) == 0 {
		return
	}
	payload, err := EncodeFrame(f)
	if err != nil {
		// Not Warn: warnings are routed back into Warn, which needs h.mu.
		slog.Debug("[DEBUG-HUB] failed to encode frame", "error", err)
		return
	}
	for c := range h.clients {
		h.enqueueLocked(c, payload)
	}
}

// enqueueLocked hands payload to the client's writer, dropping the client
// when it is sendQueueSize frames behind. Caller must hold h.mu.
func (h *Hub) enqueueLocked(c *client, payload []byte) {
	select {
	case c.send <- payload:
	default:
		slog.Debug("[DEBUG-HUB] client send queue full, dropping client", "remoteAddr", c.conn.RemoteAddr())
		delete(h.clients, c)
		c.stop(false)
		// Unblocks a writer stuck on a stalled socket.
		closeConn(c.conn, "send queue full")
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.stop(false)
}

func closeConn(conn *websocket.Conn, reason string) {
	if err := conn.Close(); err != nil {
		slog.Debug("[DEBUG-HUB] connection close", "reason", reason, "error", err)
	}
}

func (h *Hub) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("[DEBUG-HUB] upgrade failed", "error", err)
		return
	}
	conn.SetReadLimit(maxReadMessageSize)
	if err := conn.SetReadDeadline(time.Now().Add(readDeadline)); err != nil {
		closeConn(conn, "initial SetReadDeadline failure")
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readDeadline))
	})

	c := newClient(conn)

	// Registering and queueing the replay in one critical section keeps a
	// concurrent Publish from slipping a newer frame in ahead of it.
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		closeConn(conn, "hub stopped")
		return
	}
	h.clients[c] = struct{}{}
	if h.last != nil {
		if payload, encErr := EncodeFrame(*h.last); encErr == nil {
			c.send <- payload
		}
	}
	h.writers.Add(1)
	h.mu.Unlock()

	slog.Info("[DEBUG-HUB] client connected", "remoteAddr", conn.RemoteAddr())
	go h.writeLoop(c)

	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("[DEBUG-PANIC] statushub handleWS recovered",
				"panic", rec,
				"stack", string(debug.Stack()),
			)
		}
		h.remove(c)
		slog.Info("[DEBUG-HUB] client disconnected")
	}()

	// Clients send nothing meaningful; reading keeps pong and close
	// handling alive.
	for {
		if _, _, readErr := conn.ReadMessage(); readErr != nil {
			if websocket.IsUnexpectedCloseError(readErr, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("[DEBUG-HUB] read error", "error", readErr)
			}
			return
		}
	}
}

// writeLoop is the only writer on c.conn. It sends queued frames and
// pings until the client is stopped, then closes the connection.
func (h *Hub) writeLoop(c *client) {
	defer h.writers.Done()
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("[DEBUG-PANIC] statushub writeLoop recovered",
				"panic", rec,
				"stack", string(debug.Stack()),
			)
			h.remove(c)
			closeConn(c.conn, "writeLoop panic recovery")
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			if c.goingAway {
				h.flushAndClose(c)
			}
			closeConn(c.conn, "client stopped")
			return
		case payload := <-c.send:
			if err := h.write(c, payload); err != nil {
				slog.Debug("[DEBUG-HUB] write failed, dropping client", "error", err)
				h.remove(c)
				closeConn(c.conn, "write error")
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeDeadline)); err != nil {
				slog.Debug("[DEBUG-HUB] ping failed, connection likely dead", "error", err)
				h.remove(c)
				closeConn(c.conn, "ping failure")
				return
			}
		}
	}
}

func (h *Hub) write(c *client, payload []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

// flushAndClose writes whatever is still queued, then a going-away close
// frame so the client can tell a daemon shutdown from a dropped connection.
func (h *Hub) flushAndClose(c *client) {
	deadline := time.Now().Add(stopFlushTimeout)
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return
	}
	for {
		select {
		case payload := <-c.send:
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		default:
			closeMsg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "hub stop")
			_ = c.conn.WriteControl(websocket.CloseMessage, closeMsg, deadline)
			return
		}
	}
}
