package websocket

import (
	"context"
	"log"
	"net/http"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"github.com/wricardo/lens-relay/relay/metrics"
	"github.com/wricardo/lens-relay/relay/session"
	"github.com/wricardo/lens-relay/relay/telemetry"
)

// Options tunes the hub. Zero values fall back to defaults.
type Options struct {
	// MaxMessageSize caps inbound frames in bytes.
	MaxMessageSize int64
	// SendBuffer is the per-connection outbound queue length.
	SendBuffer int
	// CheckOrigin decides whether an upgrade from the given Origin header is
	// allowed. Nil allows all.
	CheckOrigin func(origin string) bool
	// Debug logs every dropped message.
	Debug bool
}

func (o Options) withDefaults() Options {
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = 4096
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 64
	}
	return o
}

// Hub owns the set of open connections and the dependencies their handlers use.
type Hub struct {
	sessions *session.Manager
	router   *telemetry.Router
	metrics  *metrics.Metrics
	opts     Options
	upgrader websocket.Upgrader

	// Open connections, owned by Run.
	conns map[*Conn]bool
	count atomic.Int64

	register   chan *Conn
	unregister chan *Conn
	done       chan struct{}
}

// NewHub creates a hub over the session registry. router and m may be nil;
// a nil router is built over sessions.
func NewHub(sessions *session.Manager, router *telemetry.Router, m *metrics.Metrics, opts Options) *Hub {
	opts = opts.withDefaults()
	if router == nil {
		router = telemetry.NewRouter(sessions, m, nil)
	}

	h := &Hub{
		sessions:   sessions,
		router:     router,
		metrics:    m,
		opts:       opts,
		conns:      make(map[*Conn]bool),
		register:   make(chan *Conn),
		unregister: make(chan *Conn),
		done:       make(chan struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if opts.CheckOrigin == nil {
				return true
			}
			return opts.CheckOrigin(r.Header.Get("Origin"))
		},
	}
	return h
}

// Run starts the hub's event loop. When ctx ends every open connection is
// closed and Run returns.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case c := <-h.register:
			h.conns[c] = true
			h.count.Store(int64(len(h.conns)))
			h.metrics.ConnectionOpened()

		case c := <-h.unregister:
			if _, ok := h.conns[c]; ok {
				delete(h.conns, c)
				h.count.Store(int64(len(h.conns)))
				h.metrics.ConnectionClosed()
			}
			c.Close()

		case <-ctx.Done():
			for c := range h.conns {
				c.Close()
			}
			log.Printf("WebSocket hub stopped, closed %d connections", len(h.conns))
			return
		}
	}
}

// ConnectionCount returns the number of open connections.
func (h *Hub) ConnectionCount() int {
	return int(h.count.Load())
}

// ServeWS upgrades the request and starts the connection's goroutines.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	c := newConn(h, ws, h.opts.SendBuffer)
	select {
	case h.register <- c:
	case <-h.done:
		ws.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

func (h *Hub) unregisterConn(c *Conn) {
	select {
	case h.unregister <- c:
	case <-h.done:
		c.Close()
	}
}

func (h *Hub) debugf(format string, args ...any) {
	if h.opts.Debug {
		log.Printf(format, args...)
	}
}
