package websocket

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

// RoleKind tags what a connection has been classified as.
type RoleKind int

const (
	Unclassified RoleKind = iota
	HostRole
	WebRole
)

func (k RoleKind) String() string {
	switch k {
	case HostRole:
		return "host"
	case WebRole:
		return "web"
	default:
		return "unclassified"
	}
}

// Role is set once, when the first handshake succeeds. Host roles carry the
// session key and host connection id; web roles carry the claimed full code.
type Role struct {
	Kind       RoleKind
	SessionKey string
	HostConnID string
	FullCode   string
}

// Conn is one client connection. It implements session.Peer.
type Conn struct {
	hub  *Hub
	ws   *websocket.Conn
	id   string
	send chan []byte

	mu     sync.Mutex
	closed bool

	// role is only touched by the read goroutine.
	role Role
}

func newConn(hub *Hub, ws *websocket.Conn, buffer int) *Conn {
	return &Conn{
		hub:  hub,
		ws:   ws,
		id:   uuid.NewString(),
		send: make(chan []byte, buffer),
	}
}

// ID returns the server-assigned connection id.
func (c *Conn) ID() string {
	return c.id
}

// Send queues msg as a JSON frame. It never blocks: a closed connection or a
// full queue drops the message and returns false.
func (c *Conn) Send(msg any) bool {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("Failed to marshal message for %s: %v", c.id, err)
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// Close stops accepting messages. Frames already queued are still written
// before the close frame.
func (c *Conn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// classify sets the connection's role. It only succeeds once.
func (c *Conn) classify(r Role) bool {
	if c.role.Kind != Unclassified {
		return false
	}
	c.role = r
	return true
}

// readPump reads frames and dispatches them until the socket fails, then
// reconciles the registry and unregisters from the hub.
func (c *Conn) readPump() {
	defer func() {
		c.hub.reconcile(c)
		c.hub.unregisterConn(c)
		c.ws.Close()
	}()

	c.ws.SetReadLimit(c.hub.opts.MaxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error on %s: %v", c.id, err)
			}
			return
		}
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}
		c.hub.dispatch(c, data)
	}
}

// writePump writes queued frames one per message and sends pings.
func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Close() was called
				c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
