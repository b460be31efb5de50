package web

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/unklstewy/ads-livemap/internal/render"
	"github.com/unklstewy/ads-livemap/pkg/coordinates"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 1024

	// Outbound messages buffered per client before it is dropped
	sendBuffer = 1024
)

// resyncWait bounds how long a replay waits for room in a viewer's buffer.
var resyncWait = writeWait

// ClientMessage is what the browser sends over the websocket.
type ClientMessage struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// client is one websocket viewer.
type client struct {
	hub  *Hub
	conn *websocket.Conn

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

// close stops the writer; safe to call more than once.
func (c *client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// enqueue queues msg. It returns false only when the buffer is full.
func (c *client) enqueue(msg []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return true
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// enqueueWait queues msg, waiting up to timeout for buffer space. It
// returns false if the client is closed or the wait expires.
func (c *client) enqueueWait(msg []byte, timeout time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case c.send <- msg:
		return true
	case <-timer.C:
		return false
	}
}

// resyncSink returns a render.Sink that replays state to this client only.
// A replay can be far larger than the send buffer, so each command waits
// for the writer to drain. A client that stalls is disconnected and the
// rest of the replay is skipped; the page reconnects and starts over.
func (c *client) resyncSink() render.Sink {
	failed := false
	return render.Func(func(cmd render.Command) {
		if failed {
			return
		}
		msg, ok := c.hub.encode(cmd)
		if !ok {
			return
		}
		if !c.enqueueWait(msg, resyncWait) {
			failed = true
			c.hub.logger.Warn("viewer stalled during resync, dropping", slog.String("remote", c.conn.RemoteAddr().String()))
			c.hub.unregister(c)
		}
	})
}

// Hub fans render commands out to every connected websocket viewer.
// It implements render.Sink.
type Hub struct {
	logger *slog.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
}

// NewHub creates a hub with no clients.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		logger:  logger,
		clients: make(map[*client]struct{}),
	}
}

// Clients returns the number of connected viewers.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Info("viewer connected", slog.String("remote", c.conn.RemoteAddr().String()), slog.Int("clients", n))
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()

	if ok {
		c.close()
		h.logger.Info("viewer disconnected", slog.String("remote", c.conn.RemoteAddr().String()), slog.Int("clients", n))
	}
}

func (h *Hub) encode(cmd render.Command) ([]byte, bool) {
	msg, err := json.Marshal(cmd)
	if err != nil {
		h.logger.Error("failed to encode render command", slog.String("op", string(cmd.Op)), slog.Any("error", err))
		return nil, false
	}
	return msg, true
}

// broadcast sends cmd to every client. Clients whose buffer is full are
// disconnected; they resync on reconnect.
func (h *Hub) broadcast(cmd render.Command) {
	msg, ok := h.encode(cmd)
	if !ok {
		return
	}

	var slow []*client
	h.mu.RLock()
	for c := range h.clients {
		if !c.enqueue(msg) {
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.logger.Warn("viewer too slow, dropping", slog.String("remote", c.conn.RemoteAddr().String()))
		h.unregister(c)
	}
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*client]struct{})
	h.mu.Unlock()

	for c := range clients {
		c.close()
	}
}

func (h *Hub) PlaceMarker(id string, pos coordinates.Geographic, heading float64, label string) {
	h.broadcast(render.Place(id, pos, heading, label))
}

func (h *Hub) MoveMarker(id string, pos coordinates.Geographic) {
	h.broadcast(render.Move(id, pos))
}

func (h *Hub) SetMarkerHeading(id string, heading float64) {
	h.broadcast(render.Heading(id, heading))
}

func (h *Hub) CreateTrail(id string, start coordinates.Geographic) {
	h.broadcast(render.Trail(id, start))
}

func (h *Hub) AppendTrailPoint(id string, pos coordinates.Geographic) {
	h.broadcast(render.Append(id, pos))
}

func (h *Hub) SetTrailVisibility(id string, visible bool) {
	h.broadcast(render.Visibility(id, visible))
}

func (h *Hub) RemoveTrack(id string) {
	h.broadcast(render.Remove(id))
}

// readPump turns client messages into loop events until the connection
// closes.
func (c *client) readPump(engine Engine) {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read failed", slog.Any("error", err))
			}
			return
		}

		switch msg.Type {
		case "click":
			engine.Select(msg.ID)
		default:
			c.hub.logger.Debug("ignoring websocket message", slog.String("type", msg.Type))
		}
	}
}

// writePump sends queued messages and keepalive pings.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
