// Package hub fans normalized readings out to subscribed live viewers over
// WebSocket connections.
package hub

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"aquasense/internal/reading"
)

// outboundQueueSize bounds the per-connection send queue. A viewer that
// falls this far behind is disconnected rather than allowed to stall
// ingestion.
const outboundQueueSize = 32

const writeTimeout = 10 * time.Second

type connection struct {
	id         string
	ws         *websocket.Conn
	subscribed bool

	mu     sync.Mutex
	closed bool
	send   chan []byte
}

// trySend enqueues without blocking. False means the queue is full or the
// connection is already closed; the caller drops the viewer either way.
func (c *connection) trySend(data []byte) bool {
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

func (c *connection) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

type Hub struct {
	mu       sync.RWMutex
	conns    map[string]*connection
	upgrader websocket.Upgrader
}

func New() *Hub {
	return &Hub{
		conns: make(map[string]*connection),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type greetingEvent struct {
	Event        string `json:"event"`
	ConnectionID string `json:"connectionId"`
	Timestamp    string `json:"timestamp"`
}

type ackEvent struct {
	Event     string `json:"event"`
	Timestamp string `json:"timestamp"`
}

type actionFrame struct {
	Action string `json:"action"`
}

type readingEvent struct {
	DeviceID  string  `json:"deviceId"`
	Channel   string  `json:"channel"`
	Value     float64 `json:"value"`
	Timestamp string  `json:"timestamp"`
}

// HandleWS upgrades the request, greets the viewer and serves subscribe and
// unsubscribe frames until the connection ends.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.ErrorContext(r.Context(), "WebSocket upgrade failed", "error", err)
		return
	}

	conn := &connection{
		id:   uuid.NewString(),
		ws:   ws,
		send: make(chan []byte, outboundQueueSize),
	}

	h.mu.Lock()
	h.conns[conn.id] = conn
	h.mu.Unlock()
	slog.InfoContext(r.Context(), "Viewer connected", "connection_id", conn.id)

	go h.writePump(conn)

	h.enqueue(conn, greetingEvent{
		Event:        "connected",
		ConnectionID: conn.id,
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
	})

	h.readLoop(conn)
}

func (h *Hub) readLoop(conn *connection) {
	defer h.remove(conn.id)
	for {
		_, data, err := conn.ws.ReadMessage()
		if err != nil {
			slog.Info("Viewer disconnected", "connection_id", conn.id)
			return
		}
		var frame actionFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			slog.Info("Ignoring unparseable viewer frame", "connection_id", conn.id)
			continue
		}
		switch frame.Action {
		case "subscribe":
			h.Subscribe(conn.id)
			h.enqueue(conn, ackEvent{Event: "subscribed", Timestamp: time.Now().UTC().Format(time.RFC3339)})
		case "unsubscribe":
			h.Unsubscribe(conn.id)
			h.enqueue(conn, ackEvent{Event: "unsubscribed", Timestamp: time.Now().UTC().Format(time.RFC3339)})
		default:
			slog.Info("Ignoring unknown viewer action", "connection_id", conn.id, "action", frame.Action)
		}
	}
}

func (h *Hub) writePump(conn *connection) {
	defer conn.ws.Close()
	for msg := range conn.send {
		conn.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
			slog.Info("Viewer write failed", "connection_id", conn.id, "error", err)
			return
		}
	}
	conn.ws.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
}

// Subscribe marks a connection as a broadcast recipient. Subscribing an
// already-subscribed connection is a no-op.
func (h *Hub) Subscribe(connectionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conn, ok := h.conns[connectionID]; ok {
		conn.subscribed = true
	}
}

// Unsubscribe removes a connection from the broadcast set. Unsubscribing a
// non-member is a no-op.
func (h *Hub) Unsubscribe(connectionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conn, ok := h.conns[connectionID]; ok {
		conn.subscribed = false
	}
}

// Broadcast delivers a reading to every connection subscribed at the moment
// of the call. Delivery is fire-and-forget per recipient; a full queue drops
// that viewer without blocking the caller or the other recipients.
func (h *Hub) Broadcast(r reading.Reading) {
	data, err := json.Marshal(readingEvent{
		DeviceID:  r.DeviceID,
		Channel:   r.Channel.String(),
		Value:     r.Value,
		Timestamp: time.UnixMilli(r.Timestamp).UTC().Format(time.RFC3339),
	})
	if err != nil {
		slog.Error("Marshalling reading event failed", "error", err)
		return
	}

	var dropped []string
	h.mu.RLock()
	for id, conn := range h.conns {
		if !conn.subscribed {
			continue
		}
		if !conn.trySend(data) {
			dropped = append(dropped, id)
		}
	}
	h.mu.RUnlock()

	for _, id := range dropped {
		slog.Info("Dropping slow viewer", "connection_id", id)
		h.remove(id)
	}
}

func (h *Hub) remove(connectionID string) {
	h.mu.Lock()
	conn, ok := h.conns[connectionID]
	if ok {
		delete(h.conns, connectionID)
	}
	h.mu.Unlock()
	if ok {
		conn.close()
	}
}

// Close disconnects all viewers. Used during shutdown.
func (h *Hub) Close() {
	h.mu.Lock()
	conns := make([]*connection, 0, len(h.conns))
	for id, conn := range h.conns {
		conns = append(conns, conn)
		delete(h.conns, id)
	}
	h.mu.Unlock()
	for _, conn := range conns {
		conn.close()
	}
}

func (h *Hub) enqueue(conn *connection, event any) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	if !conn.trySend(data) {
		h.remove(conn.id)
	}
}

func (h *Hub) subscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	count := 0
	for _, conn := range h.conns {
		if conn.subscribed {
			count++
		}
	}
	return count
}
