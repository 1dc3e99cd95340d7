// Package ws streams committed engine events to WebSocket clients.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/dcaengine/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// client is one WebSocket connection. An empty kinds set receives every
// event.
type client struct {
	hub   *Hub
	conn  *websocket.Conn
	send  chan []byte
	mu    sync.RWMutex
	kinds map[domain.EventKind]bool
}

// filterMsg is what a client sends to narrow or widen its feed:
// {"action":"subscribe","kinds":["swapped","deposited"]}.
type filterMsg struct {
	Action string             `json:"action"`
	Kinds  []domain.EventKind `json:"kinds"`
}

type outbound struct {
	kind domain.EventKind
	data []byte
}

// Hub fans events out to connected clients. Events arrive either through
// Publish, when the hub is registered as a sink in this process, or from
// the event bus when Run is given one.
type Hub struct {
	mu         sync.RWMutex
	clients    map[*client]bool
	broadcast  chan outbound
	register   chan *client
	unregister chan *client
	bus        domain.EventBus
	pattern    string
	startedAt  time.Time
	logger     *slog.Logger
}

// NewHub creates a Hub. When bus is non-nil Run subscribes to pattern on it
// (e.g. "events:*"); otherwise events must be fed through Publish.
func NewHub(bus domain.EventBus, pattern string, logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan outbound, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		bus:        bus,
		pattern:    pattern,
		startedAt:  time.Now().UTC(),
		logger:     logger.With(slog.String("component", "ws")),
	}
}

// Publish implements domain.EventSink. Events are dropped rather than
// blocking the engine when the hub is backed up.
func (h *Hub) Publish(_ context.Context, events []domain.Event) error {
	for _, ev := range events {
		data, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		select {
		case h.broadcast <- outbound{kind: ev.Kind, data: data}:
		default:
			h.logger.Warn("ws: broadcast queue full, dropping event", slog.String("kind", string(ev.Kind)))
		}
	}
	return nil
}

// Run serves registrations and broadcasts until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	if h.bus != nil {
		go h.follow(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return ctx.Err()

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws: client connected", slog.Int("total_clients", n))

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws: client disconnected", slog.Int("total_clients", n))

		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				if !c.wants(msg.kind) {
					continue
				}
				select {
				case c.send <- msg.data:
				default:
					h.logger.Warn("ws: dropping message for slow client")
				}
			}
			h.mu.RUnlock()
		}
	}
}

// follow forwards bus payloads into the broadcast queue.
func (h *Hub) follow(ctx context.Context) {
	msgs, err := h.bus.Subscribe(ctx, h.pattern)
	if err != nil {
		h.logger.Error("ws: subscribe failed",
			slog.String("pattern", h.pattern),
			slog.String("error", err.Error()),
		)
		return
	}
	h.logger.Info("ws: following event bus", slog.String("pattern", h.pattern))

	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-msgs:
			if !ok {
				h.logger.Warn("ws: bus subscription closed", slog.String("pattern", h.pattern))
				return
			}
			var head struct {
				Kind domain.EventKind `json:"kind"`
			}
			if err := json.Unmarshal(data, &head); err != nil {
				continue
			}
			select {
			case h.broadcast <- outbound{kind: head.Kind, data: data}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// HandleWS upgrades the request and registers the client.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:   h,
		conn:  conn,
		send:  make(chan []byte, sendBufferSize),
		kinds: make(map[domain.EventKind]bool),
	}
	for _, k := range r.URL.Query()["kind"] {
		c.kinds[domain.EventKind(k)] = true
	}

	h.register <- c
	c.hello()

	go c.writePump()
	go c.readPump()
}

func (c *client) wants(kind domain.EventKind) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.kinds) == 0 || c.kinds[kind]
}

func (c *client) apply(msg filterMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch msg.Action {
	case "subscribe":
		for _, k := range msg.Kinds {
			c.kinds[k] = true
		}
	case "unsubscribe":
		for _, k := range msg.Kinds {
			delete(c.kinds, k)
		}
	}
}

// hello tells the client the stream is live before any event arrives.
func (c *client) hello() {
	msg, err := json.Marshal(map[string]any{
		"type":           "hello",
		"uptime_seconds": int64(time.Since(c.hub.startedAt).Seconds()),
	})
	if err != nil {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}

func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("ws: unexpected close error", slog.String("error", err.Error()))
			}
			return
		}
		var msg filterMsg
		if json.Unmarshal(message, &msg) == nil && msg.Action != "" {
			c.apply(msg)
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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

var _ domain.EventSink = (*Hub)(nil)
