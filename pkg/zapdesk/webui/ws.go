package webui

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/zapdesk/zapdesk/pkg/zapdesk/events"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 54 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The dashboard is served from arbitrary origins in development.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsClient is one dashboard websocket connection.
type wsClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// hub fans bus events out to connected dashboard clients.
type hub struct {
	sessions   SessionAPI
	bus        *events.Bus
	logger     *slog.Logger
	register   chan *wsClient
	unregister chan *wsClient
	done       chan struct{}
	clients    map[string]*wsClient
}

func newHub(bus *events.Bus, sessions SessionAPI, logger *slog.Logger) *hub {
	return &hub{
		sessions:   sessions,
		bus:        bus,
		logger:     logger.With("component", "ws"),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		done:       make(chan struct{}),
		clients:    make(map[string]*wsClient),
	}
}

// run starts the hub loop. It owns the clients map; all mutation happens on
// this goroutine. The done channel is closed when the loop exits so that
// register and unregister senders never block on a dead hub.
func (h *hub) run(ctx context.Context) {
	feed, unsubscribe := h.bus.Subscribe()
	go func() {
		defer close(h.done)
		defer unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return

			case client := <-h.register:
				h.clients[client.id] = client
				h.logger.Debug("ws client connected", "client", client.id)
				h.sendSnapshot(client)

			case client := <-h.unregister:
				if _, ok := h.clients[client.id]; ok {
					delete(h.clients, client.id)
					close(client.send)
					h.logger.Debug("ws client disconnected", "client", client.id)
				}

			case evt, ok := <-feed:
				if !ok {
					return
				}
				h.broadcast(evt)
			}
		}
	}()
}

// sendSnapshot pushes the current session list to a newly connected client
// so the dashboard renders without waiting for the next status change.
func (h *hub) sendSnapshot(client *wsClient) {
	statuses, err := h.sessions.Statuses()
	if err != nil {
		h.logger.Error("session snapshot failed", "error", err)
		return
	}
	payload, err := json.Marshal(map[string]any{
		"type": "all_sessions",
		"data": statuses,
	})
	if err != nil {
		return
	}
	select {
	case client.send <- payload:
	default:
	}
}

// broadcast serializes one event and delivers it to every client, dropping
// it for clients whose send buffer is full.
func (h *hub) broadcast(evt events.Event) {
	payload, err := json.Marshal(evt)
	if err != nil {
		h.logger.Error("event marshal failed", "type", evt.Type, "error", err)
		return
	}
	for id, client := range h.clients {
		select {
		case client.send <- payload:
		default:
			h.logger.Warn("ws client too slow, dropping", "client", id)
			delete(h.clients, id)
			close(client.send)
		}
	}
}

// handleWS authenticates and upgrades a dashboard websocket connection.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if _, err := s.parseToken(extractToken(r)); err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", "error", err)
		return
	}

	client := &wsClient{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, 64),
	}
	select {
	case s.hub.register <- client:
	case <-s.hub.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump(s.hub)
}

// writePump drains the send channel to the connection and keeps it alive
// with pings.
func (c *wsClient) writePump() {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards inbound frames; the feed is one way. It exists to detect
// closed connections and answer pings.
func (c *wsClient) readPump(h *hub) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
