// Package wsnotify pushes a line per dashboard mutation to any connected UI
// watcher over a websocket. It is purely observational: no tool-call
// semantics in this repo depend on a watcher being connected, and a
// publish with zero subscribers is a silent no-op.
package wsnotify

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/agentmux/agentmux/internal/common/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1024 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// client is one connected watcher.
type client struct {
	id     string
	conn   *websocket.Conn
	send   chan []byte
	hub    *Hub
	logger *logger.Logger
}

// Hub fans a dashboard-mutation line out to every connected watcher.
type Hub struct {
	mu         sync.RWMutex
	clients    map[*client]bool
	register   chan *client
	unregister chan *client
	broadcast  chan []byte
	stop       chan struct{}
	log        *logger.Logger
}

// NewHub returns an idle Hub; call Run to start its event loop.
func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan []byte, 256),
		stop:       make(chan struct{}),
		log:        log,
	}
}

// Run processes registrations and broadcasts until Stop is called.
func (h *Hub) Run() {
	for {
		select {
		case <-h.stop:
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
			}
			h.clients = make(map[*client]bool)
			h.mu.Unlock()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()

		case line := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				select {
				case c.send <- line:
				default:
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Stop shuts the hub down and closes every connected client's send channel.
func (h *Hub) Stop() {
	close(h.stop)
}

// Publish queues line for delivery to every connected watcher. Never
// blocks: with no watchers connected this is a no-op.
func (h *Hub) Publish(line []byte) {
	select {
	case h.broadcast <- line:
	default:
		if h.log != nil {
			h.log.Warn("wsnotify: broadcast buffer full, dropping line")
		}
	}
}

// ClientCount reports how many watchers are currently connected.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Handle upgrades an HTTP request to a websocket connection and registers
// it with the hub. Intended to be wired as a gin.HandlerFunc, e.g.
// router.GET("/sessions/:id/watch", hub.Handle).
func (h *Hub) Handle(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		if h.log != nil {
			h.log.Error("wsnotify: upgrade failed", zap.Error(err))
		}
		return
	}

	cl := &client{id: uuid.New().String(), conn: conn, send: make(chan []byte, 16), hub: h, logger: h.log}
	h.register <- cl

	go cl.writePump()
	go cl.readPump()
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
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
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
