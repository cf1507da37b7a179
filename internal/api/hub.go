package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/bhandras/immersive/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// Event types pushed on the /v1/events stream.
const (
	EventTransition     = "transition"
	EventPrompt         = "prompt"
	EventPromptClosed   = "prompt-closed"
	EventExitFullscreen = "exit-fullscreen"
	EventGoBack         = "go-back"
	EventRecoverPage    = "recover-page"
	EventSessionEnded   = "session-ended"
	EventFeedback       = "feedback"
	EventInstall        = "install"
)

// Event is one message on the /v1/events stream.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

const (
	clientBuffer = 64
	writeTimeout = 5 * time.Second
)

// Hub fans events out to connected websocket clients. A client that cannot
// keep up is disconnected rather than slowing the others down.
type Hub struct {
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*hubClient]struct{}
	closed  bool
}

type hubClient struct {
	conn *websocket.Conn
	send chan Event
	once sync.Once
}

// NewHub returns a Hub. checkOrigin may be nil to accept every origin.
func NewHub(checkOrigin func(*http.Request) bool) *Hub {
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &Hub{
		upgrader: websocket.Upgrader{CheckOrigin: checkOrigin},
		clients:  make(map[*hubClient]struct{}),
	}
}

// Broadcast queues ev for every client.
func (h *Hub) Broadcast(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- ev:
		default:
			logger.Warnf("[api] event client too slow; dropping connection")
			go h.remove(c)
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*hubClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		h.remove(c)
	}
}

// HandleWebSocket upgrades the request and streams events until the client
// goes away.
func (h *Hub) HandleWebSocket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warnf("[api] websocket upgrade error: %v", err)
		return
	}

	client := &hubClient{conn: conn, send: make(chan Event, clientBuffer)}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.clients[client] = struct{}{}
	h.mu.Unlock()
	logger.Debugf("[api] event client connected: %s", c.Request.RemoteAddr)

	go h.writeLoop(client)

	// Clients only listen; reads detect disconnects.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debugf("[api] websocket error: %v", err)
			}
			break
		}
	}
	h.remove(client)
	logger.Debugf("[api] event client disconnected: %s", c.Request.RemoteAddr)
}

func (h *Hub) writeLoop(c *hubClient) {
	for ev := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteJSON(ev); err != nil {
			h.remove(c)
			_ = c.conn.Close()
			return
		}
	}
	_ = c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeTimeout),
	)
	_ = c.conn.Close()
}

func (h *Hub) remove(c *hubClient) {
	c.once.Do(func() {
		h.mu.Lock()
		delete(h.clients, c)
		close(c.send)
		h.mu.Unlock()
	})
}
