package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	// MaxWSConnectionsTotal is the maximum number of WebSocket connections allowed
	MaxWSConnectionsTotal = 500

	// MaxWSConnectionsPerIP is the maximum WebSocket connections per IP
	MaxWSConnectionsPerIP = 10

	// EventLobbies carries the full lobby summary list.
	EventLobbies = "lobbies"
	// EventStats carries the /api/stats payload.
	EventStats = "stats"

	wsWriteWait  = 5 * time.Second
	wsSendBuffer = 16
)

// HubConfig tunes the WebSocket feed.
type HubConfig struct {
	Interval    time.Duration // how often the feed is pushed
	CORSOrigins []string      // allowed Origin patterns
}

// WSEvent is the envelope of every feed message.
type WSEvent struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type wsClient struct {
	conn *websocket.Conn
	ip   string
	send chan []byte
}

// WebSocketHub pushes lobby summaries to connected dashboards.
type WebSocketHub struct {
	backend  Backend
	cfg      HubConfig
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*wsClient]struct{}

	wsLimiter *WebSocketRateLimiter
}

func NewWebSocketHub(backend Backend, cfg HubConfig) *WebSocketHub {
	if cfg.Interval <= 0 {
		cfg.Interval = 500 * time.Millisecond
	}
	origins := cfg.CORSOrigins
	if origins == nil {
		origins = DefaultCORSOrigins
	}
	checker := NewOriginChecker(origins)
	h := &WebSocketHub{
		backend:   backend,
		cfg:       cfg,
		clients:   make(map[*wsClient]struct{}),
		wsLimiter: NewWebSocketRateLimiter(MaxWSConnectionsPerIP),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			// non-browser clients send no Origin
			if origin == "" || checker.Allowed(origin) {
				return true
			}
			log.Warn().Str("origin", origin).Msg("websocket origin rejected")
			RecordConnectionRejected("origin")
			return false
		},
	}
	return h
}

// Run pushes the feed every Interval until ctx is cancelled, then closes
// every connection.
func (h *WebSocketHub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case <-ticker.C:
			if h.ClientCount() == 0 {
				continue
			}
			h.Broadcast(EventLobbies, h.backend.Summaries())
			h.Broadcast(EventStats, h.backend.Stats())
		}
	}
}

// Broadcast queues an event for every client. Slow clients miss events
// instead of blocking the hub.
func (h *WebSocketHub) Broadcast(event string, data any) {
	msg, err := json.Marshal(WSEvent{Event: event, Data: data})
	if err != nil {
		log.Error().Err(err).Str("event", event).Msg("encode websocket event")
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
		}
	}
}

func (h *WebSocketHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWebSocket upgrades the request and streams the feed to it.
func (h *WebSocketHub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	ip := GetClientIP(r)

	if h.ClientCount() >= MaxWSConnectionsTotal {
		RecordConnectionRejected("ws_total_limit")
		writeError(w, "too many connections", http.StatusServiceUnavailable)
		return
	}
	if !h.wsLimiter.Allow(ip) {
		RecordConnectionRejected("ws_ip_limit")
		writeError(w, "too many connections from your IP", http.StatusTooManyRequests)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Str("ip", ip).Msg("websocket upgrade")
		h.wsLimiter.Release(ip)
		return
	}

	c := &wsClient{conn: conn, ip: ip, send: make(chan []byte, wsSendBuffer)}
	// first frame so dashboards render without waiting a full interval
	if msg, err := json.Marshal(WSEvent{Event: EventLobbies, Data: h.backend.Summaries()}); err == nil {
		c.send <- msg
	}
	h.register(c)

	go h.writeLoop(c)
	go h.readLoop(c)
}

func (h *WebSocketHub) register(c *wsClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	UpdateWSConnections(n)
	log.Debug().Str("ip", c.ip).Int("total", n).Msg("websocket client connected")
}

func (h *WebSocketHub) unregister(c *wsClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	close(c.send)
	n := len(h.clients)
	h.mu.Unlock()

	h.wsLimiter.Release(c.ip)
	UpdateWSConnections(n)
	log.Debug().Str("ip", c.ip).Int("total", n).Msg("websocket client disconnected")
}

func (h *WebSocketHub) writeLoop(c *wsClient) {
	defer c.conn.Close()
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			h.unregister(c)
			break
		}
		IncrementWSMessages()
	}
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(wsWriteWait))
}

// readLoop discards client frames; it exists to notice disconnects.
func (h *WebSocketHub) readLoop(c *wsClient) {
	defer h.unregister(c)
	c.conn.SetReadLimit(512)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *WebSocketHub) closeAll() {
	h.mu.RLock()
	clients := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	for _, c := range clients {
		h.unregister(c)
	}
}
