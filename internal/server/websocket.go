package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/wsn-testbed/dca-analyzer/internal/metrics"
	"github.com/wsn-testbed/dca-analyzer/internal/models"
)

const (
	writeWait      = 10 * time.Second
	pingPeriod     = 30 * time.Second
	clientSendSize = 64
)

// Hub fans engine output out to websocket subscribers. Slow clients are
// disconnected rather than allowed to stall the broadcast loop.
type Hub struct {
	ctx      context.Context
	log      *zap.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*wsClient]struct{}

	broadcast chan []*models.ClassificationRecord
}

type wsClient struct {
	conn *websocket.Conn
	send chan []*models.ClassificationRecord
}

func newHub(ctx context.Context, allowedOrigins []string, log *zap.Logger) *Hub {
	h := &Hub{
		ctx:       ctx,
		log:       log,
		clients:   make(map[*wsClient]struct{}),
		broadcast: make(chan []*models.ClassificationRecord, 64),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return h
}

// originChecker mirrors the CORS allow-list for the websocket upgrade.
// Requests without an Origin header (curl, tests) are allowed.
func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	wildcard := false
	for _, o := range allowed {
		if o == "*" {
			wildcard = true
		}
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || wildcard {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

// Publish hands a batch of freshly emitted records to every subscriber. It
// never blocks the engine: when the hub is saturated the batch is dropped,
// since the store sink already persisted it.
func (h *Hub) Publish(recs []*models.ClassificationRecord) {
	select {
	case h.broadcast <- recs:
	default:
		h.log.Warn("websocket broadcast queue full, dropping batch",
			zap.Int("records", len(recs)))
	}
}

// run owns the client set until the server context is cancelled.
func (h *Hub) run() {
	for {
		select {
		case <-h.ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return
		case recs := <-h.broadcast:
			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- recs:
				default:
					// Slow consumer: drop it.
					close(c.send)
					delete(h.clients, c)
					metrics.WebSocketConnections.Dec()
				}
			}
			h.mu.Unlock()
		}
	}
}

func (h *Hub) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &wsClient{
		conn: conn,
		send: make(chan []*models.ClassificationRecord, clientSendSize),
	}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	metrics.WebSocketConnections.Inc()
	h.log.Info("websocket client connected", zap.String("remote", conn.RemoteAddr().String()))

	go h.writeLoop(c)
	h.readLoop(c)
}

// readLoop discards inbound frames; the feed is one-way. It exists to notice
// the peer closing.
func (h *Hub) readLoop(c *wsClient) {
	defer h.drop(c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(c *wsClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case recs, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(writeWait))
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(map[string]any{
				"type":            "classifications",
				"classifications": recs,
			}); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// drop removes a client after its read loop ends. The send channel is closed
// exactly once, guarded by presence in the client set.
func (h *Hub) drop(c *wsClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		close(c.send)
		delete(h.clients, c)
		metrics.WebSocketConnections.Dec()
	}
	h.mu.Unlock()
	c.conn.Close()
}
