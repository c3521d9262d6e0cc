package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/danielpatrickdp/butterfly/go-controller/internal/logging"
	"github.com/danielpatrickdp/butterfly/go-controller/internal/metrics"
)

const writeWait = 5 * time.Second

// #region hub

type client struct {
	conn *websocket.Conn
	mu   sync.Mutex // serializes writes
	stop chan struct{}
}

func (c *client) write(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(messageType, data)
}

// Hub fans events out to live websocket connections.
type Hub struct {
	mu                sync.RWMutex
	clients           map[*websocket.Conn]*client
	upgrader          websocket.Upgrader
	keepAliveInterval time.Duration
	logger            *zap.Logger
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithKeepAliveInterval sets the ping interval. Zero disables keepalive pings.
func WithKeepAliveInterval(interval time.Duration) HubOption {
	return func(h *Hub) { h.keepAliveInterval = interval }
}

// WithHubLogger sets the logger.
func WithHubLogger(l *zap.Logger) HubOption {
	return func(h *Hub) { h.logger = logging.OrNop(l).Named("hub") }
}

// NewHub creates a hub. Cross-origin upgrades are accepted.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		clients:           make(map[*websocket.Conn]*client),
		keepAliveInterval: 30 * time.Second,
		logger:            zap.NewNop(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Register starts tracking conn.
func (h *Hub) Register(conn *websocket.Conn) {
	c := &client{conn: conn, stop: make(chan struct{})}
	h.mu.Lock()
	h.clients[conn] = c
	h.mu.Unlock()

	metrics.WebsocketConnections.Inc()
	h.startKeepAlive(c)
}

// Unregister stops tracking conn and closes it. Safe to call more than once.
func (h *Hub) Unregister(conn *websocket.Conn) {
	h.mu.Lock()
	c, ok := h.clients[conn]
	if ok {
		delete(h.clients, conn)
	}
	h.mu.Unlock()
	if !ok {
		return
	}

	close(c.stop)
	_ = conn.Close()
	metrics.WebsocketConnections.Dec()
}

// Count returns the number of live connections.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish writes ev to every connection. Connections that fail to accept the write are
// dropped; the first write error is returned.
func (h *Hub) Publish(_ context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	h.mu.RLock()
	targets := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	var firstErr error
	for _, c := range targets {
		if err := c.write(websocket.TextMessage, data); err != nil {
			h.logger.Warn("websocket write failed; dropping connection", zap.Error(err))
			h.Unregister(c.conn)
			if firstErr == nil {
				firstErr = fmt.Errorf("websocket write: %w", err)
			}
		}
	}
	return firstErr
}

// Close drops every connection.
func (h *Hub) Close() {
	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for conn := range h.clients {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()
	for _, conn := range conns {
		h.Unregister(conn)
	}
}

// #endregion hub

// #region serve

// ServeWS upgrades the request and blocks reading from the connection until it closes.
// A "ping" text frame is answered with "pong"; other frames are ignored.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	h.Register(conn)
	defer h.Unregister(conn)

	h.mu.RLock()
	c := h.clients[conn]
	h.mu.RUnlock()

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("websocket read ended", zap.Error(err))
			}
			return
		}
		if mt == websocket.TextMessage && string(data) == "ping" && c != nil {
			if err := c.write(websocket.TextMessage, []byte("pong")); err != nil {
				return
			}
		}
	}
}

// #endregion serve

// #region keepalive
func (h *Hub) startKeepAlive(c *client) {
	if h.keepAliveInterval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(h.keepAliveInterval)
		defer ticker.Stop()
		for {
			select {
			case <-c.stop:
				return
			case <-ticker.C:
				c.mu.Lock()
				err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
				c.mu.Unlock()
				if err != nil {
					h.Unregister(c.conn)
					return
				}
			}
		}
	}()
}

// #endregion keepalive
