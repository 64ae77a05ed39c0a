// Package websocket ведёт реестр подписчиков топиков и доставляет им события по WebSocket.
package websocket

import (
	"context"
	"net/http"
	"sync"
	"time"

	gw "github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 512
	sendBufferSize = 256
)

// Client одно WebSocket-соединение, подписанное на набор топиков.
type Client struct {
	conn   *gw.Conn
	send   chan []byte
	topics []string
	closed bool
}

// Hub реестр подписчиков по топикам. Публикация берёт блокировку на чтение,
// подключение и отключение клиентов — на запись.
type Hub struct {
	mu       sync.RWMutex
	topics   map[string]map[*Client]struct{}
	upgrader gw.Upgrader
	logger   *zap.Logger
}

// NewHub создаёт пустой реестр. checkOrigin может быть nil, тогда разрешены любые источники.
func NewHub(logger *zap.Logger, checkOrigin func(r *http.Request) bool) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	if checkOrigin == nil {
		checkOrigin = func(r *http.Request) bool { return true }
	}
	return &Hub{
		topics: make(map[string]map[*Client]struct{}),
		upgrader: gw.Upgrader{
			CheckOrigin: checkOrigin,
		},
		logger: logger,
	}
}

// Publish отправляет payload всем текущим подписчикам топика. Топик без подписчиков — не ошибка.
// Клиенты с переполненным буфером отключаются.
func (h *Hub) Publish(_ context.Context, topic string, payload []byte) error {
	var slow []*Client

	h.mu.RLock()
	for c := range h.topics[topic] {
		select {
		case c.send <- payload:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.logger.Warn("websocket client too slow, disconnecting", zap.String("topic", topic))
		h.unregister(c)
	}

	return nil
}

// Subscribers возвращает количество подписчиков топика.
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

// Serve переводит запрос в WebSocket и подписывает соединение на topics.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, topics []string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &Client{
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		topics: topics,
	}
	h.register(c)

	go h.writePump(c)
	go h.readPump(c)
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, t := range c.topics {
		set, ok := h.topics[t]
		if !ok {
			set = make(map[*Client]struct{})
			h.topics[t] = set
		}
		set[c] = struct{}{}
	}
	h.logger.Debug("websocket client connected", zap.Strings("topics", c.topics))
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true

	for _, t := range c.topics {
		if set, ok := h.topics[t]; ok {
			delete(set, c)
			if len(set) == 0 {
				delete(h.topics, t)
			}
		}
	}
	close(c.send)
	h.logger.Debug("websocket client disconnected", zap.Strings("topics", c.topics))
}

// Close отключает всех клиентов.
func (h *Hub) Close() {
	h.mu.RLock()
	var all []*Client
	seen := make(map[*Client]struct{})
	for _, set := range h.topics {
		for c := range set {
			if _, ok := seen[c]; !ok {
				seen[c] = struct{}{}
				all = append(all, c)
			}
		}
	}
	h.mu.RUnlock()

	for _, c := range all {
		h.unregister(c)
	}
}

func (h *Hub) readPump(c *Client) {
	defer func() {
		h.unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if gw.IsUnexpectedCloseError(err, gw.CloseGoingAway, gw.CloseAbnormalClosure) {
				h.logger.Warn("websocket read error", zap.Error(err))
			}
			return
		}
	}
}

func (h *Hub) writePump(c *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(gw.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(gw.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(gw.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
