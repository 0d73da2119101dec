// Package stream 通过 websocket 推送回测事件（tick、订单、成交、权益）。
package stream

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"backtest-go/infrastructure/logger"
	"backtest-go/monitor/logschema"
)

const (
	writeWait  = 5 * time.Second
	sendBuffer = 256
)

// Message 推送给客户端的一条事件。
type Message struct {
	Type string                 `json:"type"`
	Seq  uint64                 `json:"seq"`
	Data map[string]interface{} `json:"data"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub 管理所有连接。发布不阻塞，慢客户端的消息被丢弃。
type Hub struct {
	upgrader websocket.Upgrader
	logger   *logger.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
	seq     uint64
	dropped uint64
	closed  bool
}

func NewHub(log *logger.Logger) *Hub {
	if log == nil {
		log = logger.Nop()
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger:  log.Named("stream"),
		clients: make(map[*client]struct{}),
	}
}

// ServeHTTP 升级为 websocket 并注册客户端。
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Upgrade failed", zap.Error(err))
		return
	}
	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	go h.writePump(c)
	go h.readPump(c)
}

// Publish 按 logschema 校验字段后广播。
func (h *Hub) Publish(kind string, data map[string]interface{}) error {
	if err := logschema.Validate(kind, data); err != nil {
		return fmt.Errorf("stream %s: %w", kind, err)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.seq++
	raw, err := json.Marshal(Message{Type: kind, Seq: h.seq, Data: data})
	if err != nil {
		return fmt.Errorf("stream %s: %w", kind, err)
	}
	for c := range h.clients {
		select {
		case c.send <- raw:
		default:
			h.dropped++
		}
	}
	return nil
}

// Clients 当前连接数。
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped 因发送队列满被丢弃的消息数。
func (h *Hub) Dropped() uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.dropped
}

// Close 断开所有客户端，之后的发布被忽略。
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
	return nil
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *Hub) writePump(c *client) {
	defer c.conn.Close()
	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			h.remove(c)
			return
		}
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// readPump 只用于发现断开，客户端消息被丢弃。
func (h *Hub) readPump(c *client) {
	defer h.remove(c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
