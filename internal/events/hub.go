package events

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"intraday-trader/internal/model"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const writeWait = 5 * time.Second

// Hub 把事件推送给所有已连接的 WebSocket 客户端 (看板)
type Hub struct {
	clients map[*websocket.Conn]bool
	lock    sync.Mutex
	logger  *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients: make(map[*websocket.Conn]bool),
		logger:  logger,
	}
}

func (h *Hub) Name() string { return "websocket" }

// Publish 广播事件，写失败的客户端直接断开
func (h *Hub) Publish(_ context.Context, e model.Event) error {
	msg, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("ws marshal %s: %w", e.Kind, err)
	}

	h.lock.Lock()
	defer h.lock.Unlock()
	for client := range h.clients {
		_ = client.SetWriteDeadline(time.Now().Add(writeWait))
		if err := client.WriteMessage(websocket.TextMessage, msg); err != nil {
			client.Close()
			delete(h.clients, client)
		}
	}
	return nil
}

// ServeWS 升级连接并注册客户端；客户端发来的消息忽略，读到错误即移除
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WS upgrade failed", zap.Error(err))
		return
	}
	h.lock.Lock()
	h.clients[conn] = true
	h.lock.Unlock()
	h.logger.Debug("WS client connected", zap.String("Remote", r.RemoteAddr))

	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
		h.remove(conn)
	}()
}

func (h *Hub) remove(conn *websocket.Conn) {
	h.lock.Lock()
	defer h.lock.Unlock()
	if h.clients[conn] {
		conn.Close()
		delete(h.clients, conn)
	}
}

// Clients 当前连接数
func (h *Hub) Clients() int {
	h.lock.Lock()
	defer h.lock.Unlock()
	return len(h.clients)
}

// Close 断开所有客户端
func (h *Hub) Close() {
	h.lock.Lock()
	defer h.lock.Unlock()
	for client := range h.clients {
		_ = client.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutdown"),
			time.Now().Add(time.Second))
		client.Close()
		delete(h.clients, client)
	}
}
