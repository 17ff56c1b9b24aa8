package websocket

import "log/slog"

// Hub maintains the set of active clients, one connection per user. A second
// connection for the same user replaces and closes the first.
type Hub struct {
	clients map[string]*Client

	register   chan *Client
	unregister chan *Client
	count      chan chan int
	quit       chan struct{}
	done       chan struct{}

	logger *slog.Logger
}

// NewHub creates a new Hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		count:      make(chan chan int),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
		logger:     logger.With("component", "ws_hub"),
	}
}

// Run starts the hub and listens for messages on its channels.
func (h *Hub) Run() {
	defer close(h.done)
	h.logger.Info("WebSocket Hub Run loop started")
	for {
		select {
		case client := <-h.register:
			if existing, ok := h.clients[client.UserID]; ok {
				h.logger.Warn("用户已有连接，关闭旧连接并注册新连接", "user_id", client.UserID)
				go existing.shutdown()
			}
			h.clients[client.UserID] = client
			h.logger.Info("客户端已注册", "user_id", client.UserID)

		case client := <-h.unregister:
			// 只移除当前登记的连接，已被替换的旧连接不影响新连接
			if stored, ok := h.clients[client.UserID]; ok && stored == client {
				delete(h.clients, client.UserID)
				h.logger.Info("客户端已注销", "user_id", client.UserID)
			}

		case reply := <-h.count:
			reply <- len(h.clients)

		case <-h.quit:
			for id, client := range h.clients {
				go client.shutdown()
				delete(h.clients, id)
			}
			return
		}
	}
}

// Stop closes every connection and ends Run. Call once.
func (h *Hub) Stop() {
	close(h.quit)
	<-h.done
}

func (h *Hub) add(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) remove(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// ClientCount returns the number of registered connections.
func (h *Hub) ClientCount() int {
	reply := make(chan int, 1)
	select {
	case h.count <- reply:
		return <-reply
	case <-h.done:
		return 0
	}
}
