package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"dmsync/internal/config"
	"dmsync/internal/imtypes"
	"dmsync/internal/messaging"
)

const (
	defaultWriteWait  = 10 * time.Second
	defaultPongWait   = 60 * time.Second
	defaultMaxMessage = 4096

	sendBufferSize = 64
	workQueueSize  = 16
)

var errNoConversation = errors.New("no open conversation")

// pumpTimings converts the configured seconds, falling back to the defaults.
type pumpTimings struct {
	writeWait  time.Duration
	pongWait   time.Duration
	pingPeriod time.Duration
	maxMessage int64
}

func timingsFrom(cfg config.WebSocketConfig) pumpTimings {
	t := pumpTimings{
		writeWait:  time.Duration(cfg.WriteWaitSeconds) * time.Second,
		pongWait:   time.Duration(cfg.PongWaitSeconds) * time.Second,
		pingPeriod: time.Duration(cfg.PingPeriodSeconds) * time.Second,
		maxMessage: int64(cfg.MaxMessageSizeBytes),
	}
	if t.writeWait <= 0 {
		t.writeWait = defaultWriteWait
	}
	if t.pongWait <= 0 {
		t.pongWait = defaultPongWait
	}
	// Must be less than pongWait.
	if t.pingPeriod <= 0 || t.pingPeriod >= t.pongWait {
		t.pingPeriod = (t.pongWait * 9) / 10
	}
	if t.maxMessage <= 0 {
		t.maxMessage = defaultMaxMessage
	}
	return t
}

// Client is a middleman between the websocket connection and the user's Inbox.
// Frames from the browser drive the inbox; session observables are forwarded
// back as server frames.
type Client struct {
	hub  *Hub
	conn *websocket.Conn

	// Buffered channel of outbound frames.
	send chan []byte
	// work runs sends one at a time, in arrival order, off the read loop.
	work chan func()

	UserID string
	inbox  *messaging.Inbox

	timings pumpTimings
	logger  *slog.Logger

	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

func (c *Client) shutdown() {
	c.stopOnce.Do(func() {
		close(c.done)
		c.cancel()
		c.inbox.Close()
		_ = c.conn.Close()
	})
}

// enqueue blocks until the writer accepts the frame or the connection ends.
func (c *Client) enqueue(frame imtypes.ServerFrame) {
	payload, err := json.Marshal(frame)
	if err != nil {
		c.logger.Error("marshal server frame", "type", frame.Type, "error", err)
		return
	}
	select {
	case c.send <- payload:
	case <-c.done:
	}
}

func (c *Client) sendError(err error) {
	c.enqueue(imtypes.ServerFrame{Type: imtypes.ErrorFrame, Error: err.Error()})
}

// readPump pumps frames from the websocket connection into the inbox.
func (c *Client) readPump() {
	defer func() {
		c.hub.remove(c)
		c.shutdown()
	}()
	c.conn.SetReadLimit(c.timings.maxMessage)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.timings.pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.timings.pongWait))
	})

	for {
		messageType, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("WebSocket 读取错误", "error", err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			c.logger.Warn("忽略非文本消息", "message_type", messageType)
			continue
		}

		var frame imtypes.ClientFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			c.sendError(errors.New("malformed frame"))
			continue
		}
		c.handleFrame(frame)
	}
}

func (c *Client) handleFrame(frame imtypes.ClientFrame) {
	switch frame.Type {
	case imtypes.OpenFrame:
		// 先在读循环里关闭当前会话，排在前面的慢速打开会被取消而不是挡住切换
		c.inbox.Close()
		c.submit(func() {
			s, err := c.inbox.OpenConversation(c.ctx, frame.PartnerID)
			if s != nil {
				go c.forward(s)
			}
			// 被后续的 open/close 取消的打开不回报错误
			if err != nil && !errors.Is(err, messaging.ErrSessionClosed) {
				c.sendError(err)
			}
		})
	case imtypes.SendFrame:
		c.submit(func() { c.withSession(func(s *messaging.Session) error { return s.Send(c.ctx, frame.Content) }) })
	case imtypes.ReactionFrame:
		// 表情作为一条独立消息发送，不修改已有消息的 Reactions
		c.submit(func() { c.withSession(func(s *messaging.Session) error { return s.SendReaction(c.ctx, frame.Emoji) }) })
	case imtypes.TypingFrame:
		// 输入状态不排队，直接发布
		c.withSession(func(s *messaging.Session) error { return s.SetTyping(c.ctx, frame.IsTyping) })
	case imtypes.CloseFrame:
		c.inbox.Close()
	default:
		c.sendError(errors.New("unknown frame type " + string(frame.Type)))
	}
}

func (c *Client) withSession(fn func(*messaging.Session) error) {
	s := c.inbox.Current()
	if s == nil {
		c.sendError(errNoConversation)
		return
	}
	if err := fn(s); err != nil {
		c.sendError(err)
	}
}

func (c *Client) submit(fn func()) {
	select {
	case c.work <- fn:
	case <-c.done:
	}
}

func (c *Client) runWork() {
	for {
		select {
		case fn := <-c.work:
			fn()
		case <-c.done:
			return
		}
	}
}

// forward relays a session's observables until the session closes.
func (c *Client) forward(s *messaging.Session) {
	key := s.ConversationKey()
	timeline, typing := s.Timeline(), s.Typing()
	for timeline != nil || typing != nil {
		select {
		case msgs, ok := <-timeline:
			if !ok {
				timeline = nil
				continue
			}
			c.enqueue(imtypes.ServerFrame{Type: imtypes.TimelineFrame, ConversationKey: key, Messages: msgs})
		case isTyping, ok := <-typing:
			if !ok {
				typing = nil
				continue
			}
			c.enqueue(imtypes.ServerFrame{Type: imtypes.TypingFrame, ConversationKey: key, IsTyping: &isTyping})
		case <-c.done:
			return
		}
	}
}

// writePump pumps frames to the websocket connection, one frame per message.
func (c *Client) writePump() {
	ticker := time.NewTicker(c.timings.pingPeriod)
	defer func() {
		ticker.Stop()
		c.shutdown()
	}()
	for {
		select {
		case payload := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.timings.writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.timings.writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(c.timings.writeWait))
			return
		}
	}
}

// ServeWsPerConnection upgrades the request and runs a client for userID.
func ServeWsPerConnection(hub *Hub, inbox *messaging.Inbox, userID string, w http.ResponseWriter, r *http.Request, wsCfg config.WebSocketConfig, logger *slog.Logger) {
	timings := timingsFrom(wsCfg)
	upgrader := websocket.Upgrader{
		ReadBufferSize:  int(timings.maxMessage),
		WriteBufferSize: int(timings.maxMessage),
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("WebSocket Upgrade 失败", "user_id", userID, "error", err)
		inbox.Close()
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	client := &Client{
		hub:     hub,
		conn:    conn,
		send:    make(chan []byte, sendBufferSize),
		work:    make(chan func(), workQueueSize),
		UserID:  userID,
		inbox:   inbox,
		timings: timings,
		logger:  logger.With("component", "ws_client", "user_id", userID),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	if !hub.add(client) {
		client.shutdown()
		return
	}

	go client.writePump()
	go client.runWork()
	go client.readPump()

	client.logger.Info("客户端已连接")
}
