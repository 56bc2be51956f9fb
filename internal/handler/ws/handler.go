package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/handbook-assistant/backend/internal/model/chat"
	chatService "github.com/zhouzirui/handbook-assistant/backend/internal/service/chat"
)

const (
	readTimeout         = 60 * time.Second
	pingInterval        = 54 * time.Second
	writeTimeout        = 10 * time.Second
	defaultPushInterval = 500 * time.Millisecond
)

// Engine 是 WebSocket 通道使用的合并引擎能力
type Engine interface {
	Submit(ctx context.Context, key chat.SessionKey, text string) (chatService.Ack, error)
	Poll(ctx context.Context, key chat.SessionKey) chatService.PollResult
}

// Handler WebSocket问答处理器
type Handler struct {
	engine       Engine
	upgrader     websocket.Upgrader
	pushInterval time.Duration
}

// New 创建WebSocket处理器
func New(engine Engine) *Handler {
	return &Handler{
		engine: engine,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		pushInterval: defaultPushInterval,
	}
}

// RegisterRoutes 注册WebSocket路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/{userID}/{chatID}", h.handleWebSocket)
}

type inboundMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// FragmentMessage 文本片段消息
type FragmentMessage struct {
	Text string `json:"text"`
}

type outgoingMessage struct {
	Type       string      `json:"type"`
	SessionKey string      `json:"sessionKey,omitempty"`
	Data       interface{} `json:"data,omitempty"`
	Timestamp  int64       `json:"timestamp"`
}

// connection 串行化同一连接上的写操作
type connection struct {
	conn *websocket.Conn
	key  chat.SessionKey
	mu   sync.Mutex
}

func (c *connection) send(msgType string, data interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteJSON(outgoingMessage{
		Type:       msgType,
		SessionKey: c.key,
		Data:       data,
		Timestamp:  time.Now().Unix(),
	})
}

func (c *connection) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
}

func (c *connection) sendError(message string) {
	if err := c.send("error", map[string]string{"message": message}); err != nil {
		log.Printf("[websocket] write error failed session=%s: %v", c.key, err)
	}
}

// handleWebSocket 处理WebSocket连接
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if h.engine == nil {
		http.Error(w, "chatbot unavailable", http.StatusServiceUnavailable)
		return
	}

	key := chat.NewSessionKey(chi.URLParam(r, "userID"), chi.URLParam(r, "chatID"))
	if key == "" {
		http.Error(w, "userID and chatID are required", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[websocket] upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	log.Printf("[websocket] new connection for session: %s", key)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	c := &connection{conn: conn, key: key}

	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	go h.pingLoop(ctx, c)
	go h.pushLoop(ctx, c)

	if err := c.send("connected", map[string]any{"composeHint": chat.WaitingMessage}); err != nil {
		log.Printf("[websocket] write info failed session=%s: %v", key, err)
		return
	}

	for {
		var msg inboundMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[websocket] read error session=%s: %v", key, err)
			}
			return
		}

		conn.SetReadDeadline(time.Now().Add(readTimeout))
		h.handleMessage(ctx, c, &msg)
	}
}

func (h *Handler) handleMessage(ctx context.Context, c *connection, msg *inboundMessage) {
	switch msg.Type {
	case "fragment":
		h.handleFragment(ctx, c, msg.Data)
	case "poll":
		result := h.engine.Poll(ctx, c.key)
		if !h.deliver(c, result) {
			if err := c.send("pending", map[string]string{"message": chat.WaitingMessage}); err != nil {
				log.Printf("[websocket] write pending failed session=%s: %v", c.key, err)
			}
		}
	default:
		c.sendError("unsupported message type: " + msg.Type)
	}
}

func (h *Handler) handleFragment(ctx context.Context, c *connection, raw json.RawMessage) {
	var fragment FragmentMessage
	if err := json.Unmarshal(raw, &fragment); err != nil {
		c.sendError("invalid fragment payload")
		return
	}
	ack, err := h.engine.Submit(ctx, c.key, fragment.Text)
	if err != nil {
		c.sendError(err.Error())
		return
	}

	if err := c.send("ack", ack); err != nil {
		log.Printf("[websocket] write ack failed session=%s: %v", c.key, err)
	}
}

// deliver pushes a ready or failed answer and reports whether one was sent.
func (h *Handler) deliver(c *connection, result chatService.PollResult) bool {
	var err error
	switch result.Status {
	case chatService.StatusReady:
		err = c.send("answer", map[string]string{
			"turnId": result.Answer.TurnID,
			"answer": result.Answer.Text,
		})
	case chatService.StatusFailed:
		err = c.send("failed", map[string]string{
			"turnId": result.Answer.TurnID,
			"answer": chat.ResendMessage,
			"error":  result.Answer.Err,
		})
	default:
		return false
	}
	if err != nil {
		// The mailbox slot is already empty; the answer stays in history.
		log.Printf("[websocket] push answer failed session=%s turn=%s, answer dropped: %v", c.key, result.Answer.TurnID, err)
	}
	return true
}

// pushLoop 轮询邮箱，答案一出现就推送给客户端
func (h *Handler) pushLoop(ctx context.Context, c *connection) {
	ticker := time.NewTicker(h.pushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.deliver(c, h.engine.Poll(ctx, c.key))
		}
	}
}

// pingLoop 定期发送ping消息
func (h *Handler) pingLoop(ctx context.Context, c *connection) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.ping(); err != nil {
				return
			}
		}
	}
}
