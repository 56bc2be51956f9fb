package stream

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/handbook-assistant/backend/internal/model/chat"
	chatService "github.com/zhouzirui/handbook-assistant/backend/internal/service/chat"
	"github.com/zhouzirui/handbook-assistant/backend/pkg/utils"
)

const (
	defaultPollInterval      = 500 * time.Millisecond
	defaultHeartbeatInterval = 8 * time.Second
)

// Poller 非阻塞地取走会话答案
type Poller interface {
	Poll(ctx context.Context, key chat.SessionKey) chatService.PollResult
}

// Handler 通过 Server-Sent Events 推送已生成的答案
type Handler struct {
	poller            Poller
	pollInterval      time.Duration
	heartbeatInterval time.Duration
}

// New creates a new stream handler
func New(poller Poller) *Handler {
	return &Handler{
		poller:            poller,
		pollInterval:      defaultPollInterval,
		heartbeatInterval: defaultHeartbeatInterval,
	}
}

// RegisterRoutes 注册 SSE 路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/chatbot_stream/{userID}/{chatID}", h.handleStream)
}

// StreamResponse represents a streaming response chunk
type StreamResponse struct {
	SessionKey string `json:"sessionKey"`
	TurnID     string `json:"turnId,omitempty"`
	Content    string `json:"content,omitempty"`
	Finished   bool   `json:"finished,omitempty"`
	Error      string `json:"error,omitempty"`
	Time       string `json:"time,omitempty"`
}

func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	if h.poller == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "chatbot unavailable")
		return
	}

	key := chat.NewSessionKey(chi.URLParam(r, "userID"), chi.URLParam(r, "chatID"))
	if key == "" {
		utils.RespondError(w, http.StatusBadRequest, "userID and chatID are required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)

	ctx := r.Context()
	log.Printf("[sse] opening answer stream for session=%s", key)
	defer log.Printf("[sse] closing answer stream for session=%s", key)

	if err := utils.SendSSEEvent(w, flusher, "status", StreamResponse{SessionKey: key, Content: chat.WaitingMessage}); err != nil {
		return
	}

	poll := time.NewTicker(h.pollInterval)
	defer poll.Stop()
	heartbeat := time.NewTicker(h.heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case t := <-heartbeat.C:
			if err := utils.SendSSEEvent(w, flusher, "heartbeat", StreamResponse{
				SessionKey: key,
				Content:    "awaiting answer",
				Time:       t.UTC().Format(time.RFC3339),
			}); err != nil {
				log.Printf("[sse] heartbeat failed session=%s: %v", key, err)
				return
			}
		case <-poll.C:
			result := h.poller.Poll(ctx, key)
			if h.deliver(w, flusher, key, result) {
				return
			}
		}
	}
}

// deliver writes the answer events and reports whether the stream is done.
func (h *Handler) deliver(w http.ResponseWriter, flusher http.Flusher, key chat.SessionKey, result chatService.PollResult) bool {
	var err error
	switch result.Status {
	case chatService.StatusReady:
		err = utils.SendSSEEvent(w, flusher, "answer", StreamResponse{
			SessionKey: key,
			TurnID:     result.Answer.TurnID,
			Content:    result.Answer.Text,
		})
	case chatService.StatusFailed:
		err = utils.SendSSEEvent(w, flusher, "failed", StreamResponse{
			SessionKey: key,
			TurnID:     result.Answer.TurnID,
			Content:    chat.ResendMessage,
			Error:      result.Answer.Err,
		})
	default:
		return false
	}
	if err != nil {
		// The mailbox slot is already empty; the answer stays in history.
		log.Printf("[sse] answer delivery failed session=%s turn=%s, answer dropped: %v", key, result.Answer.TurnID, err)
		return true
	}

	if err := utils.SendSSEEvent(w, flusher, "end", StreamResponse{SessionKey: key, Finished: true}); err != nil {
		log.Printf("[sse] end event failed session=%s: %v", key, err)
	}
	return true
}
