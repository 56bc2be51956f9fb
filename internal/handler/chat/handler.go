package chat

import (
	"context"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/handbook-assistant/backend/internal/model/chat"
	chatService "github.com/zhouzirui/handbook-assistant/backend/internal/service/chat"
	"github.com/zhouzirui/handbook-assistant/backend/pkg/utils"
)

// Engine 是分段提问合并引擎对 HTTP 层暴露的能力
type Engine interface {
	Submit(ctx context.Context, key chat.SessionKey, text string) (chatService.Ack, error)
	Poll(ctx context.Context, key chat.SessionKey) chatService.PollResult
	History(ctx context.Context, key chat.SessionKey) []chat.Turn
}

// Handler 问答接口的HTTP处理器
type Handler struct {
	engine Engine
}

// New 创建问答处理器，engine 为 nil 时所有接口返回 503
func New(engine Engine) *Handler {
	return &Handler{engine: engine}
}

// RegisterRoutes 注册问答相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/chatbot_query", h.handleQuery)
	r.Get("/chatbot_result/{userID}/{chatID}", h.handleResult)
	r.Get("/chatbot_history/{userID}/{chatID}", h.handleHistory)
}

type queryRequest struct {
	UserID   string `json:"user_id"`
	ChatID   string `json:"chat_id"`
	Question string `json:"question"`
}

type queryResponse struct {
	Status     string `json:"status"`
	SessionKey string `json:"sessionKey"`
	TurnID     string `json:"turnId,omitempty"`
}

// ResultResponse 是轮询接口的响应体
type ResultResponse struct {
	Status string `json:"status"`
	Answer string `json:"answer"`
	TurnID string `json:"turnId,omitempty"`
	Error  string `json:"error,omitempty"`
}

// handleQuery 接收一个提问片段，立即返回 202
func (h *Handler) handleQuery(w http.ResponseWriter, r *http.Request) {
	if h.engine == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "chatbot unavailable")
		return
	}

	var payload queryRequest
	if err := utils.DecodeJSON(w, r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	key := chat.NewSessionKey(payload.UserID, payload.ChatID)
	if key == "" {
		utils.RespondError(w, http.StatusBadRequest, "user_id and chat_id are required")
		return
	}

	ack, err := h.engine.Submit(r.Context(), key, payload.Question)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, chatService.ErrSessionKeyRequired) {
			status = http.StatusBadRequest
		}
		log.Printf("[chatbot] submit failed session=%s: %v", key, err)
		utils.RespondError(w, status, err.Error())
		return
	}

	utils.RespondJSON(w, http.StatusAccepted, queryResponse{
		Status:     "queued",
		SessionKey: ack.SessionKey,
		TurnID:     ack.TurnID,
	})
}

// handleResult 非阻塞地取走已生成的答案
func (h *Handler) handleResult(w http.ResponseWriter, r *http.Request) {
	if h.engine == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "chatbot unavailable")
		return
	}

	key := chat.NewSessionKey(chi.URLParam(r, "userID"), chi.URLParam(r, "chatID"))
	if key == "" {
		utils.RespondError(w, http.StatusBadRequest, "userID and chatID are required")
		return
	}

	utils.RespondJSON(w, http.StatusOK, NewResultResponse(h.engine.Poll(r.Context(), key)))
}

// handleHistory 返回会话最近的问答记录
func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	if h.engine == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "chatbot unavailable")
		return
	}

	key := chat.NewSessionKey(chi.URLParam(r, "userID"), chi.URLParam(r, "chatID"))
	if key == "" {
		utils.RespondError(w, http.StatusBadRequest, "userID and chatID are required")
		return
	}

	history := h.engine.History(r.Context(), key)
	if history == nil {
		history = []chat.Turn{}
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{"history": history})
}

// NewResultResponse 把轮询结果映射为客户端响应，pending 与 unknown 共用等待提示
func NewResultResponse(result chatService.PollResult) ResultResponse {
	switch result.Status {
	case chatService.StatusReady:
		return ResultResponse{
			Status: string(chatService.StatusReady),
			Answer: result.Answer.Text,
			TurnID: result.Answer.TurnID,
		}
	case chatService.StatusFailed:
		return ResultResponse{
			Status: string(chatService.StatusFailed),
			Answer: chat.ResendMessage,
			TurnID: result.Answer.TurnID,
			Error:  result.Answer.Err,
		}
	default:
		return ResultResponse{
			Status: string(chatService.StatusPending),
			Answer: chat.WaitingMessage,
		}
	}
}
