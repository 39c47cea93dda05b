package chat

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/echo-chat/client/internal/handler/stream"
	"github.com/zhouzirui/echo-chat/client/internal/logger"
	"github.com/zhouzirui/echo-chat/client/internal/model/chat"
	chatService "github.com/zhouzirui/echo-chat/client/internal/service/chat"
	"github.com/zhouzirui/echo-chat/client/pkg/utils"
)

// View 聊天视图，*chatService.Service 实现该接口
type View interface {
	Mount(ctx context.Context) error
	CreateSession(ctx context.Context) (uint64, error)
	SwitchSession(ctx context.Context, id uint64) error
	DeleteSession(ctx context.Context, id uint64) error
	DeleteCurrentSession(ctx context.Context) error
	Send(ctx context.Context, text string) (chat.Message, error)
	Messages() []chat.Message
	Sessions(ctx context.Context) ([]chat.Summary, error)
	Current() (uint64, bool)
	Connected() bool
	Subscribe() (<-chan chatService.Event, func())
}

// Handler 聊天视图的HTTP处理器，所有路由都应挂在令牌守卫之后
type Handler struct {
	view View
}

// New 创建聊天处理器
func New(view View) *Handler {
	return &Handler{view: view}
}

// RegisterRoutes 注册聊天相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Use(h.mountView)

	r.Get("/sessions", h.handleListSessions)
	r.Post("/sessions", h.handleCreateSession)
	r.Delete("/sessions/current", h.handleDeleteCurrentSession)
	r.Post("/sessions/{sessionID}/activate", h.handleActivateSession)
	r.Delete("/sessions/{sessionID}", h.handleDeleteSession)

	r.Get("/messages", h.handleListMessages)
	r.Post("/messages", h.handleSendMessage)

	r.Get("/status", h.handleStatus)
	r.Get("/stream", stream.New(h.view).ServeHTTP)
}

// mountView 首次进入聊天视图时加载会话并打开连接
func (h *Handler) mountView(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := h.view.Mount(r.Context()); err != nil {
			logger.Error("failed to open chat view", "error", err)
			utils.RespondError(w, http.StatusInternalServerError, "failed to load sessions")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusResponse struct {
	Connected bool   `json:"connected"`
	SessionID uint64 `json:"sessionId,omitempty"`
}

type messagesResponse struct {
	SessionID uint64         `json:"sessionId"`
	Messages  []chat.Message `json:"messages"`
}

// handleListSessions 会话标签列表
func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.view.Sessions(r.Context())
	if err != nil {
		respondViewError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, sessions)
}

// handleCreateSession 新建会话并切换过去
func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	id, err := h.view.CreateSession(r.Context())
	if err != nil {
		respondViewError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusCreated, messagesResponse{SessionID: id, Messages: []chat.Message{}})
}

// handleActivateSession 切换当前会话
func (h *Handler) handleActivateSession(w http.ResponseWriter, r *http.Request) {
	id, ok := parseSessionID(w, r)
	if !ok {
		return
	}
	if err := h.view.SwitchSession(r.Context(), id); err != nil {
		respondViewError(w, err)
		return
	}
	h.handleListMessages(w, r)
}

// handleDeleteSession 删除指定会话
func (h *Handler) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id, ok := parseSessionID(w, r)
	if !ok {
		return
	}
	if err := h.view.DeleteSession(r.Context(), id); err != nil {
		respondViewError(w, err)
		return
	}
	h.respondCurrent(w)
}

// handleDeleteCurrentSession 删除当前会话
func (h *Handler) handleDeleteCurrentSession(w http.ResponseWriter, r *http.Request) {
	if err := h.view.DeleteCurrentSession(r.Context()); err != nil {
		respondViewError(w, err)
		return
	}
	h.respondCurrent(w)
}

// handleListMessages 当前会话的消息
func (h *Handler) handleListMessages(w http.ResponseWriter, r *http.Request) {
	h.respondCurrent(w)
}

// handleSendMessage 发送一条消息
func (h *Handler) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Text string `json:"text"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	msg, err := h.view.Send(r.Context(), payload.Text)
	if err != nil {
		respondViewError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusCreated, msg)
}

// handleStatus 连接状态指示
func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	current, _ := h.view.Current()
	utils.RespondJSON(w, http.StatusOK, statusResponse{Connected: h.view.Connected(), SessionID: current})
}

func (h *Handler) respondCurrent(w http.ResponseWriter) {
	current, _ := h.view.Current()
	utils.RespondJSON(w, http.StatusOK, messagesResponse{SessionID: current, Messages: h.view.Messages()})
}

func parseSessionID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "sessionID"), 10, 64)
	if err != nil || id == 0 {
		utils.RespondError(w, http.StatusBadRequest, "invalid session id")
		return 0, false
	}
	return id, true
}

func respondViewError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, chatService.ErrEmptyMessage):
		utils.RespondError(w, http.StatusBadRequest, "message text is required")
	case errors.Is(err, chatService.ErrSessionNotFound):
		utils.RespondError(w, http.StatusNotFound, "session not found")
	case errors.Is(err, chatService.ErrNotConnected):
		utils.RespondError(w, http.StatusConflict, "not connected")
	case errors.Is(err, chatService.ErrNoCurrentSession):
		utils.RespondError(w, http.StatusConflict, "no current session")
	default:
		logger.Error("chat view operation failed", "error", err)
		utils.RespondError(w, http.StatusInternalServerError, "something went wrong")
	}
}
