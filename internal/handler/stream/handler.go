package stream

import (
	"net/http"
	"time"

	"github.com/zhouzirui/echo-chat/client/internal/logger"
	chatService "github.com/zhouzirui/echo-chat/client/internal/service/chat"
	"github.com/zhouzirui/echo-chat/client/pkg/utils"
)

const keepAliveInterval = 15 * time.Second

// Source 提供聊天视图事件，*chatService.Service 实现该接口
type Source interface {
	Subscribe() (<-chan chatService.Event, func())
	Current() (uint64, bool)
	Connected() bool
}

// Handler manages chat view events via Server-Sent Events
type Handler struct {
	source    Source
	keepAlive time.Duration
}

// New creates a new stream handler
func New(source Source) *Handler {
	return &Handler{source: source, keepAlive: keepAliveInterval}
}

// ServeHTTP 先推送一次当前连接状态，然后转发消息、状态和会话切换事件，直到客户端断开
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	events, unsubscribe := h.source.Subscribe()
	defer unsubscribe()

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)

	current, _ := h.source.Current()
	if err := utils.SendSSEEvent(w, flusher, string(chatService.EventStatus), chatService.Event{
		Type:      chatService.EventStatus,
		SessionID: current,
		Connected: h.source.Connected(),
	}); err != nil {
		return
	}

	ctx := r.Context()
	logger.Debug("chat stream opened", "session", current)

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Debug("chat stream closed", "session", current)
			return
		case ev, open := <-events:
			if !open {
				return
			}
			if err := utils.SendSSEEvent(w, flusher, string(ev.Type), ev); err != nil {
				return
			}
		case <-ticker.C:
			if err := utils.SendSSEComment(w, flusher, "keep-alive"); err != nil {
				return
			}
		}
	}
}
