package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zhouzirui/echo-chat/client/internal/handler/auth"
	"github.com/zhouzirui/echo-chat/client/internal/handler/chat"
	"github.com/zhouzirui/echo-chat/client/internal/metrics"
	middlewarePkg "github.com/zhouzirui/echo-chat/client/internal/middleware"
	authService "github.com/zhouzirui/echo-chat/client/internal/service/auth"
	chatService "github.com/zhouzirui/echo-chat/client/internal/service/chat"
	"github.com/zhouzirui/echo-chat/client/internal/service/guard"
	"github.com/zhouzirui/echo-chat/client/pkg/utils"
)

// Dependencies 路由需要的核心服务
type Dependencies struct {
	Auth           *authService.Client
	Guard          *guard.Guard
	Chat           *chatService.Service
	Metrics        *metrics.Metrics
	AllowedOrigins []string
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.RequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS(deps.AllowedOrigins))

	authHandler := auth.New(deps.Auth, deps.Guard, deps.Chat.Unmount)
	chatHandler := chat.New(deps.Chat)

	r.Route("/api", func(api chi.Router) {
		authHandler.RegisterRoutes(api)

		// 聊天视图只对持有未过期令牌的请求开放，被拒绝时关闭连接
		api.Route("/chat", func(cr chi.Router) {
			cr.Use(middlewarePkg.RequireToken(deps.Guard, deps.Chat.Unmount))
			chatHandler.RegisterRoutes(cr)
		})
	})

	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		utils.RespondError(w, http.StatusNotFound, "not found")
	})

	return r
}
