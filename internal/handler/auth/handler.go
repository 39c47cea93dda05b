package auth

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/echo-chat/client/internal/logger"
	authmodel "github.com/zhouzirui/echo-chat/client/internal/model/auth"
	authService "github.com/zhouzirui/echo-chat/client/internal/service/auth"
	"github.com/zhouzirui/echo-chat/client/internal/service/guard"
	"github.com/zhouzirui/echo-chat/client/pkg/utils"
)

// Authenticator 由 *authService.Client 实现
type Authenticator interface {
	Login(ctx context.Context, identifier, password string) (authService.Result, error)
	Register(ctx context.Context, username, email, password string) (authService.Result, error)
	Logout() (string, error)
}

// Checker 由 *guard.Guard 实现
type Checker interface {
	Check() guard.Decision
}

// Handler 登录、注册、登出的HTTP处理器
type Handler struct {
	client Authenticator
	guard  Checker
	// onLogout 在清除令牌前关闭聊天视图
	onLogout func()
}

// New 创建认证处理器，onLogout 可以为 nil
func New(client Authenticator, g Checker, onLogout func()) *Handler {
	return &Handler{client: client, guard: g, onLogout: onLogout}
}

// RegisterRoutes 注册认证相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/auth", func(r chi.Router) {
		r.Post("/login", h.handleLogin)
		r.Post("/register", h.handleRegister)
		r.Post("/logout", h.handleLogout)
		r.Get("/status", h.handleStatus)
	})
}

type authResponse struct {
	Redirect string          `json:"redirect"`
	User     *authmodel.User `json:"user,omitempty"`
}

// handleLogin 登录
func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var payload authmodel.LoginRequest
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.client.Login(r.Context(), payload.Identifier, payload.Password)
	if err != nil {
		respondAuthError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, authResponse{Redirect: result.Redirect, User: result.User})
}

// handleRegister 注册
func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var payload authmodel.RegisterRequest
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.client.Register(r.Context(), payload.Username, payload.Email, payload.Password)
	if err != nil {
		respondAuthError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusCreated, authResponse{Redirect: result.Redirect, User: result.User})
}

// handleLogout 登出
func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if h.onLogout != nil {
		h.onLogout()
	}

	redirect, err := h.client.Logout()
	if err != nil {
		logger.Error("logout failed", "error", err)
		utils.RespondError(w, http.StatusInternalServerError, "something went wrong")
		return
	}
	utils.RespondJSON(w, http.StatusOK, authResponse{Redirect: redirect})
}

// handleStatus 返回守卫对当前令牌的判定
func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.guard.Check())
}

func respondAuthError(w http.ResponseWriter, err error) {
	var authErr *authService.Error
	if !errors.As(err, &authErr) {
		logger.Error("auth failed", "error", err)
		utils.RespondError(w, http.StatusInternalServerError, "something went wrong")
		return
	}

	status := http.StatusBadGateway
	switch authErr.Kind {
	case authService.KindInvalid:
		status = http.StatusBadRequest
	case authService.KindRejected:
		status = http.StatusUnauthorized
	}
	utils.RespondError(w, status, authErr.UserMessage())
}
