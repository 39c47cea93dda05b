// Package bootstrap assembles the client's services from configuration. Both the local
// API and the terminal client start from here.
package bootstrap

import (
	"fmt"

	"github.com/zhouzirui/echo-chat/client/internal/app"
	"github.com/zhouzirui/echo-chat/client/internal/config"
	"github.com/zhouzirui/echo-chat/client/internal/logger"
	"github.com/zhouzirui/echo-chat/client/internal/metrics"
	"github.com/zhouzirui/echo-chat/client/internal/service/auth"
	"github.com/zhouzirui/echo-chat/client/internal/service/chat"
	"github.com/zhouzirui/echo-chat/client/internal/service/connection"
	"github.com/zhouzirui/echo-chat/client/internal/service/guard"
	"github.com/zhouzirui/echo-chat/client/internal/storage"
)

// Services 客户端运行时依赖
type Services struct {
	Store   *storage.BoltStore
	AppCtx  *app.Context
	Metrics *metrics.Metrics
	Auth    *auth.Client
	Guard   *guard.Guard
	Socket  *connection.Manager
	Chat    *chat.Service
}

// Build 打开本地数据库并创建所有服务，调用方负责 Close
func Build(cfg *config.Config) (*Services, error) {
	store, err := storage.Open(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("open local database: %w", err)
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	appCtx := app.NewContext(store)
	socket := connection.NewManager(
		connection.OptionsFromConfig(cfg.Socket),
		connection.NewWebsocketDialer(cfg.Socket.HandshakeTimeout),
		m,
	)

	logger.Debug("services ready", "db", cfg.Store.Path, "echo", cfg.Socket.URL, "auth", cfg.Auth.BaseURL)

	return &Services{
		Store:   store,
		AppCtx:  appCtx,
		Metrics: m,
		Auth:    auth.NewClient(cfg.Auth, appCtx, auth.WithMetrics(m)),
		Guard:   guard.New(appCtx),
		Socket:  socket,
		Chat:    chat.NewService(appCtx, store, socket, chat.WithMetrics(m)),
	}, nil
}

// Close 关闭聊天视图和数据库
func (s *Services) Close() error {
	s.Chat.Unmount()
	return s.Store.Close()
}
