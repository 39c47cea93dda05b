package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/zhouzirui/echo-chat/client/internal/bootstrap"
	"github.com/zhouzirui/echo-chat/client/internal/config"
	"github.com/zhouzirui/echo-chat/client/internal/handler"
	"github.com/zhouzirui/echo-chat/client/internal/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn("failed to load .env file, continuing with system environment variables only", "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load configuration", "error", err)
	}

	logFile, err := logger.Configure(cfg.Log.Level, cfg.Log.File)
	if err != nil {
		logger.Fatal("failed to configure logging", "error", err)
	}
	defer logFile.Close()

	services, err := bootstrap.Build(cfg)
	if err != nil {
		logger.Fatal("failed to initialise services", "error", err)
	}
	defer func() {
		if err := services.Close(); err != nil {
			logger.Error("failed to close local database", "error", err)
		}
	}()

	if services.Metrics == nil {
		logger.Info("metrics disabled by configuration")
	}

	router := handler.NewRouter(handler.Dependencies{
		Auth:           services.Auth,
		Guard:          services.Guard,
		Chat:           services.Chat,
		Metrics:        services.Metrics,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	})

	if err := startServer(ctx, cfg.Server, router); err != nil {
		logger.Error("server error", "error", err)
	}
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) error {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
		// 收到退出信号时结束 SSE 长连接
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	logger.Info("echo-chat local API listening", "addr", addr)
	return runServer(ctx, srv)
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
