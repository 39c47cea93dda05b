package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultAuthBaseURL    = "https://echo-chat-backend.onrender.com"
	defaultEchoURL        = "wss://echo-websocket-p2h2.onrender.com"
	defaultReconnectDelay = 3000 * time.Millisecond
	defaultDBPath         = "echochat.db"
)

// Config 聚合整个客户端的配置项。
type Config struct {
	Server  ServerConfig
	Auth    AuthConfig
	Socket  SocketConfig
	Store   StoreConfig
	Log     LogConfig
	Metrics MetricsConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	auth, err := loadAuthConfig()
	if err != nil {
		return nil, err
	}

	socket, err := loadSocketConfig()
	if err != nil {
		return nil, err
	}

	metrics, err := loadMetricsConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:  server,
		Auth:    auth,
		Socket:  socket,
		Store:   StoreConfig{Path: getEnvOrDefault("CHAT_DB_PATH", defaultDBPath)},
		Log:     loadLogConfig(),
		Metrics: metrics,
	}, nil
}

// ServerConfig 描述本地 HTTP API 配置。
type ServerConfig struct {
	Addr           string
	AllowedOrigins []string
}

// loadServerConfig 解析本地 API 监听地址。
func loadServerConfig() (ServerConfig, error) {
	origins := splitList(getEnvOrDefault("CORS_ALLOWED_ORIGINS", "*"))

	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port, AllowedOrigins: origins}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port, AllowedOrigins: origins}, nil
}

// AuthConfig 描述远程认证服务配置。
type AuthConfig struct {
	BaseURL string
	Timeout time.Duration
}

func loadAuthConfig() (AuthConfig, error) {
	baseURL := strings.TrimRight(getEnvOrDefault("AUTH_BASE_URL", defaultAuthBaseURL), "/")
	if err := validateURL("AUTH_BASE_URL", baseURL, "http", "https"); err != nil {
		return AuthConfig{}, err
	}

	timeout, err := parseOptionalIntEnv("AUTH_TIMEOUT_SECONDS")
	if err != nil {
		return AuthConfig{}, err
	}
	timeoutSeconds := 15
	if timeout != nil && *timeout > 0 {
		timeoutSeconds = *timeout
	}

	return AuthConfig{
		BaseURL: baseURL,
		Timeout: time.Duration(timeoutSeconds) * time.Second,
	}, nil
}

// SocketConfig 描述回显 WebSocket 连接配置。
type SocketConfig struct {
	URL              string
	ReconnectDelay   time.Duration
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
}

func loadSocketConfig() (SocketConfig, error) {
	wsURL := getEnvOrDefault("ECHO_WS_URL", defaultEchoURL)
	if err := validateURL("ECHO_WS_URL", wsURL, "ws", "wss"); err != nil {
		return SocketConfig{}, err
	}

	delay := defaultReconnectDelay
	delayMS, err := parseOptionalIntEnv("ECHO_RECONNECT_DELAY_MS")
	if err != nil {
		return SocketConfig{}, err
	}
	if delayMS != nil {
		if *delayMS <= 0 {
			return SocketConfig{}, fmt.Errorf("invalid ECHO_RECONNECT_DELAY_MS value %d: must be positive", *delayMS)
		}
		delay = time.Duration(*delayMS) * time.Millisecond
	}

	handshake, err := parseOptionalIntEnv("ECHO_HANDSHAKE_TIMEOUT_SECONDS")
	if err != nil {
		return SocketConfig{}, err
	}
	handshakeSeconds := 10 // 默认10秒
	if handshake != nil && *handshake > 0 {
		handshakeSeconds = *handshake
	}

	return SocketConfig{
		URL:              wsURL,
		ReconnectDelay:   delay,
		HandshakeTimeout: time.Duration(handshakeSeconds) * time.Second,
		WriteTimeout:     10 * time.Second,
	}, nil
}

// StoreConfig 描述本地嵌入式数据库配置。
type StoreConfig struct {
	Path string
}

// LogConfig 描述日志配置。
type LogConfig struct {
	Level string
	File  string
}

func loadLogConfig() LogConfig {
	return LogConfig{
		Level: strings.ToLower(getEnvOrDefault("LOG_LEVEL", "info")),
		File:  strings.TrimSpace(os.Getenv("LOG_FILE")),
	}
}

// MetricsConfig 描述指标导出配置。
type MetricsConfig struct {
	Enabled bool
}

func loadMetricsConfig() (MetricsConfig, error) {
	enabled, err := parseBoolEnv("METRICS_ENABLED", true)
	if err != nil {
		return MetricsConfig{}, err
	}
	return MetricsConfig{Enabled: enabled}, nil
}

func validateURL(key, raw string, schemes ...string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	for _, scheme := range schemes {
		if parsed.Scheme == scheme && parsed.Host != "" {
			return nil
		}
	}
	return fmt.Errorf("invalid %s value %q: expected %s url", key, raw, strings.Join(schemes, "/"))
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
