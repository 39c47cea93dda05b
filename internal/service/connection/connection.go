// Package connection keeps the single echo WebSocket open for the chat view.
package connection

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zhouzirui/echo-chat/client/internal/config"
	"github.com/zhouzirui/echo-chat/client/internal/logger"
	"github.com/zhouzirui/echo-chat/client/internal/metrics"
)

var (
	ErrNotConnected   = errors.New("socket not connected")
	ErrAlreadyRunning = errors.New("connection manager already running")
)

// State 连接状态
type State int32

const (
	StateDisconnected State = iota
	StateConnected
	// StateReconnecting 表示正在等待固定延迟后的下一次重连
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}

// Conn 是 Manager 使用的连接能力子集，*websocket.Conn 满足该接口
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Dialer 建立单次连接
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// Handler 接收连接生命周期事件，回调都在 Manager 的读协程中串行执行
type Handler interface {
	OnOpen()
	OnFrame(text string)
	OnClose(err error)
}

// WebsocketDialer 基于 gorilla/websocket 的 Dialer 实现
type WebsocketDialer struct {
	dialer *websocket.Dialer
	header http.Header
}

// NewWebsocketDialer 创建带握手超时的 Dialer
func NewWebsocketDialer(handshakeTimeout time.Duration) *WebsocketDialer {
	return &WebsocketDialer{
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		},
		header: http.Header{},
	}
}

// Dial 建立单次连接
func (d *WebsocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	conn, resp, err := d.dialer.DialContext(ctx, url, d.header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}
	return conn, nil
}

// Options 连接管理器配置
type Options struct {
	URL            string
	ReconnectDelay time.Duration
	WriteTimeout   time.Duration
}

// OptionsFromConfig 从配置构造连接选项
func OptionsFromConfig(cfg config.SocketConfig) Options {
	return Options{
		URL:            cfg.URL,
		ReconnectDelay: cfg.ReconnectDelay,
		WriteTimeout:   cfg.WriteTimeout,
	}
}

// Manager 维护到回显服务的单条 WebSocket 连接。
// 连接关闭或拨号失败后，经过固定延迟无限次重连；Stop 会同时关闭连接并取消待执行的重连。
type Manager struct {
	opts    Options
	dialer  Dialer
	metrics *metrics.Metrics

	state    atomic.Int32
	attempts atomic.Int64

	mu     sync.Mutex
	conn   Conn
	cancel context.CancelFunc
	done   chan struct{}

	writeMu sync.Mutex
}

// NewManager 创建连接管理器
func NewManager(opts Options, dialer Dialer, m *metrics.Metrics) *Manager {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = 3 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	return &Manager{
		opts:    opts,
		dialer:  dialer,
		metrics: m,
	}
}

// Start 打开连接并在后台维持，直到 ctx 结束或调用 Stop。两种情况下之后都可以再次 Start
func (m *Manager) Start(ctx context.Context, h Handler) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.done != nil {
		return ErrAlreadyRunning
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	m.cancel = cancel
	m.done = done

	go m.run(runCtx, h, done)
	return nil
}

// Stop 关闭连接并取消待执行的重连，返回时后台协程已经退出，不会再有回调。
// 不能在 Handler 回调中调用。
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.cancel == nil {
		m.mu.Unlock()
		return
	}
	m.cancel()
	conn, done := m.conn, m.done
	m.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	<-done
}

// State 返回当前连接状态
func (m *Manager) State() State {
	return State(m.state.Load())
}

// Connected 报告发送控件是否可用
func (m *Manager) Connected() bool {
	return m.State() == StateConnected
}

// Attempts 返回累计拨号次数
func (m *Manager) Attempts() int64 {
	return m.attempts.Load()
}

// Send 发送一条文本帧
func (m *Manager) Send(ctx context.Context, text string) error {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()

	if conn == nil || !m.Connected() {
		return ErrNotConnected
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	deadline := time.Now().Add(m.opts.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	conn.SetWriteDeadline(deadline)

	if err := conn.WriteMessage(websocket.TextMessage, []byte(text)); err != nil {
		// 让读协程感知到失败并进入重连流程
		conn.Close()
		return fmt.Errorf("send frame: %w", err)
	}
	return nil
}

func (m *Manager) run(ctx context.Context, h Handler, done chan struct{}) {
	defer close(done)
	defer m.release(done)
	defer m.setState(StateDisconnected)

	for {
		attempt := m.attempts.Add(1)
		log := logger.With("url", m.opts.URL, "attempt", attempt)

		conn, err := m.dialer.Dial(ctx, m.opts.URL)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.metrics.DialFailed()
			m.setState(StateDisconnected)
			log.Warn("echo socket dial failed", "error", err)
			h.OnClose(err)
		} else {
			if !m.attach(ctx, conn) {
				conn.Close()
				return
			}
			m.metrics.DialSucceeded()
			m.setState(StateConnected)
			log.Info("connected to echo socket")
			h.OnOpen()

			// 父 ctx 结束时关闭连接，让读循环退出
			stopWatch := context.AfterFunc(ctx, func() { conn.Close() })
			err = m.readLoop(conn, h)
			stopWatch()

			m.detach(conn)
			m.setState(StateDisconnected)
			m.metrics.Disconnected()
			if ctx.Err() != nil {
				log.Info("echo socket closed on teardown")
				h.OnClose(nil)
				return
			}
			if IsNormalClosure(err) {
				log.Info("echo socket closed", "reason", err)
			} else {
				log.Warn("echo socket lost", "error", err)
			}
			h.OnClose(err)
		}

		// 固定延迟后重连，不做退避，也没有次数上限
		m.setState(StateReconnecting)
		timer := time.NewTimer(m.opts.ReconnectDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (m *Manager) readLoop(conn Conn, h Handler) error {
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		switch messageType {
		case websocket.TextMessage:
			h.OnFrame(string(data))
		case websocket.BinaryMessage:
			h.OnFrame(DecodeBinary(data))
		}
	}
}

// attach 记录当前连接；如果 Stop 已经执行则拒绝
func (m *Manager) attach(ctx context.Context, conn Conn) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ctx.Err() != nil {
		return false
	}
	m.conn = conn
	return true
}

// release 清空运行状态，之后可以再次 Start
func (m *Manager) release(done chan struct{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.done != done {
		return
	}
	m.cancel()
	m.cancel = nil
	m.done = nil
}

func (m *Manager) detach(conn Conn) {
	m.mu.Lock()
	if m.conn == conn {
		m.conn = nil
	}
	m.mu.Unlock()
	conn.Close()
}

func (m *Manager) setState(s State) {
	m.state.Store(int32(s))
}

// DecodeBinary 将二进制帧按 UTF-8 解码，非法字节替换为 U+FFFD
func DecodeBinary(data []byte) string {
	return strings.ToValidUTF8(string(data), "\uFFFD")
}

// IsNormalClosure 判断是否为对端正常关闭
func IsNormalClosure(err error) bool {
	if err == nil {
		return true
	}
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}
