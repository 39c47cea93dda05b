package terminal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/chzyer/readline"

	"github.com/zhouzirui/echo-chat/client/internal/logger"
	"github.com/zhouzirui/echo-chat/client/internal/model/chat"
	"github.com/zhouzirui/echo-chat/client/internal/service/auth"
	chatService "github.com/zhouzirui/echo-chat/client/internal/service/chat"
	"github.com/zhouzirui/echo-chat/client/internal/service/guard"
)

var (
	ErrNotLoggedIn    = errors.New("not logged in")
	ErrSessionExpired = errors.New("login expired")
)

// LineReader is the subset of *readline.Instance the view uses.
type LineReader interface {
	Readline() (string, error)
	ReadPassword(prompt string) ([]byte, error)
	SetPrompt(prompt string)
	Stdout() io.Writer
}

// Authenticator is implemented by *auth.Client.
type Authenticator interface {
	Login(ctx context.Context, identifier, password string) (auth.Result, error)
	Register(ctx context.Context, username, email, password string) (auth.Result, error)
	Logout() (string, error)
}

// Guard is implemented by *guard.Guard.
type Guard interface {
	Check() guard.Decision
}

// ChatView is implemented by *chatService.Service.
type ChatView interface {
	Mount(ctx context.Context) error
	Unmount()
	Load(ctx context.Context) error
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

// App drives the entry, sign-up and chat screens on a terminal.
type App struct {
	rl    LineReader
	auth  Authenticator
	guard Guard
	view  ChatView
	theme Theme

	outMu sync.Mutex
}

// NewApp 创建终端应用
func NewApp(rl LineReader, a Authenticator, g Guard, view ChatView, theme Theme) *App {
	return &App{rl: rl, auth: a, guard: g, view: view, theme: theme}
}

// NewReadline 创建行编辑器，historyFile 为空时不保存历史
func NewReadline(historyFile string) (*readline.Instance, error) {
	return readline.NewEx(&readline.Config{
		Prompt:          "› ",
		HistoryFile:     historyFile,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
}

// Login 入口页：用户名或邮箱加密码
func (a *App) Login(ctx context.Context, identifier string) error {
	var err error
	if identifier == "" {
		if identifier, err = a.prompt("email or username: "); err != nil {
			return err
		}
	}
	password, err := a.rl.ReadPassword("password: ")
	if err != nil {
		return err
	}

	if _, err := a.auth.Login(ctx, identifier, string(password)); err != nil {
		a.alert(err)
		return err
	}
	a.println(a.theme.Note("logged in"))
	return nil
}

// Signup 注册页
func (a *App) Signup(ctx context.Context, username, email string) error {
	var err error
	if username == "" {
		if username, err = a.prompt("username: "); err != nil {
			return err
		}
	}
	if email == "" {
		if email, err = a.prompt("email: "); err != nil {
			return err
		}
	}
	password, err := a.rl.ReadPassword("password: ")
	if err != nil {
		return err
	}

	if _, err := a.auth.Register(ctx, username, email, string(password)); err != nil {
		a.alert(err)
		return err
	}
	a.println(a.theme.Note("account created, logged in"))
	return nil
}

// Logout 清除令牌，回到入口
func (a *App) Logout() error {
	if _, err := a.auth.Logout(); err != nil {
		a.println(a.theme.Failure("something went wrong"))
		return err
	}
	a.println(a.theme.Note("logged out"))
	return nil
}

// Sessions 打印会话标签
func (a *App) Sessions(ctx context.Context) error {
	if !a.allowed() {
		return ErrNotLoggedIn
	}
	if err := a.view.Load(ctx); err != nil {
		return err
	}
	return a.printTabs(ctx)
}

// Chat 聊天页：挂载视图并运行输入循环，退出时关闭连接
func (a *App) Chat(ctx context.Context) error {
	if !a.allowed() {
		return ErrNotLoggedIn
	}

	if err := a.view.Mount(ctx); err != nil {
		return err
	}
	defer a.view.Unmount()

	events, unsubscribe := a.view.Subscribe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		a.render(events)
	}()
	defer func() {
		unsubscribe()
		<-done
	}()

	a.println(a.theme.Status(a.view.Connected()))
	if err := a.printTabs(ctx); err != nil {
		return err
	}
	a.printHistory()
	a.println(a.theme.Note("type /help for commands"))

	for {
		a.rl.SetPrompt(a.promptText())
		line, err := a.rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				return nil
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		// 每次操作前重新检查令牌，过期即离开聊天页
		if decision := a.guard.Check(); !decision.Allowed {
			a.println(a.theme.Failure("login expired, please log in again"))
			return ErrSessionExpired
		}

		quit, err := a.dispatch(ctx, ParseInput(line))
		if err != nil {
			return err
		}
		if quit {
			return nil
		}
	}
}

func (a *App) dispatch(ctx context.Context, in Input) (bool, error) {
	switch in.Action {
	case ActionSend:
		if _, err := a.view.Send(ctx, in.Text); err != nil {
			switch {
			case errors.Is(err, chatService.ErrEmptyMessage):
			case errors.Is(err, chatService.ErrNotConnected):
				a.println(a.theme.Failure("not connected, waiting for the echo server"))
			default:
				logger.Warn("send failed", "error", err)
				a.println(a.theme.Failure("message not sent"))
			}
		}
	case ActionNewSession:
		a.sessionOp(ctx, func() error {
			_, err := a.view.CreateSession(ctx)
			return err
		})
	case ActionSwitchSession:
		a.sessionOp(ctx, func() error { return a.view.SwitchSession(ctx, in.Session) })
	case ActionDeleteSession:
		a.sessionOp(ctx, func() error {
			if in.Session == 0 {
				return a.view.DeleteCurrentSession(ctx)
			}
			return a.view.DeleteSession(ctx, in.Session)
		})
	case ActionListSessions:
		if err := a.printTabs(ctx); err != nil {
			logger.Error("list sessions failed", "error", err)
		}
	case ActionStatus:
		a.println(a.theme.Status(a.view.Connected()))
	case ActionLogout:
		// 先断开连接再清除令牌
		a.view.Unmount()
		return true, a.Logout()
	case ActionQuit:
		return true, nil
	case ActionHelp:
		a.println(Help)
	case ActionInvalid:
		a.println(a.theme.Failure(in.Problem))
	}
	return false, nil
}

// sessionOp 执行会话操作后重绘标签和历史，失败只记录日志
func (a *App) sessionOp(ctx context.Context, op func() error) {
	if err := op(); err != nil {
		if errors.Is(err, chatService.ErrSessionNotFound) {
			a.println(a.theme.Failure("no such session"))
			return
		}
		logger.Error("session operation failed", "error", err)
		a.println(a.theme.Failure("something went wrong"))
		return
	}
	if err := a.printTabs(ctx); err != nil {
		logger.Error("list sessions failed", "error", err)
	}
	a.printHistory()
}

// render 输出异步到达的事件：消息气泡和连接状态
func (a *App) render(events <-chan chatService.Event) {
	for ev := range events {
		switch ev.Type {
		case chatService.EventMessage:
			if ev.Message != nil {
				a.println(a.theme.Message(*ev.Message))
			}
		case chatService.EventStatus:
			a.println(a.theme.Status(ev.Connected))
		}
	}
}

func (a *App) allowed() bool {
	decision := a.guard.Check()
	if decision.Allowed {
		return true
	}
	logger.Debug("chat view denied", "reason", decision.Reason)
	a.println(a.theme.Failure("please log in first"))
	return false
}

func (a *App) printTabs(ctx context.Context) error {
	sessions, err := a.view.Sessions(ctx)
	if err != nil {
		return err
	}
	a.println(a.theme.Tabs(sessions))
	return nil
}

func (a *App) printHistory() {
	for _, msg := range a.view.Messages() {
		a.println(a.theme.Message(msg))
	}
}

func (a *App) promptText() string {
	if id, ok := a.view.Current(); ok {
		return fmt.Sprintf("#%d › ", id)
	}
	return "› "
}

func (a *App) prompt(label string) (string, error) {
	a.rl.SetPrompt(label)
	line, err := a.rl.Readline()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func (a *App) alert(err error) {
	var authErr *auth.Error
	if errors.As(err, &authErr) {
		a.println(a.theme.Failure(authErr.UserMessage()))
		return
	}
	a.println(a.theme.Failure("something went wrong"))
}

func (a *App) println(text string) {
	a.outMu.Lock()
	defer a.outMu.Unlock()
	fmt.Fprintln(a.rl.Stdout(), text)
}
