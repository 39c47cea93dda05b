// Package terminal renders the chat view in a line-oriented terminal.
package terminal

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/zhouzirui/echo-chat/client/internal/model/chat"
)

// Theme groups the styles used by the terminal view.
type Theme struct {
	Connected    lipgloss.Style
	Disconnected lipgloss.Style
	Sent         lipgloss.Style
	Received     lipgloss.Style
	Timestamp    lipgloss.Style
	ActiveTab    lipgloss.Style
	Tab          lipgloss.Style
	Error        lipgloss.Style
	Info         lipgloss.Style
}

// DefaultTheme 默认配色，浅色和深色终端都可读
func DefaultTheme() Theme {
	return Theme{
		Connected:    lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		Disconnected: lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		Sent:         lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "25", Dark: "75"}).Bold(true),
		Received:     lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "240", Dark: "252"}),
		Timestamp:    lipgloss.NewStyle().Faint(true),
		ActiveTab:    lipgloss.NewStyle().Bold(true).Underline(true),
		Tab:          lipgloss.NewStyle().Faint(true),
		Error:        lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
		Info:         lipgloss.NewStyle().Italic(true),
	}
}

// PlainTheme 无样式，用于测试和非终端输出
func PlainTheme() Theme {
	s := lipgloss.NewStyle()
	return Theme{s, s, s, s, s, s, s, s, s}
}

// Status 连接状态指示，绿色圆点表示已连接
func (t Theme) Status(connected bool) string {
	if connected {
		return t.Connected.Render("●") + " connected"
	}
	return t.Disconnected.Render("●") + " disconnected"
}

// Message 渲染一条消息气泡
func (t Theme) Message(msg chat.Message) string {
	stamp := t.Timestamp.Render(msg.Time().Format(time.TimeOnly))
	if msg.Received {
		return fmt.Sprintf("%s %s %s", stamp, t.Received.Render("echo ›"), msg.Text)
	}
	return fmt.Sprintf("%s %s %s", stamp, t.Sent.Render("you  ›"), msg.Text)
}

// Tabs 渲染会话标签，当前会话高亮
func (t Theme) Tabs(sessions []chat.Summary) string {
	if len(sessions) == 0 {
		return t.Info.Render("no sessions")
	}

	tabs := make([]string, 0, len(sessions))
	for _, s := range sessions {
		label := fmt.Sprintf("#%d (%d)", s.ID, s.Messages)
		if s.Current {
			tabs = append(tabs, t.ActiveTab.Render("["+label+"]"))
		} else {
			tabs = append(tabs, t.Tab.Render(" "+label+" "))
		}
	}
	return strings.Join(tabs, " ")
}

// Failure 渲染阻塞提示
func (t Theme) Failure(text string) string {
	return t.Error.Render("! " + text)
}

// Note 渲染普通提示
func (t Theme) Note(text string) string {
	return t.Info.Render(text)
}
