package terminal

import (
	"strconv"
	"strings"
)

// Action is what a line typed in the chat view asks for.
type Action int

const (
	ActionSend Action = iota
	ActionNewSession
	ActionSwitchSession
	ActionDeleteSession
	ActionListSessions
	ActionStatus
	ActionLogout
	ActionQuit
	ActionHelp
	ActionInvalid
)

// Input is a parsed chat-view line.
type Input struct {
	Action  Action
	Text    string
	Session uint64
	Problem string
}

// Help 聊天视图中可用的命令
const Help = `/new            start a new session
/switch <id>    switch to another session
/delete [id]    delete a session (current one by default)
/sessions       list sessions
/status         show the connection status
/logout         log out and leave the chat
/quit           leave the chat
anything else is sent to the echo server`

// ParseInput 解析一行输入。以 "//" 开头的行按普通文本发送（去掉一个斜杠）。
func ParseInput(line string) Input {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "/") {
		return Input{Action: ActionSend, Text: line}
	}
	if strings.HasPrefix(trimmed, "//") {
		return Input{Action: ActionSend, Text: trimmed[1:]}
	}

	fields := strings.Fields(trimmed)
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "/new":
		return Input{Action: ActionNewSession}
	case "/switch":
		if len(args) != 1 {
			return Input{Action: ActionInvalid, Problem: "usage: /switch <id>"}
		}
		id, ok := parseID(args[0])
		if !ok {
			return Input{Action: ActionInvalid, Problem: "invalid session id: " + args[0]}
		}
		return Input{Action: ActionSwitchSession, Session: id}
	case "/delete":
		if len(args) == 0 {
			return Input{Action: ActionDeleteSession}
		}
		id, ok := parseID(args[0])
		if !ok {
			return Input{Action: ActionInvalid, Problem: "invalid session id: " + args[0]}
		}
		return Input{Action: ActionDeleteSession, Session: id}
	case "/sessions":
		return Input{Action: ActionListSessions}
	case "/status":
		return Input{Action: ActionStatus}
	case "/logout":
		return Input{Action: ActionLogout}
	case "/quit", "/exit":
		return Input{Action: ActionQuit}
	case "/help":
		return Input{Action: ActionHelp}
	default:
		return Input{Action: ActionInvalid, Problem: "unknown command " + cmd + ", try /help"}
	}
}

func parseID(raw string) (uint64, bool) {
	id, err := strconv.ParseUint(strings.TrimPrefix(raw, "#"), 10, 64)
	return id, err == nil && id != 0
}
