package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/echo-chat/client/internal/app"
	"github.com/zhouzirui/echo-chat/client/internal/logger"
	"github.com/zhouzirui/echo-chat/client/internal/metrics"
	"github.com/zhouzirui/echo-chat/client/internal/model/chat"
	"github.com/zhouzirui/echo-chat/client/internal/service/connection"
	"github.com/zhouzirui/echo-chat/client/internal/storage"
)

var (
	ErrEmptyMessage     = errors.New("message text is empty")
	ErrNoCurrentSession = errors.New("no current session")
	ErrSessionNotFound  = storage.ErrSessionNotFound
	ErrNotConnected     = connection.ErrNotConnected
)

const persistTimeout = 5 * time.Second

// Connection is the socket the chat view drives. *connection.Manager implements it.
type Connection interface {
	Start(ctx context.Context, h connection.Handler) error
	Stop()
	Send(ctx context.Context, text string) error
	Connected() bool
}

// Service is the chat view: it owns the current session's message list, writes it
// through to the session store and reacts to the echo socket.
type Service struct {
	appCtx  *app.Context
	store   storage.SessionStore
	conn    Connection
	metrics *metrics.Metrics
	now     func() time.Time
	newID   func() string

	// lifecycle 串行化 Mount/Unmount，保证 Stop 不会先于 Start 执行
	lifecycle sync.Mutex
	// sendMu 串行化发送，写帧期间不持有 mu
	sendMu sync.Mutex

	mu       sync.Mutex
	messages []chat.Message
	seen     map[string]struct{}
	mounted  bool
	// 写帧期间到达的回显帧，写完后按顺序追加在出站消息之后
	sending bool
	pending []string

	events *broadcaster
}

// Option customises a Service.
type Option func(*Service)

// WithMetrics records message and persistence counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithClock overrides the time source used for message timestamps and lastUpdated.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithIDGenerator overrides message id generation.
func WithIDGenerator(gen func() string) Option {
	return func(s *Service) {
		s.newID = gen
	}
}

// NewService wires the chat view to its collaborators.
func NewService(appCtx *app.Context, store storage.SessionStore, conn Connection, opts ...Option) *Service {
	s := &Service{
		appCtx:   appCtx,
		store:    store,
		conn:     conn,
		now:      time.Now,
		newID:    uuid.NewString,
		messages: make([]chat.Message, 0, 16),
		seen:     make(map[string]struct{}),
		events:   newBroadcaster(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Mount loads the sessions and opens the socket. Mounting twice is a no-op.
func (s *Service) Mount(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	if s.mounted {
		s.mu.Unlock()
		return nil
	}
	err := s.loadLocked(ctx)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	// the socket lives as long as the view, not as long as the request that mounted it
	if err := s.conn.Start(context.WithoutCancel(ctx), s); err != nil && !errors.Is(err, connection.ErrAlreadyRunning) {
		return fmt.Errorf("open echo socket: %w", err)
	}

	s.mu.Lock()
	s.mounted = true
	s.mu.Unlock()
	return nil
}

// Unmount closes the socket and cancels any pending reconnect. It waits for a Mount
// in progress, so the socket that Mount opens is always the one closed here.
func (s *Service) Unmount() {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	mounted := s.mounted
	s.mounted = false
	s.mu.Unlock()

	if mounted {
		s.conn.Stop()
	}
}

// Mounted reports whether the view is open.
func (s *Service) Mounted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mounted
}

// Load performs the initial load: create a first session when none exist, otherwise
// restore the last used one, falling back to the first listed session.
func (s *Service) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(ctx)
}

func (s *Service) loadLocked(ctx context.Context) error {
	sessions, err := s.store.List(ctx)
	if err != nil {
		return fmt.Errorf("load sessions: %w", err)
	}

	if len(sessions) == 0 {
		_, err := s.createLocked(ctx)
		return err
	}

	target := sessions[0].ID
	if last, ok := s.appCtx.LastSessionID(); ok && containsSession(sessions, last) {
		target = last
	}
	return s.switchLocked(ctx, target)
}

// CreateSession inserts an empty session and makes it current.
func (s *Service) CreateSession(ctx context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createLocked(ctx)
}

func (s *Service) createLocked(ctx context.Context) (uint64, error) {
	id, err := s.store.Add(ctx, chat.Session{
		Messages:    []chat.Message{},
		LastUpdated: s.now().UTC(),
	})
	if err != nil {
		return 0, fmt.Errorf("create session: %w", err)
	}

	s.setCurrentLocked(id, nil)
	logger.Debug("session created", "session", id)
	return id, nil
}

// SwitchSession makes id current and loads its messages.
func (s *Service) SwitchSession(ctx context.Context, id uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.switchLocked(ctx, id)
}

func (s *Service) switchLocked(ctx context.Context, id uint64) error {
	session, err := s.store.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("switch session: %w", err)
	}

	s.setCurrentLocked(id, session.Messages)
	return nil
}

// DeleteSession removes a session. Deleting the current session switches to the first
// remaining one, or to a fresh session when none remain.
func (s *Service) DeleteSession(ctx context.Context, id uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	logger.Debug("session deleted", "session", id)

	current, ok := s.appCtx.CurrentSession()
	if ok && current != id {
		s.events.publish(Event{Type: EventSession, SessionID: current})
		return nil
	}

	remaining, err := s.store.List(ctx)
	if err != nil {
		return fmt.Errorf("delete session: pick replacement: %w", err)
	}
	if len(remaining) > 0 {
		return s.switchLocked(ctx, remaining[0].ID)
	}
	_, err = s.createLocked(ctx)
	return err
}

// DeleteCurrentSession deletes whichever session is current.
func (s *Service) DeleteCurrentSession(ctx context.Context) error {
	current, ok := s.Current()
	if !ok {
		return ErrNoCurrentSession
	}
	return s.DeleteSession(ctx, current)
}

// SaveMessages overwrites the stored message list of session id. It does nothing while
// no session is current. Saving the current session also replaces the in-memory list.
func (s *Service) SaveMessages(ctx context.Context, id uint64, messages []chat.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.appCtx.CurrentSession()
	if !ok {
		return nil
	}
	if err := s.saveLocked(ctx, id, messages); err != nil {
		return err
	}
	if id == current {
		s.resetLocked(messages)
	}
	return nil
}

func (s *Service) saveLocked(ctx context.Context, id uint64, messages []chat.Message) error {
	err := s.store.Put(ctx, chat.Session{
		ID:          id,
		Messages:    chat.CloneMessages(messages),
		LastUpdated: s.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("save session %d: %w", id, err)
	}
	return nil
}

// Send writes text to the socket and appends it to the session that was current when
// the frame was written, as an outbound message. A failed save is logged and dropped;
// the message is still returned.
func (s *Service) Send(ctx context.Context, text string) (chat.Message, error) {
	if strings.TrimSpace(text) == "" {
		return chat.Message{}, ErrEmptyMessage
	}

	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	s.mu.Lock()
	origin, ok := s.appCtx.CurrentSession()
	if !ok {
		s.mu.Unlock()
		return chat.Message{}, ErrNoCurrentSession
	}
	if !s.conn.Connected() {
		s.mu.Unlock()
		return chat.Message{}, ErrNotConnected
	}
	msg := s.newMessage(text, false)
	s.sending = true
	s.mu.Unlock()

	err := s.conn.Send(ctx, text)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sending = false
	pending := s.pending
	s.pending = nil

	if err == nil {
		if current, ok := s.appCtx.CurrentSession(); ok && current == origin {
			s.appendLocked(ctx, msg)
		} else {
			s.appendStoredLocked(ctx, origin, msg)
		}
	}
	for _, frame := range pending {
		s.receiveLocked(frame)
	}

	if err != nil {
		logger.Warn("send failed", "error", err)
		return chat.Message{}, err
	}
	return msg, nil
}

// OnOpen implements connection.Handler.
func (s *Service) OnOpen() {
	s.events.publish(Event{Type: EventStatus, Connected: true})
}

// OnFrame implements connection.Handler: every inbound frame becomes a received message
// of the current session.
func (s *Service) OnFrame(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sending {
		s.pending = append(s.pending, text)
		return
	}
	s.receiveLocked(text)
}

func (s *Service) receiveLocked(text string) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	msg := s.newMessage(text, true)
	if _, dup := s.seen[msg.ID]; dup {
		logger.Debug("dropping duplicate frame", "id", msg.ID)
		return
	}
	s.appendLocked(ctx, msg)
}

// OnClose implements connection.Handler.
func (s *Service) OnClose(err error) {
	if err != nil {
		logger.Debug("chat view lost socket", "error", err)
	}
	s.events.publish(Event{Type: EventStatus, Connected: false})
}

// Messages returns a copy of the current session's messages.
func (s *Service) Messages() []chat.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return chat.CloneMessages(s.messages)
}

// Sessions lists every stored session, marking the current one.
func (s *Service) Sessions(ctx context.Context) ([]chat.Summary, error) {
	sessions, err := s.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	current, _ := s.appCtx.CurrentSession()
	summaries := make([]chat.Summary, 0, len(sessions))
	for _, session := range sessions {
		summaries = append(summaries, session.Summarize(current))
	}
	return summaries, nil
}

// Current returns the current session id.
func (s *Service) Current() (uint64, bool) {
	return s.appCtx.CurrentSession()
}

// Connected reports whether the send control is enabled.
func (s *Service) Connected() bool {
	return s.conn.Connected()
}

// Subscribe returns a feed of chat events and a function that ends the subscription.
func (s *Service) Subscribe() (<-chan Event, func()) {
	return s.events.subscribe()
}

func (s *Service) appendLocked(ctx context.Context, msg chat.Message) {
	s.seen[msg.ID] = struct{}{}
	s.messages = append(s.messages, msg)
	s.metrics.MessageAppended(msg.Received)

	current, ok := s.appCtx.CurrentSession()
	if ok {
		if err := s.saveLocked(ctx, current, s.messages); err != nil {
			s.metrics.PersistFailed()
			logger.Warn("write-through save failed", "session", current, "error", err)
		}
	}

	m := msg
	s.events.publish(Event{Type: EventMessage, SessionID: current, Message: &m})
}

// appendStoredLocked 会话在写帧期间被切走时，把出站消息写回原会话
func (s *Service) appendStoredLocked(ctx context.Context, id uint64, msg chat.Message) {
	session, err := s.store.Get(ctx, id)
	if err != nil {
		logger.Debug("dropping outbound message of a deleted session", "session", id, "error", err)
		return
	}
	s.metrics.MessageAppended(false)
	if err := s.saveLocked(ctx, id, append(session.Messages, msg)); err != nil {
		s.metrics.PersistFailed()
		logger.Warn("write-through save failed", "session", id, "error", err)
	}

	m := msg
	s.events.publish(Event{Type: EventMessage, SessionID: id, Message: &m})
}

func (s *Service) setCurrentLocked(id uint64, messages []chat.Message) {
	if err := s.appCtx.SetCurrentSession(id); err != nil {
		logger.Warn("could not remember last session", "session", id, "error", err)
	}
	s.resetLocked(messages)
	s.events.publish(Event{Type: EventSession, SessionID: id})
}

func (s *Service) resetLocked(messages []chat.Message) {
	s.messages = chat.CloneMessages(messages)
	s.seen = make(map[string]struct{}, len(messages))
	for _, msg := range messages {
		s.seen[msg.ID] = struct{}{}
	}
}

func (s *Service) newMessage(text string, received bool) chat.Message {
	return chat.Message{
		ID:        s.newID(),
		Text:      text,
		Received:  received,
		Timestamp: s.now().UnixMilli(),
	}
}

func containsSession(sessions []chat.Session, id uint64) bool {
	for _, session := range sessions {
		if session.ID == id {
			return true
		}
	}
	return false
}
