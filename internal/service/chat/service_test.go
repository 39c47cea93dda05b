package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/echo-chat/client/internal/app"
	"github.com/zhouzirui/echo-chat/client/internal/metrics"
	"github.com/zhouzirui/echo-chat/client/internal/model/chat"
	"github.com/zhouzirui/echo-chat/client/internal/service/connection"
	"github.com/zhouzirui/echo-chat/client/internal/storage"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeConnection struct {
	mu        sync.Mutex
	connected bool
	handler   connection.Handler
	starts    int
	stops     int
	sent      []string
	sendErr   error
}

func (c *fakeConnection) Start(_ context.Context, h connection.Handler) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handler != nil {
		return connection.ErrAlreadyRunning
	}
	c.handler = h
	c.starts++
	return nil
}

func (c *fakeConnection) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = nil
	c.connected = false
	c.stops++
}

func (c *fakeConnection) Send(_ context.Context, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, text)
	return nil
}

func (c *fakeConnection) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

type failingPutStore struct {
	*storage.MemoryStore
}

func (s failingPutStore) Put(context.Context, chat.Session) error {
	return errors.New("disk full")
}

type fixture struct {
	svc    *Service
	store  *storage.MemoryStore
	appCtx *app.Context
	conn   *fakeConnection
}

func sequentialIDs() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("msg-%d", n)
	}
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	store := storage.NewMemoryStore()
	appCtx := app.NewContext(store)
	conn := &fakeConnection{connected: true}
	opts = append([]Option{
		WithClock(func() time.Time { return fixedNow }),
		WithIDGenerator(sequentialIDs()),
	}, opts...)
	return &fixture{
		svc:    NewService(appCtx, store, conn, opts...),
		store:  store,
		appCtx: appCtx,
		conn:   conn,
	}
}

func TestLoadCreatesFirstSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.svc.Load(ctx))

	current, ok := f.svc.Current()
	require.True(t, ok)
	sessions, err := f.store.List(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, sessions[0].ID, current)
	assert.Empty(t, f.svc.Messages())

	last, ok := f.appCtx.LastSessionID()
	require.True(t, ok)
	assert.Equal(t, current, last)
}

func TestLoadRestoresLastSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.store.Add(ctx, chat.Session{Messages: []chat.Message{}})
	require.NoError(t, err)
	second, err := f.store.Add(ctx, chat.Session{Messages: []chat.Message{{ID: "a", Text: "kept"}}})
	require.NoError(t, err)
	require.NoError(t, f.appCtx.SetCurrentSession(second))
	f.appCtx.ClearCurrentSession()

	require.NoError(t, f.svc.Load(ctx))

	current, _ := f.svc.Current()
	assert.Equal(t, second, current)
	assert.NotEqual(t, first, current)
	require.Len(t, f.svc.Messages(), 1)
	assert.Equal(t, "kept", f.svc.Messages()[0].Text)
}

func TestLoadFallsBackToFirstSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.store.Add(ctx, chat.Session{Messages: []chat.Message{}})
	require.NoError(t, err)
	_, err = f.store.Add(ctx, chat.Session{Messages: []chat.Message{}})
	require.NoError(t, err)
	require.NoError(t, f.store.SetPref(storage.PrefLastSessionID, "99"))

	require.NoError(t, f.svc.Load(ctx))

	current, _ := f.svc.Current()
	assert.Equal(t, first, current)
}

func TestDeletingOnlySessionCreatesFreshOne(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id, err := f.svc.CreateSession(ctx)
	require.NoError(t, err)
	require.NoError(t, f.svc.DeleteSession(ctx, id))

	sessions, err := f.store.List(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.NotEqual(t, id, sessions[0].ID)

	current, ok := f.svc.Current()
	require.True(t, ok)
	assert.Equal(t, sessions[0].ID, current)
	assert.Empty(t, f.svc.Messages())
}

func TestDeletingCurrentSessionSwitchesToFirstRemaining(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.CreateSession(ctx)
	require.NoError(t, err)
	second, err := f.svc.CreateSession(ctx)
	require.NoError(t, err)

	require.NoError(t, f.svc.DeleteCurrentSession(ctx))

	current, _ := f.svc.Current()
	assert.Equal(t, first, current)
	_, err = f.store.Get(ctx, second)
	assert.ErrorIs(t, err, storage.ErrSessionNotFound)
}

func TestDeletingOtherSessionKeepsCurrent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.CreateSession(ctx)
	require.NoError(t, err)
	second, err := f.svc.CreateSession(ctx)
	require.NoError(t, err)

	require.NoError(t, f.svc.DeleteSession(ctx, first))

	current, _ := f.svc.Current()
	assert.Equal(t, second, current)
}

func TestSwitchToMissingSessionKeepsCurrent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id, err := f.svc.CreateSession(ctx)
	require.NoError(t, err)

	err = f.svc.SwitchSession(ctx, 404)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	current, _ := f.svc.Current()
	assert.Equal(t, id, current)
}

func TestSendAppendsOutboundMessage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id, err := f.svc.CreateSession(ctx)
	require.NoError(t, err)

	msg, err := f.svc.Send(ctx, "hello")
	require.NoError(t, err)

	assert.Equal(t, "hello", msg.Text)
	assert.False(t, msg.Received)
	assert.Equal(t, fixedNow.UnixMilli(), msg.Timestamp)
	assert.Equal(t, []string{"hello"}, f.conn.sent)
	assert.Equal(t, []chat.Message{msg}, f.svc.Messages())

	stored, err := f.store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []chat.Message{msg}, stored.Messages)
	assert.True(t, fixedNow.Equal(stored.LastUpdated))
}

func TestSendAndEchoReloadInOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id, err := f.svc.CreateSession(ctx)
	require.NoError(t, err)

	_, err = f.svc.Send(ctx, "hello")
	require.NoError(t, err)
	f.svc.OnFrame("hello")

	_, err = f.svc.CreateSession(ctx)
	require.NoError(t, err)
	require.NoError(t, f.svc.SwitchSession(ctx, id))

	msgs := f.svc.Messages()
	require.Len(t, msgs, 2)
	assert.False(t, msgs[0].Received)
	assert.True(t, msgs[1].Received)
	assert.Equal(t, "hello", msgs[1].Text)
}

func TestSendRejectsBlankText(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.CreateSession(ctx)
	require.NoError(t, err)

	for _, text := range []string{"", "   ", "\n\t"} {
		_, err := f.svc.Send(ctx, text)
		assert.ErrorIs(t, err, ErrEmptyMessage)
	}
	assert.Empty(t, f.conn.sent)
	assert.Empty(t, f.svc.Messages())
}

func TestSendRequiresConnection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.CreateSession(ctx)
	require.NoError(t, err)

	f.conn.connected = false
	_, err = f.svc.Send(ctx, "hello")
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Empty(t, f.svc.Messages())
}

func TestSendRequiresCurrentSession(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Send(context.Background(), "hello")
	assert.ErrorIs(t, err, ErrNoCurrentSession)
}

func TestFailedSocketWriteAppendsNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.CreateSession(ctx)
	require.NoError(t, err)

	f.conn.sendErr = errors.New("broken pipe")
	_, err = f.svc.Send(ctx, "hello")
	assert.Error(t, err)
	assert.Empty(t, f.svc.Messages())
}

func TestFrameOnlyTouchesCurrentSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	other, err := f.svc.CreateSession(ctx)
	require.NoError(t, err)
	current, err := f.svc.CreateSession(ctx)
	require.NoError(t, err)

	f.svc.OnFrame("echo")

	got, err := f.store.Get(ctx, current)
	require.NoError(t, err)
	require.Len(t, got.Messages, 1)
	assert.True(t, got.Messages[0].Received)

	untouched, err := f.store.Get(ctx, other)
	require.NoError(t, err)
	assert.Empty(t, untouched.Messages)
}

func TestDuplicateMessageIDsAreDropped(t *testing.T) {
	f := newFixture(t, WithIDGenerator(func() string { return "same" }))
	ctx := context.Background()
	_, err := f.svc.CreateSession(ctx)
	require.NoError(t, err)

	f.svc.OnFrame("one")
	f.svc.OnFrame("two")

	msgs := f.svc.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "one", msgs[0].Text)
}

func TestWriteThroughFailureIsSwallowed(t *testing.T) {
	mem := storage.NewMemoryStore()
	appCtx := app.NewContext(mem)
	conn := &fakeConnection{connected: true}
	m := metrics.New()
	svc := NewService(appCtx, failingPutStore{mem}, conn, WithMetrics(m), WithIDGenerator(sequentialIDs()))
	ctx := context.Background()

	_, err := svc.CreateSession(ctx)
	require.NoError(t, err)

	msg, err := svc.Send(ctx, "hello")
	require.NoError(t, err)
	assert.Equal(t, "hello", msg.Text)
	assert.Len(t, svc.Messages(), 1)

	expected := `
# HELP echochat_persist_failures_total Write-through saves that failed and were dropped.
# TYPE echochat_persist_failures_total counter
echochat_persist_failures_total 1
`
	assert.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), "echochat_persist_failures_total"))
}

func TestSaveMessagesWithoutCurrentSessionIsNoop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id, err := f.store.Add(ctx, chat.Session{Messages: []chat.Message{}})
	require.NoError(t, err)

	require.NoError(t, f.svc.SaveMessages(ctx, id, []chat.Message{{ID: "x", Text: "ignored"}}))

	stored, err := f.store.Get(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, stored.Messages)
}

func TestSaveMessagesReplacesCurrentList(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, err := f.svc.CreateSession(ctx)
	require.NoError(t, err)

	replacement := []chat.Message{{ID: "x", Text: "restored", Received: true}}
	require.NoError(t, f.svc.SaveMessages(ctx, id, replacement))

	assert.Equal(t, replacement, f.svc.Messages())
	stored, err := f.store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, replacement, stored.Messages)
}

func TestMountOpensSocketOnceAndUnmountStopsIt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.svc.Mount(ctx))
	require.NoError(t, f.svc.Mount(ctx))
	assert.True(t, f.svc.Mounted())
	assert.Equal(t, 1, f.conn.starts)
	assert.Same(t, f.svc, f.conn.handler)

	f.svc.Unmount()
	f.svc.Unmount()
	assert.False(t, f.svc.Mounted())
	assert.Equal(t, 1, f.conn.stops)
}

// gatedConnection blocks Start and Send until the test releases them.
type gatedConnection struct {
	*fakeConnection
	startEntered chan struct{}
	releaseStart chan struct{}
	sendEntered  chan struct{}
	releaseSend  chan struct{}
}

func newGatedConnection() *gatedConnection {
	return &gatedConnection{
		fakeConnection: &fakeConnection{connected: true},
		startEntered:   make(chan struct{}, 1),
		releaseStart:   make(chan struct{}),
		sendEntered:    make(chan struct{}, 1),
		releaseSend:    make(chan struct{}),
	}
}

func (c *gatedConnection) Start(ctx context.Context, h connection.Handler) error {
	c.startEntered <- struct{}{}
	<-c.releaseStart
	return c.fakeConnection.Start(ctx, h)
}

func (c *gatedConnection) Send(ctx context.Context, text string) error {
	c.sendEntered <- struct{}{}
	<-c.releaseSend
	return c.fakeConnection.Send(ctx, text)
}

func (c *gatedConnection) running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handler != nil
}

func newGatedFixture(t *testing.T) (*Service, *storage.MemoryStore, *gatedConnection) {
	t.Helper()
	store := storage.NewMemoryStore()
	conn := newGatedConnection()
	svc := NewService(app.NewContext(store), store, conn,
		WithClock(func() time.Time { return fixedNow }),
		WithIDGenerator(sequentialIDs()),
	)
	return svc, store, conn
}

func TestUnmountDuringMountStopsSocket(t *testing.T) {
	svc, _, conn := newGatedFixture(t)

	mountErr := make(chan error, 1)
	go func() { mountErr <- svc.Mount(context.Background()) }()
	<-conn.startEntered

	unmounted := make(chan struct{})
	go func() {
		svc.Unmount()
		close(unmounted)
	}()

	select {
	case <-unmounted:
		t.Fatal("Unmount returned while Mount was still opening the socket")
	case <-time.After(50 * time.Millisecond):
	}

	close(conn.releaseStart)
	require.NoError(t, <-mountErr)
	<-unmounted

	assert.False(t, svc.Mounted())
	assert.False(t, conn.running(), "socket must not outlive teardown")
	assert.Equal(t, 1, conn.starts)
	assert.Equal(t, 1, conn.stops)
}

func TestSendDoesNotBlockReadsOrFrames(t *testing.T) {
	svc, _, conn := newGatedFixture(t)
	ctx := context.Background()
	_, err := svc.CreateSession(ctx)
	require.NoError(t, err)

	sent := make(chan error, 1)
	go func() {
		_, err := svc.Send(ctx, "hello")
		sent <- err
	}()
	<-conn.sendEntered

	// the echo arrives before the write returns
	framed := make(chan struct{})
	go func() {
		svc.OnFrame("hello")
		close(framed)
	}()
	select {
	case <-framed:
	case <-time.After(time.Second):
		t.Fatal("OnFrame blocked behind a socket write")
	}
	assert.Empty(t, svc.Messages())

	close(conn.releaseSend)
	require.NoError(t, <-sent)

	msgs := svc.Messages()
	require.Len(t, msgs, 2)
	assert.False(t, msgs[0].Received)
	assert.True(t, msgs[1].Received)
}

func TestSendKeepsMessageInOriginSessionAfterSwitch(t *testing.T) {
	svc, store, conn := newGatedFixture(t)
	ctx := context.Background()
	origin, err := svc.CreateSession(ctx)
	require.NoError(t, err)

	sent := make(chan error, 1)
	go func() {
		_, err := svc.Send(ctx, "hello")
		sent <- err
	}()
	<-conn.sendEntered

	other, err := svc.CreateSession(ctx)
	require.NoError(t, err)

	close(conn.releaseSend)
	require.NoError(t, <-sent)

	assert.Empty(t, svc.Messages())
	current, _ := svc.Current()
	assert.Equal(t, other, current)

	stored, err := store.Get(ctx, origin)
	require.NoError(t, err)
	require.Len(t, stored.Messages, 1)
	assert.Equal(t, "hello", stored.Messages[0].Text)
}

func TestSessionsMarksCurrent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.CreateSession(ctx)
	require.NoError(t, err)
	second, err := f.svc.CreateSession(ctx)
	require.NoError(t, err)

	summaries, err := f.svc.Sessions(ctx)
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	assert.Equal(t, first, summaries[0].ID)
	assert.False(t, summaries[0].Current)
	assert.Equal(t, second, summaries[1].ID)
	assert.True(t, summaries[1].Current)
}

func TestSubscribeReceivesEvents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	events, unsubscribe := f.svc.Subscribe()
	defer unsubscribe()

	id, err := f.svc.CreateSession(ctx)
	require.NoError(t, err)
	f.svc.OnOpen()
	f.svc.OnFrame("echo")
	f.svc.OnClose(nil)

	got := []Event{<-events, <-events, <-events, <-events}
	assert.Equal(t, EventSession, got[0].Type)
	assert.Equal(t, id, got[0].SessionID)
	assert.Equal(t, Event{Type: EventStatus, Connected: true}, got[1])
	assert.Equal(t, EventMessage, got[2].Type)
	require.NotNil(t, got[2].Message)
	assert.Equal(t, "echo", got[2].Message.Text)
	assert.Equal(t, Event{Type: EventStatus, Connected: false}, got[3])
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	f := newFixture(t)

	events, unsubscribe := f.svc.Subscribe()
	unsubscribe()
	unsubscribe()

	_, open := <-events
	assert.False(t, open)
	f.svc.OnOpen()
}
