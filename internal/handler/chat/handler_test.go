package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/echo-chat/client/internal/app"
	"github.com/zhouzirui/echo-chat/client/internal/model/chat"
	chatservice "github.com/zhouzirui/echo-chat/client/internal/service/chat"
	"github.com/zhouzirui/echo-chat/client/internal/service/connection"
	"github.com/zhouzirui/echo-chat/client/internal/storage"
)

type stubConn struct {
	mu        sync.Mutex
	connected bool
	sent      []string
}

func (c *stubConn) Start(context.Context, connection.Handler) error { return nil }
func (c *stubConn) Stop()                                           {}

func (c *stubConn) Send(_ context.Context, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, text)
	return nil
}

func (c *stubConn) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func setupRouter() (*chi.Mux, *chatservice.Service, *stubConn) {
	store := storage.NewMemoryStore()
	conn := &stubConn{connected: true}
	chatSvc := chatservice.NewService(app.NewContext(store), store, conn)
	handler := New(chatSvc)

	r := chi.NewRouter()
	handler.RegisterRoutes(r)
	return r, chatSvc, conn
}

func do(r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func decodeMessages(t *testing.T, resp *httptest.ResponseRecorder) messagesResponse {
	t.Helper()
	var body messagesResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return body
}

func TestFirstVisitCreatesSession(t *testing.T) {
	r, _, _ := setupRouter()

	resp := do(r, http.MethodGet, "/sessions", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}

	var sessions []chat.Summary
	if err := json.NewDecoder(resp.Body).Decode(&sessions); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(sessions) != 1 || !sessions[0].Current {
		t.Fatalf("expected one current session, got %+v", sessions)
	}
}

func TestSendMessage(t *testing.T) {
	r, _, conn := setupRouter()

	resp := do(r, http.MethodPost, "/messages", map[string]string{"text": "hello"})
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", resp.Code, resp.Body.String())
	}
	if len(conn.sent) != 1 || conn.sent[0] != "hello" {
		t.Fatalf("unexpected frames sent: %v", conn.sent)
	}

	body := decodeMessages(t, do(r, http.MethodGet, "/messages", nil))
	if len(body.Messages) != 1 || body.Messages[0].Received {
		t.Fatalf("unexpected messages: %+v", body.Messages)
	}
}

func TestSendEmptyMessage(t *testing.T) {
	r, _, _ := setupRouter()

	resp := do(r, http.MethodPost, "/messages", map[string]string{"text": "  "})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestSendWhileDisconnected(t *testing.T) {
	r, _, conn := setupRouter()
	conn.connected = false

	resp := do(r, http.MethodPost, "/messages", map[string]string{"text": "hello"})
	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.Code)
	}
}

func TestSessionLifecycle(t *testing.T) {
	r, _, _ := setupRouter()

	first := decodeMessages(t, do(r, http.MethodGet, "/messages", nil)).SessionID
	resp := do(r, http.MethodPost, "/sessions", nil)
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.Code)
	}
	second := decodeMessages(t, resp).SessionID
	if second == first {
		t.Fatal("expected a new session id")
	}

	resp = do(r, http.MethodPost, "/sessions/"+itoa(first)+"/activate", nil)
	if got := decodeMessages(t, resp).SessionID; got != first {
		t.Fatalf("expected session %d to be current, got %d", first, got)
	}

	resp = do(r, http.MethodDelete, "/sessions/current", nil)
	if got := decodeMessages(t, resp).SessionID; got != second {
		t.Fatalf("expected fallback to session %d, got %d", second, got)
	}

	resp = do(r, http.MethodDelete, "/sessions/"+itoa(first), nil)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for deleted session, got %d", resp.Code)
	}

	resp = do(r, http.MethodPost, "/sessions/abc/activate", nil)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestStatus(t *testing.T) {
	r, _, _ := setupRouter()

	var body statusResponse
	_ = json.NewDecoder(do(r, http.MethodGet, "/status", nil).Body).Decode(&body)
	if !body.Connected || body.SessionID == 0 {
		t.Fatalf("unexpected status: %+v", body)
	}
}

func itoa(id uint64) string {
	return strconv.FormatUint(id, 10)
}
