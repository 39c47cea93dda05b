// Package app holds the client's application context: the logged-in identity and the
// pointer to the active chat session. Auth, guard and chat components all receive the
// same *Context instead of reading preferences on their own.
package app

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/zhouzirui/echo-chat/client/internal/storage"
)

// Context is safe for concurrent use.
type Context struct {
	prefs storage.Preferences

	mu      sync.RWMutex
	current uint64
}

// NewContext binds a Context to a preference store.
func NewContext(prefs storage.Preferences) *Context {
	return &Context{prefs: prefs}
}

// Token returns the stored auth token.
func (c *Context) Token() (string, bool, error) {
	token, ok, err := c.prefs.GetPref(storage.PrefToken)
	if err != nil {
		return "", false, fmt.Errorf("read token: %w", err)
	}
	if !ok || token == "" {
		return "", false, nil
	}
	return token, true, nil
}

// SetToken stores the auth token, replacing any previous identity.
func (c *Context) SetToken(token string) error {
	if err := c.prefs.SetPref(storage.PrefToken, token); err != nil {
		return fmt.Errorf("store token: %w", err)
	}
	return nil
}

// ClearToken forgets the logged-in identity.
func (c *Context) ClearToken() error {
	if err := c.prefs.RemovePref(storage.PrefToken); err != nil {
		return fmt.Errorf("clear token: %w", err)
	}
	return nil
}

// CurrentSession returns the active session id, if one is selected.
func (c *Context) CurrentSession() (uint64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current, c.current != 0
}

// SetCurrentSession makes id the active session and remembers it as the last used one.
// The in-memory pointer moves even when persisting the preference fails.
func (c *Context) SetCurrentSession(id uint64) error {
	c.mu.Lock()
	c.current = id
	c.mu.Unlock()

	if err := c.prefs.SetPref(storage.PrefLastSessionID, strconv.FormatUint(id, 10)); err != nil {
		return fmt.Errorf("store last session id: %w", err)
	}
	return nil
}

// ClearCurrentSession drops the in-memory pointer. The last-used preference is kept so a
// later load can restore it.
func (c *Context) ClearCurrentSession() {
	c.mu.Lock()
	c.current = 0
	c.mu.Unlock()
}

// LastSessionID returns the remembered session id. Missing or malformed values report false.
func (c *Context) LastSessionID() (uint64, bool) {
	raw, ok, err := c.prefs.GetPref(storage.PrefLastSessionID)
	if err != nil || !ok {
		return 0, false
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return id, true
}

// Routes of the client. The chat view is the only guarded one.
const (
	RouteEntry  = "/"
	RouteSignup = "/signup"
	RouteChat   = "/chat"
)
