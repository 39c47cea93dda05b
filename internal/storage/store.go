// Package storage persists chat sessions and client preferences in a local embedded database.
package storage

import (
	"context"
	"errors"

	"github.com/zhouzirui/echo-chat/client/internal/model/chat"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrClosed          = errors.New("store closed")
)

// Preference keys. They play the role browser local storage had for the web client.
const (
	PrefToken         = "jwt"
	PrefLastSessionID = "lastSessionId"
)

// SessionStore is a record store keyed by an auto-incrementing session id.
type SessionStore interface {
	// Add inserts s under a freshly assigned id and returns that id. s.ID is ignored.
	Add(ctx context.Context, s chat.Session) (uint64, error)
	Get(ctx context.Context, id uint64) (chat.Session, error)
	// Put overwrites the record stored under s.ID.
	Put(ctx context.Context, s chat.Session) error
	Delete(ctx context.Context, id uint64) error
	// List returns every session in ascending id order.
	List(ctx context.Context) ([]chat.Session, error)
}

// Preferences is a flat string key-value store.
type Preferences interface {
	GetPref(key string) (string, bool, error)
	SetPref(key, value string) error
	RemovePref(key string) error
}

// Store bundles both halves of the local database.
type Store interface {
	SessionStore
	Preferences
	Close() error
}
