package storage

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/zhouzirui/echo-chat/client/internal/model/chat"
)

var (
	sessionsBucket = []byte("sessions")
	prefsBucket    = []byte("prefs")
)

// BoltStore implements Store on top of a single bbolt file.
type BoltStore struct {
	db *bolt.DB
}

// Open opens (or creates) the database at path and makes sure both buckets exist.
func Open(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open chat database %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{sessionsBucket, prefsBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close releases the database file lock.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Add inserts a new session record using the bucket sequence as its id.
func (s *BoltStore) Add(ctx context.Context, session chat.Session) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var id uint64
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(sessionsBucket)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		id = seq
		session.ID = id
		return putSession(b, session)
	})
	if err != nil {
		return 0, s.wrap("add session", err)
	}
	return id, nil
}

// Get loads a single session record.
func (s *BoltStore) Get(ctx context.Context, id uint64) (chat.Session, error) {
	if err := ctx.Err(); err != nil {
		return chat.Session{}, err
	}

	var session chat.Session
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(sessionsBucket).Get(itob(id))
		if raw == nil {
			return ErrSessionNotFound
		}
		return json.Unmarshal(raw, &session)
	})
	if err != nil {
		return chat.Session{}, s.wrap(fmt.Sprintf("get session %d", id), err)
	}
	return session, nil
}

// Put overwrites the record stored under session.ID.
func (s *BoltStore) Put(ctx context.Context, session chat.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if session.ID == 0 {
		return fmt.Errorf("put session: %w", ErrSessionNotFound)
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		return putSession(tx.Bucket(sessionsBucket), session)
	})
	return s.wrap(fmt.Sprintf("put session %d", session.ID), err)
}

// Delete removes a session record.
func (s *BoltStore) Delete(ctx context.Context, id uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(sessionsBucket)
		key := itob(id)
		if b.Get(key) == nil {
			return ErrSessionNotFound
		}
		return b.Delete(key)
	})
	return s.wrap(fmt.Sprintf("delete session %d", id), err)
}

// List returns all sessions ordered by id. Big-endian keys make cursor order numeric order.
func (s *BoltStore) List(ctx context.Context) ([]chat.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sessions := make([]chat.Session, 0, 8)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(sessionsBucket).ForEach(func(_, v []byte) error {
			var session chat.Session
			if err := json.Unmarshal(v, &session); err != nil {
				return err
			}
			sessions = append(sessions, session)
			return nil
		})
	})
	if err != nil {
		return nil, s.wrap("list sessions", err)
	}
	return sessions, nil
}

// GetPref reads a preference value.
func (s *BoltStore) GetPref(key string) (string, bool, error) {
	var (
		value string
		found bool
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(prefsBucket).Get([]byte(key))
		if raw != nil {
			value = string(raw)
			found = true
		}
		return nil
	})
	if err != nil {
		return "", false, s.wrap("get pref "+key, err)
	}
	return value, found, nil
}

// SetPref writes a preference value.
func (s *BoltStore) SetPref(key, value string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(prefsBucket).Put([]byte(key), []byte(value))
	})
	return s.wrap("set pref "+key, err)
}

// RemovePref deletes a preference. Removing a missing key is not an error.
func (s *BoltStore) RemovePref(key string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(prefsBucket).Delete([]byte(key))
	})
	return s.wrap("remove pref "+key, err)
}

func (s *BoltStore) wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, bolt.ErrDatabaseNotOpen) {
		err = ErrClosed
	}
	return fmt.Errorf("%s: %w", op, err)
}

func putSession(b *bolt.Bucket, session chat.Session) error {
	session.Messages = chat.CloneMessages(session.Messages)
	raw, err := json.Marshal(session)
	if err != nil {
		return err
	}
	return b.Put(itob(session.ID), raw)
}

func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}
