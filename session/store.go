// Package session keeps the signed-in session on disk between runs of the
// chat program, the way the web client kept it in localStorage.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cockroachdb/pebble/v2"

	"github.com/gosuda/axon-chat/chat"
)

var (
	keySession = []byte("session")
	keyMode    = []byte("pref/mode")
)

// Store is a small pebble database with one session record and a few
// client preferences.
type Store struct {
	db *pebble.DB
}

func Open(dir string) (*Store, error) {
	if dir == "" {
		return nil, errors.New("session: empty data path")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	db, err := pebble.Open(filepath.Join(filepath.Clean(dir), "session"), &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("session: open pebble db: %w", err)
	}
	return &Store{db: db}, nil
}

// Load returns the stored session or chat.ErrNoSession.
func (s *Store) Load() (chat.Session, error) {
	var sess chat.Session
	ok, err := s.get(keySession, &sess)
	if err != nil {
		return chat.Session{}, err
	}
	if !ok || !sess.Valid() {
		return chat.Session{}, chat.ErrNoSession
	}
	return sess, nil
}

func (s *Store) Save(sess chat.Session) error {
	if !sess.Valid() {
		return fmt.Errorf("session: save: %w", chat.ErrNoSession)
	}
	return s.set(keySession, sess)
}

// Clear forgets the session. Preferences survive.
func (s *Store) Clear() error {
	if err := s.db.Delete(keySession, pebble.Sync); err != nil {
		return fmt.Errorf("session: clear: %w", err)
	}
	return nil
}

// Mode returns the last used input mode, text when none was saved.
func (s *Store) Mode() chat.Mode {
	var m chat.Mode
	if ok, err := s.get(keyMode, &m); err != nil || !ok || !m.Valid() {
		return chat.ModeText
	}
	return m
}

func (s *Store) SaveMode(m chat.Mode) error {
	if !m.Valid() {
		return fmt.Errorf("session: %w: %q", chat.ErrInvalidMode, m)
	}
	return s.set(keyMode, m)
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) get(key []byte, v any) (bool, error) {
	data, closer, err := s.db.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("session: get %s: %w", key, err)
	}
	defer closer.Close()
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("session: decode %s: %w", key, err)
	}
	return true, nil
}

func (s *Store) set(key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("session: encode %s: %w", key, err)
	}
	if err := s.db.Set(key, data, pebble.Sync); err != nil {
		return fmt.Errorf("session: set %s: %w", key, err)
	}
	return nil
}
