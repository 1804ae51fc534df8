package main

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cockroachdb/pebble/v2"

	"github.com/gosuda/axon-chat/chat"
)

// record is one stored exchange.
type record struct {
	User     string    `json:"user"`
	Message  string    `json:"message"`
	Response string    `json:"response"`
	Mode     chat.Mode `json:"mode"`
	Language string    `json:"language,omitempty"`
	TS       time.Time `json:"ts"`
}

func (r record) turn() chat.Turn {
	return chat.Turn{
		Message:   r.Message,
		Response:  r.Response,
		Mode:      r.Mode,
		Language:  r.Language,
		Timestamp: r.TS.UTC().Format(time.DateTime),
	}
}

type historyStore interface {
	Append(rec record) error
	// Recent returns up to limit records of user, newest first.
	Recent(user string, limit int) ([]record, error)
	// Clear deletes every record of user and reports how many there were.
	Clear(user string) (int, error)
	Close() error
}

type memoryHistory struct {
	mu   sync.Mutex
	rows []record
}

func newMemoryHistory() *memoryHistory { return &memoryHistory{} }

func (m *memoryHistory) Append(rec record) error {
	m.mu.Lock()
	m.rows = append(m.rows, rec)
	m.mu.Unlock()
	return nil
}

func (m *memoryHistory) Recent(user string, limit int) ([]record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []record
	for i := len(m.rows) - 1; i >= 0; i-- {
		if m.rows[i].User != user {
			continue
		}
		out = append(out, m.rows[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memoryHistory) Clear(user string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.rows[:0]
	n := 0
	for _, r := range m.rows {
		if r.User == user {
			n++
			continue
		}
		kept = append(kept, r)
	}
	m.rows = kept
	return n, nil
}

func (m *memoryHistory) Close() error { return nil }

// pebbleHistory keeps records under "h\x00<user>\x00<seq>" where seq is an
// 8-byte big-endian counter shared by all users.
type pebbleHistory struct {
	db   *pebble.DB
	mu   sync.Mutex
	next uint64
}

func openPebbleHistory(dir string) (*pebbleHistory, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	db, err := pebble.Open(filepath.Clean(dir), &pebble.Options{})
	if err != nil {
		return nil, err
	}
	s := &pebbleHistory{db: db}

	// Discover the next sequence from the highest one stored.
	it, err := db.NewIter(&pebble.IterOptions{LowerBound: []byte("h\x00"), UpperBound: []byte("h\x01")})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	defer func() { _ = it.Close() }()
	for it.First(); it.Valid(); it.Next() {
		if k := it.Key(); len(k) >= 8 {
			if seq := binary.BigEndian.Uint64(k[len(k)-8:]); seq >= s.next {
				s.next = seq + 1
			}
		}
	}
	return s, nil
}

func userBounds(user string) (lower, upper []byte) {
	lower = append([]byte("h\x00"+user), 0x00)
	upper = append([]byte("h\x00"+user), 0x01)
	return lower, upper
}

func (s *pebbleHistory) Append(rec record) error {
	val, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	prefix, _ := userBounds(rec.User)
	key := binary.BigEndian.AppendUint64(prefix, s.next)
	s.next++
	return s.db.Set(key, val, pebble.Sync)
}

func (s *pebbleHistory) Recent(user string, limit int) ([]record, error) {
	lower, upper := userBounds(user)
	it, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return nil, err
	}
	defer func() { _ = it.Close() }()
	var out []record
	for it.Last(); it.Valid(); it.Prev() {
		var r record
		if err := json.Unmarshal(it.Value(), &r); err != nil {
			continue
		}
		out = append(out, r)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *pebbleHistory) Clear(user string) (int, error) {
	lower, upper := userBounds(user)
	it, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return 0, err
	}
	n := 0
	for it.First(); it.Valid(); it.Next() {
		n++
	}
	if err := it.Close(); err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}
	if err := s.db.DeleteRange(lower, upper, pebble.Sync); err != nil {
		return 0, fmt.Errorf("delete history of %s: %w", user, err)
	}
	return n, nil
}

func (s *pebbleHistory) Close() error {
	return s.db.Close()
}
