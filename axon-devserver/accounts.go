package main

import (
	"crypto/subtle"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/gosuda/axon-chat/chat"
)

type account struct {
	user     chat.User
	password string
}

// accounts holds the configured users and the live session tokens.
type accounts struct {
	mu       sync.RWMutex
	byName   map[string]account
	sessions map[string]chat.User
}

// newAccounts parses "name:password" pairs.
func newAccounts(entries []string) (*accounts, error) {
	a := &accounts{byName: map[string]account{}, sessions: map[string]chat.User{}}
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		name, pass, ok := strings.Cut(entry, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" || pass == "" {
			return nil, fmt.Errorf("invalid user %q, want name:password", entry)
		}
		if strings.ContainsRune(name, 0) {
			return nil, fmt.Errorf("invalid user name %q", name)
		}
		if _, dup := a.byName[name]; dup {
			return nil, fmt.Errorf("duplicate user %q", name)
		}
		a.byName[name] = account{
			user:     chat.User{ID: int64(len(a.byName) + 1), Username: name},
			password: pass,
		}
	}
	return a, nil
}

// login checks credentials and opens a session.
func (a *accounts) login(name, password string) (string, chat.User, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	acc, ok := a.byName[name]
	if !ok || subtle.ConstantTimeCompare([]byte(acc.password), []byte(password)) != 1 {
		return "", chat.User{}, false
	}
	token := uuid.NewString()
	a.sessions[token] = acc.user
	return token, acc.user, true
}

func (a *accounts) lookup(token string) (chat.User, bool) {
	if token == "" {
		return chat.User{}, false
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	u, ok := a.sessions[token]
	return u, ok
}

func (a *accounts) logout(token string) {
	a.mu.Lock()
	delete(a.sessions, token)
	a.mu.Unlock()
}
