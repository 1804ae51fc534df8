package main

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/axon-chat/chat"
)

func seed(t *testing.T, h historyStore) {
	t.Helper()
	base := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		require.NoError(t, h.Append(record{User: "mina", Message: fmt.Sprintf("m%d", i), Response: fmt.Sprintf("r%d", i), Mode: chat.ModeText, TS: base.Add(time.Duration(i) * time.Minute)}))
	}
	require.NoError(t, h.Append(record{User: "jun", Message: "other", Response: "x", Mode: chat.ModeVoice, TS: base}))
}

func messages(rows []record) []string {
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Message)
	}
	return out
}

func testHistoryStore(t *testing.T, h historyStore) {
	seed(t, h)

	rows, err := h.Recent("mina", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"m2", "m1", "m0"}, messages(rows))

	rows, err = h.Recent("mina", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"m2", "m1"}, messages(rows))
	assert.Equal(t, "2025-01-01 09:02:00", rows[0].turn().Timestamp)

	n, err := h.Clear("mina")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	rows, err = h.Recent("mina", 10)
	require.NoError(t, err)
	assert.Empty(t, rows)

	rows, err = h.Recent("jun", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"other"}, messages(rows))

	n, err = h.Clear("mina")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestMemoryHistory(t *testing.T) {
	testHistoryStore(t, newMemoryHistory())
}

func TestPebbleHistory(t *testing.T) {
	h, err := openPebbleHistory(t.TempDir())
	require.NoError(t, err)
	defer h.Close()
	testHistoryStore(t, h)
}

func TestPebbleHistoryResumesSequence(t *testing.T) {
	dir := t.TempDir()
	h, err := openPebbleHistory(dir)
	require.NoError(t, err)
	seed(t, h)
	require.NoError(t, h.Close())

	h, err = openPebbleHistory(dir)
	require.NoError(t, err)
	defer h.Close()
	require.NoError(t, h.Append(record{User: "mina", Message: "after restart"}))

	rows, err := h.Recent("mina", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"after restart", "m2", "m1", "m0"}, messages(rows))
}

func TestAccounts(t *testing.T) {
	_, err := newAccounts([]string{"nopass"})
	assert.Error(t, err)
	_, err = newAccounts([]string{"a:1", "a:2"})
	assert.Error(t, err)

	acc, err := newAccounts([]string{"mina:secret", " ", "jun:pw"})
	require.NoError(t, err)

	_, _, ok := acc.login("mina", "wrong")
	assert.False(t, ok)

	token, user, ok := acc.login("mina", "secret")
	require.True(t, ok)
	assert.Equal(t, "mina", user.Username)
	assert.Equal(t, int64(1), user.ID)

	got, ok := acc.lookup(token)
	assert.True(t, ok)
	assert.Equal(t, user, got)

	acc.logout(token)
	_, ok = acc.lookup(token)
	assert.False(t, ok)
	_, ok = acc.lookup("")
	assert.False(t, ok)
}
