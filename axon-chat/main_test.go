package main

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/axon-chat/chat"
	"github.com/gosuda/axon-chat/conversation"
	"github.com/gosuda/axon-chat/delivery"
	"github.com/gosuda/axon-chat/render"
)

func TestWSURL(t *testing.T) {
	cases := map[string]string{
		"http://127.0.0.1:8080":        "ws://127.0.0.1:8080/ws",
		"https://chat.example.com/":    "wss://chat.example.com/ws",
		"https://example.com/axon?x=1": "wss://example.com/axon/ws",
		"ws://localhost:9000":          "ws://localhost:9000/ws",
	}
	for in, want := range cases {
		got, err := wsURL(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := wsURL("ftp://example.com")
	assert.Error(t, err)
	_, err = wsURL("http://")
	assert.Error(t, err)
}

func TestParseInput(t *testing.T) {
	assert.Equal(t, input{arg: "hello there"}, parseInput("  hello there "))
	assert.Equal(t, input{name: "mode", arg: "voice"}, parseInput("/Mode voice"))
	assert.Equal(t, input{name: "image", arg: "cat.png is it a cat?"}, parseInput("/image  cat.png is it a cat?"))
	assert.Equal(t, input{name: "quit"}, parseInput("/quit"))
	assert.Equal(t, input{arg: "/not a command"}, parseInput("//not a command"))
}

func TestPrintTurnsOldestFirst(t *testing.T) {
	var buf bytes.Buffer
	printTurns(&buf, "mina", []chat.Turn{
		{Message: "second", Response: "two", Mode: chat.ModeVoice, Timestamp: "2025-01-02 10:00:00"},
		{Message: "first", Response: "one", Mode: "", Timestamp: "2025-01-01 10:00:00"},
	})
	assert.Equal(t, "2025-01-01 10:00:00 (text)\n  mina: first\n  Axon AI: one\n"+
		"2025-01-02 10:00:00 (voice)\n  mina: second\n  Axon AI: two\n", buf.String())

	buf.Reset()
	printTurns(&buf, "mina", nil)
	assert.Equal(t, "No chat history\n", buf.String())
}

func TestConfirmPrompt(t *testing.T) {
	var out bytes.Buffer
	assert.True(t, confirmPrompt(bytes.NewBufferString("Yes\n"), &out, "Sure?"))
	assert.Equal(t, "Sure? [y/N] ", out.String())
	assert.False(t, confirmPrompt(bytes.NewBufferString("\n"), &out, "Sure?"))
	assert.False(t, confirmPrompt(bytes.NewBufferString(""), &out, "Sure?"))
}

func TestReadUploadDetectsType(t *testing.T) {
	dir := t.TempDir()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 2, 2))))

	named := filepath.Join(dir, "dot.png")
	require.NoError(t, os.WriteFile(named, buf.Bytes(), 0o644))
	up, err := readUpload(named)
	require.NoError(t, err)
	assert.Equal(t, "dot.png", up.Name)
	assert.Equal(t, "image/png", up.ContentType)

	bare := filepath.Join(dir, "snapshot")
	require.NoError(t, os.WriteFile(bare, buf.Bytes(), 0o644))
	up, err = readUpload(bare)
	require.NoError(t, err)
	assert.Equal(t, "image/png", up.ContentType)

	_, err = readUpload(filepath.Join(dir, "missing.png"))
	assert.Error(t, err)
}

type fakeAuth struct {
	verdict *bool
	fn      func(bool)
	done    chan struct{}
}

type nopSub struct{}

func (nopSub) Unsubscribe() {}

func (a *fakeAuth) OnAuthenticated(fn func(bool)) chat.Subscription {
	a.fn = fn
	return nopSub{}
}

func (a *fakeAuth) Authenticate(context.Context, string) error {
	if a.verdict != nil {
		go a.fn(*a.verdict)
	}
	return nil
}

func (a *fakeAuth) Done() <-chan struct{} { return a.done }

func TestAuthenticate(t *testing.T) {
	yes, no := true, false
	ctx := context.Background()

	assert.NoError(t, authenticate(ctx, &fakeAuth{verdict: &yes, done: make(chan struct{})}, "tok"))
	assert.ErrorIs(t, authenticate(ctx, &fakeAuth{verdict: &no, done: make(chan struct{})}, "tok"), delivery.ErrNotAuthenticated)

	closed := make(chan struct{})
	close(closed)
	assert.ErrorIs(t, authenticate(ctx, &fakeAuth{done: closed}, "tok"), chat.ErrNetworkFailure)
}

type loopbackChannel struct {
	mu   sync.Mutex
	sent []chat.Outgoing
	recv func(string)
}

func (c *loopbackChannel) Send(_ context.Context, out chat.Outgoing) error {
	c.mu.Lock()
	c.sent = append(c.sent, out)
	recv := c.recv
	c.mu.Unlock()
	go recv("echo: " + out.Body)
	return nil
}

func (c *loopbackChannel) OnReceive(fn func(string)) chat.Subscription {
	c.mu.Lock()
	c.recv = fn
	c.mu.Unlock()
	return nopSub{}
}

func (c *loopbackChannel) OnError(func(string)) chat.Subscription { return nopSub{} }

type memModes struct{ saved []chat.Mode }

func (m *memModes) SaveMode(mode chat.Mode) error {
	m.saved = append(m.saved, mode)
	return nil
}

type memHistory struct{ cleared int }

func (h *memHistory) History(context.Context, int) ([]chat.Turn, error) { return nil, nil }

func (h *memHistory) ClearHistory(context.Context) (string, error) {
	h.cleared++
	return "Cleared", nil
}

func TestReplDrivesView(t *testing.T) {
	ch := &loopbackChannel{}
	hist := &memHistory{}
	var out bytes.Buffer
	term := render.NewTerminal(&syncWriter{w: &out})
	view, err := conversation.New(chat.Session{Token: "tok"}, conversation.Deps{
		Channel:  ch,
		History:  hist,
		Renderer: term,
	}, conversation.WithLogger(zerolog.Nop()))
	require.NoError(t, err)
	defer view.Close()

	lines := make(chan string, 1)
	modes := &memModes{}
	var replOut bytes.Buffer
	r := &repl{ctx: context.Background(), view: view, store: modes, out: &replOut, lines: lines}

	assert.False(t, r.handle("hello"))
	require.Eventually(t, func() bool { return !view.Pending() && len(view.Messages()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "echo: hello", view.Messages()[1].Body)

	assert.False(t, r.handle("/mode loud"))
	assert.Contains(t, replOut.String(), "usage: /mode text|voice")
	assert.False(t, r.handle("/voice"))
	assert.Contains(t, replOut.String(), "Switch to voice mode first")

	lines <- "n"
	assert.False(t, r.handle("/clear"))
	assert.Equal(t, 0, hist.cleared)
	assert.Contains(t, replOut.String(), "Cancelled")

	lines <- "y"
	assert.False(t, r.handle("/clear"))
	assert.Equal(t, 1, hist.cleared)
	assert.Empty(t, view.Messages())

	assert.False(t, r.handle("/mode voice"))
	assert.Equal(t, chat.ModeVoice, view.Mode())
	assert.Equal(t, []chat.Mode{chat.ModeVoice}, modes.saved)

	assert.True(t, r.handle("/quit"))
}

type syncWriter struct {
	mu sync.Mutex
	w  *bytes.Buffer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

type slowUploader struct {
	release chan struct{}
}

func (u *slowUploader) UploadImage(ctx context.Context, _ chat.Upload, _ string) (string, error) {
	select {
	case <-u.release:
		return "a tiny black square", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func TestReplUploadDoesNotBlockInput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dot.png")
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 2, 2))))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))

	up := &slowUploader{release: make(chan struct{})}
	view, err := conversation.New(chat.Session{Token: "tok"}, conversation.Deps{
		Channel:  &loopbackChannel{},
		Uploader: up,
		Renderer: render.NewHTML(""),
	}, conversation.WithLogger(zerolog.Nop()))
	require.NoError(t, err)
	defer view.Close()

	var out syncWriter
	out.w = &bytes.Buffer{}
	modes := &memModes{}
	r := &repl{ctx: context.Background(), view: view, store: modes, out: &out, lines: make(chan string)}

	assert.False(t, r.handle("/image "+path+" what is this"))
	require.Eventually(t, view.Pending, time.Second, 5*time.Millisecond)

	assert.False(t, r.handle("/mode voice"))
	assert.Equal(t, chat.ModeVoice, view.Mode())
	assert.False(t, r.handle("/image "+path))
	require.Eventually(t, func() bool {
		out.mu.Lock()
		defer out.mu.Unlock()
		return bytes.Contains(out.w.Bytes(), []byte("Please wait for Axon AI to reply"))
	}, time.Second, 5*time.Millisecond)

	close(up.release)
	r.wait()
	assert.False(t, view.Pending())
	msgs := view.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "what is this", msgs[0].Body)
	assert.Equal(t, "a tiny black square", msgs[1].Body)
}
