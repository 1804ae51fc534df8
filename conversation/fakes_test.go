package conversation

import (
	"context"
	"errors"
	"image"
	"sync"
	"time"

	"github.com/gosuda/axon-chat/chat"
)

type fakeChannel struct {
	mu       sync.Mutex
	sent     []chat.Outgoing
	sendErr  error
	handlers map[int]func(string)
	errs     map[int]func(string)
	nextID   int
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{handlers: map[int]func(string){}, errs: map[int]func(string){}}
}

func (c *fakeChannel) Send(_ context.Context, out chat.Outgoing) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, out)
	return nil
}

func (c *fakeChannel) OnReceive(fn func(string)) chat.Subscription {
	return c.subscribe(c.handlers, fn)
}

func (c *fakeChannel) OnError(fn func(string)) chat.Subscription {
	return c.subscribe(c.errs, fn)
}

func (c *fakeChannel) subscribe(set map[int]func(string), fn func(string)) chat.Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	id := c.nextID
	set[id] = fn
	return &fakeSub{ch: c, set: set, id: id}
}

// deliver fans a reply out to every live subscriber.
func (c *fakeChannel) deliver(body string) {
	c.fanOut(c.handlers, body)
}

// reject fans a server error event out to every live subscriber.
func (c *fakeChannel) reject(message string) {
	c.fanOut(c.errs, message)
}

func (c *fakeChannel) fanOut(set map[int]func(string), payload string) {
	c.mu.Lock()
	hs := make([]func(string), 0, len(set))
	for _, h := range set {
		hs = append(hs, h)
	}
	c.mu.Unlock()
	for _, h := range hs {
		h(payload)
	}
}

func (c *fakeChannel) subscribers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.handlers) + len(c.errs)
}

func (c *fakeChannel) sentCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

type fakeSub struct {
	ch  *fakeChannel
	set map[int]func(string)
	id  int
}

func (s *fakeSub) Unsubscribe() {
	s.ch.mu.Lock()
	delete(s.set, s.id)
	s.ch.mu.Unlock()
}

type fakeHistory struct {
	turns    []chat.Turn
	err      error
	clearErr error
	cleared  int
}

func (h *fakeHistory) History(context.Context, int) ([]chat.Turn, error) {
	return h.turns, h.err
}

func (h *fakeHistory) ClearHistory(context.Context) (string, error) {
	if h.clearErr != nil {
		return "", h.clearErr
	}
	h.cleared++
	return "Cleared", nil
}

type fakeUploader struct {
	summary  string
	err      error
	calls    int
	captions []string
	block    chan struct{}
}

func (u *fakeUploader) UploadImage(_ context.Context, _ chat.Upload, caption string) (string, error) {
	if u.block != nil {
		<-u.block
	}
	u.calls++
	u.captions = append(u.captions, caption)
	return u.summary, u.err
}

type fakeVoice struct {
	mu          sync.Mutex
	activations int
	deactivated int
	stops       int
	spoken      []string
	transcripts chan string
	startErr    error

	speakDelay time.Duration
	speaking   int
	peak       int
	cut        int
}

func (f *fakeVoice) Activate() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.activations++
	return nil
}

func (f *fakeVoice) Deactivate() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deactivated++
}

func (f *fakeVoice) Start(ctx context.Context) (<-chan string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return nil, f.startErr
	}
	in := make(chan string, 1)
	f.transcripts = in
	out := make(chan string, 1)
	go func() {
		defer close(out)
		select {
		case t := <-in:
			out <- t
		case <-ctx.Done():
		}
	}()
	return out, nil
}

func (f *fakeVoice) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
}

func (f *fakeVoice) Speak(ctx context.Context, text string) error {
	f.mu.Lock()
	f.spoken = append(f.spoken, text)
	f.speaking++
	if f.speaking > f.peak {
		f.peak = f.speaking
	}
	delay := f.speakDelay
	f.mu.Unlock()

	var err error
	select {
	case <-time.After(delay):
	case <-ctx.Done():
		err = ctx.Err()
	}

	f.mu.Lock()
	f.speaking--
	if err != nil {
		f.cut++
	}
	f.mu.Unlock()
	return err
}

// playback reports the highest number of overlapping Speak calls and how
// many were cut off.
func (f *fakeVoice) playback() (peak, cut int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.peak, f.cut
}

func (f *fakeVoice) say(t string) {
	f.mu.Lock()
	in := f.transcripts
	f.mu.Unlock()
	in <- t
}

func (f *fakeVoice) spokenTexts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.spoken...)
}

func (f *fakeVoice) counts() (activations, deactivations int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.activations, f.deactivated
}

type recordRenderer struct {
	mu       sync.Mutex
	messages []chat.Message
	previews []image.Image
	typing   []bool
	surfaces []chat.Mode
	rec      []bool
	notices  []Notice
	cleared  int
}

func (r *recordRenderer) RenderMessage(m chat.Message, preview image.Image) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, m)
	r.previews = append(r.previews, preview)
}

func (r *recordRenderer) RenderTyping(visible bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.typing = append(r.typing, visible)
}

func (r *recordRenderer) RenderModeSurface(mode chat.Mode) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.surfaces = append(r.surfaces, mode)
}

func (r *recordRenderer) RenderRecording(active bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rec = append(r.rec, active)
}

func (r *recordRenderer) RenderNotice(n Notice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
}

func (r *recordRenderer) RenderCleared() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cleared++
}

func (r *recordRenderer) noticeTexts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.notices))
	for _, n := range r.notices {
		out = append(out, n.Text)
	}
	return out
}

var errOffline = errors.New("dial tcp: connection refused")
