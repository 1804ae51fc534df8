// Package conversation holds the chat view: the ordered message log, the
// active input modality and the single pending-response slot, reconciled
// against a delivery channel and the history/upload endpoints.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/axon-chat/chat"
)

const defaultHistoryLimit = 20

// Deps are the collaborators a View is built from. Channel and Renderer are
// required; the others may be nil, which disables the matching feature.
type Deps struct {
	Channel  Channel
	History  HistoryAPI
	Uploader Uploader
	Voice    VoiceSurface
	Renderer Renderer
}

type Option func(*View)

func WithLogger(l zerolog.Logger) Option {
	return func(v *View) { v.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(v *View) { v.now = now }
}

func WithHistoryLimit(n int) Option {
	return func(v *View) {
		if n > 0 {
			v.historyLimit = n
		}
	}
}

// WithPreviewSize bounds the long side of attachment previews in pixels.
func WithPreviewSize(px uint) Option {
	return func(v *View) { v.previewSize = px }
}

// View is one conversation page. It is safe for use from multiple
// goroutines; all state changes and renderer calls happen under one lock.
type View struct {
	session  chat.Session
	channel  Channel
	history  HistoryAPI
	uploader Uploader
	voice    VoiceSurface
	renderer Renderer

	logger       zerolog.Logger
	now          func() time.Time
	historyLimit int
	previewSize  uint

	// lifetime of the view; cancelled on Close
	ctx    context.Context
	cancel context.CancelFunc
	bg     sync.WaitGroup

	mu            sync.Mutex
	log           []chat.Message
	previews      map[string]image.Image
	seq           uint64
	mode          chat.Mode
	pending       bool
	awaitingAck   bool
	speakCancel   context.CancelFunc
	speaking      chan struct{}
	recording     bool
	captureGen    uint64
	captureCancel context.CancelFunc
	subs          []chat.Subscription
	closed        bool
}

// New builds a view for an authenticated session and subscribes it to the
// delivery channel. The session token must be non-empty.
func New(sess chat.Session, deps Deps, opts ...Option) (*View, error) {
	if !sess.Valid() {
		return nil, fmt.Errorf("new view: %w", chat.ErrNoSession)
	}
	if deps.Channel == nil || deps.Renderer == nil {
		return nil, errors.New("new view: channel and renderer are required")
	}
	v := &View{
		session:      sess,
		channel:      deps.Channel,
		history:      deps.History,
		uploader:     deps.Uploader,
		voice:        deps.Voice,
		renderer:     deps.Renderer,
		logger:       log.Logger,
		now:          time.Now,
		historyLimit: defaultHistoryLimit,
		previewSize:  defaultPreviewSize,
		previews:     map[string]image.Image{},
		mode:         chat.ModeText,
	}
	for _, opt := range opts {
		opt(v)
	}
	v.ctx, v.cancel = context.WithCancel(context.Background())
	v.subs = append(v.subs,
		v.channel.OnReceive(func(body string) {
			_ = v.OnDeliveryAck(body)
		}),
		v.channel.OnError(func(message string) {
			_ = v.OnDeliveryError(message)
		}),
	)
	return v, nil
}

// Load replays stored history oldest-first. A failure leaves the view
// usable with an empty log.
func (v *View) Load(ctx context.Context) error {
	if v.history == nil {
		return nil
	}
	turns, err := v.history.History(ctx, v.historyLimit)
	if err != nil {
		v.logger.Warn().Err(err).Msg("[chat] load history failed")
		v.notify(NoticeError, "Failed to load chat history")
		return fmt.Errorf("load history: %w", err)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return nil
	}
	for i := len(turns) - 1; i >= 0; i-- {
		t := turns[i]
		mode := t.Mode
		if !mode.Valid() {
			mode = chat.ModeText
		}
		if t.Message != "" {
			v.appendLocked(chat.SenderUser, t.Message, mode, nil, nil)
		}
		if t.Response != "" {
			v.appendLocked(chat.SenderAssistant, t.Response, mode, nil, nil)
		}
	}
	v.logger.Debug().Int("turns", len(turns)).Msg("[chat] history replayed")
	return nil
}

// SubmitText echoes body into the log immediately, marks a reply as pending
// and hands the message to the delivery channel.
func (v *View) SubmitText(ctx context.Context, body string) error {
	body = strings.TrimSpace(body)
	if body == "" {
		return chat.ErrEmptyMessage
	}

	v.mu.Lock()
	if err := v.admitLocked(); err != nil {
		v.mu.Unlock()
		return err
	}
	mode := v.mode
	v.appendLocked(chat.SenderUser, body, mode, nil, nil)
	v.setPendingLocked(true)
	v.awaitingAck = true
	v.mu.Unlock()

	err := v.channel.Send(ctx, chat.Outgoing{Token: v.session.Token, Body: body, Mode: mode})
	if err != nil {
		v.fail("Failed to send message")
		return fmt.Errorf("send message: %w", asNetworkFailure(err))
	}
	return nil
}

// SubmitImage shows the picked image locally, uploads it once and appends
// the server's description as the assistant turn. The caption stays on the
// local message and travels with the upload; it is not sent over the
// delivery channel.
func (v *View) SubmitImage(ctx context.Context, up chat.Upload, caption string) error {
	if !isImageType(up.ContentType) {
		v.notify(NoticeError, "Please select an image file")
		return fmt.Errorf("%w: %q is not an image type", chat.ErrInvalidAttachment, up.ContentType)
	}
	if v.uploader == nil {
		return errors.New("submit image: no uploader configured")
	}
	caption = strings.TrimSpace(caption)
	preview, w, h := decodePreview(up.Data, v.previewSize)
	att := &chat.Attachment{
		ID:          uuid.NewString(),
		Name:        up.Name,
		ContentType: up.ContentType,
		Width:       w,
		Height:      h,
	}

	v.mu.Lock()
	if err := v.admitLocked(); err != nil {
		v.mu.Unlock()
		return err
	}
	v.appendLocked(chat.SenderUser, caption, v.mode, att, preview)
	v.setPendingLocked(true)
	v.mu.Unlock()

	summary, err := v.uploader.UploadImage(ctx, up, caption)
	if err != nil {
		var rej *chat.RejectionError
		if errors.As(err, &rej) && rej.Message != "" {
			v.fail(rej.Message)
		} else if errors.Is(err, chat.ErrServerRejection) {
			v.fail("Upload failed")
		} else {
			v.fail("Failed to upload image")
		}
		return fmt.Errorf("upload image: %w", asNetworkFailure(err))
	}

	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return nil
	}
	v.setPendingLocked(false)
	v.appendLocked(chat.SenderAssistant, summary, v.mode, nil, nil)
	speak := v.mode == chat.ModeVoice
	v.mu.Unlock()

	if speak {
		v.speak(summary)
	}
	return nil
}

// OnDeliveryAck handles one reply from the delivery channel. A reply that
// nobody is waiting for is logged and dropped.
func (v *View) OnDeliveryAck(body string) error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return nil
	}
	if !v.pending {
		v.mu.Unlock()
		v.logger.Warn().Err(chat.ErrProtocolViolation).Int("len", len(body)).Msg("[chat] unmatched delivery acknowledgement")
		return chat.ErrProtocolViolation
	}
	v.setPendingLocked(false)
	v.appendLocked(chat.SenderAssistant, body, v.mode, nil, nil)
	speak := v.mode == chat.ModeVoice
	v.mu.Unlock()

	if speak {
		v.speak(body)
	}
	return nil
}

// OnDeliveryError handles a server error event. When a sent message is still
// waiting for its reply the wait ends there: the user message stays in the
// log and the server's message is shown as a notice.
func (v *View) OnDeliveryError(message string) error {
	message = strings.TrimSpace(message)
	if message == "" {
		message = "Failed to send message"
	}
	rej := &chat.RejectionError{Message: message}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return nil
	}
	v.logger.Warn().Str("message", message).Bool("pending", v.awaitingAck).Msg("[chat] delivery error")
	if v.awaitingAck {
		v.setPendingLocked(false)
	}
	v.renderer.RenderNotice(Notice{Level: NoticeError, Text: message})
	return rej
}

// SetMode switches the active input surface. The log and the pending marker
// are never touched; switching to the active mode does nothing.
func (v *View) SetMode(mode chat.Mode) error {
	if !mode.Valid() {
		return fmt.Errorf("%w: %q", chat.ErrInvalidMode, mode)
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return chat.ErrClosed
	}
	if v.mode == mode {
		return nil
	}
	v.mode = mode
	if mode == chat.ModeVoice {
		v.renderer.RenderModeSurface(mode)
		if v.voice != nil {
			if err := v.voice.Activate(); err != nil {
				v.logger.Warn().Err(err).Msg("[chat] activate voice surface")
				v.renderer.RenderNotice(Notice{Level: NoticeError, Text: "Voice mode unavailable"})
			}
		}
		return nil
	}
	v.abandonCaptureLocked()
	if v.voice != nil {
		v.voice.Deactivate()
	}
	v.renderer.RenderModeSurface(mode)
	return nil
}

// Clear deletes the server-side history and, only once that succeeded,
// empties the local log. confirm is consulted when the log is non-empty; a
// nil confirm counts as a refusal.
func (v *View) Clear(ctx context.Context, confirm func() bool) error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return chat.ErrClosed
	}
	nonEmpty := len(v.log) > 0
	v.mu.Unlock()

	if nonEmpty && (confirm == nil || !confirm()) {
		return chat.ErrNotConfirmed
	}
	if v.history == nil {
		return errors.New("clear: no history endpoint configured")
	}
	if _, err := v.history.ClearHistory(ctx); err != nil {
		v.notify(NoticeError, "Failed to clear chat")
		return fmt.Errorf("clear history: %w", asNetworkFailure(err))
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return nil
	}
	v.log = []chat.Message{}
	v.previews = map[string]image.Image{}
	v.seq = 0
	if v.pending {
		v.setPendingLocked(false)
	}
	v.renderer.RenderCleared()
	v.renderer.RenderNotice(Notice{Level: NoticeSuccess, Text: "Chat cleared successfully"})
	return nil
}

// AddVoiceExchange records a finished exchange produced by an external voice
// UI. It does not touch the pending marker.
func (v *View) AddVoiceExchange(user, assistant string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return
	}
	if user = strings.TrimSpace(user); user != "" {
		v.appendLocked(chat.SenderUser, user, chat.ModeVoice, nil, nil)
	}
	if assistant = strings.TrimSpace(assistant); assistant != "" {
		v.appendLocked(chat.SenderAssistant, assistant, chat.ModeVoice, nil, nil)
	}
}

// Close detaches the view from the channel and abandons any open capture.
// Callbacks arriving afterwards are ignored.
func (v *View) Close() error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return nil
	}
	v.closed = true
	subs := v.subs
	v.subs = nil
	v.abandonCaptureLocked()
	v.mu.Unlock()

	for _, s := range subs {
		s.Unsubscribe()
	}
	v.cancel()
	v.bg.Wait()
	return nil
}

// Messages returns a copy of the log.
func (v *View) Messages() []chat.Message {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]chat.Message, len(v.log))
	copy(out, v.log)
	return out
}

// Preview returns the decoded preview for an attachment, if any.
func (v *View) Preview(attachmentID string) image.Image {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.previews[attachmentID]
}

func (v *View) Mode() chat.Mode {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.mode
}

func (v *View) Pending() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.pending
}

func (v *View) Recording() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.recording
}

func (v *View) admitLocked() error {
	if v.closed {
		return chat.ErrClosed
	}
	if v.pending {
		return chat.ErrPendingResponse
	}
	return nil
}

func (v *View) appendLocked(sender chat.Sender, body string, mode chat.Mode, att *chat.Attachment, preview image.Image) {
	v.seq++
	m := chat.Message{
		ID:         v.seq,
		Sender:     sender,
		Body:       body,
		Attachment: att,
		Timestamp:  v.now(),
		Mode:       mode,
	}
	if att != nil && preview != nil {
		v.previews[att.ID] = preview
	}
	v.log = append(v.log, m)
	v.renderer.RenderMessage(m, preview)
}

func (v *View) setPendingLocked(on bool) {
	v.pending = on
	v.awaitingAck = false
	v.renderer.RenderTyping(on)
}

// fail clears the pending marker after a failed request and tells the user.
// The optimistic user message stays in the log.
func (v *View) fail(text string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return
	}
	if v.pending {
		v.setPendingLocked(false)
	}
	v.renderer.RenderNotice(Notice{Level: NoticeError, Text: text})
}

func (v *View) notify(level NoticeLevel, text string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return
	}
	v.renderer.RenderNotice(Notice{Level: level, Text: text})
}

// speak plays text back without holding up the caller. A new reply cuts off
// the one still playing; playback is bound to the view's lifetime.
func (v *View) speak(text string) {
	if v.voice == nil {
		return
	}
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	if v.speakCancel != nil {
		v.speakCancel()
	}
	ctx, cancel := context.WithCancel(v.ctx)
	v.speakCancel = cancel
	prev := v.speaking
	done := make(chan struct{})
	v.speaking = done
	v.bg.Add(1)
	v.mu.Unlock()
	go func() {
		defer v.bg.Done()
		defer close(done)
		defer cancel()
		if prev != nil {
			<-prev
		}
		if ctx.Err() != nil {
			return
		}
		if err := v.voice.Speak(ctx, text); err != nil && ctx.Err() == nil {
			v.logger.Debug().Err(err).Msg("[chat] speak")
		}
	}()
}

// asNetworkFailure tags errors that are not already classified.
func asNetworkFailure(err error) error {
	if errors.Is(err, chat.ErrNetworkFailure) || errors.Is(err, chat.ErrServerRejection) {
		return err
	}
	return fmt.Errorf("%w: %w", chat.ErrNetworkFailure, err)
}
