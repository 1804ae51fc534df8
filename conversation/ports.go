package conversation

import (
	"context"
	"image"

	"github.com/gosuda/axon-chat/chat"
)

// Channel is the persistent delivery connection. It is opened once per
// process and injected; the view never dials one itself.
type Channel interface {
	Send(ctx context.Context, out chat.Outgoing) error
	OnReceive(fn func(body string)) chat.Subscription
	// OnError reports server error events, such as a rejected send.
	OnError(fn func(message string)) chat.Subscription
}

// HistoryAPI is the server-side store of prior turns.
type HistoryAPI interface {
	// History returns turns newest-first.
	History(ctx context.Context, limit int) ([]chat.Turn, error)
	ClearHistory(ctx context.Context) (string, error)
}

// Uploader sends one image and returns the server's description of it.
type Uploader interface {
	UploadImage(ctx context.Context, up chat.Upload, caption string) (string, error)
}

// VoiceSurface captures speech and plays text back.
//
// Activate, Deactivate and Stop must not block. Start opens one capture; the
// returned channel yields at most one transcript and is then closed. Stop
// asks the surface to finish the open capture, which may still yield a
// transcript. Cancelling the context passed to Start abandons the capture.
type VoiceSurface interface {
	Activate() error
	Deactivate()
	Start(ctx context.Context) (<-chan string, error)
	Stop()
	Speak(ctx context.Context, text string) error
}

// Renderer draws the view. Calls arrive in log order, one at a time, and
// must not call back into the View.
type Renderer interface {
	RenderMessage(m chat.Message, preview image.Image)
	RenderTyping(visible bool)
	RenderModeSurface(mode chat.Mode)
	RenderRecording(active bool)
	RenderNotice(n Notice)
	RenderCleared()
}

type NoticeLevel string

const (
	NoticeInfo    NoticeLevel = "info"
	NoticeSuccess NoticeLevel = "success"
	NoticeError   NoticeLevel = "error"
)

// Notice is a transient, non-blocking message for the user.
type Notice struct {
	Level NoticeLevel
	Text  string
}
