// Package render holds the concrete conversation renderers: a line-oriented
// terminal renderer and an HTML fragment renderer.
package render

import (
	"fmt"
	"image"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/axon-chat/chat"
	"github.com/gosuda/axon-chat/conversation"
)

const assistantName = "Axon AI"

type TerminalOption func(*Terminal)

// WithMarkdown renders assistant replies as markdown wrapped at width
// columns. style is a glamour style name such as "dark", "light" or "notty".
func WithMarkdown(style string, width int) TerminalOption {
	return func(t *Terminal) {
		md, err := glamour.NewTermRenderer(
			glamour.WithStandardStyle(style),
			glamour.WithWordWrap(width),
		)
		if err != nil {
			log.Warn().Err(err).Msg("[render] markdown disabled")
			return
		}
		t.md = md
	}
}

// WithUserName sets the label printed in front of the user's messages.
func WithUserName(name string) TerminalOption {
	return func(t *Terminal) {
		if name != "" {
			t.user = name
		}
	}
}

// Terminal prints the conversation as plain lines.
type Terminal struct {
	mu   sync.Mutex
	w    io.Writer
	user string
	md   *glamour.TermRenderer
}

var _ conversation.Renderer = (*Terminal)(nil)

func NewTerminal(w io.Writer, opts ...TerminalOption) *Terminal {
	t := &Terminal{w: w, user: "You"}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Terminal) RenderMessage(m chat.Message, preview image.Image) {
	t.mu.Lock()
	defer t.mu.Unlock()
	author := t.user
	if m.Sender == chat.SenderAssistant {
		author = assistantName
	}
	body := m.Body
	if m.Sender == chat.SenderAssistant && t.md != nil {
		if out, err := t.md.Render(body); err == nil {
			body = "\n" + strings.TrimRight(out, "\n")
		}
	}
	if m.Attachment != nil {
		att := attachmentLabel(m.Attachment, preview)
		if body == "" {
			body = att
		} else {
			body = att + " " + body
		}
	}
	fmt.Fprintf(t.w, "[%s] %s: %s\n", m.Timestamp.Format("15:04"), author, body)
}

func (t *Terminal) RenderTyping(visible bool) {
	if !visible {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.w, "  %s is typing...\n", assistantName)
}

func (t *Terminal) RenderModeSurface(mode chat.Mode) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch mode {
	case chat.ModeVoice:
		fmt.Fprintln(t.w, "-- voice mode: /voice starts and stops listening, replies are spoken --")
	default:
		fmt.Fprintln(t.w, "-- text mode --")
	}
}

func (t *Terminal) RenderRecording(active bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if active {
		fmt.Fprintln(t.w, "  listening...")
		return
	}
	fmt.Fprintln(t.w, "  ready")
}

func (t *Terminal) RenderNotice(n conversation.Notice) {
	t.mu.Lock()
	defer t.mu.Unlock()
	icon := "i"
	switch n.Level {
	case conversation.NoticeSuccess:
		icon = "✓"
	case conversation.NoticeError:
		icon = "✕"
	}
	fmt.Fprintf(t.w, "%s %s\n", icon, n.Text)
}

func (t *Terminal) RenderCleared() {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintln(t.w, "-- chat cleared --")
}

func attachmentLabel(a *chat.Attachment, preview image.Image) string {
	if preview == nil || a.Width == 0 {
		return fmt.Sprintf("[image %s]", a.Name)
	}
	return fmt.Sprintf("[image %dx%d %s]", a.Width, a.Height, a.Name)
}
