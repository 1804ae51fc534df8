package render

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"html"
	"image"
	"image/png"
	"regexp"
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"

	"github.com/gosuda/axon-chat/chat"
	"github.com/gosuda/axon-chat/conversation"
)

var (
	urlPattern = regexp.MustCompile(`https?://[^\s<]+`)

	bubblePolicy = newBubblePolicy()
)

func newBubblePolicy() *bluemonday.Policy {
	p := bluemonday.UGCPolicy().
		AllowElements("br", "p", "img", "a").
		AllowURLSchemes("http", "https").
		RequireNoFollowOnLinks(true).
		AddTargetBlankToFullyQualifiedLinks(true)
	p.AllowDataURIImages()
	return p
}

// HTML keeps the conversation as a list of sanitised HTML fragments, one
// per message, plus the transient state around them.
type HTML struct {
	mu        sync.Mutex
	user      string
	fragments []string
	notices   []conversation.Notice
	typing    bool
	recording bool
	mode      chat.Mode
}

var _ conversation.Renderer = (*HTML)(nil)

func NewHTML(userName string) *HTML {
	if userName == "" {
		userName = "You"
	}
	return &HTML{user: userName, mode: chat.ModeText}
}

func (h *HTML) RenderMessage(m chat.Message, preview image.Image) {
	author, class := h.user, "user"
	if m.Sender == chat.SenderAssistant {
		author, class = assistantName, "ai"
	}
	var bubble strings.Builder
	if m.Attachment != nil && preview != nil {
		if uri, err := dataURI(preview); err == nil {
			fmt.Fprintf(&bubble, `<img src="%s" alt="%s">`, uri, html.EscapeString(m.Attachment.Name))
		}
	}
	if m.Body != "" {
		bubble.WriteString("<p>")
		bubble.WriteString(formatBody(m.Body))
		bubble.WriteString("</p>")
	}
	frag := fmt.Sprintf(
		`<div class="message %s" data-id="%d" data-mode="%s"><div class="message-header"><span class="message-author">%s</span><span class="message-time">%s</span></div><div class="message-bubble">%s</div></div>`,
		class, m.ID, m.Mode, html.EscapeString(author), m.Timestamp.Format("15:04"),
		bubblePolicy.Sanitize(bubble.String()),
	)

	h.mu.Lock()
	h.fragments = append(h.fragments, frag)
	h.mu.Unlock()
}

func (h *HTML) RenderTyping(visible bool) {
	h.mu.Lock()
	h.typing = visible
	h.mu.Unlock()
}

func (h *HTML) RenderModeSurface(mode chat.Mode) {
	h.mu.Lock()
	h.mode = mode
	h.mu.Unlock()
}

func (h *HTML) RenderRecording(active bool) {
	h.mu.Lock()
	h.recording = active
	h.mu.Unlock()
}

func (h *HTML) RenderNotice(n conversation.Notice) {
	h.mu.Lock()
	h.notices = append(h.notices, n)
	h.mu.Unlock()
}

func (h *HTML) RenderCleared() {
	h.mu.Lock()
	h.fragments = nil
	h.typing = false
	h.mu.Unlock()
}

// Notices returns the notices raised so far.
func (h *HTML) Notices() []conversation.Notice {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]conversation.Notice(nil), h.notices...)
}

// String returns the message list as it currently stands.
func (h *HTML) String() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var b strings.Builder
	fmt.Fprintf(&b, `<div class="chat-messages" data-mode="%s">`, h.mode)
	for _, f := range h.fragments {
		b.WriteString(f)
	}
	if h.typing {
		b.WriteString(`<div class="typing-indicator-message"><div class="typing-indicator"><span></span><span></span><span></span></div></div>`)
	}
	b.WriteString(`</div>`)
	return b.String()
}

// Document wraps String in a minimal standalone page.
func (h *HTML) Document(title string) string {
	return "<!DOCTYPE html>\n<html><head><meta charset=\"utf-8\"><title>" +
		html.EscapeString(title) + "</title></head><body>" + h.String() + "</body></html>\n"
}

// formatBody escapes text, turns URLs into links and keeps line breaks.
func formatBody(text string) string {
	var b strings.Builder
	last := 0
	for _, loc := range urlPattern.FindAllStringIndex(text, -1) {
		b.WriteString(html.EscapeString(text[last:loc[0]]))
		u := text[loc[0]:loc[1]]
		fmt.Fprintf(&b, `<a href="%s">%s</a>`, html.EscapeString(u), html.EscapeString(u))
		last = loc[1]
	}
	b.WriteString(html.EscapeString(text[last:]))
	return strings.ReplaceAll(b.String(), "\n", "<br>")
}

func dataURI(img image.Image) (string, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
