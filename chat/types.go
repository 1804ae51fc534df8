package chat

import (
	"fmt"
	"strings"
	"time"
)

// Mode is the active input modality.
type Mode string

const (
	ModeText  Mode = "text"
	ModeVoice Mode = "voice"
)

// ParseMode accepts "text" or "voice", case-insensitively.
func ParseMode(s string) (Mode, error) {
	m := Mode(strings.ToLower(strings.TrimSpace(s)))
	if !m.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidMode, s)
	}
	return m, nil
}

func (m Mode) Valid() bool {
	return m == ModeText || m == ModeVoice
}

type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
)

// Attachment references an image payload. The pixels are not part of the
// message; renderers receive a decoded preview separately.
type Attachment struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Width       int    `json:"width,omitempty"`
	Height      int    `json:"height,omitempty"`
}

// Message is one entry of the conversation log.
type Message struct {
	ID         uint64      `json:"id"`
	Sender     Sender      `json:"sender"`
	Body       string      `json:"body"`
	Attachment *Attachment `json:"attachment,omitempty"`
	Timestamp  time.Time   `json:"timestamp"`
	Mode       Mode        `json:"mode"`
}

// Turn is one stored exchange as returned by the history endpoint.
type Turn struct {
	Message   string `json:"message"`
	Response  string `json:"response"`
	Mode      Mode   `json:"mode"`
	Language  string `json:"language,omitempty"`
	Timestamp string `json:"timestamp"`
}

type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
	IsAdmin  bool   `json:"is_admin,omitempty"`
}

// Session is the application context a view is constructed with.
// Token must be non-empty before the view is usable.
type Session struct {
	Token string `json:"session_token"`
	User  User   `json:"user"`
}

func (s Session) Valid() bool {
	return strings.TrimSpace(s.Token) != ""
}

// DisplayName falls back to "You" like the web client did.
func (s Session) DisplayName() string {
	if s.User.Username != "" {
		return s.User.Username
	}
	return "You"
}
