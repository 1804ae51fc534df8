package delivery

import "github.com/gosuda/axon-chat/chat"

// Event types carried in the "type" field of every frame.
const (
	TypeAuthenticate  = "authenticate"
	TypeAuthenticated = "authenticated"
	TypeSendMessage   = "send_message"
	TypeReceive       = "receive_message"
	TypeError         = "error"
)

// ClientEvent is a frame sent by the chat client.
type ClientEvent struct {
	Type         string    `json:"type"`
	SessionToken string    `json:"session_token,omitempty"`
	Message      string    `json:"message,omitempty"`
	Mode         chat.Mode `json:"mode,omitempty"`
}

// ServerEvent is a frame pushed by the server.
type ServerEvent struct {
	Type     string `json:"type"`
	Success  bool   `json:"success,omitempty"`
	Response string `json:"response,omitempty"`
	Message  string `json:"message,omitempty"`
}
