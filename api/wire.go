package api

import "github.com/gosuda/axon-chat/chat"

// Envelope is the common shape of every JSON response of the chat API.
type Envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

type HistoryResponse struct {
	Envelope
	History []chat.Turn `json:"history"`
}

type Analysis struct {
	Summary string `json:"summary"`
}

type UploadResponse struct {
	Envelope
	Analysis Analysis `json:"analysis"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Envelope
	SessionToken string    `json:"session_token,omitempty"`
	User         chat.User `json:"user"`
}
