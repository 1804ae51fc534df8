package chat

import "errors"

var (
	// ErrNetworkFailure means a request could not complete.
	ErrNetworkFailure = errors.New("network failure")
	// ErrInvalidAttachment means the staged file is not an image.
	ErrInvalidAttachment = errors.New("invalid attachment")
	// ErrProtocolViolation flags an acknowledgement nobody was waiting for.
	ErrProtocolViolation = errors.New("protocol violation")
	// ErrServerRejection is a well-formed response reporting failure.
	ErrServerRejection = errors.New("server rejection")

	ErrEmptyMessage    = errors.New("empty message")
	ErrPendingResponse = errors.New("response already pending")
	ErrInvalidMode     = errors.New("invalid mode")
	ErrNotConfirmed    = errors.New("not confirmed")
	ErrNotVoiceMode    = errors.New("not in voice mode")
	ErrNoSession       = errors.New("no session")
	ErrUnsupported     = errors.New("speech recognition not supported")
	ErrClosed          = errors.New("view closed")
)

// RejectionError carries the server's message for a rejected request.
type RejectionError struct {
	Status  int
	Message string
}

func (e *RejectionError) Error() string {
	if e.Message == "" {
		return ErrServerRejection.Error()
	}
	return e.Message
}

func (e *RejectionError) Unwrap() error { return ErrServerRejection }
