package render

import (
	"image"

	"github.com/gosuda/axon-chat/chat"
	"github.com/gosuda/axon-chat/conversation"
)

// Tee forwards every call to each renderer in order.
type Tee []conversation.Renderer

var _ conversation.Renderer = Tee(nil)

func (t Tee) RenderMessage(m chat.Message, preview image.Image) {
	for _, r := range t {
		r.RenderMessage(m, preview)
	}
}

func (t Tee) RenderTyping(visible bool) {
	for _, r := range t {
		r.RenderTyping(visible)
	}
}

func (t Tee) RenderModeSurface(mode chat.Mode) {
	for _, r := range t {
		r.RenderModeSurface(mode)
	}
}

func (t Tee) RenderRecording(active bool) {
	for _, r := range t {
		r.RenderRecording(active)
	}
}

func (t Tee) RenderNotice(n conversation.Notice) {
	for _, r := range t {
		r.RenderNotice(n)
	}
}

func (t Tee) RenderCleared() {
	for _, r := range t {
		r.RenderCleared()
	}
}
