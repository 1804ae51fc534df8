package conversation

import (
	"context"
	"errors"
	"strings"

	"github.com/gosuda/axon-chat/chat"
)

// ToggleCapture flips the voice capture between idle and listening.
func (v *View) ToggleCapture(ctx context.Context) error {
	if v.Recording() {
		v.StopCapture()
		return nil
	}
	return v.StartCapture(ctx)
}

// StartCapture opens a capture on the voice surface. When the surface
// delivers a transcript it is submitted exactly like typed text.
func (v *View) StartCapture(ctx context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return chat.ErrClosed
	}
	if v.mode != chat.ModeVoice {
		return chat.ErrNotVoiceMode
	}
	if v.voice == nil {
		v.renderer.RenderNotice(Notice{Level: NoticeError, Text: "Speech recognition not supported"})
		return chat.ErrUnsupported
	}
	if v.recording {
		return nil
	}

	if v.captureCancel != nil {
		v.captureCancel()
		v.captureCancel = nil
	}
	cctx, cancel := context.WithCancel(v.ctx)
	transcripts, err := v.voice.Start(cctx)
	if err != nil {
		cancel()
		v.logger.Warn().Err(err).Msg("[chat] start capture")
		v.renderer.RenderNotice(Notice{Level: NoticeError, Text: "Speech recognition not supported"})
		return err
	}
	v.captureGen++
	gen := v.captureGen
	v.recording = true
	v.captureCancel = cancel
	v.renderer.RenderRecording(true)

	v.bg.Add(1)
	go v.awaitTranscript(gen, transcripts)
	return nil
}

// StopCapture asks the surface to finish the open capture. A transcript it
// still produces is submitted.
func (v *View) StopCapture() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.recording {
		return
	}
	v.recording = false
	v.voice.Stop()
	v.renderer.RenderRecording(false)
}

func (v *View) awaitTranscript(gen uint64, transcripts <-chan string) {
	defer v.bg.Done()
	var (
		text string
		ok   bool
	)
	select {
	case text, ok = <-transcripts:
	case <-v.ctx.Done():
		return
	}

	v.mu.Lock()
	if v.closed || v.captureGen != gen {
		v.mu.Unlock()
		return
	}
	if v.captureCancel != nil {
		v.captureCancel()
		v.captureCancel = nil
	}
	if v.recording {
		v.recording = false
		v.renderer.RenderRecording(false)
	}
	v.mu.Unlock()

	text = strings.TrimSpace(text)
	if !ok || text == "" {
		return
	}
	err := v.SubmitText(v.ctx, text)
	switch {
	case err == nil:
	case errors.Is(err, chat.ErrPendingResponse):
		v.notify(NoticeInfo, "Please wait for Axon AI to reply")
	default:
		v.logger.Debug().Err(err).Msg("[chat] submit transcript")
	}
}

// abandonCaptureLocked drops an open capture without submitting anything.
func (v *View) abandonCaptureLocked() {
	v.captureGen++
	if v.captureCancel != nil {
		v.captureCancel()
		v.captureCancel = nil
	}
	if v.recording {
		v.recording = false
		if v.voice != nil {
			v.voice.Stop()
		}
		v.renderer.RenderRecording(false)
	}
}
