package conversation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/axon-chat/chat"
)

func TestCaptureNeedsVoiceMode(t *testing.T) {
	h := newHarness(t)
	assert.ErrorIs(t, h.view.StartCapture(context.Background()), chat.ErrNotVoiceMode)
	assert.False(t, h.view.Recording())
}

func TestTranscriptIsSubmittedAsText(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.view.SetMode(chat.ModeVoice))

	require.NoError(t, h.view.ToggleCapture(ctx))
	assert.True(t, h.view.Recording())

	h.voice.say("  turn on the lights ")

	require.Eventually(t, func() bool {
		return h.channel.sentCount() == 1
	}, time.Second, 5*time.Millisecond)
	assert.False(t, h.view.Recording())
	assert.True(t, h.view.Pending())
	assert.Equal(t, chat.Outgoing{Token: "tok-1", Body: "turn on the lights", Mode: chat.ModeVoice}, h.channel.sent[0])
	assert.Equal(t, []string{"user:turn on the lights"}, bodies(h.view.Messages()))
}

func TestStopCaptureStillAcceptsFinalTranscript(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.view.SetMode(chat.ModeVoice))
	require.NoError(t, h.view.StartCapture(ctx))

	require.NoError(t, h.view.ToggleCapture(ctx))
	assert.False(t, h.view.Recording())

	h.voice.say("last words")
	require.Eventually(t, func() bool {
		return h.channel.sentCount() == 1
	}, time.Second, 5*time.Millisecond)
}

func TestLeavingVoiceModeAbandonsCapture(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.view.SetMode(chat.ModeVoice))
	require.NoError(t, h.view.StartCapture(ctx))

	require.NoError(t, h.view.SetMode(chat.ModeText))
	assert.False(t, h.view.Recording())

	// the fake surface drops the transcript once its context is cancelled
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, h.channel.sentCount())
	assert.Empty(t, h.view.Messages())
}

func TestAddVoiceExchange(t *testing.T) {
	h := newHarness(t)
	h.view.AddVoiceExchange("what's the weather", "sunny")

	msgs := h.view.Messages()
	assert.Equal(t, []string{"user:what's the weather", "assistant:sunny"}, bodies(msgs))
	for _, m := range msgs {
		assert.Equal(t, chat.ModeVoice, m.Mode)
	}
	assert.False(t, h.view.Pending())
}

func TestTranscriptWhilePendingAsksToWait(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.view.SetMode(chat.ModeVoice))
	require.NoError(t, h.view.SubmitText(ctx, "first"))

	require.NoError(t, h.view.StartCapture(ctx))
	h.voice.say("second")

	require.Eventually(t, func() bool {
		return len(h.renderer.noticeTexts()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"Please wait for Axon AI to reply"}, h.renderer.noticeTexts())
	assert.Equal(t, 1, h.channel.sentCount())
	assert.Equal(t, []string{"user:first"}, bodies(h.view.Messages()))
}
