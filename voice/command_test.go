package voice

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/axon-chat/chat"
)

func script(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("needs /bin/sh")
	}
	p := filepath.Join(t.TempDir(), "prog.sh")
	require.NoError(t, os.WriteFile(p, []byte("#!/bin/sh\n"+body), 0o755))
	return p
}

func receive(t *testing.T, ch <-chan string) (string, bool) {
	t.Helper()
	select {
	case text, ok := <-ch:
		return text, ok
	case <-time.After(5 * time.Second):
		t.Fatal("capture did not finish")
		return "", false
	}
}

func TestCaptureTrimsStdout(t *testing.T) {
	c := New(script(t, `echo "  turn the lights on  "`+"\n"), "")
	require.NoError(t, c.Activate())

	ch, err := c.Start(context.Background())
	require.NoError(t, err)
	text, ok := receive(t, ch)
	assert.True(t, ok)
	assert.Equal(t, "turn the lights on", text)

	_, ok = receive(t, ch)
	assert.False(t, ok)
}

func TestCaptureSilenceYieldsNothing(t *testing.T) {
	c := New(script(t, "exit 0\n"), "")
	ch, err := c.Start(context.Background())
	require.NoError(t, err)
	_, ok := receive(t, ch)
	assert.False(t, ok)
}

func TestStopLetsCaptureFinish(t *testing.T) {
	p := script(t, `trap 'echo heard you; exit 0' INT
touch "$0.ready"
while :; do sleep 0.1; done
`)
	c := New(p, "")
	ch, err := c.Start(context.Background())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, err := os.Stat(p + ".ready")
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)

	c.Stop()
	text, ok := receive(t, ch)
	assert.True(t, ok)
	assert.Equal(t, "heard you", text)
}

func TestCancelAbandonsCapture(t *testing.T) {
	c := New(script(t, "echo late; sleep 5\n"), "")
	ctx, cancel := context.WithCancel(context.Background())
	ch, err := c.Start(ctx)
	require.NoError(t, err)
	cancel()

	_, ok := receive(t, ch)
	assert.False(t, ok)
}

func TestSpeakWritesStdin(t *testing.T) {
	p := script(t, `cat > "$0.out"`+"\n")
	c := New("", p)
	require.NoError(t, c.Speak(context.Background(), "Hello from Axon"))

	got, err := os.ReadFile(p + ".out")
	require.NoError(t, err)
	assert.Equal(t, "Hello from Axon", string(got))
}

func TestMissingProgramsAreUnsupported(t *testing.T) {
	assert.ErrorIs(t, New("", "").Activate(), chat.ErrUnsupported)
	assert.ErrorIs(t, New("axon-no-such-recorder", "").Activate(), chat.ErrUnsupported)

	_, err := New("", "").Start(context.Background())
	assert.ErrorIs(t, err, chat.ErrUnsupported)
	assert.ErrorIs(t, New("", "").Speak(context.Background(), "hi"), chat.ErrUnsupported)

	// No capture running.
	New("", "").Stop()
}
