// Package voice provides a speech surface backed by external programs: one
// that records and transcribes, and one that reads text aloud.
package voice

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gosuda/axon-chat/chat"
	"github.com/gosuda/axon-chat/conversation"
)

// stopGrace is how long a capture program gets to flush its transcript after
// an interrupt before it is killed.
const stopGrace = 3 * time.Second

// Command runs shell-style command lines. CaptureCmd must print the
// transcript on stdout and finish on SIGINT; SpeakCmd reads the text to
// speak on stdin. Either may be empty, in which case that half is
// unsupported.
type Command struct {
	CaptureCmd string
	SpeakCmd   string

	mu      sync.Mutex
	current *exec.Cmd
}

var _ conversation.VoiceSurface = (*Command)(nil)

func New(captureCmd, speakCmd string) *Command {
	return &Command{CaptureCmd: captureCmd, SpeakCmd: speakCmd}
}

// Activate checks that the capture program exists.
func (c *Command) Activate() error {
	_, err := lookup(c.CaptureCmd)
	return err
}

// Deactivate interrupts any capture still running.
func (c *Command) Deactivate() {
	c.Stop()
}

// Start launches the capture program. The returned channel yields the
// trimmed stdout once the program exits, unless ctx was cancelled first.
func (c *Command) Start(ctx context.Context) (<-chan string, error) {
	argv, err := lookup(c.CaptureCmd)
	if err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = stopGrace
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start capture: %w", err)
	}

	c.mu.Lock()
	c.current = cmd
	c.mu.Unlock()

	out := make(chan string, 1)
	go func() {
		defer close(out)
		err := cmd.Wait()

		c.mu.Lock()
		if c.current == cmd {
			c.current = nil
		}
		c.mu.Unlock()

		if ctx.Err() != nil {
			return
		}
		if err != nil && stdout.Len() == 0 {
			log.Warn().Err(err).Str("stderr", strings.TrimSpace(stderr.String())).Msg("[voice] capture failed")
			return
		}
		if text := strings.TrimSpace(stdout.String()); text != "" {
			out <- text
		}
	}()
	return out, nil
}

// Stop interrupts the running capture so it can print what it heard.
func (c *Command) Stop() {
	c.mu.Lock()
	cmd := c.current
	c.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return
	}
	if err := cmd.Process.Signal(os.Interrupt); err != nil {
		log.Debug().Err(err).Msg("[voice] interrupt capture")
	}
}

// Speak pipes text into the speak program and waits for it to finish.
func (c *Command) Speak(ctx context.Context, text string) error {
	argv, err := lookup(c.SpeakCmd)
	if err != nil {
		return err
	}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdin = strings.NewReader(text)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("speak: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// lookup splits line into argv and resolves the program on PATH.
func lookup(line string) ([]string, error) {
	argv := strings.Fields(line)
	if len(argv) == 0 {
		return nil, chat.ErrUnsupported
	}
	path, err := exec.LookPath(argv[0])
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", chat.ErrUnsupported, argv[0], err)
	}
	argv[0] = path
	return argv, nil
}
