package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/gosuda/axon-chat/chat"
	"github.com/gosuda/axon-chat/conversation"
	"github.com/gosuda/axon-chat/delivery"
	"github.com/gosuda/axon-chat/render"
	"github.com/gosuda/axon-chat/voice"
)

const authTimeout = 10 * time.Second

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Open an interactive conversation",
	RunE:  runChat,
}

var (
	flagMode       string
	flagHTML       string
	flagCaptureCmd string
	flagSpeakCmd   string
	flagMarkdown   string
	flagWidth      int
)

func init() {
	flags := chatCmd.Flags()
	flags.StringVar(&flagMode, "mode", "", "start in text or voice mode (default: last used)")
	flags.StringVar(&flagHTML, "html", "", "also write the conversation as HTML to this file on exit")
	flags.StringVar(&flagCaptureCmd, "capture-cmd", os.Getenv("AXON_CAPTURE_CMD"), "program that records speech and prints the transcript (env AXON_CAPTURE_CMD)")
	flags.StringVar(&flagSpeakCmd, "speak-cmd", os.Getenv("AXON_SPEAK_CMD"), "program that reads text from stdin aloud (env AXON_SPEAK_CMD)")
	flags.StringVar(&flagMarkdown, "markdown", "dark", "glamour style for replies (dark, light, notty; empty disables)")
	flags.IntVar(&flagWidth, "width", 80, "wrap width for rendered replies")
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()
	sess, err := requireSession(store.Load)
	if err != nil {
		return err
	}

	mode := store.Mode()
	if flagMode != "" {
		if mode, err = chat.ParseMode(flagMode); err != nil {
			return err
		}
	}

	endpoint, err := wsURL(flagServerURL)
	if err != nil {
		return err
	}
	ch, err := delivery.Dial(ctx, delivery.Config{URL: endpoint})
	if err != nil {
		return err
	}
	defer ch.Close()

	if err := authenticate(ctx, ch, sess.Token); err != nil {
		if errors.Is(err, delivery.ErrNotAuthenticated) {
			if cerr := store.Clear(); cerr != nil {
				log.Warn().Err(cerr).Msg("[chat] drop stored session")
			}
			return fmt.Errorf("%w: session expired, run `axon-chat login` again", err)
		}
		return err
	}
	termOpts := []render.TerminalOption{render.WithUserName(sess.DisplayName())}
	if flagMarkdown != "" {
		termOpts = append(termOpts, render.WithMarkdown(flagMarkdown, flagWidth))
	}
	renderers := render.Tee{render.NewTerminal(out, termOpts...)}
	var page *render.HTML
	if flagHTML != "" {
		page = render.NewHTML(sess.DisplayName())
		renderers = append(renderers, page)
	}

	client := newAPI(sess.Token)
	view, err := conversation.New(sess, conversation.Deps{
		Channel:  ch,
		History:  client,
		Uploader: client,
		Voice:    voice.New(flagCaptureCmd, flagSpeakCmd),
		Renderer: renderers,
	}, conversation.WithLogger(log.Logger), conversation.WithHistoryLimit(flagHistoryLimit))
	if err != nil {
		return err
	}
	defer func() {
		_ = view.Close()
		if page != nil {
			if err := os.WriteFile(flagHTML, []byte(page.Document("Axon AI Chat")), 0o644); err != nil {
				log.Error().Err(err).Str("path", flagHTML).Msg("[chat] write html")
			}
		}
	}()

	if err := view.Load(ctx); err != nil {
		log.Debug().Err(err).Msg("[chat] continuing without history")
	}
	if mode == chat.ModeVoice {
		_ = view.SetMode(chat.ModeVoice)
	}

	fmt.Fprintf(out, "Signed in as %s. Type a message, or /help for commands.\n", sess.DisplayName())
	rctx, cancel := context.WithCancel(ctx)
	r := &repl{ctx: rctx, view: view, store: store, out: out, lines: readLines(cmd.InOrStdin())}
	defer func() {
		cancel()
		r.wait()
	}()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ch.Done():
			if err := ch.Err(); err != nil {
				return fmt.Errorf("connection lost: %w", err)
			}
			return errors.New("connection closed by server")
		case line, ok := <-r.lines:
			if !ok || r.handle(line) {
				return nil
			}
		}
	}
}

type authenticator interface {
	Authenticate(ctx context.Context, token string) error
	OnAuthenticated(fn func(ok bool)) chat.Subscription
	Done() <-chan struct{}
}

// authenticate sends the token and waits for the server's verdict.
func authenticate(ctx context.Context, a authenticator, token string) error {
	verdict := make(chan bool, 1)
	sub := a.OnAuthenticated(func(ok bool) {
		select {
		case verdict <- ok:
		default:
		}
	})
	defer sub.Unsubscribe()

	if err := a.Authenticate(ctx, token); err != nil {
		return err
	}
	timer := time.NewTimer(authTimeout)
	defer timer.Stop()
	select {
	case ok := <-verdict:
		if !ok {
			return delivery.ErrNotAuthenticated
		}
		return nil
	case <-a.Done():
		return fmt.Errorf("%w: connection closed before authentication", chat.ErrNetworkFailure)
	case <-timer.C:
		return fmt.Errorf("%w: no authentication response", chat.ErrNetworkFailure)
	case <-ctx.Done():
		return ctx.Err()
	}
}
