package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/gosuda/axon-chat/chat"
	"github.com/gosuda/axon-chat/conversation"
)

const helpText = `Commands:
  /mode text|voice       switch input mode
  /voice                 start or stop listening (voice mode)
  /image <path> [caption] send an image
  /clear                 delete the chat history
  /quit                  leave
Anything else is sent as a message. Start a line with // to send a literal /.`

type modeSaver interface {
	SaveMode(chat.Mode) error
}

type repl struct {
	ctx   context.Context
	view  *conversation.View
	store modeSaver
	out   io.Writer
	lines <-chan string

	outMu   sync.Mutex
	uploads sync.WaitGroup
}

type input struct {
	name string
	arg  string
}

// parseInput splits a slash command from its argument. Plain text has an
// empty name.
func parseInput(line string) input {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") {
		return input{arg: line}
	}
	if strings.HasPrefix(line, "//") {
		return input{arg: line[1:]}
	}
	name, rest, _ := strings.Cut(line[1:], " ")
	return input{name: strings.ToLower(name), arg: strings.TrimSpace(rest)}
}

// handle runs one line and reports whether the loop should end.
func (r *repl) handle(line string) bool {
	in := parseInput(line)
	var err error
	switch in.name {
	case "":
		err = r.view.SubmitText(r.ctx, in.arg)
	case "quit", "exit", "q":
		return true
	case "help", "?":
		fmt.Fprintln(r.out, helpText)
	case "mode":
		var m chat.Mode
		if m, err = chat.ParseMode(in.arg); err == nil {
			if err = r.view.SetMode(m); err == nil {
				if serr := r.store.SaveMode(m); serr != nil {
					log.Warn().Err(serr).Msg("[chat] save mode")
				}
			}
		}
	case "voice":
		err = r.view.ToggleCapture(r.ctx)
	case "image":
		path, caption, _ := strings.Cut(in.arg, " ")
		if path == "" {
			fmt.Fprintln(r.out, "usage: /image <path> [caption]")
			return false
		}
		up, rerr := readUpload(path)
		if rerr != nil {
			fmt.Fprintf(r.out, "✕ %v\n", rerr)
			return false
		}
		r.uploads.Add(1)
		go func() {
			defer r.uploads.Done()
			r.report(r.view.SubmitImage(r.ctx, up, caption))
		}()
		return false
	case "clear":
		err = r.view.Clear(r.ctx, r.confirm)
	default:
		fmt.Fprintf(r.out, "unknown command /%s, try /help\n", in.name)
	}
	r.report(err)
	return false
}

// report prints failures the view does not surface itself. Everything else
// already reached the renderer as a notice.
func (r *repl) report(err error) {
	r.outMu.Lock()
	defer r.outMu.Unlock()
	switch {
	case err == nil, errors.Is(err, chat.ErrEmptyMessage):
	case errors.Is(err, chat.ErrPendingResponse):
		fmt.Fprintln(r.out, "Please wait for Axon AI to reply")
	case errors.Is(err, chat.ErrNotConfirmed):
		fmt.Fprintln(r.out, "Cancelled")
	case errors.Is(err, chat.ErrInvalidMode):
		fmt.Fprintln(r.out, "usage: /mode text|voice")
	case errors.Is(err, chat.ErrNotVoiceMode):
		fmt.Fprintln(r.out, "Switch to voice mode first: /mode voice")
	default:
		log.Debug().Err(err).Msg("[chat] command failed")
	}
}

// wait blocks until every started upload has finished.
func (r *repl) wait() {
	r.uploads.Wait()
}

// confirm reads the answer from the same input stream as the messages.
func (r *repl) confirm() bool {
	fmt.Fprint(r.out, "Are you sure you want to clear all chat history? [y/N] ")
	select {
	case line, ok := <-r.lines:
		return ok && isYes(line)
	case <-r.ctx.Done():
		return false
	}
}

func readLines(in io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
		for sc.Scan() {
			lines <- sc.Text()
		}
		if err := sc.Err(); err != nil {
			log.Debug().Err(err).Msg("[chat] read input")
		}
	}()
	return lines
}

// readUpload loads an image file. The content type comes from the extension
// and falls back to sniffing the bytes.
func readUpload(path string) (chat.Upload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return chat.Upload{}, fmt.Errorf("read image: %w", err)
	}
	ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if ct == "" {
		ct = http.DetectContentType(data)
	}
	return chat.Upload{Name: filepath.Base(path), ContentType: ct, Data: data}, nil
}
