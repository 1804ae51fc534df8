package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gosuda/axon-chat/chat"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Print stored chat history, oldest first",
	RunE:  runHistory,
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete the stored chat history on the server",
	RunE:  runClear,
}

var flagYes bool

func init() {
	clearCmd.Flags().BoolVarP(&flagYes, "yes", "y", false, "do not ask for confirmation")
}

func runHistory(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()
	sess, err := requireSession(store.Load)
	if err != nil {
		return err
	}

	turns, err := newAPI(sess.Token).History(cmd.Context(), flagHistoryLimit)
	if err != nil {
		return err
	}
	printTurns(cmd.OutOrStdout(), sess.DisplayName(), turns)
	return nil
}

// printTurns writes newest-first rows in chronological order.
func printTurns(w io.Writer, user string, turns []chat.Turn) {
	if len(turns) == 0 {
		fmt.Fprintln(w, "No chat history")
		return
	}
	for i := len(turns) - 1; i >= 0; i-- {
		t := turns[i]
		mode := t.Mode
		if !mode.Valid() {
			mode = chat.ModeText
		}
		fmt.Fprintf(w, "%s (%s)\n", t.Timestamp, mode)
		if t.Message != "" {
			fmt.Fprintf(w, "  %s: %s\n", user, t.Message)
		}
		if t.Response != "" {
			fmt.Fprintf(w, "  Axon AI: %s\n", t.Response)
		}
	}
}

func runClear(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()
	sess, err := requireSession(store.Load)
	if err != nil {
		return err
	}

	if !flagYes && !confirmPrompt(cmd.InOrStdin(), cmd.OutOrStdout(), "Are you sure you want to clear all chat history?") {
		fmt.Fprintln(cmd.OutOrStdout(), "Cancelled")
		return nil
	}
	msg, err := newAPI(sess.Token).ClearHistory(cmd.Context())
	if err != nil {
		return err
	}
	if msg == "" {
		msg = "Chat cleared successfully"
	}
	fmt.Fprintln(cmd.OutOrStdout(), msg)
	return nil
}

func confirmPrompt(in io.Reader, out io.Writer, question string) bool {
	fmt.Fprintf(out, "%s [y/N] ", question)
	line, _ := bufio.NewReader(in).ReadString('\n')
	return isYes(line)
}

func isYes(answer string) bool {
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true
	}
	return false
}
