package main

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/gosuda/axon-chat/chat"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in and store the session",
	RunE:  runLogin,
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "End the session and forget it",
	RunE:  runLogout,
}

var (
	flagUsername string
	flagPassword string
)

func init() {
	flags := loginCmd.Flags()
	flags.StringVar(&flagUsername, "username", "", "account username")
	flags.StringVar(&flagPassword, "password", "", "account password (read from stdin when empty)")
	_ = loginCmd.MarkFlagRequired("username")
}

func runLogin(cmd *cobra.Command, args []string) error {
	password := flagPassword
	if password == "" {
		fmt.Fprint(cmd.OutOrStdout(), "Password: ")
		line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil && line == "" {
			return fmt.Errorf("read password: %w", err)
		}
		password = strings.TrimRight(line, "\r\n")
	}

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	sess, err := newAPI("").Login(cmd.Context(), flagUsername, password)
	if err != nil {
		return err
	}
	if err := store.Save(sess); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	log.Info().Str("user", sess.User.Username).Msg("[auth] logged in")
	fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s\n", sess.DisplayName())
	return nil
}

func runLogout(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	sess, err := store.Load()
	if errors.Is(err, chat.ErrNoSession) {
		fmt.Fprintln(cmd.OutOrStdout(), "Not logged in")
		return nil
	}
	if err != nil {
		return err
	}
	if err := newAPI(sess.Token).Logout(cmd.Context()); err != nil {
		log.Warn().Err(err).Msg("[auth] server logout failed")
	}
	if err := store.Clear(); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
	return nil
}

// requireSession loads the stored session or explains how to get one.
func requireSession(load func() (chat.Session, error)) (chat.Session, error) {
	sess, err := load()
	if errors.Is(err, chat.ErrNoSession) {
		return chat.Session{}, fmt.Errorf("%w: run `axon-chat login` first", err)
	}
	return sess, err
}
