package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/gosuda/axon-chat/api"
	"github.com/gosuda/axon-chat/session"
)

var rootCmd = &cobra.Command{
	Use:           "axon-chat",
	Short:         "Axon AI chat client for the terminal",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		lvl, err := zerolog.ParseLevel(flagLogLevel)
		if err != nil {
			return fmt.Errorf("parse log level: %w", err)
		}
		zerolog.SetGlobalLevel(lvl)
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
		return nil
	},
}

var (
	flagServerURL    string
	flagDataPath     string
	flagLogLevel     string
	flagHistoryLimit int
)

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&flagServerURL, "server-url", envOr("AXON_SERVER_URL", "http://127.0.0.1:8080"), "chat server base URL (env AXON_SERVER_URL)")
	flags.StringVar(&flagDataPath, "data-path", envOr("AXON_DATA_PATH", defaultDataPath()), "directory for the stored session (env AXON_DATA_PATH)")
	flags.StringVar(&flagLogLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	flags.IntVar(&flagHistoryLimit, "history-limit", 20, "number of stored turns to fetch")

	rootCmd.AddCommand(loginCmd, logoutCmd, historyCmd, clearCmd, chatCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Fatal().Err(err).Msg("execute axon-chat command")
	}
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func defaultDataPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".axon-chat"
	}
	return filepath.Join(dir, "axon-chat")
}

func openStore() (*session.Store, error) {
	store, err := session.Open(flagDataPath)
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}
	return store, nil
}

func newAPI(token string) *api.Client {
	return api.New(flagServerURL, api.WithToken(token))
}

// wsURL derives the delivery endpoint from the HTTP base URL.
func wsURL(base string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(base))
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws", "":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported server url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("server url %q has no host", base)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}
