package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"gosuda.org/portal/portal/core/cryptoops"
	"gosuda.org/portal/sdk"
)

var rootCmd = &cobra.Command{
	Use:   "axon-devserver",
	Short: "Development server for the Axon AI chat client",
	RunE:  runServer,
}

var (
	flagServerURLs  []string
	flagPort        int
	flagName        string
	flagDataPath    string
	flagCredKey     string
	flagUsers       []string
	flagOpenAIModel string
	flagOpenAIBase  string
	flagLogLevel    string
)

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringSliceVar(&flagServerURLs, "server-url", strings.Split(os.Getenv("RELAY"), ","), "relayserver base URL(s); repeat or comma-separated (from env RELAY if set)")
	flags.IntVar(&flagPort, "port", 8080, "local HTTP port (negative to disable)")
	flags.StringVar(&flagName, "name", "axon-chat", "backend display name on the relay")
	flags.StringVar(&flagDataPath, "data-path", "", "optional directory to persist chat history via PebbleDB")
	flags.StringVar(&flagCredKey, "cred-key", "", "optional credential key to use for the listener (base64 encoded)")
	flags.StringSliceVar(&flagUsers, "user", []string{"demo:demo"}, "account as name:password; repeatable")
	flags.StringVar(&flagOpenAIModel, "openai-model", "gpt-4o-mini", "model used when OPENAI_API_KEY is set")
	flags.StringVar(&flagOpenAIBase, "openai-base-url", os.Getenv("OPENAI_BASE_URL"), "OpenAI-compatible API base URL (env OPENAI_BASE_URL)")
	flags.StringVar(&flagLogLevel, "log-level", "info", "log level")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("execute devserver command")
	}
}

func runServer(cmd *cobra.Command, args []string) error {
	lvl, err := zerolog.ParseLevel(flagLogLevel)
	if err != nil {
		return fmt.Errorf("parse log level: %w", err)
	}
	zerolog.SetGlobalLevel(lvl)

	// Cancellation context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	acc, err := newAccounts(flagUsers)
	if err != nil {
		return err
	}

	var hist historyStore = newMemoryHistory()
	if flagDataPath != "" {
		s, err := openPebbleHistory(flagDataPath)
		if err != nil {
			log.Warn().Err(err).Msg("[devserver] open store failed; running in memory only")
		} else {
			hist = s
		}
	}
	defer func() {
		if err := hist.Close(); err != nil {
			log.Warn().Err(err).Msg("[devserver] store close error")
		}
	}()

	var resp responder = echoResponder{}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		resp = newOpenAIResponder(key, flagOpenAIBase, flagOpenAIModel)
		log.Info().Str("model", flagOpenAIModel).Msg("[devserver] replies from OpenAI")
	} else {
		log.Info().Msg("[devserver] OPENAI_API_KEY not set; echoing messages")
	}

	srv := newServer(acc, hist, resp)
	handler := srv.Router()

	listeners, closeRelays, err := relayListeners()
	if err != nil {
		return err
	}
	defer closeRelays()
	if len(listeners) == 0 && flagPort < 0 {
		return fmt.Errorf("nothing to serve: set --port or --server-url")
	}

	// Serve over each relay listener
	for i, ln := range listeners {
		idx := i
		go func() {
			if err := http.Serve(ln, handler); err != nil && err != http.ErrServerClosed && ctx.Err() == nil {
				log.Error().Err(err).Int("listener", idx).Msg("[devserver] relay http error")
			}
		}()
	}

	var httpSrv *http.Server
	if flagPort >= 0 {
		httpSrv = &http.Server{Addr: fmt.Sprintf(":%d", flagPort), Handler: handler, ReadHeaderTimeout: 5 * time.Second, IdleTimeout: 60 * time.Second}
		log.Info().Msgf("[devserver] serving locally at http://127.0.0.1:%d", flagPort)
		go func() {
			if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Warn().Err(err).Msg("[devserver] local http stopped")
			}
		}()
	}

	<-ctx.Done()
	for _, ln := range listeners {
		_ = ln.Close()
	}
	if httpSrv != nil {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(sctx); err != nil && err != context.Canceled {
			log.Error().Err(err).Msg("[devserver] http server shutdown error")
		}
	}
	srv.closeAll()
	srv.wait()
	log.Info().Msg("[devserver] shutdown complete")
	return nil
}

// relayListeners opens one portal listener per configured relay, all
// sharing a single credential.
func relayListeners() ([]net.Listener, func(), error) {
	var (
		clients   []*sdk.RDClient
		listeners []net.Listener
	)
	closeAll := func() {
		for _, ln := range listeners {
			_ = ln.Close()
		}
		for _, c := range clients {
			_ = c.Close()
		}
	}

	var urls []string
	for _, raw := range flagServerURLs {
		for _, p := range strings.Split(raw, ",") {
			if u := strings.TrimSpace(p); u != "" {
				urls = append(urls, u)
			}
		}
	}
	if len(urls) == 0 {
		return nil, closeAll, nil
	}

	cred := sdk.NewCredential()
	if flagCredKey != "" {
		key, err := base64.StdEncoding.DecodeString(flagCredKey)
		if err != nil {
			return nil, closeAll, fmt.Errorf("decode cred key: %w", err)
		}
		if cred, err = cryptoops.NewCredentialFromPrivateKey(key); err != nil {
			return nil, closeAll, fmt.Errorf("new credential from private key: %w", err)
		}
	}
	for _, u := range urls {
		client, err := sdk.NewClient(func(c *sdk.RDClientConfig) { c.BootstrapServers = []string{u} })
		if err != nil {
			log.Error().Err(err).Str("url", u).Msg("[devserver] new relay client failed")
			continue
		}
		clients = append(clients, client)
		ln, err := client.Listen(cred, flagName, []string{"http/1.1"})
		if err != nil {
			closeAll()
			return nil, func() {}, fmt.Errorf("listen (%s): %w", u, err)
		}
		listeners = append(listeners, ln)
		log.Info().Str("url", u).Str("name", flagName).Msg("[devserver] listening on relay")
	}
	return listeners, closeAll, nil
}
