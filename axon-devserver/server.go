package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/axon-chat/api"
	"github.com/gosuda/axon-chat/chat"
)

const (
	defaultHistoryLimit = 50
	maxUploadBytes      = 10 << 20
	replyTimeout        = 2 * time.Minute
	replyContext        = 10
)

// server answers the chat API and the delivery WebSocket.
type server struct {
	accounts  *accounts
	history   historyStore
	responder responder
	upgrader  websocket.Upgrader
	now       func() time.Time

	mu    sync.Mutex
	conns map[*wsConn]struct{}
	wg    sync.WaitGroup
}

func newServer(acc *accounts, hist historyStore, resp responder) *server {
	return &server{
		accounts:  acc,
		history:   hist,
		responder: resp,
		upgrader: websocket.Upgrader{
			CheckOrigin:      func(r *http.Request) bool { return true },
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
			HandshakeTimeout: 10 * time.Second,
		},
		now:   time.Now,
		conns: map[*wsConn]struct{}{},
	}
}

func (s *server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Route("/api", func(r chi.Router) {
		r.Post("/login", s.handleLogin)
		r.Post("/logout", s.handleLogout)
		r.Get("/history", s.handleHistory)
		r.Delete("/history", s.handleClearHistory)
		r.Post("/upload-image", s.handleUploadImage)
	})
	r.Get("/ws", s.handleWebSocket)
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeFailure(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, api.Envelope{Success: false, Message: message})
}

// authorize resolves the raw token in the Authorization header.
func (s *server) authorize(w http.ResponseWriter, r *http.Request) (chat.User, bool) {
	token := strings.TrimSpace(r.Header.Get("Authorization"))
	if token == "" {
		writeFailure(w, http.StatusUnauthorized, "Not authenticated")
		return chat.User{}, false
	}
	u, ok := s.accounts.lookup(token)
	if !ok {
		writeFailure(w, http.StatusUnauthorized, "Invalid session")
		return chat.User{}, false
	}
	return u, true
}

func (s *server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req api.LoginRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&req); err != nil {
		writeFailure(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Username == "" || req.Password == "" {
		writeFailure(w, http.StatusBadRequest, "Missing credentials")
		return
	}
	token, user, ok := s.accounts.login(req.Username, req.Password)
	if !ok {
		writeFailure(w, http.StatusUnauthorized, "Invalid username or password")
		return
	}
	log.Info().Str("user", user.Username).Msg("[devserver] login")
	writeJSON(w, http.StatusOK, api.LoginResponse{
		Envelope:     api.Envelope{Success: true},
		SessionToken: token,
		User:         user,
	})
}

func (s *server) handleLogout(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimSpace(r.Header.Get("Authorization"))
	if token == "" {
		writeFailure(w, http.StatusBadRequest, "No session token provided")
		return
	}
	s.accounts.logout(token)
	writeJSON(w, http.StatusOK, api.Envelope{Success: true, Message: "Logged out successfully"})
}

func (s *server) handleHistory(w http.ResponseWriter, r *http.Request) {
	user, ok := s.authorize(w, r)
	if !ok {
		return
	}
	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	rows, err := s.history.Recent(user.Username, limit)
	if err != nil {
		log.Error().Err(err).Msg("[devserver] load history")
		writeFailure(w, http.StatusInternalServerError, "Failed to load history")
		return
	}
	turns := make([]chat.Turn, 0, len(rows))
	for _, row := range rows {
		turns = append(turns, row.turn())
	}
	writeJSON(w, http.StatusOK, api.HistoryResponse{Envelope: api.Envelope{Success: true}, History: turns})
}

func (s *server) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	user, ok := s.authorize(w, r)
	if !ok {
		return
	}
	n, err := s.history.Clear(user.Username)
	if err != nil {
		log.Error().Err(err).Msg("[devserver] clear history")
		writeFailure(w, http.StatusInternalServerError, "Failed to clear history")
		return
	}
	writeJSON(w, http.StatusOK, api.Envelope{Success: true, Message: "Cleared " + strconv.Itoa(n) + " messages"})
}

func (s *server) handleUploadImage(w http.ResponseWriter, r *http.Request) {
	user, ok := s.authorize(w, r)
	if !ok {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeFailure(w, http.StatusBadRequest, "Invalid upload")
		return
	}
	f, hdr, err := r.FormFile("image")
	if err != nil {
		writeFailure(w, http.StatusBadRequest, "No image provided")
		return
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil || len(data) == 0 {
		writeFailure(w, http.StatusBadRequest, "No image provided")
		return
	}
	ct := hdr.Header.Get("Content-Type")
	if mt, _, err := mime.ParseMediaType(ct); err != nil || !strings.HasPrefix(mt, "image/") {
		ct = http.DetectContentType(data)
	}
	if !strings.HasPrefix(ct, "image/") {
		writeFailure(w, http.StatusBadRequest, "Invalid file type")
		return
	}
	caption := strings.TrimSpace(r.FormValue("caption"))

	summary, err := s.responder.Describe(r.Context(), imageRequest{
		Name:        hdr.Filename,
		ContentType: ct,
		Data:        data,
		Caption:     caption,
	})
	if err != nil {
		log.Warn().Err(err).Str("user", user.Username).Msg("[devserver] describe image")
		writeFailure(w, http.StatusBadGateway, "Image analysis failed")
		return
	}

	msg := "[image: " + hdr.Filename + "]"
	if caption != "" {
		msg += " " + caption
	}
	if err := s.history.Append(record{User: user.Username, Message: msg, Response: summary, Mode: chat.ModeText, TS: s.now()}); err != nil {
		log.Warn().Err(err).Msg("[devserver] persist image turn")
	}
	writeJSON(w, http.StatusOK, api.UploadResponse{
		Envelope: api.Envelope{Success: true, Message: "Image analyzed successfully"},
		Analysis: api.Analysis{Summary: summary},
	})
}

// answer produces the reply to one user turn and stores the exchange. A
// failed model call still yields a reply so the client is never left
// waiting.
func (s *server) answer(ctx context.Context, user chat.User, message string, mode chat.Mode) string {
	ctx, cancel := context.WithTimeout(ctx, replyTimeout)
	defer cancel()

	hist, err := s.history.Recent(user.Username, replyContext)
	if err != nil {
		log.Warn().Err(err).Msg("[devserver] load reply context")
	}
	reply, err := s.responder.Reply(ctx, replyRequest{User: user, Message: message, Mode: mode, History: hist})
	if err != nil {
		log.Warn().Err(err).Str("user", user.Username).Msg("[devserver] reply failed")
		if errors.Is(err, context.Canceled) {
			return ""
		}
		return "Sorry, I could not answer that right now. Please try again."
	}
	if err := s.history.Append(record{User: user.Username, Message: message, Response: reply, Mode: mode, TS: s.now()}); err != nil {
		log.Warn().Err(err).Msg("[devserver] persist turn")
	}
	return reply
}

func (s *server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("[devserver] upgrade websocket")
		return
	}
	c := newWSConn(s, conn)
	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		c.run()
		s.mu.Lock()
		delete(s.conns, c)
		s.mu.Unlock()
	}()
}

// closeAll asks every open connection to go away; wait blocks until they have.
func (s *server) closeAll() {
	s.mu.Lock()
	conns := make([]*wsConn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	for _, c := range conns {
		c.close()
	}
}

func (s *server) wait() {
	s.wg.Wait()
}
