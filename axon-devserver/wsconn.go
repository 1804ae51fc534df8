package main

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/axon-chat/chat"
	"github.com/gosuda/axon-chat/delivery"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = 30 * time.Second
	sendBufferSize = 16
	jobBufferSize  = 4
	maxMessageLen  = 10000
)

type job struct {
	user    chat.User
	message string
	mode    chat.Mode
}

// wsConn is one delivery connection. Replies are produced in order by a
// single worker so a slow model never stalls the read loop.
type wsConn struct {
	srv  *server
	conn *websocket.Conn
	send chan delivery.ServerEvent
	jobs chan job

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once

	mu     sync.Mutex
	user   chat.User
	authed bool
}

func newWSConn(srv *server, conn *websocket.Conn) *wsConn {
	ctx, cancel := context.WithCancel(context.Background())
	return &wsConn{
		srv:    srv,
		conn:   conn,
		send:   make(chan delivery.ServerEvent, sendBufferSize),
		jobs:   make(chan job, jobBufferSize),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

func (c *wsConn) run() {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		c.writeLoop()
	}()
	go func() {
		defer wg.Done()
		c.worker()
	}()
	c.readLoop()
	c.close()
	wg.Wait()
}

func (c *wsConn) readLoop() {
	c.conn.SetReadLimit(1 << 20)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			log.Debug().Err(err).Msg("[devserver] read message")
			return
		}
		var ev delivery.ClientEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			c.pushError("Invalid message format")
			continue
		}
		c.handle(ev)
	}
}

func (c *wsConn) handle(ev delivery.ClientEvent) {
	switch ev.Type {
	case delivery.TypeAuthenticate:
		u, ok := c.srv.accounts.lookup(ev.SessionToken)
		c.mu.Lock()
		c.user, c.authed = u, ok
		c.mu.Unlock()
		log.Debug().Bool("ok", ok).Str("user", u.Username).Msg("[devserver] authenticate")
		c.push(delivery.ServerEvent{Type: delivery.TypeAuthenticated, Success: ok})

	case delivery.TypeSendMessage:
		u, ok := c.sender(ev.SessionToken)
		if !ok {
			c.pushError("Invalid session")
			return
		}
		msg := strings.TrimSpace(ev.Message)
		if msg == "" {
			c.pushError("Empty message")
			return
		}
		if r := []rune(msg); len(r) > maxMessageLen {
			msg = string(r[:maxMessageLen])
		}
		mode := ev.Mode
		if !mode.Valid() {
			mode = chat.ModeText
		}
		select {
		case c.jobs <- job{user: u, message: msg, mode: mode}:
		default:
			c.pushError("Too many pending messages")
		}

	default:
		c.pushError("Unknown event type")
	}
}

// sender resolves the user of a send_message frame: its own token when it
// carries one, otherwise the connection's authenticated user.
func (c *wsConn) sender(token string) (chat.User, bool) {
	if token != "" {
		return c.srv.accounts.lookup(token)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.user, c.authed
}

func (c *wsConn) worker() {
	for {
		select {
		case j := <-c.jobs:
			reply := c.srv.answer(c.ctx, j.user, j.message, j.mode)
			if reply == "" {
				continue
			}
			c.push(delivery.ServerEvent{Type: delivery.TypeReceive, Response: reply})
		case <-c.done:
			return
		}
	}
}

func (c *wsConn) writeLoop() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case ev := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(ev); err != nil {
				log.Debug().Err(err).Msg("[devserver] write json")
				c.close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
			return
		}
	}
}

func (c *wsConn) push(ev delivery.ServerEvent) {
	select {
	case c.send <- ev:
	case <-c.done:
	}
}

func (c *wsConn) pushError(message string) {
	c.push(delivery.ServerEvent{Type: delivery.TypeError, Message: message})
}

func (c *wsConn) close() {
	c.once.Do(func() {
		close(c.done)
		c.cancel()
	})
}
