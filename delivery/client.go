// Package delivery is the persistent WebSocket connection chat turns travel
// over. One Client is opened per process and shared by whoever needs it.
package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/axon-chat/chat"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
	readLimit    = 1 << 20
)

// Config describes where and how to connect.
type Config struct {
	// URL of the WebSocket endpoint, e.g. ws://127.0.0.1:8080/ws.
	URL string
	// Token is sent in the authenticate frame right after connecting.
	Token  string
	Header http.Header
	Dialer *websocket.Dialer
}

// Client is a connected delivery channel.
type Client struct {
	conn  *websocket.Conn
	token string

	writeMu sync.Mutex

	subMu   sync.RWMutex
	nextSub uint64
	recv    map[uint64]func(string)
	auth    map[uint64]func(bool)
	fail    map[uint64]func(string)

	authenticated atomic.Bool
	closed        atomic.Bool
	done          chan struct{}
	errMu         sync.Mutex
	err           error
}

// Dial connects to the server and, when a token is configured, sends the
// authenticate frame. The verdict arrives through OnAuthenticated.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, resp, err := dialer.DialContext(ctx, cfg.URL, cfg.Header)
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("%w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("%w: dial %s: %w", chat.ErrNetworkFailure, cfg.URL, err)
	}
	c := &Client{
		conn:  conn,
		token: cfg.Token,
		recv:  map[uint64]func(string){},
		auth:  map[uint64]func(bool){},
		fail:  map[uint64]func(string){},
		done:  make(chan struct{}),
	}
	go c.readLoop()
	go c.pingLoop()

	if cfg.Token != "" {
		if err := c.Authenticate(ctx, cfg.Token); err != nil {
			_ = c.Close()
			return nil, err
		}
	}
	log.Debug().Str("url", cfg.URL).Msg("[delivery] connected")
	return c, nil
}

// Authenticate sends a session token to the server.
func (c *Client) Authenticate(ctx context.Context, token string) error {
	return c.write(ctx, ClientEvent{Type: TypeAuthenticate, SessionToken: token})
}

// Send emits one user turn. It fails with chat.ErrNetworkFailure when the
// connection is gone or the frame cannot be written.
func (c *Client) Send(ctx context.Context, out chat.Outgoing) error {
	token := out.Token
	if token == "" {
		token = c.token
	}
	return c.write(ctx, ClientEvent{
		Type:         TypeSendMessage,
		SessionToken: token,
		Message:      out.Body,
		Mode:         out.Mode,
	})
}

// OnReceive registers a handler for assistant replies.
func (c *Client) OnReceive(fn func(body string)) chat.Subscription {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	c.nextSub++
	id := c.nextSub
	c.recv[id] = fn
	return c.subscription(func() { delete(c.recv, id) })
}

// OnAuthenticated registers a handler for the server's verdict on the token.
func (c *Client) OnAuthenticated(fn func(ok bool)) chat.Subscription {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	c.nextSub++
	id := c.nextSub
	c.auth[id] = fn
	return c.subscription(func() { delete(c.auth, id) })
}

// OnError registers a handler for error frames pushed by the server.
func (c *Client) OnError(fn func(message string)) chat.Subscription {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	c.nextSub++
	id := c.nextSub
	c.fail[id] = fn
	return c.subscription(func() { delete(c.fail, id) })
}

// Authenticated reports the last verdict received from the server.
func (c *Client) Authenticated() bool {
	return c.authenticated.Load()
}

// Done is closed once the connection has ended.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns the reason the connection ended, if it has.
func (c *Client) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

// Close sends a close frame and tears the connection down.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.writeMu.Lock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	err := c.conn.Close()
	<-c.done
	return err
}

func (c *Client) write(ctx context.Context, ev ClientEvent) error {
	if c.closed.Load() {
		return fmt.Errorf("%w: connection closed", chat.ErrNetworkFailure)
	}
	select {
	case <-c.done:
		return fmt.Errorf("%w: connection lost", chat.ErrNetworkFailure)
	default:
	}
	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(deadline)
	if err := c.conn.WriteJSON(ev); err != nil {
		return fmt.Errorf("%w: write %s: %w", chat.ErrNetworkFailure, ev.Type, err)
	}
	return nil
}

func (c *Client) readLoop() {
	defer close(c.done)
	c.conn.SetReadLimit(readLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			if !c.closed.Load() && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn().Err(err).Msg("[delivery] read failed")
			}
			c.errMu.Lock()
			c.err = err
			c.errMu.Unlock()
			c.authenticated.Store(false)
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		var ev ServerEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			log.Warn().Err(err).Int("len", len(payload)).Msg("[delivery] dropping malformed frame")
			continue
		}
		c.dispatch(ev)
	}
}

func (c *Client) dispatch(ev ServerEvent) {
	c.subMu.RLock()
	var (
		recv []func(string)
		auth []func(bool)
		fail []func(string)
	)
	switch ev.Type {
	case TypeReceive:
		for _, fn := range c.recv {
			recv = append(recv, fn)
		}
	case TypeAuthenticated:
		for _, fn := range c.auth {
			auth = append(auth, fn)
		}
	case TypeError:
		for _, fn := range c.fail {
			fail = append(fail, fn)
		}
	default:
		log.Debug().Str("type", ev.Type).Msg("[delivery] unknown event")
	}
	c.subMu.RUnlock()

	if ev.Type == TypeAuthenticated {
		c.authenticated.Store(ev.Success)
	}
	for _, fn := range recv {
		fn(ev.Response)
	}
	for _, fn := range auth {
		fn(ev.Success)
	}
	for _, fn := range fail {
		fn(ev.Message)
	}
}

func (c *Client) pingLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.writeMu.Lock()
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := c.conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

type subscription struct {
	once sync.Once
	drop func()
}

func (s *subscription) Unsubscribe() {
	s.once.Do(s.drop)
}

func (c *Client) subscription(drop func()) *subscription {
	return &subscription{drop: func() {
		c.subMu.Lock()
		drop()
		c.subMu.Unlock()
	}}
}

// ErrNotAuthenticated is reported by callers that require a verdict first.
var ErrNotAuthenticated = errors.New("not authenticated")
