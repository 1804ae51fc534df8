// Package api talks to the chat server's HTTP endpoints: history, image
// upload and the session calls.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/gosuda/axon-chat/chat"
)

const defaultTimeout = 30 * time.Second

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.SetTimeout(d) }
}

func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// Client is safe for concurrent use.
type Client struct {
	http *resty.Client

	mu    sync.RWMutex
	token string
}

// New returns a client rooted at baseURL (scheme and host, no /api suffix).
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		http: resty.New().
			SetBaseURL(strings.TrimRight(baseURL, "/")).
			SetTimeout(defaultTimeout).
			SetHeader("Accept", "application/json"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetToken replaces the session token sent in the Authorization header.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// History returns up to limit stored turns, newest first.
func (c *Client) History(ctx context.Context, limit int) ([]chat.Turn, error) {
	req := c.request(ctx)
	if limit > 0 {
		req.SetQueryParam("limit", strconv.Itoa(limit))
	}
	var out HistoryResponse
	if err := c.do(req, http.MethodGet, "/api/history", &out); err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	return out.History, nil
}

// ClearHistory deletes the server-side history and returns the server's
// confirmation text.
func (c *Client) ClearHistory(ctx context.Context) (string, error) {
	var out Envelope
	if err := c.do(c.request(ctx), http.MethodDelete, "/api/history", &out); err != nil {
		return "", fmt.Errorf("clear history: %w", err)
	}
	return out.Message, nil
}

// UploadImage posts one image as multipart field "image" and returns the
// server's description of it. A non-empty caption travels as field "caption".
func (c *Client) UploadImage(ctx context.Context, up chat.Upload, caption string) (string, error) {
	name := up.Name
	if name == "" {
		name = "image"
	}
	req := c.request(ctx).
		SetMultipartField("image", name, up.ContentType, bytes.NewReader(up.Data))
	if caption != "" {
		req.SetMultipartFormData(map[string]string{"caption": caption})
	}
	var out UploadResponse
	if err := c.do(req, http.MethodPost, "/api/upload-image", &out); err != nil {
		return "", fmt.Errorf("upload image: %w", err)
	}
	return out.Analysis.Summary, nil
}

// Login exchanges credentials for a session and adopts its token.
func (c *Client) Login(ctx context.Context, username, password string) (chat.Session, error) {
	req := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(LoginRequest{Username: username, Password: password})
	var out LoginResponse
	if err := c.do(req, http.MethodPost, "/api/login", &out); err != nil {
		return chat.Session{}, fmt.Errorf("login: %w", err)
	}
	if out.SessionToken == "" {
		return chat.Session{}, fmt.Errorf("login: %w", &chat.RejectionError{Status: http.StatusOK, Message: "no session token in response"})
	}
	c.SetToken(out.SessionToken)
	return chat.Session{Token: out.SessionToken, User: out.User}, nil
}

// Logout ends the session on the server. The local token is dropped even
// when the call fails.
func (c *Client) Logout(ctx context.Context) error {
	req := c.request(ctx)
	c.SetToken("")
	if err := c.do(req, http.MethodPost, "/api/logout", nil); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}

func (c *Client) request(ctx context.Context) *resty.Request {
	req := c.http.R().SetContext(ctx)
	if t := c.Token(); t != "" {
		req.SetHeader("Authorization", t)
	}
	return req
}

// do executes req and decodes the envelope. Transport errors become
// chat.ErrNetworkFailure; success=false or an unreadable body becomes a
// *chat.RejectionError.
func (c *Client) do(req *resty.Request, method, path string, out any) error {
	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %w", chat.ErrNetworkFailure, method, path, err)
	}
	status := resp.StatusCode()
	body := resp.Body()

	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return &chat.RejectionError{Status: status, Message: fmt.Sprintf("unexpected response (status %d)", status)}
	}
	if !env.Success {
		msg := env.Message
		if msg == "" {
			msg = http.StatusText(status)
		}
		return &chat.RejectionError{Status: status, Message: msg}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &chat.RejectionError{Status: status, Message: fmt.Sprintf("decode response: %v", err)}
	}
	return nil
}
