// Package client implements the Go chat client: the WebSocket session and a
// local mirror of server state for UIs to render.
package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/parley-chat/parley/pkg/protocol"
)

// Event is pushed to the client's event channel: either a server envelope or
// a connection status change.
type Event struct {
	Envelope  *protocol.Envelope
	Connected bool
	Err       error
}

// Options configures a Client.
type Options struct {
	ServerURL         string // http(s) base URL, e.g. "http://localhost:8080"
	Token             string
	ReconnectInterval time.Duration
	TLSSkipVerify     bool
}

// Client manages the WebSocket session to the server, reconnecting with a
// fixed delay when the connection drops.
type Client struct {
	opts   Options
	events chan Event
	logger *slog.Logger

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewClient creates a chat client. Events are delivered on Events() until the
// connect context is canceled.
func NewClient(opts Options, logger *slog.Logger) *Client {
	if opts.ReconnectInterval == 0 {
		opts.ReconnectInterval = 3 * time.Second
	}
	return &Client{
		opts:   opts,
		events: make(chan Event, 64),
		logger: logger.With("component", "client"),
	}
}

// Events returns the channel carrying server envelopes and status changes.
func (c *Client) Events() <-chan Event { return c.events }

// wsURL converts the configured base URL into the WebSocket endpoint.
func (c *Client) wsURL() (string, error) {
	u, err := url.Parse(c.opts.ServerURL)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	return u.String(), nil
}

// Connect runs the session, blocking until the context is canceled. Each
// drop is followed by a reconnect after the configured interval.
func (c *Client) Connect(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := c.connectOnce(ctx); err != nil {
			c.logger.Warn("connection lost", "error", err)
			c.events <- Event{Connected: false, Err: err}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.opts.ReconnectInterval):
		}
	}
}

func (c *Client) connectOnce(ctx context.Context) error {
	wsURL, err := c.wsURL()
	if err != nil {
		return err
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	if c.opts.TLSSkipVerify {
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.opts.Token)

	conn, _, err := dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		conn.Close()
	}()

	c.logger.Info("connected", "url", wsURL)
	c.events <- Event{Connected: true}

	for {
		select {
		case <-ctx.Done():
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"))
			return ctx.Err()
		default:
		}

		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		var env protocol.Envelope
		if err := json.Unmarshal(msg, &env); err != nil {
			c.logger.Warn("invalid frame from server", "error", err)
			continue
		}
		c.events <- Event{Envelope: &env}
	}
}

// Send wraps a payload in an envelope and writes it to the server.
func (c *Client) Send(msgType string, payload any) error {
	env, err := protocol.NewEnvelope(msgType, payload)
	if err != nil {
		return err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("not connected")
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Rename changes the display name via the HTTP API. The server broadcasts
// the change to all connections, so the mirror picks it up without a local
// update.
func (c *Client) Rename(ctx context.Context, name string) error {
	body, err := json.Marshal(map[string]string{"displayName": name})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut,
		strings.TrimSuffix(c.opts.ServerURL, "/")+"/api/me/name", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.opts.Token)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		if apiErr.Error != "" {
			return fmt.Errorf("rename: %s", apiErr.Error)
		}
		return fmt.Errorf("rename: status %d", resp.StatusCode)
	}
	return nil
}

// GuestLogin obtains a token for a display name via the HTTP API.
func GuestLogin(ctx context.Context, serverURL, displayName string) (token, identityID string, err error) {
	body, err := json.Marshal(map[string]string{"displayName": displayName})
	if err != nil {
		return "", "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimSuffix(serverURL, "/")+"/api/auth/guest", bytes.NewReader(body))
	if err != nil {
		return "", "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("guest login: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		if apiErr.Error != "" {
			return "", "", fmt.Errorf("guest login: %s", apiErr.Error)
		}
		return "", "", fmt.Errorf("guest login: status %d", resp.StatusCode)
	}

	var out struct {
		Token      string `json:"token"`
		IdentityID string `json:"identityId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", "", err
	}
	return out.Token, out.IdentityID, nil
}
