// Package client implements the chat platform's client-side connection
// manager: it supervises the WebSocket lifecycle (connect, exponential
// backoff reconnect, re-join of chat sessions), and surfaces typed events
// to the UI layer through an on/off subscription interface so the UI never
// touches transport details.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Event types emitted locally by the manager, in addition to every
// server-sent envelope type (new_message, typing_status, user_status,
// joined_chat, left_chat, error) which is emitted under its own name.
const (
	EventConnected    = "connected"
	EventDisconnected = "disconnected"
	EventError        = "error"
)

// ErrNotConnected is returned by Send while the manager is disconnected or
// connecting. Outbound envelopes are dropped, never queued: buffering here
// could reorder user-visible actions around a reconnect, so callers re-send
// after observing the connected event.
var ErrNotConnected = errors.New("client: not connected")

// Handler receives the "data" payload of an envelope (or an empty raw
// message for locally generated lifecycle events).
type Handler func(data json.RawMessage)

// Config holds the connection parameters for a Client.
type Config struct {
	URL         string        // ws endpoint, e.g. "ws://localhost:8080/ws"
	UserID      string        // identity sent in the handshake
	UserType    string        // "agent" or "customer"
	BackoffBase time.Duration // backoff unit (default 1s)
	BackoffCap  time.Duration // backoff ceiling (default 30s)
	MaxAttempts int           // retry budget before going terminal (default 5)
	DialTimeout time.Duration // per-dial timeout (default 10s)
}

// dialFunc opens a WebSocket transport to the given URL. Swappable in tests.
type dialFunc func(ctx context.Context, url string) (net.Conn, error)

func defaultDial(ctx context.Context, u string) (net.Conn, error) {
	conn, _, _, err := ws.Dial(ctx, u)
	return conn, err
}

// subscription pairs a handler with its unsubscribe token.
type subscription struct {
	token int
	fn    Handler
}

// Client is the reconnection manager. All exported methods are
// goroutine-safe.
type Client struct {
	cfg  Config
	dial dialFunc

	mu         sync.Mutex
	state      State
	conn       net.Conn
	attempts   int
	terminal   bool
	closed     bool
	joined     []string // chat session ids in original join order
	handlers   map[string][]subscription
	nextToken  int
	retryTimer *time.Timer
}

// New creates a Client for the given config. No connection is opened until
// Connect is called.
func New(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("client: URL is required")
	}
	if cfg.UserID == "" || cfg.UserType == "" {
		return nil, fmt.Errorf("client: userId and userType are required")
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 1 * time.Second
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = 30 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}

	return &Client{
		cfg:      cfg,
		dial:     defaultDial,
		handlers: make(map[string][]subscription),
	}, nil
}

// Connect opens the transport. Calling Connect cancels any pending backoff
// timer and resets the retry budget, so an explicit reconnect always gets a
// fresh set of attempts even after the manager went terminal.
func (c *Client) Connect() {
	c.mu.Lock()
	if c.closed || c.state != StateDisconnected {
		c.mu.Unlock()
		return
	}
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
	c.attempts = 0
	c.terminal = false
	c.state = StateConnecting
	c.mu.Unlock()

	go c.establish()
}

// establish dials the endpoint and, on success, transitions to connected
// and re-issues join_chat for every session in original join order.
func (c *Client) establish() {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.DialTimeout)
	conn, err := c.dial(ctx, c.endpoint())
	cancel()

	if err != nil {
		c.emit(EventError, errPayload(err))
		c.onDrop(nil)
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.conn = conn
	c.state = StateConnected
	c.attempts = 0
	rejoin := append([]string(nil), c.joined...)
	c.mu.Unlock()

	c.emit(EventConnected, nil)

	for _, sessionID := range rejoin {
		if err := c.write(map[string]interface{}{
			"type":          "join_chat",
			"chatSessionId": sessionID,
		}); err != nil {
			// The read loop will notice the dead transport.
			break
		}
	}

	go c.readLoop(conn)
}

// endpoint builds the handshake URL with the identity query parameters.
func (c *Client) endpoint() string {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return c.cfg.URL
	}
	q := u.Query()
	q.Set("userId", c.cfg.UserID)
	q.Set("userType", c.cfg.UserType)
	u.RawQuery = q.Encode()
	return u.String()
}

// readLoop reads server envelopes and emits them by type until the
// transport fails or the client is closed.
func (c *Client) readLoop(conn net.Conn) {
	for {
		data, err := wsutil.ReadServerText(conn)
		if err != nil {
			c.mu.Lock()
			stale := c.conn != conn
			closed := c.closed
			c.mu.Unlock()
			if stale || closed {
				return
			}
			c.emit(EventDisconnected, nil)
			c.onDrop(conn)
			return
		}

		var envelope struct {
			Type string          `json:"type"`
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(data, &envelope); err != nil || envelope.Type == "" {
			continue
		}

		payload := envelope.Data
		if payload == nil {
			payload = json.RawMessage(data)
		}
		c.emit(envelope.Type, payload)
	}
}

// onDrop transitions to disconnected after a dial failure or transport
// drop, and schedules a reconnect attempt with exponential backoff. After
// MaxAttempts failures the manager stops retrying and stays terminally
// disconnected until Connect is called again; entering the terminal state
// emits a final disconnected event so the UI learns the manager gave up
// (dial failures only ever emit error events along the way).
func (c *Client) onDrop(conn net.Conn) {
	c.mu.Lock()

	if c.closed {
		c.mu.Unlock()
		return
	}
	if conn != nil && c.conn == conn {
		c.conn.Close()
		c.conn = nil
	}
	c.state = StateDisconnected

	c.attempts++
	if c.attempts > c.cfg.MaxAttempts {
		c.terminal = true
		c.mu.Unlock()
		c.emit(EventDisconnected, nil)
		return
	}

	delay := backoffDelay(c.cfg.BackoffBase, c.cfg.BackoffCap, c.attempts)
	c.retryTimer = time.AfterFunc(delay, c.retry)
	c.mu.Unlock()
}

// retry is the backoff timer callback: dial again without touching the
// attempt counter (only a successful connection resets it).
func (c *Client) retry() {
	c.mu.Lock()
	if c.closed || c.terminal || c.state != StateDisconnected {
		c.mu.Unlock()
		return
	}
	c.state = StateConnecting
	c.mu.Unlock()

	c.establish()
}

// backoffDelay computes min(base * 2^attempt, ceiling) for 1-based attempts.
func backoffDelay(base, ceiling time.Duration, attempt int) time.Duration {
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= ceiling {
			return ceiling
		}
	}
	return d
}

// Close shuts the manager down permanently: the backoff timer is stopped,
// the transport closed, and all handlers released.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	c.state = StateDisconnected
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
	var err error
	if c.conn != nil {
		err = c.conn.Close()
		c.conn = nil
	}
	c.handlers = make(map[string][]subscription)
	return err
}

// State returns the manager's current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Terminal reports whether the retry budget has been exhausted; a terminal
// manager stays disconnected until Connect is called again.
func (c *Client) Terminal() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.terminal
}

// ---------------------------------------------------------------------------
// Outbound envelopes
// ---------------------------------------------------------------------------

// Send sends an envelope of the given type with the given fields merged at
// the top level. While disconnected or connecting it returns
// ErrNotConnected and the envelope is dropped, not queued.
func (c *Client) Send(msgType string, fields map[string]interface{}) error {
	payload := make(map[string]interface{}, len(fields)+1)
	for k, v := range fields {
		payload[k] = v
	}
	payload["type"] = msgType
	return c.write(payload)
}

// write marshals and writes one client frame if connected.
func (c *Client) write(payload map[string]interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("client: marshal: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnected || c.conn == nil {
		return ErrNotConnected
	}
	return wsutil.WriteClientMessage(c.conn, ws.OpText, data)
}

// SendChatMessage sends a chat message into a session. messageType defaults
// to "text" when empty.
func (c *Client) SendChatMessage(chatSessionID, messageID, content, messageType string) error {
	if messageType == "" {
		messageType = "text"
	}
	return c.Send("chat_message", map[string]interface{}{
		"chatSessionId": chatSessionID,
		"messageId":     messageID,
		"content":       content,
		"messageType":   messageType,
	})
}

// StartTyping signals the start of typing in a session.
func (c *Client) StartTyping(chatSessionID string) error {
	return c.Send("typing_start", map[string]interface{}{"chatSessionId": chatSessionID})
}

// StopTyping signals the end of typing in a session.
func (c *Client) StopTyping(chatSessionID string) error {
	return c.Send("typing_stop", map[string]interface{}{"chatSessionId": chatSessionID})
}

// JoinChat attaches to a chat session. The session is remembered (in join
// order) and re-joined automatically after every reconnect until LeaveChat
// is called. Joining while disconnected only records the session for the
// next successful connect.
func (c *Client) JoinChat(chatSessionID string) error {
	c.mu.Lock()
	known := false
	for _, id := range c.joined {
		if id == chatSessionID {
			known = true
			break
		}
	}
	if !known {
		c.joined = append(c.joined, chatSessionID)
	}
	c.mu.Unlock()

	err := c.Send("join_chat", map[string]interface{}{"chatSessionId": chatSessionID})
	if errors.Is(err, ErrNotConnected) {
		return nil // recorded for re-join
	}
	return err
}

// LeaveChat detaches from a chat session and forgets it for future
// re-joins.
func (c *Client) LeaveChat(chatSessionID string) error {
	c.mu.Lock()
	for i, id := range c.joined {
		if id == chatSessionID {
			c.joined = append(c.joined[:i], c.joined[i+1:]...)
			break
		}
	}
	c.mu.Unlock()

	return c.Send("leave_chat", map[string]interface{}{"chatSessionId": chatSessionID})
}

// Ping sends a keepalive envelope.
func (c *Client) Ping() error {
	return c.Send("ping", nil)
}

// ---------------------------------------------------------------------------
// Event subscription
// ---------------------------------------------------------------------------

// On registers a handler for an event type and returns a token for Off.
// Handlers for the same event run synchronously in registration order.
func (c *Client) On(eventType string, fn Handler) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextToken++
	token := c.nextToken
	c.handlers[eventType] = append(c.handlers[eventType], subscription{token: token, fn: fn})
	return token
}

// Off removes the handler registered under the given token. Unknown tokens
// are a no-op. Explicit unsubscribe keeps handlers from leaking across
// reconnects of long-lived UI components.
func (c *Client) Off(eventType string, token int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	subs := c.handlers[eventType]
	for i, sub := range subs {
		if sub.token == token {
			c.handlers[eventType] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}

// emit invokes the handlers for an event type, in registration order,
// outside the client lock.
func (c *Client) emit(eventType string, data json.RawMessage) {
	c.mu.Lock()
	subs := append([]subscription(nil), c.handlers[eventType]...)
	c.mu.Unlock()

	for _, sub := range subs {
		sub.fn(data)
	}
}

func errPayload(err error) json.RawMessage {
	data, _ := json.Marshal(map[string]string{"message": err.Error()})
	return data
}
