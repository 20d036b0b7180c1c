// Package client maintains a realtime dialogue connection for a caller,
// reconnecting with backoff after unexpected closures and surfacing the
// connection state.
package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/koscakluka/ema-gateway/core/protocol"
)

// State is the client's connection lifecycle state.
type State string

const (
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateDisconnected State = "disconnected"
	StateError        State = "error"
)

// DefaultBackoffSchedule spaces reconnection attempts roughly half a minute
// apart in total before the retry budget runs out.
var DefaultBackoffSchedule = []time.Duration{
	1 * time.Second,
	2 * time.Second,
	4 * time.Second,
	8 * time.Second,
	16 * time.Second,
}

const (
	DefaultMaxReconnectAttempts = 5

	defaultHandshakeTimeout = 10 * time.Second
)

type Client struct {
	url    string
	dialer *websocket.Dialer

	backoffSchedule      []time.Duration
	maxReconnectAttempts int
	handshakeTimeout     time.Duration
	callbacks            callbacks

	mu               sync.Mutex
	state            State
	conn             *websocket.Conn
	sessionID        string
	reconnectAttempt int

	writeMu sync.Mutex

	closeCh   chan struct{}
	closeOnce sync.Once
}

func New(url string, opts ...Option) *Client {
	client := &Client{
		url:                  url,
		dialer:               websocket.DefaultDialer,
		backoffSchedule:      DefaultBackoffSchedule,
		maxReconnectAttempts: DefaultMaxReconnectAttempts,
		handshakeTimeout:     defaultHandshakeTimeout,
		callbacks:            noopCallbacks(),
		state:                StateDisconnected,
		closeCh:              make(chan struct{}),
	}

	for _, opt := range opts {
		opt(client)
	}

	return client
}

// Connect dials the gateway and waits for the handshake ack. On success the
// client keeps the connection alive in the background, reconnecting after
// unexpected closures. A failed initial dial is terminal; the caller retries
// explicitly.
func (c *Client) Connect(ctx context.Context) error {
	c.setState(StateConnecting)

	conn, sessionID, err := c.dial(ctx)
	if err != nil {
		c.setState(StateError)
		return err
	}

	c.adopt(conn, sessionID)

	go c.run(conn)
	return nil
}

// Close disconnects cleanly. A clean close never triggers reconnection.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.closeCh)
	})

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		c.writeMu.Lock()
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		_ = conn.Close()
	}
}

// Send delivers one client message. It fails unless the client is connected.
func (c *Client) Send(msg protocol.ClientMessage) error {
	c.mu.Lock()
	conn := c.conn
	state := c.state
	c.mu.Unlock()

	if state != StateConnected || conn == nil {
		return fmt.Errorf("cannot send in state %q", state)
	}

	payload, err := protocol.EncodeClient(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, payload)
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SessionID reports the last session id the gateway issued. It is for
// reporting only; reconnects always yield a fresh session.
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// ReconnectAttempt reports how many consecutive reconnection attempts have
// been made since the last successful connection.
func (c *Client) ReconnectAttempt() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reconnectAttempt
}

func (c *Client) setState(state State) {
	c.mu.Lock()
	changed := c.state != state
	c.state = state
	c.mu.Unlock()

	if changed {
		c.callbacks.onStateChange(state)
	}
}

func (c *Client) adopt(conn *websocket.Conn, sessionID string) {
	c.mu.Lock()
	c.conn = conn
	c.sessionID = sessionID
	c.reconnectAttempt = 0
	c.mu.Unlock()

	c.setState(StateConnected)
}

// dial opens a connection and performs the handshake, returning the issued
// session id.
func (c *Client) dial(ctx context.Context) (*websocket.Conn, string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.handshakeTimeout)
	defer cancel()

	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to dial %s: %w", c.url, err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(c.handshakeTimeout))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		_ = conn.Close()
		return nil, "", fmt.Errorf("failed to read handshake: %w", err)
	}
	_ = conn.SetReadDeadline(time.Time{})

	msg, err := protocol.DecodeServer(payload)
	if err != nil {
		_ = conn.Close()
		return nil, "", fmt.Errorf("failed to decode handshake: %w", err)
	}
	ack, ok := msg.(protocol.ConnectionAck)
	if !ok {
		_ = conn.Close()
		return nil, "", fmt.Errorf("expected a connection ack, got %q", msg.Tag())
	}

	return conn, ack.SessionID, nil
}

// run reads the connection until it drops, then decides between a clean stop
// and the reconnection loop.
func (c *Client) run(conn *websocket.Conn) {
	for {
		clean := c.readLoop(conn)

		if clean || c.isClosed() {
			c.setState(StateDisconnected)
			return
		}

		next, ok := c.reconnect()
		if !ok {
			return
		}
		conn = next
	}
}

// readLoop consumes frames until the connection drops. It reports whether the
// closure was clean.
func (c *Client) readLoop(conn *websocket.Conn) bool {
	for {
		msgType, payload, err := conn.ReadMessage()
		if err != nil {
			return websocket.IsCloseError(err, websocket.CloseNormalClosure) || c.isClosed()
		}

		switch msgType {
		case websocket.BinaryMessage:
			c.callbacks.onAudio(payload)
			continue
		case websocket.TextMessage:
		default:
			continue
		}

		msg, err := protocol.DecodeServer(payload)
		if err != nil {
			logger.Warn("Dropping undecodable server message", "error", err)
			continue
		}

		if _, isPing := msg.(protocol.Ping); isPing {
			c.respondToPing(conn)
		}

		c.callbacks.onMessage(msg)
	}
}

func (c *Client) respondToPing(conn *websocket.Conn) {
	payload, err := protocol.EncodeClient(protocol.NewPong())
	if err != nil {
		return
	}
	c.writeMu.Lock()
	_ = conn.WriteMessage(websocket.TextMessage, payload)
	c.writeMu.Unlock()
}

// reconnect runs the backoff schedule until a dial succeeds or the retry
// budget is exhausted. Exhaustion is terminal: the client enters the error
// state and stops retrying until told otherwise.
func (c *Client) reconnect() (*websocket.Conn, bool) {
	for attempt := 1; attempt <= c.maxReconnectAttempts; attempt++ {
		c.mu.Lock()
		c.conn = nil
		c.reconnectAttempt = attempt
		c.mu.Unlock()
		c.setState(StateReconnecting)

		delay := c.backoffSchedule[min(attempt-1, len(c.backoffSchedule)-1)]
		select {
		case <-c.closeCh:
			c.setState(StateDisconnected)
			return nil, false
		case <-time.After(delay):
		}

		c.setState(StateConnecting)
		conn, sessionID, err := c.dial(context.Background())
		if err != nil {
			logger.Warn("Reconnection attempt failed",
				"attempt", attempt, "max_attempts", c.maxReconnectAttempts, "error", err)
			continue
		}

		c.adopt(conn, sessionID)
		return conn, true
	}

	c.setState(StateError)
	return nil, false
}

func (c *Client) isClosed() bool {
	select {
	case <-c.closeCh:
		return true
	default:
		return false
	}
}
