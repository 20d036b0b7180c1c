package client

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/koscakluka/ema-gateway/core/protocol"
)

// fakeGateway is a minimal websocket endpoint that acks connections and
// records what it receives. It can be told to refuse new connections to
// simulate an unreachable server.
type fakeGateway struct {
	server   *httptest.Server
	upgrader websocket.Upgrader

	mu       sync.Mutex
	refuse   bool
	conns    []*websocket.Conn
	sessions int
	received []protocol.ClientMessage
}

func newFakeGateway(t *testing.T) *fakeGateway {
	t.Helper()

	gateway := &fakeGateway{}
	gateway.server = httptest.NewServer(http.HandlerFunc(gateway.handle))
	t.Cleanup(gateway.server.Close)
	return gateway
}

func (g *fakeGateway) handle(w http.ResponseWriter, r *http.Request) {
	g.mu.Lock()
	refuse := g.refuse
	g.mu.Unlock()
	if refuse {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	g.mu.Lock()
	g.sessions++
	sessionID := fmt.Sprintf("session-%d", g.sessions)
	g.conns = append(g.conns, conn)
	g.mu.Unlock()

	payload, err := protocol.EncodeServer(protocol.NewConnectionAck(sessionID))
	if err != nil {
		conn.Close()
		return
	}
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		conn.Close()
		return
	}

	for {
		msgType, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		if msg, err := protocol.DecodeClient(payload); err == nil {
			g.mu.Lock()
			g.received = append(g.received, msg)
			g.mu.Unlock()
		}
	}
}

func (g *fakeGateway) url() string {
	return "ws" + strings.TrimPrefix(g.server.URL, "http")
}

func (g *fakeGateway) setRefuse(refuse bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.refuse = refuse
}

func (g *fakeGateway) sessionCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.sessions
}

func (g *fakeGateway) receivedCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.received)
}

// dropConnections force-closes every server-side connection without a close
// frame, which the client must treat as an unexpected closure.
func (g *fakeGateway) dropConnections() {
	g.mu.Lock()
	conns := g.conns
	g.conns = nil
	g.mu.Unlock()

	for _, conn := range conns {
		conn.Close()
	}
}

// stateRecorder collects state transitions for assertions.
type stateRecorder struct {
	mu     sync.Mutex
	states []State
}

func (r *stateRecorder) record(state State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, state)
}

func (r *stateRecorder) count(state State) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, got := range r.states {
		if got == state {
			count++
		}
	}
	return count
}

func waitForState(t *testing.T, c *Client, state State) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if c.State() == state {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected state %s, got %s", state, c.State())
}

func fastSchedule() []time.Duration {
	return []time.Duration{time.Millisecond, 2 * time.Millisecond}
}

func TestConnectAndSend(t *testing.T) {
	gateway := newFakeGateway(t)
	c := New(gateway.url())
	t.Cleanup(c.Close)

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("expected connect to succeed, got %v", err)
	}
	if c.State() != StateConnected {
		t.Fatalf("expected state %s, got %s", StateConnected, c.State())
	}
	if c.SessionID() != "session-1" {
		t.Fatalf("expected session id from the handshake, got %q", c.SessionID())
	}

	if err := c.Send(protocol.NewTextInput("hello", "")); err != nil {
		t.Fatalf("expected send to succeed, got %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && gateway.receivedCount() == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	if gateway.receivedCount() != 1 {
		t.Fatalf("expected the server to receive 1 message, got %d", gateway.receivedCount())
	}
}

func TestSendFailsWhenNotConnected(t *testing.T) {
	c := New("ws://localhost:0")

	err := c.Send(protocol.NewTextInput("hello", ""))
	if err == nil {
		t.Fatalf("expected send to fail before connecting")
	}
	if !strings.Contains(err.Error(), string(StateDisconnected)) {
		t.Fatalf("expected the error to name the state, got %v", err)
	}
}

func TestCleanCloseDoesNotReconnect(t *testing.T) {
	gateway := newFakeGateway(t)
	recorder := &stateRecorder{}
	c := New(gateway.url(),
		WithBackoffSchedule(fastSchedule()),
		WithStateCallback(recorder.record),
	)

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("expected connect to succeed, got %v", err)
	}

	c.Close()
	waitForState(t, c, StateDisconnected)

	time.Sleep(20 * time.Millisecond)
	if got := recorder.count(StateReconnecting); got != 0 {
		t.Fatalf("expected no reconnection attempts after a clean close, got %d", got)
	}
	if gateway.sessionCount() != 1 {
		t.Fatalf("expected a single session, got %d", gateway.sessionCount())
	}
	if c.ReconnectAttempt() != 0 {
		t.Fatalf("expected the attempt counter to stay 0, got %d", c.ReconnectAttempt())
	}
}

func TestReconnectsAfterUnexpectedClose(t *testing.T) {
	gateway := newFakeGateway(t)
	c := New(gateway.url(), WithBackoffSchedule(fastSchedule()))
	t.Cleanup(c.Close)

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("expected connect to succeed, got %v", err)
	}

	gateway.dropConnections()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if c.State() == StateConnected && c.SessionID() == "session-2" {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	if c.State() != StateConnected {
		t.Fatalf("expected the client to reconnect, got state %s", c.State())
	}
	if c.SessionID() != "session-2" {
		t.Fatalf("expected a fresh session id after reconnecting, got %q", c.SessionID())
	}
	if c.ReconnectAttempt() != 0 {
		t.Fatalf("expected the attempt counter to reset, got %d", c.ReconnectAttempt())
	}
}

func TestRetryBudgetExhaustionIsTerminal(t *testing.T) {
	gateway := newFakeGateway(t)
	recorder := &stateRecorder{}
	c := New(gateway.url(),
		WithBackoffSchedule(fastSchedule()),
		WithMaxReconnectAttempts(3),
		WithStateCallback(recorder.record),
	)
	t.Cleanup(c.Close)

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("expected connect to succeed, got %v", err)
	}

	gateway.setRefuse(true)
	gateway.dropConnections()

	waitForState(t, c, StateError)

	if got := recorder.count(StateReconnecting); got != 3 {
		t.Fatalf("expected exactly 3 reconnection attempts, got %d", got)
	}
	if gateway.sessionCount() != 1 {
		t.Fatalf("expected no new sessions, got %d", gateway.sessionCount())
	}

	// Terminal: no further attempts without an explicit reconnect.
	time.Sleep(20 * time.Millisecond)
	if c.State() != StateError {
		t.Fatalf("expected the client to stay in %s, got %s", StateError, c.State())
	}
}

func TestInitialDialFailureIsTerminal(t *testing.T) {
	c := New("ws://127.0.0.1:1/ws", WithHandshakeTimeout(100*time.Millisecond))

	if err := c.Connect(context.Background()); err == nil {
		t.Fatalf("expected connect to fail")
	}
	if c.State() != StateError {
		t.Fatalf("expected state %s, got %s", StateError, c.State())
	}
}
