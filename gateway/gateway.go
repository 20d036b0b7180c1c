// Package gateway exposes the realtime dialogue pipeline over websocket and
// HTTP surfaces.
package gateway

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/koscakluka/ema-gateway/core/dialogue"
	"github.com/koscakluka/ema-gateway/core/protocol"
	"go.opentelemetry.io/otel/attribute"
)

// DefaultHeartbeatInterval is how often the gateway pings each connection. A
// connection with no inbound frame within twice the interval is considered
// stale and closed.
const DefaultHeartbeatInterval = 30 * time.Second

type Gateway struct {
	manager *ConnectionManager

	heartbeatInterval   time.Duration
	orchestratorOptions []dialogue.OrchestratorOption
	limiter             *dialogue.Limiter
	probes              map[string]Probe

	upgrader websocket.Upgrader
}

type Option func(*Gateway)

// WithOrchestratorOptions sets the options applied to every per-session
// orchestrator the gateway creates.
func WithOrchestratorOptions(opts ...dialogue.OrchestratorOption) Option {
	return func(g *Gateway) {
		g.orchestratorOptions = append(g.orchestratorOptions, opts...)
	}
}

func WithHeartbeatInterval(interval time.Duration) Option {
	return func(g *Gateway) {
		if interval > 0 {
			g.heartbeatInterval = interval
		}
	}
}

// WithLimiter lets the status endpoint report turn slot usage. The limiter
// still has to be passed to the orchestrators through
// [WithOrchestratorOptions] to take effect.
func WithLimiter(limiter *dialogue.Limiter) Option {
	return func(g *Gateway) {
		g.limiter = limiter
	}
}

func New(opts ...Option) *Gateway {
	gateway := &Gateway{
		manager:           NewConnectionManager(),
		heartbeatInterval: DefaultHeartbeatInterval,
		probes:            map[string]Probe{},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}

	for _, opt := range opts {
		opt(gateway)
	}

	return gateway
}

// Manager exposes the connection registry, mainly for shutdown.
func (g *Gateway) Manager() *ConnectionManager {
	return g.manager
}

// Handler routes the gateway's surfaces: the websocket endpoint at /ws, the
// synchronous dialogue fallback and the status endpoint.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", g.handleWebsocket)
	mux.HandleFunc("/api/orchestrator/dialogue", g.handleDialogue)
	mux.HandleFunc("/api/orchestrator/status", g.handleStatus)
	return mux
}

func (g *Gateway) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.WarnContext(r.Context(), "Failed to upgrade connection", "error", err)
		return
	}

	sess := newSession(uuid.NewString(), conn)
	g.manager.register(sess)

	ctx, span := tracer.Start(r.Context(), "websocket session")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", sess.id))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	defer func() {
		g.manager.deregister(sess.id)
		sess.Close()
	}()

	if err := sess.Send(protocol.NewConnectionAck(sess.id)); err != nil {
		logger.WarnContext(ctx, "Failed to send connection ack",
			"session_id", sess.id, "error", err)
		return
	}

	orchestrator := dialogue.NewOrchestrator(sess.id, sess, g.orchestratorOptions...)
	orchestrator.Orchestrate(ctx)
	defer orchestrator.Close()

	go g.heartbeat(ctx, sess)

	g.readLoop(ctx, sess, orchestrator)
}

func (g *Gateway) readLoop(ctx context.Context, sess *session, orchestrator *dialogue.Orchestrator) {
	for {
		msgType, payload, err := sess.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.InfoContext(ctx, "Connection closed", "session_id", sess.id)
			} else {
				logger.InfoContext(ctx, "Connection lost", "session_id", sess.id, "error", err)
			}
			return
		}

		sess.touch()

		if msgType != websocket.TextMessage {
			continue
		}

		msg, err := protocol.DecodeClient(payload)
		if err != nil {
			// A malformed frame is reported but never tears down the session.
			var decodeErr *protocol.DecodeError
			if errors.As(err, &decodeErr) {
				_ = sess.Send(protocol.NewError(decodeErr.Code, decodeErr.Reason, true))
			} else {
				_ = sess.Send(protocol.NewError(protocol.ErrorCodeInvalidMessage,
					"failed to decode message", true))
			}
			continue
		}

		if _, ok := msg.(protocol.Pong); ok {
			continue
		}

		orchestrator.HandleMessage(msg)
	}
}

func (g *Gateway) heartbeat(ctx context.Context, sess *session) {
	ticker := time.NewTicker(g.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if sess.idleFor() > 2*g.heartbeatInterval {
				logger.InfoContext(ctx, "Closing stale connection",
					"session_id", sess.id, "idle_for", sess.idleFor())
				sess.Close()
				return
			}
			if err := sess.Send(protocol.NewPing()); err != nil {
				return
			}
		}
	}
}
