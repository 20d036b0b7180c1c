package gateway

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/koscakluka/ema-gateway/core/dialogue"
	"github.com/koscakluka/ema-gateway/core/llms"
	"github.com/koscakluka/ema-gateway/core/protocol"
	"github.com/koscakluka/ema-gateway/core/speechtotext"
	"github.com/koscakluka/ema-gateway/core/texttospeech"
)

type stubChunk struct{ content string }

func (stubChunk) FinishReason() *string { return nil }
func (c stubChunk) Content() string     { return c.content }

type stubStream struct{ chunks []string }

func (s stubStream) Chunks(_ context.Context) func(func(llms.StreamChunk, error) bool) {
	return func(yield func(llms.StreamChunk, error) bool) {
		for _, chunk := range s.chunks {
			if !yield(stubChunk{content: chunk}, nil) {
				return
			}
		}
	}
}

type stubLLM struct{ chunks []string }

func (l stubLLM) PromptWithStream(_ context.Context, _ *string, _ string, _ ...llms.StreamingPromptOption) llms.Stream {
	return stubStream{chunks: l.chunks}
}

type stubTranscriber struct {
	transcript string
	confidence float64

	options speechtotext.TranscriptionOptions
	done    chan struct{}
}

func (s *stubTranscriber) Transcribe(_ context.Context, opts ...speechtotext.TranscriptionOption) error {
	for _, opt := range opts {
		opt(&s.options)
	}
	s.done = make(chan struct{})
	return nil
}

func (s *stubTranscriber) SendAudio([]byte) error { return nil }

func (s *stubTranscriber) StopStream() error {
	if s.options.TranscriptionCallback != nil {
		s.options.TranscriptionCallback(s.transcript, s.confidence)
	}
	close(s.done)
	return nil
}

func (s *stubTranscriber) Done() <-chan struct{} { return s.done }

type stubSynthesizer struct{ audio [][]byte }

func (s stubSynthesizer) NewSpeechGenerator(_ context.Context, opts ...texttospeech.TextToSpeechOption) (texttospeech.SpeechGenerator, error) {
	options := texttospeech.TextToSpeechOptions{}
	for _, opt := range opts {
		opt(&options)
	}
	return &stubGenerator{audio: s.audio, options: options}, nil
}

type stubGenerator struct {
	audio   [][]byte
	options texttospeech.TextToSpeechOptions
}

func (g *stubGenerator) SendText(string) error { return nil }

func (g *stubGenerator) EndOfText() error {
	total := 0
	for _, chunk := range g.audio {
		total += len(chunk)
		if g.options.SpeechAudioCallback != nil {
			g.options.SpeechAudioCallback(chunk)
		}
	}
	if g.options.SpeechEndedCallback != nil {
		g.options.SpeechEndedCallback(texttospeech.SpeechEndedReport{AudioBytes: total})
	}
	return nil
}

func (g *stubGenerator) Cancel() error { return nil }
func (g *stubGenerator) Close() error  { return nil }

func dialTestGateway(t *testing.T, gateway *Gateway) *websocket.Conn {
	t.Helper()

	server := httptest.NewServer(gateway.Handler())
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("expected the websocket dial to succeed, got %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	return conn
}

// waitForServerTag reads frames until a message with the wanted tag arrives,
// skipping binary audio frames and unrelated messages.
func waitForServerTag(t *testing.T, conn *websocket.Conn, tag string) protocol.ServerMessage {
	t.Helper()

	if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("expected to set a read deadline, got %v", err)
	}
	for {
		msgType, payload, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("expected a %s message, got read error %v", tag, err)
		}
		if msgType != websocket.TextMessage {
			continue
		}
		msg, err := protocol.DecodeServer(payload)
		if err != nil {
			t.Fatalf("expected a decodable server message, got %v (%s)", err, payload)
		}
		if msg.Tag() == tag {
			return msg
		}
	}
}

func TestWebsocketHandshake(t *testing.T) {
	conn := dialTestGateway(t, New())

	ack := waitForServerTag(t, conn, protocol.TagConnectionAck).(protocol.ConnectionAck)
	if ack.SessionID == "" {
		t.Fatalf("expected the ack to carry a session id")
	}

	status := waitForServerTag(t, conn, protocol.TagStatusUpdate).(protocol.StatusUpdate)
	if status.Status != protocol.StatusIdle {
		t.Fatalf("expected an initial %s status, got %s", protocol.StatusIdle, status.Status)
	}
}

func TestInvalidFrameKeepsConnectionOpen(t *testing.T) {
	gateway := New(WithOrchestratorOptions(
		dialogue.WithStreamingLLM(stubLLM{chunks: []string{"Hello!"}}),
	))
	conn := dialTestGateway(t, gateway)
	waitForServerTag(t, conn, protocol.TagConnectionAck)

	if err := conn.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("expected the write to succeed, got %v", err)
	}

	errMsg := waitForServerTag(t, conn, protocol.TagError).(protocol.Error)
	if errMsg.Code != protocol.ErrorCodeInvalidMessage {
		t.Fatalf("expected error code %s, got %s", protocol.ErrorCodeInvalidMessage, errMsg.Code)
	}
	if !errMsg.Recoverable {
		t.Fatalf("expected a recoverable error")
	}

	payload, err := protocol.EncodeClient(protocol.NewTextInput("hi", ""))
	if err != nil {
		t.Fatalf("expected the encode to succeed, got %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		t.Fatalf("expected the connection to still accept messages, got %v", err)
	}

	complete := waitForServerTag(t, conn, protocol.TagResponseComplete).(protocol.ResponseComplete)
	if complete.FullText != "Hello!" {
		t.Fatalf("expected a response after the invalid frame, got %q", complete.FullText)
	}
}

func TestUnknownMessageTypeIsRejected(t *testing.T) {
	conn := dialTestGateway(t, New())
	waitForServerTag(t, conn, protocol.TagConnectionAck)

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"telemetry"}`)); err != nil {
		t.Fatalf("expected the write to succeed, got %v", err)
	}

	errMsg := waitForServerTag(t, conn, protocol.TagError).(protocol.Error)
	if errMsg.Code != protocol.ErrorCodeInvalidMessage {
		t.Fatalf("expected error code %s, got %s", protocol.ErrorCodeInvalidMessage, errMsg.Code)
	}
	if !strings.Contains(errMsg.Message, "telemetry") {
		t.Fatalf("expected the message to name the unknown type, got %q", errMsg.Message)
	}
}

func TestHeartbeatClosesStaleConnection(t *testing.T) {
	gateway := New(WithHeartbeatInterval(20 * time.Millisecond))
	conn := dialTestGateway(t, gateway)

	if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("expected to set a read deadline, got %v", err)
	}

	pings := 0
	for {
		msgType, payload, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		if msg, err := protocol.DecodeServer(payload); err == nil && msg.Tag() == protocol.TagPing {
			pings++
		}
	}

	if pings == 0 {
		t.Fatalf("expected at least one ping before the connection was closed")
	}
}

func TestPongKeepsConnectionAlive(t *testing.T) {
	gateway := New(WithHeartbeatInterval(30 * time.Millisecond))
	conn := dialTestGateway(t, gateway)
	waitForServerTag(t, conn, protocol.TagConnectionAck)

	pong, err := protocol.EncodeClient(protocol.NewPong())
	if err != nil {
		t.Fatalf("expected the encode to succeed, got %v", err)
	}

	// Answer pings for several staleness windows; the connection must survive.
	deadline := time.Now().Add(300 * time.Millisecond)
	for time.Now().Before(deadline) {
		if err := conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond)); err != nil {
			t.Fatalf("expected to set a read deadline, got %v", err)
		}
		if _, _, err := conn.ReadMessage(); err != nil {
			t.Fatalf("expected the connection to stay open, got %v", err)
		}
		if err := conn.WriteMessage(websocket.TextMessage, pong); err != nil {
			t.Fatalf("expected the pong write to succeed, got %v", err)
		}
	}
}

func TestConnectionManagerTracksSessions(t *testing.T) {
	gateway := New()
	conn := dialTestGateway(t, gateway)
	waitForServerTag(t, conn, protocol.TagConnectionAck)

	if count := gateway.Manager().Count(); count != 1 {
		t.Fatalf("expected 1 registered session, got %d", count)
	}

	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if gateway.Manager().Count() == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected the session to be deregistered, got %d", gateway.Manager().Count())
}

func TestSynthesizedAudioArrivesAsBinaryFrames(t *testing.T) {
	gateway := New(WithOrchestratorOptions(
		dialogue.WithStreamingLLM(stubLLM{chunks: []string{"Hello!"}}),
		dialogue.WithSpeechSynthesizer(stubSynthesizer{audio: [][]byte{[]byte("pcm-data")}}),
	))
	conn := dialTestGateway(t, gateway)
	waitForServerTag(t, conn, protocol.TagConnectionAck)

	payload, err := protocol.EncodeClient(protocol.NewTextInput("hi", ""))
	if err != nil {
		t.Fatalf("expected the encode to succeed, got %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		t.Fatalf("expected the write to succeed, got %v", err)
	}

	if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("expected to set a read deadline, got %v", err)
	}

	var audio []byte
	for {
		msgType, payload, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("expected audio before the connection closed, got %v", err)
		}
		if msgType == websocket.BinaryMessage {
			audio = payload
			break
		}
	}

	if string(audio) != "pcm-data" {
		t.Fatalf("expected the synthesized audio frame, got %q", audio)
	}

	complete := waitForServerTag(t, conn, protocol.TagResponseComplete).(protocol.ResponseComplete)
	if !complete.AudioAvailable {
		t.Fatalf("expected audio to be reported as available")
	}
}
