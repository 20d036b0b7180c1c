package deepgram

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"

	api "github.com/deepgram/deepgram-go-sdk/pkg/api/listen/v1/websocket/interfaces"
	"github.com/gorilla/websocket"
	"github.com/koscakluka/ema-gateway/core/audio"
	"github.com/koscakluka/ema-gateway/core/speechtotext"
)

const (
	defaultModel    = "nova-3"
	defaultLanguage = "ja"
)

type TranscriptionClient struct {
	model    string
	language string

	conn   *websocket.Conn
	connMu sync.Mutex

	segments []transcriptSegment

	done     chan struct{}
	doneOnce sync.Once
}

type transcriptSegment struct {
	transcript string
	confidence float64
}

type TranscriptionClientOption func(*TranscriptionClient)

func WithModel(model string) TranscriptionClientOption {
	return func(c *TranscriptionClient) { c.model = model }
}

func WithLanguage(language string) TranscriptionClientOption {
	return func(c *TranscriptionClient) { c.language = language }
}

func NewTranscriptionClient(opts ...TranscriptionClientOption) *TranscriptionClient {
	client := &TranscriptionClient{
		model:    defaultModel,
		language: defaultLanguage,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// Transcribe opens a streaming transcription for a single utterance. Audio is
// fed through [TranscriptionClient.SendAudio] and the stream is closed with
// [TranscriptionClient.StopStream], after which the full transcript is
// delivered through the transcription callback and Done is closed.
func (s *TranscriptionClient) Transcribe(ctx context.Context, opts ...speechtotext.TranscriptionOption) error {
	options := &speechtotext.TranscriptionOptions{EncodingInfo: audio.GetDefaultEncodingInfo()}
	for _, opt := range opts {
		opt(options)
	}

	encoding, err := convertEncoding(options.EncodingInfo)
	if err != nil {
		return fmt.Errorf("invalid encoding: %w", err)
	}

	callbacks, wsConfig := newCallbackConfig(*options)

	conn, err := s.connectWebsocket(connectionOptions{
		sampleRate: encoding.SampleRate,
		encoding:   encoding.Format.Name(),

		interimResults: wsConfig.shouldRequestInterimResults,
	})
	if err != nil {
		return fmt.Errorf("failed to open websocket: %w", err)
	}

	s.conn = conn
	go s.readAndProcessMessages(ctx, conn, callbacks)

	return nil
}

type callbackConfig struct {
	partialTranscriptionCallback func(transcript string, confidence float64)
	transcriptionCallback        func(transcript string, confidence float64)
}

type websocketConfig struct {
	shouldRequestInterimResults bool
}

func newCallbackConfig(options speechtotext.TranscriptionOptions) (callbackConfig, websocketConfig) {
	callbacks := callbackConfig{
		partialTranscriptionCallback: options.PartialTranscriptionCallback,
		transcriptionCallback:        options.TranscriptionCallback,
	}
	wsConfig := websocketConfig{
		shouldRequestInterimResults: options.PartialTranscriptionCallback != nil,
	}

	if callbacks.partialTranscriptionCallback == nil {
		callbacks.partialTranscriptionCallback = func(string, float64) {}
	}
	if callbacks.transcriptionCallback == nil {
		callbacks.transcriptionCallback = func(string, float64) {}
	}

	return callbacks, wsConfig
}

type connectionOptions struct {
	sampleRate int
	encoding   string

	interimResults bool
}

func (s *TranscriptionClient) connectWebsocket(options connectionOptions) (*websocket.Conn, error) {
	apiKey, ok := os.LookupEnv("DEEPGRAM_API_KEY")
	if !ok {
		return nil, fmt.Errorf("deepgram api key not found")
	}

	listenUrl, _ := url.Parse("wss://api.deepgram.com/v1/listen")
	queryParams := listenUrl.Query()
	if options.encoding != "" {
		queryParams.Set("encoding", options.encoding)
		queryParams.Set("sample_rate", strconv.Itoa(options.sampleRate))
	}
	queryParams.Set("channels", "1")
	queryParams.Set("model", s.model)
	queryParams.Set("language", s.language)
	queryParams.Set("smart_format", "true")
	if options.interimResults {
		queryParams.Set("interim_results", "true")
	}

	listenUrl.RawQuery = queryParams.Encode()
	conn, _, err := websocket.DefaultDialer.Dial(listenUrl.String(),
		http.Header{"Authorization": {"Token " + apiKey}})
	if err != nil {
		return nil, fmt.Errorf("failed to open socket connection to deepgram: %w", err)
	}

	return conn, err
}

func (s *TranscriptionClient) SendAudio(audio []byte) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	if s.conn == nil {
		return fmt.Errorf("transcription stream is not open")
	}
	if err := s.conn.WriteMessage(websocket.BinaryMessage, audio); err != nil {
		return fmt.Errorf("failed to write to deepgram client: %w", err)
	}
	return nil
}

// StopStream signals that no more audio is coming. Remaining results are
// flushed before the connection closes.
func (s *TranscriptionClient) StopStream() error {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	if s.conn != nil {
		if err := s.conn.WriteJSON(struct {
			Type string `json:"type"`
		}{Type: string(api.TypeCloseStreamResponse)}); err != nil {
			return fmt.Errorf("failed to close deepgram stream through websocket: %w", err)
		}
	}
	return nil
}

// Done is closed once the full transcript has been delivered.
func (s *TranscriptionClient) Done() <-chan struct{} {
	return s.done
}

func (s *TranscriptionClient) readAndProcessMessages(ctx context.Context, conn *websocket.Conn, callbacks callbackConfig) {
	defer s.finishTranscription(callbacks)

	for {
		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				logger.WarnContext(ctx, "Failed to read deepgram websocket message", "error", err)
			}

			s.connMu.Lock()
			s.conn = nil
			s.connMu.Unlock()
			conn.Close()
			return
		}
		if msgType != websocket.BinaryMessage {
			s.processMessage(ctx, msg, callbacks)
		}
	}
}

func (s *TranscriptionClient) processMessage(ctx context.Context, msg []byte, callbacks callbackConfig) {
	var parsedMsg struct {
		Type string `json:"type"`
	}
	err := json.Unmarshal(msg, &parsedMsg)
	if err != nil {
		logger.WarnContext(ctx, "Failed to unmarshal deepgram message", "error", err)
		return
	}

	switch api.TypeResponse(parsedMsg.Type) {
	case api.TypeMessageResponse:
		var msgResp api.MessageResponse
		if err := json.Unmarshal(msg, &msgResp); err != nil {
			logger.WarnContext(ctx, "Failed to unmarshal deepgram message", "error", err)
			return
		}
		if len(msgResp.Channel.Alternatives) == 0 {
			return
		}

		alternative := msgResp.Channel.Alternatives[0]
		transcript := strings.TrimSpace(alternative.Transcript)
		if len(transcript) == 0 {
			return
		}

		if msgResp.IsFinal {
			s.segments = append(s.segments, transcriptSegment{
				transcript: transcript,
				confidence: alternative.Confidence,
			})
		} else {
			callbacks.partialTranscriptionCallback(transcript, alternative.Confidence)
		}
	}
}

func (s *TranscriptionClient) finishTranscription(callbacks callbackConfig) {
	s.doneOnce.Do(func() {
		transcript, confidence := joinSegments(s.segments)
		callbacks.transcriptionCallback(transcript, confidence)
		close(s.done)
	})
}

func joinSegments(segments []transcriptSegment) (string, float64) {
	if len(segments) == 0 {
		return "", 0
	}

	parts := make([]string, 0, len(segments))
	confidence := 0.0
	for _, segment := range segments {
		parts = append(parts, segment.transcript)
		confidence += segment.confidence
	}
	return strings.Join(parts, " "), confidence / float64(len(segments))
}
