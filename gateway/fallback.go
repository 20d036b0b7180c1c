package gateway

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/koscakluka/ema-gateway/core/dialogue"
	"github.com/koscakluka/ema-gateway/core/protocol"
	"go.opentelemetry.io/otel/attribute"
)

const (
	// fallbackChunkSize is how much raw audio goes into one synthetic
	// audio_chunk when replaying an HTTP body through the pipeline.
	fallbackChunkSize = 32 * 1024

	// fallbackTimeout bounds one synchronous dialogue exchange end to end.
	fallbackTimeout = 35 * time.Second

	// fallbackMaxBodyBytes caps the audio an HTTP caller may upload.
	fallbackMaxBodyBytes = 10 << 20
)

type fallbackTextRequest struct {
	Text           string `json:"text"`
	ConversationID string `json:"conversation_id,omitempty"`
}

type fallbackResponse struct {
	FullText       string `json:"full_text"`
	Transcript     string `json:"transcript,omitempty"`
	AudioAvailable bool   `json:"audio_available"`
	Audio          string `json:"audio,omitempty"`
}

type fallbackErrorResponse struct {
	Code        protocol.ErrorCode `json:"code"`
	Message     string             `json:"message"`
	Recoverable bool               `json:"recoverable"`
}

// handleDialogue runs one full exchange over a single HTTP request, for
// callers that cannot hold a websocket open. The request is replayed through
// the same per-session pipeline the websocket surface uses.
func (g *Gateway) handleDialogue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, span := tracer.Start(r.Context(), "fallback dialogue")
	defer span.End()

	input, err := fallbackInputFromRequest(r)
	if err != nil {
		span.RecordError(err)
		writeFallbackError(w, protocol.NewError(protocol.ErrorCodeInvalidMessage, err.Error(), true))
		return
	}
	span.SetAttributes(attribute.Int("request.input_length", input.length))

	sink := newCollectorSink()
	orchestrator := dialogue.NewOrchestrator(uuid.NewString(), sink, g.orchestratorOptions...)
	orchestrator.Orchestrate(ctx)
	defer orchestrator.Close()

	start := time.Now()
	for _, msg := range input.messages {
		orchestrator.HandleMessage(msg)
	}

	select {
	case <-sink.done:
	case <-ctx.Done():
		return
	case <-time.After(fallbackTimeout):
		writeFallbackError(w, protocol.NewError(protocol.ErrorCodeInternalError,
			"dialogue exchange timed out", false))
		return
	}

	result := sink.result()
	if result.err != nil {
		span.SetAttributes(attribute.String("response.error_code", string(result.err.Code)))
		writeFallbackError(w, *result.err)
		return
	}

	transcript := ""
	if result.transcript != nil {
		transcript = result.transcript.Content
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Processing-Time-Total", formatSeconds(time.Since(start)))
	w.Header().Set("X-Processing-Time-STT", formatSeconds(result.stageTime(protocol.StatusTranscribing, protocol.StatusGenerating)))
	w.Header().Set("X-Processing-Time-LLM", formatSeconds(result.stageTime(protocol.StatusGenerating, protocol.StatusSynthesizing)))
	w.Header().Set("X-Processing-Time-TTS", formatSeconds(result.stageTime(protocol.StatusSynthesizing, protocol.StatusPlaying)))
	w.Header().Set("X-Input-Text-Length", strconv.Itoa(input.length))
	w.Header().Set("X-Output-Text-Length", strconv.Itoa(len(result.response.FullText)))
	if input.sampleRate > 0 {
		w.Header().Set("X-Sample-Rate", strconv.Itoa(input.sampleRate))
	}
	if result.transcript != nil {
		w.Header().Set("X-Input-Duration",
			formatSeconds(time.Duration(result.transcript.DurationMS)*time.Millisecond))
	}

	response := fallbackResponse{
		FullText:       result.response.FullText,
		Transcript:     transcript,
		AudioAvailable: result.response.AudioAvailable,
	}
	if len(result.audio) > 0 {
		response.Audio = base64.StdEncoding.EncodeToString(result.audio)
	}

	if err := json.NewEncoder(w).Encode(response); err != nil {
		logger.WarnContext(ctx, "Failed to write fallback response", "error", err)
	}
}

// fallbackInput is one HTTP request converted into the client messages one
// exchange consists of.
type fallbackInput struct {
	messages []protocol.ClientMessage
	// length is the text length for text requests, the byte count for audio.
	length     int
	sampleRate int
}

// fallbackInputFromRequest parses the request body. JSON bodies carry text
// input; anything else is raw audio described by the sample_rate and format
// query parameters.
func fallbackInputFromRequest(r *http.Request) (fallbackInput, error) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var request fallbackTextRequest
		if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
			return fallbackInput{}, fmt.Errorf("invalid JSON body: %w", err)
		}
		if strings.TrimSpace(request.Text) == "" {
			return fallbackInput{}, fmt.Errorf("text must not be empty")
		}
		if len(request.Text) > protocol.MaxTextInputLength {
			return fallbackInput{}, fmt.Errorf("text exceeds %d characters", protocol.MaxTextInputLength)
		}
		return fallbackInput{
			messages: []protocol.ClientMessage{
				protocol.NewTextInput(request.Text, request.ConversationID),
			},
			length: len(request.Text),
		}, nil
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, fallbackMaxBodyBytes+1))
	if err != nil {
		return fallbackInput{}, fmt.Errorf("failed to read audio body: %w", err)
	}
	if len(body) == 0 {
		return fallbackInput{}, fmt.Errorf("audio body must not be empty")
	}
	if len(body) > fallbackMaxBodyBytes {
		return fallbackInput{}, fmt.Errorf("audio body exceeds %d bytes", fallbackMaxBodyBytes)
	}

	sampleRate := 16000
	if raw := r.URL.Query().Get("sample_rate"); raw != "" {
		sampleRate, err = strconv.Atoi(raw)
		if err != nil {
			return fallbackInput{}, fmt.Errorf("invalid sample_rate: %w", err)
		}
	}

	format := protocol.AudioFormatPCM16
	if raw := r.URL.Query().Get("format"); raw != "" {
		format = protocol.AudioFormat(raw)
		if !format.IsValid() {
			return fallbackInput{}, fmt.Errorf("unsupported audio format: %s", raw)
		}
	}

	durationMS := 0
	if format == protocol.AudioFormatPCM16 {
		durationMS = len(body) * 1000 / (2 * sampleRate)
	} else if raw := r.URL.Query().Get("duration_ms"); raw != "" {
		durationMS, err = strconv.Atoi(raw)
		if err != nil {
			return fallbackInput{}, fmt.Errorf("invalid duration_ms: %w", err)
		}
	}

	input := fallbackInput{length: len(body), sampleRate: sampleRate}
	index := 0
	for offset := 0; offset < len(body); offset += fallbackChunkSize {
		end := min(offset+fallbackChunkSize, len(body))
		input.messages = append(input.messages, protocol.NewAudioChunk(
			base64.StdEncoding.EncodeToString(body[offset:end]),
			index, sampleRate, format,
		))
		index++
	}
	input.messages = append(input.messages, protocol.NewAudioEnd(index, durationMS))

	return input, nil
}

func writeFallbackError(w http.ResponseWriter, errMsg protocol.Error) {
	w.Header().Set("Content-Type", "application/json")
	if errMsg.RetryAfter != nil {
		w.Header().Set("Retry-After", strconv.Itoa(*errMsg.RetryAfter))
	}
	w.WriteHeader(fallbackStatus(errMsg.Code))
	_ = json.NewEncoder(w).Encode(fallbackErrorResponse{
		Code:        errMsg.Code,
		Message:     errMsg.Message,
		Recoverable: errMsg.Recoverable,
	})
}

// fallbackStatus maps pipeline error codes onto HTTP statuses.
func fallbackStatus(code protocol.ErrorCode) int {
	switch code {
	case protocol.ErrorCodeInvalidMessage, protocol.ErrorCodeInvalidAudioFormat,
		protocol.ErrorCodeAudioTooShort, protocol.ErrorCodeAudioTooLong:
		return http.StatusBadRequest
	case protocol.ErrorCodeSpeechRecognitionFailed:
		return http.StatusUnprocessableEntity
	case protocol.ErrorCodeTooManyRequests, protocol.ErrorCodeLLMRateLimited:
		return http.StatusTooManyRequests
	case protocol.ErrorCodeSTTServiceError, protocol.ErrorCodeLLMServiceError,
		protocol.ErrorCodeTTSServiceError:
		return http.StatusServiceUnavailable
	case protocol.ErrorCodeSTTTimeout, protocol.ErrorCodeLLMTimeout,
		protocol.ErrorCodeTTSTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func formatSeconds(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	return strconv.FormatFloat(d.Seconds(), 'f', 3, 64)
}

// collectorSink gathers one exchange's worth of pipeline output so it can be
// returned as a single HTTP response.
type collectorSink struct {
	mu sync.Mutex

	statusAt   map[protocol.Status]time.Time
	transcript *protocol.TranscriptFinal
	response   *protocol.ResponseComplete
	errMsg     *protocol.Error
	audio      bytes.Buffer

	done     chan struct{}
	doneOnce sync.Once
}

func newCollectorSink() *collectorSink {
	return &collectorSink{
		statusAt: map[protocol.Status]time.Time{},
		done:     make(chan struct{}),
	}
}

func (s *collectorSink) Send(msg protocol.ServerMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch msg := msg.(type) {
	case protocol.StatusUpdate:
		// Stages are timed from their first status; idle keeps its last
		// occurrence so it can close out the final stage.
		if _, seen := s.statusAt[msg.Status]; !seen || msg.Status == protocol.StatusIdle {
			s.statusAt[msg.Status] = time.Now()
		}
	case protocol.TranscriptFinal:
		s.transcript = &msg
	case protocol.ResponseComplete:
		s.response = &msg
		s.doneOnce.Do(func() { close(s.done) })
	case protocol.Error:
		s.errMsg = &msg
		s.doneOnce.Do(func() { close(s.done) })
	}
	return nil
}

func (s *collectorSink) SendAudio(audio []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audio.Write(audio)
	return nil
}

type collectedResult struct {
	statusAt   map[protocol.Status]time.Time
	transcript *protocol.TranscriptFinal
	response   *protocol.ResponseComplete
	err        *protocol.Error
	audio      []byte
}

func (s *collectorSink) result() collectedResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return collectedResult{
		statusAt:   s.statusAt,
		transcript: s.transcript,
		response:   s.response,
		err:        s.errMsg,
		audio:      append([]byte{}, s.audio.Bytes()...),
	}
}

// stageTime measures a stage as the gap between its status and the next
// stage's status. A stage that never ran reports zero.
func (r collectedResult) stageTime(from protocol.Status, to protocol.Status) time.Duration {
	started, ok := r.statusAt[from]
	if !ok {
		return 0
	}
	ended, ok := r.statusAt[to]
	if !ok {
		ended = r.statusAt[protocol.StatusIdle]
	}
	if ended.IsZero() {
		return 0
	}
	return ended.Sub(started)
}
