package gateway

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/koscakluka/ema-gateway/core/dialogue"
	"github.com/koscakluka/ema-gateway/core/protocol"
)

func postDialogue(t *testing.T, gateway *Gateway, contentType string, body string) *httptest.ResponseRecorder {
	t.Helper()

	request := httptest.NewRequest(http.MethodPost, "/api/orchestrator/dialogue", strings.NewReader(body))
	request.Header.Set("Content-Type", contentType)
	recorder := httptest.NewRecorder()
	gateway.Handler().ServeHTTP(recorder, request)
	return recorder
}

func TestFallbackTextDialogue(t *testing.T) {
	gateway := New(WithOrchestratorOptions(
		dialogue.WithStreamingLLM(stubLLM{chunks: []string{"Hello ", "there."}}),
		dialogue.WithSpeechSynthesizer(stubSynthesizer{audio: [][]byte{[]byte("pcm")}}),
	))

	recorder := postDialogue(t, gateway, "application/json", `{"text":"hi"}`)

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d (%s)", recorder.Code, recorder.Body.String())
	}

	var response fallbackResponse
	if err := json.Unmarshal(recorder.Body.Bytes(), &response); err != nil {
		t.Fatalf("expected a JSON response, got %v", err)
	}
	if response.FullText != "Hello there." {
		t.Fatalf("expected the full response text, got %q", response.FullText)
	}
	if !response.AudioAvailable {
		t.Fatalf("expected audio to be available")
	}
	audio, err := base64.StdEncoding.DecodeString(response.Audio)
	if err != nil {
		t.Fatalf("expected base64 audio, got %v", err)
	}
	if string(audio) != "pcm" {
		t.Fatalf("expected the synthesized audio, got %q", audio)
	}

	for _, header := range []string{
		"X-Processing-Time-Total", "X-Processing-Time-STT",
		"X-Processing-Time-LLM", "X-Processing-Time-TTS",
	} {
		if recorder.Header().Get(header) == "" {
			t.Fatalf("expected the %s header to be set", header)
		}
	}
	if got := recorder.Header().Get("X-Input-Text-Length"); got != "2" {
		t.Fatalf("expected input length 2, got %q", got)
	}
	if got := recorder.Header().Get("X-Output-Text-Length"); got != "12" {
		t.Fatalf("expected output length 12, got %q", got)
	}
}

func TestFallbackVoiceDialogue(t *testing.T) {
	gateway := New(WithOrchestratorOptions(
		dialogue.WithSpeechToText(func() dialogue.SpeechToText {
			return &stubTranscriber{transcript: "what time is it", confidence: 0.9}
		}),
		dialogue.WithStreamingLLM(stubLLM{chunks: []string{"It is noon."}}),
	))

	body := strings.Repeat("\x00", 6400) // 200ms of 16kHz linear16

	request := httptest.NewRequest(http.MethodPost,
		"/api/orchestrator/dialogue?sample_rate=16000&format=pcm16", strings.NewReader(body))
	request.Header.Set("Content-Type", "application/octet-stream")
	recorder := httptest.NewRecorder()
	gateway.Handler().ServeHTTP(recorder, request)

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d (%s)", recorder.Code, recorder.Body.String())
	}

	var response fallbackResponse
	if err := json.Unmarshal(recorder.Body.Bytes(), &response); err != nil {
		t.Fatalf("expected a JSON response, got %v", err)
	}
	if response.Transcript != "what time is it" {
		t.Fatalf("expected the transcript to be reported, got %q", response.Transcript)
	}
	if response.FullText != "It is noon." {
		t.Fatalf("expected the response text, got %q", response.FullText)
	}

	if got := recorder.Header().Get("X-Sample-Rate"); got != "16000" {
		t.Fatalf("expected sample rate 16000, got %q", got)
	}
	if got := recorder.Header().Get("X-Input-Duration"); got != "0.200" {
		t.Fatalf("expected input duration 0.200, got %q", got)
	}
}

func TestFallbackRejectsEmptyText(t *testing.T) {
	gateway := New()

	recorder := postDialogue(t, gateway, "application/json", `{"text":"  "}`)

	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", recorder.Code)
	}

	var response fallbackErrorResponse
	if err := json.Unmarshal(recorder.Body.Bytes(), &response); err != nil {
		t.Fatalf("expected a JSON error, got %v", err)
	}
	if response.Code != protocol.ErrorCodeInvalidMessage {
		t.Fatalf("expected error code %s, got %s", protocol.ErrorCodeInvalidMessage, response.Code)
	}
}

func TestFallbackReportsCapacityWithRetryAfter(t *testing.T) {
	limiter := dialogue.NewLimiter(1)
	release, err := limiter.Acquire()
	if err != nil {
		t.Fatalf("expected acquire to succeed, got %v", err)
	}
	defer release()

	gateway := New(WithOrchestratorOptions(
		dialogue.WithStreamingLLM(stubLLM{chunks: []string{"unused"}}),
		dialogue.WithLimiter(limiter),
	))

	recorder := postDialogue(t, gateway, "application/json", `{"text":"hi"}`)

	if recorder.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status 429, got %d", recorder.Code)
	}
	if recorder.Header().Get("Retry-After") == "" {
		t.Fatalf("expected a Retry-After header")
	}
}

func TestFallbackMethodNotAllowed(t *testing.T) {
	gateway := New()

	request := httptest.NewRequest(http.MethodGet, "/api/orchestrator/dialogue", nil)
	recorder := httptest.NewRecorder()
	gateway.Handler().ServeHTTP(recorder, request)

	if recorder.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected status 405, got %d", recorder.Code)
	}
}

func TestFallbackStatusMapping(t *testing.T) {
	cases := []struct {
		code   protocol.ErrorCode
		status int
	}{
		{protocol.ErrorCodeInvalidMessage, http.StatusBadRequest},
		{protocol.ErrorCodeAudioTooLong, http.StatusBadRequest},
		{protocol.ErrorCodeSpeechRecognitionFailed, http.StatusUnprocessableEntity},
		{protocol.ErrorCodeTooManyRequests, http.StatusTooManyRequests},
		{protocol.ErrorCodeLLMRateLimited, http.StatusTooManyRequests},
		{protocol.ErrorCodeSTTServiceError, http.StatusServiceUnavailable},
		{protocol.ErrorCodeLLMTimeout, http.StatusGatewayTimeout},
		{protocol.ErrorCodeInternalError, http.StatusInternalServerError},
		{protocol.ErrorCodeConnectionFailed, http.StatusInternalServerError},
	}

	for _, c := range cases {
		if got := fallbackStatus(c.code); got != c.status {
			t.Fatalf("expected %s to map to %d, got %d", c.code, c.status, got)
		}
	}
}
