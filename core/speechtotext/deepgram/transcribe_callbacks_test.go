package deepgram

import (
	"sync/atomic"
	"testing"

	"github.com/koscakluka/ema-gateway/core/audio"
	"github.com/koscakluka/ema-gateway/core/speechtotext"
)

func TestNewCallbackConfigDefaultsToNoopCallbacks(t *testing.T) {
	callbacks, wsConfig := newCallbackConfig(speechtotext.TranscriptionOptions{})

	callbacks.partialTranscriptionCallback("partial", 0.5)
	callbacks.transcriptionCallback("full", 0.9)

	if wsConfig.shouldRequestInterimResults {
		t.Fatalf("expected interim-results disabled when callbacks are unset")
	}
}

func TestNewCallbackConfigKeepsConfiguredCallbacksAndFlags(t *testing.T) {
	partialCalls := atomic.Int32{}
	transcriptionCalls := atomic.Int32{}

	callbacks, wsConfig := newCallbackConfig(speechtotext.TranscriptionOptions{
		PartialTranscriptionCallback: func(string, float64) { partialCalls.Add(1) },
		TranscriptionCallback:        func(string, float64) { transcriptionCalls.Add(1) },
	})

	callbacks.partialTranscriptionCallback("hel", 0.4)
	callbacks.transcriptionCallback("hello world", 0.95)

	if !wsConfig.shouldRequestInterimResults {
		t.Fatalf("expected interim-results enabled")
	}

	if got := partialCalls.Load(); got != 1 {
		t.Fatalf("expected partial transcription callback once, got %d", got)
	}
	if got := transcriptionCalls.Load(); got != 1 {
		t.Fatalf("expected transcription callback once, got %d", got)
	}
}

func TestJoinSegmentsAveragesConfidence(t *testing.T) {
	transcript, confidence := joinSegments([]transcriptSegment{
		{transcript: "hello", confidence: 0.8},
		{transcript: "world", confidence: 1.0},
	})

	if transcript != "hello world" {
		t.Fatalf("expected joined transcript %q, got %q", "hello world", transcript)
	}
	if confidence != 0.9 {
		t.Fatalf("expected averaged confidence 0.9, got %f", confidence)
	}
}

func TestJoinSegmentsEmpty(t *testing.T) {
	transcript, confidence := joinSegments(nil)
	if transcript != "" || confidence != 0 {
		t.Fatalf("expected empty transcript and zero confidence, got %q and %f", transcript, confidence)
	}
}

func TestConvertEncoding(t *testing.T) {
	encoding, err := convertEncoding(audio.EncodingInfo{SampleRate: 16000, Format: audio.EncodingLinear16})
	if err != nil {
		t.Fatalf("failed to convert linear16 encoding: %v", err)
	}
	if encoding.Format != encodingLinear16 || encoding.SampleRate != 16000 {
		t.Fatalf("unexpected encoding: %#v", encoding)
	}

	if _, err := convertEncoding(audio.EncodingInfo{SampleRate: 44100, Format: audio.EncodingLinear16}); err == nil {
		t.Fatalf("expected unsupported sample rate to be rejected")
	}

	encoding, err = convertEncoding(audio.EncodingInfo{SampleRate: 48000, Format: audio.EncodingWebM})
	if err != nil {
		t.Fatalf("failed to convert webm encoding: %v", err)
	}
	if encoding.Format.Name() != "" {
		t.Fatalf("expected containerized format to omit encoding name, got %q", encoding.Format.Name())
	}
}
