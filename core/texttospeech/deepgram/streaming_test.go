package deepgram

import (
	"testing"

	"github.com/koscakluka/ema-gateway/core/texttospeech"
)

func TestStreamingRequestGuardsAfterClose(t *testing.T) {
	req := &streamingRequest{}

	if err := req.Close(); err != nil {
		t.Fatalf("failed to close streaming request: %v", err)
	}

	if err := req.SendText("hello"); err == nil {
		t.Fatalf("expected SendText to fail after close")
	}
	if err := req.EndOfText(); err == nil {
		t.Fatalf("expected EndOfText to fail after close")
	}
	if err := req.Cancel(); err == nil {
		t.Fatalf("expected Cancel to fail after close")
	}
}

func TestEndOfTextWithoutTextEndsImmediately(t *testing.T) {
	ended := false
	req := &streamingRequest{
		options: streamingRequestOptions{
			TextToSpeechOptions: texttospeech.TextToSpeechOptions{
				SpeechAudioCallback: func([]byte) {},
				SpeechEndedCallback: func(texttospeech.SpeechEndedReport) { ended = true },
				ErrorCallback:       func(error) {},
			},
		},
	}

	if err := req.EndOfText(); err != nil {
		t.Fatalf("failed to end text: %v", err)
	}
	if !ended {
		t.Fatalf("expected speech-ended callback when no text was buffered")
	}
	if !req.closed {
		t.Fatalf("expected streaming request to close once speech ended")
	}
}
