package dialogue

import (
	"context"
	"fmt"

	"github.com/koscakluka/ema-gateway/core/speechtotext"
)

// SpeechToText is a single-utterance transcription stream. A fresh stream is
// opened for every utterance, audio is fed through SendAudio, and StopStream
// flushes the remaining results before Done closes.
type SpeechToText interface {
	Transcribe(ctx context.Context, opts ...speechtotext.TranscriptionOption) error
	SendAudio(audio []byte) error
	StopStream() error
	Done() <-chan struct{}
}

type speechToText struct {
	// newClient opens a transcription stream for one utterance.
	newClient func() SpeechToText
}

func (s *speechToText) set(newClient func() SpeechToText) {
	if s != nil {
		s.newClient = newClient
	}
}

func (s *speechToText) isConfigured() bool {
	return s != nil && s.newClient != nil
}

type transcriptionResult struct {
	transcript string
	confidence float64
}

// transcribeUtterance replays a finalized utterance through a fresh
// transcription stream and waits for the full transcript.
func (s *speechToText) transcribeUtterance(
	ctx context.Context,
	u *utterance,
	onPartial func(transcript string, confidence float64),
) (*transcriptionResult, error) {
	if !s.isConfigured() {
		return nil, fmt.Errorf("speech-to-text is not configured")
	}

	client := s.newClient()

	result := transcriptionResult{}
	opts := []speechtotext.TranscriptionOption{
		speechtotext.WithEncodingInfo(u.encoding),
		speechtotext.WithTranscriptionCallback(func(transcript string, confidence float64) {
			result.transcript = transcript
			result.confidence = confidence
		}),
	}
	if onPartial != nil {
		opts = append(opts, speechtotext.WithPartialTranscriptionCallback(onPartial))
	}

	if err := client.Transcribe(ctx, opts...); err != nil {
		return nil, fmt.Errorf("failed to start transcribing: %w", err)
	}

	for _, chunk := range u.chunks {
		if err := client.SendAudio(chunk); err != nil {
			return nil, fmt.Errorf("failed to send audio: %w", err)
		}
	}
	if err := client.StopStream(); err != nil {
		return nil, fmt.Errorf("failed to close transcription stream: %w", err)
	}

	select {
	case <-client.Done():
		return &result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
