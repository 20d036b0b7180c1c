package dialogue

import (
	"context"
	"fmt"

	"github.com/koscakluka/ema-gateway/core/audio"
	"github.com/koscakluka/ema-gateway/core/texttospeech"
)

// SpeechSynthesizer opens speech generation streams.
type SpeechSynthesizer interface {
	NewSpeechGenerator(ctx context.Context, opts ...texttospeech.TextToSpeechOption) (texttospeech.SpeechGenerator, error)
}

type textToSpeech struct {
	// client is the configured synthesis implementation.
	client SpeechSynthesizer
}

func (t *textToSpeech) set(client SpeechSynthesizer) {
	if t != nil {
		t.client = client
	}
}

func (t *textToSpeech) isConfigured() bool {
	return t != nil && t.client != nil
}

// synthesize turns text into speech and forwards the audio as it is
// produced. It returns the total number of audio bytes generated.
func (t *textToSpeech) synthesize(
	ctx context.Context,
	text string,
	encoding audio.EncodingInfo,
	onAudio func([]byte),
) (int, error) {
	if !t.isConfigured() {
		return 0, fmt.Errorf("speech synthesis is not configured")
	}

	ended := make(chan texttospeech.SpeechEndedReport, 1)
	failed := make(chan error, 1)

	generator, err := t.client.NewSpeechGenerator(ctx,
		texttospeech.WithEncodingInfo(encoding),
		texttospeech.WithSpeechAudioCallback(func(chunk []byte) {
			if onAudio != nil {
				onAudio(chunk)
			}
		}),
		texttospeech.WithSpeechEndedCallback(func(report texttospeech.SpeechEndedReport) {
			select {
			case ended <- report:
			default:
			}
		}),
		texttospeech.WithErrorCallback(func(err error) {
			select {
			case failed <- err:
			default:
			}
		}),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to open speech generator: %w", err)
	}

	if err := generator.SendText(text); err != nil {
		_ = generator.Close()
		return 0, fmt.Errorf("failed to send text to speech generator: %w", err)
	}
	if err := generator.EndOfText(); err != nil {
		_ = generator.Close()
		return 0, fmt.Errorf("failed to end speech generator text: %w", err)
	}

	select {
	case report := <-ended:
		return report.AudioBytes, nil
	case err := <-failed:
		_ = generator.Cancel()
		return 0, fmt.Errorf("speech generation failed: %w", err)
	case <-ctx.Done():
		_ = generator.Cancel()
		return 0, ctx.Err()
	}
}
