package dialogue

import (
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"github.com/koscakluka/ema-gateway/core/audio"
	"github.com/koscakluka/ema-gateway/core/protocol"
)

const (
	// DefaultMaxAudioDuration caps how much audio a single utterance may
	// carry before it is rejected.
	DefaultMaxAudioDuration = 60 * time.Second

	// minAudioDuration is the shortest utterance worth transcribing.
	minAudioDuration = 100 * time.Millisecond
)

// audioIngest buffers one utterance worth of audio chunks. Chunk indices must
// arrive in strict order; gaps and repeats are rejected so a corrupted
// utterance never reaches transcription. Once the duration ceiling is hit the
// ingest stops buffering and rejects every further chunk.
type audioIngest struct {
	mu sync.Mutex

	encoding   audio.EncodingInfo
	chunks     [][]byte
	nextIndex  int
	totalBytes int

	maxDuration time.Duration
	overLimit   bool
	finalized   bool
}

func newAudioIngest(maxDuration time.Duration) *audioIngest {
	if maxDuration <= 0 {
		maxDuration = DefaultMaxAudioDuration
	}
	return &audioIngest{maxDuration: maxDuration}
}

// utterance is a finalized recording ready for transcription.
type utterance struct {
	chunks   [][]byte
	encoding audio.EncodingInfo
	duration time.Duration
}

func (b *audioIngest) Add(chunk protocol.AudioChunk) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.finalized {
		return newPipelineError(protocol.ErrorCodeInvalidMessage,
			"audio chunk received after the recording ended", true)
	}

	if b.overLimit {
		return b.tooLongError()
	}

	if chunk.ChunkIndex != b.nextIndex {
		return &PipelineError{
			Code: protocol.ErrorCodeInvalidAudioFormat,
			Message: fmt.Sprintf("audio chunk index %d out of order, expected %d",
				chunk.ChunkIndex, b.nextIndex),
			Recoverable: true,
		}
	}

	encoding, err := wireEncoding(chunk.Format, chunk.SampleRate)
	if err != nil {
		return &PipelineError{
			Code:        protocol.ErrorCodeInvalidAudioFormat,
			Message:     err.Error(),
			Recoverable: true,
			Err:         err,
		}
	}
	if b.encoding.IsZero() {
		b.encoding = encoding
	} else if b.encoding != encoding {
		return newPipelineError(protocol.ErrorCodeInvalidAudioFormat,
			"audio format changed mid-utterance", true)
	}

	data, err := base64.StdEncoding.DecodeString(chunk.Data)
	if err != nil {
		return &PipelineError{
			Code:        protocol.ErrorCodeInvalidMessage,
			Message:     "audio chunk data is not valid base64",
			Recoverable: true,
			Err:         err,
		}
	}

	if duration := b.encoding.Duration(b.totalBytes + len(data)); duration > b.maxDuration {
		b.overLimit = true
		return b.tooLongError()
	}

	b.chunks = append(b.chunks, data)
	b.nextIndex++
	b.totalBytes += len(data)
	return nil
}

// tooLongError is the rejection for an utterance past the duration ceiling.
// Retrying the same audio cannot succeed, so it is not recoverable.
func (b *audioIngest) tooLongError() *PipelineError {
	return newPipelineError(protocol.ErrorCodeAudioTooLong,
		fmt.Sprintf("utterance exceeds %s of audio", b.maxDuration), false)
}

// Started reports whether any audio has been buffered.
func (b *audioIngest) Started() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.chunks) > 0
}

// Finalize closes the utterance and cross-checks the client-declared totals
// against what was actually buffered.
func (b *audioIngest) Finalize(end protocol.AudioEnd) (*utterance, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.finalized {
		return nil, newPipelineError(protocol.ErrorCodeInvalidMessage,
			"recording already ended", true)
	}
	if b.overLimit {
		return nil, b.tooLongError()
	}

	if len(b.chunks) == 0 {
		return nil, newPipelineError(protocol.ErrorCodeAudioTooShort,
			"no audio was recorded", true)
	}
	if end.TotalChunks != len(b.chunks) {
		return nil, newPipelineError(protocol.ErrorCodeInvalidMessage,
			fmt.Sprintf("declared %d chunks but %d arrived", end.TotalChunks, len(b.chunks)), true)
	}

	duration := b.encoding.Duration(b.totalBytes)
	if duration == 0 {
		// Compressed formats: fall back to the client-declared play time.
		duration = time.Duration(end.TotalDurationMS) * time.Millisecond
	}
	if duration > b.maxDuration {
		return nil, b.tooLongError()
	}
	if duration < minAudioDuration {
		return nil, newPipelineError(protocol.ErrorCodeAudioTooShort,
			"utterance is too short to transcribe", true)
	}

	b.finalized = true
	return &utterance{
		chunks:   b.chunks,
		encoding: b.encoding,
		duration: duration,
	}, nil
}

func wireEncoding(format protocol.AudioFormat, sampleRate int) (audio.EncodingInfo, error) {
	info := audio.EncodingInfo{SampleRate: sampleRate}
	switch format {
	case protocol.AudioFormatPCM16:
		info.Format = audio.EncodingLinear16
	case protocol.AudioFormatOpus:
		info.Format = audio.EncodingOpus
	case protocol.AudioFormatWebM:
		info.Format = audio.EncodingWebM
	default:
		return audio.EncodingInfo{}, fmt.Errorf("unsupported audio format: %s", format)
	}
	return info, nil
}
