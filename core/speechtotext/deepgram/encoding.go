package deepgram

import (
	"fmt"

	"github.com/koscakluka/ema-gateway/core/audio"
)

type encodingInfo struct {
	SampleRate int
	Format     encodingFormat
}

type encodingFormat string

func (e encodingFormat) Name() string { return string(e) }

const (
	encodingLinear16 encodingFormat = "linear16"
	encodingOpus     encodingFormat = "opus"

	// WebM carries its own format description, so the stream is opened
	// without explicit encoding parameters.
	encodingContainerized encodingFormat = ""
)

func convertEncoding(encoding audio.EncodingInfo) (*encodingInfo, error) {
	deepgramEncoding := encodingInfo{}
	switch encoding.SampleRate {
	case 8000, 16000, 24000, 32000, 48000:
		deepgramEncoding.SampleRate = encoding.SampleRate
	default:
		return nil, fmt.Errorf("unsupported sample rate")
	}

	switch encoding.Format {
	case audio.EncodingLinear16:
		deepgramEncoding.Format = encodingLinear16
	case audio.EncodingOpus:
		deepgramEncoding.Format = encodingOpus
	case audio.EncodingWebM:
		deepgramEncoding.Format = encodingContainerized
	default:
		return nil, fmt.Errorf("unsupported encoding")
	}

	return &deepgramEncoding, nil
}
