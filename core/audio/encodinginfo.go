package audio

import "time"

const (
	DefaultSampleRate = 16000
	DefaultFormat     = "linear16"
)

func GetDefaultEncodingInfo() EncodingInfo {
	return EncodingInfo{SampleRate: DefaultSampleRate, Format: encodingFormat(DefaultFormat)}
}

type EncodingInfo struct {
	SampleRate int
	Format     encodingFormat
}

func (e EncodingInfo) IsZero() bool {
	return e.SampleRate == 0 || e.Format.Name() == ""
}

// Duration returns the play time of size bytes of raw audio. It returns 0 for
// compressed formats, whose play time cannot be derived from byte count.
func (e EncodingInfo) Duration(size int) time.Duration {
	if e.SampleRate == 0 || e.Format.ByteSize() <= 0 {
		return 0
	}
	samples := size / e.Format.ByteSize()
	return time.Duration(samples) * time.Second / time.Duration(e.SampleRate)
}

type encodingFormat string

func (e encodingFormat) Name() string {
	return string(e)
}

func (e encodingFormat) ByteSize() int {
	switch e {
	case EncodingLinear16:
		return 2
	}
	return -1
}

const (
	EncodingLinear16 encodingFormat = "linear16"
	EncodingOpus     encodingFormat = "opus"
	EncodingWebM     encodingFormat = "webm"
)
